// Copyright 2024 The p4rt-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package entity

import (
	"fmt"
	"sort"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"

	"github.com/p4rt-go/p4rt/pkg/p4rt/p4info"
	"github.com/p4rt-go/p4rt/pkg/private/serrors"
)

// PacketOut is a packet injected into the device's egress pipeline. Metadata
// keys are the controller_packet_metadata field names of the packet_out
// header; every declared field must be supplied.
type PacketOut struct {
	Payload  []byte
	Metadata map[string]Value
}

// Encode converts the packet into a stream request, validating metadata
// against the packet_out header declaration.
func (p *PacketOut) Encode(schema *p4info.Schema) (*p4v1.StreamMessageRequest, error) {
	if schema == nil {
		return nil, serrors.New("no schema configured")
	}
	io, ok := schema.PacketOut()
	if !ok {
		return nil, serrors.New("schema has no packet_out header")
	}
	metadata, err := encodePacketMetadata(p.Metadata, io)
	if err != nil {
		return nil, err
	}
	return &p4v1.StreamMessageRequest{
		Update: &p4v1.StreamMessageRequest_Packet{
			Packet: &p4v1.PacketOut{
				Payload:  p.Payload,
				Metadata: metadata,
			},
		},
	}, nil
}

func encodePacketMetadata(values map[string]Value,
	io *p4info.PacketIO) ([]*p4v1.PacketMetadata, error) {

	var metadata []*p4v1.PacketMetadata
	seen := make(map[string]bool, len(values))
	for _, field := range io.Metadata {
		value, ok := values[field.Name]
		if !ok {
			return nil, serrors.New(fmt.Sprintf("missing parameter %q", field.Name),
				"packet", io.Name)
		}
		seen[field.Name] = true
		raw, err := encodeValue(value, field.Bitwidth, "metadata field", field.Name)
		if err != nil {
			return nil, err
		}
		metadata = append(metadata, &p4v1.PacketMetadata{
			MetadataId: field.ID,
			Value:      raw,
		})
	}
	var extra []string
	for name := range values {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return nil, serrors.New(fmt.Sprintf("extra parameters %v", extra),
			"packet", io.Name)
	}
	return metadata, nil
}

// PacketIn is a packet punted to the controller, with the metadata fields of
// the packet_in header decoded by name.
type PacketIn struct {
	Payload  []byte
	Metadata map[string]Value
}

// DecodePacketIn decodes a punted packet. Metadata fields not declared in
// the schema are dropped.
func DecodePacketIn(msg *p4v1.PacketIn, schema *p4info.Schema) (*PacketIn, error) {
	if schema == nil {
		return nil, serrors.New("no schema configured")
	}
	packet := &PacketIn{Payload: msg.GetPayload()}
	io, ok := schema.PacketIn()
	if !ok {
		return nil, serrors.New("schema has no packet_in header")
	}
	if len(msg.GetMetadata()) > 0 {
		packet.Metadata = make(map[string]Value, len(msg.GetMetadata()))
		for _, m := range msg.GetMetadata() {
			field, ok := io.FieldByID(m.GetMetadataId())
			if !ok {
				continue
			}
			packet.Metadata[field.Name] = decodeValue(m.GetValue())
		}
	}
	return packet, nil
}

// DigestList is a batch of digest messages generated by the device. Data
// holds the raw values; digest list entries are not schema-typed beyond the
// digest name.
type DigestList struct {
	Digest    string
	ListID    uint64
	Timestamp int64
	Data      []*p4v1.P4Data
}

// DecodeDigestList resolves the digest name of a received digest batch.
func DecodeDigestList(msg *p4v1.DigestList, schema *p4info.Schema) (*DigestList, error) {
	if schema == nil {
		return nil, serrors.New("no schema configured")
	}
	list := &DigestList{
		ListID:    msg.GetListId(),
		Timestamp: msg.GetTimestamp(),
		Data:      msg.GetData(),
	}
	digest, ok := schema.DigestByID(msg.GetDigestId())
	if !ok {
		return nil, serrors.New(fmt.Sprintf("no digest with id %d", msg.GetDigestId()))
	}
	list.Digest = digest.Alias
	return list, nil
}

// Ack builds the acknowledgement for this digest list.
func (l *DigestList) Ack(schema *p4info.Schema) (*p4v1.StreamMessageRequest, error) {
	if schema == nil {
		return nil, serrors.New("no schema configured")
	}
	digest, ok := schema.Digest(l.Digest)
	if !ok {
		return nil, serrors.New(fmt.Sprintf("no digest named %q", l.Digest))
	}
	return &p4v1.StreamMessageRequest{
		Update: &p4v1.StreamMessageRequest_DigestAck{
			DigestAck: &p4v1.DigestListAck{
				DigestId: digest.ID,
				ListId:   l.ListID,
			},
		},
	}, nil
}

// IdleNotification reports table entries whose idle timeout elapsed.
type IdleNotification struct {
	Timestamp int64
	Entries   []*TableEntry
}

// DecodeIdleNotification decodes an idle timeout notification. Each reported
// entry carries the time since its last hit.
func DecodeIdleNotification(msg *p4v1.IdleTimeoutNotification,
	schema *p4info.Schema) (*IdleNotification, error) {

	if schema == nil {
		return nil, serrors.New("no schema configured")
	}
	notification := &IdleNotification{Timestamp: msg.GetTimestamp()}
	for _, wire := range msg.GetTableEntry() {
		entry, err := decodeTableEntry(wire, schema)
		if err != nil {
			return nil, err
		}
		notification.Entries = append(notification.Entries, entry)
	}
	return notification, nil
}
