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

package p4rt

import (
	"context"
	"errors"
	"io"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/p4rt-go/p4rt/pkg/p4rt/entity"
	"github.com/p4rt-go/p4rt/pkg/private/serrors"
)

// Write submits a batch of updates. Accepted values are entity.Update (from
// entity.Insert/Modify/Delete), pre-encoded *p4v1.Update messages, and
// pre-encoded *p4v1.StreamMessageRequest messages (packet-outs, digest
// acks), which are sent over the stream channel instead of the Write RPC.
func (s *Switch) Write(ctx context.Context, updates ...any) error {
	client, mux, err := s.session()
	if err != nil {
		return err
	}
	msgs, stream, err := entity.EncodeUpdates(s.schema, updates...)
	if err != nil {
		return err
	}
	for _, msg := range stream {
		if err := mux.Send(msg); err != nil {
			return serrors.Wrap("writing stream messages", err, "switch", s.name)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	req := &p4v1.WriteRequest{
		DeviceId:   s.opts.DeviceID,
		Role:       s.opts.Role,
		ElectionId: s.opts.ElectionID.proto(),
		Updates:    msgs,
	}
	if _, err := client.Write(ctx, req); err != nil {
		return serrors.Wrap("writing entities", err, "switch", s.name)
	}
	return nil
}

// Insert inserts the given entities.
func (s *Switch) Insert(ctx context.Context, entities ...entity.Entity) error {
	return s.Write(ctx, asUpdates(entity.Insert, entities)...)
}

// Modify modifies the given entities.
func (s *Switch) Modify(ctx context.Context, entities ...entity.Entity) error {
	return s.Write(ctx, asUpdates(entity.Modify, entities)...)
}

// Delete deletes the given entities.
func (s *Switch) Delete(ctx context.Context, entities ...entity.Entity) error {
	return s.Write(ctx, asUpdates(entity.Delete, entities)...)
}

func asUpdates(op func(entity.Entity) entity.Update, entities []entity.Entity) []any {
	updates := make([]any, 0, len(entities))
	for _, e := range entities {
		updates = append(updates, op(e))
	}
	return updates
}

// ReadEach streams the entities matching the given read templates through
// fn, decoding lazily as response batches arrive. An error from fn aborts
// the read. Devices answering UNIMPLEMENTED yield no entities.
func (s *Switch) ReadEach(ctx context.Context, fn func(entity.Entity) error,
	templates ...any) error {

	client, _, err := s.session()
	if err != nil {
		return err
	}
	msgs, err := entity.EncodeEntities(s.schema, templates...)
	if err != nil {
		return err
	}
	stream, err := client.Read(ctx, &p4v1.ReadRequest{
		DeviceId: s.opts.DeviceID,
		Role:     s.opts.Role,
		Entities: msgs,
	})
	if err != nil {
		if unsupportedRead(err) {
			return nil
		}
		return serrors.Wrap("reading entities", err, "switch", s.name)
	}
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if unsupportedRead(err) {
				return nil
			}
			return serrors.Wrap("reading entities", err, "switch", s.name)
		}
		for _, wire := range resp.GetEntities() {
			decoded, err := entity.Decode(wire, s.schema)
			if err != nil {
				return err
			}
			if err := fn(decoded); err != nil {
				return err
			}
		}
	}
}

// Read collects the entities matching the given read templates.
func (s *Switch) Read(ctx context.Context, templates ...any) ([]entity.Entity, error) {
	var result []entity.Entity
	err := s.ReadEach(ctx, func(e entity.Entity) error {
		result = append(result, e)
		return nil
	}, templates...)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// unsupportedRead reports whether the device rejected a read as not
// supported, e.g. action profile enumeration on devices without selectors.
func unsupportedRead(err error) bool {
	return status.Code(err) == codes.Unimplemented
}

// ReadPackets returns the punted-packet stream. The channel stays valid
// across reconnects; packets arriving while no session is up are lost by
// the device, not buffered here.
func (s *Switch) ReadPackets() <-chan *entity.PacketIn { return s.packets }

// ReadDigests returns the digest-list stream. Lists should be acknowledged
// with AckDigest.
func (s *Switch) ReadDigests() <-chan *entity.DigestList { return s.digests }

// ReadIdleNotifications returns the idle-timeout notification stream.
func (s *Switch) ReadIdleNotifications() <-chan *entity.IdleNotification { return s.idle }

// SendPacket injects a packet into the device's egress pipeline.
func (s *Switch) SendPacket(ctx context.Context, packet *entity.PacketOut) error {
	_, mux, err := s.session()
	if err != nil {
		return err
	}
	msg, err := packet.Encode(s.schema)
	if err != nil {
		return err
	}
	return mux.Send(msg)
}

// AckDigest acknowledges a received digest list.
func (s *Switch) AckDigest(ctx context.Context, list *entity.DigestList) error {
	_, mux, err := s.session()
	if err != nil {
		return err
	}
	msg, err := list.Ack(s.schema)
	if err != nil {
		return err
	}
	return mux.Send(msg)
}

// DeleteAll wipes the device's forwarding state: all table entries in
// non-const tables, multicast groups and clone sessions. Default-action
// entries are skipped; they can only be modified, not deleted.
func (s *Switch) DeleteAll(ctx context.Context) error {
	var doomed []entity.Entity
	err := s.ReadEach(ctx, func(e entity.Entity) error {
		entry, ok := e.(*entity.TableEntry)
		if !ok || entry.IsDefaultAction {
			return nil
		}
		if table, ok := s.schema.Table(entry.Table); ok && table.IsConst {
			return nil
		}
		doomed = append(doomed, e)
		return nil
	}, &entity.TableEntry{})
	if err != nil {
		return err
	}

	for _, template := range []entity.Entity{
		&entity.MulticastGroupEntry{},
		&entity.CloneSessionEntry{},
	} {
		err := s.ReadEach(ctx, func(e entity.Entity) error {
			doomed = append(doomed, e)
			return nil
		}, template)
		if err != nil {
			return err
		}
	}
	if len(doomed) == 0 {
		return nil
	}
	return s.Delete(ctx, doomed...)
}

// Capabilities returns the P4Runtime API version the device implements.
func (s *Switch) Capabilities(ctx context.Context) (string, error) {
	client, _, err := s.session()
	if err != nil {
		return "", err
	}
	resp, err := client.Capabilities(ctx, &p4v1.CapabilitiesRequest{})
	if err != nil {
		return "", serrors.Wrap("querying capabilities", err, "switch", s.name)
	}
	return resp.GetP4RuntimeApiVersion(), nil
}

// GetPipelineConfig fetches the forwarding pipeline the device currently
// runs.
func (s *Switch) GetPipelineConfig(ctx context.Context) (*p4v1.ForwardingPipelineConfig, error) {
	client, _, err := s.session()
	if err != nil {
		return nil, err
	}
	resp, err := client.GetForwardingPipelineConfig(ctx, &p4v1.GetForwardingPipelineConfigRequest{
		DeviceId:     s.opts.DeviceID,
		ResponseType: p4v1.GetForwardingPipelineConfigRequest_ALL,
	})
	if err != nil {
		return nil, serrors.Wrap("fetching pipeline config", err, "switch", s.name)
	}
	return resp.GetConfig(), nil
}
