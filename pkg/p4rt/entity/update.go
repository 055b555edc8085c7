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

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"

	"github.com/p4rt-go/p4rt/pkg/p4rt/p4info"
	"github.com/p4rt-go/p4rt/pkg/private/serrors"
)

// Update pairs an entity with a write operation.
type Update struct {
	Type   p4v1.Update_Type
	Entity Entity
}

// Insert marks the entity for insertion.
func Insert(e Entity) Update { return Update{Type: p4v1.Update_INSERT, Entity: e} }

// Modify marks the entity for modification.
func Modify(e Entity) Update { return Update{Type: p4v1.Update_MODIFY, Entity: e} }

// Delete marks the entity for deletion.
func Delete(e Entity) Update { return Update{Type: p4v1.Update_DELETE, Entity: e} }

func (u Update) encode(schema *p4info.Schema) (*p4v1.Update, error) {
	if u.Type == p4v1.Update_UNSPECIFIED {
		return nil, serrors.New("unspecified update type")
	}
	wire, err := Encode(u.Entity, schema)
	if err != nil {
		return nil, err
	}
	return &p4v1.Update{Type: u.Type, Entity: wire}, nil
}

// EncodeUpdates encodes a batch of updates for a write request. Updates that
// are already wire messages pass through unchanged. Pre-encoded stream
// requests (packet-outs, digest acks) are split off into the second return
// value; they travel over the stream channel, not the Write RPC.
func EncodeUpdates(schema *p4info.Schema,
	updates ...any) ([]*p4v1.Update, []*p4v1.StreamMessageRequest, error) {

	var msgs []*p4v1.Update
	var stream []*p4v1.StreamMessageRequest
	for _, u := range updates {
		switch v := u.(type) {
		case Update:
			msg, err := v.encode(schema)
			if err != nil {
				return nil, nil, err
			}
			msgs = append(msgs, msg)
		case *p4v1.Update:
			msgs = append(msgs, v)
		case *p4v1.StreamMessageRequest:
			stream = append(stream, v)
		case Entity:
			return nil, nil, serrors.New("unspecified update type")
		default:
			return nil, nil, serrors.New("unsupported update value",
				"type", fmt.Sprintf("%T", u))
		}
	}
	return msgs, stream, nil
}

// EncodeEntities encodes a batch of entities for a read request. Entities
// that are already wire messages pass through unchanged.
func EncodeEntities(schema *p4info.Schema, entities ...any) ([]*p4v1.Entity, error) {
	var msgs []*p4v1.Entity
	for _, e := range entities {
		switch v := e.(type) {
		case Entity:
			msg, err := Encode(v, schema)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, msg)
		case *p4v1.Entity:
			msgs = append(msgs, v)
		default:
			return nil, serrors.New("unsupported entity value", "type", fmt.Sprintf("%T", e))
		}
	}
	return msgs, nil
}
