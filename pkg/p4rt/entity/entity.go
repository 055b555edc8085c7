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

// Package entity maps between structured, name-addressable P4Runtime
// entities and their compact wire representation. All name and id resolution
// goes through an immutable p4info.Schema; resolution failures surface as
// descriptive errors, never as silent defaults.
//
// Encode and Decode are inverses for all valid entities: for every entity e
// and schema s, Decode(Encode(e, s), s) equals e up to canonical value form.
package entity

import (
	"fmt"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"

	"github.com/p4rt-go/p4rt/pkg/p4rt/p4info"
	"github.com/p4rt-go/p4rt/pkg/private/serrors"
)

// Entity is the closed union of structured P4Runtime entities. The concrete
// types are the *Entry structs of this package.
type Entity interface {
	// encodeEntity serializes the entity. Implementations live in this
	// package only; the union is closed.
	encodeEntity(schema *p4info.Schema) (*p4v1.Entity, error)
}

// Encode serializes a structured entity to its wire representation.
func Encode(e Entity, schema *p4info.Schema) (*p4v1.Entity, error) {
	if schema == nil {
		return nil, serrors.New("no schema configured")
	}
	return e.encodeEntity(schema)
}

// Decode parses a wire entity by its populated oneof case. An empty
// container or an unrecognized sub-case is a descriptive error.
func Decode(msg *p4v1.Entity, schema *p4info.Schema) (Entity, error) {
	if schema == nil {
		return nil, serrors.New("no schema configured")
	}
	switch e := msg.GetEntity().(type) {
	case *p4v1.Entity_TableEntry:
		return decodeTableEntry(e.TableEntry, schema)
	case *p4v1.Entity_ActionProfileMember:
		return decodeActionProfileMember(e.ActionProfileMember, schema)
	case *p4v1.Entity_ActionProfileGroup:
		return decodeActionProfileGroup(e.ActionProfileGroup, schema)
	case *p4v1.Entity_MeterEntry:
		return decodeMeterEntry(e.MeterEntry, schema)
	case *p4v1.Entity_DirectMeterEntry:
		return decodeDirectMeterEntry(e.DirectMeterEntry, schema)
	case *p4v1.Entity_CounterEntry:
		return decodeCounterEntry(e.CounterEntry, schema)
	case *p4v1.Entity_DirectCounterEntry:
		return decodeDirectCounterEntry(e.DirectCounterEntry, schema)
	case *p4v1.Entity_PacketReplicationEngineEntry:
		switch pre := e.PacketReplicationEngineEntry.GetType().(type) {
		case *p4v1.PacketReplicationEngineEntry_MulticastGroupEntry:
			return decodeMulticastGroupEntry(pre.MulticastGroupEntry), nil
		case *p4v1.PacketReplicationEngineEntry_CloneSessionEntry:
			return decodeCloneSessionEntry(pre.CloneSessionEntry), nil
		default:
			return nil, serrors.New("missing packet_replication_engine type")
		}
	case *p4v1.Entity_RegisterEntry:
		return decodeRegisterEntry(e.RegisterEntry, schema)
	case *p4v1.Entity_DigestEntry:
		return decodeDigestEntry(e.DigestEntry, schema)
	case *p4v1.Entity_ValueSetEntry:
		return decodeValueSetEntry(e.ValueSetEntry, schema)
	case *p4v1.Entity_ExternEntry:
		return nil, serrors.New("unsupported entity type", "type", "extern_entry")
	case nil:
		return nil, serrors.New("missing entity")
	default:
		return nil, serrors.New("unsupported entity type", "type", fmt.Sprintf("%T", e))
	}
}

// CounterData holds byte and packet counts.
type CounterData struct {
	ByteCount   int64
	PacketCount int64
}

func (d *CounterData) encode() *p4v1.CounterData {
	if d == nil {
		return nil
	}
	return &p4v1.CounterData{ByteCount: d.ByteCount, PacketCount: d.PacketCount}
}

func decodeCounterData(msg *p4v1.CounterData) *CounterData {
	if msg == nil {
		return nil
	}
	return &CounterData{ByteCount: msg.GetByteCount(), PacketCount: msg.GetPacketCount()}
}

// MeterConfig holds the four rates of a two-rate three-color meter.
type MeterConfig struct {
	CIR    int64
	CBurst int64
	PIR    int64
	PBurst int64
}

func (c *MeterConfig) encode() *p4v1.MeterConfig {
	if c == nil {
		return nil
	}
	return &p4v1.MeterConfig{Cir: c.CIR, Cburst: c.CBurst, Pir: c.PIR, Pburst: c.PBurst}
}

func decodeMeterConfig(msg *p4v1.MeterConfig) *MeterConfig {
	if msg == nil {
		return nil
	}
	return &MeterConfig{
		CIR:    msg.GetCir(),
		CBurst: msg.GetCburst(),
		PIR:    msg.GetPir(),
		PBurst: msg.GetPburst(),
	}
}

// MeterCounterData holds per-color counter data.
type MeterCounterData struct {
	Green  *CounterData
	Yellow *CounterData
	Red    *CounterData
}

func (d *MeterCounterData) encode() *p4v1.MeterCounterData {
	if d == nil {
		return nil
	}
	return &p4v1.MeterCounterData{
		Green:  d.Green.encode(),
		Yellow: d.Yellow.encode(),
		Red:    d.Red.encode(),
	}
}

func decodeMeterCounterData(msg *p4v1.MeterCounterData) *MeterCounterData {
	if msg == nil {
		return nil
	}
	return &MeterCounterData{
		Green:  decodeCounterData(msg.GetGreen()),
		Yellow: decodeCounterData(msg.GetYellow()),
		Red:    decodeCounterData(msg.GetRed()),
	}
}

// TableEntry is a match-action table entry. The zero value encodes to an
// empty wildcard entry usable as a read template for all tables.
type TableEntry struct {
	// Table is the table name or alias. Empty means unspecified (wildcard
	// read template).
	Table string
	Match Match
	// Action and Indirect are mutually exclusive.
	Action   *Action
	Indirect *IndirectAction
	// Priority is required for tables with ternary, range or optional
	// fields.
	Priority           int32
	Metadata           []byte
	MeterConfig        *MeterConfig
	CounterData        *CounterData
	MeterCounterData   *MeterCounterData
	IsDefaultAction    bool
	IdleTimeoutNs      int64
	TimeSinceLastHitNs int64
}

func (e *TableEntry) encodeEntity(schema *p4info.Schema) (*p4v1.Entity, error) {
	msg, err := e.encode(schema)
	if err != nil {
		return nil, err
	}
	return &p4v1.Entity{Entity: &p4v1.Entity_TableEntry{TableEntry: msg}}, nil
}

func (e *TableEntry) encode(schema *p4info.Schema) (*p4v1.TableEntry, error) {
	msg := &p4v1.TableEntry{
		Priority:        e.Priority,
		Metadata:        e.Metadata,
		IsDefaultAction: e.IsDefaultAction,
		IdleTimeoutNs:   e.IdleTimeoutNs,
	}
	var table *p4info.Table
	if e.Table != "" {
		var ok bool
		table, ok = schema.Table(e.Table)
		if !ok {
			return nil, serrors.New(fmt.Sprintf("no table named %q", e.Table))
		}
		msg.TableId = table.ID
	}
	if len(e.Match) > 0 {
		if table == nil {
			return nil, serrors.New("match fields require a table name")
		}
		match, err := e.Match.encode(table)
		if err != nil {
			return nil, err
		}
		msg.Match = match
	}
	if e.Action != nil || e.Indirect != nil {
		action, err := encodeTableAction(e.Action, e.Indirect, schema)
		if err != nil {
			return nil, err
		}
		msg.Action = action
	}
	msg.MeterConfig = e.MeterConfig.encode()
	msg.CounterData = e.CounterData.encode()
	msg.MeterCounterData = e.MeterCounterData.encode()
	if e.TimeSinceLastHitNs != 0 {
		msg.TimeSinceLastHit = &p4v1.TableEntry_IdleTimeout{ElapsedNs: e.TimeSinceLastHitNs}
	}
	return msg, nil
}

func decodeTableEntry(msg *p4v1.TableEntry, schema *p4info.Schema) (*TableEntry, error) {
	entry := &TableEntry{
		Priority:           msg.GetPriority(),
		Metadata:           msg.GetMetadata(),
		IsDefaultAction:    msg.GetIsDefaultAction(),
		IdleTimeoutNs:      msg.GetIdleTimeoutNs(),
		TimeSinceLastHitNs: msg.GetTimeSinceLastHit().GetElapsedNs(),
		MeterConfig:        decodeMeterConfig(msg.GetMeterConfig()),
		CounterData:        decodeCounterData(msg.GetCounterData()),
		MeterCounterData:   decodeMeterCounterData(msg.GetMeterCounterData()),
	}
	var table *p4info.Table
	if id := msg.GetTableId(); id != 0 {
		var ok bool
		table, ok = schema.TableByID(id)
		if !ok {
			return nil, serrors.New(fmt.Sprintf("no table with id %d", id))
		}
		entry.Table = table.Alias
	}
	if len(msg.GetMatch()) > 0 {
		if table == nil {
			return nil, serrors.New("match fields without table id")
		}
		match, err := decodeMatch(msg.GetMatch(), table)
		if err != nil {
			return nil, err
		}
		entry.Match = match
	}
	if msg.GetAction() != nil {
		action, indirect, err := decodeTableAction(msg.GetAction(), schema)
		if err != nil {
			return nil, err
		}
		entry.Action = action
		entry.Indirect = indirect
	}
	return entry, nil
}

// FullMatch produces a complete field name to display string map, using the
// "*" wildcard placeholder for every field absent from the sparse match.
// Intended for diagnostics and table dumps.
func (e *TableEntry) FullMatch(schema *p4info.Schema) (map[string]string, error) {
	if e.Table == "" {
		return nil, serrors.New("full match requires a table name")
	}
	table, ok := schema.Table(e.Table)
	if !ok {
		return nil, serrors.New(fmt.Sprintf("no table named %q", e.Table))
	}
	result := make(map[string]string, len(table.MatchFields))
	for _, field := range table.MatchFields {
		fv, ok := e.Match[field.Alias]
		if !ok {
			fv, ok = e.Match[field.Name]
		}
		if !ok {
			result[field.Alias] = "*"
			continue
		}
		result[field.Alias] = formatFieldValue(fv)
	}
	return result, nil
}
