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

// ActionProfileMember is one member of an action profile.
type ActionProfileMember struct {
	// Profile is the action profile name or alias, empty for a wildcard
	// read template.
	Profile  string
	MemberID uint32
	Action   *Action
}

func (e *ActionProfileMember) encodeEntity(schema *p4info.Schema) (*p4v1.Entity, error) {
	msg := &p4v1.ActionProfileMember{MemberId: e.MemberID}
	if e.Profile != "" {
		profile, ok := schema.ActionProfile(e.Profile)
		if !ok {
			return nil, serrors.New(fmt.Sprintf("no action profile named %q", e.Profile))
		}
		msg.ActionProfileId = profile.ID
	}
	if e.Action != nil {
		action, err := e.Action.encode(schema)
		if err != nil {
			return nil, err
		}
		msg.Action = action
	}
	return &p4v1.Entity{Entity: &p4v1.Entity_ActionProfileMember{ActionProfileMember: msg}}, nil
}

func decodeActionProfileMember(msg *p4v1.ActionProfileMember,
	schema *p4info.Schema) (*ActionProfileMember, error) {

	entry := &ActionProfileMember{MemberID: msg.GetMemberId()}
	if id := msg.GetActionProfileId(); id != 0 {
		profile, ok := schema.ActionProfileByID(id)
		if !ok {
			return nil, serrors.New(fmt.Sprintf("no action profile with id %d", id))
		}
		entry.Profile = profile.Alias
	}
	if msg.GetAction() != nil {
		action, err := decodeAction(msg.GetAction(), schema)
		if err != nil {
			return nil, err
		}
		entry.Action = action
	}
	return entry, nil
}

// Member references an action profile member from a group, with a weight and
// an optional watch port.
type Member struct {
	MemberID  uint32
	Weight    int32
	WatchPort Value
}

// ActionProfileGroup is a weighted group of action profile members.
type ActionProfileGroup struct {
	Profile string
	GroupID uint32
	MaxSize int32
	Members []Member
}

func (e *ActionProfileGroup) encodeEntity(schema *p4info.Schema) (*p4v1.Entity, error) {
	msg := &p4v1.ActionProfileGroup{GroupId: e.GroupID, MaxSize: e.MaxSize}
	if e.Profile != "" {
		profile, ok := schema.ActionProfile(e.Profile)
		if !ok {
			return nil, serrors.New(fmt.Sprintf("no action profile named %q", e.Profile))
		}
		msg.ActionProfileId = profile.ID
	}
	for _, m := range e.Members {
		member := &p4v1.ActionProfileGroup_Member{
			MemberId: m.MemberID,
			Weight:   m.Weight,
		}
		if len(m.WatchPort) > 0 {
			member.WatchKind = &p4v1.ActionProfileGroup_Member_WatchPort{
				WatchPort: Bytes(m.WatchPort),
			}
		}
		msg.Members = append(msg.Members, member)
	}
	return &p4v1.Entity{Entity: &p4v1.Entity_ActionProfileGroup{ActionProfileGroup: msg}}, nil
}

func decodeActionProfileGroup(msg *p4v1.ActionProfileGroup,
	schema *p4info.Schema) (*ActionProfileGroup, error) {

	entry := &ActionProfileGroup{
		GroupID: msg.GetGroupId(),
		MaxSize: msg.GetMaxSize(),
	}
	if id := msg.GetActionProfileId(); id != 0 {
		profile, ok := schema.ActionProfileByID(id)
		if !ok {
			return nil, serrors.New(fmt.Sprintf("no action profile with id %d", id))
		}
		entry.Profile = profile.Alias
	}
	for _, m := range msg.GetMembers() {
		member := Member{MemberID: m.GetMemberId(), Weight: m.GetWeight()}
		if wp := m.GetWatchPort(); len(wp) > 0 {
			member.WatchPort = decodeValue(wp)
		}
		entry.Members = append(entry.Members, member)
	}
	return entry, nil
}

// MeterEntry configures one cell of an indexed meter. A nil Index means all
// cells (wildcard).
type MeterEntry struct {
	Meter       string
	Index       *int64
	Config      *MeterConfig
	CounterData *MeterCounterData
}

func (e *MeterEntry) encodeEntity(schema *p4info.Schema) (*p4v1.Entity, error) {
	msg := &p4v1.MeterEntry{
		Config:      e.Config.encode(),
		CounterData: e.CounterData.encode(),
	}
	if e.Meter != "" {
		meter, ok := schema.Meter(e.Meter)
		if !ok {
			return nil, serrors.New(fmt.Sprintf("no meter named %q", e.Meter))
		}
		msg.MeterId = meter.ID
	}
	if e.Index != nil {
		msg.Index = &p4v1.Index{Index: *e.Index}
	}
	return &p4v1.Entity{Entity: &p4v1.Entity_MeterEntry{MeterEntry: msg}}, nil
}

func decodeMeterEntry(msg *p4v1.MeterEntry, schema *p4info.Schema) (*MeterEntry, error) {
	entry := &MeterEntry{
		Config:      decodeMeterConfig(msg.GetConfig()),
		CounterData: decodeMeterCounterData(msg.GetCounterData()),
	}
	if id := msg.GetMeterId(); id != 0 {
		meter, ok := schema.MeterByID(id)
		if !ok {
			return nil, serrors.New(fmt.Sprintf("no meter with id %d", id))
		}
		entry.Meter = meter.Alias
	}
	if msg.GetIndex() != nil {
		index := msg.GetIndex().GetIndex()
		entry.Index = &index
	}
	return entry, nil
}

// DirectMeterEntry configures the meter attached to a table entry.
type DirectMeterEntry struct {
	TableEntry  *TableEntry
	Config      *MeterConfig
	CounterData *MeterCounterData
}

func (e *DirectMeterEntry) encodeEntity(schema *p4info.Schema) (*p4v1.Entity, error) {
	msg := &p4v1.DirectMeterEntry{
		Config:      e.Config.encode(),
		CounterData: e.CounterData.encode(),
	}
	if e.TableEntry != nil {
		tableEntry, err := e.TableEntry.encode(schema)
		if err != nil {
			return nil, err
		}
		msg.TableEntry = tableEntry
	}
	return &p4v1.Entity{Entity: &p4v1.Entity_DirectMeterEntry{DirectMeterEntry: msg}}, nil
}

func decodeDirectMeterEntry(msg *p4v1.DirectMeterEntry,
	schema *p4info.Schema) (*DirectMeterEntry, error) {

	entry := &DirectMeterEntry{
		Config:      decodeMeterConfig(msg.GetConfig()),
		CounterData: decodeMeterCounterData(msg.GetCounterData()),
	}
	if msg.GetTableEntry() != nil {
		tableEntry, err := decodeTableEntry(msg.GetTableEntry(), schema)
		if err != nil {
			return nil, err
		}
		entry.TableEntry = tableEntry
	}
	return entry, nil
}

// CounterEntry reads or resets one cell of an indexed counter. A nil Index
// means all cells.
type CounterEntry struct {
	Counter string
	Index   *int64
	Data    *CounterData
}

func (e *CounterEntry) encodeEntity(schema *p4info.Schema) (*p4v1.Entity, error) {
	msg := &p4v1.CounterEntry{Data: e.Data.encode()}
	if e.Counter != "" {
		counter, ok := schema.Counter(e.Counter)
		if !ok {
			return nil, serrors.New(fmt.Sprintf("no counter named %q", e.Counter))
		}
		msg.CounterId = counter.ID
	}
	if e.Index != nil {
		msg.Index = &p4v1.Index{Index: *e.Index}
	}
	return &p4v1.Entity{Entity: &p4v1.Entity_CounterEntry{CounterEntry: msg}}, nil
}

func decodeCounterEntry(msg *p4v1.CounterEntry, schema *p4info.Schema) (*CounterEntry, error) {
	entry := &CounterEntry{Data: decodeCounterData(msg.GetData())}
	if id := msg.GetCounterId(); id != 0 {
		counter, ok := schema.CounterByID(id)
		if !ok {
			return nil, serrors.New(fmt.Sprintf("no counter with id %d", id))
		}
		entry.Counter = counter.Alias
	}
	if msg.GetIndex() != nil {
		index := msg.GetIndex().GetIndex()
		entry.Index = &index
	}
	return entry, nil
}

// DirectCounterEntry reads or resets the counter attached to a table entry.
// When only Counter is set, the owning table is resolved from the schema and
// an all-entries template is encoded.
type DirectCounterEntry struct {
	Counter    string
	TableEntry *TableEntry
	Data       *CounterData
}

func (e *DirectCounterEntry) encodeEntity(schema *p4info.Schema) (*p4v1.Entity, error) {
	msg := &p4v1.DirectCounterEntry{Data: e.Data.encode()}
	tableEntry := e.TableEntry
	if tableEntry == nil {
		tableEntry = &TableEntry{}
		if e.Counter != "" {
			counter, ok := schema.DirectCounter(e.Counter)
			if !ok {
				return nil, serrors.New(fmt.Sprintf("no direct counter named %q", e.Counter))
			}
			table, ok := schema.TableByID(counter.TableID)
			if !ok {
				return nil, serrors.New(
					fmt.Sprintf("no table with id %d", counter.TableID),
					"counter", e.Counter)
			}
			tableEntry.Table = table.Alias
		}
	}
	wireEntry, err := tableEntry.encode(schema)
	if err != nil {
		return nil, err
	}
	msg.TableEntry = wireEntry
	return &p4v1.Entity{Entity: &p4v1.Entity_DirectCounterEntry{DirectCounterEntry: msg}}, nil
}

func decodeDirectCounterEntry(msg *p4v1.DirectCounterEntry,
	schema *p4info.Schema) (*DirectCounterEntry, error) {

	entry := &DirectCounterEntry{Data: decodeCounterData(msg.GetData())}
	if msg.GetTableEntry() != nil {
		tableEntry, err := decodeTableEntry(msg.GetTableEntry(), schema)
		if err != nil {
			return nil, err
		}
		entry.TableEntry = tableEntry
		if tableEntry.Table != "" {
			table, _ := schema.Table(tableEntry.Table)
			if counter, ok := schema.DirectCounterByTable(table.ID); ok {
				entry.Counter = counter.Alias
			}
		}
	}
	return entry, nil
}

// RegisterEntry reads or writes one cell of a register. A nil Index means
// all cells.
type RegisterEntry struct {
	Register string
	Index    *int64
	// Data is the raw bitstring value of the cell.
	Data Value
}

func (e *RegisterEntry) encodeEntity(schema *p4info.Schema) (*p4v1.Entity, error) {
	msg := &p4v1.RegisterEntry{}
	if e.Register != "" {
		register, ok := schema.Register(e.Register)
		if !ok {
			return nil, serrors.New(fmt.Sprintf("no register named %q", e.Register))
		}
		msg.RegisterId = register.ID
	}
	if e.Index != nil {
		msg.Index = &p4v1.Index{Index: *e.Index}
	}
	if len(e.Data) > 0 {
		msg.Data = &p4v1.P4Data{Data: &p4v1.P4Data_Bitstring{Bitstring: Bytes(e.Data)}}
	}
	return &p4v1.Entity{Entity: &p4v1.Entity_RegisterEntry{RegisterEntry: msg}}, nil
}

func decodeRegisterEntry(msg *p4v1.RegisterEntry, schema *p4info.Schema) (*RegisterEntry, error) {
	entry := &RegisterEntry{}
	if id := msg.GetRegisterId(); id != 0 {
		register, ok := schema.RegisterByID(id)
		if !ok {
			return nil, serrors.New(fmt.Sprintf("no register with id %d", id))
		}
		entry.Register = register.Alias
	}
	if msg.GetIndex() != nil {
		index := msg.GetIndex().GetIndex()
		entry.Index = &index
	}
	if data := msg.GetData(); data != nil {
		bitstring, ok := data.GetData().(*p4v1.P4Data_Bitstring)
		if !ok {
			return nil, serrors.New("unsupported register data type",
				"register", entry.Register)
		}
		entry.Data = decodeValue(bitstring.Bitstring)
	}
	return entry, nil
}

// Replica is one (egress port, instance) pair of a replication entry.
type Replica struct {
	EgressPort uint32
	Instance   uint32
}

func encodeReplicas(replicas []Replica) []*p4v1.Replica {
	var msgs []*p4v1.Replica
	for _, r := range replicas {
		msgs = append(msgs, &p4v1.Replica{
			PortKind: &p4v1.Replica_EgressPort{EgressPort: r.EgressPort},
			Instance: r.Instance,
		})
	}
	return msgs
}

func decodeReplicas(msgs []*p4v1.Replica) []Replica {
	var replicas []Replica
	for _, msg := range msgs {
		replicas = append(replicas, Replica{
			EgressPort: msg.GetEgressPort(),
			Instance:   msg.GetInstance(),
		})
	}
	return replicas
}

// MulticastGroupEntry replicates packets to a set of egress ports.
type MulticastGroupEntry struct {
	GroupID  uint32
	Replicas []Replica
}

func (e *MulticastGroupEntry) encodeEntity(schema *p4info.Schema) (*p4v1.Entity, error) {
	return &p4v1.Entity{Entity: &p4v1.Entity_PacketReplicationEngineEntry{
		PacketReplicationEngineEntry: &p4v1.PacketReplicationEngineEntry{
			Type: &p4v1.PacketReplicationEngineEntry_MulticastGroupEntry{
				MulticastGroupEntry: &p4v1.MulticastGroupEntry{
					MulticastGroupId: e.GroupID,
					Replicas:         encodeReplicas(e.Replicas),
				},
			},
		},
	}}, nil
}

func decodeMulticastGroupEntry(msg *p4v1.MulticastGroupEntry) *MulticastGroupEntry {
	return &MulticastGroupEntry{
		GroupID:  msg.GetMulticastGroupId(),
		Replicas: decodeReplicas(msg.GetReplicas()),
	}
}

// CloneSessionEntry configures a clone session.
type CloneSessionEntry struct {
	SessionID         uint32
	ClassOfService    uint32
	PacketLengthBytes int32
	Replicas          []Replica
}

func (e *CloneSessionEntry) encodeEntity(schema *p4info.Schema) (*p4v1.Entity, error) {
	return &p4v1.Entity{Entity: &p4v1.Entity_PacketReplicationEngineEntry{
		PacketReplicationEngineEntry: &p4v1.PacketReplicationEngineEntry{
			Type: &p4v1.PacketReplicationEngineEntry_CloneSessionEntry{
				CloneSessionEntry: &p4v1.CloneSessionEntry{
					SessionId:         e.SessionID,
					ClassOfService:    e.ClassOfService,
					PacketLengthBytes: e.PacketLengthBytes,
					Replicas:          encodeReplicas(e.Replicas),
				},
			},
		},
	}}, nil
}

func decodeCloneSessionEntry(msg *p4v1.CloneSessionEntry) *CloneSessionEntry {
	return &CloneSessionEntry{
		SessionID:         msg.GetSessionId(),
		ClassOfService:    msg.GetClassOfService(),
		PacketLengthBytes: msg.GetPacketLengthBytes(),
		Replicas:          decodeReplicas(msg.GetReplicas()),
	}
}

// DigestEntry configures digest generation for one digest declaration.
type DigestEntry struct {
	Digest       string
	MaxListSize  int32
	MaxTimeoutNs int64
	AckTimeoutNs int64
}

func (e *DigestEntry) encodeEntity(schema *p4info.Schema) (*p4v1.Entity, error) {
	msg := &p4v1.DigestEntry{}
	if e.Digest != "" {
		digest, ok := schema.Digest(e.Digest)
		if !ok {
			return nil, serrors.New(fmt.Sprintf("no digest named %q", e.Digest))
		}
		msg.DigestId = digest.ID
	}
	if e.MaxListSize != 0 || e.MaxTimeoutNs != 0 || e.AckTimeoutNs != 0 {
		msg.Config = &p4v1.DigestEntry_Config{
			MaxListSize:  e.MaxListSize,
			MaxTimeoutNs: e.MaxTimeoutNs,
			AckTimeoutNs: e.AckTimeoutNs,
		}
	}
	return &p4v1.Entity{Entity: &p4v1.Entity_DigestEntry{DigestEntry: msg}}, nil
}

func decodeDigestEntry(msg *p4v1.DigestEntry, schema *p4info.Schema) (*DigestEntry, error) {
	entry := &DigestEntry{
		MaxListSize:  msg.GetConfig().GetMaxListSize(),
		MaxTimeoutNs: msg.GetConfig().GetMaxTimeoutNs(),
		AckTimeoutNs: msg.GetConfig().GetAckTimeoutNs(),
	}
	if id := msg.GetDigestId(); id != 0 {
		digest, ok := schema.DigestByID(id)
		if !ok {
			return nil, serrors.New(fmt.Sprintf("no digest with id %d", id))
		}
		entry.Digest = digest.Alias
	}
	return entry, nil
}

// ValueSetMember is one member value of a parser value set.
type ValueSetMember struct {
	Value Value
}

// ValueSetEntry programs the members of a parser value set.
type ValueSetEntry struct {
	ValueSet string
	Members  []ValueSetMember
}

func (e *ValueSetEntry) encodeEntity(schema *p4info.Schema) (*p4v1.Entity, error) {
	msg := &p4v1.ValueSetEntry{}
	var set *p4info.ValueSet
	if e.ValueSet != "" {
		var ok bool
		set, ok = schema.ValueSet(e.ValueSet)
		if !ok {
			return nil, serrors.New(fmt.Sprintf("no value set named %q", e.ValueSet))
		}
		msg.ValueSetId = set.ID
	}
	for _, member := range e.Members {
		if set == nil || len(set.Match) == 0 {
			return nil, serrors.New("value set members require a value set with match fields",
				"value_set", e.ValueSet)
		}
		field := set.Match[0]
		raw, err := encodeValue(member.Value, field.Bitwidth, "value set field", set.Alias)
		if err != nil {
			return nil, err
		}
		msg.Members = append(msg.Members, &p4v1.ValueSetMember{
			Match: []*p4v1.FieldMatch{{
				FieldId: field.ID,
				FieldMatchType: &p4v1.FieldMatch_Exact_{
					Exact: &p4v1.FieldMatch_Exact{Value: raw},
				},
			}},
		})
	}
	return &p4v1.Entity{Entity: &p4v1.Entity_ValueSetEntry{ValueSetEntry: msg}}, nil
}

func decodeValueSetEntry(msg *p4v1.ValueSetEntry, schema *p4info.Schema) (*ValueSetEntry, error) {
	entry := &ValueSetEntry{}
	if id := msg.GetValueSetId(); id != 0 {
		set, ok := schema.ValueSetByID(id)
		if !ok {
			return nil, serrors.New(fmt.Sprintf("no value set with id %d", id))
		}
		entry.ValueSet = set.Alias
	}
	for _, member := range msg.GetMembers() {
		if len(member.GetMatch()) != 1 {
			return nil, serrors.New("unsupported value set member shape",
				"value_set", entry.ValueSet, "fields", len(member.GetMatch()))
		}
		exact := member.GetMatch()[0].GetExact()
		if exact == nil {
			return nil, serrors.New("unsupported value set member match type",
				"value_set", entry.ValueSet)
		}
		entry.Members = append(entry.Members, ValueSetMember{
			Value: decodeValue(exact.GetValue()),
		})
	}
	return entry, nil
}
