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

package p4info

import (
	p4configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"

	"github.com/p4rt-go/p4rt/pkg/private/serrors"
)

// MatchKind is the comparison semantics of a table match field.
type MatchKind int

// The match kinds of the P4Runtime data model.
const (
	MatchUnspecified MatchKind = iota
	MatchExact
	MatchLPM
	MatchTernary
	MatchRange
	MatchOptional
	MatchOther
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchLPM:
		return "lpm"
	case MatchTernary:
		return "ternary"
	case MatchRange:
		return "range"
	case MatchOptional:
		return "optional"
	case MatchOther:
		return "other"
	default:
		return "unspecified"
	}
}

// MatchField describes one match field of a table or value set.
type MatchField struct {
	ID       uint32
	Name     string
	Alias    string
	Bitwidth int32
	Kind     MatchKind
	// OtherKind holds the architecture-specific name for Kind == MatchOther.
	OtherKind string
}

func newMatchField(f *p4configv1.MatchField) *MatchField {
	field := &MatchField{
		ID:       f.GetId(),
		Name:     f.GetName(),
		Alias:    suffix(f.GetName()),
		Bitwidth: f.GetBitwidth(),
	}
	if other := f.GetOtherMatchType(); other != "" {
		field.Kind = MatchOther
		field.OtherKind = other
		return field
	}
	switch f.GetMatchType() {
	case p4configv1.MatchField_EXACT:
		field.Kind = MatchExact
	case p4configv1.MatchField_LPM:
		field.Kind = MatchLPM
	case p4configv1.MatchField_TERNARY:
		field.Kind = MatchTernary
	case p4configv1.MatchField_RANGE:
		field.Kind = MatchRange
	case p4configv1.MatchField_OPTIONAL:
		field.Kind = MatchOptional
	}
	return field
}

// Table describes one match-action table.
type Table struct {
	ID    uint32
	Name  string
	Alias string
	// MatchFields in declaration order.
	MatchFields []*MatchField
	// ActionIDs lists the ids of the actions the table accepts.
	ActionIDs []uint32
	// ConstDefaultActionID is non-zero if the default action is constant.
	ConstDefaultActionID uint32
	// ImplementationID is the action profile implementing this table, or
	// zero for tables with direct actions.
	ImplementationID uint32
	// DirectCounter and DirectMeter are the direct resources attached to
	// the table, nil if absent.
	DirectCounter *DirectCounter
	DirectMeter   *DirectMeter
	Size          int64
	IsConst       bool
	// SupportsIdleTimeout is true if the table notifies the control plane
	// about idle entries.
	SupportsIdleTimeout bool

	fieldNames map[string]*MatchField
	fieldIDs   map[uint32]*MatchField
}

func newTable(t *p4configv1.Table, s *Schema) (*Table, error) {
	table := &Table{
		ID:                   t.GetPreamble().GetId(),
		Name:                 t.GetPreamble().GetName(),
		Alias:                aliasOf(t.GetPreamble()),
		ConstDefaultActionID: t.GetConstDefaultActionId(),
		ImplementationID:     t.GetImplementationId(),
		Size:                 t.GetSize(),
		IsConst:              t.GetIsConstTable(),
		SupportsIdleTimeout:  t.GetIdleTimeoutBehavior() == p4configv1.Table_NOTIFY_CONTROL,
		fieldNames:           map[string]*MatchField{},
		fieldIDs:             map[uint32]*MatchField{},
	}
	for _, f := range t.GetMatchFields() {
		field := newMatchField(f)
		if _, ok := table.fieldIDs[field.ID]; ok {
			return nil, serrors.New("duplicate match field id", "table", table.Alias, "id", field.ID)
		}
		table.MatchFields = append(table.MatchFields, field)
		table.fieldIDs[field.ID] = field
		table.fieldNames[field.Name] = field
		table.fieldNames[field.Alias] = field
	}
	for _, ref := range t.GetActionRefs() {
		table.ActionIDs = append(table.ActionIDs, ref.GetId())
	}
	for _, id := range t.GetDirectResourceIds() {
		if c, ok := s.directCounters.byID(id); ok {
			table.DirectCounter = c
		}
		if m, ok := s.directMeters.byID(id); ok {
			table.DirectMeter = m
		}
	}
	return table, nil
}

func (t *Table) id() uint32      { return t.ID }
func (t *Table) names() []string { return []string{t.Name, t.Alias} }

// MatchField looks up a match field by full name or by the last component of
// its dotted name.
func (t *Table) MatchField(name string) (*MatchField, bool) {
	f, ok := t.fieldNames[name]
	return f, ok
}

// MatchFieldByID looks up a match field by id.
func (t *Table) MatchFieldByID(id uint32) (*MatchField, bool) {
	f, ok := t.fieldIDs[id]
	return f, ok
}

// RequiresPriority reports whether entries of this table need an explicit
// priority, which is the case when any field matches ternary, range or
// optional.
func (t *Table) RequiresPriority() bool {
	for _, f := range t.MatchFields {
		switch f.Kind {
		case MatchTernary, MatchRange, MatchOptional:
			return true
		}
	}
	return false
}

// ActionParam describes one parameter of an action.
type ActionParam struct {
	ID       uint32
	Name     string
	Bitwidth int32
}

// Action describes one action.
type Action struct {
	ID     uint32
	Name   string
	Alias  string
	Params []*ActionParam

	paramNames map[string]*ActionParam
	paramIDs   map[uint32]*ActionParam
}

func newAction(a *p4configv1.Action) *Action {
	action := &Action{
		ID:         a.GetPreamble().GetId(),
		Name:       a.GetPreamble().GetName(),
		Alias:      aliasOf(a.GetPreamble()),
		paramNames: map[string]*ActionParam{},
		paramIDs:   map[uint32]*ActionParam{},
	}
	for _, p := range a.GetParams() {
		param := &ActionParam{
			ID:       p.GetId(),
			Name:     p.GetName(),
			Bitwidth: p.GetBitwidth(),
		}
		action.Params = append(action.Params, param)
		action.paramNames[param.Name] = param
		action.paramIDs[param.ID] = param
	}
	return action
}

func (a *Action) id() uint32      { return a.ID }
func (a *Action) names() []string { return []string{a.Name, a.Alias} }

// Param looks up an action parameter by name.
func (a *Action) Param(name string) (*ActionParam, bool) {
	p, ok := a.paramNames[name]
	return p, ok
}

// ParamByID looks up an action parameter by id.
func (a *Action) ParamByID(id uint32) (*ActionParam, bool) {
	p, ok := a.paramIDs[id]
	return p, ok
}

// ActionProfile describes an action profile or selector.
type ActionProfile struct {
	ID           uint32
	Name         string
	Alias        string
	TableIDs     []uint32
	WithSelector bool
	Size         int64
	MaxGroupSize int32
}

func newActionProfile(p *p4configv1.ActionProfile) *ActionProfile {
	return &ActionProfile{
		ID:           p.GetPreamble().GetId(),
		Name:         p.GetPreamble().GetName(),
		Alias:        aliasOf(p.GetPreamble()),
		TableIDs:     p.GetTableIds(),
		WithSelector: p.GetWithSelector(),
		Size:         p.GetSize(),
		MaxGroupSize: p.GetMaxGroupSize(),
	}
}

func (p *ActionProfile) id() uint32      { return p.ID }
func (p *ActionProfile) names() []string { return []string{p.Name, p.Alias} }

// Counter describes an indexed counter.
type Counter struct {
	ID    uint32
	Name  string
	Alias string
	Size  int64
	Unit  p4configv1.CounterSpec_Unit
}

func (c *Counter) id() uint32      { return c.ID }
func (c *Counter) names() []string { return []string{c.Name, c.Alias} }

// DirectCounter describes a counter attached to a table.
type DirectCounter struct {
	ID      uint32
	Name    string
	Alias   string
	TableID uint32
	Unit    p4configv1.CounterSpec_Unit
}

func (c *DirectCounter) id() uint32      { return c.ID }
func (c *DirectCounter) names() []string { return []string{c.Name, c.Alias} }

// Meter describes an indexed meter.
type Meter struct {
	ID    uint32
	Name  string
	Alias string
	Size  int64
	Unit  p4configv1.MeterSpec_Unit
}

func (m *Meter) id() uint32      { return m.ID }
func (m *Meter) names() []string { return []string{m.Name, m.Alias} }

// DirectMeter describes a meter attached to a table.
type DirectMeter struct {
	ID      uint32
	Name    string
	Alias   string
	TableID uint32
	Unit    p4configv1.MeterSpec_Unit
}

func (m *DirectMeter) id() uint32      { return m.ID }
func (m *DirectMeter) names() []string { return []string{m.Name, m.Alias} }

// Register describes a register array.
type Register struct {
	ID    uint32
	Name  string
	Alias string
	Size  int64
	// Bitwidth of the stored value for plain bitstring registers, zero for
	// structured types.
	Bitwidth int32
}

func (r *Register) id() uint32      { return r.ID }
func (r *Register) names() []string { return []string{r.Name, r.Alias} }

// Digest describes a digest declaration.
type Digest struct {
	ID    uint32
	Name  string
	Alias string
}

func (d *Digest) id() uint32      { return d.ID }
func (d *Digest) names() []string { return []string{d.Name, d.Alias} }

// ValueSet describes a parser value set.
type ValueSet struct {
	ID    uint32
	Name  string
	Alias string
	// Match lists the fields of one value set member, usually exactly one.
	Match []*MatchField
}

func newValueSet(v *p4configv1.ValueSet) *ValueSet {
	set := &ValueSet{
		ID:    v.GetPreamble().GetId(),
		Name:  v.GetPreamble().GetName(),
		Alias: aliasOf(v.GetPreamble()),
	}
	for _, f := range v.GetMatch() {
		set.Match = append(set.Match, newMatchField(f))
	}
	return set
}

func (v *ValueSet) id() uint32      { return v.ID }
func (v *ValueSet) names() []string { return []string{v.Name, v.Alias} }

// PacketField describes one metadata field of controller packet I/O.
type PacketField struct {
	ID       uint32
	Name     string
	Bitwidth int32
}

// PacketIO describes the metadata layout of packet-in or packet-out
// messages.
type PacketIO struct {
	Name string
	// Metadata fields in declaration order.
	Metadata []*PacketField

	fieldNames map[string]*PacketField
	fieldIDs   map[uint32]*PacketField
}

func newPacketIO(cpm *p4configv1.ControllerPacketMetadata) *PacketIO {
	io := &PacketIO{
		Name:       aliasOf(cpm.GetPreamble()),
		fieldNames: map[string]*PacketField{},
		fieldIDs:   map[uint32]*PacketField{},
	}
	for _, m := range cpm.GetMetadata() {
		field := &PacketField{
			ID:       m.GetId(),
			Name:     m.GetName(),
			Bitwidth: m.GetBitwidth(),
		}
		io.Metadata = append(io.Metadata, field)
		io.fieldNames[field.Name] = field
		io.fieldIDs[field.ID] = field
	}
	return io
}

// Field looks up a packet metadata field by name.
func (p *PacketIO) Field(name string) (*PacketField, bool) {
	f, ok := p.fieldNames[name]
	return f, ok
}

// FieldByID looks up a packet metadata field by id.
func (p *PacketIO) FieldByID(id uint32) (*PacketField, bool) {
	f, ok := p.fieldIDs[id]
	return f, ok
}
