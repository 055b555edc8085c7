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

// Package p4info turns a device's P4Info capability document into indexed
// lookup tables. A Schema is immutable after construction and may be shared
// across goroutines without synchronization.
//
// Objects are addressable by their fully qualified name (for example
// "MyIngress.ipv4_lpm"), by their preamble alias ("ipv4_lpm"), or by numeric
// id. Match fields and action parameters are additionally addressable by the
// last component of a dotted name.
package p4info

import (
	"os"
	"strings"

	p4configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	"google.golang.org/protobuf/encoding/prototext"

	"github.com/p4rt-go/p4rt/pkg/private/serrors"
)

// Schema is the indexed view of a P4Info document.
type Schema struct {
	p4 *p4configv1.P4Info

	tables         collection[*Table]
	actions        collection[*Action]
	actionProfiles collection[*ActionProfile]
	counters       collection[*Counter]
	directCounters collection[*DirectCounter]
	meters         collection[*Meter]
	directMeters   collection[*DirectMeter]
	registers      collection[*Register]
	digests        collection[*Digest]
	valueSets      collection[*ValueSet]

	packetIn  *PacketIO
	packetOut *PacketIO
}

// Load reads a prototext P4Info document from the file at path.
func Load(path string) (*Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.Wrap("reading p4info", err, "file", path)
	}
	var p4 p4configv1.P4Info
	if err := prototext.Unmarshal(raw, &p4); err != nil {
		return nil, serrors.Wrap("parsing p4info", err, "file", path)
	}
	return New(&p4)
}

// New builds the schema indexes from a parsed P4Info message. The message
// must not be mutated afterwards.
func New(p4 *p4configv1.P4Info) (*Schema, error) {
	s := &Schema{
		p4:             p4,
		tables:         newCollection[*Table](),
		actions:        newCollection[*Action](),
		actionProfiles: newCollection[*ActionProfile](),
		counters:       newCollection[*Counter](),
		directCounters: newCollection[*DirectCounter](),
		meters:         newCollection[*Meter](),
		directMeters:   newCollection[*DirectMeter](),
		registers:      newCollection[*Register](),
		digests:        newCollection[*Digest](),
		valueSets:      newCollection[*ValueSet](),
	}
	for _, a := range p4.GetActions() {
		if err := s.actions.add(newAction(a)); err != nil {
			return nil, err
		}
	}
	for _, p := range p4.GetActionProfiles() {
		if err := s.actionProfiles.add(newActionProfile(p)); err != nil {
			return nil, err
		}
	}
	for _, c := range p4.GetCounters() {
		counter := &Counter{
			ID:    c.GetPreamble().GetId(),
			Name:  c.GetPreamble().GetName(),
			Alias: aliasOf(c.GetPreamble()),
			Size:  c.GetSize(),
			Unit:  c.GetSpec().GetUnit(),
		}
		if err := s.counters.add(counter); err != nil {
			return nil, err
		}
	}
	for _, c := range p4.GetDirectCounters() {
		counter := &DirectCounter{
			ID:      c.GetPreamble().GetId(),
			Name:    c.GetPreamble().GetName(),
			Alias:   aliasOf(c.GetPreamble()),
			TableID: c.GetDirectTableId(),
			Unit:    c.GetSpec().GetUnit(),
		}
		if err := s.directCounters.add(counter); err != nil {
			return nil, err
		}
	}
	for _, m := range p4.GetMeters() {
		meter := &Meter{
			ID:    m.GetPreamble().GetId(),
			Name:  m.GetPreamble().GetName(),
			Alias: aliasOf(m.GetPreamble()),
			Size:  m.GetSize(),
			Unit:  m.GetSpec().GetUnit(),
		}
		if err := s.meters.add(meter); err != nil {
			return nil, err
		}
	}
	for _, m := range p4.GetDirectMeters() {
		meter := &DirectMeter{
			ID:      m.GetPreamble().GetId(),
			Name:    m.GetPreamble().GetName(),
			Alias:   aliasOf(m.GetPreamble()),
			TableID: m.GetDirectTableId(),
			Unit:    m.GetSpec().GetUnit(),
		}
		if err := s.directMeters.add(meter); err != nil {
			return nil, err
		}
	}
	for _, r := range p4.GetRegisters() {
		register := &Register{
			ID:       r.GetPreamble().GetId(),
			Name:     r.GetPreamble().GetName(),
			Alias:    aliasOf(r.GetPreamble()),
			Size:     int64(r.GetSize()),
			Bitwidth: r.GetTypeSpec().GetBitstring().GetBit().GetBitwidth(),
		}
		if err := s.registers.add(register); err != nil {
			return nil, err
		}
	}
	for _, d := range p4.GetDigests() {
		digest := &Digest{
			ID:    d.GetPreamble().GetId(),
			Name:  d.GetPreamble().GetName(),
			Alias: aliasOf(d.GetPreamble()),
		}
		if err := s.digests.add(digest); err != nil {
			return nil, err
		}
	}
	for _, v := range p4.GetValueSets() {
		if err := s.valueSets.add(newValueSet(v)); err != nil {
			return nil, err
		}
	}
	for _, t := range p4.GetTables() {
		table, err := newTable(t, s)
		if err != nil {
			return nil, err
		}
		if err := s.tables.add(table); err != nil {
			return nil, err
		}
	}
	for _, cpm := range p4.GetControllerPacketMetadata() {
		io := newPacketIO(cpm)
		switch io.Name {
		case "packet_in":
			s.packetIn = io
		case "packet_out":
			s.packetOut = io
		default:
			return nil, serrors.New("unknown controller packet metadata", "name", io.Name)
		}
	}
	return s, nil
}

// P4Info returns the underlying capability document, e.g. for a pipeline
// config push. Callers must not mutate it.
func (s *Schema) P4Info() *p4configv1.P4Info {
	return s.p4
}

// Table looks up a table by name or alias.
func (s *Schema) Table(name string) (*Table, bool) { return s.tables.byName(name) }

// TableByID looks up a table by id.
func (s *Schema) TableByID(id uint32) (*Table, bool) { return s.tables.byID(id) }

// Tables lists all tables in declaration order.
func (s *Schema) Tables() []*Table { return s.tables.items }

// Action looks up an action by name or alias.
func (s *Schema) Action(name string) (*Action, bool) { return s.actions.byName(name) }

// ActionByID looks up an action by id.
func (s *Schema) ActionByID(id uint32) (*Action, bool) { return s.actions.byID(id) }

// ActionProfile looks up an action profile by name or alias.
func (s *Schema) ActionProfile(name string) (*ActionProfile, bool) {
	return s.actionProfiles.byName(name)
}

// ActionProfileByID looks up an action profile by id.
func (s *Schema) ActionProfileByID(id uint32) (*ActionProfile, bool) {
	return s.actionProfiles.byID(id)
}

// ActionProfiles lists all action profiles in declaration order.
func (s *Schema) ActionProfiles() []*ActionProfile { return s.actionProfiles.items }

// Counter looks up an indexed counter by name or alias.
func (s *Schema) Counter(name string) (*Counter, bool) { return s.counters.byName(name) }

// CounterByID looks up an indexed counter by id.
func (s *Schema) CounterByID(id uint32) (*Counter, bool) { return s.counters.byID(id) }

// DirectCounter looks up a direct counter by name or alias.
func (s *Schema) DirectCounter(name string) (*DirectCounter, bool) {
	return s.directCounters.byName(name)
}

// DirectCounterByTable returns the direct counter attached to the table.
func (s *Schema) DirectCounterByTable(tableID uint32) (*DirectCounter, bool) {
	for _, c := range s.directCounters.items {
		if c.TableID == tableID {
			return c, true
		}
	}
	return nil, false
}

// Meter looks up an indexed meter by name or alias.
func (s *Schema) Meter(name string) (*Meter, bool) { return s.meters.byName(name) }

// MeterByID looks up an indexed meter by id.
func (s *Schema) MeterByID(id uint32) (*Meter, bool) { return s.meters.byID(id) }

// DirectMeter looks up a direct meter by name or alias.
func (s *Schema) DirectMeter(name string) (*DirectMeter, bool) {
	return s.directMeters.byName(name)
}

// Register looks up a register by name or alias.
func (s *Schema) Register(name string) (*Register, bool) { return s.registers.byName(name) }

// RegisterByID looks up a register by id.
func (s *Schema) RegisterByID(id uint32) (*Register, bool) { return s.registers.byID(id) }

// Digest looks up a digest by name or alias.
func (s *Schema) Digest(name string) (*Digest, bool) { return s.digests.byName(name) }

// DigestByID looks up a digest by id.
func (s *Schema) DigestByID(id uint32) (*Digest, bool) { return s.digests.byID(id) }

// ValueSet looks up a value set by name or alias.
func (s *Schema) ValueSet(name string) (*ValueSet, bool) { return s.valueSets.byName(name) }

// ValueSetByID looks up a value set by id.
func (s *Schema) ValueSetByID(id uint32) (*ValueSet, bool) { return s.valueSets.byID(id) }

// PacketIn returns the metadata layout of controller packet-in messages.
func (s *Schema) PacketIn() (*PacketIO, bool) { return s.packetIn, s.packetIn != nil }

// PacketOut returns the metadata layout of controller packet-out messages.
func (s *Schema) PacketOut() (*PacketIO, bool) { return s.packetOut, s.packetOut != nil }

type named interface {
	id() uint32
	names() []string
}

type collection[T named] struct {
	items  []T
	names  map[string]T
	ids    map[uint32]T
}

func newCollection[T named]() collection[T] {
	return collection[T]{
		names: map[string]T{},
		ids:   map[uint32]T{},
	}
}

func (c *collection[T]) add(item T) error {
	if _, ok := c.ids[item.id()]; ok {
		return serrors.New("duplicate object id in p4info", "id", item.id())
	}
	c.items = append(c.items, item)
	c.ids[item.id()] = item
	for _, name := range item.names() {
		if name != "" {
			c.names[name] = item
		}
	}
	return nil
}

func (c *collection[T]) byName(name string) (T, bool) {
	item, ok := c.names[name]
	return item, ok
}

func (c *collection[T]) byID(id uint32) (T, bool) {
	item, ok := c.ids[id]
	return item, ok
}

// aliasOf returns the preamble alias, falling back to the last dotted
// component of the name.
func aliasOf(p *p4configv1.Preamble) string {
	if alias := p.GetAlias(); alias != "" {
		return alias
	}
	return suffix(p.GetName())
}

func suffix(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}
