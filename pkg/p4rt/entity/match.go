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

// FieldValue is one match field value. The concrete type selects the match
// kind encoding. A bare Exact value is legal shorthand on an LPM field
// (full-width prefix), on a ternary field (all-ones mask), and on an
// optional field.
type FieldValue interface {
	isFieldValue()
}

// Exact matches a value exactly.
type Exact struct {
	Value Value
}

// Ternary matches value bits selected by the mask.
type Ternary struct {
	Value Value
	Mask  Value
}

// LPM matches a longest-prefix of the given length.
type LPM struct {
	Value     Value
	PrefixLen int32
}

// Range matches values between Low and High inclusive.
type Range struct {
	Low  Value
	High Value
}

// Optional matches the value exactly; omitting the field from the match
// means wildcard.
type Optional struct {
	Value Value
}

func (Exact) isFieldValue()    {}
func (Ternary) isFieldValue()  {}
func (LPM) isFieldValue()      {}
func (Range) isFieldValue()    {}
func (Optional) isFieldValue() {}

// Match is a sparse table match keyed by field name. Fields that are absent
// are wildcards and are omitted from the wire representation.
type Match map[string]FieldValue

// EqualUint is a convenience for the common exact uint case.
func EqualUint(v uint64) Exact {
	return Exact{Value: Uint(v)}
}

// Prefix is a convenience for an LPM value.
func Prefix(v uint64, length int32) LPM {
	return LPM{Value: Uint(v), PrefixLen: length}
}

func (m Match) encode(table *p4info.Table) ([]*p4v1.FieldMatch, error) {
	byID := make(map[uint32]FieldValue, len(m))
	for name, fv := range m {
		field, ok := table.MatchField(name)
		if !ok {
			return nil, serrors.New(fmt.Sprintf("no match field named %q", name),
				"table", table.Alias)
		}
		if _, dup := byID[field.ID]; dup {
			return nil, serrors.New(fmt.Sprintf("duplicate match field %q", name),
				"table", table.Alias)
		}
		byID[field.ID] = fv
	}
	var msgs []*p4v1.FieldMatch
	for _, field := range table.MatchFields {
		fv, ok := byID[field.ID]
		if !ok {
			continue
		}
		msg, err := encodeFieldValue(fv, field, table.Alias)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func encodeFieldValue(fv FieldValue, field *p4info.MatchField, table string) (*p4v1.FieldMatch, error) {
	msg := &p4v1.FieldMatch{FieldId: field.ID}
	switch v := fv.(type) {
	case Exact:
		raw, err := encodeValue(v.Value, field.Bitwidth, "match field", field.Alias)
		if err != nil {
			return nil, err
		}
		switch field.Kind {
		case p4info.MatchExact:
			msg.FieldMatchType = &p4v1.FieldMatch_Exact_{
				Exact: &p4v1.FieldMatch_Exact{Value: raw},
			}
		case p4info.MatchLPM:
			// Scalar shorthand: a bare value is a full-width prefix.
			msg.FieldMatchType = &p4v1.FieldMatch_Lpm{
				Lpm: &p4v1.FieldMatch_LPM{Value: raw, PrefixLen: field.Bitwidth},
			}
		case p4info.MatchTernary:
			msg.FieldMatchType = &p4v1.FieldMatch_Ternary_{
				Ternary: &p4v1.FieldMatch_Ternary{Value: raw, Mask: onesValue(field.Bitwidth)},
			}
		case p4info.MatchOptional:
			msg.FieldMatchType = &p4v1.FieldMatch_Optional_{
				Optional: &p4v1.FieldMatch_Optional{Value: raw},
			}
		default:
			return nil, matchKindError(field, table, "exact")
		}
	case LPM:
		if field.Kind != p4info.MatchLPM {
			return nil, matchKindError(field, table, "lpm")
		}
		if v.PrefixLen < 0 || v.PrefixLen > field.Bitwidth {
			return nil, serrors.New(
				fmt.Sprintf("invalid prefix length for match field %q", field.Alias),
				"prefix_len", v.PrefixLen, "bitwidth", field.Bitwidth)
		}
		raw, err := encodeValue(v.Value, field.Bitwidth, "match field", field.Alias)
		if err != nil {
			return nil, err
		}
		msg.FieldMatchType = &p4v1.FieldMatch_Lpm{
			Lpm: &p4v1.FieldMatch_LPM{Value: raw, PrefixLen: v.PrefixLen},
		}
	case Ternary:
		if field.Kind != p4info.MatchTernary {
			return nil, matchKindError(field, table, "ternary")
		}
		raw, err := encodeValue(v.Value, field.Bitwidth, "match field", field.Alias)
		if err != nil {
			return nil, err
		}
		mask, err := encodeValue(v.Mask, field.Bitwidth, "match field", field.Alias)
		if err != nil {
			return nil, err
		}
		msg.FieldMatchType = &p4v1.FieldMatch_Ternary_{
			Ternary: &p4v1.FieldMatch_Ternary{Value: raw, Mask: mask},
		}
	case Range:
		if field.Kind != p4info.MatchRange {
			return nil, matchKindError(field, table, "range")
		}
		low, err := encodeValue(v.Low, field.Bitwidth, "match field", field.Alias)
		if err != nil {
			return nil, err
		}
		high, err := encodeValue(v.High, field.Bitwidth, "match field", field.Alias)
		if err != nil {
			return nil, err
		}
		msg.FieldMatchType = &p4v1.FieldMatch_Range_{
			Range: &p4v1.FieldMatch_Range{Low: low, High: high},
		}
	case Optional:
		if field.Kind != p4info.MatchOptional {
			return nil, matchKindError(field, table, "optional")
		}
		raw, err := encodeValue(v.Value, field.Bitwidth, "match field", field.Alias)
		if err != nil {
			return nil, err
		}
		msg.FieldMatchType = &p4v1.FieldMatch_Optional_{
			Optional: &p4v1.FieldMatch_Optional{Value: raw},
		}
	default:
		return nil, serrors.New(fmt.Sprintf("unsupported match value for field %q", field.Alias))
	}
	return msg, nil
}

func matchKindError(field *p4info.MatchField, table, got string) error {
	return serrors.New(
		fmt.Sprintf("match field %q expects %s match", field.Alias, field.Kind),
		"table", table, "got", got)
}

func decodeMatch(msgs []*p4v1.FieldMatch, table *p4info.Table) (Match, error) {
	match := Match{}
	for _, msg := range msgs {
		field, ok := table.MatchFieldByID(msg.GetFieldId())
		if !ok {
			return nil, serrors.New(
				fmt.Sprintf("no match field with id %d", msg.GetFieldId()),
				"table", table.Alias)
		}
		fv, err := decodeFieldValue(msg, field, table.Alias)
		if err != nil {
			return nil, err
		}
		match[field.Alias] = fv
	}
	return match, nil
}

func decodeFieldValue(msg *p4v1.FieldMatch, field *p4info.MatchField, table string) (FieldValue, error) {
	switch m := msg.GetFieldMatchType().(type) {
	case *p4v1.FieldMatch_Exact_:
		return Exact{Value: decodeValue(m.Exact.GetValue())}, nil
	case *p4v1.FieldMatch_Lpm:
		return LPM{
			Value:     decodeValue(m.Lpm.GetValue()),
			PrefixLen: m.Lpm.GetPrefixLen(),
		}, nil
	case *p4v1.FieldMatch_Ternary_:
		return Ternary{
			Value: decodeValue(m.Ternary.GetValue()),
			Mask:  decodeValue(m.Ternary.GetMask()),
		}, nil
	case *p4v1.FieldMatch_Range_:
		return Range{
			Low:  decodeValue(m.Range.GetLow()),
			High: decodeValue(m.Range.GetHigh()),
		}, nil
	case *p4v1.FieldMatch_Optional_:
		return Optional{Value: decodeValue(m.Optional.GetValue())}, nil
	default:
		return nil, serrors.New(
			fmt.Sprintf("unsupported match type on field %q", field.Alias),
			"table", table)
	}
}

// onesValue returns the canonical all-ones value of the given bit-width.
func onesValue(bitwidth int32) []byte {
	n := (int(bitwidth) + 7) / 8
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xff
	}
	if rem := int(bitwidth) % 8; rem != 0 {
		b[0] = 0xff >> (8 - rem)
	}
	return b
}

// formatFieldValue renders a field value for diagnostics and table dumps.
func formatFieldValue(fv FieldValue) string {
	switch v := fv.(type) {
	case Exact:
		return v.Value.String()
	case LPM:
		return fmt.Sprintf("%s/%d", v.Value, v.PrefixLen)
	case Ternary:
		return fmt.Sprintf("%s &&& %s", v.Value, v.Mask)
	case Range:
		return fmt.Sprintf("%s..%s", v.Low, v.High)
	case Optional:
		return v.Value.String()
	default:
		return "?"
	}
}
