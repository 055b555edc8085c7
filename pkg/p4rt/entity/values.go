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
	"encoding/binary"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/p4rt-go/p4rt/pkg/private/serrors"
)

// Value is a scalar field value in canonical P4Runtime bytestring form:
// big-endian with leading zero bytes stripped, at least one byte long.
// Constructors canonicalize, so values compare bytewise.
type Value []byte

// Uint returns the canonical value for an unsigned integer.
func Uint(v uint64) Value {
	if v == 0 {
		return Value{0}
	}
	n := (bits.Len64(v) + 7) / 8
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return Value(append([]byte(nil), buf[8-n:]...))
}

// Bytes returns the canonical value for a raw big-endian byte string.
func Bytes(b []byte) Value {
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	if len(b) == 0 {
		return Value{0}
	}
	return Value(append([]byte(nil), b[i:]...))
}

// AsUint converts the value back to an unsigned integer. Values wider than
// 64 bits saturate to the maximum.
func (v Value) AsUint() uint64 {
	if len(v) > 8 {
		return ^uint64(0)
	}
	var buf [8]byte
	copy(buf[8-len(v):], v)
	return binary.BigEndian.Uint64(buf[:])
}

func (v Value) String() string {
	if len(v) <= 8 {
		return fmt.Sprintf("%d", v.AsUint())
	}
	return fmt.Sprintf("0x%s", new(big.Int).SetBytes(v).Text(16))
}

// bitlen returns the number of significant bits in the value.
func (v Value) bitlen() int {
	for i, b := range v {
		if b != 0 {
			return (len(v)-i-1)*8 + bits.Len8(b)
		}
	}
	return 0
}

// encodeValue serializes the value for a field of the given bit-width. The
// result is the minimum-width big-endian byte string; leading zeros are
// truncated per the canonical bytestring representation.
func encodeValue(v Value, bitwidth int32, what, name string) ([]byte, error) {
	if len(v) == 0 {
		return nil, serrors.New(fmt.Sprintf("empty value for %s %q", what, name))
	}
	if v.bitlen() > int(bitwidth) {
		return nil, serrors.New(
			fmt.Sprintf("value does not fit %s %q", what, name),
			"bits", v.bitlen(), "bitwidth", bitwidth)
	}
	return Bytes(v), nil
}

// decodeValue re-parses a wire byte string into a canonical value. The width
// does not affect the result; decoding is independent of any leading-zero
// truncation applied on encode.
func decodeValue(b []byte) Value {
	return Bytes(b)
}
