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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueCanonical(t *testing.T) {
	tests := map[string]struct {
		value Value
		want  Value
	}{
		"zero":           {Uint(0), Value{0}},
		"single byte":    {Uint(0xff), Value{0xff}},
		"multi byte":     {Uint(0x0a000001), Value{0x0a, 0, 0, 1}},
		"strips zeros":   {Bytes([]byte{0, 0, 0x12}), Value{0x12}},
		"keeps one zero": {Bytes([]byte{0, 0, 0}), Value{0}},
		"empty input":    {Bytes(nil), Value{0}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.value)
		})
	}
}

func TestValueAsUint(t *testing.T) {
	assert.Equal(t, uint64(0x0a000001), Uint(0x0a000001).AsUint())
	assert.Equal(t, uint64(0), Uint(0).AsUint())
	// Values wider than 64 bits saturate.
	wide := Bytes([]byte{1, 0, 0, 0, 0, 0, 0, 0, 0})
	assert.Equal(t, ^uint64(0), wide.AsUint())
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "2048", Uint(0x800).String())
	mac := Bytes([]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00, 0x11, 0x22})
	assert.Equal(t, "0xaabbccddeeff001122", mac.String())
}

func TestEncodeValueBounds(t *testing.T) {
	raw, err := encodeValue(Uint(0x1ff), 9, "match field", "port")
	assert.NoError(t, err)
	assert.Equal(t, []byte{1, 0xff}, raw)

	_, err = encodeValue(Uint(0x200), 9, "match field", "port")
	assert.ErrorContains(t, err, `value does not fit match field "port"`)

	_, err = encodeValue(nil, 9, "match field", "port")
	assert.ErrorContains(t, err, `empty value for match field "port"`)
}
