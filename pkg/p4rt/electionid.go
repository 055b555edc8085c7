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
	"fmt"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
)

// ElectionID is the 128-bit ordinal used to arbitrate mastership. Higher
// values win. IDs must be unique per client for a given (device, role).
type ElectionID struct {
	High uint64
	Low  uint64
}

// Compare returns -1, 0 or 1 depending on the order of a and b.
func (a ElectionID) Compare(b ElectionID) int {
	switch {
	case a.High < b.High:
		return -1
	case a.High > b.High:
		return 1
	case a.Low < b.Low:
		return -1
	case a.Low > b.Low:
		return 1
	default:
		return 0
	}
}

// Less reports whether a orders before b.
func (a ElectionID) Less(b ElectionID) bool { return a.Compare(b) < 0 }

// IsZero reports whether the ID is unset.
func (a ElectionID) IsZero() bool { return a.High == 0 && a.Low == 0 }

// Increment returns the next higher ID, carrying into the high word.
func (a ElectionID) Increment() ElectionID {
	low := a.Low + 1
	if low == 0 {
		return ElectionID{High: a.High + 1, Low: 0}
	}
	return ElectionID{High: a.High, Low: low}
}

func (a ElectionID) String() string {
	if a.High == 0 {
		return fmt.Sprintf("%d", a.Low)
	}
	return fmt.Sprintf("%d:%d", a.High, a.Low)
}

func (a ElectionID) proto() *p4v1.Uint128 {
	return &p4v1.Uint128{High: a.High, Low: a.Low}
}

func electionIDFromProto(msg *p4v1.Uint128) ElectionID {
	return ElectionID{High: msg.GetHigh(), Low: msg.GetLow()}
}
