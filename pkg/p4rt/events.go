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

import "time"

// ChannelState is the connectivity state of one switch connection. It is
// owned by the lifecycle loop; other goroutines observe it through
// snapshots.
type ChannelState int

const (
	// Idle means the lifecycle has not been started.
	Idle ChannelState = iota
	// Connecting means a connection attempt is in flight.
	Connecting
	// Ready means the stream is up, arbitration completed and the
	// pipeline is synchronized.
	Ready
	// TransientFailure means the last attempt or session failed and a
	// reconnect is pending.
	TransientFailure
	// Shutdown is terminal; entered on cancellation.
	Shutdown
)

func (s ChannelState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case TransientFailure:
		return "transient_failure"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// EventKind discriminates lifecycle events.
type EventKind int

const (
	// EventStateChange reports a ChannelState transition.
	EventStateChange EventKind = iota
	// EventMastershipChange reports a change of primary status or of the
	// observed primary election id.
	EventMastershipChange
)

func (k EventKind) String() string {
	switch k {
	case EventStateChange:
		return "state_change"
	case EventMastershipChange:
		return "mastership_change"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification delivered to the application.
type Event struct {
	// Switch is the name of the switch the event concerns.
	Switch string
	Kind   EventKind
	State  ChannelState
	// Primary and PrimaryElectionID are meaningful for mastership events.
	Primary           bool
	PrimaryElectionID ElectionID
	// Err carries the failure that caused a TransientFailure transition.
	Err  error
	Time time.Time
}
