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
	"context"
	"sync"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"

	"github.com/p4rt-go/p4rt/pkg/log"
	"github.com/p4rt-go/p4rt/pkg/private/serrors"
)

// streamBuffer is the per-kind channel capacity of the multiplexer.
const streamBuffer = 64

// streamMux owns one StreamChannel. A single reader goroutine fans inbound
// messages out by kind into bounded channels, preserving receipt order per
// kind. Outbound sends are serialized; gRPC streams allow at most one
// concurrent sender.
type streamMux struct {
	stream p4v1.P4Runtime_StreamChannelClient

	sendMu sync.Mutex

	arbitration chan *p4v1.MasterArbitrationUpdate
	packets     chan *p4v1.PacketIn
	digests     chan *p4v1.DigestList
	idle        chan *p4v1.IdleTimeoutNotification
	errors      chan *p4v1.StreamError

	done    chan struct{}
	readErr error
}

func newStreamMux(stream p4v1.P4Runtime_StreamChannelClient) *streamMux {
	return &streamMux{
		stream:      stream,
		arbitration: make(chan *p4v1.MasterArbitrationUpdate, streamBuffer),
		packets:     make(chan *p4v1.PacketIn, streamBuffer),
		digests:     make(chan *p4v1.DigestList, streamBuffer),
		idle:        make(chan *p4v1.IdleTimeoutNotification, streamBuffer),
		errors:      make(chan *p4v1.StreamError, streamBuffer),
		done:        make(chan struct{}),
	}
}

// run reads the stream until it fails or the context is cancelled. It closes
// Done on return; the terminal error is available via Err afterwards.
func (m *streamMux) run(ctx context.Context) {
	defer log.HandlePanic()
	defer close(m.done)
	logger := log.FromCtx(ctx)
	for {
		msg, err := m.stream.Recv()
		if err != nil {
			m.readErr = err
			return
		}
		switch u := msg.GetUpdate().(type) {
		case *p4v1.StreamMessageResponse_Arbitration:
			dispatch(ctx, m.arbitration, u.Arbitration)
		case *p4v1.StreamMessageResponse_Packet:
			dispatch(ctx, m.packets, u.Packet)
		case *p4v1.StreamMessageResponse_Digest:
			dispatch(ctx, m.digests, u.Digest)
		case *p4v1.StreamMessageResponse_IdleTimeoutNotification:
			dispatch(ctx, m.idle, u.IdleTimeoutNotification)
		case *p4v1.StreamMessageResponse_Error:
			dispatch(ctx, m.errors, u.Error)
		default:
			logger.Debug("Ignoring unknown stream message")
		}
	}
}

// dispatch blocks until the consumer drains the channel or the context is
// cancelled. A slow consumer of one kind stalls only further messages, never
// the consumers of the other kinds' buffered messages.
func dispatch[T any](ctx context.Context, ch chan T, msg T) {
	select {
	case ch <- msg:
	case <-ctx.Done():
	}
}

// Send writes one message to the stream. Safe for concurrent use.
func (m *streamMux) Send(msg *p4v1.StreamMessageRequest) error {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	if err := m.stream.Send(msg); err != nil {
		return serrors.Wrap("sending stream message", err)
	}
	return nil
}

// Done is closed when the reader goroutine exits.
func (m *streamMux) Done() <-chan struct{} { return m.done }

// Err returns the terminal read error. Only valid after Done is closed.
func (m *streamMux) Err() error { return m.readErr }
