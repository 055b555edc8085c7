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
	"testing"
	"time"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/p4rt-go/p4rt/pkg/p4rt/entity"
	"github.com/p4rt-go/p4rt/pkg/p4rt/p4info"
)

const testP4InfoPath = "p4info/testdata/basic.p4info.txt"

func testSwitch(t *testing.T, dev *fakeDevice, ready chan struct{},
	tweak func(*SwitchOptions)) *Switch {

	t.Helper()
	opts := SwitchOptions{
		DeviceID:   1,
		P4InfoPath: testP4InfoPath,
		Dialer:     dev,
		Backoff:    BackoffConfig{Min: time.Millisecond, Max: 10 * time.Millisecond},
	}
	if ready != nil {
		opts.ReadyHandler = func(ctx context.Context, sw *Switch) {
			ready <- struct{}{}
		}
	}
	if tweak != nil {
		tweak(&opts)
	}
	sw, err := NewSwitch("leaf1", "fake:1", opts)
	require.NoError(t, err)
	return sw
}

func waitReady(t *testing.T, ready <-chan struct{}) {
	t.Helper()
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ready")
	}
}

func TestSwitchInsertReadBack(t *testing.T) {
	defer goleak.VerifyNone(t)
	dev := newFakeDevice()
	ready := make(chan struct{}, 4)
	sw := testSwitch(t, dev, ready, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	waitReady(t, ready)

	assert.True(t, sw.Status().Primary)
	assert.Equal(t, Ready, sw.Status().State)

	entry := &entity.TableEntry{
		Table: "ipv4_lpm",
		Match: entity.Match{"dstAddr": entity.Prefix(0x0a000000, 24)},
		Action: entity.NewAction("ipv4_forward", map[string]entity.Value{
			"dstAddr": entity.Uint(0x0a0b0c0d0e0f),
			"port":    entity.Uint(1),
		}),
	}
	require.NoError(t, sw.Insert(ctx, entry))

	got, err := sw.Read(ctx, &entity.TableEntry{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, entry, got[0])

	version, err := sw.Capabilities(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.4.1", version)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, Shutdown, sw.Status().State)
}

func TestSwitchPushesPipeline(t *testing.T) {
	defer goleak.VerifyNone(t)
	dev := newFakeDevice()
	ready := make(chan struct{}, 4)
	sw := testSwitch(t, dev, ready, func(o *SwitchOptions) {
		o.DeviceConfig = []byte("bmv2-json")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	waitReady(t, ready)

	dev.mu.Lock()
	pipeline := dev.pipeline
	dev.mu.Unlock()
	require.NotNil(t, pipeline)
	assert.Equal(t, []byte("bmv2-json"), pipeline.GetP4DeviceConfig())
	assert.NotZero(t, pipeline.GetCookie().GetCookie())

	cancel()
	require.NoError(t, <-done)
}

func TestSwitchReconnect(t *testing.T) {
	defer goleak.VerifyNone(t)
	dev := newFakeDevice()
	ready := make(chan struct{}, 4)
	sw := testSwitch(t, dev, ready, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	waitReady(t, ready)

	dev.breakStreams()

	// The ready handler fires exactly once more, for the new connection.
	waitReady(t, ready)
	assert.Equal(t, 2, dev.dials())
	assert.Empty(t, ready)

	// The lifecycle passed through transient failure on the way.
	states := drainStates(sw.Events())
	assert.Contains(t, states, TransientFailure)
	assert.Equal(t, Ready, states[len(states)-1])

	cancel()
	require.NoError(t, <-done)
}

func drainStates(events <-chan Event) []ChannelState {
	var states []ChannelState
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventStateChange {
				states = append(states, ev.State)
			}
		default:
			return states
		}
	}
}

func TestSwitchRetriesDial(t *testing.T) {
	defer goleak.VerifyNone(t)
	dev := newFakeDevice()
	dev.failDials = 2
	ready := make(chan struct{}, 4)
	sw := testSwitch(t, dev, ready, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	waitReady(t, ready)

	assert.Equal(t, 3, dev.dials())
	cancel()
	require.NoError(t, <-done)
}

func TestSwitchConnectAttemptLimit(t *testing.T) {
	defer goleak.VerifyNone(t)
	dev := newFakeDevice()
	dev.failDials = 1 << 30
	sw := testSwitch(t, dev, nil, func(o *SwitchOptions) {
		o.MaxConnectAttempts = 3
	})

	err := sw.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "dialing")
	assert.Equal(t, 3, dev.dials())
	assert.Equal(t, Shutdown, sw.Status().State)
}

func TestSwitchBackupArbitration(t *testing.T) {
	defer goleak.VerifyNone(t)
	dev := newFakeDevice()
	dev.backup = true
	dev.primaryID = &p4v1.Uint128{Low: 5}
	ready := make(chan struct{}, 4)
	sw := testSwitch(t, dev, ready, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	waitReady(t, ready)

	status := sw.Status()
	assert.False(t, status.Primary)
	assert.Equal(t, ElectionID{Low: 5}, status.PrimaryElectionID)

	cancel()
	require.NoError(t, <-done)
}

func TestSwitchPrimaryIDNeverRegresses(t *testing.T) {
	defer goleak.VerifyNone(t)
	dev := newFakeDevice()
	dev.primaryID = &p4v1.Uint128{Low: 5}
	ready := make(chan struct{}, 4)
	sw := testSwitch(t, dev, ready, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	waitReady(t, ready)

	// A stale arbitration update with a lower election id must not move
	// the reported primary id backwards.
	dev.push(&p4v1.StreamMessageResponse{
		Update: &p4v1.StreamMessageResponse_Arbitration{
			Arbitration: &p4v1.MasterArbitrationUpdate{
				DeviceId:   1,
				ElectionId: &p4v1.Uint128{Low: 3},
				Status:     okStatus(),
			},
		},
	})
	assert.Eventually(t, func() bool {
		return sw.Status().PrimaryElectionID == (ElectionID{Low: 5})
	}, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		return sw.Status().PrimaryElectionID.Less(ElectionID{Low: 5})
	}, 50*time.Millisecond, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSwitchPacketIO(t *testing.T) {
	defer goleak.VerifyNone(t)
	dev := newFakeDevice()
	ready := make(chan struct{}, 4)
	sw := testSwitch(t, dev, ready, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	waitReady(t, ready)

	// Punted packets arrive in receipt order.
	for i := 1; i <= 3; i++ {
		dev.pushPacket(&p4v1.PacketIn{
			Payload: []byte{byte(i)},
			Metadata: []*p4v1.PacketMetadata{
				{MetadataId: 1, Value: []byte{byte(i)}},
			},
		})
	}
	for i := 1; i <= 3; i++ {
		select {
		case packet := <-sw.ReadPackets():
			assert.Equal(t, []byte{byte(i)}, packet.Payload)
			assert.Equal(t, entity.Uint(uint64(i)), packet.Metadata["ingress_port"])
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for packet-in")
		}
	}

	err := sw.SendPacket(ctx, &entity.PacketOut{
		Payload: []byte{0xca, 0xfe},
		Metadata: map[string]entity.Value{
			"egress_port": entity.Uint(7),
			"_pad":        entity.Uint(0),
		},
	})
	require.NoError(t, err)
	require.Len(t, dev.sentPackets(), 1)
	assert.Equal(t, []byte{0xca, 0xfe}, dev.sentPackets()[0].GetPayload())

	cancel()
	require.NoError(t, <-done)
}

func TestSwitchDigests(t *testing.T) {
	defer goleak.VerifyNone(t)
	dev := newFakeDevice()
	ready := make(chan struct{}, 4)
	sw := testSwitch(t, dev, ready, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	waitReady(t, ready)

	dev.pushDigest(&p4v1.DigestList{DigestId: 401827287, ListId: 42})

	select {
	case list := <-sw.ReadDigests():
		assert.Equal(t, "Digest_t", list.Digest)
		require.NoError(t, sw.AckDigest(ctx, list))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for digest")
	}
	require.Len(t, dev.digestAcks(), 1)
	assert.Equal(t, uint64(42), dev.digestAcks()[0].GetListId())

	cancel()
	require.NoError(t, <-done)
}

func TestSwitchUnsupportedReadIsEmpty(t *testing.T) {
	defer goleak.VerifyNone(t)
	dev := newFakeDevice()
	dev.unimplementedReads = true
	ready := make(chan struct{}, 4)
	sw := testSwitch(t, dev, ready, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	waitReady(t, ready)

	got, err := sw.Read(ctx, &entity.TableEntry{})
	require.NoError(t, err)
	assert.Empty(t, got)

	cancel()
	require.NoError(t, <-done)
}

func TestSwitchNotReady(t *testing.T) {
	dev := newFakeDevice()
	sw := testSwitch(t, dev, nil, nil)
	err := sw.Insert(context.Background(), &entity.TableEntry{})
	assert.ErrorContains(t, err, "switch not ready")
}

func TestSwitchDeleteAll(t *testing.T) {
	defer goleak.VerifyNone(t)
	dev := newFakeDevice()
	ready := make(chan struct{}, 4)
	sw := testSwitch(t, dev, ready, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	waitReady(t, ready)

	require.NoError(t, sw.Insert(ctx,
		&entity.TableEntry{
			Table:  "ipv4_lpm",
			Match:  entity.Match{"dstAddr": entity.Prefix(0x0a000000, 24)},
			Action: entity.NewAction("drop", nil),
		},
		&entity.MulticastGroupEntry{
			GroupID:  1,
			Replicas: []entity.Replica{{EgressPort: 1, Instance: 1}},
		},
	))
	require.NoError(t, sw.DeleteAll(ctx))

	got, err := sw.Read(ctx, &entity.TableEntry{}, &entity.MulticastGroupEntry{})
	require.NoError(t, err)
	assert.Empty(t, got)

	cancel()
	require.NoError(t, <-done)
}

func TestNewSwitchInlineP4Info(t *testing.T) {
	schema, err := p4info.Load(testP4InfoPath)
	require.NoError(t, err)

	sw, err := NewSwitch("leaf1", "fake:1", SwitchOptions{
		DeviceID: 1,
		P4Info:   schema.P4Info(),
	})
	require.NoError(t, err)
	table, ok := sw.Schema().Table("ipv4_lpm")
	require.True(t, ok)
	assert.Equal(t, uint32(37375156), table.ID)
}

func TestSwitchUnpolledPacketsDoNotStallStream(t *testing.T) {
	defer goleak.VerifyNone(t)
	dev := newFakeDevice()
	ready := make(chan struct{}, 4)
	sw := testSwitch(t, dev, ready, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	waitReady(t, ready)

	// Flood far more packets than the consumer channel buffers while
	// nobody drains ReadPackets. Packets past the buffer are shed; the
	// other kinds must keep flowing.
	for i := 0; i < 3*streamBuffer; i++ {
		dev.pushPacket(&p4v1.PacketIn{
			Payload: []byte{0x01},
			Metadata: []*p4v1.PacketMetadata{
				{MetadataId: 1, Value: []byte{0x01}},
			},
		})
	}
	dev.pushDigest(&p4v1.DigestList{DigestId: 401827287, ListId: 7})

	select {
	case list := <-sw.ReadDigests():
		assert.Equal(t, uint64(7), list.ListID)
	case <-time.After(5 * time.Second):
		t.Fatal("digest stalled behind unpolled packets")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestSwitchWithoutSchema(t *testing.T) {
	defer goleak.VerifyNone(t)
	dev := newFakeDevice()
	ready := make(chan struct{}, 4)
	sw := testSwitch(t, dev, ready, func(o *SwitchOptions) {
		o.P4InfoPath = ""
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	waitReady(t, ready)

	// A schema-less switch arbitrates but refuses codec operations.
	err := sw.Insert(ctx, &entity.TableEntry{Table: "ipv4_lpm"})
	assert.ErrorContains(t, err, "no schema configured")

	// Punted packets are dropped without killing the session.
	dev.pushPacket(&p4v1.PacketIn{Payload: []byte{0x01}})
	select {
	case <-sw.ReadPackets():
		t.Fatal("packet decoded without a schema")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, Ready, sw.Status().State)

	cancel()
	require.NoError(t, <-done)
}

func TestSwitchWriteRoutesStreamMessages(t *testing.T) {
	defer goleak.VerifyNone(t)
	dev := newFakeDevice()
	ready := make(chan struct{}, 4)
	sw := testSwitch(t, dev, ready, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	waitReady(t, ready)

	// Pre-encoded stream messages in a write batch go out over the stream
	// channel, alongside the RPC updates.
	packet := &p4v1.StreamMessageRequest{
		Update: &p4v1.StreamMessageRequest_Packet{
			Packet: &p4v1.PacketOut{Payload: []byte{0xbe, 0xef}},
		},
	}
	require.NoError(t, sw.Write(ctx, packet, entity.Insert(&entity.TableEntry{
		Table:  "ipv4_lpm",
		Match:  entity.Match{"dstAddr": entity.Prefix(0x0a000000, 24)},
		Action: entity.NewAction("drop", nil),
	})))
	require.Len(t, dev.sentPackets(), 1)
	assert.Equal(t, []byte{0xbe, 0xef}, dev.sentPackets()[0].GetPayload())

	got, err := sw.Read(ctx, &entity.TableEntry{})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	cancel()
	require.NoError(t, <-done)
}

func TestNewSwitchValidation(t *testing.T) {
	_, err := NewSwitch("", "target", SwitchOptions{DeviceID: 1})
	assert.ErrorContains(t, err, "name must not be empty")

	_, err = NewSwitch("sw", "", SwitchOptions{DeviceID: 1})
	assert.ErrorContains(t, err, "target must not be empty")

	_, err = NewSwitch("sw", "target", SwitchOptions{})
	assert.ErrorContains(t, err, "device id must not be zero")
}

func TestSwitchRunTwice(t *testing.T) {
	defer goleak.VerifyNone(t)
	dev := newFakeDevice()
	ready := make(chan struct{}, 4)
	sw := testSwitch(t, dev, ready, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	waitReady(t, ready)

	assert.ErrorIs(t, sw.Run(ctx), ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-done)
}
