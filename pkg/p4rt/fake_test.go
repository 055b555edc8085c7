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
	"io"
	"sync"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// fakeDevice is an in-process P4Runtime server half. It doubles as the
// Dialer handed to a switch under test and as the gRPC client the dialer
// produces, so no network or real gRPC machinery is involved.
type fakeDevice struct {
	mu sync.Mutex

	// knobs
	failDials          int  // fail the first N dial attempts
	backup             bool // arbitrate the client as backup
	primaryID          *p4v1.Uint128
	unimplementedReads bool

	dialCount int
	entries   []*p4v1.Entity
	pipeline  *p4v1.ForwardingPipelineConfig
	packets   []*p4v1.PacketOut
	acks      []*p4v1.DigestListAck
	streams   []*fakeStream
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{}
}

func okStatus() *rpcstatus.Status {
	return &rpcstatus.Status{Code: int32(codes.OK)}
}

// Dial implements the Dialer interface.
func (d *fakeDevice) Dial(ctx context.Context, target string) (ClientConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialCount++
	if d.dialCount <= d.failDials {
		return nil, status.Error(codes.Unavailable, "connection refused")
	}
	return fakeConn{dev: d}, nil
}

func (d *fakeDevice) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialCount
}

// breakStreams terminates all open streams, simulating a transport drop.
func (d *fakeDevice) breakStreams() {
	d.mu.Lock()
	streams := d.streams
	d.streams = nil
	d.mu.Unlock()
	for _, s := range streams {
		s.terminate()
	}
}

// push delivers a message to every open stream.
func (d *fakeDevice) push(msg *p4v1.StreamMessageResponse) {
	d.mu.Lock()
	streams := append([]*fakeStream(nil), d.streams...)
	d.mu.Unlock()
	for _, s := range streams {
		s.deliver(msg)
	}
}

func (d *fakeDevice) pushPacket(packet *p4v1.PacketIn) {
	d.push(&p4v1.StreamMessageResponse{
		Update: &p4v1.StreamMessageResponse_Packet{Packet: packet},
	})
}

func (d *fakeDevice) pushDigest(list *p4v1.DigestList) {
	d.push(&p4v1.StreamMessageResponse{
		Update: &p4v1.StreamMessageResponse_Digest{Digest: list},
	})
}

func (d *fakeDevice) sentPackets() []*p4v1.PacketOut {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*p4v1.PacketOut(nil), d.packets...)
}

func (d *fakeDevice) digestAcks() []*p4v1.DigestListAck {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*p4v1.DigestListAck(nil), d.acks...)
}

type fakeConn struct {
	dev *fakeDevice
}

func (c fakeConn) Client() p4v1.P4RuntimeClient { return c.dev }
func (c fakeConn) Close() error                 { return nil }

// Write applies updates to the in-memory entity store.
func (d *fakeDevice) Write(ctx context.Context, req *p4v1.WriteRequest,
	_ ...grpc.CallOption) (*p4v1.WriteResponse, error) {

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, update := range req.GetUpdates() {
		switch update.GetType() {
		case p4v1.Update_INSERT:
			d.entries = append(d.entries, update.GetEntity())
		case p4v1.Update_MODIFY:
			for i, e := range d.entries {
				if sameKey(e, update.GetEntity()) {
					d.entries[i] = update.GetEntity()
				}
			}
		case p4v1.Update_DELETE:
			kept := d.entries[:0]
			for _, e := range d.entries {
				if !sameKey(e, update.GetEntity()) {
					kept = append(kept, e)
				}
			}
			d.entries = kept
		default:
			return nil, status.Error(codes.InvalidArgument, "unspecified update type")
		}
	}
	return &p4v1.WriteResponse{}, nil
}

// sameKey compares entities ignoring non-key parts; good enough for the
// scenarios exercised here.
func sameKey(a, b *p4v1.Entity) bool {
	ta, tb := a.GetTableEntry(), b.GetTableEntry()
	if ta != nil && tb != nil {
		return ta.GetTableId() == tb.GetTableId() &&
			len(ta.GetMatch()) == len(tb.GetMatch()) &&
			proto.Equal(&p4v1.TableEntry{TableId: ta.GetTableId(), Match: ta.GetMatch()},
				&p4v1.TableEntry{TableId: tb.GetTableId(), Match: tb.GetMatch()})
	}
	return proto.Equal(a, b)
}

// matchesTemplate selects stored entities for a read template.
func matchesTemplate(template, stored *p4v1.Entity) bool {
	switch template.GetEntity().(type) {
	case *p4v1.Entity_TableEntry:
		return stored.GetTableEntry() != nil
	case *p4v1.Entity_PacketReplicationEngineEntry:
		return stored.GetPacketReplicationEngineEntry() != nil
	default:
		return false
	}
}

func (d *fakeDevice) Read(ctx context.Context, req *p4v1.ReadRequest,
	_ ...grpc.CallOption) (p4v1.P4Runtime_ReadClient, error) {

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unimplementedReads {
		return nil, status.Error(codes.Unimplemented, "read not supported")
	}
	resp := &p4v1.ReadResponse{}
	for _, template := range req.GetEntities() {
		for _, stored := range d.entries {
			if matchesTemplate(template, stored) {
				resp.Entities = append(resp.Entities, stored)
			}
		}
	}
	return &fakeReadClient{resps: []*p4v1.ReadResponse{resp}}, nil
}

type fakeReadClient struct {
	grpc.ClientStream
	resps []*p4v1.ReadResponse
}

func (c *fakeReadClient) Recv() (*p4v1.ReadResponse, error) {
	if len(c.resps) == 0 {
		return nil, io.EOF
	}
	resp := c.resps[0]
	c.resps = c.resps[1:]
	return resp, nil
}

func (d *fakeDevice) SetForwardingPipelineConfig(ctx context.Context,
	req *p4v1.SetForwardingPipelineConfigRequest,
	_ ...grpc.CallOption) (*p4v1.SetForwardingPipelineConfigResponse, error) {

	d.mu.Lock()
	defer d.mu.Unlock()
	d.pipeline = req.GetConfig()
	return &p4v1.SetForwardingPipelineConfigResponse{}, nil
}

func (d *fakeDevice) GetForwardingPipelineConfig(ctx context.Context,
	req *p4v1.GetForwardingPipelineConfigRequest,
	_ ...grpc.CallOption) (*p4v1.GetForwardingPipelineConfigResponse, error) {

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pipeline == nil {
		return &p4v1.GetForwardingPipelineConfigResponse{}, nil
	}
	if req.GetResponseType() == p4v1.GetForwardingPipelineConfigRequest_COOKIE_ONLY {
		return &p4v1.GetForwardingPipelineConfigResponse{
			Config: &p4v1.ForwardingPipelineConfig{Cookie: d.pipeline.GetCookie()},
		}, nil
	}
	return &p4v1.GetForwardingPipelineConfigResponse{Config: d.pipeline}, nil
}

func (d *fakeDevice) Capabilities(ctx context.Context, req *p4v1.CapabilitiesRequest,
	_ ...grpc.CallOption) (*p4v1.CapabilitiesResponse, error) {

	return &p4v1.CapabilitiesResponse{P4RuntimeApiVersion: "1.4.1"}, nil
}

func (d *fakeDevice) StreamChannel(ctx context.Context,
	_ ...grpc.CallOption) (p4v1.P4Runtime_StreamChannelClient, error) {

	s := &fakeStream{
		dev:  d,
		ctx:  ctx,
		recv: make(chan *p4v1.StreamMessageResponse, 64),
		dead: make(chan struct{}),
	}
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

type fakeStream struct {
	grpc.ClientStream
	dev  *fakeDevice
	ctx  context.Context
	recv chan *p4v1.StreamMessageResponse

	once sync.Once
	dead chan struct{}
}

func (s *fakeStream) terminate() {
	s.once.Do(func() { close(s.dead) })
}

func (s *fakeStream) deliver(msg *p4v1.StreamMessageResponse) {
	select {
	case s.recv <- msg:
	case <-s.dead:
	case <-s.ctx.Done():
	}
}

func (s *fakeStream) Send(msg *p4v1.StreamMessageRequest) error {
	switch u := msg.GetUpdate().(type) {
	case *p4v1.StreamMessageRequest_Arbitration:
		s.dev.mu.Lock()
		code := int32(codes.OK)
		if s.dev.backup {
			code = int32(codes.AlreadyExists)
		}
		primaryID := s.dev.primaryID
		if primaryID == nil {
			primaryID = u.Arbitration.GetElectionId()
		}
		s.dev.mu.Unlock()
		s.deliver(&p4v1.StreamMessageResponse{
			Update: &p4v1.StreamMessageResponse_Arbitration{
				Arbitration: &p4v1.MasterArbitrationUpdate{
					DeviceId:   u.Arbitration.GetDeviceId(),
					ElectionId: primaryID,
					Status:     &rpcstatus.Status{Code: code},
				},
			},
		})
	case *p4v1.StreamMessageRequest_Packet:
		s.dev.mu.Lock()
		s.dev.packets = append(s.dev.packets, u.Packet)
		s.dev.mu.Unlock()
	case *p4v1.StreamMessageRequest_DigestAck:
		s.dev.mu.Lock()
		s.dev.acks = append(s.dev.acks, u.DigestAck)
		s.dev.mu.Unlock()
	}
	return nil
}

func (s *fakeStream) Recv() (*p4v1.StreamMessageResponse, error) {
	select {
	case msg := <-s.recv:
		return msg, nil
	case <-s.dead:
		return nil, status.Error(codes.Unavailable, "transport dropped")
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}
