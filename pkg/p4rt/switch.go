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

// Package p4rt implements a P4Runtime control-plane client. A Switch owns
// one device connection and drives its lifecycle: dial, mastership
// arbitration, pipeline synchronization, reconnect with backoff. A
// Controller runs a fleet of switches concurrently.
package p4rt

import (
	"context"
	"hash/fnv"
	"os"
	"sync"
	"time"

	p4configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	libgrpc "github.com/p4rt-go/p4rt/pkg/grpc"
	"github.com/p4rt-go/p4rt/pkg/log"
	"github.com/p4rt-go/p4rt/pkg/metrics"
	"github.com/p4rt-go/p4rt/pkg/p4rt/entity"
	"github.com/p4rt-go/p4rt/pkg/p4rt/p4info"
	"github.com/p4rt-go/p4rt/pkg/private/serrors"
)

// ErrAlreadyRunning is returned when Run is called on a running switch.
var ErrAlreadyRunning = serrors.New("already running")

// ClientConn is an established connection to a P4Runtime server.
type ClientConn interface {
	Client() p4v1.P4RuntimeClient
	Close() error
}

// Dialer opens P4Runtime connections. Implementations other than the
// default gRPC dialer are used to connect switches to in-process fakes.
type Dialer interface {
	Dial(ctx context.Context, target string) (ClientConn, error)
}

type grpcDialer struct {
	dialer libgrpc.Dialer
}

type grpcClientConn struct {
	conn interface{ Close() error }
	c    p4v1.P4RuntimeClient
}

func (c grpcClientConn) Client() p4v1.P4RuntimeClient { return c.c }
func (c grpcClientConn) Close() error                 { return c.conn.Close() }

func (d grpcDialer) Dial(ctx context.Context, target string) (ClientConn, error) {
	conn, err := d.dialer.Dial(ctx, target)
	if err != nil {
		return nil, err
	}
	return grpcClientConn{conn: conn, c: p4v1.NewP4RuntimeClient(conn)}, nil
}

// NewGRPCDialer adapts a gRPC dialer to the P4Runtime connection interface.
func NewGRPCDialer(dialer libgrpc.Dialer) Dialer {
	return grpcDialer{dialer: dialer}
}

// SwitchMetrics are the optional instrumentation hooks of one switch.
type SwitchMetrics struct {
	// Connects counts successful connections.
	Connects metrics.Counter
	// Failures counts failed connection attempts and broken sessions.
	Failures metrics.Counter
	// Up is 1 while the channel is ready.
	Up metrics.Gauge
}

// SwitchOptions configures a switch.
type SwitchOptions struct {
	// DeviceID is the P4Runtime device id. Required.
	DeviceID uint64
	// P4Info is the pipeline schema. Alternatively P4InfoPath names a
	// prototext file to load. Without a schema the switch can connect and
	// arbitrate, but cannot encode or decode entities.
	P4Info     *p4configv1.P4Info
	P4InfoPath string
	// DeviceConfig is the target-specific pipeline blob. Alternatively
	// DeviceConfigPath names a file to load. The pipeline is pushed on
	// connect only when a schema is configured.
	DeviceConfig     []byte
	DeviceConfigPath string
	// SkipPipelinePush connects and arbitrates without touching the
	// device's pipeline.
	SkipPipelinePush bool
	// Role is the P4Runtime role name; empty means the default full
	// pipeline role.
	Role       string
	RoleConfig *anypb.Any
	// ElectionID is the proposed election id. Defaults to 1.
	ElectionID ElectionID
	// ReadyHandler runs in its own goroutine after every successful
	// (re)connection, once arbitration and pipeline push completed. Its
	// context is cancelled when the session ends. Panics are contained.
	ReadyHandler func(ctx context.Context, sw *Switch)
	// Dialer opens the connection. Defaults to a plaintext gRPC dialer.
	Dialer Dialer
	// Per-step timeouts, each defaulting to 10s.
	DialTimeout        time.Duration
	ArbitrationTimeout time.Duration
	PipelineTimeout    time.Duration

	// MaxConnectAttempts makes Run fail after this many consecutive
	// failed attempts without an intervening ready period. Zero means
	// retry forever.
	MaxConnectAttempts int

	Backoff BackoffConfig
	Metrics SwitchMetrics
}

func (o *SwitchOptions) initDefaults() {
	if o.ElectionID.IsZero() {
		o.ElectionID = ElectionID{Low: 1}
	}
	if o.Dialer == nil {
		o.Dialer = NewGRPCDialer(libgrpc.SimpleDialer{})
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.ArbitrationTimeout <= 0 {
		o.ArbitrationTimeout = 10 * time.Second
	}
	if o.PipelineTimeout <= 0 {
		o.PipelineTimeout = 10 * time.Second
	}
}

// Status is a point-in-time snapshot of a switch's lifecycle.
type Status struct {
	State             ChannelState
	Primary           bool
	ElectionID        ElectionID
	PrimaryElectionID ElectionID
}

// Switch is a P4Runtime client for a single device. Create it with
// NewSwitch, then drive it with Run; operations are available while the
// channel is ready.
type Switch struct {
	name   string
	target string
	opts   SwitchOptions
	schema *p4info.Schema

	events  chan Event
	packets chan *entity.PacketIn
	digests chan *entity.DigestList
	idle    chan *entity.IdleNotification

	mu                sync.Mutex
	running           bool
	state             ChannelState
	primary           bool
	primaryElectionID ElectionID
	client            p4v1.P4RuntimeClient
	mux               *streamMux
}

// NewSwitch validates the configuration and loads the schema and device
// config. No connection is attempted until Run.
func NewSwitch(name, target string, opts SwitchOptions) (*Switch, error) {
	if name == "" {
		return nil, serrors.New("switch name must not be empty")
	}
	if target == "" {
		return nil, serrors.New("switch target must not be empty", "switch", name)
	}
	if opts.DeviceID == 0 {
		return nil, serrors.New("device id must not be zero", "switch", name)
	}
	opts.initDefaults()
	sw := &Switch{
		name:    name,
		target:  target,
		opts:    opts,
		events:  make(chan Event, streamBuffer),
		packets: make(chan *entity.PacketIn, streamBuffer),
		digests: make(chan *entity.DigestList, streamBuffer),
		idle:    make(chan *entity.IdleNotification, streamBuffer),
	}
	switch {
	case opts.P4Info != nil:
		schema, err := p4info.New(opts.P4Info)
		if err != nil {
			return nil, serrors.Wrap("indexing p4info", err, "switch", name)
		}
		sw.schema = schema
	case opts.P4InfoPath != "":
		schema, err := p4info.Load(opts.P4InfoPath)
		if err != nil {
			return nil, serrors.Wrap("loading p4info", err, "switch", name)
		}
		sw.schema = schema
	}
	if opts.DeviceConfig == nil && opts.DeviceConfigPath != "" {
		blob, err := os.ReadFile(opts.DeviceConfigPath)
		if err != nil {
			return nil, serrors.Wrap("reading device config", err, "switch", name)
		}
		sw.opts.DeviceConfig = blob
	}
	return sw, nil
}

// Name returns the switch name.
func (s *Switch) Name() string { return s.name }

// Target returns the connection target.
func (s *Switch) Target() string { return s.target }

// Schema returns the pipeline schema, or nil if none was configured.
func (s *Switch) Schema() *p4info.Schema { return s.schema }

// Status snapshots the lifecycle state.
func (s *Switch) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:             s.state,
		Primary:           s.primary,
		ElectionID:        s.opts.ElectionID,
		PrimaryElectionID: s.primaryElectionID,
	}
}

// Events returns lifecycle and mastership notifications. The channel is
// buffered; events are dropped when no one consumes them.
func (s *Switch) Events() <-chan Event { return s.events }

// Run drives the connection lifecycle until the context is cancelled.
// Failures reconnect with backoff; Run only returns on cancellation or if
// the switch is already running.
func (s *Switch) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	ctx, logger := log.WithLabels(ctx, "switch", s.name)
	defer s.setState(ctx, Shutdown, nil)

	bo := newBackoff(s.opts.Backoff)
	failures := 0
	for {
		up, err := s.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		bo.Observe(up)
		if up > 0 {
			failures = 0
		}
		failures++
		metrics.CounterInc(s.opts.Metrics.Failures)
		s.setState(ctx, TransientFailure, err)
		if limit := s.opts.MaxConnectAttempts; limit > 0 && failures >= limit {
			return serrors.Join(err, nil, "attempts", failures)
		}
		delay := bo.Next()
		logger.Debug("Session ended, reconnecting", "err", err, "delay", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// runSession performs one connection attempt and, if it reaches ready,
// monitors the session until it breaks. It returns the time spent ready.
func (s *Switch) runSession(ctx context.Context) (time.Duration, error) {
	s.setState(ctx, Connecting, nil)

	dialCtx, cancelDial := context.WithTimeout(ctx, s.opts.DialTimeout)
	conn, err := s.opts.Dialer.Dial(dialCtx, s.target)
	cancelDial()
	if err != nil {
		return 0, serrors.Wrap("dialing", err, "target", s.target)
	}
	defer conn.Close()

	sessionCtx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()

	client := conn.Client()
	stream, err := client.StreamChannel(sessionCtx)
	if err != nil {
		return 0, serrors.Wrap("opening stream channel", err)
	}
	mux := newStreamMux(stream)
	go mux.run(sessionCtx)

	if err := s.arbitrate(sessionCtx, mux); err != nil {
		return 0, err
	}
	if err := s.pushPipeline(sessionCtx, client); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.client = client
	s.mux = mux
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.client = nil
		s.mux = nil
		s.mu.Unlock()
	}()

	s.setState(ctx, Ready, nil)
	metrics.CounterInc(s.opts.Metrics.Connects)
	readyAt := time.Now()

	if handler := s.opts.ReadyHandler; handler != nil {
		go func() {
			defer log.HandlePanic()
			handler(sessionCtx, s)
		}()
	}

	err = s.monitor(sessionCtx, mux)
	return time.Since(readyAt), err
}

// arbitrate sends the mastership request and waits for the first reply.
func (s *Switch) arbitrate(ctx context.Context, mux *streamMux) error {
	arb := &p4v1.MasterArbitrationUpdate{
		DeviceId:   s.opts.DeviceID,
		ElectionId: s.opts.ElectionID.proto(),
	}
	if s.opts.Role != "" {
		arb.Role = &p4v1.Role{Name: s.opts.Role, Config: s.opts.RoleConfig}
	}
	err := mux.Send(&p4v1.StreamMessageRequest{
		Update: &p4v1.StreamMessageRequest_Arbitration{Arbitration: arb},
	})
	if err != nil {
		return err
	}
	timer := time.NewTimer(s.opts.ArbitrationTimeout)
	defer timer.Stop()
	select {
	case update := <-mux.arbitration:
		return s.recordArbitration(ctx, update)
	case <-mux.Done():
		return serrors.Wrap("stream closed during arbitration", mux.Err())
	case <-timer.C:
		return serrors.New("arbitration timeout", "timeout", s.opts.ArbitrationTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recordArbitration applies a mastership update. OK means this client is
// primary, ALREADY_EXISTS backup; everything else is a rejection that ends
// the session. The reported primary election id never regresses.
func (s *Switch) recordArbitration(ctx context.Context, update *p4v1.MasterArbitrationUpdate) error {
	code := codes.Code(update.GetStatus().GetCode())
	switch code {
	case codes.OK, codes.AlreadyExists:
	default:
		return serrors.New("arbitration rejected",
			"code", code, "detail", update.GetStatus().GetMessage())
	}
	primary := code == codes.OK
	observed := electionIDFromProto(update.GetElectionId())

	s.mu.Lock()
	if observed.Less(s.primaryElectionID) {
		observed = s.primaryElectionID
	}
	changed := primary != s.primary || observed != s.primaryElectionID
	s.primary = primary
	s.primaryElectionID = observed
	s.mu.Unlock()

	if changed {
		log.FromCtx(ctx).Info("Mastership changed",
			"primary", primary, "primary_election_id", observed)
		s.raise(Event{
			Kind:              EventMastershipChange,
			Primary:           primary,
			PrimaryElectionID: observed,
		})
	}
	return nil
}

// pushPipeline installs the forwarding pipeline and verifies the cookie the
// device acknowledges.
func (s *Switch) pushPipeline(ctx context.Context, client p4v1.P4RuntimeClient) error {
	if s.schema == nil || s.opts.SkipPipelinePush {
		return nil
	}
	cookie, err := s.pipelineCookie()
	if err != nil {
		return err
	}
	pushCtx, cancel := context.WithTimeout(ctx, s.opts.PipelineTimeout)
	defer cancel()

	_, err = client.SetForwardingPipelineConfig(pushCtx, &p4v1.SetForwardingPipelineConfigRequest{
		DeviceId:   s.opts.DeviceID,
		Role:       s.opts.Role,
		ElectionId: s.opts.ElectionID.proto(),
		Action:     p4v1.SetForwardingPipelineConfigRequest_VERIFY_AND_COMMIT,
		Config: &p4v1.ForwardingPipelineConfig{
			P4Info:         s.schema.P4Info(),
			P4DeviceConfig: s.opts.DeviceConfig,
			Cookie:         &p4v1.ForwardingPipelineConfig_Cookie{Cookie: cookie},
		},
	})
	if err != nil {
		return serrors.Wrap("pushing pipeline config", err)
	}

	resp, err := client.GetForwardingPipelineConfig(pushCtx, &p4v1.GetForwardingPipelineConfigRequest{
		DeviceId:     s.opts.DeviceID,
		ResponseType: p4v1.GetForwardingPipelineConfigRequest_COOKIE_ONLY,
	})
	if err != nil {
		return serrors.Wrap("verifying pipeline cookie", err)
	}
	if got := resp.GetConfig().GetCookie().GetCookie(); got != cookie {
		return serrors.New("pipeline cookie mismatch", "want", cookie, "got", got)
	}
	log.FromCtx(ctx).Debug("Pipeline synchronized", "cookie", cookie)
	return nil
}

// pipelineCookie derives a stable identity for the configured pipeline.
func (s *Switch) pipelineCookie() (uint64, error) {
	raw, err := proto.MarshalOptions{Deterministic: true}.Marshal(s.schema.P4Info())
	if err != nil {
		return 0, serrors.Wrap("hashing pipeline config", err)
	}
	h := fnv.New64a()
	h.Write(raw)
	h.Write(s.opts.DeviceConfig)
	return h.Sum64(), nil
}

// monitor watches an established session. Inbound packets, digests and idle
// notifications are decoded and forwarded to the switch-level consumer
// channels, which stay valid across reconnects.
func (s *Switch) monitor(ctx context.Context, mux *streamMux) error {
	logger := log.FromCtx(ctx)
	go s.forwardPackets(ctx, mux)
	go s.forwardDigests(ctx, mux)
	go s.forwardIdle(ctx, mux)
	for {
		select {
		case update := <-mux.arbitration:
			if err := s.recordArbitration(ctx, update); err != nil {
				return err
			}
		case streamErr := <-mux.errors:
			logger.Info("Device reported stream error",
				"canonical_code", streamErr.GetCanonicalCode(),
				"detail", streamErr.GetMessage())
		case <-mux.Done():
			return serrors.Wrap("stream terminated", mux.Err())
		case <-ctx.Done():
			return nil
		}
	}
}

// offer hands a decoded message to a consumer channel without ever blocking
// the session. Consumers that do not poll lose messages past the buffer;
// they must not be able to stall the other kinds.
func offer[T any](ctx context.Context, ch chan T, msg T, kind string) {
	select {
	case ch <- msg:
	default:
		log.FromCtx(ctx).Debug("Dropping stream message, consumer not keeping up",
			"kind", kind)
	}
}

func (s *Switch) forwardPackets(ctx context.Context, mux *streamMux) {
	defer log.HandlePanic()
	for {
		select {
		case msg := <-mux.packets:
			packet, err := entity.DecodePacketIn(msg, s.schema)
			if err != nil {
				log.FromCtx(ctx).Info("Dropping undecodable packet-in", "err", err)
				continue
			}
			offer(ctx, s.packets, packet, "packet")
		case <-ctx.Done():
			return
		}
	}
}

func (s *Switch) forwardDigests(ctx context.Context, mux *streamMux) {
	defer log.HandlePanic()
	for {
		select {
		case msg := <-mux.digests:
			list, err := entity.DecodeDigestList(msg, s.schema)
			if err != nil {
				log.FromCtx(ctx).Info("Dropping undecodable digest list", "err", err)
				continue
			}
			offer(ctx, s.digests, list, "digest")
		case <-ctx.Done():
			return
		}
	}
}

func (s *Switch) forwardIdle(ctx context.Context, mux *streamMux) {
	defer log.HandlePanic()
	for {
		select {
		case msg := <-mux.idle:
			notification, err := entity.DecodeIdleNotification(msg, s.schema)
			if err != nil {
				log.FromCtx(ctx).Info("Dropping undecodable idle notification", "err", err)
				continue
			}
			offer(ctx, s.idle, notification, "idle")
		case <-ctx.Done():
			return
		}
	}
}

func (s *Switch) setState(ctx context.Context, next ChannelState, cause error) {
	s.mu.Lock()
	if s.state == next || s.state == Shutdown {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = next
	s.mu.Unlock()

	var up float64
	if next == Ready {
		up = 1
	}
	metrics.GaugeSet(s.opts.Metrics.Up, up)
	log.FromCtx(ctx).Debug("Channel state changed", "prev", prev, "next", next, "err", cause)
	s.raise(Event{Kind: EventStateChange, State: next, Err: cause})
}

// raise delivers an event without ever blocking the lifecycle.
func (s *Switch) raise(ev Event) {
	ev.Switch = s.name
	ev.Time = time.Now()
	select {
	case s.events <- ev:
	default:
	}
}

// session returns the operational handles of the current ready session.
func (s *Switch) session() (p4v1.P4RuntimeClient, *streamMux, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready || s.client == nil {
		return nil, nil, serrors.New("switch not ready",
			"switch", s.name, "state", s.state)
	}
	return s.client, s.mux, nil
}
