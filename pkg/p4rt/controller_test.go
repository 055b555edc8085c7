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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func namedTestSwitch(t *testing.T, name string, dev *fakeDevice,
	ready chan struct{}, tweak func(*SwitchOptions)) *Switch {

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
	sw, err := NewSwitch(name, "fake:"+name, opts)
	require.NoError(t, err)
	return sw
}

func TestControllerDuplicateNames(t *testing.T) {
	dev := newFakeDevice()
	a := namedTestSwitch(t, "leaf1", dev, nil, nil)
	b := namedTestSwitch(t, "leaf1", dev, nil, nil)
	_, err := NewController(ControllerOptions{}, a, b)
	require.Error(t, err)
	assert.ErrorContains(t, err, "duplicate switch name")
}

func TestControllerRunsAllSwitches(t *testing.T) {
	defer goleak.VerifyNone(t)
	devA, devB := newFakeDevice(), newFakeDevice()
	ready := make(chan struct{}, 8)
	a := namedTestSwitch(t, "leaf1", devA, ready, nil)
	b := namedTestSwitch(t, "leaf2", devB, ready, nil)

	ctrl, err := NewController(ControllerOptions{}, a, b)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	waitReady(t, ready)
	waitReady(t, ready)

	assert.Equal(t, Ready, a.Status().State)
	assert.Equal(t, Ready, b.Status().State)

	sw, ok := ctrl.Switch("leaf2")
	require.True(t, ok)
	assert.Same(t, b, sw)

	// Both switches show up in the aggregated event stream.
	names := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for len(names) < 2 {
		select {
		case ev := <-ctrl.Events():
			names[ev.Switch] = true
		case <-deadline:
			t.Fatal("timed out waiting for aggregated events")
		}
	}

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, Shutdown, a.Status().State)
	assert.Equal(t, Shutdown, b.Status().State)
}

func TestControllerIsolatesFailures(t *testing.T) {
	defer goleak.VerifyNone(t)
	broken, healthy := newFakeDevice(), newFakeDevice()
	broken.failDials = 1 << 30
	ready := make(chan struct{}, 8)
	a := namedTestSwitch(t, "leaf1", broken, nil, func(o *SwitchOptions) {
		o.MaxConnectAttempts = 2
	})
	b := namedTestSwitch(t, "leaf2", healthy, ready, nil)

	ctrl, err := NewController(ControllerOptions{}, a, b)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	waitReady(t, ready)

	// leaf1 gave up; leaf2 is unaffected.
	assert.Eventually(t, func() bool {
		return a.Status().State == Shutdown
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, Ready, b.Status().State)

	cancel()
	require.NoError(t, <-done)
}

func TestControllerFailFast(t *testing.T) {
	defer goleak.VerifyNone(t)
	broken, healthy := newFakeDevice(), newFakeDevice()
	broken.failDials = 1 << 30
	a := namedTestSwitch(t, "leaf1", broken, nil, func(o *SwitchOptions) {
		o.MaxConnectAttempts = 2
	})
	b := namedTestSwitch(t, "leaf2", healthy, nil, nil)

	ctrl, err := NewController(ControllerOptions{FailFast: true}, a, b)
	require.NoError(t, err)

	err = ctrl.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "dialing")
	assert.Equal(t, Shutdown, b.Status().State)
}

func TestControllerReturnsWhenAllSwitchesStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	devA, devB := newFakeDevice(), newFakeDevice()
	devA.failDials = 1 << 30
	devB.failDials = 1 << 30
	a := namedTestSwitch(t, "leaf1", devA, nil, func(o *SwitchOptions) {
		o.MaxConnectAttempts = 2
	})
	b := namedTestSwitch(t, "leaf2", devB, nil, func(o *SwitchOptions) {
		o.MaxConnectAttempts = 2
	})

	ctrl, err := NewController(ControllerOptions{}, a, b)
	require.NoError(t, err)

	// Nothing cancels the context here. Run must still return once every
	// lifecycle reached shutdown.
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not return after all switches stopped")
	}
	assert.Equal(t, Shutdown, a.Status().State)
	assert.Equal(t, Shutdown, b.Status().State)
}

func TestControllerRunTwice(t *testing.T) {
	defer goleak.VerifyNone(t)
	dev := newFakeDevice()
	ready := make(chan struct{}, 4)
	a := namedTestSwitch(t, "leaf1", dev, ready, nil)
	ctrl, err := NewController(ControllerOptions{}, a)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	waitReady(t, ready)

	assert.ErrorIs(t, ctrl.Run(ctx), ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-done)
}
