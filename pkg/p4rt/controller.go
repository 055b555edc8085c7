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

	"golang.org/x/sync/errgroup"

	"github.com/p4rt-go/p4rt/pkg/log"
	"github.com/p4rt-go/p4rt/pkg/private/serrors"
)

// ControllerOptions configures a controller.
type ControllerOptions struct {
	// FailFast stops all switches when any one of them fails fatally.
	// By default per-switch failures are isolated.
	FailFast bool
}

// Controller runs a fleet of switches concurrently and aggregates their
// lifecycle events.
type Controller struct {
	opts     ControllerOptions
	switches map[string]*Switch
	order    []*Switch
	events   chan Event

	running chan struct{}
}

// NewController builds a controller over the given switches. Switch names
// must be unique; duplicates are rejected here, before any connection
// attempt.
func NewController(opts ControllerOptions, switches ...*Switch) (*Controller, error) {
	c := &Controller{
		opts:     opts,
		switches: make(map[string]*Switch, len(switches)),
		order:    switches,
		events:   make(chan Event, streamBuffer*max(1, len(switches))),
		running:  make(chan struct{}, 1),
	}
	for _, sw := range switches {
		if _, dup := c.switches[sw.Name()]; dup {
			return nil, serrors.New("duplicate switch name", "switch", sw.Name())
		}
		c.switches[sw.Name()] = sw
	}
	return c, nil
}

// Switch returns the switch with the given name.
func (c *Controller) Switch(name string) (*Switch, bool) {
	sw, ok := c.switches[name]
	return sw, ok
}

// Switches returns the switches in construction order.
func (c *Controller) Switches() []*Switch { return c.order }

// Events returns the aggregated lifecycle events of all switches.
func (c *Controller) Events() <-chan Event { return c.events }

// Run drives every switch lifecycle until the context is cancelled or, with
// FailFast, until the first switch fails. It returns once all lifecycles
// reached shutdown.
func (c *Controller) Run(ctx context.Context) error {
	select {
	case c.running <- struct{}{}:
		defer func() { <-c.running }()
	default:
		return ErrAlreadyRunning
	}

	logger := log.FromCtx(ctx)
	g, ctx := errgroup.WithContext(ctx)
	for _, sw := range c.order {
		// Closed when this switch's lifecycle returns, so the event
		// forwarder does not keep the group alive after shutdown.
		stopped := make(chan struct{})
		g.Go(func() error {
			defer log.HandlePanic()
			c.forwardEvents(ctx, sw, stopped)
			return nil
		})
		g.Go(func() error {
			defer log.HandlePanic()
			defer close(stopped)
			err := sw.Run(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Error("Switch failed", "switch", sw.Name(), "err", err)
				if c.opts.FailFast {
					return serrors.Join(err, nil, "switch", sw.Name())
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Controller) forwardEvents(ctx context.Context, sw *Switch, stopped <-chan struct{}) {
	forward := func(ev Event) {
		select {
		case c.events <- ev:
		default:
		}
	}
	for {
		select {
		case ev := <-sw.Events():
			forward(ev)
		case <-ctx.Done():
			return
		case <-stopped:
			// Drain what the lifecycle raised before it returned.
			for {
				select {
				case ev := <-sw.Events():
					forward(ev)
				default:
					return
				}
			}
		}
	}
}
