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
	"math/rand"
	"time"
)

// BackoffConfig bounds the reconnect delay between connection attempts.
type BackoffConfig struct {
	// Min is the delay after the first failure. Defaults to 100ms.
	Min time.Duration
	// Max caps the delay regardless of how many attempts failed.
	// Defaults to 30s.
	Max time.Duration
	// Stability is the time a connection must stay up for the next
	// failure to start over at Min. Defaults to 1m.
	Stability time.Duration
}

func (c *BackoffConfig) initDefaults() {
	if c.Min <= 0 {
		c.Min = 100 * time.Millisecond
	}
	if c.Max <= 0 {
		c.Max = 30 * time.Second
	}
	if c.Stability <= 0 {
		c.Stability = time.Minute
	}
}

// backoff produces exponentially growing, jittered delays. Not safe for
// concurrent use; owned by the lifecycle loop.
type backoff struct {
	cfg  BackoffConfig
	cur  time.Duration
	rand func() float64
}

func newBackoff(cfg BackoffConfig) *backoff {
	cfg.initDefaults()
	return &backoff{cfg: cfg, rand: rand.Float64}
}

// Next returns the delay to wait before the next attempt and advances the
// window.
func (b *backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.cfg.Min
	}
	// Jitter in [0.5, 1.0) of the current window keeps reconnecting
	// clients from synchronizing.
	d := time.Duration((0.5 + b.rand()/2) * float64(b.cur))
	b.cur *= 2
	if b.cur > b.cfg.Max {
		b.cur = b.cfg.Max
	}
	if d > b.cfg.Max {
		d = b.cfg.Max
	}
	return d
}

// Reset starts the window over at the minimum.
func (b *backoff) Reset() {
	b.cur = 0
}

// Observe resets the window if the connection was up long enough to count
// as stable.
func (b *backoff) Observe(up time.Duration) {
	if up >= b.cfg.Stability {
		b.Reset()
	}
}
