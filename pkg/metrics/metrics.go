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

// Package metrics defines minimal interfaces for counter and gauge metrics.
// Components accept these interfaces instead of concrete implementations, so
// instrumentation stays optional and injectable.
package metrics

// Gauge represents a single numerical value that can go up and down.
type Gauge interface {
	// With returns a gauge with the label values applied.
	With(labelValues ...string) Gauge
	// Set sets the gauge value.
	Set(value float64)
	// Add increments the gauge value by delta.
	Add(delta float64)
}

// Counter represents a monotonically increasing value.
type Counter interface {
	// With returns a counter with the label values applied.
	With(labelValues ...string) Counter
	// Add increments the counter by delta. The delta must be non-negative.
	Add(delta float64)
}

// GaugeSet sets the value on the gauge. If the gauge is nil, it is a no-op.
func GaugeSet(g Gauge, value float64) {
	if g != nil {
		g.Set(value)
	}
}

// CounterInc increments the counter by one. If the counter is nil, it is a
// no-op.
func CounterInc(c Counter) {
	CounterAdd(c, 1)
}

// CounterAdd increments the counter by delta. If the counter is nil, it is a
// no-op.
func CounterAdd(c Counter, delta float64) {
	if c != nil {
		c.Add(delta)
	}
}
