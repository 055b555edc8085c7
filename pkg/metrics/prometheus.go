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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// NewPromGauge wraps a prometheus gauge vector as a gauge.
// Returns nil, if gv is nil.
func NewPromGauge(gv *prometheus.GaugeVec) Gauge {
	if gv == nil {
		return nil
	}
	return &gauge{gv: gv}
}

// NewPromCounter wraps a prometheus counter vector as a counter.
// Returns nil, if cv is nil.
func NewPromCounter(cv *prometheus.CounterVec) Counter {
	if cv == nil {
		return nil
	}
	return &counter{cv: cv}
}

// NewPromCounterFrom creates a wrapped prometheus counter.
func NewPromCounterFrom(opts prometheus.CounterOpts, labelNames []string) Counter {
	cv := prometheus.NewCounterVec(opts, labelNames)
	prometheus.MustRegister(cv)
	return &counter{cv: cv}
}

// NewPromGaugeFrom creates a wrapped prometheus gauge.
func NewPromGaugeFrom(opts prometheus.GaugeOpts, labelNames []string) Gauge {
	gv := prometheus.NewGaugeVec(opts, labelNames)
	prometheus.MustRegister(gv)
	return &gauge{gv: gv}
}

// labelValues pairs label names with values. An odd number of inputs gets an
// "unknown" value appended, matching prometheus' With semantics.
type labelValues []string

func (lvs labelValues) with(labelValues ...string) labelValues {
	if len(labelValues)%2 != 0 {
		labelValues = append(labelValues, "unknown")
	}
	result := make([]string, len(lvs))
	copy(result, lvs)
	return append(result, labelValues...)
}

func makeLabels(labelValues ...string) prometheus.Labels {
	labels := prometheus.Labels{}
	for i := 0; i+1 < len(labelValues); i += 2 {
		labels[labelValues[i]] = labelValues[i+1]
	}
	return labels
}

// gauge implements Gauge, via a prometheus GaugeVec.
type gauge struct {
	gv  *prometheus.GaugeVec
	lvs labelValues
}

func (g *gauge) With(labelValues ...string) Gauge {
	return &gauge{gv: g.gv, lvs: g.lvs.with(labelValues...)}
}

func (g *gauge) Set(value float64) {
	g.gv.With(makeLabels(g.lvs...)).Set(value)
}

func (g *gauge) Add(delta float64) {
	g.gv.With(makeLabels(g.lvs...)).Add(delta)
}

// counter implements Counter, via a prometheus CounterVec.
type counter struct {
	cv  *prometheus.CounterVec
	lvs labelValues
}

func (c *counter) With(labelValues ...string) Counter {
	return &counter{cv: c.cv, lvs: c.lvs.with(labelValues...)}
}

func (c *counter) Add(delta float64) {
	c.cv.With(makeLabels(c.lvs...)).Add(delta)
}
