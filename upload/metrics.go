// Copyright 2020 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package upload

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts upload activity. A nil *Metrics records nothing.
type Metrics struct {
	Attempts *prometheus.CounterVec
	Batches  *prometheus.CounterVec
	Traces   prometheus.Counter
}

// NewMetrics creates the counters and registers them on reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "testcollector",
			Subsystem: "upload",
			Name:      "attempts_total",
			Help:      "Network operations attempted, by operation.",
		}, []string{"op"}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "testcollector",
			Subsystem: "upload",
			Name:      "batches_total",
			Help:      "Batches that finished uploading, by final state.",
		}, []string{"state"}),
		Traces: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "testcollector",
			Subsystem: "upload",
			Name:      "traces_total",
			Help:      "Traces in acknowledged batches.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Attempts, m.Batches, m.Traces)
	}
	return m
}

func (m *Metrics) attempt(op Op) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(string(op)).Inc()
}

func (m *Metrics) finished(state State, traces int) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(state.String()).Inc()
	if state == StateAcknowledged {
		m.Traces.Add(float64(traces))
	}
}
