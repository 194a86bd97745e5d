// Copyright 2025 Patrick J. Scruggs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package slogsd

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "slogsd"

// formatMetrics counts emitted entries and formatting failures. A nil
// *formatMetrics records nothing.
type formatMetrics struct {
	entries  *prometheus.CounterVec
	failures *prometheus.CounterVec
	dropped  prometheus.Counter
}

// newFormatMetrics registers the formatter's collectors with reg. Collectors
// already registered by an earlier handler are shared.
func newFormatMetrics(reg prometheus.Registerer) (*formatMetrics, error) {
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "entries_total",
		Help:      "Log entries written, by Cloud Logging severity.",
	}, []string{"severity"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "format_failures_total",
		Help:      "Records that could not be emitted, by failure kind.",
	}, []string{"kind"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "dropped_fields_total",
		Help:      "Record fields dropped for colliding with reserved entry keys.",
	})

	m := &formatMetrics{}
	var err error
	if m.entries, err = register(reg, entries); err != nil {
		return nil, err
	}
	if m.failures, err = register(reg, failures); err != nil {
		return nil, err
	}
	if m.dropped, err = register(reg, dropped); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("slogsd: register metrics: %w", err)
	}
	return c, nil
}

func (m *formatMetrics) observeEntry(s Severity) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(s.String()).Inc()
}

func (m *formatMetrics) observeFailure(k ErrorKind) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(k.String()).Inc()
}

func (m *formatMetrics) observeDropped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.dropped.Add(float64(n))
}
