// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
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

package retry

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/novatechflow/kafscale/pkg/objectstore"
)

// BackendState models the chain's view of the object store's availability,
// aggregated from recent download attempts.
type BackendState string

const (
	BackendHealthy     BackendState = "healthy"
	BackendDegraded    BackendState = "degraded"
	BackendUnavailable BackendState = "unavailable"
)

// HealthConfig defines the thresholds that move the monitor between
// states.
type HealthConfig struct {
	Window      time.Duration
	LatencyWarn time.Duration
	LatencyCrit time.Duration
	ErrorWarn   float64
	ErrorCrit   float64
	MaxSamples  int
}

// HealthMonitor aggregates recent object-store operations into a backend
// health state, used to widen backoff delays before a node even attempts
// a request against a backend that is already struggling.
//
// It classifies samples by objectstore.Outcome rather than a bare
// success/failure bit: a NotFound is a catalog-vs-bucket mismatch, not
// evidence the backend itself is unwell, so it is tracked for visibility
// but excluded from the error rate that drives state transitions. A
// PermanentError is unambiguous enough that one sample forces
// BackendUnavailable immediately rather than waiting for the window's
// rate to cross a threshold.
type HealthMonitor struct {
	cfg HealthConfig

	mu         sync.Mutex
	samples    []healthSample
	state      BackendState
	stateSince time.Time
	avgLatency time.Duration
	errorRate  float64
	notFound   int
}

type healthSample struct {
	ts      time.Time
	latency time.Duration
	outcome objectstore.Outcome
}

// HealthSnapshot captures the monitor's current aggregates. NotFound
// counts samples excluded from ErrorRate because they reflect a missing
// catalog entry rather than backend distress.
type HealthSnapshot struct {
	State      BackendState
	Since      time.Time
	AvgLatency time.Duration
	ErrorRate  float64
	NotFound   int
}

// NewHealthMonitor builds a monitor with sane defaults for any zero
// fields in cfg.
func NewHealthMonitor(cfg HealthConfig) *HealthMonitor {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.LatencyWarn <= 0 {
		cfg.LatencyWarn = 500 * time.Millisecond
	}
	if cfg.LatencyCrit <= 0 {
		cfg.LatencyCrit = 3 * time.Second
	}
	if cfg.ErrorWarn <= 0 {
		cfg.ErrorWarn = 0.2
	}
	if cfg.ErrorCrit <= 0 {
		cfg.ErrorCrit = 0.6
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 512
	}
	now := time.Now()
	return &HealthMonitor{cfg: cfg, state: BackendHealthy, stateSince: now}
}

// RecordOperation records one download or head attempt's classified
// outcome and latency.
func (m *HealthMonitor) RecordOperation(outcome objectstore.Outcome, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.samples = append(m.samples, healthSample{ts: now, latency: latency, outcome: outcome})
	if len(m.samples) > m.cfg.MaxSamples {
		m.samples = m.samples[len(m.samples)-m.cfg.MaxSamples:]
	}
	m.truncateLocked(now)
	m.recomputeLocked(now)
	if outcome == objectstore.PermanentError {
		m.setStateLocked(now, BackendUnavailable)
	}
}

// Snapshot returns the monitor's current state and aggregates.
func (m *HealthMonitor) Snapshot() HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return HealthSnapshot{State: m.state, Since: m.stateSince, AvgLatency: m.avgLatency, ErrorRate: m.errorRate, NotFound: m.notFound}
}

func (m *HealthMonitor) State() BackendState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *HealthMonitor) truncateLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.Window)
	idx := 0
	for _, s := range m.samples {
		if s.ts.After(cutoff) {
			break
		}
		idx++
	}
	if idx > 0 && idx < len(m.samples) {
		m.samples = append([]healthSample(nil), m.samples[idx:]...)
	} else if idx >= len(m.samples) {
		m.samples = nil
	}
}

// recomputeLocked derives the window's latency and error rate from
// samples other than NotFound: a missing object reflects a bad catalog
// entry, not a struggling backend, and folding it into the error rate
// would make the monitor back off against requests the backend would
// have served correctly had they named a real key.
func (m *HealthMonitor) recomputeLocked(now time.Time) {
	m.notFound = 0
	for _, s := range m.samples {
		if s.outcome == objectstore.NotFound {
			m.notFound++
		}
	}
	measured := len(m.samples) - m.notFound
	if measured <= 0 {
		m.avgLatency = 0
		m.errorRate = 0
		m.setStateLocked(now, BackendHealthy)
		return
	}
	var totalLatency time.Duration
	var errorCount int
	for _, s := range m.samples {
		if s.outcome == objectstore.NotFound {
			continue
		}
		totalLatency += s.latency
		if s.outcome != objectstore.Success {
			errorCount++
		}
	}
	m.avgLatency = totalLatency / time.Duration(measured)
	m.errorRate = float64(errorCount) / float64(measured)

	next := BackendHealthy
	if m.avgLatency >= m.cfg.LatencyCrit || m.errorRate >= m.cfg.ErrorCrit {
		next = BackendUnavailable
	} else if m.avgLatency >= m.cfg.LatencyWarn || m.errorRate >= m.cfg.ErrorWarn {
		next = BackendDegraded
	}
	m.setStateLocked(now, next)
}

func (m *HealthMonitor) setStateLocked(now time.Time, next BackendState) {
	if next == m.state {
		return
	}
	m.state = next
	m.stateSince = now
}

// HealthAwareBackOff wraps a backoff.BackOff, widening the delay it
// returns according to the monitor's current state so a node backs off
// harder against a backend already known to be degraded rather than
// discovering that the hard way on every attempt.
type HealthAwareBackOff struct {
	base    backoff.BackOff
	monitor *HealthMonitor
}

// NewHealthAwareBackOff wraps base with monitor-informed widening.
func NewHealthAwareBackOff(base backoff.BackOff, monitor *HealthMonitor) *HealthAwareBackOff {
	return &HealthAwareBackOff{base: base, monitor: monitor}
}

func (h *HealthAwareBackOff) NextBackOff() time.Duration {
	d := h.base.NextBackOff()
	if d == backoff.Stop {
		return backoff.Stop
	}
	switch h.monitor.State() {
	case BackendDegraded:
		return d * 2
	case BackendUnavailable:
		return d * 4
	default:
		return d
	}
}

func (h *HealthAwareBackOff) Reset() {
	h.base.Reset()
}
