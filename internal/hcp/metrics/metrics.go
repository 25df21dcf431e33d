// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics tracks healing attempts, tier selections, and
// outcomes for observability.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds counters and gauges for one running orchestrator.
type Metrics struct {
	healingAttempts       atomic.Int64
	successfulHealings    atomic.Int64
	failedHealings        atomic.Int64
	prsCreated            atomic.Int64
	killSwitchActivations atomic.Int64
	admissionsDenied      atomic.Int64

	strategyMu sync.RWMutex
	byStrategy map[string]int64

	latencyMu      sync.RWMutex
	latencySamples []int64
	maxSamples     int

	activeSessions atomic.Int64
	startTime      time.Time
}

// New creates a Metrics instance keeping at most maxSamples latency
// samples (default 1000).
func New(maxSamples int) *Metrics {
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	return &Metrics{
		byStrategy:     make(map[string]int64),
		latencySamples: make([]int64, 0, maxSamples),
		maxSamples:     maxSamples,
		startTime:      time.Now(),
	}
}

func (m *Metrics) RecordHealingAttempt(strategy string) {
	m.healingAttempts.Add(1)
	m.strategyMu.Lock()
	m.byStrategy[strategy]++
	m.strategyMu.Unlock()
}

func (m *Metrics) RecordHealingSuccess(latencyMs int64) {
	m.successfulHealings.Add(1)
	m.recordLatency(latencyMs)
}

func (m *Metrics) RecordHealingFailure() {
	m.failedHealings.Add(1)
}

func (m *Metrics) RecordPRCreated() {
	m.prsCreated.Add(1)
}

func (m *Metrics) RecordKillSwitchActivation() {
	m.killSwitchActivations.Add(1)
}

func (m *Metrics) RecordAdmissionDenied() {
	m.admissionsDenied.Add(1)
}

func (m *Metrics) SetActiveSessions(n int64) {
	m.activeSessions.Store(n)
}

func (m *Metrics) recordLatency(ms int64) {
	m.latencyMu.Lock()
	defer m.latencyMu.Unlock()
	if len(m.latencySamples) >= m.maxSamples {
		m.latencySamples = m.latencySamples[1:]
	}
	m.latencySamples = append(m.latencySamples, ms)
}

// Snapshot is a point-in-time read of all counters/gauges.
type Snapshot struct {
	HealingAttempts       int64
	SuccessfulHealings    int64
	FailedHealings        int64
	PRsCreated            int64
	KillSwitchActivations int64
	AdmissionsDenied      int64
	ActiveSessions        int64
	ByStrategy            map[string]int64
	UptimeSeconds         float64
}

func (m *Metrics) Snapshot() Snapshot {
	m.strategyMu.RLock()
	byStrategy := make(map[string]int64, len(m.byStrategy))
	for k, v := range m.byStrategy {
		byStrategy[k] = v
	}
	m.strategyMu.RUnlock()

	return Snapshot{
		HealingAttempts:       m.healingAttempts.Load(),
		SuccessfulHealings:    m.successfulHealings.Load(),
		FailedHealings:        m.failedHealings.Load(),
		PRsCreated:            m.prsCreated.Load(),
		KillSwitchActivations: m.killSwitchActivations.Load(),
		AdmissionsDenied:      m.admissionsDenied.Load(),
		ActiveSessions:        m.activeSessions.Load(),
		ByStrategy:            byStrategy,
		UptimeSeconds:         time.Since(m.startTime).Seconds(),
	}
}
