// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package safety implements the kill-switch, rate limit, and
// single-writer lock guarding autonomous healing. SafetyState is
// process-memory only and is never persisted.
package safety

import (
	"sync"
	"time"

	"github.com/traylinx/healctl/internal/hcp/types"
)

// Config holds the envelope's tunable limits. New replaces any zero or
// negative field with its DefaultConfig value.
type Config struct {
	MaxAttemptsPerIncident int
	MaxSessionsPerWindow   int
	WindowDuration         time.Duration
	KillSwitchThreshold    int
	KillSwitchDuration     time.Duration
	Cooldown               time.Duration
}

// DefaultConfig returns the documented defaults (3 / 3 / 1h / 1h, 5s cooldown).
func DefaultConfig() Config {
	return Config{
		MaxAttemptsPerIncident: 3,
		MaxSessionsPerWindow:   3,
		WindowDuration:         time.Hour,
		KillSwitchThreshold:    3,
		KillSwitchDuration:     time.Hour,
		Cooldown:               5 * time.Second,
	}
}

// AdmissionResult is why EnqueueIncident was rejected, if it was.
type AdmissionResult int

const (
	Admitted AdmissionResult = iota
	DeniedKillSwitch
	DeniedRateLimit
	DeniedLockHeld
	DeniedAttemptCap
)

// Envelope guards SafetyState with a short-lived internal lock. Its
// sessionTimestamps slice is trimmed to the rate-limit window on every
// admission attempt and again by the background sweep.
type Envelope struct {
	mu    sync.Mutex
	state types.SafetyState
	cfg   Config

	lockCh chan struct{}

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New constructs an Envelope with a released lock and an empty state.
func New(cfg Config) *Envelope {
	if cfg.MaxAttemptsPerIncident <= 0 {
		cfg.MaxAttemptsPerIncident = 3
	}
	if cfg.MaxSessionsPerWindow <= 0 {
		cfg.MaxSessionsPerWindow = 3
	}
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = time.Hour
	}
	if cfg.KillSwitchThreshold <= 0 {
		cfg.KillSwitchThreshold = 3
	}
	if cfg.KillSwitchDuration <= 0 {
		cfg.KillSwitchDuration = time.Hour
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}

	lockCh := make(chan struct{}, 1)
	lockCh <- struct{}{} // unlocked: one token available

	return &Envelope{
		cfg:    cfg,
		lockCh: lockCh,
	}
}

// TryAdmit evaluates the four admission rules in spec order against
// an incident whose attemptCount is attemptCount. On Admitted, the
// caller now holds the healing lock and must call Release when the
// session reaches a terminal state or aborts unexpectedly.
func (e *Envelope) TryAdmit(now time.Time, attemptCount int) AdmissionResult {
	e.mu.Lock()
	e.clearExpiredKillSwitch(now)
	if e.state.KillSwitchActive {
		e.mu.Unlock()
		return DeniedKillSwitch
	}

	e.trimWindow(now)
	if len(e.state.SessionTimestamps) >= e.cfg.MaxSessionsPerWindow {
		e.mu.Unlock()
		return DeniedRateLimit
	}
	e.mu.Unlock()

	select {
	case <-e.lockCh:
		// acquired
	default:
		return DeniedLockHeld
	}

	if attemptCount >= e.cfg.MaxAttemptsPerIncident {
		e.lockCh <- struct{}{} // not admitted after all; give the token back
		return DeniedAttemptCap
	}

	e.mu.Lock()
	e.state.SessionTimestamps = append(e.state.SessionTimestamps, now)
	e.state.HealingLockHeld = true
	e.mu.Unlock()

	return Admitted
}

// clearExpiredKillSwitch must be called with mu held.
func (e *Envelope) clearExpiredKillSwitch(now time.Time) {
	if e.state.KillSwitchActive && e.state.KillSwitchUntil != nil && !now.Before(*e.state.KillSwitchUntil) {
		e.state.KillSwitchActive = false
		e.state.KillSwitchUntil = nil
		e.state.ConsecutiveFailures = 0
	}
}

// trimWindow must be called with mu held.
func (e *Envelope) trimWindow(now time.Time) {
	cutoff := now.Add(-e.cfg.WindowDuration)
	kept := e.state.SessionTimestamps[:0]
	for _, ts := range e.state.SessionTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.state.SessionTimestamps = kept
}

// TryReacquire grabs the single-writer lock for a session resuming
// after an asynchronous suspension point (a worker-completion or
// deployment-report callback), without consuming rate-limit budget or
// re-checking the attempt cap, both of which were already evaluated by
// the TryAdmit call that started the session. Returns false if another
// session currently holds the lock.
func (e *Envelope) TryReacquire() bool {
	select {
	case <-e.lockCh:
	default:
		return false
	}
	e.mu.Lock()
	e.state.HealingLockHeld = true
	e.mu.Unlock()
	return true
}

// Release drops the single-writer lock. It must be called exactly
// once per successful TryAdmit, on every exit path (success, failure,
// cancellation). The lock is re-armed only after Cooldown elapses.
func (e *Envelope) Release() {
	e.mu.Lock()
	e.state.HealingLockHeld = false
	e.mu.Unlock()

	time.AfterFunc(e.cfg.Cooldown, func() {
		select {
		case e.lockCh <- struct{}{}:
		default:
			// already armed; nothing to do
		}
	})
}

// RecordSuccess resets the consecutive-failure counter.
func (e *Envelope) RecordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.ConsecutiveFailures = 0
}

// RecordFailure increments the consecutive-failure counter and
// activates the kill-switch once the threshold is reached. Returns
// true iff this call activated the kill-switch.
func (e *Envelope) RecordFailure(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.ConsecutiveFailures++
	if e.state.ConsecutiveFailures >= e.cfg.KillSwitchThreshold && !e.state.KillSwitchActive {
		until := now.Add(e.cfg.KillSwitchDuration)
		e.state.KillSwitchActive = true
		e.state.KillSwitchUntil = &until
		return true
	}
	return false
}

// Snapshot returns a copy of the current safety state for observability.
func (e *Envelope) Snapshot() types.SafetyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := e.state
	cp.SessionTimestamps = append([]time.Time(nil), e.state.SessionTimestamps...)
	return cp
}

// StartSweep launches the defensive background trim of the rate-limit
// window. Call StopSweep to terminate it.
func (e *Envelope) StartSweep(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	e.stopSweep = make(chan struct{})
	e.sweepDone = make(chan struct{})

	go func() {
		defer close(e.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.mu.Lock()
				e.trimWindow(time.Now())
				e.mu.Unlock()
			case <-e.stopSweep:
				return
			}
		}
	}()
}

// StopSweep halts the background sweep started by StartSweep, if any.
func (e *Envelope) StopSweep() {
	if e.stopSweep == nil {
		return
	}
	close(e.stopSweep)
	<-e.sweepDone
}
