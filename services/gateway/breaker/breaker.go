// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package breaker implements a per-model circuit breaker registry.
//
// The registry keeps one independent state machine per ModelKey. It is a
// heuristic protective mechanism: false positives (tripping on unrelated
// transient errors) are an accepted trade-off, and no method ever returns
// an error. Callers only observe the breaker through Allow.
package breaker

import (
	"sync"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// State represents the state of one model's circuit.
//
// # State Diagram
//
//	   ┌─────────────────────────────────────┐
//	   │                                     │
//	   ▼                                     │
//	CLOSED ──[failure threshold]──► OPEN ───┘
//	   ▲                              │
//	   │                              │
//	   └───[probe successes]◄── HALF_OPEN ◄──[cooldown elapsed]
type State int

const (
	// StateClosed allows requests through normally.
	StateClosed State = iota

	// StateOpen rejects all requests until the cooldown elapses.
	StateOpen

	// StateHalfOpen allows a limited probe budget to test recovery.
	StateHalfOpen
)

// String returns the human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config configures circuit breaker behavior. The same configuration is
// applied to every model entry.
type Config struct {
	// FailureThreshold is the number of failures inside the monitoring
	// window before opening. Default: 5
	FailureThreshold int

	// Cooldown is the duration an entry stays OPEN before it becomes
	// eligible for HALF_OPEN. Default: 30s
	Cooldown time.Duration

	// MonitoringWindow bounds how long failures accumulate toward the
	// threshold. Failures older than the window restart the count.
	// Default: 60s
	MonitoringWindow time.Duration

	// HalfOpenProbes is the max probe requests allowed in HALF_OPEN.
	// Default: 2
	HalfOpenProbes int

	// HalfOpenSuccesses is the number of probe successes required to
	// close from HALF_OPEN. Default: 2
	HalfOpenSuccesses int

	// OnStateChange is called when an entry transitions. Invoked
	// synchronously with the registry lock held, so it must be cheap.
	OnStateChange func(model datatypes.ModelKey, from, to State)
}

// DefaultConfig returns sensible defaults for the circuit breaker.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		Cooldown:          30 * time.Second,
		MonitoringWindow:  60 * time.Second,
		HalfOpenProbes:    2,
		HalfOpenSuccesses: 2,
	}
}

// withDefaults fills zero values so a partially specified Config behaves.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.MonitoringWindow <= 0 {
		c.MonitoringWindow = d.MonitoringWindow
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = d.HalfOpenProbes
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = d.HalfOpenSuccesses
	}
	return c
}

// entry is the per-model state. Mutated only with the registry lock held.
type entry struct {
	state           State
	failures        int
	successes       int
	probesRemaining int
	firstFailureAt  time.Time
	openedAt        time.Time

	// exhaustedAt marks when the last half-open probe slot was handed
	// out. Probes that never report back (cancelled requests, scans
	// that picked another model) would otherwise park the entry in
	// HALF_OPEN forever.
	exhaustedAt time.Time
}

// consumeProbe hands out one half-open probe slot, stamping the moment
// the budget runs dry.
func (e *entry) consumeProbe(now time.Time) {
	e.probesRemaining--
	if e.probesRemaining == 0 {
		e.exhaustedAt = now
	}
}

// EntryStats is a read-only snapshot of one model's breaker state.
type EntryStats struct {
	State        State
	FailureCount int
	SuccessCount int
	OpenedAt     time.Time
}

// Registry holds one circuit breaker entry per ModelKey.
//
// # Description
//
// Entries are created lazily on first use and live for the process
// lifetime. A single registry-wide mutex guards all entries; contention is
// low because there is one hot entry per distinct model, not per request.
//
// The registry is an explicit object constructed once at startup and
// passed by injection, so unit tests run without shared global state.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	config  Config
	mu      sync.Mutex
	entries map[datatypes.ModelKey]*entry

	// now is injectable for tests.
	now func() time.Time
}

// NewRegistry creates a registry with the given configuration.
func NewRegistry(config Config) *Registry {
	return &Registry{
		config:  config.withDefaults(),
		entries: make(map[datatypes.ModelKey]*entry),
		now:     time.Now,
	}
}

// get returns the entry for model, creating it CLOSED if absent.
// Must be called with the lock held.
func (r *Registry) get(model datatypes.ModelKey) *entry {
	e, ok := r.entries[model]
	if !ok {
		e = &entry{state: StateClosed}
		r.entries[model] = e
	}
	return e
}

// transition changes an entry's state. Must be called with the lock held.
func (r *Registry) transition(model datatypes.ModelKey, e *entry, to State, now time.Time) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	e.successes = 0
	e.probesRemaining = 0
	e.exhaustedAt = time.Time{}

	switch to {
	case StateClosed:
		e.failures = 0
		e.firstFailureAt = time.Time{}
	case StateOpen:
		e.openedAt = now
	case StateHalfOpen:
		e.probesRemaining = r.config.HalfOpenProbes
	}

	if r.config.OnStateChange != nil {
		r.config.OnStateChange(model, from, to)
	}
}

// Allow reports whether a call to model should be admitted.
//
// # Description
//
// CLOSED entries always admit. OPEN entries admit once the cooldown has
// elapsed, transitioning to HALF_OPEN and consuming one probe slot before
// answering true. HALF_OPEN entries admit while probe budget remains.
//
// An exhausted probe budget whose probes never resolve is not allowed to
// strand the entry: once a full cooldown passes after the last slot was
// handed out with the circuit still HALF_OPEN, the entry re-opens and the
// cooldown restarts. The delay gives in-flight probes time to report
// before their outcomes are discarded.
//
// # Thread Safety
//
// Safe for concurrent use.
func (r *Registry) Allow(model datatypes.ModelKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e := r.get(model)

	switch e.state {
	case StateClosed:
		return true

	case StateOpen:
		if now.Sub(e.openedAt) >= r.config.Cooldown {
			r.transition(model, e, StateHalfOpen, now)
			e.consumeProbe(now)
			return true
		}
		return false

	case StateHalfOpen:
		if e.probesRemaining > 0 {
			e.consumeProbe(now)
			return true
		}
		if now.Sub(e.exhaustedAt) >= r.config.Cooldown {
			r.transition(model, e, StateOpen, now)
		}
		return false

	default:
		return false
	}
}

// RecordSuccess records a successful call for model.
//
// In CLOSED state this resets the failure count. In HALF_OPEN state enough
// consecutive successes close the circuit.
func (r *Registry) RecordSuccess(model datatypes.ModelKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e := r.get(model)

	switch e.state {
	case StateClosed:
		e.failures = 0
		e.firstFailureAt = time.Time{}

	case StateHalfOpen:
		e.successes++
		if e.successes >= r.config.HalfOpenSuccesses {
			r.transition(model, e, StateClosed, now)
		}
	}
}

// RecordFailure records a failed call for model.
//
// Threshold failures inside the monitoring window open the circuit. Any
// failure in HALF_OPEN reopens it, restarting the cooldown.
func (r *Registry) RecordFailure(model datatypes.ModelKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e := r.get(model)

	switch e.state {
	case StateClosed:
		// Failures outside the monitoring window restart the count.
		if e.failures > 0 && now.Sub(e.firstFailureAt) > r.config.MonitoringWindow {
			e.failures = 0
		}
		if e.failures == 0 {
			e.firstFailureAt = now
		}
		e.failures++
		if e.failures >= r.config.FailureThreshold {
			r.transition(model, e, StateOpen, now)
		}

	case StateHalfOpen:
		r.transition(model, e, StateOpen, now)
	}
}

// StateOf returns the current state for model without side effects.
// Unknown models report CLOSED.
func (r *Registry) StateOf(model datatypes.ModelKey) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[model]; ok {
		return e.state
	}
	return StateClosed
}

// Snapshot returns a copy of every entry's state for observability.
// Pure read; no transitions are evaluated.
func (r *Registry) Snapshot() map[datatypes.ModelKey]EntryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[datatypes.ModelKey]EntryStats, len(r.entries))
	for model, e := range r.entries {
		out[model] = EntryStats{
			State:        e.state,
			FailureCount: e.failures,
			SuccessCount: e.successes,
			OpenedAt:     e.openedAt,
		}
	}
	return out
}

// Reset returns a model's entry to CLOSED. Primarily for tests and manual
// intervention.
func (r *Registry) Reset(model datatypes.ModelKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(model)
	e.state = StateClosed
	e.failures = 0
	e.successes = 0
	e.probesRemaining = 0
	e.firstFailureAt = time.Time{}
	e.openedAt = time.Time{}
}
