// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

const testModel = datatypes.ModelKey("openai/gpt-4o")

// fakeClock gives tests control over the registry's view of time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(config Config) (*Registry, *fakeClock) {
	clock := newFakeClock()
	r := NewRegistry(config)
	r.now = clock.Now
	return r, clock
}

func TestRegistry_InitialState(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	if r.StateOf(testModel) != StateClosed {
		t.Errorf("expected initial state CLOSED, got %v", r.StateOf(testModel))
	}
	if !r.Allow(testModel) {
		t.Error("expected Allow to return true for an unknown model")
	}
}

func TestRegistry_OpensAfterThreshold(t *testing.T) {
	r, _ := newTestRegistry(Config{FailureThreshold: 3, Cooldown: 10 * time.Second})

	for i := 0; i < 3; i++ {
		if r.StateOf(testModel) != StateClosed {
			t.Fatalf("expected CLOSED before threshold, got %v at iteration %d", r.StateOf(testModel), i)
		}
		r.RecordFailure(testModel)
	}

	if r.StateOf(testModel) != StateOpen {
		t.Errorf("expected OPEN after threshold, got %v", r.StateOf(testModel))
	}
	if r.Allow(testModel) {
		t.Error("expected Allow to return false while OPEN")
	}
}

func TestRegistry_SuccessResetsFailureCount(t *testing.T) {
	r, _ := newTestRegistry(Config{FailureThreshold: 3})

	r.RecordFailure(testModel)
	r.RecordFailure(testModel)
	r.RecordSuccess(testModel)
	r.RecordFailure(testModel)
	r.RecordFailure(testModel)

	if r.StateOf(testModel) != StateClosed {
		t.Errorf("expected CLOSED (counter should have reset), got %v", r.StateOf(testModel))
	}
}

func TestRegistry_MonitoringWindowRestartsCount(t *testing.T) {
	r, clock := newTestRegistry(Config{
		FailureThreshold: 3,
		MonitoringWindow: 30 * time.Second,
	})

	r.RecordFailure(testModel)
	r.RecordFailure(testModel)

	// Let the window lapse; stale failures no longer count toward the trip.
	clock.Advance(31 * time.Second)

	r.RecordFailure(testModel)
	r.RecordFailure(testModel)

	if r.StateOf(testModel) != StateClosed {
		t.Errorf("expected CLOSED after window lapse, got %v", r.StateOf(testModel))
	}

	r.RecordFailure(testModel)
	if r.StateOf(testModel) != StateOpen {
		t.Errorf("expected OPEN after threshold inside window, got %v", r.StateOf(testModel))
	}
}

func TestRegistry_NoByPassDuringCooldown(t *testing.T) {
	r, clock := newTestRegistry(Config{FailureThreshold: 1, Cooldown: 10 * time.Second})

	r.RecordFailure(testModel)

	clock.Advance(9 * time.Second)
	for i := 0; i < 50; i++ {
		if r.Allow(testModel) {
			t.Fatal("expected Allow to reject every call during the cooldown window")
		}
	}
}

func TestRegistry_NoPermanentLockout(t *testing.T) {
	r, clock := newTestRegistry(Config{
		FailureThreshold: 1,
		Cooldown:         10 * time.Second,
		HalfOpenProbes:   2,
	})

	r.RecordFailure(testModel)
	if r.Allow(testModel) {
		t.Fatal("expected rejection immediately after trip")
	}

	clock.Advance(10 * time.Second)
	if !r.Allow(testModel) {
		t.Error("expected Allow to admit a probe once the cooldown elapsed")
	}
	if r.StateOf(testModel) != StateHalfOpen {
		t.Errorf("expected HALF_OPEN after cooldown probe, got %v", r.StateOf(testModel))
	}
}

func TestRegistry_HalfOpenProbeBudget(t *testing.T) {
	r, clock := newTestRegistry(Config{
		FailureThreshold: 1,
		Cooldown:         time.Second,
		HalfOpenProbes:   2,
	})

	r.RecordFailure(testModel)
	clock.Advance(time.Second)

	// First Allow transitions to HALF_OPEN and consumes one probe slot.
	if !r.Allow(testModel) {
		t.Fatal("expected first probe to be admitted")
	}
	if !r.Allow(testModel) {
		t.Fatal("expected second probe to be admitted")
	}
	if r.Allow(testModel) {
		t.Error("expected third call to be rejected once probe budget is spent")
	}
}

func TestRegistry_HalfOpenSuccessCloses(t *testing.T) {
	r, clock := newTestRegistry(Config{
		FailureThreshold:  1,
		Cooldown:          time.Second,
		HalfOpenProbes:    2,
		HalfOpenSuccesses: 2,
	})

	r.RecordFailure(testModel)
	clock.Advance(time.Second)
	r.Allow(testModel)

	r.RecordSuccess(testModel)
	if r.StateOf(testModel) != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN after one probe success, got %v", r.StateOf(testModel))
	}

	r.RecordSuccess(testModel)
	if r.StateOf(testModel) != StateClosed {
		t.Errorf("expected CLOSED after enough probe successes, got %v", r.StateOf(testModel))
	}

	stats := r.Snapshot()[testModel]
	if stats.FailureCount != 0 {
		t.Errorf("expected failure count reset on close, got %d", stats.FailureCount)
	}
}

func TestRegistry_HalfOpenFailureReopens(t *testing.T) {
	r, clock := newTestRegistry(Config{
		FailureThreshold: 1,
		Cooldown:         10 * time.Second,
		HalfOpenProbes:   2,
	})

	r.RecordFailure(testModel)
	clock.Advance(10 * time.Second)
	r.Allow(testModel)

	r.RecordFailure(testModel)
	if r.StateOf(testModel) != StateOpen {
		t.Errorf("expected OPEN after probe failure, got %v", r.StateOf(testModel))
	}

	// The cooldown restarts from the reopen.
	clock.Advance(9 * time.Second)
	if r.Allow(testModel) {
		t.Error("expected rejection before the restarted cooldown elapses")
	}
	clock.Advance(time.Second)
	if !r.Allow(testModel) {
		t.Error("expected admission after the restarted cooldown elapses")
	}
}

func TestRegistry_HalfOpenUnresolvedProbesReopen(t *testing.T) {
	r, clock := newTestRegistry(Config{
		FailureThreshold: 1,
		Cooldown:         10 * time.Second,
		HalfOpenProbes:   2,
	})

	r.RecordFailure(testModel)
	clock.Advance(10 * time.Second)

	// Drain the probe budget without reporting any outcome, the way
	// availability scans and cancelled requests do.
	if !r.Allow(testModel) || !r.Allow(testModel) {
		t.Fatal("expected both probe slots to be admitted")
	}
	if r.Allow(testModel) {
		t.Fatal("expected rejection once probe budget is spent")
	}
	if r.StateOf(testModel) != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN right after the budget drains, got %v", r.StateOf(testModel))
	}

	// A full cooldown later the probes are presumed lost and the
	// circuit re-opens instead of stranding the model.
	clock.Advance(24 * time.Hour)
	if r.Allow(testModel) {
		t.Error("expected rejection while re-opening after lost probes")
	}
	if r.StateOf(testModel) != StateOpen {
		t.Fatalf("expected OPEN after probe budget expired unresolved, got %v", r.StateOf(testModel))
	}

	clock.Advance(10 * time.Second)
	if !r.Allow(testModel) {
		t.Error("expected a fresh probe to be admitted after the restarted cooldown")
	}
	if r.StateOf(testModel) != StateHalfOpen {
		t.Errorf("expected HALF_OPEN after the fresh probe, got %v", r.StateOf(testModel))
	}
}

func TestRegistry_HalfOpenInFlightProbesStillClose(t *testing.T) {
	r, clock := newTestRegistry(Config{
		FailureThreshold:  1,
		Cooldown:          10 * time.Second,
		HalfOpenProbes:    2,
		HalfOpenSuccesses: 2,
	})

	r.RecordFailure(testModel)
	clock.Advance(10 * time.Second)
	r.Allow(testModel)
	r.Allow(testModel)

	// Slow probes that report back within a cooldown of the budget
	// draining must still be able to close the circuit.
	clock.Advance(9 * time.Second)
	if r.Allow(testModel) {
		t.Fatal("expected rejection while probes are in flight")
	}
	r.RecordSuccess(testModel)
	r.RecordSuccess(testModel)
	if r.StateOf(testModel) != StateClosed {
		t.Errorf("expected CLOSED after in-flight probes succeed, got %v", r.StateOf(testModel))
	}
}

func TestRegistry_ModelsAreIndependent(t *testing.T) {
	other := datatypes.ModelKey("anthropic/claude-sonnet")
	r, _ := newTestRegistry(Config{FailureThreshold: 2})

	r.RecordFailure(testModel)
	r.RecordFailure(testModel)

	if r.StateOf(testModel) != StateOpen {
		t.Fatalf("expected OPEN for failing model, got %v", r.StateOf(testModel))
	}
	if r.StateOf(other) != StateClosed {
		t.Errorf("expected CLOSED for unrelated model, got %v", r.StateOf(other))
	}
	if !r.Allow(other) {
		t.Error("expected Allow for unrelated model")
	}
}

func TestRegistry_OnStateChange(t *testing.T) {
	var transitions []string
	r, clock := newTestRegistry(Config{
		FailureThreshold: 1,
		Cooldown:         time.Second,
		OnStateChange: func(model datatypes.ModelKey, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	r.RecordFailure(testModel)
	clock.Advance(time.Second)
	r.Allow(testModel)

	want := []string{"CLOSED->OPEN", "OPEN->HALF_OPEN"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestRegistry_ConcurrentReports(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.RecordFailure(testModel)
			}
		}()
	}
	wg.Wait()

	stats := r.Snapshot()[testModel]
	if stats.FailureCount != 500 {
		t.Errorf("expected 500 recorded failures (no lost updates), got %d", stats.FailureCount)
	}
}
