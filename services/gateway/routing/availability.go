// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routing implements model availability checks and fallback
// selection for the gateway.
//
// The availability manager combines three inputs: the circuit breaker
// registry (admission control), a static exclusion list (operator policy),
// and rolling reliability scores (tie-breaking). Fallback ordering is an
// explicit comparator pipeline whose stage order is configurable, since
// the relative weighting of "known good", cost, and latency is a policy
// decision, not a fixed rule.
package routing

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/gateway/breaker"
	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// ErrNoAvailableModel is returned when every fallback candidate is
// unavailable or excluded.
var ErrNoAvailableModel = errors.New("routing: no available model among candidates")

// Comparator stage names accepted in Policy.Stages.
const (
	StageKnownGood   = "knownGood"
	StageCostTier    = "costTier"
	StageReliability = "reliability"
)

// ModelInfo carries externally supplied routing attributes for one model.
type ModelInfo struct {
	// KnownGood marks a model the operator trusts; known-good models sort
	// before others in the default pipeline.
	KnownGood bool `yaml:"known_good"`

	// CostTier is the relative cost bucket; lower is cheaper and sorts
	// first. Models without an entry default to tier 0.
	CostTier int `yaml:"cost_tier"`
}

// Policy configures fallback ordering.
type Policy struct {
	// Stages is the comparator pipeline, applied in order. Later stages
	// only break ties left by earlier ones. Unknown stage names are
	// skipped. Default: [knownGood, costTier, reliability].
	Stages []string
}

// DefaultPolicy returns the default comparator pipeline.
func DefaultPolicy() Policy {
	return Policy{Stages: []string{StageKnownGood, StageCostTier, StageReliability}}
}

// Manager answers availability questions and selects fallback models.
//
// # Description
//
// Manager owns no durable state: breaker state lives in the injected
// registry, scores are process-lifetime EMAs, and the exclusion list is
// replaced wholesale on reload. All methods are safe for concurrent use.
type Manager struct {
	registry *breaker.Registry
	scores   *scoreBoard
	policy   Policy

	mu       sync.RWMutex
	excluded map[datatypes.ModelKey]struct{}
	models   map[datatypes.ModelKey]ModelInfo
}

// NewManager creates a Manager backed by the given breaker registry.
//
// # Inputs
//
//   - registry: Circuit breaker registry. Must not be nil.
//   - models: Routing attributes per model. May be nil.
//   - policy: Fallback ordering policy. Zero value gets defaults.
func NewManager(registry *breaker.Registry, models map[datatypes.ModelKey]ModelInfo, policy Policy) *Manager {
	if registry == nil {
		panic("routing.NewManager: registry must not be nil")
	}
	if len(policy.Stages) == 0 {
		policy = DefaultPolicy()
	}
	if models == nil {
		models = make(map[datatypes.ModelKey]ModelInfo)
	}
	return &Manager{
		registry: registry,
		scores:   newScoreBoard(defaultEMAAlpha),
		policy:   policy,
		excluded: make(map[datatypes.ModelKey]struct{}),
		models:   models,
	}
}

// IsAvailable reports whether model may be called right now: the circuit
// breaker admits it and it is not on the exclusion list.
func (m *Manager) IsAvailable(model datatypes.ModelKey) bool {
	m.mu.RLock()
	_, excluded := m.excluded[model]
	m.mu.RUnlock()
	if excluded {
		return false
	}
	return m.registry.Allow(model)
}

// SelectFallback picks the best available model from candidates.
//
// # Description
//
// Filters candidates to available ones, then orders them through the
// comparator pipeline. Ordering is stable: candidates the pipeline cannot
// separate keep their caller-supplied order, so the caller's preference
// acts as the final tie-breaker.
//
// # Outputs
//
//   - datatypes.ModelKey: The selected model.
//   - error: ErrNoAvailableModel if the filtered set is empty.
func (m *Manager) SelectFallback(candidates []datatypes.ModelKey) (datatypes.ModelKey, error) {
	available := make([]datatypes.ModelKey, 0, len(candidates))
	for _, model := range candidates {
		if m.IsAvailable(model) {
			available = append(available, model)
		}
	}
	if len(available) == 0 {
		return "", ErrNoAvailableModel
	}

	m.mu.RLock()
	infos := m.models
	m.mu.RUnlock()

	sort.SliceStable(available, func(i, j int) bool {
		return m.less(available[i], available[j], infos)
	})
	return available[0], nil
}

// less runs the comparator pipeline. Returns true if a should sort before b.
func (m *Manager) less(a, b datatypes.ModelKey, infos map[datatypes.ModelKey]ModelInfo) bool {
	ia, ib := infos[a], infos[b]
	for _, stage := range m.policy.Stages {
		switch stage {
		case StageKnownGood:
			if ia.KnownGood != ib.KnownGood {
				return ia.KnownGood
			}
		case StageCostTier:
			if ia.CostTier != ib.CostTier {
				return ia.CostTier < ib.CostTier
			}
		case StageReliability:
			sa, sb := m.scores.snapshot(a), m.scores.snapshot(b)
			if sa.reliability != sb.reliability {
				return sa.reliability > sb.reliability
			}
			if sa.latencyMs != sb.latencyMs {
				// Zero means "no samples yet"; treat it as unknown, not fast.
				if sa.latencyMs == 0 || sb.latencyMs == 0 {
					continue
				}
				return sa.latencyMs < sb.latencyMs
			}
		}
	}
	return false
}

// RecordSuccess reports a successful call: the breaker entry and the
// rolling scores are both updated.
func (m *Manager) RecordSuccess(model datatypes.ModelKey, latency time.Duration) {
	m.registry.RecordSuccess(model)
	m.scores.recordSuccess(model, latency)
}

// RecordFailure reports a failed call (after retries were exhausted).
func (m *Manager) RecordFailure(model datatypes.ModelKey) {
	m.registry.RecordFailure(model)
	m.scores.recordFailure(model)
}

// SetExcluded replaces the exclusion list wholesale. Called at startup and
// by the exclusion file watcher on reload.
func (m *Manager) SetExcluded(models []datatypes.ModelKey) {
	next := make(map[datatypes.ModelKey]struct{}, len(models))
	for _, model := range models {
		next[model] = struct{}{}
	}
	m.mu.Lock()
	m.excluded = next
	m.mu.Unlock()
}

// Status returns a read-only snapshot of every tracked model for external
// observability. Pure; evaluates no breaker transitions.
func (m *Manager) Status() map[datatypes.ModelKey]datatypes.ModelStatus {
	breakerStats := m.registry.Snapshot()

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[datatypes.ModelKey]datatypes.ModelStatus, len(breakerStats))
	for model, stats := range breakerStats {
		score := m.scores.snapshot(model)
		_, excluded := m.excluded[model]
		out[model] = datatypes.ModelStatus{
			State:            stats.State.String(),
			FailureCount:     stats.FailureCount,
			ReliabilityScore: score.reliability,
			AvgLatencyMs:     score.latencyMs,
			Excluded:         excluded,
		}
	}
	// Excluded models with no breaker history still show up.
	for model := range m.excluded {
		if _, ok := out[model]; !ok {
			score := m.scores.snapshot(model)
			out[model] = datatypes.ModelStatus{
				State:            breaker.StateClosed.String(),
				ReliabilityScore: score.reliability,
				AvgLatencyMs:     score.latencyMs,
				Excluded:         true,
			}
		}
	}
	return out
}
