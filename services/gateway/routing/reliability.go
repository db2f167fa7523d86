// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"sync"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// defaultEMAAlpha is the smoothing factor for the rolling scores. Higher
// values weight recent outcomes more heavily.
const defaultEMAAlpha = 0.2

// scoreBoard maintains rolling reliability and latency scores per model.
//
// # Description
//
// Scores are exponential moving averages updated alongside circuit breaker
// outcomes: reliability moves toward 1 on success and 0 on failure, latency
// tracks successful call durations. They are used only for fallback
// tie-breaking, never for admission control.
//
// # Thread Safety
//
// Safe for concurrent use.
type scoreBoard struct {
	mu     sync.RWMutex
	alpha  float64
	scores map[datatypes.ModelKey]*modelScore
}

type modelScore struct {
	reliability float64
	latencyMs   float64
	samples     int
}

func newScoreBoard(alpha float64) *scoreBoard {
	if alpha <= 0 || alpha > 1 {
		alpha = defaultEMAAlpha
	}
	return &scoreBoard{
		alpha:  alpha,
		scores: make(map[datatypes.ModelKey]*modelScore),
	}
}

// recordSuccess moves the reliability EMA toward 1 and folds the observed
// latency into the latency EMA.
func (b *scoreBoard) recordSuccess(model datatypes.ModelKey, latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.get(model)
	s.reliability = s.reliability + b.alpha*(1-s.reliability)
	if latency > 0 {
		ms := float64(latency.Milliseconds())
		if s.latencyMs == 0 {
			s.latencyMs = ms
		} else {
			s.latencyMs = s.latencyMs + b.alpha*(ms-s.latencyMs)
		}
	}
	s.samples++
}

// recordFailure moves the reliability EMA toward 0.
func (b *scoreBoard) recordFailure(model datatypes.ModelKey) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.get(model)
	s.reliability = s.reliability * (1 - b.alpha)
	s.samples++
}

// get returns the score for model, creating it if absent.
// Must be called with the lock held. New models start optimistic at 1.0 so
// an untried model is never ranked below a known-bad one.
func (b *scoreBoard) get(model datatypes.ModelKey) *modelScore {
	s, ok := b.scores[model]
	if !ok {
		s = &modelScore{reliability: 1.0}
		b.scores[model] = s
	}
	return s
}

// snapshot returns a copy of one model's score. Unknown models report a
// pristine score.
func (b *scoreBoard) snapshot(model datatypes.ModelKey) modelScore {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if s, ok := b.scores[model]; ok {
		return *s
	}
	return modelScore{reliability: 1.0}
}
