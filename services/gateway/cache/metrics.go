// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import "sync"

// Metrics is a point-in-time counter snapshot for one category or for the
// aggregate across categories.
type Metrics struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

func (m Metrics) withRate() Metrics {
	if total := m.Hits + m.Misses; total > 0 {
		m.HitRate = float64(m.Hits) / float64(total)
	}
	return m
}

// metricsRegistry tracks per-category hit/miss/error counters.
//
// Counter lifecycle is independent of cached content: resetting a scope
// zeroes its counters and touches no cache entries.
type metricsRegistry struct {
	mu         sync.Mutex
	categories map[string]*Metrics
}

func newMetricsRegistry() *metricsRegistry {
	return &metricsRegistry{categories: make(map[string]*Metrics)}
}

func (r *metricsRegistry) get(category string) *Metrics {
	m, ok := r.categories[category]
	if !ok {
		m = &Metrics{}
		r.categories[category] = m
	}
	return m
}

func (r *metricsRegistry) recordHit(category string) {
	r.mu.Lock()
	r.get(category).Hits++
	r.mu.Unlock()
}

func (r *metricsRegistry) recordMiss(category string) {
	r.mu.Lock()
	r.get(category).Misses++
	r.mu.Unlock()
}

func (r *metricsRegistry) recordError(category string) {
	r.mu.Lock()
	r.get(category).Errors++
	r.mu.Unlock()
}

// snapshot returns the counters for one category, or the aggregate when
// category is empty.
func (r *metricsRegistry) snapshot(category string) Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	if category != "" {
		if m, ok := r.categories[category]; ok {
			return m.withRate()
		}
		return Metrics{}
	}

	var total Metrics
	for _, m := range r.categories {
		total.Hits += m.Hits
		total.Misses += m.Misses
		total.Errors += m.Errors
	}
	return total.withRate()
}

// snapshotAll returns per-category counters keyed by category.
func (r *metricsRegistry) snapshotAll() map[string]Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Metrics, len(r.categories))
	for category, m := range r.categories {
		out[category] = m.withRate()
	}
	return out
}

// reset zeroes one category's counters, or every category's when category
// is empty.
func (r *metricsRegistry) reset(category string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if category != "" {
		if m, ok := r.categories[category]; ok {
			*m = Metrics{}
		}
		return
	}
	for _, m := range r.categories {
		*m = Metrics{}
	}
}
