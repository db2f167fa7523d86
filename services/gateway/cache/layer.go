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

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// =============================================================================
// Categories
// =============================================================================

// Cache categories. Each category has its own TTL, counters, and
// invalidation scope.
const (
	CategoryStats        = "stats"
	CategorySessionsList = "sessionsList"
	CategorySearch       = "search"
	CategoryUserProfile  = "userProfile"
	CategoryModelCatalog = "modelCatalog"
)

// DefaultTTL bounds staleness for categories without an explicit TTL.
const DefaultTTL = 5 * time.Minute

// =============================================================================
// Layer
// =============================================================================

// Observer receives cache outcome notifications, e.g. for prometheus
// counters. All methods must be non-blocking.
type Observer interface {
	CacheHit(category string)
	CacheMiss(category string)
	CacheError(category string)
}

// Options configures a Layer.
type Options struct {
	// TTLByCategory overrides DefaultTTL per category.
	TTLByCategory map[string]time.Duration

	// Observer mirrors counter updates to an external sink. May be nil.
	Observer Observer
}

// Layer is a read-through cache-aside wrapper over a Store.
//
// # Description
//
// Reads check the store first; on a hit the deserialized value returns
// without touching the loader, on a miss the loader runs and its result
// is stored under the entry's category TTL. Any store failure degrades
// to a direct loader call plus an error counter bump. A cache problem is
// never the caller's problem: the only errors leaving this type come
// from the loader itself.
//
// # Thread Safety
//
// Safe for concurrent use. The store provides no get+set transaction, so
// concurrent misses on one key may run the loader more than once; the
// last write wins, which is acceptable for reconstructible data.
type Layer struct {
	store    Store
	metrics  *metricsRegistry
	observer Observer
	ttls     map[string]time.Duration
}

// NewLayer creates a cache layer over store.
func NewLayer(store Store, opts Options) *Layer {
	return &Layer{
		store:    store,
		metrics:  newMetricsRegistry(),
		observer: opts.Observer,
		ttls:     opts.TTLByCategory,
	}
}

// TTL returns the configured TTL for a category.
func (l *Layer) TTL(category string) time.Duration {
	if ttl, ok := l.ttls[category]; ok && ttl > 0 {
		return ttl
	}
	return DefaultTTL
}

// Metrics returns counters for one category, or the aggregate when
// category is empty.
func (l *Layer) Metrics(category string) Metrics {
	return l.metrics.snapshot(category)
}

// MetricsByCategory returns per-category counters.
func (l *Layer) MetricsByCategory() map[string]Metrics {
	return l.metrics.snapshotAll()
}

// ResetMetrics zeroes one category's counters, or all when category is
// empty. Cached content is untouched.
func (l *Layer) ResetMetrics(category string) {
	l.metrics.reset(category)
}

// Invalidate drops every entry of one category for one owner.
func (l *Layer) Invalidate(ctx context.Context, category, ownerScope string) error {
	return l.store.DeleteByPrefix(ctx, ScopePrefix(category, ownerScope))
}

// Close closes the underlying store.
func (l *Layer) Close() error {
	return l.store.Close()
}

func (l *Layer) hit(category string) {
	l.metrics.recordHit(category)
	if l.observer != nil {
		l.observer.CacheHit(category)
	}
}

func (l *Layer) miss(category string) {
	l.metrics.recordMiss(category)
	if l.observer != nil {
		l.observer.CacheMiss(category)
	}
}

func (l *Layer) fault(category string, err error) {
	l.metrics.recordError(category)
	if l.observer != nil {
		l.observer.CacheError(category)
	}
	slog.Warn("cache store degraded, serving from loader", "category", category, "error", err)
}

// GetOrLoad returns the cached value for (category, ownerScope,
// identifier), loading and caching it on a miss.
//
// # Inputs
//
//   - ctx: Bounds store round trips and the loader.
//   - layer: The cache layer.
//   - category, ownerScope, identifier: Key components.
//   - loader: Produces the value on a miss. Its error is returned as-is.
//
// # Outputs
//
//   - T: The cached or freshly loaded value.
//   - error: Only a loader error; store failures are absorbed.
func GetOrLoad[T any](ctx context.Context, layer *Layer, category, ownerScope, identifier string, loader func(context.Context) (T, error)) (T, error) {
	key := Key(category, ownerScope, identifier)

	raw, err := layer.store.Get(ctx, key)
	switch {
	case err == nil:
		var value T
		if err := json.Unmarshal(raw, &value); err == nil {
			layer.hit(category)
			return value, nil
		}
		// A corrupt entry reads as a store fault; fall through to load
		// fresh and overwrite it.
		layer.fault(category, errors.New("cache: corrupt entry"))
	case errors.Is(err, ErrNotFound):
		layer.miss(category)
	default:
		layer.fault(category, err)
		// Degraded path: straight to the loader, no store write.
		return loader(ctx)
	}

	value, err := loader(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	raw, marshalErr := json.Marshal(value)
	if marshalErr != nil {
		// The value still serves the caller; it just never reaches the
		// store, so the degradation must show up in the error counters.
		layer.fault(category, marshalErr)
		return value, nil
	}
	if setErr := layer.store.Set(ctx, key, raw, layer.TTL(category)); setErr != nil {
		layer.fault(category, setErr)
	}
	return value, nil
}
