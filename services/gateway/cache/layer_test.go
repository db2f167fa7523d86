// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// faultyStore wraps a MemoryStore and fails selected operations.
type faultyStore struct {
	*MemoryStore
	failGet  bool
	failSet  bool
	failDrop bool
}

var errStoreDown = errors.New("store down")

func (s *faultyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.failGet {
		return nil, errStoreDown
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *faultyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.failSet {
		return errStoreDown
	}
	return s.MemoryStore.Set(ctx, key, value, ttl)
}

func (s *faultyStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	if s.failDrop {
		return errStoreDown
	}
	return s.MemoryStore.DeleteByPrefix(ctx, prefix)
}

type profile struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func countingLoader(value profile) (func(context.Context) (profile, error), *int) {
	calls := new(int)
	return func(ctx context.Context) (profile, error) {
		*calls++
		return value, nil
	}, calls
}

// =============================================================================
// Cache-Aside Tests
// =============================================================================

func TestGetOrLoad_SecondCallIsHit(t *testing.T) {
	layer := NewLayer(NewMemoryStore(), Options{})
	ctx := context.Background()

	loader, calls := countingLoader(profile{Name: "ada", Count: 3})

	first, err := GetOrLoad(ctx, layer, CategoryUserProfile, "user1", "profile", loader)
	require.NoError(t, err)

	time.Sleep(time.Second)

	second, err := GetOrLoad(ctx, layer, CategoryUserProfile, "user1", "profile", loader)
	require.NoError(t, err)

	assert.Equal(t, first, second, "hit must return the identical value")
	assert.Equal(t, 1, *calls, "loader must run at most once without invalidation")

	m := layer.Metrics(CategoryUserProfile)
	assert.Equal(t, int64(1), m.Hits)
	assert.Equal(t, int64(1), m.Misses)
	assert.Equal(t, int64(0), m.Errors)
	assert.InDelta(t, 0.5, m.HitRate, 0.001)
}

func TestGetOrLoad_LoaderErrorPropagates(t *testing.T) {
	layer := NewLayer(NewMemoryStore(), Options{})
	boom := errors.New("backend rejected query")

	_, err := GetOrLoad(context.Background(), layer, CategorySearch, "user1", "q", func(ctx context.Context) (profile, error) {
		return profile{}, boom
	})
	assert.ErrorIs(t, err, boom)

	// A failed load caches nothing.
	loader, calls := countingLoader(profile{Name: "ok"})
	_, err = GetOrLoad(context.Background(), layer, CategorySearch, "user1", "q", loader)
	require.NoError(t, err)
	assert.Equal(t, 1, *calls)
}

func TestGetOrLoad_ExpiredEntryReloads(t *testing.T) {
	store := NewMemoryStore()
	layer := NewLayer(store, Options{TTLByCategory: map[string]time.Duration{CategoryStats: 50 * time.Millisecond}})
	ctx := context.Background()

	loader, calls := countingLoader(profile{Count: 1})
	_, err := GetOrLoad(ctx, layer, CategoryStats, "user1", "totals", loader)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	_, err = GetOrLoad(ctx, layer, CategoryStats, "user1", "totals", loader)
	require.NoError(t, err)
	assert.Equal(t, 2, *calls, "expired entry must reload")
}

func TestGetOrLoad_GetFailureDegradesToLoader(t *testing.T) {
	store := &faultyStore{MemoryStore: NewMemoryStore(), failGet: true}
	layer := NewLayer(store, Options{})

	loader, calls := countingLoader(profile{Name: "direct"})
	value, err := GetOrLoad(context.Background(), layer, CategoryStats, "user1", "totals", loader)

	require.NoError(t, err, "store failure must never reach the caller")
	assert.Equal(t, "direct", value.Name)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, int64(1), layer.Metrics(CategoryStats).Errors)
}

func TestGetOrLoad_SetFailureStillReturnsValue(t *testing.T) {
	store := &faultyStore{MemoryStore: NewMemoryStore(), failSet: true}
	layer := NewLayer(store, Options{})

	loader, calls := countingLoader(profile{Name: "fresh"})
	value, err := GetOrLoad(context.Background(), layer, CategoryStats, "user1", "totals", loader)

	require.NoError(t, err)
	assert.Equal(t, "fresh", value.Name)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, int64(1), layer.Metrics(CategoryStats).Errors)
}

func TestGetOrLoad_UnmarshalableValueCountsAsError(t *testing.T) {
	layer := NewLayer(NewMemoryStore(), Options{})

	// math.NaN has no JSON encoding, so the store write cannot happen.
	calls := 0
	loader := func(ctx context.Context) (float64, error) {
		calls++
		return math.NaN(), nil
	}

	value, err := GetOrLoad(context.Background(), layer, CategoryStats, "user1", "ratio", loader)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(value))
	assert.Equal(t, int64(1), layer.Metrics(CategoryStats).Errors)

	// Nothing was cached, so a second call loads again.
	_, err = GetOrLoad(context.Background(), layer, CategoryStats, "user1", "ratio", loader)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(2), layer.Metrics(CategoryStats).Misses)
}

func TestGetOrLoad_CorruptEntryReloads(t *testing.T) {
	store := NewMemoryStore()
	layer := NewLayer(store, Options{})
	ctx := context.Background()

	key := Key(CategoryStats, "user1", "totals")
	require.NoError(t, store.Set(ctx, key, []byte("{truncated"), 0))

	loader, calls := countingLoader(profile{Count: 9})
	value, err := GetOrLoad(ctx, layer, CategoryStats, "user1", "totals", loader)

	require.NoError(t, err)
	assert.Equal(t, 9, value.Count)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, int64(1), layer.Metrics(CategoryStats).Errors)

	// The corrupt entry was overwritten.
	_, err = GetOrLoad(ctx, layer, CategoryStats, "user1", "totals", loader)
	require.NoError(t, err)
	assert.Equal(t, 1, *calls)
}

// =============================================================================
// Metrics Tests
// =============================================================================

func TestResetMetrics_ScopedToCategory(t *testing.T) {
	layer := NewLayer(NewMemoryStore(), Options{})
	ctx := context.Background()

	statsLoader, _ := countingLoader(profile{})
	searchLoader, _ := countingLoader(profile{})

	_, err := GetOrLoad(ctx, layer, CategoryStats, "user1", "totals", statsLoader)
	require.NoError(t, err)
	_, err = GetOrLoad(ctx, layer, CategorySearch, "user1", "q", searchLoader)
	require.NoError(t, err)

	layer.ResetMetrics(CategoryStats)

	assert.Equal(t, int64(0), layer.Metrics(CategoryStats).Misses, "reset category zeroed")
	assert.Equal(t, int64(1), layer.Metrics(CategorySearch).Misses, "other categories untouched")
}

func TestResetMetrics_NoCategoryResetsAll(t *testing.T) {
	layer := NewLayer(NewMemoryStore(), Options{})
	ctx := context.Background()

	loader, _ := countingLoader(profile{})
	_, err := GetOrLoad(ctx, layer, CategoryStats, "user1", "totals", loader)
	require.NoError(t, err)
	_, err = GetOrLoad(ctx, layer, CategorySearch, "user1", "q", loader)
	require.NoError(t, err)

	layer.ResetMetrics("")

	total := layer.Metrics("")
	assert.Zero(t, total.Hits)
	assert.Zero(t, total.Misses)
	assert.Zero(t, total.Errors)
}

func TestResetMetrics_LeavesCachedContent(t *testing.T) {
	layer := NewLayer(NewMemoryStore(), Options{})
	ctx := context.Background()

	loader, calls := countingLoader(profile{Name: "kept"})
	_, err := GetOrLoad(ctx, layer, CategoryStats, "user1", "totals", loader)
	require.NoError(t, err)

	layer.ResetMetrics("")

	_, err = GetOrLoad(ctx, layer, CategoryStats, "user1", "totals", loader)
	require.NoError(t, err)
	assert.Equal(t, 1, *calls, "reset must not evict entries")
	assert.Equal(t, int64(1), layer.Metrics(CategoryStats).Hits)
}

func TestMetrics_AggregateAcrossCategories(t *testing.T) {
	layer := NewLayer(NewMemoryStore(), Options{})
	ctx := context.Background()

	loader, _ := countingLoader(profile{})
	for _, category := range []string{CategoryStats, CategorySearch, CategorySessionsList} {
		_, err := GetOrLoad(ctx, layer, category, "user1", "k", loader)
		require.NoError(t, err)
		_, err = GetOrLoad(ctx, layer, category, "user1", "k", loader)
		require.NoError(t, err)
	}

	total := layer.Metrics("")
	assert.Equal(t, int64(3), total.Hits)
	assert.Equal(t, int64(3), total.Misses)

	byCategory := layer.MetricsByCategory()
	assert.Len(t, byCategory, 3)
	assert.Equal(t, int64(1), byCategory[CategorySearch].Hits)
}
