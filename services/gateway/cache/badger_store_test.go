// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStore_SetGetDelete(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()
	key := Key(CategoryStats, "user1", "totals")

	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, key, []byte(`{"count":1}`), 0))

	value, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"count":1}`), value)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStore_TTLExpiry(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()
	key := Key(CategorySearch, "user1", "q")

	require.NoError(t, store.Set(ctx, key, []byte("v"), 500*time.Millisecond))

	_, err := store.Get(ctx, key)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound, "entry must be logically expired after its TTL")
}

func TestBadgerStore_DeleteByPrefix(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, Key(CategoryStats, "user1", "a"), []byte("1"), 0))
	require.NoError(t, store.Set(ctx, Key(CategoryStats, "user1", "b"), []byte("2"), 0))
	require.NoError(t, store.Set(ctx, Key(CategoryStats, "user2", "a"), []byte("3"), 0))
	require.NoError(t, store.Set(ctx, Key(CategorySearch, "user1", "a"), []byte("4"), 0))

	require.NoError(t, store.DeleteByPrefix(ctx, ScopePrefix(CategoryStats, "user1")))

	_, err := store.Get(ctx, Key(CategoryStats, "user1", "a"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, Key(CategoryStats, "user1", "b"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, Key(CategoryStats, "user2", "a"))
	assert.NoError(t, err, "other owners keep their entries")
	_, err = store.Get(ctx, Key(CategorySearch, "user1", "a"))
	assert.NoError(t, err, "other categories keep their entries")
}

func TestBadgerStore_WorksUnderLayer(t *testing.T) {
	store := newTestBadgerStore(t)
	layer := NewLayer(store, Options{})
	ctx := context.Background()

	loader, calls := countingLoader(profile{Name: "persisted"})
	first, err := GetOrLoad(ctx, layer, CategoryUserProfile, "user1", "profile", loader)
	require.NoError(t, err)

	second, err := GetOrLoad(ctx, layer, CategoryUserProfile, "user1", "profile", loader)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, int64(1), layer.Metrics(CategoryUserProfile).Hits)
}
