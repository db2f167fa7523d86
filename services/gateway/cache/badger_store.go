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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is a persistent Store backed by an embedded BadgerDB.
//
// # Description
//
// BadgerDB gives the gateway a warm cache that survives restarts without
// an external cache service. TTLs map directly to Badger entry TTLs, and
// prefix invalidation maps to DropPrefix.
//
// # Thread Safety
//
// Safe for concurrent use; *badger.DB is internally synchronized.
type BadgerStore struct {
	db *badger.DB
}

// BadgerConfig holds configuration for the persistent cache store.
type BadgerConfig struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory disables disk persistence. Useful for testing.
	InMemory bool
}

// NewBadgerStore opens the store, creating the directory if needed.
func NewBadgerStore(config BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.Path == "" {
			return nil, errors.New("cache: badger path is required for persistent store")
		}
		if err := os.MkdirAll(config.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", config.Path, err)
		}
		opts = badger.DefaultOptions(config.Path)
	}
	// The cache is reconstructible, so durability knobs stay relaxed and
	// Badger's own logging stays off.
	opts = opts.WithSyncWrites(false).WithNumVersionsToKeep(1).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	return value, nil
}

func (s *BadgerStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	if err := s.db.DropPrefix([]byte(prefix)); err != nil {
		return fmt.Errorf("cache drop prefix %s: %w", prefix, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
