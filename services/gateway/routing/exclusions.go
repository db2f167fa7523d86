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
	"bufio"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// ExclusionWatcher reloads the excluded-models file when it changes.
//
// # Description
//
// Operators can take a model out of rotation without restarting the
// gateway by listing its key in a plain-text file, one "provider/model"
// per line. Lines starting with '#' are comments. The watcher reloads
// the file on write/create events, debounced so editors that write in
// multiple syscalls only trigger one reload.
//
// # Thread Safety
//
// Safe for concurrent use. Reloads are applied from a single goroutine.
type ExclusionWatcher struct {
	path     string
	manager  *Manager
	watcher  *fsnotify.Watcher
	debounce time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// NewExclusionWatcher creates a watcher for the given exclusion file.
//
// # Inputs
//
//   - path: Path to the exclusion file. The file does not have to exist
//     yet; it is picked up when created.
//   - manager: Manager whose exclusion set is replaced on each reload.
//
// # Outputs
//
//   - *ExclusionWatcher: Ready-to-use watcher (call Start).
//   - error: Non-nil if the underlying fsnotify watcher could not be
//     created.
func NewExclusionWatcher(path string, manager *Manager) (*ExclusionWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &ExclusionWatcher{
		path:     path,
		manager:  manager,
		watcher:  watcher,
		debounce: 100 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// Start performs an initial load and begins watching for changes.
//
// The parent directory is watched rather than the file itself so that
// atomic rename-over-write (the common editor save strategy) is seen.
func (w *ExclusionWatcher) Start(ctx context.Context) error {
	if err := w.reload(); err != nil && !os.IsNotExist(err) {
		return err
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.loop(ctx)
	return nil
}

// Stop stops the watcher. Safe to call multiple times.
func (w *ExclusionWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *ExclusionWatcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			if err := w.reload(); err != nil {
				slog.Warn("exclusion reload failed", "path", w.path, "error", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("exclusion watcher error", "error", err)
		}
	}
}

// reload parses the exclusion file and replaces the manager's set.
// A missing file clears the set.
func (w *ExclusionWatcher) reload() error {
	file, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			w.manager.SetExcluded(nil)
			return err
		}
		return err
	}
	defer file.Close()

	var excluded []datatypes.ModelKey
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key := datatypes.ModelKey(line)
		if err := key.Validate(); err != nil {
			slog.Warn("skipping malformed exclusion entry", "line", line, "error", err)
			continue
		}
		excluded = append(excluded, key)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	w.manager.SetExcluded(excluded)
	slog.Info("model exclusions reloaded", "path", w.path, "count", len(excluded))
	return nil
}
