// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"sync"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// STALENESS WATCHER
// =============================================================================

// StalenessWatcher tracks resolved file items and marks them stale when the
// underlying file changes on disk. It is advisory only: token counts are
// never recomputed implicitly, so a stale item stays in the store until the
// caller re-resolves it.
type StalenessWatcher struct {
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	stale map[string]bool // item id (file path) -> stale

	// OnStale, when set, is called once per path as it becomes stale.
	OnStale func(path string)

	done chan struct{}
}

// NewStalenessWatcher creates a watcher. Call Close to release the
// underlying fsnotify resources.
func NewStalenessWatcher() (*StalenessWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	sw := &StalenessWatcher{
		watcher: fw,
		stale:   make(map[string]bool),
		done:    make(chan struct{}),
	}
	go sw.processEvents()

	return sw, nil
}

// Track begins watching the file backing a resolved item. Tracking the same
// path again resets its staleness, which is what a re-resolve wants.
func (sw *StalenessWatcher) Track(path string) error {
	sw.mu.Lock()
	sw.stale[path] = false
	sw.mu.Unlock()
	return sw.watcher.Add(path)
}

// Untrack stops watching a path, typically after the item is removed from
// the context store.
func (sw *StalenessWatcher) Untrack(path string) {
	sw.mu.Lock()
	delete(sw.stale, path)
	sw.mu.Unlock()
	sw.watcher.Remove(path)
}

// IsStale reports whether the path changed since it was last tracked.
func (sw *StalenessWatcher) IsStale(path string) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.stale[path]
}

// StalePaths returns all currently stale paths.
func (sw *StalenessWatcher) StalePaths() []string {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	var paths []string
	for path, isStale := range sw.stale {
		if isStale {
			paths = append(paths, path)
		}
	}
	return paths
}

// Close stops the watcher and releases its resources.
func (sw *StalenessWatcher) Close() error {
	close(sw.done)
	return sw.watcher.Close()
}

func (sw *StalenessWatcher) processEvents() {
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			sw.markStale(event.Name)
		case _, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; staleness is best-effort.
		}
	}
}

func (sw *StalenessWatcher) markStale(path string) {
	sw.mu.Lock()
	_, tracked := sw.stale[path]
	already := sw.stale[path]
	if tracked {
		sw.stale[path] = true
	}
	sw.mu.Unlock()

	if tracked && !already && sw.OnStale != nil {
		sw.OnStale(path)
	}
}
