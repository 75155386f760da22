// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newWatcher(t *testing.T) *StalenessWatcher {
	t.Helper()
	sw, err := NewStalenessWatcher()
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	t.Cleanup(func() { sw.Close() })
	return sw
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func waitStale(t *testing.T, sw *StalenessWatcher, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sw.IsStale(path) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never became stale", path)
}

func TestWatcherMarksModifiedFileStale(t *testing.T) {
	sw := newWatcher(t)
	path := filepath.Join(t.TempDir(), "tracked.go")
	writeFile(t, path, "package a\n")

	if err := sw.Track(path); err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if sw.IsStale(path) {
		t.Fatal("freshly tracked file should not be stale")
	}

	writeFile(t, path, "package a // changed\n")
	waitStale(t, sw, path)

	if got := sw.StalePaths(); len(got) != 1 || got[0] != path {
		t.Errorf("StalePaths = %v", got)
	}
}

func TestRetrackResetsStaleness(t *testing.T) {
	sw := newWatcher(t)
	path := filepath.Join(t.TempDir(), "tracked.go")
	writeFile(t, path, "one\n")

	if err := sw.Track(path); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "two\n")
	waitStale(t, sw, path)

	// Re-resolving the item tracks the path again and clears the flag.
	if err := sw.Track(path); err != nil {
		t.Fatal(err)
	}
	if sw.IsStale(path) {
		t.Error("re-tracked path should start fresh")
	}
}

func TestUntrackedPathNeverStale(t *testing.T) {
	sw := newWatcher(t)
	if sw.IsStale("/nowhere/special.txt") {
		t.Error("unknown paths should report not stale")
	}
	sw.Untrack("/nowhere/special.txt")
	if len(sw.StalePaths()) != 0 {
		t.Errorf("StalePaths = %v, want empty", sw.StalePaths())
	}
}
