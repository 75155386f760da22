// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry emits diagnostic events about application lifecycle
// and user actions. Emission is best-effort: a failing sink never fails
// the operation being observed.
package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// EVENT TAXONOMY
// =============================================================================

// EventKind names a diagnostic event.
type EventKind string

const (
	EventAppLaunched     EventKind = "appLaunched"
	EventAppTerminated   EventKind = "appTerminated"
	EventSessionCreated  EventKind = "sessionCreated"
	EventSessionDeleted  EventKind = "sessionDeleted"
	EventProviderAdded   EventKind = "providerAdded"
	EventProviderRemoved EventKind = "providerRemoved"
	EventContextAdded    EventKind = "contextAdded"
	EventContextRemoved  EventKind = "contextRemoved"
	EventExportCompleted EventKind = "exportCompleted"
	EventImportCompleted EventKind = "importCompleted"
	EventCustom          EventKind = "customEvent"
)

// Event is one diagnostic record.
type Event struct {
	Kind       EventKind         `json:"kind"`
	Name       string            `json:"name,omitempty"` // set for customEvent
	Timestamp  time.Time         `json:"timestamp"`
	Properties map[string]string `json:"properties,omitempty"`
}

// =============================================================================
// SINK INTERFACE
// =============================================================================

// Sink receives diagnostic events. Implementations must not block the
// caller for long and must tolerate concurrent emission.
type Sink interface {
	Emit(event Event)
	Close() error
}

// =============================================================================
// EMITTER
// =============================================================================

// Emitter is the front door callers hold. A nil-sink emitter is valid and
// drops everything.
type Emitter struct {
	sink Sink
}

// NewEmitter wraps a sink; a nil sink disables emission.
func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink}
}

// Record emits a taxonomy event with optional properties.
func (e *Emitter) Record(kind EventKind, properties map[string]string) {
	if e == nil || e.sink == nil {
		return
	}
	e.sink.Emit(Event{
		Kind:       kind,
		Timestamp:  time.Now(),
		Properties: properties,
	})
}

// RecordCustom emits a customEvent with a free-form name.
func (e *Emitter) RecordCustom(name string, properties map[string]string) {
	if e == nil || e.sink == nil {
		return
	}
	e.sink.Emit(Event{
		Kind:       EventCustom,
		Name:       name,
		Timestamp:  time.Now(),
		Properties: properties,
	})
}

// Close closes the underlying sink.
func (e *Emitter) Close() error {
	if e == nil || e.sink == nil {
		return nil
	}
	return e.sink.Close()
}

// =============================================================================
// SINKS
// =============================================================================

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(Event)   {}
func (NopSink) Close() error { return nil }

// FileSink appends events as JSON lines to a local file. Write errors are
// swallowed; diagnostics never break the app.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (or creates) the events file in append mode.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f}, nil
}

// Emit appends one JSON line.
func (s *FileSink) Emit(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.Write(append(data, '\n'))
}

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
