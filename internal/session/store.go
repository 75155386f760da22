// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session defines the persistence contract for conversations.
// Implementations live elsewhere (internal/storage); callers program
// against the Store interface and the error taxonomy here.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/morganforge/promptdeck/internal/export"
	"github.com/morganforge/promptdeck/internal/model"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// ErrorKind classifies persistence failures.
type ErrorKind int

const (
	// KindSessionNotFound: no session with the requested id.
	KindSessionNotFound ErrorKind = iota

	// KindMessageNotFound: the session exists but the message does not.
	KindMessageNotFound

	// KindStorageError: the underlying store failed (I/O, corruption).
	KindStorageError

	// KindInvalidFormat: an unsupported export format was requested.
	KindInvalidFormat
)

// String returns the stable identifier for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindSessionNotFound:
		return "sessionNotFound"
	case KindMessageNotFound:
		return "messageNotFound"
	case KindStorageError:
		return "storageError"
	case KindInvalidFormat:
		return "invalidFormat"
	default:
		return "unknown"
	}
}

// Error is a classified persistence error.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a classified error.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the kind from an error, or KindStorageError for
// unclassified errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorageError
}

// =============================================================================
// SEARCH FILTERS
// =============================================================================

// SearchFilters narrows a session search. The zero value matches all
// non-archived sessions.
type SearchFilters struct {
	// IncludeArchived also returns archived sessions.
	IncludeArchived bool

	// ProviderID restricts results to one provider when non-empty.
	ProviderID string

	// Limit caps the number of results (0 = no cap).
	Limit int
}

// =============================================================================
// STORE CONTRACT
// =============================================================================

// Store persists sessions and their messages.
//
// Implementations must be safe for concurrent use. A message saved into a
// session is immutable afterwards; GetSession returns deep-enough copies
// that callers cannot corrupt the stored state.
type Store interface {
	// CreateSession persists a new session shell.
	CreateSession(ctx context.Context, s *model.Session) error

	// GetSession loads a session with all its messages.
	// Returns KindSessionNotFound when the id is unknown.
	GetSession(ctx context.Context, id string) (*model.Session, error)

	// SaveMessage appends a message to an existing session and bumps the
	// session's last-modified time.
	SaveMessage(ctx context.Context, sessionID string, msg *model.Message) error

	// SearchSessions returns summaries matching the query (case-insensitive
	// substring over title and message content; empty query matches all),
	// most recently modified first.
	SearchSessions(ctx context.Context, query string, filters SearchFilters) ([]model.SessionSummary, error)

	// ArchiveSession marks a session archived; archived sessions are
	// excluded from search by default but remain loadable.
	ArchiveSession(ctx context.Context, id string) error

	// UnarchiveSession clears the archived flag.
	UnarchiveSession(ctx context.Context, id string) error

	// DeleteSession permanently removes a session and its messages.
	DeleteSession(ctx context.Context, id string) error

	// ExportSession renders a session in the given format.
	// Returns KindInvalidFormat for formats the exporter does not know.
	ExportSession(ctx context.Context, id string, format export.Format) ([]byte, error)

	// Close releases the underlying resources.
	Close() error
}
