// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider defines the capability-based abstraction that
// normalizes LLM backends behind one streaming interface.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/morganforge/promptdeck/internal/model"
)

// =============================================================================
// CAPABILITIES
// =============================================================================

// Capability names a feature a provider adapter implements.
type Capability string

const (
	CapChat           Capability = "chat"
	CapStreaming      Capability = "streaming"
	CapAuthentication Capability = "authentication"
	CapModelListing   Capability = "model-listing"
	CapHealthCheck    Capability = "health-check"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// ErrorKind categorizes provider errors for handling.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotConfigured
	KindAuthenticationFailed
	KindModelNotAvailable
	KindContextTooLarge
	KindInvalidParameters
	KindRateLimitExceeded
	KindNetwork
	KindUnavailable
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindNotConfigured:
		return "not configured"
	case KindAuthenticationFailed:
		return "authentication failed"
	case KindModelNotAvailable:
		return "model not available"
	case KindContextTooLarge:
		return "context too large"
	case KindInvalidParameters:
		return "invalid parameters"
	case KindRateLimitExceeded:
		return "rate limit exceeded"
	case KindNetwork:
		return "network error"
	case KindUnavailable:
		return "provider unavailable"
	default:
		return "unknown error"
	}
}

// Retryable reports whether a retry is meaningful for this kind. Rate
// limits and transient network failures are retryable; configuration and
// authentication problems are not.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimitExceeded || k == KindNetwork || k == KindUnavailable
}

// Error is the normalized provider error. Timeouts travel through
// KindNetwork like any other transport failure but keep their detail in
// Message for diagnosis.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error

	// CurrentTokens and MaxTokens are set for KindContextTooLarge.
	CurrentTokens int
	MaxTokens     int
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Kind == KindContextTooLarge && e.MaxTokens > 0 {
		msg = fmt.Sprintf("%s (%d tokens, limit %d)", msg, e.CurrentTokens, e.MaxTokens)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds a provider error of the given kind.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the error kind, or KindUnknown for foreign errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the error's kind is retryable.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// =============================================================================
// PROVIDER INTERFACE
// =============================================================================

// Provider is one backend family normalized behind the common streaming
// contract. The registry holds a homogeneous collection of this interface,
// never backend-specific types.
type Provider interface {
	// ID is the stable provider identifier (e.g. "openrouter", "ollama").
	ID() string

	// Name is the human-facing provider name.
	Name() string

	// Capabilities reports which optional features the adapter implements.
	Capabilities() map[Capability]bool

	// Authenticate verifies credentials with a live round-trip to the
	// backend before accepting them; offline format checks are not enough.
	Authenticate(ctx context.Context, credentials map[string]string) error

	// SendMessage opens a streaming request and returns a channel of
	// incremental chunks. The channel closes after the terminal chunk; a
	// stream failure is delivered as a final chunk with Err set. The
	// caller cancels by cancelling ctx, which must release the transport
	// promptly and record the request in neither success nor error
	// metrics.
	SendMessage(ctx context.Context, text string, items []model.ContextItem, m model.LLMModel, params model.LLMParameters) (<-chan model.MessageChunk, error)

	// Models fetches the live model list, falling back to the static
	// built-in list on any failure. It never fails outright.
	Models(ctx context.Context) []model.LLMModel

	// SupportedModels returns the models the adapter currently accepts
	// without a network call.
	SupportedModels() []model.LLMModel

	// HealthCheck probes the backend and updates the adapter's metrics.
	HealthCheck(ctx context.Context) bool

	// Metrics returns a snapshot of the adapter's provider metrics.
	Metrics() model.ProviderMetrics
}

// SupportsModel reports whether the provider lists the model id.
func SupportsModel(p Provider, modelID string) bool {
	for _, m := range p.SupportedModels() {
		if m.ID == modelID {
			return true
		}
	}
	return false
}

// =============================================================================
// REQUEST STATE MACHINE
// =============================================================================

// RequestState tracks one streaming request's lifecycle:
// Idle -> Sent -> Streaming -> {Completed | Failed | Cancelled}.
type RequestState int

const (
	StateIdle RequestState = iota
	StateSent
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

// String returns the state name.
func (s RequestState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSent:
		return "sent"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s RequestState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// RecordsMetrics reports whether a request ending in this state updates
// metrics. Completed and Failed do; Cancelled updates neither counter.
func (s RequestState) RecordsMetrics() bool {
	return s == StateCompleted || s == StateFailed
}

// validTransitions encodes the allowed state machine edges.
var validTransitions = map[RequestState][]RequestState{
	StateIdle:      {StateSent},
	StateSent:      {StateStreaming, StateFailed, StateCancelled},
	StateStreaming: {StateCompleted, StateFailed, StateCancelled},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to RequestState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
