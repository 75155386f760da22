// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// TOKEN USAGE
// =============================================================================

// TokenUsage records the backend-reported token counts for one exchange.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Total returns Input + Output.
func (u TokenUsage) Total() int {
	return u.Input + u.Output
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// MessageMetadata carries per-message diagnostics.
type MessageMetadata struct {
	LatencySeconds float64 `json:"latency_seconds,omitempty"`
	ModelID        string  `json:"model_id,omitempty"`
	ErrorText      string  `json:"error_text,omitempty"`
}

// Message is a single conversation turn. Messages are immutable once
// persisted; only the trailing assistant message mutates while streaming.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	Usage *TokenUsage `json:"usage,omitempty"`

	// ContextItems are the items attached at send time, copied from the
	// live context store so later edits do not alter history.
	ContextItems []ContextItem `json:"context_items,omitempty"`

	Metadata MessageMetadata `json:"metadata,omitempty"`
}

// NewMessage creates a message with a generated ID and current timestamp.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a user message carrying the given context items.
func NewUserMessage(content string, items []ContextItem) *Message {
	msg := NewMessage(RoleUser, content)
	msg.ContextItems = CloneItems(items)
	return msg
}

// =============================================================================
// STREAM ACCUMULATOR
// =============================================================================

// StreamAccumulator collects chunk deltas for an in-progress assistant
// message. The owning controller is the single writer; other consumers
// only ever see immutable snapshots.
type StreamAccumulator struct {
	id      string
	started time.Time
	builder strings.Builder
	usage   *TokenUsage
}

// NewStreamAccumulator starts an empty accumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{
		id:      uuid.NewString(),
		started: time.Now(),
	}
}

// Append adds one chunk's delta and captures usage from the terminal chunk.
func (a *StreamAccumulator) Append(chunk MessageChunk) {
	if chunk.Delta != "" {
		a.builder.WriteString(chunk.Delta)
	}
	if chunk.Usage != nil {
		u := *chunk.Usage
		a.usage = &u
	}
}

// Content returns the text accumulated so far.
func (a *StreamAccumulator) Content() string {
	return a.builder.String()
}

// Usage returns the captured usage, or nil if the backend never reported it.
func (a *StreamAccumulator) Usage() *TokenUsage {
	if a.usage == nil {
		return nil
	}
	u := *a.usage
	return &u
}

// Snapshot freezes the accumulator into an assistant message. A non-empty
// errText marks a turn that failed mid-stream; the partial content is kept.
func (a *StreamAccumulator) Snapshot(modelID string, errText string) *Message {
	msg := &Message{
		ID:        a.id,
		Role:      RoleAssistant,
		Content:   a.builder.String(),
		Timestamp: a.started,
	}
	if a.usage != nil {
		u := *a.usage
		msg.Usage = &u
	}
	msg.Metadata.ModelID = modelID
	msg.Metadata.ErrorText = errText
	msg.Metadata.LatencySeconds = time.Since(a.started).Seconds()
	return msg
}

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session is a persisted conversation.
type Session struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	CreatedAt      time.Time  `json:"created_at"`
	LastModifiedAt time.Time  `json:"last_modified_at"`
	IsArchived     bool       `json:"is_archived"`
	ProviderID     string     `json:"provider_id"`
	ModelID        string     `json:"model_id"`
	Messages       []*Message `json:"messages"`
}

// NewSession creates a session with a generated ID.
func NewSession(title, providerID, modelID string) *Session {
	now := time.Now()
	if title == "" {
		title = "New conversation"
	}
	return &Session{
		ID:             uuid.NewString(),
		Title:          title,
		CreatedAt:      now,
		LastModifiedAt: now,
		ProviderID:     providerID,
		ModelID:        modelID,
	}
}

// SessionSummary is the listing shape returned by session search.
type SessionSummary struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"created_at"`
	LastModifiedAt time.Time `json:"last_modified_at"`
	IsArchived     bool      `json:"is_archived"`
	ProviderID     string    `json:"provider_id"`
	ModelID        string    `json:"model_id"`
	MessageCount   int       `json:"message_count"`
	Preview        string    `json:"preview"`
}
