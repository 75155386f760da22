// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the context,
// provider, and session layers.
package model

import (
	"time"
)

// =============================================================================
// ITEM KIND
// =============================================================================

// ItemKind classifies the origin of a context item.
type ItemKind int

const (
	KindFile ItemKind = iota
	KindDirectory
	KindClipboard
	KindSelection
	KindOutput
	KindURL
)

// String returns the string representation of the item kind.
func (k ItemKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindClipboard:
		return "clipboard"
	case KindSelection:
		return "selection"
	case KindOutput:
		return "output"
	case KindURL:
		return "url"
	default:
		return "unknown"
	}
}

// =============================================================================
// CONTEXT ITEM
// =============================================================================

// ItemMetadata carries advisory information about a context item.
// It never affects core behavior except where an optimizer strategy
// explicitly consults it.
type ItemMetadata struct {
	FileSize  int64   `json:"file_size,omitempty"`
	LineCount int     `json:"line_count,omitempty"`
	Language  string  `json:"language,omitempty"`
	VCSStatus string  `json:"vcs_status,omitempty"`
	Relevance float64 `json:"relevance,omitempty"` // 0..1, consulted by the smart strategy
}

// ContextItem is a resolved, self-contained unit of context injected into
// a prompt. TokenCount is computed once at resolution time and treated as
// immutable; callers re-resolve to observe source changes.
type ContextItem struct {
	ID           string       `json:"id"`
	Kind         ItemKind     `json:"kind"`
	Language     string       `json:"language,omitempty"` // for file items
	SourcePath   string       `json:"source_path"`
	DisplayName  string       `json:"display_name"`
	Content      string       `json:"content"`
	TokenCount   int          `json:"token_count"`
	LastModified time.Time    `json:"last_modified"`
	Metadata     ItemMetadata `json:"metadata,omitempty"`
}

// Clone returns a copy of the item. Context items are copied into persisted
// messages so that later mutation of the live context does not alter history.
func (c ContextItem) Clone() ContextItem {
	return c
}

// TypeLabel returns the human-facing label used in prompt framing and
// export output.
func (c ContextItem) TypeLabel() string {
	if c.Kind == KindFile && c.Language != "" {
		return c.Language + " file"
	}
	return c.Kind.String()
}

// CloneItems copies a slice of context items.
func CloneItems(items []ContextItem) []ContextItem {
	if items == nil {
		return nil
	}
	out := make([]ContextItem, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// TotalTokens sums the token counts of the given items.
func TotalTokens(items []ContextItem) int {
	total := 0
	for _, it := range items {
		total += it.TokenCount
	}
	return total
}
