// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"testing"
)

// =============================================================================
// STREAM ACCUMULATOR
// =============================================================================

func TestAccumulatorCollectsDeltas(t *testing.T) {
	acc := NewStreamAccumulator()
	for _, chunk := range []MessageChunk{
		{Delta: "Hel"},
		{Delta: "lo"},
		{Done: true, Usage: &TokenUsage{Input: 7, Output: 2}},
	} {
		acc.Append(chunk)
	}

	if acc.Content() != "Hello" {
		t.Errorf("Content = %q, want Hello", acc.Content())
	}
	usage := acc.Usage()
	if usage == nil || usage.Input != 7 || usage.Output != 2 {
		t.Errorf("Usage = %+v", usage)
	}
}

func TestAccumulatorUsageIsACopy(t *testing.T) {
	acc := NewStreamAccumulator()
	reported := &TokenUsage{Input: 1, Output: 1}
	acc.Append(MessageChunk{Usage: reported})

	reported.Output = 999
	if acc.Usage().Output != 1 {
		t.Error("captured usage must not alias the chunk's value")
	}

	first := acc.Usage()
	first.Input = 999
	if acc.Usage().Input != 1 {
		t.Error("Usage must return an independent copy each call")
	}
}

func TestAccumulatorSnapshot(t *testing.T) {
	acc := NewStreamAccumulator()
	acc.Append(MessageChunk{Delta: "partial"})

	msg := acc.Snapshot("qwen2.5-coder:7b", "connection reset")
	if msg.Role != RoleAssistant {
		t.Errorf("Role = %v", msg.Role)
	}
	if msg.Content != "partial" {
		t.Errorf("Content = %q", msg.Content)
	}
	if msg.Metadata.ModelID != "qwen2.5-coder:7b" {
		t.Errorf("ModelID = %q", msg.Metadata.ModelID)
	}
	if msg.Metadata.ErrorText != "connection reset" {
		t.Errorf("ErrorText = %q", msg.Metadata.ErrorText)
	}
	if msg.ID == "" || msg.Timestamp.IsZero() {
		t.Error("snapshot should carry the accumulator's id and start time")
	}
	if msg.Usage != nil {
		t.Error("Usage should be nil when the backend never reported it")
	}
}

// =============================================================================
// MESSAGES AND SESSIONS
// =============================================================================

func TestNewUserMessageCopiesItems(t *testing.T) {
	items := []ContextItem{{ID: "a", Content: "original"}}
	msg := NewUserMessage("hi", items)

	items[0].Content = "mutated"
	if msg.ContextItems[0].Content != "original" {
		t.Error("message items must not alias the caller's slice")
	}
	if msg.Role != RoleUser || msg.ID == "" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestNewSessionDefaultTitle(t *testing.T) {
	s := NewSession("", "ollama", "m")
	if s.Title != "New conversation" {
		t.Errorf("Title = %q", s.Title)
	}
	if s.ID == "" || s.CreatedAt.IsZero() {
		t.Error("session should get an id and creation time")
	}

	named := NewSession("my chat", "ollama", "m")
	if named.Title != "my chat" {
		t.Errorf("Title = %q", named.Title)
	}
}

func TestRoleDisplayName(t *testing.T) {
	cases := []struct {
		role Role
		want string
	}{
		{RoleUser, "User"},
		{RoleAssistant, "Assistant"},
		{RoleSystem, "System"},
		{Role("tool"), "tool"},
	}
	for _, tc := range cases {
		if got := tc.role.DisplayName(); got != tc.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tc.role, got, tc.want)
		}
	}
}

func TestTokenUsageTotal(t *testing.T) {
	if got := (TokenUsage{Input: 12, Output: 30}).Total(); got != 42 {
		t.Errorf("Total = %d, want 42", got)
	}
}

// =============================================================================
// CONTEXT ITEMS
// =============================================================================

func TestCloneItems(t *testing.T) {
	if CloneItems(nil) != nil {
		t.Error("CloneItems(nil) should stay nil")
	}

	items := []ContextItem{{ID: "a", TokenCount: 5}, {ID: "b", TokenCount: 7}}
	clone := CloneItems(items)
	clone[0].TokenCount = 100
	if items[0].TokenCount != 5 {
		t.Error("clone must not alias the source")
	}
	if TotalTokens(items) != 12 {
		t.Errorf("TotalTokens = %d, want 12", TotalTokens(items))
	}
}

func TestTypeLabel(t *testing.T) {
	cases := []struct {
		item ContextItem
		want string
	}{
		{ContextItem{Kind: KindFile, Language: "go"}, "go file"},
		{ContextItem{Kind: KindFile}, "file"},
		{ContextItem{Kind: KindClipboard}, "clipboard"},
		{ContextItem{Kind: KindDirectory}, "directory"},
	}
	for _, tc := range cases {
		if got := tc.item.TypeLabel(); got != tc.want {
			t.Errorf("TypeLabel = %q, want %q", got, tc.want)
		}
	}
}
