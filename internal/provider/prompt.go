// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"strings"

	"github.com/morganforge/promptdeck/internal/model"
)

// =============================================================================
// CONTEXT-TO-PROMPT FRAMING
// =============================================================================

// Context items are serialized into exactly one system-role message; the
// framing is never split across multiple backend messages. Adapters for
// every backend family share this serialization so the model sees the same
// structure regardless of provider.

// contextPreamble opens the system message when context items are present.
const contextPreamble = "The user has attached the following context to this conversation."

// contextInstruction closes the system message.
const contextInstruction = "Use this context when responding to the user's message."

// FrameContext serializes context items into the system message body.
// Returns "" when there are no items.
func FrameContext(items []model.ContextItem) string {
	if len(items) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(contextPreamble)
	sb.WriteString("\n\n")

	for _, item := range items {
		sb.WriteString("## ")
		sb.WriteString(item.DisplayName)
		sb.WriteString("\n")
		sb.WriteString("Path: ")
		sb.WriteString(item.SourcePath)
		sb.WriteString("\n")
		sb.WriteString("Type: ")
		sb.WriteString(item.TypeLabel())
		sb.WriteString("\n")
		sb.WriteString("```\n")
		sb.WriteString(item.Content)
		if !strings.HasSuffix(item.Content, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("```\n\n")
	}

	sb.WriteString(contextInstruction)
	return sb.String()
}

// ChatMessage is the provider-neutral wire message shape shared by the
// adapter request builders.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildMessages assembles the outgoing message list: the framed context as
// a single system message (when present) followed by the user text.
func BuildMessages(text string, items []model.ContextItem) []ChatMessage {
	var messages []ChatMessage
	if framed := FrameContext(items); framed != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: framed})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: text})
	return messages
}
