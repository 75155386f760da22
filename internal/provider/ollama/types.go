// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama adapts a local Ollama server to the provider contract.
package ollama

import (
	"github.com/morganforge/promptdeck/internal/provider"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// chatRequest is the request body for the /api/chat endpoint.
type chatRequest struct {
	Model    string                 `json:"model"`
	Messages []provider.ChatMessage `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  *chatOptions           `json:"options,omitempty"`
}

// chatOptions carries the sampling parameters in Ollama's naming.
type chatOptions struct {
	Temperature      float64  `json:"temperature,omitempty"`
	TopP             float64  `json:"top_p,omitempty"`
	FrequencyPenalty float64  `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64  `json:"presence_penalty,omitempty"`
	NumPredict       int      `json:"num_predict,omitempty"`
	Stop             []string `json:"stop,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// streamLine is one line of the line-delimited JSON chat stream.
type streamLine struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	EvalDuration    int64  `json:"eval_duration,omitempty"` // nanoseconds
}

// apiError is the error body Ollama returns on non-200 responses.
type apiError struct {
	Error string `json:"error"`
}

// tagsResponse is the response from /api/tags.
type tagsResponse struct {
	Models []tagModel `json:"models"`
}

type tagModel struct {
	Name string `json:"name"`
}
