// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/morganforge/promptdeck/internal/model"
)

// =============================================================================
// SSE STREAM READER
// =============================================================================

// maxEventSize caps a single SSE event line (64KB).
const maxEventSize = 64 * 1024

// doneSentinel is OpenRouter's explicit end-of-stream marker.
var doneSentinel = []byte("[DONE]")

// sseEvent is the JSON payload of one "data:" line.
type sseEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// streamReader parses server-sent events into normalized chunks.
type streamReader struct {
	scanner *bufio.Scanner
	usage   *model.TokenUsage
}

func newStreamReader(r io.Reader) *streamReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxEventSize)
	return &streamReader{scanner: scanner}
}

// process reads events until the [DONE] sentinel, clean EOF, or an error.
// Usage reported inline is captured and attached to the terminal chunk
// only; no delta is emitted after the sentinel.
func (s *streamReader) process(ctx context.Context, emit func(model.MessageChunk) bool) error {
	for s.scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data:")) {
			// Comments and other SSE fields are ignored.
			continue
		}
		payload := bytes.TrimSpace(line[len("data:"):])

		if bytes.Equal(payload, doneSentinel) {
			emit(model.MessageChunk{Done: true, Usage: s.usage})
			return nil
		}

		var event sseEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			// Skip malformed events rather than killing the stream.
			continue
		}
		if event.Usage != nil {
			s.usage = &model.TokenUsage{
				Input:  event.Usage.PromptTokens,
				Output: event.Usage.CompletionTokens,
			}
		}
		if len(event.Choices) == 0 {
			continue
		}

		delta := event.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if !emit(model.MessageChunk{Delta: delta}) {
			return context.Canceled
		}
	}

	if err := s.scanner.Err(); err != nil {
		return err
	}
	// The connection ended without the sentinel: clean content exhaustion
	// completes the stream successfully.
	emit(model.MessageChunk{Done: true, Usage: s.usage})
	return nil
}
