// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/morganforge/promptdeck/internal/model"
)

// =============================================================================
// STREAM READER
// =============================================================================

// streamReader parses Ollama's line-delimited JSON chat stream into
// normalized message chunks.
type streamReader struct {
	reader *bufio.Reader

	// usage captured from the terminal line, reported once at completion.
	usage        *model.TokenUsage
	evalDuration time.Duration
}

func newStreamReader(r io.Reader) *streamReader {
	return &streamReader{reader: bufio.NewReader(r)}
}

// process reads lines until the done sentinel, clean EOF, or an error.
// The sentinel and a clean EOF both complete the stream successfully; a
// mid-stream transport failure is returned as the error.
func (s *streamReader) process(ctx context.Context, emit func(model.MessageChunk) bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// Clean content exhaustion without the done flag is not
				// an error; process any trailing partial line first.
				if len(line) > 0 {
					if _, err := s.emitLine(line, emit); err != nil {
						return err
					}
				}
				return nil
			}
			return err
		}
		if len(line) <= 1 {
			continue
		}

		done, err := s.emitLine(line, emit)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// emitLine parses one line and forwards it. Returns done on the terminal
// sentinel and context.Canceled when emit refuses the chunk; an abandoned
// stream must never be mistaken for a completed one. Malformed lines are
// skipped.
func (s *streamReader) emitLine(line []byte, emit func(model.MessageChunk) bool) (bool, error) {
	var resp streamLine
	if err := json.Unmarshal(line, &resp); err != nil {
		return false, nil
	}

	chunk := model.MessageChunk{Delta: resp.Message.Content, Done: resp.Done}
	if resp.Done {
		if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
			s.usage = &model.TokenUsage{Input: resp.PromptEvalCount, Output: resp.EvalCount}
			chunk.Usage = s.usage
		}
		s.evalDuration = time.Duration(resp.EvalDuration)
	}

	if !emit(chunk) {
		return false, context.Canceled
	}
	return resp.Done, nil
}

// tokensPerSecond derives throughput from the terminal line's eval stats.
func (s *streamReader) tokensPerSecond() float64 {
	if s.usage == nil || s.evalDuration == 0 {
		return 0
	}
	return float64(s.usage.Output) / s.evalDuration.Seconds()
}
