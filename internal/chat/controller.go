// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat owns the per-conversation send pipeline: context
// optimization, provider dispatch, stream accumulation, and persistence.
package chat

import (
	stdctx "context"
	"strings"
	"sync"

	appctx "github.com/morganforge/promptdeck/internal/context"
	"github.com/morganforge/promptdeck/internal/model"
	"github.com/morganforge/promptdeck/internal/provider"
	"github.com/morganforge/promptdeck/internal/session"
	"github.com/morganforge/promptdeck/internal/telemetry"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// replyHeadroomTokens is reserved out of the model's context window for
// the generated reply; context items are optimized into what remains.
const replyHeadroomTokens = 1024

// Config wires the controller's collaborators. Store and Telemetry may be
// nil; persistence and diagnostics are then skipped.
type Config struct {
	Registry  *provider.Registry
	Context   *appctx.Store
	Optimizer *appctx.Optimizer
	Store     session.Store
	Telemetry *telemetry.Emitter

	// Strategy used when the attached context exceeds the budget.
	Strategy appctx.Strategy
}

// =============================================================================
// UPDATES
// =============================================================================

// Update is one observable step of an in-flight generation. Content is the
// full accumulated text so far, not a delta; consumers may render it
// directly without tracking state.
type Update struct {
	Content string
	Done    bool
	Usage   *model.TokenUsage
	Err     error
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller drives one conversation. At most one generation is in flight;
// a new Send cancels the previous one first. Cancellation propagates
// downward only: the abandoned stream settles without touching metrics.
type Controller struct {
	cfg Config

	mu      sync.Mutex
	session *model.Session
	cancel  stdctx.CancelFunc
	gen     int
}

// NewController creates a controller for a fresh conversation.
func NewController(cfg Config) *Controller {
	if cfg.Optimizer == nil {
		cfg.Optimizer = appctx.NewOptimizer()
	}
	return &Controller{cfg: cfg}
}

// Session returns the current session, or nil before the first send.
func (c *Controller) Session() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Cancel aborts the in-flight generation, if any.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Send runs one conversation turn and returns the update stream. The
// returned channel is closed when the turn settles; the final update
// carries Done and, on failure, the error alongside whatever partial
// content was received.
func (c *Controller) Send(ctx stdctx.Context, text string, cfg provider.SendConfig) (<-chan Update, error) {
	items := c.prepareContext(text, cfg.Model)

	c.mu.Lock()
	if c.cancel != nil {
		// A new send supersedes the previous generation.
		c.cancel()
	}
	sendCtx, cancel := stdctx.WithCancel(ctx)
	c.cancel = cancel
	c.gen++
	gen := c.gen

	if c.session == nil {
		c.session = model.NewSession(firstLine(text), cfg.Model.ProviderID, cfg.Model.ID)
		if c.cfg.Store != nil {
			if err := c.cfg.Store.CreateSession(sendCtx, c.session); err != nil {
				c.noteStorageFailure("createSession", err)
			} else {
				c.cfg.Telemetry.Record(telemetry.EventSessionCreated,
					map[string]string{"session_id": c.session.ID})
			}
		}
	}
	sess := c.session
	c.mu.Unlock()

	userMsg := model.NewUserMessage(text, items)

	chunks, err := c.cfg.Registry.Send(sendCtx, text, items, cfg)
	if err != nil {
		cancel()
		c.clearCancel(gen)
		return nil, err
	}

	c.persistMessage(sendCtx, sess, userMsg)

	updates := make(chan Update)
	go c.consume(sendCtx, cancel, gen, sess, cfg.Model.ID, chunks, updates)
	return updates, nil
}

// prepareContext snapshots the attached items and optimizes them into the
// window that remains after the user text and reply headroom.
func (c *Controller) prepareContext(text string, m model.LLMModel) []model.ContextItem {
	var items []model.ContextItem
	if c.cfg.Context != nil {
		items = c.cfg.Context.Items()
	}
	if len(items) == 0 {
		return nil
	}

	budget := m.ContextWindowTokens - appctx.EstimateTokens(text) - replyHeadroomTokens
	if budget < 1 {
		budget = 1
	}
	return c.cfg.Optimizer.Optimize(items, budget, c.cfg.Strategy)
}

// consume accumulates chunks, forwards full-content updates, and settles
// the turn: persist on success or failure, skip persistence on abandon.
func (c *Controller) consume(ctx stdctx.Context, cancel stdctx.CancelFunc, gen int, sess *model.Session, modelID string, chunks <-chan model.MessageChunk, updates chan<- Update) {
	defer close(updates)
	defer c.clearCancel(gen)
	defer cancel()

	acc := model.NewStreamAccumulator()
	var streamErr error

	for chunk := range chunks {
		if chunk.Err != nil {
			streamErr = chunk.Err
			break
		}
		acc.Append(chunk)
		if chunk.Done {
			break
		}
		select {
		case updates <- Update{Content: acc.Content()}:
		case <-ctx.Done():
			// Abandoned: drain the provider channel so it can settle,
			// then drop the turn without persisting.
			for range chunks {
			}
			return
		}
	}

	errText := ""
	if streamErr != nil {
		errText = streamErr.Error()
	}
	assistant := acc.Snapshot(modelID, errText)

	// Failed turns keep their partial content; the error rides along in
	// the message metadata.
	if ctx.Err() == nil || streamErr != nil {
		c.persistMessage(stdctx.Background(), sess, assistant)
	}

	final := Update{Content: assistant.Content, Done: true, Usage: assistant.Usage, Err: streamErr}
	select {
	case updates <- final:
	case <-ctx.Done():
	}
}

// clearCancel resets the stored cancel func if it still belongs to this
// generation; a newer Send may have replaced it already.
func (c *Controller) clearCancel(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.cancel = nil
	}
}

// persistMessage appends the message to the session value and, when a
// store is configured, saves it. Persistence is best-effort from the
// stream's point of view.
func (c *Controller) persistMessage(ctx stdctx.Context, sess *model.Session, msg *model.Message) {
	c.mu.Lock()
	sess.Messages = append(sess.Messages, msg)
	c.mu.Unlock()

	if c.cfg.Store == nil {
		return
	}
	if err := c.cfg.Store.SaveMessage(ctx, sess.ID, msg); err != nil {
		c.noteStorageFailure("saveMessage", err)
	}
}

func (c *Controller) noteStorageFailure(op string, err error) {
	c.cfg.Telemetry.RecordCustom("storageFailure", map[string]string{
		"operation": op,
		"error":     err.Error(),
	})
}

// firstLine derives a session title from the opening message.
func firstLine(text string) string {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	runes := []rune(line)
	if len(runes) > 50 {
		line = string(runes[:47]) + "..."
	}
	return line
}
