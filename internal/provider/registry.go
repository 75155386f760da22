// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/morganforge/promptdeck/internal/model"
)

// =============================================================================
// SEND CONFIGURATION
// =============================================================================

// SendConfig carries the per-send model and sampling selection.
type SendConfig struct {
	Model      model.LLMModel
	Parameters model.LLMParameters
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds the configured provider adapters and tracks the current
// one. Dispatch validates model compatibility before any network call so
// provider-switching bugs are caught uniformly here, not just inside each
// adapter.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]Provider
	currentID string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Add registers a provider. The first provider added becomes current.
// Re-adding an existing id replaces the adapter and keeps its position.
func (r *Registry) Add(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	if _, exists := r.providers[id]; !exists {
		r.order = append(r.order, id)
	}
	r.providers[id] = p
	if r.currentID == "" {
		r.currentID = id
	}
}

// Remove deletes a provider. Removing the current provider selects the
// first remaining provider in list order, or none.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[id]; !exists {
		return false
	}
	delete(r.providers, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.currentID == id {
		r.currentID = ""
		if len(r.order) > 0 {
			r.currentID = r.order[0]
		}
	}
	return true
}

// Current returns the current provider, or nil when none is configured.
func (r *Registry) Current() Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.currentID == "" {
		return nil
	}
	return r.providers[r.currentID]
}

// SetCurrent switches the current provider.
func (r *Registry) SetCurrent(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[id]; !exists {
		return NewError(KindUnavailable, fmt.Sprintf("no provider %q configured", id), nil)
	}
	r.currentID = id
	return nil
}

// Get returns the provider with the given id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// List returns the providers in registration order.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id])
	}
	return out
}

// Len returns the number of configured providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// =============================================================================
// DISPATCH
// =============================================================================

// Send dispatches to the current provider after verifying the configured
// model is among its supported models. The model check fails with
// KindModelNotAvailable before any network call is made.
func (r *Registry) Send(ctx context.Context, text string, items []model.ContextItem, cfg SendConfig) (<-chan model.MessageChunk, error) {
	current := r.Current()
	if current == nil {
		return nil, NewError(KindNotConfigured, "no provider configured", nil)
	}

	if !SupportsModel(current, cfg.Model.ID) {
		return nil, NewError(KindModelNotAvailable,
			fmt.Sprintf("model %q is not available on provider %q", cfg.Model.ID, current.ID()), nil)
	}

	return current.SendMessage(ctx, text, items, cfg.Model, cfg.Parameters)
}
