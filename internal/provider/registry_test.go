// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"testing"

	"github.com/morganforge/promptdeck/internal/model"
)

// fakeProvider counts SendMessage calls so tests can assert that invalid
// dispatches never reach the network path.
type fakeProvider struct {
	id        string
	models    []model.LLMModel
	sendCalls int
}

func newFakeProvider(id string, modelIDs ...string) *fakeProvider {
	models := make([]model.LLMModel, 0, len(modelIDs))
	for _, mid := range modelIDs {
		models = append(models, model.LLMModel{ID: mid, ProviderID: id, ContextWindowTokens: 8192})
	}
	return &fakeProvider{id: id, models: models}
}

func (f *fakeProvider) ID() string   { return f.id }
func (f *fakeProvider) Name() string { return f.id }

func (f *fakeProvider) Capabilities() map[Capability]bool {
	return map[Capability]bool{CapChat: true, CapStreaming: true}
}

func (f *fakeProvider) Authenticate(context.Context, map[string]string) error { return nil }
func (f *fakeProvider) Models(context.Context) []model.LLMModel               { return f.models }
func (f *fakeProvider) SupportedModels() []model.LLMModel                     { return f.models }
func (f *fakeProvider) HealthCheck(context.Context) bool                      { return true }
func (f *fakeProvider) Metrics() model.ProviderMetrics                        { return model.ProviderMetrics{} }

func (f *fakeProvider) SendMessage(ctx context.Context, text string, items []model.ContextItem, m model.LLMModel, params model.LLMParameters) (<-chan model.MessageChunk, error) {
	f.sendCalls++
	ch := make(chan model.MessageChunk, 2)
	ch <- model.MessageChunk{Delta: "ok"}
	ch <- model.MessageChunk{Done: true}
	close(ch)
	return ch, nil
}

// =============================================================================
// REGISTRY MEMBERSHIP
// =============================================================================

func TestFirstProviderBecomesCurrent(t *testing.T) {
	r := NewRegistry()
	r.Add(newFakeProvider("a", "m1"))
	r.Add(newFakeProvider("b", "m2"))

	if current := r.Current(); current == nil || current.ID() != "a" {
		t.Errorf("Current = %v, want a", current)
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}
}

func TestSetCurrent(t *testing.T) {
	r := NewRegistry()
	r.Add(newFakeProvider("a", "m1"))
	r.Add(newFakeProvider("b", "m2"))

	if err := r.SetCurrent("b"); err != nil {
		t.Fatalf("SetCurrent failed: %v", err)
	}
	if r.Current().ID() != "b" {
		t.Errorf("Current = %q, want b", r.Current().ID())
	}

	if err := r.SetCurrent("missing"); err == nil {
		t.Error("SetCurrent of unknown provider should fail")
	}
}

func TestRemoveCurrentSelectsFirstRemaining(t *testing.T) {
	r := NewRegistry()
	r.Add(newFakeProvider("a", "m1"))
	r.Add(newFakeProvider("b", "m2"))
	r.Add(newFakeProvider("c", "m3"))
	r.SetCurrent("b")

	if !r.Remove("b") {
		t.Fatal("Remove(\"b\") = false")
	}
	if current := r.Current(); current == nil || current.ID() != "a" {
		t.Errorf("Current after removal = %v, want a (first in registration order)", current)
	}
}

func TestRemoveLastProvider(t *testing.T) {
	r := NewRegistry()
	r.Add(newFakeProvider("a", "m1"))
	r.Remove("a")

	if r.Current() != nil {
		t.Error("Current should be nil after removing the only provider")
	}
	if r.Remove("a") {
		t.Error("double Remove should report false")
	}
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		r.Add(newFakeProvider(id, "m"))
	}

	list := r.List()
	for i, want := range []string{"c", "a", "b"} {
		if list[i].ID() != want {
			t.Errorf("List[%d] = %q, want %q", i, list[i].ID(), want)
		}
	}
}

// =============================================================================
// DISPATCH
// =============================================================================

func TestSendUnsupportedModelFailsBeforeNetwork(t *testing.T) {
	fake := newFakeProvider("a", "supported-model")
	r := NewRegistry()
	r.Add(fake)

	_, err := r.Send(context.Background(), "hi", nil, SendConfig{
		Model: model.LLMModel{ID: "other-model", ProviderID: "a"},
	})
	if KindOf(err) != KindModelNotAvailable {
		t.Fatalf("err = %v, want KindModelNotAvailable", err)
	}
	if fake.sendCalls != 0 {
		t.Errorf("SendMessage was called %d times, want 0 (no network call)", fake.sendCalls)
	}
}

func TestSendWithoutProviders(t *testing.T) {
	r := NewRegistry()
	_, err := r.Send(context.Background(), "hi", nil, SendConfig{})
	if KindOf(err) != KindNotConfigured {
		t.Errorf("err = %v, want KindNotConfigured", err)
	}
}

func TestSendDispatchesToCurrent(t *testing.T) {
	fake := newFakeProvider("a", "m1")
	r := NewRegistry()
	r.Add(fake)

	ch, err := r.Send(context.Background(), "hi", nil, SendConfig{
		Model: model.LLMModel{ID: "m1", ProviderID: "a"},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	var content string
	for chunk := range ch {
		content += chunk.Delta
	}
	if content != "ok" {
		t.Errorf("streamed content = %q, want \"ok\"", content)
	}
	if fake.sendCalls != 1 {
		t.Errorf("sendCalls = %d, want 1", fake.sendCalls)
	}
}
