// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/morganforge/promptdeck/internal/metrics"
	"github.com/morganforge/promptdeck/internal/model"
	"github.com/morganforge/promptdeck/internal/provider"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	// ProviderID identifies this adapter in the registry and metrics.
	ProviderID = "ollama"

	// DefaultBaseURL is the local Ollama endpoint.
	DefaultBaseURL = "http://127.0.0.1:11434"

	// chatTimeout bounds a full streamed completion.
	chatTimeout = 60 * time.Second

	// ancillaryTimeout bounds model listing and health checks.
	ancillaryTimeout = 30 * time.Second
)

// Config holds adapter configuration.
type Config struct {
	// BaseURL overrides the Ollama endpoint.
	BaseURL string

	// ContextWindowTokens is assumed for listed models; Ollama's tags
	// endpoint does not report it.
	ContextWindowTokens int
}

// =============================================================================
// ADAPTER
// =============================================================================

// Adapter implements provider.Provider against a local Ollama server.
// Ollama requires no credentials; Authenticate is a live reachability
// round-trip.
type Adapter struct {
	baseURL    string
	contextWin int

	httpClient *http.Client
	// streamClient has no client timeout; streaming lifetime is
	// controlled through the request context.
	streamClient *http.Client

	aggregator *metrics.Aggregator

	mu            sync.Mutex
	authenticated bool
	liveModels    []model.LLMModel
}

// New creates the adapter. The aggregator receives completion, error, and
// health-check events; it must not be nil.
func New(cfg Config, aggregator *metrics.Aggregator) *Adapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	contextWin := cfg.ContextWindowTokens
	if contextWin == 0 {
		contextWin = 8192
	}
	return &Adapter{
		baseURL:      strings.TrimRight(baseURL, "/"),
		contextWin:   contextWin,
		httpClient:   &http.Client{Timeout: ancillaryTimeout},
		streamClient: &http.Client{},
		aggregator:   aggregator,
	}
}

// ID returns the provider id.
func (a *Adapter) ID() string { return ProviderID }

// Name returns the human-facing name.
func (a *Adapter) Name() string { return "Ollama" }

// Capabilities lists the implemented features. Authentication is reported
// because the contract requires a live round-trip before use, even though
// no key is involved.
func (a *Adapter) Capabilities() map[provider.Capability]bool {
	return map[provider.Capability]bool{
		provider.CapChat:           true,
		provider.CapStreaming:      true,
		provider.CapAuthentication: true,
		provider.CapModelListing:   true,
		provider.CapHealthCheck:    true,
	}
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

// Authenticate verifies the server is reachable. Credentials are ignored;
// a local Ollama server has no key.
func (a *Adapter) Authenticate(ctx context.Context, _ map[string]string) error {
	if err := a.ping(ctx); err != nil {
		return provider.NewError(provider.KindUnavailable, "Ollama is not reachable", err)
	}
	a.mu.Lock()
	a.authenticated = true
	a.mu.Unlock()
	return nil
}

func (a *Adapter) isAuthenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authenticated
}

func (a *Adapter) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// =============================================================================
// MODELS
// =============================================================================

// builtinModels is the static fallback when the live listing fails.
var builtinModels = []string{
	"qwen2.5-coder:14b",
	"qwen2.5-coder:7b",
	"llama3.1:8b",
}

// Models fetches the live tag list, falling back to the built-in list.
func (a *Adapter) Models(ctx context.Context) []model.LLMModel {
	live, err := a.fetchModels(ctx)
	if err != nil || len(live) == 0 {
		return a.staticModels()
	}
	a.mu.Lock()
	a.liveModels = live
	a.mu.Unlock()
	return live
}

// SupportedModels returns the last live listing, or the built-in list
// before any successful fetch.
func (a *Adapter) SupportedModels() []model.LLMModel {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.liveModels) > 0 {
		return a.liveModels
	}
	return a.staticModels()
}

func (a *Adapter) staticModels() []model.LLMModel {
	out := make([]model.LLMModel, 0, len(builtinModels))
	for _, name := range builtinModels {
		out = append(out, a.describeModel(name))
	}
	return out
}

func (a *Adapter) describeModel(name string) model.LLMModel {
	return model.LLMModel{
		ID:                  name,
		DisplayName:         name,
		ContextWindowTokens: a.contextWin,
		Capabilities:        model.NewCapabilitySet(model.CapChat, model.CapCodeGeneration, model.CapCodeAnalysis),
		ProviderID:          ProviderID,
		IsLocal:             true,
	}
}

func (a *Adapter) fetchModels(ctx context.Context) ([]model.LLMModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: %s", resp.Status)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, err
	}
	out := make([]model.LLMModel, 0, len(tags.Models))
	for _, m := range tags.Models {
		out = append(out, a.describeModel(m.Name))
	}
	return out, nil
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// HealthCheck probes the server and records the outcome in metrics.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	healthy := a.ping(ctx) == nil
	a.aggregator.RecordHealthCheck(ProviderID, healthy, time.Now())
	return healthy
}

// Metrics returns this adapter's metrics snapshot.
func (a *Adapter) Metrics() model.ProviderMetrics {
	return a.aggregator.ProviderMetrics(ProviderID)
}

// =============================================================================
// SEND MESSAGE
// =============================================================================

// SendMessage opens the streaming chat request and returns the chunk
// channel. See the provider.Provider contract for streaming, error, and
// cancellation semantics.
func (a *Adapter) SendMessage(ctx context.Context, text string, items []model.ContextItem, m model.LLMModel, params model.LLMParameters) (<-chan model.MessageChunk, error) {
	if !a.isAuthenticated() {
		return nil, provider.NewError(provider.KindNotConfigured, "Ollama adapter not verified; authenticate first", nil)
	}
	if !provider.SupportsModel(a, m.ID) {
		return nil, provider.NewError(provider.KindModelNotAvailable, fmt.Sprintf("model %q not available locally", m.ID), nil)
	}

	reqBody := chatRequest{
		Model:    m.ID,
		Messages: provider.BuildMessages(text, items),
		Stream:   true,
		Options:  buildOptions(params),
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, provider.NewError(provider.KindInvalidParameters, "failed to encode request", err)
	}

	// Bound the full completion unless the caller set a tighter deadline.
	streamCtx, cancel := ctx, context.CancelFunc(func() {})
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		streamCtx, cancel = context.WithTimeout(ctx, chatTimeout)
	}

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, provider.NewError(provider.KindNetwork, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.streamClient.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			// Caller abandoned before the request went out; not recorded.
			return nil, ctx.Err()
		}
		a.aggregator.RecordError(ProviderID, provider.KindNetwork.String(), err.Error())
		return nil, provider.NewError(provider.KindNetwork, "chat request failed (timeout or connection)", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		perr := a.classifyStatus(resp)
		a.aggregator.RecordError(ProviderID, provider.KindOf(perr).String(), perr.Error())
		return nil, perr
	}

	ch := make(chan model.MessageChunk)
	go a.consumeStream(ctx, streamCtx, cancel, resp, m.ID, start, ch)
	return ch, nil
}

// consumeStream pumps parsed chunks into ch and settles the request state:
// completed and failed update metrics, cancelled updates neither. The
// caller's context distinguishes abandonment from the stream deadline and
// guards the terminal error delivery: consumers keep reading until their
// own context is cancelled, and then they drain, so a failed stream's
// final error chunk must block rather than be dropped.
func (a *Adapter) consumeStream(callerCtx, ctx context.Context, cancel context.CancelFunc, resp *http.Response, modelID string, start time.Time, ch chan<- model.MessageChunk) {
	defer close(ch)
	defer cancel()
	defer resp.Body.Close()

	reader := newStreamReader(resp.Body)
	tokens := 0

	err := reader.process(ctx, func(chunk model.MessageChunk) bool {
		if chunk.Usage != nil {
			tokens = chunk.Usage.Total()
		}
		select {
		case ch <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	})

	switch {
	case err == nil:
		a.aggregator.RecordRequest(ProviderID, modelID, time.Since(start), tokens, reader.tokensPerSecond())
	case errors.Is(err, context.Canceled) && callerCtx.Err() != nil:
		// Abandoned by the caller: neither success nor error.
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The completion deadline fired; the caller is still attached.
		perr := provider.NewError(provider.KindNetwork, "stream timed out", err)
		a.aggregator.RecordError(ProviderID, provider.KindNetwork.String(), perr.Error())
		select {
		case ch <- model.MessageChunk{Done: true, Err: perr}:
		case <-callerCtx.Done():
		}
	default:
		perr := provider.NewError(provider.KindNetwork, "stream interrupted", err)
		a.aggregator.RecordError(ProviderID, provider.KindNetwork.String(), perr.Error())
		select {
		case ch <- model.MessageChunk{Done: true, Err: perr}:
		case <-callerCtx.Done():
		}
	}
}

// classifyStatus maps a non-200 response onto the error taxonomy.
func (a *Adapter) classifyStatus(resp *http.Response) *provider.Error {
	var body apiError
	_ = json.NewDecoder(resp.Body).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return provider.NewError(provider.KindModelNotAvailable, msg, nil)
	case strings.Contains(strings.ToLower(msg), "context"):
		return &provider.Error{Kind: provider.KindContextTooLarge, Message: msg}
	case resp.StatusCode == http.StatusBadRequest:
		return provider.NewError(provider.KindInvalidParameters, msg, nil)
	default:
		return provider.NewError(provider.KindNetwork, msg, nil)
	}
}

func buildOptions(params model.LLMParameters) *chatOptions {
	return &chatOptions{
		Temperature:      params.Temperature,
		TopP:             params.TopP,
		FrequencyPenalty: params.FrequencyPenalty,
		PresencePenalty:  params.PresencePenalty,
		NumPredict:       params.MaxTokens,
		Stop:             params.StopSequences,
	}
}
