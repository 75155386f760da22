// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openrouter adapts the OpenRouter cloud API to the provider
// contract. OpenRouter exposes many upstream models behind one
// OpenAI-style chat-completions endpoint with SSE streaming.
package openrouter

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/morganforge/promptdeck/internal/metrics"
	"github.com/morganforge/promptdeck/internal/model"
	"github.com/morganforge/promptdeck/internal/provider"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	// ProviderID identifies this adapter in the registry and metrics.
	ProviderID = "openrouter"

	// DefaultBaseURL is the OpenRouter API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// chatTimeout bounds a full streamed completion.
	chatTimeout = 60 * time.Second

	// ancillaryTimeout bounds key verification and model listing.
	ancillaryTimeout = 30 * time.Second

	// maxRetries for transient failures on ancillary calls.
	maxRetries = 3

	// retryBaseDelay is the base for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// requestsPerSecond throttles outbound calls; OpenRouter rate-limits
	// aggressively on free tiers.
	requestsPerSecond = 2
)

// Config holds adapter configuration.
type Config struct {
	// BaseURL overrides the API root.
	BaseURL string

	// APIKey preconfigures the key; Authenticate still verifies it with a
	// live round-trip before the adapter accepts any send.
	APIKey string
}

// Pooled clients shared by all adapter instances. The streaming client has
// no client timeout; stream lifetime is bound through the request context.
var (
	sharedHTTPClient = &http.Client{
		Transport: newTransport(),
		Timeout:   ancillaryTimeout,
	}
	sharedStreamClient = &http.Client{
		Transport: newTransport(),
	}
)

func newTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// =============================================================================
// ADAPTER
// =============================================================================

// Adapter implements provider.Provider against OpenRouter.
type Adapter struct {
	baseURL    string
	aggregator *metrics.Aggregator
	limiter    *rate.Limiter

	mu            sync.Mutex
	apiKey        string
	authenticated bool
	liveModels    []model.LLMModel
}

// New creates the adapter. A key passed in cfg is stored unverified;
// Authenticate must still succeed before SendMessage is allowed.
func New(cfg Config, aggregator *metrics.Aggregator) *Adapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		aggregator: aggregator,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		apiKey:     cfg.APIKey,
	}
}

// ID returns the provider id.
func (a *Adapter) ID() string { return ProviderID }

// Name returns the human-facing name.
func (a *Adapter) Name() string { return "OpenRouter" }

// Capabilities lists the implemented features.
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

// Authenticate verifies the key with a live round-trip to /key. Offline
// format-only validation is deliberately not enough: accepting a key
// without a round-trip would silently store throwaway keys.
func (a *Adapter) Authenticate(ctx context.Context, credentials map[string]string) error {
	key := credentials["api_key"]
	if key == "" {
		a.mu.Lock()
		key = a.apiKey
		a.mu.Unlock()
	}
	if key == "" {
		return provider.NewError(provider.KindAuthenticationFailed, "missing API key", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/key", nil)
	if err != nil {
		return provider.NewError(provider.KindNetwork, "failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return provider.NewError(provider.KindNetwork, "key verification failed (timeout or connection)", err)
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return provider.NewError(provider.KindAuthenticationFailed, "API key rejected", nil)
	default:
		return provider.NewError(provider.KindNetwork, "key verification failed: "+resp.Status, nil)
	}

	a.mu.Lock()
	a.apiKey = key
	a.authenticated = true
	a.mu.Unlock()
	return nil
}

func (a *Adapter) bearerKey() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.apiKey, a.authenticated
}

// =============================================================================
// MODELS
// =============================================================================

// staticModels is the built-in fallback list used when the live listing
// fails. Pricing and availability may be stale here; chat still works.
var staticModels = []model.LLMModel{
	{
		ID:                  "anthropic/claude-3.5-sonnet",
		DisplayName:         "Claude 3.5 Sonnet",
		ContextWindowTokens: 200000,
		ProviderID:          ProviderID,
		Capabilities:        model.NewCapabilitySet(model.CapChat, model.CapCodeGeneration, model.CapCodeAnalysis, model.CapImageAnalysis),
		Pricing:             &model.ModelPricing{InputPerToken: 3e-6, OutputPerToken: 15e-6},
	},
	{
		ID:                  "openai/gpt-4o",
		DisplayName:         "GPT-4o",
		ContextWindowTokens: 128000,
		ProviderID:          ProviderID,
		Capabilities:        model.NewCapabilitySet(model.CapChat, model.CapCodeGeneration, model.CapFunctionCalling, model.CapImageAnalysis),
		Pricing:             &model.ModelPricing{InputPerToken: 2.5e-6, OutputPerToken: 10e-6},
	},
	{
		ID:                  "meta-llama/llama-3-70b-instruct",
		DisplayName:         "Llama 3 70B Instruct",
		ContextWindowTokens: 8192,
		ProviderID:          ProviderID,
		Capabilities:        model.NewCapabilitySet(model.CapChat, model.CapCodeGeneration),
	},
}

// modelsResponse is the /models listing shape.
type modelsResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		ContextLength int    `json:"context_length"`
		Pricing       struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
	} `json:"data"`
}

// Models fetches the live model list, falling back to the static list on
// any failure. The call never fails outright.
func (a *Adapter) Models(ctx context.Context) []model.LLMModel {
	live, err := a.fetchModels(ctx)
	if err != nil || len(live) == 0 {
		return staticModels
	}
	a.mu.Lock()
	a.liveModels = live
	a.mu.Unlock()
	return live
}

// SupportedModels returns the last live listing, or the static list.
func (a *Adapter) SupportedModels() []model.LLMModel {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.liveModels) > 0 {
		return a.liveModels
	}
	return staticModels
}

func (a *Adapter) fetchModels(ctx context.Context) ([]model.LLMModel, error) {
	var resp *http.Response
	err := a.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
		if err != nil {
			return err
		}
		resp, err = sharedHTTPClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			drain(resp.Body)
			return fmt.Errorf("list models: %s", resp.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var listing modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, err
	}

	out := make([]model.LLMModel, 0, len(listing.Data))
	for _, m := range listing.Data {
		contextWin := m.ContextLength
		if contextWin == 0 {
			contextWin = 8192
		}
		out = append(out, model.LLMModel{
			ID:                  m.ID,
			DisplayName:         m.Name,
			ContextWindowTokens: contextWin,
			ProviderID:          ProviderID,
			Capabilities:        model.NewCapabilitySet(model.CapChat),
		})
	}
	return out, nil
}

// withRetry runs fn with exponential backoff on failure.
func (a *Adapter) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// HealthCheck probes /models and records the outcome in metrics.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
	healthy := false
	if err == nil {
		resp, doErr := sharedHTTPClient.Do(req)
		if doErr == nil {
			drain(resp.Body)
			healthy = resp.StatusCode == http.StatusOK
		}
	}
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

// chatRequest is the streaming chat-completions request body.
type chatRequest struct {
	Model         string                 `json:"model"`
	Messages      []provider.ChatMessage `json:"messages"`
	Stream        bool                   `json:"stream"`
	Temperature   float64                `json:"temperature,omitempty"`
	MaxTokens     int                    `json:"max_tokens,omitempty"`
	TopP          float64                `json:"top_p,omitempty"`
	FreqPenalty   float64                `json:"frequency_penalty,omitempty"`
	PresPenalty   float64                `json:"presence_penalty,omitempty"`
	Stop          []string               `json:"stop,omitempty"`
	StreamOptions *streamOptions         `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// errorResponse is OpenRouter's error body.
type errorResponse struct {
	Error struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SendMessage opens the SSE streaming request and returns the chunk
// channel. See the provider.Provider contract for streaming, error, and
// cancellation semantics.
func (a *Adapter) SendMessage(ctx context.Context, text string, items []model.ContextItem, m model.LLMModel, params model.LLMParameters) (<-chan model.MessageChunk, error) {
	key, ok := a.bearerKey()
	if !ok {
		return nil, provider.NewError(provider.KindNotConfigured, "OpenRouter API key not verified; authenticate first", nil)
	}
	if !provider.SupportsModel(a, m.ID) {
		return nil, provider.NewError(provider.KindModelNotAvailable, fmt.Sprintf("model %q not offered by OpenRouter", m.ID), nil)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, provider.NewError(provider.KindRateLimitExceeded, "request pacing interrupted", err)
	}

	reqBody := chatRequest{
		Model:         m.ID,
		Messages:      provider.BuildMessages(text, items),
		Stream:        true,
		Temperature:   params.Temperature,
		MaxTokens:     params.MaxTokens,
		TopP:          params.TopP,
		FreqPenalty:   params.FrequencyPenalty,
		PresPenalty:   params.PresencePenalty,
		Stop:          params.StopSequences,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, provider.NewError(provider.KindInvalidParameters, "failed to encode request", err)
	}

	streamCtx, cancel := ctx, context.CancelFunc(func() {})
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		streamCtx, cancel = context.WithTimeout(ctx, chatTimeout)
	}

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, provider.NewError(provider.KindNetwork, "failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := sharedStreamClient.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.aggregator.RecordError(ProviderID, provider.KindNetwork.String(), err.Error())
		return nil, provider.NewError(provider.KindNetwork, "chat request failed (timeout or connection)", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		perr := classifyStatus(resp)
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
	outputTokens := 0

	err := reader.process(ctx, func(chunk model.MessageChunk) bool {
		if chunk.Usage != nil {
			tokens = chunk.Usage.Total()
			outputTokens = chunk.Usage.Output
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
		elapsed := time.Since(start)
		tps := 0.0
		if elapsed > 0 && outputTokens > 0 {
			tps = float64(outputTokens) / elapsed.Seconds()
		}
		a.aggregator.RecordRequest(ProviderID, modelID, elapsed, tokens, tps)
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
func classifyStatus(resp *http.Response) *provider.Error {
	var body errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	msg := body.Error.Message
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return provider.NewError(provider.KindAuthenticationFailed, msg, nil)
	case http.StatusPaymentRequired:
		return provider.NewError(provider.KindUnavailable, msg, nil)
	case http.StatusNotFound:
		return provider.NewError(provider.KindModelNotAvailable, msg, nil)
	case http.StatusTooManyRequests:
		return provider.NewError(provider.KindRateLimitExceeded, msg, nil)
	case http.StatusRequestEntityTooLarge:
		return &provider.Error{Kind: provider.KindContextTooLarge, Message: msg}
	case http.StatusBadRequest:
		if strings.Contains(strings.ToLower(msg), "context length") {
			return &provider.Error{Kind: provider.KindContextTooLarge, Message: msg}
		}
		return provider.NewError(provider.KindInvalidParameters, msg, nil)
	default:
		return provider.NewError(provider.KindNetwork, msg, nil)
	}
}

func drain(r io.ReadCloser) {
	io.Copy(io.Discard, r)
	r.Close()
}
