// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// CAPABILITIES
// =============================================================================

// Capability describes a feature a model supports.
type Capability string

const (
	CapChat            Capability = "chat"
	CapCodeGeneration  Capability = "codeGeneration"
	CapCodeAnalysis    Capability = "codeAnalysis"
	CapFunctionCalling Capability = "functionCalling"
	CapImageGeneration Capability = "imageGeneration"
	CapImageAnalysis   Capability = "imageAnalysis"
	CapEmbedding       Capability = "embedding"
)

// CapabilitySet is an unordered set of capabilities.
type CapabilitySet map[Capability]bool

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return set
}

// Has reports whether the set contains the capability.
func (s CapabilitySet) Has(c Capability) bool {
	return s[c]
}

// =============================================================================
// LLM MODEL
// =============================================================================

// ModelPricing holds optional per-token pricing in dollars.
type ModelPricing struct {
	InputPerToken  float64 `json:"input_per_token,omitempty"`
	OutputPerToken float64 `json:"output_per_token,omitempty"`
}

// LLMModel describes one model variant exposed by a provider.
// Identity is the (ID, ProviderID) pair: two providers may expose models
// with colliding bare ids.
type LLMModel struct {
	ID                  string        `json:"id"`
	DisplayName         string        `json:"display_name"`
	ContextWindowTokens int           `json:"context_window_tokens"`
	Capabilities        CapabilitySet `json:"capabilities"`
	ProviderID          string        `json:"provider_id"`
	IsLocal             bool          `json:"is_local"`
	Pricing             *ModelPricing `json:"pricing,omitempty"`
}

// SameAs reports whether two models have the same identity.
func (m LLMModel) SameAs(other LLMModel) bool {
	return m.ID == other.ID && m.ProviderID == other.ProviderID
}

// =============================================================================
// SAMPLING PARAMETERS
// =============================================================================

// LLMParameters is an immutable sampling configuration.
type LLMParameters struct {
	Temperature      float64  `json:"temperature"`
	MaxTokens        int      `json:"max_tokens,omitempty"`
	TopP             float64  `json:"top_p,omitempty"`
	FrequencyPenalty float64  `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64  `json:"presence_penalty,omitempty"`
	StopSequences    []string `json:"stop_sequences,omitempty"`
}

// DefaultParameters returns the balanced default configuration.
func DefaultParameters() LLMParameters {
	return LLMParameters{Temperature: 0.7}
}

// Presets differ only in temperature.
func CreativeParameters() LLMParameters { return LLMParameters{Temperature: 1.0} }
func PreciseParameters() LLMParameters  { return LLMParameters{Temperature: 0.2} }
func BalancedParameters() LLMParameters { return DefaultParameters() }

// =============================================================================
// PROVIDER METRICS
// =============================================================================

// ProviderMetrics holds cumulative counters for one provider.
// Averages are incrementally maintained running means, not derived from
// stored histories.
type ProviderMetrics struct {
	ProviderID             string    `json:"provider_id"`
	RequestCount           int64     `json:"request_count"`
	ErrorCount             int64     `json:"error_count"`
	AverageLatencySeconds  float64   `json:"average_latency_seconds"`
	AverageTokensPerSecond float64   `json:"average_tokens_per_second"`
	TotalTokensProcessed   int64     `json:"total_tokens_processed"`
	LastHealthCheckAt      time.Time `json:"last_health_check_at"`
	IsHealthy              bool      `json:"is_healthy"`
}

// ErrorRate returns ErrorCount/RequestCount, or 0 when no requests were made.
func (m ProviderMetrics) ErrorRate() float64 {
	if m.RequestCount == 0 {
		return 0
	}
	return float64(m.ErrorCount) / float64(m.RequestCount)
}

// =============================================================================
// STREAMING CHUNK
// =============================================================================

// MessageChunk is one incremental delta of a streamed response.
// Usage is populated only on the terminal chunk, when the backend reports
// it inline with the stream.
type MessageChunk struct {
	Delta string      `json:"delta"`
	Done  bool        `json:"done"`
	Usage *TokenUsage `json:"usage,omitempty"`
	Err   error       `json:"-"`
}
