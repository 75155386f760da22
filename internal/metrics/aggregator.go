// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics maintains running per-provider and global request
// statistics without storing unbounded history.
package metrics

import (
	"sync"
	"time"

	"github.com/morganforge/promptdeck/internal/model"
)

// =============================================================================
// RECORD TYPES
// =============================================================================

// RequestRecord is one completed request, retained in a bounded buffer for
// display purposes only.
type RequestRecord struct {
	ProviderID      string        `json:"provider_id"`
	ModelID         string        `json:"model_id"`
	Timestamp       time.Time     `json:"timestamp"`
	Latency         time.Duration `json:"latency"`
	TokensProcessed int           `json:"tokens_processed"`
	TokensPerSecond float64       `json:"tokens_per_second"`
}

// ErrorRecord is one failed request, retained in a bounded buffer.
type ErrorRecord struct {
	ProviderID string    `json:"provider_id"`
	Timestamp  time.Time `json:"timestamp"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
}

// =============================================================================
// DEFAULT BUFFER CAPS
// =============================================================================

const (
	// DefaultRequestHistory caps the recent-request ring buffer.
	DefaultRequestHistory = 50

	// DefaultErrorHistory caps the recent-error ring buffer.
	DefaultErrorHistory = 25
)

// =============================================================================
// PROVIDER STATE
// =============================================================================

// providerState holds the counters for one provider. Running means use the
// incremental update newMean = (oldMean*n + sample)/(n+1), so no growing
// sum is ever accumulated and long sessions stay numerically stable.
type providerState struct {
	metrics model.ProviderMetrics

	// latencySamples counts only successful requests; errors never
	// pollute the latency or throughput means.
	latencySamples int64
}

func (ps *providerState) recordSuccess(latency time.Duration, tokens int, tokensPerSec float64) {
	n := float64(ps.latencySamples)
	ps.metrics.AverageLatencySeconds = (ps.metrics.AverageLatencySeconds*n + latency.Seconds()) / (n + 1)
	ps.metrics.AverageTokensPerSecond = (ps.metrics.AverageTokensPerSecond*n + tokensPerSec) / (n + 1)
	ps.latencySamples++

	ps.metrics.RequestCount++
	ps.metrics.TotalTokensProcessed += int64(tokens)
}

func (ps *providerState) recordError() {
	ps.metrics.RequestCount++
	ps.metrics.ErrorCount++
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator consumes completion and error events from provider adapters.
// It is mutated from the callbacks of potentially concurrent adapters, so
// all state is mutex-protected. Updates and reads are O(1).
type Aggregator struct {
	mu sync.Mutex

	perProvider map[string]*providerState
	global      providerState

	requests    []RequestRecord
	errors      []ErrorRecord
	maxRequests int
	maxErrors   int
}

// NewAggregator creates an aggregator with the default history caps.
func NewAggregator() *Aggregator {
	return NewAggregatorWithCaps(DefaultRequestHistory, DefaultErrorHistory)
}

// NewAggregatorWithCaps creates an aggregator with custom ring-buffer caps.
func NewAggregatorWithCaps(maxRequests, maxErrors int) *Aggregator {
	if maxRequests <= 0 {
		maxRequests = DefaultRequestHistory
	}
	if maxErrors <= 0 {
		maxErrors = DefaultErrorHistory
	}
	return &Aggregator{
		perProvider: make(map[string]*providerState),
		maxRequests: maxRequests,
		maxErrors:   maxErrors,
	}
}

func (a *Aggregator) state(providerID string) *providerState {
	ps, ok := a.perProvider[providerID]
	if !ok {
		ps = &providerState{}
		ps.metrics.ProviderID = providerID
		ps.metrics.IsHealthy = true
		a.perProvider[providerID] = ps
	}
	return ps
}

// =============================================================================
// RECORDING
// =============================================================================

// RecordRequest records one successfully completed request. Cancelled
// requests must not be recorded at all, through either path.
func (a *Aggregator) RecordRequest(providerID, modelID string, latency time.Duration, tokens int, tokensPerSec float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state(providerID).recordSuccess(latency, tokens, tokensPerSec)
	a.global.recordSuccess(latency, tokens, tokensPerSec)

	a.requests = append(a.requests, RequestRecord{
		ProviderID:      providerID,
		ModelID:         modelID,
		Timestamp:       time.Now(),
		Latency:         latency,
		TokensProcessed: tokens,
		TokensPerSecond: tokensPerSec,
	})
	// Ring-buffer semantics: oldest evicted first. Eviction never touches
	// the running means, which are unbounded in time.
	if len(a.requests) > a.maxRequests {
		a.requests = a.requests[len(a.requests)-a.maxRequests:]
	}
}

// RecordError records one failed request.
func (a *Aggregator) RecordError(providerID, kind, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state(providerID).recordError()
	a.global.recordError()

	a.errors = append(a.errors, ErrorRecord{
		ProviderID: providerID,
		Timestamp:  time.Now(),
		Kind:       kind,
		Message:    message,
	})
	if len(a.errors) > a.maxErrors {
		a.errors = a.errors[len(a.errors)-a.maxErrors:]
	}
}

// RecordHealthCheck records the outcome of a provider health probe.
func (a *Aggregator) RecordHealthCheck(providerID string, healthy bool, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ps := a.state(providerID)
	ps.metrics.IsHealthy = healthy
	ps.metrics.LastHealthCheckAt = at
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// Snapshot is a read-only copy of the aggregator state.
type Snapshot struct {
	Global         model.ProviderMetrics            `json:"global"`
	PerProvider    map[string]model.ProviderMetrics `json:"per_provider"`
	RecentRequests []RequestRecord                  `json:"recent_requests"`
	RecentErrors   []ErrorRecord                    `json:"recent_errors"`
	TakenAt        time.Time                        `json:"taken_at"`
}

// Snapshot returns a consistent copy of all metrics.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	per := make(map[string]model.ProviderMetrics, len(a.perProvider))
	for id, ps := range a.perProvider {
		per[id] = ps.metrics
	}

	requests := make([]RequestRecord, len(a.requests))
	copy(requests, a.requests)
	errs := make([]ErrorRecord, len(a.errors))
	copy(errs, a.errors)

	return Snapshot{
		Global:         a.global.metrics,
		PerProvider:    per,
		RecentRequests: requests,
		RecentErrors:   errs,
		TakenAt:        time.Now(),
	}
}

// ProviderMetrics returns the metrics for one provider.
func (a *Aggregator) ProviderMetrics(providerID string) model.ProviderMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state(providerID).metrics
}
