// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"math"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// RUNNING MEANS
// =============================================================================

func TestAverageLatencyIsArithmeticMean(t *testing.T) {
	a := NewAggregator()
	latencies := []time.Duration{
		120 * time.Millisecond,
		480 * time.Millisecond,
		950 * time.Millisecond,
		2300 * time.Millisecond,
	}

	var sum float64
	for _, l := range latencies {
		a.RecordRequest("ollama", "m", l, 100, 40)
		sum += l.Seconds()
	}

	got := a.ProviderMetrics("ollama").AverageLatencySeconds
	want := sum / float64(len(latencies))
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("AverageLatencySeconds = %v, want %v", got, want)
	}
}

func TestErrorsDoNotPolluteLatencyMean(t *testing.T) {
	a := NewAggregator()

	// Interleave errors with successes; the mean must reflect only the
	// successful latencies.
	a.RecordRequest("p", "m", 1*time.Second, 10, 5)
	a.RecordError("p", "network", "boom")
	a.RecordRequest("p", "m", 3*time.Second, 10, 5)
	a.RecordError("p", "network", "boom again")

	m := a.ProviderMetrics("p")
	if math.Abs(m.AverageLatencySeconds-2.0) > 1e-9 {
		t.Errorf("AverageLatencySeconds = %v, want 2.0", m.AverageLatencySeconds)
	}
	if m.RequestCount != 4 {
		t.Errorf("RequestCount = %d, want 4 (errors count as requests)", m.RequestCount)
	}
	if m.ErrorCount != 2 {
		t.Errorf("ErrorCount = %d, want 2", m.ErrorCount)
	}
}

func TestErrorRate(t *testing.T) {
	a := NewAggregator()

	if rate := a.ProviderMetrics("p").ErrorRate(); rate != 0 {
		t.Errorf("ErrorRate with no requests = %v, want 0", rate)
	}

	a.RecordRequest("p", "m", time.Second, 10, 5)
	a.RecordRequest("p", "m", time.Second, 10, 5)
	a.RecordRequest("p", "m", time.Second, 10, 5)
	a.RecordError("p", "network", "x")

	if rate := a.ProviderMetrics("p").ErrorRate(); math.Abs(rate-0.25) > 1e-9 {
		t.Errorf("ErrorRate = %v, want 0.25", rate)
	}
}

func TestTotalTokensAccumulate(t *testing.T) {
	a := NewAggregator()
	a.RecordRequest("p", "m", time.Second, 150, 5)
	a.RecordRequest("p", "m", time.Second, 250, 5)

	if got := a.ProviderMetrics("p").TotalTokensProcessed; got != 400 {
		t.Errorf("TotalTokensProcessed = %d, want 400", got)
	}
}

// =============================================================================
// GLOBAL VS PER-PROVIDER
// =============================================================================

func TestGlobalAggregatesAcrossProviders(t *testing.T) {
	a := NewAggregator()
	a.RecordRequest("ollama", "m1", time.Second, 100, 10)
	a.RecordRequest("openrouter", "m2", 3*time.Second, 200, 20)
	a.RecordError("openrouter", "rateLimitExceeded", "429")

	snap := a.Snapshot()
	if snap.Global.RequestCount != 3 {
		t.Errorf("Global.RequestCount = %d, want 3", snap.Global.RequestCount)
	}
	if snap.Global.ErrorCount != 1 {
		t.Errorf("Global.ErrorCount = %d, want 1", snap.Global.ErrorCount)
	}
	if math.Abs(snap.Global.AverageLatencySeconds-2.0) > 1e-9 {
		t.Errorf("Global.AverageLatencySeconds = %v, want 2.0", snap.Global.AverageLatencySeconds)
	}
	if len(snap.PerProvider) != 2 {
		t.Errorf("PerProvider has %d entries, want 2", len(snap.PerProvider))
	}
}

// =============================================================================
// RING BUFFERS
// =============================================================================

func TestRequestHistoryIsBounded(t *testing.T) {
	a := NewAggregatorWithCaps(5, 3)

	for i := 0; i < 20; i++ {
		a.RecordRequest("p", "m", time.Duration(i)*time.Millisecond, 1, 1)
	}
	for i := 0; i < 10; i++ {
		a.RecordError("p", "network", "e")
	}

	snap := a.Snapshot()
	if len(snap.RecentRequests) != 5 {
		t.Errorf("RecentRequests len = %d, want 5", len(snap.RecentRequests))
	}
	if len(snap.RecentErrors) != 3 {
		t.Errorf("RecentErrors len = %d, want 3", len(snap.RecentErrors))
	}

	// Oldest evicted first: the newest record survives.
	last := snap.RecentRequests[len(snap.RecentRequests)-1]
	if last.Latency != 19*time.Millisecond {
		t.Errorf("newest retained latency = %v, want 19ms", last.Latency)
	}

	// Eviction never touches the cumulative counters.
	if snap.Global.RequestCount != 30 {
		t.Errorf("Global.RequestCount = %d, want 30", snap.Global.RequestCount)
	}
}

// =============================================================================
// HEALTH CHECKS
// =============================================================================

func TestRecordHealthCheck(t *testing.T) {
	a := NewAggregator()
	at := time.Now()

	a.RecordHealthCheck("p", false, at)
	m := a.ProviderMetrics("p")
	if m.IsHealthy {
		t.Error("IsHealthy = true, want false")
	}
	if !m.LastHealthCheckAt.Equal(at) {
		t.Errorf("LastHealthCheckAt = %v, want %v", m.LastHealthCheckAt, at)
	}

	a.RecordHealthCheck("p", true, at.Add(time.Minute))
	if !a.ProviderMetrics("p").IsHealthy {
		t.Error("IsHealthy = false after recovery, want true")
	}
}

func TestUnknownProviderDefaultsHealthy(t *testing.T) {
	a := NewAggregator()
	if !a.ProviderMetrics("never-seen").IsHealthy {
		t.Error("a provider with no events should default to healthy")
	}
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentRecording(t *testing.T) {
	a := NewAggregator()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.RecordRequest("p", "m", time.Millisecond, 1, 1)
				a.RecordError("p", "network", "e")
			}
		}()
	}
	wg.Wait()

	m := a.ProviderMetrics("p")
	if m.RequestCount != 1600 {
		t.Errorf("RequestCount = %d, want 1600", m.RequestCount)
	}
	if m.ErrorCount != 800 {
		t.Errorf("ErrorCount = %d, want 800", m.ErrorCount)
	}
}

// =============================================================================
// SNAPSHOT ISOLATION
// =============================================================================

func TestSnapshotIsACopy(t *testing.T) {
	a := NewAggregator()
	a.RecordRequest("p", "m", time.Second, 10, 5)

	snap := a.Snapshot()
	snap.PerProvider["p"] = snap.Global // mutate the copy
	snap.RecentRequests[0].TokensProcessed = 999

	if a.Snapshot().RecentRequests[0].TokensProcessed == 999 {
		t.Error("mutating a snapshot leaked into the aggregator")
	}
}
