// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func sampleSnapshot() Snapshot {
	a := NewAggregator()
	a.RecordRequest("ollama", "qwen2.5-coder:7b", 800*time.Millisecond, 120, 42.5)
	a.RecordRequest("openrouter", "openai/gpt-4o", 2*time.Second, 400, 60)
	a.RecordError("openrouter", "rateLimitExceeded", "429 from upstream")
	a.RecordHealthCheck("ollama", true, time.Now())
	return a.Snapshot()
}

func TestExportJSONRoundTrips(t *testing.T) {
	data, err := Export(sampleSnapshot(), FormatJSON)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Global.RequestCount != 3 {
		t.Errorf("Global.RequestCount = %d, want 3", decoded.Global.RequestCount)
	}
	if len(decoded.RecentRequests) != 2 {
		t.Errorf("RecentRequests len = %d, want 2", len(decoded.RecentRequests))
	}
}

func TestExportCSV(t *testing.T) {
	data, err := Export(sampleSnapshot(), FormatCSV)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "timestamp,provider,model,latency_ms,tokens,tokens_per_second" {
		t.Errorf("header = %q", lines[0])
	}
	if len(lines) != 3 {
		t.Fatalf("line count = %d, want header + 2 rows", len(lines))
	}
	if !strings.Contains(lines[1], "ollama") || !strings.Contains(lines[1], "800") {
		t.Errorf("first row = %q", lines[1])
	}
}

func TestExportText(t *testing.T) {
	data, err := Export(sampleSnapshot(), FormatText)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	text := string(data)
	for _, want := range []string{"Status:", "Requests: 3", "ollama:", "openrouter:"} {
		if !strings.Contains(text, want) {
			t.Errorf("text export missing %q:\n%s", want, text)
		}
	}
}

func TestExportUnknownFormat(t *testing.T) {
	if _, err := Export(Snapshot{}, ExportFormat(99)); err == nil {
		t.Error("expected error for unknown format")
	}
}
