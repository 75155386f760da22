// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// EXPORT FORMATS
// =============================================================================

// ExportFormat selects the metrics export encoding.
type ExportFormat int

const (
	// FormatJSON is the full structured snapshot.
	FormatJSON ExportFormat = iota

	// FormatCSV is flat tabular per-request rows.
	FormatCSV

	// FormatText is a human summary.
	FormatText
)

// Export encodes a snapshot in the requested format.
func Export(snap Snapshot, format ExportFormat) ([]byte, error) {
	switch format {
	case FormatJSON:
		return exportJSON(snap)
	case FormatCSV:
		return exportCSV(snap)
	case FormatText:
		return exportText(snap), nil
	default:
		return nil, fmt.Errorf("unknown metrics export format %d", format)
	}
}

func exportJSON(snap Snapshot) ([]byte, error) {
	return json.MarshalIndent(snap, "", "  ")
}

func exportCSV(snap Snapshot) ([]byte, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	header := []string{"timestamp", "provider", "model", "latency_ms", "tokens", "tokens_per_second"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range snap.RecentRequests {
		row := []string{
			r.Timestamp.Format(time.RFC3339),
			r.ProviderID,
			r.ModelID,
			strconv.FormatInt(r.Latency.Milliseconds(), 10),
			strconv.Itoa(r.TokensProcessed),
			strconv.FormatFloat(r.TokensPerSecond, 'f', 2, 64),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func exportText(snap Snapshot) []byte {
	var sb strings.Builder

	status := DeriveHealth(snap)
	fmt.Fprintf(&sb, "Status: %s\n", status)
	fmt.Fprintf(&sb, "Requests: %d (%d errors, %.1f%% error rate)\n",
		snap.Global.RequestCount, snap.Global.ErrorCount, snap.Global.ErrorRate()*100)
	fmt.Fprintf(&sb, "Average latency: %.2fs\n", snap.Global.AverageLatencySeconds)
	fmt.Fprintf(&sb, "Average throughput: %.1f tokens/s\n", snap.Global.AverageTokensPerSecond)
	fmt.Fprintf(&sb, "Total tokens processed: %d\n", snap.Global.TotalTokensProcessed)

	if len(snap.PerProvider) > 0 {
		sb.WriteString("\nProviders:\n")
		ids := make([]string, 0, len(snap.PerProvider))
		for id := range snap.PerProvider {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			pm := snap.PerProvider[id]
			health := "healthy"
			if !pm.IsHealthy {
				health = "unhealthy"
			}
			fmt.Fprintf(&sb, "  %s: %d requests, %d errors, %.2fs avg latency, %s\n",
				id, pm.RequestCount, pm.ErrorCount, pm.AverageLatencySeconds, health)
		}
	}

	return []byte(sb.String())
}
