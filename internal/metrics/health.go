// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

// =============================================================================
// HEALTH STATUS
// =============================================================================

// HealthStatus is the overall status derived from a metrics snapshot.
type HealthStatus int

const (
	StatusHealthy HealthStatus = iota
	StatusWarning
	StatusCritical
)

// String returns the status name.
func (s HealthStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusWarning:
		return "warning"
	case StatusCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Thresholds for the warning status.
const (
	warningErrorRate      = 0.10
	warningLatencySeconds = 10.0
)

// DeriveHealth computes the overall status from a snapshot. It is a pure
// function: critical when any known provider is unhealthy, warning when
// the global error rate exceeds 10% or average latency exceeds 10 seconds,
// healthy otherwise.
func DeriveHealth(snap Snapshot) HealthStatus {
	for _, pm := range snap.PerProvider {
		if !pm.IsHealthy {
			return StatusCritical
		}
	}
	if snap.Global.ErrorRate() > warningErrorRate {
		return StatusWarning
	}
	if snap.Global.AverageLatencySeconds > warningLatencySeconds {
		return StatusWarning
	}
	return StatusHealthy
}
