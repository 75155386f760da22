// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"

	"github.com/morganforge/promptdeck/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter renders the full session structure as indented JSON.
// This is the lossless format: everything the store holds round-trips.
type JSONExporter struct{}

// Export renders the session.
func (e *JSONExporter) Export(s *model.Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("session is nil")
	}
	return json.MarshalIndent(s, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string { return ".json" }

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string { return "application/json" }
