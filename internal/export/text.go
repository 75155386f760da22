// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"

	"github.com/morganforge/promptdeck/internal/model"
)

// =============================================================================
// PLAIN TEXT EXPORTER
// =============================================================================

// TextExporter renders a session as plain text, suitable for pasting into
// email or a terminal.
type TextExporter struct{}

// Export renders the session.
func (e *TextExporter) Export(s *model.Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("session is nil")
	}

	var sb strings.Builder

	sb.WriteString(s.Title + "\n")
	sb.WriteString(strings.Repeat("=", len(s.Title)) + "\n\n")
	sb.WriteString("Created:  " + formatTimestamp(s.CreatedAt) + "\n")
	sb.WriteString("Provider: " + s.ProviderID + "\n")
	sb.WriteString("Model:    " + s.ModelID + "\n\n")

	for _, msg := range s.Messages {
		sb.WriteString("[" + msg.Role.DisplayName() + "] " + formatTimestamp(msg.Timestamp) + "\n")

		if len(msg.ContextItems) > 0 {
			sb.WriteString("Context: ")
			names := make([]string, 0, len(msg.ContextItems))
			for _, item := range msg.ContextItems {
				names = append(names, item.DisplayName)
			}
			sb.WriteString(strings.Join(names, ", ") + "\n")
		}

		sb.WriteString(strings.TrimSpace(msg.Content) + "\n")

		if msg.Role == model.RoleAssistant && msg.Usage != nil {
			sb.WriteString(fmt.Sprintf("(tokens: %d in / %d out)\n", msg.Usage.Input, msg.Usage.Output))
		}
		sb.WriteString("\n" + strings.Repeat("-", 60) + "\n\n")
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for plain text.
func (e *TextExporter) FileExtension() string { return ".txt" }

// MimeType returns the MIME type for plain text.
func (e *TextExporter) MimeType() string { return "text/plain" }
