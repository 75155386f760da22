// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders sessions into shareable documents.
// Markdown is the primary format; HTML, plain text, and JSON are also
// supported.
package export

import (
	"fmt"
	"time"

	"github.com/morganforge/promptdeck/internal/model"
)

// =============================================================================
// FORMATS
// =============================================================================

// Format selects an output representation.
type Format string

const (
	FormatMarkdown  Format = "markdown"
	FormatHTML      Format = "html"
	FormatPlainText Format = "plainText"
	FormatJSON      Format = "json"
)

// ErrUnsupportedFormat is returned for formats no exporter handles.
var ErrUnsupportedFormat = fmt.Errorf("unsupported export format")

// =============================================================================
// EXPORTER INTERFACE
// =============================================================================

// Exporter renders one session into one format.
type Exporter interface {
	// Export renders the session.
	Export(s *model.Session) ([]byte, error)

	// FileExtension returns the conventional extension (e.g. ".md").
	FileExtension() string

	// MimeType returns the MIME type of the output.
	MimeType() string
}

// For returns the exporter for a format.
func For(format Format) (Exporter, error) {
	switch format {
	case FormatMarkdown:
		return &MarkdownExporter{}, nil
	case FormatHTML:
		return &HTMLExporter{}, nil
	case FormatPlainText:
		return &TextExporter{}, nil
	case FormatJSON:
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Render is the one-call convenience over For + Export.
func Render(s *model.Session, format Format) ([]byte, error) {
	exporter, err := For(format)
	if err != nil {
		return nil, err
	}
	return exporter.Export(s)
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// roleHeading returns the emoji-decorated heading text for a role.
func roleHeading(role model.Role) string {
	switch role {
	case model.RoleUser:
		return "🧑‍💻 User"
	case model.RoleAssistant:
		return "🤖 Assistant"
	case model.RoleSystem:
		return "⚙️ System"
	default:
		return role.DisplayName()
	}
}
