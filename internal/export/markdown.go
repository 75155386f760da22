// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"

	"github.com/morganforge/promptdeck/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter renders a session as a Markdown document.
//
// The layout is stable and treated as a contract by downstream tooling:
// `# <title>`, bold metadata lines, one `## <emoji> <Role>` section per
// message with an optional `**Context:**` bullet list and an italic
// token-usage line for assistant messages, `---` between messages.
type MarkdownExporter struct{}

// Export renders the session.
func (e *MarkdownExporter) Export(s *model.Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("session is nil")
	}

	var sb strings.Builder

	sb.WriteString("# " + s.Title + "\n\n")
	sb.WriteString("**Created:** " + formatTimestamp(s.CreatedAt) + "\n")
	sb.WriteString("**Provider:** " + s.ProviderID + "\n")
	sb.WriteString("**Model:** " + s.ModelID + "\n\n")

	for i, msg := range s.Messages {
		sb.WriteString("## " + roleHeading(msg.Role) + "\n\n")

		if len(msg.ContextItems) > 0 {
			sb.WriteString("**Context:**\n")
			for _, item := range msg.ContextItems {
				sb.WriteString(fmt.Sprintf("- `%s` (%s)\n", item.DisplayName, item.TypeLabel()))
			}
			sb.WriteString("\n")
		}

		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")

		if msg.Role == model.RoleAssistant && msg.Usage != nil {
			sb.WriteString(fmt.Sprintf("*Tokens: %d in / %d out*\n\n",
				msg.Usage.Input, msg.Usage.Output))
		}

		if i < len(s.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string { return ".md" }

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string { return "text/markdown" }
