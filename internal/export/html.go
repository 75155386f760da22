// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"strings"

	"github.com/morganforge/promptdeck/internal/model"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter renders a session as a standalone dark-themed HTML page.
// All user and model content is escaped; nothing from the conversation is
// injected as raw markup.
type HTMLExporter struct{}

const htmlStyles = `
  body { font-family: -apple-system, "Segoe UI", sans-serif; background: #1e1e2e;
         color: #cdd6f4; max-width: 820px; margin: 0 auto; padding: 2rem; }
  h1 { border-bottom: 2px solid #45475a; padding-bottom: 0.5rem; }
  .meta { color: #a6adc8; font-size: 0.9rem; margin-bottom: 2rem; }
  .message { border-radius: 8px; padding: 1rem 1.25rem; margin: 1rem 0; }
  .user { background: #313244; }
  .assistant { background: #24273a; }
  .system { background: #2a2a3c; }
  .role { font-weight: 600; margin-bottom: 0.5rem; }
  .context { font-size: 0.85rem; color: #a6adc8; margin-bottom: 0.5rem; }
  .context code { background: #45475a; padding: 0 4px; border-radius: 3px; }
  .usage { font-style: italic; font-size: 0.85rem; color: #a6adc8; margin-top: 0.5rem; }
  pre { white-space: pre-wrap; word-wrap: break-word; font-family: inherit; margin: 0; }
`

// Export renders the session.
func (e *HTMLExporter) Export(s *model.Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("session is nil")
	}

	var sb strings.Builder

	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("<meta charset=\"utf-8\">\n")
	sb.WriteString("<title>" + html.EscapeString(s.Title) + "</title>\n")
	sb.WriteString("<style>" + htmlStyles + "</style>\n")
	sb.WriteString("</head>\n<body>\n")

	sb.WriteString("<h1>" + html.EscapeString(s.Title) + "</h1>\n")
	sb.WriteString("<div class=\"meta\">")
	sb.WriteString("Created " + html.EscapeString(formatTimestamp(s.CreatedAt)))
	sb.WriteString(" &middot; " + html.EscapeString(s.ProviderID))
	sb.WriteString(" &middot; " + html.EscapeString(s.ModelID))
	sb.WriteString("</div>\n")

	for _, msg := range s.Messages {
		sb.WriteString("<div class=\"message " + roleClass(msg.Role) + "\">\n")
		sb.WriteString("<div class=\"role\">" + html.EscapeString(roleHeading(msg.Role)) + "</div>\n")

		if len(msg.ContextItems) > 0 {
			sb.WriteString("<div class=\"context\">Context: ")
			for i, item := range msg.ContextItems {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString("<code>" + html.EscapeString(item.DisplayName) + "</code> (" +
					html.EscapeString(item.TypeLabel()) + ")")
			}
			sb.WriteString("</div>\n")
		}

		sb.WriteString("<pre>" + html.EscapeString(strings.TrimSpace(msg.Content)) + "</pre>\n")

		if msg.Role == model.RoleAssistant && msg.Usage != nil {
			sb.WriteString(fmt.Sprintf("<div class=\"usage\">Tokens: %d in / %d out</div>\n",
				msg.Usage.Input, msg.Usage.Output))
		}
		sb.WriteString("</div>\n")
	}

	sb.WriteString("</body>\n</html>\n")
	return []byte(sb.String()), nil
}

func roleClass(role model.Role) string {
	switch role {
	case model.RoleUser:
		return "user"
	case model.RoleAssistant:
		return "assistant"
	default:
		return "system"
	}
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string { return ".html" }

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string { return "text/html" }
