// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/multichat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports sessions to Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

type frontmatter struct {
	Title    string    `yaml:"title"`
	Session  string    `yaml:"session"`
	Model    string    `yaml:"model"`
	Created  time.Time `yaml:"created"`
	Updated  time.Time `yaml:"updated"`
	Messages int       `yaml:"messages"`
}

// Export converts a session to Markdown.
func (e *MarkdownExporter) Export(s model.Session) ([]byte, error) {
	if len(s.Messages) == 0 {
		return nil, ErrEmptySession
	}

	var sb strings.Builder
	title := Title(s)

	if e.options.IncludeMetadata {
		fm, err := yaml.Marshal(frontmatter{
			Title:    title,
			Session:  s.ID,
			Model:    s.ModelID,
			Created:  s.CreatedAt,
			Updated:  s.UpdatedAt,
			Messages: len(s.Messages),
		})
		if err != nil {
			return nil, fmt.Errorf("frontmatter: %w", err)
		}
		sb.WriteString("---\n")
		sb.Write(fm)
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(title))

	if e.options.IncludeMetadata {
		sb.WriteString("## Session Information\n\n")
		fmt.Fprintf(&sb, "- **Model**: %s\n", model.DisplayName(s.ModelID))
		fmt.Fprintf(&sb, "- **Created**: %s\n", formatTimestamp(s.CreatedAt))
		fmt.Fprintf(&sb, "- **Last Updated**: %s\n", formatTimestamp(s.UpdatedAt))
		fmt.Fprintf(&sb, "- **Messages**: %d\n", len(s.Messages))
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Conversation\n\n")

	for i, msg := range s.Messages {
		label := formatRoleLabel(msg)
		if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, formatShortTimestamp(msg.Timestamp))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		if text := strings.TrimSpace(msg.Content.String()); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
		for n, url := range msg.Content.Images() {
			fmt.Fprintf(&sb, "![image %d](%s)\n\n", n+1, url)
		}

		if i < len(s.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	fmt.Fprintf(&sb, "*Exported from multichat on %s*\n",
		time.Now().Format("January 2, 2006 at 3:04 PM"))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// formatRoleLabel names the speaker. Assistant turns carry the model that
// wrote them.
func formatRoleLabel(msg model.Message) string {
	switch msg.Role {
	case "":
		return "Unknown"
	case model.RoleAssistant:
		if msg.ModelID != "" {
			return "[" + model.DisplayName(msg.ModelID) + "]"
		}
	}
	return "[" + msg.Role.DisplayName() + "]"
}

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer(
		"#", "\\#",
		"*", "\\*",
		"_", "\\_",
		"[", "\\[",
		"]", "\\]",
	)
	return r.Replace(s)
}
