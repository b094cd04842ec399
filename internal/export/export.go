// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/multichat/internal/model"
	"github.com/jeranaias/multichat/internal/util"
)

// ErrEmptySession is returned when a session has nothing to export.
var ErrEmptySession = errors.New("export: session has no messages")

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a session.
type Exporter interface {
	Export(s model.Session) ([]byte, error)

	// FileExtension includes the leading dot.
	FileExtension() string
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// IncludeMetadata adds frontmatter and a session summary.
	IncludeMetadata bool

	// IncludeTimestamps adds per-message times.
	IncludeTimestamps bool
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		IncludeMetadata:   true,
		IncludeTimestamps: true,
	}
}

// IsFormat reports whether New accepts name.
func IsFormat(name string) bool {
	switch strings.ToLower(name) {
	case "md", "markdown", "json":
		return true
	}
	return false
}

// New returns the exporter for format: "md", "markdown" or "json". Empty
// means Markdown.
func New(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(format) {
	case "", "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(), nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ToFile exports s into dir and returns the written path. The name is built
// from the model, the first prompt and the current time.
func ToFile(s model.Session, exporter Exporter, dir string) (string, error) {
	content, err := exporter.Export(s)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}
	if dir == "" {
		dir = "."
	}

	filename := fmt.Sprintf("%s_%s_%s%s",
		sanitizeFilename(model.DisplayName(s.ModelID)),
		sanitizeFilename(Title(s)),
		time.Now().Format("20060102_150405"),
		exporter.FileExtension(),
	)
	path := filepath.Join(dir, filename)
	if err := util.AtomicWriteFileWithDir(path, content, 0644, 0755); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// Title is the first user prompt, shortened, or a fallback.
func Title(s model.Session) string {
	for _, m := range s.Messages {
		if m.Role == model.RoleUser {
			if t := m.Preview(60); t != "" {
				return t
			}
		}
	}
	return "conversation"
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename replaces characters that are invalid in file names on
// Windows or Unix.
func sanitizeFilename(s string) string {
	s = util.TruncateRunes(s, 40)

	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune('_')
		case r < 32 || r == 127:
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "conversation"
	}
	return b.String()
}

func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
