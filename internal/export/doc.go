// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes sessions to shareable files.
//
// # Key Types
//
//   - Exporter: renders one session in a format
//   - Options: metadata and timestamp switches
//
// # Supported Formats
//
//   - Markdown: YAML frontmatter plus one section per message
//   - JSON: the stored session, indented
//
// # Usage
//
//	exp, err := export.New("md", nil)
//	if err != nil {
//	    return err
//	}
//	path, err := export.ToFile(session, exp, ".")
package export
