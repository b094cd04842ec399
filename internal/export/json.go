// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"

	"github.com/jeranaias/multichat/internal/model"
)

// JSONExporter writes the session exactly as it is stored so the file can be
// read back with the same types.
type JSONExporter struct{}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

// Export converts a session to indented JSON. Transient request state is
// cleared.
func (e *JSONExporter) Export(s model.Session) ([]byte, error) {
	if len(s.Messages) == 0 {
		return nil, ErrEmptySession
	}
	s.IsLoading = false
	s.Error = ""
	return json.MarshalIndent(s, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}
