// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// Validation failures. SendMessageToAll also writes ErrMissingAPIKey and
// IncompatibleModelError into the affected sessions' Error field.
var (
	ErrEmptyContent       = errors.New("message is empty")
	ErrNoRunnableSessions = errors.New("no session has a model selected")
	ErrMissingAPIKey      = errors.New("API key is missing. Add your OpenRouter API key in settings.")
	ErrBusy               = errors.New("a request is already in flight")
	ErrSessionNotFound    = errors.New("session not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrNotAssistant       = errors.New("only assistant messages can be regenerated")
	ErrNoPrompt           = errors.New("no user message precedes this reply")
	ErrTemplateNotFound   = errors.New("template not found")
	ErrEmptyReply         = errors.New("model returned an empty response")
)

// IncompatibleModelError rejects an image request sent to models that cannot
// produce images.
type IncompatibleModelError struct {
	Models []string
}

func (e *IncompatibleModelError) Error() string {
	return fmt.Sprintf("Image generation is not supported by %s. Switch to an image-capable model.",
		strings.Join(e.Models, ", "))
}
