// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/multichat/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// PlaceholderContent is the sentinel shown in an assistant message before
// its first delta arrives.
const PlaceholderContent = "..."

// ErrorPrefix starts the content of an assistant message that failed.
const ErrorPrefix = "Error: "

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single chat turn.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   Content   `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// ModelID is set on assistant messages only.
	ModelID string `json:"modelId,omitempty"`

	// Streaming is true while deltas are still being appended.
	Streaming bool `json:"streaming,omitempty"`
}

// NewID returns a fresh opaque identifier.
func NewID() string {
	return uuid.NewString()
}

// NewMessage creates a message with a generated ID and the current time.
func NewMessage(role Role, content Content) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a plain-text user message.
func NewUserMessage(text string) Message {
	return NewMessage(RoleUser, Text(text))
}

// NewPlaceholder creates a streaming assistant message holding the sentinel.
func NewPlaceholder(modelID string) Message {
	m := NewMessage(RoleAssistant, Text(PlaceholderContent))
	m.ModelID = modelID
	m.Streaming = true
	return m
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// IsPlaceholder reports whether the message still holds the sentinel.
func (m Message) IsPlaceholder() bool {
	return m.Streaming && !m.Content.IsMultimodal() && m.Content.Text == PlaceholderContent
}

// AppendDelta returns m with delta appended. The first delta replaces the
// sentinel.
func (m Message) AppendDelta(delta string) Message {
	if m.IsPlaceholder() {
		m.Content = Text(delta)
		return m
	}
	m.Content = Text(m.Content.String() + delta)
	return m
}

// Finalize returns m with streaming cleared.
func (m Message) Finalize() Message {
	m.Streaming = false
	return m
}

// Failed returns m holding an error-prefixed description and no longer
// streaming.
func (m Message) Failed(err error) Message {
	m.Content = Text(ErrorPrefix + err.Error())
	m.Streaming = false
	return m
}

// IsEmpty reports whether the message has no meaningful content. A
// placeholder counts as empty.
func (m Message) IsEmpty() bool {
	return m.IsPlaceholder() || m.Content.IsEmpty()
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	m.Content = m.Content.Clone()
	return m
}

// Preview returns a rune-safe preview of the text content.
func (m Message) Preview(maxLen int) string {
	return util.TruncateRunes(util.SingleLine(m.Content.String()), maxLen)
}
