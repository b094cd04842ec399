// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session is a conversation thread bound to one model. Methods return
// modified copies and never mutate the receiver's message slice.
type Session struct {
	ID        string    `json:"id"`
	ModelID   string    `json:"modelId"`
	ModelName string    `json:"modelName"`
	Messages  []Message `json:"messages"`

	// IsLoading is true while a request for this session is in flight.
	IsLoading bool `json:"isLoading,omitempty"`

	// Error holds the last request error; empty means none.
	Error string `json:"error,omitempty"`

	// IsTemporary is true until the session carries its first exchange.
	IsTemporary bool `json:"isTemporary,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewSession creates an empty durable session bound to modelID.
func NewSession(modelID string) Session {
	now := time.Now()
	return Session{
		ID:        NewID(),
		ModelID:   modelID,
		ModelName: DisplayName(modelID),
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewTemporarySession creates an empty session that is not yet persisted.
func NewTemporarySession(modelID string) Session {
	s := NewSession(modelID)
	s.IsTemporary = true
	return s
}

// IsRunnable reports whether the session is bound to a concrete model.
func (s Session) IsRunnable() bool {
	return !IsPending(s.ModelID)
}

// HasContent reports whether any message carries meaningful content.
func (s Session) HasContent() bool {
	for _, m := range s.Messages {
		if !m.IsEmpty() {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	msgs := make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		msgs[i] = m.Clone()
	}
	s.Messages = msgs
	return s
}

// WithMessage returns a copy with m appended.
func (s Session) WithMessage(m Message) Session {
	msgs := make([]Message, len(s.Messages), len(s.Messages)+1)
	copy(msgs, s.Messages)
	s.Messages = append(msgs, m)
	s.UpdatedAt = time.Now()
	return s
}

// WithoutMessage returns a copy with the message id removed.
func (s Session) WithoutMessage(id string) Session {
	msgs := make([]Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.ID != id {
			msgs = append(msgs, m)
		}
	}
	s.Messages = msgs
	return s
}

// UpdateMessage returns a copy with fn applied to the message id. The second
// result is false when the id is not present.
func (s Session) UpdateMessage(id string, fn func(Message) Message) (Session, bool) {
	msgs := make([]Message, len(s.Messages))
	found := false
	for i, m := range s.Messages {
		if m.ID == id {
			m = fn(m)
			found = true
		}
		msgs[i] = m
	}
	s.Messages = msgs
	if found {
		s.Touch()
	}
	return s, found
}

// Touch stamps UpdatedAt with the current time.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now()
}

// MessageIndex returns the position of the message id, or -1.
func (s Session) MessageIndex(id string) int {
	for i, m := range s.Messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// Rebind returns a copy bound to a different model.
func (s Session) Rebind(modelID string) Session {
	s.ModelID = modelID
	s.ModelName = DisplayName(modelID)
	return s
}

// LastMessage returns the final message, if any.
func (s Session) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}
