// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/multichat/internal/model"
)

// =============================================================================
// SESSION STORE
// =============================================================================

// SessionStore is the persistence gateway for the durable session list.
type SessionStore struct {
	kv     KV
	logger *zap.Logger

	// mu serializes backend access.
	mu sync.Mutex
}

// NewSessionStore wraps kv.
func NewSessionStore(kv KV, logger *zap.Logger) *SessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{kv: kv, logger: logger.Named("storage")}
}

// Persistable drops sessions that hold no meaningful message.
func Persistable(sessions []model.Session) []model.Session {
	out := make([]model.Session, 0, len(sessions))
	for _, s := range sessions {
		if s.HasContent() {
			out = append(out, s)
		}
	}
	return out
}

// Save writes the durable session list. Empty sessions are filtered out.
// Failures are logged and never returned.
func (s *SessionStore) Save(ctx context.Context, sessions []model.Session) {
	if err := s.save(ctx, sessions); err != nil {
		s.logger.Error("failed to save sessions", zap.Int("count", len(sessions)), zap.Error(err))
	}
}

func (s *SessionStore) save(ctx context.Context, sessions []model.Session) error {
	data, err := json.Marshal(Persistable(sessions))
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Set(ctx, KeySessions, data)
}

// Load returns the durable session list. Missing data yields an empty list.
// Data that is not a valid session array is discarded and the key cleared.
func (s *SessionStore) Load(ctx context.Context) []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.kv.Get(ctx, KeySessions)
	if errors.Is(err, ErrNotFound) {
		return []model.Session{}
	}
	if err != nil {
		s.logger.Error("failed to read sessions", zap.Error(err))
		return []model.Session{}
	}

	sessions, err := decodeSessions(data)
	if err != nil {
		s.logger.Warn("discarding corrupt session data", zap.Int("bytes", len(data)), zap.Error(err))
		if delErr := s.kv.Delete(ctx, KeySessions); delErr != nil {
			s.logger.Error("failed to clear corrupt session data", zap.Error(delErr))
		}
		return []model.Session{}
	}
	return sessions
}

// decodeSessions parses and normalizes a stored list. In-flight state
// cannot survive a restart, so loading and streaming flags are cleared and
// dangling placeholders dropped.
func decodeSessions(data []byte) ([]model.Session, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errors.New("stored value is not an array")
	}

	var sessions []model.Session
	if err := json.Unmarshal(trimmed, &sessions); err != nil {
		return nil, err
	}

	out := make([]model.Session, 0, len(sessions))
	for i, sess := range sessions {
		if sess.ID == "" {
			return nil, fmt.Errorf("session %d has no id", i)
		}
		msgs := make([]model.Message, 0, len(sess.Messages))
		for _, m := range sess.Messages {
			if m.ID == "" {
				return nil, fmt.Errorf("session %s has a message with no id", sess.ID)
			}
			if m.IsPlaceholder() {
				continue
			}
			m.Streaming = false
			msgs = append(msgs, m)
		}
		sess.Messages = msgs
		sess.IsLoading = false
		sess.IsTemporary = false
		out = append(out, sess)
	}
	return out, nil
}

// =============================================================================
// LISTING
// =============================================================================

// SessionMeta is a lightweight listing entry.
type SessionMeta struct {
	ID           string    `json:"id"`
	ModelID      string    `json:"modelId"`
	ModelName    string    `json:"modelName"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
	Preview      string    `json:"preview"`
}

// Summarize builds listing entries, most recently updated first.
func Summarize(sessions []model.Session) []SessionMeta {
	metas := make([]SessionMeta, 0, len(sessions))
	for _, s := range sessions {
		meta := SessionMeta{
			ID:           s.ID,
			ModelID:      s.ModelID,
			ModelName:    s.ModelName,
			UpdatedAt:    s.UpdatedAt,
			MessageCount: len(s.Messages),
		}
		for _, m := range s.Messages {
			if m.Role == model.RoleUser {
				meta.Preview = m.Preview(60)
				break
			}
		}
		metas = append(metas, meta)
	}
	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas
}

// List loads the durable list and summarizes it.
func (s *SessionStore) List(ctx context.Context) []SessionMeta {
	return Summarize(s.Load(ctx))
}
