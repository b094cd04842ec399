// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package settings holds the user's chat preferences.
//
// Settings live under their own durable key, separate from session history.
// Consumers react to changes through Subscribe rather than reading a shared
// global; the orchestrator uses this to rebind its default session when the
// user picks a model.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/multichat/internal/storage"
)

// Settings are the persisted user preferences.
type Settings struct {
	APIKey               string `json:"apiKey"`
	SelectedModel        string `json:"selectedModel"`
	SystemPrompt         string `json:"systemPrompt"`
	Tone                 string `json:"tone"`
	RAGEnabled           bool   `json:"ragEnabled"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
}

// Default returns first-run settings.
func Default() Settings {
	return Settings{NotificationsEnabled: true}
}

// HasAPIKey reports whether a non-blank key is set.
func (s Settings) HasAPIKey() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

// MaskedKey returns the key with all but the last four characters hidden.
func (s Settings) MaskedKey() string {
	key := strings.TrimSpace(s.APIKey)
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", 8) + key[len(key)-4:]
}

// ChangeFunc is called after settings change.
type ChangeFunc func(old, updated Settings)

type subscriber struct {
	id int
	fn ChangeFunc
}

// Store owns the current settings and persists every update.
type Store struct {
	kv     storage.KV
	logger *zap.Logger

	// writeMu orders persistence: it is held from the in-memory swap until
	// the value is stored, so the stored order matches the update order.
	writeMu sync.Mutex

	mu          sync.RWMutex
	current     Settings
	fallbackKey string
	subs        []subscriber
	nextID      int
}

// NewStore loads settings from kv. Missing or unreadable data yields
// Default(); the error is logged, not returned.
func NewStore(ctx context.Context, kv storage.KV, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{kv: kv, logger: logger, current: Default()}
	if loaded, err := s.read(ctx); err == nil {
		s.current = loaded
	} else if !errors.Is(err, storage.ErrNotFound) {
		logger.Warn("settings unreadable, using defaults", zap.Error(err))
	}
	return s
}

// SetFallbackAPIKey sets a key used whenever no key is stored. It is never
// persisted.
func (s *Store) SetFallbackAPIKey(key string) {
	s.mu.Lock()
	s.fallbackKey = strings.TrimSpace(key)
	s.mu.Unlock()
}

// Get returns the effective settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.effective(s.current)
}

func (s *Store) effective(v Settings) Settings {
	if !v.HasAPIKey() && s.fallbackKey != "" {
		v.APIKey = s.fallbackKey
	}
	return v
}

// Update applies fn to the stored settings, persists the result, and
// notifies subscribers. The in-memory value changes even when the write
// fails; the write error is returned.
func (s *Store) Update(ctx context.Context, fn func(*Settings)) (Settings, error) {
	s.writeMu.Lock()
	s.mu.Lock()
	old := s.effective(s.current)
	next := s.current
	fn(&next)
	s.current = next
	updated := s.effective(next)
	s.mu.Unlock()

	err := s.write(ctx, next)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Error("failed to save settings", zap.Error(err))
	}
	s.notify(old, updated)
	return updated, err
}

// Reload re-reads the stored settings and notifies subscribers when they
// differ from the current value.
func (s *Store) Reload(ctx context.Context) error {
	s.writeMu.Lock()
	loaded, err := s.read(ctx)
	if err != nil {
		s.writeMu.Unlock()
		return err
	}

	s.mu.Lock()
	if loaded == s.current {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return nil
	}
	old := s.effective(s.current)
	s.current = loaded
	updated := s.effective(loaded)
	s.mu.Unlock()
	s.writeMu.Unlock()

	s.logger.Info("settings reloaded")
	s.notify(old, updated)
	return nil
}

// Subscribe registers fn for change events and returns a function that
// removes it.
func (s *Store) Subscribe(fn ChangeFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) notify(old, updated Settings) {
	if old == updated {
		return
	}
	s.mu.RLock()
	subs := append([]subscriber(nil), s.subs...)
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(old, updated)
	}
}

func (s *Store) read(ctx context.Context) (Settings, error) {
	data, err := s.kv.Get(ctx, storage.KeySettings)
	if err != nil {
		return Settings{}, err
	}
	v := Default()
	if err := json.Unmarshal(data, &v); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return v, nil
}

func (s *Store) write(ctx context.Context, v Settings) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return s.kv.Set(ctx, storage.KeySettings, data)
}
