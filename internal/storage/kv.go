// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Well-known keys.
const (
	KeySessions = "chat-sessions"
	KeySettings = "chat-settings"
	KeyUsage    = "usage-stats"
)

// ErrNotFound is returned by KV.Get when a key has no value.
var ErrNotFound = errors.New("storage: key not found")

// KV is a durable key-value store holding opaque values.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	// Backend is "file", "sqlite" or "redis".
	Backend string

	// Dir holds one JSON file per key for the file backend.
	Dir string

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string

	// RedisURL is a redis:// URL for the redis backend.
	RedisURL string

	// KeyPrefix namespaces redis keys.
	KeyPrefix string
}

// Open creates the backend named by opts.Backend.
func Open(opts Options) (KV, error) {
	switch strings.ToLower(opts.Backend) {
	case "", "file":
		return NewFileKV(opts.Dir)
	case "sqlite":
		return NewSQLiteKV(opts.SQLitePath)
	case "redis":
		return NewRedisKV(opts.RedisURL, opts.KeyPrefix)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", opts.Backend)
	}
}
