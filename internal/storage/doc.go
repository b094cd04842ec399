// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chat state in a small key-value store.
//
// Two logical keys exist: the durable session list and the user settings.
// A third, usage statistics, is written by the telemetry package. Each value
// is a JSON document.
//
// # Key Types
//
//   - KV: backend interface (file, sqlite, redis)
//   - SessionStore: load/save of the durable session list
//   - SessionMeta: lightweight listing entry
//
// # Usage
//
//	kv, err := storage.Open(storage.Options{Backend: "file", Dir: dataDir})
//	store := storage.NewSessionStore(kv, logger)
//	store.Save(ctx, sessions)
//	sessions := store.Load(ctx)
//
// Save and Load never fail the caller. Write failures are logged and
// unreadable data is discarded.
package storage
