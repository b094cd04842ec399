// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry records per-model usage statistics.
//
// Counts of messages and conversations and response latencies are kept as
// prometheus metrics on a private registry and as a JSON aggregate persisted
// through the storage KV under storage.KeyUsage.
//
// # Key Types
//
//   - UsageTracker: thread-safe recorder
//   - UsageStats / ModelUsage: persisted aggregate
//
// # Usage
//
//	tracker := telemetry.NewUsageTracker(kv, logger)
//	tracker.Load(ctx)
//	tracker.RecordMessage("openai/gpt-4o", "user")
//	tracker.RecordResponseTime("openai/gpt-4o", 1200*time.Millisecond)
//	tracker.Flush(ctx)
package telemetry
