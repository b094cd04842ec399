// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes a running chat over a small read-only HTTP API.
//
// # Endpoints
//
//   - GET /metrics - Prometheus usage metrics
//   - GET /health  - Liveness and uptime
//   - GET /status  - Active sessions and in-flight replies
//
// # Security Features
//
//   - Optional bearer token with constant-time comparison
//   - Security headers on every response
//   - Panic recovery with stack trace logging
//
// # Usage
//
//	srv := server.New(server.Options{
//		Addr:     "127.0.0.1:9464",
//		Gatherer: usage.Registry(),
//		Status:   statusFunc,
//		Logger:   logger,
//	})
//	if err := srv.Start(); err != nil {
//		return err
//	}
//	defer srv.Shutdown(context.Background())
package server
