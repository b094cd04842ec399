// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the application configuration.
//
// Configuration lives in ~/.multichat/config.toml (MULTICHAT_HOME moves the
// directory). Missing values fall back to Default(), environment variables
// override the file, and Validate rejects unusable combinations.
//
// User-facing chat preferences (API key, model, system prompt, tone) are not
// configuration; they live in the settings package.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	kv, err := storage.Open(cfg.StorageOptions())
package config
