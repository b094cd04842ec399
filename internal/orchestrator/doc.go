// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator runs one conversation against up to three models at
// once.
//
// The Orchestrator owns the active sessions (one per selected model), the
// durable session history, an abort handle per in-flight request and the
// streaming progress of each. SendMessageToAll fans a single user message
// out to every runnable session, streams each reply into its own
// placeholder concurrently, and joins on all of them before persisting and
// notifying once.
//
// Session values are copied on every change. All writes go through
// updateSession, which replaces entries by id in the current lists, so a
// reply resolving late never overwrites a fresher state.
//
// # Usage
//
//	orc, err := orchestrator.New(ctx, orchestrator.Options{
//	    Completer: cloud.NewClient(),
//	    Settings:  settingsStore,
//	    Persister: storage.NewSessionStore(kv, logger),
//	})
//	if err != nil {
//	    return err
//	}
//	defer orc.Close()
//
//	orc.AddModel(ctx, "anthropic/claude-3.5-sonnet")
//	err = orc.SendMessageToAll(ctx, "Hello")
package orchestrator
