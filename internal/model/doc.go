// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the chat data types shared by every other package.
//
// Values in this package are plain data. Sessions are copied, never shared,
// so a Session handed to a caller can be read without locking.
//
// # Key Types
//
//   - Message: one chat turn with text or multimodal content
//   - Content: either plain text or an ordered list of ContentPart values
//   - Session: a conversation thread bound to exactly one model
//   - ModelInfo: display information for a known model id
//
// # Usage
//
// Build a session and append a turn:
//
//	s := model.NewSession("openai/gpt-4o-mini")
//	s = s.WithMessage(model.NewUserMessage("Hello"))
//
// Placeholder assistant messages carry the sentinel content until the first
// delta arrives:
//
//	p := model.NewPlaceholder(s.ModelID)
//	p.IsPlaceholder() // true
package model
