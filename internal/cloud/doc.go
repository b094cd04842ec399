// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud is the completion gateway for the OpenRouter chat API.
//
// It offers a single-shot request, an SSE streaming request that falls back
// to single-shot when the stream cannot be opened, and a reliable image
// generation call that walks a fixed list of image-capable models.
//
// # Key Types
//
//   - Client: HTTP client with retry, backoff and rate limiting
//   - Request: messages, model, API key and optional system prompt
//   - StreamResult: final text of a stream and whether it was aborted
//   - ImageResult: generated content or a textual failure report
//   - NetworkError, APIError, MalformedResponseError: failure taxonomy
//
// # Usage
//
//	client := cloud.NewClient().WithSiteName("multichat")
//	res, err := client.StreamCompletion(ctx, cloud.Request{
//	    APIKey:   key,
//	    ModelID:  "openai/gpt-4o-mini",
//	    Messages: history,
//	}, func(delta string) { fmt.Print(delta) })
//
// Cancelling ctx stops a stream cleanly: the result carries the partial
// text with Aborted set and a nil error.
package cloud
