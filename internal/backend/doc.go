// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend provides the streaming HTTP client for model providers.
//
// # Key Types
//
//   - Client: Immutable, concurrency-safe provider client
//   - Protocol: Closed wire-protocol set (openai, anthropic)
//   - Message: Wire-format chat message (role + content)
//   - ClientError: Classified backend error (auth, rate limit, unavailable)
//
// # Protocols
//
// The protocol is fixed at construction and decides the endpoint, auth
// header, and stream format:
//
//   - openai: POST {base}/chat/completions with a Bearer token; fragments
//     arrive as choices[].delta.content and the stream ends at [DONE] or a
//     finish_reason.
//   - anthropic: POST {base}/v1/messages with x-api-key and
//     anthropic-version headers; system messages are hoisted into the
//     top-level system field, fragments arrive as content_block_delta
//     events, and the stream ends at message_stop.
//
// # Streaming
//
// Stream delivers fragments through a synchronous callback and honors
// context cancellation at fragment boundaries:
//
//	err := client.Stream(ctx, messages, func(text string) {
//	    fmt.Print(text)
//	})
//
// Errors are classified so callers can report a terminal failure class:
//
//	switch {
//	case backend.IsAuthFailed(err):
//	case backend.IsRateLimited(err):
//	case backend.IsUnavailable(err):
//	}
package backend
