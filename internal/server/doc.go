// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the gateway over HTTP: a JSON-framed websocket per
// session carrying the conversation, and a REST side channel for session
// bootstrap, introspection, and health.
//
// # Endpoints
//
//   - GET  /ws/{id}                    - per-session duplex connection
//   - POST /api/sessions               - create (or fetch) a session
//   - GET  /api/sessions/{id}          - session info
//   - DELETE /api/sessions/{id}        - destroy a session
//   - GET  /api/sessions/{id}/messages - full stored transcript
//   - GET  /health                     - process status and active model
//   - GET  /api/usage                  - generation ledger totals
//
// # Wire Protocol
//
// Inbound frames are {"action": "send_message"|"cancel"|"clear",
// "content": ...}. Outbound frames mirror session events: user_message,
// assistant_chunk, complete (with response_time/model/trailer metadata),
// cancelled, cleared, and error. Malformed frames and unknown actions are
// logged and ignored; the connection stays open.
//
// # Middleware
//
//   - Recovery: panic isolation per request
//   - SecurityHeaders: standard hardening headers
//   - Logging: method, path, status, duration
//   - CORS: configurable origin allowlist for browser front-ends
//   - RateLimit: token bucket per client IP
//   - Auth: optional shared bearer token (off by default)
//
// Each websocket connection additionally meters inbound frames with its own
// token bucket; over-budget frames are dropped without closing the
// connection.
package server
