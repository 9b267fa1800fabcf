// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session implements the gateway's core: per-conversation state,
// the generation state machine, the pending-turn queue, and the registry
// that maps identifiers to live sessions.
//
// # Key Types
//
//   - Registry: id-to-session map with idle expiry; the only creator and
//     destroyer of sessions
//   - Session: one conversation, its turn queue, and at most one in-flight
//     generation
//   - Event / EventSink: ordered outbound events consumed by a connection
//     handler
//   - Streamer: the capability required from the model backend
//
// # Concurrency
//
// Each session serializes every state transition under one mutex, so
// commands arriving from a connection and events produced by the streaming
// goroutine never race. Streaming itself runs on a dedicated goroutine per
// generation; fragments are forwarded to the sink in production order, and
// the terminal event of generation N is always emitted before generation
// N+1 starts.
//
// # Usage
//
// Create a registry once at startup and hand it to the server:
//
//	reg := session.NewRegistry(session.Config{
//		Backend:       client,
//		ContextWindow: 10,
//		IdleTimeout:   time.Hour,
//		SweepInterval: 5 * time.Minute,
//	})
//	defer reg.Close()
//
// Drive a session from a connection handler:
//
//	sess, _ := reg.GetOrCreate(id)
//	token := sess.AttachSink(func(ev session.Event) { /* encode and write */ })
//	defer sess.DetachSink(token)
//	sess.Submit("hello")
//	sess.Cancel()
//
// Submitting while a generation is active queues the turn; queued turns are
// served in arrival order without further client involvement.
package session
