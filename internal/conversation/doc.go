// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation contains the data structures for session transcripts.
//
// This package defines the core domain types used throughout the gateway
// for representing chat turns and the bounded per-session transcript.
//
// # Key Types
//
//   - Turn: Single turn with role, content, timestamp, and generation metadata
//   - Log: Bounded, append-only transcript with FIFO eviction
//   - Role: Turn author enumeration (user, assistant, system)
//
// # Usage
//
// Record a user turn and read back the model context:
//
//	log := conversation.NewLog(100)
//	log.Append(conversation.NewUserTurn("Hello!"))
//	recent := log.Window(10)
//
// The log evicts at write time and windows at read time: Append drops the
// oldest turns once the bound is exceeded, while Window only selects the
// most recent entries and never removes anything.
package conversation
