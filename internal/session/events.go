// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventType identifies an outbound session event.
type EventType string

const (
	// EventUserMessage acknowledges that a submitted turn was accepted.
	EventUserMessage EventType = "user_message"

	// EventChunk carries one visible text fragment of the streaming reply.
	EventChunk EventType = "assistant_chunk"

	// EventComplete is the terminal event of a generation that finished
	// normally. It carries completion metadata.
	EventComplete EventType = "complete"

	// EventCancelled is the terminal event of a generation stopped by
	// cancellation.
	EventCancelled EventType = "cancelled"

	// EventCleared reports that the conversation store was emptied.
	EventCleared EventType = "cleared"

	// EventError is the terminal event of a generation that failed. Its
	// content is the classified failure reason.
	EventError EventType = "error"
)

// Event is one outbound session event in emission order. Exactly one of
// EventComplete, EventCancelled, or EventError terminates each generation,
// and no EventChunk for that generation follows it.
type Event struct {
	Type    EventType
	Content string
	// Meta is set on EventComplete only.
	Meta *CompletionMeta
}

// CompletionMeta describes a normally completed generation.
type CompletionMeta struct {
	// Model is the backend model identifier that produced the reply.
	Model string
	// ResponseTime is the elapsed wall time in seconds, rounded to two
	// decimal places.
	ResponseTime float64
	// Trailer is the out-of-band metadata block split off the end of the
	// streamed text, or "" if the stream carried none.
	Trailer string
}

// EventSink receives session events in emission order. Sinks must return
// promptly: a sink that blocks stalls its session's generation goroutine.
// Connection handlers buffer writes and drop frames on a stalled client
// instead of blocking here.
type EventSink func(Event)
