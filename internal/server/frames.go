// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"github.com/jeranaias/riggate/internal/session"
)

// ============================================================================
// INBOUND FRAMES
// ============================================================================

// Inbound actions accepted over a session connection.
const (
	ActionSendMessage = "send_message"
	ActionCancel      = "cancel"
	ActionClear       = "clear"
)

// ClientFrame is a single JSON frame received from a front-end.
type ClientFrame struct {
	Action  string `json:"action"`
	Content string `json:"content,omitempty"`
}

// ============================================================================
// OUTBOUND FRAMES
// ============================================================================

// Outbound frame types. They mirror session event types one-to-one; clients
// that speak the wire protocol switch on these without importing the session
// package.
const (
	FrameUserMessage = "user_message"
	FrameChunk       = "assistant_chunk"
	FrameComplete    = "complete"
	FrameCancelled   = "cancelled"
	FrameCleared     = "cleared"
	FrameError       = "error"
)

// ServerFrame is a single JSON frame sent to a front-end.
type ServerFrame struct {
	Type     string         `json:"type"`
	Content  string         `json:"content,omitempty"`
	Metadata *FrameMetadata `json:"metadata,omitempty"`
}

// FrameMetadata accompanies a complete frame.
type FrameMetadata struct {
	// ResponseTime is the generation wall time in seconds, two decimals.
	ResponseTime float64 `json:"response_time"`

	// Model is the backend model that produced the reply.
	Model string `json:"model"`

	// Trailer is the out-of-band metadata block the backend appended after
	// its visible answer, if any.
	Trailer string `json:"trailer,omitempty"`
}

// frameFromEvent converts a session event into its wire representation.
func frameFromEvent(ev session.Event) ServerFrame {
	frame := ServerFrame{
		Type:    string(ev.Type),
		Content: ev.Content,
	}
	if ev.Meta != nil {
		frame.Metadata = &FrameMetadata{
			ResponseTime: ev.Meta.ResponseTime,
			Model:        ev.Meta.Model,
			Trailer:      ev.Meta.Trailer,
		}
	}
	return frame
}
