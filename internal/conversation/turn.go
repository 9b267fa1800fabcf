// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation contains the data structures for session transcripts.
package conversation

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether the role is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// =============================================================================
// TURN TYPE
// =============================================================================

// Turn represents a single entry in a session transcript.
type Turn struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`

	// Content
	Content string `json:"content"`

	// Generation metadata (assistant turns only)
	Model     string        `json:"model,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns,omitempty"`
	Cancelled bool          `json:"cancelled,omitempty"`
	// Trailer holds the metadata block the backend appends after its
	// visible answer, split off before the answer was stored.
	Trailer string `json:"trailer,omitempty"`
}

// NewTurn creates a new turn with a generated ID.
func NewTurn(role Role, content string) *Turn {
	return &Turn{
		ID:        generateTurnID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewUserTurn creates a new user turn.
func NewUserTurn(content string) *Turn {
	return NewTurn(RoleUser, content)
}

// NewAssistantTurn creates a new assistant turn. Generation metadata is set
// by the caller once known.
func NewAssistantTurn(content string) *Turn {
	return NewTurn(RoleAssistant, content)
}

// NewSystemTurn creates a new system turn.
func NewSystemTurn(content string) *Turn {
	return NewTurn(RoleSystem, content)
}

// =============================================================================
// TURN METHODS
// =============================================================================

// IsEmpty returns true if the turn has no content.
func (t *Turn) IsEmpty() bool {
	return len(t.Content) == 0
}

// Clone returns a copy of the turn.
func (t *Turn) Clone() *Turn {
	cp := *t
	return &cp
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateTurnID creates a unique turn ID.
func generateTurnID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "msg_" + hex.EncodeToString(bytes)
}
