// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

// DefaultMaxTurns is the default bound on stored turns per session.
// When exceeded, the oldest turns are evicted to prevent unbounded
// memory growth.
const DefaultMaxTurns = 100

// DefaultContextWindow is the default number of most recent turns handed
// to the model backend per generation.
const DefaultContextWindow = 10

// =============================================================================
// LOG TYPE
// =============================================================================

// Log is a bounded, append-only transcript of turns in arrival order.
//
// Eviction happens at append time: once the bound is exceeded the oldest
// turns are dropped, regardless of role. The context window is applied at
// read time via Window and never removes anything.
//
// Log is not safe for concurrent use. The owning session serializes access.
type Log struct {
	maxTurns int
	turns    []*Turn
}

// NewLog creates an empty log bounded to maxTurns entries.
// A non-positive bound falls back to DefaultMaxTurns.
func NewLog(maxTurns int) *Log {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Log{
		maxTurns: maxTurns,
		turns:    make([]*Turn, 0),
	}
}

// =============================================================================
// TURN MANAGEMENT
// =============================================================================

// Append adds a turn to the log, evicting the oldest turns if the bound
// is exceeded.
func (l *Log) Append(t *Turn) {
	l.turns = append(l.turns, t)

	if len(l.turns) > l.maxTurns {
		excess := len(l.turns) - l.maxTurns
		copy(l.turns, l.turns[excess:])
		// Nil out the vacated tail so evicted turns can be collected.
		for i := l.maxTurns; i < len(l.turns); i++ {
			l.turns[i] = nil
		}
		l.turns = l.turns[:l.maxTurns]
	}
}

// Window returns up to n of the most recent turns, oldest first.
// The returned slice is a copy; the turns themselves are shared.
func (l *Log) Window(n int) []*Turn {
	if n <= 0 || len(l.turns) == 0 {
		return nil
	}
	if n > len(l.turns) {
		n = len(l.turns)
	}
	out := make([]*Turn, n)
	copy(out, l.turns[len(l.turns)-n:])
	return out
}

// Snapshot returns a copy of all stored turns, oldest first.
func (l *Log) Snapshot() []*Turn {
	out := make([]*Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Last returns the most recent turn, or nil if the log is empty.
func (l *Log) Last() *Turn {
	if len(l.turns) == 0 {
		return nil
	}
	return l.turns[len(l.turns)-1]
}

// Len returns the number of stored turns.
func (l *Log) Len() int {
	return len(l.turns)
}

// MaxTurns returns the configured bound.
func (l *Log) MaxTurns() int {
	return l.maxTurns
}

// Clear removes all turns from the log.
func (l *Log) Clear() {
	for i := range l.turns {
		l.turns[i] = nil
	}
	l.turns = l.turns[:0]
}

// IsEmpty returns true if there are no turns.
func (l *Log) IsEmpty() bool {
	return len(l.turns) == 0
}
