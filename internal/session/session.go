// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/riggate/internal/conversation"
	"github.com/jeranaias/riggate/internal/util"
)

// ErrSessionClosed is returned by session commands after the session has
// been destroyed (deleted or expired). A connection holding a reference to
// a closed session should disconnect its client with an explicit reason.
var ErrSessionClosed = errors.New("session closed")

// previewWidth bounds user text in log lines.
const previewWidth = 50

// =============================================================================
// CONFIG
// =============================================================================

// Config carries the collaborators and limits shared by every session a
// registry creates. Values are resolved once at startup and passed in
// explicitly; nothing here is re-read from global state on the hot path.
type Config struct {
	// Backend produces streamed replies. Required.
	Backend Streamer

	// MaxTurns bounds each session's conversation store. Non-positive
	// falls back to conversation.DefaultMaxTurns.
	MaxTurns int

	// ContextWindow is how many recent turns are sent to the backend per
	// generation. Non-positive falls back to
	// conversation.DefaultContextWindow.
	ContextWindow int

	// IdleTimeout destroys sessions that stay inactive this long.
	// Zero disables expiry.
	IdleTimeout time.Duration

	// SweepInterval is how often the registry scans for idle sessions.
	// Zero disables the sweeper.
	SweepInterval time.Duration

	// Recorder, if non-nil, receives one record per terminal generation.
	Recorder Recorder
}

// =============================================================================
// SESSION
// =============================================================================

// Session is the unit of isolation: one conversation, its pending turn
// queue, and at most one in-flight generation. All state transitions happen
// under a single mutex, so commands from the connection handler and events
// from the generation goroutine never race.
//
// Sessions are created and destroyed only by a Registry.
type Session struct {
	id        string
	createdAt time.Time

	// Immutable after construction.
	backend       Streamer
	contextWindow int
	recorder      Recorder

	mu         sync.Mutex
	lastActive time.Time
	metadata   map[string]string
	store      *conversation.Log
	queue      turnQueue
	state      State
	generation uint64
	cancelGen  func()
	closed     bool

	sinkMu  sync.Mutex
	sink    EventSink
	sinkGen uint64
}

func newSession(id string, metadata map[string]string, cfg Config) *Session {
	now := time.Now()
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	return &Session{
		id:            id,
		createdAt:     now,
		lastActive:    now,
		backend:       cfg.Backend,
		contextWindow: cfg.ContextWindow,
		recorder:      cfg.Recorder,
		metadata:      meta,
		store:         conversation.NewLog(cfg.MaxTurns),
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

// Submit accepts a new user turn. If no generation is active, the turn is
// stored and generation starts before Submit returns; otherwise the text is
// queued and served in arrival order once the controller frees up. Submit
// never blocks on generation progress.
//
// Text that is empty after trimming is ignored: no ack, no stored turn.
func (s *Session) Submit(text string) error {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.lastActive = time.Now()
	if text == "" {
		return nil
	}

	queued := s.state != StateIdle
	log.Printf("TURN_SUBMIT | session=%s queued=%t preview=%q", s.id, queued, util.Preview(text, previewWidth))
	s.emit(Event{Type: EventUserMessage, Content: text})

	if queued {
		s.queue.enqueue(text)
		return nil
	}
	s.store.Append(conversation.NewUserTurn(text))
	s.startLocked()
	return nil
}

// Cancel requests cancellation of the active generation. The generation
// goroutine observes the signal at its next fragment boundary and emits the
// cancelled event. Cancelling an idle session, or a generation that already
// produced its terminal event, is a no-op.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.lastActive = time.Now()
	if s.state != StateActive {
		return nil
	}
	s.state = StateCancelling
	s.cancelGen()
	log.Printf("CANCEL_REQUEST | session=%s gen=%d", s.id, s.generation)
	return nil
}

// Clear empties the conversation store and reports it to the client. An
// active generation keeps running and appends its turn to the now-empty
// store; queued turns are kept.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.lastActive = time.Now()
	s.store.Clear()
	s.emit(Event{Type: EventCleared})
	log.Printf("SESSION_CLEAR | id=%s", s.id)
	return nil
}

// close marks the session dead, drops its queue, and aborts any active
// generation. Called by the registry on delete, expiry, and shutdown.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue.clear()
	if s.state == StateActive {
		s.state = StateCancelling
		s.cancelGen()
	}
}

// =============================================================================
// EVENT SINK
// =============================================================================

// AttachSink connects an event sink, replacing any previous one. A session
// has at most one live connection; on reconnect the new connection's sink
// takes over. The returned token identifies this attachment for DetachSink.
func (s *Session) AttachSink(sink EventSink) uint64 {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	s.sinkGen++
	s.sink = sink
	return s.sinkGen
}

// DetachSink disconnects the sink identified by token. Events emitted while
// no sink is attached are dropped; the session itself keeps running. A
// detach from a connection whose sink was already replaced by a reconnect
// is a no-op, so a slow-closing connection cannot silence its successor.
func (s *Session) DetachSink(token uint64) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	if s.sinkGen == token {
		s.sink = nil
	}
}

// emit hands one event to the attached sink, if any. The sink lock is
// separate from the state mutex, so emit is safe from both command handlers
// and the generation goroutine.
func (s *Session) emit(ev Event) {
	s.sinkMu.Lock()
	sink := s.sink
	s.sinkMu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// LastActive returns the time of the most recent command or lookup.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// touch refreshes the last-active time. Registry lookups call this so a
// session with a polling client never expires out from under it.
func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// Metadata returns a copy of the session's creation metadata.
func (s *Session) Metadata() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		meta[k] = v
	}
	return meta
}

// MessageCount returns the number of stored turns.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Len()
}

// Transcript returns a copy of the stored turns, oldest first. The turns
// are immutable once stored and safe to read without further locking.
func (s *Session) Transcript() []*conversation.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Snapshot()
}

// State returns the current generation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// QueueDepth returns the number of turns waiting behind the active
// generation.
func (s *Session) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len()
}

// Closed reports whether the session has been destroyed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
