// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/riggate/internal/conversation"
)

// =============================================================================
// SESSION REGISTRY
// =============================================================================

// Registry owns the id-to-session mapping and is the only place sessions
// are created or removed. Lookups are safe for concurrent use and refresh
// the session's last-active time.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session

	done      chan struct{}
	closeOnce sync.Once
}

// NewRegistry creates a registry and, when both the idle timeout and sweep
// interval are set, starts the background idle sweeper. Close stops it.
func NewRegistry(cfg Config) *Registry {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = conversation.DefaultMaxTurns
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = conversation.DefaultContextWindow
	}
	r := &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	if cfg.IdleTimeout > 0 && cfg.SweepInterval > 0 {
		go r.sweepLoop()
	}
	return r
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Create registers a new session. An empty id is replaced with a generated
// one; ids are unique with practical certainty (uuid4). A client-supplied
// id that already exists returns the existing session with created=false,
// so create is idempotent per id.
func (r *Registry) Create(id string, metadata map[string]string) (*Session, bool) {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		existing.touch()
		return existing, false
	}
	s := newSession(id, metadata, r.cfg)
	r.sessions[id] = s
	r.mu.Unlock()

	log.Printf("SESSION_CREATE | id=%s client=%s", id, clientLabel(metadata))
	return s, true
}

// Get looks up a session by id, refreshing its last-active time.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.touch()
	return s, true
}

// GetOrCreate returns the session for id, creating it when unknown. An
// empty id always creates a fresh session. created reports which happened.
func (r *Registry) GetOrCreate(id string) (*Session, bool) {
	if id != "" {
		if s, ok := r.Get(id); ok {
			return s, false
		}
	}
	return r.Create(id, nil)
}

// Delete removes a session and aborts its active generation. It reports
// whether the id existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	s.close()
	log.Printf("SESSION_DELETE | id=%s", id)
	return true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SetPolicy applies reloaded session limits to a running registry. Turn
// limits affect sessions created from now on; the idle cutoff applies from
// the next sweep. The sweep cadence itself is fixed at startup.
func (r *Registry) SetPolicy(maxTurns, contextWindow int, idleTimeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if maxTurns > 0 {
		r.cfg.MaxTurns = maxTurns
	}
	if contextWindow > 0 {
		r.cfg.ContextWindow = contextWindow
	}
	r.cfg.IdleTimeout = idleTimeout
}

// Close stops the idle sweeper and destroys all sessions, aborting any
// in-flight generations.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// =============================================================================
// IDLE SWEEP
// =============================================================================

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweepIdle(time.Now())
		}
	}
}

// sweepIdle destroys sessions whose last activity is older than the idle
// timeout, measured against now.
func (r *Registry) sweepIdle(now time.Time) {
	r.mu.Lock()
	// A reload may have turned expiry off while the sweeper is running.
	if r.cfg.IdleTimeout <= 0 {
		r.mu.Unlock()
		return
	}
	cutoff := now.Add(-r.cfg.IdleTimeout)

	var expired []*Session
	for id, s := range r.sessions {
		if s.LastActive().Before(cutoff) {
			delete(r.sessions, id)
			expired = append(expired, s)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		idle := now.Sub(s.LastActive()).Round(time.Second)
		s.close()
		log.Printf("SESSION_EXPIRE | id=%s idle=%s", s.ID(), idle)
	}
}

// clientLabel extracts the client type recorded at creation for the create
// log line.
func clientLabel(metadata map[string]string) string {
	if c := metadata["client_type"]; c != "" {
		return c
	}
	return "unknown"
}
