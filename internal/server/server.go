// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jeranaias/riggate/internal/backend"
	"github.com/jeranaias/riggate/internal/config"
	"github.com/jeranaias/riggate/internal/conversation"
	"github.com/jeranaias/riggate/internal/session"
	"github.com/jeranaias/riggate/internal/usage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// Version is the gateway version reported by /health.
	Version = "0.1.0"

	// MaxRequestBodySize caps REST request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024
)

// ============================================================================
// SERVER
// ============================================================================

// BackendInfo is what the health endpoint reports about the model backend.
// *backend.Client satisfies it.
type BackendInfo interface {
	Model() string
	Protocol() backend.Protocol
}

// Server exposes the gateway over HTTP: a REST side channel for session
// bootstrap and introspection, and the per-session websocket endpoint that
// carries the conversation itself.
type Server struct {
	cfg      config.ServerConfig
	registry *session.Registry
	backend  BackendInfo
	ledger   *usage.Ledger

	router   *http.ServeMux
	server   *http.Server
	upgrader websocket.Upgrader
	limiter  *IPLimiter
}

// New assembles a server around an existing registry. The ledger may be nil
// when usage recording is disabled.
func New(cfg config.ServerConfig, registry *session.Registry, info BackendInfo, ledger *usage.Ledger) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		backend:  info,
		ledger:   ledger,
		router:   http.NewServeMux(),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients send no Origin header.
				return true
			}
			return originAllowed(cfg.AllowedOrigins, origin)
		},
	}

	if cfg.RateLimitRPS > 0 {
		s.limiter = NewIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	s.setupRoutes()
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr()
}

// ApplyRateLimits adjusts the REST request budget on a running server.
// Limiting can only be tuned, not enabled, after startup: the middleware
// chain is built once, so a server started with limiting off ignores new
// budgets until restart.
func (s *Server) ApplyRateLimits(rps float64, burst int) {
	if s.limiter == nil || rps <= 0 {
		return
	}
	s.limiter.SetRate(rps, burst)
	log.Printf("RATE_LIMIT_RELOAD | rps=%g burst=%d", rps, burst)
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Session bootstrap and introspection
	s.router.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.router.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.router.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.router.HandleFunc("GET /api/sessions/{id}/messages", s.handleGetMessages)

	// Health and usage
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /api/usage", s.handleUsage)

	// The conversation itself
	s.router.HandleFunc("GET /ws/{id}", s.handleWS)
}

// ============================================================================
// SESSION HANDLERS
// ============================================================================

// CreateSessionRequest is the POST /api/sessions body. Both fields are
// optional: an omitted id lets the registry mint one, and metadata is free
// string key/values recorded at creation (client_type and the like).
type CreateSessionRequest struct {
	SessionID string            `json:"session_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CreateSessionResponse is the POST /api/sessions reply.
type CreateSessionResponse struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// handleCreateSession handles POST /api/sessions. Supplying an id that
// already exists returns the existing session rather than an error, so
// front-ends can reuse ids across restarts.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Printf("BAD_REQUEST | path=%s err=%v", r.URL.Path, err)
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sess, _ := s.registry.Create(req.SessionID, req.Metadata)
	s.writeJSON(w, http.StatusOK, CreateSessionResponse{
		SessionID: sess.ID(),
		CreatedAt: sess.CreatedAt(),
	})
}

// SessionInfoResponse is the GET /api/sessions/{id} reply.
type SessionInfoResponse struct {
	SessionID    string            `json:"session_id"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActive   time.Time         `json:"last_active"`
	MessageCount int               `json:"message_count"`
	State        string            `json:"state"`
	QueueDepth   int               `json:"queue_depth"`
	Metadata     map[string]string `json:"metadata"`
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	s.writeJSON(w, http.StatusOK, SessionInfoResponse{
		SessionID:    sess.ID(),
		CreatedAt:    sess.CreatedAt(),
		LastActive:   sess.LastActive(),
		MessageCount: sess.MessageCount(),
		State:        sess.State().String(),
		QueueDepth:   sess.QueueDepth(),
		Metadata:     sess.Metadata(),
	})
}

// handleDeleteSession handles DELETE /api/sessions/{id}. Deleting a session
// aborts any in-flight generation.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Delete(r.PathValue("id")) {
		s.writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// MessageInfo is one transcript entry in the GET messages reply.
type MessageInfo struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model,omitempty"`
	Cancelled bool      `json:"cancelled,omitempty"`
	Trailer   string    `json:"trailer,omitempty"`
}

// MessagesResponse is the GET /api/sessions/{id}/messages reply.
type MessagesResponse struct {
	Messages []MessageInfo `json:"messages"`
}

// handleGetMessages handles GET /api/sessions/{id}/messages, returning the
// full stored transcript.
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	transcript := sess.Transcript()
	messages := make([]MessageInfo, len(transcript))
	for i, turn := range transcript {
		messages[i] = messageFromTurn(turn)
	}
	s.writeJSON(w, http.StatusOK, MessagesResponse{Messages: messages})
}

func messageFromTurn(turn *conversation.Turn) MessageInfo {
	return MessageInfo{
		ID:        turn.ID,
		Role:      turn.Role.String(),
		Content:   turn.Content,
		Timestamp: turn.CreatedAt,
		Model:     turn.Model,
		Cancelled: turn.Cancelled,
		Trailer:   turn.Trailer,
	}
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse is the GET /health reply, consumed by front-ends to
// bootstrap a connection and by riggate status.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
	Model          string `json:"model"`
	Protocol       string `json:"protocol"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:         "ok",
		Version:        Version,
		ActiveSessions: s.registry.Count(),
	}
	if s.backend != nil {
		health.Model = s.backend.Model()
		health.Protocol = string(s.backend.Protocol())
	}
	s.writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// USAGE HANDLER
// ============================================================================

// UsageResponse is the GET /api/usage reply.
type UsageResponse struct {
	Enabled bool         `json:"enabled"`
	Totals  usage.Totals `json:"totals"`
}

// handleUsage handles GET /api/usage.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeJSON(w, http.StatusOK, UsageResponse{Enabled: false})
		return
	}

	totals, err := s.ledger.Totals()
	if err != nil {
		log.Printf("USAGE_READ_FAIL | err=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to read usage totals")
		return
	}
	s.writeJSON(w, http.StatusOK, UsageResponse{Enabled: true, Totals: totals})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Handler returns the routes wrapped in the full middleware chain. Exposed
// so tests can drive the server through httptest.
func (s *Server) Handler() http.Handler {
	handler := Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
		CORSMiddleware(s.cfg.AllowedOrigins),
		RateLimitMiddleware(s.limiter),
	)(s.router)

	if s.cfg.AuthToken != "" {
		handler = AuthMiddleware(s.cfg.AuthToken)(handler)
	}
	return handler
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("SERVER_START | addr=%s version=%s", s.cfg.Addr(), Version)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight HTTP requests. Live websocket connections are
// not waited on; closing the registry aborts their sessions and the process
// exits right after.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Printf("SERVER_SHUTDOWN | draining connections")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	})
}
