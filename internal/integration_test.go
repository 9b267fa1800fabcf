// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package internal provides integration tests for the complete riggate
// gateway.
//
// Unlike the package-level tests, which script the model backend through the
// session.Streamer seam, these tests run the whole stack over real HTTP: a
// scripted OpenAI-compatible upstream, the backend client parsing its SSE
// stream, the session registry, and the public REST + websocket surface.
//
// They verify end-to-end functionality including:
// - The full turn journey: create, connect, send, stream, complete
// - Cancellation mid-generation and session recovery afterwards
// - FIFO draining of queued turns
// - Independent generation across sessions
// - Generation surviving a client disconnect
// - Bearer auth on every surface, with /health exempt
// - Usage totals visible over REST after terminal outcomes
package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jeranaias/riggate/internal/backend"
	"github.com/jeranaias/riggate/internal/config"
	"github.com/jeranaias/riggate/internal/server"
	"github.com/jeranaias/riggate/internal/session"
	"github.com/jeranaias/riggate/internal/usage"
)

const e2eTimeout = 5 * time.Second

// =============================================================================
// SCRIPTED UPSTREAM
// =============================================================================

// openAIUpstream emulates the streaming side of an OpenAI-compatible model
// server. When gate is non-nil the handler waits for one gate receive per
// fragment, so tests can hold a generation open and cancel or race it;
// request-context cancellation releases the wait. Closing the gate lets all
// later requests stream freely.
type openAIUpstream struct {
	fragments []string
	gate      chan struct{}

	mu       sync.Mutex
	requests int
}

func (u *openAIUpstream) Requests() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.requests
}

func (u *openAIUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.requests++
	u.mu.Unlock()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")

	for _, frag := range u.fragments {
		if u.gate != nil {
			select {
			case <-u.gate:
			case <-r.Context().Done():
				return
			}
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"delta": map[string]string{"content": frag}},
			},
		})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// =============================================================================
// GATEWAY FIXTURE
// =============================================================================

// gatewayFixture is a complete gateway running over loopback HTTP.
type gatewayFixture struct {
	upstream *httptest.Server
	gateway  *httptest.Server
	registry *session.Registry
	ledger   *usage.Ledger
	cfg      *config.Config
}

// newGateway assembles upstream, backend client, registry, and handler.
// mutate runs on the config before anything is built; tests use it to turn
// on auth or the usage ledger.
func newGateway(t *testing.T, upstream http.Handler, mutate func(*config.Config)) *gatewayFixture {
	t.Helper()

	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	cfg := config.Default()
	cfg.Server.RateLimitRPS = 0
	cfg.Server.FrameRateLimit = 0
	cfg.Usage.Enabled = false
	cfg.Backend.Protocol = "openai"
	cfg.Backend.APIKey = "sk-test"
	cfg.Backend.BaseURL = up.URL
	cfg.Backend.Model = "test-model"
	if mutate != nil {
		mutate(cfg)
	}

	client, err := backend.New(backend.Config{
		Protocol: cfg.Backend.Protocol,
		APIKey:   cfg.Backend.APIKey,
		BaseURL:  cfg.Backend.BaseURL,
		Model:    cfg.Backend.Model,
	})
	if err != nil {
		t.Fatalf("backend.New: %v", err)
	}

	var ledger *usage.Ledger
	if cfg.Usage.Enabled {
		ledger, err = usage.Open(filepath.Join(t.TempDir(), "usage.db"))
		if err != nil {
			t.Fatalf("usage.Open: %v", err)
		}
		t.Cleanup(func() { ledger.Close() })
	}

	regCfg := session.Config{Backend: client}
	if ledger != nil {
		regCfg.Recorder = ledger
	}
	registry := session.NewRegistry(regCfg)
	t.Cleanup(registry.Close)

	srv := server.New(cfg.Server, registry, client, ledger)
	gw := httptest.NewServer(srv.Handler())
	t.Cleanup(gw.Close)

	return &gatewayFixture{
		upstream: up,
		gateway:  gw,
		registry: registry,
		ledger:   ledger,
		cfg:      cfg,
	}
}

// rest performs an authenticated REST call and decodes the JSON reply into v
// when v is non-nil. It returns the status code.
func (g *gatewayFixture) rest(t *testing.T, method, path, token string, body, v interface{}) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, g.gateway.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// createSession creates a session over REST and returns its id.
func (g *gatewayFixture) createSession(t *testing.T, token string) string {
	t.Helper()
	var created server.CreateSessionResponse
	status := g.rest(t, http.MethodPost, "/api/sessions", token, map[string]string{}, &created)
	if status != http.StatusOK {
		t.Fatalf("create session: status = %d", status)
	}
	if created.SessionID == "" {
		t.Fatal("create session: empty session_id")
	}
	return created.SessionID
}

// dialWS opens the session websocket. It fails the test on handshake errors.
func (g *gatewayFixture) dialWS(t *testing.T, id, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(g.wsURL(id), wsHeader(token))
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("websocket dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (g *gatewayFixture) wsURL(id string) string {
	return "ws" + strings.TrimPrefix(g.gateway.URL, "http") + "/ws/" + id
}

func wsHeader(token string) http.Header {
	if token == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

// sendFrame writes one client frame.
func sendFrame(t *testing.T, conn *websocket.Conn, frame server.ClientFrame) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(e2eTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// readFrame reads one server frame within the suite deadline.
func readFrame(t *testing.T, conn *websocket.Conn) server.ServerFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(e2eTimeout))
	var frame server.ServerFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

// collectTurn reads frames until a terminal frame arrives. It returns every
// frame read, terminal included.
func collectTurn(t *testing.T, conn *websocket.Conn) []server.ServerFrame {
	t.Helper()
	var frames []server.ServerFrame
	for {
		frame := readFrame(t, conn)
		frames = append(frames, frame)
		switch frame.Type {
		case server.FrameComplete, server.FrameCancelled, server.FrameError:
			return frames
		}
	}
}

// chunkText concatenates the chunk frames in order.
func chunkText(frames []server.ServerFrame) string {
	var b strings.Builder
	for _, f := range frames {
		if f.Type == server.FrameChunk {
			b.WriteString(f.Content)
		}
	}
	return b.String()
}

// terminalOf returns the last frame, which collectTurn guarantees terminal.
func terminalOf(frames []server.ServerFrame) server.ServerFrame {
	return frames[len(frames)-1]
}

// =============================================================================
// TURN JOURNEY
// =============================================================================

func TestGateway_FullTurnJourney(t *testing.T) {
	g := newGateway(t, &openAIUpstream{fragments: []string{"Hello", ", world"}}, nil)

	id := g.createSession(t, "")
	conn := g.dialWS(t, id, "")

	sendFrame(t, conn, server.ClientFrame{Action: server.ActionSendMessage, Content: "hi"})

	frames := collectTurn(t, conn)
	if frames[0].Type != server.FrameUserMessage || frames[0].Content != "hi" {
		t.Errorf("first frame = %+v, want user_message ack", frames[0])
	}
	if got := chunkText(frames); got != "Hello, world" {
		t.Errorf("streamed text = %q, want %q", got, "Hello, world")
	}

	terminal := terminalOf(frames)
	if terminal.Type != server.FrameComplete {
		t.Fatalf("terminal frame = %q, want complete", terminal.Type)
	}
	if terminal.Metadata == nil {
		t.Fatal("complete frame missing metadata")
	}
	if terminal.Metadata.Model != "test-model" {
		t.Errorf("metadata model = %q, want test-model", terminal.Metadata.Model)
	}
	if terminal.Metadata.ResponseTime < 0 {
		t.Errorf("metadata response_time = %v, want >= 0", terminal.Metadata.ResponseTime)
	}

	var msgs server.MessagesResponse
	if status := g.rest(t, http.MethodGet, "/api/sessions/"+id+"/messages", "", nil, &msgs); status != http.StatusOK {
		t.Fatalf("get messages: status = %d", status)
	}
	if len(msgs.Messages) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(msgs.Messages))
	}
	if msgs.Messages[0].Role != "user" || msgs.Messages[0].Content != "hi" {
		t.Errorf("transcript[0] = %+v, want user hi", msgs.Messages[0])
	}
	if msgs.Messages[1].Role != "assistant" || msgs.Messages[1].Content != "Hello, world" {
		t.Errorf("transcript[1] = %+v, want assistant reply", msgs.Messages[1])
	}
	if msgs.Messages[1].Cancelled {
		t.Error("completed reply marked cancelled")
	}

	var info server.SessionInfoResponse
	g.rest(t, http.MethodGet, "/api/sessions/"+id, "", nil, &info)
	if info.MessageCount != 2 || info.QueueDepth != 0 || info.State != "idle" {
		t.Errorf("session info = %+v, want idle with 2 messages", info)
	}

	if status := g.rest(t, http.MethodDelete, "/api/sessions/"+id, "", nil, nil); status != http.StatusOK {
		t.Errorf("delete session: status = %d", status)
	}
	if status := g.rest(t, http.MethodGet, "/api/sessions/"+id, "", nil, nil); status != http.StatusNotFound {
		t.Errorf("get deleted session: status = %d, want 404", status)
	}
}

func TestGateway_HealthReportsBackend(t *testing.T) {
	g := newGateway(t, &openAIUpstream{fragments: []string{"x"}}, nil)
	g.createSession(t, "")

	var health server.HealthResponse
	if status := g.rest(t, http.MethodGet, "/health", "", nil, &health); status != http.StatusOK {
		t.Fatalf("health: status = %d", status)
	}
	if health.Status != "ok" {
		t.Errorf("health status = %q, want ok", health.Status)
	}
	if health.Model != "test-model" || health.Protocol != "openai" {
		t.Errorf("health backend = %s/%s, want test-model/openai", health.Model, health.Protocol)
	}
	if health.ActiveSessions != 1 {
		t.Errorf("active sessions = %d, want 1", health.ActiveSessions)
	}
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestGateway_CancelMidGeneration(t *testing.T) {
	up := &openAIUpstream{
		fragments: []string{"part one", " part two", " part three"},
		gate:      make(chan struct{}),
	}
	g := newGateway(t, up, nil)

	id := g.createSession(t, "")
	conn := g.dialWS(t, id, "")

	sendFrame(t, conn, server.ClientFrame{Action: server.ActionSendMessage, Content: "go"})
	if ack := readFrame(t, conn); ack.Type != server.FrameUserMessage {
		t.Fatalf("ack frame = %q, want user_message", ack.Type)
	}

	// Release exactly one fragment, then cancel while the upstream holds the
	// second back.
	up.gate <- struct{}{}
	if chunk := readFrame(t, conn); chunk.Type != server.FrameChunk || chunk.Content != "part one" {
		t.Fatalf("chunk frame = %+v, want part one", chunk)
	}
	sendFrame(t, conn, server.ClientFrame{Action: server.ActionCancel})

	terminal := readFrame(t, conn)
	if terminal.Type != server.FrameCancelled {
		t.Fatalf("terminal frame = %q, want cancelled", terminal.Type)
	}
	if terminal.Content != "Generation cancelled" {
		t.Errorf("cancelled content = %q", terminal.Content)
	}

	var msgs server.MessagesResponse
	g.rest(t, http.MethodGet, "/api/sessions/"+id+"/messages", "", nil, &msgs)
	if len(msgs.Messages) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(msgs.Messages))
	}
	if !msgs.Messages[1].Cancelled || msgs.Messages[1].Content != "part one" {
		t.Errorf("partial turn = %+v, want cancelled with part one", msgs.Messages[1])
	}

	// The session must keep working. Free-run the gate and take another turn.
	close(up.gate)
	sendFrame(t, conn, server.ClientFrame{Action: server.ActionSendMessage, Content: "again"})
	frames := collectTurn(t, conn)
	if terminalOf(frames).Type != server.FrameComplete {
		t.Fatalf("post-cancel terminal = %q, want complete", terminalOf(frames).Type)
	}
	if got := chunkText(frames); got != "part one part two part three" {
		t.Errorf("post-cancel text = %q", got)
	}
}

// =============================================================================
// QUEUEING
// =============================================================================

func TestGateway_QueuedTurnsDrainInOrder(t *testing.T) {
	up := &openAIUpstream{
		fragments: []string{"ok"},
		gate:      make(chan struct{}),
	}
	g := newGateway(t, up, nil)

	id := g.createSession(t, "")
	conn := g.dialWS(t, id, "")

	// Both submissions land while the first generation is held open, so the
	// second turn queues. The acks arrive before any chunk can: nothing
	// streams until the gate is fed.
	sendFrame(t, conn, server.ClientFrame{Action: server.ActionSendMessage, Content: "first"})
	sendFrame(t, conn, server.ClientFrame{Action: server.ActionSendMessage, Content: "second"})
	for i := 0; i < 2; i++ {
		if ack := readFrame(t, conn); ack.Type != server.FrameUserMessage {
			t.Fatalf("frame %d = %q, want user_message ack", i, ack.Type)
		}
	}

	// Two generations, one gated fragment each.
	go func() {
		up.gate <- struct{}{}
		up.gate <- struct{}{}
	}()

	var completes int
	var ordered []string
	for completes < 2 {
		frame := readFrame(t, conn)
		switch frame.Type {
		case server.FrameChunk:
			ordered = append(ordered, "chunk")
		case server.FrameComplete:
			ordered = append(ordered, "complete")
			completes++
		case server.FrameError, server.FrameCancelled:
			t.Fatalf("unexpected terminal %q", frame.Type)
		}
	}
	want := []string{"chunk", "complete", "chunk", "complete"}
	if len(ordered) != len(want) {
		t.Fatalf("event sequence = %v, want %v", ordered, want)
	}
	for i := range want {
		if ordered[i] != want[i] {
			t.Fatalf("event sequence = %v, want %v", ordered, want)
		}
	}

	var msgs server.MessagesResponse
	g.rest(t, http.MethodGet, "/api/sessions/"+id+"/messages", "", nil, &msgs)
	var contents []string
	for _, m := range msgs.Messages {
		contents = append(contents, m.Role+":"+m.Content)
	}
	wantTranscript := []string{"user:first", "assistant:ok", "user:second", "assistant:ok"}
	if len(contents) != len(wantTranscript) {
		t.Fatalf("transcript = %v, want %v", contents, wantTranscript)
	}
	for i := range wantTranscript {
		if contents[i] != wantTranscript[i] {
			t.Fatalf("transcript = %v, want %v", contents, wantTranscript)
		}
	}
}

// =============================================================================
// CROSS-SESSION INDEPENDENCE
// =============================================================================

func TestGateway_SessionsGenerateIndependently(t *testing.T) {
	up := &openAIUpstream{
		fragments: []string{"alpha"},
		gate:      make(chan struct{}),
	}
	g := newGateway(t, up, nil)

	idA := g.createSession(t, "")
	idB := g.createSession(t, "")
	connA := g.dialWS(t, idA, "")
	connB := g.dialWS(t, idB, "")

	sendFrame(t, connA, server.ClientFrame{Action: server.ActionSendMessage, Content: "a"})
	sendFrame(t, connB, server.ClientFrame{Action: server.ActionSendMessage, Content: "b"})

	// Both upstream requests must be in flight before either is released:
	// one session's generation never waits on another's.
	deadline := time.Now().Add(e2eTimeout)
	for up.Requests() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("upstream requests = %d, want 2 concurrent", up.Requests())
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(up.gate)

	for name, conn := range map[string]*websocket.Conn{"a": connA, "b": connB} {
		frames := collectTurn(t, conn)
		if terminalOf(frames).Type != server.FrameComplete {
			t.Errorf("session %s terminal = %q, want complete", name, terminalOf(frames).Type)
		}
		if got := chunkText(frames); got != "alpha" {
			t.Errorf("session %s text = %q, want alpha", name, got)
		}
	}
}

// =============================================================================
// DISCONNECT RESILIENCE
// =============================================================================

func TestGateway_GenerationSurvivesDisconnect(t *testing.T) {
	up := &openAIUpstream{
		fragments: []string{"kept going"},
		gate:      make(chan struct{}),
	}
	g := newGateway(t, up, nil)

	id := g.createSession(t, "")
	conn := g.dialWS(t, id, "")

	sendFrame(t, conn, server.ClientFrame{Action: server.ActionSendMessage, Content: "long task"})
	if ack := readFrame(t, conn); ack.Type != server.FrameUserMessage {
		t.Fatalf("ack frame = %q, want user_message", ack.Type)
	}

	// Drop the client while the generation is held open, then let it finish
	// with nobody listening.
	conn.Close()
	close(up.gate)

	deadline := time.Now().Add(e2eTimeout)
	for {
		var info server.SessionInfoResponse
		g.rest(t, http.MethodGet, "/api/sessions/"+id, "", nil, &info)
		if info.MessageCount == 2 && info.State == "idle" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never finished after disconnect: %+v", info)
		}
		time.Sleep(10 * time.Millisecond)
	}

	var msgs server.MessagesResponse
	g.rest(t, http.MethodGet, "/api/sessions/"+id+"/messages", "", nil, &msgs)
	if len(msgs.Messages) != 2 || msgs.Messages[1].Content != "kept going" {
		t.Fatalf("transcript after disconnect = %+v", msgs.Messages)
	}

	// A fresh connection picks the session back up.
	conn2 := g.dialWS(t, id, "")
	sendFrame(t, conn2, server.ClientFrame{Action: server.ActionSendMessage, Content: "back"})
	frames := collectTurn(t, conn2)
	if terminalOf(frames).Type != server.FrameComplete {
		t.Errorf("reconnect terminal = %q, want complete", terminalOf(frames).Type)
	}
}

// =============================================================================
// AUTH
// =============================================================================

func TestGateway_AuthEnforcedOnEverySurface(t *testing.T) {
	g := newGateway(t, &openAIUpstream{fragments: []string{"x"}}, func(cfg *config.Config) {
		cfg.Server.AuthToken = "secret-token"
	})

	if status := g.rest(t, http.MethodPost, "/api/sessions", "", map[string]string{}, nil); status != http.StatusUnauthorized {
		t.Errorf("create without token: status = %d, want 401", status)
	}
	if status := g.rest(t, http.MethodPost, "/api/sessions", "wrong", map[string]string{}, nil); status != http.StatusUnauthorized {
		t.Errorf("create with wrong token: status = %d, want 401", status)
	}

	id := g.createSession(t, "secret-token")

	// Health stays open so clients can probe before authenticating.
	if status := g.rest(t, http.MethodGet, "/health", "", nil, nil); status != http.StatusOK {
		t.Errorf("health without token: status = %d, want 200", status)
	}

	// The websocket handshake runs through the same middleware.
	_, resp, err := websocket.DefaultDialer.Dial(g.wsURL(id), nil)
	if err == nil {
		t.Fatal("unauthenticated websocket dial succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated dial response = %+v, want 401", resp)
	}

	conn := g.dialWS(t, id, "secret-token")
	sendFrame(t, conn, server.ClientFrame{Action: server.ActionSendMessage, Content: "hi"})
	frames := collectTurn(t, conn)
	if terminalOf(frames).Type != server.FrameComplete {
		t.Errorf("authenticated turn terminal = %q, want complete", terminalOf(frames).Type)
	}
}

// =============================================================================
// USAGE LEDGER
// =============================================================================

func TestGateway_UsageTotalsOverREST(t *testing.T) {
	up := &openAIUpstream{
		fragments: []string{"Hello", ", world"},
		gate:      make(chan struct{}),
	}
	g := newGateway(t, up, func(cfg *config.Config) {
		cfg.Usage.Enabled = true
	})

	id := g.createSession(t, "")
	conn := g.dialWS(t, id, "")

	// One cancelled turn: the gate holds every fragment back, so the cancel
	// lands before any output.
	sendFrame(t, conn, server.ClientFrame{Action: server.ActionSendMessage, Content: "stop me"})
	if ack := readFrame(t, conn); ack.Type != server.FrameUserMessage {
		t.Fatalf("ack frame = %q, want user_message", ack.Type)
	}
	sendFrame(t, conn, server.ClientFrame{Action: server.ActionCancel})
	if terminal := readFrame(t, conn); terminal.Type != server.FrameCancelled {
		t.Fatalf("terminal = %q, want cancelled", terminal.Type)
	}

	// One completed turn with the gate out of the way.
	close(up.gate)
	sendFrame(t, conn, server.ClientFrame{Action: server.ActionSendMessage, Content: "hi"})
	frames := collectTurn(t, conn)
	if terminal := terminalOf(frames); terminal.Type != server.FrameComplete {
		t.Fatalf("terminal = %q, want complete", terminal.Type)
	}
	if got := chunkText(frames); got != "Hello, world" {
		t.Fatalf("streamed text = %q, want %q", got, "Hello, world")
	}

	// Recording happens on the generation goroutine after the terminal event;
	// poll briefly.
	deadline := time.Now().Add(e2eTimeout)
	var report server.UsageResponse
	for {
		g.rest(t, http.MethodGet, "/api/usage", "", nil, &report)
		if report.Totals.Generations == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("usage totals never reached 2 generations: %+v", report)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !report.Enabled {
		t.Error("usage report says disabled")
	}
	if report.Totals.Completed != 1 || report.Totals.Cancelled != 1 {
		t.Errorf("totals = %+v, want 1 completed and 1 cancelled", report.Totals)
	}
	if report.Totals.Chars != int64(len("Hello, world")) {
		t.Errorf("chars = %d, want %d", report.Totals.Chars, len("Hello, world"))
	}
}
