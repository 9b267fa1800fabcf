// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jeranaias/riggate/internal/backend"
	"github.com/jeranaias/riggate/internal/config"
	"github.com/jeranaias/riggate/internal/session"
	"github.com/jeranaias/riggate/internal/usage"
)

const testTimeout = 5 * time.Second

// =============================================================================
// TEST FIXTURES
// =============================================================================

// fakeStreamer scripts the model backend. It satisfies both session.Streamer
// and BackendInfo.
type fakeStreamer struct {
	model     string
	fragments []string
	err       error

	// When non-nil, Stream blocks before each fragment until the gate is
	// fed, so tests control generation pacing.
	gate chan struct{}
}

func (f *fakeStreamer) Model() string              { return f.model }
func (f *fakeStreamer) Protocol() backend.Protocol { return backend.ProtocolOpenAI }

func (f *fakeStreamer) Stream(ctx context.Context, _ []backend.Message, onFragment backend.FragmentCallback) error {
	for _, frag := range f.fragments {
		if f.gate != nil {
			select {
			case <-f.gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		onFragment(frag)
	}
	return f.err
}

// newTestServer builds a server over a fresh registry with rate limiting
// disabled; individual tests opt back in.
func newTestServer(t *testing.T, fake *fakeStreamer) *Server {
	t.Helper()
	cfg := config.Default().Server
	cfg.RateLimitRPS = 0
	cfg.FrameRateLimit = 0

	reg := session.NewRegistry(session.Config{Backend: fake})
	t.Cleanup(reg.Close)

	return New(cfg, reg, fake, nil)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// =============================================================================
// SESSION ENDPOINT TESTS
// =============================================================================

func TestCreateSession(t *testing.T) {
	srv := newTestServer(t, &fakeStreamer{model: "m"})

	body := `{"metadata": {"client_type": "tui"}}`
	req := httptest.NewRequest("POST", "/api/sessions", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleCreateSession(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp CreateSessionResponse
	decodeBody(t, w, &resp)
	if _, err := uuid.Parse(resp.SessionID); err != nil {
		t.Errorf("session id %q is not a uuid: %v", resp.SessionID, err)
	}
	if resp.CreatedAt.IsZero() {
		t.Error("created_at should be set")
	}

	sess, ok := srv.registry.Get(resp.SessionID)
	if !ok {
		t.Fatal("session not registered")
	}
	if sess.Metadata()["client_type"] != "tui" {
		t.Errorf("metadata = %v, want client_type=tui", sess.Metadata())
	}
}

func TestCreateSession_HonorsClientSuppliedID(t *testing.T) {
	srv := newTestServer(t, &fakeStreamer{model: "m"})

	body := `{"session_id": "my-session"}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/api/sessions", strings.NewReader(body))
		w := httptest.NewRecorder()
		srv.handleCreateSession(w, req)

		var resp CreateSessionResponse
		decodeBody(t, w, &resp)
		if resp.SessionID != "my-session" {
			t.Errorf("session id = %q, want my-session", resp.SessionID)
		}
	}

	if n := srv.registry.Count(); n != 1 {
		t.Errorf("registry count = %d, want 1 (existing id reused)", n)
	}
}

func TestCreateSession_EmptyBody(t *testing.T) {
	srv := newTestServer(t, &fakeStreamer{model: "m"})

	req := httptest.NewRequest("POST", "/api/sessions", nil)
	w := httptest.NewRecorder()
	srv.handleCreateSession(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp CreateSessionResponse
	decodeBody(t, w, &resp)
	if resp.SessionID == "" {
		t.Error("session id should be minted for an empty body")
	}
}

func TestCreateSession_MalformedBody(t *testing.T) {
	srv := newTestServer(t, &fakeStreamer{model: "m"})

	req := httptest.NewRequest("POST", "/api/sessions", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	srv.handleCreateSession(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGetSession(t *testing.T) {
	srv := newTestServer(t, &fakeStreamer{model: "m"})
	srv.registry.Create("known", map[string]string{"client_type": "web"})

	req := httptest.NewRequest("GET", "/api/sessions/known", nil)
	req.SetPathValue("id", "known")
	w := httptest.NewRecorder()
	srv.handleGetSession(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp SessionInfoResponse
	decodeBody(t, w, &resp)
	if resp.SessionID != "known" {
		t.Errorf("session_id = %q", resp.SessionID)
	}
	if resp.State != "idle" {
		t.Errorf("state = %q, want idle", resp.State)
	}
	if resp.Metadata["client_type"] != "web" {
		t.Errorf("metadata = %v", resp.Metadata)
	}
}

func TestGetSession_Unknown(t *testing.T) {
	srv := newTestServer(t, &fakeStreamer{model: "m"})

	req := httptest.NewRequest("GET", "/api/sessions/nope", nil)
	req.SetPathValue("id", "nope")
	w := httptest.NewRecorder()
	srv.handleGetSession(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDeleteSession(t *testing.T) {
	srv := newTestServer(t, &fakeStreamer{model: "m"})
	srv.registry.Create("doomed", nil)

	req := httptest.NewRequest("DELETE", "/api/sessions/doomed", nil)
	req.SetPathValue("id", "doomed")
	w := httptest.NewRecorder()
	srv.handleDeleteSession(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	decodeBody(t, w, &resp)
	if resp["status"] != "deleted" {
		t.Errorf("status = %q, want deleted", resp["status"])
	}

	// Second delete finds nothing.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("DELETE", "/api/sessions/doomed", nil)
	req.SetPathValue("id", "doomed")
	srv.handleDeleteSession(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGetMessages(t *testing.T) {
	srv := newTestServer(t, &fakeStreamer{model: "m", fragments: []string{"Hello!"}})
	sess, _ := srv.registry.Create("talky", nil)

	sess.Submit("hi")
	waitFor(t, func() bool { return sess.MessageCount() == 2 })

	req := httptest.NewRequest("GET", "/api/sessions/talky/messages", nil)
	req.SetPathValue("id", "talky")
	w := httptest.NewRecorder()
	srv.handleGetMessages(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp MessagesResponse
	decodeBody(t, w, &resp)
	if len(resp.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(resp.Messages))
	}
	if resp.Messages[0].Role != "user" || resp.Messages[0].Content != "hi" {
		t.Errorf("first message = %+v", resp.Messages[0])
	}
	if resp.Messages[1].Role != "assistant" || resp.Messages[1].Content != "Hello!" {
		t.Errorf("second message = %+v", resp.Messages[1])
	}
	if resp.Messages[1].Model != "m" {
		t.Errorf("assistant model = %q, want m", resp.Messages[1].Model)
	}
}

// =============================================================================
// HEALTH AND USAGE TESTS
// =============================================================================

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, &fakeStreamer{model: "test-model"})
	srv.registry.Create("one", nil)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp HealthResponse
	decodeBody(t, w, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != Version {
		t.Errorf("version = %q, want %q", resp.Version, Version)
	}
	if resp.ActiveSessions != 1 {
		t.Errorf("active_sessions = %d, want 1", resp.ActiveSessions)
	}
	if resp.Model != "test-model" || resp.Protocol != "openai" {
		t.Errorf("backend info = %q/%q", resp.Model, resp.Protocol)
	}
}

func TestHandleUsage_Disabled(t *testing.T) {
	srv := newTestServer(t, &fakeStreamer{model: "m"})

	req := httptest.NewRequest("GET", "/api/usage", nil)
	w := httptest.NewRecorder()
	srv.handleUsage(w, req)

	var resp UsageResponse
	decodeBody(t, w, &resp)
	if resp.Enabled {
		t.Error("usage should report disabled without a ledger")
	}
}

func TestHandleUsage_ReportsTotals(t *testing.T) {
	ledger, err := usage.Open(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	ledger.Record(session.GenerationRecord{
		SessionID:  "s",
		Model:      "m",
		Outcome:    session.OutcomeCompleted,
		Fragments:  3,
		Chars:      10,
		Elapsed:    time.Second,
		FinishedAt: time.Now(),
	})

	fake := &fakeStreamer{model: "m"}
	cfg := config.Default().Server
	cfg.RateLimitRPS = 0
	reg := session.NewRegistry(session.Config{Backend: fake})
	t.Cleanup(reg.Close)
	srv := New(cfg, reg, fake, ledger)

	req := httptest.NewRequest("GET", "/api/usage", nil)
	w := httptest.NewRecorder()
	srv.handleUsage(w, req)

	var resp UsageResponse
	decodeBody(t, w, &resp)
	if !resp.Enabled {
		t.Fatal("usage should report enabled")
	}
	if resp.Totals.Generations != 1 || resp.Totals.Completed != 1 {
		t.Errorf("totals = %+v", resp.Totals)
	}
}

// =============================================================================
// WEBSOCKET TESTS
// =============================================================================

// dialWS connects to the test server's websocket endpoint for the given
// session id.
func dialWS(t *testing.T, ts *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ServerFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	var frame ServerFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame ClientFrame) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestWS_SendMessageRoundTrip(t *testing.T) {
	fake := &fakeStreamer{model: "m", fragments: []string{"He", "llo"}}
	srv := newTestServer(t, fake)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, "ws-roundtrip")

	sendFrame(t, conn, ClientFrame{Action: ActionSendMessage, Content: "hi"})

	if frame := readFrame(t, conn); frame.Type != "user_message" || frame.Content != "hi" {
		t.Fatalf("ack = %+v, want user_message %q", frame, "hi")
	}

	var streamed strings.Builder
	for {
		frame := readFrame(t, conn)
		if frame.Type == "assistant_chunk" {
			streamed.WriteString(frame.Content)
			continue
		}
		if frame.Type != "complete" {
			t.Fatalf("terminal frame = %+v, want complete", frame)
		}
		if frame.Metadata == nil || frame.Metadata.Model != "m" {
			t.Errorf("complete metadata = %+v", frame.Metadata)
		}
		break
	}
	if streamed.String() != "Hello" {
		t.Errorf("streamed = %q, want Hello", streamed.String())
	}

	// Connecting created the session; the transcript is stored server-side.
	sess, ok := srv.registry.Get("ws-roundtrip")
	if !ok {
		t.Fatal("connect should have created the session")
	}
	if sess.MessageCount() != 2 {
		t.Errorf("message count = %d, want 2", sess.MessageCount())
	}
}

func TestWS_CancelActiveGeneration(t *testing.T) {
	fake := &fakeStreamer{model: "m", fragments: []string{"one", "two"}, gate: make(chan struct{})}
	srv := newTestServer(t, fake)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, "ws-cancel")

	sendFrame(t, conn, ClientFrame{Action: ActionSendMessage, Content: "go"})
	if frame := readFrame(t, conn); frame.Type != "user_message" {
		t.Fatalf("ack = %+v", frame)
	}

	fake.gate <- struct{}{}
	if frame := readFrame(t, conn); frame.Type != "assistant_chunk" || frame.Content != "one" {
		t.Fatalf("chunk = %+v", frame)
	}

	sendFrame(t, conn, ClientFrame{Action: ActionCancel})

	frame := readFrame(t, conn)
	if frame.Type != "cancelled" {
		t.Fatalf("terminal frame = %+v, want cancelled", frame)
	}
	if frame.Content != "Generation cancelled" {
		t.Errorf("cancelled content = %q", frame.Content)
	}
}

func TestWS_ClearEmptiesTranscript(t *testing.T) {
	fake := &fakeStreamer{model: "m", fragments: []string{"ok"}}
	srv := newTestServer(t, fake)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, "ws-clear")

	sendFrame(t, conn, ClientFrame{Action: ActionSendMessage, Content: "hi"})
	for {
		if frame := readFrame(t, conn); frame.Type == "complete" {
			break
		}
	}

	sendFrame(t, conn, ClientFrame{Action: ActionClear})
	if frame := readFrame(t, conn); frame.Type != "cleared" {
		t.Fatalf("frame = %+v, want cleared", frame)
	}

	sess, _ := srv.registry.Get("ws-clear")
	waitFor(t, func() bool { return sess.MessageCount() == 0 })
}

func TestWS_MalformedFrameIgnored(t *testing.T) {
	fake := &fakeStreamer{model: "m", fragments: []string{"ok"}}
	srv := newTestServer(t, fake)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, "ws-garbage")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	sendFrame(t, conn, ClientFrame{Action: "reticulate"})

	// The connection survives both; a real frame still works.
	sendFrame(t, conn, ClientFrame{Action: ActionSendMessage, Content: "still here"})
	if frame := readFrame(t, conn); frame.Type != "user_message" {
		t.Fatalf("frame = %+v, want user_message", frame)
	}
}

func TestWS_ClosedWhenSessionDeleted(t *testing.T) {
	fake := &fakeStreamer{model: "m"}
	srv := newTestServer(t, fake)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, "ws-doomed")

	// Make sure the session exists before deleting it out from under the
	// connection.
	waitFor(t, func() bool { _, ok := srv.registry.Get("ws-doomed"); return ok })
	srv.registry.Delete("ws-doomed")

	sendFrame(t, conn, ClientFrame{Action: ActionSendMessage, Content: "anyone?"})

	conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected the server to close the connection")
	}
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("close error = %v, want going away", err)
	}
}

func TestWS_DisconnectKeepsSession(t *testing.T) {
	fake := &fakeStreamer{model: "m", fragments: []string{"reply"}}
	srv := newTestServer(t, fake)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, "ws-reconnect")
	sendFrame(t, conn, ClientFrame{Action: ActionSendMessage, Content: "first"})
	for {
		if frame := readFrame(t, conn); frame.Type == "complete" {
			break
		}
	}
	conn.Close()

	// The session and its transcript survive the disconnect.
	sess, ok := srv.registry.Get("ws-reconnect")
	if !ok {
		t.Fatal("session should survive disconnect")
	}
	if sess.MessageCount() != 2 {
		t.Errorf("message count = %d, want 2", sess.MessageCount())
	}

	// A reconnect picks the conversation back up.
	conn2 := dialWS(t, ts, "ws-reconnect")
	sendFrame(t, conn2, ClientFrame{Action: ActionSendMessage, Content: "second"})
	if frame := readFrame(t, conn2); frame.Type != "user_message" || frame.Content != "second" {
		t.Fatalf("frame = %+v", frame)
	}
}

// =============================================================================
// FRAME MAPPING TESTS
// =============================================================================

func TestFrameFromEvent(t *testing.T) {
	chunk := frameFromEvent(session.Event{Type: session.EventChunk, Content: "hi"})
	if chunk.Type != "assistant_chunk" || chunk.Content != "hi" || chunk.Metadata != nil {
		t.Errorf("chunk frame = %+v", chunk)
	}

	complete := frameFromEvent(session.Event{
		Type: session.EventComplete,
		Meta: &session.CompletionMeta{Model: "m", ResponseTime: 1.25, Trailer: "*notes*"},
	})
	if complete.Metadata == nil {
		t.Fatal("complete frame should carry metadata")
	}
	if complete.Metadata.ResponseTime != 1.25 || complete.Metadata.Model != "m" || complete.Metadata.Trailer != "*notes*" {
		t.Errorf("metadata = %+v", complete.Metadata)
	}
}

func TestFrameMetadata_JSONShape(t *testing.T) {
	frame := frameFromEvent(session.Event{
		Type: session.EventComplete,
		Meta: &session.CompletionMeta{Model: "gpt-4", ResponseTime: 2.5},
	})
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"complete","metadata":{"response_time":2.5,"model":"gpt-4"}}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}
