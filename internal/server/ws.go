// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/jeranaias/riggate/internal/session"
)

// ============================================================================
// CONNECTION CONSTANTS
// ============================================================================

const (
	// writeWait is the deadline for a single outbound write.
	writeWait = 10 * time.Second

	// pongWait is how long the connection may stay silent before the read
	// loop gives up on it.
	pongWait = 60 * time.Second

	// pingPeriod is how often keepalive pings go out. Must be under pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxFrameBytes caps a single inbound frame.
	maxFrameBytes = 64 * 1024

	// sendBuffer is the per-connection outbound frame buffer. The session
	// sink must not block, so frames beyond this backlog are dropped.
	sendBuffer = 256
)

// ============================================================================
// WEBSOCKET HANDLER
// ============================================================================

// handleWS upgrades GET /ws/{id} to a per-session duplex connection.
// Connecting to an unknown id creates the session.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		log.Printf("WS_UPGRADE_FAIL | session=%s err=%v", id, err)
		return
	}

	sess, _ := s.registry.GetOrCreate(id)

	c := &wsConn{
		sess: sess,
		conn: conn,
		send: make(chan ServerFrame, sendBuffer),
		stop: make(chan struct{}),
	}
	if s.cfg.FrameRateLimit > 0 {
		c.budget = rate.NewLimiter(rate.Limit(s.cfg.FrameRateLimit), s.cfg.FrameRateBurst)
	}

	log.Printf("WS_CONNECT | session=%s remote=%s", sess.ID(), GetClientIP(r))
	c.run()
	log.Printf("WS_DISCONNECT | session=%s", sess.ID())
}

// wsConn ties one websocket connection to one session. The read loop
// translates inbound frames into session commands; a single write pump
// serializes outbound frames, so session events never interleave on the
// wire.
type wsConn struct {
	sess *session.Session
	conn *websocket.Conn

	send chan ServerFrame
	stop chan struct{}

	// budget meters inbound frames; over-budget frames are dropped and the
	// connection stays open. Nil disables metering.
	budget *rate.Limiter
}

// run services the connection until the client goes away or the session is
// destroyed underneath it. The session itself survives a plain disconnect;
// a reconnect picks up where it left off.
func (c *wsConn) run() {
	defer c.conn.Close()

	token := c.sess.AttachSink(c.enqueue)
	defer c.sess.DetachSink(token)

	go c.writePump()
	defer close(c.stop)

	c.readLoop()
}

// enqueue is the session's event sink. It must return promptly, so frames
// go into the buffered send channel and are dropped if the client cannot
// keep up. The single consumer preserves event order.
func (c *wsConn) enqueue(ev session.Event) {
	select {
	case c.send <- frameFromEvent(ev):
	default:
		log.Printf("WS_BACKPRESSURE | session=%s dropped=%s", c.sess.ID(), ev.Type)
	}
}

// writePump is the only goroutine that writes data frames to the
// connection. It also keeps the connection alive with periodic pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				log.Printf("WS_WRITE_ERROR | session=%s err=%v", c.sess.ID(), err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.stop:
			return
		}
	}
}

// readLoop decodes inbound frames and dispatches them. Malformed frames,
// unknown actions, and over-budget frames are logged and ignored; the
// connection only ends when the client disconnects or the session is gone.
func (c *wsConn) readLoop() {
	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("WS_READ_ERROR | session=%s err=%v", c.sess.ID(), err)
			}
			return
		}

		if c.budget != nil && !c.budget.Allow() {
			log.Printf("FRAME_OVER_BUDGET | session=%s", c.sess.ID())
			continue
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("FRAME_MALFORMED | session=%s err=%v", c.sess.ID(), err)
			continue
		}

		if err := c.dispatch(frame); err != nil {
			// The session was deleted or swept while this connection was
			// live. Tell the client why instead of just dropping the link.
			log.Printf("WS_SESSION_GONE | session=%s", c.sess.ID())
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed")
			c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// dispatch routes one decoded frame to the session. It returns an error
// only when the session has been closed; everything else is handled in
// place.
func (c *wsConn) dispatch(frame ClientFrame) error {
	switch frame.Action {
	case ActionSendMessage:
		return c.sess.Submit(frame.Content)
	case ActionCancel:
		return c.sess.Cancel()
	case ActionClear:
		return c.sess.Clear()
	default:
		log.Printf("FRAME_UNKNOWN_ACTION | session=%s action=%q", c.sess.ID(), frame.Action)
		return nil
	}
}
