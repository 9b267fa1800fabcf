// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command handler for the riggate CLI.
//
// Handles the "riggate chat" command: a line-oriented front-end that speaks
// the gateway's websocket protocol. The gateway owns all conversation state;
// this client only renders frames as they arrive and sends actions typed at
// the prompt. Disconnecting and reconnecting with the same --session id
// resumes the stored conversation.
//
// Command: chat
// Short:   Start an interactive chat session against a running gateway
//
// Examples:
//   riggate chat                          Fresh session on the local gateway
//   riggate chat --session my-notes      Resume a named session
//   riggate chat --url http://remote:8000 Connect to a remote gateway
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /clear, /c          Clear conversation history
//   /cancel             Cancel the active generation
//   /status, /s         Show session info
//   /history            Show stored transcript
//   /quit, /q           Exit chat
//   Ctrl+C              Cancel current generation
//   Ctrl+D              Exit chat
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/peterh/liner"

	"github.com/jeranaias/riggate/internal/config"
	"github.com/jeranaias/riggate/internal/server"
	"github.com/jeranaias/riggate/internal/util"
)

const (
	// reconnectAttempts bounds how many times a dropped connection is
	// redialed before the REPL gives up.
	reconnectAttempts = 5

	// reconnectBackoff is the wait before the second attempt; it doubles
	// per attempt after that.
	reconnectBackoff = 500 * time.Millisecond
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
// Supports arrow keys for history navigation.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a new ChatCLI with input history support.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	cli := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	cli.LoadHistory()
	return cli
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history to file with secure permissions.
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// GATEWAY CLIENT
// =============================================================================

// ChatClient is one websocket connection to a gateway session. Frames read
// off the wire land on the frames channel in arrival order; a single
// consumer (the REPL loop) renders them.
type ChatClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	gatewayURL string
	sessionID  string
	authToken  string

	// Model and Protocol come from the health probe at connect time.
	Model    string
	Protocol string

	quiet   bool
	verbose bool
	out     io.Writer
	errOut  io.Writer

	frames  chan server.ServerFrame
	readErr error // set before frames is closed

	generating atomic.Bool

	// Connection-local stats for the exit summary.
	startTime  time.Time
	turns      int
	cancels    int
	totalChars int
}

// DialSession connects to the gateway's websocket endpoint for sessionID.
// The session is created on first contact if it does not exist.
func DialSession(gatewayURL, sessionID, authToken string) (*ChatClient, error) {
	wsURL, err := websocketURL(gatewayURL, sessionID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if authToken != "" {
		header.Set("Authorization", "Bearer "+authToken)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("gateway rejected the connection: unauthorized (check server.auth_token)")
		}
		return nil, fmt.Errorf("could not connect to %s: %w", wsURL, err)
	}

	c := &ChatClient{
		conn:       conn,
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		sessionID:  sessionID,
		authToken:  authToken,
		out:        os.Stdout,
		errOut:     os.Stderr,
		frames:     make(chan server.ServerFrame, 64),
		startTime:  time.Now(),
	}
	go c.readLoop(conn, c.frames)
	return c, nil
}

// websocketURL converts a gateway base URL into the websocket endpoint for a
// session: http becomes ws, https becomes wss.
func websocketURL(gatewayURL, sessionID string) (string, error) {
	u, err := url.Parse(gatewayURL)
	if err != nil {
		return "", fmt.Errorf("invalid gateway URL %q: %w", gatewayURL, err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid gateway URL %q: unsupported scheme %q", gatewayURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid gateway URL %q: missing host", gatewayURL)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + sessionID
	return u.String(), nil
}

// readLoop decodes inbound frames until the connection dies. conn and
// frames are passed in rather than read off the struct so a reconnect's
// fresh loop never races the dying one.
func (c *ChatClient) readLoop(conn *websocket.Conn, frames chan server.ServerFrame) {
	defer close(frames)
	for {
		var frame server.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			c.readErr = err
			return
		}
		frames <- frame
	}
}

// reconnect redials the session after a dropped connection, backing off
// between attempts. The gateway keeps session state alive across
// reconnects, so a successful redial resumes the stored conversation.
func (c *ChatClient) reconnect() error {
	c.conn.Close()

	wsURL, err := websocketURL(c.gatewayURL, c.sessionID)
	if err != nil {
		return err
	}
	header := http.Header{}
	if c.authToken != "" {
		header.Set("Authorization", "Bearer "+c.authToken)
	}

	backoff := reconnectBackoff
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err == nil {
			c.writeMu.Lock()
			c.conn = conn
			c.frames = make(chan server.ServerFrame, 64)
			c.readErr = nil
			c.writeMu.Unlock()
			go c.readLoop(conn, c.frames)
			return nil
		}
		if attempt < reconnectAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return fmt.Errorf("could not reconnect to %s after %d attempts", c.gatewayURL, reconnectAttempts)
}

// send writes one frame to the gateway. WriteJSON is not safe for
// concurrent use, and the signal handler can send a cancel while the REPL
// goroutine owns the connection.
func (c *ChatClient) send(frame server.ClientFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(frame)
}

// Cancel asks the gateway to stop the active generation. Harmless when the
// session is idle.
func (c *ChatClient) Cancel() error {
	return c.send(server.ClientFrame{Action: server.ActionCancel})
}

// Generating reports whether this client is waiting on a generation.
func (c *ChatClient) Generating() bool {
	return c.generating.Load()
}

// Close tears down the connection.
func (c *ChatClient) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

// SendAndStream submits one message and renders frames until the turn
// reaches a terminal state (complete, cancelled, or error).
func (c *ChatClient) SendAndStream(content string) error {
	if err := c.send(server.ClientFrame{Action: server.ActionSendMessage, Content: content}); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	c.generating.Store(true)
	defer c.generating.Store(false)

	fmt.Fprintln(c.out)

	chars := 0
	for frame := range c.frames {
		switch frame.Type {
		case server.FrameUserMessage:
			// Ack for the turn we just typed; nothing to draw.

		case server.FrameChunk:
			fmt.Fprint(c.out, frame.Content)
			chars += len(frame.Content)

		case server.FrameComplete:
			c.turns++
			c.totalChars += chars
			fmt.Fprintln(c.out)
			if !c.quiet && frame.Metadata != nil {
				fmt.Fprintf(c.errOut, "%s %s | %d chars | %.2fs\n",
					DimStyle.Render("[Stats]"),
					frame.Metadata.Model,
					chars,
					frame.Metadata.ResponseTime)
				if c.verbose && frame.Metadata.Trailer != "" {
					fmt.Fprintln(c.errOut, DimStyle.Render(frame.Metadata.Trailer))
				}
			}
			fmt.Fprintln(c.out)
			return nil

		case server.FrameCancelled:
			c.cancels++
			c.totalChars += chars
			fmt.Fprintln(c.out)
			fmt.Fprintln(c.errOut, WarningStyle.Render("["+frame.Content+"]"))
			fmt.Fprintln(c.out)
			return nil

		case server.FrameError:
			fmt.Fprintln(c.out)
			return fmt.Errorf("generation failed: %s", frame.Content)

		case server.FrameCleared:
			// Another front-end on this session cleared the transcript.
			fmt.Fprintln(c.errOut, HighlightStyle.Render("[Conversation cleared]"))
		}
	}
	return c.disconnectError()
}

// Clear empties the session's stored conversation and waits briefly for the
// acknowledgement.
func (c *ChatClient) Clear() error {
	if err := c.send(server.ClientFrame{Action: server.ActionClear}); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}

	select {
	case frame, ok := <-c.frames:
		if !ok {
			return c.disconnectError()
		}
		if frame.Type == server.FrameCleared {
			fmt.Fprintln(c.out, HighlightStyle.Render("[Conversation cleared]"))
		}
	case <-time.After(2 * time.Second):
		return fmt.Errorf("clear not acknowledged by gateway")
	}
	return nil
}

// errConnectionLost marks a dropped connection the REPL should recover from
// by redialing. A deliberate close from the gateway (session deleted or
// expired) does not carry it: redialing would silently mint a new session.
var errConnectionLost = errors.New("connection to gateway lost")

// disconnectError translates the read loop's exit into a user-facing error.
func (c *ChatClient) disconnectError() error {
	if websocket.IsCloseError(c.readErr, websocket.CloseGoingAway) {
		return fmt.Errorf("session closed by gateway")
	}
	return fmt.Errorf("%w: %v", errConnectionLost, c.readErr)
}

// getJSON performs an authenticated GET against the gateway's REST surface.
func (c *ChatClient) getJSON(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.gatewayURL+path, nil)
	if err != nil {
		return err
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChatCommand handles the "chat" command with full interactive support.
func HandleChatCommand(args Args) error {
	if err := RequiresTTY("chat"); err != nil {
		return err
	}

	cfg := loadClientConfig(args)

	gatewayURL := args.URL
	if gatewayURL == "" {
		gatewayURL = "http://" + cfg.Server.Addr()
	}

	// Check the gateway is up before taking over the terminal.
	health, err := probeHealth(gatewayURL)
	if err != nil {
		return fmt.Errorf("gateway is unreachable at %s: %v (start it with: riggate serve)", gatewayURL, err)
	}

	sessionID := args.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	client, err := DialSession(gatewayURL, sessionID, cfg.Server.AuthToken)
	if err != nil {
		return err
	}
	defer client.Close()

	client.Model = health.Model
	client.Protocol = health.Protocol
	client.quiet = args.Quiet
	client.verbose = args.Verbose

	if !args.Quiet {
		printWelcome(client)
	}

	input := NewChatCLI()
	defer input.Close()

	// Ctrl+C during generation cancels it; at the prompt, liner owns the
	// terminal and turns Ctrl+C into ErrPromptAborted instead.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		for range sigChan {
			if client.Generating() {
				client.Cancel()
			}
		}
	}()

	// Main REPL loop.
	for {
		line, err := input.ReadInput(PromptStyle.Render("riggate> "))
		if err != nil {
			// Ctrl+C (ErrPromptAborted), Ctrl+D (EOF), or a terminal
			// error all end the session gracefully.
			fmt.Fprintln(client.out)
			printExitSummary(client)
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			shouldContinue, err := handleSlashCommand(client, line)
			if err != nil {
				fmt.Fprintf(client.errOut, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			if !shouldContinue {
				printExitSummary(client)
				return nil
			}
			continue
		}

		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			printExitSummary(client)
			return nil
		}

		if err := client.SendAndStream(line); err != nil {
			fmt.Fprintf(client.errOut, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			if errors.Is(err, errConnectionLost) {
				fmt.Fprintln(client.errOut, DimStyle.Render("[Reconnecting...]"))
				if rerr := client.reconnect(); rerr != nil {
					printExitSummary(client)
					return rerr
				}
				fmt.Fprintln(client.errOut, DimStyle.Render("[Reconnected, conversation resumed]"))
			}
		}
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand processes slash commands.
// Returns (shouldContinue, error) where shouldContinue=false means exit.
func handleSlashCommand(c *ChatClient, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return true, nil
	}

	switch strings.ToLower(parts[0]) {
	case "/help", "/h", "/?", "/":
		printHelp(c)
		return true, nil

	case "/clear", "/c":
		return true, c.Clear()

	case "/cancel":
		if err := c.Cancel(); err != nil {
			return true, err
		}
		fmt.Fprintln(c.out, DimStyle.Render("[Cancel requested]"))
		return true, nil

	case "/status", "/s":
		return true, printSessionStatus(c)

	case "/history":
		return true, printHistory(c)

	case "/quit", "/q", "/exit":
		return false, nil

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", parts[0])
	}
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

// printWelcome prints the welcome banner.
func printWelcome(c *ChatClient) {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, TitleStyle.Render("riggate interactive chat"))
	fmt.Fprintln(c.out, DimStyle.Render(strings.Repeat("─", 30)))
	fmt.Fprintf(c.out, "%s %s\n",
		LabelStyle.Render("Session:"),
		HighlightStyle.Render(c.sessionID))
	fmt.Fprintf(c.out, "%s %s (%s)\n",
		LabelStyle.Render("Model:"),
		HighlightStyle.Render(c.Model),
		c.Protocol)
	fmt.Fprintf(c.out, "%s %s\n",
		LabelStyle.Render("Gateway:"),
		ValueStyle.Render(c.gatewayURL))
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, DimStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(c.out)
}

// printHelp prints available commands.
func printHelp(c *ChatClient) {
	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/clear, /c", "Clear conversation history"},
		{"/cancel", "Cancel the active generation"},
		{"/status, /s", "Show session info"},
		{"/history", "Show stored transcript"},
		{"/quit, /q", "Exit chat"},
	}

	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, SectionStyle.Render("Available Commands"))
	for _, entry := range commands {
		fmt.Fprintf(c.out, "  %s  %s\n",
			HighlightStyle.Render(fmt.Sprintf("%-14s", entry.cmd)),
			DimStyle.Render(entry.desc))
	}
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, DimStyle.Render("Tip: Ctrl+C cancels the current generation, Ctrl+D exits"))
	fmt.Fprintln(c.out)
}

// printSessionStatus fetches and prints the gateway's view of this session.
func printSessionStatus(c *ChatClient) error {
	var info server.SessionInfoResponse
	if err := c.getJSON("/api/sessions/"+c.sessionID, &info); err != nil {
		return fmt.Errorf("could not fetch session info: %w", err)
	}

	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, SectionStyle.Render("Session Status"))
	fmt.Fprintf(c.out, "  %s %s\n", LabelStyle.Render("Session:"), info.SessionID)
	fmt.Fprintf(c.out, "  %s %s\n", LabelStyle.Render("State:"), renderState(info.State))
	fmt.Fprintf(c.out, "  %s %d stored\n", LabelStyle.Render("Messages:"), info.MessageCount)
	if info.QueueDepth > 0 {
		fmt.Fprintf(c.out, "  %s %d waiting\n", LabelStyle.Render("Queued:"), info.QueueDepth)
	}
	fmt.Fprintf(c.out, "  %s %s\n", LabelStyle.Render("Created:"), info.CreatedAt.Local().Format(time.RFC822))

	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, DimStyle.Render("This connection:"))
	fmt.Fprintf(c.out, "  %s %s\n", LabelStyle.Render("Duration:"), time.Since(c.startTime).Round(time.Second))
	fmt.Fprintf(c.out, "  %s %d completed, %d cancelled\n", LabelStyle.Render("Turns:"), c.turns, c.cancels)
	fmt.Fprintf(c.out, "  %s %d chars\n", LabelStyle.Render("Received:"), c.totalChars)
	fmt.Fprintln(c.out)
	return nil
}

// renderState colors a session state name.
func renderState(state string) string {
	switch state {
	case "generating":
		return WarningStyle.Render(state)
	case "closed":
		return ErrorStyle.Render(state)
	default:
		return HighlightStyle.Render(state)
	}
}

// printHistory fetches and prints the stored transcript.
func printHistory(c *ChatClient) error {
	var msgs server.MessagesResponse
	if err := c.getJSON("/api/sessions/"+c.sessionID+"/messages", &msgs); err != nil {
		return fmt.Errorf("could not fetch transcript: %w", err)
	}

	if len(msgs.Messages) == 0 {
		fmt.Fprintln(c.out, DimStyle.Render("[No messages yet]"))
		return nil
	}

	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, SectionStyle.Render("Conversation History"))
	for i, msg := range msgs.Messages {
		role := msg.Role
		switch role {
		case "user":
			role = PromptStyle.Render("You")
		case "assistant":
			role = HighlightStyle.Render("AI")
		case "system":
			role = WarningStyle.Render("System")
		}

		content := strings.ReplaceAll(msg.Content, "\n", " ")
		content = util.Preview(content, 100)
		if msg.Cancelled {
			content += " " + WarningStyle.Render("[cancelled]")
		}

		fmt.Fprintf(c.out, "  %d. %s: %s\n", i+1, role, content)
	}
	fmt.Fprintln(c.out)
	return nil
}

// printExitSummary prints the session summary on exit.
func printExitSummary(c *ChatClient) {
	if c.turns == 0 && c.cancels == 0 {
		fmt.Fprintln(c.out, DimStyle.Render("Goodbye!"))
		return
	}

	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, SectionStyle.Render("Session Summary"))
	fmt.Fprintf(c.out, "  %s %d completed, %d cancelled\n",
		LabelStyle.Render("Turns:"), c.turns, c.cancels)
	fmt.Fprintf(c.out, "  %s %d chars\n",
		LabelStyle.Render("Received:"), c.totalChars)
	fmt.Fprintf(c.out, "  %s %s\n",
		LabelStyle.Render("Duration:"), time.Since(c.startTime).Round(time.Second))
	fmt.Fprintf(c.out, "  %s %s\n",
		LabelStyle.Render("Session:"), c.sessionID)
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, DimStyle.Render("Resume with: riggate chat --session "+c.sessionID))
	fmt.Fprintln(c.out, DimStyle.Render("Goodbye!"))
}
