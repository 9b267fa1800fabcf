// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// =============================================================================
// STREAMING API
// =============================================================================

// FragmentCallback is called for each text fragment as it arrives.
// Callbacks run synchronously in arrival order; a slow callback slows the
// stream, which is what keeps fragment delivery ordered.
type FragmentCallback func(text string)

// Stream sends a streaming chat request and invokes onFragment for every
// non-empty text fragment.
//
// Cancellation is cooperative at fragment boundaries: when ctx is done the
// stream stops before the next fragment is delivered and Stream returns
// ctx.Err(). Any other error is a *ClientError classified by cause (auth,
// rate limit, unavailable, invalid response).
func (c *Client) Stream(ctx context.Context, messages []Message, onFragment FragmentCallback) error {
	switch c.protocol {
	case ProtocolOpenAI:
		return c.streamOpenAI(ctx, messages, onFragment)
	case ProtocolAnthropic:
		return c.streamAnthropic(ctx, messages, onFragment)
	}
	// New validates the protocol, so this is unreachable in practice.
	return ErrUnknownProtocol
}

// =============================================================================
// OPENAI PROTOCOL
// =============================================================================

func (c *Client) streamOpenAI(ctx context.Context, messages []Message, onFragment FragmentCallback) error {
	reqBody := openAIRequest{
		Model:       c.model,
		Messages:    messages,
		Stream:      true,
		Temperature: defaultTemperature,
	}

	resp, err := c.postStream(ctx, c.baseURL+"/chat/completions", reqBody, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := newSSEReader(resp.Body)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ClientError{Type: ErrTypeUnavailable, Message: "stream interrupted", Cause: err}
		}

		if bytes.Equal(ev.Data, doneSentinel) {
			return nil
		}

		var chunk openAIChunk
		if err := json.Unmarshal(ev.Data, &chunk); err != nil {
			// Skip malformed chunks
			continue
		}

		if text := chunk.content(); text != "" {
			onFragment(text)
		}

		if chunk.finished() {
			return nil
		}
	}
}

// =============================================================================
// ANTHROPIC PROTOCOL
// =============================================================================

func (c *Client) streamAnthropic(ctx context.Context, messages []Message, onFragment FragmentCallback) error {
	system, rest := splitSystemMessages(messages)

	reqBody := anthropicRequest{
		Model:     c.model,
		Messages:  rest,
		MaxTokens: anthropicMaxTokens,
		Stream:    true,
		System:    system,
	}

	resp, err := c.postStream(ctx, c.baseURL+"/v1/messages", reqBody, func(req *http.Request) {
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := newSSEReader(resp.Body)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ClientError{Type: ErrTypeUnavailable, Message: "stream interrupted", Cause: err}
		}

		var event anthropicEvent
		if err := json.Unmarshal(ev.Data, &event); err != nil {
			// Skip malformed events
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta.Text != "" {
				onFragment(event.Delta.Text)
			}
		case "message_stop":
			return nil
		case "error":
			return classifyAnthropicStreamError(event)
		}
		// message_start, content_block_start/stop, message_delta,
		// and ping events carry no text.
	}
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

// postStream posts a JSON body and returns the response ready for SSE
// consumption. Non-200 responses are drained and classified.
func (c *Client) postStream(ctx context.Context, url string, reqBody interface{}, setAuth func(*http.Request)) (*http.Response, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnavailable, Message: "failed to create request", Cause: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ClientError{Type: ErrTypeUnavailable, Message: "request failed", Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, classifyStatus(resp.StatusCode, body)
	}

	return resp, nil
}

// classifyStatus maps an HTTP error response to a ClientError.
// Both protocols nest their error payloads under an "error" object with a
// message field, so one parse covers them.
func classifyStatus(statusCode int, body []byte) error {
	var apiErr struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	message := ""
	if err := json.Unmarshal(body, &apiErr); err == nil {
		message = apiErr.Error.Message
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &ClientError{Type: ErrTypeAuth, Message: fmt.Sprintf("authentication failed (HTTP %d): %s", statusCode, message)}
	case statusCode == http.StatusTooManyRequests:
		return &ClientError{Type: ErrTypeRateLimited, Message: fmt.Sprintf("rate limited (HTTP %d): %s", statusCode, message)}
	case statusCode >= 500:
		return &ClientError{Type: ErrTypeUnavailable, Message: fmt.Sprintf("backend unavailable (HTTP %d): %s", statusCode, message)}
	default:
		return &ClientError{Type: ErrTypeInvalidResponse, Message: fmt.Sprintf("unexpected status %d: %s", statusCode, message)}
	}
}

// =============================================================================
// SSE READER
// =============================================================================

// doneSentinel is the OpenAI-protocol end-of-stream marker.
var doneSentinel = []byte("[DONE]")

// sseEvent is a single parsed Server-Sent Event.
type sseEvent struct {
	Type string
	Data []byte
}

// sseReader parses Server-Sent Events from a stream.
type sseReader struct {
	reader *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{
		reader: bufio.NewReader(r),
	}
}

// Next reads the next event from the stream. Multi-line data fields are
// joined with newlines per the SSE spec. Returns io.EOF when the stream
// ends.
func (s *sseReader) Next() (sseEvent, error) {
	var ev sseEvent
	var dataLines [][]byte

	for {
		// ReadBytes hands back any partial line alongside the error, so a
		// stream that ends without a trailing newline still yields its
		// last field.
		line, err := s.reader.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			ev.Type = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		case len(line) == 0 && err == nil:
			// Empty line signals end of event
			if len(dataLines) > 0 {
				ev.Data = bytes.Join(dataLines, []byte("\n"))
				return ev, nil
			}
		}
		// Ignore other fields (id:, retry:, comments starting with :)

		if err != nil {
			if err == io.EOF && len(dataLines) > 0 {
				// Flush a final unterminated event before EOF.
				ev.Data = bytes.Join(dataLines, []byte("\n"))
				return ev, nil
			}
			return sseEvent{}, err
		}
	}
}
