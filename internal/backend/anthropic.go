// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

// =============================================================================
// ANTHROPIC WIRE TYPES
// =============================================================================

// anthropicRequest is the messages-API request body. System content rides
// in the top-level field, never in the messages list.
type anthropicRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream"`
	System    string    `json:"system,omitempty"`
}

// anthropicEvent is one SSE payload from the messages stream. Only the
// fields the gateway acts on are decoded.
type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// splitSystemMessages pulls system messages out of the list for the
// top-level system field. When several are present the last one wins.
func splitSystemMessages(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))

	for _, m := range messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		rest = append(rest, m)
	}

	return system, rest
}

// classifyAnthropicStreamError maps an in-stream error event to a
// ClientError. The provider reports errors as events mid-stream, not just
// as HTTP statuses.
func classifyAnthropicStreamError(event anthropicEvent) error {
	message := event.Error.Message
	if message == "" {
		message = "stream error"
	}

	switch event.Error.Type {
	case "authentication_error", "permission_error":
		return &ClientError{Type: ErrTypeAuth, Message: message}
	case "rate_limit_error":
		return &ClientError{Type: ErrTypeRateLimited, Message: message}
	case "overloaded_error", "api_error":
		return &ClientError{Type: ErrTypeUnavailable, Message: message}
	default:
		return &ClientError{Type: ErrTypeInvalidResponse, Message: message}
	}
}
