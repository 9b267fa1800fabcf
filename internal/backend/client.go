// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend provides the streaming HTTP client for model providers.
//
// The gateway speaks two wire protocols, chosen once at construction:
// the OpenAI chat-completions protocol and the Anthropic messages protocol.
// Both stream fragments over SSE and surface them through one callback API,
// so the rest of the gateway never branches on the provider.
package backend

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the model backend.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes backend errors for handling.
// A failed generation reports exactly one of these classes to clients.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotConfigured
	ErrTypeUnknownProtocol
	ErrTypeAuth
	ErrTypeRateLimited
	ErrTypeUnavailable
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrNotConfigured   = &ClientError{Type: ErrTypeNotConfigured, Message: "backend API key not configured"}
	ErrUnknownProtocol = &ClientError{Type: ErrTypeUnknownProtocol, Message: "unknown backend protocol"}
	ErrAuthFailed      = &ClientError{Type: ErrTypeAuth, Message: "authentication failed"}
	ErrRateLimited     = &ClientError{Type: ErrTypeRateLimited, Message: "rate limited"}
	ErrUnavailable     = &ClientError{Type: ErrTypeUnavailable, Message: "backend unavailable"}
)

// IsAuthFailed checks if an error is an authentication failure (HTTP 401/403).
func IsAuthFailed(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeAuth
	}
	return errors.Is(err, ErrAuthFailed)
}

// IsRateLimited checks if an error is a rate-limit rejection (HTTP 429).
func IsRateLimited(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeRateLimited
	}
	return errors.Is(err, ErrRateLimited)
}

// IsUnavailable checks if an error indicates the backend could not be
// reached or answered with a server error.
func IsUnavailable(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeUnavailable
	}
	return errors.Is(err, ErrUnavailable)
}

// IsNotConfigured checks if an error means the API key is missing.
func IsNotConfigured(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeNotConfigured
	}
	return errors.Is(err, ErrNotConfigured)
}

// =============================================================================
// PROTOCOL
// =============================================================================

// Protocol identifies the provider wire protocol. The set is closed; New
// rejects anything else.
type Protocol string

const (
	// ProtocolOpenAI speaks the OpenAI chat-completions protocol
	// (POST {base}/chat/completions, SSE choices[].delta.content).
	ProtocolOpenAI Protocol = "openai"

	// ProtocolAnthropic speaks the Anthropic messages protocol
	// (POST {base}/v1/messages, SSE content_block_delta events).
	ProtocolAnthropic Protocol = "anthropic"
)

// ParseProtocol parses a protocol name case-insensitively.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(strings.ToLower(strings.TrimSpace(s))) {
	case ProtocolOpenAI:
		return ProtocolOpenAI, nil
	case ProtocolAnthropic:
		return ProtocolAnthropic, nil
	}
	return "", &ClientError{Type: ErrTypeUnknownProtocol, Message: "unknown backend protocol: " + s}
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Default endpoint roots, used when Config.BaseURL is empty.
const (
	DefaultOpenAIBaseURL    = "https://api.openai.com/v1"
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
)

const (
	// defaultTemperature is pinned for OpenAI-protocol requests.
	defaultTemperature = 0.7

	// anthropicMaxTokens is the fixed completion budget for
	// Anthropic-protocol requests, which require max_tokens.
	anthropicMaxTokens = 4096

	// anthropicVersion is the API version header value.
	anthropicVersion = "2023-06-01"

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 1 << 20 // 1MB
)

// Config holds the options for constructing a Client.
type Config struct {
	// Protocol selects the wire protocol: "openai" or "anthropic"
	Protocol string

	// APIKey authenticates against the provider. Required.
	APIKey string

	// BaseURL overrides the provider endpoint root. Empty selects the
	// protocol's default.
	BaseURL string

	// Model is the model identifier sent with every request.
	Model string
}

// =============================================================================
// CLIENT
// =============================================================================

// Message represents a single message in backend wire format.
type Message struct {
	Role    string `json:"role"`    // "user", "assistant", or "system"
	Content string `json:"content"` // The message content
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// Client streams completions from a model provider.
//
// The Client is immutable after construction and safe for concurrent use.
//
// Example:
//
//	client, err := backend.New(backend.Config{
//	    Protocol: "openai",
//	    APIKey:   key,
//	    Model:    "gpt-4",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = client.Stream(ctx, messages, func(text string) { ... })
type Client struct {
	protocol Protocol
	apiKey   string
	baseURL  string
	model    string

	// httpClient carries no timeout; request lifetimes are controlled by
	// the caller's context so long streams are never cut off mid-answer.
	httpClient *http.Client
}

// New creates a backend client, validating the protocol and credentials.
func New(cfg Config) (*Client, error) {
	protocol, err := ParseProtocol(cfg.Protocol)
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrNotConfigured
	}

	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		switch protocol {
		case ProtocolOpenAI:
			baseURL = DefaultOpenAIBaseURL
		case ProtocolAnthropic:
			baseURL = DefaultAnthropicBaseURL
		}
	}

	return &Client{
		protocol: protocol,
		apiKey:   apiKey,
		baseURL:  baseURL,
		model:    cfg.Model,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
	}, nil
}

// Protocol returns the wire protocol the client was constructed with.
func (c *Client) Protocol() Protocol {
	return c.protocol
}

// Model returns the model identifier sent with requests.
func (c *Client) Model() string {
	return c.model
}

// BaseURL returns the resolved endpoint root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// CHAT
// =============================================================================

// Chat sends a chat request and returns the complete response text.
// It streams under the hood and concatenates the fragments.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	var sb strings.Builder
	err := c.Stream(ctx, messages, func(text string) {
		sb.WriteString(text)
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}
