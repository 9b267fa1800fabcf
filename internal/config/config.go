// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// the riggate gateway.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.riggate/config.toml
//   - ~/.riggate/config.json
//   - Built-in defaults
//
// The loaded Config is passed explicitly into the backend client, session
// registry, and server constructors; nothing reads configuration through
// package-level state after startup.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/riggate/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete riggate configuration.
type Config struct {
	// Version of the configuration schema
	Version string `toml:"version" json:"version"`

	// Server holds the HTTP/WebSocket listener configuration
	Server ServerConfig `toml:"server" json:"server"`

	// Backend holds the model backend configuration
	Backend BackendConfig `toml:"backend" json:"backend"`

	// Session holds per-session limits and lifecycle policy
	Session SessionConfig `toml:"session" json:"session"`

	// Usage holds the generation ledger configuration
	Usage UsageConfig `toml:"usage" json:"usage"`
}

// ServerConfig contains the listener and middleware configuration.
type ServerConfig struct {
	// Host is the interface to bind (default 127.0.0.1)
	Host string `toml:"host" json:"host"`
	// Port is the TCP port to listen on (default 8000)
	Port int `toml:"port" json:"port"`
	// AllowedOrigins is the CORS allowlist; ["*"] permits any origin
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
	// AuthToken is an optional shared bearer token. Empty disables auth.
	// This is a single shared secret, not a per-user credential.
	AuthToken string `toml:"auth_token" json:"auth_token"`
	// RateLimitRPS is the REST request budget per client IP per second
	// (0 disables limiting)
	RateLimitRPS float64 `toml:"rate_limit_rps" json:"rate_limit_rps"`
	// RateLimitBurst is the burst allowance for RateLimitRPS
	RateLimitBurst int `toml:"rate_limit_burst" json:"rate_limit_burst"`
	// FrameRateLimit is the inbound WebSocket frame budget per connection
	// per second (0 disables limiting)
	FrameRateLimit float64 `toml:"frame_rate_limit" json:"frame_rate_limit"`
	// FrameRateBurst is the burst allowance for FrameRateLimit
	FrameRateBurst int `toml:"frame_rate_burst" json:"frame_rate_burst"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BackendConfig contains the model backend configuration.
type BackendConfig struct {
	// Protocol selects the wire protocol variant: "openai" or "anthropic"
	Protocol string `toml:"protocol" json:"protocol"`
	// APIKey authenticates against the upstream provider
	APIKey string `toml:"api_key" json:"api_key"`
	// BaseURL is the provider endpoint root, e.g. https://api.openai.com/v1
	BaseURL string `toml:"base_url" json:"base_url"`
	// Model is the model identifier sent upstream
	Model string `toml:"model" json:"model"`
}

// SessionConfig contains per-session limits and lifecycle policy.
type SessionConfig struct {
	// MaxTurns bounds the conversation store; oldest turns are evicted
	// first when the bound is exceeded (default 100)
	MaxTurns int `toml:"max_turns" json:"max_turns"`
	// ContextWindow is the number of most recent turns sent to the model
	// backend per generation (default 10)
	ContextWindow int `toml:"context_window" json:"context_window"`
	// IdleTimeoutSecs destroys sessions inactive for longer than this
	// (default 3600)
	IdleTimeoutSecs int `toml:"idle_timeout_secs" json:"idle_timeout_secs"`
	// SweepIntervalSecs is how often the idle sweep runs (default 300)
	SweepIntervalSecs int `toml:"sweep_interval_secs" json:"sweep_interval_secs"`
}

// IdleTimeout returns the idle timeout as a duration.
func (c SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSecs) * time.Second
}

// SweepInterval returns the sweep interval as a duration.
func (c SessionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

// UsageConfig contains the generation ledger configuration.
type UsageConfig struct {
	// Enabled controls whether terminal generation outcomes are recorded
	Enabled bool `toml:"enabled" json:"enabled"`
	// DatabasePath is the sqlite database location
	// (empty = ~/.riggate/usage.db)
	DatabasePath string `toml:"database_path" json:"database_path"`
}

// ResolveDatabasePath returns the configured database path, or the default
// under the riggate config directory when unset.
func (c UsageConfig) ResolveDatabasePath() (string, error) {
	if c.DatabasePath != "" {
		return c.DatabasePath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "usage.db"), nil
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "0.1.0",

		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8000,
			AllowedOrigins: []string{"*"},
			AuthToken:      "",
			RateLimitRPS:   10,
			RateLimitBurst: 20,
			FrameRateLimit: 20,
			FrameRateBurst: 40,
		},

		Backend: BackendConfig{
			Protocol: "openai",
			APIKey:   "",
			BaseURL:  "",
			Model:    "gpt-4",
		},

		Session: SessionConfig{
			MaxTurns:          100,
			ContextWindow:     10,
			IdleTimeoutSecs:   3600,
			SweepIntervalSecs: 300,
		},

		Usage: UsageConfig{
			Enabled:      true,
			DatabasePath: "",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the riggate configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".riggate"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// Config files should be 0600 (owner read/write only) to protect API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last, then defaults and validation.
func Load() (*Config, error) {
	cfg := Default()

	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				return nil, fmt.Errorf("failed to load TOML config: %w", err)
			}
			return finish(cfg)
		}
	}

	if jsonPath, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				return nil, fmt.Errorf("failed to load JSON config: %w", err)
			}
			return finish(cfg)
		}
	}

	return finish(cfg)
}

// LoadFromPath loads configuration from a specific file path with full
// validation. The format is chosen by file extension (.json, else TOML).
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finish(cfg)
}

// finish applies env overrides, defaults, and validation to a loaded config.
func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file into cfg.
// Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all systems; warn and continue.
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file into cfg.
// Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with 0600 permissions
// (the file may hold an API key).
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// Ensure permissions are correct even if the file already existed.
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# riggate configuration file")
	fmt.Fprintln(file, "# Generated by riggate - edit with care")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// SaveJSON saves the configuration to a JSON file with 0600 permissions.
// The write is atomic so a crash never leaves a partial config behind.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
// Required-field checks for serving (API key, base URL) happen at backend
// construction, so a partial config remains usable for client commands.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("must be 1-65535, got %d", c.Server.Port),
		})
	}

	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit_rps",
			Message: "must be non-negative",
		})
	}
	if c.Server.FrameRateLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.frame_rate_limit",
			Message: "must be non-negative",
		})
	}

	validProtocols := map[string]bool{"openai": true, "anthropic": true}
	if !validProtocols[strings.ToLower(c.Backend.Protocol)] {
		errs = append(errs, ValidationError{
			Field:   "backend.protocol",
			Message: fmt.Sprintf("invalid protocol '%s', must be one of: openai, anthropic", c.Backend.Protocol),
		})
	}

	if c.Backend.BaseURL != "" {
		if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "backend.base_url",
				Message: fmt.Sprintf("invalid URL '%s'", c.Backend.BaseURL),
			})
		}
	}

	if c.Session.MaxTurns < 1 {
		errs = append(errs, ValidationError{
			Field:   "session.max_turns",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Session.MaxTurns),
		})
	}
	if c.Session.ContextWindow < 1 {
		errs = append(errs, ValidationError{
			Field:   "session.context_window",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Session.ContextWindow),
		})
	}
	if c.Session.ContextWindow > c.Session.MaxTurns {
		errs = append(errs, ValidationError{
			Field:   "session.context_window",
			Message: fmt.Sprintf("must not exceed session.max_turns (%d), got %d", c.Session.MaxTurns, c.Session.ContextWindow),
		})
	}
	if c.Session.IdleTimeoutSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "session.idle_timeout_secs",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Session.IdleTimeoutSecs),
		})
	}
	if c.Session.SweepIntervalSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "session.sweep_interval_secs",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Session.SweepIntervalSecs),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults sets default values for any missing or zero-value fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}

	if c.Server.Host == "" {
		c.Server.Host = defaults.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = defaults.Server.AllowedOrigins
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = defaults.Server.RateLimitRPS
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = defaults.Server.RateLimitBurst
	}
	if c.Server.FrameRateLimit == 0 {
		c.Server.FrameRateLimit = defaults.Server.FrameRateLimit
	}
	if c.Server.FrameRateBurst == 0 {
		c.Server.FrameRateBurst = defaults.Server.FrameRateBurst
	}

	if c.Backend.Protocol == "" {
		c.Backend.Protocol = defaults.Backend.Protocol
	}
	if c.Backend.Model == "" {
		c.Backend.Model = defaults.Backend.Model
	}

	if c.Session.MaxTurns == 0 {
		c.Session.MaxTurns = defaults.Session.MaxTurns
	}
	if c.Session.ContextWindow == 0 {
		c.Session.ContextWindow = defaults.Session.ContextWindow
	}
	if c.Session.IdleTimeoutSecs == 0 {
		c.Session.IdleTimeoutSecs = defaults.Session.IdleTimeoutSecs
	}
	if c.Session.SweepIntervalSecs == 0 {
		c.Session.SweepIntervalSecs = defaults.Session.SweepIntervalSecs
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RIGGATE_PROTOCOL: overrides backend.protocol
//   - RIGGATE_API_KEY: overrides backend.api_key
//   - RIGGATE_BASE_URL: overrides backend.base_url
//   - RIGGATE_MODEL: overrides backend.model
//   - RIGGATE_HOST: overrides server.host
//   - RIGGATE_PORT: overrides server.port
//   - RIGGATE_AUTH_TOKEN: overrides server.auth_token
//   - RIGGATE_USAGE_DB: overrides usage.database_path
func (c *Config) ApplyEnvOverrides() {
	if protocol := os.Getenv("RIGGATE_PROTOCOL"); protocol != "" {
		c.Backend.Protocol = protocol
	}
	if key := os.Getenv("RIGGATE_API_KEY"); key != "" {
		c.Backend.APIKey = key
	}
	if baseURL := os.Getenv("RIGGATE_BASE_URL"); baseURL != "" {
		c.Backend.BaseURL = baseURL
	}
	if model := os.Getenv("RIGGATE_MODEL"); model != "" {
		c.Backend.Model = model
	}
	if host := os.Getenv("RIGGATE_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("RIGGATE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if token := os.Getenv("RIGGATE_AUTH_TOKEN"); token != "" {
		c.Server.AuthToken = token
	}
	if db := os.Getenv("RIGGATE_USAGE_DB"); db != "" {
		c.Usage.DatabasePath = db
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation
// (e.g. "session.max_turns").
func (c *Config) Get(key string) (interface{}, error) {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return nil, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})

		if !field.IsValid() {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			return field.Interface(), nil
		}

		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return nil, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}

	return nil, fmt.Errorf("invalid key: %s", key)
}

// Set sets a configuration value using dot notation
// (e.g. "server.port", "8001").
func (c *Config) Set(key string, value interface{}) error {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})

		if !field.IsValid() {
			return fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			if !field.CanSet() {
				return fmt.Errorf("cannot set field: %s", key)
			}
			return setFieldValue(field, value)
		}

		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}

	return fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go
// field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}

	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type
// conversion. String inputs are parsed into the field's kind so CLI values
// like "8001" or "true" land correctly.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal := strVal == "1" || strings.ToLower(strVal) == "true" || strings.ToLower(strVal) == "yes"
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}

	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"server.host",
		"server.port",
		"server.allowed_origins",
		"server.auth_token",
		"server.rate_limit_rps",
		"server.rate_limit_burst",
		"server.frame_rate_limit",
		"server.frame_rate_burst",
		"backend.protocol",
		"backend.api_key",
		"backend.base_url",
		"backend.model",
		"session.max_turns",
		"session.context_window",
		"session.idle_timeout_secs",
		"session.sweep_interval_secs",
		"usage.enabled",
		"usage.database_path",
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// Clone creates a deep copy of the configuration. The AllowedOrigins slice
// is copied so mutations of a clone never reach the original.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.AllowedOrigins != nil {
		clone.Server.AllowedOrigins = make([]string, len(c.Server.AllowedOrigins))
		copy(clone.Server.AllowedOrigins, c.Server.AllowedOrigins)
	}
	return &clone
}

// String returns a string representation of the config for debugging.
// Secrets (API key, auth token) are redacted so they never reach logs.
func (c *Config) String() string {
	safe := c.Clone()

	if safe.Backend.APIKey != "" {
		safe.Backend.APIKey = "[REDACTED]"
	}
	if safe.Server.AuthToken != "" {
		safe.Server.AuthToken = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
