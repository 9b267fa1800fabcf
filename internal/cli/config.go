// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation for riggate.
//
// Command: config [subcommand]
// Short:   View and modify gateway configuration
//
// Subcommands:
//   show (default)      Display current configuration
//   get <key>           Print one configuration value
//   set <key> <value>   Set a configuration value
//   keys                List all configuration keys
//   reset               Reset to default configuration
//   path                Show configuration file path
//
// Examples:
//   riggate config                          Show current config (default)
//   riggate config get backend.model       Print the configured model
//   riggate config set server.port 9000
//   riggate config set backend.protocol anthropic
//   riggate config set backend.api_key sk-xxx
//   riggate config set session.max_turns 200
//   riggate config set usage.enabled false
//   riggate config reset                    Reset to defaults
//   riggate config path                     Show config file location
//
// Keys use dot notation: section.field, as listed by "riggate config keys".
// Secrets (api_key, auth_token) are never echoed; display shows a SHA-256
// fingerprint instead.
package cli

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/riggate/internal/config"
)

// =============================================================================
// CONFIG STYLES
// =============================================================================

var (
	// Config title style
	configTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")). // Cyan
				MarginBottom(1)

	// Config section style
	configSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("255")). // White
				MarginTop(1)

	// Config key style
	configKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // Light gray
			Width(22)

	// Config value style
	configValueStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("82")) // Green

	// Config value masked (for secrets)
	configMaskedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("242")) // Dim

	// Success style
	configSuccessStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("82")).
				Bold(true)

	// Path style
	configPathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)
)

// =============================================================================
// CONFIG WRAPPER FUNCTIONS
// =============================================================================

// Config is an alias to the main config type so handlers in this package
// can take it without importing internal/config everywhere.
type Config = config.Config

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return config.Default()
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	path, err := config.ConfigPathTOML()
	if err != nil {
		return ""
	}
	return path
}

// LoadConfig loads the configuration from the config file.
// Returns default config if file doesn't exist.
func LoadConfig() (*Config, error) {
	return config.Load()
}

// SaveConfig saves the configuration to the config file.
func SaveConfig(cfg *Config) error {
	return config.Save(cfg)
}

// loadClientConfig loads configuration for client-side commands. Client
// commands still work against a default gateway when the config file is
// broken, so a load failure degrades to defaults with a warning.
func loadClientConfig(args Args) *config.Config {
	var cfg *config.Config
	var err error
	if args.ConfigPath != "" {
		cfg, err = config.LoadFromPath(args.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		cfg = config.Default()
	}
	return cfg
}

// saveConfigTo writes cfg to the --config path when one was given, honoring
// its extension, and to the default TOML location otherwise.
func saveConfigTo(cfg *Config, args Args) error {
	if args.ConfigPath == "" {
		return config.Save(cfg)
	}
	if strings.HasSuffix(args.ConfigPath, ".json") {
		return config.SaveJSON(cfg, args.ConfigPath)
	}
	return config.SaveTOML(cfg, args.ConfigPath)
}

// =============================================================================
// HANDLE CONFIG
// =============================================================================

// HandleConfig handles the "config" command.
func HandleConfig(args Args) error {
	switch args.Subcommand {
	case "", "show":
		if args.JSON {
			return handleConfigShowJSON(args)
		}
		return handleConfigShow(args)

	case "get":
		return handleConfigGet(args)

	case "set":
		return handleConfigSet(args)

	case "keys":
		return handleConfigKeys(args)

	case "reset":
		return handleConfigReset(args)

	case "path":
		if args.JSON {
			return handleConfigPathJSON()
		}
		return handleConfigPath()

	default:
		return fmt.Errorf("unknown config subcommand: %s (expected show, get, set, keys, reset, or path)", args.Subcommand)
	}
}

// redactedClone copies cfg with secrets replaced, for display and JSON dumps.
func redactedClone(cfg *Config) *Config {
	safe := cfg.Clone()
	if safe.Server.AuthToken != "" {
		safe.Server.AuthToken = "[REDACTED]"
	}
	if safe.Backend.APIKey != "" {
		safe.Backend.APIKey = "[REDACTED]"
	}
	return safe
}

// handleConfigShowJSON outputs the redacted configuration as JSON.
func handleConfigShowJSON(args Args) error {
	cfg := loadClientConfig(args)

	data := ConfigData{
		Config: redactedClone(cfg),
		Path:   ConfigPath(),
	}
	return NewJSONResponse("config show", data).Print()
}

// handleConfigPathJSON outputs config path in JSON format.
func handleConfigPathJSON() error {
	path := ConfigPath()
	_, err := os.Stat(path)
	exists := !os.IsNotExist(err)

	data := map[string]interface{}{
		"path":   path,
		"exists": exists,
	}
	return NewJSONResponse("config path", data).Print()
}

// handleConfigShow displays the current configuration.
func handleConfigShow(args Args) error {
	cfg := loadClientConfig(args)

	fmt.Println()
	fmt.Println(configTitleStyle.Render("riggate Configuration"))
	fmt.Println(RenderSeparator())
	fmt.Println()

	// Server section
	fmt.Println(configSectionStyle.Render("[server]"))
	fmt.Printf("  %s%s\n",
		configKeyStyle.Render("host:"),
		configValueStyle.Render(cfg.Server.Host))
	fmt.Printf("  %s%s\n",
		configKeyStyle.Render("port:"),
		configValueStyle.Render(fmt.Sprintf("%d", cfg.Server.Port)))
	fmt.Printf("  %s%s\n",
		configKeyStyle.Render("allowed_origins:"),
		configValueStyle.Render(strings.Join(cfg.Server.AllowedOrigins, ", ")))
	fmt.Printf("  %s%s\n",
		configKeyStyle.Render("auth_token:"),
		configMaskedStyle.Render(maskAPIKey(cfg.Server.AuthToken)))
	fmt.Printf("  %s%s\n",
		configKeyStyle.Render("rate_limit_rps:"),
		configValueStyle.Render(fmt.Sprintf("%g (burst %d)", cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)))
	fmt.Printf("  %s%s\n",
		configKeyStyle.Render("frame_rate_limit:"),
		configValueStyle.Render(fmt.Sprintf("%g (burst %d)", cfg.Server.FrameRateLimit, cfg.Server.FrameRateBurst)))
	fmt.Println()

	// Backend section
	fmt.Println(configSectionStyle.Render("[backend]"))
	fmt.Printf("  %s%s\n",
		configKeyStyle.Render("protocol:"),
		configValueStyle.Render(cfg.Backend.Protocol))
	fmt.Printf("  %s%s\n",
		configKeyStyle.Render("model:"),
		configValueStyle.Render(cfg.Backend.Model))
	fmt.Printf("  %s%s\n",
		configKeyStyle.Render("base_url:"),
		configValueStyle.Render(cfg.Backend.BaseURL))
	fmt.Printf("  %s%s\n",
		configKeyStyle.Render("api_key:"),
		configMaskedStyle.Render(maskAPIKey(cfg.Backend.APIKey)))
	fmt.Println()

	// Session section
	fmt.Println(configSectionStyle.Render("[session]"))
	fmt.Printf("  %s%s\n",
		configKeyStyle.Render("max_turns:"),
		configValueStyle.Render(fmt.Sprintf("%d", cfg.Session.MaxTurns)))
	fmt.Printf("  %s%s\n",
		configKeyStyle.Render("context_window:"),
		configValueStyle.Render(fmt.Sprintf("%d", cfg.Session.ContextWindow)))
	fmt.Printf("  %s%s\n",
		configKeyStyle.Render("idle_timeout_secs:"),
		configValueStyle.Render(fmt.Sprintf("%d", cfg.Session.IdleTimeoutSecs)))
	fmt.Printf("  %s%s\n",
		configKeyStyle.Render("sweep_interval_secs:"),
		configValueStyle.Render(fmt.Sprintf("%d", cfg.Session.SweepIntervalSecs)))
	fmt.Println()

	// Usage section
	fmt.Println(configSectionStyle.Render("[usage]"))
	enabledStr := "false"
	if cfg.Usage.Enabled {
		enabledStr = "true"
	}
	fmt.Printf("  %s%s\n",
		configKeyStyle.Render("enabled:"),
		configValueStyle.Render(enabledStr))
	dbPath := cfg.Usage.DatabasePath
	if dbPath == "" {
		if resolved, err := cfg.Usage.ResolveDatabasePath(); err == nil {
			dbPath = resolved + " (default)"
		}
	}
	fmt.Printf("  %s%s\n",
		configKeyStyle.Render("database_path:"),
		configValueStyle.Render(dbPath))
	fmt.Println()

	// Config file path
	fmt.Println(RenderSeparator())
	fmt.Printf("Config file: %s\n", configPathStyle.Render(ConfigPath()))
	fmt.Println()

	return nil
}

// handleConfigGet prints a single configuration value.
func handleConfigGet(args Args) error {
	key := strings.ToLower(args.ConfigKey)
	if key == "" {
		return ErrMissingArgument("key", "riggate config get <key>")
	}

	cfg := loadClientConfig(args)
	value, err := cfg.Get(key)
	if err != nil {
		return fmt.Errorf("%w\n\nValid keys:\n  %s", err, strings.Join(config.GetAllKeys(), "\n  "))
	}

	display := fmt.Sprintf("%v", value)
	if isSecretKey(key) {
		display = maskAPIKey(display)
	}

	if args.JSON {
		data := map[string]interface{}{"key": key, "value": display}
		return NewJSONResponse("config get", data).Print()
	}

	fmt.Println(display)
	return nil
}

// handleConfigSet sets a configuration value.
func handleConfigSet(args Args) error {
	key := strings.ToLower(args.ConfigKey)
	value := args.ConfigVal
	if key == "" {
		return ErrMissingArgument("key", "riggate config set <key> <value>")
	}
	if value == "" {
		return ErrMissingArgument("value", fmt.Sprintf("riggate config set %s <value>", key))
	}

	cfg := loadClientConfig(args)

	if err := cfg.Set(key, value); err != nil {
		return fmt.Errorf("%w\n\nValid keys:\n  %s", err, strings.Join(config.GetAllKeys(), "\n  "))
	}

	// Validate the updated config before saving.
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration value: %w", err)
	}

	if err := saveConfigTo(cfg, args); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("%s %s = %s\n",
		configSuccessStyle.Render("[OK]"),
		key,
		maskIfSecret(key, value))
	return nil
}

// handleConfigKeys lists every settable key.
func handleConfigKeys(args Args) error {
	keys := config.GetAllKeys()

	if args.JSON {
		return NewJSONResponse("config keys", map[string]interface{}{"keys": keys}).Print()
	}

	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}

// handleConfigReset resets configuration to defaults.
func handleConfigReset(args Args) error {
	cfg := DefaultConfig()

	if err := saveConfigTo(cfg, args); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("%s Configuration reset to defaults\n", configSuccessStyle.Render("[OK]"))
	fmt.Printf("Config file: %s\n", configPathStyle.Render(ConfigPath()))
	return nil
}

// handleConfigPath shows the config file path.
func handleConfigPath() error {
	path := ConfigPath()
	fmt.Println(path)

	// Also show if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "%s (file does not exist - will be created on first use)\n",
			configMaskedStyle.Render("Note"))
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// maskAPIKey masks a secret for display using a SHA-256 fingerprint. The
// fingerprint lets an operator confirm which secret is configured without
// the display exposing any usable prefix of it.
func maskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) < 8 {
		return "[invalid key]"
	}
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("sha256:%x...", hash[:4])
}

// isSecretKey reports whether a config key holds a credential.
func isSecretKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, s := range []string{"key", "secret", "token", "password"} {
		if strings.Contains(keyLower, s) {
			return true
		}
	}
	return false
}

// maskIfSecret masks the value if the key is a secret field.
func maskIfSecret(key, value string) string {
	if isSecretKey(key) {
		return maskAPIKey(value)
	}
	return value
}
