// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// the riggate gateway.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ServerConfig: Listener address, CORS, auth token, rate limits
//   - BackendConfig: Model backend protocol, credentials, model id
//   - SessionConfig: Conversation bounds and idle-session policy
//   - UsageConfig: Generation ledger database settings
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGGATE_*)
//   - ~/.riggate/config.toml
//   - ~/.riggate/config.json
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Read and modify settings with dot notation:
//
//	val, _ := cfg.Get("session.max_turns")
//	_ = cfg.Set("server.port", "8001")
//
// # Hot Reload
//
// Watcher reloads the config file after edits settle and hands the new
// Config to a callback:
//
//	w, err := config.NewWatcher(path, func(cfg *config.Config) {
//	    srv.ApplyRateLimits(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
//	})
//	defer w.Close()
//
// There is no package-level current configuration; callers own the Config
// they load and decide how a reloaded one propagates.
package config
