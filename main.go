// riggate - A session gateway that puts one LLM backend behind many clients.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/riggate/internal/backend"
	"github.com/jeranaias/riggate/internal/cli"
	"github.com/jeranaias/riggate/internal/config"
	"github.com/jeranaias/riggate/internal/server"
	"github.com/jeranaias/riggate/internal/session"
	"github.com/jeranaias/riggate/internal/usage"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse()

	switch cmd {
	case cli.CmdServe:
		if err := runServe(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(cli.GetExitCode(err))
		}
	case cli.CmdChat:
		cli.HandleChat(args)
	case cli.CmdStatus:
		if err := cli.HandleStatus(args); err != nil {
			fail(args, "status", err)
		}
	case cli.CmdConfig:
		if err := cli.HandleConfig(args); err != nil {
			fail(args, "config", err)
		}
	case cli.CmdVersion:
		cli.HandleVersion(args)
	case cli.CmdHelp:
		cli.HandleHelp()
	}
}

// fail reports a command error and exits with the mapped code. With --json
// the error goes to stdout as an envelope so scripted callers keep a single
// parse path.
func fail(args cli.Args, command string, err error) {
	if args.JSON {
		cli.NewJSONErrorResponse(command, err).Print()
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cli.GetExitCode(err))
}

// =============================================================================
// GATEWAY
// =============================================================================

// runServe runs the gateway in the foreground until SIGINT/SIGTERM or a
// listener failure.
func runServe(args cli.Args) error {
	cfg, err := loadServeConfig(args)
	if err != nil {
		return err
	}

	// Command-line flags beat both the config file and environment.
	if args.Host != "" {
		cfg.Server.Host = args.Host
	}
	if args.Port > 0 {
		cfg.Server.Port = args.Port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	client, err := backend.New(backend.Config{
		Protocol: cfg.Backend.Protocol,
		APIKey:   cfg.Backend.APIKey,
		BaseURL:  cfg.Backend.BaseURL,
		Model:    cfg.Backend.Model,
	})
	if err != nil {
		return err
	}

	var ledger *usage.Ledger
	if cfg.Usage.Enabled {
		path, err := cfg.Usage.ResolveDatabasePath()
		if err != nil {
			return err
		}
		ledger, err = usage.Open(path)
		if err != nil {
			return err
		}
		defer ledger.Close()
	}

	regCfg := session.Config{
		Backend:       client,
		MaxTurns:      cfg.Session.MaxTurns,
		ContextWindow: cfg.Session.ContextWindow,
		IdleTimeout:   cfg.Session.IdleTimeout(),
		SweepInterval: cfg.Session.SweepInterval(),
	}
	if ledger != nil {
		// Assigning the *Ledger unconditionally would hand the registry a
		// non-nil interface wrapping a nil pointer.
		regCfg.Recorder = ledger
	}
	registry := session.NewRegistry(regCfg)
	defer registry.Close()

	srv := server.New(cfg.Server, registry, client, ledger)

	watcher := watchConfig(args, srv, registry)
	if watcher != nil {
		defer watcher.Close()
	}

	if !args.Quiet {
		fmt.Printf("Starting riggate gateway on http://%s\n", cfg.Server.Addr())
		fmt.Printf("Model: %s (%s)\n", client.Model(), client.Protocol())
		if cfg.Server.AuthToken != "" {
			fmt.Println("Auth: bearer token required")
		}
		fmt.Println("Press Ctrl+C to stop")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		// Shutdown was never called, so this is a startup failure
		// (port in use, bad listen address).
		return err
	case sig := <-sigCh:
		log.Printf("SIGNAL_RECEIVED | signal=%s", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if !args.Quiet {
		fmt.Println("Gateway stopped")
	}
	return nil
}

// loadServeConfig loads the gateway config honoring --config. A missing file
// falls back to defaults inside Load; a file that exists but does not parse
// is fatal for serve, unlike the client commands which warn and continue.
func loadServeConfig(args cli.Args) (*config.Config, error) {
	if args.ConfigPath != "" {
		return config.LoadFromPath(args.ConfigPath)
	}
	return config.Load()
}

// watchConfig wires hot reload for the dynamic subset: REST rate budget and
// session turn/idle policy. Listener, auth, and backend settings still need
// a restart. Returns nil when the config location cannot be watched; the
// gateway runs fine without reload.
func watchConfig(args cli.Args, srv *server.Server, registry *session.Registry) *config.Watcher {
	path := args.ConfigPath
	if path == "" {
		if err := config.EnsureConfigDir(); err != nil {
			log.Printf("CONFIG_WATCH_SKIPPED | error=%v", err)
			return nil
		}
		p, err := config.ConfigPathTOML()
		if err != nil {
			log.Printf("CONFIG_WATCH_SKIPPED | error=%v", err)
			return nil
		}
		path = p
	}

	watcher, err := config.NewWatcher(path, func(next *config.Config) {
		srv.ApplyRateLimits(next.Server.RateLimitRPS, next.Server.RateLimitBurst)
		registry.SetPolicy(next.Session.MaxTurns, next.Session.ContextWindow, next.Session.IdleTimeout())
	})
	if err != nil {
		log.Printf("CONFIG_WATCH_SKIPPED | path=%s error=%v", path, err)
		return nil
	}
	return watcher
}
