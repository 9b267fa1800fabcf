// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line interface parsing and execution for
// riggate.
//
// The gateway binary carries its own reference front-end: alongside the
// serve command, this package implements the client-side commands that talk
// to a running gateway over its websocket and REST surfaces. None of the
// handlers here touch gateway-internal state; everything goes over the wire,
// so the same commands work against local and remote gateways.
//
// # Key Types
//
//   - Command: Enumeration of all available CLI commands
//   - Args: Parsed command-line arguments with global and command-specific flags
//   - ChatClient: WebSocket client used by the interactive chat command
//
// # Usage
//
// Parse and execute commands:
//
//	cmd, args := cli.Parse()
//	switch cmd {
//	case cli.CmdChat:
//	    cli.HandleChat(args)
//	case cli.CmdStatus:
//	    return cli.HandleStatus(args)
//	// ... other commands
//	}
//
// # Commands Overview
//
//   - serve: Run the gateway (handled in package main; everything else is
//     a client)
//   - chat: Interactive chat against a gateway session
//   - status: Gateway health and usage report
//   - config: Configuration management
//   - version: Build information
//
// All client commands support --json for scripted callers.
package cli
