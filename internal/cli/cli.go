// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command handlers for riggate.
package cli

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdServe Command = iota
	CmdChat
	CmdStatus
	CmdConfig
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet      bool
	Verbose    bool
	JSON       bool // Output in JSON format
	ConfigPath string

	// Command-specific
	URL        string // gateway base URL for client commands
	Host       string // serve bind host override
	Port       int    // serve bind port override (0 = from config)
	SessionID  string // chat session to attach to
	Subcommand string
	ConfigKey  string
	ConfigVal  string

	// Raw args (remaining after flag parsing)
	Raw []string
}

const usageText = `riggate - session gateway for LLM front-ends

Riggate owns conversation state so that any number of front-ends
(terminal, web, desktop) can converse through one backend connection.
Turns are queued per session, output is streamed as it is generated,
and an active generation can be cancelled mid-stream.

Usage:
  riggate serve              Run the gateway in the foreground
  riggate chat               Interactive chat against a running gateway
  riggate status, s          Probe gateway health and usage totals
  riggate config [show|get|set|keys|reset|path]  Configuration
  riggate version            Show version information
  riggate help               Show this help

Serve Options:
  --host HOST         Bind address (overrides config)
  --port PORT         Bind port (overrides config)

Chat Options:
  --url URL           Gateway base URL (default: from config)
  --session ID        Attach to an existing session id

Chat Commands (during chat):
  /help, /h           Show available commands
  /clear, /c          Clear conversation history
  /cancel             Cancel the active generation
  /status, /s         Show session info
  /history            Show stored transcript
  /quit, /q           Exit chat
  Ctrl+C              Cancel current generation
  Ctrl+D              Exit chat

Config Commands:
  riggate config show           Display resolved configuration
  riggate config get KEY        Print one value (dot notation)
  riggate config set KEY VALUE  Write a value to the config file
  riggate config keys           List available keys
  riggate config reset          Reset to default configuration
  riggate config path           Show config file location

Global Flags:
  -q, --quiet         Minimal output
  -v, --verbose       Debug output
  --json              Output in JSON format
  --config PATH       Use config file at PATH

Examples:
  riggate serve                             Run with ~/.riggate/config.toml
  riggate serve --port 9000                 Override the bind port
  riggate chat                              Chat on a fresh session
  riggate chat --session my-notes           Resume a named session
  riggate chat --url http://remote:8000     Connect to a remote gateway
  riggate status --json                     Health and usage as JSON
  riggate config set server.port 9000       Persist a setting
  riggate config set backend.model gpt-4o   Switch the backend model

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("riggate version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
}

// Parse parses command-line arguments and returns the command and args.
func Parse() (Command, Args) {
	args := os.Args[1:]

	// Parse global flags first
	remaining, parsedArgs := parseGlobalFlags(args)

	// No command given: show help, like the original front-end launcher.
	if len(remaining) == 0 {
		return CmdHelp, parsedArgs
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsedArgs.Raw = remaining

	switch cmd {
	case "serve", "gateway":
		parseServeArgs(&parsedArgs, remaining)
		return CmdServe, parsedArgs

	case "chat":
		parseChatArgs(&parsedArgs, remaining)
		return CmdChat, parsedArgs

	case "status", "s":
		parseStatusArgs(&parsedArgs, remaining)
		return CmdStatus, parsedArgs

	case "config":
		parseConfigArgs(&parsedArgs, remaining)
		return CmdConfig, parsedArgs

	case "version", "--version":
		return CmdVersion, parsedArgs

	case "help", "-h", "--help":
		return CmdHelp, parsedArgs

	default:
		// Unknown command: restore it so help can mention what was typed.
		parsedArgs.Raw = append([]string{cmd}, remaining...)
		return CmdHelp, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsedArgs Args

	i := 0
	for i < len(args) {
		arg := args[i]

		switch arg {
		case "-q", "--quiet":
			parsedArgs.Quiet = true
		case "-v", "--verbose":
			parsedArgs.Verbose = true
		case "--json":
			parsedArgs.JSON = true
		case "--config":
			if i+1 < len(args) {
				i++
				parsedArgs.ConfigPath = args[i]
			}
		default:
			if strings.HasPrefix(arg, "--config=") {
				parsedArgs.ConfigPath = strings.TrimPrefix(arg, "--config=")
			} else {
				remaining = append(remaining, arg)
			}
		}
		i++
	}

	return remaining, parsedArgs
}

// parseServeArgs parses serve command specific arguments.
func parseServeArgs(args *Args, remaining []string) {
	for i := 0; i < len(remaining); i++ {
		arg := remaining[i]

		switch arg {
		case "--host":
			if i+1 < len(remaining) {
				i++
				args.Host = remaining[i]
			}
		case "--port", "-p":
			if i+1 < len(remaining) {
				i++
				if n, err := strconv.Atoi(remaining[i]); err == nil && n > 0 {
					args.Port = n
				}
			}
		default:
			if strings.HasPrefix(arg, "--host=") {
				args.Host = strings.TrimPrefix(arg, "--host=")
			} else if strings.HasPrefix(arg, "--port=") {
				if n, err := strconv.Atoi(strings.TrimPrefix(arg, "--port=")); err == nil && n > 0 {
					args.Port = n
				}
			}
		}
	}
}

// parseChatArgs parses chat command specific arguments.
func parseChatArgs(args *Args, remaining []string) {
	for i := 0; i < len(remaining); i++ {
		arg := remaining[i]

		switch arg {
		case "--url", "-u":
			if i+1 < len(remaining) {
				i++
				args.URL = remaining[i]
			}
		case "--session":
			if i+1 < len(remaining) {
				i++
				args.SessionID = remaining[i]
			}
		default:
			if strings.HasPrefix(arg, "--url=") {
				args.URL = strings.TrimPrefix(arg, "--url=")
			} else if strings.HasPrefix(arg, "--session=") {
				args.SessionID = strings.TrimPrefix(arg, "--session=")
			}
		}
	}
}

// parseStatusArgs parses status command specific arguments.
func parseStatusArgs(args *Args, remaining []string) {
	for i := 0; i < len(remaining); i++ {
		arg := remaining[i]

		switch arg {
		case "--url", "-u":
			if i+1 < len(remaining) {
				i++
				args.URL = remaining[i]
			}
		default:
			if strings.HasPrefix(arg, "--url=") {
				args.URL = strings.TrimPrefix(arg, "--url=")
			}
		}
	}
}

// parseConfigArgs parses config command specific arguments.
func parseConfigArgs(args *Args, remaining []string) {
	if len(remaining) > 0 {
		args.Subcommand = remaining[0]
		if len(remaining) > 1 {
			args.ConfigKey = remaining[1]
		}
		if len(remaining) > 2 {
			args.ConfigVal = remaining[2]
		}
	}
}

// =============================================================================
// COMMAND HANDLERS
// =============================================================================

// HandleChat handles the "chat" command.
// This delegates to the full implementation in chat.go.
func HandleChat(args Args) {
	if err := HandleChatCommand(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(GetExitCode(err))
	}
}

// NOTE: HandleStatus is implemented in status.go
// NOTE: HandleConfig is implemented in config.go

// HandleVersion handles the "version" command.
func HandleVersion(args Args) {
	if args.JSON {
		data := VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}
		resp := NewJSONResponse("version", data)
		resp.Print()
		return
	}
	PrintVersion()
}

// HandleHelp handles the "help" command.
func HandleHelp() {
	PrintUsage()
}
