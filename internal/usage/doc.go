// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package usage persists a generation ledger: one SQLite row per terminal
// generation outcome (completed, cancelled, failed) with fragment, size,
// and timing counts.
//
// The ledger is append-only metrics. It is never read back into session
// state; conversations stay volatile. Aggregates feed the /api/usage
// endpoint and the status command.
//
// # Usage
//
//	ledger, err := usage.Open(path)
//	if err != nil { ... }
//	defer ledger.Close()
//
// Ledger implements session.Recorder, so it plugs straight into the
// session registry:
//
//	reg := session.NewRegistry(session.Config{Recorder: ledger, ...})
package usage
