// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/riggate/internal/session"
)

// Schema is the generation ledger schema. One row per terminal generation
// outcome; the table is append-only.
const Schema = `
-- Generations table: one row per terminal generation outcome
CREATE TABLE IF NOT EXISTS generations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    model TEXT NOT NULL,
    outcome TEXT NOT NULL,        -- completed, cancelled, failed
    fragments INTEGER NOT NULL,
    chars INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    finished_at INTEGER NOT NULL  -- Unix timestamp
);

CREATE INDEX IF NOT EXISTS idx_generations_session ON generations(session_id);
CREATE INDEX IF NOT EXISTS idx_generations_outcome ON generations(outcome);
CREATE INDEX IF NOT EXISTS idx_generations_finished ON generations(finished_at);
`

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is the on-disk usage ledger. It implements session.Recorder; a
// recording failure is logged and never propagates into the generation
// path.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("usage: database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Ledger{db: db, path: path}, nil
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

// Close closes the ledger database.
func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// =============================================================================
// RECORDING
// =============================================================================

// Record appends one terminal generation outcome. Failures are logged, not
// returned: metrics must never break the generation path.
func (l *Ledger) Record(rec session.GenerationRecord) {
	_, err := l.db.Exec(
		`INSERT INTO generations (session_id, model, outcome, fragments, chars, duration_ms, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID,
		rec.Model,
		string(rec.Outcome),
		rec.Fragments,
		rec.Chars,
		rec.Elapsed.Milliseconds(),
		rec.FinishedAt.Unix(),
	)
	if err != nil {
		log.Printf("USAGE_RECORD_FAIL | session=%s err=%v", rec.SessionID, err)
	}
}

// =============================================================================
// AGGREGATION
// =============================================================================

// Totals aggregates the whole ledger.
type Totals struct {
	Generations int64 `json:"generations"`
	Completed   int64 `json:"completed"`
	Cancelled   int64 `json:"cancelled"`
	Failed      int64 `json:"failed"`
	Fragments   int64 `json:"fragments"`
	Chars       int64 `json:"chars"`
	TotalTimeMs int64 `json:"total_time_ms"`
}

// Totals returns ledger-wide aggregates.
func (l *Ledger) Totals() (Totals, error) {
	var t Totals
	row := l.db.QueryRow(`
		SELECT
		    COUNT(*),
		    COALESCE(SUM(CASE WHEN outcome = 'completed' THEN 1 ELSE 0 END), 0),
		    COALESCE(SUM(CASE WHEN outcome = 'cancelled' THEN 1 ELSE 0 END), 0),
		    COALESCE(SUM(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END), 0),
		    COALESCE(SUM(fragments), 0),
		    COALESCE(SUM(chars), 0),
		    COALESCE(SUM(duration_ms), 0)
		FROM generations`)
	if err := row.Scan(&t.Generations, &t.Completed, &t.Cancelled, &t.Failed, &t.Fragments, &t.Chars, &t.TotalTimeMs); err != nil {
		return Totals{}, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return t, nil
}

// RecentOutcomes returns the newest n ledger rows, newest first, for
// operator inspection.
func (l *Ledger) RecentOutcomes(n int) ([]session.GenerationRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := l.db.Query(`
		SELECT session_id, model, outcome, fragments, chars, duration_ms, finished_at
		FROM generations ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var out []session.GenerationRecord
	for rows.Next() {
		var (
			rec        session.GenerationRecord
			outcome    string
			durationMs int64
			finishedAt int64
		)
		if err := rows.Scan(&rec.SessionID, &rec.Model, &outcome, &rec.Fragments, &rec.Chars, &durationMs, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		rec.Outcome = session.Outcome(outcome)
		rec.Elapsed = time.Duration(durationMs) * time.Millisecond
		rec.FinishedAt = time.Unix(finishedAt, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}
