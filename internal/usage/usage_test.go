// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/riggate/internal/session"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usage.db")
	ledger, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func record(sessionID string, outcome session.Outcome, fragments, chars int, elapsed time.Duration) session.GenerationRecord {
	return session.GenerationRecord{
		SessionID:  sessionID,
		Model:      "gpt-4",
		Outcome:    outcome,
		Fragments:  fragments,
		Chars:      chars,
		Elapsed:    elapsed,
		FinishedAt: time.Now(),
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("Open(\"\") should fail")
	}
}

func TestTotals_EmptyLedger(t *testing.T) {
	ledger := openTestLedger(t)

	totals, err := ledger.Totals()
	if err != nil {
		t.Fatalf("Totals() error = %v", err)
	}
	if totals != (Totals{}) {
		t.Errorf("Totals() = %+v, want all zeros", totals)
	}
}

func TestRecordAndTotals(t *testing.T) {
	ledger := openTestLedger(t)

	ledger.Record(record("s1", session.OutcomeCompleted, 10, 120, 1500*time.Millisecond))
	ledger.Record(record("s1", session.OutcomeCancelled, 3, 25, 400*time.Millisecond))
	ledger.Record(record("s2", session.OutcomeFailed, 0, 0, 100*time.Millisecond))
	ledger.Record(record("s2", session.OutcomeCompleted, 5, 60, 900*time.Millisecond))

	totals, err := ledger.Totals()
	if err != nil {
		t.Fatalf("Totals() error = %v", err)
	}

	if totals.Generations != 4 {
		t.Errorf("Generations = %d, want 4", totals.Generations)
	}
	if totals.Completed != 2 || totals.Cancelled != 1 || totals.Failed != 1 {
		t.Errorf("outcome counts = %d/%d/%d, want 2/1/1", totals.Completed, totals.Cancelled, totals.Failed)
	}
	if totals.Fragments != 18 {
		t.Errorf("Fragments = %d, want 18", totals.Fragments)
	}
	if totals.Chars != 205 {
		t.Errorf("Chars = %d, want 205", totals.Chars)
	}
	if totals.TotalTimeMs != 2900 {
		t.Errorf("TotalTimeMs = %d, want 2900", totals.TotalTimeMs)
	}
}

func TestTotals_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")

	ledger, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ledger.Record(record("s1", session.OutcomeCompleted, 2, 10, time.Second))
	if err := ledger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	totals, err := reopened.Totals()
	if err != nil {
		t.Fatalf("Totals() error = %v", err)
	}
	if totals.Generations != 1 || totals.Completed != 1 {
		t.Errorf("Totals after reopen = %+v", totals)
	}
}

func TestRecentOutcomes_NewestFirst(t *testing.T) {
	ledger := openTestLedger(t)

	ledger.Record(record("first", session.OutcomeCompleted, 1, 5, time.Second))
	ledger.Record(record("second", session.OutcomeCancelled, 2, 8, time.Second))
	ledger.Record(record("third", session.OutcomeFailed, 0, 0, time.Second))

	recent, err := ledger.RecentOutcomes(2)
	if err != nil {
		t.Fatalf("RecentOutcomes() error = %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d rows, want 2", len(recent))
	}
	if recent[0].SessionID != "third" || recent[1].SessionID != "second" {
		t.Errorf("order = [%s %s], want newest first", recent[0].SessionID, recent[1].SessionID)
	}
	if recent[0].Outcome != session.OutcomeFailed {
		t.Errorf("outcome = %v, want failed", recent[0].Outcome)
	}
	if recent[1].Elapsed != time.Second {
		t.Errorf("elapsed = %v, want 1s", recent[1].Elapsed)
	}
}

func TestRecentOutcomes_ZeroLimit(t *testing.T) {
	ledger := openTestLedger(t)
	recent, err := ledger.RecentOutcomes(0)
	if err != nil {
		t.Fatalf("RecentOutcomes(0) error = %v", err)
	}
	if recent != nil {
		t.Errorf("RecentOutcomes(0) = %v, want nil", recent)
	}
}
