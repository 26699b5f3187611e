package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{
		"territories", "cells", "cell_transfers", "ledger_balances", "ledger_entries",
		"wars", "war_cells", "votes", "vote_records", "laws", "blocs",
		"market_listings", "tick_summaries", "rankings", "events",
	}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"foreign_keys", "1"},
		{"busy_timeout", "5000"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.expected); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("Open(memory) failed: %v", err)
	}
	defer s.Close()

	createTestTerritory(t, s, "t1", "alice")
	if _, err := s.Queries().GetTerritory(context.Background(), "t1"); err != nil {
		t.Errorf("GetTerritory() on memory store failed: %v", err)
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sentinel := errors.New("boom")

	err := s.WithTx(ctx, func(q *Queries) error {
		createErr := q.InsertTerritory(ctx, createTestTerritoryModel("t1", "alice"))
		if createErr != nil {
			return createErr
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithTx() error = %v, want sentinel returned unchanged", err)
	}

	_, err = s.Queries().GetTerritory(ctx, "t1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTerritory() after rollback = %v, want ErrNotFound", err)
	}
}

func TestWithTx_Commits(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(q *Queries) error {
		return q.InsertTerritory(ctx, createTestTerritoryModel("t1", "alice"))
	})
	if err != nil {
		t.Fatalf("WithTx() failed: %v", err)
	}
	if _, err := s.Queries().GetTerritory(ctx, "t1"); err != nil {
		t.Errorf("GetTerritory() after commit failed: %v", err)
	}
}

func TestTimeLayout_SortsAsText(t *testing.T) {
	a := formatTime(testTime)
	b := formatTime(testTime.Add(500 * 1e6))
	c := formatTime(testTime.Add(1e9))
	if !(a < b && b < c) {
		t.Errorf("formatted times do not sort: %q %q %q", a, b, c)
	}
	parsed, err := parseTime(b)
	if err != nil {
		t.Fatalf("parseTime() failed: %v", err)
	}
	if !parsed.Equal(testTime.Add(500 * 1e6)) {
		t.Errorf("parseTime() = %v, want %v", parsed, testTime.Add(500*1e6))
	}
}
