// Package testutil provides fixtures shared by package tests: a fixed-epoch
// clock, temporary stores and seeded worlds.
package testutil

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tchosco/toi700game-sub002/internal/clock"
	"github.com/Tchosco/toi700game-sub002/internal/ledger"
	"github.com/Tchosco/toi700game-sub002/internal/lockset"
	"github.com/Tchosco/toi700game-sub002/internal/seed"
	"github.com/Tchosco/toi700game-sub002/internal/store"
)

// Epoch is the start time of every test clock.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// NewClock returns a manual clock stopped at Epoch.
func NewClock() *clock.Manual {
	return clock.NewManual(Epoch)
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OpenStore opens a file-backed store in a temporary directory and closes it
// when the test ends.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "game.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// Env is a seeded store with the collaborators every engine needs.
type Env struct {
	Store  *store.Store
	Locks  *lockset.Set
	Clock  *clock.Manual
	Ledger *ledger.Ledger
}

// NewEnv opens a store and seeds it with the YAML world.
func NewEnv(t testing.TB, worldYAML string) *Env {
	t.Helper()
	st := OpenStore(t)
	env := &Env{
		Store: st,
		Locks: lockset.New(),
		Clock: NewClock(),
	}
	env.Ledger = ledger.New(st, env.Locks, env.Clock, Logger(), nil)

	if worldYAML != "" {
		w, err := seed.Parse([]byte(worldYAML))
		require.NoError(t, err)
		require.NoError(t, seed.Apply(context.Background(), st, env.Ledger, w, Epoch))
	}
	return env
}
