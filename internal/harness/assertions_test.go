package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tchosco/toi700game-sub002/internal/ids"
	"github.com/Tchosco/toi700game-sub002/internal/service"
	"github.com/Tchosco/toi700game-sub002/internal/testutil"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Type: "invocation", Seq: 1, Action: "market.place", As: "alice", Args: map[string]any{"type": "sell", "quantity": 20.0}},
		{Type: "completion", Seq: 2, Case: CaseOK},
		{Type: "invocation", Seq: 3, Action: "market.fill", As: "gm", Args: map[string]any{"listing_id": "id-0001"}},
		{Type: "completion", Seq: 4, Case: CaseOK},
		{Type: "invocation", Seq: 5, Action: "market.cancel", As: "alice", Args: map[string]any{"listing_id": "id-0001"}},
		{Type: "completion", Seq: 6, Case: CaseOK},
	}
}

func sampleEvents() []EventSummary {
	return []EventSummary{
		{Seq: 1, Kind: "listing.placed", EntityID: "id-0001"},
		{Seq: 2, Kind: "listing.filled", EntityID: "id-0001"},
		{Seq: 3, Kind: "listing.filled", EntityID: "id-0001"},
		{Seq: 4, Kind: "listing.cancelled", EntityID: "id-0001"},
	}
}

func TestAssertTraceContains(t *testing.T) {
	tests := []struct {
		name string
		a    Assertion
		ok   bool
	}{
		{"action only", Assertion{Action: "market.fill"}, true},
		{"args subset", Assertion{Action: "market.place", Args: map[string]any{"type": "sell"}}, true},
		{"yaml int matches json number", Assertion{Action: "market.place", Args: map[string]any{"quantity": 20}}, true},
		{"wrong args", Assertion{Action: "market.place", Args: map[string]any{"type": "buy"}}, false},
		{"missing action", Assertion{Action: "war.declare"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.a.Type = AssertTraceContains
			err := assertTraceContains(sampleTrace(), tt.a)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var ae *AssertionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, "not found in trace", ae.Actual)
		})
	}
}

func TestAssertTraceOrder(t *testing.T) {
	assert.NoError(t, assertTraceOrder(sampleTrace(), Assertion{Actions: []string{"market.place", "market.cancel"}}))

	err := assertTraceOrder(sampleTrace(), Assertion{Actions: []string{"market.cancel", "market.fill"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market.cancel (pos 3) should be before market.fill (pos 2)")

	err = assertTraceOrder(sampleTrace(), Assertion{Actions: []string{"market.place", "war.declare"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing war.declare")
}

func TestAssertTraceCount(t *testing.T) {
	assert.NoError(t, assertTraceCount(sampleTrace(), Assertion{Action: "market.fill", Count: 1}))
	assert.NoError(t, assertTraceCount(sampleTrace(), Assertion{Action: "war.declare", Count: 0}))

	err := assertTraceCount(sampleTrace(), Assertion{Action: "market.fill", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 occurrences")
}

func TestAssertEventOrderAndCount(t *testing.T) {
	assert.NoError(t, assertEventOrder(sampleEvents(), Assertion{Kinds: []string{"listing.placed", "listing.filled", "listing.cancelled"}}))
	assert.Error(t, assertEventOrder(sampleEvents(), Assertion{Kinds: []string{"listing.cancelled", "listing.placed"}}))

	assert.NoError(t, assertEventCount(sampleEvents(), Assertion{Kind: "listing.filled", Count: 2}))
	err := assertEventCount(sampleEvents(), Assertion{Kind: "listing.placed", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 events")
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "2 occurrences of market.fill",
		Actual:   "1 occurrences",
		Trace:    sampleTrace()[:2],
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Expected: 2 occurrences of market.fill")
	assert.Contains(t, msg, "[1] market.place as alice")
	assert.Contains(t, msg, "[2]   -> ok")
}

func TestBuildWhereClause(t *testing.T) {
	sql, args, err := buildWhereClause(nil)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Empty(t, args)

	sql, args, err = buildWhereClause(map[string]any{"status": "open", "id": "l-1", "closed_at": nil})
	require.NoError(t, err)
	assert.Equal(t, "closed_at IS NULL AND id = ? AND status = ?", sql)
	assert.Equal(t, []any{"l-1", "open"}, args)

	sql, args, err = buildWhereClause(map[string]any{"id": "x' OR '1'='1"})
	require.NoError(t, err)
	assert.Equal(t, "id = ?", sql)
	assert.Equal(t, []any{"x' OR '1'='1"}, args, "values are bound, never interpolated")

	_, _, err = buildWhereClause(map[string]any{"id; DROP TABLE wars": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid column name")
}

func TestFormatWhereClause(t *testing.T) {
	assert.Equal(t, "(no conditions)", formatWhereClause(nil))
	assert.Equal(t, "id=w AND status=ended", formatWhereClause(map[string]any{"status": "ended", "id": "w"}))
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"string", "open", "open", true},
		{"text as bytes", "open", []byte("open"), true},
		{"string mismatch", "open", "closed", false},
		{"int vs int64", 5, int64(5), true},
		{"int vs real", 5, 5.0, true},
		{"float vs real", 0.25, 0.25, true},
		{"int mismatch", 5, int64(6), false},
		{"int vs text", 5, "5", false},
		{"bool vs integer", true, int64(1), true},
		{"false vs integer", false, int64(1), false},
		{"nil vs null", nil, nil, true},
		{"nil vs value", nil, "x", false},
		{"value vs null", "x", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual))
		})
	}
}

func newAssertionContext(t *testing.T) *AssertionContext {
	t.Helper()
	env := testutil.NewEnv(t, `
territories:
  - {id: atk, owner: alice, stability: 40, cells: [a1, a2]}
balances:
  - {kind: currency, owner: alice, amount: 70}
  - {kind: resource, owner: atk, asset: food, amount: 12}
`)
	svc := service.New(env.Store, service.Options{IDs: ids.NewSequence("t"), Clock: env.Clock})
	return &AssertionContext{Store: env.Store, Service: svc, Ctx: context.Background()}
}

func TestAssertFinalState(t *testing.T) {
	actx := newAssertionContext(t)

	tests := []struct {
		name   string
		a      Assertion
		errMsg string
	}{
		{
			name: "row matches",
			a:    Assertion{Table: "territories", Where: map[string]any{"id": "atk"}, Expect: map[string]any{"owner_user_id": "alice", "cells_owned": 2, "stability": 40}},
		},
		{
			name: "multiple where conditions",
			a:    Assertion{Table: "cells", Where: map[string]any{"id": "a2", "territory_id": "atk"}, Expect: map[string]any{"territory_id": "atk"}},
		},
		{
			name:   "row not found",
			a:      Assertion{Table: "territories", Where: map[string]any{"id": "zzz"}, Expect: map[string]any{"status": "active"}},
			errMsg: "row not found",
		},
		{
			name:   "ambiguous",
			a:      Assertion{Table: "cells", Where: map[string]any{"territory_id": "atk"}, Expect: map[string]any{"territory_id": "atk"}},
			errMsg: "multiple rows matched",
		},
		{
			name:   "value mismatch",
			a:      Assertion{Table: "territories", Where: map[string]any{"id": "atk"}, Expect: map[string]any{"stability": 41}},
			errMsg: `field "stability" = 41`,
		},
		{
			name:   "missing column",
			a:      Assertion{Table: "territories", Where: map[string]any{"id": "atk"}, Expect: map[string]any{"color": "red"}},
			errMsg: `field "color" to exist`,
		},
		{
			name:   "table not allowed",
			a:      Assertion{Table: "events", Expect: map[string]any{"kind": "x"}},
			errMsg: `table "events" cannot be queried`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(actx.Ctx, actx.Store, tt.a)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestAssertBalance(t *testing.T) {
	actx := newAssertionContext(t)

	assert.NoError(t, assertBalance(actx.Ctx, actx.Service, Assertion{
		Account: &AccountRef{Kind: "currency", Owner: "alice"},
		Amount:  70,
	}))
	assert.NoError(t, assertBalance(actx.Ctx, actx.Service, Assertion{
		Account: &AccountRef{Kind: "resource", Owner: "atk", Asset: "food"},
		Amount:  12,
	}))

	err := assertBalance(actx.Ctx, actx.Service, Assertion{
		Account: &AccountRef{Kind: "currency", Owner: "alice"},
		Amount:  71,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "currency:alice:currency = 70")

	err = assertBalance(actx.Ctx, actx.Service, Assertion{
		Account: &AccountRef{Kind: "gold", Owner: "alice"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error:")
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()
	result.Events = sampleEvents()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Action: "market.place", Count: 1},
		{Type: AssertEventCount, Kind: "listing.cancelled", Count: 1},
		{Type: AssertTraceCount, Action: "market.place", Count: 3},
		{Type: AssertFinalState, Table: "wars", Expect: map[string]any{"status": "ended"}},
		{Type: AssertBalance, Account: &AccountRef{Kind: "currency", Owner: "alice"}},
		{Type: "eventually"},
	}, nil)

	require.Len(t, errs, 4)
	assert.Contains(t, errs[0], "3 occurrences of market.place")
	assert.Contains(t, errs[1], "final_state requires database context")
	assert.Contains(t, errs[2], "balance requires a service")
	assert.Contains(t, errs[3], `unknown assertion type "eventually"`)
}
