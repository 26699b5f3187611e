package ranking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tchosco/toi700game-sub002/internal/gameerr"
	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/rules"
	"github.com/Tchosco/toi700game-sub002/internal/testutil"
)

const world = `
territories:
  - id: a
    owner: alice
    stability: 80
    rural_population: 800000
    urban_population: 200000
    cells: [a1, a2, a3, a4]
    technologies: [agriculture, masonry, sailing]
  - id: b
    owner: bob
  - id: c
    owner: carol
    status: inactive
  - id: d
    owner: dana
tick_summaries:
  - tick: 7
    territory: a
    production: {food: 1500, ore: 700}
    consumption: {food: 200}
  - tick: 7
    territory: d
    production: {food: 100}
`

func newEngine(t *testing.T) (*Engine, *testutil.Env) {
	t.Helper()
	env := testutil.NewEnv(t, world)
	return New(env.Store, env.Locks, Options{Clock: env.Clock, Logger: testutil.Logger()}), env
}

func TestScore(t *testing.T) {
	w := rules.Default().Ranking
	tests := []struct {
		name string
		in   Inputs
		want float64
	}{
		{"full", Inputs{Population: 1_000_000, ProductionNet: 2000, Technologies: 3, Stability: 80, CellsOwned: 4}, 1.475},
		{"empty with default stability", Inputs{Stability: model.StabilityDefault}, 0.075},
		{"production without population", Inputs{ProductionNet: 100, Stability: 50}, 0.1},
		{"deficit", Inputs{Population: 1000, ProductionNet: -500, Stability: 0}, 0.25*0.001 - 0.125 + 0.05*(-5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Score(w, tt.in)
			assert.InDelta(t, tt.want, r.ScoreTotal, 1e-9)
		})
	}
}

func TestScore_ZeroPopulationHasZeroEfficiency(t *testing.T) {
	r := Score(rules.Default().Ranking, Inputs{ProductionNet: 1e9})
	assert.Zero(t, r.Efficiency)
}

func TestInputsOf_Defaults(t *testing.T) {
	in := InputsOf(model.Territory{ID: "x"}, model.TickSummary{}, 0)
	assert.Equal(t, model.StabilityDefault, in.Stability)
	assert.Zero(t, in.ProductionNet)
}

func TestCompute(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	n, err := e.Compute(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "inactive territories are not scored")

	rows, err := e.Rankings(ctx, 7)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "a", rows[0].TerritoryID)
	assert.InDelta(t, 1.475, rows[0].ScoreTotal, 1e-9)
	assert.Equal(t, float64(1_000_000), rows[0].Population)
	assert.Equal(t, float64(2000), rows[0].Economy)
	assert.Equal(t, float64(3), rows[0].Technology)
	assert.Equal(t, float64(80), rows[0].Stability)
	assert.Equal(t, float64(4), rows[0].Expansion)
	assert.InDelta(t, 0.002, rows[0].Efficiency, 1e-12)

	assert.Equal(t, "d", rows[1].TerritoryID)
	assert.InDelta(t, 0.1, rows[1].ScoreTotal, 1e-9)
	assert.Zero(t, rows[1].Efficiency)

	assert.Equal(t, "b", rows[2].TerritoryID)
	assert.Equal(t, float64(50), rows[2].Stability)
	assert.InDelta(t, 0.075, rows[2].ScoreTotal, 1e-9)
}

func TestCompute_RecomputeKeepsOneRowPerTerritory(t *testing.T) {
	e, env := newEngine(t)
	ctx := context.Background()

	_, err := e.Compute(ctx, 7)
	require.NoError(t, err)
	first, err := e.Rankings(ctx, 7)
	require.NoError(t, err)

	err = e.RecordTickSummary(ctx, model.TickSummary{
		TickNumber:  7,
		TerritoryID: "b",
		Production:  map[string]float64{"food": 4000},
	})
	require.NoError(t, err)
	_, err = e.Compute(ctx, 7)
	require.NoError(t, err)

	n, err := env.Store.Queries().CountRankingRows(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 6, n, "rows are appended, never replaced")

	latest, err := e.Rankings(ctx, 7)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	perTerritory := map[string]int{}
	var b model.RankingRow
	for _, r := range latest {
		perTerritory[r.TerritoryID]++
		if r.TerritoryID == "b" {
			b = r
		}
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "d": 1}, perTerritory)
	assert.InDelta(t, 0.25*4+0.075, b.ScoreTotal, 1e-9, "the recomputed score wins")

	history, err := e.History(ctx, "b")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Contains(t, first, history[0], "earlier rows are kept unchanged")
	assert.Equal(t, b, history[1])
}

func TestHistory(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	for _, tick := range []int64{8, 7} {
		_, err := e.Compute(ctx, tick)
		require.NoError(t, err)
	}

	rows, err := e.History(ctx, "a")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(7), rows[0].TickNumber)
	assert.Equal(t, int64(8), rows[1].TickNumber)

	rows, err = e.History(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, rows, "inactive territories are never scored")

	_, err = e.History(ctx, "")
	assert.True(t, gameerr.Is(err, gameerr.CodeValidation))
}

func TestCompute_UsesRecordedSummary(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	err := e.RecordTickSummary(ctx, model.TickSummary{
		TickNumber:  8,
		TerritoryID: "b",
		Production:  map[string]float64{"food": 4000},
	})
	require.NoError(t, err)

	_, err = e.Compute(ctx, 8)
	require.NoError(t, err)
	rows, err := e.Rankings(ctx, 8)
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, "b", rows[0].TerritoryID)
	assert.InDelta(t, 0.25*4+0.075, rows[0].ScoreTotal, 1e-9)
}

func TestCompute_Validation(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.Compute(context.Background(), -1)
	assert.True(t, gameerr.Is(err, gameerr.CodeValidation))

	err = e.RecordTickSummary(context.Background(), model.TickSummary{TickNumber: 1})
	assert.True(t, gameerr.Is(err, gameerr.CodeValidation))
}

func TestCustomWeights(t *testing.T) {
	env := testutil.NewEnv(t, world)
	e := New(env.Store, env.Locks, Options{Weights: rules.Weights{Technology: 1}, Clock: env.Clock})

	_, err := e.Compute(context.Background(), 7)
	require.NoError(t, err)
	rows, err := e.Rankings(context.Background(), 7)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, rows[0].ScoreTotal, 1e-9)
}
