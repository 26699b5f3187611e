// Package ranking scores territories once per tick.
//
// Scoring reads the registry and the tick summary the external tick pass
// recorded; it never touches the ledger. Each computation appends one row
// per active territory. Recomputing a tick adds a second full set; reads of
// a tick return the latest row of each territory, and History keeps them all.
package ranking

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strconv"

	"github.com/Tchosco/toi700game-sub002/internal/clock"
	"github.com/Tchosco/toi700game-sub002/internal/events"
	"github.com/Tchosco/toi700game-sub002/internal/gameerr"
	"github.com/Tchosco/toi700game-sub002/internal/lockset"
	"github.com/Tchosco/toi700game-sub002/internal/metrics"
	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/rules"
	"github.com/Tchosco/toi700game-sub002/internal/store"
)

// Inputs are the raw metrics of one territory at one tick.
type Inputs struct {
	Population    int64
	ProductionNet float64
	Technologies  int
	Stability     int
	CellsOwned    int
}

// InputsOf gathers the metrics of t. A missing summary counts as zero
// production and consumption; an unset stability counts as the default.
func InputsOf(t model.Territory, s model.TickSummary, technologies int) Inputs {
	return Inputs{
		Population:    t.Population(),
		ProductionNet: sum(s.Production) - sum(s.Consumption),
		Technologies:  technologies,
		Stability:     t.StabilityOr(model.StabilityDefault),
		CellsOwned:    t.CellsOwned,
	}
}

// sum adds amounts in key order so repeated runs produce identical floats.
func sum(amounts map[string]float64) float64 {
	var total float64
	for _, k := range slices.Sorted(maps.Keys(amounts)) {
		total += amounts[k]
	}
	return total
}

// Score computes the component metrics and the weighted total.
//
//	total = wPop*(pop/1e6) + wEco*(net/1000) + wTech*tech
//	      + wStab*(stability/100) + wExp*(cells/100) + wEff*(efficiency*10)
//
// efficiency is net production per inhabitant, 0 when there are none.
func Score(w rules.Weights, in Inputs) model.RankingRow {
	pop := float64(in.Population)
	var efficiency float64
	if in.Population > 0 {
		efficiency = in.ProductionNet / pop
	}
	r := model.RankingRow{
		Population: pop,
		Economy:    in.ProductionNet,
		Technology: float64(in.Technologies),
		Stability:  float64(in.Stability),
		Expansion:  float64(in.CellsOwned),
		Efficiency: efficiency,
	}
	r.ScoreTotal = w.Population*(r.Population/1e6) +
		w.Economy*(r.Economy/1000) +
		w.Technology*r.Technology +
		w.Stability*(r.Stability/100) +
		w.Expansion*(r.Expansion/100) +
		w.Efficiency*(r.Efficiency*10)
	return r
}

// Options configures an Engine.
type Options struct {
	Weights rules.Weights
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Engine computes and reads rankings.
type Engine struct {
	store   *store.Store
	locks   *lockset.Set
	weights rules.Weights
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a ranking engine.
func New(st *store.Store, locks *lockset.Set, opts Options) *Engine {
	e := &Engine{
		store:   st,
		locks:   locks,
		weights: opts.Weights,
		clock:   opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if e.weights == (rules.Weights{}) {
		e.weights = rules.Default().Ranking
	}
	if e.clock == nil {
		e.clock = clock.System{}
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

// Compute scores every active territory for tick and appends the rows.
// Returns the number of rows written.
func (e *Engine) Compute(ctx context.Context, tick int64) (int, error) {
	if tick < 0 {
		return 0, gameerr.New(gameerr.CodeValidation, "", "tick number must not be negative, got %d", tick)
	}

	unlock := e.locks.Lock(lockset.Key("rankings", strconv.FormatInt(tick, 10)))
	defer unlock()

	now := e.clock.Now()
	var written int
	err := e.store.WithTx(ctx, func(q *store.Queries) error {
		territories, err := q.ListTerritories(ctx, model.TerritoryActive)
		if err != nil {
			return gameerr.Dependency("list territories", err)
		}
		summaries, err := q.TickSummaries(ctx, tick)
		if err != nil {
			return gameerr.Dependency("load tick summaries", err)
		}
		techs, err := q.CountTechnologies(ctx)
		if err != nil {
			return gameerr.Dependency("count technologies", err)
		}

		for _, t := range territories {
			row := Score(e.weights, InputsOf(t, summaries[t.ID], techs[t.ID]))
			row.TerritoryID = t.ID
			row.TickNumber = tick
			row.CreatedAt = now
			if _, err := q.InsertRankingRow(ctx, row); err != nil {
				return gameerr.Dependency("insert ranking row", err)
			}
			written++
		}

		_, err = events.Record(ctx, q, now, "", strconv.FormatInt(tick, 10), events.RankingsComputed{
			TickNumber:  tick,
			RowsWritten: written,
		})
		return gameerr.Dependency("record rankings event", err)
	})
	if err != nil {
		return 0, gameerr.Dependency("compute rankings", err)
	}

	e.metrics.RankingRows(written)
	e.logger.Info("rankings computed", "tick", tick, "rows", written)
	return written, nil
}

// RecordTickSummary stores the output of the external tick pass for one
// territory. Re-recording a tick replaces the earlier summary.
func (e *Engine) RecordTickSummary(ctx context.Context, s model.TickSummary) error {
	if s.TerritoryID == "" || s.TickNumber < 0 {
		return gameerr.New(gameerr.CodeValidation, s.TerritoryID, "tick summary needs a territory and a non-negative tick")
	}
	if err := e.store.Queries().UpsertTickSummary(ctx, s, e.clock.Now()); err != nil {
		return gameerr.Dependency("record tick summary", err)
	}
	return nil
}

// Rankings returns the leaderboard of tick: the latest row of each territory,
// best score first.
func (e *Engine) Rankings(ctx context.Context, tick int64) ([]model.RankingRow, error) {
	rows, err := e.store.Queries().ListRankings(ctx, tick)
	if err != nil {
		return nil, gameerr.Dependency("list rankings", err)
	}
	return rows, nil
}

// History returns every row computed for a territory, oldest tick first.
func (e *Engine) History(ctx context.Context, territoryID string) ([]model.RankingRow, error) {
	if territoryID == "" {
		return nil, gameerr.New(gameerr.CodeValidation, "", "territory id is required")
	}
	rows, err := e.store.Queries().RankingHistory(ctx, territoryID)
	if err != nil {
		return nil, gameerr.Dependency("ranking history", err)
	}
	return rows, nil
}
