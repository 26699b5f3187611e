// Package war runs the war lifecycle: declared, active, ended.
//
// Declaration and surrender are actor requests. Activation and cycle
// advancement are external tick events accepted through Activate and
// AdvanceCycle. Every transition is checked against model.WarStatus's
// transition table and applied with a conditional update, so two racing
// requests cannot both end the same war.
package war

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Tchosco/toi700game-sub002/internal/clock"
	"github.com/Tchosco/toi700game-sub002/internal/events"
	"github.com/Tchosco/toi700game-sub002/internal/gameerr"
	"github.com/Tchosco/toi700game-sub002/internal/ids"
	"github.com/Tchosco/toi700game-sub002/internal/ledger"
	"github.com/Tchosco/toi700game-sub002/internal/lockset"
	"github.com/Tchosco/toi700game-sub002/internal/metrics"
	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/registry"
	"github.com/Tchosco/toi700game-sub002/internal/rules"
	"github.com/Tchosco/toi700game-sub002/internal/store"
)

// Outcome is an expiry resolution. An empty winner is a draw.
type Outcome struct {
	WinnerTerritoryID string
}

// ExpiryResolver decides wars that reach max_cycles without a surrender.
type ExpiryResolver interface {
	Resolve(ctx context.Context, w model.War) (Outcome, error)
}

// ResolverFunc adapts a function to ExpiryResolver.
type ResolverFunc func(ctx context.Context, w model.War) (Outcome, error)

func (f ResolverFunc) Resolve(ctx context.Context, w model.War) (Outcome, error) {
	return f(ctx, w)
}

// Options configures an Engine. Zero values select production defaults.
type Options struct {
	Rules    rules.War
	IDs      ids.Generator
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Resolver ExpiryResolver
}

// Engine manages wars.
type Engine struct {
	store    *store.Store
	locks    *lockset.Set
	ledger   *ledger.Ledger
	rules    rules.War
	ids      ids.Generator
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	resolver ExpiryResolver
}

// New creates a war engine.
func New(st *store.Store, locks *lockset.Set, led *ledger.Ledger, opts Options) *Engine {
	e := &Engine{
		store:    st,
		locks:    locks,
		ledger:   led,
		rules:    opts.Rules,
		ids:      opts.IDs,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		resolver: opts.Resolver,
	}
	if e.rules == (rules.War{}) {
		e.rules = rules.Default().War
	}
	if e.ids == nil {
		e.ids = ids.UUIDv7{}
	}
	if e.clock == nil {
		e.clock = clock.System{}
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

// DeclareInput is a declaration request.
type DeclareInput struct {
	AttackerUserID      string
	DefenderTerritoryID string
	TargetCells         []string
	Title               string
	Description         string
}

// Declare opens a war against a defender over cells it currently owns.
// The attacker's stability drops by the declaration penalty.
func (e *Engine) Declare(ctx context.Context, in DeclareInput) (model.War, error) {
	if len(in.TargetCells) == 0 {
		return model.War{}, gameerr.New(gameerr.CodeValidation, "", "at least one target cell is required")
	}
	if len(in.TargetCells) > e.rules.MaxTargetCells {
		return model.War{}, gameerr.New(gameerr.CodeValidation, "", "at most %d target cells, got %d", e.rules.MaxTargetCells, len(in.TargetCells))
	}
	seen := make(map[string]bool, len(in.TargetCells))
	for _, c := range in.TargetCells {
		if c == "" || seen[c] {
			return model.War{}, gameerr.New(gameerr.CodeValidation, c, "target cells must be unique and non-empty")
		}
		seen[c] = true
	}

	// The acting territory is resolved before locking; the transaction
	// re-resolves it and rejects the call if it no longer matches the lock.
	locked, err := registry.New(e.store.Queries(), e.clock.Now()).ActiveTerritoryOf(ctx, in.AttackerUserID)
	if err != nil {
		return model.War{}, err
	}

	keys := []string{
		lockset.Key("user", in.AttackerUserID),
		lockset.Key("territory", locked.ID),
		lockset.Key("territory", in.DefenderTerritoryID),
	}
	if e.rules.DeclarationCost > 0 {
		keys = append(keys, ledger.AccountKey(model.CurrencyAccount(in.AttackerUserID)))
	}
	unlock := e.locks.Lock(keys...)
	defer unlock()

	now := e.clock.Now()
	w := model.War{
		ID:                  e.ids.New(),
		DefenderTerritoryID: in.DefenderTerritoryID,
		TargetCells:         append([]string(nil), in.TargetCells...),
		Status:              model.WarDeclared,
		MaxCycles:           e.rules.MaxCycles,
		Title:               in.Title,
		Description:         in.Description,
		DeclaredBy:          in.AttackerUserID,
		CreatedAt:           now,
	}

	var stability int
	err = e.store.WithTx(ctx, func(q *store.Queries) error {
		reg := registry.New(q, now)

		attacker, err := reg.ActiveTerritoryOf(ctx, in.AttackerUserID)
		if err != nil {
			return err
		}
		if attacker.ID != locked.ID {
			return gameerr.New(gameerr.CodeNoActiveTerritory, in.AttackerUserID, "acting territory changed")
		}
		w.AttackerTerritoryID = attacker.ID

		if err := e.checkTargets(ctx, reg, attacker, w); err != nil {
			return err
		}

		open, err := q.HasOpenWarAsAttacker(ctx, attacker.ID)
		if err != nil {
			return gameerr.Dependency("check open wars", err)
		}
		if open {
			return gameerr.New(gameerr.CodeDuplicateWar, attacker.ID, "territory already attacks in an open war")
		}

		if e.rules.DeclarationCost > 0 {
			_, err := e.ledger.Bind(q).Debit(ctx, "war/"+w.ID+"/declare",
				model.CurrencyAccount(in.AttackerUserID), e.rules.DeclarationCost, "war declaration "+w.ID)
			if err != nil {
				return err
			}
		}

		if stability, err = reg.AdjustStability(ctx, attacker.ID, -e.rules.DeclareStabilityPenalty); err != nil {
			return err
		}

		if err := q.InsertWar(ctx, w); err != nil {
			return gameerr.Dependency("insert war", err)
		}

		_, err = events.Record(ctx, q, now, in.AttackerUserID, w.ID, events.WarDeclared{
			WarID:       w.ID,
			Attacker:    w.AttackerTerritoryID,
			Defender:    w.DefenderTerritoryID,
			TargetCells: w.TargetCells,
			Stability:   stability,
		})
		return gameerr.Dependency("record war event", err)
	})
	if err != nil {
		return model.War{}, gameerr.Dependency("declare war", err)
	}

	e.metrics.WarDeclared()
	e.logger.Info("war declared",
		"war_id", w.ID,
		"attacker", w.AttackerTerritoryID,
		"defender", w.DefenderTerritoryID,
		"cells", len(w.TargetCells),
		"attacker_stability", stability)
	return w, nil
}

func (e *Engine) checkTargets(ctx context.Context, reg *registry.Registry, attacker model.Territory, w model.War) error {
	if w.DefenderTerritoryID == attacker.ID {
		return gameerr.New(gameerr.CodeInvalidTarget, w.DefenderTerritoryID, "a territory cannot declare war on itself")
	}
	defender, err := reg.Territory(ctx, w.DefenderTerritoryID)
	if err != nil {
		return err
	}
	if defender.Neutral() {
		return gameerr.New(gameerr.CodeInvalidTarget, defender.ID, "defender is neutral")
	}
	if !defender.Active() {
		return gameerr.New(gameerr.CodeInvalidTarget, defender.ID, "defender is not active")
	}
	for _, cellID := range w.TargetCells {
		owner, err := reg.CellOwner(ctx, cellID)
		if err != nil {
			return err
		}
		if owner != defender.ID {
			return gameerr.New(gameerr.CodeInvalidTarget, cellID, "cell is not owned by the defender")
		}
	}
	return nil
}

// SurrenderResult reports the effect of a surrender.
type SurrenderResult struct {
	WarID        string `json:"war_id"`
	Winner       string `json:"winner"`
	CellsLost    int    `json:"cells_lost"`
	CellsSkipped int    `json:"cells_skipped"`
}

// Surrender ends a war on behalf of the side the acting user owns. Every
// target cell still owned by the surrendering side moves to the other side;
// cells it no longer owns are skipped.
//
// Target cells belong to the defender, so an attacker surrendering moves no
// cells: every target is skipped and only the stability penalty applies.
func (e *Engine) Surrender(ctx context.Context, warID, actorUserID string) (SurrenderResult, error) {
	w, err := e.Get(ctx, warID)
	if err != nil {
		return SurrenderResult{}, err
	}

	unlock := e.locks.Lock(
		lockset.Key("war", w.ID),
		lockset.Key("territory", w.AttackerTerritoryID),
		lockset.Key("territory", w.DefenderTerritoryID),
	)
	defer unlock()

	now := e.clock.Now()
	var res SurrenderResult
	err = e.store.WithTx(ctx, func(q *store.Queries) error {
		w, err := loadWar(ctx, q, warID)
		if err != nil {
			return err
		}
		if !w.Status.Open() {
			return gameerr.New(gameerr.CodeAlreadyTerminal, w.ID, "war already ended")
		}

		reg := registry.New(q, now)
		loser, err := e.surrenderingSide(ctx, reg, w, actorUserID)
		if err != nil {
			return err
		}
		winner := w.Opponent(loser)

		moved, skipped, err := e.conclude(ctx, q, reg, w, winner, loser, actorUserID)
		if err != nil {
			return err
		}
		if _, err := reg.AdjustStability(ctx, loser, -e.rules.SurrenderStabilityPenalty); err != nil {
			return err
		}

		res = SurrenderResult{WarID: w.ID, Winner: winner, CellsLost: moved, CellsSkipped: skipped}
		_, err = events.Record(ctx, q, now, actorUserID, w.ID, events.WarEnded{
			WarID:        w.ID,
			Winner:       winner,
			Surrendered:  loser,
			CellsLost:    moved,
			CellsSkipped: skipped,
		})
		return gameerr.Dependency("record war event", err)
	})
	if err != nil {
		return SurrenderResult{}, gameerr.Dependency("surrender war", err)
	}

	e.metrics.WarEnded("surrender")
	e.metrics.CellsTransferred(res.CellsLost)
	e.logger.Info("war surrendered",
		"war_id", res.WarID,
		"winner", res.Winner,
		"cells_lost", res.CellsLost,
		"cells_skipped", res.CellsSkipped)
	return res, nil
}

// surrenderingSide returns the participant territory owned by the actor.
// When the actor owns both sides the attacker surrenders.
func (e *Engine) surrenderingSide(ctx context.Context, reg *registry.Registry, w model.War, actorUserID string) (string, error) {
	for _, id := range []string{w.AttackerTerritoryID, w.DefenderTerritoryID} {
		t, err := reg.Territory(ctx, id)
		if err != nil {
			return "", err
		}
		if t.OwnerUserID != "" && t.OwnerUserID == actorUserID {
			return id, nil
		}
	}
	return "", gameerr.New(gameerr.CodeNotParticipant, w.ID, "actor owns neither side of the war")
}

// conclude transfers the target cells held by loser to winner and ends the
// war. With an empty loser no cells move.
func (e *Engine) conclude(ctx context.Context, q *store.Queries, reg *registry.Registry, w model.War, winner, loser, actor string) (moved, skipped int, err error) {
	if loser != "" {
		for _, cellID := range w.TargetCells {
			ok, err := reg.TransferCell(ctx, registry.Transfer{
				CellID: cellID,
				From:   loser,
				To:     winner,
				Reason: "war",
				RefID:  w.ID,
				Actor:  actor,
			})
			if err != nil {
				return 0, 0, err
			}
			if ok {
				moved++
			} else {
				skipped++
			}
		}
	}

	now := reg.Now()
	ok, err := q.TransitionWar(ctx, w.ID, w.Status, model.WarEnded, winner, &now)
	if err != nil {
		return 0, 0, gameerr.Dependency("end war", err)
	}
	if !ok {
		return 0, 0, gameerr.New(gameerr.CodeAlreadyTerminal, w.ID, "war changed state concurrently")
	}
	return moved, skipped, nil
}

// Activate accepts the external declared to active event.
func (e *Engine) Activate(ctx context.Context, warID string) (model.War, error) {
	unlock := e.locks.Lock(lockset.Key("war", warID))
	defer unlock()

	now := e.clock.Now()
	var w model.War
	err := e.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		if w, err = loadWar(ctx, q, warID); err != nil {
			return err
		}
		if !w.Status.CanTransition(model.WarActive) {
			return gameerr.New(gameerr.CodeInvalidTransition, w.ID, "cannot move war from %s to %s", w.Status, model.WarActive)
		}
		ok, err := q.TransitionWar(ctx, w.ID, w.Status, model.WarActive, "", nil)
		if err != nil {
			return gameerr.Dependency("activate war", err)
		}
		if !ok {
			return gameerr.New(gameerr.CodeInvalidTransition, w.ID, "war changed state concurrently")
		}
		w.Status = model.WarActive
		_, err = events.Record(ctx, q, now, "", w.ID, events.WarActivated{WarID: w.ID})
		return gameerr.Dependency("record war event", err)
	})
	if err != nil {
		return model.War{}, gameerr.Dependency("activate war", err)
	}

	e.logger.Info("war activated", "war_id", w.ID)
	return w, nil
}

// AdvanceCycle accepts one external tick for an open war. When the war has
// used its cycle budget the configured ExpiryResolver decides it; without a
// resolver the war stays open and EXPIRY_UNRESOLVED is returned with the
// current war.
func (e *Engine) AdvanceCycle(ctx context.Context, warID string) (model.War, error) {
	w, err := e.Get(ctx, warID)
	if err != nil {
		return model.War{}, err
	}

	unlock := e.locks.Lock(
		lockset.Key("war", w.ID),
		lockset.Key("territory", w.AttackerTerritoryID),
		lockset.Key("territory", w.DefenderTerritoryID),
	)
	defer unlock()

	now := e.clock.Now()
	err = e.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		if w, err = loadWar(ctx, q, warID); err != nil {
			return err
		}
		if !w.Status.Open() {
			return gameerr.New(gameerr.CodeAlreadyTerminal, w.ID, "war already ended")
		}
		if w.CyclesElapsed >= w.MaxCycles {
			return nil
		}
		if w.CyclesElapsed, err = q.IncrementWarCycles(ctx, w.ID); err != nil {
			return gameerr.Dependency("advance war cycle", err)
		}
		_, err = events.Record(ctx, q, now, "", w.ID, events.WarCycle{
			WarID:         w.ID,
			CyclesElapsed: w.CyclesElapsed,
			MaxCycles:     w.MaxCycles,
		})
		return gameerr.Dependency("record war event", err)
	})
	if err != nil {
		return model.War{}, gameerr.Dependency("advance war cycle", err)
	}

	if w.CyclesElapsed < w.MaxCycles {
		return w, nil
	}
	if e.resolver == nil {
		return w, gameerr.New(gameerr.CodeExpiryUnresolved, w.ID, "war reached %d cycles and no expiry resolver is configured", w.MaxCycles)
	}

	outcome, err := e.resolver.Resolve(ctx, w)
	if err != nil {
		return w, gameerr.Dependency("resolve war expiry", err)
	}
	if outcome.WinnerTerritoryID != "" && !w.Participant(outcome.WinnerTerritoryID) {
		return w, gameerr.New(gameerr.CodeValidation, outcome.WinnerTerritoryID, "expiry winner is not a participant")
	}

	var moved int
	err = e.store.WithTx(ctx, func(q *store.Queries) error {
		current, err := loadWar(ctx, q, warID)
		if err != nil {
			return err
		}
		if !current.Status.Open() {
			return gameerr.New(gameerr.CodeAlreadyTerminal, current.ID, "war already ended")
		}
		loser := ""
		if outcome.WinnerTerritoryID != "" {
			loser = current.Opponent(outcome.WinnerTerritoryID)
		}
		reg := registry.New(q, now)
		var skipped int
		if moved, skipped, err = e.conclude(ctx, q, reg, current, outcome.WinnerTerritoryID, loser, ""); err != nil {
			return err
		}
		w = current
		w.Status = model.WarEnded
		w.WinnerTerritoryID = outcome.WinnerTerritoryID
		w.EndedAt = &now
		_, err = events.Record(ctx, q, now, "", w.ID, events.WarEnded{
			WarID:        w.ID,
			Winner:       outcome.WinnerTerritoryID,
			CellsLost:    moved,
			CellsSkipped: skipped,
		})
		return gameerr.Dependency("record war event", err)
	})
	if err != nil {
		return model.War{}, gameerr.Dependency("resolve war expiry", err)
	}

	e.metrics.WarEnded("expiry")
	e.metrics.CellsTransferred(moved)
	e.logger.Info("war expired", "war_id", w.ID, "winner", w.WinnerTerritoryID, "cells_moved", moved)
	return w, nil
}

// Get returns a war or NOT_FOUND.
func (e *Engine) Get(ctx context.Context, warID string) (model.War, error) {
	return loadWar(ctx, e.store.Queries(), warID)
}

// ListByTerritory returns the wars a territory fights in, newest first.
func (e *Engine) ListByTerritory(ctx context.Context, territoryID string) ([]model.War, error) {
	wars, err := e.store.Queries().ListWarsByTerritory(ctx, territoryID)
	if err != nil {
		return nil, gameerr.Dependency("list wars", err)
	}
	return wars, nil
}

func loadWar(ctx context.Context, q *store.Queries, id string) (model.War, error) {
	w, err := q.GetWar(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.War{}, gameerr.New(gameerr.CodeNotFound, id, "war not found")
	}
	if err != nil {
		return model.War{}, gameerr.Dependency("load war", err)
	}
	return w, nil
}
