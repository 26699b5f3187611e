// Package registry exposes the territory registry operations the engines
// rely on: territory lookup, stability adjustment, audited cell transfer,
// bloc membership and vote eligibility.
//
// A Registry is bound to the Queries of one unit of work. Every write it
// performs commits or rolls back with the caller's transaction.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/Tchosco/toi700game-sub002/internal/events"
	"github.com/Tchosco/toi700game-sub002/internal/gameerr"
	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/store"
)

// Registry is the territory registry of one transaction.
type Registry struct {
	q   *store.Queries
	now time.Time
}

// New binds a registry to q. now stamps audit rows and events.
func New(q *store.Queries, now time.Time) *Registry {
	return &Registry{q: q, now: now}
}

// Now returns the time stamped on this unit of work's records.
func (r *Registry) Now() time.Time {
	return r.now
}

// Territory returns a territory or NOT_FOUND.
func (r *Registry) Territory(ctx context.Context, id string) (model.Territory, error) {
	t, err := r.q.GetTerritory(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Territory{}, gameerr.New(gameerr.CodeNotFound, id, "territory not found")
	}
	if err != nil {
		return model.Territory{}, gameerr.Dependency("load territory", err)
	}
	return t, nil
}

// ActiveTerritoryOf returns the acting territory of a user, or
// NO_ACTIVE_TERRITORY when the user owns none.
func (r *Registry) ActiveTerritoryOf(ctx context.Context, userID string) (model.Territory, error) {
	t, err := r.q.ActiveTerritoryByOwner(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return model.Territory{}, gameerr.New(gameerr.CodeNoActiveTerritory, userID, "user has no active territory")
	}
	if err != nil {
		return model.Territory{}, gameerr.Dependency("load active territory", err)
	}
	return t, nil
}

// AdjustStability adds delta to a territory's stability, clamped to the
// stability bounds, and returns the stored value. An unset stability starts
// from model.StabilityDefault.
func (r *Registry) AdjustStability(ctx context.Context, territoryID string, delta int) (int, error) {
	t, err := r.Territory(ctx, territoryID)
	if err != nil {
		return 0, err
	}
	next := model.ClampStability(t.StabilityOr(model.StabilityDefault) + delta)
	if err := r.q.SetStability(ctx, territoryID, next); err != nil {
		return 0, gameerr.Dependency("set stability", err)
	}
	return next, nil
}

// Transfer is one requested cell reassignment.
type Transfer struct {
	CellID string
	From   string
	To     string
	Reason string
	RefID  string
	Actor  string
}

// TransferCell moves a cell and writes its audit row and event, all in the
// caller's transaction. It returns false without changes when the cell is
// no longer owned by From.
func (r *Registry) TransferCell(ctx context.Context, tr Transfer) (bool, error) {
	moved, err := r.q.MoveCell(ctx, tr.CellID, tr.From, tr.To)
	if err != nil {
		return false, gameerr.Dependency("move cell", err)
	}
	if !moved {
		return false, nil
	}
	_, err = r.q.InsertCellTransfer(ctx, model.CellTransfer{
		CellID:          tr.CellID,
		FromTerritoryID: tr.From,
		ToTerritoryID:   tr.To,
		Reason:          tr.Reason,
		RefID:           tr.RefID,
		CreatedAt:       r.now,
	})
	if err != nil {
		return false, gameerr.Dependency("record cell transfer", err)
	}
	_, err = events.Record(ctx, r.q, r.now, tr.Actor, tr.CellID, events.CellTransferred{
		CellID: tr.CellID,
		From:   tr.From,
		To:     tr.To,
		Reason: tr.Reason,
		RefID:  tr.RefID,
	})
	if err != nil {
		return false, gameerr.Dependency("record cell transfer event", err)
	}
	return true, nil
}

// CellOwner returns the territory currently owning a cell, empty when unowned.
func (r *Registry) CellOwner(ctx context.Context, cellID string) (string, error) {
	c, err := r.q.GetCell(ctx, cellID)
	if errors.Is(err, store.ErrNotFound) {
		return "", gameerr.New(gameerr.CodeInvalidTarget, cellID, "cell does not exist")
	}
	if err != nil {
		return "", gameerr.Dependency("load cell", err)
	}
	return c.TerritoryID, nil
}

// IsActiveBlocMember reports whether a territory is an active member of an
// active bloc.
func (r *Registry) IsActiveBlocMember(ctx context.Context, blocID, territoryID string) (bool, error) {
	ok, err := r.q.IsActiveBlocMember(ctx, blocID, territoryID)
	if err != nil {
		return false, gameerr.Dependency("check bloc membership", err)
	}
	return ok, nil
}

// EligibleCount returns the number of territories entitled to vote at a
// legal level: every active territory for state votes, the active members
// of the bloc for bloc votes.
func (r *Registry) EligibleCount(ctx context.Context, level model.LegalLevel, blocID string) (int, error) {
	var (
		n   int
		err error
	)
	switch level {
	case model.LevelState:
		n, err = r.q.CountActiveTerritories(ctx)
	case model.LevelBloc:
		if blocID == "" {
			return 0, gameerr.New(gameerr.CodeValidation, "", "bloc vote without bloc id")
		}
		n, err = r.q.CountActiveBlocMembers(ctx, blocID)
	default:
		return 0, gameerr.New(gameerr.CodeValidation, "", "unknown legal level %q", level)
	}
	if err != nil {
		return 0, gameerr.Dependency("count eligible territories", err)
	}
	return n, nil
}
