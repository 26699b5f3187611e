// Package service exposes the game operations to transports.
//
// Every operation takes the caller's verified identity from the context
// (see WithActor), checks its role where the operation is privileged,
// normalizes free text and dispatches to the engine that owns the entity.
// Outcomes are logged and timed per operation.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Tchosco/toi700game-sub002/internal/clock"
	"github.com/Tchosco/toi700game-sub002/internal/events"
	"github.com/Tchosco/toi700game-sub002/internal/gameerr"
	"github.com/Tchosco/toi700game-sub002/internal/ids"
	"github.com/Tchosco/toi700game-sub002/internal/ledger"
	"github.com/Tchosco/toi700game-sub002/internal/lockset"
	"github.com/Tchosco/toi700game-sub002/internal/market"
	"github.com/Tchosco/toi700game-sub002/internal/metrics"
	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/ranking"
	"github.com/Tchosco/toi700game-sub002/internal/registry"
	"github.com/Tchosco/toi700game-sub002/internal/rules"
	"github.com/Tchosco/toi700game-sub002/internal/store"
	"github.com/Tchosco/toi700game-sub002/internal/vote"
	"github.com/Tchosco/toi700game-sub002/internal/war"
)

// Options configures a Service.
type Options struct {
	Rules     rules.Rules
	Resources []string
	IDs       ids.Generator
	Clock     clock.Clock
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Resolver  war.ExpiryResolver
}

// Service wires the engines over one store and one lock set.
type Service struct {
	store    *store.Store
	ledger   *ledger.Ledger
	wars     *war.Engine
	votes    *vote.Engine
	market   *market.Engine
	rankings *ranking.Engine
	text     rules.Text
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New builds a Service and its engines.
func New(st *store.Store, opts Options) *Service {
	if opts.Rules == (rules.Rules{}) {
		opts.Rules = rules.Default()
	}
	if opts.IDs == nil {
		opts.IDs = ids.UUIDv7{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	locks := lockset.New()
	led := ledger.New(st, locks, opts.Clock, opts.Logger.With("component", "ledger"), opts.Metrics)
	return &Service{
		store:  st,
		ledger: led,
		wars: war.New(st, locks, led, war.Options{
			Rules:    opts.Rules.War,
			IDs:      opts.IDs,
			Clock:    opts.Clock,
			Logger:   opts.Logger.With("component", "war"),
			Metrics:  opts.Metrics,
			Resolver: opts.Resolver,
		}),
		votes: vote.New(st, locks, vote.Options{
			Rules:   opts.Rules.Vote,
			IDs:     opts.IDs,
			Clock:   opts.Clock,
			Logger:  opts.Logger.With("component", "vote"),
			Metrics: opts.Metrics,
		}),
		market: market.New(st, locks, led, market.Options{
			Resources: opts.Resources,
			IDs:       opts.IDs,
			Clock:     opts.Clock,
			Logger:    opts.Logger.With("component", "market"),
			Metrics:   opts.Metrics,
		}),
		rankings: ranking.New(st, locks, ranking.Options{
			Weights: opts.Rules.Ranking,
			Clock:   opts.Clock,
			Logger:  opts.Logger.With("component", "ranking"),
			Metrics: opts.Metrics,
		}),
		text:    opts.Rules.Text,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Ledger returns the ledger shared by the engines.
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

// observe records the outcome of op. Call it deferred with a pointer to the
// named error result.
func (s *Service) observe(ctx context.Context, op string, start time.Time, errp *error) {
	var code string
	if err := *errp; err != nil {
		code = string(gameerr.CodeOf(err))
		if gameerr.Retryable(err) {
			s.logger.ErrorContext(ctx, "operation failed", "op", op, "error", err)
		} else {
			s.logger.DebugContext(ctx, "operation rejected", "op", op, "code", code, "error", err)
		}
	}
	s.metrics.Observe(op, time.Since(start).Seconds(), code)
}

func actor(ctx context.Context) (Actor, error) {
	a, ok := ActorFrom(ctx)
	if !ok {
		return Actor{}, gameerr.New(gameerr.CodeUnauthenticated, "", "no verified actor")
	}
	return a, nil
}

func admin(ctx context.Context) (Actor, error) {
	a, err := actor(ctx)
	if err != nil {
		return Actor{}, err
	}
	if !a.Admin {
		return Actor{}, gameerr.New(gameerr.CodeForbidden, a.UserID, "operation requires the admin role")
	}
	return a, nil
}

// DeclareWarRequest is the input of DeclareWar.
type DeclareWarRequest struct {
	TargetTerritoryID string   `json:"target_territory_id"`
	TargetCellIDs     []string `json:"target_cell_ids"`
	Title             string   `json:"title,omitempty"`
	Description       string   `json:"description,omitempty"`
}

// DeclareWarResponse is the output of DeclareWar.
type DeclareWarResponse struct {
	WarID string `json:"war_id"`
}

// DeclareWar opens a war from the actor's active territory.
func (s *Service) DeclareWar(ctx context.Context, req DeclareWarRequest) (resp DeclareWarResponse, err error) {
	defer s.observe(ctx, "declare_war", time.Now(), &err)

	a, err := actor(ctx)
	if err != nil {
		return resp, err
	}
	title, err := cleanText("title", req.Title, s.text.TitleMax)
	if err != nil {
		return resp, err
	}
	desc, err := cleanText("description", req.Description, s.text.DescriptionMax)
	if err != nil {
		return resp, err
	}
	w, err := s.wars.Declare(ctx, war.DeclareInput{
		AttackerUserID:      a.UserID,
		DefenderTerritoryID: req.TargetTerritoryID,
		TargetCells:         req.TargetCellIDs,
		Title:               title,
		Description:         desc,
	})
	if err != nil {
		return resp, err
	}
	return DeclareWarResponse{WarID: w.ID}, nil
}

// SurrenderWarResponse is the output of SurrenderWar.
type SurrenderWarResponse struct {
	CellsLost    int    `json:"cells_lost"`
	CellsSkipped int    `json:"cells_skipped"`
	Winner       string `json:"winner"`
}

// SurrenderWar ends a war with the actor's side conceding.
func (s *Service) SurrenderWar(ctx context.Context, warID string) (resp SurrenderWarResponse, err error) {
	defer s.observe(ctx, "surrender_war", time.Now(), &err)

	a, err := actor(ctx)
	if err != nil {
		return resp, err
	}
	res, err := s.wars.Surrender(ctx, warID, a.UserID)
	if err != nil {
		return resp, err
	}
	return SurrenderWarResponse{CellsLost: res.CellsLost, CellsSkipped: res.CellsSkipped, Winner: res.Winner}, nil
}

// ActivateWar moves a declared war to active. Admin only.
func (s *Service) ActivateWar(ctx context.Context, warID string) (w model.War, err error) {
	defer s.observe(ctx, "activate_war", time.Now(), &err)

	if _, err = admin(ctx); err != nil {
		return w, err
	}
	return s.wars.Activate(ctx, warID)
}

// AdvanceWarCycle counts one elapsed cycle for a war. Admin only.
func (s *Service) AdvanceWarCycle(ctx context.Context, warID string) (w model.War, err error) {
	defer s.observe(ctx, "advance_war_cycle", time.Now(), &err)

	if _, err = admin(ctx); err != nil {
		return w, err
	}
	return s.wars.AdvanceCycle(ctx, warID)
}

// GetWar returns one war.
func (s *Service) GetWar(ctx context.Context, warID string) (w model.War, err error) {
	if _, err = actor(ctx); err != nil {
		return w, err
	}
	return s.wars.Get(ctx, warID)
}

// WarsOf lists the wars a territory takes part in.
func (s *Service) WarsOf(ctx context.Context, territoryID string) ([]model.War, error) {
	if _, err := actor(ctx); err != nil {
		return nil, err
	}
	return s.wars.ListByTerritory(ctx, territoryID)
}

// ProposeVoteRequest is the input of ProposeVote. Effects is the JSON array
// of {kind, data} law effects.
type ProposeVoteRequest struct {
	VoteType model.VoteType  `json:"vote_type"`
	BlocID   string          `json:"bloc_id,omitempty"`
	Title    string          `json:"title"`
	Body     string          `json:"body,omitempty"`
	Effects  json.RawMessage `json:"effects,omitempty"`
}

// ProposeVote opens a vote proposed by the actor's territory.
func (s *Service) ProposeVote(ctx context.Context, req ProposeVoteRequest) (v model.Vote, err error) {
	defer s.observe(ctx, "propose_vote", time.Now(), &err)

	a, err := actor(ctx)
	if err != nil {
		return v, err
	}
	title, err := cleanText("title", req.Title, s.text.TitleMax)
	if err != nil {
		return v, err
	}
	body, err := cleanText("body", req.Body, s.text.DescriptionMax)
	if err != nil {
		return v, err
	}
	effects, err := model.UnmarshalEffects(req.Effects)
	if err != nil {
		return v, gameerr.New(gameerr.CodeValidation, "", "%v", err)
	}
	return s.votes.Propose(ctx, vote.ProposeInput{
		ProposerUserID: a.UserID,
		VoteType:       req.VoteType,
		BlocID:         req.BlocID,
		Title:          title,
		Body:           body,
		Effects:        effects,
	})
}

// CastVoteRequest is the input of CastVote.
type CastVoteRequest struct {
	VoteID      string       `json:"vote_id"`
	TerritoryID string       `json:"territory_id"`
	Choice      model.Choice `json:"choice"`
	Reason      string       `json:"reason,omitempty"`
}

// CastVote records the ballot of a territory the actor owns.
func (s *Service) CastVote(ctx context.Context, req CastVoteRequest) (res vote.CastResult, err error) {
	defer s.observe(ctx, "cast_vote", time.Now(), &err)

	a, err := actor(ctx)
	if err != nil {
		return res, err
	}
	reason, err := cleanText("reason", req.Reason, s.text.ReasonMax)
	if err != nil {
		return res, err
	}
	return s.votes.Cast(ctx, vote.CastInput{
		VoteID:      req.VoteID,
		TerritoryID: req.TerritoryID,
		Choice:      req.Choice,
		Reason:      reason,
		ActorUserID: a.UserID,
	})
}

// CloseExpiredVotes concludes every open vote past its deadline. Admin only.
func (s *Service) CloseExpiredVotes(ctx context.Context) (closed []model.Vote, err error) {
	defer s.observe(ctx, "close_expired_votes", time.Now(), &err)

	if _, err = admin(ctx); err != nil {
		return nil, err
	}
	return s.votes.CloseExpired(ctx)
}

// GetVote returns one vote with its ballots.
func (s *Service) GetVote(ctx context.Context, voteID string) (model.Vote, []model.VoteRecord, error) {
	if _, err := actor(ctx); err != nil {
		return model.Vote{}, nil, err
	}
	v, err := s.votes.Get(ctx, voteID)
	if err != nil {
		return model.Vote{}, nil, err
	}
	ballots, err := s.votes.Ballots(ctx, voteID)
	if err != nil {
		return model.Vote{}, nil, err
	}
	return v, ballots, nil
}

// GetLaw returns a law with its history.
func (s *Service) GetLaw(ctx context.Context, lawID string) (model.Law, []model.LegalHistoryEntry, error) {
	if _, err := actor(ctx); err != nil {
		return model.Law{}, nil, err
	}
	return s.votes.Law(ctx, lawID)
}

// PlaceListingRequest is the input of PlaceListing.
type PlaceListingRequest struct {
	Type         model.ListingType `json:"type"`
	ResourceType string            `json:"resource_type"`
	Quantity     int64             `json:"quantity"`
	PricePerUnit int64             `json:"price_per_unit"`
}

// PlaceListing creates a listing owned by the actor.
func (s *Service) PlaceListing(ctx context.Context, req PlaceListingRequest) (l model.Listing, err error) {
	defer s.observe(ctx, "place_listing", time.Now(), &err)

	a, err := actor(ctx)
	if err != nil {
		return l, err
	}
	return s.market.Place(ctx, market.PlaceInput{
		ActorUserID:  a.UserID,
		Type:         req.Type,
		ResourceType: req.ResourceType,
		Quantity:     req.Quantity,
		PricePerUnit: req.PricePerUnit,
	})
}

// CancelListingResponse is the output of CancelListing.
type CancelListingResponse struct {
	ReturnedQuantity int64  `json:"returned_quantity"`
	RefundAsset      string `json:"refund_asset"`
	RefundAmount     int64  `json:"refund_amount"`
}

// CancelListing cancels a listing the actor placed and returns its escrow.
func (s *Service) CancelListing(ctx context.Context, listingID string) (resp CancelListingResponse, err error) {
	defer s.observe(ctx, "cancel_listing", time.Now(), &err)

	a, err := actor(ctx)
	if err != nil {
		return resp, err
	}
	res, err := s.market.Cancel(ctx, listingID, a.UserID)
	if err != nil {
		return resp, err
	}
	return CancelListingResponse{
		ReturnedQuantity: res.ReturnedQuantity,
		RefundAsset:      res.RefundAsset,
		RefundAmount:     res.RefundAmount,
	}, nil
}

// FillListingRequest is the input of FillListing.
type FillListingRequest struct {
	ListingID          string `json:"listing_id"`
	CounterpartyUserID string `json:"counterparty_user_id"`
	Quantity           int64  `json:"quantity"`
}

// FillListing applies a matching event. Admin only.
func (s *Service) FillListing(ctx context.Context, req FillListingRequest) (l model.Listing, err error) {
	defer s.observe(ctx, "fill_listing", time.Now(), &err)

	if _, err = admin(ctx); err != nil {
		return l, err
	}
	return s.market.Fill(ctx, market.FillInput{
		ListingID:          req.ListingID,
		CounterpartyUserID: req.CounterpartyUserID,
		Quantity:           req.Quantity,
	})
}

// GetListing returns one listing.
func (s *Service) GetListing(ctx context.Context, listingID string) (l model.Listing, err error) {
	if _, err = actor(ctx); err != nil {
		return l, err
	}
	return s.market.Get(ctx, listingID)
}

// ListListings returns listings in status, or all when status is empty.
func (s *Service) ListListings(ctx context.Context, status model.ListingStatus) ([]model.Listing, error) {
	if _, err := actor(ctx); err != nil {
		return nil, err
	}
	return s.market.List(ctx, status)
}

// ComputeRankingsResponse is the output of ComputeRankings.
type ComputeRankingsResponse struct {
	RowsWritten int `json:"rows_written"`
}

// ComputeRankings scores every active territory for tick. Admin only.
func (s *Service) ComputeRankings(ctx context.Context, tick int64) (resp ComputeRankingsResponse, err error) {
	defer s.observe(ctx, "compute_rankings", time.Now(), &err)

	if _, err = admin(ctx); err != nil {
		return resp, err
	}
	n, err := s.rankings.Compute(ctx, tick)
	if err != nil {
		return resp, err
	}
	return ComputeRankingsResponse{RowsWritten: n}, nil
}

// RecordTickSummary stores the tick pass output for one territory. Admin only.
func (s *Service) RecordTickSummary(ctx context.Context, sum model.TickSummary) (err error) {
	defer s.observe(ctx, "record_tick_summary", time.Now(), &err)

	if _, err = admin(ctx); err != nil {
		return err
	}
	return s.rankings.RecordTickSummary(ctx, sum)
}

// Rankings returns the latest standings of tick, best first.
func (s *Service) Rankings(ctx context.Context, tick int64) ([]model.RankingRow, error) {
	if _, err := actor(ctx); err != nil {
		return nil, err
	}
	return s.rankings.Rankings(ctx, tick)
}

// RankingHistory returns every ranking row computed for a territory.
func (s *Service) RankingHistory(ctx context.Context, territoryID string) ([]model.RankingRow, error) {
	if _, err := actor(ctx); err != nil {
		return nil, err
	}
	return s.rankings.History(ctx, territoryID)
}

// Balance returns one ledger balance. Actors read their own currency and
// tokens and the resources of territories they own; admins read any.
func (s *Service) Balance(ctx context.Context, acct model.Account) (int64, error) {
	a, err := actor(ctx)
	if err != nil {
		return 0, err
	}
	if !acct.Valid() {
		return 0, gameerr.New(gameerr.CodeValidation, "", "invalid account %s", acct)
	}
	if !a.Admin {
		if err := s.checkHolder(ctx, a, acct); err != nil {
			return 0, err
		}
	}
	return s.ledger.Balance(ctx, acct)
}

func (s *Service) checkHolder(ctx context.Context, a Actor, acct model.Account) error {
	if acct.Kind != model.AccountResource {
		if acct.Owner != a.UserID {
			return gameerr.New(gameerr.CodeNotOwner, acct.Owner, "account belongs to another user")
		}
		return nil
	}
	t, err := registry.New(s.store.Queries(), time.Time{}).Territory(ctx, acct.Owner)
	if err != nil {
		return err
	}
	if t.OwnerUserID != a.UserID {
		return gameerr.New(gameerr.CodeNotOwner, acct.Owner, "territory belongs to another user")
	}
	return nil
}

// Events returns events after seq, up to limit (0 for all). Admin only.
func (s *Service) Events(ctx context.Context, after int64, limit int) ([]events.Event, error) {
	if _, err := admin(ctx); err != nil {
		return nil, err
	}
	evs, err := events.List(ctx, s.store.Queries(), after, limit)
	if err != nil {
		return nil, gameerr.Dependency("list events", err)
	}
	return evs, nil
}
