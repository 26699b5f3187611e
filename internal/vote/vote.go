// Package vote runs parliamentary proposals from proposal to conclusion.
//
// A vote is open until every eligible territory has cast a ballot or its
// deadline passes. The ballot that brings the tally to total_eligible
// concludes the vote in the same transaction that records it. Conclusion
// closes the vote with a conditional update, so it applies at most once no
// matter how many callers race to it, and then applies the result to the
// subject: a law is enacted or vetoed, a pending bloc becomes active, or
// the world moves to the next era.
package vote

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Tchosco/toi700game-sub002/internal/clock"
	"github.com/Tchosco/toi700game-sub002/internal/events"
	"github.com/Tchosco/toi700game-sub002/internal/gameerr"
	"github.com/Tchosco/toi700game-sub002/internal/ids"
	"github.com/Tchosco/toi700game-sub002/internal/lockset"
	"github.com/Tchosco/toi700game-sub002/internal/metrics"
	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/registry"
	"github.com/Tchosco/toi700game-sub002/internal/rules"
	"github.com/Tchosco/toi700game-sub002/internal/store"
)

// Options configures an Engine. Zero values select production defaults.
type Options struct {
	Rules   rules.Vote
	IDs     ids.Generator
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Engine manages votes.
type Engine struct {
	store   *store.Store
	locks   *lockset.Set
	rules   rules.Vote
	ids     ids.Generator
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a vote engine.
func New(st *store.Store, locks *lockset.Set, opts Options) *Engine {
	e := &Engine{
		store:   st,
		locks:   locks,
		rules:   opts.Rules,
		ids:     opts.IDs,
		clock:   opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if e.rules == (rules.Vote{}) {
		e.rules = rules.Default().Vote
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

// Threshold returns the majority a vote type needs.
func (e *Engine) Threshold(t model.VoteType) rules.Threshold {
	switch t {
	case model.VoteConstitution:
		return e.rules.Thresholds.Constitution
	case model.VoteBlocCreation, model.VoteEraChange:
		return e.rules.Thresholds.Supermajority
	default:
		return e.rules.Thresholds.Simple
	}
}

// Decide fixes the result of a vote type for the given tallies. Abstentions
// are excluded from the denominator; with no decisive ballot the proposal is
// rejected.
func (e *Engine) Decide(t model.VoteType, tallies model.Tallies) model.VoteResult {
	if e.Threshold(t).Met(tallies.Yes, tallies.Decisive()) {
		return model.ResultApproved
	}
	return model.ResultRejected
}

// ProposeInput is a proposal request.
//
// Law, bloc_law and constitution votes create a law from Title, Body and
// Effects. bloc_creation creates a pending bloc named Title founded by the
// proposer's territory. era_change proposes an era named Title. Only bloc_law
// is held at bloc level and requires BlocID.
type ProposeInput struct {
	ProposerUserID string
	VoteType       model.VoteType
	BlocID         string
	Title          string
	Body           string
	Effects        []model.Effect
}

func levelOf(t model.VoteType) model.LegalLevel {
	if t == model.VoteBlocLaw {
		return model.LevelBloc
	}
	return model.LevelState
}

// Propose opens a vote and creates its subject. total_eligible is counted
// once here and never recomputed.
func (e *Engine) Propose(ctx context.Context, in ProposeInput) (model.Vote, error) {
	if !in.VoteType.Valid() {
		return model.Vote{}, gameerr.New(gameerr.CodeValidation, "", "unknown vote type %q", in.VoteType)
	}
	if strings.TrimSpace(in.Title) == "" {
		return model.Vote{}, gameerr.New(gameerr.CodeValidation, "", "title is required")
	}
	level := levelOf(in.VoteType)
	if level == model.LevelBloc && in.BlocID == "" {
		return model.Vote{}, gameerr.New(gameerr.CodeValidation, "", "%s vote requires a bloc", in.VoteType)
	}
	for i, eff := range in.Effects {
		if eff == nil {
			return model.Vote{}, gameerr.New(gameerr.CodeValidation, "", "effect %d is empty", i)
		}
		if err := eff.Validate(); err != nil {
			return model.Vote{}, gameerr.New(gameerr.CodeValidation, "", "effect %d: %v", i, err)
		}
	}

	keys := []string{lockset.Key("user", in.ProposerUserID)}
	if in.BlocID != "" {
		keys = append(keys, lockset.Key("bloc", in.BlocID))
	}
	unlock := e.locks.Lock(keys...)
	defer unlock()

	now := e.clock.Now()
	v := model.Vote{
		ID:           e.ids.New(),
		LegalLevel:   level,
		VoteType:     in.VoteType,
		Status:       model.VoteOpen,
		VotingEndsAt: now.Add(e.rules.VotingPeriod),
		ProposedBy:   in.ProposerUserID,
		CreatedAt:    now,
	}
	if level == model.LevelBloc {
		v.BlocID = in.BlocID
	}

	err := e.store.WithTx(ctx, func(q *store.Queries) error {
		reg := registry.New(q, now)
		proposer, err := reg.ActiveTerritoryOf(ctx, in.ProposerUserID)
		if err != nil {
			return err
		}
		if level == model.LevelBloc {
			member, err := reg.IsActiveBlocMember(ctx, in.BlocID, proposer.ID)
			if err != nil {
				return err
			}
			if !member {
				return gameerr.New(gameerr.CodeNotBlocMember, proposer.ID, "proposer is not an active member of bloc %s", in.BlocID)
			}
		}

		if v.TotalEligible, err = reg.EligibleCount(ctx, level, v.BlocID); err != nil {
			return err
		}
		if v.TotalEligible == 0 {
			return gameerr.New(gameerr.CodeValidation, v.BlocID, "no territory is eligible to vote")
		}

		if err := e.createSubject(ctx, q, &v, proposer, in, now); err != nil {
			return err
		}
		if err := q.InsertVote(ctx, v); err != nil {
			return gameerr.Dependency("insert vote", err)
		}
		_, err = events.Record(ctx, q, now, in.ProposerUserID, v.ID, events.VoteProposed{
			VoteID:        v.ID,
			VoteType:      v.VoteType,
			SubjectID:     v.SubjectID,
			TotalEligible: v.TotalEligible,
			VotingEndsAt:  v.VotingEndsAt,
		})
		return gameerr.Dependency("record vote event", err)
	})
	if err != nil {
		return model.Vote{}, gameerr.Dependency("propose vote", err)
	}

	e.logger.Info("vote proposed",
		"vote_id", v.ID,
		"type", v.VoteType,
		"subject", v.SubjectID,
		"eligible", v.TotalEligible)
	return v, nil
}

func (e *Engine) createSubject(ctx context.Context, q *store.Queries, v *model.Vote, proposer model.Territory, in ProposeInput, now time.Time) error {
	switch v.VoteType {
	case model.VoteLaw, model.VoteBlocLaw, model.VoteConstitution:
		law := model.Law{
			ID:           e.ids.New(),
			LegalLevel:   v.LegalLevel,
			BlocID:       v.BlocID,
			Title:        in.Title,
			Body:         in.Body,
			Constitution: v.VoteType == model.VoteConstitution,
			Status:       model.LawVoting,
			Effects:      in.Effects,
			CreatedAt:    now,
		}
		if err := q.InsertLaw(ctx, law); err != nil {
			return gameerr.Dependency("insert law", err)
		}
		v.SubjectKind, v.SubjectID = model.SubjectLaw, law.ID

	case model.VoteBlocCreation:
		bloc := model.Bloc{
			ID:                 e.ids.New(),
			Name:               in.Title,
			FounderTerritoryID: proposer.ID,
			Status:             model.BlocPending,
			CreatedAt:          now,
		}
		if err := q.InsertBloc(ctx, bloc); err != nil {
			return gameerr.Dependency("insert bloc", err)
		}
		if err := q.UpsertBlocMember(ctx, bloc.ID, proposer.ID, true, now); err != nil {
			return gameerr.Dependency("add bloc founder", err)
		}
		v.SubjectKind, v.SubjectID = model.SubjectBloc, bloc.ID

	case model.VoteEraChange:
		v.SubjectKind, v.SubjectID = model.SubjectEra, in.Title
	}
	return nil
}

// CastInput is a ballot request.
type CastInput struct {
	VoteID      string
	TerritoryID string
	Choice      model.Choice
	Reason      string
	ActorUserID string
}

// CastResult is the state of the vote after a ballot.
type CastResult struct {
	Tallies   model.Tallies    `json:"tallies"`
	Concluded bool             `json:"concluded"`
	Result    model.VoteResult `json:"result,omitempty"`
}

// Cast records one ballot for a territory. The ballot row and the tally
// increment commit together; when the ballot completes the electorate the
// vote concludes in the same transaction.
func (e *Engine) Cast(ctx context.Context, in CastInput) (CastResult, error) {
	switch in.Choice {
	case model.ChoiceYes, model.ChoiceNo, model.ChoiceAbstain:
	default:
		return CastResult{}, gameerr.New(gameerr.CodeValidation, in.VoteID, "unknown choice %q", in.Choice)
	}

	unlock := e.locks.Lock(
		lockset.Key("vote", in.VoteID),
		lockset.Key("territory", in.TerritoryID),
	)
	defer unlock()

	now := e.clock.Now()
	var res CastResult
	err := e.store.WithTx(ctx, func(q *store.Queries) error {
		reg := registry.New(q, now)
		v, err := e.checkBallot(ctx, q, reg, in, now)
		if err != nil {
			return err
		}

		recorded, err := q.InsertVoteRecord(ctx, model.VoteRecord{
			VoteID:      v.ID,
			TerritoryID: in.TerritoryID,
			Choice:      in.Choice,
			Reason:      in.Reason,
			CastBy:      in.ActorUserID,
			CreatedAt:   now,
		})
		if err != nil {
			return gameerr.Dependency("insert ballot", err)
		}
		if !recorded {
			return gameerr.New(gameerr.CodeDuplicateVote, in.TerritoryID, "territory already voted in %s", v.ID)
		}

		tallies, err := q.IncrementTally(ctx, v.ID, in.Choice)
		if errors.Is(err, store.ErrNotFound) {
			return gameerr.New(gameerr.CodeVoteClosed, v.ID, "vote is closed")
		}
		if err != nil {
			return gameerr.Dependency("increment tally", err)
		}
		v.Tallies = tallies
		res.Tallies = tallies

		_, err = events.Record(ctx, q, now, in.ActorUserID, v.ID, events.VoteCast{
			VoteID:      v.ID,
			TerritoryID: in.TerritoryID,
			Choice:      in.Choice,
			Tallies:     tallies,
		})
		if err != nil {
			return gameerr.Dependency("record vote event", err)
		}

		if tallies.Total() < v.TotalEligible {
			return nil
		}
		res.Result, res.Concluded, err = e.conclude(ctx, q, v, now)
		return err
	})
	if err != nil {
		return CastResult{}, gameerr.Dependency("cast vote", err)
	}

	e.metrics.VoteCast(string(in.Choice))
	e.logger.Info("vote cast",
		"vote_id", in.VoteID,
		"territory", in.TerritoryID,
		"choice", in.Choice,
		"yes", res.Tallies.Yes,
		"no", res.Tallies.No,
		"abstain", res.Tallies.Abstain)
	if res.Concluded {
		e.metrics.VoteConcluded(string(res.Result))
		e.logger.Info("vote concluded", "vote_id", in.VoteID, "result", res.Result)
	}
	return res, nil
}

// checkBallot applies the ballot preconditions in their reporting order:
// ownership, territory status, vote state, deadline, bloc membership.
// Duplicates are detected by the ballot insert itself.
func (e *Engine) checkBallot(ctx context.Context, q *store.Queries, reg *registry.Registry, in CastInput, now time.Time) (model.Vote, error) {
	terr, err := reg.Territory(ctx, in.TerritoryID)
	if err != nil {
		return model.Vote{}, err
	}
	if terr.Neutral() || terr.OwnerUserID != in.ActorUserID {
		return model.Vote{}, gameerr.New(gameerr.CodeNotOwner, terr.ID, "actor does not own the territory")
	}
	if !terr.Active() {
		return model.Vote{}, gameerr.New(gameerr.CodeTerritoryInactive, terr.ID, "territory is %s", terr.Status)
	}

	v, err := loadVote(ctx, q, in.VoteID)
	if err != nil {
		return model.Vote{}, err
	}
	if v.Status != model.VoteOpen {
		return model.Vote{}, gameerr.New(gameerr.CodeVoteClosed, v.ID, "vote is closed")
	}
	if now.After(v.VotingEndsAt) {
		return model.Vote{}, gameerr.New(gameerr.CodeVotingWindowExpired, v.ID, "voting ended at %s", v.VotingEndsAt.Format(time.RFC3339))
	}
	if v.LegalLevel == model.LevelBloc {
		member, err := reg.IsActiveBlocMember(ctx, v.BlocID, terr.ID)
		if err != nil {
			return model.Vote{}, err
		}
		if !member {
			return model.Vote{}, gameerr.New(gameerr.CodeNotBlocMember, terr.ID, "territory is not an active member of bloc %s", v.BlocID)
		}
	}
	return v, nil
}

// conclude closes v with the result its tallies decide and applies that
// result to the subject. It reports false when another caller closed the
// vote first, in which case nothing is applied.
func (e *Engine) conclude(ctx context.Context, q *store.Queries, v model.Vote, now time.Time) (model.VoteResult, bool, error) {
	result := e.Decide(v.VoteType, v.Tallies)
	closed, err := q.CloseVote(ctx, v.ID, result, now)
	if err != nil {
		return "", false, gameerr.Dependency("close vote", err)
	}
	if !closed {
		return "", false, nil
	}

	// The conclusion is logged before the law and bloc changes it causes.
	_, err = events.Record(ctx, q, now, "", v.ID, events.VoteConcluded{
		VoteID:  v.ID,
		Result:  result,
		Tallies: v.Tallies,
	})
	if err != nil {
		return "", false, gameerr.Dependency("record vote event", err)
	}
	if err := e.applyResult(ctx, q, v, result, now); err != nil {
		return "", false, err
	}
	return result, true, nil
}

func (e *Engine) applyResult(ctx context.Context, q *store.Queries, v model.Vote, result model.VoteResult, now time.Time) error {
	approved := result == model.ResultApproved

	switch v.SubjectKind {
	case model.SubjectLaw:
		status, enactedAt := model.LawVetoed, (*time.Time)(nil)
		if approved {
			status, enactedAt = model.LawEnacted, &now
		}
		ok, err := q.SetLawStatus(ctx, v.SubjectID, status, enactedAt)
		if err != nil {
			return gameerr.Dependency("set law status", err)
		}
		if !ok {
			return gameerr.New(gameerr.CodeInvalidTransition, v.SubjectID, "law is no longer in voting")
		}
		_, err = q.InsertLegalHistory(ctx, model.LegalHistoryEntry{LawID: v.SubjectID, Status: status, VoteID: v.ID, CreatedAt: now})
		if err != nil {
			return gameerr.Dependency("append legal history", err)
		}
		var p events.Payload = events.LawVetoed{LawID: v.SubjectID, VoteID: v.ID}
		if approved {
			p = events.LawEnacted{LawID: v.SubjectID, VoteID: v.ID}
		}
		_, err = events.Record(ctx, q, now, "", v.SubjectID, p)
		return gameerr.Dependency("record law event", err)

	case model.SubjectBloc:
		if !approved {
			return nil
		}
		if err := q.SetBlocStatus(ctx, v.SubjectID, model.BlocActive); err != nil {
			return gameerr.Dependency("activate bloc", err)
		}
		_, err := events.Record(ctx, q, now, "", v.SubjectID, events.BlocActivated{BlocID: v.SubjectID, VoteID: v.ID})
		return gameerr.Dependency("record bloc event", err)

	case model.SubjectEra:
		if !approved {
			return nil
		}
		next := 1
		current, err := q.CurrentEra(ctx)
		switch {
		case err == nil:
			next = current.Number + 1
		case !errors.Is(err, store.ErrNotFound):
			return gameerr.Dependency("load era", err)
		}
		era := model.Era{Number: next, Name: v.SubjectID, VoteID: v.ID, StartedAt: now}
		if err := q.InsertEra(ctx, era); err != nil {
			return gameerr.Dependency("start era", err)
		}
		_, err = events.Record(ctx, q, now, "", v.ID, events.EraChanged{Number: era.Number, Name: era.Name, VoteID: v.ID})
		return gameerr.Dependency("record era event", err)
	}
	return nil
}

// CloseExpired concludes every open vote whose deadline has passed, using
// the tallies it has. Votes concluded concurrently by a final ballot are
// skipped. Returns the votes this call closed.
func (e *Engine) CloseExpired(ctx context.Context) ([]model.Vote, error) {
	now := e.clock.Now()
	expired, err := e.store.Queries().ListExpiredVotes(ctx, now)
	if err != nil {
		return nil, gameerr.Dependency("list expired votes", err)
	}

	closed := []model.Vote{}
	for _, id := range expired {
		v, ok, err := e.closeOne(ctx, id, now)
		if err != nil {
			return closed, err
		}
		if ok {
			closed = append(closed, v)
		}
	}
	return closed, nil
}

func (e *Engine) closeOne(ctx context.Context, voteID string, now time.Time) (model.Vote, bool, error) {
	unlock := e.locks.Lock(lockset.Key("vote", voteID))
	defer unlock()

	var (
		v  model.Vote
		ok bool
	)
	err := e.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		if v, err = loadVote(ctx, q, voteID); err != nil {
			return err
		}
		if v.Status != model.VoteOpen {
			return nil
		}
		if v.Result, ok, err = e.conclude(ctx, q, v, now); err != nil {
			return err
		}
		if ok {
			v.Status = model.VoteClosed
			v.ClosedAt = &now
		}
		return nil
	})
	if err != nil {
		return model.Vote{}, false, gameerr.Dependency("close expired vote", err)
	}
	if ok {
		e.metrics.VoteConcluded(string(v.Result))
		e.logger.Info("vote expired", "vote_id", v.ID, "result", v.Result, "ballots", v.Tallies.Total(), "eligible", v.TotalEligible)
	}
	return v, ok, nil
}

// Get returns a vote or VOTE_NOT_FOUND.
func (e *Engine) Get(ctx context.Context, voteID string) (model.Vote, error) {
	return loadVote(ctx, e.store.Queries(), voteID)
}

// Ballots returns the ballots of a vote ordered by territory.
func (e *Engine) Ballots(ctx context.Context, voteID string) ([]model.VoteRecord, error) {
	if _, err := e.Get(ctx, voteID); err != nil {
		return nil, err
	}
	records, err := e.store.Queries().ListVoteRecords(ctx, voteID)
	if err != nil {
		return nil, gameerr.Dependency("list ballots", err)
	}
	return records, nil
}

// Law returns a law with its legal history.
func (e *Engine) Law(ctx context.Context, lawID string) (model.Law, []model.LegalHistoryEntry, error) {
	q := e.store.Queries()
	law, err := q.GetLaw(ctx, lawID)
	if errors.Is(err, store.ErrNotFound) {
		return model.Law{}, nil, gameerr.New(gameerr.CodeNotFound, lawID, "law not found")
	}
	if err != nil {
		return model.Law{}, nil, gameerr.Dependency("load law", err)
	}
	history, err := q.ListLegalHistory(ctx, lawID)
	if err != nil {
		return model.Law{}, nil, gameerr.Dependency("load legal history", err)
	}
	return law, history, nil
}

func loadVote(ctx context.Context, q *store.Queries, id string) (model.Vote, error) {
	v, err := q.GetVote(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Vote{}, gameerr.New(gameerr.CodeVoteNotFound, id, "vote not found")
	}
	if err != nil {
		return model.Vote{}, gameerr.Dependency("load vote", err)
	}
	return v, nil
}
