package vote

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Tchosco/toi700game-sub002/internal/gameerr"
	"github.com/Tchosco/toi700game-sub002/internal/ids"
	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/testutil"
)

const world = `
territories:
  - {id: t1, owner: u1}
  - {id: t2, owner: u2}
  - {id: t3, owner: u3}
  - {id: t4, owner: u4}
  - {id: t5, owner: u5}
  - {id: t6, owner: u6, status: inactive}
blocs:
  - id: north
    name: Northern Pact
    founder: t1
    members: [t1, t2, t3]
era:
  number: 1
  name: Founding
`

func newEngine(t *testing.T) (*Engine, *testutil.Env) {
	t.Helper()
	env := testutil.NewEnv(t, world)
	e := New(env.Store, env.Locks, Options{
		IDs:    ids.NewSequence("v"),
		Clock:  env.Clock,
		Logger: testutil.Logger(),
	})
	return e, env
}

func propose(t *testing.T, e *Engine, typ model.VoteType) model.Vote {
	t.Helper()
	in := ProposeInput{ProposerUserID: "u1", VoteType: typ, Title: "Proposal"}
	if typ == model.VoteBlocLaw {
		in.BlocID = "north"
	}
	v, err := e.Propose(context.Background(), in)
	require.NoError(t, err)
	return v
}

func cast(e *Engine, voteID string, n int, choice model.Choice) (CastResult, error) {
	territory := "t" + string(rune('0'+n))
	user := "u" + string(rune('0'+n))
	return e.Cast(context.Background(), CastInput{VoteID: voteID, TerritoryID: territory, Choice: choice, ActorUserID: user})
}

func castAll(t *testing.T, e *Engine, voteID string, choices ...model.Choice) CastResult {
	t.Helper()
	var res CastResult
	for i, c := range choices {
		var err error
		res, err = cast(e, voteID, i+1, c)
		require.NoError(t, err)
	}
	return res
}

func TestDecide(t *testing.T) {
	e := New(nil, nil, Options{})
	tests := []struct {
		name    string
		typ     model.VoteType
		tallies model.Tallies
		want    model.VoteResult
	}{
		{"law 3 of 5", model.VoteLaw, model.Tallies{Yes: 3, No: 2}, model.ResultApproved},
		{"law tie", model.VoteLaw, model.Tallies{Yes: 1, No: 1}, model.ResultRejected},
		{"constitution 3 of 5", model.VoteConstitution, model.Tallies{Yes: 3, No: 2}, model.ResultRejected},
		{"constitution exactly two thirds", model.VoteConstitution, model.Tallies{Yes: 2, No: 1}, model.ResultApproved},
		{"bloc creation exactly 60 percent", model.VoteBlocCreation, model.Tallies{Yes: 3, No: 2}, model.ResultApproved},
		{"era change half", model.VoteEraChange, model.Tallies{Yes: 2, No: 2}, model.ResultRejected},
		{"abstain excluded", model.VoteConstitution, model.Tallies{Yes: 2, No: 1, Abstain: 5}, model.ResultApproved},
		{"only abstentions", model.VoteLaw, model.Tallies{Abstain: 4}, model.ResultRejected},
		{"no ballots", model.VoteBlocLaw, model.Tallies{}, model.ResultRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Decide(tt.typ, tt.tallies))
		})
	}
}

func TestLawApprovedByFinalBallot(t *testing.T) {
	e, env := newEngine(t)
	ctx := context.Background()

	v := propose(t, e, model.VoteLaw)
	assert.Equal(t, 5, v.TotalEligible)
	assert.Equal(t, model.LevelState, v.LegalLevel)
	assert.Equal(t, testutil.Epoch.Add(72*time.Hour), v.VotingEndsAt)

	env.Clock.Advance(time.Hour)
	res := castAll(t, e, v.ID, model.ChoiceYes, model.ChoiceNo, model.ChoiceYes, model.ChoiceNo)
	assert.False(t, res.Concluded)

	res, err := cast(e, v.ID, 5, model.ChoiceYes)
	require.NoError(t, err)
	assert.True(t, res.Concluded)
	assert.Equal(t, model.ResultApproved, res.Result)
	assert.Equal(t, model.Tallies{Yes: 3, No: 2}, res.Tallies)

	got, err := e.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VoteClosed, got.Status)
	assert.Equal(t, model.ResultApproved, got.Result)

	law, history, err := e.Law(ctx, v.SubjectID)
	require.NoError(t, err)
	assert.Equal(t, model.LawEnacted, law.Status)
	require.NotNil(t, law.EnactedAt)
	assert.Equal(t, testutil.Epoch.Add(time.Hour), *law.EnactedAt)
	require.Len(t, history, 1)
	assert.Equal(t, model.LawEnacted, history[0].Status)
	assert.Equal(t, v.ID, history[0].VoteID)
}

func TestConstitutionRejectedVetoesLaw(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	v := propose(t, e, model.VoteConstitution)
	res := castAll(t, e, v.ID, model.ChoiceYes, model.ChoiceYes, model.ChoiceYes, model.ChoiceNo, model.ChoiceNo)
	assert.True(t, res.Concluded)
	assert.Equal(t, model.ResultRejected, res.Result)

	law, history, err := e.Law(ctx, v.SubjectID)
	require.NoError(t, err)
	assert.True(t, law.Constitution)
	assert.Equal(t, model.LawVetoed, law.Status)
	assert.Nil(t, law.EnactedAt)
	require.Len(t, history, 1)
	assert.Equal(t, model.LawVetoed, history[0].Status)
}

func TestConclusionLoggedBeforeLawChange(t *testing.T) {
	tests := []struct {
		name    string
		choices []model.Choice
		effect  string
	}{
		{"enacted", []model.Choice{model.ChoiceYes, model.ChoiceYes, model.ChoiceYes, model.ChoiceNo, model.ChoiceNo}, "law.enacted"},
		{"vetoed", []model.Choice{model.ChoiceNo, model.ChoiceNo, model.ChoiceNo, model.ChoiceYes, model.ChoiceYes}, "law.vetoed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, env := newEngine(t)
			v := propose(t, e, model.VoteLaw)
			res := castAll(t, e, v.ID, tt.choices...)
			require.True(t, res.Concluded)

			rows, err := env.Store.Queries().ListEvents(context.Background(), 0, 0)
			require.NoError(t, err)
			var kinds []string
			for _, r := range rows {
				kinds = append(kinds, r.Kind)
			}
			require.GreaterOrEqual(t, len(kinds), 2)
			assert.Equal(t, []string{"vote.concluded", tt.effect}, kinds[len(kinds)-2:])
		})
	}
}

func TestDuplicateVoteLeavesTalliesUnchanged(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	v := propose(t, e, model.VoteLaw)

	first, err := cast(e, v.ID, 2, model.ChoiceYes)
	require.NoError(t, err)

	_, err = cast(e, v.ID, 2, model.ChoiceNo)
	assert.True(t, gameerr.Is(err, gameerr.CodeDuplicateVote))

	got, err := e.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Tallies, got.Tallies)

	ballots, err := e.Ballots(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, ballots, 1)
	assert.Equal(t, model.ChoiceYes, ballots[0].Choice)
}

func TestCast_Errors(t *testing.T) {
	e, env := newEngine(t)
	ctx := context.Background()
	law := propose(t, e, model.VoteLaw)
	blocLaw := propose(t, e, model.VoteBlocLaw)
	assert.Equal(t, 3, blocLaw.TotalEligible)

	tests := []struct {
		name string
		in   CastInput
		code gameerr.Code
	}{
		{"not owner", CastInput{VoteID: law.ID, TerritoryID: "t1", ActorUserID: "u2", Choice: model.ChoiceYes}, gameerr.CodeNotOwner},
		{"inactive territory", CastInput{VoteID: law.ID, TerritoryID: "t6", ActorUserID: "u6", Choice: model.ChoiceYes}, gameerr.CodeTerritoryInactive},
		{"missing vote", CastInput{VoteID: "nope", TerritoryID: "t1", ActorUserID: "u1", Choice: model.ChoiceYes}, gameerr.CodeVoteNotFound},
		{"not a bloc member", CastInput{VoteID: blocLaw.ID, TerritoryID: "t4", ActorUserID: "u4", Choice: model.ChoiceYes}, gameerr.CodeNotBlocMember},
		{"unknown choice", CastInput{VoteID: law.ID, TerritoryID: "t1", ActorUserID: "u1", Choice: "maybe"}, gameerr.CodeValidation},
		{"not owner before vote lookup", CastInput{VoteID: "nope", TerritoryID: "t1", ActorUserID: "u2", Choice: model.ChoiceYes}, gameerr.CodeNotOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Cast(ctx, tt.in)
			assert.Equal(t, tt.code, gameerr.CodeOf(err), "%v", err)
		})
	}

	t.Run("window expired", func(t *testing.T) {
		env.Clock.Advance(72*time.Hour + time.Second)
		_, err := cast(e, law.ID, 1, model.ChoiceYes)
		assert.True(t, gameerr.Is(err, gameerr.CodeVotingWindowExpired))
	})
}

func TestCast_ClosedVote(t *testing.T) {
	e, _ := newEngine(t)
	v := propose(t, e, model.VoteBlocLaw)
	castAll(t, e, v.ID, model.ChoiceYes, model.ChoiceYes, model.ChoiceNo)

	_, err := cast(e, v.ID, 1, model.ChoiceYes)
	assert.True(t, gameerr.Is(err, gameerr.CodeVoteClosed))
}

func TestBlocCreationActivatesBloc(t *testing.T) {
	e, env := newEngine(t)
	ctx := context.Background()

	v, err := e.Propose(ctx, ProposeInput{ProposerUserID: "u4", VoteType: model.VoteBlocCreation, Title: "Southern League"})
	require.NoError(t, err)
	assert.Equal(t, model.SubjectBloc, v.SubjectKind)

	bloc, err := env.Store.Queries().GetBloc(ctx, v.SubjectID)
	require.NoError(t, err)
	assert.Equal(t, model.BlocPending, bloc.Status)
	assert.Equal(t, "t4", bloc.FounderTerritoryID)

	res := castAll(t, e, v.ID, model.ChoiceYes, model.ChoiceYes, model.ChoiceYes, model.ChoiceNo, model.ChoiceNo)
	assert.Equal(t, model.ResultApproved, res.Result)

	bloc, err = env.Store.Queries().GetBloc(ctx, v.SubjectID)
	require.NoError(t, err)
	assert.Equal(t, model.BlocActive, bloc.Status)

	member, err := env.Store.Queries().IsActiveBlocMember(ctx, bloc.ID, "t4")
	require.NoError(t, err)
	assert.True(t, member)
}

func TestEraChange(t *testing.T) {
	e, env := newEngine(t)
	ctx := context.Background()

	v, err := e.Propose(ctx, ProposeInput{ProposerUserID: "u1", VoteType: model.VoteEraChange, Title: "Age of Sails"})
	require.NoError(t, err)

	res := castAll(t, e, v.ID, model.ChoiceYes, model.ChoiceYes, model.ChoiceYes, model.ChoiceYes, model.ChoiceAbstain)
	assert.Equal(t, model.ResultApproved, res.Result)

	era, err := env.Store.Queries().CurrentEra(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, era.Number)
	assert.Equal(t, "Age of Sails", era.Name)
	assert.Equal(t, v.ID, era.VoteID)
}

func TestTotalEligibleFixedAtCreation(t *testing.T) {
	e, env := newEngine(t)
	ctx := context.Background()
	v := propose(t, e, model.VoteLaw)

	require.NoError(t, env.Store.Queries().SetTerritoryStatus(ctx, "t5", model.TerritoryInactive))

	res := castAll(t, e, v.ID, model.ChoiceYes, model.ChoiceYes, model.ChoiceYes, model.ChoiceYes)
	assert.False(t, res.Concluded, "four ballots of five eligible must not conclude")

	got, err := e.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.TotalEligible)
	assert.Equal(t, model.VoteOpen, got.Status)
}

func TestCloseExpired(t *testing.T) {
	e, env := newEngine(t)
	ctx := context.Background()

	v := propose(t, e, model.VoteLaw)
	_, err := cast(e, v.ID, 1, model.ChoiceYes)
	require.NoError(t, err)

	closed, err := e.CloseExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, closed, "deadline not reached")

	env.Clock.Advance(73 * time.Hour)
	closed, err = e.CloseExpired(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, v.ID, closed[0].ID)
	assert.Equal(t, model.ResultApproved, closed[0].Result)

	law, _, err := e.Law(ctx, v.SubjectID)
	require.NoError(t, err)
	assert.Equal(t, model.LawEnacted, law.Status)

	closed, err = e.CloseExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, closed)
}

func TestConcurrentFinalBallotsConcludeOnce(t *testing.T) {
	e, env := newEngine(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	v := propose(t, e, model.VoteLaw)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		concluded int
		failures  []error
	)
	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := cast(e, v.ID, n, model.ChoiceYes)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			if res.Concluded {
				concluded++
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, failures)
	assert.Equal(t, 1, concluded)

	rows, err := env.Store.Queries().ListEvents(ctx, 0, 0)
	require.NoError(t, err)
	var conclusions int
	for _, r := range rows {
		if r.Kind == "vote.concluded" {
			conclusions++
		}
	}
	assert.Equal(t, 1, conclusions)
}

func TestPropose_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   ProposeInput
		code gameerr.Code
	}{
		{"unknown type", ProposeInput{ProposerUserID: "u1", VoteType: "referendum", Title: "x"}, gameerr.CodeValidation},
		{"empty title", ProposeInput{ProposerUserID: "u1", VoteType: model.VoteLaw, Title: "  "}, gameerr.CodeValidation},
		{"bloc law without bloc", ProposeInput{ProposerUserID: "u1", VoteType: model.VoteBlocLaw, Title: "x"}, gameerr.CodeValidation},
		{"bloc law by outsider", ProposeInput{ProposerUserID: "u4", VoteType: model.VoteBlocLaw, BlocID: "north", Title: "x"}, gameerr.CodeNotBlocMember},
		{"no territory", ProposeInput{ProposerUserID: "u6", VoteType: model.VoteLaw, Title: "x"}, gameerr.CodeNoActiveTerritory},
		{"invalid effect", ProposeInput{ProposerUserID: "u1", VoteType: model.VoteLaw, Title: "x", Effects: []model.Effect{model.TaxRate{Percent: 120}}}, gameerr.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine(t)
			_, err := e.Propose(context.Background(), tt.in)
			assert.Equal(t, tt.code, gameerr.CodeOf(err), "%v", err)
		})
	}
}

func TestProposeStoresEffects(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	effects := []model.Effect{model.StabilityModifier{Delta: 5}, model.TaxRate{Percent: 12}}

	v, err := e.Propose(ctx, ProposeInput{ProposerUserID: "u1", VoteType: model.VoteLaw, Title: "Harvest tax", Effects: effects})
	require.NoError(t, err)

	law, _, err := e.Law(ctx, v.SubjectID)
	require.NoError(t, err)
	assert.Equal(t, model.Effects(effects), law.Effects)
	assert.Equal(t, model.LawVoting, law.Status)
}
