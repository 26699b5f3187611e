package events

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/store"
)

func TestRecordAndList(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	declared := WarDeclared{WarID: "w1", Attacker: "a", Defender: "b", TargetCells: []string{"c1"}, Stability: 40}
	cast := VoteCast{VoteID: "v1", TerritoryID: "a", Choice: model.ChoiceYes, Tallies: model.Tallies{Yes: 1}}

	err = st.WithTx(ctx, func(q *store.Queries) error {
		if _, err := Record(ctx, q, at, "alice", "w1", declared); err != nil {
			return err
		}
		_, err := Record(ctx, q, at, "alice", "v1", cast)
		return err
	})
	require.NoError(t, err)

	got, err := List(ctx, st.Queries(), 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, KindWarDeclared, got[0].Kind)
	assert.Equal(t, "w1", got[0].EntityID)
	assert.Equal(t, "alice", got[0].Actor)
	assert.Equal(t, declared, got[0].Payload)
	assert.Equal(t, cast, got[1].Payload)
	assert.True(t, got[1].CreatedAt.Equal(at))
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := Decode("war.exploded", []byte(`{}`))
	assert.Error(t, err)
}

func TestDecode_EveryKind(t *testing.T) {
	payloads := []Payload{
		WarDeclared{}, WarActivated{}, WarCycle{}, WarEnded{}, CellTransferred{},
		VoteProposed{}, VoteCast{}, VoteConcluded{}, LawEnacted{}, LawVetoed{},
		BlocActivated{}, EraChanged{}, ListingPlaced{}, ListingFilled{},
		ListingCancelled{}, RankingsComputed{},
	}
	for _, p := range payloads {
		t.Run(string(p.Kind()), func(t *testing.T) {
			got, err := Decode(p.Kind(), []byte(`{}`))
			require.NoError(t, err)
			assert.Equal(t, p.Kind(), got.Kind())
		})
	}
}
