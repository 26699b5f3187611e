package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreshold_Met(t *testing.T) {
	d := Default().Vote.Thresholds
	tests := []struct {
		name     string
		th       Threshold
		yes, no  int
		expected bool
	}{
		{"simple 3 of 5", d.Simple, 3, 2, true},
		{"simple tie", d.Simple, 2, 2, false},
		{"constitution 3 of 5", d.Constitution, 3, 2, false},
		{"constitution exactly two thirds", d.Constitution, 4, 2, true},
		{"supermajority exactly 60%", d.Supermajority, 3, 2, true},
		{"supermajority below", d.Supermajority, 5, 4, false},
		{"no decisive ballots", d.Simple, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.th.Met(tt.yes, tt.yes+tt.no))
		})
	}
}

func TestParse_OverridesSubset(t *testing.T) {
	src := []byte(`
war: {
	declare_stability_penalty: 15
	declaration_cost: 250
}
vote: voting_period: "24h"
`)
	r, err := Parse("rules.cue", src)
	require.NoError(t, err)

	assert.Equal(t, 15, r.War.DeclareStabilityPenalty)
	assert.Equal(t, int64(250), r.War.DeclarationCost)
	assert.Equal(t, 25, r.War.SurrenderStabilityPenalty)
	assert.Equal(t, 24*time.Hour, r.Vote.VotingPeriod)
	assert.Equal(t, Default().Vote.Thresholds, r.Vote.Thresholds)
	assert.Equal(t, Default().Ranking, r.Ranking)
}

func TestParse_RejectsOutOfBounds(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"penalty above 100", `war: surrender_stability_penalty: 101`},
		{"threshold above one", `vote: thresholds: simple: {num: 3, den: 2, inclusive: false}`},
		{"bad duration", `vote: voting_period: "three days"`},
		{"unknown field", `war: fog: true`},
		{"syntax", `war: {`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("rules.cue", []byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.cue")
	require.NoError(t, os.WriteFile(path, []byte(`text: title_max: 80`), 0o644))

	r, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 80, r.Text.TitleMax)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}

func TestLoadError_Position(t *testing.T) {
	_, err := Parse("bad.cue", []byte("war: max_cycles: 0\n"))
	require.Error(t, err)
	var le *LoadError
	if assert.ErrorAs(t, err, &le) {
		assert.True(t, le.Pos.IsValid())
	}
}
