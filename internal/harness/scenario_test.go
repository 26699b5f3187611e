package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "One declaration"
world:
  territories:
    - {id: atk, owner: alice, cells: [a1]}
    - {id: def, owner: bob, cells: [d1]}
flow:
  - invoke: war.declare
    as: alice
    args: {target_territory_id: def, target_cell_ids: [d1]}
assertions:
  - type: trace_count
    action: war.declare
    count: 1
`

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, t.TempDir(), minimalScenario)

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.World.Territories, 2)
	assert.Equal(t, []string{"d1"}, s.World.Territories[1].Cells)
	require.Len(t, s.Flow, 1)
	assert.Equal(t, "war.declare", s.Flow[0].Invoke)
	assert.Equal(t, "alice", s.Flow[0].As)
	assert.Nil(t, s.Flow[0].Expect)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_RulesRelativeToFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.cue"), []byte("war: max_cycles: 3\n"), 0o644))
	path := writeScenario(t, dir, "rules: rules.cue\n"+minimalScenario)

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rules.cue"), s.Rules)
}

func TestLoadScenario_MissingRulesFile(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "rules: nowhere.cue\n"+minimalScenario)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rules file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "malformed yaml",
			content: "name: [unclosed",
			errMsg:  "failed to parse YAML",
		},
		{
			name:    "unknown field",
			content: minimalScenario + "flow_token: abc\n",
			errMsg:  "field flow_token not found",
		},
		{
			name: "missing name",
			content: `
description: d
flow: [{invoke: war.declare, as: a, args: {}}]
assertions: [{type: trace_count, action: war.declare}]
`,
			errMsg: "name is required",
		},
		{
			name: "missing description",
			content: `
name: n
flow: [{invoke: war.declare, as: a, args: {}}]
assertions: [{type: trace_count, action: war.declare}]
`,
			errMsg: "description is required",
		},
		{
			name: "empty flow",
			content: `
name: n
description: d
flow: []
assertions: [{type: trace_count, action: war.declare}]
`,
			errMsg: "flow list is required",
		},
		{
			name: "no assertions",
			content: `
name: n
description: d
flow: [{invoke: war.declare, as: a, args: {}}]
`,
			errMsg: "assertions list is required",
		},
		{
			name: "unknown operation",
			content: `
name: n
description: d
flow: [{invoke: war.nuke, as: a, args: {}}]
assertions: [{type: trace_count, action: war.nuke}]
`,
			errMsg: `unknown operation "war.nuke"`,
		},
		{
			name: "missing args",
			content: `
name: n
description: d
flow: [{invoke: war.declare, as: a}]
assertions: [{type: trace_count, action: war.declare}]
`,
			errMsg: "args is required",
		},
		{
			name: "missing actor",
			content: `
name: n
description: d
flow: [{invoke: war.declare, args: {}}]
assertions: [{type: trace_count, action: war.declare}]
`,
			errMsg: "as is required",
		},
		{
			name: "expect without case",
			content: `
name: n
description: d
flow: [{invoke: war.declare, as: a, args: {}, expect: {result: {war_id: x}}}]
assertions: [{type: trace_count, action: war.declare}]
`,
			errMsg: "case is required",
		},
		{
			name: "bad clock advance",
			content: `
name: n
description: d
flow: [{invoke: clock.advance, args: {by: -1h}}]
assertions: [{type: trace_count, action: clock.advance, count: 1}]
`,
			errMsg: "duration must be positive",
		},
		{
			name: "final_state on unknown table",
			content: `
name: n
description: d
flow: [{invoke: war.declare, as: a, args: {}}]
assertions: [{type: final_state, table: sqlite_master, expect: {name: x}}]
`,
			errMsg: `table "sqlite_master" cannot be queried`,
		},
		{
			name: "balance without account",
			content: `
name: n
description: d
flow: [{invoke: war.declare, as: a, args: {}}]
assertions: [{type: balance, amount: 3}]
`,
			errMsg: "account with kind and owner is required",
		},
		{
			name: "negative count",
			content: `
name: n
description: d
flow: [{invoke: war.declare, as: a, args: {}}]
assertions: [{type: event_count, kind: war.declared, count: -1}]
`,
			errMsg: "count must be non-negative",
		},
		{
			name: "unknown assertion",
			content: `
name: n
description: d
flow: [{invoke: war.declare, as: a, args: {}}]
assertions: [{type: eventually}]
`,
			errMsg: `unknown assertion type "eventually"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParseScenario_ClockAdvanceNeedsNoActor(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: n
description: d
flow: [{invoke: clock.advance, args: {by: 90m}}]
assertions: [{type: trace_count, action: clock.advance, count: 1}]
`))
	require.NoError(t, err)
	assert.Empty(t, s.Flow[0].As)
}

func TestActions_Sorted(t *testing.T) {
	names := Actions()
	assert.IsIncreasing(t, names)
	assert.Contains(t, names, "war.declare")
	assert.Contains(t, names, ActionClockAdvance)
}

func TestLoadExampleScenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			_, err := LoadScenario(f)
			require.NoError(t, err)
		})
	}
}
