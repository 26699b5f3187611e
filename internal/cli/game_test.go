package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cliWorld = `
territories:
  - {id: atk, owner: alice, cells: [a1, a2]}
  - {id: def, owner: bob, cells: [d1, d2]}
balances:
  - {kind: currency, owner: alice, amount: 100}
  - {kind: currency, owner: bob, amount: 100}
  - {kind: resource, owner: atk, asset: minerals, amount: 50}
`

// cliEnv is a seeded database with a config naming gm as admin.
type cliEnv struct {
	t      *testing.T
	config string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "toi700.yaml")
	worldPath := filepath.Join(dir, "world.yaml")
	cfg := "databasePath: " + filepath.Join(dir, "world.db") + "\nadminUsers: [gm]\nresources: [food, minerals]\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	require.NoError(t, os.WriteFile(worldPath, []byte(cliWorld), 0o644))

	e := &cliEnv{t: t, config: cfgPath}
	resp, err := e.run("seed", worldPath)
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Status)
	return e
}

// exec runs the root command and returns stdout.
func (e *cliEnv) exec(format string, args ...string) (string, error) {
	e.t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", e.config, "--format", format}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// run executes a command with JSON output and decodes the response.
func (e *cliEnv) run(args ...string) (CLIResponse, error) {
	e.t.Helper()
	out, err := e.exec("json", args...)
	var resp CLIResponse
	if out != "" {
		require.NoError(e.t, json.Unmarshal([]byte(out), &resp), out)
	}
	return resp, err
}

func data(t *testing.T, resp CLIResponse) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func TestWarCommands(t *testing.T) {
	e := newCLIEnv(t)

	resp, err := e.run("--as", "alice", "war", "declare", "def", "d1", "d2", "--title", "Border dispute")
	require.NoError(t, err)
	warID, _ := data(t, resp)["war_id"].(string)
	require.NotEmpty(t, warID)

	resp, err = e.run("--as", "bob", "war", "show", warID)
	require.NoError(t, err)
	assert.Equal(t, "declared", data(t, resp)["status"])
	assert.Equal(t, "Border dispute", data(t, resp)["title"])

	resp, err = e.run("--as", "bob", "war", "surrender", warID)
	require.NoError(t, err)
	assert.Equal(t, "atk", data(t, resp)["winner"])
	assert.EqualValues(t, 2, data(t, resp)["cells_lost"])

	resp, err = e.run("--as", "alice", "war", "list", "atk")
	require.NoError(t, err)
	wars, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, wars, 1)

	resp, err = e.run("--as", "bob", "war", "surrender", warID)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, IsReported(err))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ALREADY_TERMINAL", resp.Error.Code)
}

func TestWarAdminCommands(t *testing.T) {
	e := newCLIEnv(t)

	resp, err := e.run("--as", "alice", "war", "declare", "def", "d1")
	require.NoError(t, err)
	warID := data(t, resp)["war_id"].(string)

	resp, err = e.run("--as", "alice", "war", "activate", warID)
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", resp.Error.Code)

	resp, err = e.run("--as", "gm", "war", "activate", warID)
	require.NoError(t, err)
	assert.Equal(t, "active", data(t, resp)["status"])

	resp, err = e.run("--as", "gm", "war", "advance", warID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, data(t, resp)["cycles_elapsed"])
}

func TestMarketCommands(t *testing.T) {
	e := newCLIEnv(t)

	resp, err := e.run("--as", "alice", "market", "place", "sell", "minerals", "--quantity", "20", "--price", "3")
	require.NoError(t, err)
	listingID := data(t, resp)["id"].(string)
	assert.Equal(t, "open", data(t, resp)["status"])

	resp, err = e.run("--as", "gm", "market", "fill", listingID, "--counterparty", "bob", "--quantity", "5")
	require.NoError(t, err)
	assert.Equal(t, "partially_filled", data(t, resp)["status"])

	resp, err = e.run("--as", "alice", "market", "list", "--status", "partially_filled")
	require.NoError(t, err)
	assert.Len(t, resp.Data, 1)

	resp, err = e.run("--as", "bob", "market", "cancel", listingID)
	require.Error(t, err)
	assert.Equal(t, "NOT_OWNER", resp.Error.Code)

	resp, err = e.run("--as", "alice", "market", "cancel", listingID)
	require.NoError(t, err)
	assert.EqualValues(t, 15, data(t, resp)["returned_quantity"])

	resp, err = e.run("--as", "alice", "balance", "currency", "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 115, data(t, resp)["balance"])

	resp, err = e.run("--as", "alice", "market", "show", listingID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", data(t, resp)["status"])
}

func TestVoteCommands(t *testing.T) {
	e := newCLIEnv(t)

	resp, err := e.run("--as", "alice", "vote", "propose", "--type", "law", "--title", "Market tax",
		"--effects", `[{"kind":"tax_rate","data":{"percent":5}}]`)
	require.NoError(t, err)
	voteID := data(t, resp)["id"].(string)
	lawID := data(t, resp)["subject_id"].(string)
	assert.Equal(t, "open", data(t, resp)["status"])

	resp, err = e.run("--as", "alice", "vote", "cast", voteID, "atk", "yes", "--reason", "revenue")
	require.NoError(t, err)
	assert.Equal(t, false, data(t, resp)["concluded"])

	resp, err = e.run("--as", "bob", "vote", "cast", voteID, "def", "yes")
	require.NoError(t, err)
	assert.Equal(t, true, data(t, resp)["concluded"])

	resp, err = e.run("--as", "bob", "vote", "show", voteID)
	require.NoError(t, err)
	assert.Len(t, data(t, resp)["ballots"], 2)

	resp, err = e.run("--as", "bob", "vote", "law", lawID)
	require.NoError(t, err)
	law := data(t, resp)["law"].(map[string]any)
	assert.Equal(t, "enacted", law["status"])

	resp, err = e.run("--as", "gm", "vote", "close-expired")
	require.NoError(t, err)
	assert.Empty(t, data(t, resp)["closed"])
}

func TestVoteProposeRejectsBadEffects(t *testing.T) {
	e := newCLIEnv(t)

	_, err := e.run("--as", "alice", "vote", "propose", "--title", "x", "--effects", "[{")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "not valid JSON")

	_, err = e.run("--as", "alice", "vote", "propose", "--title", "x", "--effects-file", "/nonexistent.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read effects file")
}

func TestRankingsCommands(t *testing.T) {
	e := newCLIEnv(t)

	resp, err := e.run("--as", "gm", "rankings", "record-summary", "1", "atk", "--production", "food=40,minerals=12", "--consumption", "food=25")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)

	resp, err = e.run("--as", "gm", "rankings", "compute", "1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, data(t, resp)["rows_written"])

	resp, err = e.run("--as", "alice", "rankings", "show", "1")
	require.NoError(t, err)
	assert.Len(t, resp.Data, 2)

	_, err = e.run("--as", "gm", "rankings", "compute", "1")
	require.NoError(t, err)
	resp, err = e.run("--as", "alice", "rankings", "show", "1")
	require.NoError(t, err)
	assert.Len(t, resp.Data, 2, "recompute does not duplicate the leaderboard")

	resp, err = e.run("--as", "alice", "rankings", "history", "atk")
	require.NoError(t, err)
	assert.Len(t, resp.Data, 2)

	_, err = e.run("--as", "gm", "rankings", "compute", "-3")
	require.Error(t, err)

	_, err = e.run("--as", "gm", "rankings", "record-summary", "2", "atk", "--production", "food=lots")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a number")
}

func TestEventsCommand(t *testing.T) {
	e := newCLIEnv(t)

	_, err := e.run("--as", "alice", "war", "declare", "def", "d1")
	require.NoError(t, err)

	resp, err := e.run("--as", "alice", "events")
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", resp.Error.Code)

	resp, err = e.run("--as", "gm", "events", "--limit", "10")
	require.NoError(t, err)
	evs, ok := resp.Data.([]any)
	require.True(t, ok)
	require.Len(t, evs, 1)
	assert.Equal(t, "war.declared", evs[0].(map[string]any)["kind"])
}

func TestBalanceTextOutput(t *testing.T) {
	e := newCLIEnv(t)

	out, err := e.exec("text", "--as", "alice", "balance", "resource", "atk", "minerals")
	require.NoError(t, err)
	assert.Contains(t, out, "resource:atk:minerals")
	assert.Contains(t, out, "balance: 50")

	out, err = e.exec("text", "--as", "bob", "balance", "currency", "alice")
	require.Error(t, err)
	assert.Contains(t, out, "Error [NOT_OWNER]")
}

func TestGameCommandRequiresActor(t *testing.T) {
	e := newCLIEnv(t)

	_, err := e.run("war", "show", "w-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--as is required")
}

func TestGameCommandBadConfig(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", "/nonexistent/toi700.yaml", "--as", "alice", "events"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestSeedCommandBadWorld(t *testing.T) {
	e := newCLIEnv(t)
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("territories:\n  - {id: x, owner: carol, cells: [a1]}\n"), 0o644))

	_, err := e.run("seed", bad)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to seed world")
}
