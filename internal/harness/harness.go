package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"time"

	"github.com/Tchosco/toi700game-sub002/internal/clock"
	"github.com/Tchosco/toi700game-sub002/internal/events"
	"github.com/Tchosco/toi700game-sub002/internal/gameerr"
	"github.com/Tchosco/toi700game-sub002/internal/ids"
	"github.com/Tchosco/toi700game-sub002/internal/rules"
	"github.com/Tchosco/toi700game-sub002/internal/seed"
	"github.com/Tchosco/toi700game-sub002/internal/service"
	"github.com/Tchosco/toi700game-sub002/internal/store"
)

// Epoch is the start time of every scenario clock.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// ActionClockAdvance moves the scenario clock forward by args.by.
const ActionClockAdvance = "clock.advance"

// Harness holds the world of one scenario run.
type Harness struct {
	store   *store.Store
	service *service.Service
	clock   *clock.Manual
	admins  []string
	logger  *slog.Logger
	seq     int64
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database. The returned error is
// reserved for failures of the harness itself (bad rules file, bad seed);
// failed expectations are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.DiscardHandler))
}

// RunWithLogger is Run with the engines logging to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	ctx := context.Background()

	r := rules.Default()
	if scenario.Rules != "" {
		var err error
		if r, err = rules.LoadFile(scenario.Rules); err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
	}

	st, err := store.Open(store.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	clk := clock.NewManual(Epoch)
	svc := service.New(st, service.Options{
		Rules:  r,
		IDs:    ids.NewSequence("id"),
		Clock:  clk,
		Logger: logger,
	})
	if err := seed.Apply(ctx, st, svc.Ledger(), scenario.World, Epoch); err != nil {
		return nil, fmt.Errorf("failed to seed world: %w", err)
	}

	h := &Harness{
		store:   st,
		service: svc,
		clock:   clk,
		admins:  scenario.Admins,
		logger:  logger,
	}

	result := NewResult()
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	evs, err := events.List(ctx, st.Queries(), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	for _, e := range evs {
		result.Events = append(result.Events, EventSummary{
			Seq:      e.Seq,
			Kind:     string(e.Kind),
			EntityID: e.EntityID,
			Actor:    e.Actor,
		})
	}

	actx := &AssertionContext{
		Store:   st,
		Service: svc,
		Ctx:     ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) nextSeq() int64 {
	h.seq++
	return h.seq
}

// executeFlow runs every step and checks its expect clause against the real
// outcome.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		args, err := normalize(step.Args)
		if err != nil {
			return fmt.Errorf("flow step %d: args: %w", i, err)
		}
		result.AddInvocationTrace(step.Invoke, step.As, args, h.nextSeq())

		if step.Invoke == ActionClockAdvance {
			d, err := advanceBy(step.Args)
			if err != nil {
				return fmt.Errorf("flow step %d: %w", i, err)
			}
			h.clock.Advance(d)
			result.AddCompletionTrace(CaseOK, nil, h.nextSeq())
			continue
		}

		outcome, res, err := h.invoke(ctx, step)
		if err != nil {
			return fmt.Errorf("flow step %d (%s): %w", i, step.Invoke, err)
		}
		result.AddCompletionTrace(outcome, res, h.nextSeq())

		h.logger.Debug("flow step completed",
			"step", i,
			"action", step.Invoke,
			"as", step.As,
			"case", outcome,
		)

		if msg := checkExpect(i, step, outcome, res); msg != "" {
			result.AddError(msg)
		}
	}
	return nil
}

// invoke runs one operation. Game errors become the outcome case; any other
// error aborts the run.
func (h *Harness) invoke(ctx context.Context, step FlowStep) (string, any, error) {
	act := actions[step.Invoke]
	raw, err := json.Marshal(step.Args)
	if err != nil {
		return "", nil, fmt.Errorf("encode args: %w", err)
	}

	ctx = service.WithActor(ctx, service.Actor{
		UserID: step.As,
		Admin:  slices.Contains(h.admins, step.As),
	})
	out, err := act(ctx, h.service, raw)
	if err != nil {
		if gerr, ok := gameerr.As(err); ok {
			return string(gerr.Code), nil, nil
		}
		return "", nil, err
	}
	res, err := normalize(out)
	if err != nil {
		return "", nil, fmt.Errorf("encode result: %w", err)
	}
	return CaseOK, res, nil
}

func checkExpect(index int, step FlowStep, outcome string, res any) string {
	want := CaseOK
	if step.Expect != nil {
		want = step.Expect.Case
	}
	if outcome != want {
		return fmt.Sprintf("flow[%d] %s: expected case %q, got %q", index, step.Invoke, want, outcome)
	}
	if step.Expect == nil || len(step.Expect.Result) == 0 {
		return ""
	}
	expected, err := normalize(step.Expect.Result)
	if err != nil {
		return fmt.Sprintf("flow[%d] %s: expected result: %v", index, step.Invoke, err)
	}
	if !matchSubset(res, expected) {
		return fmt.Sprintf("flow[%d] %s: expected result %v, got %v", index, step.Invoke, expected, res)
	}
	return ""
}

// normalize converts v to its JSON data model (maps, slices, float64,
// string, bool, nil) so YAML input and typed results compare alike.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// matchSubset reports whether every key of expected is present in actual
// with an equal value. Nested objects match by subset too.
func matchSubset(actual, expected any) bool {
	em, ok := expected.(map[string]any)
	if !ok {
		return reflect.DeepEqual(actual, expected)
	}
	am, ok := actual.(map[string]any)
	if !ok {
		return false
	}
	for k, ev := range em {
		av, ok := am[k]
		if !ok || !matchSubset(av, ev) {
			return false
		}
	}
	return true
}

// decodeArgs decodes raw step args into a request, rejecting unknown keys.
func decodeArgs[T any](raw json.RawMessage) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, gameerr.New(gameerr.CodeValidation, "", "args: %v", err)
	}
	return v, nil
}
