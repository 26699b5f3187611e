package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tchosco/toi700game-sub002/internal/seed"
)

// Scenario is a scripted sequence of game operations run against a seeded
// world, with expectations on each outcome and on the final state.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// Rules is an optional CUE rules file, relative to the scenario file.
	Rules string `yaml:"rules,omitempty"`

	// Admins lists the user ids holding the admin role.
	Admins []string `yaml:"admins,omitempty"`

	// World is the seed loaded into a fresh store before the flow.
	World seed.World `yaml:"world"`

	// Flow is the sequence of operations to run.
	Flow []FlowStep `yaml:"flow"`

	// Assertions are checked once the flow has finished.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep invokes one operation as one user.
type FlowStep struct {
	// Invoke is the operation name, e.g. "war.declare" (see Actions).
	Invoke string `yaml:"invoke"`

	// As is the acting user id. Ignored by clock.advance.
	As string `yaml:"as,omitempty"`

	// Args are the operation arguments.
	Args map[string]any `yaml:"args"`

	// Expect checks the outcome. Nil expects success with any result.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause is the expected outcome of a step.
type ExpectClause struct {
	// Case is "ok" or an error code such as "INSUFFICIENT_FUNDS".
	Case string `yaml:"case"`

	// Result is matched as a subset of the JSON result.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates the trace, event log or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action and Args select invocations (trace_contains, trace_count).
	Action string         `yaml:"action,omitempty"`
	Args   map[string]any `yaml:"args,omitempty"`

	// Actions is the expected invocation order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Kind and Kinds select event log rows (event_count, event_order).
	Kind  string   `yaml:"kind,omitempty"`
	Kinds []string `yaml:"kinds,omitempty"`

	// Count is the expected number of matches (trace_count, event_count).
	Count int `yaml:"count,omitempty"`

	// Account and Amount check one ledger balance (balance).
	Account *AccountRef `yaml:"account,omitempty"`
	Amount  int64       `yaml:"amount,omitempty"`

	// Table, Where and Expect query one row (final_state).
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// AccountRef names a ledger account in a scenario.
type AccountRef struct {
	Kind  string `yaml:"kind"`
	Owner string `yaml:"owner"`
	Asset string `yaml:"asset,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertEventOrder    = "event_order"
	AssertEventCount    = "event_count"
	AssertBalance       = "balance"
	AssertFinalState    = "final_state"
)

// LoadScenario reads a scenario file. Unknown keys are rejected and the
// rules path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Rules != "" && !filepath.IsAbs(s.Rules) {
		s.Rules = filepath.Join(filepath.Dir(path), s.Rules)
	}
	if s.Rules != "" {
		if _, err := os.Stat(s.Rules); err != nil {
			return nil, fmt.Errorf("invalid scenario: rules file: %w", err)
		}
	}
	return s, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if _, ok := actions[step.Invoke]; !ok && step.Invoke != ActionClockAdvance {
			return fmt.Errorf("flow[%d]: unknown operation %q", i, step.Invoke)
		}
		if step.Args == nil {
			return fmt.Errorf("flow[%d]: args is required (use empty map if no args)", i)
		}
		if step.Invoke == ActionClockAdvance {
			if _, err := advanceBy(step.Args); err != nil {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
			continue
		}
		if step.As == "" {
			return fmt.Errorf("flow[%d]: as is required", i)
		}
		if step.Expect != nil && step.Expect.Case == "" {
			return fmt.Errorf("flow[%d].expect: case is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertEventOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for event_order", index)
		}
	case AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertBalance:
		if a.Account == nil || a.Account.Kind == "" || a.Account.Owner == "" {
			return fmt.Errorf("assertions[%d]: account with kind and owner is required for balance", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if !slices.Contains(stateTables, a.Table) {
			return fmt.Errorf("assertions[%d]: table %q cannot be queried", index, a.Table)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// advanceBy reads the duration of a clock.advance step.
func advanceBy(args map[string]any) (time.Duration, error) {
	raw, ok := args["by"].(string)
	if !ok {
		return 0, fmt.Errorf("clock.advance needs args.by as a duration string")
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("clock.advance: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("clock.advance: duration must be positive")
	}
	return d, nil
}
