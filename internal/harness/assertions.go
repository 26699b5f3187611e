package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/service"
	"github.com/Tchosco/toi700game-sub002/internal/store"
)

// validIdentifier matches SQL column names accepted in where clauses.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// stateTables are the tables final_state may query.
var stateTables = []string{
	"territories",
	"cells",
	"cell_transfers",
	"wars",
	"war_cells",
	"blocs",
	"bloc_members",
	"laws",
	"legal_history",
	"eras",
	"votes",
	"vote_records",
	"market_listings",
	"tick_summaries",
	"rankings",
	"ledger_balances",
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			switch event.Type {
			case "invocation":
				fmt.Fprintf(&buf, "  [%d] %s as %s %v\n", i+1, event.Action, event.As, event.Args)
			case "completion":
				fmt.Fprintf(&buf, "  [%d]   -> %s\n", i+1, event.Case)
			}
		}
	}

	return buf.String()
}

// assertTraceContains checks for an invocation of the action whose args
// include the asserted args.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	expected, err := normalize(assertion.Args)
	if err != nil {
		return err
	}
	for _, event := range trace {
		if event.Type == "invocation" && event.Action == assertion.Action {
			if len(assertion.Args) == 0 || matchSubset(event.Args, expected) {
				return nil
			}
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", assertion.Action, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks the first invocation of each action appears in the
// given order. Other actions may come between them.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	var names []string
	for _, event := range trace {
		if event.Type == "invocation" {
			names = append(names, event.Action)
		}
	}
	if err := checkOrder(names, assertion.Actions); err != "" {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
			Actual:   err,
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceCount checks the action was invoked exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == "invocation" && event.Action == assertion.Action {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertEventOrder checks the first event of each kind appears in order.
func assertEventOrder(evs []EventSummary, assertion Assertion) error {
	kinds := make([]string, len(evs))
	for i, e := range evs {
		kinds[i] = e.Kind
	}
	if err := checkOrder(kinds, assertion.Kinds); err != "" {
		return &AssertionError{
			Type:     AssertEventOrder,
			Expected: fmt.Sprintf("events in order: %v", assertion.Kinds),
			Actual:   err,
		}
	}
	return nil
}

// assertEventCount checks exactly Count events of the kind were recorded.
func assertEventCount(evs []EventSummary, assertion Assertion) error {
	count := 0
	for _, e := range evs {
		if e.Kind == assertion.Kind {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s events", assertion.Count, assertion.Kind),
			Actual:   fmt.Sprintf("%d events", count),
		}
	}
	return nil
}

// checkOrder returns a description of the first violation, or "".
func checkOrder(seen, want []string) string {
	positions := make(map[string]int)
	for i, name := range seen {
		if _, ok := positions[name]; !ok {
			positions[name] = i + 1
		}
	}
	for _, name := range want {
		if positions[name] == 0 {
			return fmt.Sprintf("missing %s", name)
		}
	}
	for i := 1; i < len(want); i++ {
		prev, curr := want[i-1], want[i]
		if positions[prev] >= positions[curr] {
			return fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
				prev, positions[prev], curr, positions[curr])
		}
	}
	return ""
}

// assertBalance checks one ledger balance, read with admin rights.
func assertBalance(ctx context.Context, svc *service.Service, assertion Assertion) error {
	ref := assertion.Account
	acct := model.Account{Kind: model.AccountKind(ref.Kind), Owner: ref.Owner, Asset: ref.Asset}
	if acct.Kind == model.AccountCurrency && acct.Asset == "" {
		acct.Asset = model.CurrencyAsset
	}
	got, err := svc.Balance(service.WithActor(ctx, service.Actor{UserID: "harness", Admin: true}), acct)
	if err != nil {
		return &AssertionError{
			Type:     AssertBalance,
			Expected: fmt.Sprintf("balance of %s", acct),
			Actual:   fmt.Sprintf("error: %v", err),
		}
	}
	if got != assertion.Amount {
		return &AssertionError{
			Type:     AssertBalance,
			Expected: fmt.Sprintf("%s = %d", acct, assertion.Amount),
			Actual:   fmt.Sprintf("%s = %d", acct, got),
		}
	}
	return nil
}

// assertFinalState queries exactly one row and checks the expected columns.
// Values are bound as parameters; the table comes from stateTables and the
// column names must match validIdentifier.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if !slices.Contains(stateTables, assertion.Table) {
		return fmt.Errorf("table %q cannot be queried", assertion.Table)
	}
	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// buildWhereClause returns a parameterized WHERE fragment with keys sorted.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		if where[key] == nil {
			clauses = append(clauses, fmt.Sprintf("%s IS NULL", key))
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, float64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares a YAML value with a value scanned from SQLite,
// which returns INTEGER as int64, REAL as float64 and TEXT as string or
// []byte.
func stateValuesEqual(expected, actual any) bool {
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	switch exp := expected.(type) {
	case string:
		s, ok := actual.(string)
		return ok && exp == s
	case int:
		return numberEqual(float64(exp), actual)
	case int64:
		return numberEqual(float64(exp), actual)
	case float64:
		return numberEqual(exp, actual)
	case bool:
		if b, ok := actual.(bool); ok {
			return exp == b
		}
		if n, ok := actual.(int64); ok {
			return exp == (n != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

func numberEqual(exp float64, actual any) bool {
	switch a := actual.(type) {
	case int64:
		return exp == float64(a)
	case float64:
		return exp == a
	}
	return false
}

// AssertionContext gives assertions access to the world after the flow.
type AssertionContext struct {
	Store   *store.Store
	Service *service.Service
	Ctx     context.Context
}

// EvaluateAssertions evaluates every assertion and returns the failures.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertEventOrder:
			err = assertEventOrder(result.Events, assertion)
		case AssertEventCount:
			err = assertEventCount(result.Events, assertion)
		case AssertBalance:
			if actx == nil || actx.Service == nil {
				err = fmt.Errorf("assertion[%d]: balance requires a service", i)
			} else {
				err = assertBalance(actx.Ctx, actx.Service, assertion)
			}
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
