package harness

// Outcome case of a successful step.
const CaseOK = "ok"

// TraceEvent is one invocation or completion recorded while running a flow.
type TraceEvent struct {
	Type   string `json:"type"` // "invocation" or "completion"
	Seq    int64  `json:"seq"`
	Action string `json:"action,omitempty"`
	As     string `json:"as,omitempty"`
	Args   any    `json:"args,omitempty"`
	Case   string `json:"case,omitempty"`
	Result any    `json:"result,omitempty"`
}

// EventSummary is an event log row without its payload.
type EventSummary struct {
	Seq      int64  `json:"seq"`
	Kind     string `json:"kind"`
	EntityID string `json:"entity_id"`
	Actor    string `json:"actor,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds the flow invocations and completions in order.
	Trace []TraceEvent `json:"trace"`

	// Events is the event log written by the operations, in order.
	Events []EventSummary `json:"events"`

	// Errors lists failed expectations. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Events: []EventSummary{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddInvocationTrace records an invocation.
func (r *Result) AddInvocationTrace(action, as string, args any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   "invocation",
		Seq:    seq,
		Action: action,
		As:     as,
		Args:   args,
	})
}

// AddCompletionTrace records the outcome of the preceding invocation.
func (r *Result) AddCompletionTrace(outcome string, result any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   "completion",
		Seq:    seq,
		Case:   outcome,
		Result: result,
	})
}
