package harness

// Trace event types.
const (
	EventStep       = "step"
	EventDelivery   = "delivery"
	EventTransition = "transition"
	EventIndicator  = "indicator"
)

// OutcomeOK is the outcome of a step that returned no error.
const OutcomeOK = "ok"

// TraceEvent is one thing that happened during a run: a step, or a callback
// an observer received.
type TraceEvent struct {
	Seq        int64          `json:"seq"`
	AtMS       int64          `json:"at_ms"` // milliseconds since the scenario started
	Type       string         `json:"type"`
	Op         string         `json:"op,omitempty"`
	Subscriber string         `json:"subscriber,omitempty"`
	Outcome    string         `json:"outcome,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds steps and observer callbacks in the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds the final "context" summary and engine "stats".
	State map[string]any `json:"state,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]any),
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// add appends ev with the next sequence number and returns its index.
func (r *Result) add(ev TraceEvent) int {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
	return len(r.Trace) - 1
}
