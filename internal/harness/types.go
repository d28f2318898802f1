package harness

import (
	"github.com/roach88/fieldlogic/internal/engine"
)

// TraceEvent is one entry of a scenario trace: either a step action or an
// engine event.
type TraceEvent struct {
	Type   string `json:"type"` // "step" or the engine event type
	Step   int    `json:"step"`
	Action string `json:"action,omitempty"`
	Field  string `json:"field,omitempty"`
	Seq    int64  `json:"seq,omitempty"`
}

// TraceStep is the trace type of step actions.
const TraceStep = "step"

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace holds step actions and engine events in emission order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds one message per failed expectation.
	Errors []string `json:"errors,omitempty"`

	// Value is the final form value.
	Value map[string]any `json:"value"`

	// Fields is the final field-state table keyed by path.
	Fields map[string]engine.FieldState `json:"fields"`

	// Submissions lists every submit result in order.
	Submissions []engine.SubmitResult `json:"submissions,omitempty"`

	// Diagnostics lists the runtime diagnostics active at the end.
	Diagnostics []engine.RuntimeError `json:"diagnostics,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStepTrace records a step action.
func (r *Result) AddStepTrace(step int, action string) {
	r.Trace = append(r.Trace, TraceEvent{Type: TraceStep, Step: step, Action: action})
}

// AddEventTrace records an engine event.
func (r *Result) AddEventTrace(step int, ev engine.Event) {
	te := TraceEvent{Type: string(ev.Type), Step: step, Seq: ev.Seq}
	switch {
	case ev.Field != nil:
		te.Field = ev.Field.Path
	case ev.Change != nil:
		te.Action = string(ev.Change.Op)
		te.Field = ev.Change.Path
	case ev.Diagnostic != nil:
		te.Field = ev.Diagnostic.FieldPath
	}
	r.Trace = append(r.Trace, te)
}
