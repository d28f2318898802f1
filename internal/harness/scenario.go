package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines one form scenario: a configuration, a starting state,
// and a sequence of host inputs with expected outcomes.
type Scenario struct {
	// Name uniquely identifies this scenario. It is also the journal
	// session id and the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is the path of a YAML, JSON or CUE form configuration.
	// Relative paths resolve from the scenario file.
	Config string `yaml:"config,omitempty"`

	// Form is an inline configuration, used when Config is empty.
	Form map[string]any `yaml:"form,omitempty"`

	// Initial seeds the form value; External seeds external data.
	Initial  map[string]any `yaml:"initial,omitempty"`
	External map[string]any `yaml:"external,omitempty"`

	// Functions registers custom functions the configuration references.
	Functions []FunctionSpec `yaml:"functions,omitempty"`

	// MaxIterations overrides the derivation pass cap.
	MaxIterations int `yaml:"max_iterations,omitempty"`

	// ManualAsync keeps async validators queued until a runAsync step.
	ManualAsync bool `yaml:"manual_async,omitempty"`

	// IDPrefix prefixes submission ids. Default "sub".
	IDPrefix string `yaml:"id_prefix,omitempty"`

	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the journal after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// FunctionSpec declares a registry function backed by data instead of code.
//
// Derivations, property derivations and conditions evaluate Expression.
// Validators fail with Kind when the value is in Reject, or differs from
// the field at MatchField. Async validators also honor Fail.
type FunctionSpec struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Expression string `yaml:"expression,omitempty"`
	Kind       string `yaml:"kind,omitempty"`
	Reject     []any  `yaml:"reject,omitempty"`
	MatchField string `yaml:"matchField,omitempty"`
	// Fail makes an async validator return a transport error.
	Fail bool `yaml:"fail,omitempty"`
}

// Function types.
const (
	FuncDerivation         = "derivation"
	FuncPropertyDerivation = "propertyDerivation"
	FuncCondition          = "condition"
	FuncValidator          = "validator"
	FuncAsyncValidator     = "asyncValidator"
)

// Step is one host input and its expected outcome.
type Step struct {
	Set          *SetStep      `yaml:"set,omitempty"`
	SetExternal  *ExternalStep `yaml:"setExternal,omitempty"`
	AddItem      *ItemStep     `yaml:"addItem,omitempty"`
	RemoveItem   *ItemStep     `yaml:"removeItem,omitempty"`
	Advance      string        `yaml:"advance,omitempty"`
	Submit       bool          `yaml:"submit,omitempty"`
	FinishSubmit bool          `yaml:"finishSubmit,omitempty"`
	Reset        bool          `yaml:"reset,omitempty"`
	Clear        bool          `yaml:"clear,omitempty"`
	Flush        bool          `yaml:"flush,omitempty"`
	Refresh      string        `yaml:"refresh,omitempty"`
	RunAsync     bool          `yaml:"runAsync,omitempty"`

	// Expect is checked after the step settles. Nil checks nothing.
	Expect *Expect `yaml:"expect,omitempty"`
}

// SetStep sets a field value.
type SetStep struct {
	Path  string `yaml:"path"`
	Value any    `yaml:"value"`
}

// ExternalStep sets one external data key.
type ExternalStep struct {
	Key   string `yaml:"key"`
	Value any    `yaml:"value"`
}

// ItemStep adds an item to, or removes one from, an array field.
type ItemStep struct {
	Path  string `yaml:"path"`
	Value any    `yaml:"value,omitempty"`
	Index int    `yaml:"index,omitempty"`
}

// Action returns the name of the step's action, or "" for a check-only step.
func (s *Step) Action() string {
	names := s.actions()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func (s *Step) actions() []string {
	var names []string
	add := func(set bool, name string) {
		if set {
			names = append(names, name)
		}
	}
	add(s.Set != nil, "set")
	add(s.SetExternal != nil, "setExternal")
	add(s.AddItem != nil, "addItem")
	add(s.RemoveItem != nil, "removeItem")
	add(s.Advance != "", "advance")
	add(s.Submit, "submit")
	add(s.FinishSubmit, "finishSubmit")
	add(s.Reset, "reset")
	add(s.Clear, "clear")
	add(s.Flush, "flush")
	add(s.Refresh != "", "refresh")
	add(s.RunAsync, "runAsync")
	return names
}

// Expect lists the state checks made after a step. Unset parts are not
// checked. An empty list (errors: []) checks for none.
type Expect struct {
	// Values maps field paths to expected values; null is a valid
	// expectation.
	Values map[string]any `yaml:"values,omitempty"`

	// Fields maps field paths to expected state flags.
	Fields map[string]FieldExpect `yaml:"fields,omitempty"`

	External map[string]any `yaml:"external,omitempty"`

	Valid      *bool `yaml:"valid,omitempty"`
	Submitting *bool `yaml:"submitting,omitempty"`

	// Submit checks the result of a submit step.
	Submit *SubmitExpect `yaml:"submit,omitempty"`

	// Diagnostics lists the codes of active runtime diagnostics.
	Diagnostics []string `yaml:"diagnostics,omitempty"`

	// Error is a substring of the error the step's host call returned.
	Error string `yaml:"error,omitempty"`
}

// FieldExpect is a subset match on one field's state.
type FieldExpect struct {
	Hidden   *bool          `yaml:"hidden,omitempty"`
	Disabled *bool          `yaml:"disabled,omitempty"`
	Readonly *bool          `yaml:"readonly,omitempty"`
	Required *bool          `yaml:"required,omitempty"`
	Pending  *bool          `yaml:"pending,omitempty"`
	Errors   []string       `yaml:"errors,omitempty"`
	Messages []string       `yaml:"messages,omitempty"`
	Props    map[string]any `yaml:"props,omitempty"`
}

// SubmitExpect checks a submit result.
type SubmitExpect struct {
	ID      string              `yaml:"id,omitempty"`
	Valid   *bool               `yaml:"valid,omitempty"`
	Pending *bool               `yaml:"pending,omitempty"`
	Errors  map[string][]string `yaml:"errors,omitempty"`
}

// Assertion validates the trace or the journal after the last step.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Event is an engine event type (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Field narrows trace matches to one field path.
	Field string `yaml:"field,omitempty"`

	// Events is the expected event order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of matches (trace_count).
	Count int `yaml:"count,omitempty"`

	// Table is the journal table name (final_state).
	Table string `yaml:"table,omitempty"`

	// Where filters journal rows; the session filter is implied.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect holds expected column values (final_state), subset match.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. A relative config
// path is resolved from the scenario's directory. Unknown keys are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Config != "" && !filepath.IsAbs(scenario.Config) {
		scenario.Config = filepath.Join(filepath.Dir(path), scenario.Config)
	}
	if scenario.Config != "" {
		if _, err := os.Stat(scenario.Config); err != nil {
			return nil, fmt.Errorf("invalid scenario: config file not found: %s", scenario.Config)
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML. Config paths are left as written.
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

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if (s.Config == "") == (s.Form == nil) {
		return fmt.Errorf("exactly one of config or form is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, fn := range s.Functions {
		if fn.Name == "" {
			return fmt.Errorf("functions[%d]: name is required", i)
		}
		switch fn.Type {
		case FuncDerivation, FuncPropertyDerivation, FuncCondition:
			if fn.Expression == "" {
				return fmt.Errorf("functions[%d]: %s needs an expression", i, fn.Type)
			}
		case FuncValidator, FuncAsyncValidator:
			if fn.Kind == "" {
				return fmt.Errorf("functions[%d]: %s needs a kind", i, fn.Type)
			}
		default:
			return fmt.Errorf("functions[%d]: unknown type %q", i, fn.Type)
		}
	}

	for i := range s.Steps {
		step := &s.Steps[i]
		names := step.actions()
		if len(names) > 1 {
			return fmt.Errorf("steps[%d]: one action per step, got %v", i, names)
		}
		if len(names) == 0 && step.Expect == nil {
			return fmt.Errorf("steps[%d]: needs an action or an expect clause", i)
		}
		if step.Advance != "" {
			if _, err := time.ParseDuration(step.Advance); err != nil {
				return fmt.Errorf("steps[%d]: advance: %w", i, err)
			}
		}
		if step.Set != nil && step.Set.Path == "" {
			return fmt.Errorf("steps[%d]: set needs a path", i)
		}
		if step.SetExternal != nil && step.SetExternal.Key == "" {
			return fmt.Errorf("steps[%d]: setExternal needs a key", i)
		}
		for _, item := range []*ItemStep{step.AddItem, step.RemoveItem} {
			if item != nil && item.Path == "" {
				return fmt.Errorf("steps[%d]: %s needs a path", i, names[0])
			}
		}
		if step.RunAsync && !s.ManualAsync {
			return fmt.Errorf("steps[%d]: runAsync requires manual_async", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
