package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldlogic/internal/compiler"
	"github.com/roach88/fieldlogic/internal/engine"
	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/store"
	"github.com/roach88/fieldlogic/internal/testutil"
)

// Harness drives one engine through a scenario.
type Harness struct {
	scenario *Scenario
	engine   *engine.Engine
	store    *store.Store
	timers   *testutil.FakeTimers
	tasks    []func()
	logger   *slog.Logger
	result   *Result
	step     int
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger sets the harness and engine logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// CompileScenario loads and compiles the scenario's form configuration
// with a registry of its declared functions.
func CompileScenario(s *Scenario) (*compiler.Plan, error) {
	var cfg *ir.FormConfig
	var err error
	if s.Config != "" {
		cfg, err = compiler.LoadFile(s.Config)
	} else {
		var data []byte
		data, err = yaml.Marshal(s.Form)
		if err != nil {
			return nil, fmt.Errorf("inline form: %w", err)
		}
		cfg, err = compiler.LoadYAML(data)
	}
	if err != nil {
		return nil, err
	}

	reg, err := BuildRegistry(s.Functions)
	if err != nil {
		return nil, err
	}
	return compiler.Compile(cfg, reg)
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory journal with fake timers and
// sequential ids, so the same scenario always produces the same result.
//
// Execution flow:
// 1. Compile the configuration and instantiate the engine
// 2. Apply each step, settle timers and async work, check its expect clause
// 3. Evaluate assertions against the trace and the journal
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	plan, err := CompileScenario(scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to compile config: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		scenario: scenario,
		store:    st,
		timers:   testutil.NewFakeTimers(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:   NewResult(),
	}
	for _, opt := range opts {
		opt(h)
	}

	prefix := scenario.IDPrefix
	if prefix == "" {
		prefix = "sub"
	}
	engineOpts := []engine.EngineOption{
		engine.WithLogger(h.logger),
		engine.WithTimers(h.timers),
		engine.WithIDGenerator(testutil.NewSequentialIDs(prefix)),
		engine.WithTaskRunner(h.queueTask),
		engine.WithStore(st),
		engine.WithSessionID(scenario.Name),
		engine.WithInitialValue(scenario.Initial),
		engine.WithExternalData(scenario.External),
	}
	if scenario.MaxIterations > 0 {
		engineOpts = append(engineOpts, engine.WithMaxIterations(scenario.MaxIterations))
	}

	eng, err := engine.New(plan, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate engine: %w", err)
	}
	defer eng.Close()
	h.engine = eng
	eng.Subscribe(func(ev engine.Event) {
		h.result.AddEventTrace(h.step, ev)
	})
	h.settle()

	for i := range scenario.Steps {
		h.step = i
		h.runStep(i, &scenario.Steps[i])
	}

	h.result.Value = eng.Value()
	h.result.Fields = eng.State()
	h.result.Diagnostics = eng.Diagnostics()

	actx := &AssertionContext{
		Store:     st,
		Ctx:       context.Background(),
		SessionID: scenario.Name,
	}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) queueTask(fn func()) {
	h.tasks = append(h.tasks, fn)
}

// runAsync runs queued async tasks, including any their results trigger,
// and applies the results.
func (h *Harness) runAsync() {
	for len(h.tasks) > 0 {
		tasks := h.tasks
		h.tasks = nil
		for _, fn := range tasks {
			fn()
		}
		h.engine.ProcessPending()
	}
}

// settle applies queued timer fires and, unless async work is manual,
// runs queued validators.
func (h *Harness) settle() {
	h.engine.ProcessPending()
	if !h.scenario.ManualAsync {
		h.runAsync()
	}
}

// runStep applies one step and checks its expect clause.
func (h *Harness) runStep(i int, step *Step) {
	action := step.Action()
	var stepErr error
	var submit *engine.SubmitResult

	switch {
	case step.Set != nil:
		stepErr = h.engine.SetValue(step.Set.Path, step.Set.Value)
	case step.SetExternal != nil:
		stepErr = h.engine.SetExternalData(step.SetExternal.Key, step.SetExternal.Value)
	case step.AddItem != nil:
		_, stepErr = h.engine.AddArrayItem(step.AddItem.Path, step.AddItem.Value)
	case step.RemoveItem != nil:
		stepErr = h.engine.RemoveArrayItem(step.RemoveItem.Path, step.RemoveItem.Index)
	case step.Advance != "":
		d, _ := time.ParseDuration(step.Advance)
		h.timers.Advance(d)
	case step.Submit:
		res := h.engine.Submit()
		submit = &res
		h.result.Submissions = append(h.result.Submissions, res)
	case step.FinishSubmit:
		h.engine.FinishSubmit()
	case step.Reset:
		h.engine.Reset()
	case step.Clear:
		h.engine.Clear()
	case step.Flush:
		h.engine.Flush()
	case step.Refresh != "":
		stepErr = h.engine.Refresh(step.Refresh)
	case step.RunAsync:
		h.runAsync()
	}
	if action != "" {
		h.result.AddStepTrace(i, action)
	}
	h.settle()

	h.logger.Info("scenario step completed",
		"scenario", h.scenario.Name,
		"step", i,
		"action", action,
		"error", stepErr,
	)

	if step.Expect == nil {
		if stepErr != nil {
			h.result.AddError(fmt.Sprintf("step %d (%s): unexpected error: %v", i, action, stepErr))
		}
		return
	}
	for _, msg := range checkExpect(h.engine, step.Expect, stepErr, submit) {
		h.result.AddError(fmt.Sprintf("step %d (%s): %s", i, action, msg))
	}
}
