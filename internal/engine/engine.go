package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/fieldlogic/internal/compiler"
	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/store"
	"github.com/roach88/fieldlogic/internal/validation"
)

// Engine is the runtime of one form instance.
//
// The engine owns the form value, the external data map, and the
// field-state table. Every host input runs one evaluation cycle to
// completion before returning: derivations in topological order until they
// settle, then boolean and property logic, then validation, then button
// form-state logic, then events.
//
// Thread-safety model:
//   - The mutating API (SetValue, Submit, ...) and the readers (State,
//     Value, ...) must be called from one goroutine at a time.
//   - Async validator completions and debounce timer fires arrive on other
//     goroutines and are queued in the inbox. They are applied by Run, or
//     by ProcessPending when the host drives the engine itself.
//   - While Run is active, other goroutines use Do to run API calls on the
//     engine goroutine.
//
// INVARIANTS:
//   - Plan.Derivations order NEVER changes after construction
//   - An error raised while validating field X is attributed to X
//   - Stale async results and timer fires are discarded by generation
type Engine struct {
	plan       *compiler.Plan
	logger     *slog.Logger
	clock      *Clock
	ids        IDGenerator
	timers     Timers
	inbox      *inbox
	tracker    *validation.Tracker
	httpClient *validation.HTTPClient
	store      *store.Store
	storeCtx   context.Context
	sessionID  string

	maxIterations int
	epsilon       float64
	asyncTimeout  time.Duration
	runner        func(func())

	initial  map[string]any
	value    map[string]any
	external map[string]any
	inst     *instances
	fs       formState

	submitting  bool
	diagnostics map[string]*RuntimeError
	published   map[string]FieldState
	listeners   []listener
	nextHandle  int
}

// DefaultEpsilon is the default numeric tolerance below which a derived
// value counts as unchanged.
const DefaultEpsilon = 1e-9

// DefaultAsyncTimeout bounds each async validation task.
const DefaultAsyncTimeout = 10 * time.Second

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMaxIterations sets the derivation pass cap per cycle.
//
// Default: 20 passes (DefaultMaxIterations).
func WithMaxIterations(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithEpsilon sets the numeric tolerance for derived value stability.
func WithEpsilon(eps float64) EngineOption {
	return func(e *Engine) {
		if eps >= 0 {
			e.epsilon = eps
		}
	}
}

// WithInitialValue seeds the form value. Configured defaults fill any
// field the map does not set. Reset returns to this value.
func WithInitialValue(v map[string]any) EngineOption {
	return func(e *Engine) {
		e.initial = ir.CloneMap(v)
	}
}

// WithExternalData seeds the external data map.
func WithExternalData(m map[string]any) EngineOption {
	return func(e *Engine) {
		e.external = ir.CloneMap(m)
	}
}

// WithTimers replaces the debounce timer source.
func WithTimers(t Timers) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.timers = t
		}
	}
}

// WithTaskRunner sets how async validation tasks are launched.
// Default: one goroutine per task.
func WithTaskRunner(run func(func())) EngineOption {
	return func(e *Engine) {
		e.runner = run
	}
}

// WithAsyncTimeout bounds every async validation task. Zero disables the
// timeout.
func WithAsyncTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.asyncTimeout = d
	}
}

// WithHTTPClient sets the client used by http validators.
func WithHTTPClient(c *validation.HTTPClient) EngineOption {
	return func(e *Engine) {
		e.httpClient = c
	}
}

// WithIDGenerator sets the session and submission ID source.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		if g != nil {
			e.ids = g
		}
	}
}

// WithClock sets the logical clock. Used by replay.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithStore journals the session to s: every host input, submission and
// diagnostic. Journal write failures are logged and do not stop the engine.
func WithStore(s *store.Store) EngineOption {
	return func(e *Engine) {
		e.store = s
	}
}

// WithSessionID fixes the journal session ID instead of generating one.
func WithSessionID(id string) EngineOption {
	return func(e *Engine) {
		e.sessionID = id
	}
}

// New instantiates a compiled plan and runs the first evaluation cycle.
//
// Options can be passed to configure the engine (e.g., WithInitialValue,
// WithMaxIterations).
func New(plan *compiler.Plan, opts ...EngineOption) (*Engine, error) {
	if plan == nil {
		return nil, errors.New("engine: nil plan")
	}

	e := &Engine{
		plan:          plan,
		logger:        slog.Default(),
		clock:         NewClock(),
		ids:           UUIDv7Generator{},
		timers:        RealTimers{},
		inbox:         newInbox(),
		storeCtx:      context.Background(),
		maxIterations: DefaultMaxIterations,
		epsilon:       DefaultEpsilon,
		asyncTimeout:  DefaultAsyncTimeout,
		diagnostics:   make(map[string]*RuntimeError),
		published:     make(map[string]FieldState),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.fs = formState{e}

	if e.httpClient == nil {
		e.httpClient = validation.NewHTTPClient(nil, 0, 0)
	}
	e.tracker = validation.NewTracker(e.runner, e.deliver, e.asyncTimeout)

	initial, ok := ir.Normalize(orEmpty(e.initial)).(map[string]any)
	if !ok {
		return nil, errors.New("engine: initial value is not an object")
	}
	fillDefaults(plan.Roots(), initial)
	e.initial = initial
	e.value = ir.CloneMap(initial)
	external, _ := ir.Normalize(orEmpty(e.external)).(map[string]any)
	e.external = external

	if e.sessionID == "" {
		e.sessionID = e.ids.Generate()
	}
	if e.store != nil {
		err := e.store.WriteSession(e.storeCtx, ir.Session{
			ID:         e.sessionID,
			ConfigHash: plan.Hash,
			Initial:    e.initial,
			External:   e.external,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}

	e.inst = buildInstances(plan, e.value)
	e.logger.Info("engine instantiated",
		"session", e.sessionID,
		"config_hash", plan.Hash,
		"fields", len(e.inst.order),
		"entries", len(e.inst.entryOrder),
	)

	c := newCycle()
	c.full = true
	e.runCycle(c)
	return e, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// SessionID returns the journal session identifier.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Plan returns the compiled plan the engine runs.
func (e *Engine) Plan() *compiler.Plan {
	return e.plan
}

// deliver is the Tracker completion callback. It runs on task goroutines.
func (e *Engine) deliver(r validation.Result) {
	e.inbox.Enqueue(message{Type: messageAsyncResult, Result: r})
}

// Run starts the engine loop that applies queued async results, timer
// fires, and Do commands. Blocks until ctx is cancelled or Close is called.
//
// CRITICAL: Must be called from exactly ONE goroutine, and no other
// goroutine may call the engine API directly while it runs.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine loop starting", "session", e.sessionID)

	for {
		if m, ok := e.inbox.TryDequeue(); ok {
			e.handle(m)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine loop stopping: context cancelled")
			e.shutdown()
			return ctx.Err()

		case <-e.inbox.Wait():
			// The signal channel closes with the inbox, so a closed and
			// empty inbox ends the loop.
			if e.inbox.Closed() && e.inbox.Len() == 0 {
				e.logger.Info("engine loop stopping: inbox closed")
				e.shutdown()
				return nil
			}
		}
	}
}

// Close stops the engine: Run returns, pending async tasks are cancelled,
// and debounce timers are stopped.
func (e *Engine) Close() {
	e.inbox.Close()
}

func (e *Engine) shutdown() {
	e.tracker.CancelAll()
	for _, ei := range e.inst.entryOrder {
		e.stopTimer(ei)
	}
}

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("engine closed")

// Do runs fn on the engine goroutine and waits for it to finish. It is the
// only safe way to use the engine from other goroutines while Run is
// active.
func (e *Engine) Do(ctx context.Context, fn func(*Engine)) error {
	done := make(chan struct{})
	if !e.inbox.Enqueue(message{Type: messageCommand, Command: fn, Done: done}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProcessPending applies every queued async result and timer fire without
// blocking. It returns the number of messages handled. Hosts that do not
// call Run use it to pump the engine.
func (e *Engine) ProcessPending() int {
	n := 0
	for {
		m, ok := e.inbox.TryDequeue()
		if !ok {
			return n
		}
		e.handle(m)
		n++
	}
}

// handle routes an inbox message.
// CRITICAL: Called only from the engine goroutine - single-writer guarantee.
func (e *Engine) handle(m message) {
	switch m.Type {
	case messageAsyncResult:
		e.applyAsyncResult(m.Result)

	case messageTimer:
		ei, ok := e.inst.entries[m.EntryID]
		if !ok || ei.timerGen != m.Generation {
			e.logger.Debug("timer fire discarded",
				"entry", m.EntryID,
				"generation", m.Generation,
				"code", ErrCodeStaleResult,
			)
			return
		}
		ei.timer = nil
		_ = e.fire(ei.id)

	case messageCommand:
		if m.Command != nil {
			m.Command(e)
		}
		if m.Done != nil {
			close(m.Done)
		}

	default:
		e.logger.Error("unknown inbox message", "type", int(m.Type))
	}
}

// field returns the instance at path.
func (e *Engine) field(path string) (*fieldInstance, bool) {
	fi, ok := e.inst.fields[path]
	return fi, ok
}

// rebuild re-instantiates fields after a structural change. State of
// instances under the invalidated prefixes is dropped and their timers and
// async tasks are cancelled.
func (e *Engine) rebuild(invalidated ...string) {
	prev := e.inst
	e.inst = buildInstances(e.plan, e.value)
	for _, ei := range e.inst.carryOver(prev, invalidated) {
		e.stopTimer(ei)
	}
	for _, p := range invalidated {
		e.tracker.CancelPrefix(p + ".")
		e.tracker.CancelPrefix(p + asyncSep)
	}
	for path := range e.published {
		if _, ok := e.inst.fields[path]; !ok {
			delete(e.published, path)
		}
	}
	for key, d := range e.diagnostics {
		if d.FieldPath == "" {
			continue
		}
		if _, ok := e.inst.fields[d.FieldPath]; ok && !underAny(d.FieldPath, invalidated) {
			continue
		}
		delete(e.diagnostics, key)
	}
}

func underAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if ir.HasPathPrefix(path, p) {
			return true
		}
	}
	return false
}
