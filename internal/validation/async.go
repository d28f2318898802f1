package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/registry"
)

// KindError lets an asynchronous validator report a structured error kind
// through its error return. Any other error is a transport failure.
type KindError struct {
	Kind string
}

func (e *KindError) Error() string {
	return "validation failed: " + e.Kind
}

// Run executes an asynchronous validator against a snapshot context.
// http validators go through client.
func (v *Validator) Run(ctx context.Context, vc registry.ValidatorContext, client *HTTPClient) (string, error) {
	switch v.Type {
	case ir.ValidatorAsync:
		kind, err := v.async(ctx, vc)
		if kind != "" && v.Spec.Kind != "" {
			kind = v.Spec.Kind
		}
		return kind, err
	case ir.ValidatorHTTP:
		if client == nil {
			return "", errors.New("http validator: no HTTP client configured")
		}
		return client.Check(ctx, v.Spec.HTTP, vc, v.Kind)
	}
	return "", fmt.Errorf("%s validator is synchronous", v.Type)
}

// Result is the completion of one asynchronous validation task.
type Result struct {
	ID         string
	Generation uint64
	Kind       string
	Err        error
}

// Outcome resolves a result under the fail-open policy: transport errors
// produce no validation error unless they carry a KindError. failed reports
// whether the task ended in a transport error.
func (r Result) Outcome() (kind string, failed bool) {
	if r.Kind != "" {
		return r.Kind, false
	}
	if r.Err == nil {
		return "", false
	}
	var ke *KindError
	if errors.As(r.Err, &ke) && ke.Kind != "" {
		return ke.Kind, false
	}
	return "", true
}

// Tracker owns the generation counters and cancel functions of in-flight
// asynchronous validations. It is used from the engine goroutine only; task
// completions come back through the deliver callback.
type Tracker struct {
	runner  func(func())
	deliver func(Result)
	timeout time.Duration

	generations map[string]uint64
	cancels     map[string]context.CancelFunc
}

// NewTracker creates a tracker. runner launches a task (usually as a
// goroutine); deliver receives each completion from the task goroutine.
func NewTracker(runner func(func()), deliver func(Result), timeout time.Duration) *Tracker {
	if runner == nil {
		runner = func(fn func()) { go fn() }
	}
	return &Tracker{
		runner:      runner,
		deliver:     deliver,
		timeout:     timeout,
		generations: make(map[string]uint64),
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Dispatch supersedes any running task for id and starts a new one.
// It returns the new generation.
func (t *Tracker) Dispatch(id string, task func(ctx context.Context) (string, error)) uint64 {
	t.Cancel(id)
	gen := t.generations[id]

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if t.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), t.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	t.cancels[id] = cancel

	t.runner(func() {
		kind, err := task(ctx)
		t.deliver(Result{ID: id, Generation: gen, Kind: kind, Err: err})
	})
	return gen
}

// Cancel invalidates the current generation of id and cancels its task.
func (t *Tracker) Cancel(id string) {
	t.generations[id]++
	if cancel, ok := t.cancels[id]; ok {
		cancel()
		delete(t.cancels, id)
	}
}

// CancelPrefix cancels every task whose id starts with prefix.
func (t *Tracker) CancelPrefix(prefix string) {
	for id := range t.cancels {
		if strings.HasPrefix(id, prefix) {
			t.Cancel(id)
		}
	}
}

// CancelAll cancels every running task.
func (t *Tracker) CancelAll() {
	for id := range t.cancels {
		t.Cancel(id)
	}
}

// Accept reports whether r belongs to the current generation of its id.
// Accepted results clear the pending state.
func (t *Tracker) Accept(r Result) bool {
	if r.Generation != t.generations[r.ID] {
		return false
	}
	if cancel, ok := t.cancels[r.ID]; ok {
		cancel()
		delete(t.cancels, r.ID)
	}
	return true
}

// Pending reports whether a task for id is in flight.
func (t *Tracker) Pending(id string) bool {
	_, ok := t.cancels[id]
	return ok
}

// PendingCount returns the number of tasks in flight.
func (t *Tracker) PendingCount() int {
	return len(t.cancels)
}
