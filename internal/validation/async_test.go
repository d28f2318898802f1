package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/registry"
)

// manualRunner queues tasks instead of starting goroutines so tests control
// completion order.
type manualRunner struct {
	tasks []func()
}

func (m *manualRunner) run(fn func()) { m.tasks = append(m.tasks, fn) }

func (m *manualRunner) runAt(i int) { m.tasks[i]() }

// ===== Tracker =====

func TestTrackerDiscardsSupersededResults(t *testing.T) {
	runner := &manualRunner{}
	var delivered []Result
	tr := NewTracker(runner.run, func(r Result) { delivered = append(delivered, r) }, 0)

	tr.Dispatch("email#0", func(context.Context) (string, error) { return "taken", nil })
	tr.Dispatch("email#0", func(context.Context) (string, error) { return "", nil })
	require.Len(t, runner.tasks, 2)
	assert.True(t, tr.Pending("email#0"))

	// The first task finishes after it was superseded.
	runner.runAt(0)
	runner.runAt(1)
	require.Len(t, delivered, 2)

	assert.False(t, tr.Accept(delivered[0]), "stale generation must be rejected")
	assert.True(t, tr.Accept(delivered[1]))
	assert.False(t, tr.Pending("email#0"))
	assert.Equal(t, 0, tr.PendingCount())
}

func TestTrackerCancelPropagatesToContext(t *testing.T) {
	runner := &manualRunner{}
	var delivered []Result
	tr := NewTracker(runner.run, func(r Result) { delivered = append(delivered, r) }, 0)

	tr.Dispatch("users.0.email#0", func(ctx context.Context) (string, error) {
		return "", ctx.Err()
	})
	tr.Dispatch("users.1.email#0", func(ctx context.Context) (string, error) {
		return "", ctx.Err()
	})
	tr.CancelPrefix("users.0.")
	assert.Equal(t, 1, tr.PendingCount())

	runner.runAt(0)
	runner.runAt(1)
	require.Len(t, delivered, 2)
	assert.ErrorIs(t, delivered[0].Err, context.Canceled)
	assert.False(t, tr.Accept(delivered[0]))
	assert.NoError(t, delivered[1].Err)
	assert.True(t, tr.Accept(delivered[1]))
}

func TestTrackerTimeout(t *testing.T) {
	done := make(chan Result, 1)
	tr := NewTracker(nil, func(r Result) { done <- r }, 10*time.Millisecond)

	tr.Dispatch("slow#0", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	select {
	case r := <-done:
		assert.ErrorIs(t, r.Err, context.DeadlineExceeded)
		kind, failed := r.Outcome()
		assert.Empty(t, kind)
		assert.True(t, failed)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not time out")
	}
}

func TestTrackerCancelAll(t *testing.T) {
	runner := &manualRunner{}
	tr := NewTracker(runner.run, func(Result) {}, 0)
	tr.Dispatch("a#0", func(context.Context) (string, error) { return "", nil })
	tr.Dispatch("b#0", func(context.Context) (string, error) { return "", nil })
	tr.CancelAll()
	assert.Equal(t, 0, tr.PendingCount())
}

// ===== Outcome =====

func TestResultOutcomeFailOpen(t *testing.T) {
	tests := []struct {
		name       string
		result     Result
		wantKind   string
		wantFailed bool
	}{
		{"valid", Result{}, "", false},
		{"kind", Result{Kind: "usernameTaken"}, "usernameTaken", false},
		{"transport error", Result{Err: errors.New("connection refused")}, "", true},
		{"kind error", Result{Err: &KindError{Kind: "blocked"}}, "blocked", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, failed := tt.result.Outcome()
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantFailed, failed)
		})
	}
}

// ===== Run =====

func TestRunAsyncValidator(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.RegisterAsyncValidator("uniqueUsername", func(_ context.Context, vc registry.ValidatorContext) (string, error) {
		if vc.Value() == "admin" {
			return "taken", nil
		}
		return "", nil
	}))
	v := mustCompile(t, ir.ValidatorSpec{Type: ir.ValidatorAsync, FunctionName: "uniqueUsername", Kind: "usernameTaken"}, reg)
	require.True(t, v.IsAsync())

	kind, err := v.Run(context.Background(), NewFieldContext(map[string]any{"username": "admin"}, nil, "username", ""), nil)
	require.NoError(t, err)
	assert.Equal(t, "usernameTaken", kind)

	kind, err = v.Run(context.Background(), NewFieldContext(map[string]any{"username": "ada"}, nil, "username", ""), nil)
	require.NoError(t, err)
	assert.Empty(t, kind)
}

func TestRunHTTPWithoutClient(t *testing.T) {
	v := mustCompile(t, ir.ValidatorSpec{Type: ir.ValidatorHTTP, HTTP: &ir.HTTPRequest{URL: "http://localhost"}}, nil)
	_, err := v.Run(context.Background(), NewFieldContext(map[string]any{}, nil, "x", ""), nil)
	assert.Error(t, err)
}

func TestCheckRejectsAsync(t *testing.T) {
	v := mustCompile(t, ir.ValidatorSpec{Type: ir.ValidatorHTTP, HTTP: &ir.HTTPRequest{URL: "http://localhost"}}, nil)
	_, err := v.Check(NewFieldContext(map[string]any{}, nil, "x", ""))
	assert.Error(t, err)
}
