package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/fieldlogic/internal/compiler"
	"github.com/roach88/fieldlogic/internal/config"
	"github.com/roach88/fieldlogic/internal/engine"
	"github.com/roach88/fieldlogic/internal/store"
)

// taskQueue runs async validation tasks inline when drained, so one-shot
// commands see their results before printing.
type taskQueue struct {
	tasks []func()
}

func (q *taskQueue) run(fn func()) {
	q.tasks = append(q.tasks, fn)
}

// drain runs queued tasks and applies their results until the engine is
// idle.
func (q *taskQueue) drain(e *engine.Engine) {
	for {
		tasks := q.tasks
		q.tasks = nil
		for _, fn := range tasks {
			fn()
		}
		if e.ProcessPending() == 0 && len(q.tasks) == 0 {
			return
		}
	}
}

// engineParams collects what a command feeds into engine.New.
type engineParams struct {
	plan     *compiler.Plan
	settings *config.Settings
	logger   *slog.Logger
	initial  map[string]any
	external map[string]any
	journal  *store.Store
	extra    []engine.EngineOption
}

func newEngine(p engineParams) (*engine.Engine, error) {
	opts := p.settings.EngineOptions()
	opts = append(opts, engine.WithLogger(p.logger))
	if p.initial != nil {
		opts = append(opts, engine.WithInitialValue(p.initial))
	}
	if p.external != nil {
		opts = append(opts, engine.WithExternalData(p.external))
	}
	if p.journal != nil {
		opts = append(opts, engine.WithStore(p.journal))
	}
	opts = append(opts, p.extra...)
	return engine.New(p.plan, opts...)
}

// parseObject decodes a JSON object flag. An empty string yields nil.
func parseObject(flag, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid --%s JSON: %w", flag, err)
	}
	return m, nil
}

// parseAssignment splits "path=value". The value is decoded as JSON when
// possible and taken as a plain string otherwise.
func parseAssignment(raw string) (string, any, error) {
	path, text, ok := strings.Cut(raw, "=")
	if !ok || path == "" {
		return "", nil, fmt.Errorf("invalid assignment %q: want path=value", raw)
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return path, text, nil
	}
	return path, v, nil
}
