package engine

import (
	"sort"

	"github.com/roach88/fieldlogic/internal/ir"
)

// cycle carries what changed during one evaluation cycle.
//
// A cycle starts from host inputs (field paths, external keys), forced
// entries (timer fires, new array items), or a full re-evaluation, and
// accumulates every value written by derivations along the way. Later
// stages use the accumulated set to decide what to re-evaluate.
type cycle struct {
	// inputs are field paths written by the host.
	inputs []string
	// changed are inputs plus every path written by a derivation.
	changed []string
	// external are changed external data keys; "" means every key.
	external []string
	// forced entries run regardless of their dependencies and skip
	// debouncing.
	forced map[*entryInstance]bool
	// revalidate lists fields to validate regardless of what changed.
	revalidate map[*fieldInstance]bool
	// full re-evaluates every entry and validates every field.
	full bool

	history *history
}

func newCycle() *cycle {
	return &cycle{
		forced:     make(map[*entryInstance]bool),
		revalidate: make(map[*fieldInstance]bool),
		history:    newHistory(),
	}
}

func (c *cycle) input(path string) {
	c.inputs = append(c.inputs, path)
	c.changed = append(c.changed, path)
}

func (c *cycle) force(ei *entryInstance) {
	c.forced[ei] = true
}

// triggered reports whether deps were touched by this cycle's host inputs
// or derivation writes. Self reads always count for host inputs; for
// derivation writes they count only when selfWrites is set, so a derivation
// does not retrigger on its own output.
func (c *cycle) triggered(deps []dep, selfWrites bool) bool {
	for _, p := range c.inputs {
		if readsPath(deps, p, true) {
			return true
		}
	}
	for _, p := range c.changed[len(c.inputs):] {
		if readsPath(deps, p, selfWrites) {
			return true
		}
	}
	for _, k := range c.external {
		if readsExternal(deps, k) {
			return true
		}
	}
	return false
}

// valueTouched reports whether the value at path changed in this cycle.
func (c *cycle) valueTouched(path string) bool {
	for _, p := range c.changed {
		if ir.PathsOverlap(p, path) {
			return true
		}
	}
	return false
}

// history records, per derivation entry, the values it produced during one
// cycle. An entry whose new value equals its last one is stable and is not
// rescheduled; the record feeds non-convergence diagnostics.
type history struct {
	values map[string][]any
}

func newHistory() *history {
	return &history{values: make(map[string][]any)}
}

// Record appends a produced value for an entry.
func (h *history) Record(entryID string, v any) {
	h.values[entryID] = append(h.values[entryID], v)
}

// Values returns the values produced by an entry, oldest first.
func (h *history) Values(entryID string) []any {
	return h.values[entryID]
}

// Len returns the number of entries with recorded values.
func (h *history) Len() int {
	return len(h.values)
}

// runCycle evaluates one cycle to completion.
// CRITICAL: Called only from the engine goroutine - single-writer guarantee.
func (e *Engine) runCycle(c *cycle) {
	e.deriveValues(c)
	e.updateLogic(c)
	e.validate(c)
	e.updateFormLogic()
	e.publish()
}

// deriveValues runs stage 1: derivations in topological order, in passes,
// until no derivation is dirty or the pass quota is spent.
//
// Within a pass a write dirties the derivations that read the written
// path. Those later in topological order run in the same pass; those
// earlier (only possible for bidirectional pairs) run in the next one.
func (e *Engine) deriveValues(c *cycle) {
	dirty := make(map[*entryInstance]bool)
	for _, ei := range e.inst.derivations {
		if ei.frozen {
			continue
		}
		if !c.full && !c.forced[ei] && !c.triggered(ei.deps, false) {
			continue
		}
		if ei.tmpl.Debounced() && !c.forced[ei] && !c.full {
			e.schedule(ei)
			continue
		}
		dirty[ei] = true
	}

	quota := NewPassQuota(e.maxIterations)
	var lastWriters []*entryInstance
	for len(dirty) > 0 {
		if err := quota.Next(); err != nil {
			e.freeze(dirty, lastWriters, quota.Max(), c)
			return
		}
		lastWriters = lastWriters[:0]

		for _, ei := range e.inst.derivations {
			if !dirty[ei] {
				continue
			}
			delete(dirty, ei)

			path, wrote := e.evalDerivation(ei, c)
			if !wrote {
				continue
			}
			lastWriters = append(lastWriters, ei)
			c.changed = append(c.changed, path)

			for _, next := range e.inst.derivations {
				if next.frozen || next.field == ei.field || !readsPath(next.deps, path, false) {
					continue
				}
				if next.tmpl.Debounced() {
					e.schedule(next)
					continue
				}
				dirty[next] = true
			}
		}
	}
}

// evalDerivation computes one derivation and writes its value when it
// differs from the current one. It reports the written path.
func (e *Engine) evalDerivation(ei *entryInstance, c *cycle) (string, bool) {
	fi := ei.field
	ctx := e.evalContext(fi)

	active, err := ei.tmpl.Active(ctx, e.fs)
	if err != nil {
		e.raise(NewEntryError(fi.path, ei.id, err))
		return "", false
	}
	ei.active = active
	if !active {
		e.resolve(ErrCodeEntryFailed, fi.path, ei.id)
		return "", false
	}

	if len(fi.derivations) > 1 {
		var activeIDs []string
		for _, other := range fi.derivations {
			if other == ei {
				activeIDs = append(activeIDs, other.id)
				continue
			}
			if ok, err := other.tmpl.Active(ctx, e.fs); err == nil && ok {
				activeIDs = append(activeIDs, other.id)
			}
		}
		if len(activeIDs) > 1 {
			e.raise(NewConflictError(fi.path, activeIDs))
			return "", false
		}
		e.resolve(ErrCodeConflictingDerivations, fi.path, "")
	}

	v, err := ei.tmpl.Compute(ctx)
	if err != nil {
		e.raise(NewEntryError(fi.path, ei.id, err))
		return "", false
	}
	e.resolve(ErrCodeEntryFailed, fi.path, ei.id)
	c.history.Record(ei.id, v)

	current, _ := ir.GetPath(e.value, fi.path)
	if ir.Equal(current, v, e.epsilon) {
		return "", false
	}
	if err := ir.SetPath(e.value, fi.path, v); err != nil {
		e.raise(NewEntryError(fi.path, ei.id, err))
		return "", false
	}
	ei.result = v
	e.logger.Debug("derived value",
		"field", fi.path,
		"entry", ei.id,
		"value", v,
	)
	return fi.path, true
}

// freeze stops the derivations that were still changing when the pass
// quota ran out. Each keeps its last written value until the next host
// input releases it.
func (e *Engine) freeze(dirty map[*entryInstance]bool, lastWriters []*entryInstance, passes int, c *cycle) {
	frozen := make(map[*entryInstance]bool, len(dirty)+len(lastWriters))
	for ei := range dirty {
		frozen[ei] = true
	}
	for _, ei := range lastWriters {
		frozen[ei] = true
	}

	ordered := make([]*entryInstance, 0, len(frozen))
	for ei := range frozen {
		ordered = append(ordered, ei)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })

	for _, ei := range ordered {
		ei.frozen = true
		err := NewNonConvergenceError(ei.field.path, ei.id, passes)
		if vals := c.history.Values(ei.id); len(vals) > 0 {
			err.Details["last_value"] = ir.ToString(vals[len(vals)-1])
			err.Details["evaluations"] = ir.FormatNumber(float64(len(vals)))
		}
		e.raise(err)
	}
}

// release unfreezes every frozen derivation. Called on host input.
func (e *Engine) release() {
	for _, ei := range e.inst.derivations {
		if ei.frozen {
			ei.frozen = false
			e.resolve(ErrCodeNonConvergent, ei.field.path, ei.id)
		}
	}
}

// schedule (re)starts the debounce timer of an entry. Earlier pending
// fires are invalidated by the generation bump.
func (e *Engine) schedule(ei *entryInstance) {
	e.stopTimer(ei)
	ei.timerGen++
	id, gen := ei.id, ei.timerGen
	ei.timer = e.timers.AfterFunc(ei.tmpl.Debounce, func() {
		e.inbox.Enqueue(message{Type: messageTimer, EntryID: id, Generation: gen})
	})
	e.logger.Debug("debounce scheduled",
		"entry", id,
		"delay", ei.tmpl.Debounce,
	)
}

func (e *Engine) stopTimer(ei *entryInstance) {
	if ei.timer != nil {
		ei.timer.Stop()
		ei.timer = nil
	}
}

// evalContext builds the expression context for a field instance.
func (e *Engine) evalContext(fi *fieldInstance) ir.EvaluationContext {
	var fieldValue any
	if fi.tmpl.HasValue() {
		fieldValue, _ = ir.GetPath(e.value, fi.path)
	}
	return ir.EvaluationContext{
		FormValue:     scopeValue(e.value, fi.scope),
		RootFormValue: e.value,
		FieldValue:    fieldValue,
		FieldPath:     fi.path,
		ExternalData:  e.external,
	}
}
