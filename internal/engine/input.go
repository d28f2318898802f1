package engine

import (
	"fmt"
	"strconv"

	"github.com/roach88/fieldlogic/internal/ir"
)

// SubmitResult is the outcome of Submit.
type SubmitResult struct {
	ID    string         `json:"id"`
	Seq   int64          `json:"seq"`
	Value map[string]any `json:"value"`
	Valid bool           `json:"valid"`
	// Errors maps field paths to their error kinds.
	Errors map[string][]string `json:"errors,omitempty"`
	// Pending is set when async validation was still running; such a
	// submit is never valid.
	Pending bool `json:"pending,omitempty"`
}

// SetValue writes a host value at path and runs a cycle.
//
// Setting an array or group replaces the whole subtree: item instances are
// rebuilt and defaults fill missing keys. Setting a leaf to its current
// value is a no-op.
func (e *Engine) SetValue(path string, v any) error {
	fi, ok := e.field(path)
	if !ok || !fi.tmpl.HasValue() {
		return unknownPath(path)
	}
	v = ir.Normalize(v)

	structural := false
	switch fi.tmpl.Kind {
	case ir.KindArray:
		if v == nil {
			v = []any{}
		}
		list, ok := v.([]any)
		if !ok {
			return invalidValue(path, "array %q needs a list, got %T", path, v)
		}
		fillItems(fi.tmpl, list)
		structural = true
	case ir.KindGroup:
		if v == nil {
			v = map[string]any{}
		}
		m, ok := v.(map[string]any)
		if !ok {
			return invalidValue(path, "group %q needs an object, got %T", path, v)
		}
		fillDefaults(fi.tmpl.Children, m)
		structural = true
	default:
		if current, _ := ir.GetPath(e.value, path); ir.Equal(current, v, 0) {
			return nil
		}
	}

	if err := ir.SetPath(e.value, path, v); err != nil {
		return invalidValue(path, "%v", err)
	}
	e.record(ir.Change{Op: ir.OpSetValue, Path: path, Value: ir.Clone(v)})
	e.release()

	c := newCycle()
	c.input(path)
	if structural {
		e.restructure(c, path)
	}
	e.runCycle(c)
	return nil
}

// SetExternalData sets one external data key and runs a cycle.
func (e *Engine) SetExternalData(key string, v any) error {
	if key == "" {
		return invalidValue("", "external data key must not be empty")
	}
	v = ir.Normalize(v)
	if current, ok := e.external[key]; ok && ir.Equal(current, v, 0) {
		return nil
	}
	e.external[key] = v
	e.record(ir.Change{Op: ir.OpSetExternal, Key: key, Value: ir.Clone(v)})
	e.release()

	c := newCycle()
	c.external = append(c.external, key)
	e.runCycle(c)
	return nil
}

// ReplaceExternalData swaps the whole external data map and runs a cycle.
func (e *Engine) ReplaceExternalData(m map[string]any) {
	external, _ := ir.Normalize(orEmpty(m)).(map[string]any)
	e.external = external
	e.record(ir.Change{Op: ir.OpSetExternal, Value: ir.CloneMap(external)})
	e.release()

	c := newCycle()
	c.external = append(c.external, "")
	e.runCycle(c)
}

// AddArrayItem appends item to the array at path and returns its index.
// A nil item starts empty; configured defaults fill its fields.
func (e *Engine) AddArrayItem(path string, item any) (int, error) {
	fi, ok := e.field(path)
	if !ok || fi.tmpl.Kind != ir.KindArray {
		return 0, unknownPath(path)
	}
	item = ir.Normalize(item)
	if len(fi.tmpl.Children) > 0 {
		if item == nil {
			item = map[string]any{}
		}
		obj, ok := item.(map[string]any)
		if !ok {
			return 0, invalidValue(path, "array %q items are objects, got %T", path, item)
		}
		fillDefaults(fi.tmpl.Children, obj)
	}

	list, _ := getPath(e.value, path).([]any)
	list = append(list, item)
	if err := ir.SetPath(e.value, path, list); err != nil {
		return 0, invalidValue(path, "%v", err)
	}
	index := len(list) - 1
	e.record(ir.Change{Op: ir.OpAddItem, Path: path, Value: ir.Clone(item)})
	e.release()

	c := newCycle()
	c.input(path)
	e.restructure(c, ir.JoinPath(path, strconv.Itoa(index)))
	e.runCycle(c)
	return index, nil
}

// RemoveArrayItem deletes the item at index. Later items shift down and
// their instances are rebuilt; pending timers and async tasks of the array
// are cancelled.
func (e *Engine) RemoveArrayItem(path string, index int) error {
	fi, ok := e.field(path)
	if !ok || fi.tmpl.Kind != ir.KindArray {
		return unknownPath(path)
	}
	list, _ := getPath(e.value, path).([]any)
	if index < 0 || index >= len(list) {
		return invalidValue(path, "index %d out of range [0,%d)", index, len(list))
	}

	next := make([]any, 0, len(list)-1)
	next = append(next, list[:index]...)
	next = append(next, list[index+1:]...)
	if err := ir.SetPath(e.value, path, next); err != nil {
		return invalidValue(path, "%v", err)
	}
	e.record(ir.Change{Op: ir.OpRemoveItem, Path: path, Index: index})
	e.release()

	c := newCycle()
	c.input(path)
	e.restructure(c, path)
	e.runCycle(c)
	return nil
}

// restructure rebuilds instances after the subtree at prefix changed shape
// and schedules everything under it for evaluation.
func (e *Engine) restructure(c *cycle, prefix string) {
	e.rebuild(prefix)
	for _, fi := range e.inst.under(prefix) {
		for _, ei := range fi.entries {
			c.force(ei)
		}
		c.revalidate[fi] = true
	}
}

// Refresh re-evaluates every entry and validator of the fields at or under
// path, re-dispatching async validators. An empty path refreshes the whole
// form.
func (e *Engine) Refresh(path string) error {
	var fields []*fieldInstance
	if path == "" {
		fields = e.inst.order
	} else {
		if _, ok := e.field(path); !ok {
			return unknownPath(path)
		}
		fields = e.inst.under(path)
	}
	e.record(ir.Change{Op: ir.OpRefresh, Path: path})

	c := newCycle()
	for _, fi := range fields {
		for _, ei := range fi.entries {
			if !ei.tmpl.Debounced() {
				c.force(ei)
			}
		}
		fi.asyncSet = false
		c.revalidate[fi] = true
	}
	e.runCycle(c)
	return nil
}

// Flush fires every pending debounce timer immediately.
func (e *Engine) Flush() {
	c := newCycle()
	if e.flushInto(c) == 0 {
		return
	}
	e.record(ir.Change{Op: ir.OpFlush})
	e.runCycle(c)
}

// flushInto stops every pending debounce timer and forces its entry in c.
// Bumping the generation drops fires already queued in the inbox.
func (e *Engine) flushInto(c *cycle) int {
	n := 0
	for _, ei := range e.inst.entryOrder {
		if ei.timer == nil {
			continue
		}
		e.stopTimer(ei)
		ei.timerGen++
		c.force(ei)
		n++
	}
	return n
}

// Submit flushes pending debounces, validates every field, and reports the
// result. A valid submit sets the submitting state until FinishSubmit and
// emits a submit event. A submit with async validation still running is
// not valid.
func (e *Engine) Submit() SubmitResult {
	ch := e.record(ir.Change{Op: ir.OpSubmit})

	c := newCycle()
	e.flushInto(c)
	for _, fi := range e.inst.order {
		c.revalidate[fi] = true
	}
	e.runCycle(c)

	res := SubmitResult{
		ID:     e.ids.Generate(),
		Seq:    ch.Seq,
		Value:  ir.CloneMap(e.value),
		Errors: make(map[string][]string),
	}
	for _, fi := range e.inst.order {
		if kinds := fi.errorKinds(); len(kinds) > 0 {
			res.Errors[fi.path] = kinds
		}
		if e.pending(fi) {
			res.Pending = true
		}
	}
	res.Valid = len(res.Errors) == 0 && !res.Pending

	e.logger.Info("form submitted",
		"session", e.sessionID,
		"submission", res.ID,
		"valid", res.Valid,
		"errors", len(res.Errors),
		"pending", res.Pending,
	)
	if e.store != nil {
		e.journalSubmission(res)
	}

	if res.Valid {
		e.submitting = true
		e.updateFormLogic()
		e.publish()
		out := res
		e.emit(Event{Type: EventSubmit, Seq: res.Seq, Submission: &out})
	}
	return res
}

func (e *Engine) journalSubmission(res SubmitResult) {
	hash, err := ir.ValueHash(res.Value)
	if err != nil {
		e.logger.Error("failed to hash submission", "submission", res.ID, "error", err)
		return
	}
	err = e.store.WriteSubmission(e.storeCtx, e.sessionID, ir.Submission{
		ID:        res.ID,
		Seq:       res.Seq,
		Valid:     res.Valid,
		ValueHash: hash,
		Value:     res.Value,
		Errors:    res.Errors,
	})
	if err != nil {
		e.logger.Error("failed to journal submission", "submission", res.ID, "error", err)
	}
}

// FinishSubmit clears the submitting state set by a valid Submit.
func (e *Engine) FinishSubmit() {
	if !e.submitting {
		return
	}
	e.record(ir.Change{Op: ir.OpFinishSubmit})
	e.submitting = false
	e.updateFormLogic()
	e.publish()
}

// Reset restores the initial value: the host's initial value over the
// configured defaults. External data is kept.
func (e *Engine) Reset() {
	ch := e.record(ir.Change{Op: ir.OpReset})
	e.restart(ir.CloneMap(e.initial))
	e.logger.Info("form reset", "session", e.sessionID)
	e.emit(Event{Type: EventReset, Seq: ch.Seq})
}

// Clear empties every value and array, then re-applies per-field defaults.
func (e *Engine) Clear() {
	ch := e.record(ir.Change{Op: ir.OpClear})
	value := map[string]any{}
	fillDefaults(e.plan.Roots(), value)
	e.restart(value)
	e.logger.Info("form cleared", "session", e.sessionID)
	e.emit(Event{Type: EventClear, Seq: ch.Seq})
}

// restart replaces the form value and rebuilds all runtime state.
func (e *Engine) restart(value map[string]any) {
	e.tracker.CancelAll()
	for _, ei := range e.inst.entryOrder {
		e.stopTimer(ei)
	}
	e.value = value
	e.submitting = false
	e.diagnostics = make(map[string]*RuntimeError)
	e.inst = buildInstances(e.plan, e.value)

	c := newCycle()
	c.full = true
	e.runCycle(c)
}

// Apply replays a journaled change. Submit results are discarded; timer
// changes force the named entry.
func (e *Engine) Apply(ch ir.Change) error {
	switch ch.Op {
	case ir.OpSetValue:
		return e.SetValue(ch.Path, ch.Value)
	case ir.OpSetExternal:
		if ch.Key == "" {
			m, _ := ch.Value.(map[string]any)
			e.ReplaceExternalData(m)
			return nil
		}
		return e.SetExternalData(ch.Key, ch.Value)
	case ir.OpAddItem:
		_, err := e.AddArrayItem(ch.Path, ch.Value)
		return err
	case ir.OpRemoveItem:
		return e.RemoveArrayItem(ch.Path, ch.Index)
	case ir.OpRefresh:
		return e.Refresh(ch.Path)
	case ir.OpFlush:
		e.Flush()
	case ir.OpTimer:
		return e.fire(ch.Key)
	case ir.OpSubmit:
		e.Submit()
	case ir.OpFinishSubmit:
		e.FinishSubmit()
	case ir.OpReset:
		e.Reset()
	case ir.OpClear:
		e.Clear()
	default:
		return fmt.Errorf("unknown change op %q", ch.Op)
	}
	return nil
}

// fire runs a debounced entry as if its timer had expired.
func (e *Engine) fire(entryID string) error {
	ei, ok := e.inst.entries[entryID]
	if !ok {
		return unknownPath(entryID)
	}
	e.stopTimer(ei)
	ei.timerGen++
	e.record(ir.Change{Op: ir.OpTimer, Key: entryID})
	c := newCycle()
	c.force(ei)
	e.runCycle(c)
	return nil
}
