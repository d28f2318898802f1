package engine

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/fieldlogic/internal/compiler"
	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/validation"
)

// asyncSep separates the field path from the validator suffix in async
// task ids: "email@v0", "email@contact.1".
const asyncSep = "@"

// boundValidator is a validator as it applies to one field: its own or
// contributed by a schema. id is stable for the field and names the async
// task when the validator is asynchronous.
type boundValidator struct {
	v  *validation.Validator
	id string
}

// validate runs stage 3 for every field whose value, validator inputs, or
// state changed in this cycle.
func (e *Engine) validate(c *cycle) {
	for _, fi := range e.inst.order {
		if !validatable(fi.tmpl) {
			continue
		}
		depsChanged := c.triggered(fi.validatorDeps, false)
		if !c.full && !c.revalidate[fi] && !depsChanged && !c.valueTouched(fi.path) {
			continue
		}
		e.validateField(fi, depsChanged)
	}
}

func validatable(t *compiler.FieldTemplate) bool {
	return t.Kind.HasValue() || t.Kind == ir.KindArray
}

// validateField recomputes the synchronous errors of a field and
// (re)dispatches its async validators. Async tasks are only started once
// the value passes every synchronous check and is not empty; they are
// re-dispatched when the value or their inputs change.
func (e *Engine) validateField(fi *fieldInstance, depsChanged bool) {
	if e.suppressed(fi) {
		e.clearValidation(fi)
		return
	}

	fc := validation.NewFieldContext(e.value, e.external, fi.path, fi.scope)
	value := fc.Value()

	var kinds []string
	params := make(map[string]any)
	add := func(kind string, param any) {
		for _, k := range kinds {
			if k == kind {
				return
			}
		}
		kinds = append(kinds, kind)
		if param != nil {
			params[kind] = param
		}
	}

	if fi.required && ir.IsEmpty(value) {
		add("required", nil)
	}

	var async []boundValidator
	for _, bv := range e.boundValidators(fi, fc) {
		ok, err := bv.v.Applies(fc, nil)
		if err != nil {
			e.raise(NewEntryError(fi.path, bv.id, err))
			continue
		}
		if !ok {
			if bv.v.IsAsync() {
				e.dropTask(fi, fi.path+asyncSep+bv.id)
			}
			continue
		}
		if bv.v.IsAsync() {
			async = append(async, bv)
			continue
		}
		kind, err := bv.v.Check(fc)
		if err != nil {
			e.raise(NewEntryError(fi.path, bv.id, err))
			continue
		}
		e.resolve(ErrCodeEntryFailed, fi.path, bv.id)
		if kind != "" {
			add(kind, bv.v.Param())
		}
	}
	fi.syncErrors = kinds
	fi.errorParams = params

	if len(async) == 0 {
		return
	}
	if len(kinds) > 0 || ir.IsEmpty(value) {
		for _, bv := range async {
			e.dropTask(fi, fi.path+asyncSep+bv.id)
		}
		fi.asyncSet = false
		return
	}
	if fi.asyncSet && !depsChanged && ir.Equal(fi.asyncFor, value, 0) {
		return
	}

	snap := fc.Snapshot()
	for _, bv := range async {
		id := fi.path + asyncSep + bv.id
		v := bv.v
		delete(fi.asyncErrors, id)
		fi.asyncParams[id] = v.Param()
		gen := e.tracker.Dispatch(id, func(ctx context.Context) (string, error) {
			return v.Run(ctx, snap, e.httpClient)
		})
		e.logger.Debug("async validation dispatched",
			"field", fi.path,
			"task", id,
			"generation", gen,
		)
	}
	fi.asyncFor = ir.Clone(value)
	fi.asyncSet = true
}

// boundValidators lists the field's validators followed by those of its
// schemas. A schema applied more than once contributes once; applyWhen
// guards that evaluate false contribute nothing.
func (e *Engine) boundValidators(fi *fieldInstance, fc *validation.FieldContext) []boundValidator {
	t := fi.tmpl
	out := make([]boundValidator, 0, len(t.Validators))
	for i, v := range t.Validators {
		out = append(out, boundValidator{v: v, id: "v" + strconv.Itoa(i)})
	}

	seen := make(map[string]bool)
	for _, use := range t.Schemas {
		name := use.Schema.Name
		if seen[name] {
			continue
		}
		if use.Condition != nil {
			ok, err := use.Condition.Evaluate(fc.EvaluationContext(), nil)
			if err != nil {
				e.raise(NewEntryError(fi.path, name, err))
				continue
			}
			if !ok {
				continue
			}
		}
		seen[name] = true
		for i, v := range use.Schema.Validators {
			out = append(out, boundValidator{v: v, id: name + "." + strconv.Itoa(i)})
		}
	}
	return out
}

// clearValidation drops every error of a field and cancels its async
// tasks. Used for hidden and disabled fields.
func (e *Engine) clearValidation(fi *fieldInstance) {
	fi.syncErrors = nil
	fi.errorParams = nil
	e.tracker.CancelPrefix(fi.path + asyncSep)
	fi.asyncErrors = make(map[string]string)
	fi.asyncParams = make(map[string]any)
	fi.asyncFor, fi.asyncSet = nil, false
}

// dropTask cancels one async task of a field and forgets its result.
func (e *Engine) dropTask(fi *fieldInstance, id string) {
	e.tracker.Cancel(id)
	delete(fi.asyncErrors, id)
	delete(fi.asyncParams, id)
}

// applyAsyncResult folds a completed async task into field state. Results
// superseded by a newer dispatch, a value change, or a cancellation are
// discarded.
// CRITICAL: Called only from the engine goroutine - single-writer guarantee.
func (e *Engine) applyAsyncResult(r validation.Result) {
	if !e.tracker.Accept(r) {
		e.logger.Debug("async result discarded",
			"task", r.ID,
			"generation", r.Generation,
			"code", ErrCodeStaleResult,
		)
		return
	}
	i := strings.LastIndex(r.ID, asyncSep)
	if i < 0 {
		return
	}
	fi, ok := e.inst.fields[r.ID[:i]]
	if !ok {
		return
	}

	kind, failed := r.Outcome()
	switch {
	case failed:
		// Fail open: the task reports no error kind.
		delete(fi.asyncErrors, r.ID)
		e.raise(NewAsyncError(fi.path, r.ID, r.Err))
	case kind != "":
		fi.asyncErrors[r.ID] = kind
		e.resolve(ErrCodeAsyncFailed, fi.path, r.ID)
	default:
		delete(fi.asyncErrors, r.ID)
		e.resolve(ErrCodeAsyncFailed, fi.path, r.ID)
	}
	e.logger.Debug("async validation completed",
		"field", fi.path,
		"task", r.ID,
		"kind", kind,
		"failed", failed,
	)

	e.updateFormLogic()
	e.publish()
}

// errorKinds returns the field's current error kinds: synchronous first,
// then async results in task order, without duplicates.
func (fi *fieldInstance) errorKinds() []string {
	kinds := append([]string(nil), fi.syncErrors...)
	if len(fi.asyncErrors) == 0 {
		return kinds
	}
	ids := make([]string, 0, len(fi.asyncErrors))
	for id := range fi.asyncErrors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		kind := fi.asyncErrors[id]
		dup := false
		for _, k := range kinds {
			if k == kind {
				dup = true
				break
			}
		}
		if !dup {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// errorParam returns the message parameter for a kind.
func (fi *fieldInstance) errorParam(kind string) any {
	if p, ok := fi.errorParams[kind]; ok {
		return p
	}
	for id, k := range fi.asyncErrors {
		if k == kind {
			return fi.asyncParams[id]
		}
	}
	return nil
}

func (fi *fieldInstance) hasErrors() bool {
	return len(fi.syncErrors) > 0 || len(fi.asyncErrors) > 0
}

// pending reports whether an async task of the field is in flight.
func (e *Engine) pending(fi *fieldInstance) bool {
	for id := range fi.asyncParams {
		if e.tracker.Pending(id) {
			return true
		}
	}
	return false
}
