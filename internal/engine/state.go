package engine

import (
	"reflect"
	"sort"

	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/validation"
)

// FieldState is the published state of one field instance.
type FieldState struct {
	Path     string                 `json:"path"`
	Kind     ir.Kind                `json:"kind"`
	Value    any                    `json:"value,omitempty"`
	Hidden   bool                   `json:"hidden"`
	Disabled bool                   `json:"disabled"`
	Readonly bool                   `json:"readonly"`
	Required bool                   `json:"required"`
	Props    map[string]any         `json:"props,omitempty"`
	Errors   []ir.ValidationOutcome `json:"errors,omitempty"`
	Pending  bool                   `json:"pending"`
}

// Valid reports whether the field has no errors.
func (s FieldState) Valid() bool {
	return len(s.Errors) == 0
}

// HasError reports whether the field currently fails with kind.
func (s FieldState) HasError(kind string) bool {
	for _, o := range s.Errors {
		if o.Kind == kind {
			return true
		}
	}
	return false
}

// snapshot captures the current state of a field instance. Hidden is the
// effective flag: a field inside a hidden container is hidden.
func (e *Engine) snapshot(fi *fieldInstance) FieldState {
	s := FieldState{
		Path:     fi.path,
		Kind:     fi.tmpl.Kind,
		Hidden:   e.hidden(fi),
		Disabled: fi.disabled,
		Readonly: fi.readonly,
		Required: fi.required,
		Pending:  e.pending(fi),
	}
	if fi.tmpl.HasValue() {
		v, _ := ir.GetPath(e.value, fi.path)
		s.Value = ir.Clone(v)
	}
	if len(fi.props) > 0 {
		s.Props = ir.CloneMap(fi.props)
	}
	for _, kind := range fi.errorKinds() {
		s.Errors = append(s.Errors, ir.ValidationOutcome{Kind: kind, TargetFieldPath: fi.path})
	}
	return s
}

// publish runs stage 5: it compares every field against the last published
// snapshot and emits field-state-changed for each difference.
func (e *Engine) publish() {
	for _, fi := range e.inst.order {
		s := e.snapshot(fi)
		if prev, ok := e.published[fi.path]; ok && reflect.DeepEqual(prev, s) {
			continue
		}
		e.published[fi.path] = s
		state := s
		e.emit(Event{Type: EventFieldStateChanged, Field: &state})
	}
}

// State returns the state of every field instance, keyed by path.
func (e *Engine) State() map[string]FieldState {
	out := make(map[string]FieldState, len(e.inst.order))
	for _, fi := range e.inst.order {
		out[fi.path] = e.snapshot(fi)
	}
	return out
}

// Field returns the state of one field instance.
func (e *Engine) Field(path string) (FieldState, error) {
	fi, ok := e.field(path)
	if !ok {
		return FieldState{}, unknownPath(path)
	}
	return e.snapshot(fi), nil
}

// Paths lists every field instance path in configuration order.
func (e *Engine) Paths() []string {
	out := make([]string, len(e.inst.order))
	for i, fi := range e.inst.order {
		out[i] = fi.path
	}
	return out
}

// Value returns a copy of the form value. Hidden fields keep their values.
func (e *Engine) Value() map[string]any {
	return ir.CloneMap(e.value)
}

// External returns a copy of the external data map.
func (e *Engine) External() map[string]any {
	return ir.CloneMap(e.external)
}

// Valid reports whether no field has errors.
func (e *Engine) Valid() bool {
	return !e.fs.FormInvalid()
}

// Submitting reports whether a valid submit is awaiting FinishSubmit.
func (e *Engine) Submitting() bool {
	return e.submitting
}

// ErrorMessages resolves the current errors of a field to display text,
// using the field's messages, then the form defaults, then built-ins.
func (e *Engine) ErrorMessages(path string) ([]string, error) {
	fi, ok := e.field(path)
	if !ok {
		return nil, unknownPath(path)
	}
	kinds := fi.errorKinds()
	out := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		out = append(out, validation.ResolveMessage(
			kind,
			fi.tmpl.Node.ValidationMessages,
			e.plan.Config.DefaultValidationMessages,
			fi.errorParam(kind),
		))
	}
	return out, nil
}

// Diagnostics returns the active runtime diagnostics ordered by the time
// they were raised.
func (e *Engine) Diagnostics() []RuntimeError {
	out := make([]RuntimeError, 0, len(e.diagnostics))
	for _, d := range e.diagnostics {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].key() < out[j].key()
	})
	return out
}

// raise records a runtime diagnostic. Repeating an active diagnostic with
// the same message is a no-op; anything else is logged, journaled, and
// emitted.
func (e *Engine) raise(err *RuntimeError) {
	key := err.key()
	if prev, ok := e.diagnostics[key]; ok && prev.Message == err.Message {
		return
	}
	err.Seq = e.clock.Next()
	e.diagnostics[key] = err

	e.logger.Warn("runtime diagnostic",
		"code", err.Code,
		"field", err.FieldPath,
		"entry", err.EntryID,
		"error", err.Message,
	)
	if e.store != nil {
		werr := e.store.WriteDiagnostic(e.storeCtx, e.sessionID, ir.Diagnostic{
			Seq:       err.Seq,
			Code:      string(err.Code),
			FieldPath: err.FieldPath,
			EntryID:   err.EntryID,
			Message:   err.Message,
		})
		if werr != nil {
			e.logger.Error("failed to journal diagnostic", "seq", err.Seq, "error", werr)
		}
	}
	d := *err
	e.emit(Event{Type: EventDiagnostic, Seq: err.Seq, Diagnostic: &d})
}

// resolve clears a diagnostic once its cause is gone.
func (e *Engine) resolve(code RuntimeErrorCode, fieldPath, entryID string) {
	delete(e.diagnostics, string(code)+"|"+fieldPath+"|"+entryID)
}
