package engine

import (
	"reflect"

	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/validation"
)

func scopeValue(root map[string]any, scope string) map[string]any {
	return validation.ScopeValue(root, scope)
}

// updateLogic runs stage 2: boolean and property entries whose inputs
// changed. Property derivations run once; their outputs never feed back
// into values, so no fixed point is needed. Entries that read aggregate
// form state wait for stage 4.
func (e *Engine) updateLogic(c *cycle) {
	touched := make(map[*fieldInstance]bool)
	for _, ei := range e.inst.entryOrder {
		if ei.derivation() || ei.tmpl.UsesFormState() {
			continue
		}
		if !c.full && !c.forced[ei] && !c.triggered(ei.deps, true) {
			continue
		}
		if ei.tmpl.Debounced() && !c.forced[ei] && !c.full {
			e.schedule(ei)
			continue
		}
		e.evalLogicEntry(ei)
		touched[ei.field] = true
	}

	for _, fi := range e.inst.order {
		if !touched[fi] {
			continue
		}
		wasSuppressed := e.suppressed(fi)
		wasRequired := fi.required
		if !e.refreshFlags(fi) {
			continue
		}
		// Hidden/disabled/required flips change what validation applies,
		// for the field and, for containers, its descendants.
		if wasSuppressed != e.suppressed(fi) || wasRequired != fi.required {
			for _, sub := range e.inst.under(fi.path) {
				c.revalidate[sub] = true
			}
		}
	}
}

// updateFormLogic runs stage 4: button entries that read aggregate form
// state. They are re-evaluated after every cycle because validity and
// submitting can change without any field dependency changing.
func (e *Engine) updateFormLogic() {
	for _, ei := range e.inst.entryOrder {
		if !ei.tmpl.UsesFormState() {
			continue
		}
		e.evalLogicEntry(ei)
		e.refreshFlags(ei.field)
	}
}

// evalLogicEntry evaluates a boolean or property entry. On failure the
// previous result is kept.
func (e *Engine) evalLogicEntry(ei *entryInstance) {
	fi := ei.field
	ctx := e.evalContext(fi)

	active, err := ei.tmpl.Active(ctx, e.fs)
	if err != nil {
		e.raise(NewEntryError(fi.path, ei.id, err))
		return
	}
	if !active {
		e.resolve(ErrCodeEntryFailed, fi.path, ei.id)
		ei.active, ei.result = false, nil
		return
	}

	v, err := ei.tmpl.Compute(ctx)
	if err != nil {
		e.raise(NewEntryError(fi.path, ei.id, err))
		return
	}
	e.resolve(ErrCodeEntryFailed, fi.path, ei.id)
	ei.active, ei.result = true, v
	e.logger.Debug("evaluated entry",
		"field", fi.path,
		"entry", ei.id,
		"type", ei.tmpl.Type,
		"result", v,
	)
}

// refreshFlags recomputes a field's boolean state and component
// properties from its base configuration and active entries. Boolean
// entries of one type OR together with the base flag; property
// derivations overlay the base props in declaration order and drop out
// when inactive. It reports whether anything changed.
func (e *Engine) refreshFlags(fi *fieldInstance) bool {
	n := fi.tmpl.Node
	hidden, disabled, readonly, required := n.Hidden, n.Disabled, n.Readonly, n.Required
	props := ir.CloneMap(n.Props)

	for _, ei := range fi.entries {
		if !ei.active {
			continue
		}
		on := ei.result == true
		switch ei.tmpl.Type {
		case ir.LogicHidden:
			hidden = hidden || on
		case ir.LogicDisabled:
			disabled = disabled || on
		case ir.LogicReadonly:
			readonly = readonly || on
		case ir.LogicRequired:
			required = required || on
		case ir.LogicPropertyDerivation:
			setProp(props, ei.tmpl.Target, ei.result)
		}
	}

	changed := hidden != fi.hidden || disabled != fi.disabled ||
		readonly != fi.readonly || required != fi.required ||
		!reflect.DeepEqual(props, fi.props)
	fi.hidden, fi.disabled, fi.readonly, fi.required = hidden, disabled, readonly, required
	fi.props = props
	return changed
}

// setProp writes v at a one- or two-segment property path.
func setProp(props map[string]any, target []string, v any) {
	switch len(target) {
	case 1:
		props[target[0]] = ir.Clone(v)
	case 2:
		sub, ok := props[target[0]].(map[string]any)
		if !ok {
			sub = map[string]any{}
			props[target[0]] = sub
		}
		sub[target[1]] = ir.Clone(v)
	}
}

// suppressed reports whether validation is switched off for a field: the
// field is disabled, or it or any ancestor is hidden.
func (e *Engine) suppressed(fi *fieldInstance) bool {
	return fi.disabled || e.hidden(fi)
}

// hidden reports whether the field or any ancestor is hidden.
func (e *Engine) hidden(fi *fieldInstance) bool {
	for f := fi; f != nil; f = f.parent {
		if f.hidden {
			return true
		}
	}
	return false
}

// formState exposes aggregate validity to button conditions.
type formState struct {
	e *Engine
}

// FormInvalid reports whether any field has errors.
func (s formState) FormInvalid() bool {
	for _, fi := range s.e.inst.order {
		if fi.hasErrors() {
			return true
		}
	}
	return false
}

// FormSubmitting reports whether a valid submit is in progress.
func (s formState) FormSubmitting() bool {
	return s.e.submitting
}

// PageInvalid reports whether any field on the page enclosing fieldPath
// has errors. Outside a page it is the same as FormInvalid.
func (s formState) PageInvalid(fieldPath string) bool {
	fi, ok := s.e.inst.fields[fieldPath]
	if !ok || fi.tmpl.Page == nil {
		return s.FormInvalid()
	}
	page := fi.tmpl.Page
	for _, other := range s.e.inst.order {
		if other.tmpl.Page == page && other.hasErrors() {
			return true
		}
	}
	return false
}
