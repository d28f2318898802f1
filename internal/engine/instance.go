package engine

import (
	"sort"
	"strconv"

	"github.com/roach88/fieldlogic/internal/compiler"
	"github.com/roach88/fieldlogic/internal/ir"
)

// dep is a compiler.Dep instantiated for one array item.
type dep struct {
	kind compiler.DepKind
	path string
	self bool
}

func instantiateDeps(deps []compiler.Dep, scope string) []dep {
	out := make([]dep, len(deps))
	for i, d := range deps {
		out[i] = dep{kind: d.Kind, path: d.Path, self: d.Self}
		if d.Kind == compiler.DepField {
			out[i].path = ir.Instantiate(d.Path, scope)
		}
	}
	return out
}

// readsPath reports whether a change at path can affect one of deps.
// Self reads only count when includeSelf is set, so a derivation's own
// write does not reschedule it.
func readsPath(deps []dep, path string, includeSelf bool) bool {
	for _, d := range deps {
		if d.kind != compiler.DepField || (d.self && !includeSelf) {
			continue
		}
		if ir.PathsOverlap(d.path, path) {
			return true
		}
	}
	return false
}

// readsExternal reports whether deps include an external key. The empty
// key stands for "every key".
func readsExternal(deps []dep, key string) bool {
	for _, d := range deps {
		if d.kind != compiler.DepExternal {
			continue
		}
		if key == "" || d.path == "" || d.path == key {
			return true
		}
	}
	return false
}

// fieldInstance is the runtime counterpart of a FieldTemplate: one per
// field, and one per field per array item.
type fieldInstance struct {
	tmpl   *compiler.FieldTemplate
	path   string
	scope  string
	ord    int
	parent *fieldInstance

	entries       []*entryInstance
	derivations   []*entryInstance
	validatorDeps []dep

	hidden, disabled, readonly, required bool
	props                                map[string]any

	syncErrors  []string
	errorParams map[string]any

	// asyncErrors maps a task id to the kind it reported. asyncParams
	// holds the message parameter of every async validator dispatched for
	// the field; its keys are the field's task ids.
	asyncErrors map[string]string
	asyncParams map[string]any
	asyncFor    any
	asyncSet    bool
}

// entryInstance is the runtime state of one logic entry for one field
// instance.
type entryInstance struct {
	tmpl  *compiler.Entry
	id    string
	field *fieldInstance
	deps  []dep

	active bool
	result any
	frozen bool

	timer    Timer
	timerGen uint64
}

func (ei *entryInstance) derivation() bool {
	return ei.tmpl.Type == ir.LogicDerivation
}

// instances is the field and entry table built from a plan and the current
// form value. It is rebuilt whenever array items are added or removed.
type instances struct {
	fields      map[string]*fieldInstance
	order       []*fieldInstance
	entries     map[string]*entryInstance
	entryOrder  []*entryInstance
	derivations []*entryInstance
}

func buildInstances(plan *compiler.Plan, value map[string]any) *instances {
	in := &instances{
		fields:  make(map[string]*fieldInstance),
		entries: make(map[string]*entryInstance),
	}
	for _, root := range plan.Roots() {
		in.instantiate(root, nil, "", value)
	}

	in.derivations = make([]*entryInstance, 0)
	for _, ei := range in.entryOrder {
		if ei.derivation() {
			in.derivations = append(in.derivations, ei)
		}
	}
	// Topological order first, then instance creation order.
	sort.SliceStable(in.derivations, func(i, j int) bool {
		a, b := in.derivations[i], in.derivations[j]
		if a.tmpl.Order != b.tmpl.Order {
			return a.tmpl.Order < b.tmpl.Order
		}
		return a.field.ord < b.field.ord
	})
	return in
}

func (in *instances) instantiate(t *compiler.FieldTemplate, parent *fieldInstance, scope string, value map[string]any) {
	fi := &fieldInstance{
		tmpl:          t,
		path:          ir.Instantiate(t.Path, scope),
		scope:         scope,
		ord:           len(in.order),
		parent:        parent,
		validatorDeps: instantiateDeps(t.ValidatorDeps, scope),
		hidden:        t.Node.Hidden,
		disabled:      t.Node.Disabled,
		readonly:      t.Node.Readonly,
		required:      t.Node.Required,
		props:         ir.CloneMap(t.Node.Props),
		asyncErrors:   make(map[string]string),
		asyncParams:   make(map[string]any),
	}
	in.fields[fi.path] = fi
	in.order = append(in.order, fi)

	for _, et := range t.Entries {
		ei := &entryInstance{
			tmpl:  et,
			id:    fi.path + "#" + strconv.Itoa(et.Index),
			field: fi,
			deps:  instantiateDeps(et.Deps, scope),
		}
		fi.entries = append(fi.entries, ei)
		if ei.derivation() {
			fi.derivations = append(fi.derivations, ei)
		}
		in.entries[ei.id] = ei
		in.entryOrder = append(in.entryOrder, ei)
	}

	if t.Kind == ir.KindArray {
		items, _ := getPath(value, fi.path).([]any)
		for i := range items {
			itemScope := fi.path + "." + strconv.Itoa(i)
			for _, child := range t.Children {
				in.instantiate(child, fi, itemScope, value)
			}
		}
		return
	}
	for _, child := range t.Children {
		in.instantiate(child, fi, scope, value)
	}
}

// carryOver copies runtime state from a previous table for every instance
// that still exists and does not lie under one of the invalidated prefixes.
// It returns the entries of the previous table that were dropped so their
// timers can be stopped.
func (in *instances) carryOver(prev *instances, invalidated []string) []*entryInstance {
	if prev == nil {
		return nil
	}
	stale := func(path string) bool {
		for _, p := range invalidated {
			if ir.HasPathPrefix(path, p) {
				return true
			}
		}
		return false
	}

	for path, fi := range in.fields {
		old, ok := prev.fields[path]
		if !ok || stale(path) {
			continue
		}
		fi.hidden, fi.disabled, fi.readonly, fi.required = old.hidden, old.disabled, old.readonly, old.required
		fi.props = old.props
		fi.syncErrors = old.syncErrors
		fi.errorParams = old.errorParams
		fi.asyncErrors = old.asyncErrors
		fi.asyncParams = old.asyncParams
		fi.asyncFor, fi.asyncSet = old.asyncFor, old.asyncSet
	}

	var dropped []*entryInstance
	for id, old := range prev.entries {
		ei, ok := in.entries[id]
		if !ok || stale(old.field.path) {
			dropped = append(dropped, old)
			continue
		}
		ei.active, ei.result, ei.frozen = old.active, old.result, old.frozen
		ei.timer, ei.timerGen = old.timer, old.timerGen
	}
	return dropped
}

// under returns the field instances at or beneath prefix, in order.
func (in *instances) under(prefix string) []*fieldInstance {
	var out []*fieldInstance
	for _, fi := range in.order {
		if ir.HasPathPrefix(fi.path, prefix) {
			out = append(out, fi)
		}
	}
	return out
}

func getPath(root map[string]any, path string) any {
	v, _ := ir.GetPath(root, path)
	return v
}

// fillDefaults adds the configured default of every field missing from m.
// Existing values win; array items are filled individually.
func fillDefaults(templates []*compiler.FieldTemplate, m map[string]any) {
	for _, t := range templates {
		switch {
		case t.Kind.IsTransparent():
			fillDefaults(t.Children, m)

		case t.Kind == ir.KindGroup:
			sub, ok := m[t.Key].(map[string]any)
			if !ok {
				sub, _ = ir.Clone(t.Default).(map[string]any)
				if sub == nil {
					sub = map[string]any{}
				}
				m[t.Key] = sub
			}
			fillDefaults(t.Children, sub)

		case t.Kind == ir.KindArray:
			list, ok := m[t.Key].([]any)
			if !ok {
				list, _ = ir.Clone(t.Default).([]any)
				if list == nil {
					list = []any{}
				}
				m[t.Key] = list
			}
			fillItems(t, list)

		case t.Kind.HasValue():
			if _, ok := m[t.Key]; !ok {
				m[t.Key] = ir.Clone(t.Default)
			}
		}
	}
}

// fillItems fills the defaults of each item of an array in place.
func fillItems(array *compiler.FieldTemplate, list []any) {
	if len(array.Children) == 0 {
		return
	}
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			obj = map[string]any{}
			list[i] = obj
		}
		fillDefaults(array.Children, obj)
	}
}
