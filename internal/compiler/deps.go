package compiler

import (
	"sort"
	"strings"

	"github.com/roach88/fieldlogic/internal/expression"
	"github.com/roach88/fieldlogic/internal/ir"
)

// externalDependsOn is the dependsOn spelling of an external data key.
const externalDependsOn = "externalData."

// entryDeps resolves the dependency set of an entry: references read by its
// expression and condition, plus its declared dependsOn paths. Function
// sources contribute nothing by themselves; a function that reads other
// fields must declare them.
func entryDeps(e *Entry) []Dep {
	var deps []Dep
	if e.Program != nil {
		deps = append(deps, refDeps(e.Field, e.Program.Refs)...)
	}
	if e.Condition != nil {
		deps = append(deps, refDeps(e.Field, e.Condition.Refs())...)
		if e.Condition.UsesFormState() {
			deps = append(deps, Dep{Kind: DepForm})
		}
	}
	deps = append(deps, dependsOnDeps(e.Field, e.Spec.DependsOn)...)
	return dedupeDeps(deps)
}

// refDeps maps expression references to template paths in the scope of ft.
func refDeps(ft *FieldTemplate, refs []expression.Ref) []Dep {
	deps := make([]Dep, 0, len(refs))
	for _, r := range refs {
		switch r.Kind {
		case expression.RefScope:
			path := ir.JoinPath(ft.Scope, r.Path)
			deps = append(deps, Dep{Kind: DepField, Path: path, Self: path == ft.Path})
		case expression.RefRoot:
			deps = append(deps, Dep{Kind: DepField, Path: r.Path, Self: r.Path == ft.Path})
		case expression.RefExternal:
			deps = append(deps, Dep{Kind: DepExternal, Path: r.Path})
		case expression.RefSelf:
			deps = append(deps, Dep{Kind: DepField, Path: ft.Path, Self: true})
		}
	}
	return deps
}

// dependsOnDeps resolves declared paths. "externalData.key" names an
// external key; "/path" is absolute; anything else is scope-relative.
func dependsOnDeps(ft *FieldTemplate, paths []string) []Dep {
	deps := make([]Dep, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case strings.HasPrefix(p, externalDependsOn):
			key, _, _ := strings.Cut(strings.TrimPrefix(p, externalDependsOn), ".")
			deps = append(deps, Dep{Kind: DepExternal, Path: key})
		case strings.HasPrefix(p, ir.ExternalPrefix):
			key, _, _ := strings.Cut(strings.TrimPrefix(p, ir.ExternalPrefix), ".")
			deps = append(deps, Dep{Kind: DepExternal, Path: key})
		default:
			path := ir.ResolvePath(ft.Scope, p)
			deps = append(deps, Dep{Kind: DepField, Path: path, Self: path == ft.Path})
		}
	}
	return deps
}

func dedupeDeps(deps []Dep) []Dep {
	if len(deps) == 0 {
		return nil
	}
	sort.SliceStable(deps, func(i, j int) bool {
		if deps[i].Kind != deps[j].Kind {
			return deps[i].Kind < deps[j].Kind
		}
		return deps[i].Path < deps[j].Path
	})
	out := deps[:0]
	for _, d := range deps {
		if n := len(out); n > 0 && out[n-1].Kind == d.Kind && out[n-1].Path == d.Path {
			out[n-1].Self = out[n-1].Self && d.Self
			continue
		}
		out = append(out, d)
	}
	return out
}
