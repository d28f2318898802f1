package validation

import (
	"github.com/roach88/fieldlogic/internal/ir"
)

// FieldContext is the registry.ValidatorContext handed to validators. It
// reads through to the form value it was built from; use Snapshot before
// handing it to another goroutine.
type FieldContext struct {
	path     string
	scope    string
	root     map[string]any
	external map[string]any
}

// NewFieldContext creates a context for the field at path. scope is the
// instance path of the enclosing array item, or "" at the form root.
func NewFieldContext(root, external map[string]any, path, scope string) *FieldContext {
	return &FieldContext{path: path, scope: scope, root: root, external: external}
}

// Value returns the validated field's value.
func (c *FieldContext) Value() any {
	v, _ := ir.GetPath(c.root, c.path)
	return v
}

// ValueOf returns another field's value, resolved in the field's scope.
func (c *FieldContext) ValueOf(path string) any {
	v, _ := ir.GetPath(c.root, ir.ResolvePath(c.scope, path))
	return v
}

// Path returns the validated field's absolute path.
func (c *FieldContext) Path() string {
	return c.path
}

// External returns an external data value.
func (c *FieldContext) External(key string) any {
	return c.external[key]
}

// Scope returns the instance path of the enclosing array item.
func (c *FieldContext) Scope() string {
	return c.scope
}

// EvaluationContext builds the expression context used by validator
// expressions and guards.
func (c *FieldContext) EvaluationContext() ir.EvaluationContext {
	return ir.EvaluationContext{
		FormValue:     ScopeValue(c.root, c.scope),
		RootFormValue: c.root,
		FieldValue:    c.Value(),
		FieldPath:     c.path,
		ExternalData:  c.external,
	}
}

// Snapshot returns a deep copy detached from the live form value.
func (c *FieldContext) Snapshot() *FieldContext {
	return &FieldContext{
		path:     c.path,
		scope:    c.scope,
		root:     ir.CloneMap(c.root),
		external: ir.CloneMap(c.external),
	}
}

// ScopeValue returns the object at scope, or the root when scope is empty
// or does not address an object.
func ScopeValue(root map[string]any, scope string) map[string]any {
	if scope == "" {
		return root
	}
	v, ok := ir.GetPath(root, scope)
	if !ok {
		return map[string]any{}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}
