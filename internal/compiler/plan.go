package compiler

import (
	"fmt"
	"time"

	"github.com/roach88/fieldlogic/internal/condition"
	"github.com/roach88/fieldlogic/internal/expression"
	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/registry"
	"github.com/roach88/fieldlogic/internal/validation"
)

// Plan is a compiled configuration. Everything in it is immutable and
// shared by every engine instance and every array item built from it.
type Plan struct {
	Config *ir.FormConfig
	Hash   string

	// Fields lists every field template in pre-order.
	Fields []*FieldTemplate
	ByPath map[string]*FieldTemplate

	// Entries lists every logic entry in declaration order.
	Entries []*Entry
	// Derivations lists the derivation entries in topological order.
	Derivations []*Entry
	// Pairs are the permitted bidirectional derivation cycles.
	Pairs []Pair

	Schemas map[string]*Schema
}

// Field returns the template for a template path.
func (p *Plan) Field(path string) (*FieldTemplate, bool) {
	ft, ok := p.ByPath[path]
	return ft, ok
}

// FieldForInstance returns the template an instance path was built from.
func (p *Plan) FieldForInstance(path string) (*FieldTemplate, bool) {
	return p.Field(ir.TemplatePath(path))
}

// Roots returns the top-level templates.
func (p *Plan) Roots() []*FieldTemplate {
	var roots []*FieldTemplate
	for _, ft := range p.Fields {
		if ft.Parent == nil {
			roots = append(roots, ft)
		}
	}
	return roots
}

// FieldTemplate is one node of the configuration tree after path
// assignment. Path is a template path: array items appear as "*".
type FieldTemplate struct {
	Path  string
	Key   string
	Kind  ir.Kind
	Node  *ir.FieldNode
	Index int

	Parent   *FieldTemplate
	Children []*FieldTemplate
	// Scope is the template path of the innermost enclosing array item,
	// or "" at the form root.
	Scope string
	// Array is the innermost enclosing array, nil at the form root.
	Array *FieldTemplate
	// Page is the enclosing page, if any.
	Page *FieldTemplate

	Default    any
	Entries    []*Entry
	Validators []*validation.Validator
	Schemas    []*SchemaUse
	// ValidatorDeps are the paths whose change requires re-validation,
	// besides the field itself.
	ValidatorDeps []Dep
}

// HasValue reports whether the field owns a slot in the form value.
func (ft *FieldTemplate) HasValue() bool {
	return ft.Kind.HasValue() || ft.Kind == ir.KindArray || ft.Kind == ir.KindGroup
}

// ItemScope returns the scope template of an array's items.
func (ft *FieldTemplate) ItemScope() string {
	return ir.JoinPath(ft.Path, ir.Wildcard)
}

// DepKind classifies a dependency.
type DepKind uint8

const (
	DepField DepKind = iota + 1
	DepExternal
	DepForm
)

func (k DepKind) String() string {
	switch k {
	case DepField:
		return "field"
	case DepExternal:
		return "external"
	case DepForm:
		return "form"
	}
	return "unknown"
}

// Dep is one resolved dependency. Field paths are template paths that the
// engine instantiates per array item; an empty external key means any
// external change.
type Dep struct {
	Kind DepKind
	Path string
	// Self marks a read of the hosting field's own value.
	Self bool
}

func (d Dep) String() string {
	switch d.Kind {
	case DepExternal:
		return ir.ExternalPrefix + d.Path
	case DepForm:
		return ir.FormStatePath
	}
	return d.Path
}

// SourceKind tells where an entry's value comes from.
type SourceKind string

const (
	SourceStatic     SourceKind = "staticValue"
	SourceExpression SourceKind = "expression"
	SourceFunction   SourceKind = "functionName"
	SourceCondition  SourceKind = "condition"
)

// Entry is a compiled logic entry template.
type Entry struct {
	ID    string
	Index int
	Field *FieldTemplate
	Spec  ir.LogicEntry
	Type  ir.LogicType

	Source    SourceKind
	Static    any
	Program   *expression.Program
	Condition *condition.Compiled

	derive    registry.DerivationFunc
	property  registry.PropertyDerivationFunc
	predicate registry.ConditionFunc

	Deps     []Dep
	Debounce time.Duration
	// Target is the property path of a property derivation.
	Target []string
	// Order is the position in Plan.Derivations, -1 for other entries.
	Order int
}

// Debounced reports whether the entry runs after a quiet period.
func (e *Entry) Debounced() bool {
	return e.Debounce > 0
}

// Unconditional reports whether the entry is always active.
func (e *Entry) Unconditional() bool {
	if e.Condition == nil {
		return true
	}
	v, ok := e.Condition.IsConstant()
	return ok && v
}

// UsesFormState reports whether the entry reads aggregate form state.
func (e *Entry) UsesFormState() bool {
	return e.Condition != nil && e.Condition.UsesFormState()
}

// Active evaluates the entry's condition.
func (e *Entry) Active(ctx ir.EvaluationContext, fs condition.FormState) (bool, error) {
	if e.Condition == nil {
		return true, nil
	}
	return e.Condition.Evaluate(ctx, fs)
}

// Compute evaluates the entry's source. Boolean entries return a bool;
// derivations and property derivations return the produced value.
func (e *Entry) Compute(ctx ir.EvaluationContext) (any, error) {
	var (
		out any
		err error
	)
	switch e.Source {
	case SourceCondition:
		return true, nil
	case SourceStatic:
		out = ir.Clone(e.Static)
	case SourceExpression:
		out, err = e.Program.Eval(ctx)
	case SourceFunction:
		switch {
		case e.derive != nil:
			out, err = e.derive(ctx)
		case e.property != nil:
			out, err = e.property(ctx)
		case e.predicate != nil:
			out, err = e.predicate(ctx)
		default:
			err = fmt.Errorf("entry %s: no function bound", e.ID)
		}
		if err != nil {
			err = fmt.Errorf("function %q: %w", e.Spec.FunctionName, err)
		}
	}
	if err != nil {
		return nil, err
	}
	if e.Type.IsBoolean() {
		return ir.Truthy(out), nil
	}
	return ir.Normalize(out), nil
}

// Schema is a compiled named validator bundle.
type Schema struct {
	Name       string
	Validators []*validation.Validator
}

// SchemaUse attaches a schema to a field, optionally guarded.
type SchemaUse struct {
	Schema    *Schema
	Type      ir.SchemaApplicationType
	Condition *condition.Compiled
}

// Pair is a permitted bidirectional derivation cycle between two fields.
type Pair struct {
	Entries []string `json:"entries"`
	Fields  []string `json:"fields"`
}
