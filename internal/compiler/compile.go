package compiler

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/roach88/fieldlogic/internal/condition"
	"github.com/roach88/fieldlogic/internal/expression"
	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/registry"
	"github.com/roach88/fieldlogic/internal/validation"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// builder accumulates the plan and every configuration error found.
type builder struct {
	reg  *registry.Registry
	plan *Plan
	errs []ValidationError
}

func (b *builder) fail(field, code, format string, args ...any) {
	b.errs = append(b.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

// Compile validates cfg and builds its Plan. Function names are resolved
// against reg immediately; a nil reg behaves like an empty registry.
// On failure the returned error is a *ConfigError listing every problem.
func Compile(cfg *ir.FormConfig, reg *registry.Registry) (*Plan, error) {
	if cfg == nil {
		return nil, errors.New("nil configuration")
	}
	if reg == nil {
		reg = registry.New()
	}
	b := &builder{
		reg: reg,
		plan: &Plan{
			Config:  cfg,
			ByPath:  make(map[string]*FieldTemplate),
			Schemas: make(map[string]*Schema),
		},
	}

	b.compileSchemas(cfg.Schemas)
	b.compileFields(cfg.Fields, nil, "", "fields")
	b.checkConflicts()
	if len(b.errs) == 0 {
		b.analyzeDerivations()
	}
	if len(b.errs) > 0 {
		return nil, &ConfigError{Errors: b.errs}
	}

	hash, err := ir.ConfigHash(cfg)
	if err != nil {
		return nil, fmt.Errorf("hash config: %w", err)
	}
	b.plan.Hash = hash
	return b.plan, nil
}

// ===== Schemas =====

func (b *builder) compileSchemas(defs []ir.SchemaDef) {
	for i := range defs {
		def := &defs[i]
		field := fmt.Sprintf("schemas[%d]", i)
		if def.Name == "" {
			b.fail(field, ErrInvalidKey, "schema name is required")
			continue
		}
		if _, dup := b.plan.Schemas[def.Name]; dup {
			b.fail(field, ErrInvalidKey, "duplicate schema name %q", def.Name)
			continue
		}
		s := &Schema{Name: def.Name}
		for j, spec := range def.Validators {
			v, ok := b.compileValidator(spec, fmt.Sprintf("schemas.%s.validators[%d]", def.Name, j))
			if ok {
				s.Validators = append(s.Validators, v)
			}
		}
		b.plan.Schemas[def.Name] = s
	}
}

// ===== Fields =====

// scopeInfo carries what children inherit from their ancestors.
type scopeInfo struct {
	prefix string
	scope  string
	array  *FieldTemplate
	page   *FieldTemplate
}

func (b *builder) compileFields(nodes []ir.FieldNode, parent *FieldTemplate, prefix, where string) {
	info := scopeInfo{prefix: prefix}
	if parent != nil {
		info.scope, info.array, info.page = parent.Scope, parent.Array, parent.Page
		switch parent.Kind {
		case ir.KindArray:
			info.scope = parent.ItemScope()
			info.array = parent
		case ir.KindPage:
			info.page = parent
		}
	}

	for i := range nodes {
		node := &nodes[i]
		loc := fmt.Sprintf("%s[%d]", where, i)
		if !keyPattern.MatchString(node.Key) {
			b.fail(loc+".key", ErrInvalidKey, "invalid key %q", node.Key)
			continue
		}
		path := ir.JoinPath(info.prefix, node.Key)
		if _, dup := b.plan.ByPath[path]; dup {
			b.fail(path, ErrInvalidKey, "duplicate key %q in scope %q", node.Key, info.prefix)
			continue
		}

		ft := &FieldTemplate{
			Path:    path,
			Key:     node.Key,
			Kind:    node.EffectiveKind(),
			Node:    node,
			Index:   len(b.plan.Fields),
			Parent:  parent,
			Scope:   info.scope,
			Array:   info.array,
			Page:    info.page,
			Default: ir.Normalize(node.Value),
		}
		b.plan.Fields = append(b.plan.Fields, ft)
		b.plan.ByPath[path] = ft
		if parent != nil {
			parent.Children = append(parent.Children, ft)
		}

		if !ft.Kind.IsContainer() && len(node.Children) > 0 {
			b.fail(path, ErrInvalidKey, "%s field cannot have children", ft.Kind)
		}

		b.compileLogic(ft)
		b.compileFieldValidators(ft)
		b.compileSchemaUses(ft)

		if ft.Kind.IsContainer() {
			childPrefix := info.prefix
			switch ft.Kind {
			case ir.KindGroup:
				childPrefix = path
			case ir.KindArray:
				childPrefix = ft.ItemScope()
			}
			b.compileFields(node.Children, ft, childPrefix, loc+".children")
		}
	}
}

// ===== Logic entries =====

func (b *builder) compileLogic(ft *FieldTemplate) {
	for i, spec := range ft.Node.Logic {
		field := fmt.Sprintf("%s.logic[%d]", ft.Path, i)
		e := &Entry{
			ID:    fmt.Sprintf("%s#%d", ft.Path, i),
			Index: i,
			Field: ft,
			Spec:  spec,
			Type:  spec.Type,
			Order: -1,
		}

		switch {
		case spec.Type == ir.LogicDerivation, spec.Type == ir.LogicPropertyDerivation, spec.Type.IsBoolean():
		default:
			b.fail(field, ErrInvalidSource, "unknown logic type %q", spec.Type)
			continue
		}
		if ft.Kind.IsContainer() && spec.Type != ir.LogicHidden {
			b.fail(field, ErrContainerLogic, "%s logic is not allowed on %s container %q; only hidden is", spec.Type, ft.Kind, ft.Key)
			continue
		}
		if spec.Type == ir.LogicDerivation && !ft.Kind.HasValue() {
			b.fail(field, ErrDerivationNoValue, "derivation on %s field %q, which has no value", ft.Kind, ft.Key)
			continue
		}

		ok := b.compileSource(e, field)
		ok = b.compileEntryCondition(e, field) && ok
		ok = b.compileTrigger(e, field) && ok
		if spec.Type == ir.LogicPropertyDerivation {
			ok = b.compileTarget(e, field) && ok
		} else if spec.TargetProperty != "" {
			b.fail(field, ErrPropertyTarget, "targetProperty is only valid on propertyDerivation")
			ok = false
		}
		if !ok {
			continue
		}

		e.Deps = entryDeps(e)
		ft.Entries = append(ft.Entries, e)
		b.plan.Entries = append(b.plan.Entries, e)
	}
}

func (b *builder) compileSource(e *Entry, field string) bool {
	spec := e.Spec
	n := spec.SourceCount()
	switch {
	case n > 1:
		b.fail(field, ErrInvalidSource, "exactly one of staticValue, expression or functionName may be set")
		return false
	case n == 0 && !spec.Type.IsBoolean():
		b.fail(field, ErrInvalidSource, "%s requires staticValue, expression or functionName", spec.Type)
		return false
	case n == 0 && spec.Condition == nil:
		b.fail(field, ErrInvalidSource, "%s requires a condition or a source", spec.Type)
		return false
	case n == 0:
		e.Source = SourceCondition
		return true
	}

	switch {
	case spec.StaticValue != nil:
		e.Source = SourceStatic
		e.Static = ir.Normalize(spec.StaticValue)
	case spec.Expression != "":
		e.Source = SourceExpression
		p, err := expression.Compile(spec.Expression)
		if err != nil {
			b.fail(field+".expression", ErrInvalidExpression, "%v", err)
			return false
		}
		e.Program = p
	default:
		e.Source = SourceFunction
		return b.bindFunction(e, field)
	}
	return true
}

func (b *builder) bindFunction(e *Entry, field string) bool {
	name := e.Spec.FunctionName
	var (
		ns    registry.Namespace
		found bool
	)
	switch e.Type {
	case ir.LogicDerivation:
		ns = registry.NamespaceDerivation
		e.derive, found = b.reg.Derivation(name)
	case ir.LogicPropertyDerivation:
		ns = registry.NamespacePropertyDerivation
		e.property, found = b.reg.PropertyDerivation(name)
	default:
		ns = registry.NamespaceCondition
		e.predicate, found = b.reg.Condition(name)
	}
	if !found {
		b.fail(field+".functionName", ErrUnknownFunction, "%s function %q is not registered", ns, name)
		return false
	}
	return true
}

func (b *builder) compileEntryCondition(e *Entry, field string) bool {
	if e.Spec.Condition == nil {
		return true
	}
	c, ok := b.compileCondition(e.Spec.Condition, field+".condition")
	if !ok {
		return false
	}
	if c.UsesFormState() && !e.Field.Kind.IsButton() {
		b.fail(field+".condition", ErrFormStateCondition, "form-state predicates are only allowed on buttons, not %s field %q", e.Field.Kind, e.Field.Key)
		return false
	}
	e.Condition = c
	return true
}

func (b *builder) compileCondition(c *ir.Condition, field string) (*condition.Compiled, bool) {
	compiled, err := condition.Compile(c, b.reg)
	if err != nil {
		var unknown *condition.UnknownFunctionError
		switch {
		case errors.As(err, &unknown):
			b.fail(field, ErrUnknownFunction, "%v", err)
		case expression.IsError(err):
			b.fail(field, ErrInvalidExpression, "%v", err)
		default:
			b.fail(field, ErrInvalidCondition, "%v", err)
		}
		return nil, false
	}
	return compiled, true
}

func (b *builder) compileTrigger(e *Entry, field string) bool {
	switch e.Spec.EffectiveTrigger() {
	case ir.TriggerOnChange:
		return true
	case ir.TriggerDebounced:
		if e.Spec.DebounceMs <= 0 {
			b.fail(field+".debounceMs", ErrInvalidTrigger, "debounced trigger requires a positive debounceMs")
			return false
		}
		e.Debounce = time.Duration(e.Spec.DebounceMs) * time.Millisecond
		return true
	}
	b.fail(field+".trigger", ErrInvalidTrigger, "unknown trigger %q", e.Spec.Trigger)
	return false
}

func (b *builder) compileTarget(e *Entry, field string) bool {
	target := strings.TrimSpace(e.Spec.TargetProperty)
	if target == "" {
		b.fail(field+".targetProperty", ErrPropertyTarget, "propertyDerivation requires targetProperty")
		return false
	}
	segs := strings.Split(target, ".")
	if len(segs) > 2 {
		b.fail(field+".targetProperty", ErrPropertyTarget, "targetProperty %q is deeper than two levels", target)
		return false
	}
	for _, s := range segs {
		if s == "" {
			b.fail(field+".targetProperty", ErrPropertyTarget, "targetProperty %q has an empty segment", target)
			return false
		}
	}
	e.Target = segs
	return true
}

// ===== Validators =====

func (b *builder) compileFieldValidators(ft *FieldTemplate) {
	node := ft.Node
	specs := append([]ir.ValidatorSpec(nil), node.Validators...)
	specs = append(specs, shorthandValidators(node)...)

	if len(specs) > 0 && ft.Kind.IsContainer() && ft.Kind != ir.KindArray {
		b.fail(ft.Path+".validators", ErrInvalidValidator, "validators are not allowed on %s container %q", ft.Kind, ft.Key)
		return
	}

	var deps []Dep
	for i, spec := range specs {
		v, ok := b.compileValidator(spec, fmt.Sprintf("%s.validators[%d]", ft.Path, i))
		if !ok {
			continue
		}
		ft.Validators = append(ft.Validators, v)
		deps = append(deps, refDeps(ft, v.Refs())...)
		deps = append(deps, dependsOnDeps(ft, spec.DependsOn)...)
	}
	ft.ValidatorDeps = dedupeDeps(deps)
}

func shorthandValidators(node *ir.FieldNode) []ir.ValidatorSpec {
	var specs []ir.ValidatorSpec
	if node.Email {
		specs = append(specs, ir.ValidatorSpec{Type: ir.ValidatorEmail})
	}
	if node.Min != nil {
		specs = append(specs, ir.ValidatorSpec{Type: ir.ValidatorMin, Value: *node.Min})
	}
	if node.Max != nil {
		specs = append(specs, ir.ValidatorSpec{Type: ir.ValidatorMax, Value: *node.Max})
	}
	if node.MinLength != nil {
		specs = append(specs, ir.ValidatorSpec{Type: ir.ValidatorMinLength, Value: *node.MinLength})
	}
	if node.MaxLength != nil {
		specs = append(specs, ir.ValidatorSpec{Type: ir.ValidatorMaxLength, Value: *node.MaxLength})
	}
	if node.Pattern != "" {
		specs = append(specs, ir.ValidatorSpec{Type: ir.ValidatorPattern, Value: node.Pattern})
	}
	return specs
}

func (b *builder) compileValidator(spec ir.ValidatorSpec, field string) (*validation.Validator, bool) {
	v, err := validation.Compile(spec, b.reg)
	if err != nil {
		var (
			unknown     *validation.UnknownFunctionError
			unknownCond *condition.UnknownFunctionError
		)
		switch {
		case errors.As(err, &unknown), errors.As(err, &unknownCond):
			b.fail(field, ErrUnknownFunction, "%v", err)
		case expression.IsError(err):
			b.fail(field, ErrInvalidExpression, "%v", err)
		default:
			b.fail(field, ErrInvalidValidator, "%v", err)
		}
		return nil, false
	}
	if v.When != nil && v.When.UsesFormState() {
		b.fail(field+".when", ErrFormStateCondition, "form-state predicates are not allowed in validator guards")
		return nil, false
	}
	return v, true
}

// ===== Schema applications =====

func (b *builder) compileSchemaUses(ft *FieldTemplate) {
	var deps []Dep
	for i, app := range ft.Node.Schemas {
		field := fmt.Sprintf("%s.schemas[%d]", ft.Path, i)
		schema, ok := b.plan.Schemas[app.Schema]
		if !ok {
			b.fail(field, ErrUnknownSchema, "unknown schema %q", app.Schema)
			continue
		}
		use := &SchemaUse{Schema: schema, Type: app.Type}
		switch app.Type {
		case ir.SchemaApply, "":
			use.Type = ir.SchemaApply
			if app.Condition != nil {
				b.fail(field, ErrInvalidCondition, "apply takes no condition; use applyWhen")
				continue
			}
		case ir.SchemaApplyWhen:
			if app.Condition == nil {
				b.fail(field, ErrInvalidCondition, "applyWhen requires a condition")
				continue
			}
			c, ok := b.compileCondition(app.Condition, field+".condition")
			if !ok {
				continue
			}
			if c.UsesFormState() {
				b.fail(field+".condition", ErrFormStateCondition, "form-state predicates are not allowed in schema guards")
				continue
			}
			use.Condition = c
			deps = append(deps, refDeps(ft, c.Refs())...)
		default:
			b.fail(field, ErrUnknownSchema, "unknown schema application type %q", app.Type)
			continue
		}
		for _, v := range schema.Validators {
			deps = append(deps, refDeps(ft, v.Refs())...)
			deps = append(deps, dependsOnDeps(ft, v.Spec.DependsOn)...)
		}
		ft.Schemas = append(ft.Schemas, use)
	}
	if len(deps) > 0 {
		ft.ValidatorDeps = dedupeDeps(append(ft.ValidatorDeps, deps...))
	}
}

// ===== Conflicts =====

// checkConflicts rejects fields with more than one always-active derivation.
func (b *builder) checkConflicts() {
	for _, ft := range b.plan.Fields {
		var always []string
		for _, e := range ft.Entries {
			if e.Type == ir.LogicDerivation && e.Unconditional() {
				always = append(always, e.ID)
			}
		}
		if len(always) > 1 {
			b.fail(ft.Path, ErrConflictingDerivers, "derivations %s are always active together; give them mutually exclusive conditions", strings.Join(always, ", "))
		}
	}
}
