// Package condition compiles and evaluates Condition trees.
//
// Conditions are compiled once per template and evaluated per instance
// against an EvaluationContext. fieldValue paths resolve relative to the
// context's FormValue, which is already scoped to the array item when the
// condition lives inside one.
package condition

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/fieldlogic/internal/expression"
	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/registry"
)

// FormState exposes aggregate engine state to button predicates.
type FormState interface {
	FormInvalid() bool
	FormSubmitting() bool
	// PageInvalid reports whether the page enclosing fieldPath has errors.
	PageInvalid(fieldPath string) bool
}

// Compiled is an evaluable condition.
type Compiled struct {
	typ       ir.ConditionType
	fieldPath string
	operator  ir.Operator
	value     any
	pattern   *regexp.Regexp
	program   *expression.Program
	fn        registry.ConditionFunc
	fnName    string
	children  []*Compiled
}

// Compile validates c and prepares it for evaluation. Custom conditions are
// resolved against reg immediately so an unknown name fails here.
func Compile(c *ir.Condition, reg *registry.Registry) (*Compiled, error) {
	if c == nil {
		return nil, errors.New("nil condition")
	}
	out := &Compiled{typ: c.Type}

	switch c.Type {
	case ir.ConditionTrue, ir.ConditionFalse,
		ir.ConditionFormInvalid, ir.ConditionFormSubmitting, ir.ConditionPageInvalid:
		return out, nil

	case ir.ConditionFieldValue:
		if c.FieldPath == "" {
			return nil, errors.New("fieldValue condition: missing fieldPath")
		}
		if !ir.ValidOperators[c.Operator] {
			return nil, fmt.Errorf("fieldValue condition on %q: unknown operator %q", c.FieldPath, c.Operator)
		}
		out.fieldPath = c.FieldPath
		out.operator = c.Operator
		out.value = ir.Normalize(c.Value)
		if c.Operator == ir.OpMatches {
			src, ok := c.Value.(string)
			if !ok {
				return nil, fmt.Errorf("fieldValue condition on %q: matches requires a string pattern", c.FieldPath)
			}
			re, err := regexp.Compile(src)
			if err != nil {
				return nil, fmt.Errorf("fieldValue condition on %q: %w", c.FieldPath, err)
			}
			out.pattern = re
		}
		return out, nil

	case ir.ConditionJavascript:
		p, err := expression.Compile(c.Expression)
		if err != nil {
			return nil, err
		}
		out.program = p
		return out, nil

	case ir.ConditionCustom:
		var fn registry.ConditionFunc
		ok := false
		if reg != nil {
			fn, ok = reg.Condition(c.FunctionName)
		}
		if !ok {
			return nil, &UnknownFunctionError{Name: c.FunctionName}
		}
		out.fn = fn
		out.fnName = c.FunctionName
		return out, nil

	case ir.ConditionAnd, ir.ConditionOr:
		for i := range c.Conditions {
			child, err := Compile(&c.Conditions[i], reg)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", c.Type, i, err)
			}
			out.children = append(out.children, child)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown condition type %q", c.Type)
}

// UnknownFunctionError reports a custom condition name missing from the registry.
type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("custom condition %q is not registered", e.Name)
}

// Refs returns the references the condition reads.
func (c *Compiled) Refs() []expression.Ref {
	var refs []expression.Ref
	c.walk(func(n *Compiled) {
		switch {
		case n.typ == ir.ConditionFieldValue && ir.IsAbsolute(n.fieldPath):
			refs = append(refs, expression.Ref{Kind: expression.RefRoot, Path: ir.StripAbsolute(n.fieldPath)})
		case n.typ == ir.ConditionFieldValue:
			refs = append(refs, expression.Ref{Kind: expression.RefScope, Path: n.fieldPath})
		case n.program != nil:
			refs = append(refs, n.program.Refs...)
		}
	})
	return refs
}

// UsesFormState reports whether any node reads aggregate form state.
func (c *Compiled) UsesFormState() bool {
	found := false
	c.walk(func(n *Compiled) {
		if n.typ.IsFormState() {
			found = true
		}
	})
	return found
}

// IsConstant reports whether the condition is a bare literal.
func (c *Compiled) IsConstant() (value, ok bool) {
	switch c.typ {
	case ir.ConditionTrue:
		return true, true
	case ir.ConditionFalse:
		return false, true
	}
	return false, false
}

func (c *Compiled) walk(fn func(*Compiled)) {
	fn(c)
	for _, child := range c.children {
		child.walk(fn)
	}
}

// Evaluate computes the condition. fs may be nil when the condition does
// not use form-state predicates. and/or short-circuit left to right.
func (c *Compiled) Evaluate(ctx ir.EvaluationContext, fs FormState) (bool, error) {
	switch c.typ {
	case ir.ConditionTrue:
		return true, nil
	case ir.ConditionFalse:
		return false, nil

	case ir.ConditionAnd:
		for _, child := range c.children {
			ok, err := child.Evaluate(ctx, fs)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case ir.ConditionOr:
		for _, child := range c.children {
			ok, err := child.Evaluate(ctx, fs)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case ir.ConditionJavascript:
		return c.program.EvalBool(ctx)

	case ir.ConditionCustom:
		ok, err := c.fn(ctx)
		if err != nil {
			return false, fmt.Errorf("custom condition %q: %w", c.fnName, err)
		}
		return ok, nil

	case ir.ConditionFieldValue:
		return c.compare(lookupField(ctx, c.fieldPath)), nil

	case ir.ConditionFormInvalid, ir.ConditionFormSubmitting, ir.ConditionPageInvalid:
		if fs == nil {
			return false, fmt.Errorf("%s condition evaluated without form state", c.typ)
		}
		switch c.typ {
		case ir.ConditionFormInvalid:
			return fs.FormInvalid(), nil
		case ir.ConditionFormSubmitting:
			return fs.FormSubmitting(), nil
		default:
			return fs.PageInvalid(ctx.FieldPath), nil
		}
	}
	return false, fmt.Errorf("unknown condition type %q", c.typ)
}

func lookupField(ctx ir.EvaluationContext, path string) any {
	if ir.IsAbsolute(path) {
		v, _ := ir.GetPath(ctx.RootFormValue, ir.StripAbsolute(path))
		return v
	}
	v, _ := ir.GetPath(ctx.FormValue, path)
	return v
}

func (c *Compiled) compare(actual any) bool {
	switch c.operator {
	case ir.OpEquals:
		return ir.Equal(actual, c.value, 0)
	case ir.OpNotEquals:
		return !ir.Equal(actual, c.value, 0)
	case ir.OpGreater, ir.OpGreaterOrEqual, ir.OpLess, ir.OpLessOrEqual:
		a, aok := ir.ToNumber(actual)
		b, bok := ir.ToNumber(c.value)
		if !aok || !bok {
			return false
		}
		switch c.operator {
		case ir.OpGreater:
			return a > b
		case ir.OpGreaterOrEqual:
			return a >= b
		case ir.OpLess:
			return a < b
		default:
			return a <= b
		}
	case ir.OpContains:
		if list, ok := actual.([]any); ok {
			for _, elem := range list {
				if ir.Equal(elem, c.value, 0) {
					return true
				}
			}
			return false
		}
		if actual == nil {
			return false
		}
		return strings.Contains(ir.ToString(actual), ir.ToString(c.value))
	case ir.OpStartsWith:
		return actual != nil && strings.HasPrefix(ir.ToString(actual), ir.ToString(c.value))
	case ir.OpEndsWith:
		return actual != nil && strings.HasSuffix(ir.ToString(actual), ir.ToString(c.value))
	case ir.OpMatches:
		return actual != nil && c.pattern.MatchString(ir.ToString(actual))
	}
	return false
}
