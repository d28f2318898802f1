package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/fieldlogic/internal/condition"
	"github.com/roach88/fieldlogic/internal/expression"
	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/registry"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Validator is a compiled ValidatorSpec. It is shared by every instance of
// the field template it belongs to.
type Validator struct {
	Spec ir.ValidatorSpec
	Type ir.ValidatorType
	Kind string
	When *condition.Compiled

	program *expression.Program
	fn      registry.ValidatorFunc
	async   registry.AsyncValidatorFunc
	pattern *regexp.Regexp
	number  float64
	length  int
}

// UnknownFunctionError reports a validator name missing from the registry.
type UnknownFunctionError struct {
	Namespace registry.Namespace
	Name      string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("%s %q is not registered", e.Namespace, e.Name)
}

// Compile checks spec and resolves everything it references.
func Compile(spec ir.ValidatorSpec, reg *registry.Registry) (*Validator, error) {
	v := &Validator{Spec: spec, Type: spec.Type, Kind: spec.ErrorKind()}

	if spec.When != nil {
		when, err := condition.Compile(spec.When, reg)
		if err != nil {
			return nil, fmt.Errorf("when: %w", err)
		}
		v.When = when
	}

	switch spec.Type {
	case ir.ValidatorRequired, ir.ValidatorEmail:

	case ir.ValidatorMin, ir.ValidatorMax:
		n, ok := ir.ToNumber(spec.Value)
		if !ok {
			return nil, fmt.Errorf("%s validator requires a numeric value", spec.Type)
		}
		v.number = n

	case ir.ValidatorMinLength, ir.ValidatorMaxLength:
		n, ok := ir.ToNumber(spec.Value)
		if !ok || n < 0 || n != float64(int(n)) {
			return nil, fmt.Errorf("%s validator requires a non-negative integer value", spec.Type)
		}
		v.length = int(n)

	case ir.ValidatorPattern:
		src, ok := spec.Value.(string)
		if !ok || src == "" {
			return nil, errors.New("pattern validator requires a string value")
		}
		re, err := regexp.Compile(anchor(src))
		if err != nil {
			return nil, fmt.Errorf("pattern validator: %w", err)
		}
		v.pattern = re

	case ir.ValidatorCustom:
		switch {
		case spec.Expression != "" && spec.FunctionName != "":
			return nil, errors.New("custom validator needs exactly one of expression or functionName")
		case spec.Expression != "":
			p, err := expression.Compile(spec.Expression)
			if err != nil {
				return nil, err
			}
			v.program = p
			if spec.Kind == "" {
				v.Kind = "custom"
			}
		case spec.FunctionName != "":
			fn, ok := lookupValidator(reg, spec.FunctionName)
			if !ok {
				return nil, &UnknownFunctionError{Namespace: registry.NamespaceValidator, Name: spec.FunctionName}
			}
			v.fn = fn
		default:
			return nil, errors.New("custom validator needs an expression or functionName")
		}

	case ir.ValidatorAsync:
		if spec.FunctionName == "" {
			return nil, errors.New("async validator needs a functionName")
		}
		fn, ok := lookupAsync(reg, spec.FunctionName)
		if !ok {
			return nil, &UnknownFunctionError{Namespace: registry.NamespaceAsyncValidator, Name: spec.FunctionName}
		}
		v.async = fn

	case ir.ValidatorHTTP:
		if spec.HTTP == nil || spec.HTTP.URL == "" {
			return nil, errors.New("http validator needs http.url")
		}
		switch strings.ToUpper(spec.HTTP.Method) {
		case "", "GET", "POST":
		default:
			return nil, fmt.Errorf("http validator: unsupported method %q", spec.HTTP.Method)
		}

	default:
		return nil, fmt.Errorf("unknown validator type %q", spec.Type)
	}
	return v, nil
}

func lookupValidator(reg *registry.Registry, name string) (registry.ValidatorFunc, bool) {
	if reg == nil {
		return nil, false
	}
	return reg.Validator(name)
}

func lookupAsync(reg *registry.Registry, name string) (registry.AsyncValidatorFunc, bool) {
	if reg == nil {
		return nil, false
	}
	return reg.AsyncValidator(name)
}

// anchor makes a string pattern match the whole value.
func anchor(src string) string {
	if strings.HasPrefix(src, "^") && strings.HasSuffix(src, "$") {
		return src
	}
	return "^(?:" + src + ")$"
}

// IsAsync reports whether the validator runs as a cancellable task.
func (v *Validator) IsAsync() bool {
	return v.Type.IsAsync()
}

// Refs returns the references read by the validator's expression and guard.
func (v *Validator) Refs() []expression.Ref {
	var refs []expression.Ref
	if v.program != nil {
		refs = append(refs, v.program.Refs...)
	}
	if v.When != nil {
		refs = append(refs, v.When.Refs()...)
	}
	return refs
}

// Applies evaluates the validator's guard.
func (v *Validator) Applies(fc *FieldContext, fs condition.FormState) (bool, error) {
	if v.When == nil {
		return true, nil
	}
	return v.When.Evaluate(fc.EvaluationContext(), fs)
}

// Check runs a synchronous validator. It returns the error kind, or "" when
// the value passes. Asynchronous validators must go through Run.
func (v *Validator) Check(fc *FieldContext) (string, error) {
	value := fc.Value()
	fail := func(failed bool) (string, error) {
		if failed {
			return v.Kind, nil
		}
		return "", nil
	}

	switch v.Type {
	case ir.ValidatorRequired:
		return fail(ir.IsEmpty(value))

	case ir.ValidatorEmail:
		if ir.IsEmpty(value) {
			return "", nil
		}
		return fail(!emailPattern.MatchString(ir.ToString(value)))

	case ir.ValidatorMin, ir.ValidatorMax:
		if ir.IsEmpty(value) {
			return "", nil
		}
		n, ok := ir.ToNumber(value)
		if !ok {
			return "", nil
		}
		if v.Type == ir.ValidatorMin {
			return fail(n < v.number)
		}
		return fail(n > v.number)

	case ir.ValidatorMinLength, ir.ValidatorMaxLength:
		if ir.IsEmpty(value) {
			return "", nil
		}
		n, ok := ir.Length(value)
		if !ok {
			return "", nil
		}
		if v.Type == ir.ValidatorMinLength {
			return fail(n < v.length)
		}
		return fail(n > v.length)

	case ir.ValidatorPattern:
		if ir.IsEmpty(value) {
			return "", nil
		}
		return fail(!v.pattern.MatchString(ir.ToString(value)))

	case ir.ValidatorCustom:
		if v.program != nil {
			ok, err := v.program.EvalBool(fc.EvaluationContext())
			if err != nil {
				return "", err
			}
			return fail(!ok)
		}
		kind, err := v.fn(fc)
		if err != nil {
			return "", fmt.Errorf("validator %q: %w", v.Spec.FunctionName, err)
		}
		if kind != "" && v.Spec.Kind != "" {
			kind = v.Spec.Kind
		}
		return kind, nil
	}
	return "", fmt.Errorf("%s validator is asynchronous", v.Type)
}

// Param returns the configured parameter used in message templates.
func (v *Validator) Param() any {
	return v.Spec.Value
}
