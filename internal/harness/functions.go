package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/fieldlogic/internal/expression"
	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/registry"
)

// ErrValidatorUnavailable is returned by async validators declared with
// fail: true.
var ErrValidatorUnavailable = errors.New("validator unavailable")

// BuildRegistry registers the scenario's declared functions.
func BuildRegistry(specs []FunctionSpec) (*registry.Registry, error) {
	reg := registry.New()
	for _, fn := range specs {
		if err := register(reg, fn); err != nil {
			return nil, fmt.Errorf("function %q: %w", fn.Name, err)
		}
	}
	return reg, nil
}

func register(reg *registry.Registry, fn FunctionSpec) error {
	switch fn.Type {
	case FuncDerivation, FuncPropertyDerivation, FuncCondition:
		p, err := expression.Compile(fn.Expression)
		if err != nil {
			return err
		}
		switch fn.Type {
		case FuncDerivation:
			return reg.RegisterDerivation(fn.Name, p.Eval)
		case FuncPropertyDerivation:
			return reg.RegisterPropertyDerivation(fn.Name, p.Eval)
		}
		return reg.RegisterCondition(fn.Name, p.EvalBool)

	case FuncValidator:
		return reg.RegisterValidator(fn.Name, func(vc registry.ValidatorContext) (string, error) {
			return fn.check(vc), nil
		})

	case FuncAsyncValidator:
		return reg.RegisterAsyncValidator(fn.Name, func(ctx context.Context, vc registry.ValidatorContext) (string, error) {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			if fn.Fail {
				return "", ErrValidatorUnavailable
			}
			return fn.check(vc), nil
		})
	}
	return fmt.Errorf("unknown function type %q", fn.Type)
}

// check returns Kind when the validated value is rejected.
func (fn FunctionSpec) check(vc registry.ValidatorContext) string {
	value := vc.Value()
	for _, r := range fn.Reject {
		if ir.Equal(value, ir.Normalize(r), 0) {
			return fn.Kind
		}
	}
	if fn.MatchField != "" && !ir.Equal(value, vc.ValueOf(fn.MatchField), 0) {
		return fn.Kind
	}
	return ""
}
