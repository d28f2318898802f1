package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldlogic/internal/ir"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterDerivation("double", func(ctx ir.EvaluationContext) (any, error) {
		n, _ := ir.ToNumber(ctx.FieldValue)
		return n * 2, nil
	}))
	require.NoError(t, r.RegisterAsyncValidator("usernameTaken", func(ctx context.Context, vc ValidatorContext) (string, error) {
		return "", nil
	}))

	fn, ok := r.Derivation("double")
	require.True(t, ok)
	out, err := fn(ir.EvaluationContext{FieldValue: 21.0})
	require.NoError(t, err)
	assert.Equal(t, 42.0, out)

	_, ok = r.Derivation("usernameTaken")
	assert.False(t, ok, "namespaces are separate")
	assert.True(t, r.Has(NamespaceAsyncValidator, "usernameTaken"))
	assert.False(t, r.Has(NamespaceValidator, "usernameTaken"))
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	fn := func(ctx ir.EvaluationContext) (bool, error) { return true, nil }
	require.NoError(t, r.RegisterCondition("isAdmin", fn))

	err := r.RegisterCondition("isAdmin", fn)
	require.Error(t, err)
	var dup *DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, NamespaceCondition, dup.Namespace)
	assert.Equal(t, "isAdmin", dup.Name)
}

func TestRegisterEmptyName(t *testing.T) {
	r := New()
	err := r.RegisterValidator("", func(vc ValidatorContext) (string, error) { return "", nil })
	require.Error(t, err)
}

func TestRegistriesAreIsolated(t *testing.T) {
	a, b := New(), New()
	require.NoError(t, a.RegisterPropertyDerivation("minDate", func(ctx ir.EvaluationContext) (any, error) { return "2024-01-01", nil }))

	assert.True(t, a.Has(NamespacePropertyDerivation, "minDate"))
	assert.False(t, b.Has(NamespacePropertyDerivation, "minDate"))
	assert.Equal(t, []string{"minDate"}, a.Names(NamespacePropertyDerivation))
	assert.Empty(t, b.Names(NamespacePropertyDerivation))

	var nilReg *Registry
	assert.False(t, nilReg.Has(NamespaceDerivation, "x"))
}
