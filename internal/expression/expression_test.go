package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldlogic/internal/ir"
)

func scope(form map[string]any) ir.EvaluationContext {
	return ir.EvaluationContext{FormValue: form, RootFormValue: form}
}

// ===== Evaluation =====

func TestEvalArithmetic(t *testing.T) {
	p, err := Compile("formValue.quantity * formValue.unitPrice")
	require.NoError(t, err)

	out, err := p.Eval(scope(map[string]any{"quantity": 2.0, "unitPrice": 50.0}))
	require.NoError(t, err)
	assert.Equal(t, 100.0, out)
}

func TestEvalIntegerLiteralsNormalized(t *testing.T) {
	out, err := MustCompile("2 * 50").Eval(scope(nil))
	require.NoError(t, err)
	assert.Equal(t, 100.0, out)
}

func TestEvalRoundPlaces(t *testing.T) {
	p := MustCompile("round(formValue.amountUSD / 1.1, 2)")
	out, err := p.Eval(scope(map[string]any{"amountUSD": 100.0}))
	require.NoError(t, err)
	assert.Equal(t, 90.91, out)

	out, err = MustCompile("round(2.5)").Eval(scope(nil))
	require.NoError(t, err)
	assert.Equal(t, 3.0, out)
}

func TestEvalStrictEquality(t *testing.T) {
	p := MustCompile("fieldValue === formValue.password")
	ctx := scope(map[string]any{"password": "secret"})

	ctx.FieldValue = "secret"
	ok, err := p.EvalBool(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ctx.FieldValue = "other"
	ok, err = p.EvalBool(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalLength(t *testing.T) {
	p := MustCompile("formValue.name.length > 3")
	ok, err := p.EvalBool(scope(map[string]any{"name": "abcd"}))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []Ref{{Kind: RefScope, Path: "name"}}, p.Refs)
}

func TestEvalLengthOnArrays(t *testing.T) {
	out, err := MustCompile("formValue.items.length").Eval(scope(map[string]any{"items": []any{1.0, 2.0}}))
	require.NoError(t, err)
	assert.Equal(t, 2.0, out)

	out, err = MustCompile("formValue.missing?.length").Eval(scope(map[string]any{}))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestEvalFieldNamedLength(t *testing.T) {
	p := MustCompile("formValue.length * 2")
	out, err := p.Eval(scope(map[string]any{"length": 4.0, "width": 3.0}))
	require.NoError(t, err)
	assert.Equal(t, 8.0, out)
	assert.Equal(t, []Ref{{Kind: RefScope, Path: "length"}}, p.Refs)

	out, err = MustCompile("formValue.box.length").Eval(scope(map[string]any{
		"box": map[string]any{"length": 7.0, "width": 2.0},
	}))
	require.NoError(t, err)
	assert.Equal(t, 7.0, out)
}

func TestEvalTernaryAndNullish(t *testing.T) {
	out, err := MustCompile("formValue.x > 1 ? 'big' : 'small'").Eval(scope(map[string]any{"x": 5.0}))
	require.NoError(t, err)
	assert.Equal(t, "big", out)

	out, err = MustCompile("formValue.missing ?? 0").Eval(scope(map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, out)

	out, err = MustCompile("formValue.address?.street").Eval(scope(map[string]any{}))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestEvalExternalData(t *testing.T) {
	p := MustCompile("externalData.role == 'admin'")
	ok, err := p.EvalBool(ir.EvaluationContext{ExternalData: map[string]any{"role": "admin"}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalRuntimeError(t *testing.T) {
	_, err := MustCompile("formValue.a * 2").Eval(scope(map[string]any{}))
	require.Error(t, err)
	assert.False(t, IsError(err))
}

// ===== Sandbox =====

func TestCompileRejectsUnknownIdentifiers(t *testing.T) {
	for _, src := range []string{"window.alert(1)", "document", "process.env"} {
		_, err := Compile(src)
		require.Error(t, err, src)
		assert.True(t, IsError(err))
	}
}

func TestCompileRejectsNow(t *testing.T) {
	_, err := Compile("now()")
	require.Error(t, err)
}

func TestCompileRejectsOutsideDialect(t *testing.T) {
	for _, src := range []string{
		"map(formValue.items, # * 2)",
		"filter(formValue.items, # > 1)",
		"reduce(formValue.items, #acc + #, 0)",
		"let x = 1; x + 1",
		"date('2024-01-01')",
		"duration('1h')",
		"toJSON(formValue)",
	} {
		_, err := Compile(src)
		require.Error(t, err, src)
		assert.True(t, IsError(err), src)
	}
}

func TestCompileAllowsHelpers(t *testing.T) {
	for _, src := range []string{
		"round(formValue.x, 2)",
		"abs(formValue.x) + floor(1.5) + ceil(1.5)",
		"max(formValue.x, 1) - min(formValue.x, 1)",
		"len(upper(trim(formValue.name))) > 0",
		"'$' + string(formValue.x)",
	} {
		_, err := Compile(src)
		require.NoError(t, err, src)
	}
}

func TestCompileRejectsMethodCalls(t *testing.T) {
	_, err := Compile("formValue.name.toUpperCase()")
	require.Error(t, err)
}

func TestCompileRejectsEmpty(t *testing.T) {
	_, err := Compile("   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty expression")
}

// ===== References =====

func TestRefsExtraction(t *testing.T) {
	tests := []struct {
		src  string
		want []Ref
	}{
		{"formValue.subtotal * formValue.taxRate / 100", []Ref{
			{Kind: RefScope, Path: "subtotal"}, {Kind: RefScope, Path: "taxRate"},
		}},
		{"formValue.address.city", []Ref{{Kind: RefScope, Path: "address.city"}}},
		{"formValue.items[0].price", []Ref{{Kind: RefScope, Path: "items.0.price"}}},
		{"formValue.items[fieldValue]", []Ref{
			{Kind: RefScope, Path: "items"}, {Kind: RefSelf, Path: ""},
		}},
		{"rootFormValue.country == 'DE'", []Ref{{Kind: RefRoot, Path: "country"}}},
		{"externalData.user.role", []Ref{{Kind: RefExternal, Path: "user"}}},
		{"formValue.a + formValue.a", []Ref{{Kind: RefScope, Path: "a"}}},
		{"1 + 2", nil},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			p, err := Compile(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Refs)
		})
	}
}

func TestNormalizeOperators(t *testing.T) {
	assert.Equal(t, "a == b", normalizeOperators("a === b"))
	assert.Equal(t, "a != b", normalizeOperators("a !== b"))
	assert.Equal(t, "a == 'x===y'", normalizeOperators("a === 'x===y'"))
	assert.Equal(t, "a <= b", normalizeOperators("a <= b"))
}
