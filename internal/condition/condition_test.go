package condition

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldlogic/internal/expression"
	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/registry"
)

type fakeFormState struct {
	invalid     bool
	submitting  bool
	invalidPage string
}

func (f fakeFormState) FormInvalid() bool    { return f.invalid }
func (f fakeFormState) FormSubmitting() bool { return f.submitting }
func (f fakeFormState) PageInvalid(path string) bool {
	return f.invalidPage != "" && ir.HasPathPrefix(path, f.invalidPage)
}

func fieldCond(path string, op ir.Operator, value any) *ir.Condition {
	return &ir.Condition{Type: ir.ConditionFieldValue, FieldPath: path, Operator: op, Value: value}
}

func eval(t *testing.T, c *ir.Condition, form map[string]any) bool {
	t.Helper()
	compiled, err := Compile(c, registry.New())
	require.NoError(t, err)
	ok, err := compiled.Evaluate(ir.EvaluationContext{FormValue: form, RootFormValue: form}, nil)
	require.NoError(t, err)
	return ok
}

// ===== fieldValue operators =====

func TestFieldValueOperators(t *testing.T) {
	form := map[string]any{
		"age":     21.0,
		"name":    "Ada Lovelace",
		"tags":    []any{"a", "b"},
		"country": "DE",
	}
	tests := []struct {
		name string
		cond *ir.Condition
		want bool
	}{
		{"equals", fieldCond("country", ir.OpEquals, "DE"), true},
		{"equals int literal", fieldCond("age", ir.OpEquals, 21), true},
		{"notEquals", fieldCond("country", ir.OpNotEquals, "DE"), false},
		{"greater", fieldCond("age", ir.OpGreater, 18), true},
		{"greaterOrEqual", fieldCond("age", ir.OpGreaterOrEqual, 21), true},
		{"less", fieldCond("age", ir.OpLess, 21), false},
		{"lessOrEqual", fieldCond("age", ir.OpLessOrEqual, 21), true},
		{"greater on missing", fieldCond("missing", ir.OpGreater, 0), false},
		{"contains string", fieldCond("name", ir.OpContains, "Love"), true},
		{"contains array", fieldCond("tags", ir.OpContains, "b"), true},
		{"contains missing", fieldCond("missing", ir.OpContains, "x"), false},
		{"startsWith", fieldCond("name", ir.OpStartsWith, "Ada"), true},
		{"endsWith", fieldCond("name", ir.OpEndsWith, "Ada"), false},
		{"matches", fieldCond("name", ir.OpMatches, `^[A-Z][a-z]+ `), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eval(t, tt.cond, form))
		})
	}
}

func TestFieldValueAbsolutePath(t *testing.T) {
	item := map[string]any{"hasApartment": true}
	root := map[string]any{"country": "DE", "contacts": []any{item}}

	c, err := Compile(fieldCond("/country", ir.OpEquals, "DE"), nil)
	require.NoError(t, err)
	ok, err := c.Evaluate(ir.EvaluationContext{FormValue: item, RootFormValue: root}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []expression.Ref{{Kind: expression.RefRoot, Path: "country"}}, c.Refs())
}

// ===== Combinators =====

func TestAndOrShortCircuit(t *testing.T) {
	calls := 0
	reg := registry.New()
	require.NoError(t, reg.RegisterCondition("counted", func(ctx ir.EvaluationContext) (bool, error) {
		calls++
		return true, nil
	}))

	and := &ir.Condition{Type: ir.ConditionAnd, Conditions: []ir.Condition{
		{Type: ir.ConditionFalse},
		{Type: ir.ConditionCustom, FunctionName: "counted"},
	}}
	c, err := Compile(and, reg)
	require.NoError(t, err)
	ok, err := c.Evaluate(ir.EvaluationContext{}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, calls)

	or := &ir.Condition{Type: ir.ConditionOr, Conditions: []ir.Condition{
		{Type: ir.ConditionTrue},
		{Type: ir.ConditionCustom, FunctionName: "counted"},
	}}
	c, err = Compile(or, reg)
	require.NoError(t, err)
	ok, err = c.Evaluate(ir.EvaluationContext{}, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, calls)
}

func TestEmptyCombinators(t *testing.T) {
	assert.True(t, eval(t, &ir.Condition{Type: ir.ConditionAnd}, nil))
	assert.False(t, eval(t, &ir.Condition{Type: ir.ConditionOr}, nil))
}

func TestJavascriptCondition(t *testing.T) {
	c := &ir.Condition{Type: ir.ConditionJavascript, Expression: "formValue.age >= 18 && formValue.country === 'DE'"}
	assert.True(t, eval(t, c, map[string]any{"age": 30.0, "country": "DE"}))
	assert.False(t, eval(t, c, map[string]any{"age": 30.0, "country": "FR"}))

	compiled, err := Compile(c, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []expression.Ref{
		{Kind: expression.RefScope, Path: "age"},
		{Kind: expression.RefScope, Path: "country"},
	}, compiled.Refs())
}

// ===== Form state =====

func TestFormStatePredicates(t *testing.T) {
	fs := fakeFormState{invalid: true, invalidPage: "page1"}

	c, err := Compile(&ir.Condition{Type: ir.ConditionFormInvalid}, nil)
	require.NoError(t, err)
	assert.True(t, c.UsesFormState())
	ok, err := c.Evaluate(ir.EvaluationContext{}, fs)
	require.NoError(t, err)
	assert.True(t, ok)

	c, err = Compile(&ir.Condition{Type: ir.ConditionPageInvalid}, nil)
	require.NoError(t, err)
	ok, err = c.Evaluate(ir.EvaluationContext{FieldPath: "page1.next"}, fs)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.Evaluate(ir.EvaluationContext{FieldPath: "page2.next"}, fs)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Evaluate(ir.EvaluationContext{}, nil)
	require.Error(t, err)
}

// ===== Compile errors =====

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		cond *ir.Condition
		want string
	}{
		{"missing path", &ir.Condition{Type: ir.ConditionFieldValue, Operator: ir.OpEquals}, "missing fieldPath"},
		{"bad operator", fieldCond("a", "between", 1), "unknown operator"},
		{"bad regex", fieldCond("a", ir.OpMatches, "("), "missing closing"},
		{"non-string regex", fieldCond("a", ir.OpMatches, 1), "string pattern"},
		{"bad expression", &ir.Condition{Type: ir.ConditionJavascript, Expression: "eval('x')"}, "expression"},
		{"unknown type", &ir.Condition{Type: "sometimes"}, "unknown condition type"},
		{"nested", &ir.Condition{Type: ir.ConditionAnd, Conditions: []ir.Condition{{Type: "x"}}}, "and[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.cond, registry.New())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompileUnknownCustom(t *testing.T) {
	_, err := Compile(&ir.Condition{Type: ir.ConditionCustom, FunctionName: "nope"}, registry.New())
	var ufe *UnknownFunctionError
	require.True(t, errors.As(err, &ufe))
	assert.Equal(t, "nope", ufe.Name)
}

func TestIsConstant(t *testing.T) {
	c, err := Compile(ir.Always(true), nil)
	require.NoError(t, err)
	v, ok := c.IsConstant()
	assert.True(t, ok)
	assert.True(t, v)

	c, err = Compile(fieldCond("a", ir.OpEquals, 1), nil)
	require.NoError(t, err)
	_, ok = c.IsConstant()
	assert.False(t, ok)
}
