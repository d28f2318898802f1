package expression

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"

	"github.com/roach88/fieldlogic/internal/ir"
)

// Env is the only variable set visible to expressions. Referencing any other
// identifier fails at compile time.
type Env struct {
	FormValue     map[string]any `expr:"formValue"`
	RootFormValue map[string]any `expr:"rootFormValue"`
	FieldValue    any            `expr:"fieldValue"`
	FieldPath     string         `expr:"fieldPath"`
	ExternalData  map[string]any `expr:"externalData"`
}

// Program is a compiled expression together with the references it reads.
// Programs are immutable and safe to share between field instances.
type Program struct {
	Source  string
	Refs    []Ref
	program *vm.Program
}

// Error reports an expression rejected at compile time.
type Error struct {
	Source string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("expression %q: %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsError reports whether err is an expression compile error.
func IsError(err error) bool {
	var ee *Error
	return errors.As(err, &ee)
}

// allowedBuiltins are the expr builtins expressions may call. Everything
// else is disabled, including predicates and closures (map, filter,
// reduce), time (now, date, duration) and encoding helpers.
var allowedBuiltins = []string{
	"abs", "ceil", "floor", "min", "max", "len",
	"upper", "lower", "trim", "string", "int", "float",
}

// lengthFunc backs JavaScript-style `.length` on values whose type is only
// known at run time.
const lengthFunc = "$length"

func options() []expr.Option {
	opts := []expr.Option{
		expr.Env(Env{}),
		expr.DisableAllBuiltins(),
		expr.Function("round", round),
		expr.Function(lengthFunc, length),
		expr.Patch(lengthPatcher{}),
	}
	for _, name := range allowedBuiltins {
		opts = append(opts, expr.EnableBuiltin(name))
	}
	return opts
}

// Compile parses and type-checks source against Env and extracts the
// references it reads. JavaScript strict equality operators are accepted
// and treated as their loose forms.
func Compile(source string) (*Program, error) {
	src := strings.TrimSpace(source)
	if src == "" {
		return nil, &Error{Source: source, Err: errors.New("empty expression")}
	}
	program, err := expr.Compile(normalizeOperators(src), options()...)
	if err != nil {
		return nil, &Error{Source: source, Err: err}
	}
	refs, err := collectRefs(program.Node())
	if err != nil {
		return nil, &Error{Source: source, Err: err}
	}
	return &Program{Source: source, Refs: refs, program: program}, nil
}

// MustCompile is Compile for tests and static tables. It panics on error.
func MustCompile(source string) *Program {
	p, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return p
}

// Eval runs the program against ctx. The result is normalized so numbers
// come back as float64.
func (p *Program) Eval(ctx ir.EvaluationContext) (any, error) {
	env := Env{
		FormValue:     orEmpty(ctx.FormValue),
		RootFormValue: orEmpty(ctx.RootFormValue),
		FieldValue:    ctx.FieldValue,
		FieldPath:     ctx.FieldPath,
		ExternalData:  orEmpty(ctx.ExternalData),
	}
	out, err := expr.Run(p.program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", p.Source, err)
	}
	return ir.Normalize(out), nil
}

// EvalBool runs the program and applies JavaScript truthiness to the result.
func (p *Program) EvalBool(ctx ir.EvaluationContext) (bool, error) {
	out, err := p.Eval(ctx)
	if err != nil {
		return false, err
	}
	return ir.Truthy(out), nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// round(x) rounds half away from zero; round(x, places) rounds to the given
// number of decimal places.
func round(params ...any) (any, error) {
	if len(params) == 0 || len(params) > 2 {
		return nil, fmt.Errorf("round: expected 1 or 2 arguments, got %d", len(params))
	}
	x, ok := ir.ToNumber(params[0])
	if !ok {
		return nil, fmt.Errorf("round: %v is not a number", params[0])
	}
	if len(params) == 1 {
		return math.Round(x), nil
	}
	places, ok := ir.ToNumber(params[1])
	if !ok || places < 0 || places > 15 {
		return nil, fmt.Errorf("round: invalid decimal places %v", params[1])
	}
	scale := math.Pow(10, math.Trunc(places))
	return math.Round(x*scale) / scale, nil
}

// lengthPatcher rewrites `x.length` into a length call so JavaScript-style
// length access works on strings and arrays. Direct members of the context
// roots are left alone: `formValue.length` is the field named length.
type lengthPatcher struct{}

func (lengthPatcher) Visit(node *ast.Node) {
	m, ok := (*node).(*ast.MemberNode)
	if !ok {
		return
	}
	prop, ok := m.Property.(*ast.StringNode)
	if !ok || prop.Value != "length" {
		return
	}
	if id, ok := m.Node.(*ast.IdentifierNode); ok {
		if _, root := rootKinds[id.Value]; root {
			return
		}
	}
	ast.Patch(node, &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: lengthFunc},
		Arguments: []ast.Node{m.Node},
	})
}

// length returns the length of a string or array. Objects have no length;
// for them the member named "length" is returned, so a group field called
// length stays addressable.
func length(params ...any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("length: expected 1 argument, got %d", len(params))
	}
	switch v := params[0].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v["length"], nil
	}
	n, ok := ir.Length(params[0])
	if !ok {
		return nil, fmt.Errorf("length: %T has no length", params[0])
	}
	return n, nil
}

// normalizeOperators rewrites === and !== outside string literals.
func normalizeOperators(src string) string {
	if !strings.Contains(src, "==") {
		return src
	}
	var b strings.Builder
	b.Grow(len(src))
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(src) {
				i++
				b.WriteByte(src[i])
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '"' || c == '\'' || c == '`':
			quote = c
			b.WriteByte(c)
		case (c == '=' || c == '!') && strings.HasPrefix(src[i+1:], "=="):
			b.WriteByte(c)
			b.WriteByte('=')
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
