package harness

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/roach88/fieldlogic/internal/engine"
	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// numbers compares values with the engine's float tolerance.
var numbers = cmpopts.EquateApprox(0, 1e-9)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			if event.Type == TraceStep {
				fmt.Fprintf(&buf, "  [%d] step %d: %s\n", i+1, event.Step, event.Action)
			} else {
				fmt.Fprintf(&buf, "  [%d]   %s %s\n", i+1, event.Type, event.Field)
			}
		}
	}
	return buf.String()
}

// ===== Step expectations =====

// checkExpect compares the engine state with an expect clause and returns
// one message per mismatch.
func checkExpect(e *engine.Engine, want *Expect, stepErr error, submit *engine.SubmitResult) []string {
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch {
	case want.Error == "" && stepErr != nil:
		fail("unexpected error: %v", stepErr)
	case want.Error != "" && stepErr == nil:
		fail("expected error containing %q, got none", want.Error)
	case want.Error != "" && !strings.Contains(stepErr.Error(), want.Error):
		fail("expected error containing %q, got %q", want.Error, stepErr.Error())
	}

	value := e.Value()
	for _, path := range sortedKeys(want.Values) {
		got, _ := ir.GetPath(value, path)
		if diff := cmp.Diff(ir.Normalize(want.Values[path]), got, numbers); diff != "" {
			fail("value %s mismatch (-want +got):\n%s", path, diff)
		}
	}

	external := e.External()
	for _, key := range sortedKeys(want.External) {
		if diff := cmp.Diff(ir.Normalize(want.External[key]), external[key], numbers); diff != "" {
			fail("external %s mismatch (-want +got):\n%s", key, diff)
		}
	}

	fieldPaths := make([]string, 0, len(want.Fields))
	for path := range want.Fields {
		fieldPaths = append(fieldPaths, path)
	}
	sort.Strings(fieldPaths)
	for _, path := range fieldPaths {
		for _, msg := range checkField(e, path, want.Fields[path]) {
			fail("field %s: %s", path, msg)
		}
	}

	if want.Valid != nil && e.Valid() != *want.Valid {
		fail("valid = %v, want %v", e.Valid(), *want.Valid)
	}
	if want.Submitting != nil && e.Submitting() != *want.Submitting {
		fail("submitting = %v, want %v", e.Submitting(), *want.Submitting)
	}

	if want.Submit != nil {
		if submit == nil {
			fail("submit expectation on a step that did not submit")
		} else {
			errs = append(errs, checkSubmit(want.Submit, submit)...)
		}
	}

	if want.Diagnostics != nil {
		var codes []string
		for _, d := range e.Diagnostics() {
			codes = append(codes, string(d.Code))
		}
		if diff := cmp.Diff(want.Diagnostics, codes, cmpopts.EquateEmpty()); diff != "" {
			fail("diagnostics mismatch (-want +got):\n%s", diff)
		}
	}
	return errs
}

func checkField(e *engine.Engine, path string, want FieldExpect) []string {
	got, err := e.Field(path)
	if err != nil {
		return []string{err.Error()}
	}

	var errs []string
	flag := func(name string, want *bool, got bool) {
		if want != nil && *want != got {
			errs = append(errs, fmt.Sprintf("%s = %v, want %v", name, got, *want))
		}
	}
	flag("hidden", want.Hidden, got.Hidden)
	flag("disabled", want.Disabled, got.Disabled)
	flag("readonly", want.Readonly, got.Readonly)
	flag("required", want.Required, got.Required)
	flag("pending", want.Pending, got.Pending)

	if want.Errors != nil {
		var kinds []string
		for _, o := range got.Errors {
			kinds = append(kinds, o.Kind)
		}
		if diff := cmp.Diff(want.Errors, kinds, cmpopts.EquateEmpty()); diff != "" {
			errs = append(errs, fmt.Sprintf("errors mismatch (-want +got):\n%s", diff))
		}
	}

	if want.Messages != nil {
		msgs, _ := e.ErrorMessages(path)
		if diff := cmp.Diff(want.Messages, msgs, cmpopts.EquateEmpty()); diff != "" {
			errs = append(errs, fmt.Sprintf("messages mismatch (-want +got):\n%s", diff))
		}
	}

	for _, name := range sortedKeys(want.Props) {
		if diff := cmp.Diff(ir.Normalize(want.Props[name]), got.Props[name], numbers); diff != "" {
			errs = append(errs, fmt.Sprintf("prop %s mismatch (-want +got):\n%s", name, diff))
		}
	}
	return errs
}

func checkSubmit(want *SubmitExpect, got *engine.SubmitResult) []string {
	var errs []string
	if want.ID != "" && want.ID != got.ID {
		errs = append(errs, fmt.Sprintf("submit id = %q, want %q", got.ID, want.ID))
	}
	if want.Valid != nil && *want.Valid != got.Valid {
		errs = append(errs, fmt.Sprintf("submit valid = %v, want %v (errors %v)", got.Valid, *want.Valid, got.Errors))
	}
	if want.Pending != nil && *want.Pending != got.Pending {
		errs = append(errs, fmt.Sprintf("submit pending = %v, want %v", got.Pending, *want.Pending))
	}
	if want.Errors != nil {
		if diff := cmp.Diff(want.Errors, got.Errors, cmpopts.EquateEmpty()); diff != "" {
			errs = append(errs, fmt.Sprintf("submit errors mismatch (-want +got):\n%s", diff))
		}
	}
	return errs
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ===== Trace assertions =====

// matchesEvent reports whether a trace event has the given type and, when
// field is set, the given field path.
func matchesEvent(ev TraceEvent, typ, field string) bool {
	return ev.Type == typ && (field == "" || ev.Field == field)
}

// assertTraceContains checks that an event of the given type was emitted.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, ev := range trace {
		if matchesEvent(ev, assertion.Event, assertion.Field) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describeEvent(assertion.Event, assertion.Field),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that event types first appear in the given order.
// Intervening events are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		for _, want := range assertion.Events {
			if ev.Type == want && positions[want] == 0 {
				positions[want] = i + 1
			}
		}
	}

	for _, want := range assertion.Events {
		if positions[want] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Events),
				Actual:   fmt.Sprintf("missing event: %s", want),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Events); i++ {
		prev, curr := assertion.Events[i-1], assertion.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that an event appears exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, ev := range trace {
		if matchesEvent(ev, assertion.Event, assertion.Field) {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, describeEvent(assertion.Event, assertion.Field)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func describeEvent(typ, field string) string {
	if field == "" {
		return "event " + typ
	}
	return fmt.Sprintf("event %s for %s", typ, field)
}

// ===== Journal assertions =====

// journalTables lists the tables final_state may query. Each has a
// session column named by the value.
var journalTables = map[string]string{
	"sessions":    "id",
	"changes":     "session_id",
	"submissions": "session_id",
	"diagnostics": "session_id",
}

// assertFinalState checks that exactly one journal row of the scenario's
// session matches Where, and that it holds the expected columns.
func assertFinalState(ctx context.Context, st *store.Store, sessionID string, assertion Assertion) error {
	sessionCol, ok := journalTables[assertion.Table]
	if !ok {
		return fmt.Errorf("unknown journal table %q", assertion.Table)
	}

	where := map[string]any{sessionCol: sessionID}
	for k, v := range assertion.Where {
		where[k] = v
	}
	whereSQL, whereArgs, err := buildWhereClause(where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", assertion.Table, whereSQL)
	rows, err := st.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	for _, key := range sortedKeys(assertion.Expect) {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q to exist", key),
				Actual:   fmt.Sprintf("column %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("column %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}
	return nil
}

// buildWhereClause constructs a parameterized WHERE clause. Keys are sorted
// for determinism and validated as identifiers.
func buildWhereClause(where map[string]any) (string, []any, error) {
	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}
	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML value to a SQL parameter.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, float64:
		return val
	case bool:
		if val {
			return 1
		}
		return 0
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares a YAML value with a SQLite column value.
// SQLite returns int64 for integers and booleans, and []byte or string for
// text.
func stateValuesEqual(expected, actual any) bool {
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	switch exp := expected.(type) {
	case string:
		got, ok := actual.(string)
		return ok && exp == got
	case bool:
		got, ok := actual.(int64)
		return ok && exp == (got != 0)
	}

	want, wok := ir.ToNumber(expected)
	if !wok {
		return false
	}
	switch got := actual.(type) {
	case int64:
		return want == float64(got)
	case float64:
		return want == got
	}
	return false
}

// AssertionContext provides the journal for final_state assertions.
type AssertionContext struct {
	Store     *store.Store
	Ctx       context.Context
	SessionID string
}

// EvaluateAssertions evaluates all assertions against the result and
// returns a message for each failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a journal", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, actx.SessionID, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
