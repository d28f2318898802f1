package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldlogic/internal/engine"
	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/registry"
	"github.com/roach88/fieldlogic/internal/testutil"
)

// ===== Fixtures =====

const invoiceConfig = `
fields:
  - key: subtotal
    value: 100
  - key: tax
    logic:
      - type: derivation
        expression: formValue.subtotal / 10
  - key: total
    logic:
      - type: derivation
        expression: formValue.subtotal + formValue.tax
`

const orderConfig = `
fields:
  - key: quantity
    value: 2
  - key: unitPrice
    value: 50
  - key: taxRate
    value: 10
  - key: subtotal
    logic:
      - type: derivation
        expression: formValue.quantity * formValue.unitPrice
  - key: tax
    logic:
      - type: derivation
        expression: formValue.subtotal * formValue.taxRate / 100
  - key: total
    logic:
      - type: derivation
        expression: formValue.subtotal + formValue.tax
`

const currencyConfig = `
fields:
  - key: amountUSD
    value: 0
    logic:
      - type: derivation
        expression: round(formValue.amountEUR * 1.1, 2)
  - key: amountEUR
    value: 0
    logic:
      - type: derivation
        expression: round(formValue.amountUSD / 1.1, 2)
`

const addressConfig = `
fields:
  - key: addresses
    kind: array
    children:
      - key: street
      - key: hasApartment
        value: false
      - key: apartment
        logic:
          - type: hidden
            condition:
              type: fieldValue
              fieldPath: hasApartment
              operator: notEquals
              value: true
`

const itemsConfig = `
fields:
  - key: items
    kind: array
    children:
      - key: qty
        value: 1
      - key: double
        logic:
          - type: derivation
            expression: formValue.qty * 2
  - key: count
    logic:
      - type: derivation
        expression: len(formValue.items)
`

func newEngine(t *testing.T, src string, reg *registry.Registry, opts ...engine.EngineOption) *engine.Engine {
	t.Helper()
	plan := testutil.MustPlan(t, src, reg)
	base := []engine.EngineOption{
		engine.WithLogger(testutil.DiscardLogger()),
		engine.WithIDGenerator(testutil.NewSequentialIDs("sub")),
		engine.WithTimers(testutil.NewFakeTimers()),
	}
	e, err := engine.New(plan, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func value(t *testing.T, e *engine.Engine, path string) any {
	t.Helper()
	s, err := e.Field(path)
	require.NoError(t, err)
	return s.Value
}

func errorKinds(t *testing.T, e *engine.Engine, path string) []string {
	t.Helper()
	s, err := e.Field(path)
	require.NoError(t, err)
	var kinds []string
	for _, o := range s.Errors {
		kinds = append(kinds, o.Kind)
	}
	return kinds
}

func diagnosticCodes(e *engine.Engine) []engine.RuntimeErrorCode {
	var codes []engine.RuntimeErrorCode
	for _, d := range e.Diagnostics() {
		codes = append(codes, d.Code)
	}
	return codes
}

// ===== Derivations =====

func TestEngine_DerivationChain(t *testing.T) {
	e := newEngine(t, invoiceConfig, nil)

	assert.Equal(t, 100.0, value(t, e, "subtotal"))
	assert.Equal(t, 10.0, value(t, e, "tax"))
	assert.Equal(t, 110.0, value(t, e, "total"))

	require.NoError(t, e.SetValue("subtotal", 200))
	assert.Equal(t, 20.0, value(t, e, "tax"))
	assert.Equal(t, 220.0, value(t, e, "total"))
	assert.Empty(t, e.Diagnostics())
}

func TestEngine_OrderTotalsChain(t *testing.T) {
	e := newEngine(t, orderConfig, nil)

	assert.Equal(t, 100.0, value(t, e, "subtotal"))
	assert.Equal(t, 10.0, value(t, e, "tax"))
	assert.Equal(t, 110.0, value(t, e, "total"))

	require.NoError(t, e.SetValue("quantity", 3))
	assert.Equal(t, 150.0, value(t, e, "subtotal"))
	assert.Equal(t, 15.0, value(t, e, "tax"))
	assert.Equal(t, 165.0, value(t, e, "total"))

	require.NoError(t, e.SetValue("taxRate", 20))
	assert.Equal(t, 30.0, value(t, e, "tax"))
	assert.Equal(t, 180.0, value(t, e, "total"))
	assert.Empty(t, e.Diagnostics())
}

func TestEngine_SetValueSameValueIsNoop(t *testing.T) {
	e := newEngine(t, invoiceConfig, nil)

	var events []engine.Event
	e.Subscribe(func(ev engine.Event) { events = append(events, ev) })

	require.NoError(t, e.SetValue("subtotal", 100))
	assert.Empty(t, events)
}

func TestEngine_BidirectionalPairConverges(t *testing.T) {
	e := newEngine(t, currencyConfig, nil)

	require.NoError(t, e.SetValue("amountUSD", 100))
	assert.Equal(t, 100.0, value(t, e, "amountUSD"))
	assert.Equal(t, 90.91, value(t, e, "amountEUR"))
	assert.Empty(t, e.Diagnostics())

	require.NoError(t, e.SetValue("amountEUR", 50))
	assert.Equal(t, 55.0, value(t, e, "amountUSD"))
	assert.Equal(t, 50.0, value(t, e, "amountEUR"))
	assert.Empty(t, e.Diagnostics())
}

func TestEngine_NonConvergentPairFreezes(t *testing.T) {
	src := `
fields:
  - key: a
    value: 0
    logic:
      - type: derivation
        expression: formValue.b + 1
  - key: b
    value: 0
    logic:
      - type: derivation
        expression: formValue.a + 1
  - key: note
`
	e := newEngine(t, src, nil, engine.WithMaxIterations(5))

	diags := e.Diagnostics()
	require.Len(t, diags, 2)
	for _, d := range diags {
		assert.Equal(t, engine.ErrCodeNonConvergent, d.Code)
		assert.Equal(t, "5", d.Details["max_iterations"])
		assert.NotEmpty(t, d.Details["last_value"])
	}
	frozenA := value(t, e, "a")

	// Frozen entries keep their value until released.
	graph := e.Graph()
	for _, n := range graph.Nodes {
		assert.True(t, n.Frozen, n.ID)
	}

	// An unrelated change releases the pair without re-running it.
	require.NoError(t, e.SetValue("note", "x"))
	assert.Empty(t, e.Diagnostics())
	assert.Equal(t, frozenA, value(t, e, "a"))

	// A change the pair reads makes it oscillate and freeze again.
	require.NoError(t, e.SetValue("a", 100))
	assert.ElementsMatch(t,
		[]engine.RuntimeErrorCode{engine.ErrCodeNonConvergent, engine.ErrCodeNonConvergent},
		diagnosticCodes(e))
}

func TestEngine_ConflictingDerivations(t *testing.T) {
	src := `
fields:
  - key: mode
    value: a
  - key: out
    logic:
      - type: derivation
        staticValue: 1
        condition:
          type: fieldValue
          fieldPath: mode
          operator: equals
          value: a
      - type: derivation
        staticValue: 2
        condition:
          type: fieldValue
          fieldPath: mode
          operator: notEquals
          value: b
`
	e := newEngine(t, src, nil)

	diags := e.Diagnostics()
	require.Len(t, diags, 1)
	assert.Equal(t, engine.ErrCodeConflictingDerivations, diags[0].Code)
	assert.Equal(t, "out", diags[0].FieldPath)
	assert.Nil(t, value(t, e, "out"))

	require.NoError(t, e.SetValue("mode", "c"))
	assert.Equal(t, 2.0, value(t, e, "out"))
	assert.Empty(t, e.Diagnostics())

	require.NoError(t, e.SetValue("mode", "b"))
	assert.Equal(t, 2.0, value(t, e, "out"), "no active derivation leaves the value alone")
}

func TestEngine_EntryFailureKeepsPreviousValue(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.RegisterDerivation("boom", func(ctx ir.EvaluationContext) (any, error) {
		if ctx.FormValue["trigger"] == true {
			return nil, errors.New("boom")
		}
		return "ok", nil
	}))
	src := `
fields:
  - key: trigger
    value: false
  - key: out
    logic:
      - type: derivation
        functionName: boom
        dependsOn: [trigger]
`
	e := newEngine(t, src, reg)
	assert.Equal(t, "ok", value(t, e, "out"))

	require.NoError(t, e.SetValue("trigger", true))
	assert.Equal(t, "ok", value(t, e, "out"))
	diags := e.Diagnostics()
	require.Len(t, diags, 1)
	assert.True(t, engine.IsEntryFailure(&diags[0]))
	assert.Equal(t, "out#0", diags[0].EntryID)

	require.NoError(t, e.SetValue("trigger", false))
	assert.Empty(t, e.Diagnostics())
}

// ===== Field state =====

func TestEngine_ArrayItemsAreIsolated(t *testing.T) {
	e := newEngine(t, addressConfig, nil, engine.WithInitialValue(map[string]any{
		"addresses": []any{
			map[string]any{"street": "Main"},
			map[string]any{"street": "Oak"},
		},
	}))

	first, err := e.Field("addresses.0.apartment")
	require.NoError(t, err)
	assert.True(t, first.Hidden)

	require.NoError(t, e.SetValue("addresses.0.hasApartment", true))

	first, _ = e.Field("addresses.0.apartment")
	second, _ := e.Field("addresses.1.apartment")
	assert.False(t, first.Hidden)
	assert.True(t, second.Hidden)
}

func TestEngine_HiddenContainerHidesDescendants(t *testing.T) {
	src := `
fields:
  - key: showDetails
    value: false
  - key: details
    kind: group
    logic:
      - type: hidden
        condition:
          type: fieldValue
          fieldPath: showDetails
          operator: equals
          value: false
    children:
      - key: phone
        required: true
`
	e := newEngine(t, src, nil)

	phone, err := e.Field("details.phone")
	require.NoError(t, err)
	assert.True(t, phone.Hidden)
	assert.Empty(t, phone.Errors, "hidden fields are not validated")

	require.NoError(t, e.SetValue("showDetails", true))
	phone, _ = e.Field("details.phone")
	assert.False(t, phone.Hidden)
	assert.Equal(t, []string{"required"}, errorKinds(t, e, "details.phone"))
}

func TestEngine_ExternalDataDrivesState(t *testing.T) {
	src := `
fields:
  - key: name
    required: true
    logic:
      - type: hidden
        expression: externalData.mode == 'guest'
      - type: disabled
        expression: externalData.locked == true
`
	e := newEngine(t, src, nil)
	assert.Equal(t, []string{"required"}, errorKinds(t, e, "name"))

	require.NoError(t, e.SetExternalData("mode", "guest"))
	s, _ := e.Field("name")
	assert.True(t, s.Hidden)
	assert.Empty(t, s.Errors)

	e.ReplaceExternalData(map[string]any{"locked": true})
	s, _ = e.Field("name")
	assert.False(t, s.Hidden)
	assert.True(t, s.Disabled)
	assert.Empty(t, s.Errors)
	assert.Equal(t, map[string]any{"locked": true}, e.External())
}

func TestEngine_PropertyDerivation(t *testing.T) {
	src := `
fields:
  - key: country
    value: US
  - key: zip
    props:
      placeholder: Postal code
      input:
        maxLength: 10
    logic:
      - type: propertyDerivation
        targetProperty: placeholder
        expression: "formValue.country == 'US' ? 'ZIP code' : 'Postal code'"
      - type: propertyDerivation
        targetProperty: input.maxLength
        expression: "formValue.country == 'US' ? 5 : 10"
`
	e := newEngine(t, src, nil)

	zip, err := e.Field("zip")
	require.NoError(t, err)
	assert.Equal(t, "ZIP code", zip.Props["placeholder"])
	assert.Equal(t, map[string]any{"maxLength": 5.0}, zip.Props["input"])

	require.NoError(t, e.SetValue("country", "CA"))
	zip, _ = e.Field("zip")
	assert.Equal(t, "Postal code", zip.Props["placeholder"])
	assert.Equal(t, map[string]any{"maxLength": 10.0}, zip.Props["input"])
}

func TestEngine_LogicFollowsOwnDerivedValue(t *testing.T) {
	src := `
fields:
  - key: subtotal
    value: 10
  - key: total
    logic:
      - type: derivation
        expression: formValue.subtotal * 2
      - type: hidden
        condition:
          type: javascript
          expression: fieldValue > 100
      - type: propertyDerivation
        targetProperty: label
        expression: "fieldValue > 100 ? 'Large total' : 'Total'"
`
	e := newEngine(t, src, nil)

	total, err := e.Field("total")
	require.NoError(t, err)
	assert.Equal(t, 20.0, total.Value)
	assert.False(t, total.Hidden)
	assert.Equal(t, "Total", total.Props["label"])

	require.NoError(t, e.SetValue("subtotal", 500))
	total, _ = e.Field("total")
	assert.Equal(t, 1000.0, total.Value)
	assert.True(t, total.Hidden)
	assert.Equal(t, "Large total", total.Props["label"])

	require.NoError(t, e.SetValue("subtotal", 5))
	total, _ = e.Field("total")
	assert.Equal(t, 10.0, total.Value)
	assert.False(t, total.Hidden)
	assert.Equal(t, "Total", total.Props["label"])
}

// ===== Validation =====

func TestEngine_CrossFieldValidatorTargetsHost(t *testing.T) {
	src := `
fields:
  - key: password
  - key: confirmPassword
    validators:
      - type: custom
        expression: fieldValue == formValue.password
        kind: passwordMismatch
`
	e := newEngine(t, src, nil)

	require.NoError(t, e.SetValue("password", "secret"))
	require.NoError(t, e.SetValue("confirmPassword", "other"))

	assert.Empty(t, errorKinds(t, e, "password"))
	assert.Equal(t, []string{"passwordMismatch"}, errorKinds(t, e, "confirmPassword"))
	msgs, err := e.ErrorMessages("confirmPassword")
	require.NoError(t, err)
	assert.Equal(t, []string{"Password mismatch"}, msgs)

	// Changing the other field re-validates the host.
	require.NoError(t, e.SetValue("password", "other"))
	assert.Empty(t, errorKinds(t, e, "confirmPassword"))
}

func TestEngine_ErrorMessages(t *testing.T) {
	src := `
defaultValidationMessages:
  required: Please fill this in
fields:
  - key: code
    required: true
    validators:
      - type: minLength
        value: 3
    validationMessages:
      minLength: "Too short ({{value}})"
`
	e := newEngine(t, src, nil)

	msgs, err := e.ErrorMessages("code")
	require.NoError(t, err)
	assert.Equal(t, []string{"Please fill this in"}, msgs)

	require.NoError(t, e.SetValue("code", "ab"))
	msgs, _ = e.ErrorMessages("code")
	assert.Equal(t, []string{"Too short (3)"}, msgs)

	_, err = e.ErrorMessages("missing")
	assert.True(t, engine.IsUnknownPath(err))
}

func TestEngine_SchemaAppliedTwiceReportsOnce(t *testing.T) {
	src := `
schemas:
  - name: code
    validators:
      - type: minLength
        value: 3
fields:
  - key: strict
    value: true
  - key: value
    schemas:
      - type: apply
        schema: code
      - type: applyWhen
        schema: code
        condition:
          type: fieldValue
          fieldPath: strict
          operator: equals
          value: true
`
	e := newEngine(t, src, nil)

	require.NoError(t, e.SetValue("value", "ab"))
	assert.Equal(t, []string{"minLength"}, errorKinds(t, e, "value"))

	require.NoError(t, e.SetValue("strict", false))
	assert.Equal(t, []string{"minLength"}, errorKinds(t, e, "value"))
}

func TestEngine_ApplyWhenGuard(t *testing.T) {
	src := `
schemas:
  - name: business
    validators:
      - type: required
fields:
  - key: accountType
    value: personal
  - key: company
    schemas:
      - type: applyWhen
        schema: business
        condition:
          type: fieldValue
          fieldPath: accountType
          operator: equals
          value: business
`
	e := newEngine(t, src, nil)
	assert.Empty(t, errorKinds(t, e, "company"))

	require.NoError(t, e.SetValue("accountType", "business"))
	assert.Equal(t, []string{"required"}, errorKinds(t, e, "company"))
}

func TestEngine_ApplyWhenGuardToggles(t *testing.T) {
	src := `
schemas:
  - name: strongPassword
    validators:
      - type: minLength
        value: 8
fields:
  - key: strict
    value: true
  - key: password
    value: abc
    schemas:
      - type: applyWhen
        schema: strongPassword
        condition:
          type: fieldValue
          fieldPath: strict
          operator: equals
          value: true
`
	e := newEngine(t, src, nil)
	assert.Equal(t, []string{"minLength"}, errorKinds(t, e, "password"))

	require.NoError(t, e.SetValue("strict", false))
	assert.Empty(t, errorKinds(t, e, "password"))

	require.NoError(t, e.SetValue("strict", true))
	assert.Equal(t, []string{"minLength"}, errorKinds(t, e, "password"))
}

// ===== Debounce =====

const debounceConfig = `
fields:
  - key: query
  - key: echo
    logic:
      - type: derivation
        expression: formValue.query
        trigger: debounced
        debounceMs: 300
`

func TestEngine_DebounceResetsOnChange(t *testing.T) {
	ft := testutil.NewFakeTimers()
	e := newEngine(t, debounceConfig, nil, engine.WithTimers(ft))

	require.NoError(t, e.SetValue("query", "a"))
	assert.Nil(t, value(t, e, "echo"))
	assert.Equal(t, 1, ft.Pending())

	ft.Advance(100 * time.Millisecond)
	require.NoError(t, e.SetValue("query", "ab"))
	assert.Equal(t, 1, ft.Pending(), "timer is reset, not queued")

	ft.Advance(299 * time.Millisecond)
	assert.Equal(t, 0, e.ProcessPending())
	assert.Nil(t, value(t, e, "echo"))

	ft.Advance(time.Millisecond)
	assert.Equal(t, 1, e.ProcessPending())
	assert.Equal(t, "ab", value(t, e, "echo"))
}

func TestEngine_FlushRunsPendingDebounce(t *testing.T) {
	ft := testutil.NewFakeTimers()
	e := newEngine(t, debounceConfig, nil, engine.WithTimers(ft))

	require.NoError(t, e.SetValue("query", "x"))
	e.Flush()
	assert.Equal(t, "x", value(t, e, "echo"))

	ft.Advance(time.Second)
	assert.Equal(t, 0, e.ProcessPending())
}

func TestEngine_SubmitFlushesDebounce(t *testing.T) {
	ft := testutil.NewFakeTimers()
	e := newEngine(t, debounceConfig, nil, engine.WithTimers(ft))

	require.NoError(t, e.SetValue("query", "q"))
	res := e.Submit()
	assert.True(t, res.Valid)
	assert.Equal(t, "q", res.Value["echo"])
}

// ===== Async validation =====

type taskQueue struct {
	tasks []func()
}

func (q *taskQueue) run(fn func()) {
	q.tasks = append(q.tasks, fn)
}

func usernameRegistry(t *testing.T, fn registry.AsyncValidatorFunc) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.RegisterAsyncValidator("uniqueUsername", fn))
	return reg
}

const usernameConfig = `
fields:
  - key: username
    validators:
      - type: minLength
        value: 3
      - type: async
        functionName: uniqueUsername
`

func TestEngine_AsyncStaleResultDiscarded(t *testing.T) {
	reg := usernameRegistry(t, func(ctx context.Context, vc registry.ValidatorContext) (string, error) {
		if vc.Value() == "taken" {
			return "usernameTaken", nil
		}
		return "", nil
	})
	q := &taskQueue{}
	e := newEngine(t, usernameConfig, reg, engine.WithTaskRunner(q.run))

	require.NoError(t, e.SetValue("username", "taken"))
	require.NoError(t, e.SetValue("username", "free"))
	require.Len(t, q.tasks, 2)

	s, _ := e.Field("username")
	assert.True(t, s.Pending)

	// Completions arrive out of order; the superseded one is dropped.
	q.tasks[1]()
	q.tasks[0]()
	assert.Equal(t, 2, e.ProcessPending())

	s, _ = e.Field("username")
	assert.False(t, s.Pending)
	assert.Empty(t, s.Errors)
}

func TestEngine_AsyncErrorReported(t *testing.T) {
	reg := usernameRegistry(t, func(ctx context.Context, vc registry.ValidatorContext) (string, error) {
		return "usernameTaken", nil
	})
	q := &taskQueue{}
	e := newEngine(t, usernameConfig, reg, engine.WithTaskRunner(q.run))

	require.NoError(t, e.SetValue("username", "alice"))
	res := e.Submit()
	assert.False(t, res.Valid)
	assert.True(t, res.Pending)

	q.tasks[0]()
	e.ProcessPending()
	assert.Equal(t, []string{"usernameTaken"}, errorKinds(t, e, "username"))
}

func TestEngine_AsyncSkippedWhileSyncInvalid(t *testing.T) {
	reg := usernameRegistry(t, func(ctx context.Context, vc registry.ValidatorContext) (string, error) {
		return "", nil
	})
	q := &taskQueue{}
	e := newEngine(t, usernameConfig, reg, engine.WithTaskRunner(q.run))

	require.NoError(t, e.SetValue("username", "al"))
	assert.Empty(t, q.tasks)
	assert.Equal(t, []string{"minLength"}, errorKinds(t, e, "username"))
}

func TestEngine_AsyncFailsOpen(t *testing.T) {
	reg := usernameRegistry(t, func(ctx context.Context, vc registry.ValidatorContext) (string, error) {
		return "", errors.New("connection refused")
	})
	q := &taskQueue{}
	e := newEngine(t, usernameConfig, reg, engine.WithTaskRunner(q.run))

	require.NoError(t, e.SetValue("username", "alice"))
	q.tasks[0]()
	e.ProcessPending()

	assert.Empty(t, errorKinds(t, e, "username"))
	assert.Equal(t, []engine.RuntimeErrorCode{engine.ErrCodeAsyncFailed}, diagnosticCodes(e))
	assert.True(t, e.Submit().Valid)
}

// ===== Arrays =====

func TestEngine_AddAndRemoveArrayItems(t *testing.T) {
	e := newEngine(t, itemsConfig, nil)
	assert.Equal(t, 0.0, value(t, e, "count"))

	idx, err := e.AddArrayItem("items", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, 2.0, value(t, e, "items.0.double"))
	assert.Equal(t, 1.0, value(t, e, "count"))

	idx, err = e.AddArrayItem("items", map[string]any{"qty": 3})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 6.0, value(t, e, "items.1.double"))
	assert.Equal(t, 2.0, value(t, e, "count"))

	require.NoError(t, e.SetValue("items.0.qty", 5))
	assert.Equal(t, 10.0, value(t, e, "items.0.double"))
	assert.Equal(t, 6.0, value(t, e, "items.1.double"))

	require.NoError(t, e.RemoveArrayItem("items", 0))
	assert.Equal(t, 3.0, value(t, e, "items.0.qty"))
	assert.Equal(t, 6.0, value(t, e, "items.0.double"))
	assert.Equal(t, 1.0, value(t, e, "count"))
	_, err = e.Field("items.1.qty")
	assert.True(t, engine.IsUnknownPath(err))
}

func TestEngine_SetArrayReplacesItems(t *testing.T) {
	e := newEngine(t, itemsConfig, nil)

	require.NoError(t, e.SetValue("items", []any{
		map[string]any{"qty": 2},
		map[string]any{},
	}))
	assert.Equal(t, 4.0, value(t, e, "items.0.double"))
	assert.Equal(t, 1.0, value(t, e, "items.1.qty"))
	assert.Equal(t, 2.0, value(t, e, "items.1.double"))
	assert.Equal(t, 2.0, value(t, e, "count"))
}

func TestEngine_HostErrors(t *testing.T) {
	e := newEngine(t, itemsConfig, nil)

	assert.True(t, engine.IsUnknownPath(e.SetValue("nope", 1)))
	_, err := e.AddArrayItem("count", nil)
	assert.True(t, engine.IsUnknownPath(err))
	assert.True(t, engine.IsInvalidValue(e.RemoveArrayItem("items", 0)))
	assert.True(t, engine.IsInvalidValue(e.SetValue("items", "not a list")))
	_, err = e.AddArrayItem("items", 42)
	assert.True(t, engine.IsInvalidValue(err))
	assert.True(t, engine.IsUnknownPath(e.Refresh("nope")))
}

// ===== Submit, reset, clear =====

const signupConfig = `
fields:
  - key: email
    required: true
    email: true
  - key: save
    kind: submit
    logic:
      - type: disabled
        condition:
          type: formInvalid
  - key: cancel
    kind: button
    logic:
      - type: hidden
        condition:
          type: formSubmitting
`

func TestEngine_SubmitFlow(t *testing.T) {
	e := newEngine(t, signupConfig, nil)

	save, _ := e.Field("save")
	assert.True(t, save.Disabled)

	res := e.Submit()
	assert.False(t, res.Valid)
	assert.Equal(t, map[string][]string{"email": {"required"}}, res.Errors)
	assert.False(t, e.Submitting())

	require.NoError(t, e.SetValue("email", "ada@example.com"))
	save, _ = e.Field("save")
	assert.False(t, save.Disabled)

	var submitted []engine.SubmitResult
	e.Subscribe(func(ev engine.Event) {
		if ev.Type == engine.EventSubmit {
			submitted = append(submitted, *ev.Submission)
		}
	})

	res = e.Submit()
	assert.True(t, res.Valid)
	assert.Equal(t, "sub-3", res.ID, "sub-1 is the session id")
	assert.Equal(t, "ada@example.com", res.Value["email"])
	assert.True(t, e.Submitting())
	cancel, _ := e.Field("cancel")
	assert.True(t, cancel.Hidden)
	require.Len(t, submitted, 1)
	assert.Equal(t, res.ID, submitted[0].ID)

	e.FinishSubmit()
	assert.False(t, e.Submitting())
	cancel, _ = e.Field("cancel")
	assert.False(t, cancel.Hidden)
}

func TestEngine_ResetAndClear(t *testing.T) {
	e := newEngine(t, invoiceConfig, nil, engine.WithInitialValue(map[string]any{"subtotal": 50}))
	assert.Equal(t, 5.0, value(t, e, "tax"))

	var types []engine.EventType
	e.Subscribe(func(ev engine.Event) {
		if ev.Type == engine.EventReset || ev.Type == engine.EventClear {
			types = append(types, ev.Type)
		}
	})

	require.NoError(t, e.SetValue("subtotal", 80))
	e.Reset()
	assert.Equal(t, 50.0, value(t, e, "subtotal"))
	assert.Equal(t, 5.0, value(t, e, "tax"))

	e.Clear()
	assert.Equal(t, 100.0, value(t, e, "subtotal"))
	assert.Equal(t, 10.0, value(t, e, "tax"))
	assert.Equal(t, 110.0, value(t, e, "total"))

	assert.Equal(t, []engine.EventType{engine.EventReset, engine.EventClear}, types)
}

func TestEngine_ClearEmptiesArrays(t *testing.T) {
	e := newEngine(t, itemsConfig, nil)
	_, err := e.AddArrayItem("items", nil)
	require.NoError(t, err)

	e.Clear()
	assert.Equal(t, []any{}, e.Value()["items"])
	assert.Equal(t, 0.0, value(t, e, "count"))
}

// ===== Events =====

func TestEngine_EventsForChangedFieldsOnly(t *testing.T) {
	e := newEngine(t, invoiceConfig, nil)

	var changed []string
	var changes int
	unsubscribe := e.Subscribe(func(ev engine.Event) {
		switch ev.Type {
		case engine.EventFieldStateChanged:
			changed = append(changed, ev.Field.Path)
		case engine.EventChange:
			changes++
		}
	})

	require.NoError(t, e.SetValue("subtotal", 300))
	assert.Equal(t, []string{"subtotal", "tax", "total"}, changed)
	assert.Equal(t, 1, changes)

	unsubscribe()
	require.NoError(t, e.SetValue("subtotal", 400))
	assert.Len(t, changed, 3)
}

func TestEngine_Graph(t *testing.T) {
	e := newEngine(t, invoiceConfig, nil)

	g := e.Graph()
	require.Len(t, g.Nodes, 2)
	assert.Equal(t, "tax#0", g.Nodes[0].ID)
	assert.Contains(t, g.Edges, engine.GraphEdge{Source: "subtotal", Target: "tax#0"})
	assert.Contains(t, g.Edges, engine.GraphEdge{Source: "tax", Target: "total#0"})
}

// ===== Event loop =====

func TestEngine_RunAppliesAsyncResults(t *testing.T) {
	release := make(chan struct{})
	reg := usernameRegistry(t, func(ctx context.Context, vc registry.ValidatorContext) (string, error) {
		select {
		case <-release:
			return "usernameTaken", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	e := newEngine(t, usernameConfig, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.NoError(t, e.Do(ctx, func(e *engine.Engine) {
		assert.NoError(t, e.SetValue("username", "alice"))
	}))
	close(release)

	assert.Eventually(t, func() bool {
		var kinds int
		_ = e.Do(ctx, func(e *engine.Engine) {
			s, _ := e.Field("username")
			kinds = len(s.Errors)
		})
		return kinds == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestEngine_DoAfterClose(t *testing.T) {
	e := newEngine(t, invoiceConfig, nil)
	e.Close()
	err := e.Do(context.Background(), func(*engine.Engine) {})
	assert.ErrorIs(t, err, engine.ErrClosed)
}
