package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runFile(t *testing.T, path string) *Result {
	t.Helper()
	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	result, err := Run(scenario)
	require.NoError(t, err)
	return result
}

func runSource(t *testing.T, src string) *Result {
	t.Helper()
	scenario, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	result, err := Run(scenario)
	require.NoError(t, err)
	return result
}

// ===== Scenario files =====

func TestRun_ScenarioFiles(t *testing.T) {
	for _, path := range []string{
		"testdata/scenarios/invoice.scenario.yaml",
		"testdata/scenarios/items.scenario.yaml",
		"testdata/scenarios/signup.scenario.yaml",
		"testdata/scenarios/debounce.scenario.yaml",
	} {
		t.Run(path, func(t *testing.T) {
			result := runFile(t, path)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_ResultCarriesEndState(t *testing.T) {
	result := runFile(t, "testdata/scenarios/invoice.scenario.yaml")

	assert.Equal(t, 220.0, result.Value["total"])
	require.Contains(t, result.Fields, "tax")
	assert.Equal(t, 20.0, result.Fields["tax"].Value)
	require.Len(t, result.Submissions, 1)
	assert.Equal(t, "sub-1", result.Submissions[0].ID)
	assert.Empty(t, result.Diagnostics)

	var steps []string
	for _, ev := range result.Trace {
		if ev.Type == TraceStep {
			steps = append(steps, ev.Action)
		}
	}
	assert.Equal(t, []string{"set", "submit"}, steps)
}

// ===== Expectations =====

func TestRun_FailedExpectationsAreReported(t *testing.T) {
	result := runSource(t, `
name: failing
description: "every expectation is wrong"
form:
  fields:
    - key: a
      value: 1
      required: true
    - key: b
      logic:
        - type: derivation
          expression: formValue.a + 1
steps:
  - set: { path: a, value: 5 }
    expect:
      values: { b: 7 }
      valid: false
      fields:
        a: { errors: [required], hidden: true }
  - set: { path: missing, value: 1 }
`)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "value b mismatch")
	assert.Contains(t, result.Errors[1], "field a: hidden = false, want true")
	assert.Contains(t, result.Errors[2], "field a: errors mismatch")
	assert.Contains(t, result.Errors[3], "valid = true, want false")
	assert.Contains(t, result.Errors[4], "step 1 (set): unexpected error")
}

func TestRun_ExpectedError(t *testing.T) {
	result := runSource(t, `
name: expected_error
description: "host errors can be expected"
form:
  fields:
    - key: a
steps:
  - set: { path: nope, value: 1 }
    expect:
      error: nope
  - set: { path: a, value: 1 }
    expect:
      error: anything
`)

	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `step 1 (set): expected error containing "anything", got none`)
}

func TestRun_ManualAsync(t *testing.T) {
	result := runSource(t, `
name: manual_async
description: "async results apply only on runAsync"
manual_async: true
form:
  fields:
    - key: username
      validators:
        - type: async
          functionName: unique
functions:
  - name: unique
    type: asyncValidator
    kind: taken
    reject: [root]
steps:
  - set: { path: username, value: root }
    expect:
      valid: false
      fields:
        username: { pending: true, errors: [] }
  - submit: true
    expect:
      submit: { valid: false, pending: true }
  - runAsync: true
    expect:
      fields:
        username: { pending: false, errors: [taken] }
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_AsyncFailureFailsOpen(t *testing.T) {
	result := runSource(t, `
name: async_failure
description: "a failing async validator raises a diagnostic and no error"
form:
  fields:
    - key: username
      validators:
        - type: async
          functionName: unique
functions:
  - name: unique
    type: asyncValidator
    kind: taken
    fail: true
steps:
  - set: { path: username, value: root }
    expect:
      diagnostics: [ASYNC_FAILED]
      fields:
        username: { errors: [] }
  - submit: true
    expect:
      submit: { valid: true }
assertions:
  - type: trace_contains
    event: diagnostic
    field: username
  - type: final_state
    table: diagnostics
    expect: { code: ASYNC_FAILED, field_path: username }
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ScenarioFunctions(t *testing.T) {
	result := runSource(t, `
name: functions
description: "data-backed registry functions"
form:
  fields:
    - key: password
    - key: confirm
      validators:
        - type: custom
          functionName: matchesPassword
          dependsOn: [password]
    - key: doubled
      logic:
        - type: derivation
          functionName: double
          dependsOn: [password]
    - key: note
      logic:
        - type: hidden
          condition:
            type: custom
            functionName: isShort
          dependsOn: [password]
functions:
  - name: matchesPassword
    type: validator
    kind: mismatch
    matchField: password
  - name: double
    type: derivation
    expression: formValue.password + formValue.password
  - name: isShort
    type: condition
    expression: len(formValue.password ?? "") < 4
steps:
  - set: { path: password, value: abc }
    expect:
      values: { doubled: abcabc }
      fields:
        confirm: { errors: [mismatch] }
        note: { hidden: true }
  - set: { path: confirm, value: abc }
    expect:
      fields:
        confirm: { errors: [] }
  - set: { path: password, value: abcdef }
    expect:
      fields:
        confirm: { errors: [mismatch] }
        note: { hidden: false }
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_CompileError(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: bad_config
description: "references an unregistered function"
form:
  fields:
    - key: a
      logic:
        - type: derivation
          functionName: nowhere
steps:
  - submit: true
`))
	require.NoError(t, err)

	_, err = Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile config")
}
