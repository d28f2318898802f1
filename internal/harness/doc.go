// Package harness runs form scenarios against a real engine.
//
// A scenario compiles a form configuration, instantiates an engine with
// deterministic helpers, applies a sequence of host inputs, and checks the
// field-state table after each step and the journal at the end.
//
// # Scenario Format
//
//	name: invoice_totals
//	description: "Tax and total follow the subtotal"
//	config: ../configs/invoice.yaml   # or an inline form: mapping
//	initial: { subtotal: 100 }
//	external: { role: admin }
//	functions:
//	  - name: uniqueUsername
//	    type: asyncValidator
//	    kind: usernameTaken
//	    reject: [admin, root]
//	steps:
//	  - set: { path: subtotal, value: 200 }
//	    expect:
//	      values: { tax: 20, total: 220 }
//	      fields:
//	        total: { errors: [] }
//	  - advance: 300ms
//	  - submit: true
//	    expect:
//	      submit: { valid: true }
//	assertions:
//	  - type: trace_contains
//	    event: submit
//	  - type: final_state
//	    table: submissions
//	    expect: { valid: 1 }
//
// # Step Actions
//
// Each step performs at most one action: set, setExternal, addItem,
// removeItem, advance, submit, finishSubmit, reset, clear, flush, refresh
// or runAsync. A step with only an expect clause checks the current state.
//
// # Assertion Types
//
//   - trace_contains: an engine event of the given type (and field) was emitted
//   - trace_order: event types appear in the given order
//   - trace_count: an event appears exactly N times
//   - final_state: a journal table row matches the expected columns
//
// # Deterministic Testing
//
// Every scenario runs with:
//   - Fake debounce timers (testutil.FakeTimers), advanced only by steps
//   - Sequential submission ids (testutil.SequentialIDs)
//   - Async validators queued and run after each step, or on runAsync when
//     manual_async is set
//   - An in-memory SQLite journal, isolated per run
//
// Golden snapshots of the end state are compared with RunWithGolden.
package harness
