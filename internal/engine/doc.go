// Package engine implements the fieldlogic form runtime.
//
// An Engine instantiates a compiled plan against a form value and keeps the
// field-state table (value, hidden/disabled/readonly/required, component
// properties, validation errors) consistent with it.
//
// ARCHITECTURE:
//
// Evaluation Cycle:
// Every host input (SetValue, SetExternalData, AddArrayItem, ...) runs one
// cycle to completion before returning:
//  1. Derivations, in topological order, in passes until stable
//  2. Boolean and property entries whose dependencies changed
//  3. Validation of fields whose value or validator inputs changed
//  4. Button entries that read aggregate form state
//  5. Publish: diff field states and emit field-state-changed events
//
// Stabilization:
// A derivation whose new value equals its current value (within epsilon)
// does not write and does not reschedule its readers. Bidirectional pairs
// therefore settle once both sides agree. If derivations are still writing
// when the pass quota (DefaultMaxIterations) runs out, they are frozen at
// their last value and a NON_CONVERGENT diagnostic is raised. The next host
// input releases them.
//
// Single-Writer Loop:
// Async validator completions and debounce timer fires happen on other
// goroutines. They are queued in the inbox and applied one at a time by
// Run (or ProcessPending). Stale work is discarded by generation counter,
// never by timing.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Journaled changes and diagnostics are ordered by a monotonic seq from
// Clock, never by wall time.
//
// Scoped Instances:
// Array items get their own field and entry instances. Relative paths in
// an item resolve inside that item, so items never observe each other.
//
// Journal:
// With WithStore, every external input, submission, and diagnostic is
// recorded. Replay re-drives a fresh engine from the journal and compares
// submitted value hashes.
package engine
