// Package validation compiles validator specs and runs them against field
// instances.
//
// Synchronous validators (built-ins and custom functions or expressions)
// run inline through Check. Asynchronous validators (registered async
// functions and http endpoints) run through a Tracker, which tags each task
// with a per-instance generation so results for superseded values are
// discarded. Transport failures are fail-open: they never block a form.
//
// Error kinds map to messages through ResolveMessage: field messages, then
// form defaults, then the built-in table, then a message derived from the
// kind name.
package validation
