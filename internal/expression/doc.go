// Package expression compiles and evaluates the restricted expression
// language used by logic entries, conditions and custom validators.
//
// Expressions are compiled with expr-lang/expr against a fixed environment:
// formValue (scope-relative form value), rootFormValue (whole form),
// fieldValue, fieldPath and externalData. Any other identifier, method
// calls, and non-deterministic builtins are rejected at compile time.
//
// Compile also extracts the constant member chains each expression reads;
// these feed the dependency graph.
package expression
