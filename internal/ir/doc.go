// Package ir defines the data model shared by every other package: the
// declarative field configuration, conditions, validators, evaluation
// contexts and validation outcomes, plus helpers for JSON-native form
// values (normalization, equality, paths, canonical encoding).
//
// ir imports nothing internal.
//
// Key constraints:
//   - Numbers in form values are always float64 after Normalize
//   - Configuration JSON tags use camelCase to match the config format
//   - Value hashes go through MarshalCanonical only
package ir
