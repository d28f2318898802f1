package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents a problem detected while evaluating a form.
//
// Runtime errors are recoverable: the engine records them as diagnostics,
// keeps the previous field state, and continues. They include:
//   - Entry failure: an expression or function raised while computing
//   - Non-convergence: a derivation pair did not settle within the pass cap
//   - Conflicting derivations: two derivations on one field were active
//   - Async failure: a validator task ended in a transport error
//
// Host API misuse (unknown paths, wrong shapes) is returned as a
// RuntimeError from the offending call instead of being recorded.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// FieldPath identifies the affected field instance.
	FieldPath string `json:"field_path,omitempty"`

	// EntryID identifies the logic entry instance, if any.
	EntryID string `json:"entry_id,omitempty"`

	// Seq is the logical time the diagnostic was raised.
	Seq int64 `json:"seq"`

	// Details contains additional context.
	Details map[string]string `json:"details,omitempty"`
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeEntryFailed indicates an entry expression or function failed.
	ErrCodeEntryFailed RuntimeErrorCode = "ENTRY_FAILED"

	// ErrCodeNonConvergent indicates derivations kept changing past the pass cap.
	ErrCodeNonConvergent RuntimeErrorCode = "NON_CONVERGENT"

	// ErrCodeConflictingDerivations indicates more than one active derivation
	// targeted the same field.
	ErrCodeConflictingDerivations RuntimeErrorCode = "CONFLICTING_DERIVATIONS"

	// ErrCodeAsyncFailed indicates an async validator failed to complete.
	ErrCodeAsyncFailed RuntimeErrorCode = "ASYNC_FAILED"

	// ErrCodeUnknownPath indicates a host call named a path with no field.
	ErrCodeUnknownPath RuntimeErrorCode = "UNKNOWN_PATH"

	// ErrCodeInvalidValue indicates a host call passed a value of the wrong shape.
	ErrCodeInvalidValue RuntimeErrorCode = "INVALID_VALUE"

	// ErrCodeStaleResult marks an async result or timer fire that was
	// superseded before it arrived. Stale work is dropped, never surfaced.
	ErrCodeStaleResult RuntimeErrorCode = "STALE_RESULT"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.EntryID != "" {
		return fmt.Sprintf("%s: %s (entry=%s)", e.Code, e.Message, e.EntryID)
	}
	if e.FieldPath != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.FieldPath)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// key identifies a diagnostic slot. A new error with the same key replaces
// the previous one.
func (e *RuntimeError) key() string {
	return string(e.Code) + "|" + e.FieldPath + "|" + e.EntryID
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsEntryFailure returns true if the error is an entry evaluation failure.
// Uses errors.As to handle wrapped errors.
func IsEntryFailure(err error) bool {
	return hasCode(err, ErrCodeEntryFailed)
}

// IsNonConvergence returns true if the error reports a non-convergent cycle.
func IsNonConvergence(err error) bool {
	return hasCode(err, ErrCodeNonConvergent)
}

// IsConflict returns true if the error reports conflicting derivations.
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflictingDerivations)
}

// IsUnknownPath returns true if a host call named a path with no field.
func IsUnknownPath(err error) bool {
	return hasCode(err, ErrCodeUnknownPath)
}

// IsInvalidValue returns true if a host call passed a value of the wrong shape.
func IsInvalidValue(err error) bool {
	return hasCode(err, ErrCodeInvalidValue)
}

// NewEntryError creates a RuntimeError for a failed entry evaluation.
func NewEntryError(fieldPath, entryID string, err error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeEntryFailed,
		Message:   err.Error(),
		FieldPath: fieldPath,
		EntryID:   entryID,
	}
}

// NewNonConvergenceError creates a RuntimeError for a frozen derivation.
func NewNonConvergenceError(fieldPath, entryID string, passes int) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeNonConvergent,
		Message:   fmt.Sprintf("derivation did not settle within %d passes; field frozen", passes),
		FieldPath: fieldPath,
		EntryID:   entryID,
		Details: map[string]string{
			"max_iterations": fmt.Sprintf("%d", passes),
		},
	}
}

// NewConflictError creates a RuntimeError for simultaneously active derivations.
func NewConflictError(fieldPath string, entryIDs []string) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeConflictingDerivations,
		Message:   fmt.Sprintf("%d derivations active at once; value left unchanged", len(entryIDs)),
		FieldPath: fieldPath,
		Details: map[string]string{
			"entries": fmt.Sprint(entryIDs),
		},
	}
}

func unknownPath(path string) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeUnknownPath,
		Message:   fmt.Sprintf("no field at %q", path),
		FieldPath: path,
	}
}

func invalidValue(path, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeInvalidValue,
		Message:   fmt.Sprintf(format, args...),
		FieldPath: path,
	}
}

// NewAsyncError creates a RuntimeError for an async validator task that
// ended in a transport failure.
func NewAsyncError(fieldPath, taskID string, err error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeAsyncFailed,
		Message:   err.Error(),
		FieldPath: fieldPath,
		EntryID:   taskID,
	}
}

// IsAsyncFailure returns true if an async validator task failed to complete.
func IsAsyncFailure(err error) bool {
	return hasCode(err, ErrCodeAsyncFailed)
}
