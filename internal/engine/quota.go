package engine

import "fmt"

// DefaultMaxIterations is the default number of derivation passes allowed
// in one evaluation cycle before the remaining derivations are frozen.
const DefaultMaxIterations = 20

// PassQuota caps the number of derivation passes in one evaluation cycle.
//
// Each pass runs every dirty derivation once in topological order. A pass
// is needed only when a write dirties a derivation that already ran, which
// happens for bidirectional pairs. Pairs that keep changing exhaust the
// quota and are frozen.
type PassQuota struct {
	max  int
	used int
}

// NewPassQuota creates a quota allowing max passes.
func NewPassQuota(max int) *PassQuota {
	return &PassQuota{max: max}
}

// Next consumes one pass. It returns a *PassesExceededError once the
// quota is spent.
func (q *PassQuota) Next() error {
	if q.used >= q.max {
		return &PassesExceededError{Passes: q.used + 1, Limit: q.max}
	}
	q.used++
	return nil
}

// Used returns the number of passes consumed.
func (q *PassQuota) Used() int {
	return q.used
}

// Max returns the configured limit.
func (q *PassQuota) Max() int {
	return q.max
}

// PassesExceededError reports a cycle that needed more passes than allowed.
type PassesExceededError struct {
	Passes int
	Limit  int
}

func (e *PassesExceededError) Error() string {
	return fmt.Sprintf("derivation pass quota exceeded: %d passes (limit %d)", e.Passes, e.Limit)
}
