package engine

import "sync/atomic"

// Clock is the logical clock of one session. It stamps host inputs,
// submissions and diagnostics with strictly increasing seq numbers; the
// journal is ordered by seq and nothing on the value path reads wall time.
//
// Only the engine goroutine calls Next. The counter is atomic so Current
// can be read from anywhere.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first seq is 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next seq.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last seq handed out, or 0.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// AdvanceTo moves the clock forward so the next seq is at least seq+1.
// It never moves backwards. Replay uses it to stamp each re-applied change
// with its recorded seq; gaps left by async diagnostics are skipped.
func (c *Clock) AdvanceTo(seq int64) {
	for {
		cur := c.seq.Load()
		if seq <= cur || c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}
