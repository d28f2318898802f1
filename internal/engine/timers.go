package engine

import "time"

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

// Timers schedules debounce callbacks. Callbacks may run on any goroutine;
// the engine only uses them to enqueue inbox messages.
//
// The default implementation uses time.AfterFunc. Tests substitute a
// manual clock (testutil.FakeTimers) to advance time deterministically.
type Timers interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealTimers schedules callbacks on the runtime timer heap.
type RealTimers struct{}

// AfterFunc implements Timers.
func (RealTimers) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
