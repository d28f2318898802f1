package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/fieldlogic/internal/engine"
)

// FakeTimers is a manual clock implementing engine.Timers.
//
// Time only moves when Advance is called, so debounce behavior can be
// tested without sleeping. Callbacks due at the same instant run in the
// order they were scheduled.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
// Callbacks run on the goroutine that calls Advance, outside the lock.
type FakeTimers struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	pending []*fakeTimer
}

type fakeTimer struct {
	owner *FakeTimers
	at    time.Duration
	seq   int
	fn    func()
	done  bool
}

// NewFakeTimers creates a manual clock at time zero.
func NewFakeTimers() *FakeTimers {
	return &FakeTimers{}
}

// AfterFunc implements engine.Timers.
func (f *FakeTimers) AfterFunc(d time.Duration, fn func()) engine.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{owner: f, at: f.now + d, seq: f.seq, fn: fn}
	f.pending = append(f.pending, t)
	return t
}

// Stop implements engine.Timer.
func (t *fakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Advance moves time forward by d and runs every callback that became due,
// in due order. It returns the number of callbacks run.
func (f *FakeTimers) Advance(d time.Duration) int {
	f.mu.Lock()
	f.now += d
	var due []*fakeTimer
	keep := f.pending[:0]
	for _, t := range f.pending {
		switch {
		case t.done:
		case t.at <= f.now:
			t.done = true
			due = append(due, t)
		default:
			keep = append(keep, t)
		}
	}
	f.pending = keep
	f.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].seq < due[j].seq
	})
	for _, t := range due {
		t.fn()
	}
	return len(due)
}

// Pending returns the number of scheduled callbacks that have neither run
// nor been stopped.
func (f *FakeTimers) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.pending {
		if !t.done {
			n++
		}
	}
	return n
}

// Now returns the elapsed fake time.
func (f *FakeTimers) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}
