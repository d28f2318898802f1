package engine

import (
	"sync"

	"github.com/roach88/fieldlogic/internal/validation"
)

// messageType distinguishes between inbox message kinds.
type messageType int

const (
	// messageAsyncResult carries a finished async validation task.
	messageAsyncResult messageType = iota + 1
	// messageTimer carries a debounce timer expiry.
	messageTimer
	// messageCommand carries a function to run on the engine goroutine.
	messageCommand
)

// message is one unit of work for the engine goroutine.
type message struct {
	Type messageType

	// Result is set for messageAsyncResult.
	Result validation.Result

	// EntryID and Generation are set for messageTimer.
	EntryID    string
	Generation uint64

	// Command and Done are set for messageCommand. Done is closed once the
	// command has run.
	Command func(*Engine)
	Done    chan struct{}
}

// inbox is a thread-safe FIFO queue for work produced off the engine
// goroutine: async validator completions, timer fires, and host commands.
//
// The queue is unbounded so that timer and task goroutines never block on a
// busy engine.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type inbox struct {
	mu       sync.Mutex
	messages []message
	closed   bool
	signal   chan struct{} // Signals message availability (buffered, size 1)
}

// newInbox creates an empty inbox.
func newInbox() *inbox {
	return &inbox{
		messages: make([]message, 0, 16),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a message to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the inbox is closed.
func (q *inbox) Enqueue(m message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.messages = append(q.messages, m)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (message{}, false) if the inbox is empty.
func (q *inbox) TryDequeue() (message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return message{}, false
	}

	m := q.messages[0]

	// Nil out the slot so the backing array does not retain the message's
	// closures and errors.
	q.messages[0] = message{}

	if len(q.messages) == 1 {
		q.messages = q.messages[:0]
	} else {
		q.messages = q.messages[1:]
	}

	return m, true
}

// Wait returns a channel that signals when messages may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *inbox) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Close signals that no more messages will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *inbox) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *inbox) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
