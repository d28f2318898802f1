package engine

import (
	"github.com/roach88/fieldlogic/internal/ir"
)

// EventType names an engine notification.
type EventType string

const (
	// EventFieldStateChanged carries the new state of one field instance.
	EventFieldStateChanged EventType = "field-state-changed"
	// EventSubmit carries the result of a valid submit.
	EventSubmit EventType = "submit"
	EventReset  EventType = "reset"
	EventClear  EventType = "clear"
	// EventDiagnostic carries a newly raised runtime diagnostic.
	EventDiagnostic EventType = "diagnostic"
	// EventChange carries an accepted host input, as journaled.
	EventChange EventType = "change"
)

// Event is a notification for the rendering layer. Exactly one of the
// payload fields is set, matching Type; reset and clear carry none.
type Event struct {
	Type       EventType     `json:"type"`
	Seq        int64         `json:"seq,omitempty"`
	Field      *FieldState   `json:"field,omitempty"`
	Change     *ir.Change    `json:"change,omitempty"`
	Submission *SubmitResult `json:"submission,omitempty"`
	Diagnostic *RuntimeError `json:"diagnostic,omitempty"`
}

// Listener receives engine events on the engine goroutine. Listeners must
// not call the engine's mutating API; use Do from another goroutine.
type Listener func(Event)

type listener struct {
	handle int
	fn     Listener
}

// Subscribe registers fn for every subsequent event. The returned function
// removes it.
func (e *Engine) Subscribe(fn Listener) (unsubscribe func()) {
	e.nextHandle++
	h := e.nextHandle
	e.listeners = append(e.listeners, listener{handle: h, fn: fn})
	return func() {
		for i, l := range e.listeners {
			if l.handle == h {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

func (e *Engine) emit(ev Event) {
	if len(e.listeners) == 0 {
		return
	}
	for _, l := range append([]listener(nil), e.listeners...) {
		l.fn(ev)
	}
}

// record stamps a host input with the next logical time, journals it, and
// emits it as a change event.
func (e *Engine) record(ch ir.Change) ir.Change {
	ch.Seq = e.clock.Next()
	if e.store != nil {
		if err := e.store.WriteChange(e.storeCtx, e.sessionID, ch); err != nil {
			e.logger.Error("failed to journal change",
				"seq", ch.Seq,
				"op", ch.Op,
				"error", err,
			)
		}
	}
	c := ch
	e.emit(Event{Type: EventChange, Seq: ch.Seq, Change: &c})
	return ch
}
