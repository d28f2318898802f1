package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/roach88/fieldlogic/internal/engine"
)

// clientBuffer is the number of queued events a websocket client may lag
// behind before it is disconnected.
const clientBuffer = 256

const writeTimeout = 10 * time.Second

// SnapshotMessage is the first message on every /events connection.
type SnapshotMessage struct {
	Type  string        `json:"type"` // "snapshot"
	State StateResponse `json:"state"`
}

type client struct {
	send chan []byte
}

// hub fans engine events out to websocket clients. publish runs on the
// engine goroutine and never blocks it.
type hub struct {
	logger  *slog.Logger
	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub(logger *slog.Logger) *hub {
	return &hub{logger: logger, clients: make(map[*client]struct{})}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// remove drops c and closes its queue. Safe to call more than once.
func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// publish is the engine listener.
func (h *hub) publish(ev engine.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event", "type", ev.Type, "error", err)
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow websocket client", "type", ev.Type)
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// handleEvents upgrades to a websocket, sends a state snapshot, then
// streams every engine event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	// Registering on the engine goroutine orders the snapshot before every
	// event the client receives.
	c := &client{send: make(chan []byte, clientBuffer)}
	var snapshot SnapshotMessage
	err = s.engine.Do(r.Context(), func(e *engine.Engine) {
		snapshot = SnapshotMessage{Type: "snapshot", State: stateOf(e)}
		s.hub.add(c)
	})
	if err != nil {
		conn.Close(websocket.StatusTryAgainLater, "engine not running")
		return
	}
	defer s.hub.remove(c)

	ctx := conn.CloseRead(r.Context())
	data, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Error("failed to encode snapshot", "error", err)
		return
	}
	if err := write(ctx, conn, data); err != nil {
		return
	}
	s.logger.Debug("websocket client connected", "clients", s.hub.count())

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			if err := write(ctx, conn, msg); err != nil {
				s.logger.Debug("websocket write", "error", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
