// Package server exposes a running engine over HTTP for a rendering layer.
//
// Every request is funneled through engine.Do, so handlers never touch the
// engine from their own goroutine. Engine events are fanned out to
// websocket clients on /events as JSON.
//
// Routes:
//
//	GET    /state           full form state
//	GET    /graph           instantiated dependency graph
//	POST   /values          {"path", "value"}
//	POST   /external        {"key", "value"} or {"data"} to replace all
//	POST   /items           {"path", "item"}
//	DELETE /items           ?path=&index=
//	POST   /submit
//	POST   /submit/finish
//	POST   /reset
//	POST   /clear
//	POST   /flush
//	GET    /events          websocket event stream
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/fieldlogic/internal/engine"
)

// Server serves one engine instance.
type Server struct {
	engine *engine.Engine
	logger *slog.Logger
	hub    *hub
	router chi.Router

	unsubscribe func()
}

// New wires a server to e. It subscribes to engine events, so it must be
// called before e.Run starts.
func New(e *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine: e,
		logger: logger,
		hub:    newHub(logger),
	}
	s.unsubscribe = e.Subscribe(s.hub.publish)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/state", s.handleState)
	r.Get("/graph", s.handleGraph)
	r.Post("/values", s.handleSetValue)
	r.Post("/external", s.handleExternal)
	r.Route("/items", func(r chi.Router) {
		r.Post("/", s.handleAddItem)
		r.Delete("/", s.handleRemoveItem)
	})
	r.Post("/submit", s.handleSubmit)
	r.Post("/submit/finish", s.handleFinishSubmit)
	r.Post("/reset", s.handleReset)
	r.Post("/clear", s.handleClear)
	r.Post("/flush", s.handleFlush)
	r.Get("/events", s.handleEvents)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve runs the engine loop and serves HTTP on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- s.engine.Run(ctx)
	}()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		s.hub.closeAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http shutdown", "error", err)
		}
	}()

	s.logger.Info("server listening", "addr", ln.Addr().String(), "session", s.engine.SessionID())
	err := srv.Serve(ln)
	cancel()
	<-engineDone
	s.unsubscribe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
