package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/roach88/fieldlogic/internal/engine"
)

// StateResponse is the full form state.
type StateResponse struct {
	SessionID   string                       `json:"session_id"`
	Value       map[string]any               `json:"value"`
	External    map[string]any               `json:"external"`
	Valid       bool                         `json:"valid"`
	Submitting  bool                         `json:"submitting"`
	Fields      map[string]engine.FieldState `json:"fields"`
	Messages    map[string][]string          `json:"messages,omitempty"`
	Diagnostics []engine.RuntimeError        `json:"diagnostics"`
}

// stateOf reads the state. Must run on the engine goroutine.
func stateOf(e *engine.Engine) StateResponse {
	st := StateResponse{
		SessionID:   e.SessionID(),
		Value:       e.Value(),
		External:    e.External(),
		Valid:       e.Valid(),
		Submitting:  e.Submitting(),
		Fields:      e.State(),
		Messages:    make(map[string][]string),
		Diagnostics: e.Diagnostics(),
	}
	for path, fs := range st.Fields {
		if len(fs.Errors) == 0 {
			continue
		}
		if msgs, err := e.ErrorMessages(path); err == nil {
			st.Messages[path] = msgs
		}
	}
	return st
}

type setValueRequest struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

type externalRequest struct {
	Key   string         `json:"key"`
	Value any            `json:"value"`
	Data  map[string]any `json:"data"`
}

type addItemRequest struct {
	Path string `json:"path"`
	Item any    `json:"item"`
}

// AddItemResponse reports the index of a new array item.
type AddItemResponse struct {
	Index int           `json:"index"`
	State StateResponse `json:"state"`
}

// SubmitResponse is the outcome of a submit.
type SubmitResponse struct {
	Submission engine.SubmitResult `json:"submission"`
	State      StateResponse       `json:"state"`
}

// do runs fn on the engine goroutine and returns fn's error. reached is
// false when the engine could not be reached; the response is then
// already written.
func (s *Server) do(w http.ResponseWriter, r *http.Request, fn func(*engine.Engine) error) (reached bool, callErr error) {
	err := s.engine.Do(r.Context(), func(e *engine.Engine) {
		callErr = fn(e)
	})
	switch {
	case errors.Is(err, engine.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "ENGINE_CLOSED", "engine is not running")
		return false, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "CANCELLED", err.Error())
		return false, nil
	case err != nil:
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return false, nil
	}
	return true, callErr
}

// mutate applies fn and answers with the new state, or with the mapped
// engine error.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, fn func(*engine.Engine) error) {
	var st StateResponse
	ok, callErr := s.do(w, r, func(e *engine.Engine) error {
		if err := fn(e); err != nil {
			return err
		}
		st = stateOf(e)
		return nil
	})
	if !ok {
		return
	}
	if callErr != nil {
		writeEngineError(w, callErr)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(*engine.Engine) error { return nil })
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	var g engine.Graph
	if ok, _ := s.do(w, r, func(e *engine.Engine) error {
		g = e.Graph()
		return nil
	}); !ok {
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleSetValue(w http.ResponseWriter, r *http.Request) {
	var req setValueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "path is required")
		return
	}
	s.mutate(w, r, func(e *engine.Engine) error {
		return e.SetValue(req.Path, req.Value)
	})
}

func (s *Server) handleExternal(w http.ResponseWriter, r *http.Request) {
	var req externalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if req.Key == "" && req.Data == nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "key or data is required")
		return
	}
	s.mutate(w, r, func(e *engine.Engine) error {
		if req.Key == "" {
			e.ReplaceExternalData(req.Data)
			return nil
		}
		return e.SetExternalData(req.Key, req.Value)
	})
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	var resp AddItemResponse
	ok, callErr := s.do(w, r, func(e *engine.Engine) error {
		idx, err := e.AddArrayItem(req.Path, req.Item)
		if err != nil {
			return err
		}
		resp = AddItemResponse{Index: idx, State: stateOf(e)}
		return nil
	})
	if !ok {
		return
	}
	if callErr != nil {
		writeEngineError(w, callErr)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if path == "" || err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "path and integer index are required")
		return
	}
	s.mutate(w, r, func(e *engine.Engine) error {
		return e.RemoveArrayItem(path, index)
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var resp SubmitResponse
	if ok, _ := s.do(w, r, func(e *engine.Engine) error {
		resp.Submission = e.Submit()
		resp.State = stateOf(e)
		return nil
	}); !ok {
		return
	}
	status := http.StatusOK
	if !resp.Submission.Valid {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleFinishSubmit(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(e *engine.Engine) error {
		e.FinishSubmit()
		return nil
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(e *engine.Engine) error {
		e.Reset()
		return nil
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(e *engine.Engine) error {
		e.Clear()
		return nil
	})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(e *engine.Engine) error {
		e.Flush()
		return nil
	})
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Error: message})
}

// writeEngineError maps host API errors to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var re *engine.RuntimeError
	if !errors.As(err, &re) {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	status := http.StatusBadRequest
	if engine.IsUnknownPath(err) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, ErrorResponse{Code: string(re.Code), Error: re.Message, Field: re.FieldPath})
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
