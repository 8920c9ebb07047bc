package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/codetesla51/entitylimit/limiter"
)

type registerRequest struct {
	ID      string `json:"id"`
	Limit   int    `json:"limit"`
	Window  string `json:"window"`
	Replace bool   `json:"replace"`
}

type entityResponse struct {
	ID          string    `json:"id"`
	Limit       int       `json:"limit"`
	Window      string    `json:"window"`
	WindowStart time.Time `json:"window_start"`
	Count       int       `json:"count"`
	Remaining   int       `json:"remaining"`
}

type checkResponse struct {
	ID        string     `json:"id"`
	Outcome   string     `json:"outcome"`
	Limit     int        `json:"limit,omitempty"`
	Remaining int        `json:"remaining"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "entities": s.limiter.Len()})
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Request allowed\n"))
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"entities": s.limiter.IDs()})
}

func (s *Server) handleRegisterEntity(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	window, err := time.ParseDuration(req.Window)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid window: "+err.Error())
		return
	}

	if req.Replace {
		err = s.limiter.Replace(req.ID, req.Limit, window)
	} else {
		err = s.limiter.Register(req.ID, req.Limit, window)
	}
	switch {
	case errors.Is(err, limiter.ErrInvalidConfiguration):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, limiter.ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("register entity", zap.String("entity", req.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	state, err := s.limiter.Lookup(req.ID)
	if err != nil {
		// removed concurrently
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toEntityResponse(state))
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	state, err := s.limiter.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toEntityResponse(state))
}

func (s *Server) handleRemoveEntity(w http.ResponseWriter, r *http.Request) {
	if err := s.limiter.Remove(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheckEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res := s.limiter.Check(id, s.limiter.Now())

	resp := checkResponse{
		ID:        id,
		Outcome:   res.Outcome.String(),
		Limit:     res.Limit,
		Remaining: res.Remaining,
	}
	if res.Outcome != limiter.NotFound {
		resp.ResetAt = &res.ResetAt
	}
	switch res.Outcome {
	case limiter.Admitted:
		writeJSON(w, http.StatusOK, resp)
	case limiter.Denied:
		writeJSON(w, http.StatusTooManyRequests, resp)
	default:
		writeJSON(w, http.StatusNotFound, resp)
	}
}

func toEntityResponse(s limiter.State) entityResponse {
	return entityResponse{
		ID:          s.ID,
		Limit:       s.Limit,
		Window:      s.Window.String(),
		WindowStart: s.WindowStart,
		Count:       s.Count,
		Remaining:   s.Remaining(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
