package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/touchportal-mqtt/internal/history"
)

const healthTimeout = 5 * time.Second

// Handler builds the router. It is exported for tests and embedding.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/topics", s.handleTopics)
		r.Get("/topics/{slot}/history", s.handleHistory)
	})

	path := s.wsCfg.Path
	if path == "" {
		path = "/ws"
	}
	r.Get(path, s.handleWebSocket)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	components, healthy := s.runChecks(ctx)
	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
		"ws_clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleTopics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "payload history is disabled")
		return
	}

	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil || slot < 1 {
		writeBadRequest(w, "slot must be a positive integer")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
	}

	entries, err := s.history.Latest(r.Context(), slot, limit)
	if err != nil {
		if errors.Is(err, history.ErrInvalidSlot) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("reading payload history failed", "slot", slot, "error", err)
		writeInternalError(w, "failed to read payload history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"slot":    slot,
		"entries": entries,
		"count":   len(entries),
	})
}
