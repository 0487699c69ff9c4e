package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/cloudydaiyz/stringplay-core/internal/engine"
	"github.com/cloudydaiyz/stringplay-core/internal/store"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Ping(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: "UNAVAILABLE", Message: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSync runs a sync to completion. Lock contention is a 409 carrying
// the report; other failures are a 500 carrying the report.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	troupeID := chi.URLParam(r, "troupeID")
	report, err := s.syncer.Sync(r.Context(), troupeID)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, report)
	case engine.IsLocked(err):
		s.writeJSON(w, http.StatusConflict, report)
	case engine.IsNotFound(err):
		s.writeJSON(w, http.StatusNotFound, errorBody{Code: string(engine.CodeNotFound), Message: err.Error()})
	default:
		s.writeJSON(w, http.StatusInternalServerError, report)
	}
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	troupeID := chi.URLParam(r, "troupeID")
	d, err := s.syncer.Dashboard(r.Context(), troupeID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorBody{Code: string(engine.CodeNotFound), Message: err.Error()})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("troupe_id", troupeID).Msg("dashboard read failed")
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Code: "INTERNAL", Message: "dashboard read failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}
