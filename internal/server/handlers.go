package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dwellscope/listing-cli/internal/model"
	"github.com/dwellscope/listing-cli/internal/pipeline"
	"github.com/dwellscope/listing-cli/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL   string `json:"url"`
		Stage string `json:"stage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", nil)
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "missing_url", []string{"url"})
		return
	}
	stage, err := pipeline.ParseExtractStage(req.Stage)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	result, err := s.pipeline.Extract(r.Context(), userID(r), req.URL, stage)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConfirmFacts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Facts model.ListingFacts `json:"facts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", nil)
		return
	}

	cf, err := s.pipeline.ConfirmFacts(r.Context(), userID(r), chi.URLParam(r, "sessionID"), req.Facts)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": model.StatusConfirmed,
		"facts":  cf,
	})
}

func (s *Server) handleComputeStats(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Force bool `json:"force"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", nil)
			return
		}
	}

	result, err := s.pipeline.ComputeStats(r.Context(), userID(r), chi.URLParam(r, "sessionID"), req.Force)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConfirmStats(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stats map[string]model.FieldAnnotation `json:"stats"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", nil)
		return
	}

	cs, err := s.pipeline.ConfirmStats(r.Context(), userID(r), chi.URLParam(r, "sessionID"), req.Stats)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": model.StatusStatsReady,
		"stats":  cs,
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	ev, err := s.pipeline.Evaluate(r.Context(), userID(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     model.StatusAIReady,
		"evaluation": ev,
	})
}

func (s *Server) handleRequestVideo(w http.ResponseWriter, r *http.Request) {
	sess, err := s.pipeline.RequestVideo(r.Context(), userID(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": sess.Status})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.pipeline.GetSessionView(r.Context(), userID(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter := store.SessionFilter{}
	if status := r.URL.Query().Get("status"); status != "" {
		st := model.Status(status)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status", []string{"status"})
			return
		}
		filter.Status = st
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	sessions, err := s.pipeline.ListSessions(r.Context(), userID(r), filter)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	counters, err := s.pipeline.Quota(r.Context(), userID(r))
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quota": counters})
}
