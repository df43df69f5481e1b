package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

func (s *Server) handleListDocuments(w http.ResponseWriter, _ *http.Request) {
	if s.index == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "document index not configured")
		return
	}
	docs := s.index.Documents()
	respondJSON(w, http.StatusOK, map[string]any{
		"count":     len(docs),
		"documents": docs,
	})
}

func (s *Server) handleReloadDocuments(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "document index not configured")
		return
	}
	if err := s.index.Reload(r.Context()); err != nil {
		s.logger.Error("document reload failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "reload_failed", err.Error())
		return
	}
	s.recordSessionEvent("documents_reloaded")
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "reloaded",
		"count":  s.index.Len(),
	})
}
