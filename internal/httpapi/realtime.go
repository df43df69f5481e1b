package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/docvoice/internal/credentials"
)

const actionGetConfig = "get_config"

type realtimeActionRequest struct {
	Action string `json:"action"`
}

// configResponse carries the credential, or null when none is configured.
type configResponse struct {
	APIKey *string `json:"apiKey"`
}

func (s *Server) handleRealtimeAction(w http.ResponseWriter, r *http.Request) {
	var req realtimeActionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	switch strings.TrimSpace(req.Action) {
	case actionGetConfig:
		s.handleGetConfig(w, r)
	default:
		respondError(w, http.StatusBadRequest, "invalid_action", "Invalid action")
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.credentials == nil {
		s.logger.Warn("no credential provider configured")
		respondJSON(w, http.StatusOK, configResponse{})
		return
	}

	key, err := s.credentials.Credential(r.Context())
	switch {
	case errors.Is(err, credentials.ErrNotConfigured):
		s.logger.Warn("realtime credential is not configured")
		respondJSON(w, http.StatusOK, configResponse{})
	case err != nil:
		s.logger.Error("credential lookup failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, "credential_unavailable", "credential provider unavailable")
	default:
		respondJSON(w, http.StatusOK, configResponse{APIKey: &key})
	}
}
