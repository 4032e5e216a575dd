package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/snapshot-refresher/internal/errors"
	"github.com/snapshot-refresher/internal/service"
	"github.com/snapshot-refresher/internal/types"
)

// refreshRequest is the body of POST /api/refresh; every field is optional
type refreshRequest struct {
	QuoteCurrency  string   `json:"quoteCurrency"`
	EnabledSources []string `json:"enabledSources"`
}

// refreshResponse acknowledges a started refresh
type refreshResponse struct {
	SnapshotID string               `json:"snapshotId"`
	Status     types.SnapshotStatus `json:"status"`
	StartedAt  time.Time            `json:"startedAt"`
}

// handleStartRefresh handles POST /api/refresh - Start a snapshot refresh
func (s *Server) handleStartRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := parseJSONBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("body", err.Error()))
		return
	}

	snapshot, err := s.refreshService.StartRefresh(r.Context(), service.RefreshOptions{
		QuoteCurrency:  req.QuoteCurrency,
		EnabledSources: req.EnabledSources,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, refreshResponse{
		SnapshotID: snapshot.ID,
		Status:     snapshot.Status,
		StartedAt:  snapshot.StartedAt,
	})
}

// handleGetStatus handles GET /api/refresh/{snapshotId}/status
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	snapshotID := mux.Vars(r)["snapshotId"]

	view, err := s.refreshService.GetStatus(r.Context(), snapshotID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}
