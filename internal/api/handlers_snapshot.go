package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/snapshot-refresher/internal/errors"
	"github.com/snapshot-refresher/internal/logging"
	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/service"
	"github.com/snapshot-refresher/internal/types"
)

// snapshotSummaryView is the latest snapshot with its summary inlined
type snapshotSummaryView struct {
	ID            string                  `json:"id"`
	Status        types.SnapshotStatus    `json:"status"`
	QuoteCurrency string                  `json:"quoteCurrency"`
	StartedAt     time.Time               `json:"startedAt"`
	FinishedAt    *time.Time              `json:"finishedAt"`
	Summary       *models.SnapshotSummary `json:"summary"`
}

// handleLatestSummary handles GET /api/snapshots/latest/summary
func (s *Server) handleLatestSummary(w http.ResponseWriter, r *http.Request) {
	latest, err := s.refreshService.GetLatestSummary(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	if latest == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"snapshot": nil})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot": snapshotSummaryView{
			ID:            latest.Snapshot.ID,
			Status:        latest.Snapshot.Status,
			QuoteCurrency: latest.Snapshot.QuoteCurrency,
			StartedAt:     latest.Snapshot.StartedAt,
			FinishedAt:    latest.Snapshot.FinishedAt,
			Summary:       latest.Summary,
		},
	})
}

// positionFilter reads walletId, chainKey and protocol query parameters;
// an unknown protocol is ignored
func positionFilter(r *http.Request) service.PositionFilter {
	q := r.URL.Query()
	filter := service.PositionFilter{
		WalletID: q.Get("walletId"),
		ChainKey: q.Get("chainKey"),
	}
	if p := q.Get("protocol"); types.IsProtocol(p) {
		filter.Protocol = types.Protocol(p)
	}
	return filter
}

// handleListAssets handles GET /api/snapshots/{snapshotId}/assets
func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	snapshotID := mux.Vars(r)["snapshotId"]

	assets, err := s.positionService.Assets(r.Context(), snapshotID, positionFilter(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"assets": assets})
}

// handleListLiabilities handles GET /api/snapshots/{snapshotId}/liabilities
func (s *Server) handleListLiabilities(w http.ResponseWriter, r *http.Request) {
	snapshotID := mux.Vars(r)["snapshotId"]

	liabilities, err := s.positionService.Liabilities(r.Context(), snapshotID, positionFilter(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"liabilities": liabilities})
}

// handleListProtocolPositions handles GET /api/snapshots/{snapshotId}/positions/{protocol}.
// The protocol segment is case-insensitive (kamino, hyperlend, aave_v3, wallet).
func (s *Server) handleListProtocolPositions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snapshotID := vars["snapshotId"]

	protocol := strings.ToUpper(vars["protocol"])
	if !types.IsProtocol(protocol) {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("protocol", "unknown protocol "+vars["protocol"]))
		return
	}
	filter := service.PositionFilter{
		WalletID: r.URL.Query().Get("walletId"),
		Protocol: types.Protocol(protocol),
	}

	assets, err := s.positionService.Assets(r.Context(), snapshotID, filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	liabilities, err := s.positionService.Liabilities(r.Context(), snapshotID, filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"assets":      assets,
		"liabilities": liabilities,
	})
}

// handleUSDToEUR handles GET /api/fx/usd-eur
func (s *Server) handleUSDToEUR(w http.ResponseWriter, r *http.Request) {
	rate, err := s.fxService.USDToEUR(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("FX rate lookup failed")
		respondError(w, http.StatusBadGateway, ErrCodeServiceUnavailable, "FX rate unavailable", nil)
		return
	}

	respondJSON(w, http.StatusOK, rate)
}
