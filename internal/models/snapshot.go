package models

import (
	"time"

	"github.com/snapshot-refresher/internal/types"
)

// Snapshot represents one refresh cycle's point-in-time portfolio state
type Snapshot struct {
	ID            string               `json:"id" db:"id"`
	QuoteCurrency string               `json:"quoteCurrency" db:"quote_currency"`
	Status        types.SnapshotStatus `json:"status" db:"status"`
	StartedAt     time.Time            `json:"startedAt" db:"started_at"`
	FinishedAt    *time.Time           `json:"finishedAt,omitempty" db:"finished_at"`
	Notes         *string              `json:"notes,omitempty" db:"notes"`
}

// SourceRun records the outcome of one source within a snapshot
type SourceRun struct {
	SnapshotID   string                `json:"snapshotId" db:"snapshot_id"`
	SourceKey    types.SourceKey       `json:"sourceKey" db:"source_key"`
	Status       types.SourceRunStatus `json:"status" db:"status"`
	StartedAt    *time.Time            `json:"startedAt,omitempty" db:"started_at"`
	FinishedAt   *time.Time            `json:"finishedAt,omitempty" db:"finished_at"`
	ErrorCode    *string               `json:"errorCode,omitempty" db:"error_code"`
	ErrorMessage *string               `json:"errorMessage,omitempty" db:"error_message"`
	Meta         types.Meta            `json:"meta,omitempty" db:"meta_json"`
}

// SnapshotSummary holds the valuation totals of a snapshot
type SnapshotSummary struct {
	SnapshotID             string    `json:"snapshotId" db:"snapshot_id"`
	TotalAssetsQuote       string    `json:"totalAssetsQuote" db:"total_assets_quote"`
	TotalLiabilitiesQuote  string    `json:"totalLiabilitiesQuote" db:"total_liabilities_quote"`
	NetWorthQuote          string    `json:"netWorthQuote" db:"net_worth_quote"`
	PricedCoveragePct      float64   `json:"pricedCoveragePct" db:"priced_coverage_pct"`
	PricedAssetsCount      int       `json:"pricedAssetsCount" db:"priced_assets_count"`
	TotalAssetsCount       int       `json:"totalAssetsCount" db:"total_assets_count"`
	PricedLiabilitiesCount int       `json:"pricedLiabilitiesCount" db:"priced_liabilities_count"`
	TotalLiabilitiesCount  int       `json:"totalLiabilitiesCount" db:"total_liabilities_count"`
	UpdatedAt              time.Time `json:"updatedAt" db:"updated_at"`
}

// TotalPositions returns the number of asset and liability positions
func (s *SnapshotSummary) TotalPositions() int {
	return s.TotalAssetsCount + s.TotalLiabilitiesCount
}
