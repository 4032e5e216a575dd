package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/snapshot-refresher/internal/errors"
	"github.com/snapshot-refresher/internal/models"
)

// SummaryRepository stores one valuation summary per snapshot
type SummaryRepository struct {
	pool *pgxpool.Pool
}

// NewSummaryRepository creates a new summary repository
func NewSummaryRepository(pool *pgxpool.Pool) *SummaryRepository {
	return &SummaryRepository{pool: pool}
}

// Upsert inserts or replaces the summary of a snapshot
func (r *SummaryRepository) Upsert(ctx context.Context, summary *models.SnapshotSummary) error {
	assets, err := toNumeric(summary.TotalAssetsQuote)
	if err != nil {
		return err
	}
	liabilities, err := toNumeric(summary.TotalLiabilitiesQuote)
	if err != nil {
		return err
	}
	net, err := toNumeric(summary.NetWorthQuote)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO snapshot_summaries (
			snapshot_id, total_assets_quote, total_liabilities_quote, net_worth_quote,
			priced_coverage_pct, priced_assets_count, total_assets_count,
			priced_liabilities_count, total_liabilities_count, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (snapshot_id) DO UPDATE SET
			total_assets_quote = EXCLUDED.total_assets_quote,
			total_liabilities_quote = EXCLUDED.total_liabilities_quote,
			net_worth_quote = EXCLUDED.net_worth_quote,
			priced_coverage_pct = EXCLUDED.priced_coverage_pct,
			priced_assets_count = EXCLUDED.priced_assets_count,
			total_assets_count = EXCLUDED.total_assets_count,
			priced_liabilities_count = EXCLUDED.priced_liabilities_count,
			total_liabilities_count = EXCLUDED.total_liabilities_count,
			updated_at = EXCLUDED.updated_at
	`,
		summary.SnapshotID, assets, liabilities, net,
		summary.PricedCoveragePct, summary.PricedAssetsCount, summary.TotalAssetsCount,
		summary.PricedLiabilitiesCount, summary.TotalLiabilitiesCount, summary.UpdatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("upsert summary", err)
	}
	return nil
}

// GetBySnapshot returns the summary of a snapshot, or nil when none was written
func (r *SummaryRepository) GetBySnapshot(ctx context.Context, snapshotID string) (*models.SnapshotSummary, error) {
	var s models.SnapshotSummary
	err := r.pool.QueryRow(ctx, `
		SELECT snapshot_id, total_assets_quote::text, total_liabilities_quote::text, net_worth_quote::text,
			priced_coverage_pct, priced_assets_count, total_assets_count,
			priced_liabilities_count, total_liabilities_count, updated_at
		FROM snapshot_summaries
		WHERE snapshot_id = $1
	`, snapshotID).Scan(
		&s.SnapshotID, &s.TotalAssetsQuote, &s.TotalLiabilitiesQuote, &s.NetWorthQuote,
		&s.PricedCoveragePct, &s.PricedAssetsCount, &s.TotalAssetsCount,
		&s.PricedLiabilitiesCount, &s.TotalLiabilitiesCount, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get summary", err)
	}
	return &s, nil
}
