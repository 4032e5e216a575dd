package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/snapshot-refresher/internal/models"
)

// SummaryArchive appends finalized snapshot summaries to ClickHouse
type SummaryArchive struct {
	db *ClickHouseDB
}

// NewSummaryArchive creates a new summary archive
func NewSummaryArchive(db *ClickHouseDB) *SummaryArchive {
	return &SummaryArchive{db: db}
}

// Append writes one history row for a finalized snapshot
func (a *SummaryArchive) Append(ctx context.Context, snapshot *models.Snapshot, summary *models.SnapshotSummary) error {
	if snapshot == nil || summary == nil {
		return nil
	}
	finishedAt := time.Now().UTC()
	if snapshot.FinishedAt != nil {
		finishedAt = *snapshot.FinishedAt
	}

	totals := make([]decimal.Decimal, 0, 3)
	for _, v := range []string{summary.TotalAssetsQuote, summary.TotalLiabilitiesQuote, summary.NetWorthQuote} {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("invalid summary total %q: %w", v, err)
		}
		totals = append(totals, d)
	}

	batch, err := a.db.PrepareBatch(ctx, `INSERT INTO snapshot_summary_history (
		snapshot_id, quote_currency, status, started_at, finished_at,
		total_assets_quote, total_liabilities_quote, net_worth_quote,
		priced_coverage_pct, priced_assets_count, total_assets_count,
		priced_liabilities_count, total_liabilities_count
	)`)
	if err != nil {
		return fmt.Errorf("failed to prepare archive batch: %w", err)
	}

	if err := batch.Append(
		snapshot.ID,
		snapshot.QuoteCurrency,
		string(snapshot.Status),
		snapshot.StartedAt.UTC(),
		finishedAt.UTC(),
		totals[0],
		totals[1],
		totals[2],
		summary.PricedCoveragePct,
		uint32(summary.PricedAssetsCount),      // #nosec G115 - counts are non-negative
		uint32(summary.TotalAssetsCount),       // #nosec G115
		uint32(summary.PricedLiabilitiesCount), // #nosec G115
		uint32(summary.TotalLiabilitiesCount),  // #nosec G115
	); err != nil {
		_ = batch.Abort()
		return fmt.Errorf("failed to append archive row: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send archive batch: %w", err)
	}
	return nil
}
