// Package valuation writes prices onto positions and derives snapshot totals.
package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/snapshot-refresher/internal/logging"
	"github.com/snapshot-refresher/internal/models"
)

// PositionStore reads positions and writes their valuations
type PositionStore interface {
	ListAssets(ctx context.Context, snapshotID string) ([]*models.PositionAsset, error)
	ListLiabilities(ctx context.Context, snapshotID string) ([]*models.PositionLiability, error)
	ApplyAssetValuations(ctx context.Context, snapshotID string, valuations []models.Valuation) error
	ApplyLiabilityValuations(ctx context.Context, snapshotID string, valuations []models.Valuation) error
}

// SummaryStore persists snapshot summaries
type SummaryStore interface {
	Upsert(ctx context.Context, summary *models.SnapshotSummary) error
}

// Valuator prices positions and summarizes snapshots
type Valuator struct {
	positions PositionStore
	summaries SummaryStore
	now       func() time.Time
}

// NewValuator creates a valuator
func NewValuator(positions PositionStore, summaries SummaryStore) *Valuator {
	return &Valuator{positions: positions, summaries: summaries, now: time.Now}
}

// ApplyResult counts the positions that received a price
type ApplyResult struct {
	Assets      int
	Liabilities int
}

// Apply sets priceQuote and valueQuote on every position whose asset has a
// price. Positions without a price are left untouched.
func (v *Valuator) Apply(ctx context.Context, snapshotID string, prices map[string]string) (*ApplyResult, error) {
	assets, err := v.positions.ListAssets(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	liabilities, err := v.positions.ListLiabilities(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	var assetVals, liabilityVals []models.Valuation
	for _, p := range assets {
		val, ok, err := value(p.ID, p.QuantityDecimal, prices[p.AssetID])
		if err != nil {
			return nil, err
		}
		if ok {
			assetVals = append(assetVals, val)
		}
	}
	for _, p := range liabilities {
		val, ok, err := value(p.ID, p.AmountDecimal, prices[p.DebtAssetID])
		if err != nil {
			return nil, err
		}
		if ok {
			liabilityVals = append(liabilityVals, val)
		}
	}

	if err := v.positions.ApplyAssetValuations(ctx, snapshotID, assetVals); err != nil {
		return nil, err
	}
	if err := v.positions.ApplyLiabilityValuations(ctx, snapshotID, liabilityVals); err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithSnapshot(snapshotID).WithFields(map[string]interface{}{
		"valuedAssets":      len(assetVals),
		"valuedLiabilities": len(liabilityVals),
	}).Debug("Applied valuations")
	return &ApplyResult{Assets: len(assetVals), Liabilities: len(liabilityVals)}, nil
}

// value computes the valuation of one position; ok is false without a price
func value(positionID, quantity, price string) (models.Valuation, bool, error) {
	if price == "" {
		return models.Valuation{}, false, nil
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return models.Valuation{}, false, fmt.Errorf("invalid price %q for position %s: %w", price, positionID, err)
	}
	q, err := decimal.NewFromString(quantity)
	if err != nil {
		return models.Valuation{}, false, fmt.Errorf("invalid quantity %q for position %s: %w", quantity, positionID, err)
	}
	return models.Valuation{
		PositionID: positionID,
		PriceQuote: p.String(),
		ValueQuote: FormatCurrency(q.Mul(p)),
	}, true, nil
}

// Summarize derives totals and coverage from the persisted positions and
// upserts the snapshot summary
func (v *Valuator) Summarize(ctx context.Context, snapshotID string) (*models.SnapshotSummary, error) {
	assets, err := v.positions.ListAssets(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	liabilities, err := v.positions.ListLiabilities(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	totalAssets, pricedAssets := decimal.Zero, 0
	for _, p := range assets {
		if p.PriceQuote == nil {
			continue
		}
		pricedAssets++
		totalAssets = totalAssets.Add(parseValue(p.ValueQuote))
	}
	totalLiabilities, pricedLiabilities := decimal.Zero, 0
	for _, p := range liabilities {
		if p.PriceQuote == nil {
			continue
		}
		pricedLiabilities++
		totalLiabilities = totalLiabilities.Add(parseValue(p.ValueQuote))
	}

	summary := &models.SnapshotSummary{
		SnapshotID:             snapshotID,
		TotalAssetsQuote:       FormatCurrency(totalAssets),
		TotalLiabilitiesQuote:  FormatCurrency(totalLiabilities),
		NetWorthQuote:          FormatCurrency(totalAssets.Sub(totalLiabilities)),
		PricedCoveragePct:      Coverage(pricedAssets+pricedLiabilities, len(assets)+len(liabilities)),
		PricedAssetsCount:      pricedAssets,
		TotalAssetsCount:       len(assets),
		PricedLiabilitiesCount: pricedLiabilities,
		TotalLiabilitiesCount:  len(liabilities),
		UpdatedAt:              v.now().UTC(),
	}
	if err := v.summaries.Upsert(ctx, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// Coverage is priced / total * 100, or 0 when there is nothing to price
func Coverage(priced, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(priced) / float64(total) * 100
}

func parseValue(s *string) decimal.Decimal {
	if s == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
