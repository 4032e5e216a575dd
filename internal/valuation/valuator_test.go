package valuation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapshot-refresher/internal/models"
)

type memPositions struct {
	assets      []*models.PositionAsset
	liabilities []*models.PositionLiability
	summaries   map[string]*models.SnapshotSummary
	failApply   bool
}

func newMemPositions() *memPositions {
	return &memPositions{summaries: make(map[string]*models.SnapshotSummary)}
}

func (m *memPositions) ListAssets(_ context.Context, snapshotID string) ([]*models.PositionAsset, error) {
	var out []*models.PositionAsset
	for _, p := range m.assets {
		if p.SnapshotID == snapshotID {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memPositions) ListLiabilities(_ context.Context, snapshotID string) ([]*models.PositionLiability, error) {
	var out []*models.PositionLiability
	for _, p := range m.liabilities {
		if p.SnapshotID == snapshotID {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memPositions) ApplyAssetValuations(_ context.Context, snapshotID string, vals []models.Valuation) error {
	if m.failApply {
		return errors.New("write failed")
	}
	for _, v := range vals {
		for _, p := range m.assets {
			if p.SnapshotID == snapshotID && p.ID == v.PositionID {
				price, value := v.PriceQuote, v.ValueQuote
				p.PriceQuote, p.ValueQuote = &price, &value
			}
		}
	}
	return nil
}

func (m *memPositions) ApplyLiabilityValuations(_ context.Context, snapshotID string, vals []models.Valuation) error {
	for _, v := range vals {
		for _, p := range m.liabilities {
			if p.SnapshotID == snapshotID && p.ID == v.PositionID {
				price, value := v.PriceQuote, v.ValueQuote
				p.PriceQuote, p.ValueQuote = &price, &value
			}
		}
	}
	return nil
}

func (m *memPositions) Upsert(_ context.Context, s *models.SnapshotSummary) error {
	copied := *s
	m.summaries[s.SnapshotID] = &copied
	return nil
}

func newTestValuator(store *memPositions) *Valuator {
	v := NewValuator(store, store)
	v.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return v
}

func asset(id, assetID, qty string) *models.PositionAsset {
	return &models.PositionAsset{ID: id, SnapshotID: "snap-1", AssetID: assetID, QuantityDecimal: qty}
}

func liability(id, assetID, amount string) *models.PositionLiability {
	return &models.PositionLiability{ID: id, SnapshotID: "snap-1", DebtAssetID: assetID, AmountDecimal: amount}
}

func TestRound(t *testing.T) {
	d := decimal.RequireFromString("0.121")
	assert.Equal(t, "0.12", Round(d, 2, RoundHalfUp).StringFixed(2))
	assert.Equal(t, "0.13", Round(d, 2, RoundCeil).StringFixed(2))

	assert.Equal(t, "0.13", FormatCurrency(decimal.RequireFromString("0.125")))
	assert.Equal(t, "0.12", FormatCurrency(decimal.RequireFromString("0.1249")))
	assert.Equal(t, "0.00", FormatCurrency(decimal.Zero))
}

func TestFormatQuantity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1.00"},
		{"1.001", "1.01"},
		{"0.5", "0.50"},
		{"2.999999", "3.00"},
		{"not-a-number", "not-a-number"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatQuantity(tt.in))
		})
	}
}

func TestApply_ValuesPricedPositions(t *testing.T) {
	store := newMemPositions()
	store.assets = []*models.PositionAsset{
		asset("a1", "evm:1:native", "1.5"),
		asset("a2", "evm:1:erc20:0xToken", "10"),
		asset("a3", "evm:1:erc20:0xUnpriced", "3"),
	}
	store.liabilities = []*models.PositionLiability{liability("l1", "evm:1:erc20:0xToken", "0.25")}
	v := newTestValuator(store)

	res, err := v.Apply(context.Background(), "snap-1", map[string]string{
		"evm:1:native":        "3500.123",
		"evm:1:erc20:0xToken": "0.0125",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Assets)
	assert.Equal(t, 1, res.Liabilities)

	require.NotNil(t, store.assets[0].ValueQuote)
	assert.Equal(t, "5250.18", *store.assets[0].ValueQuote)
	assert.Equal(t, "3500.123", *store.assets[0].PriceQuote)
	assert.Equal(t, "0.13", *store.assets[1].ValueQuote)
	assert.Nil(t, store.assets[2].PriceQuote)
	assert.Nil(t, store.assets[2].ValueQuote)
	assert.Equal(t, "0.00", *store.liabilities[0].ValueQuote)
}

func TestApply_InvalidPrice(t *testing.T) {
	store := newMemPositions()
	store.assets = []*models.PositionAsset{asset("a1", "x", "1")}
	v := newTestValuator(store)

	_, err := v.Apply(context.Background(), "snap-1", map[string]string{"x": "abc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid price")
}

func TestApply_RepositoryError(t *testing.T) {
	store := newMemPositions()
	store.failApply = true
	store.assets = []*models.PositionAsset{asset("a1", "x", "1")}
	v := newTestValuator(store)

	_, err := v.Apply(context.Background(), "snap-1", map[string]string{"x": "1"})
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	store := newMemPositions()
	store.assets = []*models.PositionAsset{
		asset("a1", "eth", "2"),
		asset("a2", "usdc", "100"),
		asset("a3", "unknown", "5"),
	}
	store.liabilities = []*models.PositionLiability{liability("l1", "usdc", "40")}
	v := newTestValuator(store)
	ctx := context.Background()

	_, err := v.Apply(ctx, "snap-1", map[string]string{"eth": "1000", "usdc": "1"})
	require.NoError(t, err)

	summary, err := v.Summarize(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, "2100.00", summary.TotalAssetsQuote)
	assert.Equal(t, "40.00", summary.TotalLiabilitiesQuote)
	assert.Equal(t, "2060.00", summary.NetWorthQuote)
	assert.Equal(t, 2, summary.PricedAssetsCount)
	assert.Equal(t, 3, summary.TotalAssetsCount)
	assert.Equal(t, 1, summary.PricedLiabilitiesCount)
	assert.Equal(t, 1, summary.TotalLiabilitiesCount)
	assert.InDelta(t, 75.0, summary.PricedCoveragePct, 1e-9)
	assert.Equal(t, summary, store.summaries["snap-1"])
}

func TestSummarize_NoPositions(t *testing.T) {
	store := newMemPositions()
	v := newTestValuator(store)

	summary, err := v.Summarize(context.Background(), "empty")
	require.NoError(t, err)
	assert.Equal(t, "0.00", summary.TotalAssetsQuote)
	assert.Equal(t, "0.00", summary.NetWorthQuote)
	assert.Equal(t, 0.0, summary.PricedCoveragePct)
	assert.Equal(t, 0, summary.TotalPositions())
}

func TestSummarize_NegativeNetWorth(t *testing.T) {
	store := newMemPositions()
	store.assets = []*models.PositionAsset{asset("a1", "usdc", "10")}
	store.liabilities = []*models.PositionLiability{liability("l1", "usdc", "25.5")}
	v := newTestValuator(store)
	ctx := context.Background()

	_, err := v.Apply(ctx, "snap-1", map[string]string{"usdc": "1"})
	require.NoError(t, err)
	summary, err := v.Summarize(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, "-15.50", summary.NetWorthQuote)
}

func TestValuation_Idempotent(t *testing.T) {
	store := newMemPositions()
	store.assets = []*models.PositionAsset{asset("a1", "eth", "1.333"), asset("a2", "sol", "7")}
	v := newTestValuator(store)
	ctx := context.Background()
	prices := map[string]string{"eth": "2999.99"}

	_, err := v.Apply(ctx, "snap-1", prices)
	require.NoError(t, err)
	first, err := v.Summarize(ctx, "snap-1")
	require.NoError(t, err)

	_, err = v.Apply(ctx, "snap-1", prices)
	require.NoError(t, err)
	second, err := v.Summarize(ctx, "snap-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.InDelta(t, 50.0, second.PricedCoveragePct, 1e-9)
}

func TestCoverage(t *testing.T) {
	assert.Equal(t, 0.0, Coverage(0, 0))
	assert.Equal(t, 0.0, Coverage(0, 4))
	assert.Equal(t, 100.0, Coverage(4, 4))
	assert.InDelta(t, 66.666, Coverage(2, 3), 0.001)
}

// Property: coverage is 0 exactly when nothing is priced and 100 exactly when everything is
func TestCoverageBoundsProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("coverage extremes match priced count", prop.ForAll(
		func(total, priced int) bool {
			if priced > total {
				priced = total
			}
			c := Coverage(priced, total)
			if c < 0 || c > 100 {
				return false
			}
			if total > 0 && (c == 0) != (priced == 0) {
				return false
			}
			if total > 0 && (c == 100) != (priced == total) {
				return false
			}
			return true
		},
		gen.IntRange(0, 500),
		gen.IntRange(0, 500),
	))

	properties.Property("coverage grows with priced count", prop.ForAll(
		func(total, priced int) bool {
			if priced >= total {
				return true
			}
			return Coverage(priced, total) < Coverage(priced+1, total)
		},
		gen.IntRange(1, 500),
		gen.IntRange(0, 500),
	))

	properties.TestingRun(t)
}

// Property: currency rounding never moves a value by more than half a cent,
// quantity rounding never rounds down
func TestRoundingProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)
	halfCent := decimal.RequireFromString("0.005")

	properties.Property("half-up stays within half a cent", prop.ForAll(
		func(units int64) bool {
			d := decimal.New(units, -6)
			return Round(d, 2, CurrencyRounding).Sub(d).Abs().LessThanOrEqual(halfCent)
		},
		gen.Int64Range(-1_000_000_000, 1_000_000_000),
	))

	properties.Property("ceil never rounds down", prop.ForAll(
		func(units int64) bool {
			d := decimal.New(units, -6)
			return Round(d, 2, QuantityRounding).GreaterThanOrEqual(d)
		},
		gen.Int64Range(-1_000_000_000, 1_000_000_000),
	))

	properties.TestingRun(t)
}
