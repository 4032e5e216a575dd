package service

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/types"
	"github.com/snapshot-refresher/internal/valuation"
)

// PositionRepository interface for reading a snapshot's positions
type PositionRepository interface {
	ListAssets(ctx context.Context, snapshotID string) ([]*models.PositionAsset, error)
	ListLiabilities(ctx context.Context, snapshotID string) ([]*models.PositionLiability, error)
}

// PositionFilter narrows a position listing; empty fields match everything
type PositionFilter struct {
	WalletID string
	ChainKey string
	Protocol types.Protocol
}

func (f PositionFilter) match(walletID, chainKey string, protocol types.Protocol) bool {
	if f.WalletID != "" && f.WalletID != walletID {
		return false
	}
	if f.ChainKey != "" && f.ChainKey != chainKey {
		return false
	}
	return f.Protocol == "" || f.Protocol == protocol
}

// AssetView is an asset position with its display quantity
type AssetView struct {
	*models.PositionAsset
	QuantityDisplay string `json:"quantityDisplay"`
}

// LiabilityView is a liability position with its display amount
type LiabilityView struct {
	*models.PositionLiability
	QuantityDisplay string `json:"quantityDisplay"`
}

// PositionQueryService serves position listings for finished or running snapshots
type PositionQueryService struct {
	snapshots SnapshotRepository
	positions PositionRepository
}

// NewPositionQueryService creates a new position query service
func NewPositionQueryService(snapshots SnapshotRepository, positions PositionRepository) *PositionQueryService {
	return &PositionQueryService{snapshots: snapshots, positions: positions}
}

// Assets lists asset positions, highest value first
func (q *PositionQueryService) Assets(ctx context.Context, snapshotID string, filter PositionFilter) ([]AssetView, error) {
	if _, err := q.snapshots.GetByID(ctx, snapshotID); err != nil {
		return nil, err
	}
	positions, err := q.positions.ListAssets(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	out := make([]AssetView, 0, len(positions))
	for _, p := range positions {
		if !filter.match(p.WalletID, p.ChainKey, p.Protocol) {
			continue
		}
		out = append(out, AssetView{PositionAsset: p, QuantityDisplay: valuation.FormatQuantity(p.QuantityDecimal)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return valueGreater(out[i].ValueQuote, out[j].ValueQuote)
	})
	return out, nil
}

// Liabilities lists liability positions, highest value first
func (q *PositionQueryService) Liabilities(ctx context.Context, snapshotID string, filter PositionFilter) ([]LiabilityView, error) {
	if _, err := q.snapshots.GetByID(ctx, snapshotID); err != nil {
		return nil, err
	}
	positions, err := q.positions.ListLiabilities(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	out := make([]LiabilityView, 0, len(positions))
	for _, p := range positions {
		if !filter.match(p.WalletID, p.ChainKey, p.Protocol) {
			continue
		}
		out = append(out, LiabilityView{PositionLiability: p, QuantityDisplay: valuation.FormatQuantity(p.AmountDecimal)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return valueGreater(out[i].ValueQuote, out[j].ValueQuote)
	})
	return out, nil
}

// valueGreater orders valued positions before unvalued ones
func valueGreater(a, b *string) bool {
	if a == nil || b == nil {
		return a != nil && b == nil
	}
	da, errA := decimal.NewFromString(*a)
	db, errB := decimal.NewFromString(*b)
	if errA != nil || errB != nil {
		return false
	}
	return da.GreaterThan(db)
}
