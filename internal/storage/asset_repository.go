package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/snapshot-refresher/internal/errors"
	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/types"
)

// AssetRepository stores asset metadata shared across snapshots
type AssetRepository struct {
	pool *pgxpool.Pool
}

// NewAssetRepository creates a new asset repository
func NewAssetRepository(pool *pgxpool.Pool) *AssetRepository {
	return &AssetRepository{pool: pool}
}

// Upsert inserts assets or refreshes their metadata. A known price-feed id is
// never cleared by a later upsert that lacks one.
func (r *AssetRepository) Upsert(ctx context.Context, assets []*models.Asset) error {
	if len(assets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, a := range assets {
		batch.Queue(`
			INSERT INTO assets (id, chain_key, kind, symbol, name, decimals, address_or_mint, price_feed_id, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (id) DO UPDATE SET
				symbol = EXCLUDED.symbol,
				name = EXCLUDED.name,
				decimals = EXCLUDED.decimals,
				address_or_mint = COALESCE(EXCLUDED.address_or_mint, assets.address_or_mint),
				price_feed_id = COALESCE(EXCLUDED.price_feed_id, assets.price_feed_id),
				updated_at = NOW()
		`, a.ID, a.ChainKey, string(a.Kind), a.Symbol, a.Name, a.Decimals, a.AddressOrMint, a.PriceFeedID)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return apperrors.NewDatabaseError("upsert assets", err)
	}
	return nil
}

// GetByIDs returns the assets that exist among ids, keyed by id
func (r *AssetRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Asset, error) {
	out := make(map[string]*models.Asset, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, chain_key, kind, symbol, name, decimals, address_or_mint, price_feed_id
		FROM assets
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get assets", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a models.Asset
		var kind string
		if err := rows.Scan(&a.ID, &a.ChainKey, &kind, &a.Symbol, &a.Name, &a.Decimals, &a.AddressOrMint, &a.PriceFeedID); err != nil {
			return nil, apperrors.NewDatabaseError("scan asset", err)
		}
		a.Kind = types.AssetKind(kind)
		out[a.ID] = &a
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate assets", err)
	}
	return out, nil
}

// SetPriceFeedID fills in the price-feed id of an asset that has none
func (r *AssetRepository) SetPriceFeedID(ctx context.Context, assetID, priceFeedID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE assets
		SET price_feed_id = $2, updated_at = NOW()
		WHERE id = $1 AND (price_feed_id IS NULL OR price_feed_id = '')
	`, assetID, priceFeedID)
	if err != nil {
		return apperrors.NewDatabaseError("set price feed id", err)
	}
	return nil
}
