package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/snapshot-refresher/internal/errors"
	"github.com/snapshot-refresher/internal/models"
)

// PriceRepository stores the append-only price cache
type PriceRepository struct {
	pool *pgxpool.Pool
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(pool *pgxpool.Pool) *PriceRepository {
	return &PriceRepository{pool: pool}
}

// ListFresh returns cached prices for assetIDs fetched at or after since,
// newest first
func (r *PriceRepository) ListFresh(ctx context.Context, assetIDs []string, quoteCurrency string, since time.Time) ([]*models.CachedPrice, error) {
	if len(assetIDs) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT snapshot_id, asset_id, quote_currency, price::text, price_source, fetched_at, meta_json
		FROM price_cache
		WHERE asset_id = ANY($1) AND quote_currency = $2 AND fetched_at >= $3
		ORDER BY fetched_at DESC
	`, assetIDs, quoteCurrency, since)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list fresh prices", err)
	}
	defer rows.Close()

	var out []*models.CachedPrice
	for rows.Next() {
		var p models.CachedPrice
		if err := rows.Scan(&p.SnapshotID, &p.AssetID, &p.QuoteCurrency, &p.Price, &p.Source, &p.FetchedAt, &p.Meta); err != nil {
			return nil, apperrors.NewDatabaseError("scan cached price", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate cached prices", err)
	}
	return out, nil
}

// ExistingAssetIDs returns the assets already priced for a snapshot and quote
func (r *PriceRepository) ExistingAssetIDs(ctx context.Context, snapshotID, quoteCurrency string) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT asset_id FROM price_cache WHERE snapshot_id = $1 AND quote_currency = $2
	`, snapshotID, quoteCurrency)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list existing prices", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewDatabaseError("scan existing price", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate existing prices", err)
	}
	return out, nil
}

// InsertBatch appends prices; a row already present for the same
// (snapshot, asset, quote) is skipped
func (r *PriceRepository) InsertBatch(ctx context.Context, prices []*models.CachedPrice) error {
	if len(prices) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range prices {
		price, err := toNumeric(p.Price)
		if err != nil {
			return fmt.Errorf("price for %s: %w", p.AssetID, err)
		}
		batch.Queue(`
			INSERT INTO price_cache (snapshot_id, asset_id, quote_currency, price, price_source, fetched_at, meta_json)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (snapshot_id, asset_id, quote_currency) DO NOTHING
		`, p.SnapshotID, p.AssetID, p.QuoteCurrency, price, p.Source, p.FetchedAt, nonNilMeta(p.Meta))
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return apperrors.NewDatabaseError("insert prices", err)
	}
	return nil
}
