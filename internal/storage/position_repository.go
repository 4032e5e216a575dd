package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/snapshot-refresher/internal/errors"
	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/types"
)

// PositionRepository stores asset and liability positions of a snapshot
type PositionRepository struct {
	pool *pgxpool.Pool
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(pool *pgxpool.Pool) *PositionRepository {
	return &PositionRepository{pool: pool}
}

var positionAssetCopyColumns = []string{
	"id", "snapshot_id", "wallet_id", "chain_key", "protocol", "source_key",
	"asset_id", "quantity_raw", "quantity_decimal", "is_collateral", "meta_json",
}

var positionLiabilityCopyColumns = []string{
	"id", "snapshot_id", "wallet_id", "chain_key", "protocol", "source_key",
	"debt_asset_id", "amount_raw", "amount_decimal", "meta_json",
}

// InsertAssets bulk-loads asset positions with COPY
func (r *PositionRepository) InsertAssets(ctx context.Context, positions []*models.PositionAsset) error {
	if len(positions) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(positions))
	for _, p := range positions {
		quantity, err := toNumeric(p.QuantityDecimal)
		if err != nil {
			return fmt.Errorf("position %s: %w", p.ID, err)
		}
		rows = append(rows, []interface{}{
			p.ID, p.SnapshotID, p.WalletID, p.ChainKey, string(p.Protocol), string(p.SourceKey),
			p.AssetID, p.QuantityRaw, quantity, p.IsCollateral, nonNilMeta(p.Meta),
		})
	}

	if _, err := r.pool.CopyFrom(ctx, pgx.Identifier{"position_assets"}, positionAssetCopyColumns, pgx.CopyFromRows(rows)); err != nil {
		return apperrors.NewDatabaseError("copy position assets", err)
	}
	return nil
}

// InsertLiabilities bulk-loads liability positions with COPY
func (r *PositionRepository) InsertLiabilities(ctx context.Context, positions []*models.PositionLiability) error {
	if len(positions) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(positions))
	for _, p := range positions {
		amount, err := toNumeric(p.AmountDecimal)
		if err != nil {
			return fmt.Errorf("liability %s: %w", p.ID, err)
		}
		rows = append(rows, []interface{}{
			p.ID, p.SnapshotID, p.WalletID, p.ChainKey, string(p.Protocol), string(p.SourceKey),
			p.DebtAssetID, p.AmountRaw, amount, nonNilMeta(p.Meta),
		})
	}

	if _, err := r.pool.CopyFrom(ctx, pgx.Identifier{"position_liabilities"}, positionLiabilityCopyColumns, pgx.CopyFromRows(rows)); err != nil {
		return apperrors.NewDatabaseError("copy position liabilities", err)
	}
	return nil
}

// ListAssets returns every asset position of a snapshot
func (r *PositionRepository) ListAssets(ctx context.Context, snapshotID string) ([]*models.PositionAsset, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, snapshot_id, wallet_id, chain_key, protocol, source_key, asset_id,
			quantity_raw, quantity_decimal::text, is_collateral,
			price_quote::text, value_quote::text, meta_json
		FROM position_assets
		WHERE snapshot_id = $1
		ORDER BY id
	`, snapshotID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list position assets", err)
	}
	defer rows.Close()

	var out []*models.PositionAsset
	for rows.Next() {
		var p models.PositionAsset
		var protocol, sourceKey string
		if err := rows.Scan(
			&p.ID, &p.SnapshotID, &p.WalletID, &p.ChainKey, &protocol, &sourceKey, &p.AssetID,
			&p.QuantityRaw, &p.QuantityDecimal, &p.IsCollateral,
			&p.PriceQuote, &p.ValueQuote, &p.Meta,
		); err != nil {
			return nil, apperrors.NewDatabaseError("scan position asset", err)
		}
		p.Protocol = types.Protocol(protocol)
		p.SourceKey = types.SourceKey(sourceKey)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate position assets", err)
	}
	return out, nil
}

// ListLiabilities returns every liability position of a snapshot
func (r *PositionRepository) ListLiabilities(ctx context.Context, snapshotID string) ([]*models.PositionLiability, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, snapshot_id, wallet_id, chain_key, protocol, source_key, debt_asset_id,
			amount_raw, amount_decimal::text, price_quote::text, value_quote::text, meta_json
		FROM position_liabilities
		WHERE snapshot_id = $1
		ORDER BY id
	`, snapshotID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list position liabilities", err)
	}
	defer rows.Close()

	var out []*models.PositionLiability
	for rows.Next() {
		var p models.PositionLiability
		var protocol, sourceKey string
		if err := rows.Scan(
			&p.ID, &p.SnapshotID, &p.WalletID, &p.ChainKey, &protocol, &sourceKey, &p.DebtAssetID,
			&p.AmountRaw, &p.AmountDecimal, &p.PriceQuote, &p.ValueQuote, &p.Meta,
		); err != nil {
			return nil, apperrors.NewDatabaseError("scan position liability", err)
		}
		p.Protocol = types.Protocol(protocol)
		p.SourceKey = types.SourceKey(sourceKey)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate position liabilities", err)
	}
	return out, nil
}

// ApplyAssetValuations writes price and value onto asset positions
func (r *PositionRepository) ApplyAssetValuations(ctx context.Context, snapshotID string, valuations []models.Valuation) error {
	return r.applyValuations(ctx, "position_assets", snapshotID, valuations)
}

// ApplyLiabilityValuations writes price and value onto liability positions
func (r *PositionRepository) ApplyLiabilityValuations(ctx context.Context, snapshotID string, valuations []models.Valuation) error {
	return r.applyValuations(ctx, "position_liabilities", snapshotID, valuations)
}

func (r *PositionRepository) applyValuations(ctx context.Context, table, snapshotID string, valuations []models.Valuation) error {
	if len(valuations) == 0 {
		return nil
	}

	query := fmt.Sprintf(`UPDATE %s SET price_quote = $3, value_quote = $4 WHERE snapshot_id = $1 AND id = $2`, table)
	batch := &pgx.Batch{}
	for _, v := range valuations {
		price, err := toNumeric(v.PriceQuote)
		if err != nil {
			return fmt.Errorf("valuation %s: %w", v.PositionID, err)
		}
		value, err := toNumeric(v.ValueQuote)
		if err != nil {
			return fmt.Errorf("valuation %s: %w", v.PositionID, err)
		}
		batch.Queue(query, snapshotID, v.PositionID, price, value)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return apperrors.NewDatabaseError("apply valuations to "+table, err)
	}
	return nil
}
