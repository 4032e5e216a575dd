package storage

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/snapshot-refresher/internal/errors"
	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/types"
)

// WalletRepository reads tracked wallets
type WalletRepository struct {
	pool *pgxpool.Pool
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

// ListActive returns wallets that are not archived
func (r *WalletRepository) ListActive(ctx context.Context) ([]*models.Wallet, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, address, type, label, is_archived
		FROM wallets
		WHERE is_archived = FALSE
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list wallets", err)
	}
	defer rows.Close()

	var wallets []*models.Wallet
	for rows.Next() {
		var w models.Wallet
		var walletType string
		if err := rows.Scan(&w.ID, &w.Address, &walletType, &w.Label, &w.IsArchived); err != nil {
			return nil, apperrors.NewDatabaseError("scan wallet", err)
		}
		w.Type = types.WalletType(walletType)
		wallets = append(wallets, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate wallets", err)
	}
	return wallets, nil
}
