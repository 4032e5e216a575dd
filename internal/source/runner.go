// Package source defines the position readers a snapshot runs, one per source key.
package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/types"
)

// SourceInput is what a runner receives for one snapshot
type SourceInput struct {
	SnapshotID string
	Wallets    []*models.Wallet
}

// SourceResult reports what a runner persisted
type SourceResult struct {
	PositionsAssetCount     int
	PositionsLiabilityCount int
	Meta                    types.Meta
}

// SourceRunner reads positions for one source and persists them.
// A returned error fails only that source.
type SourceRunner interface {
	Run(ctx context.Context, input SourceInput) (*SourceResult, error)
}

// RunnerFunc adapts a function to SourceRunner
type RunnerFunc func(ctx context.Context, input SourceInput) (*SourceResult, error)

// Run calls f
func (f RunnerFunc) Run(ctx context.Context, input SourceInput) (*SourceResult, error) {
	return f(ctx, input)
}

// Runners maps each source key to the strategy that executes it
type Runners map[types.SourceKey]SourceRunner

// Unconfigured lists the position sources without a runner. Enabling one
// fails its run with ERR_SOURCE_NOT_CONFIGURED.
func (r Runners) Unconfigured() []types.SourceKey {
	var missing []types.SourceKey
	for _, key := range types.AllSourceKeys() {
		if key == types.SourcePrices {
			continue
		}
		if runner, ok := r[key]; !ok || runner == nil {
			missing = append(missing, key)
		}
	}
	return missing
}

// PositionWriter persists assets and positions produced by a runner
type PositionWriter interface {
	UpsertAssets(ctx context.Context, assets []*models.Asset) error
	InsertAssets(ctx context.Context, positions []*models.PositionAsset) error
	InsertLiabilities(ctx context.Context, positions []*models.PositionLiability) error
}

type assetUpserter interface {
	Upsert(ctx context.Context, assets []*models.Asset) error
}

type positionInserter interface {
	InsertAssets(ctx context.Context, positions []*models.PositionAsset) error
	InsertLiabilities(ctx context.Context, positions []*models.PositionLiability) error
}

type repositoryWriter struct {
	assets    assetUpserter
	positions positionInserter
}

// NewPositionWriter composes the asset and position repositories
func NewPositionWriter(assets assetUpserter, positions positionInserter) PositionWriter {
	return &repositoryWriter{assets: assets, positions: positions}
}

func (w *repositoryWriter) UpsertAssets(ctx context.Context, assets []*models.Asset) error {
	return w.assets.Upsert(ctx, assets)
}

func (w *repositoryWriter) InsertAssets(ctx context.Context, positions []*models.PositionAsset) error {
	return w.positions.InsertAssets(ctx, positions)
}

func (w *repositoryWriter) InsertLiabilities(ctx context.Context, positions []*models.PositionLiability) error {
	return w.positions.InsertLiabilities(ctx, positions)
}

// EVMNativeAssetID returns the canonical id of an EVM chain's native coin
func EVMNativeAssetID(chainID int64) string {
	return fmt.Sprintf("evm:%d:native", chainID)
}

// ERC20AssetID returns the canonical id of a token, using the checksummed address
func ERC20AssetID(chainID int64, address string) string {
	return fmt.Sprintf("evm:%d:erc20:%s", chainID, common.HexToAddress(address).Hex())
}

// SolanaNativeAssetID returns the canonical id of SOL
func SolanaNativeAssetID() string {
	return types.ChainSolana + ":native"
}

// SPLAssetID returns the canonical id of an SPL token mint
func SPLAssetID(mint string) string {
	return types.ChainSolana + ":spl:" + strings.TrimSpace(mint)
}

func walletsOfType(wallets []*models.Wallet, walletType types.WalletType) []*models.Wallet {
	var out []*models.Wallet
	for _, w := range wallets {
		if w.Type == walletType && !w.IsArchived {
			out = append(out, w)
		}
	}
	return out
}

func strPtr(s string) *string { return &s }
