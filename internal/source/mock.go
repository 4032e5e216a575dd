package source

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/types"
)

type mockNative struct {
	sourceKey   types.SourceKey
	chainKey    string
	asset       models.Asset
	quantityRaw string
	heightKey   string
}

var mockNatives = map[types.WalletType]mockNative{
	types.WalletEVM: {
		sourceKey: types.SourceWalletEVMBalances,
		chainKey:  types.ChainEthereum,
		asset: models.Asset{
			ID:          EVMNativeAssetID(1),
			ChainKey:    types.ChainEthereum,
			Kind:        types.AssetNative,
			Symbol:      "ETH",
			Name:        "Ether",
			Decimals:    18,
			PriceFeedID: strPtr("ethereum"),
		},
		quantityRaw: "1000000000000000000",
		heightKey:   "blockNumber",
	},
	types.WalletSolana: {
		sourceKey: types.SourceWalletSolanaBalances,
		chainKey:  types.ChainSolana,
		asset: models.Asset{
			ID:          SolanaNativeAssetID(),
			ChainKey:    types.ChainSolana,
			Kind:        types.AssetNative,
			Symbol:      "SOL",
			Name:        "Solana",
			Decimals:    9,
			PriceFeedID: strPtr("solana"),
		},
		quantityRaw: "1000000000",
		heightKey:   "slot",
	},
}

// MockWalletRunner writes one native position of quantity 1 per wallet of its type
type MockWalletRunner struct {
	native mockNative
	writer PositionWriter
}

// NewMockWalletRunner creates a deterministic native balance runner for walletType
func NewMockWalletRunner(walletType types.WalletType, writer PositionWriter) (*MockWalletRunner, error) {
	native, ok := mockNatives[walletType]
	if !ok {
		return nil, fmt.Errorf("no mock native asset for wallet type %s", walletType)
	}
	return &MockWalletRunner{native: native, writer: writer}, nil
}

// Run implements SourceRunner
func (r *MockWalletRunner) Run(ctx context.Context, input SourceInput) (*SourceResult, error) {
	wallets := walletsOfType(input.Wallets, walletTypeOf(r.native.sourceKey))
	meta := types.Meta{"mocked": true, "walletCount": len(wallets), r.native.heightKey: 0}
	if len(wallets) == 0 {
		return &SourceResult{Meta: meta}, nil
	}

	asset := r.native.asset
	if err := r.writer.UpsertAssets(ctx, []*models.Asset{&asset}); err != nil {
		return nil, err
	}

	positions := make([]*models.PositionAsset, 0, len(wallets))
	for _, w := range wallets {
		positions = append(positions, &models.PositionAsset{
			ID:              uuid.NewString(),
			SnapshotID:      input.SnapshotID,
			WalletID:        w.ID,
			ChainKey:        r.native.chainKey,
			Protocol:        types.ProtocolWallet,
			SourceKey:       r.native.sourceKey,
			AssetID:         asset.ID,
			QuantityRaw:     r.native.quantityRaw,
			QuantityDecimal: "1",
			Meta:            types.Meta{"mocked": true},
		})
	}
	if err := r.writer.InsertAssets(ctx, positions); err != nil {
		return nil, err
	}

	return &SourceResult{PositionsAssetCount: len(positions), Meta: meta}, nil
}

func walletTypeOf(key types.SourceKey) types.WalletType {
	if key == types.SourceWalletSolanaBalances {
		return types.WalletSolana
	}
	return types.WalletEVM
}

// NewMockProtocolRunner returns a runner for a lending protocol that finds no positions
func NewMockProtocolRunner(key types.SourceKey) SourceRunner {
	return RunnerFunc(func(ctx context.Context, input SourceInput) (*SourceResult, error) {
		return &SourceResult{Meta: types.Meta{
			"mocked":      true,
			"walletCount": len(input.Wallets),
			"protocol":    string(key),
		}}, nil
	})
}
