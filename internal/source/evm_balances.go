package source

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/snapshot-refresher/internal/adapter"
	"github.com/snapshot-refresher/internal/config"
	"github.com/snapshot-refresher/internal/logging"
	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/types"
)

// BalanceClient reads native balances at a block
type BalanceClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// BalanceDialer returns the client of a chain
type BalanceDialer func(ctx context.Context, chainKey string) (BalanceClient, error)

// EVMNativeBalanceRunner records the native coin balance of every EVM wallet on
// every configured chain, all read at the same block per chain
type EVMNativeBalanceRunner struct {
	chains []config.ChainConfig
	dial   BalanceDialer
	writer PositionWriter
	// OnRPCError is told about every failed RPC call, e.g. to rotate endpoints
	OnRPCError func(ctx context.Context, chainKey string, err error)
}

// NewEVMNativeBalanceRunner creates a runner over the chains that have an RPC URL
func NewEVMNativeBalanceRunner(chains config.ChainsConfig, dial BalanceDialer, writer PositionWriter) *EVMNativeBalanceRunner {
	var selected []config.ChainConfig
	for _, chain := range chains.Chains {
		if chain.RPCURL != "" {
			selected = append(selected, chain)
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Key < selected[j].Key })
	return &EVMNativeBalanceRunner{chains: selected, dial: dial, writer: writer}
}

// Run implements SourceRunner
func (r *EVMNativeBalanceRunner) Run(ctx context.Context, input SourceInput) (*SourceResult, error) {
	logger := logging.FromContext(ctx).WithSnapshot(input.SnapshotID).WithSource(string(types.SourceWalletEVMBalances))
	wallets := walletsOfType(input.Wallets, types.WalletEVM)
	meta := types.Meta{"mocked": false, "walletCount": len(wallets)}
	if len(wallets) == 0 || len(r.chains) == 0 {
		return &SourceResult{Meta: meta}, nil
	}

	var chainsMeta []map[string]interface{}
	total := 0
	for _, chain := range r.chains {
		count, block, err := r.readChain(ctx, input.SnapshotID, chain, wallets, logger)
		if err != nil {
			if r.OnRPCError != nil {
				r.OnRPCError(ctx, chain.Key, err)
			}
			return nil, fmt.Errorf("%s: %w", chain.Key, err)
		}
		total += count
		chainsMeta = append(chainsMeta, map[string]interface{}{
			"chainKey":    chain.Key,
			"blockNumber": block,
			"positions":   count,
		})
	}
	meta["chains"] = chainsMeta

	return &SourceResult{PositionsAssetCount: total, Meta: meta}, nil
}

func (r *EVMNativeBalanceRunner) readChain(ctx context.Context, snapshotID string, chain config.ChainConfig, wallets []*models.Wallet, logger *logging.Logger) (int, uint64, error) {
	client, err := r.dial(ctx, chain.Key)
	if err != nil {
		return 0, 0, err
	}
	block, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("block number: %w", err)
	}
	at := new(big.Int).SetUint64(block)

	asset := NativeAsset(chain)
	var positions []*models.PositionAsset
	for _, w := range wallets {
		if !common.IsHexAddress(w.Address) {
			logger.WithField("walletId", w.ID).Warn("Skipping wallet with invalid EVM address")
			continue
		}
		balance, err := client.BalanceAt(ctx, common.HexToAddress(w.Address), at)
		if err != nil {
			return 0, 0, fmt.Errorf("balance of %s: %w", w.Address, err)
		}
		if balance.Sign() <= 0 {
			continue
		}
		positions = append(positions, &models.PositionAsset{
			ID:              uuid.NewString(),
			SnapshotID:      snapshotID,
			WalletID:        w.ID,
			ChainKey:        chain.Key,
			Protocol:        types.ProtocolWallet,
			SourceKey:       types.SourceWalletEVMBalances,
			AssetID:         asset.ID,
			QuantityRaw:     balance.String(),
			QuantityDecimal: decimal.NewFromBigInt(balance, -int32(asset.Decimals)).String(),
			Meta:            types.Meta{"blockNumber": block},
		})
	}

	if len(positions) == 0 {
		return 0, block, nil
	}
	if err := r.writer.UpsertAssets(ctx, []*models.Asset{asset}); err != nil {
		return 0, 0, err
	}
	if err := r.writer.InsertAssets(ctx, positions); err != nil {
		return 0, 0, err
	}
	return len(positions), block, nil
}

// NativeAsset describes the native coin of an EVM chain
func NativeAsset(chain config.ChainConfig) *models.Asset {
	decimals := chain.Decimals
	if decimals <= 0 {
		decimals = 18
	}
	asset := &models.Asset{
		ID:       EVMNativeAssetID(chain.ChainID),
		ChainKey: chain.Key,
		Kind:     types.AssetNative,
		Symbol:   chain.Symbol,
		Name:     chain.Name,
		Decimals: decimals,
	}
	if chain.NativePriceFeedID != "" {
		asset.PriceFeedID = strPtr(chain.NativePriceFeedID)
	}
	return asset
}

// DefaultRunners builds the runner for every source this deployment can execute.
// In mock mode every position source is mocked; otherwise only the EVM native
// balance reader is available and the remaining sources stay unconfigured.
func DefaultRunners(cfg *config.Config, writer PositionWriter, clients *adapter.ChainClients) (Runners, error) {
	if cfg.Refresh.UseMockSources {
		evm, err := NewMockWalletRunner(types.WalletEVM, writer)
		if err != nil {
			return nil, err
		}
		sol, err := NewMockWalletRunner(types.WalletSolana, writer)
		if err != nil {
			return nil, err
		}
		return Runners{
			types.SourceWalletEVMBalances:    evm,
			types.SourceWalletSolanaBalances: sol,
			types.SourceAaveV3:               NewMockProtocolRunner(types.SourceAaveV3),
			types.SourceKamino:               NewMockProtocolRunner(types.SourceKamino),
			types.SourceHyperlend:            NewMockProtocolRunner(types.SourceHyperlend),
		}, nil
	}

	runners := Runners{}
	if clients != nil && len(clients.Chains()) > 0 {
		dial := func(ctx context.Context, chainKey string) (BalanceClient, error) {
			client, err := clients.Client(ctx, chainKey)
			if err != nil {
				return nil, err
			}
			return client, nil
		}
		evm := NewEVMNativeBalanceRunner(cfg.Chains, dial, writer)
		evm.OnRPCError = clients.ReportError
		runners[types.SourceWalletEVMBalances] = evm
	}
	return runners, nil
}
