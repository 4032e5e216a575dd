package adapter

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/snapshot-refresher/internal/circuitbreaker"
	"github.com/snapshot-refresher/internal/config"
	"github.com/snapshot-refresher/internal/logging"
)

// SourceAaveOracle tags prices read from an Aave V3 market oracle
const SourceAaveOracle = "aave-oracle"

// defaultUSDDecimals applies when the market reports no base token price decimals
const defaultUSDDecimals = 8

const uiPoolDataProviderABI = `[{
	"name": "getReservesData",
	"type": "function",
	"stateMutability": "view",
	"inputs": [{"name": "provider", "type": "address"}],
	"outputs": [
		{"name": "reservesData", "type": "tuple[]", "components": [
			{"name": "underlyingAsset", "type": "address"},
			{"name": "name", "type": "string"},
			{"name": "symbol", "type": "string"},
			{"name": "decimals", "type": "uint256"},
			{"name": "priceInMarketReferenceCurrency", "type": "uint256"}
		]},
		{"name": "baseCurrencyInfo", "type": "tuple", "components": [
			{"name": "marketReferenceCurrencyUnit", "type": "uint256"},
			{"name": "marketReferenceCurrencyPriceInUsd", "type": "uint256"},
			{"name": "networkBaseTokenPriceInUsd", "type": "uint256"},
			{"name": "networkBaseTokenPriceDecimals", "type": "uint8"}
		]}
	]
}]`

type reserveData struct {
	UnderlyingAsset                common.Address
	Name                           string
	Symbol                         string
	Decimals                       *big.Int
	PriceInMarketReferenceCurrency *big.Int
}

type baseCurrencyInfo struct {
	MarketReferenceCurrencyUnit       *big.Int
	MarketReferenceCurrencyPriceInUsd *big.Int
	NetworkBaseTokenPriceInUsd        *big.Int
	NetworkBaseTokenPriceDecimals     uint8
}

// OracleAsset is an asset to price on its chain's oracle
type OracleAsset struct {
	AssetID  string
	ChainKey string
	Address  string
}

// OracleResult maps asset ids to USD prices; Errors holds one message per failed market
type OracleResult struct {
	Prices map[string]string
	Errors []string
}

// CallerFunc returns a contract caller for a chain
type CallerFunc func(ctx context.Context, chainKey string) (ethereum.ContractCaller, error)

// AaveMarket locates the UiPoolDataProvider of one Aave V3 deployment
type AaveMarket struct {
	ChainKey              string
	UIPoolDataProvider    common.Address
	PoolAddressesProvider common.Address
}

// AaveOracle reads USD prices from Aave V3 UiPoolDataProvider contracts
type AaveOracle struct {
	markets  map[string]AaveMarket
	caller   CallerFunc
	breakers *circuitbreaker.Manager
	abi      abi.ABI
}

// NewAaveOracle creates an oracle for every chain with an Aave market configured
func NewAaveOracle(chains config.ChainsConfig, caller CallerFunc, breakers *circuitbreaker.Manager) (*AaveOracle, error) {
	parsed, err := abi.JSON(strings.NewReader(uiPoolDataProviderABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse UiPoolDataProvider ABI: %w", err)
	}
	if breakers == nil {
		breakers = circuitbreaker.NewManager(nil)
	}

	markets := make(map[string]AaveMarket)
	for key, chain := range chains.Chains {
		if !chain.HasAaveMarket() {
			continue
		}
		if !common.IsHexAddress(chain.AaveUIPoolDataProvider) || !common.IsHexAddress(chain.AavePoolAddressesProvider) {
			return nil, fmt.Errorf("invalid Aave market address for %s", key)
		}
		markets[key] = AaveMarket{
			ChainKey:              key,
			UIPoolDataProvider:    common.HexToAddress(chain.AaveUIPoolDataProvider),
			PoolAddressesProvider: common.HexToAddress(chain.AavePoolAddressesProvider),
		}
	}

	return &AaveOracle{markets: markets, caller: caller, breakers: breakers, abi: parsed}, nil
}

// Source returns the price source tag
func (o *AaveOracle) Source() string { return SourceAaveOracle }

// MarketCount returns how many markets are configured
func (o *AaveOracle) MarketCount() int { return len(o.markets) }

// ReadUSDPrices reads all reserves once per market and matches assets by address.
// A market that fails is reported in Errors and does not affect the others.
func (o *AaveOracle) ReadUSDPrices(ctx context.Context, assets []OracleAsset) *OracleResult {
	result := &OracleResult{Prices: make(map[string]string)}

	byChain := make(map[string][]OracleAsset)
	for _, asset := range assets {
		if asset.Address == "" {
			continue
		}
		byChain[asset.ChainKey] = append(byChain[asset.ChainKey], asset)
	}

	chainKeys := make([]string, 0, len(byChain))
	for key := range byChain {
		chainKeys = append(chainKeys, key)
	}
	sort.Strings(chainKeys)

	for _, chainKey := range chainKeys {
		market, ok := o.markets[chainKey]
		if !ok {
			continue
		}

		var reservePrices map[string]string
		err := o.breakers.GetOrCreate("aave:"+chainKey).Execute(ctx, func() error {
			var readErr error
			reservePrices, readErr = o.readMarket(ctx, market)
			return readErr
		})
		if err != nil {
			logging.FromContext(ctx).WithField("chain", chainKey).WithError(err).Warn("Aave oracle read failed")
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", chainKey, err))
			continue
		}

		for _, asset := range byChain[chainKey] {
			if price, ok := reservePrices[strings.ToLower(asset.Address)]; ok {
				result.Prices[asset.AssetID] = price
			}
		}
	}

	return result
}

// readMarket returns USD prices keyed by lower-cased underlying asset address
func (o *AaveOracle) readMarket(ctx context.Context, market AaveMarket) (map[string]string, error) {
	caller, err := o.caller(ctx, market.ChainKey)
	if err != nil {
		return nil, err
	}

	input, err := o.abi.Pack("getReservesData", market.PoolAddressesProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to encode getReservesData: %w", err)
	}
	output, err := caller.CallContract(ctx, ethereum.CallMsg{To: &market.UIPoolDataProvider, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("getReservesData call failed: %w", err)
	}

	out, err := o.abi.Unpack("getReservesData", output)
	if err != nil {
		return nil, fmt.Errorf("failed to decode getReservesData: %w", err)
	}
	if len(out) != 2 {
		return nil, fmt.Errorf("unexpected getReservesData output length %d", len(out))
	}
	reserves := *abi.ConvertType(out[0], new([]reserveData)).(*[]reserveData)
	base := *abi.ConvertType(out[1], new(baseCurrencyInfo)).(*baseCurrencyInfo)

	usdDecimals := base.NetworkBaseTokenPriceDecimals
	if usdDecimals == 0 {
		usdDecimals = defaultUSDDecimals
	}

	prices := make(map[string]string, len(reserves))
	for _, reserve := range reserves {
		price, ok := ReservePriceUSD(reserve.PriceInMarketReferenceCurrency, base.MarketReferenceCurrencyPriceInUsd, base.MarketReferenceCurrencyUnit, usdDecimals)
		if !ok {
			continue
		}
		prices[strings.ToLower(reserve.UnderlyingAsset.Hex())] = price
	}
	return prices, nil
}

// ReservePriceUSD converts a reserve price in the market reference currency to a
// USD decimal string: priceInRef * refPriceInUSD / refUnit, scaled by usdDecimals.
// The integer division truncates like the on-chain math.
func ReservePriceUSD(priceInRef, refPriceInUSD, refUnit *big.Int, usdDecimals uint8) (string, bool) {
	if priceInRef == nil || refPriceInUSD == nil || refUnit == nil {
		return "", false
	}
	if priceInRef.Sign() <= 0 || refUnit.Sign() == 0 {
		return "", false
	}

	raw := new(big.Int).Mul(priceInRef, refPriceInUSD)
	raw.Quo(raw, refUnit)
	if raw.Sign() <= 0 {
		return "", false
	}
	return decimal.NewFromBigInt(raw, -int32(usdDecimals)).String(), true
}
