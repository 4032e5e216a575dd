package pricing

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/snapshot-refresher/internal/adapter"
	"github.com/snapshot-refresher/internal/logging"
	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/retry"
	"github.com/snapshot-refresher/internal/types"
)

// SourceStablecoin tags prices assumed from a stablecoin symbol
const SourceStablecoin = "stablecoin-fallback"

// canonicalFeedIDs are majors the external API prices better than lending oracles
var canonicalFeedIDs = map[string]bool{
	"usd-coin":             true,
	"coinbase-wrapped-btc": true,
	"ethereum":             true,
	"solana":               true,
	"hyperliquid":          true,
}

// stablecoinFeedIDs maps stablecoin symbols to the price-feed id backfilled on the asset
var stablecoinFeedIDs = map[string]string{
	"USDC":   "usd-coin",
	"USDT":   "tether",
	"USDHL":  "usd-coin",
	"USD0":   "usd-coin",
	"USDBC":  "usd-coin",
	"USDC.E": "usd-coin",
	"USDT.E": "tether",
	"DAI":    "dai",
}

var symbolNoise = regexp.MustCompile(`[^A-Z0-9.]`)

// contractPlatforms maps chain keys to the price API's platform ids
var contractPlatforms = map[string]string{
	types.ChainSolana:   "solana",
	types.ChainEthereum: "ethereum",
	types.ChainBase:     "base",
}

// oracleStage prices lending positions from protocol oracles (USD only)
func (r *Resolver) oracleStage(ctx context.Context, state *resolution) {
	if len(r.oracles) == 0 {
		return
	}
	if state.quoteCurrency != types.QuoteUSD {
		state.warn("oracle pricing only supports USD")
		return
	}

	protocols := make([]string, 0, len(r.oracles))
	for p := range r.oracles {
		protocols = append(protocols, string(p))
	}
	sort.Strings(protocols)

	for _, name := range protocols {
		protocol := types.Protocol(name)
		reader := r.oracles[protocol]
		held := state.protocols[protocol]
		if len(held) == 0 {
			continue
		}

		var inputs []adapter.OracleAsset
		for _, id := range state.assetIDs {
			asset, ok := state.assets[id]
			if !ok || !held[id] || asset.Kind != types.AssetERC20 || asset.AddressOrMint == nil || *asset.AddressOrMint == "" {
				continue
			}
			inputs = append(inputs, adapter.OracleAsset{AssetID: id, ChainKey: asset.ChainKey, Address: *asset.AddressOrMint})
		}
		if len(inputs) == 0 {
			continue
		}

		out := reader.ReadUSDPrices(ctx, inputs)
		now := r.now()
		for _, id := range sortedKeys(out.Prices) {
			asset := state.assets[id]
			if asset != nil && asset.HasPriceFeedID() && canonicalFeedIDs[*asset.PriceFeedID] {
				continue
			}
			state.set(id, Quote{Price: out.Prices[id], Source: reader.Source(), FetchedAt: now})
		}
		state.result.Warnings = append(state.result.Warnings, out.Errors...)
	}
}

// cacheStage reuses prices fetched within the freshness window, newest first,
// consulting the hot cache before the repository
func (r *Resolver) cacheStage(ctx context.Context, state *resolution) error {
	pending := r.pendingIDs(state)
	if len(pending) == 0 {
		return nil
	}
	cutoff := r.now().Add(-r.cacheWindow)

	if r.hot != nil {
		hits, err := r.hot.GetMany(ctx, pending, state.quoteCurrency)
		if err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Hot price cache unavailable, falling back to repository")
		}
		for _, id := range pending {
			if hit, ok := hits[id]; ok && !hit.FetchedAt.Before(cutoff) {
				state.set(id, cachedQuote(hit))
			}
		}
		pending = r.pendingIDs(state)
		if len(pending) == 0 {
			return nil
		}
	}

	rows, err := r.prices.ListFresh(ctx, pending, state.quoteCurrency, cutoff)
	if err != nil {
		return err
	}
	for _, row := range rows {
		state.set(row.AssetID, cachedQuote(row))
	}
	return nil
}

func cachedQuote(p *models.CachedPrice) Quote {
	return Quote{Price: p.Price, Source: SourceCache, FetchedAt: p.FetchedAt, Cached: true}
}

// externalStage prices assets that carry a price-feed id through the price API
func (r *Resolver) externalStage(ctx context.Context, state *resolution, budget *retry.Budget) {
	byFeed := make(map[string][]string)
	var feedIDs []string
	for _, asset := range state.unpriced() {
		if !asset.HasPriceFeedID() {
			continue
		}
		feed, ok := adapter.NormalizePriceFeedID(*asset.PriceFeedID)
		if !ok {
			continue
		}
		if _, seen := byFeed[feed]; !seen {
			feedIDs = append(feedIDs, feed)
		}
		byFeed[feed] = append(byFeed[feed], asset.ID)
	}
	if len(feedIDs) == 0 {
		return
	}

	out, err := r.client.FetchByIDs(ctx, feedIDs, state.quoteCurrency, budget)
	if err != nil {
		state.warn("%v", err)
	}
	if out == nil {
		return
	}
	if len(out.FailedIDs) > 0 {
		state.warn("price request failed for %s", strings.Join(out.FailedIDs, ", "))
	}

	now := r.now()
	for _, feed := range feedIDs {
		price, ok := out.Prices[feed]
		if !ok {
			continue
		}
		for _, assetID := range byFeed[feed] {
			state.set(assetID, Quote{Price: price, Source: r.client.Source(), FetchedAt: now})
		}
	}
}

// stablecoinStage assumes a price of 1 for known USD stablecoins
func (r *Resolver) stablecoinStage(ctx context.Context, state *resolution) {
	if state.quoteCurrency != types.QuoteUSD {
		return
	}

	now := r.now()
	for _, asset := range state.unpriced() {
		feed, ok := StablecoinFeedID(asset.Symbol)
		if !ok {
			continue
		}
		state.set(asset.ID, Quote{Price: "1", Source: SourceStablecoin, FetchedAt: now})

		if asset.HasPriceFeedID() {
			continue
		}
		if err := r.assets.SetPriceFeedID(ctx, asset.ID, feed); err != nil {
			state.warn("failed to backfill price feed id for %s: %v", asset.ID, err)
			continue
		}
		asset.PriceFeedID = &feed
	}
}

// StablecoinFeedID returns the price-feed id for a stablecoin symbol
func StablecoinFeedID(symbol string) (string, bool) {
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	if upper == "" {
		return "", false
	}
	if feed, ok := stablecoinFeedIDs[upper]; ok {
		return feed, true
	}
	feed, ok := stablecoinFeedIDs[symbolNoise.ReplaceAllString(upper, "")]
	return feed, ok
}

// contractStage prices tokens without a price-feed id by contract address
func (r *Resolver) contractStage(ctx context.Context, state *resolution, budget *retry.Budget) {
	byPlatform := make(map[string][]*models.Asset)
	for _, asset := range state.unpriced() {
		if asset.HasPriceFeedID() || asset.AddressOrMint == nil || *asset.AddressOrMint == "" {
			continue
		}
		platform, ok := contractPlatforms[asset.ChainKey]
		if !ok {
			continue
		}
		byPlatform[platform] = append(byPlatform[platform], asset)
	}

	platforms := make([]string, 0, len(byPlatform))
	for p := range byPlatform {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)

	for _, platform := range platforms {
		assets := byPlatform[platform]
		addresses := make([]string, len(assets))
		for i, a := range assets {
			addresses[i] = *a.AddressOrMint
		}

		prices, err := r.client.FetchByContracts(ctx, platform, addresses, state.quoteCurrency, budget)
		if err != nil {
			state.warn("%v", err)
		}

		now := r.now()
		for _, asset := range assets {
			if price, ok := prices[strings.ToLower(*asset.AddressOrMint)]; ok {
				state.set(asset.ID, Quote{Price: price, Source: r.client.ContractSource(), FetchedAt: now})
			}
		}
	}
}

func (r *Resolver) pendingIDs(state *resolution) []string {
	var out []string
	for _, id := range state.assetIDs {
		if !state.priced(id) {
			out = append(out, id)
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
