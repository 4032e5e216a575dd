// Package pricing resolves a price for every asset held in a snapshot by
// walking oracle, cache, external API, stablecoin and contract-address stages.
package pricing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/snapshot-refresher/internal/adapter"
	"github.com/snapshot-refresher/internal/logging"
	"github.com/snapshot-refresher/internal/metrics"
	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/retry"
	"github.com/snapshot-refresher/internal/types"
)

// SourceCache tags prices reused from an earlier snapshot
const SourceCache = "cache"

// PositionReader lists the positions of a snapshot
type PositionReader interface {
	ListAssets(ctx context.Context, snapshotID string) ([]*models.PositionAsset, error)
	ListLiabilities(ctx context.Context, snapshotID string) ([]*models.PositionLiability, error)
}

// AssetStore reads asset metadata and backfills price-feed ids
type AssetStore interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]*models.Asset, error)
	SetPriceFeedID(ctx context.Context, assetID, priceFeedID string) error
}

// PriceStore is the durable, append-only price cache
type PriceStore interface {
	ListFresh(ctx context.Context, assetIDs []string, quoteCurrency string, since time.Time) ([]*models.CachedPrice, error)
	ExistingAssetIDs(ctx context.Context, snapshotID, quoteCurrency string) (map[string]bool, error)
	InsertBatch(ctx context.Context, prices []*models.CachedPrice) error
}

// HotCache is an optional fast layer in front of PriceStore
type HotCache interface {
	GetMany(ctx context.Context, assetIDs []string, quoteCurrency string) (map[string]*models.CachedPrice, error)
	SetMany(ctx context.Context, prices []*models.CachedPrice) error
}

// OracleReader prices assets from an on-chain oracle in USD
type OracleReader interface {
	Source() string
	ReadUSDPrices(ctx context.Context, assets []adapter.OracleAsset) *adapter.OracleResult
}

// Quote is the resolved price of one asset
type Quote struct {
	Price     string
	Source    string
	FetchedAt time.Time
	// Cached is set for prices reused from the cache; they are not persisted again
	Cached bool
}

// Result is the outcome of one resolution
type Result struct {
	Prices      map[string]Quote
	AssetCount  int
	PricedCount int
	Warnings    []string
	Sources     map[string]int
}

// PriceMap returns asset id to price
func (r *Result) PriceMap() map[string]string {
	out := make(map[string]string, len(r.Prices))
	for id, q := range r.Prices {
		out[id] = q.Price
	}
	return out
}

// Meta renders the diagnostic payload stored on the prices source run
func (r *Result) Meta(mocked bool, quoteCurrency string) types.Meta {
	warnings := r.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return types.Meta{
		"mocked":        mocked,
		"assetCount":    r.AssetCount,
		"pricedCount":   r.PricedCount,
		"quoteCurrency": quoteCurrency,
		"warnings":      warnings,
		"sources":       r.Sources,
	}
}

// Options configures a Resolver
type Options struct {
	Positions PositionReader
	Assets    AssetStore
	Prices    PriceStore
	// HotCache may be nil
	HotCache HotCache
	Client   adapter.PriceClient
	// Oracles maps a lending protocol to the oracle that prices its reserves
	Oracles        map[types.Protocol]OracleReader
	Metrics        *metrics.Recorder
	CacheWindow    time.Duration
	PipelineBudget time.Duration
}

// Resolver runs the price stages for a snapshot
type Resolver struct {
	positions      PositionReader
	assets         AssetStore
	prices         PriceStore
	hot            HotCache
	client         adapter.PriceClient
	oracles        map[types.Protocol]OracleReader
	metrics        *metrics.Recorder
	cacheWindow    time.Duration
	pipelineBudget time.Duration
	now            func() time.Time
}

// NewResolver creates a resolver
func NewResolver(opts Options) *Resolver {
	window := opts.CacheWindow
	if window <= 0 {
		window = 30 * time.Minute
	}
	budget := opts.PipelineBudget
	if budget <= 0 {
		budget = 20 * time.Second
	}
	return &Resolver{
		positions:      opts.Positions,
		assets:         opts.Assets,
		prices:         opts.Prices,
		hot:            opts.HotCache,
		client:         opts.Client,
		oracles:        opts.Oracles,
		metrics:        opts.Metrics,
		cacheWindow:    window,
		pipelineBudget: budget,
		now:            time.Now,
	}
}

// resolution is the working state shared by the stages
type resolution struct {
	snapshotID    string
	quoteCurrency string
	assetIDs      []string
	assets        map[string]*models.Asset
	// protocols lists, per protocol, the asset ids held through it
	protocols map[types.Protocol]map[string]bool
	result    *Result
}

func (s *resolution) priced(assetID string) bool {
	_, ok := s.result.Prices[assetID]
	return ok
}

func (s *resolution) set(assetID string, q Quote) {
	if s.priced(assetID) {
		return
	}
	s.result.Prices[assetID] = q
}

func (s *resolution) warn(format string, args ...interface{}) {
	s.result.Warnings = append(s.result.Warnings, fmt.Sprintf(format, args...))
}

// unpriced returns the known assets without a price, in id order
func (s *resolution) unpriced() []*models.Asset {
	var out []*models.Asset
	for _, id := range s.assetIDs {
		if s.priced(id) {
			continue
		}
		if asset, ok := s.assets[id]; ok {
			out = append(out, asset)
		}
	}
	return out
}

// Resolve prices every asset referenced by the snapshot's positions and
// persists newly obtained prices. Stage failures become warnings; only
// repository errors are returned.
func (r *Resolver) Resolve(ctx context.Context, snapshotID, quoteCurrency string) (*Result, error) {
	logger := logging.FromContext(ctx).WithSnapshot(snapshotID).WithSource(string(types.SourcePrices))
	quoteCurrency = types.NormalizeQuoteCurrency(quoteCurrency)

	state, err := r.load(ctx, snapshotID, quoteCurrency)
	if err != nil {
		return nil, err
	}
	if state.result.AssetCount == 0 {
		return state.result, nil
	}

	r.oracleStage(ctx, state)
	if err := r.cacheStage(ctx, state); err != nil {
		return nil, err
	}

	budget := retry.NewBudgetWithClock(r.pipelineBudget, r.now)
	r.externalStage(ctx, state, budget)
	r.stablecoinStage(ctx, state)
	r.contractStage(ctx, state, budget)

	if err := r.persist(ctx, state); err != nil {
		return nil, err
	}

	result := state.result
	result.PricedCount = len(result.Prices)
	for _, q := range result.Prices {
		result.Sources[q.Source]++
	}
	for source, n := range result.Sources {
		r.metrics.RecordPricesResolved(source, n)
	}

	logger.WithFields(map[string]interface{}{
		"assetCount":  result.AssetCount,
		"pricedCount": result.PricedCount,
		"warnings":    len(result.Warnings),
	}).Info("Price resolution completed")
	return result, nil
}

func (r *Resolver) load(ctx context.Context, snapshotID, quoteCurrency string) (*resolution, error) {
	positionAssets, err := r.positions.ListAssets(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	liabilities, err := r.positions.ListLiabilities(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	state := &resolution{
		snapshotID:    snapshotID,
		quoteCurrency: quoteCurrency,
		protocols:     make(map[types.Protocol]map[string]bool),
		result: &Result{
			Prices:  make(map[string]Quote),
			Sources: make(map[string]int),
		},
	}

	ids := make(map[string]bool)
	track := func(protocol types.Protocol, assetID string) {
		ids[assetID] = true
		if state.protocols[protocol] == nil {
			state.protocols[protocol] = make(map[string]bool)
		}
		state.protocols[protocol][assetID] = true
	}
	for _, p := range positionAssets {
		track(p.Protocol, p.AssetID)
	}
	for _, p := range liabilities {
		track(p.Protocol, p.DebtAssetID)
	}

	for id := range ids {
		state.assetIDs = append(state.assetIDs, id)
	}
	sort.Strings(state.assetIDs)
	state.result.AssetCount = len(state.assetIDs)

	if len(state.assetIDs) == 0 {
		state.assets = map[string]*models.Asset{}
		return state, nil
	}
	state.assets, err = r.assets.GetByIDs(ctx, state.assetIDs)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// persist writes newly obtained prices once per (snapshot, asset, quote)
func (r *Resolver) persist(ctx context.Context, state *resolution) error {
	var fresh []*models.CachedPrice
	for _, id := range state.assetIDs {
		q, ok := state.result.Prices[id]
		if !ok || q.Cached {
			continue
		}
		fresh = append(fresh, &models.CachedPrice{
			SnapshotID:    state.snapshotID,
			AssetID:       id,
			QuoteCurrency: state.quoteCurrency,
			Price:         q.Price,
			Source:        q.Source,
			FetchedAt:     q.FetchedAt,
			Meta:          types.Meta{},
		})
	}
	if len(fresh) == 0 {
		return nil
	}

	existing, err := r.prices.ExistingAssetIDs(ctx, state.snapshotID, state.quoteCurrency)
	if err != nil {
		return err
	}
	inserts := fresh[:0]
	for _, p := range fresh {
		if !existing[p.AssetID] {
			inserts = append(inserts, p)
		}
	}
	if err := r.prices.InsertBatch(ctx, inserts); err != nil {
		return err
	}

	if r.hot != nil {
		if err := r.hot.SetMany(ctx, inserts); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Failed to write prices to hot cache")
		}
	}
	return nil
}
