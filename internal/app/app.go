// Package app wires configuration, storage, providers and services into the
// components the binaries run.
package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"

	"github.com/snapshot-refresher/internal/adapter"
	"github.com/snapshot-refresher/internal/circuitbreaker"
	"github.com/snapshot-refresher/internal/config"
	"github.com/snapshot-refresher/internal/logging"
	"github.com/snapshot-refresher/internal/metrics"
	"github.com/snapshot-refresher/internal/pricing"
	"github.com/snapshot-refresher/internal/service"
	"github.com/snapshot-refresher/internal/source"
	"github.com/snapshot-refresher/internal/storage"
	"github.com/snapshot-refresher/internal/types"
	"github.com/snapshot-refresher/internal/valuation"
)

// App holds the wired services
type App struct {
	Refresh   *service.RefreshService
	Positions *service.PositionQueryService
	FX        *service.FXService
	Metrics   *metrics.Recorder

	closers []func()
}

// Close waits for background snapshots and releases every connection in
// reverse order of creation
func (a *App) Close() {
	if a.Refresh != nil {
		a.Refresh.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// New connects to the configured stores and builds the services.
// Redis and ClickHouse are skipped when their host is empty.
func New(cfg *config.Config) (*App, error) {
	logger := logging.GetGlobalLogger()
	a := &App{Metrics: metrics.New()}

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	a.closers = append(a.closers, postgres.Close)

	var hotCache pricing.HotCache
	if cfg.Database.Redis.Host != "" {
		client, err := storage.NewRedisClient(&cfg.Database.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		hotCache = storage.NewPriceCache(client, cfg.Refresh.PriceCacheWindow)
	}

	var archive service.SummaryArchive
	if cfg.Database.ClickHouse.Host != "" {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		a.closers = append(a.closers, func() { _ = clickhouse.Close() })
		archive = storage.NewSummaryArchive(clickhouse)
	}

	logger.WithFields(map[string]interface{}{
		"hotCache": hotCache != nil,
		"archive":  archive != nil,
	}).Info("Database connections established")

	pool := postgres.Pool()
	snapshotRepo := storage.NewSnapshotRepository(pool)
	positionRepo := storage.NewPositionRepository(pool)
	assetRepo := storage.NewAssetRepository(pool)
	summaryRepo := storage.NewSummaryRepository(pool)

	clients := adapter.NewChainClients(cfg.Chains)
	a.closers = append(a.closers, clients.Close)
	logger.WithField("chains", clients.Chains()).Info("Chain clients initialized")

	var priceClient adapter.PriceClient
	oracles := map[types.Protocol]pricing.OracleReader{}
	if cfg.Refresh.UseMockSources {
		priceClient = adapter.NewMockPriceClient()
	} else {
		priceClient = adapter.NewCoinGeckoClient(cfg.PriceAPI, a.Metrics)

		caller := func(ctx context.Context, chainKey string) (ethereum.ContractCaller, error) {
			return clients.Client(ctx, chainKey)
		}
		oracle, err := adapter.NewAaveOracle(cfg.Chains, caller, circuitbreaker.NewManager(nil))
		if err != nil {
			a.Close()
			return nil, err
		}
		if oracle.MarketCount() > 0 {
			oracles[types.ProtocolAaveV3] = oracle
		}
	}

	runners, err := source.DefaultRunners(cfg, source.NewPositionWriter(assetRepo, positionRepo), clients)
	if err != nil {
		a.Close()
		return nil, err
	}
	if missing := runners.Unconfigured(); len(missing) > 0 {
		logger.WithField("sources", missing).Warn("Sources without a runner will fail when enabled")
	}

	resolver := pricing.NewResolver(pricing.Options{
		Positions:      positionRepo,
		Assets:         assetRepo,
		Prices:         storage.NewPriceRepository(pool),
		HotCache:       hotCache,
		Client:         priceClient,
		Oracles:        oracles,
		Metrics:        a.Metrics,
		CacheWindow:    cfg.Refresh.PriceCacheWindow,
		PipelineBudget: cfg.PriceAPI.PipelineBudget,
	})

	a.Refresh = service.NewRefreshService(service.RefreshDeps{
		Snapshots:            snapshotRepo,
		SourceRuns:           storage.NewSourceRunRepository(pool),
		Wallets:              storage.NewWalletRepository(pool),
		Summaries:            summaryRepo,
		Runners:              runners,
		Prices:               resolver,
		Valuator:             valuation.NewValuator(positionRepo, summaryRepo),
		Archive:              archive,
		Metrics:              a.Metrics,
		Concurrency:          cfg.Refresh.Concurrency,
		DefaultQuoteCurrency: cfg.Refresh.QuoteCurrency,
		Mocked:               cfg.Refresh.UseMockSources,
	})
	a.Positions = service.NewPositionQueryService(snapshotRepo, positionRepo)
	a.FX = service.NewFXService(priceClient)

	logger.WithFields(map[string]interface{}{
		"runners": len(runners),
		"oracles": len(oracles),
	}).Info("Services initialized")

	return a, nil
}
