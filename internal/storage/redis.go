package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snapshot-refresher/internal/config"
	apperrors "github.com/snapshot-refresher/internal/errors"
	"github.com/snapshot-refresher/internal/models"
)

// NewRedisClient creates a Redis client and checks the connection
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// PriceCache is the Redis hot layer in front of the price_cache table
type PriceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPriceCache creates a price cache whose entries live for ttl
func NewPriceCache(client *redis.Client, ttl time.Duration) *PriceCache {
	return &PriceCache{client: client, ttl: ttl}
}

func priceKey(quoteCurrency, assetID string) string {
	return fmt.Sprintf("price:%s:%s", quoteCurrency, assetID)
}

// GetMany returns cached prices for the given assets, keyed by asset id.
// Missing or undecodable entries are omitted.
func (c *PriceCache) GetMany(ctx context.Context, assetIDs []string, quoteCurrency string) (map[string]*models.CachedPrice, error) {
	out := make(map[string]*models.CachedPrice)
	if len(assetIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(assetIDs))
	for i, id := range assetIDs {
		keys[i] = priceKey(quoteCurrency, id)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperrors.NewCacheError("read prices", err)
	}

	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var price models.CachedPrice
		if err := json.Unmarshal([]byte(s), &price); err != nil {
			continue
		}
		out[assetIDs[i]] = &price
	}
	return out, nil
}

// SetMany stores prices with the cache TTL
func (c *PriceCache) SetMany(ctx context.Context, prices []*models.CachedPrice) error {
	if len(prices) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for _, p := range prices {
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to encode price for %s: %w", p.AssetID, err)
		}
		pipe.Set(ctx, priceKey(p.QuoteCurrency, p.AssetID), payload, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.NewCacheError("write prices", err)
	}
	return nil
}
