package adapter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/snapshot-refresher/internal/config"
	"github.com/snapshot-refresher/internal/logging"
)

// RPCPool manages the RPC endpoints of one chain with failover on rate limiting.
// Strategy: stick to the current endpoint until it is rate limited, then switch to the next.
type RPCPool struct {
	chainKey     string
	endpoints    []string
	clients      []*ethclient.Client
	currentIndex int
	mu           sync.Mutex
	cooldowns    map[int]time.Time // when each endpoint was rate limited
	cooldownTime time.Duration
	now          func() time.Time
	dial         func(ctx context.Context, url string) (*ethclient.Client, error)
}

// NewRPCPool creates a pool from a comma-separated endpoint list. Clients are dialed lazily.
func NewRPCPool(chainKey, urls string, cooldown time.Duration) (*RPCPool, error) {
	var endpoints []string
	for _, ep := range strings.Split(urls, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			endpoints = append(endpoints, ep)
		}
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no RPC endpoint configured for %s", chainKey)
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}

	return &RPCPool{
		chainKey:     chainKey,
		endpoints:    endpoints,
		clients:      make([]*ethclient.Client, len(endpoints)),
		cooldowns:    make(map[int]time.Time),
		cooldownTime: cooldown,
		now:          time.Now,
		dial:         ethclient.DialContext,
	}, nil
}

// Client returns the active client, dialing it on first use
func (p *RPCPool) Client(ctx context.Context) (*ethclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(ctx, p.currentIndex); err != nil {
		return nil, err
	}
	return p.clients[p.currentIndex], nil
}

// EndpointCount returns the number of endpoints in the pool
func (p *RPCPool) EndpointCount() int {
	return len(p.endpoints)
}

// CurrentIndex returns the index of the active endpoint
func (p *RPCPool) CurrentIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentIndex
}

// OnRateLimited marks the active endpoint as cooling down and switches to the
// next available one. It fails when every endpoint is cooling down.
func (p *RPCPool) OnRateLimited(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	logger := logging.WithFields(map[string]interface{}{"chain": p.chainKey, "endpoint": p.currentIndex})
	p.cooldowns[p.currentIndex] = p.now()
	logger.Warn("RPC endpoint rate limited, marking cooldown")

	for i := 1; i <= len(p.endpoints); i++ {
		next := (p.currentIndex + i) % len(p.endpoints)
		if since, ok := p.cooldowns[next]; ok {
			if p.now().Sub(since) < p.cooldownTime {
				continue
			}
			delete(p.cooldowns, next)
		}
		if err := p.connect(ctx, next); err != nil {
			logger.WithError(err).Warn("Failed to switch RPC endpoint")
			continue
		}
		p.currentIndex = next
		logger.WithField("next", next).Info("Switched RPC endpoint")
		return nil
	}

	return fmt.Errorf("all %d RPC endpoints for %s are rate limited", len(p.endpoints), p.chainKey)
}

// connect dials endpoint index if needed (must hold lock)
func (p *RPCPool) connect(ctx context.Context, index int) error {
	if p.clients[index] != nil {
		return nil
	}
	client, err := p.dial(ctx, p.endpoints[index])
	if err != nil {
		return fmt.Errorf("failed to connect to %s RPC endpoint %d: %w", p.chainKey, index, err)
	}
	p.clients[index] = client
	return nil
}

// Close closes all client connections
func (p *RPCPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, client := range p.clients {
		if client != nil {
			client.Close()
			p.clients[i] = nil
		}
	}
}

// IsRateLimitError checks if an RPC error indicates rate limiting
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "throttl")
}

// ChainClients holds one RPCPool per configured chain
type ChainClients struct {
	pools map[string]*RPCPool
}

// NewChainClients builds pools for every enabled chain with an RPC URL
func NewChainClients(chains config.ChainsConfig) *ChainClients {
	cc := &ChainClients{pools: make(map[string]*RPCPool)}
	for key, chain := range chains.Chains {
		if chain.RPCURL == "" {
			continue
		}
		pool, err := NewRPCPool(key, chain.RPCURL, 0)
		if err != nil {
			logging.WithField("chain", key).WithError(err).Warn("Skipping chain without usable RPC endpoints")
			continue
		}
		cc.pools[key] = pool
	}
	return cc
}

// Client returns the active client for chainKey
func (c *ChainClients) Client(ctx context.Context, chainKey string) (*ethclient.Client, error) {
	pool, ok := c.pools[chainKey]
	if !ok {
		return nil, fmt.Errorf("no RPC endpoint configured for %s", chainKey)
	}
	return pool.Client(ctx)
}

// ReportError fails over to the next endpoint when err is a rate limit
func (c *ChainClients) ReportError(ctx context.Context, chainKey string, err error) {
	pool, ok := c.pools[chainKey]
	if !ok || !IsRateLimitError(err) || pool.EndpointCount() < 2 {
		return
	}
	if failErr := pool.OnRateLimited(ctx); failErr != nil {
		logging.WithField("chain", chainKey).WithError(failErr).Warn("RPC failover failed")
	}
}

// Chains lists the chains that have a pool, sorted
func (c *ChainClients) Chains() []string {
	keys := make([]string, 0, len(c.pools))
	for key := range c.pools {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Close closes every pool
func (c *ChainClients) Close() {
	for _, pool := range c.pools {
		pool.Close()
	}
}
