package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubPool(t *testing.T, urls string) (*RPCPool, *[]string, *time.Time) {
	t.Helper()
	pool, err := NewRPCPool("evm:1", urls, time.Minute)
	require.NoError(t, err)

	var dialed []string
	now := time.Unix(0, 0)
	pool.now = func() time.Time { return now }
	pool.dial = func(_ context.Context, url string) (*ethclient.Client, error) {
		dialed = append(dialed, url)
		return new(ethclient.Client), nil
	}
	return pool, &dialed, &now
}

func TestNewRPCPool_ParsesEndpoints(t *testing.T) {
	pool, err := NewRPCPool("evm:1", " http://a , ,http://b", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.EndpointCount())

	_, err = NewRPCPool("evm:1", " , ", 0)
	assert.Error(t, err)
}

func TestRPCPool_DialsLazilyAndFailsOver(t *testing.T) {
	pool, dialed, now := newStubPool(t, "http://a,http://b")
	ctx := context.Background()

	first, err := pool.Client(ctx)
	require.NoError(t, err)
	again, err := pool.Client(ctx)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, []string{"http://a"}, *dialed)

	require.NoError(t, pool.OnRateLimited(ctx))
	assert.Equal(t, 1, pool.CurrentIndex())

	// both endpoints cooling down
	assert.Error(t, pool.OnRateLimited(ctx))

	*now = now.Add(2 * time.Minute)
	require.NoError(t, pool.OnRateLimited(ctx))
	assert.Equal(t, 0, pool.CurrentIndex())
	assert.Equal(t, []string{"http://a", "http://b"}, *dialed)
}

func TestIsRateLimitError(t *testing.T) {
	assert.True(t, IsRateLimitError(errors.New("429 Too Many Requests")))
	assert.True(t, IsRateLimitError(errors.New("request throttled")))
	assert.False(t, IsRateLimitError(errors.New("execution reverted")))
	assert.False(t, IsRateLimitError(nil))
}

func TestChainClients_UnknownChain(t *testing.T) {
	cc := NewChainClients(testChains())
	assert.Equal(t, []string{"evm:1", "evm:8453"}, cc.Chains())

	_, err := cc.Client(context.Background(), "evm:10")
	assert.Error(t, err)
}
