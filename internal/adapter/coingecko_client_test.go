package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapshot-refresher/internal/config"
	"github.com/snapshot-refresher/internal/retry"
)

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepLog) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

// newTestClient points a client at server and records backoff instead of sleeping
func newTestClient(t *testing.T, server *httptest.Server) (*CoinGeckoClient, *sleepLog) {
	t.Helper()
	client := NewCoinGeckoClient(config.PriceAPIConfig{
		BaseURL:        server.URL,
		APIKey:         "test-key",
		RequestTimeout: 2 * time.Second,
		BatchSize:      50,
		MaxAttempts:    5,
		FallbackLimit:  10,
	}, nil)
	log := &sleepLog{}
	client.retry.Sleep = log.sleep
	return client, log
}

func idsParam(r *http.Request) []string {
	return strings.Split(r.URL.Query().Get("ids"), ",")
}

func TestFetchByIDs_ParsesPricesWithPrecision(t *testing.T) {
	var gotKey, gotIDs, gotVS string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-cg-pro-api-key")
		gotIDs = r.URL.Query().Get("ids")
		gotVS = r.URL.Query().Get("vs_currencies")
		fmt.Fprint(w, `{"bitcoin":{"usd":67187.33},"pepe":{"usd":1.234e-05},"dead-coin":{"usd":0},"weird":{"usd":"n/a"}}`)
	}))
	defer server.Close()
	client, _ := newTestClient(t, server)

	result, err := client.FetchByIDs(context.Background(), []string{" Bitcoin ", "pepe", "bitcoin", "dead-coin", "weird", "bad id!"}, "USD", nil)
	require.NoError(t, err)

	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "usd", gotVS)
	assert.Equal(t, "bitcoin,pepe,dead-coin,weird", gotIDs)
	assert.Equal(t, map[string]string{"bitcoin": "67187.33", "pepe": "0.00001234"}, result.Prices)
	assert.Empty(t, result.FailedIDs)
}

func TestFetchByIDs_HonorsRetryAfter(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"ethereum":{"usd":3100.5}}`)
	}))
	defer server.Close()
	client, sleeps := newTestClient(t, server)

	result, err := client.FetchByIDs(context.Background(), []string{"ethereum"}, "USD", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second}, sleeps.delays)
	assert.Equal(t, "3100.5", result.Prices["ethereum"])
}

func TestFetchByIDs_ClientErrorIsNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()
	client, sleeps := newTestClient(t, server)

	result, err := client.FetchByIDs(context.Background(), []string{"ethereum"}, "USD", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CoinGecko request failed (404)")
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeps.delays)
	assert.Equal(t, []string{"ethereum"}, result.FailedIDs)
}

func TestFetchByIDs_ServerErrorUsesExponentialBackoff(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	client, sleeps := newTestClient(t, server)

	_, err := client.FetchByIDs(context.Background(), []string{"ethereum"}, "USD", nil)
	require.Error(t, err)
	assert.Equal(t, 5, calls)
	require.Len(t, sleeps.delays, 4)
	for i, d := range sleeps.delays {
		base := time.Second << i
		assert.GreaterOrEqual(t, d, base)
		assert.Less(t, d, base+200*time.Millisecond)
	}
}

func TestFetchByIDs_FallsBackToSingleIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids := idsParam(r)
		if len(ids) > 1 || ids[0] == "broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{%q:{"usd":2}}`, ids[0])
	}))
	defer server.Close()
	client, _ := newTestClient(t, server)

	result, err := client.FetchByIDs(context.Background(), []string{"alpha", "broken", "gamma"}, "USD", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alpha": "2", "gamma": "2"}, result.Prices)
	assert.Equal(t, []string{"broken"}, result.FailedIDs)
}

func TestFetchByIDs_FallbackLimitCountsAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()
	client, _ := newTestClient(t, server)
	client.fallbackLimit = 2

	result, err := client.FetchByIDs(context.Background(), []string{"a", "b", "c", "d"}, "USD", nil)
	require.Error(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, result.FailedIDs)
}

func TestFetchByIDs_StopsWhenBudgetExhausted(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()
	client, _ := newTestClient(t, server)

	now := time.Unix(0, 0)
	budget := retry.NewBudgetWithClock(time.Second, func() time.Time { return now })
	now = now.Add(2 * time.Second)

	result, err := client.FetchByIDs(context.Background(), []string{"ethereum"}, "USD", budget)
	require.Error(t, err)
	assert.Equal(t, 0, calls)
	assert.Equal(t, []string{"ethereum"}, result.FailedIDs)
}

func TestFetchByIDs_Batches(t *testing.T) {
	var batchSizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		batchSizes = append(batchSizes, len(idsParam(r)))
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()
	client, _ := newTestClient(t, server)
	client.batchSize = 2

	_, err := client.FetchByIDs(context.Background(), []string{"a", "b", "c", "d", "e"}, "USD", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, batchSizes)
}

func TestFetchByContracts_LowercasesKeys(t *testing.T) {
	var gotPath, gotContracts string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContracts = r.URL.Query().Get("contract_addresses")
		fmt.Fprint(w, `{"0xABCdef":{"eur":0.5},"0x0000":{"eur":0}}`)
	}))
	defer server.Close()
	client, _ := newTestClient(t, server)

	prices, err := client.FetchByContracts(context.Background(), "base", []string{"0xAbCdEf", "0xabcdef", "0x0000"}, "EUR", nil)
	require.NoError(t, err)
	assert.Equal(t, "/simple/token_price/base", gotPath)
	assert.Equal(t, "0xabcdef,0x0000", gotContracts)
	assert.Equal(t, map[string]string{"0xabcdef": "0.5"}, prices)
}

func TestFetchByContracts_ReportsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()
	client, _ := newTestClient(t, server)

	prices, err := client.FetchByContracts(context.Background(), "solana", []string{"Mint111"}, "USD", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Empty(t, prices)
}

func TestNormalizePriceFeedID(t *testing.T) {
	id, ok := NormalizePriceFeedID("  USD-Coin ")
	assert.True(t, ok)
	assert.Equal(t, "usd-coin", id)

	for _, bad := range []string{"", "  ", "usd coin", "usd_coin", "usd/coin"} {
		_, ok := NormalizePriceFeedID(bad)
		assert.False(t, ok, bad)
	}
}

func TestMockPriceClient(t *testing.T) {
	m := NewMockPriceClient()
	result, err := m.FetchByIDs(context.Background(), []string{"Ethereum", "bad id"}, "USD", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ethereum": "1"}, result.Prices)
	assert.Equal(t, SourceMock, m.Source())

	contracts, err := m.FetchByContracts(context.Background(), "solana", []string{"MintA"}, "USD", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"minta": "1"}, contracts)
}
