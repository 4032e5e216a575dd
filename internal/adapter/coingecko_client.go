package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/snapshot-refresher/internal/config"
	apperrors "github.com/snapshot-refresher/internal/errors"
	"github.com/snapshot-refresher/internal/logging"
	"github.com/snapshot-refresher/internal/metrics"
	"github.com/snapshot-refresher/internal/retry"
)

const coingeckoProvider = "coingecko"

// CoinGeckoClient fetches spot prices from the CoinGecko simple price API
type CoinGeckoClient struct {
	baseURL        string
	apiKey         string
	requestTimeout time.Duration
	batchSize      int
	fallbackLimit  int

	httpClient *http.Client
	limiter    *rate.Limiter
	retry      *retry.RetryConfig
	metrics    *metrics.Recorder
	now        func() time.Time
}

// NewCoinGeckoClient creates a client from the price API configuration
func NewCoinGeckoClient(cfg config.PriceAPIConfig, recorder *metrics.Recorder) *CoinGeckoClient {
	retryCfg := retry.HTTPRetryConfig()
	if cfg.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.MaxAttempts
	}

	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}

	return &CoinGeckoClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		requestTimeout: cfg.RequestTimeout,
		batchSize:      cfg.BatchSize,
		fallbackLimit:  cfg.FallbackLimit,
		httpClient:     &http.Client{},
		limiter:        rate.NewLimiter(limit, 1),
		retry:          retryCfg,
		metrics:        recorder,
		now:            time.Now,
	}
}

// Source returns the tag for prices fetched by id
func (c *CoinGeckoClient) Source() string { return SourceCoinGecko }

// ContractSource returns the tag for prices fetched by contract address
func (c *CoinGeckoClient) ContractSource() string { return SourceCoinGeckoContract }

// FetchByIDs prices ids in batches. A batch that fails falls back to
// re-querying up to fallbackLimit of its ids one at a time.
func (c *CoinGeckoClient) FetchByIDs(ctx context.Context, ids []string, quoteCurrency string, budget *retry.Budget) (*IDPrices, error) {
	result := &IDPrices{Prices: make(map[string]string)}
	normalized := normalizeIDs(ids)
	if len(normalized) == 0 {
		return result, nil
	}

	vs := strings.ToLower(quoteCurrency)
	anySuccess := false
	var failures []string
	failed := make(map[string]bool)

	for _, batch := range chunk(normalized, c.batchSize) {
		if budget.Exhausted() {
			markFailed(failed, batch...)
			failures = append(failures, "time budget exhausted")
			continue
		}

		body, err := c.getJSON(ctx, "simple_price", c.simplePriceURL(batch, vs))
		if err == nil {
			anySuccess = true
			collectIDPrices(body, batch, vs, result.Prices)
			continue
		}

		failures = append(failures, describeFailure(err))
		if len(batch) == 1 {
			markFailed(failed, batch...)
			continue
		}

		attempted := 0
		for _, id := range batch {
			if budget.Exhausted() || attempted >= c.fallbackLimit {
				markFailed(failed, id)
				continue
			}
			attempted++

			single, err := c.getJSON(ctx, "simple_price", c.simplePriceURL([]string{id}, vs))
			if err != nil {
				failures = append(failures, describeFailure(err))
				markFailed(failed, id)
				continue
			}
			anySuccess = true
			collectIDPrices(single, []string{id}, vs, result.Prices)
		}
	}

	for _, id := range normalized {
		if failed[id] {
			result.FailedIDs = append(result.FailedIDs, id)
		}
	}

	if !anySuccess {
		summary := "no response"
		if len(failures) > 0 {
			summary = strings.Join(failures, ", ")
		}
		return result, fmt.Errorf("CoinGecko request failed (%s)", summary)
	}
	return result, nil
}

// FetchByContracts prices token contracts on one platform
func (c *CoinGeckoClient) FetchByContracts(ctx context.Context, platform string, addresses []string, quoteCurrency string, budget *retry.Budget) (map[string]string, error) {
	prices := make(map[string]string)
	if len(addresses) == 0 {
		return prices, nil
	}

	vs := strings.ToLower(quoteCurrency)
	lowered := make([]string, 0, len(addresses))
	seen := make(map[string]bool, len(addresses))
	for _, addr := range addresses {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		lowered = append(lowered, addr)
	}

	var failures []string
	for _, batch := range chunk(lowered, c.batchSize) {
		if budget.Exhausted() {
			failures = append(failures, "time budget exhausted")
			break
		}

		endpoint := fmt.Sprintf("%s/simple/token_price/%s?contract_addresses=%s&vs_currencies=%s",
			c.baseURL, url.PathEscape(platform), strings.Join(batch, ","), url.QueryEscape(vs))
		body, err := c.getJSON(ctx, "token_price", endpoint)
		if err != nil {
			failures = append(failures, describeFailure(err))
			continue
		}

		gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
			if price, ok := parsePositivePrice(value.Get(vs).Raw); ok {
				prices[strings.ToLower(key.String())] = price
			}
			return true
		})
	}

	if len(failures) > 0 {
		return prices, fmt.Errorf("CoinGecko token price failed for %s (%s)", platform, strings.Join(failures, ", "))
	}
	return prices, nil
}

func (c *CoinGeckoClient) simplePriceURL(ids []string, vs string) string {
	escaped := make([]string, len(ids))
	for i, id := range ids {
		escaped[i] = url.QueryEscape(id)
	}
	return fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s", c.baseURL, strings.Join(escaped, ","), url.QueryEscape(vs))
}

// getJSON performs a GET with pacing, per-request timeout and the HTTP retry policy
func (c *CoinGeckoClient) getJSON(ctx context.Context, endpoint, target string) ([]byte, error) {
	logger := logging.FromContext(ctx).WithField("endpoint", endpoint)
	var body []byte

	result := retry.WithExponentialBackoff(ctx, c.retry, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("x-cg-pro-api-key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				c.metrics.RecordPriceRequest(endpoint, "timeout")
				return apperrors.NewProviderTimeoutError(coingeckoProvider)
			}
			c.metrics.RecordPriceRequest(endpoint, "transport_error")
			return apperrors.NewProviderError(coingeckoProvider, err)
		}
		defer resp.Body.Close()

		switch retry.ClassifyStatus(resp.StatusCode) {
		case retry.ActionDone:
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				c.metrics.RecordPriceRequest(endpoint, "transport_error")
				return apperrors.NewProviderError(coingeckoProvider, err)
			}
			c.metrics.RecordPriceRequest(endpoint, "ok")
			body = data
			return nil
		case retry.ActionAbort:
			c.metrics.RecordPriceRequest(endpoint, "client_error")
			return retry.Permanent(apperrors.NewProviderStatusError(coingeckoProvider, resp.StatusCode))
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			c.metrics.RecordPriceRequest(endpoint, "rate_limited")
			rateErr := apperrors.NewProviderRateLimitError(coingeckoProvider)
			if delay, ok := retry.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now()); ok {
				logger.WithField("retryAfter", delay.String()).Warn("Price API rate limited")
				return retry.After(rateErr, delay)
			}
			return rateErr
		}

		c.metrics.RecordPriceRequest(endpoint, "server_error")
		return apperrors.NewProviderStatusError(coingeckoProvider, resp.StatusCode)
	})

	if !result.Success {
		return nil, result.LastError
	}
	return body, nil
}

// collectIDPrices reads {"<id>": {"<vs>": <number>}} and keeps valid prices
func collectIDPrices(body []byte, ids []string, vs string, into map[string]string) {
	parsed := gjson.ParseBytes(body)
	for _, id := range ids {
		if price, ok := parsePositivePrice(parsed.Get(gjson.Escape(id) + "." + vs).Raw); ok {
			into[id] = price
		}
	}
}

func markFailed(failed map[string]bool, ids ...string) {
	for _, id := range ids {
		failed[id] = true
	}
}

// describeFailure renders the status code when known, otherwise the error text
func describeFailure(err error) string {
	var catErr *apperrors.CategorizedError
	if errors.As(err, &catErr) {
		if status, ok := catErr.Details["status"].(int); ok {
			return fmt.Sprintf("%d", status)
		}
		if catErr.Code == apperrors.CodeProviderRateLimit {
			return "429"
		}
	}
	return err.Error()
}
