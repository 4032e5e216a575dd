// Package adapter holds clients for external price and chain data providers.
package adapter

import (
	"context"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/snapshot-refresher/internal/retry"
)

// Price source tags recorded on cached prices
const (
	SourceCoinGecko         = "coingecko"
	SourceCoinGeckoContract = "coingecko-contract"
	SourceMock              = "mock"
)

// IDPrices is the outcome of pricing a set of price-feed ids
type IDPrices struct {
	// Prices maps a normalized price-feed id to its decimal price
	Prices map[string]string
	// FailedIDs lists ids whose request failed and were not recovered
	FailedIDs []string
}

// PriceClient prices assets by price-feed id or by contract address.
// Calls stop starting new requests once budget is exhausted.
type PriceClient interface {
	// FetchByIDs returns an error only when no request succeeded at all
	FetchByIDs(ctx context.Context, ids []string, quoteCurrency string, budget *retry.Budget) (*IDPrices, error)
	// FetchByContracts returns prices keyed by lower-cased address; err
	// describes failed batches and may accompany partial results
	FetchByContracts(ctx context.Context, platform string, addresses []string, quoteCurrency string, budget *retry.Budget) (map[string]string, error)
	// Source is the tag recorded for prices obtained by id
	Source() string
	// ContractSource is the tag recorded for prices obtained by contract address
	ContractSource() string
}

var priceFeedIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// NormalizePriceFeedID trims and lower-cases id; ok is false for ids the
// price API cannot accept
func NormalizePriceFeedID(id string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(id))
	if normalized == "" || !priceFeedIDPattern.MatchString(normalized) {
		return "", false
	}
	return normalized, true
}

// normalizeIDs normalizes, validates and de-duplicates ids, keeping first-seen order
func normalizeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		normalized, ok := NormalizePriceFeedID(id)
		if !ok || seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	return out
}

// parsePositivePrice accepts a JSON number literal and returns its canonical
// decimal form; zero, negative and non-numeric values are rejected
func parsePositivePrice(raw string) (string, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil || d.Sign() <= 0 {
		return "", false
	}
	return d.String(), true
}

func chunk(values []string, size int) [][]string {
	if size <= 0 {
		size = len(values)
	}
	var out [][]string
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		out = append(out, values[start:end])
	}
	return out
}
