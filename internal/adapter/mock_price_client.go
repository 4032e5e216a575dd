package adapter

import (
	"context"
	"strings"

	"github.com/snapshot-refresher/internal/retry"
)

// MockPriceClient prices everything at 1 without network access
type MockPriceClient struct{}

// NewMockPriceClient creates a mock price client
func NewMockPriceClient() *MockPriceClient {
	return &MockPriceClient{}
}

func (m *MockPriceClient) Source() string         { return SourceMock }
func (m *MockPriceClient) ContractSource() string { return SourceMock }

// FetchByIDs returns "1" for every valid id
func (m *MockPriceClient) FetchByIDs(_ context.Context, ids []string, _ string, _ *retry.Budget) (*IDPrices, error) {
	result := &IDPrices{Prices: make(map[string]string)}
	for _, id := range normalizeIDs(ids) {
		result.Prices[id] = "1"
	}
	return result, nil
}

// FetchByContracts returns "1" for every address
func (m *MockPriceClient) FetchByContracts(_ context.Context, _ string, addresses []string, _ string, _ *retry.Budget) (map[string]string, error) {
	prices := make(map[string]string, len(addresses))
	for _, addr := range addresses {
		if addr = strings.ToLower(strings.TrimSpace(addr)); addr != "" {
			prices[addr] = "1"
		}
	}
	return prices, nil
}
