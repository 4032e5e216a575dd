package service

import (
	"context"
	"errors"
	"time"

	"github.com/snapshot-refresher/internal/adapter"
	apperrors "github.com/snapshot-refresher/internal/errors"
)

// fxReferenceFeedID is priced in EUR to derive the USD/EUR rate
const fxReferenceFeedID = "usd-coin"

// FXRate is a spot conversion rate
type FXRate struct {
	Base      string    `json:"base"`
	Quote     string    `json:"quote"`
	Rate      string    `json:"rate"`
	FetchedAt time.Time `json:"fetchedAt"`
	Source    string    `json:"source"`
}

// FXService derives conversion rates from the price client
type FXService struct {
	client adapter.PriceClient
	now    func() time.Time
}

// NewFXService creates a new FX service
func NewFXService(client adapter.PriceClient) *FXService {
	return &FXService{client: client, now: func() time.Time { return time.Now().UTC() }}
}

// USDToEUR prices USD Coin in EUR. Any failure is a provider error.
func (f *FXService) USDToEUR(ctx context.Context) (*FXRate, error) {
	out, err := f.client.FetchByIDs(ctx, []string{fxReferenceFeedID}, "EUR", nil)
	if err != nil {
		return nil, apperrors.NewProviderError(f.client.Source(), err)
	}
	rate, ok := out.Prices[fxReferenceFeedID]
	if !ok {
		return nil, apperrors.NewProviderError(f.client.Source(), errors.New("FX rate unavailable"))
	}
	return &FXRate{
		Base:      "USD",
		Quote:     "EUR",
		Rate:      rate,
		FetchedAt: f.now(),
		Source:    f.client.Source(),
	}, nil
}
