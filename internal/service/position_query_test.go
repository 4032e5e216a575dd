package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapshot-refresher/internal/adapter"
	apperrors "github.com/snapshot-refresher/internal/errors"
	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/retry"
	"github.com/snapshot-refresher/internal/types"
)

func strp(s string) *string { return &s }

func seedPositions(db *memDB) {
	db.snapshots["snap-1"] = &models.Snapshot{ID: "snap-1", Status: types.SnapshotSuccess, StartedAt: time.Now()}
	db.assets = []*models.PositionAsset{
		{ID: "a1", SnapshotID: "snap-1", WalletID: "w1", ChainKey: types.ChainEthereum, Protocol: types.ProtocolWallet, QuantityDecimal: "1.001", ValueQuote: strp("10.00")},
		{ID: "a2", SnapshotID: "snap-1", WalletID: "w2", ChainKey: types.ChainBase, Protocol: types.ProtocolAaveV3, QuantityDecimal: "3", ValueQuote: strp("250.50")},
		{ID: "a3", SnapshotID: "snap-1", WalletID: "w1", ChainKey: types.ChainEthereum, Protocol: types.ProtocolWallet, QuantityDecimal: "0.5"},
	}
	db.liabilities = []*models.PositionLiability{
		{ID: "l1", SnapshotID: "snap-1", WalletID: "w2", ChainKey: types.ChainBase, Protocol: types.ProtocolAaveV3, AmountDecimal: "12.3456"},
	}
}

func TestPositionQuery_Assets(t *testing.T) {
	db := newMemDB()
	seedPositions(db)
	q := NewPositionQueryService(db, db)

	views, err := q.Assets(context.Background(), "snap-1", PositionFilter{})
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, "a2", views[0].ID)
	assert.Equal(t, "a1", views[1].ID)
	assert.Equal(t, "a3", views[2].ID)
	assert.Equal(t, "1.01", views[1].QuantityDisplay)
	assert.Equal(t, "3.00", views[0].QuantityDisplay)

	filtered, err := q.Assets(context.Background(), "snap-1", PositionFilter{WalletID: "w1", Protocol: types.ProtocolWallet})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	byChain, err := q.Assets(context.Background(), "snap-1", PositionFilter{ChainKey: types.ChainBase})
	require.NoError(t, err)
	require.Len(t, byChain, 1)
	assert.Equal(t, "a2", byChain[0].ID)
}

func TestPositionQuery_Liabilities(t *testing.T) {
	db := newMemDB()
	seedPositions(db)
	q := NewPositionQueryService(db, db)

	views, err := q.Liabilities(context.Background(), "snap-1", PositionFilter{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "12.35", views[0].QuantityDisplay)
}

func TestPositionQuery_UnknownSnapshot(t *testing.T) {
	q := NewPositionQueryService(newMemDB(), newMemDB())
	_, err := q.Assets(context.Background(), "missing", PositionFilter{})
	assert.Equal(t, apperrors.CodeSnapshotNotFound, apperrors.CodeOf(err, ""))
}

type stubPriceClient struct {
	prices map[string]string
	err    error
	quote  string
}

func (s *stubPriceClient) FetchByIDs(_ context.Context, ids []string, quote string, _ *retry.Budget) (*adapter.IDPrices, error) {
	s.quote = quote
	if s.err != nil {
		return nil, s.err
	}
	return &adapter.IDPrices{Prices: s.prices}, nil
}

func (s *stubPriceClient) FetchByContracts(context.Context, string, []string, string, *retry.Budget) (map[string]string, error) {
	return nil, nil
}

func (s *stubPriceClient) Source() string         { return "stub" }
func (s *stubPriceClient) ContractSource() string { return "stub-contract" }

func TestFXService(t *testing.T) {
	client := &stubPriceClient{prices: map[string]string{"usd-coin": "0.92"}}
	fx := NewFXService(client)

	rate, err := fx.USDToEUR(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "EUR", client.quote)
	assert.Equal(t, "USD", rate.Base)
	assert.Equal(t, "EUR", rate.Quote)
	assert.Equal(t, "0.92", rate.Rate)
	assert.Equal(t, "stub", rate.Source)
}

func TestFXService_Unavailable(t *testing.T) {
	fx := NewFXService(&stubPriceClient{prices: map[string]string{}})
	_, err := fx.USDToEUR(context.Background())
	require.Error(t, err)
	assert.Equal(t, 502, apperrors.Categorize(err).StatusCode)

	fx = NewFXService(&stubPriceClient{err: errors.New("timeout")})
	_, err = fx.USDToEUR(context.Background())
	assert.Equal(t, "PROVIDER_ERROR", apperrors.CodeOf(err, ""))
}
