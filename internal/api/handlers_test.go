package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/snapshot-refresher/internal/errors"
	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/service"
	"github.com/snapshot-refresher/internal/types"
)

// TestLatestSummary_None tests the response when no snapshot exists
func TestLatestSummary_None(t *testing.T) {
	server := defaultTestServer()

	req := httptest.NewRequest("GET", "/api/snapshots/latest/summary", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if snapshot, ok := response["snapshot"]; !ok || snapshot != nil {
		t.Errorf("Expected snapshot null, got %v", response)
	}
}

// TestLatestSummary tests the summary payload
func TestLatestSummary(t *testing.T) {
	finished := time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC)
	refresh := &mockRefreshService{
		latestFunc: func(ctx context.Context) (*service.LatestSummary, error) {
			return &service.LatestSummary{
				Snapshot: &models.Snapshot{ID: "snap-1", Status: types.SnapshotSuccess, QuoteCurrency: "USD", FinishedAt: &finished},
				Summary:  &models.SnapshotSummary{SnapshotID: "snap-1", NetWorthQuote: "1.00", PricedCoveragePct: 100},
			}, nil
		},
	}
	server := createTestServer(refresh, &mockPositionService{}, &mockFXService{})

	req := httptest.NewRequest("GET", "/api/snapshots/latest/summary", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	var response struct {
		Snapshot struct {
			ID      string `json:"id"`
			Status  string `json:"status"`
			Summary struct {
				NetWorthQuote     string  `json:"netWorthQuote"`
				PricedCoveragePct float64 `json:"pricedCoveragePct"`
			} `json:"summary"`
		} `json:"snapshot"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Snapshot.ID != "snap-1" || response.Snapshot.Status != "SUCCESS" {
		t.Errorf("Unexpected snapshot: %+v", response.Snapshot)
	}
	if response.Snapshot.Summary.NetWorthQuote != "1.00" || response.Snapshot.Summary.PricedCoveragePct != 100 {
		t.Errorf("Unexpected summary: %+v", response.Snapshot.Summary)
	}
}

// TestListAssets tests the asset listing with filters
func TestListAssets(t *testing.T) {
	positions := &mockPositionService{}
	server := createTestServer(&mockRefreshService{}, positions, &mockFXService{})

	req := httptest.NewRequest("GET", "/api/snapshots/snap-1/assets?walletId=w1&protocol=AAVE_V3&chainKey=evm:1", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	want := service.PositionFilter{WalletID: "w1", ChainKey: "evm:1", Protocol: types.ProtocolAaveV3}
	if positions.lastFilter != want {
		t.Errorf("Expected filter %+v, got %+v", want, positions.lastFilter)
	}

	var response struct {
		Assets []map[string]interface{} `json:"assets"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Assets) != 1 {
		t.Fatalf("Expected 1 asset, got %d", len(response.Assets))
	}
	if response.Assets[0]["quantityDisplay"] != "1.01" || response.Assets[0]["quantityDecimal"] != "1.001" {
		t.Errorf("Unexpected asset: %v", response.Assets[0])
	}
}

// TestListAssets_UnknownProtocolIgnored tests that an unknown protocol filter is dropped
func TestListAssets_UnknownProtocolIgnored(t *testing.T) {
	positions := &mockPositionService{}
	server := createTestServer(&mockRefreshService{}, positions, &mockFXService{})

	req := httptest.NewRequest("GET", "/api/snapshots/snap-1/assets?protocol=UNISWAP", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if positions.lastFilter.Protocol != "" {
		t.Errorf("Expected empty protocol filter, got %s", positions.lastFilter.Protocol)
	}
}

// TestListAssets_NotFound tests the 404 mapping for positions
func TestListAssets_NotFound(t *testing.T) {
	server := defaultTestServer()

	req := httptest.NewRequest("GET", "/api/snapshots/missing/assets", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

// TestListLiabilities tests that an empty listing is an empty array
func TestListLiabilities(t *testing.T) {
	server := defaultTestServer()

	req := httptest.NewRequest("GET", "/api/snapshots/snap-1/liabilities", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var response map[string][]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["liabilities"] == nil || len(response["liabilities"]) != 0 {
		t.Errorf("Expected empty liabilities array, got %v", response)
	}
}

// TestListProtocolPositions tests the per-protocol listing with a wallet filter
func TestListProtocolPositions(t *testing.T) {
	positions := &mockPositionService{}
	server := createTestServer(&mockRefreshService{}, positions, &mockFXService{})

	req := httptest.NewRequest("GET", "/api/snapshots/snap-1/positions/kamino?walletId=w2&chainKey=evm:1", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	want := service.PositionFilter{WalletID: "w2", Protocol: types.ProtocolKamino}
	if positions.lastFilter != want {
		t.Errorf("Expected filter %+v, got %+v", want, positions.lastFilter)
	}

	var response map[string][]map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response["assets"]) != 1 {
		t.Errorf("Expected 1 asset, got %v", response["assets"])
	}
	if liabilities, ok := response["liabilities"]; !ok || liabilities == nil || len(liabilities) != 0 {
		t.Errorf("Expected empty liabilities array, got %v", response)
	}
}

// TestListProtocolPositions_Hyperlend tests that the protocol segment is case-insensitive
func TestListProtocolPositions_Hyperlend(t *testing.T) {
	positions := &mockPositionService{}
	server := createTestServer(&mockRefreshService{}, positions, &mockFXService{})

	req := httptest.NewRequest("GET", "/api/snapshots/snap-1/positions/HyperLend", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if positions.lastFilter.Protocol != types.ProtocolHyperlend || positions.lastFilter.WalletID != "" {
		t.Errorf("Unexpected filter %+v", positions.lastFilter)
	}
}

// TestListProtocolPositions_UnknownProtocol tests the 400 for an unknown protocol
func TestListProtocolPositions_UnknownProtocol(t *testing.T) {
	server := defaultTestServer()

	req := httptest.NewRequest("GET", "/api/snapshots/snap-1/positions/uniswap", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
	var response ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Error.Code != apperrors.CodeInvalidParameter {
		t.Errorf("Expected code %s, got %s", apperrors.CodeInvalidParameter, response.Error.Code)
	}
}

// TestListProtocolPositions_NotFound tests the 404 mapping
func TestListProtocolPositions_NotFound(t *testing.T) {
	server := defaultTestServer()

	req := httptest.NewRequest("GET", "/api/snapshots/missing/positions/kamino", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

// TestUSDToEUR tests the FX endpoint
func TestUSDToEUR(t *testing.T) {
	server := defaultTestServer()

	req := httptest.NewRequest("GET", "/api/fx/usd-eur", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var rate service.FXRate
	if err := json.NewDecoder(w.Body).Decode(&rate); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if rate.Base != "USD" || rate.Quote != "EUR" || rate.Rate != "0.92" {
		t.Errorf("Unexpected rate: %+v", rate)
	}
}

// TestUSDToEUR_Unavailable tests the 502 when the provider fails
func TestUSDToEUR_Unavailable(t *testing.T) {
	server := createTestServer(&mockRefreshService{}, &mockPositionService{}, &mockFXService{err: errors.New("timeout")})

	req := httptest.NewRequest("GET", "/api/fx/usd-eur", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", w.Code)
	}
}

// TestCompression tests gzip encoding on API routes
func TestCompression(t *testing.T) {
	server := defaultTestServer()

	req := httptest.NewRequest("GET", "/api/fx/usd-eur", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Expected gzip encoding")
	}
	gz, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("Failed to open gzip body: %v", err)
	}
	var rate service.FXRate
	if err := json.NewDecoder(gz).Decode(&rate); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if rate.Rate != "0.92" {
		t.Errorf("Unexpected rate: %+v", rate)
	}
}

// TestCORSHeaders tests that CORS headers are set on matched routes
func TestCORSHeaders(t *testing.T) {
	server := defaultTestServer()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}
}
