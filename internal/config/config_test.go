package config

import (
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("PRICE_CACHE_WINDOW", "5m")
	t.Setenv("USE_MOCK_SOURCES", "true")
	t.Setenv("REFRESH_CONCURRENCY", "4")
	t.Setenv("DEFAULT_QUOTE_CURRENCY", "eur")
	t.Setenv("COINGECKO_BASE_URL", "http://localhost:1234/api/v3/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}
	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}
	if cfg.Refresh.PriceCacheWindow != 5*time.Minute {
		t.Errorf("Refresh.PriceCacheWindow = %v, want %v", cfg.Refresh.PriceCacheWindow, 5*time.Minute)
	}
	if !cfg.Refresh.UseMockSources {
		t.Errorf("Refresh.UseMockSources = false, want true")
	}
	if cfg.Refresh.Concurrency != 4 {
		t.Errorf("Refresh.Concurrency = %v, want 4", cfg.Refresh.Concurrency)
	}
	if cfg.Refresh.QuoteCurrency != "EUR" {
		t.Errorf("Refresh.QuoteCurrency = %v, want EUR", cfg.Refresh.QuoteCurrency)
	}
	if cfg.PriceAPI.BaseURL != "http://localhost:1234/api/v3" {
		t.Errorf("PriceAPI.BaseURL = %v", cfg.PriceAPI.BaseURL)
	}
}

func TestLoadConfig_PriceAPIDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	api := cfg.PriceAPI
	if api.BatchSize != 50 || api.MaxAttempts != 5 || api.FallbackLimit != 10 {
		t.Errorf("unexpected batching defaults: %+v", api)
	}
	if api.RequestTimeout != 10*time.Second || api.PipelineBudget != 20*time.Second {
		t.Errorf("unexpected timeout defaults: %+v", api)
	}
}

func TestLoadChainConfigs(t *testing.T) {
	t.Setenv("ENABLED_CHAINS", "evm:1, evm:8453,evm:999")
	t.Setenv("ETHEREUM_RPC_URL", "http://eth")
	t.Setenv("ETHEREUM_AAVE_UI_POOL_DATA_PROVIDER", "0xui")
	t.Setenv("ETHEREUM_AAVE_POOL_ADDRESSES_PROVIDER", "0xpool")

	chains := loadChainConfigs()

	if len(chains.Enabled) != 2 {
		t.Fatalf("Enabled = %v, want 2 known chains", chains.Enabled)
	}
	eth := chains.Chains["evm:1"]
	if eth.ChainID != 1 || eth.RPCURL != "http://eth" || !eth.HasAaveMarket() {
		t.Errorf("unexpected ethereum config: %+v", eth)
	}
	if chains.Chains["evm:8453"].HasAaveMarket() {
		t.Errorf("base should not have an Aave market without addresses")
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns integer when valid",
			key:          "TEST_INT",
			defaultValue: 100,
			envValue:     "200",
			want:         200,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_INT_INVALID",
			defaultValue: 100,
			envValue:     "invalid",
			want:         100,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOTSET",
			defaultValue: 100,
			envValue:     "",
			want:         100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "1")
	t.Setenv("TEST_BOOL_INVALID", "maybe")

	if !getEnvAsBool("TEST_BOOL", false) {
		t.Errorf("getEnvAsBool(TEST_BOOL) = false, want true")
	}
	if !getEnvAsBool("TEST_BOOL_INVALID", true) {
		t.Errorf("invalid bool should fall back to default")
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns duration when valid",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_DURATION_INVALID",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.envValue)

			got := getEnvAsDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
