// Package config provides configuration management for the snapshot refresher.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Refresh  RefreshConfig
	PriceAPI PriceAPIConfig
	Chains   ChainsConfig
	Logging  LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
	// RefreshPerMinute limits POST /api/refresh per client IP
	RefreshPerMinute int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration.
// An empty Host disables the summary archive.
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration.
// An empty Host disables the price hot cache.
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// RefreshConfig controls snapshot orchestration
type RefreshConfig struct {
	Concurrency      int
	UseMockSources   bool
	PriceCacheWindow time.Duration
	QuoteCurrency    string
}

// PriceAPIConfig holds the external price API configuration
type PriceAPIConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	PipelineBudget time.Duration
	BatchSize      int
	MaxAttempts    int
	FallbackLimit  int
	RequestsPerSec float64
}

// ChainsConfig holds chain configuration keyed by chain key (evm:1, evm:8453)
type ChainsConfig struct {
	Enabled []string
	Chains  map[string]ChainConfig
}

// ChainConfig holds configuration for a specific EVM chain
type ChainConfig struct {
	Key      string
	ChainID  int64
	RPCURL   string
	Decimals int
	Symbol   string
	Name     string
	// NativePriceFeedID is the price API id of the native coin
	NativePriceFeedID string
	// AaveUIPoolDataProvider and AavePoolAddressesProvider enable the oracle for this chain
	AaveUIPoolDataProvider    string
	AavePoolAddressesProvider string
}

// HasAaveMarket reports whether both Aave addresses are configured
func (c ChainConfig) HasAaveMarket() bool {
	return c.RPCURL != "" && c.AaveUIPoolDataProvider != "" && c.AavePoolAddressesProvider != ""
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:             getEnv("SERVER_PORT", "8080"),
			Host:             getEnv("SERVER_HOST", "0.0.0.0"),
			RefreshPerMinute: getEnvAsInt("REFRESH_RATE_PER_MINUTE", 6),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "snapshots"),
				User:           getEnv("POSTGRES_USER", "refresher"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", ""),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "snapshots"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", ""),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		Refresh: RefreshConfig{
			Concurrency:      getEnvAsInt("REFRESH_CONCURRENCY", 1),
			UseMockSources:   getEnvAsBool("USE_MOCK_SOURCES", false),
			PriceCacheWindow: getEnvAsDuration("PRICE_CACHE_WINDOW", 30*time.Minute),
			QuoteCurrency:    strings.ToUpper(getEnv("DEFAULT_QUOTE_CURRENCY", "USD")),
		},
		PriceAPI: PriceAPIConfig{
			BaseURL:        strings.TrimRight(getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"), "/"),
			APIKey:         getEnv("COINGECKO_API_KEY", ""),
			RequestTimeout: getEnvAsDuration("COINGECKO_REQUEST_TIMEOUT", 10*time.Second),
			PipelineBudget: getEnvAsDuration("COINGECKO_PIPELINE_BUDGET", 20*time.Second),
			BatchSize:      getEnvAsInt("COINGECKO_BATCH_SIZE", 50),
			MaxAttempts:    getEnvAsInt("COINGECKO_MAX_ATTEMPTS", 5),
			FallbackLimit:  getEnvAsInt("COINGECKO_FALLBACK_LIMIT", 10),
			RequestsPerSec: getEnvAsFloat("COINGECKO_REQUESTS_PER_SECOND", 5),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	config.Chains = loadChainConfigs()

	return config, nil
}

type chainDefaults struct {
	env     string
	chainID int64
	symbol  string
	name    string
	feedID  string
}

var knownChains = map[string]chainDefaults{
	"evm:1":    {env: "ETHEREUM", chainID: 1, symbol: "ETH", name: "Ether", feedID: "ethereum"},
	"evm:8453": {env: "BASE", chainID: 8453, symbol: "ETH", name: "Ether", feedID: "ethereum"},
}

// loadChainConfigs loads chain-specific configurations
func loadChainConfigs() ChainsConfig {
	enabled := strings.Split(getEnv("ENABLED_CHAINS", "evm:1,evm:8453"), ",")

	chains := make(map[string]ChainConfig)
	keys := make([]string, 0, len(enabled))
	for _, key := range enabled {
		key = strings.TrimSpace(key)
		defaults, ok := knownChains[key]
		if !ok {
			continue
		}
		keys = append(keys, key)

		prefix := defaults.env
		chains[key] = ChainConfig{
			Key:                       key,
			ChainID:                   defaults.chainID,
			RPCURL:                    getEnv(prefix+"_RPC_URL", ""),
			Decimals:                  18,
			Symbol:                    defaults.symbol,
			Name:                      defaults.name,
			NativePriceFeedID:         defaults.feedID,
			AaveUIPoolDataProvider:    getEnv(prefix+"_AAVE_UI_POOL_DATA_PROVIDER", ""),
			AavePoolAddressesProvider: getEnv(prefix+"_AAVE_POOL_ADDRESSES_PROVIDER", ""),
		}
	}

	return ChainsConfig{
		Enabled: keys,
		Chains:  chains,
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
