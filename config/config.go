// Package config reads process configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/vitwit/chainpay/types"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreBadger   = "badger"
	StorePostgres = "postgres"
)

// Config is the daemon configuration.
type Config struct {
	Env          string
	HTTPAddr     string
	LogLevel     string
	NetworksFile string

	StoreDriver string
	BadgerDir   string
	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CoinGeckoURL    string
	CoinGeckoAPIKey string
	PriceTTL        time.Duration
	PriceTimeout    time.Duration

	ToleranceRate      decimal.Decimal
	InvoiceTTL         time.Duration
	VerifyTimeout      time.Duration
	ScanTimeout        time.Duration
	ScanDepth          int
	RPCMaxAttempts     int
	RPCAttemptTimeout  time.Duration
	SubscriptionPeriod time.Duration
	SweepInterval      time.Duration
	MetricsEnabled     bool
}

// LoadEnv loads variables from .env files (".env" when none are given).
// Missing files are ignored; variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return types.WrapError(types.ErrConfigError, "load "+f, err)
		}
	}
	return nil
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Env:          GetEnv("CHAINPAY_ENV", "development"),
		HTTPAddr:     GetEnv("CHAINPAY_HTTP_ADDR", ":8080"),
		LogLevel:     GetEnv("CHAINPAY_LOG_LEVEL", "info"),
		NetworksFile: GetEnv("CHAINPAY_NETWORKS_FILE", "networks.yaml"),

		StoreDriver: strings.ToLower(GetEnv("CHAINPAY_STORE", StoreMemory)),
		BadgerDir:   GetEnv("CHAINPAY_BADGER_DIR", "data/invoices"),
		PostgresDSN: GetEnv("CHAINPAY_POSTGRES_DSN", ""),

		RedisAddr:     GetEnv("CHAINPAY_REDIS_ADDR", ""),
		RedisPassword: GetEnv("CHAINPAY_REDIS_PASSWORD", ""),
		RedisDB:       GetIntEnv("CHAINPAY_REDIS_DB", 0),

		CoinGeckoURL:    GetEnv("CHAINPAY_COINGECKO_URL", "https://api.coingecko.com/api/v3"),
		CoinGeckoAPIKey: GetEnv("CHAINPAY_COINGECKO_API_KEY", ""),
		PriceTTL:        GetDurationEnv("CHAINPAY_PRICE_TTL", time.Minute),
		PriceTimeout:    GetDurationEnv("CHAINPAY_PRICE_TIMEOUT", 10*time.Second),

		ToleranceRate:      GetDecimalEnv("CHAINPAY_TOLERANCE_RATE", decimal.RequireFromString("0.02")),
		InvoiceTTL:         GetDurationEnv("CHAINPAY_INVOICE_TTL", 30*time.Minute),
		VerifyTimeout:      GetDurationEnv("CHAINPAY_VERIFY_TIMEOUT", 30*time.Second),
		ScanTimeout:        GetDurationEnv("CHAINPAY_SCAN_TIMEOUT", 20*time.Second),
		ScanDepth:          GetIntEnv("CHAINPAY_SCAN_DEPTH", 100),
		RPCMaxAttempts:     GetIntEnv("CHAINPAY_RPC_MAX_ATTEMPTS", 3),
		RPCAttemptTimeout:  GetDurationEnv("CHAINPAY_RPC_ATTEMPT_TIMEOUT", 10*time.Second),
		SubscriptionPeriod: GetDurationEnv("CHAINPAY_SUBSCRIPTION_PERIOD", 30*24*time.Hour),
		SweepInterval:      GetDurationEnv("CHAINPAY_SWEEP_INTERVAL", time.Minute),
		MetricsEnabled:     GetBoolEnv("CHAINPAY_METRICS_ENABLED", true),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory, StoreBadger:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return types.NewError(types.ErrConfigError, "CHAINPAY_POSTGRES_DSN is required for the postgres store")
		}
	default:
		return types.Errorf(types.ErrConfigError, "unknown store driver %q", c.StoreDriver)
	}
	if c.ToleranceRate.IsNegative() || c.ToleranceRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return types.Errorf(types.ErrConfigError, "tolerance rate %s must be in [0, 1)", c.ToleranceRate)
	}
	if c.ScanDepth <= 0 {
		return types.Errorf(types.ErrConfigError, "scan depth must be positive, got %d", c.ScanDepth)
	}
	return nil
}

// IsProduction checks if the process runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// GetIntEnv returns an int environment variable or a default value.
func GetIntEnv(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetBoolEnv returns a bool environment variable or a default value.
func GetBoolEnv(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
	}
	return defaultVal
}

// GetDurationEnv returns a duration environment variable ("90s", "30m") or a
// default value.
func GetDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			return d
		}
	}
	return defaultVal
}

// GetDecimalEnv returns a decimal environment variable or a default value.
func GetDecimalEnv(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := decimal.NewFromString(strings.TrimSpace(val)); err == nil {
			return d
		}
	}
	return defaultVal
}
