package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/chainpay/types"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, "0.02", cfg.ToleranceRate.String())
	assert.Equal(t, 30*time.Minute, cfg.InvoiceTTL)
	assert.Equal(t, 20*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 100, cfg.ScanDepth)
	assert.Equal(t, 3, cfg.RPCMaxAttempts)
	assert.Equal(t, 30*24*time.Hour, cfg.SubscriptionPeriod)
	assert.True(t, cfg.MetricsEnabled)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHAINPAY_ENV", "production")
	t.Setenv("CHAINPAY_STORE", "Badger")
	t.Setenv("CHAINPAY_TOLERANCE_RATE", "0.01")
	t.Setenv("CHAINPAY_INVOICE_TTL", "45m")
	t.Setenv("CHAINPAY_SCAN_DEPTH", "250")
	t.Setenv("CHAINPAY_METRICS_ENABLED", "false")
	t.Setenv("CHAINPAY_RPC_MAX_ATTEMPTS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, StoreBadger, cfg.StoreDriver)
	assert.Equal(t, "0.01", cfg.ToleranceRate.String())
	assert.Equal(t, 45*time.Minute, cfg.InvoiceTTL)
	assert.Equal(t, 250, cfg.ScanDepth)
	assert.False(t, cfg.MetricsEnabled)
	assert.Equal(t, 3, cfg.RPCMaxAttempts)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"CHAINPAY_STORE": "mysql"}},
		{"postgres without dsn", map[string]string{"CHAINPAY_STORE": "postgres"}},
		{"tolerance too high", map[string]string{"CHAINPAY_TOLERANCE_RATE": "1.5"}},
		{"negative tolerance", map[string]string{"CHAINPAY_TOLERANCE_RATE": "-0.1"}},
		{"zero depth", map[string]string{"CHAINPAY_SCAN_DEPTH": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, types.ErrConfigError, types.CodeOf(err))
		})
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CHAINPAY_TEST_LOADENV=from-file\nCHAINPAY_TEST_PRESET=from-file\n"), 0o600))

	t.Setenv("CHAINPAY_TEST_PRESET", "from-env")
	t.Cleanup(func() { os.Unsetenv("CHAINPAY_TEST_LOADENV") })

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "from-file", GetEnv("CHAINPAY_TEST_LOADENV", ""))
	assert.Equal(t, "from-env", GetEnv("CHAINPAY_TEST_PRESET", ""))

	assert.NoError(t, LoadEnv(filepath.Join(dir, "missing.env")))
}
