package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/icms-refund/config"
	"github.com/warp/icms-refund/engine"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"ICMS_CONFIG", "PORT", "DB_PATH", "LOG_LEVEL", "RATE_MISS_POLICY", "VARIANCE_ENABLED", "VARIANCE_SEED"} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "icms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "icms.db", cfg.DBPath)
	assert.Equal(t, logrus.InfoLevel, cfg.Level())

	params, err := cfg.EngineParameters()
	require.NoError(t, err)
	assert.True(t, engine.DefaultParameters().TaxRate.Equal(params.TaxRate))

	ref, err := cfg.Reference()
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultReferenceDate, ref)

	cutoff, err := cfg.Cutoff()
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultGD1Cutoff, cutoff)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
port: 9090
db_path: /tmp/file.db
parameters:
  tariff_share: "0.70"
  wire_b_share: "0.30"
  tax_rate: "0.18"
reference_date: "2024-07-01"
miss_policy: fail-closed
`)
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port, "file overrides default")
	assert.Equal(t, ":memory:", cfg.DBPath, "env overrides file")
	assert.Equal(t, logrus.DebugLevel, cfg.Level())

	calc, err := cfg.Calculator(nil)
	require.NoError(t, err)
	assert.Equal(t, engine.MissFailClosed, calc.MissPolicy)
	assert.Equal(t, time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC), calc.ReferenceDate)
	assert.Equal(t, "0.18", calc.Params.TaxRate.String())
	assert.IsType(t, engine.NoVariance{}, calc.Variance)
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ICMS_CONFIG", writeFile(t, "port: 7000\n"))

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
}

func TestLoad_VarianceFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("VARIANCE_ENABLED", "true")
	t.Setenv("VARIANCE_SEED", "7")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Variance.Enabled)
	assert.Equal(t, int64(7), cfg.Variance.Seed)

	calc, err := cfg.Calculator(nil)
	require.NoError(t, err)
	assert.IsType(t, &engine.RandomVariance{}, calc.Variance)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "non-numeric port", env: map[string]string{"PORT": "http"}},
		{name: "port out of range", file: "port: 70000\n"},
		{name: "unknown log level", env: map[string]string{"LOG_LEVEL": "loud"}},
		{name: "unknown miss policy", env: map[string]string{"RATE_MISS_POLICY": "maybe"}},
		{name: "bad boolean", env: map[string]string{"VARIANCE_ENABLED": "sometimes"}},
		{name: "tax rate above one", file: "parameters: {tariff_share: \"0.73\", wire_b_share: \"0.27\", tax_rate: \"1.2\"}\n"},
		{name: "non-decimal parameter", file: "parameters: {tariff_share: \"abc\", wire_b_share: \"0.27\", tax_rate: \"0.2\"}\n"},
		{name: "bad reference date", file: "reference_date: \"01/06/2024\"\n"},
		{name: "spread of one", file: "variance: {enabled: true, spread: \"1\"}\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := ""
			if tc.file != "" {
				path = writeFile(t, tc.file)
			}

			_, err := config.Load(path)
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRates_DefaultAndFile(t *testing.T) {
	cfg := config.Default()

	table, err := cfg.Rates()
	require.NoError(t, err)
	assert.Equal(t, 60, table.Len())

	cfg.RateTable = writeFile(t, "version: test\nindex: IPCA\nrates:\n  - {year: 2025, month: 1, rate: \"0.5\"}\n")
	table, err = cfg.Rates()
	require.NoError(t, err)
	assert.Equal(t, "test", table.Version())
}
