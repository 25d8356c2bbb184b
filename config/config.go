/*
Package config loads the server configuration.

SOURCES (later wins):
  1. Built-in defaults (Default)
  2. YAML file named by ICMS_CONFIG, or the -config flag
  3. Environment: PORT, DB_PATH, LOG_LEVEL, RATE_MISS_POLICY,
     VARIANCE_ENABLED, VARIANCE_SEED
  4. Command-line flags in cmd/server

EXAMPLE FILE:
  port: 8080
  db_path: ./data/icms.db
  log_level: info
  parameters:
    tariff_share: "0.73"
    wire_b_share: "0.27"
    tax_rate: "0.2215"
  reference_date: 2024-06-01
  gd1_cutoff: 2023-01-06
  miss_policy: fail-open
  variance:
    enabled: false
    spread: "0.20"
    seed: 42
  rate_table: ""   # empty = embedded IPCA dataset

Regulatory parameters are decimal strings so they never pass through
float64.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/warp/icms-refund/engine"
	"github.com/warp/icms-refund/ratetable"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid")

// Parameters holds the regulatory factors as decimal strings.
type Parameters struct {
	TariffShare string `yaml:"tariff_share"`
	WireBShare  string `yaml:"wire_b_share"`
	TaxRate     string `yaml:"tax_rate"`
}

// Variance configures the optional consumption perturbation.
type Variance struct {
	Enabled bool   `yaml:"enabled"`
	Spread  string `yaml:"spread"`
	Seed    int64  `yaml:"seed"`
}

// Config is the full server configuration.
type Config struct {
	Port          int        `yaml:"port"`
	DBPath        string     `yaml:"db_path"`
	LogLevel      string     `yaml:"log_level"`
	Parameters    Parameters `yaml:"parameters"`
	ReferenceDate string     `yaml:"reference_date"`
	GD1Cutoff     string     `yaml:"gd1_cutoff"`
	MissPolicy    string     `yaml:"miss_policy"`
	Variance      Variance   `yaml:"variance"`
	RateTable     string     `yaml:"rate_table"`
}

// Default returns the built-in configuration.
func Default() Config {
	params := engine.DefaultParameters()
	return Config{
		Port:     8080,
		DBPath:   "icms.db",
		LogLevel: "info",
		Parameters: Parameters{
			TariffShare: params.TariffShare.String(),
			WireBShare:  params.WireBShare.String(),
			TaxRate:     params.TaxRate.String(),
		},
		ReferenceDate: engine.DefaultReferenceDate.Format(engine.DateLayout),
		GD1Cutoff:     engine.DefaultGD1Cutoff.Format(engine.DateLayout),
		MissPolicy:    string(engine.MissFailOpen),
		Variance: Variance{
			Spread: engine.DefaultSpread.String(),
		},
	}
}

// Load builds a Config from defaults, the optional YAML file at path and
// the environment. An empty path falls back to ICMS_CONFIG.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("ICMS_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PORT %q", ErrInvalidConfig, v)
		}
		c.Port = port
	}
	c.DBPath = getenvDefault("DB_PATH", c.DBPath)
	c.LogLevel = getenvDefault("LOG_LEVEL", c.LogLevel)
	c.MissPolicy = getenvDefault("RATE_MISS_POLICY", c.MissPolicy)

	if v := os.Getenv("VARIANCE_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: VARIANCE_ENABLED %q", ErrInvalidConfig, v)
		}
		c.Variance.Enabled = enabled
	}
	if v := os.Getenv("VARIANCE_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: VARIANCE_SEED %q", ErrInvalidConfig, v)
		}
		c.Variance.Seed = seed
	}
	return nil
}

// Validate checks every field that the server would otherwise reject at
// startup.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("%w: db_path required", ErrInvalidConfig)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	if _, err := c.EngineParameters(); err != nil {
		return err
	}
	if _, err := c.Reference(); err != nil {
		return err
	}
	if _, err := c.Cutoff(); err != nil {
		return err
	}
	if _, err := engine.ParseMissPolicy(c.MissPolicy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Variance.Enabled {
		spread, err := decimal.NewFromString(c.Variance.Spread)
		if err != nil || spread.IsNegative() || spread.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: variance spread %q must be in [0, 1)", ErrInvalidConfig, c.Variance.Spread)
		}
	}
	return nil
}

// =============================================================================
// ENGINE WIRING
// =============================================================================

// EngineParameters parses the regulatory factors.
func (c Config) EngineParameters() (engine.Parameters, error) {
	var p engine.Parameters
	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"tariff_share", c.Parameters.TariffShare, &p.TariffShare},
		{"wire_b_share", c.Parameters.WireBShare, &p.WireBShare},
		{"tax_rate", c.Parameters.TaxRate, &p.TaxRate},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.value)
		if err != nil {
			return p, fmt.Errorf("%w: parameters.%s %q", ErrInvalidConfig, f.name, f.value)
		}
		*f.dst = d
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return p, nil
}

// Reference returns the regulatory reference date.
func (c Config) Reference() (time.Time, error) {
	return parseConfigDate("reference_date", c.ReferenceDate)
}

// Cutoff returns the GD1/GD2 classification cutoff.
func (c Config) Cutoff() (time.Time, error) {
	return parseConfigDate("gd1_cutoff", c.GD1Cutoff)
}

// Level returns the logrus level, defaulting to info.
func (c Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Rates loads the configured table, or the embedded IPCA dataset.
func (c Config) Rates() (*ratetable.Table, error) {
	if c.RateTable == "" {
		return ratetable.Default(), nil
	}
	return ratetable.Load(c.RateTable)
}

// Calculator builds the engine configuration around rates.
func (c Config) Calculator(rates engine.RateSource) (engine.CalculatorConfig, error) {
	params, err := c.EngineParameters()
	if err != nil {
		return engine.CalculatorConfig{}, err
	}
	ref, err := c.Reference()
	if err != nil {
		return engine.CalculatorConfig{}, err
	}
	policy, err := engine.ParseMissPolicy(c.MissPolicy)
	if err != nil {
		return engine.CalculatorConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	var variance engine.Variance = engine.NoVariance{}
	if c.Variance.Enabled {
		spread, err := decimal.NewFromString(c.Variance.Spread)
		if err != nil {
			return engine.CalculatorConfig{}, fmt.Errorf("%w: variance spread %q", ErrInvalidConfig, c.Variance.Spread)
		}
		variance = engine.NewRandomVariance(c.Variance.Seed, spread)
	}

	return engine.CalculatorConfig{
		Rates:         rates,
		Params:        &params,
		ReferenceDate: ref,
		MissPolicy:    policy,
		Variance:      variance,
	}, nil
}

func parseConfigDate(field, value string) (time.Time, error) {
	t, err := time.Parse(engine.DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q", ErrInvalidConfig, field, value)
	}
	return t, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
