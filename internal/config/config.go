// Package config loads and validates the quantfolio platform configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the quantfolio platform.
type Config struct {
	Storage      Storage      `yaml:"storage"`
	Alpaca       Alpaca       `yaml:"alpaca"`
	Logging      Logging      `yaml:"logging"`
	Backtest     Backtest     `yaml:"backtest"`
	Strategy     Strategy     `yaml:"strategy"`
	Notification Notification `yaml:"notification"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir          string `yaml:"data_dir"`
	SQLitePath       string `yaml:"sqlite_path"`
	CacheExpiryHours int    `yaml:"cache_expiry_hours"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Backtest holds default simulation parameters. Individual runs may override
// them, but every run is validated against the same bounds.
type Backtest struct {
	InitialCapital  float64 `yaml:"initial_capital"`
	RebalanceFreq   string  `yaml:"rebalance_freq"`
	CommissionFixed float64 `yaml:"commission_fixed"`
	CommissionPct   float64 `yaml:"commission_pct"`
	SlippagePct     float64 `yaml:"slippage_pct"`
	RiskFreeRate    float64 `yaml:"risk_free_rate"`
	MinTradeValue   float64 `yaml:"min_trade_value"`
}

// Strategy controls sandboxed script execution.
type Strategy struct {
	TimeoutSeconds  int `yaml:"timeout_seconds"`
	LookbackDays    int `yaml:"lookback_days"`
	MaxLookbackDays int `yaml:"max_lookback_days"`
}

// Notification configures the periodic strategy check scheduler.
type Notification struct {
	Enabled       bool           `yaml:"enabled"`
	Frequency     string         `yaml:"frequency"` // daily or weekly
	CheckTime     string         `yaml:"check_time"`
	Subscriptions []Subscription `yaml:"subscriptions"`
}

// Subscription binds a stored strategy to a stored portfolio for periodic
// drift checks.
type Subscription struct {
	StrategyName  string  `yaml:"strategy_name"`
	PortfolioName string  `yaml:"portfolio_name"`
	Enabled       bool    `yaml:"enabled"`
	ThresholdPct  float64 `yaml:"threshold_pct"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a Config populated with the platform defaults. Loading a
// file overlays on top of these values.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:          "data",
			SQLitePath:       "data/quantfolio.db",
			CacheExpiryHours: 24,
		},
		Logging: Logging{Level: "info", Format: "json"},
		Backtest: Backtest{
			InitialCapital:  100000,
			RebalanceFreq:   "monthly",
			CommissionFixed: 0,
			CommissionPct:   0.001,
			SlippagePct:     0.001,
			RiskFreeRate:    0.03,
			MinTradeValue:   100,
		},
		Strategy: Strategy{
			TimeoutSeconds:  10,
			LookbackDays:    252,
			MaxLookbackDays: 1260,
		},
		Notification: Notification{
			Frequency: "daily",
			CheckTime: "09:30",
		},
	}
}

// Load reads the YAML configuration file at the given path, overlays it on
// the defaults, applies environment variable overrides, and validates the
// result. A missing file is not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// No file: defaults plus env overrides.
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	// Canonical Alpaca env vars, same names the SDK reads. These win over
	// the ALPACA_* variants above.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks that all configured parameters are inside their allowed
// bounds. Violations fail fast, before any run starts.
func (c *Config) Validate() error {
	b := c.Backtest
	if b.InitialCapital <= 0 {
		return fmt.Errorf("config: initial_capital must be positive, got %v", b.InitialCapital)
	}
	if b.CommissionFixed < 0 {
		return fmt.Errorf("config: commission_fixed must be non-negative, got %v", b.CommissionFixed)
	}
	if b.CommissionPct < 0 || b.CommissionPct > 0.1 {
		return fmt.Errorf("config: commission_pct must be in [0, 0.1], got %v", b.CommissionPct)
	}
	if b.SlippagePct < 0 || b.SlippagePct > 0.1 {
		return fmt.Errorf("config: slippage_pct must be in [0, 0.1], got %v", b.SlippagePct)
	}
	switch b.RebalanceFreq {
	case "daily", "weekly", "monthly", "quarterly":
	default:
		return fmt.Errorf("config: unknown rebalance_freq %q", b.RebalanceFreq)
	}

	if c.Strategy.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: strategy timeout_seconds must be positive, got %d", c.Strategy.TimeoutSeconds)
	}
	if c.Strategy.LookbackDays <= 0 || c.Strategy.LookbackDays > c.Strategy.MaxLookbackDays {
		return fmt.Errorf("config: lookback_days must be in (0, %d], got %d",
			c.Strategy.MaxLookbackDays, c.Strategy.LookbackDays)
	}
	return nil
}
