// Package config decodes the root YAML configuration tree: storage
// root, per-exchange connector limits, broker defaults, the execution
// overlay, experiment defaults, and the optional ops-server bind
// address — one struct-tag-plus-Validate tree in the same idiom
// internal/config/providers.go used for provider/budget configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigError means the root config is missing a required field or
// holds an out-of-range value. User-level, non-retriable.
type ConfigError struct {
	Field  string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Detail)
}

// ExchangeConfig is one venue connector's credentials and rate limits.
type ExchangeConfig struct {
	Name        string  `yaml:"name"`
	BaseURL     string  `yaml:"base_url"`
	RPS         float64 `yaml:"rps"`
	Burst       int     `yaml:"burst"`
	DailyBudget int     `yaml:"daily_budget"`
	APIKey      string  `yaml:"api_key"`
	APISecret   string  `yaml:"api_secret"`
}

func (c ExchangeConfig) validate() error {
	if c.Name == "" {
		return &ConfigError{Field: "exchanges[].name", Detail: "cannot be empty"}
	}
	if c.RPS <= 0 {
		return &ConfigError{Field: fmt.Sprintf("exchanges[%s].rps", c.Name), Detail: "must be positive"}
	}
	if c.Burst < int(c.RPS) {
		return &ConfigError{Field: fmt.Sprintf("exchanges[%s].burst", c.Name), Detail: "must be >= rps"}
	}
	return nil
}

// StorageConfig is the on-disk content-addressed cache root.
type StorageConfig struct {
	Root string `yaml:"root"`
}

func (c StorageConfig) validate() error {
	if c.Root == "" {
		return &ConfigError{Field: "storage.root", Detail: "cannot be empty"}
	}
	return nil
}

// BrokerConfig carries the simulated-account defaults a backtest run
// starts from, overridable per strategy invocation.
type BrokerConfig struct {
	StartingCash          float64 `yaml:"starting_cash"`
	FeeRate               float64 `yaml:"fee_rate"`
	Leverage              float64 `yaml:"leverage"`
	MaintenanceMarginRate float64 `yaml:"maintenance_margin_rate"`
	SlippageRate          float64 `yaml:"slippage_rate"`
}

func (c BrokerConfig) validate() error {
	if c.StartingCash <= 0 {
		return &ConfigError{Field: "broker.starting_cash", Detail: "must be positive"}
	}
	if c.Leverage <= 0 {
		return &ConfigError{Field: "broker.leverage", Detail: "must be positive"}
	}
	if c.MaintenanceMarginRate < 0 || c.MaintenanceMarginRate >= 1 {
		return &ConfigError{Field: "broker.maintenance_margin_rate", Detail: "must be in [0,1)"}
	}
	return nil
}

// ExecutionFeeTierConfig is one VIP tier's maker/taker bps, YAML shape
// for execution.FeeTier.
type ExecutionFeeTierConfig struct {
	VIPLevel int     `yaml:"vip_level"`
	MakerBps float64 `yaml:"maker_bps"`
	TakerBps float64 `yaml:"taker_bps"`
}

// ExecutionVolumeTierConfig is one notional bucket's slippage bps, YAML
// shape for execution.VolumeTier.
type ExecutionVolumeTierConfig struct {
	MinNotional float64 `yaml:"min_notional"`
	Bps         float64 `yaml:"bps"`
}

// ExecutionConfig is the YAML shape of execution.Config, decoded
// separately so the execution package has no YAML dependency of its own.
type ExecutionConfig struct {
	Enabled            bool                        `yaml:"enabled"`
	VIPLevel           int                         `yaml:"vip_level"`
	FundingEnabled     bool                        `yaml:"funding_enabled"`
	FeeTiers           []ExecutionFeeTierConfig    `yaml:"fee_tiers"`
	SlippageModel      string                      `yaml:"slippage_model"`
	SlippageFixedBps   float64                     `yaml:"slippage_fixed_bps"`
	VolumeTiers        []ExecutionVolumeTierConfig `yaml:"volume_tiers"`
	BaselineVolatility float64                     `yaml:"baseline_volatility"`
}

// ExperimentConfig is decoded and validated (parallel_workers may not be
// negative), but no command reads it: a sweep takes every setting from
// its own experiment file.
type ExperimentConfig struct {
	CheckpointDir   string `yaml:"checkpoint_dir"`
	ParallelWorkers int    `yaml:"parallel_workers"`
}

// RiskConfig is the YAML shape of stops.Config, decoded separately so
// internal/risk/stops stays free of a YAML dependency. Disabled by
// default: a strategy that manages its own exits needs no stop
// manager, per §4.9's "engine works with a nil StopManager too".
type RiskConfig struct {
	Enabled               bool    `yaml:"enabled"`
	StopType              string  `yaml:"stop_type"`
	FixedStopPct          float64 `yaml:"fixed_stop_pct"`
	ATRPeriod             int     `yaml:"atr_period"`
	ATRMultiplier         float64 `yaml:"atr_multiplier"`
	TrailingActivationPct float64 `yaml:"trailing_activation_pct"`
	TrailingDistancePct   float64 `yaml:"trailing_distance_pct"`
	TakeProfitType        string  `yaml:"take_profit_type"`
	FixedTakeProfitPct    float64 `yaml:"fixed_take_profit_pct"`
	RiskRewardRatio       float64 `yaml:"risk_reward_ratio"`
}

// OpsConfig is the optional HTTP ops surface's bind address; empty
// disables the server entirely.
type OpsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the root of the YAML configuration tree.
type Config struct {
	Storage    StorageConfig      `yaml:"storage"`
	Exchanges  []ExchangeConfig   `yaml:"exchanges"`
	Broker     BrokerConfig       `yaml:"broker"`
	Execution  ExecutionConfig    `yaml:"execution"`
	Experiment ExperimentConfig   `yaml:"experiment"`
	Risk       RiskConfig         `yaml:"risk"`
	Ops        OpsConfig          `yaml:"ops"`
}

// Load reads and decodes path, then Validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the required-field and range invariants across the
// whole tree, returning the first violation found as a *ConfigError.
func (c *Config) Validate() error {
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if len(c.Exchanges) == 0 {
		return &ConfigError{Field: "exchanges", Detail: "at least one exchange must be configured"}
	}
	seen := map[string]bool{}
	for _, ex := range c.Exchanges {
		if err := ex.validate(); err != nil {
			return err
		}
		if seen[ex.Name] {
			return &ConfigError{Field: "exchanges", Detail: fmt.Sprintf("duplicate exchange name %q", ex.Name)}
		}
		seen[ex.Name] = true
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if c.Experiment.ParallelWorkers < 0 {
		return &ConfigError{Field: "experiment.parallel_workers", Detail: "cannot be negative"}
	}
	return nil
}
