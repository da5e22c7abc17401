// Package config binds the YAML configuration surface onto typed Go
// structs, applying defaults in a single pass after unmarshal.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// IntervalConfig selects the trading and higher-context timeframes.
type IntervalConfig struct {
	Trading string `yaml:"trading"`
	HTF     string `yaml:"htf"`
	LTF     string `yaml:"ltf"`
}

// PLdotConfig configures the PLdot displacement (component B).
type PLdotConfig struct {
	Displacement int `yaml:"displacement"`
}

// EnvelopeConfig configures the PLdot-range envelope (component B).
type EnvelopeConfig struct {
	Period     int     `yaml:"period"`
	Multiplier float64 `yaml:"multiplier"`
}

// StateConfig configures the market-state classifier (component D).
type StateConfig struct {
	SlopeEpsilon float64 `yaml:"slope_epsilon"`
}

// PatternConfig configures the pattern detector (component E).
type PatternConfig struct {
	MinRR float64 `yaml:"min_rr"`
}

// CoordinatorConfig configures the multi-timeframe coordinator (component F).
type CoordinatorConfig struct {
	OverlapRatio float64 `yaml:"overlap_ratio"`
	TolerancePct float64 `yaml:"tolerance_pct"`
}

// SignalConfig configures the signal generator's confidence floors
// (component G).
type SignalConfig struct {
	MinConfidenceNotify float64 `yaml:"min_confidence_notify"`
	MinConfidenceAct    float64 `yaml:"min_confidence_act"`
}

// PortfolioConfig configures the backtest/live portfolio engine (component I).
type PortfolioConfig struct {
	InitialCapital  float64 `yaml:"initial_capital"`
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct"`
	MaxPositions    int     `yaml:"max_positions"`
	MaxTotalRiskPct float64 `yaml:"max_total_risk_pct"`
}

// ExecutionConfig configures simulated execution costs for the backtest.
type ExecutionConfig struct {
	CommissionPct float64 `yaml:"commission_pct"`
	SlippageBps   float64 `yaml:"slippage_bps"`
}

// SchedulerConfig configures the cron-driven live cycle (component J).
type SchedulerConfig struct {
	Cron            string `yaml:"cron"`
	MarketHoursOnly bool   `yaml:"market_hours_only"`
	CycleDeadlineS  int    `yaml:"cycle_deadline_s"`
	WorkerCap       int    `yaml:"worker_cap"`
}

// CacheConfig configures the calculation cache (component H).
type CacheConfig struct {
	MaxSize int `yaml:"max_size"`
	TTLS    int `yaml:"ttl_s"`
}

// EquitySamplerConfig configures the backtest equity curve sampler.
type EquitySamplerConfig struct {
	Enabled       bool    `yaml:"enabled"`
	IntervalBars  int     `yaml:"interval_bars"`
	MinChangePct  float64 `yaml:"min_change_pct"`
}

// NotifyConfig configures the notification router's sinks and thresholds.
type NotifyConfig struct {
	ChatMinConfidence    float64 `yaml:"chat_min_confidence"`
	WebhookMinConfidence float64 `yaml:"webhook_min_confidence"`
	ChatRatePerSec       float64 `yaml:"chat_rate_per_sec"`
	ChatBurst            int     `yaml:"chat_burst"`
	WebhookURL           string  `yaml:"webhook_url"`
}

// Config is the root configuration object bound from YAML.
type Config struct {
	Interval       IntervalConfig      `yaml:"interval"`
	PLdot          PLdotConfig         `yaml:"pldot"`
	Envelope       EnvelopeConfig      `yaml:"envelope"`
	State          StateConfig         `yaml:"state"`
	Pattern        PatternConfig       `yaml:"pattern"`
	Coordinator    CoordinatorConfig   `yaml:"coordinator"`
	Signal         SignalConfig        `yaml:"signal"`
	Portfolio      PortfolioConfig     `yaml:"portfolio"`
	Execution      ExecutionConfig     `yaml:"execution"`
	Scheduler      SchedulerConfig     `yaml:"scheduler"`
	Cache          CacheConfig         `yaml:"cache"`
	EquitySampler  EquitySamplerConfig `yaml:"equity_sampler"`
	Notify         NotifyConfig        `yaml:"notify"`
	ExchangeCode   string              `yaml:"exchange_code"`
	ExchangeTZ     string              `yaml:"exchange_timezone"`
}

// ApplyDefaults fills unset fields with their defaults: YAML overrides
// first, then any field left zero-valued is repaired here.
func (c *Config) ApplyDefaults() {
	if c.Interval.Trading == "" {
		c.Interval.Trading = "30m"
	}
	if c.Interval.HTF == "" {
		c.Interval.HTF = "1d"
	}
	if c.Interval.LTF == "" {
		c.Interval.LTF = "5m"
	}
	if c.PLdot.Displacement == 0 {
		c.PLdot.Displacement = 1
	}
	if c.Envelope.Period == 0 {
		c.Envelope.Period = 3
	}
	if c.Envelope.Multiplier == 0 {
		c.Envelope.Multiplier = 1.5
	}
	if c.State.SlopeEpsilon == 0 {
		c.State.SlopeEpsilon = 1e-4
	}
	if c.Pattern.MinRR == 0 {
		c.Pattern.MinRR = 1.5
	}
	if c.Coordinator.OverlapRatio == 0 {
		c.Coordinator.OverlapRatio = 0.5
	}
	if c.Coordinator.TolerancePct == 0 {
		c.Coordinator.TolerancePct = 0.002
	}
	if c.Signal.MinConfidenceNotify == 0 {
		c.Signal.MinConfidenceNotify = 0.5
	}
	if c.Signal.MinConfidenceAct == 0 {
		c.Signal.MinConfidenceAct = 0.65
	}
	if c.Portfolio.RiskPerTradePct == 0 {
		c.Portfolio.RiskPerTradePct = 0.02
	}
	if c.Portfolio.MaxPositions == 0 {
		c.Portfolio.MaxPositions = 20
	}
	if c.Portfolio.MaxTotalRiskPct == 0 {
		c.Portfolio.MaxTotalRiskPct = 0.10
	}
	if c.Execution.SlippageBps == 0 {
		c.Execution.SlippageBps = 2
	}
	if c.Scheduler.Cron == "" {
		c.Scheduler.Cron = "*/15 * * * *"
	}
	if c.Scheduler.CycleDeadlineS == 0 {
		c.Scheduler.CycleDeadlineS = 60
	}
	if c.Scheduler.WorkerCap == 0 {
		c.Scheduler.WorkerCap = 8
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = 2000
	}
	if c.Cache.TTLS == 0 {
		c.Cache.TTLS = 300
	}
	if c.EquitySampler.IntervalBars == 0 {
		c.EquitySampler.IntervalBars = 10
	}
	if c.EquitySampler.MinChangePct == 0 {
		c.EquitySampler.MinChangePct = 0.01
	}
	if c.Notify.ChatMinConfidence == 0 {
		c.Notify.ChatMinConfidence = 0.5
	}
	if c.Notify.WebhookMinConfidence == 0 {
		c.Notify.WebhookMinConfidence = 0.5
	}
	if c.Notify.ChatRatePerSec == 0 {
		c.Notify.ChatRatePerSec = 1
	}
	if c.Notify.ChatBurst == 0 {
		c.Notify.ChatBurst = 5
	}
	if c.ExchangeCode == "" {
		c.ExchangeCode = "XNYS"
	}
	if c.ExchangeTZ == "" {
		c.ExchangeTZ = "America/New_York"
	}
}

// CacheTTL returns the configured cache TTL as a time.Duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLS) * time.Second
}

// CycleDeadline returns the configured scheduler cycle deadline as a
// time.Duration.
func (c Config) CycleDeadline() time.Duration {
	return time.Duration(c.Scheduler.CycleDeadlineS) * time.Second
}

// Load reads YAML configuration from path and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a Config with every default applied and no YAML
// overrides, used by tests and by the CLI when no --config flag is given.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}
