// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"digitbot-go/internal/strategy"
	"digitbot-go/internal/util"
)

// Execution modes.
const (
	ModeLive       = "live"
	ModeSimulation = "simulation"
)

// TokenEnv and AppIDEnv override the broker credentials from the environment or a .env file.
const (
	TokenEnv = "DERIV_API_TOKEN"
	AppIDEnv = "DERIV_APP_ID"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	Mode        string `yaml:"mode"`
}

// Broker describes the WebSocket API connection and the markets to follow.
type Broker struct {
	Provider         string   `yaml:"provider"`
	Endpoint         string   `yaml:"endpoint"`
	AppID            string   `yaml:"app_id"`
	Token            string   `yaml:"token"`
	Currency         string   `yaml:"currency"`
	Symbols          []string `yaml:"symbols"`
	RequestTimeoutMs int      `yaml:"request_timeout_ms"`
	FilterSymbols    bool     `yaml:"filter_symbols"`
}

// Ingest sizes the rolling buffers and throttles history fetches.
type Ingest struct {
	BufferSize          int `yaml:"buffer_size"`
	HistoryCooldownSecs int `yaml:"history_cooldown_secs"`
	StubIntervalMs      int `yaml:"stub_interval_ms"`
}

// Analysis configures digit statistics.
type Analysis struct {
	Pivot      int `yaml:"pivot"`
	MiddleLow  int `yaml:"middle_low"`
	MiddleHigh int `yaml:"middle_high"`
	WindowSecs int `yaml:"window_secs"`
}

// StrategyParams groups tunable knobs for a strategy implementation.
type StrategyParams struct {
	MinGap            float64 `yaml:"min_gap"`
	MinPower          float64 `yaml:"min_power"`
	Confirmations     int     `yaml:"confirmations"`
	MinSamples        int     `yaml:"min_samples"`
	DiffersMaxPercent float64 `yaml:"differs_max_percent"`
}

// Strategy specifies which strategy is active along with the parameter bundle.
type Strategy struct {
	Mode   string         `yaml:"mode"`
	Params StrategyParams `yaml:"params"`
}

// Martingale configures stake sizing and stop limits.
type Martingale struct {
	BaseStake       float64            `yaml:"base_stake"`
	Multipliers     map[string]float64 `yaml:"multipliers"`
	CapLevel        int                `yaml:"cap_level"`
	TargetProfit    float64            `yaml:"target_profit"`
	MaxLoss         float64            `yaml:"max_loss"`
	MaxTrades       int                `yaml:"max_trades"`
	MaxStake        float64            `yaml:"max_stake"`
	FailurePolicy   string             `yaml:"failure_policy"`
	MaxRetries      int                `yaml:"max_retries"`
	TradeIntervalMs int                `yaml:"trade_interval_ms"`
	Duration        int                `yaml:"duration"`
	DurationUnit    string             `yaml:"duration_unit"`
	Resume          bool               `yaml:"resume"`
}

// Paper captures simulation-mode account settings.
type Paper struct {
	StartingBalance float64            `yaml:"starting_balance"`
	HouseEdge       float64            `yaml:"house_edge"`
	PayoutRatios    map[string]float64 `yaml:"payout_ratios"`
}

// Journal names the journal tab and optional JSONL export.
type Journal struct {
	Tab        string `yaml:"tab"`
	ExportPath string `yaml:"export_path"`
}

// Store selects the local persistence backend.
type Store struct {
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db"`
	Prefix     string `yaml:"prefix"`
	EvictStale bool   `yaml:"evict_stale"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	Broker     Broker     `yaml:"broker"`
	Ingest     Ingest     `yaml:"ingest"`
	Analysis   Analysis   `yaml:"analysis"`
	Strategy   Strategy   `yaml:"strategy"`
	Martingale Martingale `yaml:"martingale"`
	Paper      Paper      `yaml:"paper"`
	Journal    Journal    `yaml:"journal"`
	Store      Store      `yaml:"store"`
}

// DefaultMultipliers are per strategy, reflecting each contract's payout odds.
var DefaultMultipliers = map[string]float64{
	strategy.ModeEvenOdd:   2.1,
	strategy.ModeOverUnder: 2.1,
	strategy.ModeDiffers:   12,
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.ApplyDefaults()
	return &config, nil
}

// Save persists a Config struct to disk as YAML. The token is never written.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	out := *cfg
	out.Broker.Token = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// LoadEnv overlays credentials from the environment, reading .env files first (best-effort).
func (c *Config) LoadEnv(files ...string) {
	_ = godotenv.Load(files...)
	if v := strings.TrimSpace(os.Getenv(TokenEnv)); v != "" {
		c.Broker.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(AppIDEnv)); v != "" {
		c.Broker.AppID = v
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "digitbot"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.Mode == "" {
		c.App.Mode = ModeSimulation
	}
	if c.Broker.Provider == "" {
		c.Broker.Provider = "deriv"
	}
	if c.Broker.Currency == "" {
		c.Broker.Currency = "USD"
	}
	if c.Broker.RequestTimeoutMs <= 0 {
		c.Broker.RequestTimeoutMs = 15000
	}
	if c.Ingest.BufferSize <= 0 {
		c.Ingest.BufferSize = 100
	}
	if c.Ingest.HistoryCooldownSecs <= 0 {
		c.Ingest.HistoryCooldownSecs = 60
	}
	if c.Ingest.StubIntervalMs <= 0 {
		c.Ingest.StubIntervalMs = 1000
	}
	if c.Analysis.Pivot == 0 && c.Analysis.MiddleLow == 0 && c.Analysis.MiddleHigh == 0 {
		c.Analysis.Pivot, c.Analysis.MiddleLow, c.Analysis.MiddleHigh = 4, 3, 6
	}
	if c.Analysis.WindowSecs <= 0 {
		c.Analysis.WindowSecs = 30
	}
	if mode, ok := strategy.Normalize(c.Strategy.Mode); ok {
		c.Strategy.Mode = mode
	}
	p := &c.Strategy.Params
	if p.MinGap <= 0 {
		p.MinGap = 15
	}
	if p.Confirmations <= 0 {
		p.Confirmations = 2
	}
	if p.MinSamples <= 0 {
		p.MinSamples = 20
	}
	if p.DiffersMaxPercent <= 0 {
		p.DiffersMaxPercent = 5
	}
	m := &c.Martingale
	if m.BaseStake <= 0 {
		m.BaseStake = 1
	}
	if m.Multipliers == nil {
		m.Multipliers = make(map[string]float64, len(DefaultMultipliers))
	}
	for mode, mult := range DefaultMultipliers {
		if _, ok := m.Multipliers[mode]; !ok {
			m.Multipliers[mode] = mult
		}
	}
	if m.CapLevel <= 0 {
		m.CapLevel = 5
	}
	if m.FailurePolicy == "" {
		m.FailurePolicy = "retry"
	}
	if m.MaxRetries <= 0 {
		m.MaxRetries = 3
	}
	if m.TradeIntervalMs <= 0 {
		m.TradeIntervalMs = 3000
	}
	if m.Duration <= 0 {
		m.Duration = 1
	}
	if m.DurationUnit == "" {
		m.DurationUnit = "t"
	}
	if c.Paper.StartingBalance <= 0 {
		c.Paper.StartingBalance = 10000
	}
	if c.Paper.HouseEdge <= 0 {
		c.Paper.HouseEdge = 0.025
	}
	if c.Journal.Tab == "" {
		c.Journal.Tab = "main"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "file"
	}
	if c.Store.Backend == "file" && c.Store.Path == "" {
		c.Store.Path = "data/digitbot.json"
	}
}

// Validate rejects settings the session cannot run with.
func (c *Config) Validate() error {
	switch c.App.Mode {
	case ModeLive, ModeSimulation:
	default:
		return fmt.Errorf("app.mode must be %q or %q, got %q", ModeLive, ModeSimulation, c.App.Mode)
	}
	if len(c.Broker.Symbols) == 0 {
		return fmt.Errorf("broker.symbols is empty")
	}
	if c.App.Mode == ModeLive && c.Broker.Token == "" {
		return fmt.Errorf("live mode needs a broker token (set %s)", TokenEnv)
	}
	if c.Analysis.Pivot < 0 || c.Analysis.Pivot > 8 {
		return fmt.Errorf("analysis.pivot must be within 0-8, got %d", c.Analysis.Pivot)
	}
	if _, ok := strategy.Normalize(c.Strategy.Mode); !ok {
		return fmt.Errorf("strategy.mode %q is not one of %s, %s, %s", c.Strategy.Mode, strategy.ModeEvenOdd, strategy.ModeOverUnder, strategy.ModeDiffers)
	}
	if mult := c.Multiplier(c.Strategy.Mode); mult < 1 || mult > 12 {
		return fmt.Errorf("martingale multiplier for %s must be within 1-12, got %.2f", c.Strategy.Mode, mult)
	}
	switch c.Martingale.FailurePolicy {
	case "retry", "halt":
	default:
		return fmt.Errorf("martingale.failure_policy must be retry or halt, got %q", c.Martingale.FailurePolicy)
	}
	return nil
}

// Multiplier returns the stake multiplier configured for a strategy mode or any of its aliases.
func (c *Config) Multiplier(mode string) float64 {
	if canonical, ok := strategy.Normalize(mode); ok {
		mode = canonical
	}
	if v, ok := c.Martingale.Multipliers[mode]; ok {
		return v
	}
	return DefaultMultipliers[mode]
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	out := *c
	out.Broker.Token = util.MaskToken(c.Broker.Token)
	return out
}
