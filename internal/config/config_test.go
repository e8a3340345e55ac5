package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	path := filepath.Join("testdata", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Name != "digitbot-test" {
		t.Fatalf("unexpected App.Name: %s", cfg.App.Name)
	}
	if len(cfg.Broker.Symbols) != 2 || cfg.Broker.Symbols[0] != "R_100" {
		t.Fatalf("unexpected symbols %+v", cfg.Broker.Symbols)
	}
	if !cfg.Broker.FilterSymbols {
		t.Fatalf("expected filter_symbols")
	}
	if cfg.Ingest.BufferSize != 120 || cfg.Ingest.HistoryCooldownSecs != 45 {
		t.Fatalf("unexpected ingest %+v", cfg.Ingest)
	}
	if cfg.Analysis.Pivot != 5 || cfg.Analysis.WindowSecs != 10 {
		t.Fatalf("unexpected analysis %+v", cfg.Analysis)
	}
	if cfg.Strategy.Mode != "over_under" || cfg.Strategy.Params.MinGap != 12 || cfg.Strategy.Params.MinPower != 55 {
		t.Fatalf("unexpected strategy %+v", cfg.Strategy)
	}
	if cfg.Multiplier("over_under") != 2.5 {
		t.Fatalf("expected configured multiplier 2.5, got %.2f", cfg.Multiplier("over_under"))
	}
	if cfg.Multiplier("differs") != 12 {
		t.Fatalf("expected default differs multiplier, got %.2f", cfg.Multiplier("differs"))
	}
	if cfg.Martingale.FailurePolicy != "halt" || cfg.Martingale.MaxTrades != 40 {
		t.Fatalf("unexpected martingale %+v", cfg.Martingale)
	}
	if cfg.Paper.PayoutRatios["DIGITMATCH"] != 8 {
		t.Fatalf("unexpected payout ratios %+v", cfg.Paper.PayoutRatios)
	}
	if cfg.Store.Backend != "memory" || cfg.Journal.Tab != "test" {
		t.Fatalf("unexpected store/journal %+v %+v", cfg.Store, cfg.Journal)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.App.Mode != ModeSimulation {
		t.Fatalf("expected simulation by default, got %s", cfg.App.Mode)
	}
	if cfg.Ingest.BufferSize != 100 || cfg.Ingest.HistoryCooldownSecs != 60 {
		t.Fatalf("unexpected ingest defaults %+v", cfg.Ingest)
	}
	if cfg.Analysis.Pivot != 4 || cfg.Analysis.MiddleLow != 3 || cfg.Analysis.MiddleHigh != 6 {
		t.Fatalf("unexpected analysis defaults %+v", cfg.Analysis)
	}
	p := cfg.Strategy.Params
	if p.MinGap != 15 || p.Confirmations != 2 || p.MinSamples != 20 || p.DiffersMaxPercent != 5 {
		t.Fatalf("unexpected strategy defaults %+v", p)
	}
	if cfg.Martingale.CapLevel != 5 || cfg.Martingale.TradeIntervalMs != 3000 {
		t.Fatalf("unexpected martingale defaults %+v", cfg.Martingale)
	}
	if cfg.Store.Path == "" {
		t.Fatalf("expected a default store path")
	}
}

func TestLoadEnvOverridesToken(t *testing.T) {
	t.Setenv(TokenEnv, "env-token-5678")
	t.Setenv(AppIDEnv, "4242")
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	cfg.LoadEnv(filepath.Join(t.TempDir(), "missing.env"))
	if cfg.Broker.Token != "env-token-5678" || cfg.Broker.AppID != "4242" {
		t.Fatalf("env not applied: %+v", cfg.Broker)
	}
	if got := cfg.Redacted().Broker.Token; got != "****5678" {
		t.Fatalf("expected masked token, got %s", got)
	}
	if cfg.Broker.Token != "env-token-5678" {
		t.Fatalf("Redacted must not mutate the original")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{Broker: Broker{Symbols: []string{"R_100"}}}
		cfg.ApplyDefaults()
		return cfg
	}
	cases := map[string]func(*Config){
		"mode":      func(c *Config) { c.App.Mode = "yolo" },
		"symbols":   func(c *Config) { c.Broker.Symbols = nil },
		"token":     func(c *Config) { c.App.Mode = ModeLive },
		"pivot":     func(c *Config) { c.Analysis.Pivot = 9 },
		"multipler": func(c *Config) { c.Martingale.Multipliers["even_odd"] = 20 },
		"policy":    func(c *Config) { c.Martingale.FailurePolicy = "pray" },
		"strategy":  func(c *Config) { c.Strategy.Mode = "rise_fall" },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestSaveNeverWritesToken(t *testing.T) {
	cfg := &Config{Broker: Broker{Symbols: []string{"R_100"}, Token: "secret-token-9999"}}
	cfg.ApplyDefaults()
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if reloaded.Broker.Token != "" {
		t.Fatalf("token leaked into saved config")
	}
	if strings.Join(reloaded.Broker.Symbols, ",") != "R_100" {
		t.Fatalf("unexpected symbols after round trip %+v", reloaded.Broker.Symbols)
	}
	if cfg.Broker.Token == "" {
		t.Fatalf("Save must not mutate the caller's config")
	}
}

func TestStrategyAliasesShareMultiplier(t *testing.T) {
	cfg := &Config{Broker: Broker{Symbols: []string{"R_100"}}, Strategy: Strategy{Mode: "OverUnder"}}
	cfg.Martingale.Multipliers = map[string]float64{"over_under": 3}
	cfg.ApplyDefaults()
	if cfg.Strategy.Mode != "over_under" {
		t.Fatalf("mode not normalized: %q", cfg.Strategy.Mode)
	}
	if got := cfg.Multiplier("overunder"); got != 3 {
		t.Fatalf("alias multiplier = %.2f, want 3", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("aliased mode should validate: %v", err)
	}
}
