package integration

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"digitbot-go/internal/bot"
	"digitbot-go/internal/config"
	"digitbot-go/internal/journal"
	"digitbot-go/internal/martingale"
	"digitbot-go/internal/risk"
	"digitbot-go/internal/store"
)

func simulationConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.Mode = config.ModeSimulation
	cfg.Broker.Provider = "stub"
	cfg.Broker.Symbols = []string{"R_100", "R_50"}
	cfg.Broker.FilterSymbols = true
	cfg.Broker.Token = "should-never-be-logged-1234"
	cfg.Ingest.StubIntervalMs = 2
	cfg.Store.Backend = store.BackendFile
	cfg.Store.Path = filepath.Join(t.TempDir(), "state.json")
	cfg.Journal.ExportPath = filepath.Join(t.TempDir(), "journal.jsonl")
	cfg.ApplyDefaults()

	cfg.Analysis.WindowSecs = 1
	cfg.Strategy.Params.MinGap = 0.01
	cfg.Strategy.Params.Confirmations = 1
	cfg.Strategy.Params.MinSamples = 1
	cfg.Martingale.MaxTrades = 2
	cfg.Martingale.TradeIntervalMs = 1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config invalid: %v", err)
	}
	return cfg
}

func TestSimulatedSessionJournalsTrades(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cfg := simulationConfig(t)
	var buf bytes.Buffer
	log := zerolog.New(zerolog.SyncWriter(&buf))

	rt, err := bot.Assemble(ctx, cfg, log)
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}

	var last martingale.Event
	rt.Session.Controller().Register(martingale.ObserverFunc(func(ev martingale.Event) { last = ev }))

	if err := rt.Session.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if last.Type != martingale.EventStopped || last.Reason != string(risk.MaxTradesReached) {
		t.Fatalf("expected stop on max trades, got %s (%s)", last.Type, last.Reason)
	}

	st := rt.Journal.Stats()
	if st.TotalTrades != 2 || st.Wins+st.Losses != 2 {
		t.Fatalf("expected 2 journaled trades, got %+v", st)
	}
	for _, e := range rt.Journal.Entries(0) {
		if e.Type == journal.TypeTrade && !e.Simulated {
			t.Fatalf("simulated trade journaled without label: %+v", e)
		}
	}

	if n := len(rt.Ledger.Snapshot()); n != 2 {
		t.Fatalf("expected 2 simulated settlements, got %d", n)
	}

	bal, currency, err := rt.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}
	want := decimal.NewFromFloat(cfg.Paper.StartingBalance).Add(st.TotalProfit)
	if currency != "VIRTUAL" || !bal.Equal(want) {
		t.Fatalf("unexpected balance %s %s", bal, currency)
	}
	if err := rt.Close(context.Background()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	if strings.Contains(buf.String(), "should-never-be-logged") {
		t.Fatalf("token leaked into logs")
	}
	if !strings.Contains(buf.String(), `"simulated":true`) {
		t.Fatalf("expected simulated trades in log output, got %s", buf.String())
	}

	kv, err := store.OpenFile(cfg.Store.Path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer kv.Close()
	reloaded := journal.New(context.Background(), cfg.Journal.Tab, kv, zerolog.Nop())
	if got := reloaded.Stats(); got.TotalTrades != st.TotalTrades || !got.TotalProfit.Equal(st.TotalProfit) {
		t.Fatalf("reloaded stats %+v differ from %+v", got, st)
	}
}
