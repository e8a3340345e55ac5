package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"digitbot-go/internal/config"
	"digitbot-go/internal/exchange"
	"digitbot-go/internal/execution"
	"digitbot-go/internal/journal"
	"digitbot-go/internal/market"
	"digitbot-go/internal/martingale"
	"digitbot-go/internal/paper"
	"digitbot-go/internal/risk"
	"digitbot-go/internal/signal"
	"digitbot-go/internal/stats"
	"digitbot-go/internal/store"
	"digitbot-go/internal/strategy"
)

// Runtime is a session plus the resources built for it.
type Runtime struct {
	Session *Session
	Journal *journal.Journal
	Store   store.KV
	Hub     *market.Hub

	// Ledger lists simulated settlements; nil in live mode.
	Ledger *paper.Ledger

	client  *exchange.Client
	account *paper.Account
	log     zerolog.Logger
	closers []func(ctx context.Context) error
}

// Assemble builds everything a session needs from cfg. Close must be called afterwards.
func Assemble(ctx context.Context, cfg *config.Config, log zerolog.Logger) (rt *Runtime, err error) {
	rt = &Runtime{log: log}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	rt.Store = openStore(ctx, cfg, log)
	rt.closers = append(rt.closers, func(context.Context) error { return rt.Store.Close() })
	if cfg.Store.EvictStale {
		n, err := store.EvictStale(ctx, rt.Store, store.StaleAfter, time.Now())
		if err != nil {
			log.Warn().Err(err).Msg("stale eviction failed")
		} else if n > 0 {
			log.Info().Int("evicted", n).Msg("evicted stale records")
		}
	}

	endpoint := exchange.Endpoint(cfg.Broker.Endpoint, cfg.Broker.AppID)
	clientOpts := []exchange.ClientOption{
		exchange.WithRequestTimeout(time.Duration(cfg.Broker.RequestTimeoutMs) * time.Millisecond),
	}
	feed := exchange.NewFeed(cfg.Broker.Provider, cfg.Broker.Symbols, log,
		exchange.WithEndpoint(endpoint),
		exchange.WithStubInterval(time.Duration(cfg.Ingest.StubIntervalMs)*time.Millisecond),
		exchange.WithClientOptions(clientOpts...),
	)

	if cfg.App.Mode == config.ModeLive {
		rt.client = exchange.NewClient(endpoint, cfg.Broker.Token, log, clientOpts...)
		if err := rt.client.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect trading session: %w", err)
		}
		rt.closers = append(rt.closers, rt.client.Shutdown)
	}

	symbols := feed.Symbols()
	if cfg.Broker.FilterSymbols {
		symbols, err = filterSymbols(ctx, rt, feed, cfg.Broker.Provider, endpoint)
		if err != nil {
			return nil, err
		}
		if len(symbols) == 0 {
			return nil, fmt.Errorf("%w: none of %v is tradable", exchange.ErrData, cfg.Broker.Symbols)
		}
		feed.SetSymbols(symbols)
	}
	traded := cfg.Broker.Symbols[0]
	if !contains(symbols, traded) {
		traded = symbols[0]
	}

	rt.Hub = market.NewHub(symbols, log,
		market.WithCapacity(cfg.Ingest.BufferSize),
		market.WithHistoryCooldown(time.Duration(cfg.Ingest.HistoryCooldownSecs)*time.Second),
		market.WithStatsOptions(stats.Options{Pivot: cfg.Analysis.Pivot, MiddleLow: cfg.Analysis.MiddleLow, MiddleHigh: cfg.Analysis.MiddleHigh}),
	)

	strat, err := strategy.Build(cfg.Strategy.Mode, StrategyParams(cfg))
	if err != nil {
		return nil, err
	}
	ctrl := martingale.NewController(strat.Name(), traded, ControllerConfig(cfg), log, martingale.WithStore(rt.Store))
	if cfg.Martingale.Resume {
		if ok, err := ctrl.Restore(ctx); err != nil {
			log.Warn().Err(err).Msg("session state not restored")
		} else if ok {
			log.Info().Str("key", ctrl.Key()).Msg("resuming persisted session")
		}
	}

	executor := rt.executor(cfg)

	var jopts []journal.Option
	if cfg.Journal.ExportPath != "" {
		rec, err := journal.NewJSONLRecorder(cfg.Journal.ExportPath)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Journal.ExportPath).Msg("journal export disabled")
		} else {
			jopts = append(jopts, journal.WithRecorder(rec))
			rt.closers = append(rt.closers, func(context.Context) error { return rec.Close() })
		}
	}
	rt.Journal = journal.New(ctx, cfg.Journal.Tab, rt.Store, log, jopts...)

	rt.Session, err = NewSession(Deps{
		Feed:          feed,
		History:       feed,
		Hub:           rt.Hub,
		Market:        traded,
		Strategy:      strat,
		Controller:    ctrl,
		Executor:      executor,
		Journal:       rt.Journal,
		TradeInterval: time.Duration(cfg.Martingale.TradeIntervalMs) * time.Millisecond,
		Log:           log,
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) executor(cfg *config.Config) execution.Executor {
	if rt.client != nil {
		return execution.NewLive(rt.client, rt.log)
	}
	rt.account = paper.NewAccount(decimal.NewFromFloat(cfg.Paper.StartingBalance))
	rt.Ledger = paper.NewLedger(cfg.Martingale.MaxTrades)
	opts := []paper.Option{paper.WithHouseEdge(cfg.Paper.HouseEdge), paper.WithLedger(rt.Ledger)}
	for contract, ratio := range cfg.Paper.PayoutRatios {
		opts = append(opts, paper.WithPayoutRatio(signal.ContractType(contract), ratio))
	}
	hub := rt.Hub
	sources := func(symbol string) (paper.TickSource, bool) {
		in, ok := hub.Ingestor(symbol)
		if !ok {
			return nil, false
		}
		return in, true
	}
	rt.log.Warn().Msg("simulation mode: outcomes are settled locally against live ticks and are not broker confirmations")
	return paper.NewSimulator(sources, rt.account, rt.log, opts...)
}

// Balance reports the broker balance in live mode, or the virtual one in simulation.
func (rt *Runtime) Balance(ctx context.Context) (decimal.Decimal, string, error) {
	if rt.client != nil {
		bal, currency, err := rt.client.Balance(ctx)
		if err != nil {
			return decimal.Zero, "", err
		}
		return decimal.NewFromFloat(bal), currency, nil
	}
	if rt.account != nil {
		return rt.account.Balance(), "VIRTUAL", nil
	}
	return decimal.Zero, "", errors.New("no account")
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) store.KV {
	kv, err := store.Open(ctx, store.Options{
		Backend:   cfg.Store.Backend,
		Path:      cfg.Store.Path,
		RedisAddr: cfg.Store.RedisAddr,
		RedisDB:   cfg.Store.RedisDB,
		Prefix:    cfg.Store.Prefix,
	})
	if err != nil {
		log.Warn().Err(err).Str("backend", cfg.Store.Backend).Msg("store unavailable, keeping state in memory")
		return store.NewMemory()
	}
	return kv
}

// filterSymbols drops configured markets the broker does not list as open. The live provider
// needs its own short connection since the feed has not dialed yet.
func filterSymbols(ctx context.Context, rt *Runtime, feed *exchange.Feed, provider, endpoint string) ([]string, error) {
	var source market.SymbolSource = feed
	if provider == exchange.ProviderDeriv {
		if rt.client != nil {
			source = rt.client
		} else {
			meta := exchange.NewClient(endpoint, "", rt.log)
			if err := meta.Connect(ctx); err != nil {
				return nil, fmt.Errorf("connect for market metadata: %w", err)
			}
			defer func() { _ = meta.Shutdown(context.Background()) }()
			source = meta
		}
	}
	return market.NewCatalog(source, rt.Store, rt.log).Filter(ctx, feed.Symbols())
}

// StrategyParams maps config onto strategy knobs.
func StrategyParams(cfg *config.Config) strategy.Params {
	p := cfg.Strategy.Params
	return strategy.Params{
		MinGap:            p.MinGap,
		MinPower:          p.MinPower,
		Confirmations:     p.Confirmations,
		MinSamples:        p.MinSamples,
		Pivot:             cfg.Analysis.Pivot,
		DiffersMaxPercent: p.DiffersMaxPercent,
	}
}

// ControllerConfig maps config onto the stake controller.
func ControllerConfig(cfg *config.Config) martingale.Config {
	m := cfg.Martingale
	return martingale.Config{
		BaseStake:      decimal.NewFromFloat(m.BaseStake),
		Multiplier:     cfg.Multiplier(cfg.Strategy.Mode),
		CapLevel:       m.CapLevel,
		AnalysisWindow: time.Duration(cfg.Analysis.WindowSecs) * time.Second,
		Limits: risk.Limits{
			TargetProfit: decimal.NewFromFloat(m.TargetProfit),
			MaxLoss:      decimal.NewFromFloat(m.MaxLoss),
			MaxTrades:    m.MaxTrades,
			MaxStake:     decimal.NewFromFloat(m.MaxStake),
		},
		FailurePolicy: m.FailurePolicy,
		MaxRetries:    m.MaxRetries,
		Duration:      m.Duration,
		DurationUnit:  m.DurationUnit,
		Currency:      cfg.Broker.Currency,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
