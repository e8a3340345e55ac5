package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digitbot-go/internal/exchange"
	"digitbot-go/internal/execution"
	"digitbot-go/internal/journal"
	"digitbot-go/internal/market"
	"digitbot-go/internal/martingale"
	"digitbot-go/internal/paper"
	"digitbot-go/internal/risk"
	"digitbot-go/internal/signal"
	"digitbot-go/internal/store"
)

const testMarket = "R_100"

type alwaysEven struct{}

func (alwaysEven) Name() string { return "even_odd" }

func (alwaysEven) Analyze([]int) signal.Signal {
	return signal.Signal{Strategy: "even_odd", Status: signal.TradeNow, Side: signal.SideEven, Contract: signal.DigitEven, Probability: 60}
}

type blockingFeed struct{ released atomic.Bool }

func (f *blockingFeed) Run(ctx context.Context, _ chan<- signal.Tick) error {
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	f.released.Store(true)
	return ctx.Err()
}

type failingFeed struct{}

func (failingFeed) Run(context.Context, chan<- signal.Tick) error {
	return exchange.ErrAuth
}

// slowExecutor settles a win after delay unless its context ends first.
type slowExecutor struct {
	delay   time.Duration
	started chan struct{}
	once    sync.Once
}

func (e *slowExecutor) Execute(ctx context.Context, req execution.TradeRequest) (execution.TradeResult, error) {
	e.once.Do(func() { close(e.started) })
	select {
	case <-time.After(e.delay):
		return execution.TradeResult{Success: true, Result: execution.Win, Stake: req.Stake, Profit: req.Stake.Mul(decimal.RequireFromString("0.95"))}, nil
	case <-ctx.Done():
		return execution.TradeResult{}, fmt.Errorf("%w: outcome unknown: %v", exchange.ErrTrade, ctx.Err())
	}
}

func newTestSession(t *testing.T, feed TickSource, limits risk.Limits, opts ...func(*Deps)) (*Session, *journal.Journal, *paper.Account) {
	t.Helper()
	log := zerolog.Nop()
	hub := market.NewHub([]string{testMarket}, log)
	account := paper.NewAccount(decimal.NewFromInt(1000))
	sim := paper.NewSimulator(func(symbol string) (paper.TickSource, bool) {
		in, ok := hub.Ingestor(symbol)
		return in, ok
	}, account, log)
	ctrl := martingale.NewController("even_odd", testMarket, martingale.Config{
		BaseStake:  decimal.NewFromInt(1),
		Multiplier: 2,
		CapLevel:   5,
		Limits:     limits,
		Duration:   1,
		Currency:   "USD",
	}, log)
	j := journal.New(context.Background(), "test", store.NewMemory(), log)
	var history market.HistoryFetcher
	if f, ok := feed.(*exchange.Feed); ok {
		history = f
	}
	d := Deps{
		Feed:          feed,
		History:       history,
		Hub:           hub,
		Market:        testMarket,
		Strategy:      alwaysEven{},
		Controller:    ctrl,
		Executor:      sim,
		Journal:       j,
		TradeInterval: time.Millisecond,
		Log:           log,
	}
	for _, opt := range opts {
		opt(&d)
	}
	s, err := NewSession(d)
	require.NoError(t, err)
	return s, j, account
}

func TestSessionTradesUntilMaxTrades(t *testing.T) {
	feed := exchange.NewFeed(exchange.ProviderStub, []string{testMarket}, zerolog.Nop(), exchange.WithStubInterval(2*time.Millisecond))
	s, j, account := newTestSession(t, feed, risk.Limits{MaxTrades: 3})

	var events []martingale.EventType
	s.Controller().Register(martingale.ObserverFunc(func(ev martingale.Event) { events = append(events, ev.Type) }))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, martingale.Stopped, s.Controller().State())
	assert.Equal(t, string(risk.MaxTradesReached), s.Controller().StopReason())
	assert.Equal(t, 3, j.Stats().TotalTrades)
	assert.Contains(t, events, martingale.EventMaxTradesReached)
	assert.Equal(t, martingale.EventStopped, events[len(events)-1])

	var analysis int
	for _, e := range j.Entries(0) {
		if e.Type == journal.TypeAnalysis {
			analysis++
		}
		if e.Type == journal.TypeTrade {
			assert.True(t, e.Simulated)
		}
	}
	assert.Equal(t, 1, analysis, "analysis is journaled on status change only")

	snap := account.Snapshot()
	assert.True(t, snap.OpenStakes.IsZero())
	assert.True(t, snap.Balance.Equal(decimal.NewFromInt(1000).Add(snap.RealizedPnL)))
}

func TestSessionCancelWaitsForFeed(t *testing.T) {
	feed := &blockingFeed{}
	s, _, _ := newTestSession(t, feed, risk.Limits{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, feed.released.Load(), "feed must release its subscriptions before Run returns")
	assert.Equal(t, martingale.Stopped, s.Controller().State())
	assert.Equal(t, "shutdown", s.Controller().StopReason())
}

func TestSessionSurfacesFeedFailure(t *testing.T) {
	s, _, _ := newTestSession(t, failingFeed{}, risk.Limits{})
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, exchange.ErrAuth))
}

func TestNewSessionRejectsUnroutedMarket(t *testing.T) {
	log := zerolog.Nop()
	_, err := NewSession(Deps{
		Feed:       failingFeed{},
		Hub:        market.NewHub([]string{"R_50"}, log),
		Market:     testMarket,
		Strategy:   alwaysEven{},
		Controller: martingale.NewController("even_odd", testMarket, martingale.Config{}, log),
		Executor:   paper.NewSimulator(nil, paper.NewAccount(decimal.Zero), log),
		Journal:    journal.New(context.Background(), "t", store.NewMemory(), log),
	})
	require.Error(t, err)
}

func TestSessionCancelSettlesInFlightTrade(t *testing.T) {
	feed := exchange.NewFeed(exchange.ProviderStub, []string{testMarket}, zerolog.Nop(), exchange.WithStubInterval(2*time.Millisecond))
	exec := &slowExecutor{delay: 50 * time.Millisecond, started: make(chan struct{})}
	s, j, _ := newTestSession(t, feed, risk.Limits{}, func(d *Deps) { d.Executor = exec })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-exec.started
		cancel()
	}()
	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	session := s.Controller().Session()
	assert.Equal(t, 1, session.TradesExecuted)
	assert.Equal(t, 0, session.ConsecutiveFailures)
	assert.Equal(t, 1, j.Stats().TotalTrades)
	assert.Equal(t, 1, j.Stats().Wins)
	assert.False(t, s.Controller().Pending())
}

func TestSessionCancelLeavesNoSimulatedStakeOpen(t *testing.T) {
	feed := exchange.NewFeed(exchange.ProviderStub, []string{testMarket}, zerolog.Nop(), exchange.WithStubInterval(5*time.Millisecond))
	s, j, account := newTestSession(t, feed, risk.Limits{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for account.Snapshot().OpenStakes.IsZero() {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	require.ErrorIs(t, s.Run(ctx), context.Canceled)

	assert.True(t, account.Snapshot().OpenStakes.IsZero())
	assert.Equal(t, 0, s.Controller().Session().ConsecutiveFailures)
	assert.Equal(t, s.Controller().Session().TradesExecuted, j.Stats().TotalTrades)
	assert.GreaterOrEqual(t, j.Stats().TotalTrades, 1)
}
