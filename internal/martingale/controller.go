// Package martingale sizes stakes after each settlement and stops the session on its limits.
package martingale

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"digitbot-go/internal/execution"
	"digitbot-go/internal/metrics"
	"digitbot-go/internal/risk"
	"digitbot-go/internal/signal"
	"digitbot-go/internal/store"
)

// State is the controller lifecycle position.
type State string

const (
	Idle      State = "IDLE"
	Analyzing State = "ANALYZING"
	Trading   State = "TRADING"
	Stopped   State = "STOPPED"
)

// Failure policies for trades that never settled.
const (
	PolicyRetry = "retry"
	PolicyHalt  = "halt"
)

const (
	DefaultCapLevel   = 5
	DefaultMaxRetries = 3

	ReasonManual      = "manual"
	ReasonTradeFailed = "trade_failed"
)

var (
	ErrNotTrading   = errors.New("martingale: controller is not trading")
	ErrNotReady     = errors.New("martingale: signal is not actionable")
	ErrPending      = errors.New("martingale: a request is awaiting settlement")
	ErrNoPending    = errors.New("martingale: no request awaiting settlement")
	ErrInvalidState = errors.New("martingale: invalid state transition")
)

// Config parameterizes one controller.
type Config struct {
	BaseStake      decimal.Decimal
	Multiplier     float64
	CapLevel       int
	AnalysisWindow time.Duration
	Limits         risk.Limits
	FailurePolicy  string
	MaxRetries     int
	Duration       int
	DurationUnit   string
	Currency       string
}

func (c Config) normalized() Config {
	if !c.BaseStake.IsPositive() {
		c.BaseStake = decimal.NewFromInt(1)
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
	if c.CapLevel <= 0 {
		c.CapLevel = DefaultCapLevel
	}
	if c.FailurePolicy != PolicyHalt {
		c.FailurePolicy = PolicyRetry
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Duration <= 0 {
		c.Duration = 1
	}
	if c.DurationUnit == "" {
		c.DurationUnit = "t"
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	return c
}

// Stake returns base × multiplier^min(losses, cap), rounded to cents.
func Stake(base decimal.Decimal, multiplier float64, losses, capLevel int) decimal.Decimal {
	k := losses
	if k > capLevel {
		k = capLevel
	}
	if k < 0 {
		k = 0
	}
	factor := decimal.NewFromFloat(multiplier).Pow(decimal.NewFromInt(int64(k)))
	return base.Mul(factor).Round(2)
}

// SessionState is owned by one controller and mutated only on settlement or failure.
type SessionState struct {
	ConsecutiveLosses   int             `json:"consecutive_losses"`
	CurrentStake        decimal.Decimal `json:"current_stake"`
	SessionProfit       decimal.Decimal `json:"session_profit"`
	SessionLossTotal    decimal.Decimal `json:"session_loss_total"`
	TradesExecuted      int             `json:"trades_executed"`
	Wins                int             `json:"wins"`
	Losses              int             `json:"losses"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
}

func (s SessionState) progress() risk.Progress {
	return risk.Progress{SessionProfit: s.SessionProfit, LossTotal: s.SessionLossTotal, Trades: s.TradesExecuted}
}

// Controller drives IDLE → ANALYZING → TRADING → STOPPED for one strategy and market.
type Controller struct {
	strategy string
	market   string
	cfg      Config
	log      zerolog.Logger
	kv       store.KV
	events   dispatcher

	mu         sync.Mutex
	state      State
	session    SessionState
	windowEnd  time.Time
	pending    *execution.TradeRequest
	stopReason string
	resumed    bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithStore persists the session under session:<strategy>:<market> after each settlement.
func WithStore(kv store.KV) Option {
	return func(c *Controller) { c.kv = kv }
}

// NewController builds an idle controller.
func NewController(strategy, market string, cfg Config, log zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		strategy: strategy,
		market:   market,
		cfg:      cfg.normalized(),
		log:      log.With().Str("strategy", strategy).Str("market", market).Logger(),
		state:    Idle,
	}
	c.session = c.freshSession()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key is the store key of this controller's session.
func (c *Controller) Key() string { return store.Key("session", c.strategy, c.market) }

// Register adds an observer. Observers may call back into the controller.
func (c *Controller) Register(o Observer) { c.events.register(o) }

// State returns the lifecycle position.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the session state.
func (c *Controller) Session() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// StopReason explains why the controller stopped.
func (c *Controller) StopReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopReason
}

// WindowEnd is when the analysis window closes.
func (c *Controller) WindowEnd() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.windowEnd
}

// Pending reports whether a request is awaiting settlement.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

func (c *Controller) freshSession() SessionState {
	return SessionState{CurrentStake: Stake(c.cfg.BaseStake, c.cfg.Multiplier, 0, c.cfg.CapLevel)}
}

// Restore loads a persisted session so the next Start continues it instead of resetting. A
// session that already tripped a stop limit is not resumed.
func (c *Controller) Restore(ctx context.Context) (bool, error) {
	if c.kv == nil {
		return false, nil
	}
	var saved SessionState
	if err := store.Load(ctx, c.kv, c.Key(), &saved); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle && c.state != Stopped {
		return false, fmt.Errorf("%w: restore while %s", ErrInvalidState, c.state)
	}
	if reason := c.cfg.Limits.Check(saved.progress()); reason != risk.NoStop {
		c.log.Info().Str("key", c.Key()).Str("reason", string(reason)).
			Msg("persisted session already hit a stop limit, starting fresh")
		c.resumed = false
		return false, nil
	}
	saved.CurrentStake = Stake(c.cfg.BaseStake, c.cfg.Multiplier, saved.ConsecutiveLosses, c.cfg.CapLevel)
	saved.ConsecutiveFailures = 0
	c.session = saved
	c.resumed = true
	return true, nil
}

// Start opens the analysis window. A stopped controller restarts with a fresh session.
func (c *Controller) Start(now time.Time) error {
	c.mu.Lock()
	if c.state == Analyzing || c.state == Trading {
		c.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrInvalidState, c.state)
	}
	if !c.resumed {
		c.session = c.freshSession()
	}
	c.resumed = false
	c.state = Analyzing
	c.stopReason = ""
	c.pending = nil
	c.windowEnd = now.Add(c.cfg.AnalysisWindow)
	windowEnd := c.windowEnd
	ev := c.eventLocked(EventStarted, now)
	c.mu.Unlock()

	c.log.Info().Time("window_end", windowEnd).Str("stake", ev.Session.CurrentStake.StringFixed(2)).Msg("session started")
	c.events.emit(ev)
	return nil
}

// Advance moves ANALYZING to TRADING once the window has elapsed.
func (c *Controller) Advance(now time.Time) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Analyzing && !now.Before(c.windowEnd) {
		c.state = Trading
		c.log.Info().Msg("analysis window elapsed, trading")
	}
	return c.state
}

// NextRequest turns a TRADE_NOW signal into a request at the current stake.
func (c *Controller) NextRequest(sig signal.Signal) (execution.TradeRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Trading {
		return execution.TradeRequest{}, ErrNotTrading
	}
	if c.pending != nil {
		return execution.TradeRequest{}, ErrPending
	}
	if !sig.Actionable() {
		return execution.TradeRequest{}, ErrNotReady
	}
	stake := c.session.CurrentStake
	if !c.cfg.Limits.Allow(stake) {
		c.log.Warn().Str("stake", stake.StringFixed(2)).Str("max_stake", c.cfg.Limits.MaxStake.StringFixed(2)).Msg("stake clamped to max")
		stake = c.cfg.Limits.MaxStake
	}
	req := execution.TradeRequest{
		Market:       c.market,
		Contract:     sig.Contract,
		Barrier:      sig.Barrier,
		Stake:        stake,
		Duration:     c.cfg.Duration,
		DurationUnit: c.cfg.DurationUnit,
		Currency:     c.cfg.Currency,
		Strategy:     c.strategy,
	}
	c.pending = &req
	return req, nil
}

// Settle folds a settled result into the session and applies the stop limits.
func (c *Controller) Settle(ctx context.Context, res execution.TradeResult, now time.Time) (SessionState, error) {
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return SessionState{}, ErrNoPending
	}
	req := *c.pending
	c.pending = nil

	s := &c.session
	s.TradesExecuted++
	s.ConsecutiveFailures = 0
	s.SessionProfit = s.SessionProfit.Add(res.Profit)
	switch res.Result {
	case execution.Win:
		s.Wins++
		s.ConsecutiveLosses = 0
	default:
		s.Losses++
		s.ConsecutiveLosses++
		lost := res.Profit.Neg()
		if !lost.IsPositive() {
			lost = req.Stake
		}
		s.SessionLossTotal = s.SessionLossTotal.Add(lost)
	}
	s.CurrentStake = Stake(c.cfg.BaseStake, c.cfg.Multiplier, s.ConsecutiveLosses, c.cfg.CapLevel)

	events := []Event{c.eventLocked(EventTradeExecuted, now)}
	events[0].Request = &req
	events[0].Result = &res
	if reason := c.cfg.Limits.Check(s.progress()); reason != risk.NoStop && c.state != Stopped {
		events = append(events, c.eventLocked(EventType(reason), now))
		events = append(events, c.stopLocked(string(reason), now))
	}
	snapshot := c.session
	c.mu.Unlock()

	profit, _ := snapshot.SessionProfit.Float64()
	metrics.SessionProfit.WithLabelValues(c.strategy, c.market).Set(profit)
	c.persist(ctx, snapshot)
	c.events.emit(events...)
	return snapshot, nil
}

// Fail records a trade that never settled. Losses are untouched. It reports whether the
// session keeps trading.
func (c *Controller) Fail(err error, now time.Time) bool {
	c.mu.Lock()
	var req *execution.TradeRequest
	if c.pending != nil {
		r := *c.pending
		req = &r
	}
	c.pending = nil
	c.session.ConsecutiveFailures++
	ev := c.eventLocked(EventTradeFailed, now)
	ev.Request = req
	ev.Err = err
	events := []Event{ev}
	halt := c.cfg.FailurePolicy == PolicyHalt || c.session.ConsecutiveFailures >= c.cfg.MaxRetries
	if halt && c.state != Stopped {
		events = append(events, c.stopLocked(ReasonTradeFailed, now))
	}
	running := c.state == Trading || c.state == Analyzing
	c.mu.Unlock()

	c.log.Warn().Err(err).Bool("halt", halt).Msg("trade failed, not counted as a loss")
	c.events.emit(events...)
	return running
}

// Stop ends the session from any non-terminal state. A request already in flight can still be
// settled afterwards.
func (c *Controller) Stop(reason string, now time.Time) {
	c.mu.Lock()
	if c.state == Stopped {
		c.mu.Unlock()
		return
	}
	if reason == "" {
		reason = ReasonManual
	}
	ev := c.stopLocked(reason, now)
	c.mu.Unlock()
	c.events.emit(ev)
}

func (c *Controller) stopLocked(reason string, now time.Time) Event {
	c.state = Stopped
	c.stopReason = reason
	ev := c.eventLocked(EventStopped, now)
	ev.Reason = reason
	c.log.Info().Str("reason", reason).Int("trades", c.session.TradesExecuted).
		Str("profit", c.session.SessionProfit.StringFixed(2)).Msg("session stopped")
	return ev
}

func (c *Controller) eventLocked(t EventType, now time.Time) Event {
	return Event{Type: t, Strategy: c.strategy, Market: c.market, At: now, Session: c.session}
}

func (c *Controller) persist(ctx context.Context, s SessionState) {
	if c.kv == nil {
		return
	}
	if err := c.kv.Put(ctx, c.Key(), s); err != nil {
		c.log.Warn().Err(err).Str("key", c.Key()).Msg("session state not persisted")
	}
}
