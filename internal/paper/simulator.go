// Package paper settles contracts in simulation mode against real ticks. Nothing it returns is
// broker settlement; every result carries Simulated=true.
package paper

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"digitbot-go/internal/exchange"
	"digitbot-go/internal/execution"
	"digitbot-go/internal/signal"
)

// DefaultHouseEdge is the share withheld from a fair payout.
var DefaultHouseEdge = decimal.RequireFromString("0.025")

// TickSource yields the next tick pushed for one market.
type TickSource interface {
	Next(ctx context.Context) (signal.Tick, error)
}

// SourceFunc resolves a market to its tick source.
type SourceFunc func(market string) (TickSource, bool)

// Simulator implements execution.Executor without touching the broker.
type Simulator struct {
	sources   SourceFunc
	account   *Account
	ledger    *Ledger
	edge      decimal.Decimal
	overrides map[signal.ContractType]decimal.Decimal
	log       zerolog.Logger
	guard     execution.Guard
	seq       atomic.Int64
}

// Option configures the simulator.
type Option func(*Simulator)

// WithHouseEdge overrides DefaultHouseEdge.
func WithHouseEdge(edge float64) Option {
	return func(s *Simulator) {
		if edge >= 0 && edge < 1 {
			s.edge = decimal.NewFromFloat(edge)
		}
	}
}

// WithPayoutRatio fixes the profit per unit stake for a contract type, ignoring the barrier.
func WithPayoutRatio(contract signal.ContractType, ratio float64) Option {
	return func(s *Simulator) {
		if ratio > 0 {
			s.overrides[contract] = decimal.NewFromFloat(ratio)
		}
	}
}

// WithLedger records every settlement.
func WithLedger(l *Ledger) Option {
	return func(s *Simulator) { s.ledger = l }
}

// NewSimulator settles against ticks from sources and books them on account.
func NewSimulator(sources SourceFunc, account *Account, log zerolog.Logger, opts ...Option) *Simulator {
	s := &Simulator{
		sources:   sources,
		account:   account,
		edge:      DefaultHouseEdge,
		overrides: make(map[signal.ContractType]decimal.Decimal),
		log:       log.With().Str("mode", "simulation").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Account exposes the virtual balance.
func (s *Simulator) Account() *Account { return s.account }

// PayoutRatio is the profit per unit stake on a win: fair odds less the house edge, or the
// configured override.
func (s *Simulator) PayoutRatio(contract signal.ContractType, barrier int) (decimal.Decimal, error) {
	if r, ok := s.overrides[contract]; ok {
		return r, nil
	}
	winning := 0
	for d := 0; d < 10; d++ {
		if contract.Wins(barrier, d) {
			winning++
		}
	}
	if winning == 0 || winning == 10 {
		return decimal.Zero, fmt.Errorf("%w: %s with barrier %d has no payout", exchange.ErrTrade, contract, barrier)
	}
	fair := decimal.NewFromInt(10).Div(decimal.NewFromInt(int64(winning)))
	return fair.Mul(decimal.NewFromInt(1).Sub(s.edge)).Sub(decimal.NewFromInt(1)).Round(4), nil
}

// Execute waits for Duration fresh ticks on the market and settles on the last one's digit.
func (s *Simulator) Execute(ctx context.Context, req execution.TradeRequest) (res execution.TradeResult, err error) {
	if err := s.guard.Acquire(); err != nil {
		return execution.TradeResult{}, err
	}
	defer s.guard.Release()
	defer func() { execution.Observe(s.log, req, res, err) }()

	if err := req.Validate(); err != nil {
		return execution.TradeResult{}, err
	}
	if req.DurationUnit != "" && req.DurationUnit != "t" {
		return execution.TradeResult{}, fmt.Errorf("%w: simulation supports tick durations only, got %q", exchange.ErrTrade, req.DurationUnit)
	}
	source, ok := s.sources(req.Market)
	if !ok {
		return execution.TradeResult{}, fmt.Errorf("%w: no tick source for %s", exchange.ErrTrade, req.Market)
	}
	ratio, err := s.PayoutRatio(req.Contract, req.Barrier)
	if err != nil {
		return execution.TradeResult{}, err
	}
	if err := s.account.Reserve(req.Stake); err != nil {
		return execution.TradeResult{}, fmt.Errorf("%w: %v", exchange.ErrTrade, err)
	}

	ticks := req.Duration
	if ticks <= 0 {
		ticks = 1
	}
	var entry, exit signal.Tick
	for i := 0; i < ticks; i++ {
		tk, err := source.Next(ctx)
		if err != nil {
			s.account.Refund(req.Stake)
			return execution.TradeResult{}, fmt.Errorf("%w: simulated contract outcome unknown: %v", exchange.ErrTrade, err)
		}
		if i == 0 {
			entry = tk
		}
		exit = tk
	}

	won := req.Contract.Wins(req.Barrier, exit.LastDigit)
	payout := req.Stake.Mul(ratio).Round(2)
	res = execution.TradeResult{
		Success:    true,
		ContractID: -s.seq.Add(1),
		Stake:      req.Stake,
		Payout:     req.Stake.Add(payout),
		Result:     execution.Loss,
		Profit:     req.Stake.Neg(),
		EntrySpot:  entry.Display(),
		ExitSpot:   exit.Display(),
		Simulated:  true,
	}
	if won {
		res.Result = execution.Win
		res.Profit = payout
	}
	s.account.Settle(req.Stake, payout, won)
	if s.ledger != nil {
		s.ledger.Record(Settlement{Request: req, Result: res, Digit: exit.LastDigit, At: exit.Epoch})
	}
	return res, nil
}
