// Package execution handles the contract lifecycle against the broker.
package execution

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"digitbot-go/internal/exchange"
	"digitbot-go/internal/metrics"
	"digitbot-go/internal/signal"
)

// Result is the settled outcome of a contract.
type Result string

const (
	Win  Result = "WIN"
	Loss Result = "LOSS"
)

// ErrTradeInFlight rejects a request while the same executor is still settling another one.
var ErrTradeInFlight = fmt.Errorf("%w: a trade is already in flight", exchange.ErrTrade)

// TradeRequest is built by the stake controller and consumed once by an executor.
type TradeRequest struct {
	Market       string              `json:"market"`
	Contract     signal.ContractType `json:"contract_type"`
	Barrier      int                 `json:"barrier"`
	Stake        decimal.Decimal     `json:"stake"`
	Duration     int                 `json:"duration"`
	DurationUnit string              `json:"duration_unit"`
	Currency     string              `json:"currency"`
	Strategy     string              `json:"strategy"`
}

// Validate rejects requests the broker would refuse anyway.
func (r TradeRequest) Validate() error {
	switch {
	case r.Market == "":
		return fmt.Errorf("%w: request has no market", exchange.ErrTrade)
	case r.Contract == "":
		return fmt.Errorf("%w: request has no contract type", exchange.ErrTrade)
	case !r.Stake.IsPositive():
		return fmt.Errorf("%w: stake must be positive, got %s", exchange.ErrTrade, r.Stake)
	case r.Contract.NeedsBarrier() && (r.Barrier < 0 || r.Barrier > 9):
		return fmt.Errorf("%w: barrier %d out of range", exchange.ErrTrade, r.Barrier)
	}
	return nil
}

// TradeResult is terminal. Simulated results never came from broker settlement.
type TradeResult struct {
	Success    bool            `json:"success"`
	ContractID int64           `json:"contract_id"`
	Stake      decimal.Decimal `json:"stake"`
	Payout     decimal.Decimal `json:"payout"`
	Profit     decimal.Decimal `json:"profit"`
	Result     Result          `json:"result"`
	EntrySpot  string          `json:"entry_spot"`
	ExitSpot   string          `json:"exit_spot"`
	Simulated  bool            `json:"simulated"`
}

// Executor settles one trade at a time.
type Executor interface {
	Execute(ctx context.Context, req TradeRequest) (TradeResult, error)
}

// Guard enforces a single in-flight request.
type Guard struct{ busy atomic.Bool }

// Acquire claims the slot or returns ErrTradeInFlight.
func (g *Guard) Acquire() error {
	if !g.busy.CompareAndSwap(false, true) {
		return ErrTradeInFlight
	}
	return nil
}

// Release frees the slot.
func (g *Guard) Release() { g.busy.Store(false) }

// Observe counts the outcome and logs it; failures are neither a win nor a loss.
func Observe(log zerolog.Logger, req TradeRequest, res TradeResult, err error) {
	if err != nil {
		metrics.TradeFailuresTotal.WithLabelValues(req.Market).Inc()
		log.Warn().Err(err).Str("market", req.Market).Str("contract", string(req.Contract)).
			Str("stake", req.Stake.StringFixed(2)).Msg("trade failed")
		return
	}
	metrics.TradesTotal.WithLabelValues(req.Market, string(res.Result)).Inc()
	ev := log.Info()
	if res.Simulated {
		ev = ev.Bool("simulated", true).Str("authority", "none")
	}
	ev.Str("market", req.Market).Str("contract", string(req.Contract)).Int("barrier", req.Barrier).
		Str("stake", req.Stake.StringFixed(2)).Str("profit", res.Profit.StringFixed(2)).
		Str("result", string(res.Result)).Int64("contract_id", res.ContractID).Msg("trade settled")
}
