package execution

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"digitbot-go/internal/exchange"
)

// Broker is the slice of exchange.Client the live executor needs.
type Broker interface {
	Proposal(ctx context.Context, req exchange.ProposalRequest) (exchange.Proposal, error)
	Buy(ctx context.Context, proposalID string, maxPrice float64) (exchange.Purchase, error)
	WatchContract(ctx context.Context, contractID int64) (exchange.ContractUpdate, error)
}

// Live buys real contracts and waits for the broker's settlement.
type Live struct {
	broker Broker
	log    zerolog.Logger
	guard  Guard
}

// NewLive wraps a connected broker client.
func NewLive(broker Broker, log zerolog.Logger) *Live {
	return &Live{broker: broker, log: log}
}

// Execute runs proposal, buy and settlement. A lost connection after buy is reported as an
// ErrTrade with an unknown outcome, never as a loss.
func (l *Live) Execute(ctx context.Context, req TradeRequest) (res TradeResult, err error) {
	if err := l.guard.Acquire(); err != nil {
		return TradeResult{}, err
	}
	defer l.guard.Release()
	defer func() { Observe(l.log, req, res, err) }()

	if err := req.Validate(); err != nil {
		return TradeResult{}, err
	}
	prop, err := l.broker.Proposal(ctx, exchange.ProposalRequest{
		Symbol:       req.Market,
		Contract:     req.Contract,
		Barrier:      req.Barrier,
		Stake:        req.Stake,
		Currency:     req.Currency,
		Duration:     req.Duration,
		DurationUnit: req.DurationUnit,
	})
	if err != nil {
		return TradeResult{}, fmt.Errorf("proposal: %w", err)
	}
	buy, err := l.broker.Buy(ctx, prop.ID, prop.AskPrice)
	if err != nil {
		return TradeResult{}, fmt.Errorf("buy: %w", err)
	}
	l.log.Debug().Int64("contract_id", buy.ContractID).Float64("buy_price", buy.BuyPrice).Msg("contract bought")

	update, err := l.broker.WatchContract(ctx, buy.ContractID)
	if err != nil {
		return TradeResult{}, fmt.Errorf("settle contract %d: %w", buy.ContractID, err)
	}
	res = TradeResult{
		Success:    true,
		ContractID: buy.ContractID,
		Stake:      decimal.NewFromFloat(buy.BuyPrice),
		Payout:     decimal.NewFromFloat(buy.Payout),
		Profit:     decimal.NewFromFloat(update.Profit).Round(2),
		Result:     Loss,
		EntrySpot:  update.EntrySpot,
		ExitSpot:   update.ExitSpot,
	}
	if update.Status == "won" {
		res.Result = Win
	}
	return res, nil
}
