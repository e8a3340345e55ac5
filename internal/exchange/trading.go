package exchange

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"digitbot-go/internal/signal"
)

// ProposalRequest prices a digit contract.
type ProposalRequest struct {
	Symbol       string
	Contract     signal.ContractType
	Barrier      int
	Stake        decimal.Decimal
	Currency     string
	Duration     int
	DurationUnit string
}

func (r ProposalRequest) payload() map[string]any {
	unit := r.DurationUnit
	if unit == "" {
		unit = "t"
	}
	duration := r.Duration
	if duration <= 0 {
		duration = 1
	}
	currency := r.Currency
	if currency == "" {
		currency = "USD"
	}
	amount, _ := r.Stake.Round(2).Float64()
	p := map[string]any{
		"proposal":      1,
		"amount":        amount,
		"basis":         "stake",
		"contract_type": string(r.Contract),
		"currency":      currency,
		"duration":      duration,
		"duration_unit": unit,
		"symbol":        r.Symbol,
	}
	if r.Contract.NeedsBarrier() {
		p["barrier"] = strconv.Itoa(r.Barrier)
	}
	return p
}

// Proposal asks the broker to price a contract.
func (c *Client) Proposal(ctx context.Context, req ProposalRequest) (Proposal, error) {
	env, err := c.Request(ctx, req.payload(), ErrTrade)
	if err != nil {
		return Proposal{}, err
	}
	var msg proposalMessage
	if err := env.Decode(&msg); err != nil || msg.Proposal.ID == "" {
		return Proposal{}, fmt.Errorf("%w: malformed proposal response", ErrTrade)
	}
	return Proposal{
		ID:       msg.Proposal.ID,
		AskPrice: msg.Proposal.AskPrice,
		Payout:   msg.Proposal.Payout,
		Longcode: msg.Proposal.Longcode,
	}, nil
}

// Buy accepts a proposal at no more than maxPrice.
func (c *Client) Buy(ctx context.Context, proposalID string, maxPrice float64) (Purchase, error) {
	env, err := c.Request(ctx, map[string]any{"buy": proposalID, "price": maxPrice}, ErrTrade)
	if err != nil {
		return Purchase{}, err
	}
	var msg buyMessage
	if err := env.Decode(&msg); err != nil || msg.Buy.ContractID == 0 {
		return Purchase{}, fmt.Errorf("%w: malformed buy response", ErrTrade)
	}
	return Purchase{
		ContractID:   msg.Buy.ContractID,
		BuyPrice:     msg.Buy.BuyPrice,
		Payout:       msg.Buy.Payout,
		BalanceAfter: msg.Buy.BalanceAfter,
	}, nil
}

// WatchContract subscribes to contract updates and blocks until it settles. The subscription is
// forgotten before returning on every path.
func (c *Client) WatchContract(ctx context.Context, contractID int64) (ContractUpdate, error) {
	stream, err := c.Subscribe(ctx, map[string]any{"proposal_open_contract": 1, "contract_id": contractID}, ErrTrade)
	if err != nil {
		return ContractUpdate{}, err
	}
	defer func() {
		forgetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeWait)
		defer cancel()
		if ferr := c.Forget(forgetCtx, stream); ferr != nil {
			c.log.Warn().Err(ferr).Int64("contract_id", contractID).Msg("forget contract stream failed")
		}
	}()

	for {
		select {
		case env, ok := <-stream.C():
			if !ok {
				return ContractUpdate{}, fmt.Errorf("%w: contract %d outcome unknown: stream closed", ErrTrade, contractID)
			}
			if env.Error != nil {
				return ContractUpdate{}, classify(env.Error, ErrTrade)
			}
			var msg openContractMessage
			if err := env.Decode(&msg); err != nil {
				c.log.Warn().Err(err).Int64("contract_id", contractID).Msg("undecodable contract update")
				continue
			}
			if msg.Contract.Settled() {
				return msg.Contract, nil
			}
		case <-ctx.Done():
			return ContractUpdate{}, fmt.Errorf("%w: contract %d outcome unknown: %v", ErrTrade, contractID, ctx.Err())
		}
	}
}

// Balance returns the current account balance.
func (c *Client) Balance(ctx context.Context) (float64, string, error) {
	env, err := c.Request(ctx, map[string]any{"balance": 1}, ErrData)
	if err != nil {
		return 0, "", err
	}
	var msg balanceMessage
	if err := env.Decode(&msg); err != nil {
		return 0, "", fmt.Errorf("%w: decode balance: %v", ErrData, err)
	}
	return msg.Balance.Balance, msg.Balance.Currency, nil
}
