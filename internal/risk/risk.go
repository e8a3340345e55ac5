// Package risk holds the session stop limits checked after every settlement.
package risk

import "github.com/shopspring/decimal"

// StopReason names the limit that ended a session.
type StopReason string

const (
	NoStop           StopReason = ""
	TargetReached    StopReason = "target_reached"
	MaxLossReached   StopReason = "max_loss_reached"
	MaxTradesReached StopReason = "max_trades_reached"
)

// Limits are session caps; a zero value disables that limit.
type Limits struct {
	TargetProfit decimal.Decimal
	MaxLoss      decimal.Decimal
	MaxTrades    int
	MaxStake     decimal.Decimal
}

// Progress is what the limits are checked against.
type Progress struct {
	SessionProfit decimal.Decimal
	LossTotal     decimal.Decimal
	Trades        int
}

// Allow reports whether a single stake fits under MaxStake.
func (l Limits) Allow(stake decimal.Decimal) bool {
	return !l.MaxStake.IsPositive() || stake.LessThanOrEqual(l.MaxStake)
}

// Check returns the first tripped limit in the order target, max loss, max trades.
func (l Limits) Check(p Progress) StopReason {
	if l.TargetProfit.IsPositive() && p.SessionProfit.GreaterThanOrEqual(l.TargetProfit) {
		return TargetReached
	}
	if l.MaxLoss.IsPositive() && p.LossTotal.GreaterThanOrEqual(l.MaxLoss) {
		return MaxLossReached
	}
	if l.MaxTrades > 0 && p.Trades >= l.MaxTrades {
		return MaxTradesReached
	}
	return NoStop
}
