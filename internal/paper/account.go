package paper

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	errNonPositiveStake = errors.New("stake must be positive")
	errInsufficientCash = errors.New("insufficient virtual balance for stake")
)

// Account tracks the virtual balance and realized PnL of simulated contracts.
type Account struct {
	mu          sync.Mutex
	starting    decimal.Decimal
	balance     decimal.Decimal
	realizedPnL decimal.Decimal
	open        decimal.Decimal
}

// Snapshot represents a thread-safe view of the account state.
type Snapshot struct {
	Starting    decimal.Decimal `json:"starting"`
	Balance     decimal.Decimal `json:"balance"`
	OpenStakes  decimal.Decimal `json:"open_stakes"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// NewAccount constructs an account funded with starting balance.
func NewAccount(starting decimal.Decimal) *Account {
	return &Account{starting: starting, balance: starting}
}

// Reserve debits a stake when a simulated contract is bought.
func (a *Account) Reserve(stake decimal.Decimal) error {
	if !stake.IsPositive() {
		return errNonPositiveStake
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if stake.GreaterThan(a.balance) {
		return errInsufficientCash
	}
	a.balance = a.balance.Sub(stake)
	a.open = a.open.Add(stake)
	return nil
}

// Settle releases a reserved stake, crediting stake+profit when the contract won.
func (a *Account) Settle(stake, profit decimal.Decimal, won bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = a.open.Sub(stake)
	if won {
		a.balance = a.balance.Add(stake).Add(profit)
		a.realizedPnL = a.realizedPnL.Add(profit)
		return
	}
	a.realizedPnL = a.realizedPnL.Sub(stake)
}

// Refund returns a reserved stake for a contract that never settled.
func (a *Account) Refund(stake decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = a.open.Sub(stake)
	a.balance = a.balance.Add(stake)
}

// Balance reports the free virtual balance.
func (a *Account) Balance() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// Snapshot returns a copy of balances.
func (a *Account) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{Starting: a.starting, Balance: a.balance, OpenStakes: a.open, RealizedPnL: a.realizedPnL}
}
