package signal

import "time"

// Status classifies how actionable a strategy recommendation is.
type Status string

const (
	TradeNow Status = "TRADE_NOW"
	Wait     Status = "WAIT"
	Neutral  Status = "NEUTRAL"
)

// Side names the outcome a signal favours.
type Side string

const (
	SideNone   Side = ""
	SideEven   Side = "EVEN"
	SideOdd    Side = "ODD"
	SideOver   Side = "OVER"
	SideUnder  Side = "UNDER"
	SideDiffer Side = "DIFFER"
)

// ContractType is the broker's digit contract identifier.
type ContractType string

const (
	DigitEven  ContractType = "DIGITEVEN"
	DigitOdd   ContractType = "DIGITODD"
	DigitOver  ContractType = "DIGITOVER"
	DigitUnder ContractType = "DIGITUNDER"
	DigitDiff  ContractType = "DIGITDIFF"
	DigitMatch ContractType = "DIGITMATCH"
)

// NeedsBarrier reports whether the broker requires a digit barrier for the contract.
func (c ContractType) NeedsBarrier() bool {
	switch c {
	case DigitOver, DigitUnder, DigitDiff, DigitMatch:
		return true
	}
	return false
}

// Wins evaluates the contract against the settlement digit.
func (c ContractType) Wins(barrier, digit int) bool {
	switch c {
	case DigitEven:
		return digit%2 == 0
	case DigitOdd:
		return digit%2 == 1
	case DigitOver:
		return digit > barrier
	case DigitUnder:
		return digit < barrier
	case DigitDiff:
		return digit != barrier
	case DigitMatch:
		return digit == barrier
	}
	return false
}

// Signal expresses a trading recommendation produced by a strategy implementation.
type Signal struct {
	Strategy       string
	Symbol         string
	Status         Status
	Side           Side
	Contract       ContractType
	Barrier        int
	Probability    float64 // percentage share backing the side, 0-100
	EntryCondition string
	Ts             time.Time
}

// Actionable is true only for TRADE_NOW signals that name a contract.
func (s Signal) Actionable() bool {
	return s.Status == TradeNow && s.Contract != ""
}
