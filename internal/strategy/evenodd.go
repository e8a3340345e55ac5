package strategy

import (
	sig "digitbot-go/internal/signal"
)

// EvenOdd recommends DIGITEVEN or DIGITODD on the dominant parity.
type EvenOdd struct {
	policy Policy
}

// NewEvenOdd builds the parity strategy.
func NewEvenOdd(policy Policy) *EvenOdd {
	return &EvenOdd{policy: policy.normalized()}
}

// Name returns the identifier for the strategy implementation.
func (s *EvenOdd) Name() string { return ModeEvenOdd }

// Analyze compares even and odd shares of the window.
func (s *EvenOdd) Analyze(digits []int) sig.Signal {
	snap := snapshot(digits, 4)
	even := outcome{side: sig.SideEven, contract: sig.DigitEven, percent: snap.EvenOdd.FirstPercent, member: isEven}
	odd := outcome{side: sig.SideOdd, contract: sig.DigitOdd, percent: snap.EvenOdd.SecondPercent, member: isOdd}
	return s.policy.decide(s.Name(), digits, even, odd)
}

func isEven(d int) bool { return d%2 == 0 }
func isOdd(d int) bool  { return d%2 == 1 }
