package strategy

import (
	sig "digitbot-go/internal/signal"
)

// OverUnder recommends DIGITOVER/DIGITUNDER around a pivot digit.
// Over wins on digit > pivot; under wins on digit <= pivot, which the broker expresses as
// DIGITUNDER with barrier pivot+1.
type OverUnder struct {
	pivot  int
	policy Policy
}

// NewOverUnder builds the strategy; pivots outside 0-8 fall back to 4.
func NewOverUnder(pivot int, policy Policy) *OverUnder {
	if pivot < 0 || pivot > 8 {
		pivot = 4
	}
	return &OverUnder{pivot: pivot, policy: policy.normalized()}
}

// Name returns the identifier for the strategy implementation.
func (s *OverUnder) Name() string { return ModeOverUnder }

// Pivot exposes the configured split digit.
func (s *OverUnder) Pivot() int { return s.pivot }

// Analyze compares the over and under shares of the window.
func (s *OverUnder) Analyze(digits []int) sig.Signal {
	snap := snapshot(digits, s.pivot)
	pivot := s.pivot
	over := outcome{
		side: sig.SideOver, contract: sig.DigitOver, barrier: pivot,
		percent: snap.OverUnder.FirstPercent,
		member:  func(d int) bool { return d > pivot },
	}
	under := outcome{
		side: sig.SideUnder, contract: sig.DigitUnder, barrier: pivot + 1,
		percent: snap.OverUnder.SecondPercent,
		member:  func(d int) bool { return d <= pivot },
	}
	return s.policy.decide(s.Name(), digits, over, under)
}
