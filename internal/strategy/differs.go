package strategy

import (
	"fmt"

	sig "digitbot-go/internal/signal"
	"digitbot-go/internal/stats"
)

const defaultDiffersMaxPercent = 5.0

// Differs bets that the rarest digit of the window will not print next.
type Differs struct {
	maxPercent float64
	policy     Policy
}

// NewDiffers builds the strategy; maxPercent caps the rarest digit's share for a trade.
func NewDiffers(maxPercent float64, policy Policy) *Differs {
	if maxPercent <= 0 {
		maxPercent = defaultDiffersMaxPercent
	}
	return &Differs{maxPercent: maxPercent, policy: policy.normalized()}
}

// Name returns the identifier for the strategy implementation.
func (s *Differs) Name() string { return ModeDiffers }

// Analyze picks the rarest digit; among ties the one seen least recently.
func (s *Differs) Analyze(digits []int) sig.Signal {
	out := sig.Signal{Strategy: s.Name(), Status: sig.Neutral}
	if len(digits) < s.policy.MinSamples {
		out.EntryCondition = fmt.Sprintf("collecting samples %d/%d", len(digits), s.policy.MinSamples)
		return out
	}
	counts := stats.Counts(digits)
	target := leastRecent(stats.Rarest(counts), digits)
	share := float64(counts[target]) / float64(len(digits)) * 100

	out.Side = sig.SideDiffer
	out.Contract = sig.DigitDiff
	out.Barrier = target
	out.Probability = 100 - share
	if share > s.maxPercent {
		out.Side, out.Contract = sig.SideNone, ""
		out.EntryCondition = fmt.Sprintf("rarest digit %d at %.1f%% above %.1f%%", target, share, s.maxPercent)
		return out
	}
	absent := func(d int) bool { return d != target }
	if !tailAll(digits, s.policy.Confirmations, absent) {
		out.Status = sig.Wait
		out.EntryCondition = fmt.Sprintf("digit %d at %.1f%% printed within the last %d ticks", target, share, s.policy.Confirmations)
		return out
	}
	out.Status = sig.TradeNow
	out.EntryCondition = fmt.Sprintf("differs %d: %.1f%% share, absent for %d ticks", target, share, s.policy.Confirmations)
	return out
}

// leastRecent returns the candidate whose last appearance is oldest; unseen digits win outright.
func leastRecent(candidates []int, digits []int) int {
	best, bestIdx := candidates[0], len(digits)
	for _, c := range candidates {
		idx := -1
		for i := len(digits) - 1; i >= 0; i-- {
			if digits[i] == c {
				idx = i
				break
			}
		}
		if idx < bestIdx {
			best, bestIdx = c, idx
		}
	}
	return best
}
