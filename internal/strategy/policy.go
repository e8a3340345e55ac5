// Package strategy turns last-digit windows into trade recommendations.
package strategy

import (
	"fmt"

	sig "digitbot-go/internal/signal"
	"digitbot-go/internal/stats"
)

const (
	defaultMinGap        = 15.0
	defaultConfirmations = 2
	defaultMinSamples    = 20
)

// Policy is the single decision rule every binary family applies.
//
// Gap below MinGap is NEUTRAL. A wide enough gap with a dominant share of at least MinPower is
// WAIT until the newest Confirmations digits have all landed on the weaker side, then TRADE_NOW on
// the dominant side.
type Policy struct {
	MinGap        float64
	MinPower      float64 // 0 disables the floor
	Confirmations int
	MinSamples    int
}

// DefaultPolicy is a 15 point gap confirmed by two opposite digits over at least 20 samples.
func DefaultPolicy() Policy {
	return Policy{MinGap: defaultMinGap, Confirmations: defaultConfirmations, MinSamples: defaultMinSamples}
}

func (p Policy) normalized() Policy {
	if p.MinGap <= 0 {
		p.MinGap = defaultMinGap
	}
	if p.Confirmations < 0 {
		p.Confirmations = 0
	}
	if p.MinSamples <= 0 {
		p.MinSamples = defaultMinSamples
	}
	return p
}

// outcome describes one side of a binary classification.
type outcome struct {
	side     sig.Side
	contract sig.ContractType
	barrier  int
	percent  float64
	member   func(d int) bool
}

func (p Policy) decide(name string, digits []int, a, b outcome) sig.Signal {
	out := sig.Signal{Strategy: name, Status: sig.Neutral}
	if len(digits) < p.MinSamples {
		out.EntryCondition = fmt.Sprintf("collecting samples %d/%d", len(digits), p.MinSamples)
		return out
	}
	strong, weak := a, b
	if b.percent > a.percent {
		strong, weak = b, a
	}
	gap := strong.percent - weak.percent
	out.Side = strong.side
	out.Contract = strong.contract
	out.Barrier = strong.barrier
	out.Probability = strong.percent
	if gap < p.MinGap {
		out.Side, out.Contract = sig.SideNone, ""
		out.EntryCondition = fmt.Sprintf("gap %.1f below %.1f", gap, p.MinGap)
		return out
	}
	if p.MinPower > 0 && strong.percent < p.MinPower {
		out.Status = sig.Wait
		out.EntryCondition = fmt.Sprintf("%s power %.1f%% below %.1f%%", strong.side, strong.percent, p.MinPower)
		return out
	}
	if !tailAll(digits, p.Confirmations, weak.member) {
		out.Status = sig.Wait
		out.EntryCondition = fmt.Sprintf("%s %.1f%% vs %.1f%%, waiting for %d consecutive %s digits",
			strong.side, strong.percent, weak.percent, p.Confirmations, weak.side)
		return out
	}
	out.Status = sig.TradeNow
	out.EntryCondition = fmt.Sprintf("%s %.1f%% vs %.1f%% after %d %s digits",
		strong.side, strong.percent, weak.percent, p.Confirmations, weak.side)
	return out
}

// tailAll reports whether the newest n digits all satisfy pred. n == 0 is always true.
func tailAll(digits []int, n int, pred func(int) bool) bool {
	if n > len(digits) {
		return false
	}
	for _, d := range digits[len(digits)-n:] {
		if !pred(d) {
			return false
		}
	}
	return true
}

func snapshot(digits []int, pivot int) stats.Snapshot {
	opts := stats.DefaultOptions()
	opts.Pivot = pivot
	return stats.ComputeDigits(digits, opts)
}
