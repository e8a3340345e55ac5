package strategy

import (
	"testing"

	sig "digitbot-go/internal/signal"
)

func repeat(pattern []int, n int) []int {
	out := make([]int, 0, n)
	for len(out) < n {
		out = append(out, pattern...)
	}
	return out[:n]
}

func TestEvenOddTradeNowAfterOppositeDigits(t *testing.T) {
	// 70% even, then two odd digits at the tail.
	digits := append(repeat([]int{2, 4, 6, 8, 0, 2, 4, 1, 3, 5}, 30), 2, 2, 2, 2, 2, 2, 7, 9)
	strat := NewEvenOdd(DefaultPolicy())
	got := strat.Analyze(digits)
	if got.Status != sig.TradeNow {
		t.Fatalf("expected TRADE_NOW, got %s (%s)", got.Status, got.EntryCondition)
	}
	if got.Side != sig.SideEven || got.Contract != sig.DigitEven {
		t.Fatalf("expected even side, got %s/%s", got.Side, got.Contract)
	}
	if got.Probability <= 60 {
		t.Fatalf("expected dominant probability above 60, got %.2f", got.Probability)
	}
}

func TestEvenOddWaitsForConfirmation(t *testing.T) {
	digits := append(repeat([]int{2, 4, 6, 8, 0, 2, 4, 1, 3, 5}, 30), 2, 2)
	got := NewEvenOdd(DefaultPolicy()).Analyze(digits)
	if got.Status != sig.Wait {
		t.Fatalf("expected WAIT, got %s", got.Status)
	}
	if got.Side != sig.SideEven {
		t.Fatalf("expected WAIT to still recommend even, got %s", got.Side)
	}
	if got.Actionable() {
		t.Fatalf("WAIT must not be actionable")
	}
}

func TestEvenOddNeutralOnNarrowGap(t *testing.T) {
	digits := repeat([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, 100)
	got := NewEvenOdd(DefaultPolicy()).Analyze(digits)
	if got.Status != sig.Neutral {
		t.Fatalf("expected NEUTRAL, got %s", got.Status)
	}
	if got.Contract != "" {
		t.Fatalf("neutral signal should not carry a contract")
	}
}

func TestNeutralUntilMinSamples(t *testing.T) {
	got := NewEvenOdd(DefaultPolicy()).Analyze([]int{2, 2, 2, 1, 1})
	if got.Status != sig.Neutral {
		t.Fatalf("expected NEUTRAL with few samples, got %s", got.Status)
	}
}

func TestMinPowerFloor(t *testing.T) {
	// 60/40 split: 20 point gap, but below a 65% power floor.
	digits := append(repeat([]int{0, 2, 4, 6, 8, 0, 1, 3, 5, 7}, 100), 1, 3)
	policy := DefaultPolicy()
	policy.MinPower = 65
	got := NewEvenOdd(policy).Analyze(digits)
	if got.Status != sig.Wait {
		t.Fatalf("expected WAIT under power floor, got %s (%s)", got.Status, got.EntryCondition)
	}
	policy.MinPower = 55
	got = NewEvenOdd(policy).Analyze(digits)
	if got.Status != sig.TradeNow {
		t.Fatalf("expected TRADE_NOW above power floor, got %s (%s)", got.Status, got.EntryCondition)
	}
}

func TestOverUnderBarriers(t *testing.T) {
	// Mostly low digits with two high digits at the tail.
	digits := append(repeat([]int{0, 1, 2, 3, 4, 0, 1, 2, 8, 9}, 50), 7, 8)
	got := NewOverUnder(4, DefaultPolicy()).Analyze(digits)
	if got.Status != sig.TradeNow {
		t.Fatalf("expected TRADE_NOW, got %s (%s)", got.Status, got.EntryCondition)
	}
	if got.Side != sig.SideUnder || got.Contract != sig.DigitUnder || got.Barrier != 5 {
		t.Fatalf("expected DIGITUNDER barrier 5, got %s/%s/%d", got.Side, got.Contract, got.Barrier)
	}

	high := append(repeat([]int{9, 8, 7, 6, 5, 9, 8, 7, 0, 1}, 50), 2, 3)
	got = NewOverUnder(4, DefaultPolicy()).Analyze(high)
	if got.Contract != sig.DigitOver || got.Barrier != 4 {
		t.Fatalf("expected DIGITOVER barrier 4, got %s/%d", got.Contract, got.Barrier)
	}
}

func TestOverUnderInvalidPivot(t *testing.T) {
	if got := NewOverUnder(12, DefaultPolicy()).Pivot(); got != 4 {
		t.Fatalf("expected fallback pivot 4, got %d", got)
	}
}

func TestDiffersTargetsRarestDigit(t *testing.T) {
	digits := repeat([]int{0, 1, 2, 3, 4, 5, 6, 7, 8}, 90)
	got := NewDiffers(5, DefaultPolicy()).Analyze(digits)
	if got.Status != sig.TradeNow {
		t.Fatalf("expected TRADE_NOW, got %s (%s)", got.Status, got.EntryCondition)
	}
	if got.Contract != sig.DigitDiff || got.Barrier != 9 {
		t.Fatalf("expected DIGITDIFF on 9, got %s/%d", got.Contract, got.Barrier)
	}
	if got.Probability != 100 {
		t.Fatalf("expected probability 100 for unseen digit, got %.2f", got.Probability)
	}
}

func TestDiffersWaitsWhenRareDigitJustPrinted(t *testing.T) {
	digits := append(repeat([]int{0, 1, 2, 3, 4, 5, 6, 7, 8}, 90), 9)
	got := NewDiffers(5, DefaultPolicy()).Analyze(digits)
	if got.Status != sig.Wait || got.Barrier != 9 {
		t.Fatalf("expected WAIT on 9, got %s/%d", got.Status, got.Barrier)
	}
}

func TestDiffersNeutralOnFlatDistribution(t *testing.T) {
	digits := repeat([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, 100)
	got := NewDiffers(5, DefaultPolicy()).Analyze(digits)
	if got.Status != sig.Neutral {
		t.Fatalf("expected NEUTRAL, got %s", got.Status)
	}
}

func TestBuildModes(t *testing.T) {
	cases := map[string]string{
		"":           ModeEvenOdd,
		"even_odd":   ModeEvenOdd,
		"over_under": ModeOverUnder,
		"overunder":  ModeOverUnder,
		"Differs":    ModeDiffers,
	}
	for mode, want := range cases {
		s, err := Build(mode, Params{})
		if err != nil {
			t.Fatalf("Build(%q) returned error: %v", mode, err)
		}
		if got := s.Name(); got != want {
			t.Fatalf("Build(%q) = %s, want %s", mode, got, want)
		}
	}
}

func TestBuildRejectsUnknownMode(t *testing.T) {
	if s, err := Build("unknown", Params{}); err == nil {
		t.Fatalf("expected error for unknown mode, got %s", s.Name())
	}
	if _, ok := Normalize("rise_fall"); ok {
		t.Fatalf("rise_fall should not normalize")
	}
}
