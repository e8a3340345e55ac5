// Package stats computes last-digit statistics over a window of ticks.
//
// Bias figures are majority-share heuristics over a short window. They describe the window, they do
// not estimate the probability of the next digit.
package stats

import (
	"math"

	"digitbot-go/internal/signal"
)

// MaxEntropy is log2(10), the entropy of a uniform distribution over ten digits.
var MaxEntropy = math.Log2(10)

// Options tunes how digits are split into bands.
type Options struct {
	// Pivot splits under (digit <= Pivot) from over (digit > Pivot). Zero is a valid pivot,
	// so start from DefaultOptions rather than the zero value.
	Pivot int
	// MiddleLow and MiddleHigh bound the display-only middle band. Default 3..6.
	MiddleLow  int
	MiddleHigh int
}

// DefaultOptions returns the standard 0-4/5-9 split with a 3-6 middle band.
func DefaultOptions() Options {
	return Options{Pivot: 4, MiddleLow: 3, MiddleHigh: 6}
}

func (o Options) normalized() Options {
	if o.Pivot < 0 || o.Pivot > 8 {
		o.Pivot = 4
	}
	if o.MiddleLow == 0 && o.MiddleHigh == 0 {
		o.MiddleLow, o.MiddleHigh = 3, 6
	}
	if o.MiddleLow > o.MiddleHigh {
		o.MiddleLow, o.MiddleHigh = o.MiddleHigh, o.MiddleLow
	}
	return o
}

// DigitFrequency is the count and share of one digit in the window.
type DigitFrequency struct {
	Digit      int     `json:"digit"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Split is a two-way classification of the window.
type Split struct {
	FirstCount    int     `json:"first_count"`
	SecondCount   int     `json:"second_count"`
	FirstPercent  float64 `json:"first_percent"`
	SecondPercent float64 `json:"second_percent"`
}

// Gap is the absolute percentage-point difference between the two sides.
func (s Split) Gap() float64 {
	return math.Abs(s.FirstPercent - s.SecondPercent)
}

// Band counts digits inside an inclusive range.
type Band struct {
	Low        int     `json:"low"`
	High       int     `json:"high"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Streak is a run of one repeated digit.
type Streak struct {
	Digit  int `json:"digit"`
	Length int `json:"length"`
}

// Bias names the dominant side of the even/odd and over/under classifications.
type Bias struct {
	Direction signal.Side `json:"direction"`
	Strength  float64     `json:"strength"`
}

// Snapshot is one full recomputation over a tick window.
type Snapshot struct {
	Symbol          string             `json:"symbol"`
	Total           int                `json:"total"`
	Frequencies     [10]DigitFrequency `json:"frequencies"`
	EvenOdd         Split              `json:"even_odd"`   // first = even
	OverUnder       Split              `json:"over_under"` // first = over
	Pivot           int                `json:"pivot"`
	Middle          Band               `json:"middle"`
	Bias            Bias               `json:"bias"`
	Entropy         float64            `json:"entropy"`
	RandomnessLevel float64            `json:"randomness_level"`
	LongestStreak   Streak             `json:"longest_streak"`
	CurrentStreak   Streak             `json:"current_streak"`
	HotDigit        int                `json:"hot_digit"`
	ColdDigit       int                `json:"cold_digit"`
	CurrentPrice    string             `json:"current_price"`
	LastDigits      []int              `json:"last_digits"`
}

// Compute builds a snapshot from ticks ordered oldest first. It has no hidden state.
func Compute(ticks []signal.Tick, opts Options) Snapshot {
	snap := ComputeDigits(signal.Digits(ticks), opts)
	if n := len(ticks); n > 0 {
		snap.Symbol = ticks[n-1].Symbol
		snap.CurrentPrice = ticks[n-1].Display()
	}
	return snap
}

// ComputeDigits is Compute over a bare digit series.
func ComputeDigits(digits []int, opts Options) Snapshot {
	opts = opts.normalized()
	snap := Snapshot{
		Total:      len(digits),
		Pivot:      opts.Pivot,
		Middle:     Band{Low: opts.MiddleLow, High: opts.MiddleHigh},
		LastDigits: append([]int(nil), digits...),
		HotDigit:   -1,
		ColdDigit:  -1,
	}
	counts := Counts(digits)
	for d := 0; d < 10; d++ {
		snap.Frequencies[d] = DigitFrequency{Digit: d, Count: counts[d], Percentage: percent(counts[d], len(digits))}
		if d%2 == 0 {
			snap.EvenOdd.FirstCount += counts[d]
		} else {
			snap.EvenOdd.SecondCount += counts[d]
		}
		if d > opts.Pivot {
			snap.OverUnder.FirstCount += counts[d]
		} else {
			snap.OverUnder.SecondCount += counts[d]
		}
		if d >= opts.MiddleLow && d <= opts.MiddleHigh {
			snap.Middle.Count += counts[d]
		}
	}
	n := len(digits)
	snap.EvenOdd.FirstPercent = percent(snap.EvenOdd.FirstCount, n)
	snap.EvenOdd.SecondPercent = percent(snap.EvenOdd.SecondCount, n)
	snap.OverUnder.FirstPercent = percent(snap.OverUnder.FirstCount, n)
	snap.OverUnder.SecondPercent = percent(snap.OverUnder.SecondCount, n)
	snap.Middle.Percentage = percent(snap.Middle.Count, n)

	snap.Entropy = Entropy(counts, n)
	snap.RandomnessLevel = snap.Entropy / MaxEntropy * 100
	snap.Bias = dominant(snap.EvenOdd, snap.OverUnder)
	snap.LongestStreak = LongestStreak(digits)
	snap.CurrentStreak = TailStreak(digits)
	if n > 0 {
		snap.HotDigit, snap.ColdDigit = extremes(counts)
	}
	return snap
}

// Counts tallies occurrences of each digit; values outside 0-9 are ignored.
func Counts(digits []int) [10]int {
	var counts [10]int
	for _, d := range digits {
		if d >= 0 && d <= 9 {
			counts[d]++
		}
	}
	return counts
}

// Entropy is the Shannon entropy in bits of the digit distribution.
func Entropy(counts [10]int, total int) float64 {
	if total <= 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

// LongestStreak scans newest to oldest for the longest run of length >= 2.
// A newer run wins ties. The zero Streak means no digit repeated.
func LongestStreak(digits []int) Streak {
	var best Streak
	i := len(digits) - 1
	for i >= 0 {
		j := i
		for j > 0 && digits[j-1] == digits[i] {
			j--
		}
		length := i - j + 1
		if length >= 2 && length > best.Length {
			best = Streak{Digit: digits[i], Length: length}
		}
		i = j - 1
	}
	return best
}

// TailStreak is the run ending at the newest digit, reported only when it is at least 2 long.
func TailStreak(digits []int) Streak {
	n := len(digits)
	if n < 2 {
		return Streak{}
	}
	length := 1
	for i := n - 2; i >= 0 && digits[i] == digits[n-1]; i-- {
		length++
	}
	if length < 2 {
		return Streak{}
	}
	return Streak{Digit: digits[n-1], Length: length}
}

// Rarest returns the digits sharing the lowest count, ascending.
func Rarest(counts [10]int) []int {
	low := counts[0]
	for _, c := range counts[1:] {
		if c < low {
			low = c
		}
	}
	var out []int
	for d, c := range counts {
		if c == low {
			out = append(out, d)
		}
	}
	return out
}

func extremes(counts [10]int) (hot, cold int) {
	for d := 1; d < 10; d++ {
		if counts[d] > counts[hot] {
			hot = d
		}
		if counts[d] < counts[cold] {
			cold = d
		}
	}
	return hot, cold
}

func dominant(evenOdd, overUnder Split) Bias {
	candidates := []Bias{
		{Direction: signal.SideEven, Strength: evenOdd.FirstPercent},
		{Direction: signal.SideOdd, Strength: evenOdd.SecondPercent},
		{Direction: signal.SideOver, Strength: overUnder.FirstPercent},
		{Direction: signal.SideUnder, Strength: overUnder.SecondPercent},
	}
	best := Bias{Direction: signal.SideNone}
	for _, c := range candidates {
		if c.Strength > best.Strength {
			best = c
		}
	}
	return best
}

func percent(count, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(count) / float64(total) * 100
}
