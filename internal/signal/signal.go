// Package signal standardizes payloads shared between data ingestion and strategy layers.
package signal

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tick models one published quote and its derived last digit.
type Tick struct {
	Symbol    string
	Quote     decimal.Decimal
	PipSize   int32 // fractional digits the feed publishes for this symbol
	Epoch     time.Time
	LastDigit int
}

// NewTick derives the last digit from the quote at the feed's fixed width.
func NewTick(symbol string, quote decimal.Decimal, pipSize int32, epoch time.Time) Tick {
	return Tick{
		Symbol:    symbol,
		Quote:     quote,
		PipSize:   pipSize,
		Epoch:     epoch,
		LastDigit: LastDigit(quote, pipSize),
	}
}

// Display renders the quote exactly as the feed publishes it, trailing zeros included.
func (t Tick) Display() string {
	return FormatQuote(t.Quote, t.PipSize)
}

// Price is the quote as a float for display and arithmetic that tolerates rounding.
func (t Tick) Price() float64 {
	f, _ := t.Quote.Float64()
	return f
}

// FormatQuote formats a quote with exactly pipSize fractional digits.
func FormatQuote(quote decimal.Decimal, pipSize int32) string {
	if pipSize < 0 {
		pipSize = 0
	}
	return quote.StringFixed(pipSize)
}

// LastDigit returns the final digit of the fixed-width quote with the decimal point removed.
// 1234.5 at pip size 2 is "1234.50" so the digit is 0, not 5.
func LastDigit(quote decimal.Decimal, pipSize int32) int {
	d, err := LastDigitOf(FormatQuote(quote, pipSize))
	if err != nil {
		return 0
	}
	return d
}

// LastDigitOf works on a quote string as published; it never re-formats the input.
func LastDigitOf(quote string) (int, error) {
	digits := strings.ReplaceAll(strings.TrimSpace(quote), ".", "")
	if digits == "" {
		return 0, fmt.Errorf("empty quote")
	}
	last := digits[len(digits)-1]
	if last < '0' || last > '9' {
		return 0, fmt.Errorf("quote %q does not end in a digit", quote)
	}
	return int(last - '0'), nil
}

// Digits extracts the last-digit series from ticks, oldest first.
func Digits(ticks []Tick) []int {
	out := make([]int, len(ticks))
	for i, tk := range ticks {
		out[i] = tk.LastDigit
	}
	return out
}
