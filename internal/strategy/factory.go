package strategy

import (
	"fmt"
	"strings"

	sig "digitbot-go/internal/signal"
)

// Strategy defines behaviour shared by strategy implementations used by the bot.
type Strategy interface {
	Analyze(digits []int) sig.Signal
	Name() string
}

const (
	ModeEvenOdd   = "even_odd"
	ModeOverUnder = "over_under"
	ModeDiffers   = "differs"
)

// Params expresses tunable knobs required by strategy constructors.
type Params struct {
	MinGap            float64
	MinPower          float64
	Confirmations     int
	MinSamples        int
	Pivot             int
	DiffersMaxPercent float64
}

// Policy returns the shared decision policy encoded in the params.
func (p Params) Policy() Policy {
	return Policy{
		MinGap:        p.MinGap,
		MinPower:      p.MinPower,
		Confirmations: p.Confirmations,
		MinSamples:    p.MinSamples,
	}.normalized()
}

// Normalize maps a configured mode or one of its aliases to its canonical name. An empty mode
// is even_odd; anything unrecognised reports false.
func Normalize(mode string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "even_odd", "evenodd", "even/odd":
		return ModeEvenOdd, true
	case "over_under", "overunder", "over/under":
		return ModeOverUnder, true
	case "differs", "differ", "digit_differs":
		return ModeDiffers, true
	}
	return "", false
}

// Build returns the strategy for mode, or an error naming the accepted modes.
func Build(mode string, params Params) (Strategy, error) {
	canonical, ok := Normalize(mode)
	if !ok {
		return nil, fmt.Errorf("unknown strategy mode %q (want %s, %s or %s)", mode, ModeEvenOdd, ModeOverUnder, ModeDiffers)
	}
	switch canonical {
	case ModeOverUnder:
		return NewOverUnder(params.Pivot, params.Policy()), nil
	case ModeDiffers:
		return NewDiffers(params.DiffersMaxPercent, params.Policy()), nil
	default:
		return NewEvenOdd(params.Policy()), nil
	}
}
