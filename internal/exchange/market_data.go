package exchange

import (
	"context"
	"fmt"
	"time"

	"digitbot-go/internal/signal"
)

// ParseTick converts a tick stream update into a signal.Tick.
func ParseTick(env Envelope) (signal.Tick, error) {
	var msg tickMessage
	if err := env.Decode(&msg); err != nil {
		return signal.Tick{}, fmt.Errorf("%w: decode tick: %v", ErrData, err)
	}
	if msg.Tick.Symbol == "" || msg.Tick.Epoch == 0 {
		return signal.Tick{}, fmt.Errorf("%w: tick missing symbol or epoch", ErrData)
	}
	return signal.NewTick(msg.Tick.Symbol, msg.Tick.Quote, msg.Tick.PipSize, time.Unix(msg.Tick.Epoch, 0).UTC()), nil
}

// TicksHistory fetches the latest count ticks for symbol, oldest first.
func (c *Client) TicksHistory(ctx context.Context, symbol string, count int) ([]signal.Tick, error) {
	env, err := c.Request(ctx, map[string]any{
		"ticks_history": symbol,
		"end":           "latest",
		"count":         count,
		"style":         "ticks",
	}, ErrData)
	if err != nil {
		return nil, err
	}
	return parseHistory(symbol, env)
}

func parseHistory(symbol string, env Envelope) ([]signal.Tick, error) {
	var msg historyMessage
	if err := env.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: decode history: %v", ErrData, err)
	}
	prices, times := msg.History.Prices, msg.History.Times
	if len(prices) != len(times) {
		return nil, fmt.Errorf("%w: history for %s has %d prices and %d times", ErrData, symbol, len(prices), len(times))
	}
	out := make([]signal.Tick, len(prices))
	for i := range prices {
		out[i] = signal.NewTick(symbol, prices[i], msg.PipSize, time.Unix(times[i], 0).UTC())
	}
	return out, nil
}

// ActiveSymbols lists tradable markets.
func (c *Client) ActiveSymbols(ctx context.Context) ([]Symbol, error) {
	env, err := c.Request(ctx, map[string]any{"active_symbols": "brief", "product_type": "basic"}, ErrData)
	if err != nil {
		return nil, err
	}
	var msg activeSymbolsMessage
	if err := env.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: decode active_symbols: %v", ErrData, err)
	}
	return msg.ActiveSymbols, nil
}
