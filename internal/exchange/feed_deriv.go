package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"digitbot-go/internal/metrics"
	"digitbot-go/internal/signal"
)

func (f *Feed) runDeriv(ctx context.Context, out chan<- signal.Tick) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := f.consumeDeriv(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAuth) {
			return err
		}
		f.log.Warn().Err(err).Msg("broker feed disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

func (f *Feed) consumeDeriv(ctx context.Context, out chan<- signal.Tick) error {
	client := NewClient(f.endpoint, f.token, f.log, f.clientOpts...)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	f.client = client
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.client = nil
		f.mu.Unlock()
		// ctx may already be canceled; shutdown needs its own budget
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := client.Shutdown(shutdownCtx); err != nil {
			f.log.Warn().Err(err).Msg("broker feed shutdown incomplete")
		}
	}()

	symbols := f.snapshotSymbols()
	streams := make([]*Stream, 0, len(symbols))
	for _, sym := range symbols {
		stream, err := client.Subscribe(ctx, map[string]any{"ticks": sym}, ErrData)
		if err != nil {
			if errors.Is(err, ErrConnection) {
				return err
			}
			f.log.Warn().Err(err).Str("symbol", sym).Msg("tick subscription failed")
			continue
		}
		streams = append(streams, stream)
	}
	if len(streams) == 0 {
		return fmt.Errorf("%w: no tick subscription succeeded", ErrData)
	}
	f.log.Info().Str("provider", ProviderDeriv).Strs("symbols", symbols).Int("streams", len(streams)).Msg("connected market data feed")

	for _, stream := range streams {
		go f.pump(ctx, stream, out)
	}

	select {
	case <-ctx.Done():
	case <-client.Done():
	}
	// the deferred Shutdown closes the streams, which ends the pumps
	if err := client.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return ctx.Err()
}

func (f *Feed) pump(ctx context.Context, stream *Stream, out chan<- signal.Tick) {
	for env := range stream.C() {
		if env.Error != nil {
			f.log.Warn().Err(classify(env.Error, ErrData)).Str("subscription", stream.ID).Msg("tick stream error")
			continue
		}
		tick, err := ParseTick(env)
		if err != nil {
			f.log.Warn().Err(err).Str("subscription", stream.ID).Msg("invalid tick from broker")
			continue
		}
		select {
		case out <- tick:
			metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()
		case <-ctx.Done():
			return
		}
	}
}
