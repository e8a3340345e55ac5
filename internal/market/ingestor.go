// Package market owns the per-symbol tick buffers and the snapshots derived from them.
package market

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"digitbot-go/internal/exchange"
	"digitbot-go/internal/signal"
	"digitbot-go/internal/stats"
)

const (
	DefaultCapacity        = 100
	DefaultHistoryCooldown = 60 * time.Second
)

// HistoryFetcher loads recent ticks for a symbol, oldest first.
type HistoryFetcher interface {
	History(ctx context.Context, symbol string, count int) ([]signal.Tick, error)
}

// Ingestor is the single owner of one symbol's rolling buffer.
type Ingestor struct {
	symbol   string
	capacity int
	cooldown time.Duration
	opts     stats.Options
	now      func() time.Time
	log      zerolog.Logger

	mu          sync.Mutex
	ticks       []signal.Tick
	lastHistory time.Time
	waiters     []chan signal.Tick

	snap atomic.Pointer[stats.Snapshot]
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithCapacity bounds the rolling buffer.
func WithCapacity(n int) IngestorOption {
	return func(in *Ingestor) {
		if n > 0 {
			in.capacity = n
		}
	}
}

// WithHistoryCooldown sets the minimum spacing between history fetches.
func WithHistoryCooldown(d time.Duration) IngestorOption {
	return func(in *Ingestor) {
		if d >= 0 {
			in.cooldown = d
		}
	}
}

// WithStatsOptions sets the pivot and middle band used for snapshots.
func WithStatsOptions(opts stats.Options) IngestorOption {
	return func(in *Ingestor) { in.opts = opts }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) IngestorOption {
	return func(in *Ingestor) { in.now = now }
}

// NewIngestor builds an empty ingestor for symbol.
func NewIngestor(symbol string, log zerolog.Logger, opts ...IngestorOption) *Ingestor {
	in := &Ingestor{
		symbol:   symbol,
		capacity: DefaultCapacity,
		cooldown: DefaultHistoryCooldown,
		opts:     stats.DefaultOptions(),
		now:      time.Now,
		log:      log.With().Str("symbol", symbol).Logger(),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.ticks = make([]signal.Tick, 0, in.capacity)
	empty := stats.Compute(nil, in.opts)
	empty.Symbol = symbol
	in.snap.Store(&empty)
	return in
}

// Symbol returns the market this ingestor serves.
func (in *Ingestor) Symbol() string { return in.symbol }

// Push appends a tick, evicting the oldest past capacity, then republishes the snapshot and
// releases anyone waiting for the next tick.
func (in *Ingestor) Push(tick signal.Tick) error {
	if tick.Symbol != in.symbol {
		return fmt.Errorf("%w: tick for %s routed to %s", exchange.ErrData, tick.Symbol, in.symbol)
	}
	if tick.LastDigit < 0 || tick.LastDigit > 9 {
		return fmt.Errorf("%w: last digit %d out of range", exchange.ErrData, tick.LastDigit)
	}
	in.mu.Lock()
	in.ticks = append(in.ticks, tick)
	if over := len(in.ticks) - in.capacity; over > 0 {
		in.ticks = append(in.ticks[:0], in.ticks[over:]...)
	}
	in.publishLocked()
	waiters := in.waiters
	in.waiters = nil
	in.mu.Unlock()

	for _, w := range waiters {
		w <- tick
	}
	return nil
}

// Snapshot returns the latest published analysis. It never blocks on Push.
func (in *Ingestor) Snapshot() stats.Snapshot {
	return *in.snap.Load()
}

// Digits returns the buffered last digits, oldest first.
func (in *Ingestor) Digits() []int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return signal.Digits(in.ticks)
}

// Len is the number of buffered ticks.
func (in *Ingestor) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.ticks)
}

// Next blocks until the next tick is pushed.
func (in *Ingestor) Next(ctx context.Context) (signal.Tick, error) {
	ch := make(chan signal.Tick, 1)
	in.mu.Lock()
	in.waiters = append(in.waiters, ch)
	in.mu.Unlock()

	select {
	case tk := <-ch:
		return tk, nil
	case <-ctx.Done():
		in.mu.Lock()
		for i, w := range in.waiters {
			if w == ch {
				in.waiters = append(in.waiters[:i], in.waiters[i+1:]...)
				break
			}
		}
		in.mu.Unlock()
		return signal.Tick{}, ctx.Err()
	}
}

// LoadHistory seeds the buffer from fetcher unless a fetch already succeeded within the
// cooldown, in which case the cached buffer is kept and loaded is false.
func (in *Ingestor) LoadHistory(ctx context.Context, fetcher HistoryFetcher) (loaded bool, err error) {
	in.mu.Lock()
	if !in.lastHistory.IsZero() && in.now().Sub(in.lastHistory) < in.cooldown {
		in.mu.Unlock()
		in.log.Debug().Msg("history fetch within cooldown, reusing buffer")
		return false, nil
	}
	in.mu.Unlock()

	history, err := fetcher.History(ctx, in.symbol, in.capacity)
	if err != nil {
		return false, fmt.Errorf("load history %s: %w", in.symbol, err)
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	merged := make([]signal.Tick, 0, in.capacity)
	for _, tk := range history {
		if tk.Symbol == in.symbol {
			merged = append(merged, tk)
		}
	}
	// keep live ticks that arrived after the history window
	var newest time.Time
	if len(merged) > 0 {
		newest = merged[len(merged)-1].Epoch
	}
	for _, tk := range in.ticks {
		if tk.Epoch.After(newest) {
			merged = append(merged, tk)
		}
	}
	if over := len(merged) - in.capacity; over > 0 {
		merged = merged[over:]
	}
	in.ticks = append(in.ticks[:0], merged...)
	in.lastHistory = in.now()
	in.publishLocked()
	return true, nil
}

func (in *Ingestor) publishLocked() {
	snap := stats.Compute(in.ticks, in.opts)
	snap.Symbol = in.symbol
	in.snap.Store(&snap)
}
