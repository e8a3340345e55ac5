// Package exchange hosts the broker connector and the tick sources built on it.
package exchange

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"digitbot-go/internal/metrics"
	"digitbot-go/internal/signal"
)

const (
	// ProviderStub emits deterministic synthetic ticks (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderDeriv streams live ticks from the broker WebSocket API.
	ProviderDeriv = "deriv"
)

// Feed represents a pluggable market data stream implementation.
type Feed struct {
	provider     string
	symbols      []string
	log          zerolog.Logger
	endpoint     string
	token        string
	stubInterval time.Duration
	stubPipSize  int32
	clientOpts   []ClientOption

	mu     sync.RWMutex
	client *Client
	walks  map[string]*stubWalk
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const (
	defaultStubInterval = 500 * time.Millisecond
	defaultStubPipSize  = 2
	shutdownTimeout     = 5 * time.Second
)

// WithEndpoint points the live provider at a broker URL (app_id included).
func WithEndpoint(endpoint string) Option {
	return func(f *Feed) {
		if endpoint != "" {
			f.endpoint = endpoint
		}
	}
}

// WithToken authorizes the live feed session. Ticks do not need it.
func WithToken(token string) Option {
	return func(f *Feed) { f.token = token }
}

// WithStubInterval overrides the synthetic tick cadence.
func WithStubInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.stubInterval = d
		}
	}
}

// WithClientOptions forwards options to every Client the feed dials.
func WithClientOptions(opts ...ClientOption) Option {
	return func(f *Feed) { f.clientOpts = append(f.clientOpts, opts...) }
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		log:          log,
		endpoint:     Endpoint(DefaultEndpoint, DefaultAppID),
		stubInterval: defaultStubInterval,
		stubPipSize:  defaultStubPipSize,
		walks:        make(map[string]*stubWalk),
	}
	f.SetSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Provider returns the normalized provider name.
func (f *Feed) Provider() string { return f.provider }

// Symbols returns the tracked symbol list.
func (f *Feed) Symbols() []string { return f.snapshotSymbols() }

// SetSymbols replaces the tracked symbols. A live session picks the change up on its next reconnect.
func (f *Feed) SetSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

func (f *Feed) snapshotSymbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Run pushes ticks onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- signal.Tick) error {
	if len(f.snapshotSymbols()) == 0 {
		return fmt.Errorf("%w: feed requires at least one symbol", ErrData)
	}
	switch f.provider {
	case ProviderDeriv:
		return f.runDeriv(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

// History returns recent ticks for symbol from the current connection (or the synthetic walk).
func (f *Feed) History(ctx context.Context, symbol string, count int) ([]signal.Tick, error) {
	if f.provider != ProviderDeriv {
		return f.stubHistory(symbol, count, time.Now()), nil
	}
	f.mu.RLock()
	client := f.client
	f.mu.RUnlock()
	if client == nil {
		return nil, fmt.Errorf("%w: feed not connected", ErrConnection)
	}
	return client.TicksHistory(ctx, symbol, count)
}

// ActiveSymbols lists markets through the live connection.
func (f *Feed) ActiveSymbols(ctx context.Context) ([]Symbol, error) {
	if f.provider != ProviderDeriv {
		symbols := f.snapshotSymbols()
		out := make([]Symbol, 0, len(symbols))
		for _, sym := range symbols {
			out = append(out, Symbol{Symbol: sym, DisplayName: sym, Market: "synthetic_index", Pip: decimal.New(1, -f.stubPipSize), ExchangeIsOpen: 1})
		}
		return out, nil
	}
	f.mu.RLock()
	client := f.client
	f.mu.RUnlock()
	if client == nil {
		return nil, fmt.Errorf("%w: feed not connected", ErrConnection)
	}
	return client.ActiveSymbols(ctx)
}

type stubWalk struct {
	rng   *rand.Rand
	price decimal.Decimal
}

func (f *Feed) walk(symbol string) *stubWalk {
	w := f.walks[symbol]
	if w == nil {
		h := fnv.New64a()
		_, _ = h.Write([]byte(symbol))
		seed := int64(h.Sum64() & math.MaxInt64)
		w = &stubWalk{rng: rand.New(rand.NewSource(seed)), price: decimal.NewFromInt(1000 + seed%9000)}
		f.walks[symbol] = w
	}
	return w
}

// next moves the walk by up to ±50 pips.
func (w *stubWalk) next(pipSize int32) decimal.Decimal {
	step := decimal.New(int64(w.rng.Intn(101)-50), -pipSize)
	w.price = w.price.Add(step)
	return w.price
}

func (f *Feed) stubHistory(symbol string, count int, now time.Time) []signal.Tick {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.walk(symbol)
	out := make([]signal.Tick, count)
	for i := 0; i < count; i++ {
		ts := now.Add(-time.Duration(count-i) * time.Second)
		out[i] = signal.NewTick(symbol, w.next(f.stubPipSize), f.stubPipSize, ts)
	}
	return out
}

func (f *Feed) runStub(ctx context.Context, out chan<- signal.Tick) error {
	ticker := time.NewTicker(f.stubInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			symbols := f.snapshotSymbols()
			for _, s := range symbols {
				f.mu.Lock()
				quote := f.walk(s).next(f.stubPipSize)
				f.mu.Unlock()
				tick := signal.NewTick(s, quote, f.stubPipSize, ts.UTC())
				select {
				case out <- tick:
					metrics.TicksTotal.WithLabelValues(s).Inc()
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}
