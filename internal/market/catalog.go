package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"digitbot-go/internal/exchange"
	"digitbot-go/internal/store"
)

// SymbolSource lists the broker's tradable markets.
type SymbolSource interface {
	ActiveSymbols(ctx context.Context) ([]exchange.Symbol, error)
}

var catalogKey = store.Key("markets", "active_symbols")

// Catalog caches active_symbols metadata in the store for MarketCacheTTL.
type Catalog struct {
	source SymbolSource
	kv     store.KV
	ttl    time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

// NewCatalog wires a catalog; kv may be nil to disable caching.
func NewCatalog(source SymbolSource, kv store.KV, log zerolog.Logger) *Catalog {
	return &Catalog{source: source, kv: kv, ttl: store.MarketCacheTTL, now: time.Now, log: log}
}

// Symbols returns cached metadata when fresh, otherwise fetches and re-caches it.
func (c *Catalog) Symbols(ctx context.Context) ([]exchange.Symbol, error) {
	if c.kv != nil {
		var cached []exchange.Symbol
		err := store.LoadFresh(ctx, c.kv, catalogKey, c.ttl, c.now(), &cached)
		switch {
		case err == nil:
			return cached, nil
		case !errors.Is(err, store.ErrNotFound):
			c.log.Warn().Err(err).Msg("market cache unreadable, refetching")
		}
	}
	return c.Refresh(ctx)
}

// Refresh always asks the broker, then updates the cache.
func (c *Catalog) Refresh(ctx context.Context) ([]exchange.Symbol, error) {
	symbols, err := c.source.ActiveSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("active symbols: %w", err)
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i].Symbol < symbols[j].Symbol })
	if c.kv != nil {
		if err := c.kv.Put(ctx, catalogKey, symbols); err != nil {
			c.log.Warn().Err(err).Msg("market cache write failed")
		}
	}
	return symbols, nil
}

// Lookup finds one symbol's metadata.
func (c *Catalog) Lookup(ctx context.Context, symbol string) (exchange.Symbol, bool, error) {
	symbols, err := c.Symbols(ctx)
	if err != nil {
		return exchange.Symbol{}, false, err
	}
	for _, s := range symbols {
		if s.Symbol == symbol {
			return s, true, nil
		}
	}
	return exchange.Symbol{}, false, nil
}

// Filter keeps the wanted symbols the broker lists as open, preserving order. Unknown or closed
// markets are logged and dropped.
func (c *Catalog) Filter(ctx context.Context, wanted []string) ([]string, error) {
	symbols, err := c.Symbols(ctx)
	if err != nil {
		return nil, err
	}
	open := make(map[string]exchange.Symbol, len(symbols))
	for _, s := range symbols {
		open[s.Symbol] = s
	}
	out := make([]string, 0, len(wanted))
	for _, sym := range wanted {
		meta, ok := open[sym]
		switch {
		case !ok:
			c.log.Warn().Str("symbol", sym).Msg("unknown market, skipping")
		case meta.ExchangeIsOpen != 1:
			c.log.Warn().Str("symbol", sym).Msg("market closed, skipping")
		default:
			out = append(out, sym)
		}
	}
	return out, nil
}
