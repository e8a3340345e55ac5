package market

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"digitbot-go/internal/exchange"
	"digitbot-go/internal/signal"
)

// Hub routes ticks to the ingestor that owns each symbol.
type Hub struct {
	log  zerolog.Logger
	opts []IngestorOption

	mu        sync.RWMutex
	ingestors map[string]*Ingestor
}

// NewHub creates one ingestor per symbol, all sharing opts.
func NewHub(symbols []string, log zerolog.Logger, opts ...IngestorOption) *Hub {
	h := &Hub{log: log, opts: opts, ingestors: make(map[string]*Ingestor, len(symbols))}
	for _, sym := range symbols {
		h.Add(sym)
	}
	return h
}

// Add returns the ingestor for symbol, creating it on first use.
func (h *Hub) Add(symbol string) *Ingestor {
	h.mu.Lock()
	defer h.mu.Unlock()
	if in, ok := h.ingestors[symbol]; ok {
		return in
	}
	in := NewIngestor(symbol, h.log, h.opts...)
	h.ingestors[symbol] = in
	return in
}

// Ingestor looks up the ingestor for symbol.
func (h *Hub) Ingestor(symbol string) (*Ingestor, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	in, ok := h.ingestors[symbol]
	return in, ok
}

// Symbols lists routed symbols in sorted order.
func (h *Hub) Symbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.ingestors))
	for sym := range h.ingestors {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Route pushes tick into its symbol's ingestor.
func (h *Hub) Route(tick signal.Tick) (*Ingestor, error) {
	in, ok := h.Ingestor(tick.Symbol)
	if !ok {
		return nil, fmt.Errorf("%w: no ingestor for %s", exchange.ErrData, tick.Symbol)
	}
	if err := in.Push(tick); err != nil {
		return nil, err
	}
	return in, nil
}

// LoadHistory seeds every ingestor. A failing symbol is logged and skipped; the returned count
// is the number of symbols that fetched fresh history.
func (h *Hub) LoadHistory(ctx context.Context, fetcher HistoryFetcher) int {
	loaded := 0
	for _, sym := range h.Symbols() {
		in, _ := h.Ingestor(sym)
		ok, err := in.LoadHistory(ctx, fetcher)
		if err != nil {
			h.log.Warn().Err(err).Str("symbol", sym).Msg("history load failed")
			continue
		}
		if ok {
			loaded++
		}
	}
	return loaded
}

// Run routes ticks from in until it closes or ctx ends. Bad ticks are logged and dropped.
func (h *Hub) Run(ctx context.Context, in <-chan signal.Tick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-in:
			if !ok {
				return nil
			}
			if _, err := h.Route(tick); err != nil {
				h.log.Warn().Err(err).Str("symbol", tick.Symbol).Msg("dropping tick")
			}
		}
	}
}
