// Package journal keeps the append-only record of trades and analysis events for one tab.
package journal

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"digitbot-go/internal/execution"
	"digitbot-go/internal/signal"
	"digitbot-go/internal/store"
)

// EntryType separates settled trades from analysis notes.
type EntryType string

const (
	TypeTrade    EntryType = "trade"
	TypeAnalysis EntryType = "analysis"
)

// Entry is one journal line.
type Entry struct {
	ID           string              `json:"id"`
	Timestamp    time.Time           `json:"timestamp"`
	Type         EntryType           `json:"type"`
	Action       string              `json:"action"`
	Stake        decimal.Decimal     `json:"stake"`
	Profit       decimal.Decimal     `json:"profit"`
	Result       execution.Result    `json:"result,omitempty"`
	Market       string              `json:"market"`
	Strategy     string              `json:"strategy"`
	ContractType signal.ContractType `json:"contract_type,omitempty"`
	Simulated    bool                `json:"simulated,omitempty"`
}

// Stats are recomputed from every entry after each mutation.
type Stats struct {
	TotalTrades   int             `json:"total_trades"`
	Wins          int             `json:"wins"`
	Losses        int             `json:"losses"`
	WinRate       float64         `json:"win_rate"`
	TotalProfit   decimal.Decimal `json:"total_profit"`
	AverageProfit decimal.Decimal `json:"average_profit"`
}

// Recorder receives every appended entry, e.g. a JSONL export.
type Recorder interface {
	Record(Entry) error
}

// Journal is safe for concurrent use. Writes reach the store in the order they were applied.
type Journal struct {
	tab      string
	kv       store.KV
	log      zerolog.Logger
	recorder Recorder
	now      func() time.Time

	mu      sync.Mutex
	entries []Entry
	stats   Stats
}

// Option configures a Journal.
type Option func(*Journal)

// WithRecorder mirrors every added entry to r.
func WithRecorder(r Recorder) Option {
	return func(j *Journal) { j.recorder = r }
}

// WithClock replaces time.Now for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// New loads the journal for tab from kv. A missing or unreadable record starts empty.
func New(ctx context.Context, tab string, kv store.KV, log zerolog.Logger, opts ...Option) *Journal {
	j := &Journal{tab: tab, kv: kv, log: log.With().Str("journal", tab).Logger(), now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	if kv != nil {
		var saved []Entry
		err := store.Load(ctx, kv, j.Key(), &saved)
		switch {
		case err == nil:
			j.entries = saved
		case errors.Is(err, store.ErrNotFound):
		default:
			j.log.Warn().Err(err).Msg("journal unreadable, starting empty")
		}
	}
	j.stats = compute(j.entries)
	return j
}

// Key is the store key, journal:<tab>.
func (j *Journal) Key() string { return store.Key("journal", j.tab) }

// Add assigns an id and timestamp when missing, appends and persists.
func (j *Journal) Add(ctx context.Context, e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = j.now().UTC()
	}
	if e.Type == "" {
		e.Type = TypeTrade
	}
	j.mu.Lock()
	j.entries = append(j.entries, e)
	j.stats = compute(j.entries)
	j.persist(ctx, j.copyLocked())
	j.mu.Unlock()

	if j.recorder != nil {
		if err := j.recorder.Record(e); err != nil {
			j.log.Warn().Err(err).Msg("journal export failed")
		}
	}
	return e
}

// Entries returns the most recent limit entries in insertion order; limit <= 0 means all.
func (j *Journal) Entries(limit int) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	from := 0
	if limit > 0 && limit < len(j.entries) {
		from = len(j.entries) - limit
	}
	out := make([]Entry, len(j.entries)-from)
	copy(out, j.entries[from:])
	return out
}

// Clear drops every entry and zeroes the stats.
func (j *Journal) Clear(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
	j.stats = Stats{}
	j.persist(ctx, []Entry{})
}

// Stats returns the aggregate over all entries.
func (j *Journal) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

func (j *Journal) copyLocked() []Entry {
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// persist runs under mu so a slower write can never land after a newer one.
func (j *Journal) persist(ctx context.Context, entries []Entry) {
	if j.kv == nil {
		return
	}
	if err := j.kv.Put(ctx, j.Key(), entries); err != nil {
		j.log.Warn().Err(err).Msg("journal not persisted, continuing in memory")
	}
}

func compute(entries []Entry) Stats {
	var s Stats
	for _, e := range entries {
		if e.Type != TypeTrade {
			continue
		}
		switch e.Result {
		case execution.Win:
			s.Wins++
		case execution.Loss:
			s.Losses++
		default:
			continue
		}
		s.TotalTrades++
		s.TotalProfit = s.TotalProfit.Add(e.Profit)
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalTrades) * 100
		s.AverageProfit = s.TotalProfit.Div(decimal.NewFromInt(int64(s.TotalTrades))).Round(2)
	}
	return s
}

// TradeEntry builds a journal entry for a settled trade.
func TradeEntry(req execution.TradeRequest, res execution.TradeResult) Entry {
	action := "BUY " + string(req.Contract)
	if req.Contract.NeedsBarrier() {
		action += " " + strconv.Itoa(req.Barrier)
	}
	return Entry{
		Type:         TypeTrade,
		Action:       action,
		Stake:        req.Stake,
		Profit:       res.Profit,
		Result:       res.Result,
		Market:       req.Market,
		Strategy:     req.Strategy,
		ContractType: req.Contract,
		Simulated:    res.Simulated,
	}
}

// AnalysisEntry records a signal worth keeping, e.g. the first TRADE_NOW of a window.
func AnalysisEntry(market string, sig signal.Signal) Entry {
	return Entry{
		Type:         TypeAnalysis,
		Action:       string(sig.Status) + " " + string(sig.Side) + ": " + sig.EntryCondition,
		Market:       market,
		Strategy:     sig.Strategy,
		ContractType: sig.Contract,
	}
}
