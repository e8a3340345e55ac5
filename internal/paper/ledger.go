package paper

import (
	"sync"
	"time"

	"digitbot-go/internal/execution"
)

// Settlement pairs a simulated request with its result.
type Settlement struct {
	Request execution.TradeRequest `json:"request"`
	Result  execution.TradeResult  `json:"result"`
	Digit   int                    `json:"digit"`
	At      time.Time              `json:"at"`
}

// Ledger stores simulated settlements in memory for quick inspection.
type Ledger struct {
	mu      sync.Mutex
	entries []Settlement
}

// NewLedger creates an empty ledger optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{entries: make([]Settlement, 0, capacity)}
}

// Record appends a settlement to the ledger.
func (l *Ledger) Record(s Settlement) {
	l.mu.Lock()
	l.entries = append(l.entries, s)
	l.mu.Unlock()
}

// Snapshot returns a copy of the recorded settlements.
func (l *Ledger) Snapshot() []Settlement {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Settlement, len(l.entries))
	copy(out, l.entries)
	return out
}

// Reset clears all stored settlements.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.entries = l.entries[:0]
	l.mu.Unlock()
}
