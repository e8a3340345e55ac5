package martingale

import (
	"sync"
	"time"

	"digitbot-go/internal/execution"
)

// EventType names a controller lifecycle event.
type EventType string

const (
	EventStarted          EventType = "started"
	EventStopped          EventType = "stopped"
	EventTradeExecuted    EventType = "trade_executed"
	EventTargetReached    EventType = "target_reached"
	EventMaxLossReached   EventType = "max_loss_reached"
	EventMaxTradesReached EventType = "max_trades_reached"
	EventTradeFailed      EventType = "trade_failed"
)

// Event carries the session state as it was when the event was emitted.
type Event struct {
	Type     EventType
	Strategy string
	Market   string
	At       time.Time
	Session  SessionState
	Request  *execution.TradeRequest
	Result   *execution.TradeResult
	Reason   string
	Err      error
}

// Observer receives controller events.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f.
func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// dispatcher delivers events in order; an event emitted from inside a handler is queued until
// every observer has seen the current one.
type dispatcher struct {
	mu          sync.Mutex
	observers   []Observer
	queue       []Event
	dispatching bool
}

func (d *dispatcher) register(o Observer) {
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
}

func (d *dispatcher) emit(events ...Event) {
	d.mu.Lock()
	d.queue = append(d.queue, events...)
	if d.dispatching {
		d.mu.Unlock()
		return
	}
	d.dispatching = true
	for len(d.queue) > 0 {
		ev := d.queue[0]
		d.queue = d.queue[1:]
		observers := append([]Observer(nil), d.observers...)
		d.mu.Unlock()
		for _, o := range observers {
			o.OnEvent(ev)
		}
		d.mu.Lock()
	}
	d.dispatching = false
	d.mu.Unlock()
}
