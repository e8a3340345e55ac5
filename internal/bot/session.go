// Package bot runs one trading session: ticks in, signals evaluated, trades executed and
// journaled, all serialized through a single event loop.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"digitbot-go/internal/execution"
	"digitbot-go/internal/journal"
	"digitbot-go/internal/market"
	"digitbot-go/internal/martingale"
	"digitbot-go/internal/metrics"
	"digitbot-go/internal/signal"
	"digitbot-go/internal/strategy"
)

// DefaultTradeInterval spaces automated trades.
const DefaultTradeInterval = 3 * time.Second

const settleGrace = 10 * time.Second

// TickSource streams ticks until ctx ends and releases its subscriptions before returning.
type TickSource interface {
	Run(ctx context.Context, out chan<- signal.Tick) error
}

// Deps are the collaborators of one session.
type Deps struct {
	Feed          TickSource
	History       market.HistoryFetcher
	Hub           *market.Hub
	Market        string
	Strategy      strategy.Strategy
	Controller    *martingale.Controller
	Executor      execution.Executor
	Journal       *journal.Journal
	TradeInterval time.Duration
	Log           zerolog.Logger
	Now           func() time.Time
}

// Session owns the loop. Only the loop goroutine touches the controller, journal and buffers.
type Session struct {
	d        Deps
	ingestor *market.Ingestor
	log      zerolog.Logger

	lastStatus     signal.Status
	historyLoaded  bool
	inFlight       bool
	spacingElapsed bool
	feedRunning    bool
}

type settlement struct {
	req execution.TradeRequest
	res execution.TradeResult
	err error
}

// NewSession checks the dependencies and resolves the traded market's ingestor.
func NewSession(d Deps) (*Session, error) {
	switch {
	case d.Feed == nil:
		return nil, errors.New("session needs a feed")
	case d.Hub == nil:
		return nil, errors.New("session needs a hub")
	case d.Strategy == nil:
		return nil, errors.New("session needs a strategy")
	case d.Controller == nil:
		return nil, errors.New("session needs a controller")
	case d.Executor == nil:
		return nil, errors.New("session needs an executor")
	case d.Journal == nil:
		return nil, errors.New("session needs a journal")
	}
	in, ok := d.Hub.Ingestor(d.Market)
	if !ok {
		return nil, fmt.Errorf("market %s is not routed by the hub", d.Market)
	}
	if d.TradeInterval <= 0 {
		d.TradeInterval = DefaultTradeInterval
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Session{
		d:              d,
		ingestor:       in,
		log:            d.Log.With().Str("market", d.Market).Str("strategy", d.Strategy.Name()).Logger(),
		spacingElapsed: true,
	}, nil
}

// Controller exposes the stake controller, e.g. to register observers before Run.
func (s *Session) Controller() *martingale.Controller { return s.d.Controller }

// Run starts the feed and the controller and loops until the controller stops, the feed fails or
// ctx ends. The feed and the executor run on contexts detached from ctx: on exit a trade already in
// flight gets settleGrace to settle while ticks keep flowing, then the feed is canceled and awaited,
// so its subscriptions are forgotten before the transport closes.
func (s *Session) Run(ctx context.Context) (err error) {
	now := s.d.Now()
	if err := s.d.Controller.Start(now); err != nil {
		return err
	}

	feedCtx, cancelFeed := context.WithCancel(context.WithoutCancel(ctx))
	execCtx, cancelExec := context.WithCancel(context.WithoutCancel(ctx))
	ticks := make(chan signal.Tick, 256)
	feedDone := make(chan error, 1)
	go func() { feedDone <- s.d.Feed.Run(feedCtx, ticks) }()

	results := make(chan settlement, 1)
	var analysis, spacing *time.Timer
	s.feedRunning = true

	defer func() {
		for _, t := range []*time.Timer{analysis, spacing} {
			if t != nil {
				t.Stop()
			}
		}
		s.d.Controller.Stop("shutdown", s.d.Now())
		if s.inFlight {
			s.drain(results, ticks, feedDone)
		}
		cancelExec()
		cancelFeed()
		if s.feedRunning {
			<-feedDone
		}
		s.log.Info().Err(err).Msg("session closed")
	}()

	analysis = time.NewTimer(s.d.Controller.WindowEnd().Sub(now))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ferr := <-feedDone:
			s.feedRunning = false
			if ferr == nil || errors.Is(ferr, context.Canceled) {
				return nil
			}
			return fmt.Errorf("feed stopped: %w", ferr)

		case tk := <-ticks:
			if !s.route(tk) {
				continue
			}
			s.ensureHistory(feedCtx)
			s.d.Controller.Advance(s.d.Now())
			s.evaluate(execCtx, results)

		case <-timerC(analysis):
			s.d.Controller.Advance(s.d.Now())
			s.evaluate(execCtx, results)

		case <-timerC(spacing):
			s.spacingElapsed = true
			s.evaluate(execCtx, results)

		case r := <-results:
			s.inFlight = false
			if stopped := s.settle(execCtx, r); stopped {
				return nil
			}
			s.spacingElapsed = false
			spacing = time.NewTimer(s.d.TradeInterval)
		}

		if s.d.Controller.State() == martingale.Stopped && !s.inFlight {
			return nil
		}
	}
}

// route pushes a tick to its ingestor and reports whether it belongs to the traded market.
func (s *Session) route(tk signal.Tick) bool {
	in, err := s.d.Hub.Route(tk)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", tk.Symbol).Msg("dropping tick")
		return false
	}
	return in == s.ingestor
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (s *Session) ensureHistory(ctx context.Context) {
	if s.historyLoaded || s.d.History == nil {
		return
	}
	s.historyLoaded = true
	n := s.d.Hub.LoadHistory(ctx, s.d.History)
	s.log.Debug().Int("symbols", n).Int("buffered", s.ingestor.Len()).Msg("history seeded")
}

// evaluate analyzes the buffer and, when the controller allows it, dispatches one trade.
func (s *Session) evaluate(ctx context.Context, results chan<- settlement) {
	if s.d.Controller.State() != martingale.Trading || s.inFlight || !s.spacingElapsed {
		return
	}
	sig := s.d.Strategy.Analyze(s.ingestor.Digits())
	sig.Symbol = s.d.Market
	sig.Ts = s.d.Now()
	metrics.SignalsTotal.WithLabelValues(sig.Strategy, string(sig.Status)).Inc()
	if sig.Status != s.lastStatus {
		s.lastStatus = sig.Status
		s.d.Journal.Add(ctx, journal.AnalysisEntry(s.d.Market, sig))
	}
	if !sig.Actionable() {
		return
	}
	req, err := s.d.Controller.NextRequest(sig)
	if err != nil {
		s.log.Debug().Err(err).Msg("no trade")
		return
	}
	s.inFlight = true
	s.log.Info().Str("contract", string(req.Contract)).Int("barrier", req.Barrier).
		Str("stake", req.Stake.StringFixed(2)).Float64("probability", sig.Probability).Msg("placing trade")
	go func() {
		res, err := s.d.Executor.Execute(ctx, req)
		results <- settlement{req: req, res: res, err: err}
	}()
}

// settle folds one executor outcome into the controller and journal; it reports whether the
// controller is now stopped.
func (s *Session) settle(ctx context.Context, r settlement) bool {
	now := s.d.Now()
	if r.err != nil {
		return !s.d.Controller.Fail(r.err, now)
	}
	if _, err := s.d.Controller.Settle(ctx, r.res, now); err != nil {
		s.log.Warn().Err(err).Msg("settlement not applied")
	}
	s.d.Journal.Add(ctx, journal.TradeEntry(r.req, r.res))
	return s.d.Controller.State() == martingale.Stopped
}

// drain waits up to settleGrace for an in-flight trade so its outcome is journaled before exit.
// Ticks are still routed meanwhile, since a simulated contract settles on them.
func (s *Session) drain(results <-chan settlement, ticks <-chan signal.Tick, feedDone <-chan error) {
	grace := time.NewTimer(settleGrace)
	defer grace.Stop()
	for {
		select {
		case r := <-results:
			s.inFlight = false
			ctx, cancel := context.WithTimeout(context.Background(), settleGrace)
			defer cancel()
			s.settle(ctx, r)
			return
		case tk := <-ticks:
			s.route(tk)
		case <-feedDone:
			s.feedRunning = false
			feedDone = nil
		case <-grace.C:
			s.log.Warn().Msg("in-flight trade did not report before shutdown, outcome unknown")
			return
		}
	}
}
