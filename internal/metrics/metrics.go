package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested"},
		[]string{"symbol"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Strategy evaluations by outcome"},
		[]string{"strategy", "status"},
	)
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trades_total", Help: "Settled contracts"},
		[]string{"market", "result"},
	)
	TradeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trade_failures_total", Help: "Trades that failed before settlement"},
		[]string{"market"},
	)
	SessionProfit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "session_profit", Help: "Running profit of the martingale session"},
		[]string{"strategy", "market"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, SignalsTotal, TradesTotal, TradeFailuresTotal, SessionProfit)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
