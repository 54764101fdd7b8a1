// Package metrics exposes Prometheus instrumentation for the trading loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bot_cycles_total", Help: "Completed evaluation cycles"},
	)
	CycleErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bot_cycle_errors_total", Help: "Cycles that ended in an error"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_signals_total", Help: "Signals evaluated"},
		[]string{"symbol", "direction"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	TradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_trades_closed_total", Help: "Closed trades"},
		[]string{"symbol", "result"},
	)
	RealizedPnl = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "bot_realized_pnl", Help: "Cumulative realized PnL per symbol"},
		[]string{"symbol"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "bot_open_positions", Help: "Currently open positions"},
	)
	BreakerActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "bot_breaker_active", Help: "1 when a circuit breaker blocks new entries"},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal, CycleErrorsTotal, SignalsTotal, OrdersTotal,
		TradesClosed, RealizedPnl, OpenPositions, BreakerActive,
	)
}

// Serve starts the metrics endpoint in the background and returns the server
// so the caller can shut it down.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
