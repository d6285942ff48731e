// Package metrics exposes Prometheus instrumentation for the trading
// engine. Collectors are package-level and registered once at init.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_cycles_total", Help: "Decision cycles executed"})
	EntriesAttempted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_entries_attempted_total", Help: "Entry intents submitted to the exchange"})
	EntriesRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_entries_rejected_total", Help: "Entry intents discarded or rejected (balance, sizing, exchange)"})
	ExitsRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_exits_retried_total", Help: "Exit submissions that failed and were retried"})
	TradesClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_trades_closed_total", Help: "Closed trades by exit reason"}, []string{"reason"})
	OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_open_positions", Help: "Currently open positions"})
	FreeBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_free_balance_usdt", Help: "Uncommitted quote balance tracked by the ledger"})
	RealizedPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_realized_pnl_usdt", Help: "Cumulative realized PnL since process start"})
	KillSwitchEngaged = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_kill_switch_engaged", Help: "1 while the kill switch is engaged"})
)

func init() {
	prometheus.MustRegister(
		CyclesTotal, EntriesAttempted, EntriesRejected, ExitsRetried,
		TradesClosed, OpenPositions, FreeBalance, RealizedPnL, KillSwitchEngaged,
	)
}

// Serve starts an HTTP server exposing /metrics on addr. It returns the
// server so callers can shut it down; ListenAndServe errors surface on
// the returned channel.
func Serve(addr string) (*http.Server, <-chan error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return srv, errCh
}
