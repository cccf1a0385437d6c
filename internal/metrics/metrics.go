// Package metrics exposes the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScanCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_scan_cycles_total",
		Help: "Completed scanner cycles per bot.",
	}, []string{"bot"})

	SignalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_signals_total",
		Help: "Signals emitted per bot and mode.",
	}, []string{"bot", "mode", "direction"})

	NoTrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_no_trades_total",
		Help: "No-trade verdicts per bot and reason.",
	}, []string{"bot", "reason"})

	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_trades_closed_total",
		Help: "Closed trades per bot and result.",
	}, []string{"bot", "result"})

	WSReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_ws_reconnects_total",
		Help: "Deal-stream reconnect attempts per symbol.",
	}, []string{"symbol"})

	OpenPositions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_open_positions",
		Help: "Currently open positions per bot.",
	}, []string{"bot"})

	PaperBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_paper_balance_usd",
		Help: "Paper portfolio balance per bot.",
	}, []string{"bot"})
)
