package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metricsCollector satisfies prometheus.Collector by reading live state off
// the same MarketSnapshotProvider the dashboard snapshot uses, so scrapes
// never lag behind (or duplicate) the in-memory engine/execution/risk
// state — there is no separate metrics-cache goroutine to keep in sync.
type metricsCollector struct {
	provider MarketSnapshotProvider

	openOrders       *prometheus.Desc
	placedTotal      *prometheus.Desc
	filledTotal      *prometheus.Desc
	rejectedTotal    *prometheus.Desc
	totalExposure    *prometheus.Desc
	perMarketExp     *prometheus.Desc
	dailyPnL         *prometheus.Desc
	consecutiveLoss  *prometheus.Desc
	breakerActive    *prometheus.Desc
	riskRejectsTotal *prometheus.Desc
	wsConnected      *prometheus.Desc
	wsReconnects     *prometheus.Desc
	wsLatencyMs      *prometheus.Desc
}

func newMetricsCollector(provider MarketSnapshotProvider) *metricsCollector {
	return &metricsCollector{
		provider: provider,
		openOrders: prometheus.NewDesc(
			"polymm_open_orders", "Current number of open resting orders.", nil, nil),
		placedTotal: prometheus.NewDesc(
			"polymm_orders_placed_total", "Cumulative orders placed.", nil, nil),
		filledTotal: prometheus.NewDesc(
			"polymm_orders_filled_total", "Cumulative orders filled (partially or fully).", nil, nil),
		rejectedTotal: prometheus.NewDesc(
			"polymm_orders_rejected_total", "Cumulative orders rejected by the exchange.", nil, nil),
		totalExposure: prometheus.NewDesc(
			"polymm_total_exposure_usdc", "Current total resting-order notional exposure.", nil, nil),
		perMarketExp: prometheus.NewDesc(
			"polymm_market_exposure_usdc", "Current resting-order notional exposure per market.",
			[]string{"condition_id"}, nil),
		dailyPnL: prometheus.NewDesc(
			"polymm_daily_pnl_usdc", "Realized PnL accumulated since the last daily reset.", nil, nil),
		consecutiveLoss: prometheus.NewDesc(
			"polymm_consecutive_losses", "Current count of consecutive losing trades.", nil, nil),
		breakerActive: prometheus.NewDesc(
			"polymm_circuit_breaker_active", "1 if the risk circuit breaker is currently tripped.", nil, nil),
		riskRejectsTotal: prometheus.NewDesc(
			"polymm_risk_rejections_total", "Cumulative risk-gate rejections by reason.",
			[]string{"reason"}, nil),
		wsConnected: prometheus.NewDesc(
			"polymm_ws_connected", "1 if the market data WebSocket is currently connected.", nil, nil),
		wsReconnects: prometheus.NewDesc(
			"polymm_ws_reconnects_total", "Cumulative WebSocket reconnect attempts.", nil, nil),
		wsLatencyMs: prometheus.NewDesc(
			"polymm_ws_latency_ms", "Most recent WebSocket ping round-trip latency in milliseconds.", nil, nil),
	}
}

func (m *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.openOrders
	ch <- m.placedTotal
	ch <- m.filledTotal
	ch <- m.rejectedTotal
	ch <- m.totalExposure
	ch <- m.perMarketExp
	ch <- m.dailyPnL
	ch <- m.consecutiveLoss
	ch <- m.breakerActive
	ch <- m.riskRejectsTotal
	ch <- m.wsConnected
	ch <- m.wsReconnects
	ch <- m.wsLatencyMs
}

func (m *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := m.provider.GetStats()
	ch <- prometheus.MustNewConstMetric(m.placedTotal, prometheus.CounterValue, float64(stats.PlacedCount))
	ch <- prometheus.MustNewConstMetric(m.filledTotal, prometheus.CounterValue, float64(stats.FilledCount))
	ch <- prometheus.MustNewConstMetric(m.rejectedTotal, prometheus.CounterValue, float64(stats.RejectedCount))

	open := 0
	for _, o := range m.provider.GetRecentOrders() {
		if !o.Status.IsTerminal() {
			open++
		}
	}
	ch <- prometheus.MustNewConstMetric(m.openOrders, prometheus.GaugeValue, float64(open))

	risk := m.provider.GetRiskManager().Snapshot()
	ch <- prometheus.MustNewConstMetric(m.totalExposure, prometheus.GaugeValue, risk.TotalExposureUSDC)
	for conditionID, exposure := range risk.PerMarketExposure {
		ch <- prometheus.MustNewConstMetric(m.perMarketExp, prometheus.GaugeValue, exposure, conditionID)
	}
	ch <- prometheus.MustNewConstMetric(m.dailyPnL, prometheus.GaugeValue, risk.DailyPnL)
	ch <- prometheus.MustNewConstMetric(m.consecutiveLoss, prometheus.GaugeValue, float64(risk.ConsecutiveLosses))
	breaker := 0.0
	if risk.BreakerActive {
		breaker = 1
	}
	ch <- prometheus.MustNewConstMetric(m.breakerActive, prometheus.GaugeValue, breaker)
	for reason, count := range risk.RejectCounts {
		ch <- prometheus.MustNewConstMetric(m.riskRejectsTotal, prometheus.CounterValue, float64(count), reason)
	}

	ws := m.provider.GetWSState()
	connected := 0.0
	if ws.Connected {
		connected = 1
	}
	ch <- prometheus.MustNewConstMetric(m.wsConnected, prometheus.GaugeValue, connected)
	ch <- prometheus.MustNewConstMetric(m.wsReconnects, prometheus.CounterValue, float64(ws.ReconnectCount))
	ch <- prometheus.MustNewConstMetric(m.wsLatencyMs, prometheus.GaugeValue, float64(ws.Latency.Milliseconds()))
}
