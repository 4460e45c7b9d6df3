package api

import (
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/execution"
	"polymarket-mm/internal/risk"
)

// MarketSnapshotProvider is implemented by the engine; it exposes
// everything BuildSnapshot needs without the api package reaching back
// into engine internals.
type MarketSnapshotProvider interface {
	GetMarketsSnapshot() []MarketStatus
	GetStage() string
	GetStats() execution.Stats
	GetRiskManager() *risk.Manager
	GetWSState() exchange.ConnectionState
	GetRecentOrders() []execution.RecentOrder
}

// BuildSnapshot aggregates state from every component into one dashboard
// snapshot (spec.md §6 "a read-only state snapshot used by the dashboard").
func BuildSnapshot(provider MarketSnapshotProvider, cfg config.Config) DashboardSnapshot {
	stats := provider.GetStats()
	ws := provider.GetWSState()

	recent := provider.GetRecentOrders()
	recentInfo := make([]RecentOrderInfo, len(recent))
	for i, o := range recent {
		recentInfo[i] = RecentOrderInfo{
			OrderID:      o.OrderID,
			MarketID:     o.MarketID,
			ConditionID:  o.ConditionID,
			Outcome:      string(o.Outcome),
			Side:         string(o.Side),
			Price:        o.Price,
			Size:         o.Size,
			Status:       string(o.Status),
			PlacedAt:     o.PlacedAt,
			AckLatencyMs: float64(o.AckLatency.Microseconds()) / 1000,
		}
	}

	return DashboardSnapshot{
		Timestamp: time.Now(),
		Stage:     provider.GetStage(),
		Stats: StatsSnapshot{
			PlacedCount:      stats.PlacedCount,
			FilledCount:      stats.FilledCount,
			RejectedCount:    stats.RejectedCount,
			CumulativePnL:    stats.CumulativePnL,
			SpreadCapturePnL: stats.SpreadCapturePnL,
			AvgAckLatencyMs:  stats.AvgAckLatencyMs,
		},
		Markets:      provider.GetMarketsSnapshot(),
		Risk:         convertRiskSnapshot(provider.GetRiskManager().Snapshot()),
		WS:           convertWSState(ws),
		RecentOrders: recentInfo,
		Config:       NewConfigSummary(cfg),
	}
}

func convertRiskSnapshot(snap risk.Snapshot) RiskSnapshot {
	return RiskSnapshot{
		TotalExposureUSDC: snap.TotalExposureUSDC,
		DailyPnL:          snap.DailyPnL,
		ConsecutiveLosses: snap.ConsecutiveLosses,
		BreakerActive:     snap.BreakerActive,
		BreakerUntil:      snap.BreakerUntil,
		RejectCounts:      snap.RejectCounts,
	}
}

func convertWSState(s exchange.ConnectionState) WSStatus {
	status := WSStatus{
		Connected:       s.Connected,
		LastMessageAt:   s.LastMessageAt,
		ReconnectCount:  s.ReconnectCount,
		LatencyMs:       float64(s.Latency.Microseconds()) / 1000,
		SubscribedCount: len(s.Subscribed),
	}
	if s.LastErr != nil {
		status.LastErr = s.LastErr.Error()
	}
	return status
}
