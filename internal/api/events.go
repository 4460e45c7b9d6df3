package api

import "time"

// DashboardEvent is the wrapper for everything pushed to WebSocket clients.
type DashboardEvent struct {
	Type      string      `json:"type"` // "snapshot", "order", "risk"
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// OrderEvent reports a placement, fill, or cancellation for the live feed.
type OrderEvent struct {
	OrderID      string  `json:"order_id"`
	ConditionID  string  `json:"condition_id"`
	Outcome      string  `json:"outcome"`
	Side         string  `json:"side"`
	Price        float64 `json:"price"`
	Size         float64 `json:"size"`
	Status       string  `json:"status"`
	AckLatencyMs float64 `json:"ack_latency_ms"`
}

// NewOrderEvent builds an OrderEvent from a recent-orders entry.
func NewOrderEvent(o RecentOrderInfo) OrderEvent {
	return OrderEvent{
		OrderID:      o.OrderID,
		ConditionID:  o.ConditionID,
		Outcome:      o.Outcome,
		Side:         o.Side,
		Price:        o.Price,
		Size:         o.Size,
		Status:       o.Status,
		AckLatencyMs: o.AckLatencyMs,
	}
}

// RiskEvent reports a circuit-breaker trip or manual reset.
type RiskEvent struct {
	Reason        string    `json:"reason"`
	BreakerActive bool      `json:"breaker_active"`
	BreakerUntil  time.Time `json:"breaker_until,omitempty"`
}

// NewRiskEvent builds a RiskEvent from a risk snapshot.
func NewRiskEvent(snap RiskSnapshot, reason string) RiskEvent {
	return RiskEvent{
		Reason:        reason,
		BreakerActive: snap.BreakerActive,
		BreakerUntil:  snap.BreakerUntil,
	}
}
