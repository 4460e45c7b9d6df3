package api

import (
	"time"

	"polymarket-mm/internal/config"
)

// DashboardSnapshot is the complete point-in-time state served by
// /api/snapshot and pushed over /ws on connect (spec.md §6 "a read-only
// state snapshot used by the dashboard").
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Stage string         `json:"stage"`
	Stats StatsSnapshot  `json:"stats"`
	Markets []MarketStatus `json:"markets"`

	Risk RiskSnapshot `json:"risk"`
	WS   WSStatus     `json:"ws"`

	RecentOrders []RecentOrderInfo `json:"recent_orders"`
	Config       ConfigSummary     `json:"config"`
}

// MarketStatus is per-market book and position state.
type MarketStatus struct {
	ConditionID string `json:"condition_id"`
	Slug        string `json:"slug"`
	Question    string `json:"question"`

	YesMid      float64   `json:"yes_mid"`
	NoMid       float64   `json:"no_mid"`
	YesSpreadBps float64  `json:"yes_spread_bps"`
	NoSpreadBps  float64  `json:"no_spread_bps"`
	LastUpdated time.Time `json:"last_updated"`
	IsStale     bool      `json:"is_stale"`

	Position PositionSnapshot `json:"position"`
}

// PositionSnapshot is current holdings in one market's two outcomes.
type PositionSnapshot struct {
	YesQty      float64 `json:"yes_qty"`
	NoQty       float64 `json:"no_qty"`
	AvgEntryYes float64 `json:"avg_entry_yes"`
	AvgEntryNo  float64 `json:"avg_entry_no"`
}

// RecentOrderInfo is one entry of the execution controller's bounded
// diagnostic window (spec.md §4.5 "Recent-orders window").
type RecentOrderInfo struct {
	OrderID     string    `json:"order_id"`
	MarketID    string    `json:"market_id"`
	ConditionID string    `json:"condition_id"`
	Outcome     string    `json:"outcome"`
	Side        string    `json:"side"`
	Price       float64   `json:"price"`
	Size        float64   `json:"size"`
	Status      string    `json:"status"`
	PlacedAt    time.Time `json:"placed_at"`
	AckLatencyMs float64  `json:"ack_latency_ms"`
}

// StatsSnapshot mirrors execution.Stats for JSON transport.
type StatsSnapshot struct {
	PlacedCount      int     `json:"placed_count"`
	FilledCount      int     `json:"filled_count"`
	RejectedCount    int     `json:"rejected_count"`
	CumulativePnL    float64 `json:"cumulative_pnl"`
	SpreadCapturePnL float64 `json:"spread_capture_pnl"`
	AvgAckLatencyMs  float64 `json:"avg_ack_latency_ms"`
}

// RiskSnapshot mirrors risk.Snapshot for JSON transport.
type RiskSnapshot struct {
	TotalExposureUSDC float64        `json:"total_exposure_usdc"`
	DailyPnL          float64        `json:"daily_pnl"`
	ConsecutiveLosses int            `json:"consecutive_losses"`
	BreakerActive     bool           `json:"breaker_active"`
	BreakerUntil      time.Time      `json:"breaker_until,omitempty"`
	RejectCounts      map[string]int `json:"reject_counts"`
}

// WSStatus mirrors exchange.ConnectionState for JSON transport.
type WSStatus struct {
	Connected      bool          `json:"connected"`
	LastMessageAt  time.Time     `json:"last_message_at"`
	ReconnectCount int           `json:"reconnect_count"`
	LatencyMs      float64       `json:"latency_ms"`
	SubscribedCount int          `json:"subscribed_count"`
	LastErr        string        `json:"last_err,omitempty"`
}

// ConfigSummary is a read-only view of the knobs that affect quoting and
// risk, for display on the dashboard.
type ConfigSummary struct {
	MaxMarkets          int     `json:"max_markets"`
	QuoteSpreadBps      int     `json:"quote_spread_bps"`
	ScanIntervalMs      int     `json:"scan_interval_ms"`
	OrderSizeUSDC       float64 `json:"order_size_usdc"`
	MaxOrderSizeUSDC    float64 `json:"max_order_size_usdc"`
	MinLiquidityUSDC    float64 `json:"min_liquidity_usdc"`
	QuoteRefreshMs      int     `json:"quote_refresh_ms"`
	QuoteTTLMs          int     `json:"quote_ttl_ms"`
	RepriceThresholdBps int     `json:"reprice_threshold_bps"`
	InventoryLimit      float64 `json:"inventory_limit"`

	MaxTotalExposureUSDC     float64 `json:"max_total_exposure_usdc"`
	MaxPerMarketExposureUSDC float64 `json:"max_per_market_exposure_usdc"`
	MaxDailyLossUSDC         float64 `json:"max_daily_loss_usdc"`
	MaxConsecutiveLosses     int     `json:"max_consecutive_losses"`
	MaxOpenOrders            int     `json:"max_open_orders"`

	DryRun bool `json:"dry_run"`
}

// NewConfigSummary extracts the dashboard-relevant knobs from the full
// configuration.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		MaxMarkets:          cfg.Strategy.MaxMarkets,
		QuoteSpreadBps:      cfg.Strategy.QuoteSpreadBps,
		ScanIntervalMs:      cfg.Strategy.ScanIntervalMs,
		OrderSizeUSDC:       cfg.Strategy.OrderSizeUSDC,
		MaxOrderSizeUSDC:    cfg.Strategy.MaxOrderSizeUSDC,
		MinLiquidityUSDC:    cfg.Strategy.MinLiquidityUSDC,
		QuoteRefreshMs:      cfg.Strategy.QuoteRefreshMs,
		QuoteTTLMs:          cfg.Strategy.QuoteTTLMs,
		RepriceThresholdBps: cfg.Strategy.RepriceThresholdBps,
		InventoryLimit:      cfg.Strategy.InventoryLimit,

		MaxTotalExposureUSDC:     cfg.Risk.MaxTotalExposureUSDC,
		MaxPerMarketExposureUSDC: cfg.Risk.MaxPerMarketExposureUSDC,
		MaxDailyLossUSDC:         cfg.Risk.MaxDailyLossUSDC,
		MaxConsecutiveLosses:     cfg.Risk.MaxConsecutiveLosses,
		MaxOpenOrders:            cfg.Risk.MaxOpenOrders,

		DryRun: cfg.DryRun,
	}
}
