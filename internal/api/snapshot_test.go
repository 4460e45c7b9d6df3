package api

import (
	"testing"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/execution"
	"polymarket-mm/internal/risk"
)

type fakeProvider struct {
	markets []MarketStatus
	stage   string
	stats   execution.Stats
	riskMgr *risk.Manager
	ws      exchange.ConnectionState
	recent  []execution.RecentOrder
}

func (f *fakeProvider) GetMarketsSnapshot() []MarketStatus       { return f.markets }
func (f *fakeProvider) GetStage() string                         { return f.stage }
func (f *fakeProvider) GetStats() execution.Stats                { return f.stats }
func (f *fakeProvider) GetRiskManager() *risk.Manager            { return f.riskMgr }
func (f *fakeProvider) GetWSState() exchange.ConnectionState     { return f.ws }
func (f *fakeProvider) GetRecentOrders() []execution.RecentOrder { return f.recent }

func TestBuildSnapshot(t *testing.T) {
	riskMgr := risk.NewManager(config.RiskConfig{MaxTotalExposureUSDC: 1000})

	provider := &fakeProvider{
		markets: []MarketStatus{{ConditionID: "c1", YesMid: 0.6, NoMid: 0.4}},
		stage:   string(execution.StageQuoting),
		stats:   execution.Stats{PlacedCount: 3, FilledCount: 1},
		riskMgr: riskMgr,
		ws:      exchange.ConnectionState{Connected: true, Latency: 50 * time.Millisecond},
		recent: []execution.RecentOrder{
			{OrderID: "o1", ConditionID: "c1", Outcome: "YES", Side: "BUY", Price: 0.6, Size: 10, Status: "OPEN", AckLatency: 25 * time.Millisecond},
		},
	}

	cfg := config.Config{Strategy: config.StrategyConfig{MaxMarkets: 5, OrderSizeUSDC: 20}}

	snap := BuildSnapshot(provider, cfg)

	if snap.Stage != string(execution.StageQuoting) {
		t.Fatalf("stage = %q, want QUOTING", snap.Stage)
	}
	if len(snap.Markets) != 1 || snap.Markets[0].ConditionID != "c1" {
		t.Fatalf("markets = %+v", snap.Markets)
	}
	if snap.Stats.PlacedCount != 3 {
		t.Fatalf("placed count = %d, want 3", snap.Stats.PlacedCount)
	}
	if !snap.WS.Connected || snap.WS.LatencyMs != 50 {
		t.Fatalf("ws status = %+v", snap.WS)
	}
	if len(snap.RecentOrders) != 1 || snap.RecentOrders[0].AckLatencyMs != 25 {
		t.Fatalf("recent orders = %+v", snap.RecentOrders)
	}
	if snap.Config.MaxMarkets != 5 || snap.Config.OrderSizeUSDC != 20 {
		t.Fatalf("config summary = %+v", snap.Config)
	}
	if snap.Risk.TotalExposureUSDC != 0 {
		t.Fatalf("risk snapshot = %+v", snap.Risk)
	}
}
