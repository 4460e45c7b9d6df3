package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndFetchOpenOrders(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	o := OrderRow{
		ID: "o1", MarketID: "m1", ConditionID: "c1", TokenID: "t1",
		Outcome: "YES", Side: "BUY", Price: 0.5, Size: 10,
		Status: "OPEN", CreatedAt: time.Now(),
	}
	if err := s.InsertOrder(ctx, o); err != nil {
		t.Fatalf("insert order: %v", err)
	}

	open, err := s.OpenOrders(ctx)
	if err != nil {
		t.Fatalf("open orders: %v", err)
	}
	if len(open) != 1 || open[0].ID != "o1" {
		t.Fatalf("OpenOrders = %+v, want one order o1", open)
	}
}

func TestUpdateOrderStatusExcludesFromOpenOrders(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	o := OrderRow{ID: "o2", MarketID: "m1", ConditionID: "c1", TokenID: "t1", Outcome: "YES", Side: "BUY", Price: 0.5, Size: 10, Status: "OPEN", CreatedAt: time.Now()}
	if err := s.InsertOrder(ctx, o); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	if err := s.UpdateOrderStatus(ctx, "o2", "FILLED", 10); err != nil {
		t.Fatalf("update status: %v", err)
	}

	open, err := s.OpenOrders(ctx)
	if err != nil {
		t.Fatalf("open orders: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("OpenOrders = %+v, want empty after FILLED", open)
	}
}

func TestUpsertPositionOverwritesOnConflict(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	p1 := PositionRow{ConditionID: "c1", Outcome: "YES", MarketID: "m1", Size: 10, AvgPrice: 0.4}
	p2 := PositionRow{ConditionID: "c1", Outcome: "YES", MarketID: "m1", Size: 15, AvgPrice: 0.45}

	if err := s.UpsertPosition(ctx, p1); err != nil {
		t.Fatalf("upsert p1: %v", err)
	}
	if err := s.UpsertPosition(ctx, p2); err != nil {
		t.Fatalf("upsert p2: %v", err)
	}

	positions, err := s.Positions(ctx)
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("len(positions) = %d, want 1 (upsert, not insert)", len(positions))
	}
	if positions[0].Size != 15 || positions[0].AvgPrice != 0.45 {
		t.Errorf("positions[0] = %+v, want size=15 avg_price=0.45", positions[0])
	}
}

func TestSetMetricAndReadBack(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, _ := s.Metric(ctx, "cumulative_pnl"); ok {
		t.Fatal("expected no metric before SetMetric")
	}

	if err := s.SetMetric(ctx, "cumulative_pnl", 12.5); err != nil {
		t.Fatalf("set metric: %v", err)
	}
	value, ok, err := s.Metric(ctx, "cumulative_pnl")
	if err != nil {
		t.Fatalf("metric: %v", err)
	}
	if !ok || value != 12.5 {
		t.Errorf("Metric() = (%v, %v), want (12.5, true)", value, ok)
	}
}

func TestInsertFillAndQuoteEventDoNotError(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertFill(ctx, FillRow{OrderID: "o1", MarketID: "m1", ConditionID: "c1", Outcome: "YES", Side: "BUY", Price: 0.5, Size: 5}); err != nil {
		t.Errorf("insert fill: %v", err)
	}
	if err := s.InsertQuoteEvent(ctx, QuoteEventRow{OrderID: "o1", MarketID: "m1", ConditionID: "c1", Outcome: "YES", Side: "BUY", Price: 0.5, Size: 5, Action: "PLACE"}); err != nil {
		t.Errorf("insert quote event: %v", err)
	}
	if err := s.InsertRebate(ctx, "m1", 1.25, "manual"); err != nil {
		t.Errorf("insert rebate: %v", err)
	}
	if err := s.InsertRiskEvent(ctx, "c1", "daily_loss_limit"); err != nil {
		t.Errorf("insert risk event: %v", err)
	}
	if err := s.LogEvent(ctx, "STARTUP", "bot started"); err != nil {
		t.Errorf("log event: %v", err)
	}
}
