// Package execution implements the order reconciliation controller (spec
// §4.5): it diffs each market's desired quote against live resting orders,
// cancels and replaces what drifted, polls for fills, and applies fills to
// positions and the risk gate.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/market"
	"polymarket-mm/internal/risk"
	"polymarket-mm/internal/store"
	"polymarket-mm/pkg/types"
)

// PipelineStage labels where the outer loop is, for dashboard/snapshot
// purposes only — it never gates correctness.
type PipelineStage string

const (
	StageIdle       PipelineStage = "IDLE"
	StageScanning   PipelineStage = "SCANNING"
	StageBook       PipelineStage = "BOOK"
	StageQuoting    PipelineStage = "QUOTING"
	StageMonitoring PipelineStage = "MONITORING"
	StageResolving  PipelineStage = "RESOLVING"
)

// fillEpsilon is the size tolerance for treating a live order as matching a
// desired quote (spec §4.5 "|live.size − desired.size| ≤ ε").
const fillEpsilon = 1e-6

// recentOrdersCap bounds the diagnostic recent-orders ring (spec §4.5
// "Recent-orders window").
const recentOrdersCap = 200

// RecentOrder is one entry in the bounded diagnostic window. Never
// authoritative — the durable store is authoritative for anything needed
// after a restart.
type RecentOrder struct {
	OrderID     string
	MarketID    string
	ConditionID string
	Outcome     types.Outcome
	Side        types.Side
	Price       float64
	Size        float64
	Status      types.OrderStatus
	PlacedAt    time.Time
	AckLatency  time.Duration
}

type positionKey struct {
	ConditionID string
	Outcome     types.Outcome
}

type position struct {
	Size     float64
	AvgPrice float64
}

// Stats summarizes controller activity for the dashboard snapshot.
type Stats struct {
	PlacedCount      int
	FilledCount      int
	RejectedCount    int
	CumulativePnL    float64
	SpreadCapturePnL float64
	AvgAckLatencyMs  float64
	Stage            PipelineStage
}

// Controller reconciles desired quotes against live orders for every
// tracked market. One Controller instance serves the whole bot; state is
// keyed by types.LiveOrderKey (condition, token, side) across all markets.
type Controller struct {
	client      *exchange.Client
	riskMgr     *risk.Manager
	db          *store.Store
	logger      *slog.Logger
	strategyCfg config.StrategyConfig
	execCfg     config.ExecutionConfig

	mu        sync.Mutex
	paused    bool
	stage     PipelineStage
	live      map[types.LiveOrderKey]*types.LiveOrder
	recent    []RecentOrder
	positions map[positionKey]*position

	lastRefresh      time.Time
	placedCount      int
	filledCount      int
	rejectedCount    int
	cumulativePnL    float64
	spreadCapturePnL float64
	ackLatencySumMs  float64
	ackLatencyCount  int
}

// NewController wires the reconciliation loop to its exchange, risk, and
// durable-store dependencies.
func NewController(client *exchange.Client, riskMgr *risk.Manager, db *store.Store, strategyCfg config.StrategyConfig, execCfg config.ExecutionConfig, logger *slog.Logger) *Controller {
	return &Controller{
		client:      client,
		riskMgr:     riskMgr,
		db:          db,
		logger:      logger,
		strategyCfg: strategyCfg,
		execCfg:     execCfg,
		stage:       StageIdle,
		live:        make(map[types.LiveOrderKey]*types.LiveOrder),
		positions:   make(map[positionKey]*position),
	}
}

// Pause stops new placements; existing orders are still monitored and
// cancellable via SyncQuotes/CancelAll.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume re-enables new placements.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

// Paused reports whether placement is currently suspended.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Controller) setStage(s PipelineStage) {
	c.mu.Lock()
	c.stage = s
	c.mu.Unlock()
}

// Stage returns the current pipeline stage label.
func (c *Controller) Stage() PipelineStage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// LoadState restores in-memory live orders and positions from the durable
// store on startup (spec §5: the store is authoritative across restarts;
// in-memory state is reloaded at start and thereafter maintained by the
// executor).
func (c *Controller) LoadState(ctx context.Context) error {
	orders, err := c.db.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("load open orders: %w", err)
	}
	positions, err := c.db.Positions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, o := range orders {
		live := &types.LiveOrder{
			OrderID:     o.ID,
			MarketID:    o.MarketID,
			ConditionID: o.ConditionID,
			TokenID:     o.TokenID,
			Outcome:     types.Outcome(o.Outcome),
			Side:        types.Side(o.Side),
			Price:       o.Price,
			Size:        o.Size,
			FilledSize:  o.FilledSize,
			Status:      types.OrderStatus(o.Status),
			CreatedAt:   o.CreatedAt,
		}
		c.live[live.Key()] = live
	}

	for _, p := range positions {
		key := positionKey{ConditionID: p.ConditionID, Outcome: types.Outcome(p.Outcome)}
		c.positions[key] = &position{Size: p.Size, AvgPrice: p.AvgPrice}
	}

	c.logger.Info("restored state from store", "open_orders", len(orders), "positions", len(positions))

	_, perMarket, err := c.db.AggregateExposure(ctx)
	if err != nil {
		return fmt.Errorf("load aggregate exposure: %w", err)
	}
	for conditionID, notional := range perMarket {
		c.riskMgr.SetExposure(conditionID, notional)
	}
	return nil
}

// SyncQuotes reconciles one market's desired quote (§4.5 "Reconciliation
// algorithm"): keeps live orders that still match, cancels and replaces the
// rest, and cancels any live order on this condition absent from the
// desired set.
func (c *Controller) SyncQuotes(ctx context.Context, m *market.Market, desired *types.DesiredQuote) error {
	c.setStage(StageQuoting)
	defer c.setStage(StageMonitoring)

	desiredByKey := make(map[types.LiveOrderKey]types.QuoteOrder, len(desired.Orders))
	for _, o := range desired.Orders {
		key := types.LiveOrderKey{ConditionID: desired.ConditionID, TokenID: o.TokenID, Side: o.Side}
		desiredByKey[key] = o
	}

	c.mu.Lock()
	paused := c.paused
	var toCancelIDs []string
	var toCancelKeys []types.LiveOrderKey
	for key, live := range c.live {
		if key.ConditionID != desired.ConditionID {
			continue
		}
		want, ok := desiredByKey[key]
		if ok && shouldKeep(live, want, c.strategyCfg) {
			delete(desiredByKey, key)
			continue
		}
		toCancelIDs = append(toCancelIDs, live.OrderID)
		toCancelKeys = append(toCancelKeys, key)
	}
	c.mu.Unlock()

	if len(toCancelIDs) > 0 {
		if err := c.cancelOrders(ctx, toCancelIDs, toCancelKeys); err != nil {
			return fmt.Errorf("cancel stale orders: %w", err)
		}
	}

	if paused {
		return nil
	}

	for key, want := range desiredByKey {
		candidate := risk.Candidate{
			MarketID:    desired.MarketID,
			ConditionID: desired.ConditionID,
			Side:        string(want.Side),
			Price:       want.Price,
			Size:        want.Size,
		}
		allowed, reason := c.riskMgr.Check(candidate)
		if !allowed {
			c.mu.Lock()
			c.rejectedCount++
			c.mu.Unlock()
			if err := c.db.InsertRiskEvent(ctx, desired.ConditionID, reason); err != nil {
				c.logger.Error("insert risk event", "error", err)
			}
			continue
		}
		if err := c.placeOrder(ctx, m, want, key); err != nil {
			c.logger.Error("place order failed", "error", err, "market", desired.MarketID, "side", want.Side)
		}
	}
	return nil
}

// refreshExposure recomputes one market's resting-order notional (price
// times unfilled remainder, summed across every live order for
// conditionID) and pushes it into the risk gate, mirroring how
// SetOpenOrderCount is kept current from the same controller. Called after
// every state change to c.live for that market: place, cancel, fill.
func (c *Controller) refreshExposure(conditionID string) {
	c.mu.Lock()
	var notional float64
	for key, live := range c.live {
		if key.ConditionID != conditionID {
			continue
		}
		notional += live.Price * (live.Size - live.FilledSize)
	}
	c.mu.Unlock()
	c.riskMgr.SetExposure(conditionID, notional)
}

// shouldKeep implements the keep-vs-replace predicate from spec §4.5.
func shouldKeep(live *types.LiveOrder, want types.QuoteOrder, cfg config.StrategyConfig) bool {
	if live.Status != types.StatusOpen && live.Status != types.StatusPartial {
		return false
	}
	if math.Abs(live.Size-want.Size) > fillEpsilon {
		return false
	}
	if live.Price <= 0 {
		return false
	}
	driftBps := math.Abs(live.Price-want.Price) / live.Price * 10000
	if driftBps >= float64(cfg.RepriceThresholdBps) {
		return false
	}
	if time.Since(live.CreatedAt) >= cfg.QuoteTTL() {
		return false
	}
	return true
}

func (c *Controller) cancelOrders(ctx context.Context, ids []string, keys []types.LiveOrderKey) error {
	resp, err := c.client.CancelOrders(ctx, ids)
	if err != nil {
		return err
	}
	cancelled := make(map[string]bool, len(resp.Canceled))
	for _, id := range resp.Canceled {
		cancelled[id] = true
	}

	cancelledOrders := make([]*types.LiveOrder, 0, len(ids))
	c.mu.Lock()
	for i, id := range ids {
		if len(resp.Canceled) > 0 && !cancelled[id] {
			continue
		}
		live, ok := c.live[keys[i]]
		if !ok {
			continue
		}
		delete(c.live, keys[i])
		live.Status = types.StatusCancelled
		c.pushRecentLocked(live)
		cancelledOrders = append(cancelledOrders, live)
	}
	c.mu.Unlock()

	touched := make(map[string]bool, len(cancelledOrders))
	for _, live := range cancelledOrders {
		if err := c.db.UpdateOrderStatus(ctx, live.OrderID, string(types.StatusCancelled), live.FilledSize); err != nil {
			c.logger.Error("persist cancel", "error", err, "order_id", live.OrderID)
		}
		if err := c.db.InsertQuoteEvent(ctx, store.QuoteEventRow{
			OrderID: live.OrderID, MarketID: live.MarketID, ConditionID: live.ConditionID,
			Outcome: string(live.Outcome), Side: string(live.Side), Price: live.Price, Size: live.Size,
			Action: "CANCEL",
		}); err != nil {
			c.logger.Error("persist quote event", "error", err, "order_id", live.OrderID)
		}
		touched[live.ConditionID] = true
	}
	for conditionID := range touched {
		c.refreshExposure(conditionID)
	}
	return nil
}

// placeOrder sends one new order and records placement latency per spec
// §4.5 "Placement".
func (c *Controller) placeOrder(ctx context.Context, m *market.Market, want types.QuoteOrder, key types.LiveOrderKey) error {
	sent := time.Now()
	userOrder := types.UserOrder{
		TokenID:   want.TokenID,
		Price:     want.Price,
		Size:      want.Size,
		Side:      want.Side,
		OrderType: types.OrderTypeGTC,
	}

	results, err := c.client.PostOrders(ctx, []types.UserOrder{userOrder}, false)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("empty post-orders response")
	}
	result := results[0]

	live := &types.LiveOrder{
		MarketID:    m.MarketID,
		ConditionID: key.ConditionID,
		TokenID:     key.TokenID,
		Outcome:     want.Outcome,
		Side:        key.Side,
		Price:       want.Price,
		Size:        want.Size,
		CreatedAt:   sent,
		AckLatency:  time.Since(sent),
	}

	if !result.Success || result.OrderID == "" {
		live.Status = types.StatusRejected
		c.logger.Error("order rejected", "error", result.ErrorMsg, "market", m.MarketID, "side", want.Side, "price", want.Price)
		c.mu.Lock()
		c.rejectedCount++
		c.pushRecentLocked(live)
		c.mu.Unlock()
		return nil
	}

	live.OrderID = result.OrderID
	live.Status = types.StatusOpen

	c.mu.Lock()
	c.live[key] = live
	c.placedCount++
	c.ackLatencySumMs += float64(live.AckLatency.Microseconds()) / 1000
	c.ackLatencyCount++
	c.pushRecentLocked(live)
	c.mu.Unlock()

	if err := c.db.InsertOrder(ctx, store.OrderRow{
		ID: live.OrderID, MarketID: live.MarketID, ConditionID: live.ConditionID,
		TokenID: live.TokenID, Outcome: string(live.Outcome), Side: string(live.Side),
		Price: live.Price, Size: live.Size, Status: string(live.Status),
		CreatedAt: live.CreatedAt, AckLatencyMs: float64(live.AckLatency.Microseconds()) / 1000,
	}); err != nil {
		c.logger.Error("persist order", "error", err, "order_id", live.OrderID)
	}
	if err := c.db.InsertQuoteEvent(ctx, store.QuoteEventRow{
		OrderID: live.OrderID, MarketID: live.MarketID, ConditionID: live.ConditionID,
		Outcome: string(live.Outcome), Side: string(live.Side), Price: live.Price, Size: live.Size,
		Action: "PLACE",
	}); err != nil {
		c.logger.Error("persist quote event", "error", err, "order_id", live.OrderID)
	}
	c.refreshExposure(live.ConditionID)
	return nil
}

// pushRecentLocked appends to the recent-orders ring, evicting the oldest
// when at capacity. Caller must hold c.mu.
func (c *Controller) pushRecentLocked(live *types.LiveOrder) {
	entry := RecentOrder{
		OrderID: live.OrderID, MarketID: live.MarketID, ConditionID: live.ConditionID,
		Outcome: live.Outcome, Side: live.Side, Price: live.Price, Size: live.Size,
		Status: live.Status, PlacedAt: live.CreatedAt, AckLatency: live.AckLatency,
	}
	c.recent = append(c.recent, entry)
	if len(c.recent) > recentOrdersCap {
		c.recent = c.recent[len(c.recent)-recentOrdersCap:]
	}
}

// RecentOrders returns a snapshot of the diagnostic window, newest last.
func (c *Controller) RecentOrders() []RecentOrder {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RecentOrder, len(c.recent))
	copy(out, c.recent)
	return out
}

// RefreshOpenOrders polls remote status for every live order (§4.5 "Order
// refresh loop"), rate-limited to one pass per quote_refresh_ms. Orders past
// quote-TTL are cancelled outright; otherwise remote status drives FILLED /
// PARTIAL / CANCELLED transitions and fill application.
func (c *Controller) RefreshOpenOrders(ctx context.Context) error {
	c.mu.Lock()
	if time.Since(c.lastRefresh) < c.strategyCfg.QuoteRefresh() {
		c.mu.Unlock()
		return nil
	}
	c.lastRefresh = time.Now()
	live := make([]*types.LiveOrder, 0, len(c.live))
	for _, o := range c.live {
		live = append(live, o)
	}
	c.mu.Unlock()

	for _, order := range live {
		if time.Since(order.CreatedAt) >= c.strategyCfg.QuoteTTL() {
			c.mu.Lock()
			delete(c.live, order.Key())
			order.Status = types.StatusCancelled
			c.pushRecentLocked(order)
			c.mu.Unlock()
			if _, err := c.client.CancelOrders(ctx, []string{order.OrderID}); err != nil {
				c.logger.Error("cancel expired order", "error", err, "order_id", order.OrderID)
			}
			if err := c.db.UpdateOrderStatus(ctx, order.OrderID, string(types.StatusCancelled), order.FilledSize); err != nil {
				c.logger.Error("persist expiry", "error", err, "order_id", order.OrderID)
			}
			c.refreshExposure(order.ConditionID)
			continue
		}

		remote, err := c.client.GetOrder(ctx, order.OrderID)
		if err != nil {
			c.logger.Error("get order", "error", err, "order_id", order.OrderID)
			continue
		}
		if err := c.applyRemoteStatus(ctx, order, remote); err != nil {
			c.logger.Error("apply remote status", "error", err, "order_id", order.OrderID)
		}
	}
	return nil
}

func (c *Controller) applyRemoteStatus(ctx context.Context, order *types.LiveOrder, remote *types.OpenOrder) error {
	matched := parseFloat(remote.SizeMatched)
	prevFilled := order.FilledSize

	switch remote.Status {
	case "cancelled", "CANCELLED", "expired", "EXPIRED":
		c.mu.Lock()
		delete(c.live, order.Key())
		order.Status = types.StatusCancelled
		c.pushRecentLocked(order)
		c.mu.Unlock()
		c.refreshExposure(order.ConditionID)
		return c.db.UpdateOrderStatus(ctx, order.OrderID, string(types.StatusCancelled), order.FilledSize)
	}

	if matched <= prevFilled {
		return nil
	}
	delta := matched - prevFilled
	order.FilledSize = matched

	terminal := matched >= order.Size-fillEpsilon || remote.Status == "matched" || remote.Status == "MATCHED"
	if terminal {
		order.Status = types.StatusFilled
		c.mu.Lock()
		delete(c.live, order.Key())
		c.filledCount++
		c.pushRecentLocked(order)
		c.mu.Unlock()
	} else {
		order.Status = types.StatusPartial
	}

	if err := c.db.UpdateOrderStatus(ctx, order.OrderID, string(order.Status), order.FilledSize); err != nil {
		return err
	}
	c.refreshExposure(order.ConditionID)
	return c.applyFill(ctx, order, delta)
}

// applyFill implements spec §4.5 "Fill application": updates the in-memory
// position, computes realized PnL for the delta, persists the fill and
// updated position, and feeds the PnL delta into the risk gate.
func (c *Controller) applyFill(ctx context.Context, order *types.LiveOrder, delta float64) error {
	key := positionKey{ConditionID: order.ConditionID, Outcome: order.Outcome}

	c.mu.Lock()
	pos, ok := c.positions[key]
	if !ok {
		pos = &position{}
		c.positions[key] = pos
	}
	signedDelta := delta
	if order.Side == types.SELL {
		signedDelta = -delta
	}
	newSize := pos.Size + signedDelta
	if order.Side == types.BUY && newSize != 0 {
		pos.AvgPrice = (pos.Size*pos.AvgPrice + delta*order.Price) / newSize
	}
	pos.Size = newSize
	if pos.Size == 0 {
		pos.AvgPrice = 0
	}

	pnlDelta := -delta * order.Price
	if order.Side == types.SELL {
		pnlDelta = delta * order.Price
	}
	c.cumulativePnL += pnlDelta
	c.spreadCapturePnL += pnlDelta
	avgPrice := pos.AvgPrice
	size := pos.Size
	cumulative := c.cumulativePnL
	c.mu.Unlock()

	c.riskMgr.RecordResult(pnlDelta)

	if err := c.db.InsertFill(ctx, store.FillRow{
		OrderID: order.OrderID, MarketID: order.MarketID, ConditionID: order.ConditionID,
		Outcome: string(order.Outcome), Side: string(order.Side), Price: order.Price, Size: delta,
	}); err != nil {
		return err
	}
	if err := c.db.UpsertPosition(ctx, store.PositionRow{
		ConditionID: order.ConditionID, Outcome: string(order.Outcome), MarketID: order.MarketID,
		Size: size, AvgPrice: avgPrice,
	}); err != nil {
		return err
	}
	return c.db.SetMetric(ctx, "cumulative_pnl", cumulative)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// CancelAll cancels every live order across every market (§4.5 "cancel_all
// clears live state") and drops them from the in-memory live set.
func (c *Controller) CancelAll(ctx context.Context) error {
	c.setStage(StageResolving)
	defer c.setStage(StageIdle)

	resp, err := c.client.CancelAll(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	ids := make([]string, 0, len(c.live))
	touched := make(map[string]bool)
	for key, live := range c.live {
		ids = append(ids, live.OrderID)
		live.Status = types.StatusCancelled
		c.pushRecentLocked(live)
		touched[live.ConditionID] = true
		delete(c.live, key)
	}
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.db.UpdateOrderStatus(ctx, id, string(types.StatusCancelled), 0); err != nil {
			c.logger.Error("persist cancel-all", "error", err, "order_id", id)
		}
	}
	for conditionID := range touched {
		c.riskMgr.SetExposure(conditionID, 0)
	}
	c.logger.Warn("cancel all", "requested", len(ids), "confirmed", len(resp.Canceled))
	return nil
}

// RecordRebate credits a liquidity-rewards payout to the durable store
// (§4.5 "record_rebate").
func (c *Controller) RecordRebate(ctx context.Context, marketID string, amountUSDC float64, source string) error {
	return c.db.InsertRebate(ctx, marketID, amountUSDC, source)
}

// LiveOrdersForCondition returns the live orders currently resting for a
// condition ID, for dashboard/snapshot use.
func (c *Controller) LiveOrdersForCondition(conditionID string) []*types.LiveOrder {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*types.LiveOrder
	for key, o := range c.live {
		if key.ConditionID == conditionID {
			out = append(out, o)
		}
	}
	return out
}

// Position returns the current YES/NO holdings and average entry prices for
// a condition, for feeding the quote generator's inventory-skew
// calculation. Zero values if nothing is held.
func (c *Controller) Position(conditionID string) (yesQty, noQty, avgEntryYes, avgEntryNo float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.positions[positionKey{ConditionID: conditionID, Outcome: types.Yes}]; ok {
		yesQty, avgEntryYes = p.Size, p.AvgPrice
	}
	if p, ok := c.positions[positionKey{ConditionID: conditionID, Outcome: types.No}]; ok {
		noQty, avgEntryNo = p.Size, p.AvgPrice
	}
	return
}

// LiveOrderCount returns the number of resting orders across all markets.
func (c *Controller) LiveOrderCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

// Stats returns a point-in-time summary for dashboard/snapshot assembly.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	avgLatency := 0.0
	if c.ackLatencyCount > 0 {
		avgLatency = c.ackLatencySumMs / float64(c.ackLatencyCount)
	}
	return Stats{
		PlacedCount:      c.placedCount,
		FilledCount:      c.filledCount,
		RejectedCount:    c.rejectedCount,
		CumulativePnL:    c.cumulativePnL,
		SpreadCapturePnL: c.spreadCapturePnL,
		AvgAckLatencyMs:  avgLatency,
		Stage:            c.stage,
	}
}
