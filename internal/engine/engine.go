// Package engine is the central orchestrator of the market-making bot.
//
// One dedicated goroutine owns all decision-making: a select over two
// tickers realizes the discovery and scan loops, and each scan tick first
// runs the gated backfill (spec.md §4.7, §5). REST calls, the WebSocket reader, and order-refresh round trips run
// on separate goroutines and hand results back over the registry, book
// store, and execution controller — each guarded by its own mutex, never
// held across a network call.
//
// Lifecycle: New() → Start() → [runs until Stop()]
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"polymarket-mm/internal/api"
	"polymarket-mm/internal/config"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/execution"
	"polymarket-mm/internal/market"
	"polymarket-mm/internal/risk"
	"polymarket-mm/internal/store"
	"polymarket-mm/internal/strategy"
)

// backfillInterval gates the defensive REST refetch loop (spec.md §4.7
// "Backfill: gated to at most once per 3 s").
const backfillInterval = 3 * time.Second

// backfillBatchSize is the maximum number of stale books refetched per
// backfill tick (spec.md §4.7 "pick up to three books").
const backfillBatchSize = 3

// discoveryInterval is the market-discovery cadence (spec.md §4.2).
const discoveryInterval = 60 * time.Second

// Engine orchestrates every subsystem and owns the single decision-making
// goroutine.
type Engine struct {
	cfgMu sync.RWMutex
	cfg   config.Config

	cfgPath string

	client   *exchange.Client
	auth     *exchange.Auth
	mktFeed  *exchange.WSFeed
	registry *market.Registry
	books    *market.Store
	discover *market.Discovery
	quoter   *strategy.SkewQuoteGenerator
	exec     *execution.Controller
	riskMgr  *risk.Manager
	db       *store.Store
	logger   *slog.Logger

	lastBackfill time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every subsystem together. If L2 API credentials aren't
// configured, it derives them via L1 (EIP-712) auth before returning.
func New(cfg config.Config, cfgPath string, logger *slog.Logger) (*Engine, error) {
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("init auth: %w", err)
	}

	client := exchange.NewClient(cfg, auth, logger)

	if !auth.HasL2Credentials() && !cfg.DryRun {
		logger.Info("no L2 credentials configured, deriving API key via L1 auth")
		creds, err := client.DeriveAPIKey(context.Background())
		if err != nil {
			return nil, fmt.Errorf("derive API key: %w", err)
		}
		auth.SetCredentials(*creds)
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	riskMgr := risk.NewManager(cfg.Risk)
	exec := execution.NewController(client, riskMgr, db, cfg.Strategy, cfg.Execution, logger)

	if err := exec.LoadState(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:      cfg,
		cfgPath:  cfgPath,
		client:   client,
		auth:     auth,
		mktFeed:  exchange.NewMarketFeed(cfg.Polymarket.WSURL, logger),
		registry: market.NewRegistry(),
		books:    market.NewStore(),
		discover: market.NewDiscovery(cfg, logger),
		quoter:   strategy.NewSkewQuoteGenerator(cfg.Strategy),
		exec:     exec,
		riskMgr:  riskMgr,
		db:       db,
		logger:   logger.With("component", "engine"),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches the WebSocket reader and the orchestrator goroutine.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.mktFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("market feed stopped", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatchBookEvents()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run()
	}()

	e.db.LogEvent(e.ctx, "startup", "engine started")
	return nil
}

// Stop cancels every task, cancels all live orders as a safety net, and
// closes transports and the durable store.
func (e *Engine) Stop() {
	e.logger.Info("shutting down")
	e.cancel()
	e.wg.Wait()

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := e.exec.CancelAll(cancelCtx); err != nil {
		e.logger.Error("cancel-all on shutdown failed", "error", err)
	}
	cancelCancel()

	e.mktFeed.Close()
	e.db.LogEvent(context.Background(), "shutdown", "engine stopped")
	e.db.Close()
	e.logger.Info("shutdown complete")
}

// run is the single orchestrator goroutine: a select over the discovery
// and scan tickers; backfill runs at the top of each scan (spec.md §4.7).
func (e *Engine) run() {
	discoveryTicker := time.NewTicker(discoveryInterval)
	defer discoveryTicker.Stop()

	e.runDiscovery()

	scanTicker := time.NewTicker(e.scanInterval())
	defer scanTicker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-discoveryTicker.C:
			e.runDiscovery()
		case <-scanTicker.C:
			e.runScan()
		}
	}
}

func (e *Engine) scanInterval() time.Duration {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg.Strategy.ScanInterval()
}

// getDiscover and getQuoter hand back the current discovery client/quote
// generator under cfgMu, since ReloadConfig may swap them from a different
// goroutine than the orchestrator loop.
func (e *Engine) getDiscover() *market.Discovery {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.discover
}

func (e *Engine) getQuoter() *strategy.SkewQuoteGenerator {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.quoter
}

// runDiscovery implements spec.md §4.2: fetch candidate markets, register
// new ones, and parallel-seed their books and WS subscriptions.
func (e *Engine) runDiscovery() {
	candidates, err := e.getDiscover().Discover(e.ctx, e.registry.Has, e.registry.Len())
	if err != nil {
		e.logger.Warn("discovery failed", "error", err)
		return
	}

	for _, c := range candidates {
		m := &market.Market{
			MarketID:    c.ConditionID,
			ConditionID: c.ConditionID,
			Question:    c.Question,
			YesTokenID:  c.YesTokenID,
			NoTokenID:   c.NoTokenID,
			Active:      true,
		}
		if err := e.registry.Add(m); err != nil {
			e.logger.Warn("register market failed", "condition_id", c.ConditionID, "error", err)
			continue
		}

		if err := e.mktFeed.Subscribe(e.ctx, []string{c.YesTokenID, c.NoTokenID}); err != nil {
			e.logger.Warn("subscribe failed", "condition_id", c.ConditionID, "error", err)
		}

		var wg sync.WaitGroup
		for _, tokenID := range []string{c.YesTokenID, c.NoTokenID} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				e.seedBook(id)
			}(tokenID)
		}
		wg.Wait()

		e.logger.Info("market discovered", "condition_id", c.ConditionID, "slug", c.Slug)
	}
}

func (e *Engine) seedBook(tokenID string) {
	if e.registry.LookupByToken(tokenID) == nil {
		return
	}
	resp, err := e.client.GetOrderBook(e.ctx, tokenID)
	if err != nil {
		e.logger.Warn("seed book failed", "token_id", tokenID, "error", err)
		return
	}
	if e.registry.LookupByToken(tokenID) == nil {
		return
	}
	e.books.Update(tokenID, resp.Bids, resp.Asks, true, true)
}

// runScan implements spec.md §4.7's scan loop: refresh stale books, then
// (if not paused) regenerate and reconcile quotes for every ready market,
// then poll for fills.
func (e *Engine) runScan() {
	e.maybeBackfill()

	cfg := e.snapshotConfig()
	e.riskMgr.SetOpenOrderCount(e.exec.LiveOrderCount())

	for _, m := range e.registry.All() {
		if !m.Active || !m.Ready(e.books, cfg.Strategy.PriceStaleness()) {
			continue
		}

		yesBook, _ := e.books.Get(m.YesTokenID)
		noBook, _ := e.books.Get(m.NoTokenID)

		yesQty, noQty, avgYes, avgNo := e.exec.Position(m.ConditionID)
		pos := strategy.Position{YesQty: yesQty, NoQty: noQty, AvgEntryYes: avgYes, AvgEntryNo: avgNo}

		desired, ok := e.getQuoter().Quote(m, yesBook, noBook, pos)
		if !ok {
			continue
		}

		if err := e.exec.SyncQuotes(e.ctx, m, desired); err != nil {
			e.logger.Error("sync quotes failed", "condition_id", m.ConditionID, "error", err)
		}
		e.registry.SetLastQuote(m.ConditionID, time.Now())
	}

	if err := e.exec.RefreshOpenOrders(e.ctx); err != nil {
		e.logger.Error("refresh open orders failed", "error", err)
	}
}

// maybeBackfill implements spec.md §4.7's defensive backfill loop: gated
// to at most once per 3s, refetch up to three oldest-stale books in
// parallel.
func (e *Engine) maybeBackfill() {
	if time.Since(e.lastBackfill) < backfillInterval {
		return
	}
	e.lastBackfill = time.Now()

	cfg := e.snapshotConfig()
	maxAge := cfg.Strategy.PriceStaleness()

	type staleBook struct {
		tokenID string
		age     time.Duration
	}
	var stale []staleBook
	seen := make(map[string]bool)
	for _, m := range e.registry.All() {
		for _, tokenID := range []string{m.YesTokenID, m.NoTokenID} {
			if seen[tokenID] {
				continue
			}
			seen[tokenID] = true
			snap, ok := e.books.Get(tokenID)
			if !ok {
				stale = append(stale, staleBook{tokenID: tokenID, age: maxAge})
				continue
			}
			if snap.IsStale(maxAge) {
				stale = append(stale, staleBook{tokenID: tokenID, age: time.Since(snap.UpdatedAt)})
			}
		}
	}
	if len(stale) == 0 {
		return
	}

	sort.Slice(stale, func(i, j int) bool { return stale[i].age > stale[j].age })
	if len(stale) > backfillBatchSize {
		stale = stale[:backfillBatchSize]
	}

	var wg sync.WaitGroup
	for _, s := range stale {
		wg.Add(1)
		go func(tokenID string) {
			defer wg.Done()
			e.seedBook(tokenID)
		}(s.tokenID)
	}
	wg.Wait()
}

// dispatchBookEvents feeds WS "book" frames into the book store. This is
// the primary ingestion path (spec.md §4.1); incremental price_change
// frames are left to periodic REST backfill for defensive coverage rather
// than consumed here, since they carry per-level deltas that don't map
// onto the store's full-side-replacement contract.
func (e *Engine) dispatchBookEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt := <-e.mktFeed.BookEvents():
			if e.registry.LookupByToken(evt.AssetID) == nil {
				continue
			}
			bidsPresent := evt.Buys != nil
			asksPresent := evt.Sells != nil
			if !bidsPresent && !asksPresent {
				continue
			}
			e.books.Update(evt.AssetID, evt.Buys, evt.Sells, bidsPresent, asksPresent)
		}
	}
}

func (e *Engine) snapshotConfig() config.Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Pause suspends new order placement; existing orders are still monitored
// and cancellable.
func (e *Engine) Pause() {
	e.exec.Pause()
	e.db.LogEvent(e.ctx, "control", "paused")
}

// Resume re-enables placement and clears a tripped circuit breaker in one
// motion (spec.md §4.7 "resume also clears the risk gate's circuit
// breaker").
func (e *Engine) Resume() {
	e.exec.Resume()
	e.riskMgr.ResetBreaker()
	e.db.LogEvent(e.ctx, "control", "resumed")
}

// CancelAll cancels every live order across every market and reports how
// many were requested.
func (e *Engine) CancelAll(ctx context.Context) (int, error) {
	count := e.exec.LiveOrderCount()
	if err := e.exec.CancelAll(ctx); err != nil {
		return 0, err
	}
	return count, nil
}

// ReloadConfig re-reads the configuration file and hot-swaps the mutable
// strategy/risk knobs without restarting transports or losing in-memory
// book/position state (spec.md §4.7 "reload_config").
func (e *Engine) ReloadConfig() error {
	cfg, err := config.Load(e.cfgPath)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	newQuoter := strategy.NewSkewQuoteGenerator(cfg.Strategy)
	newDiscover := market.NewDiscovery(*cfg, e.logger)

	e.cfgMu.Lock()
	e.cfg = *cfg
	e.quoter = newQuoter
	e.discover = newDiscover
	e.cfgMu.Unlock()

	e.db.LogEvent(e.ctx, "control", "config reloaded")
	return nil
}

// GetMarketsSnapshot returns per-market book and position state for the
// dashboard (api.MarketSnapshotProvider).
func (e *Engine) GetMarketsSnapshot() []api.MarketStatus {
	markets := e.registry.All()
	out := make([]api.MarketStatus, 0, len(markets))

	cfg := e.snapshotConfig()
	for _, m := range markets {
		yesBook, _ := e.books.Get(m.YesTokenID)
		noBook, _ := e.books.Get(m.NoTokenID)

		var yesMid, noMid, yesSpread, noSpread float64
		var lastUpdated time.Time
		isStale := true
		if yesBook != nil {
			yesMid, _ = yesBook.Mid()
			yesSpread = yesBook.SpreadBps()
			lastUpdated = yesBook.UpdatedAt
		}
		if noBook != nil {
			noMid, _ = noBook.Mid()
			noSpread = noBook.SpreadBps()
			if noBook.UpdatedAt.After(lastUpdated) {
				lastUpdated = noBook.UpdatedAt
			}
		}
		if yesBook != nil && noBook != nil {
			isStale = yesBook.IsStale(cfg.Strategy.PriceStaleness()) || noBook.IsStale(cfg.Strategy.PriceStaleness())
		}

		yesQty, noQty, avgYes, avgNo := e.exec.Position(m.ConditionID)

		out = append(out, api.MarketStatus{
			ConditionID:  m.ConditionID,
			Slug:         m.MarketID,
			Question:     m.Question,
			YesMid:       yesMid,
			NoMid:        noMid,
			YesSpreadBps: yesSpread,
			NoSpreadBps:  noSpread,
			LastUpdated:  lastUpdated,
			IsStale:      isStale,
			Position: api.PositionSnapshot{
				YesQty:      yesQty,
				NoQty:       noQty,
				AvgEntryYes: avgYes,
				AvgEntryNo:  avgNo,
			},
		})
	}
	return out
}

// GetStage returns the execution controller's current pipeline stage
// label (spec.md §4.5 "Pipeline stages").
func (e *Engine) GetStage() string {
	return string(e.exec.Stage())
}

// GetStats returns the execution controller's activity counters.
func (e *Engine) GetStats() execution.Stats {
	return e.exec.Stats()
}

// GetRiskManager exposes the risk gate for dashboard/snapshot assembly.
func (e *Engine) GetRiskManager() *risk.Manager {
	return e.riskMgr
}

// GetWSState exposes the market feed's connection health.
func (e *Engine) GetWSState() exchange.ConnectionState {
	return e.mktFeed.State()
}

// GetRecentOrders exposes the execution controller's bounded diagnostic
// window.
func (e *Engine) GetRecentOrders() []execution.RecentOrder {
	return e.exec.RecentOrders()
}
