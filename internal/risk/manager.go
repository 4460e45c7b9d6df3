// Package risk enforces portfolio-level limits via a synchronous pre-trade
// gate. Every desired order passes through Check before the execution
// controller is allowed to place it; the gate evaluates a strict ordered
// set of conditions and returns the first one that fails.
//
// The breaker trips on a daily-loss or consecutive-loss breach and blocks
// all trading for a configured cooldown, after which it self-clears.
package risk

import (
	"fmt"
	"sync"
	"time"

	"polymarket-mm/internal/config"
)

// Candidate describes one desired order awaiting a risk decision.
type Candidate struct {
	MarketID    string
	ConditionID string
	Side        string // "BUY" or "SELL"
	Price       float64
	Size        float64
}

// Notional returns the USD value this candidate would add to exposure.
func (c Candidate) Notional() float64 {
	return c.Price * c.Size
}

// Manager is the synchronous risk gate. All exported methods are
// goroutine-safe; Check is expected to be called from the single
// execution-controller goroutine once per candidate order.
type Manager struct {
	cfg config.RiskConfig

	mu                  sync.Mutex
	totalExposureUSDC   float64
	perMarketExposure   map[string]float64
	openOrderCount      int
	dailyPnL            float64
	dailyResetDate      string
	consecutiveLosses   int
	breakerActive       bool
	breakerUntil        time.Time
	rejectCounts        map[string]int
}

// NewManager creates a risk gate bound to the given limits.
func NewManager(cfg config.RiskConfig) *Manager {
	return &Manager{
		cfg:               cfg,
		perMarketExposure: make(map[string]float64),
		rejectCounts:      make(map[string]int),
		dailyResetDate:    todayKey(time.Now()),
	}
}

// Check evaluates a candidate order against every limit, in the fixed
// rejection order: breaker active, daily loss, consecutive losses, total
// exposure, per-market exposure, open order count. Returns (true, "") when
// the candidate is allowed.
func (m *Manager) Check(c Candidate) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeResetDaily(time.Now())

	if m.breakerActive {
		if time.Now().Before(m.breakerUntil) {
			return m.reject("circuit_breaker_active")
		}
		m.breakerActive = false
	}

	if m.dailyPnL <= -m.cfg.MaxDailyLossUSDC {
		m.tripBreaker()
		return m.reject("daily_loss_limit")
	}

	if m.cfg.MaxConsecutiveLosses > 0 && m.consecutiveLosses >= m.cfg.MaxConsecutiveLosses {
		m.tripBreaker()
		return m.reject("consecutive_losses")
	}

	orderCost := m.exposureCost(c)

	if m.totalExposureUSDC+orderCost > m.cfg.MaxTotalExposureUSDC {
		return m.reject("total_exposure_limit")
	}

	if m.perMarketExposure[c.ConditionID]+orderCost > m.cfg.MaxPerMarketExposureUSDC {
		return m.reject("per_market_exposure_limit")
	}

	if m.openOrderCount >= m.cfg.MaxOpenOrders {
		return m.reject("max_open_orders")
	}

	return true, ""
}

// exposureCost resolves spec.md §9 Open Question (a): by default (matching
// the reference implementation) both BUY and SELL legs count identically
// toward exposure; setting risk.exclude_sell_exposure excludes SELL legs,
// since they release inventory rather than consume risk budget.
func (m *Manager) exposureCost(c Candidate) float64 {
	if m.cfg.ExcludeSellExposure && c.Side == "SELL" {
		return 0
	}
	return c.Notional()
}

func (m *Manager) reject(reason string) (bool, string) {
	m.rejectCounts[reason]++
	return false, reason
}

func (m *Manager) tripBreaker() {
	m.breakerActive = true
	m.breakerUntil = time.Now().Add(m.cfg.CircuitBreakerCooldown())
}

// maybeResetDaily zeroes the daily PnL accumulator on a calendar-day
// rollover. The consecutive-loss counter is NOT reset here: it clears only
// on the first non-negative recorded PnL delta (see RecordResult).
func (m *Manager) maybeResetDaily(now time.Time) {
	today := todayKey(now)
	if today != m.dailyResetDate {
		m.dailyResetDate = today
		m.dailyPnL = 0
	}
}

// RecordResult records a closed trade's realized PnL delta, accumulating
// into the daily total and tracking consecutive losses. A non-negative
// delta clears the consecutive-loss counter; a negative delta increments
// it.
func (m *Manager) RecordResult(pnlDelta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeResetDaily(time.Now())
	m.dailyPnL += pnlDelta

	if pnlDelta < 0 {
		m.consecutiveLosses++
	} else {
		m.consecutiveLosses = 0
	}
}

// SetExposure updates the tracked exposure for a market and recomputes the
// portfolio total. Called by the execution controller after every fill or
// cancellation changes resting notional.
func (m *Manager) SetExposure(conditionID string, marketExposureUSDC float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.perMarketExposure[conditionID]
	m.perMarketExposure[conditionID] = marketExposureUSDC
	m.totalExposureUSDC += marketExposureUSDC - old
}

// SetOpenOrderCount updates the global open-order count used by the
// max_open_orders check.
func (m *Manager) SetOpenOrderCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrderCount = n
}

// ResetBreaker unconditionally clears a tripped circuit breaker, giving an
// operator a manual override (spec.md §4.7 control surface: resume also
// clears the breaker in one motion).
func (m *Manager) ResetBreaker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerActive = false
}

// BreakerActive reports whether the circuit breaker currently blocks
// trading.
func (m *Manager) BreakerActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerActive && time.Now().After(m.breakerUntil) {
		return false
	}
	return m.breakerActive
}

// Snapshot returns a point-in-time view of risk state for the status API.
type Snapshot struct {
	TotalExposureUSDC float64
	PerMarketExposure map[string]float64
	DailyPnL          float64
	ConsecutiveLosses int
	BreakerActive     bool
	BreakerUntil      time.Time
	RejectCounts      map[string]int
}

// Snapshot returns the current risk state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int, len(m.rejectCounts))
	for k, v := range m.rejectCounts {
		counts[k] = v
	}

	perMarket := make(map[string]float64, len(m.perMarketExposure))
	for k, v := range m.perMarketExposure {
		perMarket[k] = v
	}

	return Snapshot{
		TotalExposureUSDC: m.totalExposureUSDC,
		PerMarketExposure: perMarket,
		DailyPnL:          m.dailyPnL,
		ConsecutiveLosses: m.consecutiveLosses,
		BreakerActive:     m.breakerActive && time.Now().Before(m.breakerUntil),
		BreakerUntil:      m.breakerUntil,
		RejectCounts:      counts,
	}
}

func todayKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d-%02d", t.Year(), t.Month(), t.Day())
}
