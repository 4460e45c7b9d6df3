// Package store provides the durable SQLite-backed record of everything
// the bot has done: orders, fills, positions, quote actions, rebates, risk
// events, metrics, and a free-form event log. It is the crash-recovery
// source of truth — positions and open orders are reloaded from here on
// restart (spec.md §3 "Durable schema").
//
// Backed by modernc.org/sqlite, a pure-Go driver, so the binary stays
// cgo-free and cross-compiles the way the rest of the stack does.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a database/sql handle to the bot's SQLite file, exposing one
// method per logical write or read the rest of the system needs.
type Store struct {
	db *sql.DB
}

// Open creates (or attaches to) the SQLite database at path and applies
// the schema if it doesn't already exist.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite allows one writer; avoid busy-lock churn

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			market_id TEXT NOT NULL,
			condition_id TEXT NOT NULL,
			token_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			size REAL NOT NULL,
			filled_size REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			ack_latency_ms REAL NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			condition_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			market_id TEXT NOT NULL,
			size REAL NOT NULL,
			avg_price REAL NOT NULL,
			PRIMARY KEY (condition_id, outcome)
		)`,
		`CREATE TABLE IF NOT EXISTS fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			market_id TEXT NOT NULL,
			condition_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			size REAL NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS quote_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			market_id TEXT NOT NULL,
			condition_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			size REAL NOT NULL,
			action TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rebates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			market_id TEXT NOT NULL,
			amount_usdc REAL NOT NULL,
			source TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS risk_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			condition_id TEXT NOT NULL,
			reason TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metrics (
			name TEXT PRIMARY KEY,
			value REAL NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// OrderRow is a durable record of one order's current state.
type OrderRow struct {
	ID            string
	MarketID      string
	ConditionID   string
	TokenID       string
	Outcome       string
	Side          string
	Price         float64
	Size          float64
	FilledSize    float64
	Status        string
	CreatedAt     time.Time
	AckLatencyMs  float64
}

// InsertOrder records a newly placed order.
func (s *Store) InsertOrder(ctx context.Context, o OrderRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, market_id, condition_id, token_id, outcome, side, price, size, filled_size, status, created_at, ack_latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.MarketID, o.ConditionID, o.TokenID, o.Outcome, o.Side, o.Price, o.Size, o.FilledSize, o.Status, o.CreatedAt.Unix(), o.AckLatencyMs,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// UpdateOrderStatus updates an order's status and filled size.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID, status string, filledSize float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, filled_size = ? WHERE id = ?`,
		status, filledSize, orderID,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

// OpenOrders returns all orders not in a terminal status, for restart
// recovery.
func (s *Store) OpenOrders(ctx context.Context) ([]OrderRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, condition_id, token_id, outcome, side, price, size, filled_size, status, created_at, ack_latency_ms
		FROM orders WHERE status IN ('PENDING', 'OPEN', 'PARTIAL')`)
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		var o OrderRow
		var createdAt int64
		if err := rows.Scan(&o.ID, &o.MarketID, &o.ConditionID, &o.TokenID, &o.Outcome, &o.Side, &o.Price, &o.Size, &o.FilledSize, &o.Status, &createdAt, &o.AckLatencyMs); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, o)
	}
	return out, rows.Err()
}

// AggregateExposure reads resting-order notional (price times unfilled
// remainder) aggregated by condition ID, plus the portfolio total, over
// every order not in a terminal status. This is spec.md's mandatory
// durable-store operation "read aggregate exposure (total and per
// market)"; the risk manager keeps its own live copy updated on every
// placement/fill/cancel, and this method lets that copy be reconstructed
// from the durable record after a restart.
func (s *Store) AggregateExposure(ctx context.Context) (total float64, perMarket map[string]float64, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT condition_id, COALESCE(SUM(price * (size - filled_size)), 0)
		FROM orders WHERE status IN ('PENDING', 'OPEN', 'PARTIAL')
		GROUP BY condition_id`)
	if err != nil {
		return 0, nil, fmt.Errorf("query aggregate exposure: %w", err)
	}
	defer rows.Close()

	perMarket = make(map[string]float64)
	for rows.Next() {
		var conditionID string
		var notional float64
		if err := rows.Scan(&conditionID, &notional); err != nil {
			return 0, nil, fmt.Errorf("scan aggregate exposure: %w", err)
		}
		perMarket[conditionID] = notional
		total += notional
	}
	return total, perMarket, rows.Err()
}

// PositionRow is a durable record of holdings in one outcome of one market.
type PositionRow struct {
	ConditionID string
	Outcome     string
	MarketID    string
	Size        float64
	AvgPrice    float64
}

// UpsertPosition writes the current size/avg_price for a (condition, outcome) pair.
func (s *Store) UpsertPosition(ctx context.Context, p PositionRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (condition_id, outcome, market_id, size, avg_price)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (condition_id, outcome) DO UPDATE SET size = excluded.size, avg_price = excluded.avg_price, market_id = excluded.market_id`,
		p.ConditionID, p.Outcome, p.MarketID, p.Size, p.AvgPrice,
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// Positions returns every stored position, for restart recovery.
func (s *Store) Positions(ctx context.Context) ([]PositionRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT condition_id, outcome, market_id, size, avg_price FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []PositionRow
	for rows.Next() {
		var p PositionRow
		if err := rows.Scan(&p.ConditionID, &p.Outcome, &p.MarketID, &p.Size, &p.AvgPrice); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FillRow is a durable record of one execution.
type FillRow struct {
	OrderID     string
	MarketID    string
	ConditionID string
	Outcome     string
	Side        string
	Price       float64
	Size        float64
}

// InsertFill records one execution.
func (s *Store) InsertFill(ctx context.Context, f FillRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fills (order_id, market_id, condition_id, outcome, side, price, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.MarketID, f.ConditionID, f.Outcome, f.Side, f.Price, f.Size, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// QuoteEventRow is a durable record of a cancel or place decision.
type QuoteEventRow struct {
	OrderID     string
	MarketID    string
	ConditionID string
	Outcome     string
	Side        string
	Price       float64
	Size        float64
	Action      string // "PLACE" or "CANCEL"
}

// InsertQuoteEvent records a cancel/place action taken by the execution controller.
func (s *Store) InsertQuoteEvent(ctx context.Context, e QuoteEventRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quote_events (order_id, market_id, condition_id, outcome, side, price, size, action, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OrderID, e.MarketID, e.ConditionID, e.Outcome, e.Side, e.Price, e.Size, e.Action, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert quote event: %w", err)
	}
	return nil
}

// InsertRebate records a liquidity-rewards credit.
func (s *Store) InsertRebate(ctx context.Context, marketID string, amountUSDC float64, source string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rebates (market_id, amount_usdc, source, created_at) VALUES (?, ?, ?, ?)`,
		marketID, amountUSDC, source, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert rebate: %w", err)
	}
	return nil
}

// InsertRiskEvent records a risk-gate rejection for audit.
func (s *Store) InsertRiskEvent(ctx context.Context, conditionID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO risk_events (condition_id, reason, created_at) VALUES (?, ?, ?)`,
		conditionID, reason, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert risk event: %w", err)
	}
	return nil
}

// SetMetric upserts a named gauge value. This is the durable copy used for
// historical/audit queries; the live Prometheus gauges scraped at /metrics
// (internal/api.metricsCollector) read current in-memory state directly
// from the engine/execution/risk components instead of this table, so the
// two do not need to be kept in lockstep.
func (s *Store) SetMetric(ctx context.Context, name string, value float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metrics (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("set metric: %w", err)
	}
	return nil
}

// Metric reads a named gauge value, or (0, false) if never set.
func (s *Store) Metric(ctx context.Context, name string) (float64, bool, error) {
	var value float64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metrics WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query metric: %w", err)
	}
	return value, true, nil
}

// LogEvent appends a free-form entry to the event log (startup, pause,
// resume, config reload, and other operational milestones).
func (s *Store) LogEvent(ctx context.Context, kind, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_log (kind, message, created_at) VALUES (?, ?, ?)`,
		kind, message, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}
