// ws.go implements the market WebSocket feed for real-time Polymarket
// order book data: subscribes by asset ID (token ID), receives "book"
// snapshots (the engine's sole ingestion path — spec.md §4.1) and
// "price_change" deltas (logged and dropped; fills and position updates
// are detected by the execution controller's REST polling loop instead
// of a push channel — spec.md's data-flow description names only "the
// order-refresh loop polls for fills").
//
// The feed auto-reconnects with exponential backoff (1s → 60s max) and
// re-subscribes to all tracked asset IDs on reconnection. A read deadline
// (90s, nine ping intervals) forces a reconnect when the server goes silent.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-mm/pkg/types"
)

const (
	pingInterval     = 10 * time.Second // background ping cadence (spec §4.3)
	readTimeout      = 90 * time.Second // 9 ping intervals of silence triggers reconnect
	maxReconnectWait = 60 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
	readBufferSize   = 256              // buffer for book events
)

// WSFeed manages a single WebSocket connection to the public market
// channel. It handles connection lifecycle, subscription tracking,
// message routing, and automatic reconnection with exponential backoff.
type WSFeed struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	// Track subscriptions for automatic re-subscribe on reconnect
	subscribedMu sync.RWMutex
	subscribed   map[string]bool // asset IDs

	bookCh chan types.WSBookEvent // full book snapshots; read via BookEvents()

	stateMu        sync.Mutex
	connected      bool
	lastMessageAt  time.Time
	reconnectCount int
	lastLatency    time.Duration
	lastErr        error

	logger *slog.Logger
}

// ConnectionState is a point-in-time view of the feed's health, for the
// status API (spec §4.3 "connection-state structure").
type ConnectionState struct {
	Connected      bool
	LastMessageAt  time.Time
	ReconnectCount int
	Latency        time.Duration
	Subscribed     []string
	LastErr        error
}

// State returns the current connection state.
func (f *WSFeed) State() ConnectionState {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()

	f.subscribedMu.RLock()
	subs := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		subs = append(subs, id)
	}
	f.subscribedMu.RUnlock()

	return ConnectionState{
		Connected:      f.connected,
		LastMessageAt:  f.lastMessageAt,
		ReconnectCount: f.reconnectCount,
		Latency:        f.lastLatency,
		Subscribed:     subs,
		LastErr:        f.lastErr,
	}
}

// NewMarketFeed creates a WebSocket feed for the public market channel.
func NewMarketFeed(wsURL string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:        wsURL,
		subscribed: make(map[string]bool),
		bookCh:     make(chan types.WSBookEvent, readBufferSize),
		logger:     logger.With("component", "ws_market"),
	}
}

// BookEvents returns a read-only channel of book snapshot events.
func (f *WSFeed) BookEvents() <-chan types.WSBookEvent { return f.bookCh }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.stateMu.Lock()
		f.connected = false
		f.lastErr = err
		f.reconnectCount++
		f.stateMu.Unlock()

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 60s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds asset IDs to the tracked subscription set.
func (f *WSFeed) Subscribe(ctx context.Context, ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(types.WSUpdateMsg{Operation: "subscribe", AssetIDs: ids})
}

// Unsubscribe removes IDs from the subscription.
func (f *WSFeed) Unsubscribe(ctx context.Context, ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		delete(f.subscribed, id)
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(types.WSUpdateMsg{Operation: "unsubscribe", AssetIDs: ids})
}

// Close gracefully closes the connection.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	var pingSentAt time.Time
	var pingSentMu sync.Mutex
	conn.SetPongHandler(func(string) error {
		pingSentMu.Lock()
		sent := pingSentAt
		pingSentMu.Unlock()
		if !sent.IsZero() {
			f.stateMu.Lock()
			f.lastLatency = time.Since(sent)
			f.stateMu.Unlock()
		}
		return nil
	})

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	// Send initial subscription
	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.stateMu.Lock()
	f.connected = true
	f.stateMu.Unlock()
	f.logger.Info("websocket connected")

	// Start ping goroutine
	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx, &pingSentAt, &pingSentMu)

	// Read loop with deadline so we reconnect if server goes silent
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.stateMu.Lock()
		f.lastMessageAt = time.Now()
		f.stateMu.Unlock()

		f.dispatchMessage(msg)
	}
}

func (f *WSFeed) sendInitialSubscription() error {
	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()

	return f.writeJSON(types.WSSubscribeMsg{Type: "market", AssetIDs: ids})
}

func (f *WSFeed) dispatchMessage(data []byte) {
	// A frame may carry a single event object or an array of them.
	var batch []json.RawMessage
	if err := json.Unmarshal(data, &batch); err == nil {
		for _, item := range batch {
			f.dispatchMessage(item)
		}
		return
	}

	// Peek at event_type to route
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "book":
		var evt types.WSBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		if evt.Buys == nil || evt.Sells == nil {
			var alt struct {
				Bids []types.PriceLevel `json:"bids"`
				Asks []types.PriceLevel `json:"asks"`
			}
			if err := json.Unmarshal(data, &alt); err == nil {
				if evt.Buys == nil {
					evt.Buys = alt.Bids
				}
				if evt.Sells == nil {
					evt.Sells = alt.Asks
				}
			}
		}
		select {
		case f.bookCh <- evt:
		default:
			f.logger.Warn("book channel full, dropping event", "asset", evt.AssetID)
		}

	case "price_change":
		// Incremental deltas aren't consumed: the book store only accepts
		// full-side replacement, and periodic REST backfill keeps stale
		// books in check instead (see package doc).
		f.logger.Debug("ignoring price_change event")

	case "last_trade_price", "tick_size_change", "best_bid_ask", "new_market", "market_resolved":
		// Informational events we don't need to process
		f.logger.Debug("ignoring event", "type", envelope.EventType)

	default:
		f.logger.Debug("unknown ws event type", "type", envelope.EventType)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context, pingSentAt *time.Time, pingSentMu *sync.Mutex) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingSentMu.Lock()
			*pingSentAt = time.Now()
			pingSentMu.Unlock()
			if err := f.writeControlPing(); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *WSFeed) writeControlPing() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return f.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (f *WSFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

