// Package market provides the token-keyed order book store and the market
// registry that sits above it.
//
// Store mirrors the CLOB order book, one snapshot per token (YES and NO
// tokens are unrelated entries here; a Market in the registry ties a pair
// of token IDs together). It is updated from two sources:
//   - REST snapshots via Update (initial load and periodic backfill)
//   - WebSocket deltas via Update (incremental, field-scoped replacement)
//
// The Store is concurrency-safe (RWMutex protected) and never blocks on a
// caller. Update itself has no notion of "unknown" tokens — it will record
// whatever token it is given — so callers (the engine's discovery/backfill/
// dispatch loops) gate every call with registry.LookupByToken first and
// drop updates for tokens that belong to no registered market, per spec
// §4.1: an update for an unknown token is ignored, not recorded.
package market

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"polymarket-mm/pkg/types"
)

// Snapshot is the current top-of-book-plus-depth view for one token.
type Snapshot struct {
	TokenID   string
	Bids      []types.PriceLevel // sorted descending by price
	Asks      []types.PriceLevel // sorted ascending by price
	UpdatedAt time.Time
}

// BestBid returns the highest bid price, or 0 if the book has no bids.
func (s *Snapshot) BestBid() float64 {
	if s == nil || len(s.Bids) == 0 {
		return 0
	}
	return parsePrice(s.Bids[0].Price)
}

// BestAsk returns the lowest ask price, or 0 if the book has no asks.
func (s *Snapshot) BestAsk() float64 {
	if s == nil || len(s.Asks) == 0 {
		return 0
	}
	return parsePrice(s.Asks[0].Price)
}

// BestBidSize returns the size resting at the best bid, or 0.
func (s *Snapshot) BestBidSize() float64 {
	if s == nil || len(s.Bids) == 0 {
		return 0
	}
	return parsePrice(s.Bids[0].Size)
}

// BestAskSize returns the size resting at the best ask, or 0.
func (s *Snapshot) BestAskSize() float64 {
	if s == nil || len(s.Asks) == 0 {
		return 0
	}
	return parsePrice(s.Asks[0].Size)
}

// Mid is the arithmetic mean of best bid and best ask. When only one side
// is populated it falls back to that side's best price; when neither side
// is populated it returns (0, false).
func (s *Snapshot) Mid() (float64, bool) {
	if s == nil {
		return 0, false
	}
	bid, ask := s.BestBid(), s.BestAsk()
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2, true
	case bid > 0:
		return bid, true
	case ask > 0:
		return ask, true
	default:
		return 0, false
	}
}

// SpreadBps is the quoted spread in basis points relative to the best bid.
func (s *Snapshot) SpreadBps() float64 {
	bid, ask := s.BestBid(), s.BestAsk()
	if bid <= 0 {
		return 0
	}
	return (ask - bid) / bid * 10000
}

// IsStale reports whether this snapshot's age exceeds maxAge. A nil
// snapshot (never updated) is always stale.
func (s *Snapshot) IsStale(maxAge time.Duration) bool {
	if s == nil || s.UpdatedAt.IsZero() {
		return true
	}
	return time.Since(s.UpdatedAt) > maxAge
}

// Store holds one Snapshot per token ID.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewStore creates an empty order book store.
func NewStore() *Store {
	return &Store{snapshots: make(map[string]*Snapshot)}
}

// Update applies a field-scoped ladder replacement for tokenID.
// bidsPresent/asksPresent say whether each side was in the payload: a
// present side replaces the previous one (an empty slice empties it), an
// absent side keeps the previous snapshot's value (spec §4.1 delta
// semantics, §8 scenario S4). Every call stamps freshness, even one with
// neither side present.
func (s *Store) Update(tokenID string, bids, asks []types.PriceLevel, bidsPresent, asksPresent bool) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.snapshots[tokenID]
	next := &Snapshot{TokenID: tokenID, UpdatedAt: time.Now()}

	switch {
	case bidsPresent:
		next.Bids = sortedBids(bids)
	case prev != nil:
		next.Bids = prev.Bids
	}

	switch {
	case asksPresent:
		next.Asks = sortedAsks(asks)
	case prev != nil:
		next.Asks = prev.Asks
	}

	s.snapshots[tokenID] = next
	return next
}

// Get returns the current snapshot for tokenID, or (nil, false) if none.
func (s *Store) Get(tokenID string) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[tokenID]
	return snap, ok
}

func sortedBids(levels []types.PriceLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, len(levels))
	copy(out, levels)
	sort.Slice(out, func(i, j int) bool { return parsePrice(out[i].Price) > parsePrice(out[j].Price) })
	return out
}

func sortedAsks(levels []types.PriceLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, len(levels))
	copy(out, levels)
	sort.Slice(out, func(i, j int) bool { return parsePrice(out[i].Price) < parsePrice(out[j].Price) })
	return out
}

func parsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
