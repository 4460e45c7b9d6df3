package market

import (
	"testing"
	"time"

	"polymarket-mm/pkg/types"
)

func TestUpdateReplacesSnapshot(t *testing.T) {
	t.Parallel()
	s := NewStore()

	s.Update("tok1",
		[]types.PriceLevel{{Price: "0.55", Size: "100"}, {Price: "0.54", Size: "200"}},
		[]types.PriceLevel{{Price: "0.57", Size: "150"}},
		true, true)

	snap, ok := s.Get("tok1")
	if !ok {
		t.Fatal("expected snapshot to exist")
	}
	if snap.BestBid() != 0.55 {
		t.Errorf("best bid = %v, want 0.55", snap.BestBid())
	}
	if snap.BestAsk() != 0.57 {
		t.Errorf("best ask = %v, want 0.57", snap.BestAsk())
	}
}

func TestUpdateUnsortedInput(t *testing.T) {
	t.Parallel()
	s := NewStore()

	s.Update("tok1",
		[]types.PriceLevel{{Price: "0.40", Size: "100"}, {Price: "0.45", Size: "50"}},
		[]types.PriceLevel{{Price: "0.60", Size: "10"}, {Price: "0.55", Size: "20"}},
		true, true)

	snap, _ := s.Get("tok1")
	if snap.BestBid() != 0.45 {
		t.Errorf("best bid = %v, want 0.45 (highest)", snap.BestBid())
	}
	if snap.BestAsk() != 0.55 {
		t.Errorf("best ask = %v, want 0.55 (lowest)", snap.BestAsk())
	}
}

// TestDeltaMergeScenarioS4 matches spec.md §8 scenario S4: a payload that
// supplies only the bids side must leave asks untouched from the previous
// snapshot.
func TestDeltaMergeScenarioS4(t *testing.T) {
	t.Parallel()
	s := NewStore()

	s.Update("tok1",
		[]types.PriceLevel{{Price: "0.40", Size: "100"}, {Price: "0.39", Size: "50"}},
		[]types.PriceLevel{{Price: "0.50", Size: "80"}},
		true, true)

	s.Update("tok1", []types.PriceLevel{{Price: "0.41", Size: "90"}}, nil, true, false)

	snap, _ := s.Get("tok1")
	if len(snap.Bids) != 1 || snap.Bids[0].Price != "0.41" {
		t.Errorf("bids = %+v, want single 0.41 level", snap.Bids)
	}
	if len(snap.Asks) != 1 || snap.Asks[0].Price != "0.50" {
		t.Errorf("asks = %+v, want unchanged 0.50 level", snap.Asks)
	}
}

func TestUpdateIdempotentModuloTimestamp(t *testing.T) {
	t.Parallel()
	s := NewStore()

	bids := []types.PriceLevel{{Price: "0.40", Size: "100"}}
	asks := []types.PriceLevel{{Price: "0.50", Size: "80"}}

	s.Update("tok1", bids, asks, true, true)
	first, _ := s.Get("tok1")

	s.Update("tok1", bids, asks, true, true)
	second, _ := s.Get("tok1")

	if len(first.Bids) != len(second.Bids) || first.Bids[0] != second.Bids[0] {
		t.Errorf("repeated identical update changed bids: %+v vs %+v", first.Bids, second.Bids)
	}
	if len(first.Asks) != len(second.Asks) || first.Asks[0] != second.Asks[0] {
		t.Errorf("repeated identical update changed asks: %+v vs %+v", first.Asks, second.Asks)
	}
}

func TestMidFallsBackToPopulatedSide(t *testing.T) {
	t.Parallel()
	s := NewStore()

	if _, ok := (&Snapshot{}).Mid(); ok {
		t.Error("empty snapshot should report mid not ok")
	}

	s.Update("tok1", []types.PriceLevel{{Price: "0.50", Size: "100"}}, nil, true, false)
	snap, _ := s.Get("tok1")
	mid, ok := snap.Mid()
	if !ok || mid != 0.50 {
		t.Errorf("mid = %v, ok=%v; want 0.50, true", mid, ok)
	}
}

func TestMidArithmeticMean(t *testing.T) {
	t.Parallel()
	s := NewStore()

	s.Update("tok1",
		[]types.PriceLevel{{Price: "0.50", Size: "100"}},
		[]types.PriceLevel{{Price: "0.60", Size: "100"}},
		true, true)

	snap, _ := s.Get("tok1")
	mid, ok := snap.Mid()
	if !ok || mid != 0.55 {
		t.Errorf("mid = %v, ok=%v; want 0.55, true", mid, ok)
	}
}

func TestIsStale(t *testing.T) {
	t.Parallel()

	var nilSnap *Snapshot
	if !nilSnap.IsStale(time.Second) {
		t.Error("nil snapshot should be stale")
	}

	s := NewStore()
	s.Update("tok1", []types.PriceLevel{{Price: "0.5", Size: "1"}}, []types.PriceLevel{{Price: "0.6", Size: "1"}}, true, true)
	snap, _ := s.Get("tok1")

	if snap.IsStale(time.Second) {
		t.Error("just-updated snapshot should not be stale")
	}

	time.Sleep(20 * time.Millisecond)
	if !snap.IsStale(10 * time.Millisecond) {
		t.Error("snapshot should be stale after maxAge")
	}
}

func TestGetUnknownToken(t *testing.T) {
	t.Parallel()
	s := NewStore()
	if _, ok := s.Get("missing"); ok {
		t.Error("expected ok=false for unknown token")
	}
}
