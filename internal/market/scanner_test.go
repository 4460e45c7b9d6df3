package market

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"polymarket-mm/internal/config"
)

func gammaFixture(markets []GammaMarket) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		w.Header().Set("Content-Type", "application/json")
		if offset != "0" {
			json.NewEncoder(w).Encode([]GammaMarket{})
			return
		}
		json.NewEncoder(w).Encode(markets)
	}))
}

func discoveryFor(t *testing.T, srv *httptest.Server, maxMarkets int) *Discovery {
	t.Helper()
	cfg := config.Config{
		Polymarket: config.PolymarketConfig{GammaURL: srv.URL},
		Strategy:   config.StrategyConfig{MaxMarkets: maxMarkets},
	}
	return NewDiscovery(cfg, slog.Default())
}

func outcomesJSON(a, b string) string {
	out, _ := json.Marshal([]string{a, b})
	return string(out)
}

func tokensJSON(a, b string) string {
	out, _ := json.Marshal([]string{a, b})
	return string(out)
}

func baseGammaMarket(cond string) GammaMarket {
	return GammaMarket{
		ID:              "id-" + cond,
		Question:        "Will " + cond + " happen?",
		ConditionID:     cond,
		Slug:            "slug-" + cond,
		Active:          true,
		Closed:          false,
		AcceptingOrders: true,
		EnableOrderBook: true,
		Outcomes:        outcomesJSON("Yes", "No"),
		ClobTokenIds:    tokensJSON("yes-"+cond, "no-"+cond),
	}
}

func TestDiscoverMapsYesNoByOutcomeOrder(t *testing.T) {
	t.Parallel()
	srv := gammaFixture([]GammaMarket{baseGammaMarket("c1")})
	defer srv.Close()

	d := discoveryFor(t, srv, 10)
	out, err := d.Discover(context.Background(), func(string) bool { return false }, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if out[0].YesTokenID != "yes-c1" || out[0].NoTokenID != "no-c1" {
		t.Errorf("got yes=%s no=%s", out[0].YesTokenID, out[0].NoTokenID)
	}
}

func TestDiscoverMapsByOutcomeOrderNotIndex(t *testing.T) {
	t.Parallel()
	m := baseGammaMarket("c2")
	// Reversed order: No first, Yes second — must still map correctly.
	m.Outcomes = outcomesJSON("No", "Yes")
	m.ClobTokenIds = tokensJSON("no-c2", "yes-c2")

	srv := gammaFixture([]GammaMarket{m})
	defer srv.Close()

	d := discoveryFor(t, srv, 10)
	out, err := d.Discover(context.Background(), func(string) bool { return false }, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if out[0].YesTokenID != "yes-c2" || out[0].NoTokenID != "no-c2" {
		t.Errorf("got yes=%s no=%s, want yes-c2/no-c2", out[0].YesTokenID, out[0].NoTokenID)
	}
}

func TestDiscoverSkipsNonBinaryOutcomes(t *testing.T) {
	t.Parallel()
	m := baseGammaMarket("c3")
	m.Outcomes = outcomesJSON("Up", "Down")

	srv := gammaFixture([]GammaMarket{m})
	defer srv.Close()

	d := discoveryFor(t, srv, 10)
	out, err := d.Discover(context.Background(), func(string) bool { return false }, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("len(out) = %d, want 0 (non Yes/No outcomes rejected)", len(out))
	}
}

func TestDiscoverSkipsNotAcceptingOrders(t *testing.T) {
	t.Parallel()
	m := baseGammaMarket("c4")
	m.AcceptingOrders = false

	srv := gammaFixture([]GammaMarket{m})
	defer srv.Close()

	d := discoveryFor(t, srv, 10)
	out, err := d.Discover(context.Background(), func(string) bool { return false }, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("len(out) = %d, want 0 (not accepting orders)", len(out))
	}
}

func TestDiscoverSkipsNoOrderBook(t *testing.T) {
	t.Parallel()
	m := baseGammaMarket("c5")
	m.EnableOrderBook = false

	srv := gammaFixture([]GammaMarket{m})
	defer srv.Close()

	d := discoveryFor(t, srv, 10)
	out, err := d.Discover(context.Background(), func(string) bool { return false }, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("len(out) = %d, want 0 (order book disabled)", len(out))
	}
}

func TestDiscoverSkipsKnownConditions(t *testing.T) {
	t.Parallel()
	srv := gammaFixture([]GammaMarket{baseGammaMarket("c6")})
	defer srv.Close()

	d := discoveryFor(t, srv, 10)
	known := func(cond string) bool { return cond == "c6" }
	out, err := d.Discover(context.Background(), known, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("len(out) = %d, want 0 (already known)", len(out))
	}
}

func TestDiscoverStopsAtMaxMarkets(t *testing.T) {
	t.Parallel()
	srv := gammaFixture([]GammaMarket{
		baseGammaMarket("c7"),
		baseGammaMarket("c8"),
		baseGammaMarket("c9"),
	})
	defer srv.Close()

	d := discoveryFor(t, srv, 2)
	out, err := d.Discover(context.Background(), func(string) bool { return false }, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("len(out) = %d, want 2 (capped by max_markets)", len(out))
	}
}

func TestDiscoverRespectsCurrentCount(t *testing.T) {
	t.Parallel()
	srv := gammaFixture([]GammaMarket{
		baseGammaMarket("c10"),
		baseGammaMarket("c11"),
	})
	defer srv.Close()

	d := discoveryFor(t, srv, 3)
	out, err := d.Discover(context.Background(), func(string) bool { return false }, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("len(out) = %d, want 1 (currentCount=2, cap=3)", len(out))
	}
}

func TestDiscoverFallsBackToSlugWhenQuestionEmpty(t *testing.T) {
	t.Parallel()
	m := baseGammaMarket("c12")
	m.Question = ""

	srv := gammaFixture([]GammaMarket{m})
	defer srv.Close()

	d := discoveryFor(t, srv, 10)
	out, err := d.Discover(context.Background(), func(string) bool { return false }, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if out[0].Question != m.Slug {
		t.Errorf("Question = %q, want slug fallback %q", out[0].Question, m.Slug)
	}
}
