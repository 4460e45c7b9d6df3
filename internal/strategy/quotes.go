// Package strategy turns live order books and current inventory into the
// desired resting quotes for a market. Position and PnL tracking from fills
// live in execution.Controller, not here.
//
// The core algorithm is the skew-ratio model: as a side's inventory
// approaches the configured limit, the spread widens and size shrinks on
// both sides, pushing the book back toward balance without ever quoting
// one side only.
package strategy

import (
	"math"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/market"
	"polymarket-mm/pkg/types"
)

// QuoteGenerator computes the desired resting orders for a market from its
// current books and inventory. Swappable so a future strategy (e.g. an
// arbitrage-aware generator) can be dropped in without touching the
// execution controller.
type QuoteGenerator interface {
	Quote(m *market.Market, yesBook, noBook *market.Snapshot, pos Position) (*types.DesiredQuote, bool)
}

// SkewQuoteGenerator is the reference implementation: inventory-aware
// two-sided quoting with spread widening and size shrinking as a side's
// position approaches the inventory limit.
type SkewQuoteGenerator struct {
	cfg config.StrategyConfig
}

// NewSkewQuoteGenerator creates a generator bound to the given strategy
// tuning parameters.
func NewSkewQuoteGenerator(cfg config.StrategyConfig) *SkewQuoteGenerator {
	return &SkewQuoteGenerator{cfg: cfg}
}

// Quote computes the four desired orders (YES-buy, YES-sell, NO-buy,
// NO-sell) for a market. Returns (nil, false) if either book lacks a mid
// price, or if the computed bid/ask would cross on either side.
func (g *SkewQuoteGenerator) Quote(m *market.Market, yesBook, noBook *market.Snapshot, pos Position) (*types.DesiredQuote, bool) {
	yesMid, ok := yesBook.Mid()
	if !ok {
		return nil, false
	}
	noMid, ok := noBook.Mid()
	if !ok {
		return nil, false
	}

	if g.cfg.MinLiquidityUSDC > 0 {
		yesLiquidity := math.Min(yesBook.BestBidSize(), yesBook.BestAskSize()) * yesMid
		noLiquidity := math.Min(noBook.BestBidSize(), noBook.BestAskSize()) * noMid
		if yesLiquidity < g.cfg.MinLiquidityUSDC || noLiquidity < g.cfg.MinLiquidityUSDC {
			return nil, false
		}
	}

	skew := math.Max(math.Abs(pos.YesQty), math.Abs(pos.NoQty))
	skewRatio := 0.0
	if g.cfg.InventoryLimit > 0 {
		skewRatio = math.Min(skew/g.cfg.InventoryLimit, 1.0)
	}
	spreadScale := 1.0 + skewRatio
	sizeScale := math.Max(0.2, 1.0-skewRatio)

	halfSpreadYes := (float64(g.cfg.QuoteSpreadBps) / 20000) * yesMid * spreadScale
	halfSpreadNo := (float64(g.cfg.QuoteSpreadBps) / 20000) * noMid * spreadScale

	yesBid := clampPrice(yesMid - halfSpreadYes)
	yesAsk := clampPrice(yesMid + halfSpreadYes)
	noBid := clampPrice(noMid - halfSpreadNo)
	noAsk := clampPrice(noMid + halfSpreadNo)

	if yesBid >= yesAsk || noBid >= noAsk {
		return nil, false
	}

	maxSize := math.Min(
		math.Min(yesBook.BestBidSize(), yesBook.BestAskSize()),
		math.Min(noBook.BestBidSize(), noBook.BestAskSize()),
	) * sizeScale
	if maxSize <= 0 {
		return nil, false
	}
	if g.cfg.MaxOrderSizeUSDC > 0 {
		maxNotional := g.cfg.MaxOrderSizeUSDC
		maxSize = math.Min(maxSize, maxNotional/math.Max(yesMid, 0.01))
	}

	orders := []types.QuoteOrder{
		{TokenID: m.YesTokenID, Outcome: types.Yes, Side: types.BUY, Price: yesBid, Size: maxSize},
		{TokenID: m.YesTokenID, Outcome: types.Yes, Side: types.SELL, Price: yesAsk, Size: maxSize},
		{TokenID: m.NoTokenID, Outcome: types.No, Side: types.BUY, Price: noBid, Size: maxSize},
		{TokenID: m.NoTokenID, Outcome: types.No, Side: types.SELL, Price: noAsk, Size: maxSize},
	}

	return &types.DesiredQuote{
		MarketID:    m.MarketID,
		ConditionID: m.ConditionID,
		SpreadBps:   float64(g.cfg.QuoteSpreadBps) * spreadScale,
		MidYes:      yesMid,
		MidNo:       noMid,
		MaxSize:     maxSize,
		Orders:      orders,
		GeneratedAt: time.Now(),
	}, true
}

// clampPrice bounds a price to Polymarket's valid [0.01, 0.99] range and
// rounds to three decimals (the minimum CLOB tick for most markets).
func clampPrice(p float64) float64 {
	if p < 0.01 {
		p = 0.01
	}
	if p > 0.99 {
		p = 0.99
	}
	return math.Round(p*1000) / 1000
}
