package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-mm/internal/config"
)

// GammaMarket is the JSON shape returned by the Gamma metadata API.
type GammaMarket struct {
	ID              string `json:"id"`
	Question        string `json:"question"`
	ConditionID     string `json:"conditionId"`
	Slug            string `json:"slug"`
	Active          bool   `json:"active"`
	Closed          bool   `json:"closed"`
	AcceptingOrders bool   `json:"acceptingOrders"`
	EnableOrderBook bool   `json:"enableOrderBook"`
	Outcomes        string `json:"outcomes"`     // JSON-encoded array, e.g. ["Yes","No"]
	ClobTokenIds    string `json:"clobTokenIds"` // JSON-encoded array, same order as Outcomes
}

// Discovery periodically polls the Gamma API for tradable binary markets
// and reports newly found ones to the engine (spec.md §4.2).
type Discovery struct {
	httpClient *resty.Client
	cfg        config.StrategyConfig
	logger     *slog.Logger
}

// NewDiscovery creates a market discovery client pointed at the configured
// Gamma base URL.
func NewDiscovery(cfg config.Config, logger *slog.Logger) *Discovery {
	client := resty.New().
		SetBaseURL(cfg.Polymarket.GammaURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Discovery{
		httpClient: client,
		cfg:        cfg.Strategy,
		logger:     logger.With("component", "discovery"),
	}
}

// Candidate is a discovered binary market ready to be registered, with its
// outcomes already mapped to YES/NO token IDs in the order the source gave.
type Candidate struct {
	ConditionID string
	Slug        string
	Question    string
	YesTokenID  string
	NoTokenID   string
}

// Discover fetches the active, order-book-enabled market list and returns
// the subset that qualifies as a tracked binary market, skipping any whose
// condition ID is already known, and stopping once one more market would
// exceed the configured max_markets ceiling (currentCount + new finds <=
// cfg.MaxMarkets).
func (d *Discovery) Discover(ctx context.Context, known func(conditionID string) bool, currentCount int) ([]Candidate, error) {
	markets, err := d.fetchMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch gamma markets: %w", err)
	}

	var out []Candidate
	count := currentCount
	for _, m := range markets {
		if count >= d.cfg.MaxMarkets {
			break
		}
		if !m.AcceptingOrders || !m.EnableOrderBook {
			continue
		}
		if m.ConditionID == "" || known(m.ConditionID) {
			continue
		}

		var outcomes []string
		if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err != nil {
			continue
		}
		var tokenIDs []string
		if err := json.Unmarshal([]byte(m.ClobTokenIds), &tokenIDs); err != nil {
			continue
		}
		if len(outcomes) != 2 || len(tokenIDs) != 2 {
			continue
		}

		yesIdx, noIdx := -1, -1
		for i, o := range outcomes {
			switch o {
			case "Yes":
				yesIdx = i
			case "No":
				noIdx = i
			}
		}
		if yesIdx == -1 || noIdx == -1 {
			continue
		}

		question := m.Question
		if question == "" {
			question = m.Slug
		}

		out = append(out, Candidate{
			ConditionID: m.ConditionID,
			Slug:        m.Slug,
			Question:    question,
			YesTokenID:  tokenIDs[yesIdx],
			NoTokenID:   tokenIDs[noIdx],
		})
		count++
	}

	d.logger.Info("discovery complete", "fetched", len(markets), "new", len(out))
	return out, nil
}

func (d *Discovery) fetchMarkets(ctx context.Context) ([]GammaMarket, error) {
	var allMarkets []GammaMarket
	offset := 0
	limit := 100

	for {
		var page []GammaMarket
		resp, err := d.httpClient.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":  strconv.Itoa(limit),
				"offset": strconv.Itoa(offset),
				"active": "true",
				"closed": "false",
			}).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("fetch markets page %d: %w", offset, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("fetch markets: status %d", resp.StatusCode())
		}

		allMarkets = append(allMarkets, page...)

		if len(page) < limit {
			break
		}
		offset += limit
	}

	return allMarkets, nil
}
