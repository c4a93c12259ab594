package gobtcmini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

const (
	defaultPriceBaseURL = "https://api.coingecko.com/api/v3"
	defaultCurrency     = "usd"

	// Changes inside ±trendDeadZone percent are reported as neutral.
	trendDeadZone = 0.01
)

// Trend is the direction of the year-over-year price change.
type Trend string

const (
	TrendUp      Trend = "up"
	TrendDown    Trend = "down"
	TrendNeutral Trend = "neutral"
)

// PriceData is a BTC spot price with its year-over-year change.
type PriceData struct {
	Price     float64   `json:"price"`
	Currency  string    `json:"currency"`
	YoYChange float64   `json:"yoyChange"`
	HasYoY    bool      `json:"hasYoy"`
	Trend     Trend     `json:"trend"`
	FetchedAt time.Time `json:"fetchedAt"`
}

var priceLogger = NewLogger("price-feed")

// PriceFeed polls the BTC spot price and its 365-day history.
type PriceFeed struct {
	BaseURL  string
	Currency string
	fetcher  *Fetcher
	state    *feedState[PriceData]
	cfg      FeedConfig
	clock    clock.Clock
	logger   Logger
}

// NewPriceFeed returns a feed quoting BTC in currency.
func NewPriceFeed(baseURL, currency string, fetcher *Fetcher, gate *RateLimitGate, cfg FeedConfig, c clock.Clock) *PriceFeed {
	if c == nil {
		c = clock.NewDefaultClock()
	}
	if baseURL == "" {
		baseURL = defaultPriceBaseURL
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = defaultCurrency
	}
	return &PriceFeed{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Currency: currency,
		fetcher:  fetcher,
		state:    newFeedState[PriceData]("price", gate, c, cfg),
		cfg:      cfg,
		clock:    c,
		logger:   priceLogger,
	}
}

// RefreshIfNeeded returns fresh or cached price data, or nil when the call
// was throttled and the caller should keep its current display.
func (p *PriceFeed) RefreshIfNeeded(ctx context.Context, force bool) (*PriceData, error) {
	return p.state.refresh(ctx, force, p.fetch)
}

// Cached returns the last fetched price, if any.
func (p *PriceFeed) Cached() *PriceData {
	return p.state.cached()
}

func (p *PriceFeed) fetch(ctx context.Context) (*PriceData, error) {
	spotURL := fmt.Sprintf("%s/simple/price?ids=bitcoin&vs_currencies=%s", p.BaseURL, url.QueryEscape(p.Currency))
	body, err := p.fetcher.Fetch(ctx, spotURL, p.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	price, err := parseSpotPrice(body, p.Currency)
	if err != nil {
		return nil, newSchemaError(spotURL, err)
	}

	data := &PriceData{
		Price:     price,
		Currency:  p.Currency,
		Trend:     TrendNeutral,
		FetchedAt: p.clock.Now(),
	}

	historyURL := fmt.Sprintf("%s/coins/bitcoin/market_chart?vs_currency=%s&days=365&interval=daily", p.BaseURL, url.QueryEscape(p.Currency))
	historyBody, err := p.fetcher.Fetch(ctx, historyURL, p.cfg.MaxRetries)
	if err != nil {
		p.logger.Printf("price history unavailable currency=%s error=%v", p.Currency, err)
		return data, nil
	}
	yearAgo, err := parseYearAgoPrice(historyBody)
	if err != nil {
		p.logger.Printf("price history malformed currency=%s error=%v", p.Currency, err)
		return data, nil
	}
	if change, ok := yoyChange(price, yearAgo); ok {
		data.YoYChange = change
		data.HasYoY = true
		data.Trend = classifyTrend(change)
	}
	return data, nil
}

// yoyChange returns the percentage change from yearAgo to current.
func yoyChange(current, yearAgo float64) (float64, bool) {
	if yearAgo <= 0 {
		return 0, false
	}
	return ((current - yearAgo) / yearAgo) * 100, true
}

func classifyTrend(change float64) Trend {
	switch {
	case change > trendDeadZone:
		return TrendUp
	case change < -trendDeadZone:
		return TrendDown
	default:
		return TrendNeutral
	}
}

func parseSpotPrice(data []byte, currency string) (float64, error) {
	var payload map[string]map[string]float64
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, fmt.Errorf("decode spot price: %w", err)
	}
	price, ok := payload["bitcoin"][currency]
	if !ok {
		return 0, fmt.Errorf("spot price missing bitcoin.%s", currency)
	}
	if price <= 0 {
		return 0, fmt.Errorf("spot price %v is not positive", price)
	}
	return price, nil
}

// parseYearAgoPrice returns the earliest point of a market_chart series.
func parseYearAgoPrice(data []byte) (float64, error) {
	var payload struct {
		Prices [][]float64 `json:"prices"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, fmt.Errorf("decode price history: %w", err)
	}
	if len(payload.Prices) == 0 {
		return 0, errors.New("price history is empty")
	}
	first := payload.Prices[0]
	if len(first) < 2 {
		return 0, errors.New("price history point is malformed")
	}
	return first[1], nil
}
