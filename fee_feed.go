package gobtcmini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

const defaultFeesBaseURL = "https://mempool.space/api"

// FeeCategory buckets a fee rate in sat/vB.
type FeeCategory string

const (
	FeeVeryLow  FeeCategory = "very_low"
	FeeLow      FeeCategory = "low"
	FeeMedium   FeeCategory = "medium"
	FeeHigh     FeeCategory = "high"
	FeeVeryHigh FeeCategory = "very_high"
)

// FeeThresholds are the category bounds in sat/vB. VeryLow and Low are
// exclusive upper bounds, Medium and High inclusive.
type FeeThresholds struct {
	VeryLow float64 `yaml:"very_low"`
	Low     float64 `yaml:"low"`
	Medium  float64 `yaml:"medium"`
	High    float64 `yaml:"high"`
}

// DefaultFeeThresholds returns the 5/10/50/100 sat/vB bands.
func DefaultFeeThresholds() FeeThresholds {
	return FeeThresholds{VeryLow: 5, Low: 10, Medium: 50, High: 100}
}

// Categorize places rate into a band.
func (t FeeThresholds) Categorize(rate float64) FeeCategory {
	switch {
	case rate < t.VeryLow:
		return FeeVeryLow
	case rate < t.Low:
		return FeeLow
	case rate <= t.Medium:
		return FeeMedium
	case rate <= t.High:
		return FeeHigh
	default:
		return FeeVeryHigh
	}
}

// FeeTier is one fee estimate and its category.
type FeeTier struct {
	SatPerVByte float64     `json:"satPerVByte"`
	Category    FeeCategory `json:"category"`
}

// FeeData holds the recommended fee tiers.
type FeeData struct {
	Fastest   FeeTier   `json:"fastest"`
	Hour      FeeTier   `json:"hour"`
	Economy   FeeTier   `json:"economy"`
	HalfHour  float64   `json:"halfHour"`
	Minimum   float64   `json:"minimum"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// FeeFeed polls the recommended fee endpoint.
type FeeFeed struct {
	BaseURL    string
	Thresholds FeeThresholds
	fetcher    *Fetcher
	state      *feedState[FeeData]
	cfg        FeedConfig
	clock      clock.Clock
}

// NewFeeFeed returns a fee feed reading {baseURL}/v1/fees/recommended.
func NewFeeFeed(baseURL string, thresholds FeeThresholds, fetcher *Fetcher, gate *RateLimitGate, cfg FeedConfig, c clock.Clock) *FeeFeed {
	if c == nil {
		c = clock.NewDefaultClock()
	}
	if baseURL == "" {
		baseURL = defaultFeesBaseURL
	}
	return &FeeFeed{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Thresholds: thresholds,
		fetcher:    fetcher,
		state:      newFeedState[FeeData]("fees", gate, c, cfg),
		cfg:        cfg,
		clock:      c,
	}
}

// RefreshIfNeeded follows the same policy as PriceFeed.RefreshIfNeeded.
func (f *FeeFeed) RefreshIfNeeded(ctx context.Context, force bool) (*FeeData, error) {
	return f.state.refresh(ctx, force, f.fetch)
}

// Cached returns the last fetched fees, if any.
func (f *FeeFeed) Cached() *FeeData {
	return f.state.cached()
}

func (f *FeeFeed) fetch(ctx context.Context) (*FeeData, error) {
	endpoint := f.BaseURL + "/v1/fees/recommended"
	body, err := f.fetcher.Fetch(ctx, endpoint, f.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	fees, err := parseRecommendedFees(body)
	if err != nil {
		return nil, newSchemaError(endpoint, err)
	}
	return &FeeData{
		Fastest:   f.tier(fees.FastestFee),
		Hour:      f.tier(fees.HourFee),
		Economy:   f.tier(fees.EconomyFee),
		HalfHour:  fees.HalfHourFee,
		Minimum:   fees.MinimumFee,
		FetchedAt: f.clock.Now(),
	}, nil
}

func (f *FeeFeed) tier(rate float64) FeeTier {
	return FeeTier{SatPerVByte: rate, Category: f.Thresholds.Categorize(rate)}
}

type recommendedFees struct {
	FastestFee  float64
	HalfHourFee float64
	HourFee     float64
	EconomyFee  float64
	MinimumFee  float64
}

func parseRecommendedFees(data []byte) (recommendedFees, error) {
	var raw struct {
		FastestFee  *float64 `json:"fastestFee"`
		HalfHourFee float64  `json:"halfHourFee"`
		HourFee     *float64 `json:"hourFee"`
		EconomyFee  *float64 `json:"economyFee"`
		MinimumFee  float64  `json:"minimumFee"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return recommendedFees{}, fmt.Errorf("decode fees: %w", err)
	}
	if raw.FastestFee == nil || raw.HourFee == nil || raw.EconomyFee == nil {
		return recommendedFees{}, errors.New("fees response missing fastestFee, hourFee or economyFee")
	}
	return recommendedFees{
		FastestFee:  *raw.FastestFee,
		HalfHourFee: raw.HalfHourFee,
		HourFee:     *raw.HourFee,
		EconomyFee:  *raw.EconomyFee,
		MinimumFee:  raw.MinimumFee,
	}, nil
}
