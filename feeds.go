package gobtcmini

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

const (
	defaultFeedCacheTimeout      = 5 * time.Minute
	defaultFeedMinUpdateInterval = 30 * time.Second
	defaultFeedPollInterval      = time.Minute
	defaultFeedMaxRetries        = 1
)

// FeedConfig throttles a single-resource feed.
type FeedConfig struct {
	MinUpdateInterval time.Duration `yaml:"min_update_interval"`
	CacheTimeout      time.Duration `yaml:"cache_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxRetries        int           `yaml:"max_retries"`
}

// DefaultFeedConfig returns the production feed throttling.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		MinUpdateInterval: defaultFeedMinUpdateInterval,
		CacheTimeout:      defaultFeedCacheTimeout,
		PollInterval:      defaultFeedPollInterval,
		MaxRetries:        defaultFeedMaxRetries,
	}
}

// FeedError wraps a failed feed refresh. The previous cache is kept.
type FeedError struct {
	Feed string
	Err  error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("%s feed: %v", e.Feed, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// feedState holds the cache and throttling bookkeeping shared by the feeds.
type feedState[T any] struct {
	name  string
	gate  *RateLimitGate
	clock clock.Clock
	cfg   FeedConfig

	mu        sync.Mutex
	data      *T
	storedAt  time.Time
	lastFetch time.Time
}

func newFeedState[T any](name string, gate *RateLimitGate, c clock.Clock, cfg FeedConfig) *feedState[T] {
	if c == nil {
		c = clock.NewDefaultClock()
	}
	return &feedState[T]{name: name, gate: gate, clock: c, cfg: cfg}
}

// refresh applies the feed policy. Unforced calls return the cache while the
// gate is closed, nil inside the minimum update interval and the cache while
// it is fresh; everything else goes to fetch.
func (s *feedState[T]) refresh(ctx context.Context, force bool, fetch func(context.Context) (*T, error)) (*T, error) {
	if !force {
		s.mu.Lock()
		now := s.clock.Now()
		switch {
		case s.gate.IsGated():
			data := s.snapshotLocked()
			s.mu.Unlock()
			return data, nil
		case !s.lastFetch.IsZero() && now.Sub(s.lastFetch) < s.cfg.MinUpdateInterval:
			s.mu.Unlock()
			return nil, nil
		case s.data != nil && now.Sub(s.storedAt) < s.cfg.CacheTimeout:
			data := s.snapshotLocked()
			s.mu.Unlock()
			return data, nil
		}
		s.mu.Unlock()
	}

	data, err := fetch(ctx)
	if err != nil {
		return nil, &FeedError{Feed: s.name, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	s.data = data
	s.storedAt = now
	s.lastFetch = now
	return s.snapshotLocked(), nil
}

// cached returns the last stored value regardless of age.
func (s *feedState[T]) cached() *T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *feedState[T]) snapshotLocked() *T {
	if s.data == nil {
		return nil
	}
	clone := *s.data
	return &clone
}
