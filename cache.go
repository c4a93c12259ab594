package gobtcmini

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	defaultBalanceCacheMaxEntries = 500
	defaultBalanceCacheTTL        = defaultFeedCacheTimeout
	defaultTxCacheMaxEntries      = 3000
	defaultTxCacheTTL             = 6 * time.Hour
)

// CacheConfig sizes the in-memory caches. Cache contents are never persisted.
type CacheConfig struct {
	BalanceMaxEntries      int           `yaml:"balance_max_entries"`
	BalanceTTL             time.Duration `yaml:"balance_ttl"`
	TransactionsMaxEntries int           `yaml:"transactions_max_entries"`
	TransactionsTTL        time.Duration `yaml:"transactions_ttl"`
}

// DefaultCacheConfig returns the production cache sizes.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		BalanceMaxEntries:      defaultBalanceCacheMaxEntries,
		BalanceTTL:             defaultBalanceCacheTTL,
		TransactionsMaxEntries: defaultTxCacheMaxEntries,
		TransactionsTTL:        defaultTxCacheTTL,
	}
}

type cacheEntry[V any] struct {
	value    V
	storedAt time.Time
}

// ttlCache is a bounded LRU whose entries expire ttl after being stored.
type ttlCache[V any] struct {
	ttl   time.Duration
	clock clock.Clock
	mu    sync.Mutex
	store *lru.Cache[string, cacheEntry[V]]
}

// newTTLCache returns nil when maxEntries is not positive; a nil cache
// never hits.
func newTTLCache[V any](maxEntries int, ttl time.Duration, c clock.Clock) *ttlCache[V] {
	if maxEntries <= 0 {
		return nil
	}
	if c == nil {
		c = clock.NewDefaultClock()
	}
	store, err := lru.New[string, cacheEntry[V]](maxEntries)
	if err != nil {
		return nil
	}
	return &ttlCache[V]{
		ttl:   ttl,
		clock: c,
		store: store,
	}
}

func (c *ttlCache[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil || key == "" {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.store.Get(key)
	if !ok {
		return zero, false
	}
	if c.ttl > 0 && c.clock.Now().Sub(entry.storedAt) >= c.ttl {
		c.store.Remove(key)
		return zero, false
	}
	return entry.value, true
}

func (c *ttlCache[V]) Add(key string, value V) {
	if c == nil || key == "" {
		return
	}
	c.mu.Lock()
	c.store.Add(key, cacheEntry[V]{value: value, storedAt: c.clock.Now()})
	c.mu.Unlock()
}

func (c *ttlCache[V]) Remove(key string) {
	if c == nil || key == "" {
		return
	}
	c.mu.Lock()
	c.store.Remove(key)
	c.mu.Unlock()
}

func (c *ttlCache[V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Len()
}
