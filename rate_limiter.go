package gobtcmini

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is a minimal interface implemented by rate limiters.
type Limiter interface {
	Wait(ctx context.Context) error
}

// RateLimitedTransport paces outgoing requests. A fixed Limiter applies to
// every request; without one, a shared per-host limiter is looked up.
type RateLimitedTransport struct {
	Limiter Limiter
	Base    http.RoundTripper
}

// RoundTrip waits for the limiter before delegating to the base transport.
func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	limiter := t.Limiter
	if limiter == nil {
		limiter = limiterForHost(req.URL.Hostname())
	}
	if limiter != nil {
		if err := limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return t.base().RoundTrip(req)
}

func (t *RateLimitedTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

type rateLimitConfig struct {
	rate  rate.Limit
	burst int
}

// Public providers throttle aggressively; stay below their documented limits.
var (
	defaultLimiterRegistry = newLimiterRegistry()
	rateLimitConfigs       = map[string]rateLimitConfig{
		"api.coingecko.com": {rate: 0.5, burst: 3},
		"blockstream.info":  {rate: 5, burst: 10},
		"mempool.space":     {rate: 5, burst: 10},
	}
)

type limiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]Limiter
}

func newLimiterRegistry() *limiterRegistry {
	return &limiterRegistry{
		limiters: make(map[string]Limiter),
	}
}

func (r *limiterRegistry) get(key string, factory func() Limiter) Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, ok := r.limiters[key]; ok {
		return limiter
	}
	limiter := factory()
	if limiter != nil {
		r.limiters[key] = limiter
	}
	return limiter
}

func limiterForHost(host string) Limiter {
	if host == "" {
		return nil
	}
	cfg, ok := rateLimitConfigs[host]
	if !ok {
		return nil
	}
	return defaultLimiterRegistry.get(host, func() Limiter {
		return rate.NewLimiter(cfg.rate, cfg.burst)
	})
}
