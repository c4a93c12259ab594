package gobtcmini

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRateLimiterWaitsWhenRateExceeded(t *testing.T) {
	t.Parallel()

	limiter := rate.NewLimiter(2, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("wait failed: %v", err)
		}
	}
	elapsed := time.Since(start)

	minExpected := 900 * time.Millisecond
	if elapsed < minExpected {
		t.Fatalf("expected at least %v of throttling, got %v", minExpected, elapsed)
	}
}

func TestRateLimitedTransportInvokesLimiter(t *testing.T) {
	t.Parallel()

	limiter := &stubLimiter{}
	transport := &RateLimitedTransport{
		Limiter: limiter,
		Base: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     make(http.Header),
				Body:       io.NopCloser(strings.NewReader("ok")),
				Request:    req,
			}, nil
		}),
	}

	client := &http.Client{Transport: transport}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://example.com", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("client request failed: %v", err)
	}
	resp.Body.Close()

	if got := limiter.Calls(); got != 1 {
		t.Fatalf("expected limiter to be invoked once, got %d", got)
	}
}

func TestRateLimitedTransportStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	called := false
	transport := &RateLimitedTransport{
		Limiter: &stubLimiter{},
		Base: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			called = true
			return nil, nil
		}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.com", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}

	if _, err := transport.RoundTrip(req); err == nil {
		t.Fatalf("expected cancelled context to abort the request")
	}
	if called {
		t.Fatalf("base transport should not run after limiter failure")
	}
}

func TestLimiterForHostSharesLimiters(t *testing.T) {
	t.Parallel()

	first := limiterForHost("blockstream.info")
	if first == nil {
		t.Fatalf("expected limiter for known host")
	}
	if second := limiterForHost("blockstream.info"); second != first {
		t.Fatalf("expected shared limiter instance per host")
	}
	if limiterForHost("example.com") != nil {
		t.Fatalf("unknown hosts should not be throttled")
	}
	if limiterForHost("") != nil {
		t.Fatalf("empty host should not be throttled")
	}
}

type stubLimiter struct {
	mu    sync.Mutex
	calls int
}

func (s *stubLimiter) Wait(ctx context.Context) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return ctx.Err()
}

func (s *stubLimiter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
