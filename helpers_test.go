package gobtcmini

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

var testEpoch = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func jsonResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

// routeTransport answers requests by URL path and counts calls per path.
type routeTransport struct {
	mu     sync.Mutex
	routes map[string]func(*http.Request) (*http.Response, error)
	calls  map[string]int
}

func newRouteTransport() *routeTransport {
	return &routeTransport{
		routes: make(map[string]func(*http.Request) (*http.Response, error)),
		calls:  make(map[string]int),
	}
}

func (t *routeTransport) handle(path string, status int, body string) {
	t.handleFunc(path, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(req, status, body), nil
	})
}

func (t *routeTransport) handleFunc(path string, fn func(*http.Request) (*http.Response, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[path] = fn
}

func (t *routeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	t.calls[req.URL.Path]++
	fn, ok := t.routes[req.URL.Path]
	t.mu.Unlock()
	if !ok {
		return jsonResponse(req, http.StatusNotFound, `{"error":"no route"}`), nil
	}
	return fn(req)
}

func (t *routeTransport) count(path string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[path]
}

func (t *routeTransport) total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.calls {
		n += c
	}
	return n
}

// newTestFetcher returns a fetcher with a single attempt and no waiting.
func newTestFetcher(rt http.RoundTripper, c clock.Clock) *Fetcher {
	cfg := DefaultFetchConfig()
	cfg.MaxRetries = 0
	return &Fetcher{
		HTTPClient: &http.Client{Transport: rt},
		Gate:       NewRateLimitGate(c),
		Clock:      c,
		Logger:     NewDiscardLogger(),
		Config:     cfg,
	}
}
