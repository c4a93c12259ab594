package gobtcmini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

const (
	defaultHTTPTimeout       = 15 * time.Second
	defaultFetchMaxRetries   = 2
	defaultBackoffBase       = time.Second
	defaultBackoffCap        = 10 * time.Second
	defaultRateLimitCooldown = time.Minute
	maxResponseBodyBytes     = 4 << 20
	userAgent                = "btcmini/1.0"
)

var fetcherLogger = NewLogger("fetcher")

// FetchConfig tunes the retry policy of a Fetcher.
type FetchConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffCap        time.Duration `yaml:"backoff_cap"`
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
}

// DefaultFetchConfig returns the production retry policy.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		MaxRetries:        defaultFetchMaxRetries,
		BackoffBase:       defaultBackoffBase,
		BackoffCap:        defaultBackoffCap,
		RateLimitCooldown: defaultRateLimitCooldown,
		HTTPTimeout:       defaultHTTPTimeout,
	}
}

// Fetcher performs GET requests with bounded retries and error
// classification. A 429 response triggers the shared RateLimitGate.
type Fetcher struct {
	HTTPClient *http.Client
	Gate       *RateLimitGate
	Clock      clock.Clock
	Logger     Logger
	Config     FetchConfig
}

func (f *Fetcher) logger() Logger {
	if f != nil && f.Logger != nil {
		return f.Logger
	}
	return fetcherLogger
}

func (f *Fetcher) clock() clock.Clock {
	if f.Clock != nil {
		return f.Clock
	}
	return clock.NewDefaultClock()
}

func (f *Fetcher) httpClient() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}

// Fetch issues a GET for url and returns the response body of the first 2xx
// answer. maxRetries < 0 uses the configured default; the request is tried
// maxRetries+1 times at most.
func (f *Fetcher) Fetch(ctx context.Context, url string, maxRetries int) ([]byte, error) {
	if maxRetries < 0 {
		maxRetries = f.Config.MaxRetries
	}

	var lastErr *FetchError
	for attempt := 0; attempt <= maxRetries; attempt++ {
		body, fetchErr := f.attempt(ctx, url)
		if fetchErr == nil {
			recordFetchAttempt("")
			return body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, ctxErr)
		}

		recordFetchAttempt(fetchErr.Kind)
		f.logger().Printf("fetch failed url=%s attempt=%d/%d kind=%s status=%d error=%v",
			url, attempt+1, maxRetries+1, fetchErr.Kind, fetchErr.Status, fetchErr.Err)
		lastErr = fetchErr

		if !fetchErr.Retryable() {
			return nil, fetchErr
		}

		delay := f.backoff(attempt)
		if fetchErr.Kind == ErrorRateLimit {
			delay = f.rateLimitDelay(fetchErr)
			f.Gate.Trigger(delay)
		}
		if attempt == maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("fetch %s: %w", url, ctx.Err())
		case <-f.clock().TickAfter(delay):
		}

		// Another request tripped the gate while this one was backing off.
		if fetchErr.Kind != ErrorRateLimit && f.Gate.IsGated() {
			f.logger().Printf("fetch abandoned url=%s attempt=%d/%d reason=rate_limited",
				url, attempt+1, maxRetries+1)
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// retryAfterHint carries a parsed Retry-After header out of attempt.
type retryAfterHint struct {
	delay time.Duration
}

func (h *retryAfterHint) Error() string {
	return fmt.Sprintf("retry after %s", h.delay)
}

func (f *Fetcher) attempt(ctx context.Context, url string) ([]byte, *FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: ErrorUnknown, URL: url, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient().Do(req)
	if err != nil {
		return nil, &FetchError{Kind: ErrorNetwork, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
		if err != nil {
			return nil, &FetchError{Kind: ErrorNetwork, URL: url, Err: fmt.Errorf("read body: %w", err)}
		}
		return body, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	fetchErr := &FetchError{
		Kind:   classifyStatus(resp.StatusCode),
		Status: resp.StatusCode,
		URL:    url,
		Err:    errors.New(strings.TrimSpace(string(snippet))),
	}
	if fetchErr.Kind == ErrorRateLimit {
		if delay, ok := retryAfterDelay(resp.Header.Get("Retry-After"), f.clock().Now()); ok {
			fetchErr.Err = &retryAfterHint{delay: delay}
		}
	}
	return nil, fetchErr
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorRateLimit
	case status >= 500:
		return ErrorServer
	case status >= 400:
		return ErrorClient
	default:
		return ErrorUnknown
	}
}

// backoff returns min(base * 2^attempt, cap).
func (f *Fetcher) backoff(attempt int) time.Duration {
	base := f.Config.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	limit := f.Config.BackoffCap
	if limit <= 0 {
		limit = defaultBackoffCap
	}
	if attempt > 30 {
		return limit
	}
	delay := base * time.Duration(1<<attempt)
	if delay > limit || delay <= 0 {
		return limit
	}
	return delay
}

func (f *Fetcher) rateLimitDelay(fetchErr *FetchError) time.Duration {
	cooldown := f.Config.RateLimitCooldown
	if cooldown <= 0 {
		cooldown = defaultRateLimitCooldown
	}
	var hint *retryAfterHint
	if errors.As(fetchErr.Err, &hint) && hint.delay > cooldown {
		return hint.delay
	}
	return cooldown
}

func retryAfterDelay(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.ParseFloat(value, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second)), true
	}

	if when, err := http.ParseTime(value); err == nil {
		delay := max(when.Sub(now), 0)
		return delay, true
	}

	return 0, false
}

// newHTTPClient returns a client that paces requests per upstream host and
// counts response codes.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &RateLimitedTransport{
			Base: &metricsTransport{
				Base:    http.DefaultTransport,
				Counter: externalResponseCounts,
			},
		},
	}
}
