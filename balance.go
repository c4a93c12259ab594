package gobtcmini

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"golang.org/x/sync/singleflight"
)

// BalanceErrorType explains why no provider produced a balance.
type BalanceErrorType string

const (
	BalanceErrorAddressNotRecognized BalanceErrorType = "address_not_recognized"
	BalanceErrorAPIUnavailable       BalanceErrorType = "api_unavailable"
)

const (
	msgAddressNotRecognized = "Address not recognized by blockchain APIs"
	msgAPIUnavailable       = "Blockchain APIs are temporarily unavailable"
)

// BalanceResult is the outcome of resolving one address balance.
type BalanceResult struct {
	BalanceBTC   float64          `json:"balanceBtc"`
	Status       APIStatus        `json:"status"`
	Source       string           `json:"source,omitempty"`
	ErrorType    BalanceErrorType `json:"errorType,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
}

// sharedBalanceLookupTimeout bounds a lookup joined by several callers.
const sharedBalanceLookupTimeout = time.Minute

var balanceLogger = NewLogger("balance")

// BalanceResolver answers address balances from a primary explorer, falling
// back to a secondary one. Successful answers are cached per address.
type BalanceResolver struct {
	primary   Explorer
	secondary Explorer
	cache     *ttlCache[BalanceResult]
	logger    Logger
	inflight  singleflight.Group
}

// NewBalanceResolver builds a resolver. secondary may be nil. Cache entries
// live for ttl.
func NewBalanceResolver(primary, secondary Explorer, maxEntries int, ttl time.Duration, c clock.Clock, logger Logger) *BalanceResolver {
	if logger == nil {
		logger = balanceLogger
	}
	return &BalanceResolver{
		primary:   primary,
		secondary: secondary,
		cache:     newTTLCache[BalanceResult](maxEntries, ttl, c),
		logger:    logger,
	}
}

// Resolve returns the balance of address. Failures are reported in the
// result, never as an error. force skips the cache.
func (r *BalanceResolver) Resolve(ctx context.Context, address string, force bool) BalanceResult {
	if !force {
		if cached, ok := r.cache.Get(address); ok {
			return cached
		}
		// Concurrent unforced lookups for one address share a single request.
		// The shared lookup outlives any one caller's cancellation.
		results := r.inflight.DoChan(address, func() (any, error) {
			lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedBalanceLookupTimeout)
			defer cancel()
			return r.resolve(lookupCtx, address), nil
		})
		select {
		case res := <-results:
			return res.Val.(BalanceResult)
		case <-ctx.Done():
			return unavailableBalance()
		}
	}
	return r.resolve(ctx, address)
}

// Invalidate drops the cached balance of address.
func (r *BalanceResolver) Invalidate(address string) {
	r.cache.Remove(address)
}

func (r *BalanceResolver) resolve(ctx context.Context, address string) BalanceResult {
	primaryErr := errors.New("no primary provider configured")
	if r.primary != nil {
		result, err := r.query(ctx, r.primary, address)
		if err == nil {
			r.cache.Add(address, result)
			return result
		}
		primaryErr = err
		r.logger.Printf("primary provider failed address=%s provider=%s error=%v", address, r.primary.Name(), err)
	}

	secondaryErr := errors.New("no secondary provider configured")
	if r.secondary != nil && ctx.Err() == nil {
		result, err := r.query(ctx, r.secondary, address)
		if err == nil {
			r.cache.Add(address, result)
			return result
		}
		secondaryErr = err
		r.logger.Printf("secondary provider failed address=%s provider=%s error=%v", address, r.secondary.Name(), err)
	}

	if isClientStatus(primaryErr) && isClientStatus(secondaryErr) {
		return BalanceResult{
			Status:       APIStatusError,
			ErrorType:    BalanceErrorAddressNotRecognized,
			ErrorMessage: msgAddressNotRecognized,
		}
	}
	return unavailableBalance()
}

func unavailableBalance() BalanceResult {
	return BalanceResult{
		Status:       APIStatusError,
		ErrorType:    BalanceErrorAPIUnavailable,
		ErrorMessage: msgAPIUnavailable,
	}
}

func (r *BalanceResolver) query(ctx context.Context, provider Explorer, address string) (BalanceResult, error) {
	summary, err := provider.AddressSummary(ctx, address)
	if err != nil {
		return BalanceResult{}, err
	}
	return BalanceResult{
		BalanceBTC: satsToBTC(summary.BalanceSats()),
		Status:     APIStatusSuccess,
		Source:     provider.Name(),
	}, nil
}

// isClientStatus reports an HTTP 4xx answer other than 429.
func isClientStatus(err error) bool {
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		return false
	}
	return fetchErr.Kind == ErrorClient &&
		fetchErr.Status >= http.StatusBadRequest &&
		fetchErr.Status < http.StatusInternalServerError
}
