package gobtcmini

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

func newTestBalanceResolver(primary, secondary Explorer, c clock.Clock) *BalanceResolver {
	return NewBalanceResolver(primary, secondary, 16, time.Minute, c, NewDiscardLogger())
}

func TestBalanceResolverComputesBalance(t *testing.T) {
	t.Parallel()

	primary := newStubExplorer("blockstream")
	primary.summaries[testAddress] = &AddressSummary{
		ChainStats:   TxoStats{FundedTxoSum: 150_000_000, SpentTxoSum: 50_000_000},
		MempoolStats: TxoStats{FundedTxoSum: 25_000_000},
	}
	resolver := newTestBalanceResolver(primary, nil, clock.NewTestClock(testEpoch))

	result := resolver.Resolve(context.Background(), testAddress, false)
	require.Equal(t, APIStatusSuccess, result.Status)
	require.Equal(t, 1.25, result.BalanceBTC)
	require.Equal(t, "blockstream", result.Source)
	require.Empty(t, result.ErrorType)
}

func TestBalanceResolverClampsNegativeBalance(t *testing.T) {
	t.Parallel()

	primary := newStubExplorer("blockstream")
	primary.summaries[testAddress] = &AddressSummary{
		ChainStats:   TxoStats{FundedTxoSum: 1000, SpentTxoSum: 1000},
		MempoolStats: TxoStats{SpentTxoSum: 500},
	}
	resolver := newTestBalanceResolver(primary, nil, clock.NewTestClock(testEpoch))

	result := resolver.Resolve(context.Background(), testAddress, false)
	require.Equal(t, APIStatusSuccess, result.Status)
	require.Zero(t, result.BalanceBTC)
}

func TestBalanceResolverFallsBackToSecondary(t *testing.T) {
	t.Parallel()

	primary := newStubExplorer("blockstream")
	primary.summaryErr = &FetchError{Kind: ErrorServer, Status: http.StatusServiceUnavailable}
	secondary := newStubExplorer("mempool")
	secondary.summaries[testAddress] = &AddressSummary{ChainStats: TxoStats{FundedTxoSum: 1}}
	resolver := newTestBalanceResolver(primary, secondary, clock.NewTestClock(testEpoch))

	result := resolver.Resolve(context.Background(), testAddress, false)
	require.Equal(t, APIStatusSuccess, result.Status)
	require.Equal(t, 0.00000001, result.BalanceBTC)
	require.Equal(t, "mempool", result.Source)
}

func TestBalanceResolverClassifiesFailures(t *testing.T) {
	t.Parallel()

	badRequest := &FetchError{Kind: ErrorClient, Status: http.StatusBadRequest}
	notFound := &FetchError{Kind: ErrorClient, Status: http.StatusNotFound}
	server := &FetchError{Kind: ErrorServer, Status: http.StatusInternalServerError}
	network := &FetchError{Kind: ErrorNetwork, Err: errors.New("dial tcp: connection refused")}
	limited := &FetchError{Kind: ErrorRateLimit, Status: http.StatusTooManyRequests}
	schema := newSchemaError("http://explorer.test", errors.New("missing chain_stats"))

	tests := []struct {
		name      string
		primary   error
		secondary error
		want      BalanceErrorType
		message   string
	}{
		{name: "both client errors", primary: badRequest, secondary: notFound, want: BalanceErrorAddressNotRecognized, message: msgAddressNotRecognized},
		{name: "server and network", primary: server, secondary: network, want: BalanceErrorAPIUnavailable, message: msgAPIUnavailable},
		{name: "client and server", primary: badRequest, secondary: server, want: BalanceErrorAPIUnavailable, message: msgAPIUnavailable},
		{name: "rate limited", primary: limited, secondary: badRequest, want: BalanceErrorAPIUnavailable, message: msgAPIUnavailable},
		{name: "malformed payload", primary: schema, secondary: badRequest, want: BalanceErrorAPIUnavailable, message: msgAPIUnavailable},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			primary := newStubExplorer("blockstream")
			primary.summaryErr = tt.primary
			secondary := newStubExplorer("mempool")
			secondary.summaryErr = tt.secondary
			resolver := newTestBalanceResolver(primary, secondary, clock.NewTestClock(testEpoch))

			result := resolver.Resolve(context.Background(), testAddress, false)
			require.Equal(t, APIStatusError, result.Status)
			require.Equal(t, tt.want, result.ErrorType)
			require.Equal(t, tt.message, result.ErrorMessage)
			require.Zero(t, result.BalanceBTC)
		})
	}
}

func TestBalanceResolverCachesSuccesses(t *testing.T) {
	t.Parallel()

	testClock := clock.NewTestClock(testEpoch)
	primary := newStubExplorer("blockstream")
	primary.summaries[testAddress] = &AddressSummary{ChainStats: TxoStats{FundedTxoSum: 100_000_000}}
	resolver := newTestBalanceResolver(primary, nil, testClock)
	ctx := context.Background()

	first := resolver.Resolve(ctx, testAddress, false)
	second := resolver.Resolve(ctx, testAddress, false)
	require.Equal(t, first, second)
	require.Equal(t, 1, primary.SummaryCalls())

	resolver.Resolve(ctx, testAddress, true)
	require.Equal(t, 2, primary.SummaryCalls())

	testClock.SetTime(testEpoch.Add(time.Minute))
	resolver.Resolve(ctx, testAddress, false)
	require.Equal(t, 3, primary.SummaryCalls())

	resolver.Invalidate(testAddress)
	resolver.Resolve(ctx, testAddress, false)
	require.Equal(t, 4, primary.SummaryCalls())
}

func TestBalanceResolverDoesNotCacheFailures(t *testing.T) {
	t.Parallel()

	primary := newStubExplorer("blockstream")
	primary.summaryErr = &FetchError{Kind: ErrorServer, Status: http.StatusBadGateway}
	resolver := newTestBalanceResolver(primary, nil, clock.NewTestClock(testEpoch))
	ctx := context.Background()

	require.Equal(t, APIStatusError, resolver.Resolve(ctx, testAddress, false).Status)
	require.Equal(t, APIStatusError, resolver.Resolve(ctx, testAddress, false).Status)
	require.Equal(t, 2, primary.SummaryCalls())
}

func TestSatsToBTC(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0.0, satsToBTC(0))
	require.Equal(t, 1.0, satsToBTC(100_000_000))
	require.Equal(t, 0.1, satsToBTC(10_000_000))
	require.Equal(t, 21_000_000.0, satsToBTC(2_100_000_000_000_000))
}

func TestBalanceResolverSharedLookupSurvivesCallerCancel(t *testing.T) {
	t.Parallel()

	primary := newStubExplorer("blockstream")
	primary.summaries[testAddress] = &AddressSummary{ChainStats: TxoStats{FundedTxoSum: 200_000_000}}
	primary.block = make(chan struct{})
	resolver := newTestBalanceResolver(primary, nil, clock.NewTestClock(testEpoch))

	ctx, cancel := context.WithCancel(context.Background())
	firstCh := make(chan BalanceResult, 1)
	go func() {
		firstCh <- resolver.Resolve(ctx, testAddress, false)
	}()
	require.Eventually(t, func() bool { return primary.SummaryCalls() == 1 }, waitFor, pollFor)

	cancel()
	select {
	case first := <-firstCh:
		require.Equal(t, BalanceErrorAPIUnavailable, first.ErrorType)
	case <-time.After(waitFor):
		t.Fatalf("cancelled caller did not return")
	}

	secondCh := make(chan BalanceResult, 1)
	go func() {
		secondCh <- resolver.Resolve(context.Background(), testAddress, false)
	}()
	close(primary.block)

	select {
	case second := <-secondCh:
		require.Equal(t, APIStatusSuccess, second.Status)
		require.Equal(t, 2.0, second.BalanceBTC)
	case <-time.After(waitFor):
		t.Fatalf("second caller did not return")
	}
	require.Equal(t, 1, primary.SummaryCalls())
}
