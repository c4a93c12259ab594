package gobtcmini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

const testAddress = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"

func TestEsploraClientParsesEndpoints(t *testing.T) {
	t.Parallel()

	rt := newRouteTransport()
	rt.handle("/api/address/"+testAddress, http.StatusOK, `{
		"address":"`+testAddress+`",
		"chain_stats":{"funded_txo_count":2,"funded_txo_sum":150000000,"spent_txo_count":1,"spent_txo_sum":50000000,"tx_count":3},
		"mempool_stats":{"funded_txo_count":1,"funded_txo_sum":1000,"spent_txo_count":0,"spent_txo_sum":0,"tx_count":1}
	}`)
	rt.handle("/api/address/"+testAddress+"/utxo", http.StatusOK, `[{"txid":"aa","vout":0,"value":1000},{"txid":"bb","vout":3,"value":99}]`)
	rt.handle("/api/tx/aa", http.StatusOK, `{"txid":"aa","vout":[{"scriptpubkey_type":"v0_p2wpkh","scriptpubkey_address":"`+testAddress+`","value":1000}]}`)

	client := NewEsploraClient("blockstream", "http://explorer.test/api/", newTestFetcher(rt, clock.NewTestClock(testEpoch)))
	ctx := context.Background()

	summary, err := client.AddressSummary(ctx, testAddress)
	require.NoError(t, err)
	require.EqualValues(t, 100001000, summary.BalanceSats())
	require.EqualValues(t, 1, summary.ChainStats.SpentTxoCount)

	utxos, err := client.UTXOs(ctx, testAddress)
	require.NoError(t, err)
	require.Equal(t, []UTXO{{TxID: "aa", Vout: 0, Value: 1000}, {TxID: "bb", Vout: 3, Value: 99}}, utxos)

	tx, err := client.Transaction(ctx, "aa")
	require.NoError(t, err)
	require.Len(t, tx.Vout, 1)
	require.Equal(t, "v0_p2wpkh", tx.Vout[0].ScriptPubKeyType)
}

func TestEsploraClientSchemaErrors(t *testing.T) {
	t.Parallel()

	rt := newRouteTransport()
	rt.handle("/api/address/"+testAddress, http.StatusOK, `{"address":"x"}`)
	rt.handle("/api/address/"+testAddress+"/utxo", http.StatusOK, `{"not":"a list"}`)
	rt.handle("/api/tx/aa", http.StatusOK, `{"txid":"aa"}`)

	client := NewEsploraClient("blockstream", "http://explorer.test/api", newTestFetcher(rt, clock.NewTestClock(testEpoch)))
	ctx := context.Background()

	_, err := client.AddressSummary(ctx, testAddress)
	requireSchemaError(t, err)

	_, err = client.UTXOs(ctx, testAddress)
	requireSchemaError(t, err)

	_, err = client.Transaction(ctx, "aa")
	requireSchemaError(t, err)
}

func requireSchemaError(t *testing.T, err error) {
	t.Helper()

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, ErrorClient, fetchErr.Kind)
	require.Zero(t, fetchErr.Status)
}

func TestParseUTXOsRequiresFields(t *testing.T) {
	t.Parallel()

	_, err := parseUTXOs([]byte(`[{"txid":"aa"}]`))
	require.Error(t, err)

	utxos, err := parseUTXOs([]byte(` []`))
	require.NoError(t, err)
	require.Empty(t, utxos)
}

func TestFallbackExplorerUsesSecondary(t *testing.T) {
	t.Parallel()

	primary := newStubExplorer("primary")
	primary.summaryErr = &FetchError{Kind: ErrorServer, Status: http.StatusBadGateway}
	secondary := newStubExplorer("secondary")
	secondary.summaries[testAddress] = &AddressSummary{ChainStats: TxoStats{FundedTxoSum: 10}}

	explorer := FallbackExplorer{Primary: primary, Secondary: secondary}
	summary, err := explorer.AddressSummary(context.Background(), testAddress)
	require.NoError(t, err)
	require.EqualValues(t, 10, summary.BalanceSats())
	require.Equal(t, "primary+secondary", explorer.Name())
	require.Equal(t, 1, primary.SummaryCalls())
	require.Equal(t, 1, secondary.SummaryCalls())
}

// stubExplorer is an in-memory Explorer.
type stubExplorer struct {
	name string

	mu           sync.Mutex
	summaries    map[string]*AddressSummary
	summaryErr   error
	utxos        map[string][]UTXO
	utxoErr      error
	txs          map[string]*Transaction
	txErr        error
	summaryCalls int
	utxoCalls    int
	txCalls      int

	// block, when set, delays every call until it is closed.
	block chan struct{}
}

func newStubExplorer(name string) *stubExplorer {
	return &stubExplorer{
		name:      name,
		summaries: make(map[string]*AddressSummary),
		utxos:     make(map[string][]UTXO),
		txs:       make(map[string]*Transaction),
	}
}

func (s *stubExplorer) Name() string {
	return s.name
}

func (s *stubExplorer) wait(ctx context.Context) error {
	s.mu.Lock()
	block := s.block
	s.mu.Unlock()
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stubExplorer) AddressSummary(ctx context.Context, address string) (*AddressSummary, error) {
	s.mu.Lock()
	s.summaryCalls++
	s.mu.Unlock()
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summaryErr != nil {
		return nil, s.summaryErr
	}
	summary, ok := s.summaries[address]
	if !ok {
		return nil, &FetchError{Kind: ErrorClient, Status: http.StatusBadRequest, Err: errors.New("Invalid Bitcoin address")}
	}
	clone := *summary
	return &clone, nil
}

func (s *stubExplorer) UTXOs(ctx context.Context, address string) ([]UTXO, error) {
	s.mu.Lock()
	s.utxoCalls++
	s.mu.Unlock()
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.utxoErr != nil {
		return nil, s.utxoErr
	}
	return append(make([]UTXO, 0, len(s.utxos[address])), s.utxos[address]...), nil
}

func (s *stubExplorer) Transaction(ctx context.Context, txid string) (*Transaction, error) {
	s.mu.Lock()
	s.txCalls++
	s.mu.Unlock()
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txErr != nil {
		return nil, s.txErr
	}
	tx, ok := s.txs[txid]
	if !ok {
		return nil, &FetchError{Kind: ErrorClient, Status: http.StatusNotFound, Err: errors.New("Transaction not found")}
	}
	return tx, nil
}

func (s *stubExplorer) SummaryCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryCalls
}

func (s *stubExplorer) TxCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCalls
}
