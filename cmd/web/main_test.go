package main

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	gobtcmini "github.com/btcmini/go-btcmini"
)

type offlineTransport struct{}

func (offlineTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("offline")
}

type trackedStore struct {
	loadErr error
	closed  bool
}

func (s *trackedStore) Load(context.Context) ([]gobtcmini.WatchlistEntry, error) {
	return nil, s.loadErr
}

func (s *trackedStore) Save(context.Context, []gobtcmini.WatchlistEntry) error {
	return nil
}

func (s *trackedStore) Close() error {
	s.closed = true
	return nil
}

func testOptions(store gobtcmini.Store) gobtcmini.AppOptions {
	return gobtcmini.AppOptions{
		HTTPClient: &http.Client{Transport: offlineTransport{}},
		Store:      store,
	}
}

func TestRunClosesAppWhenLoadFails(t *testing.T) {
	store := &trackedStore{loadErr: errors.New("corrupt watchlist")}

	err := run(context.Background(), gobtcmini.DefaultConfig(), testOptions(store))
	require.ErrorContains(t, err, "corrupt watchlist")
	require.True(t, store.closed)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := gobtcmini.DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	store := &trackedStore{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, run(ctx, cfg, testOptions(store)))
	require.True(t, store.closed)
}
