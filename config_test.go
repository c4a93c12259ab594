package gobtcmini

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, defaultListenAddr, cfg.Server.Addr)
	require.Equal(t, "usd", cfg.Currency)
	require.Equal(t, defaultPrimaryExplorerURL, cfg.Providers.PrimaryExplorerURL)
	require.Equal(t, DefaultFeeThresholds(), cfg.Fees)
	require.Equal(t, 30*time.Second, cfg.Sync.ResolveTimeout)
	require.Empty(t, cfg.Storage.Path)
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btcmini.yaml")
	raw := `
server:
  addr: ":9090"
currency: eur
providers:
  secondary_explorer_url: ""
fetch:
  max_retries: 4
  rate_limit_cooldown: 2m
feeds:
  min_update_interval: 10s
fee_thresholds:
  very_low: 2
  low: 4
  medium: 20
  high: 40
exposure:
  utxo_limit: 10
  special_addresses:
    - 1BoatSLRHtKNngkdXEeobR76b53LETtpyT
sync:
  retry_delay: 1m
storage:
  path: /tmp/btcmini.db
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, "eur", cfg.Currency)
	require.Empty(t, cfg.Providers.SecondaryExplorerURL)
	require.Equal(t, defaultPriceBaseURL, cfg.Providers.PriceURL)
	require.Equal(t, 4, cfg.Fetch.MaxRetries)
	require.Equal(t, 2*time.Minute, cfg.Fetch.RateLimitCooldown)
	require.Equal(t, defaultBackoffBase, cfg.Fetch.BackoffBase)
	require.Equal(t, 10*time.Second, cfg.Feeds.MinUpdateInterval)
	require.Equal(t, defaultFeedCacheTimeout, cfg.Feeds.CacheTimeout)
	require.Equal(t, FeeThresholds{VeryLow: 2, Low: 4, Medium: 20, High: 40}, cfg.Fees)
	require.Equal(t, 10, cfg.Exposure.UTXOLimit)
	require.Equal(t, []string{legacyAddress}, cfg.Exposure.SpecialAddresses)
	require.Equal(t, time.Minute, cfg.Sync.RetryDelay)
	require.Equal(t, defaultResolveTimeout, cfg.Sync.ResolveTimeout)
	require.Equal(t, "/tmp/btcmini.db", cfg.Storage.Path)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv(ListenAddrEnv, "127.0.0.1:7000")
	t.Setenv(CurrencyEnv, "GBP")
	t.Setenv(StoragePathEnv, "/var/lib/btcmini/watchlist.db")
	t.Setenv(fetchMaxRetriesEnv, "5")
	t.Setenv(resolveTimeoutEnv, "45s")
	t.Setenv(backgroundRetryDelayEnv, "not-a-duration")
	t.Setenv(balanceCacheMaxEntriesEnv, "-3")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	require.Equal(t, "gbp", cfg.Currency)
	require.Equal(t, "/var/lib/btcmini/watchlist.db", cfg.Storage.Path)
	require.Equal(t, 5, cfg.Fetch.MaxRetries)
	require.Equal(t, 45*time.Second, cfg.Sync.ResolveTimeout)
	require.Equal(t, defaultBackgroundRetryDelay, cfg.Sync.RetryDelay)
	require.Equal(t, defaultBalanceCacheMaxEntries, cfg.Cache.BalanceMaxEntries)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fee_thresholds:\n  very_low: 50\n  low: 10\n  medium: 5\n  high: 1\n"), 0o600))

	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "fee_thresholds must be ascending")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("server: [not, a, map]"), 0o600))
	_, err = LoadConfig(path)
	require.Error(t, err)
}
