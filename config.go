package gobtcmini

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultListenAddr = ":8080"

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ProviderConfig lists the upstream base URLs.
type ProviderConfig struct {
	PriceURL             string `yaml:"price_url"`
	FeesURL              string `yaml:"fees_url"`
	PrimaryExplorerURL   string `yaml:"primary_explorer_url"`
	SecondaryExplorerURL string `yaml:"secondary_explorer_url"`
}

// StorageConfig selects watchlist persistence. An empty Path keeps the
// watchlist in memory.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Currency  string         `yaml:"currency"`
	Providers ProviderConfig `yaml:"providers"`
	Fetch     FetchConfig    `yaml:"fetch"`
	Feeds     FeedConfig     `yaml:"feeds"`
	Fees      FeeThresholds  `yaml:"fee_thresholds"`
	Exposure  ExposureConfig `yaml:"exposure"`
	Sync      SyncConfig     `yaml:"sync"`
	Cache     CacheConfig    `yaml:"cache"`
	Storage   StorageConfig  `yaml:"storage"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		Server:   ServerConfig{Addr: defaultListenAddr},
		Currency: defaultCurrency,
		Providers: ProviderConfig{
			PriceURL:             defaultPriceBaseURL,
			FeesURL:              defaultFeesBaseURL,
			PrimaryExplorerURL:   defaultPrimaryExplorerURL,
			SecondaryExplorerURL: defaultSecondaryExplorerURL,
		},
		Fetch:    DefaultFetchConfig(),
		Feeds:    DefaultFeedConfig(),
		Fees:     DefaultFeeThresholds(),
		Exposure: DefaultExposureConfig(),
		Sync:     DefaultSyncConfig(),
		Cache:    DefaultCacheConfig(),
		Logging:  LoggingConfig{Level: "info", Environment: "development"},
	}
}

// LoadConfig reads the YAML file at path over the defaults and applies
// BTCMINI_* environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(ListenAddrEnv)); v != "" {
		c.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(CurrencyEnv)); v != "" {
		c.Currency = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(StoragePathEnv)); v != "" {
		c.Storage.Path = v
	}
	if v := strings.TrimSpace(os.Getenv(LogLevelEnv)); v != "" {
		c.Logging.Level = v
	}

	c.Fetch.MaxRetries = loadIntEnv(fetchMaxRetriesEnv, c.Fetch.MaxRetries)
	c.Fetch.RateLimitCooldown = loadDurationEnv(rateLimitCooldownEnv, c.Fetch.RateLimitCooldown)
	c.Feeds.CacheTimeout = loadDurationEnv(feedCacheTimeoutEnv, c.Feeds.CacheTimeout)
	c.Feeds.MinUpdateInterval = loadDurationEnv(feedMinUpdateIntervalEnv, c.Feeds.MinUpdateInterval)
	c.Sync.ResolveTimeout = loadDurationEnv(resolveTimeoutEnv, c.Sync.ResolveTimeout)
	c.Sync.RetryDelay = loadDurationEnv(backgroundRetryDelayEnv, c.Sync.RetryDelay)
	c.Cache.BalanceMaxEntries = loadIntEnv(balanceCacheMaxEntriesEnv, c.Cache.BalanceMaxEntries)
	c.Cache.TransactionsMaxEntries = loadIntEnv(txCacheMaxEntriesEnv, c.Cache.TransactionsMaxEntries)
}

// Validate rejects configurations the application cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if strings.TrimSpace(c.Currency) == "" {
		errs = append(errs, errors.New("currency is required"))
	}
	if c.Providers.PrimaryExplorerURL == "" {
		errs = append(errs, errors.New("providers.primary_explorer_url is required"))
	}
	if c.Fetch.MaxRetries < 0 {
		errs = append(errs, errors.New("fetch.max_retries must not be negative"))
	}
	if c.Feeds.MinUpdateInterval < 0 || c.Feeds.CacheTimeout < 0 {
		errs = append(errs, errors.New("feed intervals must not be negative"))
	}
	if c.Sync.ResolveTimeout <= 0 || c.Sync.RetryDelay <= 0 {
		errs = append(errs, errors.New("sync timeouts must be positive"))
	}
	if c.Exposure.Timeout <= 0 {
		errs = append(errs, errors.New("exposure.timeout must be positive"))
	}
	t := c.Fees
	if !(t.VeryLow <= t.Low && t.Low <= t.Medium && t.Medium <= t.High) {
		errs = append(errs, errors.New("fee_thresholds must be ascending"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func loadIntEnv(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	num, err := strconv.Atoi(value)
	if err != nil || num < 0 {
		return fallback
	}
	return num
}

func loadDurationEnv(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
