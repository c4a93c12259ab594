package gobtcmini

const (
	// ConfigPathEnv names the YAML configuration file loaded by cmd/web.
	ConfigPathEnv = "BTCMINI_CONFIG"

	// ListenAddrEnv overrides the HTTP listen address.
	ListenAddrEnv = "BTCMINI_LISTEN_ADDR"

	// CurrencyEnv overrides the fiat currency used by the price feed.
	CurrencyEnv = "BTCMINI_CURRENCY"

	// StoragePathEnv switches persistence to SQLite at the given path.
	StoragePathEnv = "BTCMINI_DB_PATH"

	// LogLevelEnv overrides the logging level (debug, info, warn, error).
	LogLevelEnv = "BTCMINI_LOG_LEVEL"

	fetchMaxRetriesEnv        = "BTCMINI_FETCH_MAX_RETRIES"
	rateLimitCooldownEnv      = "BTCMINI_RATE_LIMIT_COOLDOWN"
	feedCacheTimeoutEnv       = "BTCMINI_FEED_CACHE_TIMEOUT"
	feedMinUpdateIntervalEnv  = "BTCMINI_FEED_MIN_UPDATE_INTERVAL"
	resolveTimeoutEnv         = "BTCMINI_RESOLVE_TIMEOUT"
	backgroundRetryDelayEnv   = "BTCMINI_BACKGROUND_RETRY_DELAY"
	balanceCacheMaxEntriesEnv = "BTCMINI_CACHE_BALANCE_MAX_ENTRIES"
	txCacheMaxEntriesEnv      = "BTCMINI_CACHE_TX_MAX_ENTRIES"
)
