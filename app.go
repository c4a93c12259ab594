package gobtcmini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/lightningnetwork/lnd/clock"
)

const (
	primaryExplorerName   = "blockstream"
	secondaryExplorerName = "mempool"

	msgPriceRateLimited = "Price API rate limited, showing cached data"
	msgFeesRateLimited  = "Fee API rate limited, showing cached data"
)

var appLogger = NewLogger("app")

// AppOptions overrides collaborators, mostly for tests. Zero values use the
// production implementations.
type AppOptions struct {
	Clock      clock.Clock
	HTTPClient *http.Client
	Store      Store
	Events     EventStore
	Validator  Validator
}

// App wires the feeds, resolvers, watchlist engine and websocket hub.
type App struct {
	Config   Config
	Clock    clock.Clock
	Gate     *RateLimitGate
	Fetcher  *Fetcher
	Price    *PriceFeed
	Fees     *FeeFeed
	Balance  *BalanceResolver
	Exposure *ExposureResolver
	Engine   *Engine
	Hub      *Hub
	Events   EventStore

	validator Validator
	logger    Logger
	closers   []io.Closer
}

// NewApp builds an App from cfg. Call Load before serving.
func NewApp(cfg Config, opts AppOptions) (*App, error) {
	c := opts.Clock
	if c == nil {
		c = clock.NewDefaultClock()
	}

	gate := NewRateLimitGate(c)
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(cfg.Fetch.HTTPTimeout)
	}
	fetcher := &Fetcher{
		HTTPClient: httpClient,
		Gate:       gate,
		Clock:      c,
		Config:     cfg.Fetch,
	}

	primary := NewEsploraClient(primaryExplorerName, cfg.Providers.PrimaryExplorerURL, fetcher)
	var secondary Explorer
	if cfg.Providers.SecondaryExplorerURL != "" {
		secondary = NewEsploraClient(secondaryExplorerName, cfg.Providers.SecondaryExplorerURL, fetcher)
	}

	balanceTTL := cfg.Cache.BalanceTTL
	if balanceTTL <= 0 {
		balanceTTL = cfg.Feeds.CacheTimeout
	}
	balance := NewBalanceResolver(primary, secondary, cfg.Cache.BalanceMaxEntries, balanceTTL, c, nil)

	txCache := newTTLCache[*Transaction](cfg.Cache.TransactionsMaxEntries, cfg.Cache.TransactionsTTL, c)
	exposure := NewExposureResolver(FallbackExplorer{Primary: primary, Secondary: secondary}, cfg.Exposure, txCache, c, nil)

	app := &App{
		Config:   cfg,
		Clock:    c,
		Gate:     gate,
		Fetcher:  fetcher,
		Price:    NewPriceFeed(cfg.Providers.PriceURL, cfg.Currency, fetcher, gate, cfg.Feeds, c),
		Fees:     NewFeeFeed(cfg.Providers.FeesURL, cfg.Fees, fetcher, gate, cfg.Feeds, c),
		Balance:  balance,
		Exposure: exposure,
		Hub:      NewHub(),
		logger:   appLogger,
	}

	store := opts.Store
	if closer, ok := store.(io.Closer); ok {
		app.closers = append(app.closers, closer)
	}
	if store == nil {
		if cfg.Storage.Path != "" {
			sqliteStore, err := OpenSQLiteStore(cfg.Storage.Path)
			if err != nil {
				return nil, err
			}
			app.closers = append(app.closers, sqliteStore)
			store = sqliteStore
		} else {
			store = NewMemoryStore()
		}
	}

	app.Events = opts.Events
	if app.Events == nil {
		if events, ok := store.(EventStore); ok {
			app.Events = events
		} else {
			app.Events = NewMemoryEventStore()
		}
	}

	app.validator = opts.Validator
	if app.validator == nil {
		app.validator = NewAddressValidator()
	}

	engine, err := NewEngine(cfg.Sync, EngineDeps{
		Balance:   balance,
		Exposure:  exposure,
		Store:     store,
		Notifier:  app.Hub,
		Validator: app.validator,
		Clock:     c,
		OnChange:  app.Hub.WatchlistChanged,
	})
	if err != nil {
		app.closeStores()
		return nil, err
	}
	app.Engine = engine
	return app, nil
}

// Load restores the persisted watchlist.
func (a *App) Load(ctx context.Context) error {
	if err := a.Engine.Load(ctx); err != nil {
		return fmt.Errorf("load watchlist: %w", err)
	}
	return nil
}

// Validate checks address syntax with the configured validator.
func (a *App) Validate(address string) Validation {
	return a.validator.Validate(address)
}

// RefreshPrice refreshes the price feed. Unforced calls inside a rate-limit
// cooldown return the cached price and raise a warning.
func (a *App) RefreshPrice(ctx context.Context, force bool) (*PriceData, error) {
	gated := !force && a.Gate.IsGated()
	data, err := a.Price.RefreshIfNeeded(ctx, force)
	a.warnRateLimited(gated, err, msgPriceRateLimited)
	if err == nil && data != nil {
		a.Hub.Publish(HubMessage{Type: "price", Price: data})
	}
	return data, err
}

// RefreshFees is RefreshPrice for the fee feed.
func (a *App) RefreshFees(ctx context.Context, force bool) (*FeeData, error) {
	gated := !force && a.Gate.IsGated()
	data, err := a.Fees.RefreshIfNeeded(ctx, force)
	a.warnRateLimited(gated, err, msgFeesRateLimited)
	if err == nil && data != nil {
		a.Hub.Publish(HubMessage{Type: "fees", Fees: data})
	}
	return data, err
}

func (a *App) warnRateLimited(gated bool, err error, message string) {
	if gated || (err != nil && ErrorKindOf(err) == ErrorRateLimit) {
		a.Hub.Notify(message, NotifyWarning)
	}
}

// RecordEvent validates and stores an analytics event stamped with the
// current time.
func (a *App) RecordEvent(ctx context.Context, event Event) (Event, error) {
	event, err := normalizeEvent(event)
	if err != nil {
		return Event{}, err
	}
	event.CreatedAt = a.Clock.Now().UTC()
	id, err := a.Events.Record(ctx, event)
	if err != nil {
		a.logger.Printf("record event failed type=%s error=%v", event.Type, err)
		return Event{}, err
	}
	event.ID = id
	analyticsEvents.Add(event.Type, 1)
	return event, nil
}

// EventCounts aggregates recorded events by type.
func (a *App) EventCounts(ctx context.Context) ([]EventCount, error) {
	return a.Events.CountsByType(ctx)
}

// Close stops background work and releases storage.
func (a *App) Close() error {
	a.Engine.Close()
	a.Hub.Close()
	return a.closeStores()
}

func (a *App) closeStores() error {
	var errs []error
	for _, closer := range a.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
