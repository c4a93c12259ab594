package gobtcmini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"golang.org/x/sync/errgroup"
)

const (
	defaultResolveTimeout       = 30 * time.Second
	defaultBackgroundRetryDelay = 30 * time.Second
)

var engineLogger = NewLogger("watchlist")

// SyncConfig bounds watchlist resolutions.
type SyncConfig struct {
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// DefaultSyncConfig returns the production resolution bounds.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		ResolveTimeout: defaultResolveTimeout,
		RetryDelay:     defaultBackgroundRetryDelay,
	}
}

// BalanceSource resolves address balances.
type BalanceSource interface {
	Resolve(ctx context.Context, address string, force bool) BalanceResult
}

// ExposureSource resolves quantum-exposure risk.
type ExposureSource interface {
	Resolve(ctx context.Context, address string) (ExposureResult, error)
}

// ChangeType identifies a watchlist change event.
type ChangeType string

const (
	ChangeEntryUpdated ChangeType = "entry_updated"
	ChangeEntryRemoved ChangeType = "entry_removed"
)

// ChangeEvent tells the UI collaborator to re-render an entry.
type ChangeEvent struct {
	Type    ChangeType      `json:"type"`
	Address string          `json:"address"`
	Entry   *WatchlistEntry `json:"entry,omitempty"`
}

// EngineDeps are the collaborators of an Engine. Balance, Exposure and Store
// are required.
type EngineDeps struct {
	Balance   BalanceSource
	Exposure  ExposureSource
	Store     Store
	Notifier  Notifier
	Validator Validator
	Clock     clock.Clock
	Logger    Logger
	OnChange  func(ChangeEvent)
}

// Engine keeps the watchlist in sync with upstream balance and exposure data.
//
// Resolutions for the same address may overlap (foreground refreshes and the
// background retry); the last one to finish wins. Every added entry gets a
// fresh generation, so a result for an address that was removed meanwhile is
// dropped even when the address has been added again.
type Engine struct {
	cfg       SyncConfig
	balance   BalanceSource
	exposure  ExposureSource
	store     Store
	notifier  Notifier
	validator Validator
	clock     clock.Clock
	logger    Logger
	onChange  func(ChangeEvent)

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	retries *retryScheduler

	mu          sync.Mutex
	entries     []WatchlistEntry
	generations map[string]uint64
	generation  uint64

	saveMu sync.Mutex
}

// NewEngine wires an engine. Call Load before serving requests.
func NewEngine(cfg SyncConfig, deps EngineDeps) (*Engine, error) {
	if deps.Balance == nil || deps.Exposure == nil || deps.Store == nil {
		return nil, errors.New("engine requires balance, exposure and store")
	}
	defaults := DefaultSyncConfig()
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = defaults.ResolveTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewDefaultClock()
	}
	if deps.Logger == nil {
		deps.Logger = engineLogger
	}
	if deps.Notifier == nil {
		deps.Notifier = LogNotifier{Logger: deps.Logger}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:         cfg,
		generations: make(map[string]uint64),
		balance:     deps.Balance,
		exposure:    deps.Exposure,
		store:       deps.Store,
		notifier:    deps.Notifier,
		validator:   deps.Validator,
		clock:       deps.Clock,
		logger:      deps.Logger,
		onChange:    deps.OnChange,
		ctx:         ctx,
		cancel:      cancel,
		retries:     newRetryScheduler(deps.Clock),
	}, nil
}

// Load replaces the in-memory watchlist with the persisted one.
func (e *Engine) Load(ctx context.Context) error {
	entries, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load watchlist: %w", err)
	}

	loaded := make([]WatchlistEntry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if _, dup := seen[entry.Address]; dup || entry.Address == "" {
			continue
		}
		seen[entry.Address] = struct{}{}
		if !entry.QuantumRisk.Valid() {
			entry.QuantumRisk = RiskUnknown
		}
		if entry.APIStatus == "" {
			entry.APIStatus = APIStatusNone
		}
		entry.BalanceBTC = max(entry.BalanceBTC, 0)
		loaded = append(loaded, entry.clone())
	}

	e.mu.Lock()
	e.entries = loaded
	e.generations = make(map[string]uint64, len(loaded))
	for _, entry := range loaded {
		e.nextGenerationLocked(entry.Address)
	}
	e.mu.Unlock()
	watchlistSize.Set(int64(len(loaded)))
	e.logger.Printf("watchlist loaded entries=%d", len(loaded))
	return nil
}

// Entries returns a copy of the watchlist in display order.
func (e *Engine) Entries() []WatchlistEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Entry returns the entry for address.
func (e *Engine) Entry(address string) (WatchlistEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.indexLocked(address)
	if idx < 0 {
		return WatchlistEntry{}, false
	}
	return e.entries[idx].clone(), true
}

// AddAddress validates and appends address, then resolves it in the
// background. Invalid labels, invalid addresses and duplicates fail with a
// *ValidationError and leave the watchlist untouched.
func (e *Engine) AddAddress(ctx context.Context, address, label string) (WatchlistEntry, error) {
	address = strings.TrimSpace(address)
	label = strings.TrimSpace(label)

	if err := validateLabel(label); err != nil {
		return WatchlistEntry{}, &ValidationError{Address: address, Err: err}
	}
	if address == "" {
		return WatchlistEntry{}, &ValidationError{Address: address, Err: ErrInvalidAddress}
	}
	if e.validator != nil && !e.validator.Validate(address).Valid {
		return WatchlistEntry{}, &ValidationError{Address: address, Err: ErrInvalidAddress}
	}

	e.mu.Lock()
	if e.indexLocked(address) >= 0 {
		e.mu.Unlock()
		return WatchlistEntry{}, &ValidationError{Address: address, Err: ErrDuplicateAddress}
	}
	entry := WatchlistEntry{
		Address:     address,
		Label:       label,
		QuantumRisk: RiskChecking,
		APIStatus:   APIStatusNone,
		AddedAt:     e.clock.Now().UTC(),
	}
	e.entries = append(e.entries, entry)
	gen := e.nextGenerationLocked(address)
	watchlistSize.Set(int64(len(e.entries)))
	e.mu.Unlock()

	e.persist(ctx)
	e.notifier.Notify(fmt.Sprintf("Address %s added", shortAddress(address)), NotifySuccess)
	e.publish(ChangeEvent{Type: ChangeEntryUpdated, Address: address, Entry: &entry})

	e.launch(address, gen, false)
	return entry.clone(), nil
}

// RefreshAddress marks address as checking and re-resolves it, bypassing
// caches.
func (e *Engine) RefreshAddress(_ context.Context, address string) error {
	e.mu.Lock()
	idx := e.indexLocked(address)
	if idx < 0 {
		e.mu.Unlock()
		return ErrAddressNotFound
	}
	e.entries[idx].QuantumRisk = RiskChecking
	entry := e.entries[idx].clone()
	gen := e.generations[address]
	e.mu.Unlock()

	e.publish(ChangeEvent{Type: ChangeEntryUpdated, Address: address, Entry: &entry})
	e.launch(address, gen, true)
	return nil
}

// RemoveAddress deletes address and drops its pending background retry.
// In-flight resolutions are left to finish and discarded.
func (e *Engine) RemoveAddress(ctx context.Context, address string) error {
	e.mu.Lock()
	idx := e.indexLocked(address)
	if idx < 0 {
		e.mu.Unlock()
		return ErrAddressNotFound
	}
	e.entries = append(e.entries[:idx], e.entries[idx+1:]...)
	delete(e.generations, address)
	watchlistSize.Set(int64(len(e.entries)))
	e.mu.Unlock()

	if e.retries.Cancel(address) {
		e.logger.Printf("background retry cancelled address=%s", address)
	}
	e.persist(ctx)
	e.notifier.Notify(fmt.Sprintf("Address %s removed", shortAddress(address)), NotifySuccess)
	e.publish(ChangeEvent{Type: ChangeEntryRemoved, Address: address})
	return nil
}

// RetryPending reports whether a background retry is scheduled for address.
func (e *Engine) RetryPending(address string) bool {
	return e.retries.Pending(address)
}

// Close stops background work and waits for in-flight resolutions.
func (e *Engine) Close() {
	e.cancel()
	e.retries.Stop()
	e.wg.Wait()
}

func (e *Engine) launch(address string, gen uint64, force bool) {
	if e.ctx.Err() != nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.resolve(address, gen, force)
	}()
}

type exposureOutcome struct {
	result ExposureResult
	err    error
}

// resolve runs both resolvers under the overall deadline and merges the
// outcome. A deadline miss records a timeout and schedules one background
// retry.
func (e *Engine) resolve(address string, gen uint64, force bool) {
	ctx, cancel := context.WithCancel(e.ctx)
	defer cancel()

	deadline := e.clock.TickAfter(e.cfg.ResolveTimeout)
	balanceCh := make(chan BalanceResult, 1)
	exposureCh := make(chan exposureOutcome, 1)
	go func() {
		balanceCh <- e.balance.Resolve(ctx, address, force)
	}()
	go func() {
		result, err := e.exposure.Resolve(ctx, address)
		exposureCh <- exposureOutcome{result: result, err: err}
	}()

	var (
		balance  *BalanceResult
		exposure *exposureOutcome
	)
	for balance == nil || exposure == nil {
		select {
		case result := <-balanceCh:
			balance = &result
		case outcome := <-exposureCh:
			exposure = &outcome
		case <-deadline:
			e.logger.Printf("resolution deadline exceeded address=%s after=%s", address, e.cfg.ResolveTimeout)
			e.handleTimeout(address, gen, balance)
			return
		case <-e.ctx.Done():
			return
		}
	}

	if errors.Is(exposure.err, ErrTimeout) {
		e.handleTimeout(address, gen, balance)
		return
	}
	risk := exposure.result.Risk
	if exposure.err != nil || !risk.Valid() || risk == RiskChecking {
		risk = RiskError
	}
	if !e.merge(address, gen, balance, risk) {
		return
	}
	if force && balance.Status == APIStatusError {
		e.notifier.Notify(fmt.Sprintf("Refresh failed for %s: %s", shortAddress(address), balance.ErrorMessage), NotifyError)
	}
}

func (e *Engine) handleTimeout(address string, gen uint64, balance *BalanceResult) {
	if !e.merge(address, gen, balance, RiskTimeout) {
		return
	}
	e.retries.Schedule(address, e.cfg.RetryDelay, func() {
		e.backgroundRetry(address, gen)
	})
	e.logger.Printf("background retry scheduled address=%s delay=%s", address, e.cfg.RetryDelay)
}

// backgroundRetry re-resolves address without the overall deadline. Any
// failure settles on unknown: the entry is already visible and a transient
// problem should not surface as an error.
func (e *Engine) backgroundRetry(address string, gen uint64) {
	if !e.tracked(address, gen) {
		return
	}

	var (
		balance  BalanceResult
		exposure ExposureResult
		expErr   error
		group    errgroup.Group
	)
	group.Go(func() error {
		balance = e.balance.Resolve(e.ctx, address, true)
		return nil
	})
	group.Go(func() error {
		exposure, expErr = e.exposure.Resolve(e.ctx, address)
		return nil
	})
	_ = group.Wait()

	if e.ctx.Err() != nil {
		return
	}
	risk := exposure.Risk
	switch {
	case expErr != nil, risk == RiskError, risk == RiskTimeout, risk == RiskChecking, !risk.Valid():
		risk = RiskUnknown
	}
	e.logger.Printf("background retry finished address=%s risk=%s balance_status=%s", address, risk, balance.Status)
	e.merge(address, gen, &balance, risk)
}

// merge writes a resolution into the entry for address. It reports false
// when that generation of the address is no longer tracked.
func (e *Engine) merge(address string, gen uint64, balance *BalanceResult, risk RiskLevel) bool {
	e.mu.Lock()
	idx := e.indexLocked(address)
	if idx < 0 || e.generations[address] != gen {
		e.mu.Unlock()
		e.logger.Printf("discarding result for removed address=%s", address)
		return false
	}
	entry := &e.entries[idx]
	if balance != nil {
		entry.BalanceBTC = max(balance.BalanceBTC, 0)
		entry.APIStatus = balance.Status
		if balance.Status == APIStatusError {
			msg := balance.ErrorMessage
			entry.APIErrorMessage = &msg
		} else {
			entry.APIErrorMessage = nil
		}
	}
	entry.QuantumRisk = risk
	updated := entry.clone()
	e.mu.Unlock()

	recordResolution(risk)
	e.persist(e.ctx)
	e.publish(ChangeEvent{Type: ChangeEntryUpdated, Address: address, Entry: &updated})
	return true
}

// persist saves the current watchlist. Saves are serialised and always write
// the latest state, so the store never ends on an older snapshot.
func (e *Engine) persist(ctx context.Context) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	snapshot := e.Entries()
	if err := e.store.Save(ctx, snapshot); err != nil {
		e.logger.Printf("watchlist save failed entries=%d error=%v", len(snapshot), err)
		e.notifier.Notify(fmt.Sprintf("Failed to save watchlist: %v", err), NotifyError)
	}
}

func (e *Engine) publish(event ChangeEvent) {
	if e.onChange != nil {
		e.onChange(event)
	}
}

// tracked reports whether gen is the live generation of address.
func (e *Engine) tracked(address string, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	current, ok := e.generations[address]
	return ok && current == gen
}

func (e *Engine) nextGenerationLocked(address string) uint64 {
	e.generation++
	e.generations[address] = e.generation
	return e.generation
}

func (e *Engine) indexLocked(address string) int {
	for i := range e.entries {
		if e.entries[i].Address == address {
			return i
		}
	}
	return -1
}

func (e *Engine) snapshotLocked() []WatchlistEntry {
	out := make([]WatchlistEntry, len(e.entries))
	for i, entry := range e.entries {
		out[i] = entry.clone()
	}
	return out
}

func shortAddress(address string) string {
	if len(address) <= 16 {
		return address
	}
	return address[:8] + "..." + address[len(address)-6:]
}
