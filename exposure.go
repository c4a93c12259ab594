package gobtcmini

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/errgroup"
)

const (
	defaultExposureTimeout     = 20 * time.Second
	defaultExposureUTXOLimit   = 50
	defaultExposureConcurrency = 4

	// GenesisAddress receives the unspendable genesis coinbase.
	GenesisAddress = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
)

// Script types whose locking script carries a public key.
var exposedScriptTypes = map[string]struct{}{
	"p2pk":    {},
	"v1_p2tr": {},
}

var hashedScriptTypes = map[string]struct{}{
	"p2pkh":     {},
	"v0_p2wpkh": {},
}

// Address formats that only publish a hash until the first spend.
var reusableAddressTypes = map[string]struct{}{
	"p2pkh":         {},
	"p2wpkh_or_wsh": {},
}

var exposureLogger = NewLogger("exposure")

// ExposureConfig bounds an exposure resolution.
type ExposureConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	UTXOLimit         int           `yaml:"utxo_limit"`
	LookupConcurrency int           `yaml:"lookup_concurrency"`
	SpecialAddresses  []string      `yaml:"special_addresses"`
}

// DefaultExposureConfig returns the production bounds.
func DefaultExposureConfig() ExposureConfig {
	return ExposureConfig{
		Timeout:           defaultExposureTimeout,
		UTXOLimit:         defaultExposureUTXOLimit,
		LookupConcurrency: defaultExposureConcurrency,
	}
}

// UTXOExposure is the per-output detail of an exposure check.
type UTXOExposure struct {
	TxID             string  `json:"txid"`
	Vout             uint32  `json:"vout"`
	ValueBTC         float64 `json:"valueBtc"`
	ScriptPubKeyType string  `json:"scriptpubkeyType,omitempty"`
	Classification   string  `json:"classification"`
}

// ExposureResult is the heuristic quantum-exposure assessment of an address.
type ExposureResult struct {
	Address         string         `json:"address"`
	AddressType     string         `json:"addressType"`
	Risk            RiskLevel      `json:"risk"`
	ExposedValueBTC float64        `json:"exposedValueBtc"`
	AnalyzedUTXOs   int            `json:"analyzedUtxos"`
	SkippedUTXOs    int            `json:"skippedUtxos"`
	UTXOs           []UTXOExposure `json:"utxos,omitempty"`
	Notes           []string       `json:"notes,omitempty"`
}

type scriptInfo struct {
	scriptType string
}

// ExposureResolver classifies how exposed an address's public key is.
type ExposureResolver struct {
	explorer Explorer
	txCache  *ttlCache[*Transaction]
	clock    clock.Clock
	cfg      ExposureConfig
	special  map[string]struct{}
	logger   Logger
}

// NewExposureResolver builds a resolver. txCache may be nil.
func NewExposureResolver(explorer Explorer, cfg ExposureConfig, txCache *ttlCache[*Transaction], c clock.Clock, logger Logger) *ExposureResolver {
	if c == nil {
		c = clock.NewDefaultClock()
	}
	if logger == nil {
		logger = exposureLogger
	}
	defaults := DefaultExposureConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.UTXOLimit <= 0 {
		cfg.UTXOLimit = defaults.UTXOLimit
	}
	if cfg.LookupConcurrency <= 0 {
		cfg.LookupConcurrency = defaults.LookupConcurrency
	}
	special := map[string]struct{}{GenesisAddress: {}}
	for _, addr := range cfg.SpecialAddresses {
		special[strings.TrimSpace(addr)] = struct{}{}
	}
	return &ExposureResolver{
		explorer: explorer,
		txCache:  txCache,
		clock:    c,
		cfg:      cfg,
		special:  special,
		logger:   logger,
	}
}

// Resolve assesses address. It returns ErrTimeout when the assessment does
// not finish within the configured deadline; every other outcome is encoded
// in the result's Risk.
func (r *ExposureResolver) Resolve(ctx context.Context, address string) (ExposureResult, error) {
	if _, ok := r.special[address]; ok {
		return ExposureResult{
			Address:     address,
			AddressType: inferAddressType(address),
			Risk:        RiskUnknown,
			Notes:       []string{"Known special address; exposure is not assessed."},
		}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan ExposureResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Printf("exposure panic address=%s panic=%v", address, p)
				done <- ExposureResult{Address: address, AddressType: inferAddressType(address), Risk: RiskError}
			}
		}()
		done <- r.assess(ctx, address)
	}()

	select {
	case result := <-done:
		return result, nil
	case <-r.clock.TickAfter(r.cfg.Timeout):
		r.logger.Printf("exposure timeout address=%s after=%s", address, r.cfg.Timeout)
		return ExposureResult{Address: address, AddressType: inferAddressType(address), Risk: RiskTimeout}, ErrTimeout
	case <-ctx.Done():
		return ExposureResult{Address: address, AddressType: inferAddressType(address), Risk: RiskUnknown}, ctx.Err()
	}
}

func (r *ExposureResolver) assess(ctx context.Context, address string) ExposureResult {
	result := ExposureResult{
		Address:     address,
		AddressType: inferAddressType(address),
	}

	var (
		summary    *AddressSummary
		summaryErr error
		utxos      []UTXO
		utxosErr   error
		calls      errgroup.Group
		trap       panicTrap
	)
	calls.Go(func() error {
		trap.guard(func() {
			summary, summaryErr = r.explorer.AddressSummary(ctx, address)
		})
		return nil
	})
	calls.Go(func() error {
		trap.guard(func() {
			utxos, utxosErr = r.explorer.UTXOs(ctx, address)
		})
		return nil
	})
	_ = calls.Wait()
	trap.repanic()

	if (summaryErr != nil || summary == nil) && (utxosErr != nil || utxos == nil) {
		r.logger.Printf("exposure data unavailable address=%s summary_error=%v utxo_error=%v", address, summaryErr, utxosErr)
		result.Risk = RiskUnknown
		result.Notes = append(result.Notes, "No on-chain data available for this address.")
		return result
	}

	if len(utxos) > r.cfg.UTXOLimit {
		utxos = utxos[:r.cfg.UTXOLimit]
	}

	scripts := r.lookupScripts(ctx, utxos)

	var (
		hasExposed  bool
		exposedSats int64
	)
	result.UTXOs = make([]UTXOExposure, 0, len(utxos))
	for i, utxo := range utxos {
		detail := UTXOExposure{
			TxID:           utxo.TxID,
			Vout:           utxo.Vout,
			ValueBTC:       satsToBTC(utxo.Value),
			Classification: "unknown",
		}
		info, err := scripts[i].Unpack()
		if err != nil {
			result.SkippedUTXOs++
			result.UTXOs = append(result.UTXOs, detail)
			continue
		}
		result.AnalyzedUTXOs++
		detail.ScriptPubKeyType = info.scriptType
		detail.Classification = classifyScriptType(info.scriptType)
		if detail.Classification == "exposed" {
			hasExposed = true
			exposedSats += utxo.Value
		}
		result.UTXOs = append(result.UTXOs, detail)
	}
	result.ExposedValueBTC = satsToBTC(exposedSats)

	var spentCount int64
	if summary != nil {
		spentCount = summary.ChainStats.SpentTxoCount
	}
	_, reusable := reusableAddressTypes[result.AddressType]
	reuseRisk := spentCount > 0 && reusable

	switch {
	case hasExposed:
		result.Risk = RiskHigh
	case reuseRisk:
		result.Risk = RiskElevated
	default:
		result.Risk = RiskLow
	}

	if reuseRisk {
		result.Notes = append(result.Notes, "Address appears reused: its public key may already be on-chain; remaining funds at this address inherit that exposure.")
	}
	if hasExposed {
		result.Notes = append(result.Notes, "Some UTXOs are Taproot/P2PK (public key in script). Consider moving to a fresh P2WPKH (bc1q...) address.")
	}
	if result.SkippedUTXOs > 0 {
		result.Notes = append(result.Notes, fmt.Sprintf("%d UTXO lookups failed and were skipped.", result.SkippedUTXOs))
	}
	return result
}

// lookupScripts resolves the script type of every utxo. A failed lookup
// yields an Err entry and does not affect the others.
func (r *ExposureResolver) lookupScripts(ctx context.Context, utxos []UTXO) []fn.Result[scriptInfo] {
	results := make([]fn.Result[scriptInfo], len(utxos))

	var (
		lookups errgroup.Group
		trap    panicTrap
	)
	lookups.SetLimit(r.cfg.LookupConcurrency)
	for i, utxo := range utxos {
		lookups.Go(func() error {
			trap.guard(func() {
				results[i] = r.lookupScript(ctx, utxo)
			})
			return nil
		})
	}
	_ = lookups.Wait()
	trap.repanic()
	return results
}

// panicTrap carries the first panic of a worker goroutine back to the
// goroutine that waits for the workers.
type panicTrap struct {
	once  sync.Once
	value any
}

func (p *panicTrap) guard(f func()) {
	defer func() {
		if v := recover(); v != nil {
			p.once.Do(func() { p.value = v })
		}
	}()
	f()
}

// repanic must only be called after every guarded call has returned.
func (p *panicTrap) repanic() {
	if p.value != nil {
		panic(p.value)
	}
}

func (r *ExposureResolver) lookupScript(ctx context.Context, utxo UTXO) fn.Result[scriptInfo] {
	tx, ok := r.txCache.Get(utxo.TxID)
	if !ok {
		fetched, err := r.explorer.Transaction(ctx, utxo.TxID)
		if err != nil {
			r.logger.Printf("tx lookup failed txid=%s error=%v", utxo.TxID, err)
			return fn.Err[scriptInfo](err)
		}
		tx = fetched
		r.txCache.Add(utxo.TxID, tx)
	}
	if int(utxo.Vout) >= len(tx.Vout) {
		return fn.Err[scriptInfo](fmt.Errorf("tx %s has no output %d", utxo.TxID, utxo.Vout))
	}
	return fn.Ok(scriptInfo{scriptType: tx.Vout[utxo.Vout].ScriptPubKeyType})
}

func classifyScriptType(scriptType string) string {
	st := strings.ToLower(scriptType)
	if _, ok := exposedScriptTypes[st]; ok {
		return "exposed"
	}
	if _, ok := hashedScriptTypes[st]; ok {
		return "hashed"
	}
	return "unknown"
}

// inferAddressType derives the address format from its prefix alone.
func inferAddressType(address string) string {
	addr := strings.ToLower(address)
	switch {
	case strings.HasPrefix(addr, "bc1p"):
		return "p2tr"
	case strings.HasPrefix(addr, "bc1q"):
		return "p2wpkh_or_wsh"
	case strings.HasPrefix(addr, "1"):
		return "p2pkh"
	case strings.HasPrefix(addr, "3"):
		return "p2sh"
	default:
		return "unknown"
	}
}
