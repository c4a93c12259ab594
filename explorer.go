package gobtcmini

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const (
	defaultPrimaryExplorerURL   = "https://blockstream.info/api"
	defaultSecondaryExplorerURL = "https://mempool.space/api"
)

// Explorer is a blockchain-explorer provider.
type Explorer interface {
	Name() string
	AddressSummary(ctx context.Context, address string) (*AddressSummary, error)
	UTXOs(ctx context.Context, address string) ([]UTXO, error)
	Transaction(ctx context.Context, txid string) (*Transaction, error)
}

// EsploraClient talks to an Esplora-compatible REST API (blockstream.info,
// mempool.space).
type EsploraClient struct {
	ProviderName string
	BaseURL      string
	Fetcher      *Fetcher
	// MaxRetries < 0 uses the fetcher default.
	MaxRetries int
}

// NewEsploraClient returns a client for the API rooted at baseURL.
func NewEsploraClient(name, baseURL string, fetcher *Fetcher) *EsploraClient {
	return &EsploraClient{
		ProviderName: name,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Fetcher:      fetcher,
		MaxRetries:   -1,
	}
}

func (c *EsploraClient) Name() string {
	return c.ProviderName
}

// AddressSummary fetches funded/spent totals for address.
func (c *EsploraClient) AddressSummary(ctx context.Context, address string) (*AddressSummary, error) {
	endpoint := fmt.Sprintf("%s/address/%s", c.BaseURL, url.PathEscape(address))
	data, err := c.Fetcher.Fetch(ctx, endpoint, c.MaxRetries)
	if err != nil {
		return nil, err
	}
	summary, err := parseAddressSummary(data)
	if err != nil {
		return nil, newSchemaError(endpoint, err)
	}
	return summary, nil
}

// UTXOs fetches the unspent outputs currently held by address.
func (c *EsploraClient) UTXOs(ctx context.Context, address string) ([]UTXO, error) {
	endpoint := fmt.Sprintf("%s/address/%s/utxo", c.BaseURL, url.PathEscape(address))
	data, err := c.Fetcher.Fetch(ctx, endpoint, c.MaxRetries)
	if err != nil {
		return nil, err
	}
	utxos, err := parseUTXOs(data)
	if err != nil {
		return nil, newSchemaError(endpoint, err)
	}
	return utxos, nil
}

// Transaction fetches a transaction by id.
func (c *EsploraClient) Transaction(ctx context.Context, txid string) (*Transaction, error) {
	endpoint := fmt.Sprintf("%s/tx/%s", c.BaseURL, url.PathEscape(txid))
	data, err := c.Fetcher.Fetch(ctx, endpoint, c.MaxRetries)
	if err != nil {
		return nil, err
	}
	tx, err := parseTransaction(data)
	if err != nil {
		return nil, newSchemaError(endpoint, err)
	}
	return tx, nil
}

// FallbackExplorer answers each call from Primary and retries it against
// Secondary when Primary fails.
type FallbackExplorer struct {
	Primary   Explorer
	Secondary Explorer
}

func (f FallbackExplorer) Name() string {
	if f.Secondary == nil {
		return f.Primary.Name()
	}
	return f.Primary.Name() + "+" + f.Secondary.Name()
}

func (f FallbackExplorer) AddressSummary(ctx context.Context, address string) (*AddressSummary, error) {
	summary, err := f.Primary.AddressSummary(ctx, address)
	if err == nil || f.Secondary == nil || ctx.Err() != nil {
		return summary, err
	}
	return f.Secondary.AddressSummary(ctx, address)
}

func (f FallbackExplorer) UTXOs(ctx context.Context, address string) ([]UTXO, error) {
	utxos, err := f.Primary.UTXOs(ctx, address)
	if err == nil || f.Secondary == nil || ctx.Err() != nil {
		return utxos, err
	}
	return f.Secondary.UTXOs(ctx, address)
}

func (f FallbackExplorer) Transaction(ctx context.Context, txid string) (*Transaction, error) {
	tx, err := f.Primary.Transaction(ctx, txid)
	if err == nil || f.Secondary == nil || ctx.Err() != nil {
		return tx, err
	}
	return f.Secondary.Transaction(ctx, txid)
}
