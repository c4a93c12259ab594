package gobtcmini

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// TxoStats mirrors the chain_stats / mempool_stats objects of the Esplora API.
type TxoStats struct {
	FundedTxoCount int64 `json:"funded_txo_count"`
	FundedTxoSum   int64 `json:"funded_txo_sum"`
	SpentTxoCount  int64 `json:"spent_txo_count"`
	SpentTxoSum    int64 `json:"spent_txo_sum"`
	TxCount        int64 `json:"tx_count"`
}

// AddressSummary is the parsed address endpoint response.
type AddressSummary struct {
	Address      string
	ChainStats   TxoStats
	MempoolStats TxoStats
}

// BalanceSats returns funded minus spent over chain and mempool, clamped at zero.
func (s *AddressSummary) BalanceSats() int64 {
	funded := s.ChainStats.FundedTxoSum + s.MempoolStats.FundedTxoSum
	spent := s.ChainStats.SpentTxoSum + s.MempoolStats.SpentTxoSum
	return max(funded-spent, 0)
}

// UTXO is an unspent output reported for an address.
type UTXO struct {
	TxID  string `json:"txid"`
	Vout  uint32 `json:"vout"`
	Value int64  `json:"value"`
}

// TxOutput is the subset of a transaction output needed for exposure checks.
type TxOutput struct {
	ScriptPubKeyType    string `json:"scriptpubkey_type"`
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	Value               int64  `json:"value"`
}

// Transaction is the parsed tx endpoint response.
type Transaction struct {
	TxID string     `json:"txid"`
	Vout []TxOutput `json:"vout"`
}

var (
	errMissingChainStats = errors.New("missing chain_stats")
	errNotArray          = errors.New("expected a JSON array")
	errMissingVout       = errors.New("missing vout")
)

type rawAddressSummary struct {
	Address      string    `json:"address"`
	ChainStats   *TxoStats `json:"chain_stats"`
	MempoolStats *TxoStats `json:"mempool_stats"`
}

func parseAddressSummary(data []byte) (*AddressSummary, error) {
	var raw rawAddressSummary
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode address summary: %w", err)
	}
	if raw.ChainStats == nil {
		return nil, errMissingChainStats
	}
	summary := &AddressSummary{
		Address:    raw.Address,
		ChainStats: *raw.ChainStats,
	}
	if raw.MempoolStats != nil {
		summary.MempoolStats = *raw.MempoolStats
	}
	return summary, nil
}

type rawUTXO struct {
	TxID  string  `json:"txid"`
	Vout  *uint32 `json:"vout"`
	Value int64   `json:"value"`
}

func parseUTXOs(data []byte) ([]UTXO, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errNotArray
	}
	var raw []rawUTXO
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("decode utxo list: %w", err)
	}
	utxos := make([]UTXO, 0, len(raw))
	for i, item := range raw {
		if item.TxID == "" || item.Vout == nil {
			return nil, fmt.Errorf("utxo %d: missing txid or vout", i)
		}
		utxos = append(utxos, UTXO{TxID: item.TxID, Vout: *item.Vout, Value: item.Value})
	}
	return utxos, nil
}

type rawTransaction struct {
	TxID string      `json:"txid"`
	Vout *[]TxOutput `json:"vout"`
}

func parseTransaction(data []byte) (*Transaction, error) {
	var raw rawTransaction
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	if raw.Vout == nil {
		return nil, errMissingVout
	}
	return &Transaction{TxID: raw.TxID, Vout: *raw.Vout}, nil
}
