package gobtcmini

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// AddressValidator accepts mainnet addresses that decode with a valid
// checksum.
type AddressValidator struct {
	Params *chaincfg.Params
}

// NewAddressValidator returns a mainnet validator.
func NewAddressValidator() AddressValidator {
	return AddressValidator{Params: &chaincfg.MainNetParams}
}

func (v AddressValidator) Validate(address string) Validation {
	params := v.Params
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return Validation{}
	}

	decoded, err := btcutil.DecodeAddress(address, params)
	if err != nil || !decoded.IsForNet(params) {
		return Validation{}
	}

	switch decoded.(type) {
	case *btcutil.AddressPubKeyHash:
		return Validation{Valid: true, Type: "p2pkh"}
	case *btcutil.AddressScriptHash:
		return Validation{Valid: true, Type: "p2sh"}
	case *btcutil.AddressWitnessPubKeyHash:
		return Validation{Valid: true, Type: "p2wpkh"}
	case *btcutil.AddressWitnessScriptHash:
		return Validation{Valid: true, Type: "p2wsh"}
	case *btcutil.AddressTaproot:
		return Validation{Valid: true, Type: "p2tr"}
	default:
		return Validation{}
	}
}
