package gobtcmini

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func TestAddressValidatorTypes(t *testing.T) {
	t.Parallel()

	validator := NewAddressValidator()
	tests := []struct {
		address string
		want    Validation
	}{
		{address: GenesisAddress, want: Validation{Valid: true, Type: "p2pkh"}},
		{address: legacyAddress, want: Validation{Valid: true, Type: "p2pkh"}},
		{address: "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", want: Validation{Valid: true, Type: "p2sh"}},
		{address: testAddress, want: Validation{Valid: true, Type: "p2wpkh"}},
		{address: "bc1qrp33g0q5c5txsp9arysrx4k6zdkfs4nce4xj0gdcccefvpysxf3qccfmv3", want: Validation{Valid: true, Type: "p2wsh"}},
		{address: taprootAddress, want: Validation{Valid: true, Type: "p2tr"}},
		{address: "  " + secondAddress + "\n", want: Validation{Valid: true, Type: "p2wpkh"}},
		{address: "1BoatSLRHtKNngkdXEeobR76b53LETtpyU", want: Validation{}},
		{address: "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", want: Validation{}},
		{address: "hello", want: Validation{}},
		{address: "", want: Validation{}},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, validator.Validate(tt.address), "address %q", tt.address)
	}
}

func TestAddressValidatorTestnet(t *testing.T) {
	t.Parallel()

	validator := AddressValidator{Params: &chaincfg.TestNet3Params}
	require.Equal(t, Validation{Valid: true, Type: "p2wpkh"}, validator.Validate("tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"))
	require.False(t, validator.Validate(testAddress).Valid)
}
