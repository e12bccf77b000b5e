// Package x402 implements the client side of the HTTP 402 payment-required
// protocol: parsing payment requirements, selecting one, paying it through a
// caller-supplied wallet under configured spending limits, and retrying the
// request with proof of payment attached.
package x402

import (
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// NetworkFamily represents the address format family of a network.
type NetworkFamily int

const (
	// FamilyUnknown represents a network with no known address format.
	// Addresses on unknown networks are accepted as-is.
	FamilyUnknown NetworkFamily = iota
	// FamilyEVM represents Ethereum Virtual Machine chains.
	FamilyEVM
	// FamilySVM represents Solana Virtual Machine chains.
	FamilySVM
)

// networkFamilies maps protocol network identifiers to their address family.
var networkFamilies = map[string]NetworkFamily{
	"ethereum":        FamilyEVM,
	"sepolia":         FamilyEVM,
	"base":            FamilyEVM,
	"base-sepolia":    FamilyEVM,
	"polygon":         FamilyEVM,
	"polygon-amoy":    FamilyEVM,
	"arbitrum":        FamilyEVM,
	"optimism":        FamilyEVM,
	"avalanche":       FamilyEVM,
	"avalanche-fuji":  FamilyEVM,
	"solana":          FamilySVM,
	"solana-devnet":   FamilySVM,
	"solana-testnet":  FamilySVM,
	"solana-localnet": FamilySVM,
}

var evmTxRefRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// FamilyOf returns the address family for a network identifier.
func FamilyOf(network string) NetworkFamily {
	return networkFamilies[network]
}

// ValidateAddress checks that an address matches its network's format.
// Networks outside the known families carry no format constraint.
func ValidateAddress(network, address string) error {
	switch FamilyOf(network) {
	case FamilyEVM:
		if !common.IsHexAddress(address) {
			return NewPaymentError(ErrCodeInvalidAddress,
				"payee is not a valid EVM address", ErrInvalidAddress).
				WithDetails("network", network).
				WithDetails("payTo", address)
		}
	case FamilySVM:
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return NewPaymentError(ErrCodeInvalidAddress,
				"payee is not a valid Solana address", ErrInvalidAddress).
				WithDetails("network", network).
				WithDetails("payTo", address)
		}
	}
	return nil
}

// ValidTxRef reports whether a transaction reference looks well formed for
// the network. Unknown families accept any non-empty reference.
func ValidTxRef(network, txRef string) bool {
	if txRef == "" {
		return false
	}
	switch FamilyOf(network) {
	case FamilyEVM:
		return evmTxRefRegex.MatchString(txRef)
	case FamilySVM:
		_, err := solana.SignatureFromBase58(txRef)
		return err == nil
	default:
		return true
	}
}
