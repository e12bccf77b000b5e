package x402

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SchemeExact is the canonical payment scheme: pay exactly the stated amount.
const SchemeExact = "exact"

// Version is the protocol version this engine speaks.
const Version = 1

// PaymentRequirement represents a single payment option from a 402 response.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier (e.g., "base", "solana").
	Network string `json:"network"`

	// Asset is the token or asset identifier on that network.
	Asset string `json:"asset"`

	// Amount is the payment amount as a decimal string. Amounts are
	// arbitrary-precision; never carried as floating point.
	Amount string `json:"amount"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// Nonce is an optional server-supplied value to bind the payment to.
	Nonce string `json:"nonce,omitempty"`

	// Expiry is an optional unix-seconds deadline after which the
	// requirement is no longer payable. Zero means no expiry.
	Expiry int64 `json:"expiry,omitempty"`

	// Extras contains scheme-specific additional data. Extras never
	// participate in requirement identity or equality.
	Extras map[string]string `json:"extras,omitempty"`
}

// Expired reports whether the requirement's expiry has passed at now.
// Requirements without an expiry never expire.
func (r PaymentRequirement) Expired(now time.Time) bool {
	return r.Expiry != 0 && r.Expiry <= now.Unix()
}

// DecimalAmount parses the requirement amount. It returns ErrInvalidAmount
// when the amount is empty, non-numeric, or negative.
func (r PaymentRequirement) DecimalAmount() (decimal.Decimal, error) {
	return ParseAmount(r.Amount)
}

// Validate checks the requirement for mandatory fields, a numeric amount,
// and a payee address that matches the network's address format.
func (r PaymentRequirement) Validate() error {
	var missing []string
	if r.Scheme == "" {
		missing = append(missing, "scheme")
	}
	if r.Network == "" {
		missing = append(missing, "network")
	}
	if r.Asset == "" {
		missing = append(missing, "asset")
	}
	if r.Amount == "" {
		missing = append(missing, "amount")
	}
	if r.PayTo == "" {
		missing = append(missing, "payTo")
	}
	if len(missing) > 0 {
		return NewPaymentError(ErrCodeMalformedRequirement,
			"requirement missing required fields: "+strings.Join(missing, ", "),
			ErrMalformedRequirement).
			WithDetails("missingFields", missing)
	}

	if _, err := r.DecimalAmount(); err != nil {
		return NewPaymentError(ErrCodeInvalidAmount,
			"requirement amount is not a valid decimal", err).
			WithDetails("amount", r.Amount)
	}

	if err := ValidateAddress(r.Network, r.PayTo); err != nil {
		return err
	}

	return nil
}

// PaymentRequiredResponse represents the complete 402 response body.
type PaymentRequiredResponse struct {
	// Version is the protocol version.
	Version int `json:"version"`

	// Accepts is the ordered, non-empty list of payment options the
	// server will accept. Order is meaningful: it is the server's
	// preference order and the selector's tie-break.
	Accepts []PaymentRequirement `json:"accepts"`

	// Message is an optional human-readable note from the server.
	Message string `json:"message,omitempty"`
}

// ParseAmount parses a decimal amount string, rejecting empty, non-numeric,
// and negative values with ErrInvalidAmount.
func ParseAmount(amount string) (decimal.Decimal, error) {
	if amount == "" {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	if d.IsNegative() {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	return d, nil
}

// PaymentProof is the evidence attached to a retried request or submitted to
// a facilitator after an on-chain payment.
type PaymentProof struct {
	// TxRef is the transaction reference (hash) of the payment.
	TxRef string `json:"transactionHash"`

	// BlockNumber is the confirmation block, when known.
	BlockNumber uint64 `json:"blockNumber,omitempty"`

	// Network is the network the payment settled on.
	Network string `json:"network"`

	// Amount is the paid amount as a decimal string.
	Amount string `json:"amount"`

	// Asset is the paid asset identifier.
	Asset string `json:"asset"`

	// Timestamp is when the payment confirmed, unix seconds.
	Timestamp int64 `json:"timestamp"`
}
