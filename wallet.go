package x402

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Receipt is the wallet's view of a settled transaction.
type Receipt struct {
	// TxRef is the transaction reference the receipt belongs to.
	TxRef string

	// BlockNumber is the block the transaction was included in.
	BlockNumber uint64

	// Success reports whether the transaction executed successfully.
	Success bool
}

// Wallet is the external signing/submission collaborator. Implementations
// own key custody, fee estimation, and chain access; the engine borrows a
// handle for the duration of a call and never closes it.
type Wallet interface {
	// GetBalance returns the spendable balance for (network, asset).
	GetBalance(ctx context.Context, network, asset string) (decimal.Decimal, error)

	// Send submits a value transfer and returns its transaction reference.
	// A returned error means the submission did not happen; an error after
	// the reference was issued is reported through WaitForConfirmation.
	Send(ctx context.Context, network, to string, amount decimal.Decimal, asset string) (string, error)

	// WaitForConfirmation blocks until the transaction reaches the given
	// confirmation depth or the timeout elapses. It returns (nil, nil) on
	// timeout: the outcome is unknown, not failed.
	WaitForConfirmation(ctx context.Context, network, txRef string, confirmations int, timeout time.Duration) (*Receipt, error)

	// GetReceipt fetches the receipt for a known transaction reference,
	// returning (nil, nil) when the transaction is not yet mined.
	GetReceipt(ctx context.Context, network, txRef string) (*Receipt, error)
}
