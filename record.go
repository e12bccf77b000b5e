package x402

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a payment attempt.
type PaymentStatus string

const (
	// StatusPending means the transaction was submitted and is awaiting
	// confirmation.
	StatusPending PaymentStatus = "pending"

	// StatusConfirmed means the wallet reported a successful receipt.
	StatusConfirmed PaymentStatus = "confirmed"

	// StatusFailed means the wallet reported a failed receipt.
	StatusFailed PaymentStatus = "failed"

	// StatusExpired means a caller-supplied deadline elapsed before a
	// receipt arrived.
	StatusExpired PaymentStatus = "expired"
)

// Terminal reports whether the status is final.
func (s PaymentStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusExpired
}

// PaymentRecord is the result of a payment attempt. A record is created
// Pending the moment submission succeeds and transitions exactly once to a
// terminal status. It is immutable after that transition.
type PaymentRecord struct {
	// RequestID uniquely identifies the payment attempt.
	RequestID string `json:"requestId"`

	// TxRef is the on-chain transaction reference returned by the wallet.
	TxRef string `json:"transactionHash"`

	// BlockNumber is the confirmation block, zero until confirmed.
	BlockNumber uint64 `json:"blockNumber,omitempty"`

	// Status is the lifecycle state.
	Status PaymentStatus `json:"status"`

	// Amount is the paid amount.
	Amount decimal.Decimal `json:"amount"`

	// Asset is the paid asset identifier.
	Asset string `json:"asset"`

	// Network is the network the payment was submitted on.
	Network string `json:"network"`

	// Timestamp is when the record was created, i.e. submission time.
	Timestamp time.Time `json:"timestamp"`
}

// NewPaymentRecord creates a Pending record for a just-submitted transaction.
func NewPaymentRecord(txRef, network, asset string, amount decimal.Decimal, now time.Time) *PaymentRecord {
	return &PaymentRecord{
		RequestID: uuid.NewString(),
		TxRef:     txRef,
		Status:    StatusPending,
		Amount:    amount,
		Asset:     asset,
		Network:   network,
		Timestamp: now,
	}
}

// MarkConfirmed transitions the record to Confirmed. It fails with
// ErrRecordFinalized if the record already reached a terminal status.
func (r *PaymentRecord) MarkConfirmed(blockNumber uint64) error {
	if r.Status.Terminal() {
		return ErrRecordFinalized
	}
	r.Status = StatusConfirmed
	r.BlockNumber = blockNumber
	return nil
}

// MarkFailed transitions the record to Failed.
func (r *PaymentRecord) MarkFailed() error {
	if r.Status.Terminal() {
		return ErrRecordFinalized
	}
	r.Status = StatusFailed
	return nil
}

// MarkExpired transitions the record to Expired.
func (r *PaymentRecord) MarkExpired() error {
	if r.Status.Terminal() {
		return ErrRecordFinalized
	}
	r.Status = StatusExpired
	return nil
}

// Proof derives the payment proof for a confirmed record.
func (r *PaymentRecord) Proof() PaymentProof {
	return PaymentProof{
		TxRef:       r.TxRef,
		BlockNumber: r.BlockNumber,
		Network:     r.Network,
		Amount:      r.Amount.String(),
		Asset:       r.Asset,
		Timestamp:   r.Timestamp.Unix(),
	}
}
