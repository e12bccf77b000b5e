package facilitator

import "time"

// Quote is a facilitator's price/terms offer for a service operation.
type Quote struct {
	// ID uniquely identifies the quote on the facilitator side.
	ID string `json:"quoteId"`

	// Amount is the quoted price as a decimal string.
	Amount string `json:"amount"`

	// Asset is the asset the quote is denominated in.
	Asset string `json:"asset"`

	// Network is the network payment must settle on.
	Network string `json:"network"`

	// PayTo is the facilitator's payment address.
	PayTo string `json:"payTo"`

	// Expiry is the unix-seconds deadline for backing the quote with a
	// proof. A lapsed quote is unusable; request a fresh one.
	Expiry int64 `json:"expiry"`

	// Description is a human-readable summary of what the quote buys.
	Description string `json:"description,omitempty"`
}

// Expired reports whether the quote lapsed at now.
func (q Quote) Expired(now time.Time) bool {
	return q.Expiry != 0 && q.Expiry <= now.Unix()
}

// VerificationResult is the facilitator's verdict on a payment proof.
type VerificationResult struct {
	// Verified reports whether the payment checked out.
	Verified bool `json:"verified"`

	// VerificationID identifies the verification for the access grant.
	VerificationID string `json:"verificationId,omitempty"`

	// Error carries the rejection reason when Verified is false.
	Error string `json:"error,omitempty"`
}

// ServiceAccess is the facilitator's grant after an accepted proof.
type ServiceAccess struct {
	// AccessToken is the bearer token for the protected service.
	AccessToken string `json:"accessToken"`

	// Expiry is the unix-seconds end of the access window.
	Expiry int64 `json:"expiry"`

	// Operations lists the permitted operations.
	Operations []string `json:"operations"`

	// RateLimitPerMinute caps request rate, zero meaning unlimited.
	RateLimitPerMinute int `json:"rateLimitPerMinute,omitempty"`
}

// PaymentStatus is the facilitator's view of an earlier payment.
type PaymentStatus struct {
	// Status is the facilitator-side payment state.
	Status string `json:"status"`

	// TxRef is the transaction reference the status refers to.
	TxRef string `json:"transactionHash,omitempty"`

	// Network is the network the payment settled on.
	Network string `json:"network,omitempty"`
}

// apiError is the structured error object facilitators return on failure.
type apiError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
