package x402

import (
	"errors"
	"fmt"
)

// Standard engine error definitions.

var (
	// ErrMalformedRequirement indicates a requirement is missing mandatory fields.
	ErrMalformedRequirement = errors.New("x402: malformed payment requirement")

	// ErrInvalidAmount indicates an amount that is empty, non-numeric, or not positive.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidAddress indicates a payee address that does not match its network's format.
	ErrInvalidAddress = errors.New("x402: invalid payee address")

	// ErrInvalidPaymentResponse indicates a 402 response that could not be parsed.
	ErrInvalidPaymentResponse = errors.New("x402: invalid payment required response")

	// ErrNoAcceptableRequirement indicates no requirement survived selection.
	ErrNoAcceptableRequirement = errors.New("x402: no acceptable payment requirement")

	// ErrSpendingLimitExceeded indicates a payment was rejected by the spending tracker.
	ErrSpendingLimitExceeded = errors.New("x402: spending limit exceeded")

	// ErrInsufficientBalance indicates the wallet balance cannot cover the amount.
	ErrInsufficientBalance = errors.New("x402: insufficient balance")

	// ErrPaymentFailed indicates submission or settlement of a payment failed.
	ErrPaymentFailed = errors.New("x402: payment failed")

	// ErrConfirmationTimeout indicates the confirmation wait elapsed with the
	// transaction outcome unknown. Callers must re-verify via the transaction
	// reference before paying the same requirement again.
	ErrConfirmationTimeout = errors.New("x402: confirmation timed out")

	// ErrCancelled indicates the caller's context was cancelled mid-flight.
	ErrCancelled = errors.New("x402: operation cancelled")

	// ErrRecordFinalized indicates a second terminal transition on a payment record.
	ErrRecordFinalized = errors.New("x402: payment record already finalized")

	// ErrFacilitatorUnavailable indicates the facilitator service is unreachable.
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")

	// ErrInvalidQuoteRequest indicates the facilitator rejected the quote request.
	ErrInvalidQuoteRequest = errors.New("x402: invalid quote request")

	// ErrQuoteExpired indicates a quote lapsed before a proof was submitted.
	ErrQuoteExpired = errors.New("x402: quote expired")

	// ErrAccessDenied indicates the facilitator refused to grant access.
	ErrAccessDenied = errors.New("x402: access denied")

	// ErrVerificationFailed indicates payment verification failed.
	ErrVerificationFailed = errors.New("x402: payment verification failed")

	// ErrNetworkError indicates a transport-level failure talking to a remote.
	ErrNetworkError = errors.New("x402: network error")

	// ErrInvalidNetwork indicates an unrecognized network identifier.
	ErrInvalidNetwork = errors.New("x402: invalid or unsupported network")
)

// ErrorCode identifies a failure class in a machine-readable way.
type ErrorCode string

const (
	ErrCodeMalformedRequirement ErrorCode = "MALFORMED_REQUIREMENT"
	ErrCodeInvalidAmount        ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidAddress       ErrorCode = "INVALID_ADDRESS"
	ErrCodeInvalidResponse      ErrorCode = "INVALID_PAYMENT_RESPONSE"
	ErrCodeNoRequirement        ErrorCode = "NO_ACCEPTABLE_REQUIREMENT"
	ErrCodeSpendingLimit        ErrorCode = "SPENDING_LIMIT_EXCEEDED"
	ErrCodeInsufficientBalance  ErrorCode = "INSUFFICIENT_BALANCE"
	ErrCodePaymentFailed        ErrorCode = "PAYMENT_FAILED"
	ErrCodeConfirmationTimeout  ErrorCode = "CONFIRMATION_TIMEOUT"
	ErrCodeCancelled            ErrorCode = "CANCELLED"
	ErrCodeFacilitator          ErrorCode = "FACILITATOR_UNAVAILABLE"
	ErrCodeInvalidQuoteRequest  ErrorCode = "INVALID_QUOTE_REQUEST"
	ErrCodeQuoteExpired         ErrorCode = "QUOTE_EXPIRED"
	ErrCodeAccessDenied         ErrorCode = "ACCESS_DENIED"
	ErrCodeVerificationFailed   ErrorCode = "VERIFICATION_FAILED"
	ErrCodeNetworkError         ErrorCode = "NETWORK_ERROR"
)

// PaymentError is a typed error carrying a code and structured detail.
// Details hold the numeric values that make limit and funds failures
// actionable (requested amount, violated cap, available balance). Never put
// key material or raw signatures in Details.
type PaymentError struct {
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]any
}

// NewPaymentError creates a PaymentError wrapping an underlying cause.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails attaches a key/value pair and returns the error for chaining.
func (e *PaymentError) WithDetails(key string, value any) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Detail returns a detail value and whether it was set.
func (e *PaymentError) Detail(key string) (any, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// IsTransient reports whether an error represents a transient condition that
// a retry with backoff can reasonably change. Parse, selection, limit, funds,
// and cancellation errors are never transient; confirmation timeouts are
// "unknown outcome" and deliberately not transient for the same requirement.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrNetworkError),
		errors.Is(err, ErrFacilitatorUnavailable):
		return true
	case errors.Is(err, ErrConfirmationTimeout),
		errors.Is(err, ErrCancelled):
		return false
	}
	var pe *PaymentError
	if errors.As(err, &pe) {
		switch pe.Code {
		case ErrCodeNetworkError, ErrCodeFacilitator:
			return true
		case ErrCodePaymentFailed:
			// Submission failures are transient only when marked so by the
			// layer that observed them.
			transient, _ := pe.Detail("transient")
			b, ok := transient.(bool)
			return ok && b
		}
	}
	return false
}
