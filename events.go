package x402

import "time"

// PaymentEventType identifies the kind of payment event.
type PaymentEventType string

const (
	// PaymentEventAttempt fires when a payment attempt starts.
	PaymentEventAttempt PaymentEventType = "attempt"
	// PaymentEventSuccess fires when a payment confirms.
	PaymentEventSuccess PaymentEventType = "success"
	// PaymentEventFailure fires when a payment attempt fails.
	PaymentEventFailure PaymentEventType = "failure"
)

// PaymentEvent carries the details of a payment lifecycle event. Events are
// delivered synchronously to opted-in callbacks; protocol correctness never
// depends on a callback being attached.
type PaymentEvent struct {
	Type        PaymentEventType
	Timestamp   time.Time
	URL         string
	Network     string
	Scheme      string
	Amount      string
	Asset       string
	Recipient   string
	Transaction string
	Error       error
	Duration    time.Duration
}

// PaymentCallback receives payment lifecycle events.
type PaymentCallback func(PaymentEvent)
