// Package http provides an HTTP client that drives the 402 payment flow:
// request, parse the payment terms, select one, pay it through the executor,
// and retry the request once with proof of payment attached.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	x402 "github.com/pay402/x402-go"
	"github.com/pay402/x402-go/retry"
)

// Payer executes a selected payment requirement. *executor.Executor is the
// production implementation.
type Payer interface {
	Pay(ctx context.Context, req x402.PaymentRequirement) (*x402.PaymentRecord, error)
}

// Transport is a RoundTripper that handles 402 payment flows. It wraps an
// existing http.RoundTripper; non-402 responses pass through untouched.
type Transport struct {
	// Base is the underlying RoundTripper (typically http.DefaultTransport).
	Base http.RoundTripper

	// Payer executes payments for selected requirements.
	Payer Payer

	// PreferredNetwork biases requirement selection toward a network.
	PreferredNetwork string

	// Retry configures backoff for transient payment failures.
	Retry retry.Config

	// Now is the time source for expiry checks. Nil means time.Now.
	Now func() time.Time

	// Logger records engine decisions. Nil means no logging.
	Logger *zap.Logger

	// OnPaymentAttempt is called when a payment attempt is made.
	OnPaymentAttempt x402.PaymentCallback

	// OnPaymentSuccess is called when a payment confirms.
	OnPaymentSuccess x402.PaymentCallback

	// OnPaymentFailure is called when a payment fails.
	OnPaymentFailure x402.PaymentCallback
}

type recordContextKey struct{}

// RecordFromResponse returns the PaymentRecord for the payment that unlocked
// this response, or nil when no payment happened. The record rides on the
// retried request's context.
func RecordFromResponse(resp *http.Response) *x402.PaymentRecord {
	if resp == nil || resp.Request == nil {
		return nil
	}
	record, _ := resp.Request.Context().Value(recordContextKey{}).(*x402.PaymentRecord)
	return record
}

func (t *Transport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

func (t *Transport) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}

func (t *Transport) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

func (t *Transport) retryConfig() retry.Config {
	if t.Retry.MaxAttempts == 0 {
		return retry.DefaultConfig
	}
	return t.Retry
}

// RoundTrip implements http.RoundTripper. It issues the original request
// unmodified; when the server answers 402 it parses the payment terms,
// selects one acceptable requirement, pays it, and reissues the request
// exactly once with proof headers attached. The retried request is never
// issued before the payment confirms.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	first, err := cloneWithBody(req, req.Context())
	if err != nil {
		return nil, err
	}
	resp, err := t.base().RoundTrip(first)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	terms, err := ParsePaymentRequired(resp)
	resp.Body.Close()
	if err != nil {
		// Fatal: a malformed payment demand cannot be paid.
		return nil, err
	}

	requirement := x402.Select(terms.Accepts, t.PreferredNetwork, t.now())
	if requirement == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeNoRequirement,
			"no acceptable payment requirement in 402 response",
			x402.ErrNoAcceptableRequirement).
			WithDetails("offered", len(terms.Accepts))
	}

	if t.Payer == nil {
		return nil, x402.NewPaymentError(x402.ErrCodePaymentFailed,
			"no payer configured for 402 response", x402.ErrPaymentFailed)
	}

	t.logger().Debug("payment required",
		zap.String("url", req.URL.String()),
		zap.String("network", requirement.Network),
		zap.String("asset", requirement.Asset),
		zap.String("amount", requirement.Amount))

	startTime := t.now()
	t.emit(t.OnPaymentAttempt, x402.PaymentEvent{
		Type:      x402.PaymentEventAttempt,
		Timestamp: startTime,
		URL:       req.URL.String(),
		Network:   requirement.Network,
		Scheme:    requirement.Scheme,
		Amount:    requirement.Amount,
		Asset:     requirement.Asset,
		Recipient: requirement.PayTo,
	})

	record, err := retry.WithRetry(req.Context(), t.retryConfig(), x402.IsTransient,
		func() (*x402.PaymentRecord, error) {
			return t.Payer.Pay(req.Context(), *requirement)
		})
	if err != nil {
		t.emit(t.OnPaymentFailure, x402.PaymentEvent{
			Type:      x402.PaymentEventFailure,
			Timestamp: t.now(),
			URL:       req.URL.String(),
			Network:   requirement.Network,
			Scheme:    requirement.Scheme,
			Amount:    requirement.Amount,
			Asset:     requirement.Asset,
			Recipient: requirement.PayTo,
			Error:     err,
			Duration:  t.now().Sub(startTime),
		})
		if ctxErr := req.Context().Err(); ctxErr != nil && !errors.Is(err, x402.ErrCancelled) {
			return nil, x402.NewPaymentError(x402.ErrCodeCancelled,
				"fetch cancelled during payment", x402.ErrCancelled)
		}
		return nil, err
	}

	t.emit(t.OnPaymentSuccess, x402.PaymentEvent{
		Type:        x402.PaymentEventSuccess,
		Timestamp:   t.now(),
		URL:         req.URL.String(),
		Network:     record.Network,
		Scheme:      requirement.Scheme,
		Amount:      record.Amount.String(),
		Asset:       record.Asset,
		Recipient:   requirement.PayTo,
		Transaction: record.TxRef,
		Duration:    t.now().Sub(startTime),
	})

	ctx := context.WithValue(req.Context(), recordContextKey{}, record)
	reqRetry, err := cloneWithBody(req, ctx)
	if err != nil {
		return nil, err
	}
	SetProofHeaders(reqRetry, record.Proof())

	return t.base().RoundTrip(reqRetry)
}

func (t *Transport) emit(cb x402.PaymentCallback, event x402.PaymentEvent) {
	if cb != nil {
		cb(event)
	}
}

// cloneWithBody clones a request and, when the request carries a body,
// rewinds it via GetBody so both the original attempt and the retried
// request read a fresh copy.
func cloneWithBody(req *http.Request, ctx context.Context) (*http.Request, error) {
	clone := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return clone, nil
}
