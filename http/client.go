package http

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	x402 "github.com/pay402/x402-go"
	"github.com/pay402/x402-go/retry"
)

// Client is an HTTP client that automatically handles 402 payment flows.
// It wraps a standard http.Client and adds payment handling via Transport.
type Client struct {
	*http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates a 402-aware HTTP client. Without a payer option the
// client still works; 402 responses then fail with a typed error.
func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{
		Client: &http.Client{},
	}
	if client.Transport == nil {
		client.Transport = http.DefaultTransport
	}

	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}

	return client, nil
}

// transport returns the Transport, wrapping the current base on first use.
func (c *Client) transport() *Transport {
	t, ok := c.Transport.(*Transport)
	if !ok {
		t = &Transport{Base: c.Transport}
		c.Transport = t
	}
	return t
}

// Fetch issues the request through the payment flow and returns the final
// response together with the payment record, which is nil when the resource
// required no payment. The context is the ceiling for every step, payment
// included.
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*http.Response, *x402.PaymentRecord, error) {
	resp, err := c.Do(req.WithContext(ctx))
	if err != nil {
		return nil, nil, err
	}
	return resp, RecordFromResponse(resp), nil
}

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		c.Client = httpClient
		if c.Transport == nil {
			c.Transport = http.DefaultTransport
		}
		return nil
	}
}

// WithPayer sets the payment executor used to satisfy 402 responses.
func WithPayer(payer Payer) ClientOption {
	return func(c *Client) error {
		c.transport().Payer = payer
		return nil
	}
}

// WithPreferredNetwork biases requirement selection toward a network.
func WithPreferredNetwork(network string) ClientOption {
	return func(c *Client) error {
		c.transport().PreferredNetwork = network
		return nil
	}
}

// WithRetryConfig sets the backoff policy for transient payment failures.
func WithRetryConfig(cfg retry.Config) ClientOption {
	return func(c *Client) error {
		c.transport().Retry = cfg
		return nil
	}
}

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) error {
		c.transport().Logger = log
		return nil
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) error {
		c.transport().Now = now
		return nil
	}
}

// WithTimeout sets the overall per-request deadline on the client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.Timeout = d
		return nil
	}
}

// WithPaymentCallbacks sets all payment callbacks at once. Pass nil for any
// callback you don't want.
func WithPaymentCallbacks(onAttempt, onSuccess, onFailure x402.PaymentCallback) ClientOption {
	return func(c *Client) error {
		t := c.transport()
		t.OnPaymentAttempt = onAttempt
		t.OnPaymentSuccess = onSuccess
		t.OnPaymentFailure = onFailure
		return nil
	}
}
