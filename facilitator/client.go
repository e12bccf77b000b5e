// Package facilitator implements the client side of the facilitator
// handshake: request a quote, pay it off-band, submit the payment proof, and
// collect a time-boxed access grant. It also exposes the out-of-band
// verification and status endpoints used for reconciliation.
//
// Proof submission is idempotent at this layer: once a quote has a
// verification result, resubmitting the same proof returns that result
// without another wire call, so an ambiguous earlier attempt can never
// double-charge.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	x402 "github.com/pay402/x402-go"
	"github.com/pay402/x402-go/retry"
)

// DefaultRequestTimeout bounds each facilitator call.
const DefaultRequestTimeout = 30 * time.Second

// Config configures a facilitator Client.
type Config struct {
	// BaseURL is the facilitator service root, e.g. "https://pay.example.com".
	BaseURL string `validate:"required,url"`

	// HTTPClient is the caller-owned HTTP client. Nil uses http.DefaultClient.
	HTTPClient *http.Client

	// RequestTimeout bounds each call. Zero uses DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Retry configures backoff for quote requests and verification polls.
	// Proof submission is never retried through this policy.
	Retry retry.Config

	// Logger records client activity. Nil means no logging.
	Logger *zap.Logger

	// Now is the time source for quote expiry. Nil means time.Now.
	Now func() time.Time
}

var validate = validator.New()

// Client talks to a facilitator service over JSON REST.
type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	retry   retry.Config
	log     *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	quotes  map[string]Quote
	results map[string]*VerificationResult
}

// NewClient validates the configuration and creates a Client.
func NewClient(cfg Config) (*Client, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid facilitator config: %w", err)
	}

	c := &Client{
		baseURL: cfg.BaseURL,
		client:  cfg.HTTPClient,
		timeout: cfg.RequestTimeout,
		retry:   cfg.Retry,
		log:     cfg.Logger,
		now:     cfg.Now,
		quotes:  make(map[string]Quote),
		results: make(map[string]*VerificationResult),
	}
	if c.client == nil {
		c.client = http.DefaultClient
	}
	if c.timeout == 0 {
		c.timeout = DefaultRequestTimeout
	}
	if c.retry.MaxAttempts == 0 {
		c.retry = retry.DefaultConfig
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// QuoteRequest is the payload for POST /quotes.
type QuoteRequest struct {
	ServiceID string `json:"serviceId" validate:"required"`
	Operation string `json:"operation" validate:"required"`
	Network   string `json:"network,omitempty"`
	Asset     string `json:"asset,omitempty"`
}

// RequestQuote asks the facilitator to price a service operation. Transport
// failures are retried with backoff; a quote request is side-effect free on
// the remote, so retrying is safe.
func (c *Client) RequestQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if err := validate.Struct(req); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidQuoteRequest,
			"quote request is missing required fields", x402.ErrInvalidQuoteRequest)
	}

	idempotencyKey := uuid.NewString()
	quote, err := retry.WithRetry(ctx, c.retry, x402.IsTransient, func() (*Quote, error) {
		var q Quote
		if err := c.post(ctx, "/quotes", idempotencyKey, req, &q); err != nil {
			return nil, err
		}
		return &q, nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.quotes[quote.ID] = *quote
	c.mu.Unlock()

	c.log.Debug("quote received",
		zap.String("quoteId", quote.ID),
		zap.String("amount", quote.Amount),
		zap.String("asset", quote.Asset),
		zap.String("network", quote.Network))
	return quote, nil
}

// SubmitProof submits payment evidence for a quote. Submission is never
// blindly retried: on ambiguous transport failure the caller must check
// VerifyPayment or GetPaymentStatus before resubmitting. Submitting the same
// proof twice for the same quote returns the first verification result.
func (c *Client) SubmitProof(ctx context.Context, quoteID string, proof x402.PaymentProof) (*VerificationResult, error) {
	c.mu.Lock()
	if cached, ok := c.results[quoteID]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	quote, known := c.quotes[quoteID]
	c.mu.Unlock()

	if known && quote.Expired(c.now()) {
		return nil, x402.NewPaymentError(x402.ErrCodeQuoteExpired,
			"quote lapsed before proof submission; request a fresh quote",
			x402.ErrQuoteExpired).
			WithDetails("quoteId", quoteID)
	}
	if !x402.ValidTxRef(proof.Network, proof.TxRef) {
		return nil, x402.NewPaymentError(x402.ErrCodeVerificationFailed,
			"proof transaction reference is malformed", x402.ErrVerificationFailed).
			WithDetails("transactionHash", proof.TxRef).
			WithDetails("network", proof.Network)
	}

	var result VerificationResult
	if err := c.post(ctx, "/quotes/"+url.PathEscape(quoteID)+"/proof", "", proof, &result); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.results[quoteID] = &result
	c.mu.Unlock()

	c.log.Debug("proof submitted",
		zap.String("quoteId", quoteID),
		zap.Bool("verified", result.Verified))
	return &result, nil
}

// GetAccess exchanges a verified proof for a service access grant. It fails
// with AccessDenied when verification did not pass.
func (c *Client) GetAccess(ctx context.Context, quoteID, verificationID string) (*ServiceAccess, error) {
	c.mu.Lock()
	cached, ok := c.results[quoteID]
	c.mu.Unlock()
	if ok && !cached.Verified {
		return nil, x402.NewPaymentError(x402.ErrCodeAccessDenied,
			"verification failed; access cannot be granted", x402.ErrAccessDenied).
			WithDetails("quoteId", quoteID)
	}

	body := map[string]string{"verificationId": verificationID}
	var access ServiceAccess
	if err := c.post(ctx, "/quotes/"+url.PathEscape(quoteID)+"/access", "", body, &access); err != nil {
		return nil, err
	}
	return &access, nil
}

// VerifyPayment checks a transaction out-of-band, independent of any quote.
// Safe to retry; used for reconciliation and before resubmitting a proof.
func (c *Client) VerifyPayment(ctx context.Context, txRef, network string) (*VerificationResult, error) {
	return retry.WithRetry(ctx, c.retry, x402.IsTransient, func() (*VerificationResult, error) {
		query := url.Values{}
		query.Set("transactionHash", txRef)
		query.Set("network", network)

		var result VerificationResult
		if err := c.get(ctx, "/payments/verify?"+query.Encode(), &result); err != nil {
			return nil, err
		}
		return &result, nil
	})
}

// GetPaymentStatus fetches the facilitator's view of a payment.
func (c *Client) GetPaymentStatus(ctx context.Context, paymentID string) (*PaymentStatus, error) {
	return retry.WithRetry(ctx, c.retry, x402.IsTransient, func() (*PaymentStatus, error) {
		var status PaymentStatus
		if err := c.get(ctx, "/payments/"+url.PathEscape(paymentID)+"/status", &status); err != nil {
			return nil, err
		}
		return &status, nil
	})
}

// Health probes the facilitator's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return x402.NewPaymentError(x402.ErrCodeFacilitator,
			"facilitator request failed",
			fmt.Errorf("%w: %w", x402.ErrFacilitatorUnavailable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return x402.NewPaymentError(x402.ErrCodeFacilitator,
			"failed to decode facilitator response", err)
	}
	return nil
}

// decodeError maps the facilitator's structured {code, message, details}
// error object onto the engine's typed errors.
func (c *Client) decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var remote apiError
	if err := json.Unmarshal(body, &remote); err != nil || remote.Code == "" {
		remote = apiError{
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message: http.StatusText(resp.StatusCode),
		}
	}

	var (
		code     x402.ErrorCode
		sentinel error
	)
	switch {
	case remote.Code == "INVALID_QUOTE_REQUEST" || resp.StatusCode == http.StatusUnprocessableEntity:
		code, sentinel = x402.ErrCodeInvalidQuoteRequest, x402.ErrInvalidQuoteRequest
	case remote.Code == "QUOTE_EXPIRED" || resp.StatusCode == http.StatusGone:
		code, sentinel = x402.ErrCodeQuoteExpired, x402.ErrQuoteExpired
	case remote.Code == "ACCESS_DENIED" || resp.StatusCode == http.StatusForbidden:
		code, sentinel = x402.ErrCodeAccessDenied, x402.ErrAccessDenied
	case resp.StatusCode >= 500:
		code, sentinel = x402.ErrCodeFacilitator, x402.ErrFacilitatorUnavailable
	default:
		code, sentinel = x402.ErrCodeVerificationFailed, x402.ErrVerificationFailed
	}

	pe := x402.NewPaymentError(code, remote.Message, sentinel).
		WithDetails("remoteCode", remote.Code).
		WithDetails("status", resp.StatusCode)
	for k, v := range remote.Details {
		pe = pe.WithDetails(k, v)
	}
	return pe
}
