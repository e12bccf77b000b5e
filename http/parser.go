package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	x402 "github.com/pay402/x402-go"
)

// Legacy header names for servers that encode payment terms in individual
// response headers instead of a JSON body. Both hyphenated and underscored
// spellings are accepted.
const (
	HeaderFacilitator = "x-payment-facilitator"
	HeaderAmount      = "x-payment-amount"
	HeaderAsset       = "x-payment-asset"
	HeaderToken       = "x-payment-token"
	HeaderNetwork     = "x-payment-network"
	HeaderRecipient   = "x-payment-recipient"
	HeaderDescription = "x-payment-description"
	HeaderExpires     = "x-payment-expires"
	HeaderID          = "x-payment-id"
)

// ParsePaymentRequired turns a 402 response into a validated
// PaymentRequiredResponse. A JSON body with an "accepts" list is preferred;
// when the body carries no structured terms, the legacy x-payment-* headers
// are consulted. Parsing is pure over the response bytes and headers.
func ParsePaymentRequired(resp *http.Response) (*x402.PaymentRequiredResponse, error) {
	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, x402.NewPaymentError(x402.ErrCodeInvalidResponse,
				"failed to read 402 response body", err)
		}
	}
	return Parse(body, resp.Header)
}

// Parse parses a payment-required body and headers without needing an
// *http.Response.
func Parse(body []byte, header http.Header) (*x402.PaymentRequiredResponse, error) {
	if parsed, ok, err := parseBody(body); err != nil {
		return nil, err
	} else if ok {
		return parsed, nil
	}
	return parseHeaders(header)
}

// parseBody attempts the structured JSON encoding. ok is false when the body
// does not carry a structured payment response at all, which routes the
// caller to the header fallback.
func parseBody(body []byte) (*x402.PaymentRequiredResponse, bool, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || !strings.HasPrefix(trimmed, "{") {
		return nil, false, nil
	}

	var parsed x402.PaymentRequiredResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, nil
	}
	if parsed.Accepts == nil {
		return nil, false, nil
	}

	if len(parsed.Accepts) == 0 {
		return nil, true, x402.NewPaymentError(x402.ErrCodeInvalidResponse,
			"payment required response has an empty accepts list",
			x402.ErrInvalidPaymentResponse)
	}
	for i, req := range parsed.Accepts {
		if err := req.Validate(); err != nil {
			if pe, ok := err.(*x402.PaymentError); ok {
				return nil, true, pe.WithDetails("requirementIndex", i)
			}
			return nil, true, err
		}
	}
	return &parsed, true, nil
}

// headerValue reads a legacy header under both its hyphenated and
// underscored spellings.
func headerValue(h http.Header, name string) string {
	if v := h.Get(name); v != "" {
		return v
	}
	return h.Get(strings.ReplaceAll(name, "-", "_"))
}

// parseHeaders builds a single-requirement response from the legacy header
// encoding. The legacy form predates schemes and always means "exact".
func parseHeaders(h http.Header) (*x402.PaymentRequiredResponse, error) {
	req := x402.PaymentRequirement{
		Scheme:  x402.SchemeExact,
		Network: headerValue(h, HeaderNetwork),
		Asset:   headerValue(h, HeaderAsset),
		Amount:  headerValue(h, HeaderAmount),
		PayTo:   headerValue(h, HeaderRecipient),
		Nonce:   headerValue(h, HeaderID),
	}
	if req.Asset == "" {
		req.Asset = headerValue(h, HeaderToken)
	}

	if req.Network == "" && req.Asset == "" && req.Amount == "" && req.PayTo == "" {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidResponse,
			"402 response carries neither a structured body nor legacy payment headers",
			x402.ErrInvalidPaymentResponse)
	}

	if expires := headerValue(h, HeaderExpires); expires != "" {
		ts, err := strconv.ParseInt(expires, 10, 64)
		if err != nil {
			return nil, x402.NewPaymentError(x402.ErrCodeInvalidResponse,
				"legacy expires header is not a unix timestamp",
				fmt.Errorf("%w: %w", x402.ErrInvalidPaymentResponse, err)).
				WithDetails("expires", expires)
		}
		req.Expiry = ts
	}

	if facilitator := headerValue(h, HeaderFacilitator); facilitator != "" {
		req.Extras = map[string]string{"facilitator": facilitator}
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	return &x402.PaymentRequiredResponse{
		Version: x402.Version,
		Accepts: []x402.PaymentRequirement{req},
		Message: headerValue(h, HeaderDescription),
	}, nil
}
