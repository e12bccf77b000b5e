package http

import (
	"net/http"
	"strconv"

	x402 "github.com/pay402/x402-go"
)

// Proof headers attached to the retried request after a confirmed payment.
const (
	HeaderPaymentHash = "x-payment-hash"
	// HeaderNetwork, HeaderAmount, and HeaderAsset are shared with the
	// legacy 402 encoding; see parser.go.
)

// SetProofHeaders attaches payment proof metadata to a request.
func SetProofHeaders(req *http.Request, proof x402.PaymentProof) {
	req.Header.Set(HeaderPaymentHash, proof.TxRef)
	req.Header.Set(HeaderNetwork, proof.Network)
	req.Header.Set(HeaderAmount, proof.Amount)
	req.Header.Set(HeaderAsset, proof.Asset)
}

// EncodeLegacyHeaders serializes a payment-required response into the legacy
// header encoding. Only the first requirement survives: the legacy form
// predates requirement lists.
func EncodeLegacyHeaders(resp *x402.PaymentRequiredResponse) http.Header {
	h := make(http.Header)
	if len(resp.Accepts) == 0 {
		return h
	}
	req := resp.Accepts[0]
	h.Set(HeaderAmount, req.Amount)
	h.Set(HeaderAsset, req.Asset)
	h.Set(HeaderNetwork, req.Network)
	h.Set(HeaderRecipient, req.PayTo)
	if req.Nonce != "" {
		h.Set(HeaderID, req.Nonce)
	}
	if req.Expiry != 0 {
		h.Set(HeaderExpires, strconv.FormatInt(req.Expiry, 10))
	}
	if facilitator, ok := req.Extras["facilitator"]; ok {
		h.Set(HeaderFacilitator, facilitator)
	}
	if resp.Message != "" {
		h.Set(HeaderDescription, resp.Message)
	}
	return h
}
