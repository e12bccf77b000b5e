package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	x402 "github.com/pay402/x402-go"
	"github.com/pay402/x402-go/executor"
	"github.com/pay402/x402-go/limits"
	"github.com/pay402/x402-go/retry"
)

var engineNow = time.Unix(1_700_000_000, 0)

// mockWallet scripts the wallet collaborator for engine tests.
type mockWallet struct {
	mu      sync.Mutex
	balance decimal.Decimal
	txSeq   int
	receipt func(txRef string) *x402.Receipt
	sends   int
}

func (m *mockWallet) GetBalance(ctx context.Context, network, asset string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

func (m *mockWallet) Send(ctx context.Context, network, to string, amount decimal.Decimal, asset string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends++
	m.txSeq++
	return fmt.Sprintf("0xtx%04d", m.txSeq), nil
}

func (m *mockWallet) WaitForConfirmation(ctx context.Context, network, txRef string, confirmations int, timeout time.Duration) (*x402.Receipt, error) {
	m.mu.Lock()
	receipt := m.receipt
	m.mu.Unlock()
	if receipt == nil {
		return &x402.Receipt{TxRef: txRef, BlockNumber: 7, Success: true}, nil
	}
	return receipt(txRef), nil
}

func (m *mockWallet) GetReceipt(ctx context.Context, network, txRef string) (*x402.Receipt, error) {
	return &x402.Receipt{TxRef: txRef, BlockNumber: 7, Success: true}, nil
}

func (m *mockWallet) sendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sends
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// paywalledServer returns 402 with the given terms until the request carries
// a payment hash, then echoes the proof checks and serves the content.
type paywalledServer struct {
	*httptest.Server
	requests int64
	terms    x402.PaymentRequiredResponse
	wantAmt  string
	wantNet  string
	wantAst  string
}

func newPaywalledServer(t *testing.T, terms x402.PaymentRequiredResponse) *paywalledServer {
	t.Helper()
	ps := &paywalledServer{terms: terms}
	if len(terms.Accepts) > 0 {
		ps.wantAmt = terms.Accepts[0].Amount
		ps.wantNet = terms.Accepts[0].Network
		ps.wantAst = terms.Accepts[0].Asset
	}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&ps.requests, 1)

		if r.Header.Get(HeaderPaymentHash) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(ps.terms)
			return
		}

		if r.Header.Get(HeaderNetwork) != ps.wantNet ||
			r.Header.Get(HeaderAmount) != ps.wantAmt ||
			r.Header.Get(HeaderAsset) != ps.wantAst {
			http.Error(w, "bad proof headers", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, "paid content")
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *paywalledServer) requestCount() int64 {
	return atomic.LoadInt64(&ps.requests)
}

func sttTerms(amount string) x402.PaymentRequiredResponse {
	return x402.PaymentRequiredResponse{
		Version: 1,
		Accepts: []x402.PaymentRequirement{{
			Scheme:  x402.SchemeExact,
			Network: "testnet",
			Asset:   "STT",
			Amount:  amount,
			PayTo:   "0xabc0000000000000000000000000000000000000",
			Expiry:  engineNow.Unix() + 60,
		}},
	}
}

func newEngine(t *testing.T, wallet x402.Wallet, tracker *limits.Tracker) *Client {
	t.Helper()
	exec := executor.New(wallet, tracker,
		executor.WithClock(func() time.Time { return engineNow }))
	client, err := NewClient(
		WithPayer(exec),
		WithClock(func() time.Time { return engineNow }),
	)
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func trackerWith(t *testing.T, perTx, window string) *limits.Tracker {
	t.Helper()
	return limits.NewTracker(limits.Config{
		WindowLength: time.Hour,
		PerTxCap:     mustDecimal(t, perTx),
		WindowCap:    mustDecimal(t, window),
	})
}

// Scenario: a 402 for 1 STT is paid and the request retried with proof.
func TestFetchPaysAndRetries(t *testing.T) {
	server := newPaywalledServer(t, sttTerms("1"))
	wallet := &mockWallet{balance: mustDecimal(t, "10")}
	tracker := trackerWith(t, "5", "5")
	client := newEngine(t, wallet, tracker)

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, record, err := client.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "paid content" {
		t.Errorf("body = %q, want the second response body", body)
	}
	if record == nil {
		t.Fatal("expected a payment record")
	}
	if record.Status != x402.StatusConfirmed {
		t.Errorf("record status = %s", record.Status)
	}
	if !record.Amount.Equal(mustDecimal(t, "1")) || record.Asset != "STT" {
		t.Errorf("record = %+v, want exactly 1 STT", record)
	}
	if wallet.sendCount() != 1 {
		t.Errorf("sends = %d, want 1", wallet.sendCount())
	}
	if server.requestCount() != 2 {
		t.Errorf("server requests = %d, want 2", server.requestCount())
	}
	if total := tracker.CurrentWindowTotal("testnet", "STT", engineNow); !total.Equal(mustDecimal(t, "1")) {
		t.Errorf("window total = %s, want 1", total)
	}
}

// Scenario: insufficient balance fails without a second HTTP call.
func TestFetchInsufficientBalance(t *testing.T) {
	server := newPaywalledServer(t, sttTerms("1"))
	wallet := &mockWallet{balance: mustDecimal(t, "0.5")}
	client := newEngine(t, wallet, trackerWith(t, "5", "5"))

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, _, err := client.Fetch(context.Background(), req)
	if !errors.Is(err, x402.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if server.requestCount() != 1 {
		t.Errorf("server requests = %d, want 1 (no retried request)", server.requestCount())
	}
	if wallet.sendCount() != 0 {
		t.Errorf("sends = %d, want 0", wallet.sendCount())
	}
}

// Scenario: a 1 STT requirement against a 0.1 per-transaction cap fails with
// detail naming the violated cap.
func TestFetchPerTransactionCap(t *testing.T) {
	server := newPaywalledServer(t, sttTerms("1"))
	wallet := &mockWallet{balance: mustDecimal(t, "10")}
	client := newEngine(t, wallet, trackerWith(t, "0.1", "5"))

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, _, err := client.Fetch(context.Background(), req)
	if !errors.Is(err, x402.ErrSpendingLimitExceeded) {
		t.Fatalf("expected ErrSpendingLimitExceeded, got %v", err)
	}

	var pe *x402.PaymentError
	if !errors.As(err, &pe) {
		t.Fatal("expected *PaymentError")
	}
	if v, _ := pe.Detail("violatedLimit"); v != string(limits.ReasonPerTxCap) {
		t.Errorf("violatedLimit = %v, want per-transaction cap", v)
	}
	if v, _ := pe.Detail("perTransactionCap"); v != "0.1" {
		t.Errorf("perTransactionCap = %v", v)
	}
	if server.requestCount() != 1 {
		t.Errorf("server requests = %d, want 1", server.requestCount())
	}
}

// Scenario: two concurrent fetches each needing 0.6 of a 1.0 window cap;
// exactly one succeeds.
func TestFetchConcurrentWindowCap(t *testing.T) {
	server := newPaywalledServer(t, sttTerms("0.6"))
	wallet := &mockWallet{balance: mustDecimal(t, "10")}
	client := newEngine(t, wallet, trackerWith(t, "1", "1.0"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
			resp, _, err := client.Fetch(context.Background(), req)
			if err == nil {
				resp.Body.Close()
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	var successes, limited int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, x402.ErrSpendingLimitExceeded):
			limited++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 || limited != 1 {
		t.Fatalf("successes = %d, limited = %d; want exactly one of each", successes, limited)
	}
}

// Scenario: confirmation wait times out; spending is not recorded and the
// request is not retried.
func TestFetchConfirmationTimeout(t *testing.T) {
	server := newPaywalledServer(t, sttTerms("1"))
	wallet := &mockWallet{
		balance: mustDecimal(t, "10"),
		receipt: func(string) *x402.Receipt { return nil },
	}
	tracker := trackerWith(t, "5", "5")
	client := newEngine(t, wallet, tracker)

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, _, err := client.Fetch(context.Background(), req)
	if !errors.Is(err, x402.ErrConfirmationTimeout) {
		t.Fatalf("expected ErrConfirmationTimeout, got %v", err)
	}
	if !errors.Is(err, x402.ErrPaymentFailed) {
		t.Error("timeout should also match ErrPaymentFailed")
	}
	if total := tracker.CurrentWindowTotal("testnet", "STT", engineNow); !total.IsZero() {
		t.Errorf("window total = %s, want unchanged 0", total)
	}
	if server.requestCount() != 1 {
		t.Errorf("server requests = %d, want 1", server.requestCount())
	}
}

func TestFetchPassesThroughNon402(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "free content")
	}))
	defer server.Close()

	wallet := &mockWallet{balance: mustDecimal(t, "10")}
	client := newEngine(t, wallet, trackerWith(t, "5", "5"))

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, record, err := client.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "free content" {
		t.Errorf("body = %q", body)
	}
	if record != nil {
		t.Errorf("record = %+v, want nil (no payment happened)", record)
	}
	if wallet.sendCount() != 0 {
		t.Errorf("sends = %d, want 0", wallet.sendCount())
	}
}

func TestFetchInvalid402IsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	wallet := &mockWallet{balance: mustDecimal(t, "10")}
	client := newEngine(t, wallet, trackerWith(t, "5", "5"))

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, _, err := client.Fetch(context.Background(), req)
	if !errors.Is(err, x402.ErrInvalidPaymentResponse) {
		t.Fatalf("expected ErrInvalidPaymentResponse, got %v", err)
	}
}

func TestFetchAllRequirementsExpired(t *testing.T) {
	terms := sttTerms("1")
	terms.Accepts[0].Expiry = engineNow.Unix() - 10
	server := newPaywalledServer(t, terms)

	wallet := &mockWallet{balance: mustDecimal(t, "10")}
	client := newEngine(t, wallet, trackerWith(t, "5", "5"))

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, _, err := client.Fetch(context.Background(), req)
	if !errors.Is(err, x402.ErrNoAcceptableRequirement) {
		t.Fatalf("expected ErrNoAcceptableRequirement, got %v", err)
	}
}

// flakyPayer fails transiently a fixed number of times before delegating.
type flakyPayer struct {
	failures int
	inner    Payer
	calls    int
}

func (f *flakyPayer) Pay(ctx context.Context, req x402.PaymentRequirement) (*x402.PaymentRecord, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, x402.NewPaymentError(x402.ErrCodePaymentFailed, "flaky rpc",
			fmt.Errorf("%w: %w", x402.ErrPaymentFailed, x402.ErrNetworkError)).
			WithDetails("transient", true)
	}
	return f.inner.Pay(ctx, req)
}

func TestFetchRetriesTransientPaymentFailures(t *testing.T) {
	server := newPaywalledServer(t, sttTerms("1"))
	wallet := &mockWallet{balance: mustDecimal(t, "10")}
	exec := executor.New(wallet, trackerWith(t, "5", "5"),
		executor.WithClock(func() time.Time { return engineNow }))
	payer := &flakyPayer{failures: 2, inner: exec}

	var slept []time.Duration
	client, err := NewClient(
		WithPayer(payer),
		WithClock(func() time.Time { return engineNow }),
		WithRetryConfig(retry.Config{
			MaxAttempts:  4,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
			Multiplier:   2,
			Sleep: func(ctx context.Context, d time.Duration) error {
				slept = append(slept, d)
				return nil
			},
		}),
	)
	if err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, record, err := client.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if payer.calls != 3 {
		t.Errorf("payer calls = %d, want 3 (two transient failures, then success)", payer.calls)
	}
	if len(slept) != 2 {
		t.Errorf("backoff sleeps = %d, want 2", len(slept))
	}
	if record == nil || record.Status != x402.StatusConfirmed {
		t.Errorf("record = %+v", record)
	}
}

func TestFetchDoesNotRetryFatalFailures(t *testing.T) {
	server := newPaywalledServer(t, sttTerms("1"))
	wallet := &mockWallet{balance: mustDecimal(t, "0.1")}
	exec := executor.New(wallet, trackerWith(t, "5", "5"),
		executor.WithClock(func() time.Time { return engineNow }))
	payer := &flakyPayer{failures: 0, inner: exec}

	client, err := NewClient(
		WithPayer(payer),
		WithClock(func() time.Time { return engineNow }),
		WithRetryConfig(retry.Config{
			MaxAttempts:  5,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
			Sleep:        func(context.Context, time.Duration) error { return nil },
		}),
	)
	if err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, _, fetchErr := client.Fetch(context.Background(), req)
	if !errors.Is(fetchErr, x402.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", fetchErr)
	}
	if payer.calls != 1 {
		t.Errorf("payer calls = %d, want 1 (fatal errors are not retried)", payer.calls)
	}
}

func TestFetchWithoutPayer(t *testing.T) {
	server := newPaywalledServer(t, sttTerms("1"))
	client, err := NewClient(WithClock(func() time.Time { return engineNow }))
	if err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, _, fetchErr := client.Fetch(context.Background(), req)
	if !errors.Is(fetchErr, x402.ErrPaymentFailed) {
		t.Fatalf("expected a typed error on 402 without payer, got %v", fetchErr)
	}
}

func TestPaymentCallbacks(t *testing.T) {
	server := newPaywalledServer(t, sttTerms("1"))
	wallet := &mockWallet{balance: mustDecimal(t, "10")}
	exec := executor.New(wallet, trackerWith(t, "5", "5"),
		executor.WithClock(func() time.Time { return engineNow }))

	var events []x402.PaymentEventType
	record := func(e x402.PaymentEvent) { events = append(events, e.Type) }

	client, err := NewClient(
		WithPayer(exec),
		WithClock(func() time.Time { return engineNow }),
		WithPaymentCallbacks(record, record, record),
	)
	if err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, _, err := client.Fetch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	want := []x402.PaymentEventType{x402.PaymentEventAttempt, x402.PaymentEventSuccess}
	if len(events) != len(want) || events[0] != want[0] || events[1] != want[1] {
		t.Errorf("events = %v, want %v", events, want)
	}
}
