// Package executor orchestrates a single on-chain payment: balance check,
// spending-limit gate, submission through the wallet collaborator, and a
// bounded confirmation wait. Spending is held as a reservation while the
// payment is in flight and committed only once the wallet reports a
// successful receipt, so failed or unknown-outcome payments never count
// against the window.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	x402 "github.com/pay402/x402-go"
	"github.com/pay402/x402-go/limits"
)

// DefaultConfirmationTimeout bounds the confirmation wait.
const DefaultConfirmationTimeout = 60 * time.Second

// Executor executes payments against a wallet under a spending tracker.
type Executor struct {
	wallet              x402.Wallet
	tracker             *limits.Tracker
	confirmations       int
	confirmationTimeout time.Duration
	now                 func() time.Time
	log                 *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithConfirmations sets the confirmation depth to wait for.
func WithConfirmations(n int) Option {
	return func(e *Executor) { e.confirmations = n }
}

// WithConfirmationTimeout bounds the confirmation wait.
func WithConfirmationTimeout(d time.Duration) Option {
	return func(e *Executor) { e.confirmationTimeout = d }
}

// WithLogger sets the logger. The default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an Executor. The wallet and tracker are caller-owned; the
// executor borrows them and never closes them.
func New(wallet x402.Wallet, tracker *limits.Tracker, opts ...Option) *Executor {
	e := &Executor{
		wallet:              wallet,
		tracker:             tracker,
		confirmations:       1,
		confirmationTimeout: DefaultConfirmationTimeout,
		now:                 time.Now,
		log:                 zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Pay executes the payment described by the requirement.
//
// The returned record is non-nil whenever a transaction was submitted,
// regardless of outcome: on confirmation timeout the record is Expired and
// the error carries a confirmation-timeout marker, and callers must treat
// the outcome as unknown and re-verify via the transaction reference before
// paying the same requirement again. Exactly one submission happens per
// call.
func (e *Executor) Pay(ctx context.Context, req x402.PaymentRequirement) (*x402.PaymentRecord, error) {
	amount, err := req.DecimalAmount()
	if err != nil || !amount.IsPositive() {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidAmount,
			"payment amount must be a positive decimal", x402.ErrInvalidAmount).
			WithDetails("amount", req.Amount)
	}

	balance, err := e.wallet.GetBalance(ctx, req.Network, req.Asset)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cancelled(ctxErr)
		}
		return nil, x402.NewPaymentError(x402.ErrCodePaymentFailed,
			"balance query failed", fmt.Errorf("%w: %w", x402.ErrPaymentFailed, err)).
			WithDetails("transient", true)
	}
	if balance.LessThan(amount) {
		return nil, x402.NewPaymentError(x402.ErrCodeInsufficientBalance,
			"wallet balance cannot cover payment", x402.ErrInsufficientBalance).
			WithDetails("requested", amount.String()).
			WithDetails("balance", balance.String()).
			WithDetails("network", req.Network).
			WithDetails("asset", req.Asset)
	}

	reservation, decision := e.tracker.Reserve(req.Network, req.Asset, amount, e.now())
	if reservation == nil {
		return nil, limitError(decision, req)
	}

	e.log.Debug("submitting payment",
		zap.String("network", req.Network),
		zap.String("asset", req.Asset),
		zap.String("amount", amount.String()),
		zap.String("payTo", req.PayTo))

	txRef, err := e.wallet.Send(ctx, req.Network, req.PayTo, amount, req.Asset)
	if err != nil {
		// Spending is not recorded on submission failure.
		reservation.Release()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cancelled(ctxErr)
		}
		return nil, x402.NewPaymentError(x402.ErrCodePaymentFailed,
			"transaction submission failed", fmt.Errorf("%w: %w", x402.ErrPaymentFailed, err)).
			WithDetails("transient", errors.Is(err, x402.ErrNetworkError))
	}

	record := x402.NewPaymentRecord(txRef, req.Network, req.Asset, amount, e.now())

	receipt, err := e.wallet.WaitForConfirmation(ctx, req.Network, txRef, e.confirmations, e.confirmationTimeout)
	switch {
	case err != nil:
		reservation.Release()
		if ctxErr := ctx.Err(); ctxErr != nil {
			// The in-flight payment is not aborted; the caller owns
			// re-checking the transaction reference.
			_ = record.MarkExpired()
			return record, cancelled(ctxErr).WithDetails("transactionHash", txRef)
		}
		_ = record.MarkFailed()
		return record, x402.NewPaymentError(x402.ErrCodePaymentFailed,
			"confirmation wait failed", fmt.Errorf("%w: %w", x402.ErrPaymentFailed, err)).
			WithDetails("transient", errors.Is(err, x402.ErrNetworkError)).
			WithDetails("transactionHash", txRef)

	case receipt == nil:
		// Timeout: outcome unknown, never a guaranteed failure.
		reservation.Release()
		_ = record.MarkExpired()
		e.log.Warn("confirmation timed out",
			zap.String("transactionHash", txRef),
			zap.Duration("timeout", e.confirmationTimeout))
		return record, x402.NewPaymentError(x402.ErrCodeConfirmationTimeout,
			"transaction not confirmed within timeout",
			fmt.Errorf("%w: %w", x402.ErrPaymentFailed, x402.ErrConfirmationTimeout)).
			WithDetails("transactionHash", txRef).
			WithDetails("timeout", e.confirmationTimeout.String())

	case !receipt.Success:
		reservation.Release()
		_ = record.MarkFailed()
		return record, x402.NewPaymentError(x402.ErrCodePaymentFailed,
			"transaction reverted", x402.ErrPaymentFailed).
			WithDetails("transient", false).
			WithDetails("transactionHash", txRef)
	}

	// Confirmed and recorded in the same synchronous sequence.
	reservation.Commit()
	_ = record.MarkConfirmed(receipt.BlockNumber)

	e.log.Info("payment confirmed",
		zap.String("transactionHash", txRef),
		zap.Uint64("blockNumber", receipt.BlockNumber),
		zap.String("amount", amount.String()),
		zap.String("asset", req.Asset),
		zap.String("network", req.Network))

	return record, nil
}

func cancelled(cause error) *x402.PaymentError {
	return x402.NewPaymentError(x402.ErrCodeCancelled,
		"operation cancelled", fmt.Errorf("%w: %w", x402.ErrCancelled, cause))
}

func limitError(d limits.Decision, req x402.PaymentRequirement) *x402.PaymentError {
	pe := x402.NewPaymentError(x402.ErrCodeSpendingLimit,
		fmt.Sprintf("payment rejected by %s", d.Reason), x402.ErrSpendingLimitExceeded).
		WithDetails("violatedLimit", string(d.Reason)).
		WithDetails("requested", d.Requested.String()).
		WithDetails("network", req.Network).
		WithDetails("asset", req.Asset)
	switch d.Reason {
	case limits.ReasonPerTxCap:
		pe = pe.WithDetails("perTransactionCap", d.PerTxCap.String())
	case limits.ReasonWindowCap:
		pe = pe.WithDetails("windowCap", d.WindowCap.String()).
			WithDetails("windowTotal", d.WindowTotal.String())
	}
	return pe
}
