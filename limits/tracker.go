// Package limits provides a sliding-window spending tracker. A Tracker keeps
// a per-(network, asset) ledger of authorized amounts and gates candidate
// payments against a per-transaction cap and a rolling window total cap.
//
// A Tracker is an explicit, constructed instance owned by whoever drives
// payments; there is no package-level state.
package limits

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Reason identifies which cap rejected a candidate amount.
type Reason string

const (
	// ReasonPerTxCap means the candidate alone exceeds the per-transaction cap.
	ReasonPerTxCap Reason = "per-transaction cap"
	// ReasonWindowCap means the candidate would push the window total over its cap.
	ReasonWindowCap Reason = "window total cap"
)

// Config configures a Tracker. A zero cap leaves that dimension unlimited.
type Config struct {
	// WindowLength is the sliding window size.
	WindowLength time.Duration

	// PerTxCap caps any single payment amount.
	PerTxCap decimal.Decimal

	// WindowCap caps the sum of amounts authorized inside the window.
	WindowCap decimal.Decimal
}

// Decision is the outcome of evaluating a candidate amount.
type Decision struct {
	Allowed     bool
	Reason      Reason
	Requested   decimal.Decimal
	WindowTotal decimal.Decimal
	PerTxCap    decimal.Decimal
	WindowCap   decimal.Decimal
}

type ledgerKey struct {
	network string
	asset   string
}

type event struct {
	amount decimal.Decimal
	at     time.Time
}

type ledger struct {
	mu     sync.Mutex
	events []event
}

// Tracker is a sliding-window spending ledger keyed by (network, asset).
// Evaluation and recording for the same key are serialized by a per-key
// mutex; distinct keys proceed in parallel.
type Tracker struct {
	cfg Config

	mu      sync.Mutex
	ledgers map[ledgerKey]*ledger
}

// NewTracker creates a Tracker with the given caps.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:     cfg,
		ledgers: make(map[ledgerKey]*ledger),
	}
}

func (t *Tracker) ledgerFor(network, asset string) *ledger {
	key := ledgerKey{network: network, asset: asset}
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.ledgers[key]
	if !ok {
		l = &ledger{}
		t.ledgers[key] = l
	}
	return l
}

// prune drops events older than the window. Caller holds l.mu.
func (t *Tracker) prune(l *ledger, now time.Time) {
	cutoff := now.Add(-t.cfg.WindowLength)
	kept := l.events[:0]
	for _, e := range l.events {
		if e.at.After(cutoff) || e.at.Equal(cutoff) {
			kept = append(kept, e)
		}
	}
	l.events = kept
}

// windowSum returns the in-window total. Caller holds l.mu.
func (t *Tracker) windowSum(l *ledger, now time.Time) decimal.Decimal {
	cutoff := now.Add(-t.cfg.WindowLength)
	total := decimal.Zero
	for _, e := range l.events {
		if e.at.Before(cutoff) {
			continue
		}
		total = total.Add(e.amount)
	}
	return total
}

func (t *Tracker) decide(amount, windowTotal decimal.Decimal) Decision {
	d := Decision{
		Allowed:     true,
		Requested:   amount,
		WindowTotal: windowTotal,
		PerTxCap:    t.cfg.PerTxCap,
		WindowCap:   t.cfg.WindowCap,
	}
	if t.cfg.PerTxCap.IsPositive() && amount.GreaterThan(t.cfg.PerTxCap) {
		d.Allowed = false
		d.Reason = ReasonPerTxCap
		return d
	}
	if t.cfg.WindowCap.IsPositive() && windowTotal.Add(amount).GreaterThan(t.cfg.WindowCap) {
		d.Allowed = false
		d.Reason = ReasonWindowCap
	}
	return d
}

// Evaluate checks a candidate amount against both caps without mutating
// state. The returned Decision carries the values needed for actionable
// error detail.
func (t *Tracker) Evaluate(network, asset string, amount decimal.Decimal, now time.Time) Decision {
	l := t.ledgerFor(network, asset)
	l.mu.Lock()
	defer l.mu.Unlock()
	return t.decide(amount, t.windowSum(l, now))
}

// CheckAllowed reports whether a candidate amount passes both caps. It never
// mutates state; callers branch on the boolean.
func (t *Tracker) CheckAllowed(network, asset string, amount decimal.Decimal, now time.Time) bool {
	return t.Evaluate(network, asset, amount, now).Allowed
}

// Record appends an authorized amount to the ledger. Use only after a
// payment is authorized, never speculatively; Reserve covers the speculative
// case.
func (t *Tracker) Record(network, asset string, amount decimal.Decimal, now time.Time) {
	l := t.ledgerFor(network, asset)
	l.mu.Lock()
	defer l.mu.Unlock()
	t.prune(l, now)
	l.events = append(l.events, event{amount: amount, at: now})
}

// CurrentWindowTotal returns the sum of in-window events, pruning stale ones.
func (t *Tracker) CurrentWindowTotal(network, asset string, now time.Time) decimal.Decimal {
	l := t.ledgerFor(network, asset)
	l.mu.Lock()
	defer l.mu.Unlock()
	t.prune(l, now)
	return t.windowSum(l, now)
}

// Reservation is a held amount that counts against the window until it is
// committed or released. It resolves exactly once.
type Reservation struct {
	tracker *Tracker
	ledger  *ledger
	amount  decimal.Decimal
	at      time.Time
	done    bool
	mu      sync.Mutex
}

// Reserve atomically evaluates a candidate amount and, when allowed, holds
// it against the window. The check and the hold happen under the per-key
// mutex, so two concurrent reservations can never jointly exceed a cap. The
// returned Reservation is nil when the Decision disallows the amount.
//
// Callers commit after the payment confirms and release on any failure, so
// speculative holds never survive a failed payment.
func (t *Tracker) Reserve(network, asset string, amount decimal.Decimal, now time.Time) (*Reservation, Decision) {
	l := t.ledgerFor(network, asset)
	l.mu.Lock()
	defer l.mu.Unlock()

	t.prune(l, now)
	d := t.decide(amount, t.windowSum(l, now))
	if !d.Allowed {
		return nil, d
	}

	l.events = append(l.events, event{amount: amount, at: now})
	return &Reservation{tracker: t, ledger: l, amount: amount, at: now}, d
}

// Commit finalizes the reservation: the held event stays in the ledger.
func (r *Reservation) Commit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
}

// Release removes the held event so the window total is as if the
// reservation never happened. Releasing a committed reservation is a no-op.
func (r *Reservation) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true

	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	for i, e := range r.ledger.events {
		if e.at.Equal(r.at) && e.amount.Equal(r.amount) {
			r.ledger.events = append(r.ledger.events[:i], r.ledger.events[i+1:]...)
			return
		}
	}
}
