// Package ledger is the append-only record of every monetary event. Records
// are never deleted and their amounts never change; only a pending status
// may move once to completed or failed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kiumaa/kixikila/internal/apperr"
	"github.com/kiumaa/kixikila/internal/calculator"
	"github.com/kiumaa/kixikila/internal/metrics"
	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/internal/storage"
)

// DefaultCurrency is used when no currency is configured.
const DefaultCurrency = "AOA"

// Draft is a transaction before it is appended.
type Draft struct {
	MemberID    string
	GroupID     string
	CycleNumber int
	Type        models.TransactionType

	// Scope defaults to wallet.
	Scope models.Scope

	// Amount is normalised to the type's direction unless Metadata carries
	// models.MetaCompensates, in which case the sign is kept as given.
	Amount decimal.Decimal

	// Currency defaults to the ledger currency.
	Currency string

	// Status defaults to pending. Only pending and completed may be appended.
	Status models.TransactionStatus

	Metadata map[string]string
}

// Subscriber is called after a unit of work commits with the members whose
// records changed.
type Subscriber func(memberIDs []string)

// Option configures a Ledger.
type Option func(*Ledger)

// WithCurrency sets the wallet currency.
func WithCurrency(code string) Option {
	return func(l *Ledger) {
		if code != "" {
			l.currency = code
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMetrics records appends and transitions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// Ledger appends and queries transactions.
type Ledger struct {
	store    storage.Store
	currency string
	now      func() time.Time
	metrics  *metrics.Metrics

	mu          sync.RWMutex
	subscribers []Subscriber
}

// New creates a Ledger on store.
func New(store storage.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		currency: DefaultCurrency,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Currency returns the wallet currency.
func (l *Ledger) Currency() string { return l.currency }

// Now returns the ledger clock's current time.
func (l *Ledger) Now() time.Time { return l.now() }

// Subscribe registers fn for post-commit change notifications.
func (l *Ledger) Subscribe(fn Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}

// Append records a transaction. A reused idempotency key returns the
// original record; if the reused key carries a different draft the original
// is returned together with an apperr.ErrDuplicateIdempotencyKey error.
func (l *Ledger) Append(ctx context.Context, d Draft, key string) (*models.Transaction, error) {
	var out *models.Transaction
	var dupErr error
	err := l.Atomically(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.Append(ctx, d, key)
		if errors.Is(err, apperr.ErrDuplicateIdempotencyKey) {
			dupErr = err
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, dupErr
}

// MarkStatus resolves a pending transaction.
func (l *Ledger) MarkStatus(ctx context.Context, id string, status models.TransactionStatus) (*models.Transaction, error) {
	var out *models.Transaction
	err := l.Atomically(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.MarkStatus(ctx, id, status)
		return err
	})
	return out, err
}

// Get returns one transaction.
func (l *Ledger) Get(ctx context.Context, id string) (*models.Transaction, error) {
	tx, err := l.store.GetTransaction(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "transaction %s not found", id)
	}
	return tx, err
}

// Atomically runs fn as one unit of work. Every append and status change made
// through the Tx commits or rolls back together. Subscribers are notified
// only after a successful commit.
func (l *Ledger) Atomically(ctx context.Context, fn func(tx *Tx) error) error {
	var committed *Tx
	err := l.store.InTx(ctx, func(s storage.Store) error {
		tx := &Tx{ledger: l, store: s, touched: make(map[string]struct{})}
		if err := fn(tx); err != nil {
			return err
		}
		committed = tx
		return nil
	})
	if err != nil {
		return err
	}
	if committed != nil && len(committed.touched) > 0 {
		l.publish(committed.members())
	}
	return nil
}

func (l *Ledger) publish(memberIDs []string) {
	l.mu.RLock()
	subs := make([]Subscriber, len(l.subscribers))
	copy(subs, l.subscribers)
	l.mu.RUnlock()

	for _, fn := range subs {
		fn(memberIDs)
	}
}

// Tx is a ledger unit of work bound to one storage transaction.
type Tx struct {
	ledger  *Ledger
	store   storage.Store
	touched map[string]struct{}
}

// Store returns the transaction-bound store. Every read inside the unit of
// work must go through it.
func (t *Tx) Store() storage.Store { return t.store }

// LockMember serialises concurrent units of work on memberID until commit.
func (t *Tx) LockMember(ctx context.Context, memberID string) error {
	return t.store.Lock(ctx, "member:"+memberID)
}

// Balance folds memberID's wallet inside the unit of work.
func (t *Tx) Balance(ctx context.Context, memberID string) (calculator.WalletBalance, error) {
	txs, err := t.store.ListWalletTransactions(ctx, memberID, t.ledger.currency)
	if err != nil {
		return calculator.WalletBalance{}, err
	}
	return calculator.FoldWallet(txs), nil
}

// Append records a transaction inside the unit of work.
func (t *Tx) Append(ctx context.Context, d Draft, key string) (*models.Transaction, error) {
	rec, err := t.ledger.build(d, key)
	if err != nil {
		return nil, err
	}

	if orig, ok := rec.Metadata[models.MetaCompensates]; ok {
		if _, err := t.store.GetTransaction(ctx, orig); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, apperr.New(apperr.KindInvalidArgument, "compensated transaction %s does not exist", orig)
			}
			return nil, err
		}
	}

	inserted, err := t.store.InsertTransaction(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := t.store.GetTransactionByKey(ctx, rec.MemberID, key)
		if err != nil {
			return nil, fmt.Errorf("failed to load replayed transaction: %w", err)
		}
		t.ledger.metrics.ObserveAppend(string(existing.Type), string(existing.Status), true)
		if !sameDraft(existing, rec) {
			return existing, apperr.New(apperr.KindDuplicateIdempotencyKey,
				"idempotency key %q was already used for a different transaction", key)
		}
		return existing, nil
	}

	t.touched[rec.MemberID] = struct{}{}
	t.ledger.metrics.ObserveAppend(string(rec.Type), string(rec.Status), false)
	slog.Debug("Transaction appended",
		"transaction_id", rec.ID,
		"member_id", rec.MemberID,
		"type", rec.Type,
		"amount", rec.Amount.String(),
		"status", rec.Status,
	)
	return rec, nil
}

// MarkStatus moves a pending transaction to completed or failed.
func (t *Tx) MarkStatus(ctx context.Context, id string, status models.TransactionStatus) (*models.Transaction, error) {
	if status != models.StatusCompleted && status != models.StatusFailed {
		return nil, apperr.New(apperr.KindInvalidStateTransition, "cannot transition to %q", status)
	}

	rec, err := t.store.GetTransaction(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "transaction %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusPending {
		return nil, apperr.New(apperr.KindInvalidStateTransition,
			"transaction %s is %s, cannot become %s", id, rec.Status, status)
	}

	at := t.ledger.now().UnixMilli()
	ok, err := t.store.UpdateTransactionStatus(ctx, id, models.StatusPending, status, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.KindInvalidStateTransition, "transaction %s is no longer pending", id)
	}

	rec.Status = status
	rec.UpdatedAt = at
	t.touched[rec.MemberID] = struct{}{}
	t.ledger.metrics.ObserveTransition(string(status))
	return rec, nil
}

func (t *Tx) members() []string {
	out := make([]string, 0, len(t.touched))
	for id := range t.touched {
		out = append(out, id)
	}
	return out
}

// build validates a draft and turns it into a record ready to insert.
func (l *Ledger) build(d Draft, key string) (*models.Transaction, error) {
	if d.MemberID == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "member id is required")
	}
	if key == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "idempotency key is required")
	}
	if !d.Type.Valid() {
		return nil, apperr.New(apperr.KindInvalidArgument, "unknown transaction type %q", d.Type)
	}
	if d.Amount.IsZero() {
		return nil, apperr.New(apperr.KindInvalidAmount, "amount must be non-zero")
	}

	scope := d.Scope
	if scope == "" {
		scope = models.ScopeWallet
	}
	if !scope.Valid() {
		return nil, apperr.New(apperr.KindInvalidArgument, "unknown scope %q", d.Scope)
	}
	if scope == models.ScopeExternal && d.Type != models.TransactionContribution {
		return nil, apperr.New(apperr.KindInvalidArgument, "only contributions may be paid externally")
	}

	status := d.Status
	if status == "" {
		status = models.StatusPending
	}
	if status != models.StatusPending && status != models.StatusCompleted {
		return nil, apperr.New(apperr.KindInvalidStateTransition, "cannot append a %s transaction", status)
	}

	currency := d.Currency
	if currency == "" {
		currency = l.currency
	}

	amount := d.Amount
	if _, compensating := d.Metadata[models.MetaCompensates]; !compensating {
		amount = amount.Abs()
		if d.Type.IsDebit() {
			amount = amount.Neg()
		}
	}

	var meta map[string]string
	if len(d.Metadata) > 0 {
		meta = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			meta[k] = v
		}
	}

	now := l.now().UnixMilli()
	return &models.Transaction{
		ID:             uuid.New().String(),
		MemberID:       d.MemberID,
		GroupID:        d.GroupID,
		CycleNumber:    d.CycleNumber,
		Type:           d.Type,
		Scope:          scope,
		Amount:         amount,
		Currency:       currency,
		Status:         status,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
		Metadata:       meta,
	}, nil
}

// sameDraft reports whether a replayed key describes the same movement.
// Status is excluded: the original may have been resolved since.
func sameDraft(a, b *models.Transaction) bool {
	return a.MemberID == b.MemberID &&
		a.GroupID == b.GroupID &&
		a.CycleNumber == b.CycleNumber &&
		a.Type == b.Type &&
		a.Scope == b.Scope &&
		a.Currency == b.Currency &&
		a.Amount.Equal(b.Amount)
}
