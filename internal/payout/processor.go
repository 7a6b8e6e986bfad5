// Package payout moves money out of member wallets: withdrawals to external
// accounts and wallet-funded group contributions.
//
// Every debit checks the available balance and appends in the same unit of
// work, under the member's lock, so concurrent requests cannot overdraw.
package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kiumaa/kixikila/internal/apperr"
	"github.com/kiumaa/kixikila/internal/balance"
	"github.com/kiumaa/kixikila/internal/ledger"
	"github.com/kiumaa/kixikila/internal/metrics"
	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/internal/notify"
	"github.com/kiumaa/kixikila/internal/storage"
)

const tracerName = "github.com/kiumaa/kixikila/internal/payout"

// Notifier queues notifications inside the caller's unit of work.
type Notifier interface {
	EnqueueNotificationTx(ctx context.Context, store storage.OutboxStore, n notify.Notification) error
}

// Option configures a Processor.
type Option func(*Processor)

// WithNotifier sets where withdrawal status changes are announced.
func WithNotifier(n Notifier) Option { return func(p *Processor) { p.notifier = n } }

// WithMetrics records withdrawal outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Processor) { p.metrics = m } }

// Processor handles withdrawal requests and their settlement.
type Processor struct {
	ledger   *ledger.Ledger
	store    storage.Store
	notifier Notifier
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// NewProcessor creates a Processor.
func NewProcessor(l *ledger.Ledger, store storage.Store, opts ...Option) *Processor {
	p := &Processor{
		ledger: l,
		store:  store,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func withdrawalKey(key string) string { return "withdrawal:" + key }

func returnKey(key string) string { return "withdrawal:" + key + ":return" }

func contributionKey(key string) string { return "contribution:" + key }

// RequestWithdrawal reserves amount from the member's wallet and records a
// pending withdrawal to destination. A reused key returns the original
// request; if it described a different withdrawal the original is returned
// together with apperr.ErrDuplicateIdempotencyKey.
func (p *Processor) RequestWithdrawal(ctx context.Context, memberID string, amount decimal.Decimal, destination, key string) (*models.WithdrawalRequest, error) {
	ctx, span := p.tracer.Start(ctx, "payout.RequestWithdrawal", trace.WithAttributes(
		attribute.String("member.id", memberID),
		attribute.String("amount", amount.String()),
	))
	defer span.End()

	switch {
	case !amount.IsPositive():
		return nil, p.fail(span, apperr.New(apperr.KindInvalidAmount, "withdrawal amount must be positive"))
	case memberID == "":
		return nil, p.fail(span, apperr.New(apperr.KindInvalidArgument, "member id is required"))
	case strings.TrimSpace(destination) == "":
		return nil, p.fail(span, apperr.New(apperr.KindInvalidArgument, "destination account is required"))
	case key == "":
		return nil, p.fail(span, apperr.New(apperr.KindInvalidArgument, "idempotency key is required"))
	}
	destination = strings.TrimSpace(destination)

	var (
		out      *models.WithdrawalRequest
		replayed bool
	)
	err := p.ledger.Atomically(ctx, func(tx *ledger.Tx) error {
		s := tx.Store()
		if err := tx.LockMember(ctx, memberID); err != nil {
			return err
		}

		existing, err := s.GetWithdrawalByKey(ctx, memberID, key)
		if err == nil {
			out, replayed = existing, true
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		bal, err := tx.Balance(ctx, memberID)
		if err != nil {
			return err
		}
		if bal.Available.LessThan(amount) {
			return apperr.New(apperr.KindInsufficientBalance,
				"available balance %s is less than %s", bal.Available.String(), amount.String())
		}

		account, err := s.ResolvePayoutAccount(ctx, memberID, destination)
		if err != nil {
			return err
		}

		id := uuid.New().String()
		txn, err := tx.Append(ctx, ledger.Draft{
			MemberID: memberID,
			Type:     models.TransactionWithdrawal,
			Scope:    models.ScopeWallet,
			Amount:   amount,
			Status:   models.StatusPending,
			Metadata: map[string]string{models.MetaWithdrawalID: id},
		}, withdrawalKey(key))
		if err != nil {
			return err
		}

		now := p.ledger.Now().UnixMilli()
		out = &models.WithdrawalRequest{
			ID:                 id,
			MemberID:           memberID,
			Amount:             amount,
			Currency:           txn.Currency,
			DestinationAccount: destination,
			PayoutAccountID:    account.ID,
			Status:             models.WithdrawalPending,
			TransactionID:      txn.ID,
			IdempotencyKey:     key,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		return s.CreateWithdrawal(ctx, out)
	})
	if err != nil {
		p.metrics.ObserveWithdrawal("rejected")
		return nil, p.fail(span, err)
	}

	if replayed {
		p.metrics.ObserveWithdrawal("replayed")
		if !out.Amount.Equal(amount) || out.DestinationAccount != destination {
			return out, apperr.New(apperr.KindDuplicateIdempotencyKey,
				"idempotency key %q was already used for a different withdrawal", key)
		}
		return out, nil
	}

	p.metrics.ObserveWithdrawal("requested")
	span.SetAttributes(attribute.String("withdrawal.id", out.ID))
	slog.Info("Withdrawal requested",
		"withdrawal_id", out.ID,
		"member_id", memberID,
		"amount", amount.String(),
		"payout_account_id", out.PayoutAccountID,
	)
	return out, nil
}

// GetWithdrawal returns one withdrawal request.
func (p *Processor) GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	w, err := p.store.GetWithdrawal(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "withdrawal %s not found", id)
	}
	return w, err
}

// MarkProcessing records that the payment rail picked the withdrawal up.
func (p *Processor) MarkProcessing(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	var out *models.WithdrawalRequest
	err := p.ledger.Atomically(ctx, func(tx *ledger.Tx) error {
		w, err := p.transition(ctx, tx, id, []models.WithdrawalStatus{models.WithdrawalPending}, models.WithdrawalProcessing, "")
		out = w
		return err
	})
	if err != nil {
		return nil, err
	}
	p.metrics.ObserveWithdrawal("processing")
	return out, nil
}

// Resolve settles a withdrawal. A completed outcome completes the linked
// debit; a failed one fails it, which releases the reserved funds.
// Resolving to the status the withdrawal already has is a no-op.
func (p *Processor) Resolve(ctx context.Context, id string, outcome models.WithdrawalStatus, reason string) (*models.WithdrawalRequest, error) {
	ctx, span := p.tracer.Start(ctx, "payout.Resolve", trace.WithAttributes(
		attribute.String("withdrawal.id", id),
		attribute.String("outcome", string(outcome)),
	))
	defer span.End()

	var txStatus models.TransactionStatus
	switch outcome {
	case models.WithdrawalCompleted:
		txStatus = models.StatusCompleted
	case models.WithdrawalFailed:
		txStatus = models.StatusFailed
	default:
		return nil, p.fail(span, apperr.New(apperr.KindInvalidArgument, "cannot resolve a withdrawal as %q", outcome))
	}

	var (
		out      *models.WithdrawalRequest
		replayed bool
	)
	err := p.ledger.Atomically(ctx, func(tx *ledger.Tx) error {
		current, err := p.load(ctx, tx.Store(), id)
		if err != nil {
			return err
		}
		if current.Status == outcome {
			out, replayed = current, true
			return nil
		}

		w, err := p.transition(ctx, tx, id,
			[]models.WithdrawalStatus{models.WithdrawalPending, models.WithdrawalProcessing}, outcome, reason)
		if err != nil {
			return err
		}
		if _, err := tx.MarkStatus(ctx, w.TransactionID, txStatus); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, p.fail(span, err)
	}
	if !replayed {
		p.metrics.ObserveWithdrawal(string(outcome))
		slog.Info("Withdrawal resolved", "withdrawal_id", id, "status", outcome, "reason", reason)
	}
	return out, nil
}

// Return undoes a completed withdrawal that the payment rail sent back. The
// debit stays in the ledger; a compensating completed credit restores the
// wallet and the request is marked failed.
func (p *Processor) Return(ctx context.Context, id, reason string) (*models.WithdrawalRequest, error) {
	ctx, span := p.tracer.Start(ctx, "payout.Return", trace.WithAttributes(attribute.String("withdrawal.id", id)))
	defer span.End()

	var out *models.WithdrawalRequest
	err := p.ledger.Atomically(ctx, func(tx *ledger.Tx) error {
		current, err := p.load(ctx, tx.Store(), id)
		if err != nil {
			return err
		}
		if current.Status != models.WithdrawalCompleted {
			return apperr.New(apperr.KindInvalidStateTransition,
				"withdrawal %s is %s, only completed withdrawals can be returned", id, current.Status)
		}

		if _, err := tx.Append(ctx, ledger.Draft{
			MemberID: current.MemberID,
			Type:     models.TransactionWithdrawal,
			Scope:    models.ScopeWallet,
			Amount:   current.Amount,
			Currency: current.Currency,
			Status:   models.StatusCompleted,
			Metadata: map[string]string{
				models.MetaCompensates:  current.TransactionID,
				models.MetaWithdrawalID: current.ID,
			},
		}, returnKey(current.IdempotencyKey)); err != nil {
			return err
		}

		out, err = p.transition(ctx, tx, id,
			[]models.WithdrawalStatus{models.WithdrawalCompleted}, models.WithdrawalFailed, "returned: "+reason)
		return err
	})
	if err != nil {
		return nil, p.fail(span, err)
	}
	p.metrics.ObserveWithdrawal("returned")
	slog.Info("Withdrawal returned", "withdrawal_id", id, "member_id", out.MemberID, "reason", reason)
	return out, nil
}

// PayContributionFromWallet pays the member's contribution to the group's
// current cycle out of their wallet. A reused key returns the original
// contribution.
func (p *Processor) PayContributionFromWallet(ctx context.Context, memberID, groupID, key string) (*models.Transaction, error) {
	ctx, span := p.tracer.Start(ctx, "payout.PayContributionFromWallet", trace.WithAttributes(
		attribute.String("member.id", memberID),
		attribute.String("group.id", groupID),
	))
	defer span.End()

	if key == "" {
		return nil, p.fail(span, apperr.New(apperr.KindInvalidArgument, "idempotency key is required"))
	}

	var out *models.Transaction
	err := p.ledger.Atomically(ctx, func(tx *ledger.Tx) error {
		s := tx.Store()
		if err := tx.LockMember(ctx, memberID); err != nil {
			return err
		}

		if existing, err := s.GetTransactionByKey(ctx, memberID, contributionKey(key)); err == nil {
			if existing.Type != models.TransactionContribution || existing.GroupID != groupID {
				return apperr.New(apperr.KindDuplicateIdempotencyKey,
					"idempotency key %q was already used for a different transaction", key)
			}
			out = existing
			return nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		group, err := s.GetGroup(ctx, groupID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.Wrap(apperr.KindNotFound, err, "group %s not found", groupID)
		}
		if err != nil {
			return err
		}
		if group.Status != models.GroupStatusActive {
			return apperr.New(apperr.KindGroupNotActive, "group %s is %s", groupID, group.Status)
		}
		if _, err := s.GetActiveMembership(ctx, groupID, memberID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.New(apperr.KindUnauthorized, "member %s is not an active member of group %s", memberID, groupID)
			}
			return err
		}

		paid, err := balance.Contributions(ctx, s, groupID, group.CurrentCycle)
		if err != nil {
			return err
		}
		for _, c := range paid {
			if c.MemberID == memberID && !c.Paid.LessThan(group.ContributionAmount) {
				return apperr.New(apperr.KindInvalidArgument,
					"member %s already contributed to cycle %d", memberID, group.CurrentCycle)
			}
		}

		bal, err := tx.Balance(ctx, memberID)
		if err != nil {
			return err
		}
		if bal.Available.LessThan(group.ContributionAmount) {
			return apperr.New(apperr.KindInsufficientBalance,
				"available balance %s is less than the contribution of %s",
				bal.Available.String(), group.ContributionAmount.String())
		}

		out, err = tx.Append(ctx, ledger.Draft{
			MemberID:    memberID,
			GroupID:     groupID,
			CycleNumber: group.CurrentCycle,
			Type:        models.TransactionContribution,
			Scope:       models.ScopeWallet,
			Amount:      group.ContributionAmount,
			Currency:    group.Currency,
			Status:      models.StatusCompleted,
		}, contributionKey(key))
		return err
	})
	if err != nil {
		return nil, p.fail(span, err)
	}
	slog.Info("Contribution paid from wallet",
		"member_id", memberID,
		"group_id", groupID,
		"cycle", out.CycleNumber,
		"transaction_id", out.ID,
	)
	return out, nil
}

func (p *Processor) load(ctx context.Context, s storage.WithdrawalStore, id string) (*models.WithdrawalRequest, error) {
	w, err := s.GetWithdrawal(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "withdrawal %s not found", id)
	}
	return w, err
}

// transition moves a withdrawal between statuses and queues the
// withdrawal_status_changed notification in the same unit of work.
func (p *Processor) transition(ctx context.Context, tx *ledger.Tx, id string, from []models.WithdrawalStatus, to models.WithdrawalStatus, reason string) (*models.WithdrawalRequest, error) {
	s := tx.Store()
	at := p.ledger.Now().UnixMilli()

	ok, err := s.UpdateWithdrawalStatus(ctx, id, from, to, reason, at)
	if err != nil {
		return nil, err
	}
	w, err := p.load(ctx, s, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.KindInvalidStateTransition, "withdrawal %s is %s, cannot become %s", id, w.Status, to)
	}

	if p.notifier == nil {
		return w, nil
	}
	payload, err := json.Marshal(notify.WithdrawalStatus{
		WithdrawalID: w.ID,
		MemberID:     w.MemberID,
		Amount:       w.Amount.String(),
		Currency:     w.Currency,
		Status:       string(w.Status),
		Reason:       w.FailureReason,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode withdrawal status: %w", err)
	}
	err = p.notifier.EnqueueNotificationTx(ctx, s, notify.Notification{
		ID:         fmt.Sprintf("withdrawal:%s:%s:%d", w.ID, w.Status, at),
		Type:       notify.TypeWithdrawalStatusChanged,
		Recipients: []string{w.MemberID},
		Payload:    payload,
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (p *Processor) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, apperr.MessageOf(err))
	return err
}
