// Package outbox durably queues work that must eventually happen: client
// writes made while offline and notifications. A relay replays the queue.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kiumaa/kixikila/internal/apperr"
	"github.com/kiumaa/kixikila/internal/ledger"
	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/internal/notify"
	"github.com/kiumaa/kixikila/internal/storage"
)

// AppendPayload is a queued ledger append.
type AppendPayload struct {
	MemberID       string            `json:"member_id"`
	GroupID        string            `json:"group_id,omitempty"`
	CycleNumber    int               `json:"cycle_number,omitempty"`
	Type           string            `json:"type"`
	Scope          string            `json:"scope,omitempty"`
	Amount         string            `json:"amount"`
	Currency       string            `json:"currency,omitempty"`
	Status         string            `json:"status,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
}

// Draft converts the payload back to a ledger draft.
func (p AppendPayload) Draft() (ledger.Draft, error) {
	amount, err := ledger.ParseAmount(p.Amount)
	if err != nil {
		return ledger.Draft{}, err
	}
	return ledger.Draft{
		MemberID:    p.MemberID,
		GroupID:     p.GroupID,
		CycleNumber: p.CycleNumber,
		Type:        models.TransactionType(p.Type),
		Scope:       models.Scope(p.Scope),
		Amount:      amount,
		Currency:    p.Currency,
		Status:      models.TransactionStatus(p.Status),
		Metadata:    p.Metadata,
	}, nil
}

// Queue enqueues outbox entries.
type Queue struct {
	store storage.OutboxStore
	now   func() time.Time
}

// NewQueue creates a Queue on store.
func NewQueue(store storage.OutboxStore) *Queue {
	return &Queue{store: store, now: time.Now}
}

// EnqueueAppend queues a client write for the ledger. Entries are
// deduplicated by (member, idempotency key); it reports whether a new entry
// was queued.
//
// Clients may only record money coming in: deposits and card-paid
// contributions, both pending until the payment rail confirms them. Wallet
// debits go through the balance-checked payout paths.
func (q *Queue) EnqueueAppend(ctx context.Context, p AppendPayload) (bool, error) {
	if p.MemberID == "" || p.IdempotencyKey == "" {
		return false, apperr.New(apperr.KindInvalidArgument, "member id and idempotency key are required")
	}
	switch models.TransactionType(p.Type) {
	case models.TransactionDeposit:
		p.Scope = string(models.ScopeWallet)
	case models.TransactionContribution:
		if p.GroupID == "" || p.CycleNumber < 1 {
			return false, apperr.New(apperr.KindInvalidArgument, "contributions need a group and cycle")
		}
		p.Scope = string(models.ScopeExternal)
	default:
		return false, apperr.New(apperr.KindInvalidArgument, "offline writes cannot record %q transactions", p.Type)
	}
	p.Status = string(models.StatusPending)

	if _, err := p.Draft(); err != nil {
		return false, err
	}
	return q.enqueue(ctx, q.store, models.OutboxLedgerAppend, "append:"+p.MemberID+":"+p.IdempotencyKey, p)
}

// EnqueueNotification queues n for delivery.
func (q *Queue) EnqueueNotification(ctx context.Context, n notify.Notification) error {
	return q.EnqueueNotificationTx(ctx, q.store, n)
}

// EnqueueNotificationTx queues n through store, typically bound to the
// caller's unit of work.
func (q *Queue) EnqueueNotificationTx(ctx context.Context, store storage.OutboxStore, n notify.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt == 0 {
		n.CreatedAt = q.now().UnixMilli()
	}
	_, err := q.enqueue(ctx, store, models.OutboxNotification, "notify:"+n.ID, n)
	return err
}

func (q *Queue) enqueue(ctx context.Context, store storage.OutboxStore, kind models.OutboxKind, dedupeKey string, payload any) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	now := q.now().UnixMilli()
	return store.EnqueueOutbox(ctx, &models.OutboxEntry{
		ID:            uuid.New().String(),
		Kind:          kind,
		Payload:       body,
		DedupeKey:     dedupeKey,
		Status:        models.OutboxPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}
