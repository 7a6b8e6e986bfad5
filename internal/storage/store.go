// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/kiumaa/kixikila/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a uniqueness constraint rejects a write.
	ErrConflict = errors.New("record conflicts with an existing one")
)

// Condition is a SQL WHERE fragment with positional parameters, produced by
// the filter package.
type Condition struct {
	Clause string
	Params []any
}

// TransactionQuery selects a page of ledger records.
// Exactly one of MemberID and GroupID should be set.
type TransactionQuery struct {
	MemberID string
	GroupID  string

	// Where narrows the result with a parsed filter expression.
	Where Condition

	// AfterSeq resumes after the given append sequence (exclusive).
	AfterSeq int64

	// Limit caps the page size. Zero means no limit.
	Limit int
}

// WalletVersion identifies the state of a member's wallet records. Appends
// raise MaxSeq; status changes only leave pending, so each one raises
// Settled.
type WalletVersion struct {
	MaxSeq  int64
	Settled int64
}

// Store defines the storage operations used by the ledger and cycle engine.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL)
// without changing the service layer.
type Store interface {
	TransactionStore
	GroupStore
	CycleStore
	WithdrawalStore
	OutboxStore
	DrawLeaseStore

	// InTx runs fn inside one database transaction. The Store handed to fn
	// is bound to that transaction; fn must use it for every read and write.
	// Calling InTx on a transaction-bound Store runs fn in the same
	// transaction.
	InTx(ctx context.Context, fn func(tx Store) error) error

	// Lock serialises concurrent transactions on key until the enclosing
	// transaction ends. It is a no-op for backends that already serialise
	// writers.
	Lock(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// TransactionStore persists ledger records.
type TransactionStore interface {
	// InsertTransaction appends tx unless (MemberID, IdempotencyKey) already
	// exists. It reports whether a row was written and fills tx.Seq on insert.
	InsertTransaction(ctx context.Context, tx *models.Transaction) (bool, error)

	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetTransactionByKey(ctx context.Context, memberID, key string) (*models.Transaction, error)

	// UpdateTransactionStatus moves a transaction from one status to another.
	// It reports false when the transaction was not in the from status.
	UpdateTransactionStatus(ctx context.Context, id string, from, to models.TransactionStatus, at int64) (bool, error)

	// ListTransactions returns records in ascending append order.
	ListTransactions(ctx context.Context, q TransactionQuery) ([]*models.Transaction, error)

	// ListWalletTransactions returns every wallet-scoped record of a member
	// in the given currency, in append order.
	ListWalletTransactions(ctx context.Context, memberID, currency string) ([]*models.Transaction, error)

	// WalletVersion returns a marker that changes whenever a wallet-scoped
	// record of the member is appended or settled, by any writer.
	WalletVersion(ctx context.Context, memberID, currency string) (WalletVersion, error)

	// ListCycleContributions returns every contribution of a group's cycle.
	ListCycleContributions(ctx context.Context, groupID string, cycle int) ([]*models.Transaction, error)
}

// GroupStore persists groups and memberships.
type GroupStore interface {
	// CreateGroup returns ErrConflict when the slug is taken.
	CreateGroup(ctx context.Context, group *models.Group) error
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	UpdateGroupStatus(ctx context.Context, id string, status models.GroupStatus, at int64) error

	// AdvanceCycle sets current_cycle to from+1 (and status) only if it is
	// still from. It reports whether the update applied.
	AdvanceCycle(ctx context.Context, groupID string, from int, status models.GroupStatus, at int64) (bool, error)

	// CreateMembership returns ErrConflict when an active membership exists.
	CreateMembership(ctx context.Context, m *models.Membership) error
	GetMembership(ctx context.Context, id string) (*models.Membership, error)
	GetActiveMembership(ctx context.Context, groupID, memberID string) (*models.Membership, error)

	// ListMemberships returns a group's memberships ordered by join position.
	ListMemberships(ctx context.Context, groupID string, activeOnly bool) ([]*models.Membership, error)
	UpdateMembershipStatus(ctx context.Context, id string, status models.MembershipStatus) error
	NextJoinPosition(ctx context.Context, groupID string) (int, error)
}

// CycleStore persists draw audit records.
type CycleStore interface {
	// CreateCycle returns ErrConflict when (GroupID, Number) exists.
	CreateCycle(ctx context.Context, c *models.Cycle) error
	GetCycle(ctx context.Context, groupID string, number int) (*models.Cycle, error)
	ListCycles(ctx context.Context, groupID string) ([]*models.Cycle, error)
}

// WithdrawalStore persists withdrawal requests and payout accounts.
type WithdrawalStore interface {
	CreateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error)
	GetWithdrawalByKey(ctx context.Context, memberID, key string) (*models.WithdrawalRequest, error)

	// UpdateWithdrawalStatus moves a request to status `to` if it is currently
	// in one of `from`. It reports whether the update applied.
	UpdateWithdrawalStatus(ctx context.Context, id string, from []models.WithdrawalStatus, to models.WithdrawalStatus, reason string, at int64) (bool, error)

	// ResolvePayoutAccount returns the member's account with the given
	// reference, creating it on first use.
	ResolvePayoutAccount(ctx context.Context, memberID, reference string) (*models.PayoutAccount, error)
}

// OutboxStore persists queued work for the relay.
type OutboxStore interface {
	// EnqueueOutbox inserts e unless its DedupeKey exists; reports whether it did.
	EnqueueOutbox(ctx context.Context, e *models.OutboxEntry) (bool, error)
	GetOutbox(ctx context.Context, id string) (*models.OutboxEntry, error)

	// LeaseOutbox claims up to limit due entries for owner.
	LeaseOutbox(ctx context.Context, owner string, limit int, now time.Time, ttl time.Duration) ([]*models.OutboxEntry, error)
	MarkOutboxSucceeded(ctx context.Context, id, owner string, now time.Time) error

	// MarkOutboxRetry releases a lease after a failed attempt. When dead is
	// true the entry is parked for manual inspection.
	MarkOutboxRetry(ctx context.Context, id, owner string, next time.Time, lastErr string, dead bool, now time.Time) error
}

// DrawLeaseStore backs the multi-instance draw lock.
type DrawLeaseStore interface {
	// AcquireDrawLease takes the group's lease if it is free or expired.
	AcquireDrawLease(ctx context.Context, groupID, owner string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseDrawLease(ctx context.Context, groupID, owner string) error
	PurgeExpiredDrawLeases(ctx context.Context, now time.Time) (int64, error)
}
