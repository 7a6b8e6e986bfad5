package models

import "github.com/shopspring/decimal"

// TransactionType is the kind of monetary event.
type TransactionType string

const (
	TransactionContribution TransactionType = "contribution"
	TransactionPayout       TransactionType = "payout"
	TransactionWithdrawal   TransactionType = "withdrawal"
	TransactionDeposit      TransactionType = "deposit"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionContribution, TransactionPayout, TransactionWithdrawal, TransactionDeposit:
		return true
	}
	return false
}

// IsDebit reports whether the type takes money out of the member's wallet.
func (t TransactionType) IsDebit() bool {
	return t == TransactionContribution || t == TransactionWithdrawal
}

// TransactionStatus is the settlement state of a transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	return s == StatusPending || s == StatusCompleted || s == StatusFailed
}

// Scope tells whether a transaction moves money in or out of the member's
// wallet. Contributions paid by card go straight to the group pool and are
// external; everything else touching the wallet is wallet-scoped.
type Scope string

const (
	ScopeWallet   Scope = "wallet"
	ScopeExternal Scope = "external"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeWallet || s == ScopeExternal
}

// Metadata keys with meaning to the ledger.
const (
	// MetaCompensates links a compensating record to the transaction it undoes.
	MetaCompensates = "compensates"
	// MetaWithdrawalID links a withdrawal debit to its request.
	MetaWithdrawalID = "withdrawal_id"
	// MetaCycleID links a payout to its cycle.
	MetaCycleID = "cycle_id"
)

// Transaction is one immutable record of the ledger.
type Transaction struct {
	// ID is the unique identifier for the transaction (UUID format).
	ID string

	// Seq is the append order. It is the canonical order for replay.
	Seq int64

	// MemberID is the member whose wallet or contribution this is.
	MemberID string

	// GroupID is empty for wallet-only operations (deposits, withdrawals).
	GroupID string

	// CycleNumber tags contributions and payouts with their cycle.
	// Zero when not cycle-scoped.
	CycleNumber int

	Type  TransactionType
	Scope Scope

	// Amount is signed: credits to the member are positive, debits negative.
	Amount decimal.Decimal

	Currency string
	Status   TransactionStatus

	// IdempotencyKey is unique per member.
	IdempotencyKey string

	// CreatedAt is the Unix timestamp (milliseconds) of the append.
	CreatedAt int64

	// UpdatedAt changes only when the status transitions.
	UpdatedAt int64

	// Metadata is free-form.
	Metadata map[string]string
}

// IsCredit reports whether the transaction adds to the member's balance.
func (t *Transaction) IsCredit() bool {
	return t.Amount.IsPositive()
}
