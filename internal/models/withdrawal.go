package models

import "github.com/shopspring/decimal"

// WithdrawalStatus tracks a withdrawal through settlement.
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
)

// WithdrawalRequest is a member-initiated cash-out from the wallet.
// Its status is advanced only by the settlement collaborator.
type WithdrawalRequest struct {
	// ID is the unique identifier for the request (UUID format).
	ID string

	MemberID string

	// Amount is positive; the linked ledger debit carries the sign.
	Amount decimal.Decimal

	Currency string

	// DestinationAccount is the account reference the member asked to pay out to.
	DestinationAccount string

	// PayoutAccountID is the resolved PayoutAccount record.
	PayoutAccountID string

	Status WithdrawalStatus

	// TransactionID is the linked ledger debit.
	TransactionID string

	// IdempotencyKey is the client-supplied key for safe retries.
	IdempotencyKey string

	// FailureReason is set when settlement fails or the payout is returned.
	FailureReason string

	CreatedAt int64
	UpdatedAt int64
}

// PayoutAccount is a destination account owned by a member.
// Withdrawals to the same reference reuse the same record.
type PayoutAccount struct {
	ID        string
	MemberID  string
	Reference string
	CreatedAt int64
}
