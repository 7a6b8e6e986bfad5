package models

import "github.com/shopspring/decimal"

// DrawMethod records how a winner was selected.
type DrawMethod string

const (
	DrawMethodRandom     DrawMethod = "random"
	DrawMethodFixedOrder DrawMethod = "fixed_order"
)

// Cycle is the audit record of one draw. It is created exactly once per
// (GroupID, Number) and never mutated.
type Cycle struct {
	// ID is the unique identifier for the cycle (UUID format).
	ID string

	GroupID string

	// Number is monotonic per group, starting at 1.
	Number int

	// WinnerID is the member who received the payout.
	WinnerID string

	// PrizeAmount equals the group's contribution amount times len(Eligible).
	PrizeAmount decimal.Decimal

	// Eligible is the snapshot of member IDs considered for this cycle.
	// Removing a member later does not change it.
	Eligible []string

	Method DrawMethod

	// PayoutTransactionID is the ledger record crediting the winner.
	PayoutTransactionID string

	// DrawnBy is the member who requested the draw.
	DrawnBy string

	// DrawnAt is the Unix timestamp (milliseconds) of the draw.
	DrawnAt int64
}
