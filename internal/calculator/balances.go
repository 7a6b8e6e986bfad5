// Package calculator folds ledger records into balances. It is pure: no
// storage, no clocks, no caching.
package calculator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/kiumaa/kixikila/internal/models"
)

// WalletBalance is the fold of one member's wallet-scoped transactions.
type WalletBalance struct {
	// Balance is Σ completed credits − Σ completed debits.
	Balance decimal.Decimal

	// Reserved is the magnitude of pending debits (in-flight withdrawals and
	// wallet-funded contributions awaiting confirmation).
	Reserved decimal.Decimal

	// Available is Balance − Reserved: what may still be spent.
	Available decimal.Decimal

	// Completed counts the transactions that contributed to Balance.
	Completed int
}

// FoldWallet computes a member's wallet balance.
//
// Algorithm:
// - Only wallet-scoped records count; external contributions never touch the wallet
// - Completed records add their signed amount (credits positive, debits negative)
// - Pending debits are reserved; pending credits are ignored until completed
// - Failed records are ignored
func FoldWallet(txs []*models.Transaction) WalletBalance {
	out := WalletBalance{
		Balance:  decimal.Zero,
		Reserved: decimal.Zero,
	}
	for _, tx := range txs {
		if tx.Scope != models.ScopeWallet {
			continue
		}
		switch tx.Status {
		case models.StatusCompleted:
			out.Balance = out.Balance.Add(tx.Amount)
			out.Completed++
		case models.StatusPending:
			if tx.Amount.IsNegative() {
				out.Reserved = out.Reserved.Add(tx.Amount.Neg())
			}
		}
	}
	out.Available = out.Balance.Sub(out.Reserved)
	return out
}

// MemberContribution is what one member paid towards a cycle.
type MemberContribution struct {
	MemberID string
	Paid     decimal.Decimal
}

// FoldContributions sums completed contributions per member, regardless of
// whether they were paid from the wallet or by card. Amounts are returned as
// positive values. The result is sorted by member ID.
func FoldContributions(txs []*models.Transaction) []MemberContribution {
	paid := make(map[string]decimal.Decimal)
	for _, tx := range txs {
		if tx.Type != models.TransactionContribution || tx.Status != models.StatusCompleted {
			continue
		}
		paid[tx.MemberID] = paid[tx.MemberID].Add(tx.Amount.Abs())
	}

	out := make([]MemberContribution, 0, len(paid))
	for memberID, amount := range paid {
		out = append(out, MemberContribution{MemberID: memberID, Paid: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out
}

// Pool is the total of completed contributions in txs.
func Pool(txs []*models.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, c := range FoldContributions(txs) {
		total = total.Add(c.Paid)
	}
	return total
}

// Prize is the payout of a cycle: contribution × number of participants.
func Prize(contribution decimal.Decimal, participants int) decimal.Decimal {
	return contribution.Mul(decimal.NewFromInt(int64(participants)))
}
