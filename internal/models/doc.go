// Package models defines the core domain models for Kixikila.
//
// # Models
//
//   - Member: a person known to the identity provider, referenced by ID only
//   - Group: a rotating savings circle with a contribution amount and draw type
//   - Membership: a member's seat in a group (role, status, join position)
//   - Transaction: one immutable record of the append-only ledger
//   - Cycle: the audit record of one draw
//   - WithdrawalRequest: a member-initiated cash-out against the wallet
//   - PayoutAccount: a destination account reference owned by a member
//   - OutboxEntry: a durably queued write or notification awaiting replay
//
// # Design Principles
//
//  1. **Ledger is the source of truth**: balances are never stored, only derived
//  2. **Append-only**: transactions and cycles are never updated in place (only
//     a pending transaction's status may change, exactly once)
//  3. **Audit first**: memberships are never deleted, only their status changes
//  4. **Avoid circular references**: use ID strings instead of pointers
//  5. **Money is decimal**: amounts use shopspring/decimal, never float64
package models
