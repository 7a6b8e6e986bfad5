package models

// Member is the identity provider's view of a person.
//
// The ledger never owns members; it only references them by ID. The struct
// exists so collaborators can hand richer summaries to notifications.
type Member struct {
	// ID is the identity provider's stable member ID.
	ID string

	// DisplayName is the name shown to other group members.
	DisplayName string

	// TrustScore ranges from 0 to 100.
	TrustScore int

	// VIP marks members with premium status.
	VIP bool
}
