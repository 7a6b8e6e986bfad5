package models

import "github.com/shopspring/decimal"

// GroupType selects how a cycle's winner is chosen.
type GroupType string

const (
	// GroupTypeLottery draws the winner uniformly at random among paid members.
	GroupTypeLottery GroupType = "lottery"
	// GroupTypeFixedOrder pays members in join order.
	GroupTypeFixedOrder GroupType = "fixed_order"
)

// Valid reports whether t is a known group type.
func (t GroupType) Valid() bool {
	return t == GroupTypeLottery || t == GroupTypeFixedOrder
}

// Frequency is how often members contribute.
type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	}
	return false
}

// GroupStatus is the lifecycle state of a group.
type GroupStatus string

const (
	GroupStatusActive    GroupStatus = "active"
	GroupStatusPaused    GroupStatus = "paused"
	GroupStatusCompleted GroupStatus = "completed"
)

// Group represents a rotating savings circle.
// Groups are archived (status completed), never deleted.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string

	// Name is the display name of the group (e.g., "Família Luanda").
	Name string

	// Slug is a URL-safe handle derived from Name, used in invite links
	// and archive object keys. Unique across groups.
	Slug string

	// ContributionAmount is what every member pays per cycle.
	ContributionAmount decimal.Decimal

	// Currency is the ISO-4217 code all of the group's transactions use.
	Currency string

	// Frequency is the contribution cadence.
	Frequency Frequency

	// MaxMembers caps the number of active memberships.
	MaxMembers int

	// Type selects lottery or fixed-order payouts.
	Type GroupType

	// CurrentCycle is the next cycle to be drawn, starting at 1.
	CurrentCycle int

	// TotalCycles is the number of cycles after which the group completes.
	// Defaults to MaxMembers.
	TotalCycles int

	// Status is the lifecycle state.
	Status GroupStatus

	// RequiresPrepayment gates the fixed-order recipient on having paid
	// the current cycle's contribution.
	RequiresPrepayment bool

	// RequiresFullFunding blocks a draw until every active member has paid.
	RequiresFullFunding bool

	// CreatedBy is the member ID of the creator.
	CreatedBy string

	// CreatedAt is the Unix timestamp (milliseconds) when the group was created.
	CreatedAt int64

	// UpdatedAt is the Unix timestamp (milliseconds) of the last change.
	UpdatedAt int64
}

// Role is a member's role within one group.
type Role string

const (
	RoleCreator Role = "creator"
	RoleAdmin   Role = "admin"
	RoleMember  Role = "member"
)

// Valid reports whether r is one of the closed set of roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCreator, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// MembershipStatus is the state of a membership.
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "active"
	MembershipLeft    MembershipStatus = "left"
	MembershipRemoved MembershipStatus = "removed"
)

// Membership is a member's seat in a group.
// Memberships are never deleted; leaving or removal only changes Status.
type Membership struct {
	// ID is the unique identifier for the membership (UUID format).
	ID string

	GroupID  string
	MemberID string
	Role     Role
	Status   MembershipStatus

	// JoinPosition orders members for fixed-order payouts. It is assigned
	// at join time and never reused within a group.
	JoinPosition int

	// JoinedAt is the Unix timestamp (milliseconds) of the join.
	JoinedAt int64
}
