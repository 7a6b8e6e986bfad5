package membership

import (
	"context"
	"errors"

	"github.com/kiumaa/kixikila/internal/apperr"
	"github.com/kiumaa/kixikila/internal/balance"
	"github.com/kiumaa/kixikila/internal/calculator"
	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/internal/storage"
)

// Snapshot is the membership picture of one cycle.
type Snapshot struct {
	Group *models.Group
	Cycle int

	// Active memberships ordered by join position.
	Active []*models.Membership

	// Paid maps member ID to the completed contributions for the cycle.
	Paid map[string]calculator.MemberContribution

	// Eligible are the members who may win the cycle.
	Eligible []string

	// Participants are the members whose contributions fund the prize.
	Participants []string
}

// TakeSnapshot computes eligibility for a group's cycle using store. Pass a
// transaction-bound store to read inside a unit of work.
func TakeSnapshot(ctx context.Context, store storage.Store, groupID string, cycle int) (*Snapshot, error) {
	group, err := store.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "group %s not found", groupID)
	}
	if err != nil {
		return nil, err
	}
	if cycle < 1 {
		return nil, apperr.New(apperr.KindInvalidArgument, "cycle number must be at least 1")
	}

	active, err := store.ListMemberships(ctx, groupID, true)
	if err != nil {
		return nil, err
	}
	contributions, err := balance.Contributions(ctx, store, groupID, cycle)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		Group:  group,
		Cycle:  cycle,
		Active: active,
		Paid:   make(map[string]calculator.MemberContribution, len(contributions)),
	}
	for _, c := range contributions {
		s.Paid[c.MemberID] = c
	}
	s.Eligible = s.eligible()
	s.Participants = s.participants()
	return s, nil
}

// HasPaid reports whether memberID's completed contributions cover the
// group's contribution amount.
func (s *Snapshot) HasPaid(memberID string) bool {
	c, ok := s.Paid[memberID]
	return ok && c.Paid.GreaterThanOrEqual(s.Group.ContributionAmount)
}

// FixedOrderRecipient returns the member whose turn the cycle is, by join
// rank among active members, or nil when the group has no active members.
func (s *Snapshot) FixedOrderRecipient() *models.Membership {
	if len(s.Active) == 0 {
		return nil
	}
	return s.Active[(s.Cycle-1)%len(s.Active)]
}

func (s *Snapshot) eligible() []string {
	if s.Group.Type == models.GroupTypeFixedOrder {
		m := s.FixedOrderRecipient()
		if m == nil {
			return nil
		}
		if s.Group.RequiresPrepayment && !s.HasPaid(m.MemberID) {
			return nil
		}
		return []string{m.MemberID}
	}
	return s.paidActive()
}

func (s *Snapshot) participants() []string {
	if s.Group.Type == models.GroupTypeFixedOrder && !s.Group.RequiresPrepayment {
		out := make([]string, len(s.Active))
		for i, m := range s.Active {
			out[i] = m.MemberID
		}
		return out
	}
	return s.paidActive()
}

func (s *Snapshot) paidActive() []string {
	var out []string
	for _, m := range s.Active {
		if s.HasPaid(m.MemberID) {
			out = append(out, m.MemberID)
		}
	}
	return out
}
