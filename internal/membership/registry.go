// Package membership manages savings groups, their members and roles, and
// decides who is eligible for a cycle's payout.
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"

	"github.com/kiumaa/kixikila/internal/apperr"
	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/internal/storage"
)

const (
	minMembers       = 2
	slugAttempts     = 5
	slugSuffixLength = 6
)

// Definition describes a group to create.
type Definition struct {
	Name               string
	ContributionAmount decimal.Decimal

	// Currency defaults to the registry currency and must match it.
	Currency  string
	Frequency models.Frequency

	MaxMembers int
	Type       models.GroupType

	// TotalCycles defaults to MaxMembers.
	TotalCycles int

	RequiresPrepayment  bool
	RequiresFullFunding bool
}

// Registry manages groups and memberships.
type Registry struct {
	store    storage.Store
	currency string
	now      func() time.Time
}

// NewRegistry creates a Registry. Groups are created in currency.
func NewRegistry(store storage.Store, currency string) *Registry {
	return &Registry{store: store, currency: currency, now: time.Now}
}

// CreateGroup validates def, stores the group and seats creatorID as its
// creator at join position 0.
func (r *Registry) CreateGroup(ctx context.Context, def Definition, creatorID string) (*models.Group, error) {
	name := strings.TrimSpace(def.Name)
	switch {
	case creatorID == "":
		return nil, apperr.New(apperr.KindUnauthorized, "creator is required")
	case name == "":
		return nil, apperr.New(apperr.KindInvalidArgument, "group name is required")
	case !def.ContributionAmount.IsPositive():
		return nil, apperr.New(apperr.KindInvalidAmount, "contribution amount must be positive")
	case def.MaxMembers < minMembers:
		return nil, apperr.New(apperr.KindInvalidArgument, "a group needs room for at least %d members", minMembers)
	case !def.Type.Valid():
		return nil, apperr.New(apperr.KindInvalidArgument, "unknown group type %q", def.Type)
	case !def.Frequency.Valid():
		return nil, apperr.New(apperr.KindInvalidArgument, "unknown frequency %q", def.Frequency)
	case def.TotalCycles < 0:
		return nil, apperr.New(apperr.KindInvalidArgument, "total cycles cannot be negative")
	}

	currency := strings.ToUpper(def.Currency)
	if currency == "" {
		currency = r.currency
	}
	if currency != r.currency {
		return nil, apperr.New(apperr.KindInvalidArgument, "groups must use %s", r.currency)
	}

	totalCycles := def.TotalCycles
	if totalCycles == 0 {
		totalCycles = def.MaxMembers
	}

	now := r.now().UnixMilli()
	group := &models.Group{
		ID:                  uuid.New().String(),
		Name:                name,
		ContributionAmount:  def.ContributionAmount,
		Currency:            currency,
		Frequency:           def.Frequency,
		MaxMembers:          def.MaxMembers,
		Type:                def.Type,
		CurrentCycle:        1,
		TotalCycles:         totalCycles,
		Status:              models.GroupStatusActive,
		RequiresPrepayment:  def.RequiresPrepayment,
		RequiresFullFunding: def.RequiresFullFunding,
		CreatedBy:           creatorID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	var err error
	for attempt := 0; attempt < slugAttempts; attempt++ {
		group.Slug = makeSlug(name)
		err = r.store.InTx(ctx, func(tx storage.Store) error {
			if err := tx.CreateGroup(ctx, group); err != nil {
				return err
			}
			return tx.CreateMembership(ctx, &models.Membership{
				ID:           uuid.New().String(),
				GroupID:      group.ID,
				MemberID:     creatorID,
				Role:         models.RoleCreator,
				Status:       models.MembershipActive,
				JoinPosition: 0,
				JoinedAt:     now,
			})
		})
		if !errors.Is(err, storage.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	slog.Info("Group created", "group_id", group.ID, "slug", group.Slug, "type", group.Type)
	return group, nil
}

func makeSlug(name string) string {
	base := slug.Make(name)
	if base == "" {
		base = "group"
	}
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:slugSuffixLength]
	return base + "-" + suffix
}

// GetGroup returns a group.
func (r *Registry) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	g, err := r.store.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "group %s not found", groupID)
	}
	return g, err
}

// ListMembers returns every membership of a group, active or not, in join order.
func (r *Registry) ListMembers(ctx context.Context, groupID string) ([]*models.Membership, error) {
	if _, err := r.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return r.store.ListMemberships(ctx, groupID, false)
}

// Authorize returns memberID's active membership if its role grants capability.
func (r *Registry) Authorize(ctx context.Context, groupID, memberID string, capability Capability) (*models.Membership, error) {
	return Authorize(ctx, r.store, groupID, memberID, capability)
}

// Authorize is Registry.Authorize against an explicit store.
func Authorize(ctx context.Context, store storage.GroupStore, groupID, memberID string, capability Capability) (*models.Membership, error) {
	m, err := store.GetActiveMembership(ctx, groupID, memberID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.KindUnauthorized, "member %s is not an active member of group %s", memberID, groupID)
	}
	if err != nil {
		return nil, err
	}
	if !Can(m.Role, capability) {
		return nil, apperr.New(apperr.KindUnauthorized, "role %s cannot %s", m.Role, capability)
	}
	return m, nil
}

// AddMember seats memberID in the group with role.
func (r *Registry) AddMember(ctx context.Context, groupID, memberID string, role models.Role) (*models.Membership, error) {
	if memberID == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "member id is required")
	}
	if role == "" {
		role = models.RoleMember
	}
	if !role.Valid() || role == models.RoleCreator {
		return nil, apperr.New(apperr.KindInvalidArgument, "cannot add a member with role %q", role)
	}

	var m *models.Membership
	err := r.store.InTx(ctx, func(tx storage.Store) error {
		if err := tx.Lock(ctx, "group:"+groupID); err != nil {
			return err
		}

		group, err := tx.GetGroup(ctx, groupID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.Wrap(apperr.KindNotFound, err, "group %s not found", groupID)
		}
		if err != nil {
			return err
		}
		if group.Status == models.GroupStatusCompleted {
			return apperr.New(apperr.KindGroupNotActive, "group %s is completed", groupID)
		}

		if _, err := tx.GetActiveMembership(ctx, groupID, memberID); err == nil {
			return apperr.New(apperr.KindAlreadyMember, "member %s is already in group %s", memberID, groupID)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		active, err := tx.ListMemberships(ctx, groupID, true)
		if err != nil {
			return err
		}
		if len(active) >= group.MaxMembers {
			return apperr.New(apperr.KindGroupFull, "group %s already has %d members", groupID, group.MaxMembers)
		}

		pos, err := tx.NextJoinPosition(ctx, groupID)
		if err != nil {
			return err
		}

		m = &models.Membership{
			ID:           uuid.New().String(),
			GroupID:      groupID,
			MemberID:     memberID,
			Role:         role,
			Status:       models.MembershipActive,
			JoinPosition: pos,
			JoinedAt:     r.now().UnixMilli(),
		}
		err = tx.CreateMembership(ctx, m)
		if errors.Is(err, storage.ErrConflict) {
			return apperr.New(apperr.KindAlreadyMember, "member %s is already in group %s", memberID, groupID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Member added", "group_id", groupID, "member_id", memberID, "role", role, "position", m.JoinPosition)
	return m, nil
}

// RemoveMember marks a membership removed. Past cycle snapshots are untouched.
func (r *Registry) RemoveMember(ctx context.Context, groupID, membershipID string) (*models.Membership, error) {
	return r.endMembership(ctx, groupID, func(tx storage.Store) (*models.Membership, error) {
		m, err := tx.GetMembership(ctx, membershipID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && m.GroupID != groupID) {
			return nil, apperr.New(apperr.KindNotFound, "membership %s not found in group %s", membershipID, groupID)
		}
		return m, err
	}, models.MembershipRemoved)
}

// LeaveGroup marks memberID's own membership as left.
func (r *Registry) LeaveGroup(ctx context.Context, groupID, memberID string) (*models.Membership, error) {
	return r.endMembership(ctx, groupID, func(tx storage.Store) (*models.Membership, error) {
		m, err := tx.GetActiveMembership(ctx, groupID, memberID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "member %s is not in group %s", memberID, groupID)
		}
		return m, err
	}, models.MembershipLeft)
}

func (r *Registry) endMembership(ctx context.Context, groupID string, load func(tx storage.Store) (*models.Membership, error), status models.MembershipStatus) (*models.Membership, error) {
	var m *models.Membership
	err := r.store.InTx(ctx, func(tx storage.Store) error {
		if err := tx.Lock(ctx, "group:"+groupID); err != nil {
			return err
		}
		var err error
		m, err = load(tx)
		if err != nil {
			return err
		}
		if m.Status != models.MembershipActive {
			return apperr.New(apperr.KindInvalidStateTransition, "membership %s is already %s", m.ID, m.Status)
		}
		if m.Role == models.RoleCreator {
			return apperr.New(apperr.KindInvalidArgument, "the creator cannot leave or be removed")
		}
		if err := tx.UpdateMembershipStatus(ctx, m.ID, status); err != nil {
			return err
		}
		m.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Membership ended", "group_id", groupID, "member_id", m.MemberID, "status", status)
	return m, nil
}

// SetStatus pauses or resumes a group. Completed groups are final.
func (r *Registry) SetStatus(ctx context.Context, groupID string, status models.GroupStatus, requestedBy string) (*models.Group, error) {
	if status != models.GroupStatusActive && status != models.GroupStatusPaused {
		return nil, apperr.New(apperr.KindInvalidArgument, "status must be active or paused")
	}

	var group *models.Group
	err := r.store.InTx(ctx, func(tx storage.Store) error {
		if _, err := Authorize(ctx, tx, groupID, requestedBy, CapabilityManageGroup); err != nil {
			return err
		}
		var err error
		group, err = tx.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if group.Status == models.GroupStatusCompleted {
			return apperr.New(apperr.KindInvalidStateTransition, "group %s is completed", groupID)
		}
		at := r.now().UnixMilli()
		if err := tx.UpdateGroupStatus(ctx, groupID, status, at); err != nil {
			return err
		}
		group.Status = status
		group.UpdatedAt = at
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// ListEligibleMembers returns who may win the group's cycle.
func (r *Registry) ListEligibleMembers(ctx context.Context, groupID string, cycle int) ([]string, error) {
	s, err := TakeSnapshot(ctx, r.store, groupID, cycle)
	if err != nil {
		return nil, err
	}
	return s.Eligible, nil
}

// Participants returns the members whose contributions fund the group's cycle.
func (r *Registry) Participants(ctx context.Context, groupID string, cycle int) ([]string, error) {
	s, err := TakeSnapshot(ctx, r.store, groupID, cycle)
	if err != nil {
		return nil, err
	}
	return s.Participants, nil
}
