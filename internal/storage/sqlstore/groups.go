package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/internal/storage"
)

const groupColumns = `id, name, slug, contribution_amount, currency, frequency, max_members, group_type,
	current_cycle, total_cycles, status, requires_prepayment, requires_full_funding, created_by,
	created_at, updated_at`

const membershipColumns = `id, group_id, member_id, role, status, join_position, joined_at`

// CreateGroup persists a new group.
func (s *Store) CreateGroup(ctx context.Context, g *models.Group) error {
	_, err := s.exec(ctx,
		"INSERT INTO savings_groups ("+groupColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		g.ID, g.Name, g.Slug, g.ContributionAmount.String(), g.Currency, string(g.Frequency), g.MaxMembers,
		string(g.Type), g.CurrentCycle, g.TotalCycles, string(g.Status), g.RequiresPrepayment,
		g.RequiresFullFunding, g.CreatedBy, g.CreatedAt, g.UpdatedAt,
	)
	if s.dialect.isUniqueViolation(err) {
		return fmt.Errorf("group slug %s: %w", g.Slug, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}
	return nil
}

// GetGroup retrieves a group by ID.
func (s *Store) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var (
		g         models.Group
		frequency string
		groupType string
		status    string
	)
	err := s.queryRow(ctx, "SELECT "+groupColumns+" FROM savings_groups WHERE id = ?", id).Scan(
		&g.ID, &g.Name, &g.Slug, &g.ContributionAmount, &g.Currency, &frequency, &g.MaxMembers, &groupType,
		&g.CurrentCycle, &g.TotalCycles, &status, &g.RequiresPrepayment, &g.RequiresFullFunding, &g.CreatedBy,
		&g.CreatedAt, &g.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	g.Frequency = models.Frequency(frequency)
	g.Type = models.GroupType(groupType)
	g.Status = models.GroupStatus(status)
	return &g, nil
}

// UpdateGroupStatus changes a group's lifecycle status.
func (s *Store) UpdateGroupStatus(ctx context.Context, id string, status models.GroupStatus, at int64) error {
	res, err := s.exec(ctx,
		"UPDATE savings_groups SET status = ?, updated_at = ? WHERE id = ?",
		string(status), at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update group status: %w", err)
	}
	ok, err := applied(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("group %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// AdvanceCycle moves current_cycle forward by one if it still equals from.
func (s *Store) AdvanceCycle(ctx context.Context, groupID string, from int, status models.GroupStatus, at int64) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE savings_groups SET current_cycle = ?, status = ?, updated_at = ?
		 WHERE id = ? AND current_cycle = ?`,
		from+1, string(status), at, groupID, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to advance cycle: %w", err)
	}
	return applied(res)
}

// CreateMembership persists a new membership.
func (s *Store) CreateMembership(ctx context.Context, m *models.Membership) error {
	_, err := s.exec(ctx,
		"INSERT INTO memberships ("+membershipColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		m.ID, m.GroupID, m.MemberID, string(m.Role), string(m.Status), m.JoinPosition, m.JoinedAt,
	)
	if s.dialect.isUniqueViolation(err) {
		return fmt.Errorf("membership %s/%s: %w", m.GroupID, m.MemberID, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert membership: %w", err)
	}
	return nil
}

// GetMembership retrieves a membership by ID.
func (s *Store) GetMembership(ctx context.Context, id string) (*models.Membership, error) {
	m, err := scanMembership(s.queryRow(ctx, "SELECT "+membershipColumns+" FROM memberships WHERE id = ?", id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("membership %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// GetActiveMembership retrieves a member's active seat in a group.
func (s *Store) GetActiveMembership(ctx context.Context, groupID, memberID string) (*models.Membership, error) {
	m, err := scanMembership(s.queryRow(ctx,
		"SELECT "+membershipColumns+" FROM memberships WHERE group_id = ? AND member_id = ? AND status = ?",
		groupID, memberID, string(models.MembershipActive),
	).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("membership %s/%s: %w", groupID, memberID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// ListMemberships returns a group's memberships ordered by join position.
func (s *Store) ListMemberships(ctx context.Context, groupID string, activeOnly bool) ([]*models.Membership, error) {
	query := "SELECT " + membershipColumns + " FROM memberships WHERE group_id = ?"
	args := []any{groupID}
	if activeOnly {
		query += " AND status = ?"
		args = append(args, string(models.MembershipActive))
	}
	query += " ORDER BY join_position ASC"

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*models.Membership
	for rows.Next() {
		m, err := scanMembership(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}
	return memberships, nil
}

// UpdateMembershipStatus changes a membership's status.
func (s *Store) UpdateMembershipStatus(ctx context.Context, id string, status models.MembershipStatus) error {
	res, err := s.exec(ctx, "UPDATE memberships SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update membership status: %w", err)
	}
	ok, err := applied(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("membership %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// NextJoinPosition returns the position the next member of a group gets.
func (s *Store) NextJoinPosition(ctx context.Context, groupID string) (int, error) {
	var next int
	err := s.queryRow(ctx,
		"SELECT COALESCE(MAX(join_position) + 1, 0) FROM memberships WHERE group_id = ?",
		groupID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to compute join position: %w", err)
	}
	return next, nil
}

func scanMembership(scan func(dest ...any) error) (*models.Membership, error) {
	var (
		m      models.Membership
		role   string
		status string
	)
	if err := scan(&m.ID, &m.GroupID, &m.MemberID, &role, &status, &m.JoinPosition, &m.JoinedAt); err != nil {
		return nil, err
	}
	m.Role = models.Role(role)
	m.Status = models.MembershipStatus(status)
	return &m, nil
}
