package service

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/kiumaa/kixikila/internal/apperr"
	"github.com/kiumaa/kixikila/internal/ledger"
	"github.com/kiumaa/kixikila/internal/membership"
	"github.com/kiumaa/kixikila/internal/middleware"
	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/internal/storage"
	"github.com/kiumaa/kixikila/pkg/api"
)

// GroupService implements the Connect GroupService
type GroupService struct {
	registry *membership.Registry
	store    storage.Store
}

var _ api.GroupServiceHandler = (*GroupService)(nil)

// NewGroupService creates a new GroupService.
func NewGroupService(registry *membership.Registry, store storage.Store) *GroupService {
	return &GroupService{registry: registry, store: store}
}

// CreateGroup creates a new group with the caller as its creator.
func (s *GroupService) CreateGroup(ctx context.Context, req *connect.Request[api.CreateGroupRequest]) (*connect.Response[api.CreateGroupResponse], error) {
	memberID := middleware.GetMemberID(ctx)
	if memberID == "" {
		return nil, unauthenticated()
	}

	slog.Info("CreateGroup request received",
		"name", req.Msg.Name,
		"type", req.Msg.Type,
		"max_members", req.Msg.MaxMembers,
		"member_id", memberID,
	)

	amount, err := ledger.ParsePositiveAmount(req.Msg.ContributionAmount)
	if err != nil {
		return nil, toConnectError("CreateGroup", err)
	}

	group, err := s.registry.CreateGroup(ctx, membership.Definition{
		Name:                req.Msg.Name,
		ContributionAmount:  amount,
		Currency:            req.Msg.Currency,
		Frequency:           models.Frequency(req.Msg.Frequency),
		MaxMembers:          req.Msg.MaxMembers,
		Type:                models.GroupType(req.Msg.Type),
		TotalCycles:         req.Msg.TotalCycles,
		RequiresPrepayment:  req.Msg.RequiresPrepayment,
		RequiresFullFunding: req.Msg.RequiresFullFunding,
	}, memberID)
	if err != nil {
		return nil, toConnectError("CreateGroup", err)
	}

	return connect.NewResponse(&api.CreateGroupResponse{Group: toAPIGroup(group)}), nil
}

// GetGroup returns a group and its roster. Only members may read it.
func (s *GroupService) GetGroup(ctx context.Context, req *connect.Request[api.GetGroupRequest]) (*connect.Response[api.GetGroupResponse], error) {
	memberID := middleware.GetMemberID(ctx)
	if memberID == "" {
		return nil, unauthenticated()
	}

	group, err := s.registry.GetGroup(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError("GetGroup", err)
	}
	if err := s.requireMember(ctx, group.ID, memberID); err != nil {
		return nil, toConnectError("GetGroup", err)
	}

	members, err := s.registry.ListMembers(ctx, group.ID)
	if err != nil {
		return nil, toConnectError("GetGroup", err)
	}

	out := make([]*api.Membership, len(members))
	for i, m := range members {
		out[i] = toAPIMembership(m)
	}
	return connect.NewResponse(&api.GetGroupResponse{
		Group:   toAPIGroup(group),
		Members: out,
	}), nil
}

// AddMember seats a member. Requires the manage_members capability.
func (s *GroupService) AddMember(ctx context.Context, req *connect.Request[api.AddMemberRequest]) (*connect.Response[api.AddMemberResponse], error) {
	memberID := middleware.GetMemberID(ctx)
	if memberID == "" {
		return nil, unauthenticated()
	}

	slog.Info("AddMember request received",
		"group_id", req.Msg.GroupID,
		"new_member_id", req.Msg.MemberID,
		"role", req.Msg.Role,
		"member_id", memberID,
	)

	if _, err := s.registry.Authorize(ctx, req.Msg.GroupID, memberID, membership.CapabilityManageMembers); err != nil {
		return nil, toConnectError("AddMember", err)
	}

	m, err := s.registry.AddMember(ctx, req.Msg.GroupID, req.Msg.MemberID, models.Role(req.Msg.Role))
	if err != nil {
		return nil, toConnectError("AddMember", err)
	}
	return connect.NewResponse(&api.AddMemberResponse{Membership: toAPIMembership(m)}), nil
}

// RemoveMember removes a membership. Requires the manage_members capability.
func (s *GroupService) RemoveMember(ctx context.Context, req *connect.Request[api.RemoveMemberRequest]) (*connect.Response[api.RemoveMemberResponse], error) {
	memberID := middleware.GetMemberID(ctx)
	if memberID == "" {
		return nil, unauthenticated()
	}

	slog.Info("RemoveMember request received",
		"group_id", req.Msg.GroupID,
		"membership_id", req.Msg.MembershipID,
		"member_id", memberID,
	)

	if _, err := s.registry.Authorize(ctx, req.Msg.GroupID, memberID, membership.CapabilityManageMembers); err != nil {
		return nil, toConnectError("RemoveMember", err)
	}

	m, err := s.registry.RemoveMember(ctx, req.Msg.GroupID, req.Msg.MembershipID)
	if err != nil {
		return nil, toConnectError("RemoveMember", err)
	}
	return connect.NewResponse(&api.RemoveMemberResponse{Membership: toAPIMembership(m)}), nil
}

// LeaveGroup ends the caller's own membership.
func (s *GroupService) LeaveGroup(ctx context.Context, req *connect.Request[api.LeaveGroupRequest]) (*connect.Response[api.LeaveGroupResponse], error) {
	memberID := middleware.GetMemberID(ctx)
	if memberID == "" {
		return nil, unauthenticated()
	}

	m, err := s.registry.LeaveGroup(ctx, req.Msg.GroupID, memberID)
	if err != nil {
		return nil, toConnectError("LeaveGroup", err)
	}
	return connect.NewResponse(&api.LeaveGroupResponse{Membership: toAPIMembership(m)}), nil
}

// ListEligibleMembers reports who may win a cycle and who funds it.
func (s *GroupService) ListEligibleMembers(ctx context.Context, req *connect.Request[api.ListEligibleMembersRequest]) (*connect.Response[api.ListEligibleMembersResponse], error) {
	memberID := middleware.GetMemberID(ctx)
	if memberID == "" {
		return nil, unauthenticated()
	}
	if err := s.requireMember(ctx, req.Msg.GroupID, memberID); err != nil {
		return nil, toConnectError("ListEligibleMembers", err)
	}

	cycle := req.Msg.CycleNumber
	if cycle == 0 {
		group, err := s.registry.GetGroup(ctx, req.Msg.GroupID)
		if err != nil {
			return nil, toConnectError("ListEligibleMembers", err)
		}
		cycle = group.CurrentCycle
	}

	snap, err := membership.TakeSnapshot(ctx, s.store, req.Msg.GroupID, cycle)
	if err != nil {
		return nil, toConnectError("ListEligibleMembers", err)
	}

	return connect.NewResponse(&api.ListEligibleMembersResponse{
		CycleNumber:  cycle,
		MemberIDs:    nonNil(snap.Eligible),
		Participants: nonNil(snap.Participants),
	}), nil
}

// ListCycles returns the group's draw history in cycle order.
func (s *GroupService) ListCycles(ctx context.Context, req *connect.Request[api.ListCyclesRequest]) (*connect.Response[api.ListCyclesResponse], error) {
	memberID := middleware.GetMemberID(ctx)
	if memberID == "" {
		return nil, unauthenticated()
	}
	if err := s.requireMember(ctx, req.Msg.GroupID, memberID); err != nil {
		return nil, toConnectError("ListCycles", err)
	}

	cycles, err := s.store.ListCycles(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError("ListCycles", err)
	}

	out := make([]*api.Cycle, len(cycles))
	for i, c := range cycles {
		out[i] = toAPICycle(c)
	}
	return connect.NewResponse(&api.ListCyclesResponse{Cycles: out}), nil
}

// SetGroupStatus pauses or resumes a group. Requires manage_group.
func (s *GroupService) SetGroupStatus(ctx context.Context, req *connect.Request[api.SetGroupStatusRequest]) (*connect.Response[api.SetGroupStatusResponse], error) {
	memberID := middleware.GetMemberID(ctx)
	if memberID == "" {
		return nil, unauthenticated()
	}

	slog.Info("SetGroupStatus request received", "group_id", req.Msg.GroupID, "status", req.Msg.Status, "member_id", memberID)

	group, err := s.registry.SetStatus(ctx, req.Msg.GroupID, models.GroupStatus(req.Msg.Status), memberID)
	if err != nil {
		return nil, toConnectError("SetGroupStatus", err)
	}
	return connect.NewResponse(&api.SetGroupStatusResponse{Group: toAPIGroup(group)}), nil
}

// requireMember rejects callers without an active membership in the group.
func (s *GroupService) requireMember(ctx context.Context, groupID, memberID string) error {
	if groupID == "" {
		return apperr.New(apperr.KindInvalidArgument, "group id is required")
	}
	_, err := s.store.GetActiveMembership(ctx, groupID, memberID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if _, gerr := s.registry.GetGroup(ctx, groupID); gerr != nil {
		return gerr
	}
	return apperr.New(apperr.KindUnauthorized, "member %s is not an active member of group %s", memberID, groupID)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
