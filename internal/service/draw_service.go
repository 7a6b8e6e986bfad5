package service

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/kiumaa/kixikila/internal/apperr"
	"github.com/kiumaa/kixikila/internal/draw"
	"github.com/kiumaa/kixikila/internal/membership"
	"github.com/kiumaa/kixikila/internal/middleware"
	"github.com/kiumaa/kixikila/pkg/api"
)

// DrawService implements the Connect DrawService.
type DrawService struct {
	engine   *draw.Engine
	registry *membership.Registry
}

var _ api.DrawServiceHandler = (*DrawService)(nil)

// NewDrawService creates a new DrawService.
func NewDrawService(engine *draw.Engine, registry *membership.Registry) *DrawService {
	return &DrawService{engine: engine, registry: registry}
}

// DrawCycle draws the group's current cycle. Retrying after a successful
// draw draws the next cycle; a concurrent draw is rejected with Aborted.
func (s *DrawService) DrawCycle(ctx context.Context, req *connect.Request[api.DrawCycleRequest]) (*connect.Response[api.DrawCycleResponse], error) {
	memberID := middleware.GetMemberID(ctx)
	if memberID == "" {
		return nil, unauthenticated()
	}
	if req.Msg.GroupID == "" {
		return nil, toConnectError("DrawCycle", apperr.New(apperr.KindInvalidArgument, "group id is required"))
	}

	slog.Info("DrawCycle request received", "group_id", req.Msg.GroupID, "member_id", memberID)

	cycle, err := s.engine.DrawCycle(ctx, req.Msg.GroupID, memberID)
	if err != nil {
		return nil, toConnectError("DrawCycle", err)
	}
	group, err := s.registry.GetGroup(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError("DrawCycle", err)
	}

	return connect.NewResponse(&api.DrawCycleResponse{
		Cycle:       toAPICycle(cycle),
		WinnerID:    cycle.WinnerID,
		PrizeAmount: cycle.PrizeAmount.String(),
		CycleNumber: cycle.Number,
		Currency:    group.Currency,
	}), nil
}
