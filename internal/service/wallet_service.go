package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"connectrpc.com/connect"

	"github.com/kiumaa/kixikila/internal/apperr"
	"github.com/kiumaa/kixikila/internal/balance"
	"github.com/kiumaa/kixikila/internal/ledger"
	"github.com/kiumaa/kixikila/internal/middleware"
	"github.com/kiumaa/kixikila/internal/outbox"
	"github.com/kiumaa/kixikila/internal/payout"
	"github.com/kiumaa/kixikila/internal/storage"
	"github.com/kiumaa/kixikila/pkg/api"
)

// maxOfflineWrites caps one SyncOfflineWrites batch.
const maxOfflineWrites = 100

// WalletService implements the Connect WalletService.
type WalletService struct {
	ledger    *ledger.Ledger
	projector *balance.Projector
	processor *payout.Processor
	queue     *outbox.Queue
	store     storage.GroupStore
}

var _ api.WalletServiceHandler = (*WalletService)(nil)

// NewWalletService creates a new WalletService.
func NewWalletService(l *ledger.Ledger, projector *balance.Projector, processor *payout.Processor, queue *outbox.Queue, store storage.GroupStore) *WalletService {
	return &WalletService{
		ledger:    l,
		projector: projector,
		processor: processor,
		queue:     queue,
		store:     store,
	}
}

// GetBalance returns the caller's wallet balance.
func (s *WalletService) GetBalance(ctx context.Context, req *connect.Request[api.GetBalanceRequest]) (*connect.Response[api.GetBalanceResponse], error) {
	memberID := middleware.GetMemberID(ctx)
	if memberID == "" {
		return nil, unauthenticated()
	}
	if req.Msg.MemberID != "" && req.Msg.MemberID != memberID {
		return nil, toConnectError("GetBalance", apperr.New(apperr.KindUnauthorized, "members can only read their own balance"))
	}

	w, err := s.projector.Wallet(ctx, memberID)
	if err != nil {
		return nil, toConnectError("GetBalance", err)
	}

	return connect.NewResponse(&api.GetBalanceResponse{
		Amount:    w.Balance.String(),
		Available: w.Available.String(),
		Currency:  s.projector.Currency(),
	}), nil
}

// ListTransactions pages through the caller's own transactions, or the
// transactions of a group the caller belongs to.
func (s *WalletService) ListTransactions(ctx context.Context, req *connect.Request[api.ListTransactionsRequest]) (*connect.Response[api.ListTransactionsResponse], error) {
	memberID := middleware.GetMemberID(ctx)
	if memberID == "" {
		return nil, unauthenticated()
	}

	q := ledger.QueryRequest{
		MemberID:  req.Msg.MemberID,
		GroupID:   req.Msg.GroupID,
		Filter:    req.Msg.Filter,
		PageSize:  req.Msg.PageSize,
		PageToken: req.Msg.PageToken,
	}
	switch {
	case q.MemberID == "" && q.GroupID == "":
		q.MemberID = memberID
	case q.MemberID != "" && q.MemberID != memberID:
		return nil, toConnectError("ListTransactions", apperr.New(apperr.KindUnauthorized, "members can only list their own transactions"))
	case q.GroupID != "":
		if _, err := s.store.GetActiveMembership(ctx, q.GroupID, memberID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				err = apperr.New(apperr.KindUnauthorized, "member %s is not an active member of group %s", memberID, q.GroupID)
			}
			return nil, toConnectError("ListTransactions", err)
		}
	}

	page, err := s.ledger.Query(ctx, q)
	if err != nil {
		return nil, toConnectError("ListTransactions", err)
	}

	txs := make([]*api.Transaction, len(page.Transactions))
	for i, t := range page.Transactions {
		txs[i] = toAPITransaction(t)
	}
	return connect.NewResponse(&api.ListTransactionsResponse{
		Transactions:  txs,
		NextPageToken: page.NextPageToken,
	}), nil
}

// RequestWithdrawal reserves funds for a cash-out. The returned status is
// pending until the settlement webhook resolves it.
func (s *WalletService) RequestWithdrawal(ctx context.Context, req *connect.Request[api.RequestWithdrawalRequest]) (*connect.Response[api.RequestWithdrawalResponse], error) {
	memberID := middleware.GetMemberID(ctx)
	if memberID == "" {
		return nil, unauthenticated()
	}

	slog.Info("RequestWithdrawal request received",
		"member_id", memberID,
		"amount", req.Msg.Amount,
		"idempotency_key", req.Msg.IdempotencyKey,
	)

	amount, err := ledger.ParsePositiveAmount(req.Msg.Amount)
	if err != nil {
		return nil, toConnectError("RequestWithdrawal", err)
	}

	w, err := s.processor.RequestWithdrawal(ctx, memberID, amount, req.Msg.DestinationAccount, req.Msg.IdempotencyKey)
	if err != nil {
		return nil, toConnectError("RequestWithdrawal", err)
	}

	return connect.NewResponse(&api.RequestWithdrawalResponse{
		WithdrawalID: w.ID,
		Status:       string(w.Status),
		Withdrawal:   toAPIWithdrawal(w),
	}), nil
}

// GetWithdrawal returns one of the caller's withdrawals.
func (s *WalletService) GetWithdrawal(ctx context.Context, req *connect.Request[api.GetWithdrawalRequest]) (*connect.Response[api.GetWithdrawalResponse], error) {
	memberID := middleware.GetMemberID(ctx)
	if memberID == "" {
		return nil, unauthenticated()
	}

	w, err := s.processor.GetWithdrawal(ctx, req.Msg.WithdrawalID)
	if err != nil {
		return nil, toConnectError("GetWithdrawal", err)
	}
	// Other members' withdrawals are reported as missing.
	if w.MemberID != memberID {
		return nil, toConnectError("GetWithdrawal", apperr.New(apperr.KindNotFound, "withdrawal %s not found", req.Msg.WithdrawalID))
	}

	return connect.NewResponse(&api.GetWithdrawalResponse{Withdrawal: toAPIWithdrawal(w)}), nil
}

// PayContribution pays the caller's contribution for the group's current
// cycle from their wallet.
func (s *WalletService) PayContribution(ctx context.Context, req *connect.Request[api.PayContributionRequest]) (*connect.Response[api.PayContributionResponse], error) {
	memberID := middleware.GetMemberID(ctx)
	if memberID == "" {
		return nil, unauthenticated()
	}

	slog.Info("PayContribution request received", "member_id", memberID, "group_id", req.Msg.GroupID)

	tx, err := s.processor.PayContributionFromWallet(ctx, memberID, req.Msg.GroupID, req.Msg.IdempotencyKey)
	if err != nil {
		return nil, toConnectError("PayContribution", err)
	}

	return connect.NewResponse(&api.PayContributionResponse{Transaction: toAPITransaction(tx)}), nil
}

// SyncOfflineWrites queues writes a client recorded while offline. Each
// write is accepted or rejected on its own; the call fails only when the
// batch itself is unusable.
func (s *WalletService) SyncOfflineWrites(ctx context.Context, req *connect.Request[api.SyncOfflineWritesRequest]) (*connect.Response[api.SyncOfflineWritesResponse], error) {
	memberID := middleware.GetMemberID(ctx)
	if memberID == "" {
		return nil, unauthenticated()
	}
	if len(req.Msg.Writes) > maxOfflineWrites {
		return nil, toConnectError("SyncOfflineWrites",
			apperr.New(apperr.KindInvalidArgument, "at most %d writes per batch", maxOfflineWrites))
	}

	results := make([]*api.SyncResult, 0, len(req.Msg.Writes))
	queued := 0
	for _, w := range req.Msg.Writes {
		if w == nil {
			continue
		}
		res := &api.SyncResult{IdempotencyKey: w.IdempotencyKey}
		ok, err := s.enqueue(ctx, memberID, w)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindInternal {
				return nil, toConnectError("SyncOfflineWrites", err)
			}
			res.Error = string(apperr.KindOf(err))
		} else if ok {
			res.Queued = true
			queued++
		}
		results = append(results, res)
	}

	slog.Info("Offline writes synced", "member_id", memberID, "received", len(req.Msg.Writes), "queued", queued)
	return connect.NewResponse(&api.SyncOfflineWritesResponse{Results: results}), nil
}

func (s *WalletService) enqueue(ctx context.Context, memberID string, w *api.OfflineWrite) (bool, error) {
	amount, err := ledger.ParsePositiveAmount(w.Amount)
	if err != nil {
		return false, err
	}
	if w.Currency != "" && !strings.EqualFold(w.Currency, s.ledger.Currency()) {
		return false, apperr.New(apperr.KindInvalidArgument, "writes must use %s", s.ledger.Currency())
	}
	if w.GroupID != "" {
		if _, err := s.store.GetActiveMembership(ctx, w.GroupID, memberID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return false, apperr.New(apperr.KindUnauthorized, "member %s is not an active member of group %s", memberID, w.GroupID)
			}
			return false, err
		}
	}

	return s.queue.EnqueueAppend(ctx, outbox.AppendPayload{
		MemberID:       memberID,
		GroupID:        w.GroupID,
		CycleNumber:    w.CycleNumber,
		Type:           w.Type,
		Amount:         amount.String(),
		Currency:       s.ledger.Currency(),
		Metadata:       w.Metadata,
		IdempotencyKey: w.IdempotencyKey,
	})
}
