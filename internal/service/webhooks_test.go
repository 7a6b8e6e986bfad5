package service

import (
	"context"
	"net/http"
	"testing"

	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/pkg/api"
)

func TestPaymentsWebhook(t *testing.T) {
	e := setupTestServer(t)

	ev := PaymentEvent{
		MemberID:       "ana",
		Type:           "deposit",
		Amount:         "1500.50",
		Currency:       "AOA",
		Status:         "completed",
		IdempotencyKey: "mcx-8812",
	}
	status, body := e.postWebhook(t, "/webhooks/payments", ev, "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if body["status"] != "completed" || body["transactionId"] == "" {
		t.Errorf("unexpected response: %v", body)
	}
	if got := e.balance(t, "ana"); got.Amount != "1500.5" {
		t.Errorf("balance: expected 1500.5, got %s", got.Amount)
	}

	// Redelivery changes nothing.
	status, again := e.postWebhook(t, "/webhooks/payments", ev, "")
	if status != http.StatusOK || again["transactionId"] != body["transactionId"] {
		t.Errorf("redelivery: expected 200 with %s, got %d %v", body["transactionId"], status, again)
	}
	if got := e.balance(t, "ana"); got.Amount != "1500.5" {
		t.Errorf("balance after redelivery: expected 1500.5, got %s", got.Amount)
	}

	// The rail cannot reverse a settled payment.
	ev.Status = "failed"
	status, body = e.postWebhook(t, "/webhooks/payments", ev, "")
	if status != http.StatusConflict || body["kind"] != "INVALID_STATE_TRANSITION" {
		t.Errorf("reversal: expected 409 INVALID_STATE_TRANSITION, got %d %v", status, body)
	}
}

func TestPaymentsWebhook_Rejected(t *testing.T) {
	e := setupTestServer(t)
	g := e.createGroup(t, "ana", lotteryGroup("100", 3))

	tests := []struct {
		name   string
		ev     PaymentEvent
		status int
		kind   string
	}{
		{
			name:   "withdrawal type",
			ev:     PaymentEvent{MemberID: "ana", Type: "withdrawal", Amount: "10", Status: "completed", IdempotencyKey: "k1"},
			status: http.StatusBadRequest,
			kind:   "INVALID_ARGUMENT",
		},
		{
			name:   "pending status",
			ev:     PaymentEvent{MemberID: "ana", Type: "deposit", Amount: "10", Status: "pending", IdempotencyKey: "k2"},
			status: http.StatusBadRequest,
			kind:   "INVALID_ARGUMENT",
		},
		{
			name:   "foreign currency",
			ev:     PaymentEvent{MemberID: "ana", Type: "deposit", Amount: "10", Currency: "EUR", Status: "completed", IdempotencyKey: "k3"},
			status: http.StatusBadRequest,
			kind:   "INVALID_ARGUMENT",
		},
		{
			name:   "negative amount",
			ev:     PaymentEvent{MemberID: "ana", Type: "deposit", Amount: "-10", Status: "completed", IdempotencyKey: "k4"},
			status: http.StatusBadRequest,
			kind:   "INVALID_AMOUNT",
		},
		{
			name:   "contribution without cycle",
			ev:     PaymentEvent{MemberID: "ana", Type: "contribution", GroupID: g.ID, Amount: "100", Status: "completed", IdempotencyKey: "k5"},
			status: http.StatusBadRequest,
			kind:   "INVALID_ARGUMENT",
		},
		{
			name:   "unknown group",
			ev:     PaymentEvent{MemberID: "ana", Type: "contribution", GroupID: "g-unknown", CycleNumber: 1, Amount: "100", Status: "completed", IdempotencyKey: "k6"},
			status: http.StatusNotFound,
			kind:   "NOT_FOUND",
		},
		{
			name:   "contribution from a non-member",
			ev:     PaymentEvent{MemberID: "mallory", Type: "contribution", GroupID: g.ID, CycleNumber: 1, Amount: "100", Status: "completed", IdempotencyKey: "k7"},
			status: http.StatusForbidden,
			kind:   "UNAUTHORIZED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := e.postWebhook(t, "/webhooks/payments", tt.ev, "")
			if status != tt.status || body["kind"] != tt.kind {
				t.Errorf("expected %d %s, got %d %v", tt.status, tt.kind, status, body)
			}
		})
	}

	status, _ := e.postWebhook(t, "/webhooks/payments", tests[0].ev, "deadbeef")
	if status != http.StatusUnauthorized {
		t.Errorf("bad signature: expected 401, got %d", status)
	}

	eligible, err := e.group.ListEligibleMembers(context.Background(), as(t, e, "ana", &api.ListEligibleMembersRequest{GroupID: g.ID}))
	if err != nil {
		t.Fatalf("ListEligibleMembers failed: %v", err)
	}
	if len(eligible.Msg.MemberIDs) != 0 {
		t.Errorf("rejected payments must not fund the cycle, got %v", eligible.Msg.MemberIDs)
	}
}

func TestPaymentsWebhook_ResolvesOfflineWrite(t *testing.T) {
	e := setupTestServer(t)
	ctx := context.Background()
	g := e.createGroup(t, "ana", lotteryGroup("100", 3), "bento")

	_, err := e.wallet.SyncOfflineWrites(ctx, as(t, e, "bento", &api.SyncOfflineWritesRequest{
		Writes: []*api.OfflineWrite{
			{Type: "contribution", GroupID: g.ID, CycleNumber: 1, Amount: "100", IdempotencyKey: "card-77"},
		},
	}))
	if err != nil {
		t.Fatalf("SyncOfflineWrites failed: %v", err)
	}
	if _, err := e.relay.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	pending, err := e.wallet.ListTransactions(ctx, as(t, e, "bento", &api.ListTransactionsRequest{}))
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(pending.Msg.Transactions) != 1 || pending.Msg.Transactions[0].Status != string(models.StatusPending) {
		t.Fatalf("expected one pending contribution, got %+v", pending.Msg.Transactions)
	}
	queuedID := pending.Msg.Transactions[0].ID

	eligible, err := e.group.ListEligibleMembers(ctx, as(t, e, "ana", &api.ListEligibleMembersRequest{GroupID: g.ID}))
	if err != nil {
		t.Fatalf("ListEligibleMembers failed: %v", err)
	}
	if len(eligible.Msg.MemberIDs) != 0 {
		t.Errorf("pending contributions must not count, got %v", eligible.Msg.MemberIDs)
	}

	status, body := e.postWebhook(t, "/webhooks/payments", PaymentEvent{
		MemberID:       "bento",
		Type:           "contribution",
		GroupID:        g.ID,
		CycleNumber:    1,
		Amount:         "100",
		Status:         "completed",
		IdempotencyKey: "card-77",
	}, "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if body["transactionId"] != queuedID {
		t.Errorf("expected the queued record %s to be resolved, got %s", queuedID, body["transactionId"])
	}

	eligible, err = e.group.ListEligibleMembers(ctx, as(t, e, "ana", &api.ListEligibleMembersRequest{GroupID: g.ID}))
	if err != nil {
		t.Fatalf("ListEligibleMembers failed: %v", err)
	}
	if len(eligible.Msg.MemberIDs) != 1 || eligible.Msg.MemberIDs[0] != "bento" {
		t.Errorf("expected bento eligible, got %v", eligible.Msg.MemberIDs)
	}
	// Card-paid contributions never touch the wallet.
	if got := e.balance(t, "bento"); got.Amount != "0" {
		t.Errorf("balance: expected 0, got %s", got.Amount)
	}
}

func TestSettlementsWebhook(t *testing.T) {
	e := setupTestServer(t)
	ctx := context.Background()
	e.deposit(t, "ana", "1000", "dep-1")

	withdraw := func(key string) string {
		t.Helper()
		resp, err := e.wallet.RequestWithdrawal(ctx, as(t, e, "ana", &api.RequestWithdrawalRequest{
			Amount:             "300",
			DestinationAccount: "AO06 0040 0000 1234",
			IdempotencyKey:     key,
		}))
		if err != nil {
			t.Fatalf("RequestWithdrawal failed: %v", err)
		}
		return resp.Msg.WithdrawalID
	}
	settle := func(id, st, reason string) (int, map[string]string) {
		t.Helper()
		return e.postWebhook(t, "/webhooks/settlements", SettlementEvent{WithdrawalID: id, Status: st, Reason: reason}, "")
	}

	first := withdraw("w-1")
	if status, body := settle(first, "processing", ""); status != http.StatusOK || body["status"] != "processing" {
		t.Fatalf("processing: got %d %v", status, body)
	}
	if status, body := settle(first, "completed", ""); status != http.StatusOK || body["status"] != "completed" {
		t.Fatalf("completed: got %d %v", status, body)
	}
	if got := e.balance(t, "ana"); got.Amount != "700" || got.Available != "700" {
		t.Errorf("after completion: expected 700/700, got %+v", got)
	}

	if status, body := settle(first, "processing", ""); status != http.StatusConflict || body["kind"] != "INVALID_STATE_TRANSITION" {
		t.Errorf("completed to processing: expected 409, got %d %v", status, body)
	}

	if status, body := settle(first, "returned", "account closed"); status != http.StatusOK || body["status"] != "failed" {
		t.Fatalf("returned: got %d %v", status, body)
	}
	if got := e.balance(t, "ana"); got.Amount != "1000" {
		t.Errorf("after return: expected 1000, got %s", got.Amount)
	}
	w, err := e.wallet.GetWithdrawal(ctx, as(t, e, "ana", &api.GetWithdrawalRequest{WithdrawalID: first}))
	if err != nil {
		t.Fatalf("GetWithdrawal failed: %v", err)
	}
	if w.Msg.Withdrawal.FailureReason != "returned: account closed" {
		t.Errorf("failure reason: got %q", w.Msg.Withdrawal.FailureReason)
	}

	second := withdraw("w-2")
	if got := e.balance(t, "ana"); got.Available != "700" {
		t.Errorf("reserved: expected 700 available, got %s", got.Available)
	}
	if status, body := settle(second, "failed", "rejected by bank"); status != http.StatusOK || body["status"] != "failed" {
		t.Fatalf("failed: got %d %v", status, body)
	}
	if got := e.balance(t, "ana"); got.Amount != "1000" || got.Available != "1000" {
		t.Errorf("after failure: expected 1000/1000, got %+v", got)
	}

	tests := []struct {
		name   string
		id     string
		st     string
		status int
	}{
		{"unknown status", second, "bounced", http.StatusBadRequest},
		{"missing id", "", "completed", http.StatusBadRequest},
		{"unknown withdrawal", "w-unknown", "completed", http.StatusNotFound},
		{"return of failed", second, "returned", http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, body := settle(tt.id, tt.st, ""); status != tt.status {
				t.Errorf("expected %d, got %d %v", tt.status, status, body)
			}
		})
	}
}
