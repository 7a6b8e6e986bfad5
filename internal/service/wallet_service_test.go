package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"connectrpc.com/connect"

	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/pkg/api"
)

func TestGetBalance(t *testing.T) {
	e := setupTestServer(t)
	ctx := context.Background()
	e.deposit(t, "ana", "250.50", "dep-1")

	got := e.balance(t, "ana")
	if got.Amount != "250.5" || got.Available != "250.5" || got.Currency != "AOA" {
		t.Errorf("unexpected balance: %+v", got)
	}

	if got := e.balance(t, "bento"); got.Amount != "0" {
		t.Errorf("empty wallet: expected 0, got %s", got.Amount)
	}

	_, err := e.wallet.GetBalance(ctx, as(t, e, "bento", &api.GetBalanceRequest{MemberID: "ana"}))
	expectError(t, err, connect.CodePermissionDenied, "UNAUTHORIZED")
}

func TestRequestWithdrawal(t *testing.T) {
	e := setupTestServer(t)
	ctx := context.Background()
	e.deposit(t, "ana", "500", "dep-1")

	req := &api.RequestWithdrawalRequest{
		Amount:             "200",
		DestinationAccount: "AO06 0040 0000 1234",
		IdempotencyKey:     "w-1",
	}
	resp, err := e.wallet.RequestWithdrawal(ctx, as(t, e, "ana", req))
	if err != nil {
		t.Fatalf("RequestWithdrawal failed: %v", err)
	}
	if resp.Msg.WithdrawalID == "" {
		t.Error("expected non-empty withdrawal ID")
	}
	if resp.Msg.Status != string(models.WithdrawalPending) {
		t.Errorf("status: expected pending, got %s", resp.Msg.Status)
	}

	b := e.balance(t, "ana")
	if b.Amount != "500" || b.Available != "300" {
		t.Errorf("balance: expected 500 with 300 available, got %+v", b)
	}

	// Same key, same request: the original comes back.
	again, err := e.wallet.RequestWithdrawal(ctx, as(t, e, "ana", req))
	if err != nil {
		t.Fatalf("RequestWithdrawal replay failed: %v", err)
	}
	if again.Msg.WithdrawalID != resp.Msg.WithdrawalID {
		t.Errorf("replay: expected %s, got %s", resp.Msg.WithdrawalID, again.Msg.WithdrawalID)
	}

	changed := *req
	changed.Amount = "150"
	_, err = e.wallet.RequestWithdrawal(ctx, as(t, e, "ana", &changed))
	expectError(t, err, connect.CodeAlreadyExists, "DUPLICATE_IDEMPOTENCY_KEY")

	getResp, err := e.wallet.GetWithdrawal(ctx, as(t, e, "ana", &api.GetWithdrawalRequest{WithdrawalID: resp.Msg.WithdrawalID}))
	if err != nil {
		t.Fatalf("GetWithdrawal failed: %v", err)
	}
	if getResp.Msg.Withdrawal.Amount != "200" || getResp.Msg.Withdrawal.PayoutAccountID == "" {
		t.Errorf("unexpected withdrawal: %+v", getResp.Msg.Withdrawal)
	}

	_, err = e.wallet.GetWithdrawal(ctx, as(t, e, "bento", &api.GetWithdrawalRequest{WithdrawalID: resp.Msg.WithdrawalID}))
	expectError(t, err, connect.CodeNotFound, "NOT_FOUND")
}

func TestRequestWithdrawal_Validation(t *testing.T) {
	e := setupTestServer(t)
	e.deposit(t, "ana", "100", "dep-1")

	tests := []struct {
		name string
		req  *api.RequestWithdrawalRequest
		code connect.Code
		kind string
	}{
		{"zero amount", &api.RequestWithdrawalRequest{Amount: "0", DestinationAccount: "acc", IdempotencyKey: "k1"}, connect.CodeInvalidArgument, "INVALID_AMOUNT"},
		{"negative amount", &api.RequestWithdrawalRequest{Amount: "-5", DestinationAccount: "acc", IdempotencyKey: "k2"}, connect.CodeInvalidArgument, "INVALID_AMOUNT"},
		{"no destination", &api.RequestWithdrawalRequest{Amount: "5", IdempotencyKey: "k3"}, connect.CodeInvalidArgument, "INVALID_ARGUMENT"},
		{"no key", &api.RequestWithdrawalRequest{Amount: "5", DestinationAccount: "acc"}, connect.CodeInvalidArgument, "INVALID_ARGUMENT"},
		{"overdraft", &api.RequestWithdrawalRequest{Amount: "100.01", DestinationAccount: "acc", IdempotencyKey: "k4"}, connect.CodeFailedPrecondition, "INSUFFICIENT_BALANCE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.wallet.RequestWithdrawal(context.Background(), as(t, e, "ana", tt.req))
			expectError(t, err, tt.code, tt.kind)
		})
	}

	if got := e.balance(t, "ana"); got.Available != "100" {
		t.Errorf("rejected withdrawals must not reserve funds, available = %s", got.Available)
	}
}

func TestRequestWithdrawal_Concurrent(t *testing.T) {
	e := setupTestServer(t)
	e.deposit(t, "ana", "120", "dep-1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.wallet.RequestWithdrawal(context.Background(), as(t, e, "ana", &api.RequestWithdrawalRequest{
				Amount:             "100",
				DestinationAccount: "AO06 0040 0000 1234",
				IdempotencyKey:     fmt.Sprintf("w-%d", i),
			}))
		}(i)
	}
	wg.Wait()

	ok, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case api.ErrorKind(err) == "INSUFFICIENT_BALANCE":
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Errorf("expected one pending and one rejected withdrawal, got %d ok and %d rejected", ok, rejected)
	}
	if got := e.balance(t, "ana"); got.Available != "20" {
		t.Errorf("available: expected 20, got %s", got.Available)
	}
}

func TestPayContribution(t *testing.T) {
	e := setupTestServer(t)
	ctx := context.Background()
	g := e.createGroup(t, "ana", lotteryGroup("100", 5), "bento")
	e.deposit(t, "bento", "150", "dep-1")

	pay := &api.PayContributionRequest{GroupID: g.ID, IdempotencyKey: "c-1"}
	resp, err := e.wallet.PayContribution(ctx, as(t, e, "bento", pay))
	if err != nil {
		t.Fatalf("PayContribution failed: %v", err)
	}
	tx := resp.Msg.Transaction
	if tx.Amount != "-100" || tx.CycleNumber != 1 || tx.Type != string(models.TransactionContribution) {
		t.Errorf("unexpected contribution: %+v", tx)
	}

	again, err := e.wallet.PayContribution(ctx, as(t, e, "bento", pay))
	if err != nil {
		t.Fatalf("PayContribution replay failed: %v", err)
	}
	if again.Msg.Transaction.ID != tx.ID {
		t.Errorf("replay: expected %s, got %s", tx.ID, again.Msg.Transaction.ID)
	}
	if got := e.balance(t, "bento"); got.Amount != "50" {
		t.Errorf("balance: expected 50, got %s", got.Amount)
	}

	_, err = e.wallet.PayContribution(ctx, as(t, e, "bento", &api.PayContributionRequest{GroupID: g.ID, IdempotencyKey: "c-2"}))
	expectError(t, err, connect.CodeInvalidArgument, "INVALID_ARGUMENT")

	_, err = e.wallet.PayContribution(ctx, as(t, e, "ana", &api.PayContributionRequest{GroupID: g.ID, IdempotencyKey: "c-3"}))
	expectError(t, err, connect.CodeFailedPrecondition, "INSUFFICIENT_BALANCE")

	_, err = e.wallet.PayContribution(ctx, as(t, e, "mallory", &api.PayContributionRequest{GroupID: g.ID, IdempotencyKey: "c-4"}))
	expectError(t, err, connect.CodePermissionDenied, "UNAUTHORIZED")
}

func TestListTransactions(t *testing.T) {
	e := setupTestServer(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		e.deposit(t, "ana", "10", fmt.Sprintf("dep-%d", i))
	}
	e.deposit(t, "bento", "10", "dep-1")

	var (
		ids   []string
		token string
	)
	for page := 0; ; page++ {
		resp, err := e.wallet.ListTransactions(ctx, as(t, e, "ana", &api.ListTransactionsRequest{
			PageSize:  2,
			PageToken: token,
		}))
		if err != nil {
			t.Fatalf("ListTransactions page %d failed: %v", page, err)
		}
		for _, tx := range resp.Msg.Transactions {
			if tx.MemberID != "ana" {
				t.Errorf("leaked transaction of %s", tx.MemberID)
			}
			ids = append(ids, tx.IdempotencyKey)
		}
		token = resp.Msg.NextPageToken
		if token == "" {
			break
		}
		if page > 5 {
			t.Fatal("pagination did not terminate")
		}
	}
	want := []string{"dep-1", "dep-2", "dep-3", "dep-4", "dep-5"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("append order: expected %v, got %v", want, ids)
	}

	filtered, err := e.wallet.ListTransactions(ctx, as(t, e, "ana", &api.ListTransactionsRequest{
		Filter: `type = "withdrawal"`,
	}))
	if err != nil {
		t.Fatalf("ListTransactions(filter) failed: %v", err)
	}
	if len(filtered.Msg.Transactions) != 0 {
		t.Errorf("filter: expected no withdrawals, got %d", len(filtered.Msg.Transactions))
	}

	tests := []struct {
		name string
		req  *api.ListTransactionsRequest
		code connect.Code
		kind string
	}{
		{"other member", &api.ListTransactionsRequest{MemberID: "bento"}, connect.CodePermissionDenied, "UNAUTHORIZED"},
		{"foreign group", &api.ListTransactionsRequest{GroupID: "g-unknown"}, connect.CodePermissionDenied, "UNAUTHORIZED"},
		{"bad filter", &api.ListTransactionsRequest{Filter: `colour = "red"`}, connect.CodeInvalidArgument, "INVALID_ARGUMENT"},
		{"bad token", &api.ListTransactionsRequest{PageToken: "!!"}, connect.CodeInvalidArgument, "INVALID_ARGUMENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.wallet.ListTransactions(ctx, as(t, e, "ana", tt.req))
			expectError(t, err, tt.code, tt.kind)
		})
	}
}

func TestSyncOfflineWrites(t *testing.T) {
	e := setupTestServer(t)
	ctx := context.Background()
	g := e.createGroup(t, "ana", lotteryGroup("100", 5), "bento")

	writes := []*api.OfflineWrite{
		{Type: "deposit", Amount: "300", IdempotencyKey: "off-1"},
		{Type: "contribution", GroupID: g.ID, CycleNumber: 1, Amount: "100", IdempotencyKey: "off-2"},
		{Type: "withdrawal", Amount: "50", IdempotencyKey: "off-3"},
		{Type: "deposit", Amount: "0", IdempotencyKey: "off-4"},
		{Type: "deposit", Amount: "10", Currency: "USD", IdempotencyKey: "off-5"},
		{Type: "contribution", GroupID: "g-unknown", CycleNumber: 1, Amount: "100", IdempotencyKey: "off-6"},
	}
	resp, err := e.wallet.SyncOfflineWrites(ctx, as(t, e, "bento", &api.SyncOfflineWritesRequest{Writes: writes}))
	if err != nil {
		t.Fatalf("SyncOfflineWrites failed: %v", err)
	}

	want := []struct {
		queued bool
		err    string
	}{
		{true, ""},
		{true, ""},
		{false, "INVALID_ARGUMENT"},
		{false, "INVALID_AMOUNT"},
		{false, "INVALID_ARGUMENT"},
		{false, "UNAUTHORIZED"},
	}
	if len(resp.Msg.Results) != len(want) {
		t.Fatalf("results: expected %d, got %d", len(want), len(resp.Msg.Results))
	}
	for i, w := range want {
		got := resp.Msg.Results[i]
		if got.Queued != w.queued || got.Error != w.err {
			t.Errorf("write %s: expected queued=%v error=%q, got queued=%v error=%q",
				got.IdempotencyKey, w.queued, w.err, got.Queued, got.Error)
		}
	}

	// A resent batch is deduplicated.
	resp, err = e.wallet.SyncOfflineWrites(ctx, as(t, e, "bento", &api.SyncOfflineWritesRequest{Writes: writes[:1]}))
	if err != nil {
		t.Fatalf("SyncOfflineWrites resend failed: %v", err)
	}
	if resp.Msg.Results[0].Queued || resp.Msg.Results[0].Error != "" {
		t.Errorf("resend: expected an accepted duplicate, got %+v", resp.Msg.Results[0])
	}

	res, err := e.relay.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if res.Succeeded < 2 || res.Retried != 0 || res.Dead != 0 {
		t.Errorf("relay: expected 2 replayed writes, got %+v", res)
	}

	pending, err := e.wallet.ListTransactions(ctx, as(t, e, "bento", &api.ListTransactionsRequest{
		Filter: `status = "pending"`,
	}))
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(pending.Msg.Transactions) != 2 {
		t.Fatalf("pending: expected 2 replayed writes, got %d", len(pending.Msg.Transactions))
	}
	for _, tx := range pending.Msg.Transactions {
		if tx.Type == string(models.TransactionContribution) && tx.Scope != string(models.ScopeExternal) {
			t.Errorf("offline contribution must be external, got %s", tx.Scope)
		}
	}

	// Pending deposits do not count until the payment rail confirms them.
	if got := e.balance(t, "bento"); got.Amount != "0" {
		t.Errorf("balance: expected 0, got %s", got.Amount)
	}
}
