package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kiumaa/kixikila/internal/apperr"
	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/internal/storage/sqlstore"
)

func setupLedger(t *testing.T) *Ledger {
	t.Helper()

	store, err := sqlstore.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return New(store, WithCurrency("AOA"))
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAppendNormalisesDirection(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		txType models.TransactionType
		in     string
		want   string
	}{
		{name: "deposit is a credit", txType: models.TransactionDeposit, in: "-50", want: "50"},
		{name: "payout is a credit", txType: models.TransactionPayout, in: "500", want: "500"},
		{name: "withdrawal is a debit", txType: models.TransactionWithdrawal, in: "20", want: "-20"},
		{name: "contribution is a debit", txType: models.TransactionContribution, in: "100", want: "-100"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := l.Append(ctx, Draft{
				MemberID: "alice",
				Type:     tt.txType,
				Amount:   amount(tt.in),
			}, "key-"+string(rune('a'+i)))
			if err != nil {
				t.Fatalf("Append() error = %v", err)
			}
			if !rec.Amount.Equal(amount(tt.want)) {
				t.Errorf("amount = %s, want %s", rec.Amount, tt.want)
			}
			if rec.Status != models.StatusPending {
				t.Errorf("status = %s, want pending", rec.Status)
			}
			if rec.Scope != models.ScopeWallet {
				t.Errorf("scope = %s, want wallet", rec.Scope)
			}
			if rec.Currency != "AOA" {
				t.Errorf("currency = %s, want AOA", rec.Currency)
			}
		})
	}
}

func TestAppendCompensatingKeepsSign(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	debit, err := l.Append(ctx, Draft{
		MemberID: "alice",
		Type:     models.TransactionWithdrawal,
		Amount:   amount("30"),
		Status:   models.StatusCompleted,
	}, "w-1")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	credit, err := l.Append(ctx, Draft{
		MemberID: "alice",
		Type:     models.TransactionWithdrawal,
		Amount:   amount("30"),
		Status:   models.StatusCompleted,
		Metadata: map[string]string{models.MetaCompensates: debit.ID},
	}, "w-1:return")
	if err != nil {
		t.Fatalf("Append() compensating error = %v", err)
	}
	if !credit.Amount.Equal(amount("30")) {
		t.Errorf("compensating amount = %s, want 30", credit.Amount)
	}

	_, err = l.Append(ctx, Draft{
		MemberID: "alice",
		Type:     models.TransactionWithdrawal,
		Amount:   amount("30"),
		Metadata: map[string]string{models.MetaCompensates: "missing"},
	}, "w-2:return")
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("expected InvalidArgument for unknown compensated id, got %v", err)
	}
}

func TestAppendIdempotency(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	draft := Draft{MemberID: "alice", Type: models.TransactionDeposit, Amount: amount("100")}

	first, err := l.Append(ctx, draft, "deposit-1")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	again, err := l.Append(ctx, draft, "deposit-1")
	if err != nil {
		t.Fatalf("replayed Append() error = %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("replay returned %s, want original %s", again.ID, first.ID)
	}

	changed := draft
	changed.Amount = amount("999")
	orig, err := l.Append(ctx, changed, "deposit-1")
	if !errors.Is(err, apperr.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected DuplicateIdempotencyKey, got %v", err)
	}
	if orig == nil || orig.ID != first.ID {
		t.Errorf("expected original record alongside the error, got %+v", orig)
	}

	// The same key is independent per member.
	bob := draft
	bob.MemberID = "bob"
	other, err := l.Append(ctx, bob, "deposit-1")
	if err != nil {
		t.Fatalf("Append() for another member error = %v", err)
	}
	if other.ID == first.ID {
		t.Error("keys must be scoped per member")
	}

	page, err := l.Query(ctx, QueryRequest{MemberID: "alice"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(page.Transactions) != 1 {
		t.Errorf("alice has %d transactions, want 1", len(page.Transactions))
	}
}

func TestAppendValidation(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		draft Draft
		key   string
		want  error
	}{
		{
			name:  "zero amount",
			draft: Draft{MemberID: "alice", Type: models.TransactionDeposit, Amount: decimal.Zero},
			key:   "k1",
			want:  apperr.ErrInvalidAmount,
		},
		{
			name:  "missing key",
			draft: Draft{MemberID: "alice", Type: models.TransactionDeposit, Amount: amount("1")},
			want:  apperr.ErrInvalidArgument,
		},
		{
			name:  "unknown type",
			draft: Draft{MemberID: "alice", Type: "refund", Amount: amount("1")},
			key:   "k2",
			want:  apperr.ErrInvalidArgument,
		},
		{
			name:  "external withdrawal",
			draft: Draft{MemberID: "alice", Type: models.TransactionWithdrawal, Scope: models.ScopeExternal, Amount: amount("1")},
			key:   "k3",
			want:  apperr.ErrInvalidArgument,
		},
		{
			name:  "append as failed",
			draft: Draft{MemberID: "alice", Type: models.TransactionDeposit, Amount: amount("1"), Status: models.StatusFailed},
			key:   "k4",
			want:  apperr.ErrInvalidStateTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Append(ctx, tt.draft, tt.key)
			if !errors.Is(err, tt.want) {
				t.Errorf("Append() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMarkStatus(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	rec, err := l.Append(ctx, Draft{MemberID: "alice", Type: models.TransactionDeposit, Amount: amount("10")}, "d1")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if _, err := l.MarkStatus(ctx, rec.ID, models.StatusPending); !errors.Is(err, apperr.ErrInvalidStateTransition) {
		t.Errorf("pending→pending: expected InvalidStateTransition, got %v", err)
	}

	done, err := l.MarkStatus(ctx, rec.ID, models.StatusCompleted)
	if err != nil {
		t.Fatalf("MarkStatus() error = %v", err)
	}
	if done.Status != models.StatusCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}

	if _, err := l.MarkStatus(ctx, rec.ID, models.StatusFailed); !errors.Is(err, apperr.ErrInvalidStateTransition) {
		t.Errorf("completed→failed: expected InvalidStateTransition, got %v", err)
	}

	if _, err := l.MarkStatus(ctx, "does-not-exist", models.StatusCompleted); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown id: expected NotFound, got %v", err)
	}
}

func TestAtomicallyRollsBack(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	var notified [][]string
	l.Subscribe(func(ids []string) { notified = append(notified, ids) })

	boom := errors.New("boom")
	err := l.Atomically(ctx, func(tx *Tx) error {
		if _, err := tx.Append(ctx, Draft{MemberID: "alice", Type: models.TransactionDeposit, Amount: amount("5")}, "a"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Atomically() error = %v, want boom", err)
	}

	page, err := l.Query(ctx, QueryRequest{MemberID: "alice"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(page.Transactions) != 0 {
		t.Errorf("rolled back unit left %d transactions", len(page.Transactions))
	}
	if len(notified) != 0 {
		t.Errorf("subscribers notified %d times for a rolled back unit", len(notified))
	}

	err = l.Atomically(ctx, func(tx *Tx) error {
		_, err := tx.Append(ctx, Draft{MemberID: "alice", Type: models.TransactionDeposit, Amount: amount("5")}, "b")
		return err
	})
	if err != nil {
		t.Fatalf("Atomically() error = %v", err)
	}
	if len(notified) != 1 || len(notified[0]) != 1 || notified[0][0] != "alice" {
		t.Errorf("notified = %v, want [[alice]]", notified)
	}
}

func TestTxBalance(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	drafts := []struct {
		key   string
		draft Draft
	}{
		{"dep", Draft{MemberID: "alice", Type: models.TransactionDeposit, Amount: amount("200"), Status: models.StatusCompleted}},
		{"pay", Draft{MemberID: "alice", Type: models.TransactionPayout, Amount: amount("500"), Status: models.StatusCompleted}},
		{"con", Draft{MemberID: "alice", Type: models.TransactionContribution, Amount: amount("100"), Status: models.StatusCompleted}},
		{"card", Draft{MemberID: "alice", Type: models.TransactionContribution, Scope: models.ScopeExternal, Amount: amount("100"), Status: models.StatusCompleted}},
		{"wd", Draft{MemberID: "alice", Type: models.TransactionWithdrawal, Amount: amount("150")}},
		{"dep2", Draft{MemberID: "alice", Type: models.TransactionDeposit, Amount: amount("40")}},
	}
	for _, d := range drafts {
		if _, err := l.Append(ctx, d.draft, d.key); err != nil {
			t.Fatalf("Append(%s) error = %v", d.key, err)
		}
	}

	err := l.Atomically(ctx, func(tx *Tx) error {
		bal, err := tx.Balance(ctx, "alice")
		if err != nil {
			return err
		}
		if want := amount("600"); !bal.Balance.Equal(want) {
			t.Errorf("balance = %s, want %s", bal.Balance, want)
		}
		if want := amount("450"); !bal.Available.Equal(want) {
			t.Errorf("available = %s, want %s", bal.Available, want)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomically() error = %v", err)
	}
}

func TestQueryPagination(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		txType := models.TransactionDeposit
		if i%2 == 1 {
			txType = models.TransactionWithdrawal
		}
		key := "k" + string(rune('0'+i))
		if _, err := l.Append(ctx, Draft{MemberID: "alice", Type: txType, Amount: amount("1")}, key); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	var (
		seen  []int64
		token string
		pages int
	)
	for {
		page, err := l.Query(ctx, QueryRequest{MemberID: "alice", PageSize: 2, PageToken: token})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		pages++
		for _, tx := range page.Transactions {
			seen = append(seen, tx.Seq)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}
	if len(seen) != 5 {
		t.Fatalf("saw %d transactions, want 5", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Errorf("sequence not ascending: %v", seen)
		}
	}

	page, err := l.Query(ctx, QueryRequest{MemberID: "alice", Filter: `type = "withdrawal"`})
	if err != nil {
		t.Fatalf("Query() with filter error = %v", err)
	}
	if len(page.Transactions) != 2 {
		t.Errorf("filtered %d withdrawals, want 2", len(page.Transactions))
	}

	if _, err := l.Query(ctx, QueryRequest{MemberID: "alice", PageToken: "%%%"}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("bad token: expected InvalidArgument, got %v", err)
	}
	if _, err := l.Query(ctx, QueryRequest{MemberID: "alice", GroupID: "g"}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("both selectors: expected InvalidArgument, got %v", err)
	}
	if _, err := l.Query(ctx, QueryRequest{MemberID: "alice", Filter: `amount > 3`}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("bad filter: expected InvalidArgument, got %v", err)
	}
}

func TestConcurrentAppendSameKey(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := l.Append(ctx, Draft{MemberID: "alice", Type: models.TransactionDeposit, Amount: amount("7")}, "same")
			errs[i] = err
			if rec != nil {
				ids[i] = rec.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("worker %d error = %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("worker %d got %s, want %s", i, ids[i], ids[0])
		}
	}
}
