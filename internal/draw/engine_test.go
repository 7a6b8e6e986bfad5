package draw

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/kiumaa/kixikila/internal/apperr"
	"github.com/kiumaa/kixikila/internal/ledger"
	"github.com/kiumaa/kixikila/internal/membership"
	"github.com/kiumaa/kixikila/internal/metrics"
	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/internal/notify"
	"github.com/kiumaa/kixikila/internal/outbox"
	"github.com/kiumaa/kixikila/internal/storage"
	"github.com/kiumaa/kixikila/internal/storage/sqlstore"
)

// recordingNotifier writes through the real queue so entries share the
// draw's unit of work, and remembers what it was asked to queue.
type recordingNotifier struct {
	queue *outbox.Queue
	err   error

	mu  sync.Mutex
	got []notify.Notification
}

func (n *recordingNotifier) EnqueueNotificationTx(ctx context.Context, store storage.OutboxStore, note notify.Notification) error {
	if err := n.queue.EnqueueNotificationTx(ctx, store, note); err != nil {
		return err
	}
	if n.err != nil {
		return n.err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, note)
	return nil
}

type recordingArchiver struct {
	mu     sync.Mutex
	groups []string
	cycles int
}

func (a *recordingArchiver) ArchiveGroup(_ context.Context, g *models.Group, cycles []*models.Cycle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.groups = append(a.groups, g.ID)
	a.cycles = len(cycles)
	return nil
}

type fixture struct {
	store    *sqlstore.Store
	ledger   *ledger.Ledger
	registry *membership.Registry
	engine   *Engine
	locker   *MemoryLocker
	notifier *recordingNotifier
	archiver *recordingArchiver
	metrics  *metrics.Metrics
}

func setupEngine(t *testing.T) *fixture {
	t.Helper()

	store, err := sqlstore.NewSQLite(filepath.Join(t.TempDir(), "draw.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return newFixture(store)
}

func newFixture(store *sqlstore.Store) *fixture {
	f := &fixture{
		store:    store,
		ledger:   ledger.New(store, ledger.WithCurrency("AOA")),
		registry: membership.NewRegistry(store, "AOA"),
		locker:   NewMemoryLocker(),
		notifier: &recordingNotifier{queue: outbox.NewQueue(store)},
		archiver: &recordingArchiver{},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	f.engine = NewEngine(f.ledger, store, f.locker,
		WithNotifier(f.notifier),
		WithArchiver(f.archiver),
		WithMetrics(f.metrics),
		WithLockTTL(5*time.Second),
	)
	return f
}

// newGroup creates a group owned by members[0] and seats the others.
func (f *fixture) newGroup(t *testing.T, def membership.Definition, members ...string) *models.Group {
	t.Helper()
	ctx := context.Background()

	g, err := f.registry.CreateGroup(ctx, def, members[0])
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	for _, m := range members[1:] {
		if _, err := f.registry.AddMember(ctx, g.ID, m, models.RoleMember); err != nil {
			t.Fatalf("AddMember(%s) error = %v", m, err)
		}
	}
	return g
}

func (f *fixture) contribute(t *testing.T, groupID string, cycle int, members ...string) {
	t.Helper()
	for _, m := range members {
		_, err := f.ledger.Append(context.Background(), ledger.Draft{
			MemberID:    m,
			GroupID:     groupID,
			CycleNumber: cycle,
			Type:        models.TransactionContribution,
			Scope:       models.ScopeExternal,
			Amount:      decimal.NewFromInt(100),
			Status:      models.StatusCompleted,
		}, fmt.Sprintf("contrib:%s:%d", groupID, cycle))
		if err != nil {
			t.Fatalf("contribution for %s error = %v", m, err)
		}
	}
}

func (f *fixture) payouts(t *testing.T, groupID string) []*models.Transaction {
	t.Helper()
	page, err := f.ledger.Query(context.Background(), ledger.QueryRequest{GroupID: groupID, Filter: `type = "payout"`})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	return page.Transactions
}

func lottery(maxMembers int) membership.Definition {
	return membership.Definition{
		Name:               "Kixikila do Bairro",
		ContributionAmount: decimal.NewFromInt(100),
		Frequency:          models.FrequencyMonthly,
		MaxMembers:         maxMembers,
		Type:               models.GroupTypeLottery,
	}
}

func TestDrawCycleFiveMembers(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	members := []string{"ana", "bruno", "carla", "domingos", "eva"}
	g := f.newGroup(t, lottery(5), members...)
	f.contribute(t, g.ID, 1, members...)

	cycle, err := f.engine.DrawCycle(ctx, g.ID, "ana")
	if err != nil {
		t.Fatalf("DrawCycle() error = %v", err)
	}

	if cycle.Number != 1 {
		t.Errorf("cycle number = %d, want 1", cycle.Number)
	}
	if !cycle.PrizeAmount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("prize = %s, want 500", cycle.PrizeAmount)
	}
	if len(cycle.Eligible) != 5 {
		t.Errorf("snapshot has %d members, want 5", len(cycle.Eligible))
	}
	if cycle.Method != models.DrawMethodRandom || cycle.DrawnBy != "ana" {
		t.Errorf("method=%s drawnBy=%s", cycle.Method, cycle.DrawnBy)
	}

	group, err := f.registry.GetGroup(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGroup() error = %v", err)
	}
	if group.CurrentCycle != 2 {
		t.Errorf("current cycle = %d, want 2", group.CurrentCycle)
	}

	payouts := f.payouts(t, g.ID)
	if len(payouts) != 1 {
		t.Fatalf("payouts = %d, want 1", len(payouts))
	}
	p := payouts[0]
	if p.MemberID != cycle.WinnerID || !p.Amount.Equal(decimal.NewFromInt(500)) || p.Status != models.StatusCompleted {
		t.Errorf("payout = %+v", p)
	}
	if p.ID != cycle.PayoutTransactionID {
		t.Errorf("cycle links payout %s, ledger has %s", cycle.PayoutTransactionID, p.ID)
	}
	if p.IdempotencyKey != PayoutKey(g.ID, 1) {
		t.Errorf("payout key = %s", p.IdempotencyKey)
	}

	// The winner's wallet is credited.
	err = f.ledger.Atomically(ctx, func(tx *ledger.Tx) error {
		bal, err := tx.Balance(ctx, cycle.WinnerID)
		if err != nil {
			return err
		}
		if !bal.Balance.Equal(decimal.NewFromInt(500)) {
			t.Errorf("winner balance = %s, want 500", bal.Balance)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomically() error = %v", err)
	}

	if len(f.notifier.got) != 1 || f.notifier.got[0].Type != notify.TypeDrawResult {
		t.Errorf("notifications = %+v, want one draw_result", f.notifier.got)
	}
	if got := testutil.ToFloat64(f.metrics.Draws.WithLabelValues("random", "settled")); got != 1 {
		t.Errorf("settled draws = %v, want 1", got)
	}
}

func TestDrawCycleRejections(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	g := f.newGroup(t, lottery(3), "ana", "bruno", "carla")

	tests := []struct {
		name        string
		requestedBy string
		want        error
	}{
		{"plain member", "bruno", apperr.ErrUnauthorized},
		{"stranger", "zeca", apperr.ErrUnauthorized},
		{"nobody paid", "ana", apperr.ErrNoEligibleMembers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.engine.DrawCycle(ctx, g.ID, tt.requestedBy); !errors.Is(err, tt.want) {
				t.Errorf("DrawCycle() error = %v, want %v", err, tt.want)
			}
		})
	}

	if len(f.payouts(t, g.ID)) != 0 {
		t.Error("rejected draws must not pay out")
	}
}

func TestDrawCycleLockHeld(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	g := f.newGroup(t, lottery(2), "ana", "bruno")
	f.contribute(t, g.ID, 1, "ana", "bruno")

	release, ok, err := f.locker.TryAcquire(ctx, g.ID, time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryAcquire() = %v, %v", ok, err)
	}

	if _, err := f.engine.DrawCycle(ctx, g.ID, "ana"); !errors.Is(err, apperr.ErrDrawInProgress) {
		t.Fatalf("DrawCycle() with lock held error = %v, want DrawInProgress", err)
	}

	release()
	if _, err := f.engine.DrawCycle(ctx, g.ID, "ana"); err != nil {
		t.Fatalf("DrawCycle() after release error = %v", err)
	}
}

func TestDrawCycleConcurrent(t *testing.T) {
	f := setupEngine(t)

	members := []string{"ana", "bruno", "carla", "domingos"}
	g := f.newGroup(t, lottery(4), members...)
	f.contribute(t, g.ID, 1, members...)

	raceDraws(t, g.ID, members[0], f)
}

// raceDraws runs eight draws for one funded cycle, spread over the fixtures'
// engines, and checks that exactly one of them settles.
func raceDraws(t *testing.T, groupID, requestedBy string, fs ...*fixture) {
	t.Helper()
	ctx := context.Background()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := range workers {
		f := fs[i%len(fs)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.DrawCycle(ctx, groupID, requestedBy)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperr.ErrDrawInProgress), errors.Is(err, apperr.ErrNoEligibleMembers):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successful draws = %d, want 1", successes)
	}
	cycles, err := fs[0].store.ListCycles(ctx, groupID)
	if err != nil {
		t.Fatalf("ListCycles() error = %v", err)
	}
	if len(cycles) != 1 {
		t.Errorf("cycles = %d, want 1", len(cycles))
	}
	if n := len(fs[0].payouts(t, groupID)); n != 1 {
		t.Errorf("payouts = %d, want 1", n)
	}
}

func TestDrawCycleReturnsExistingCycle(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	g := f.newGroup(t, lottery(2), "ana", "bruno")
	recorded := &models.Cycle{
		ID:          "cycle-1",
		GroupID:     g.ID,
		Number:      1,
		WinnerID:    "bruno",
		PrizeAmount: decimal.NewFromInt(200),
		Eligible:    []string{"ana", "bruno"},
		Method:      models.DrawMethodRandom,
		DrawnBy:     "ana",
		DrawnAt:     1,
	}
	if err := f.store.CreateCycle(ctx, recorded); err != nil {
		t.Fatalf("CreateCycle() error = %v", err)
	}

	got, err := f.engine.DrawCycle(ctx, g.ID, "ana")
	if err != nil {
		t.Fatalf("DrawCycle() error = %v", err)
	}
	if got.ID != recorded.ID || got.WinnerID != "bruno" {
		t.Errorf("DrawCycle() = %+v, want the recorded cycle", got)
	}
	if len(f.payouts(t, g.ID)) != 0 {
		t.Error("replayed draw must not pay out")
	}
	if len(f.notifier.got) != 0 {
		t.Error("replayed draw must not notify")
	}
}

func TestDrawCycleRollsBackOnFailure(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	g := f.newGroup(t, lottery(3), "ana", "bruno", "carla")
	f.contribute(t, g.ID, 1, "ana")

	// Only ana is eligible; occupy her payout key with a different movement.
	if _, err := f.ledger.Append(ctx, ledger.Draft{
		MemberID: "ana",
		Type:     models.TransactionDeposit,
		Amount:   decimal.NewFromInt(1),
	}, PayoutKey(g.ID, 1)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if _, err := f.engine.DrawCycle(ctx, g.ID, "ana"); !errors.Is(err, apperr.ErrDuplicateIdempotencyKey) {
		t.Fatalf("DrawCycle() error = %v, want DuplicateIdempotencyKey", err)
	}

	cycles, _ := f.store.ListCycles(ctx, g.ID)
	if len(cycles) != 0 {
		t.Errorf("failed draw persisted %d cycles", len(cycles))
	}
	group, _ := f.registry.GetGroup(ctx, g.ID)
	if group.CurrentCycle != 1 {
		t.Errorf("failed draw advanced cycle to %d", group.CurrentCycle)
	}
	if len(f.payouts(t, g.ID)) != 0 {
		t.Error("failed draw paid out")
	}

	// The lock was released.
	release, ok, _ := f.locker.TryAcquire(ctx, g.ID, time.Second)
	if !ok {
		t.Fatal("lock still held after failed draw")
	}
	release()
}

func TestFixedOrderRotationAndCompletion(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	def := lottery(3)
	def.Type = models.GroupTypeFixedOrder
	g := f.newGroup(t, def, "ana", "bruno", "carla")

	want := []string{"ana", "bruno", "carla"}
	for i, winner := range want {
		cycle, err := f.engine.DrawCycle(ctx, g.ID, "ana")
		if err != nil {
			t.Fatalf("cycle %d: DrawCycle() error = %v", i+1, err)
		}
		if cycle.WinnerID != winner {
			t.Errorf("cycle %d winner = %s, want %s", i+1, cycle.WinnerID, winner)
		}
		if cycle.Method != models.DrawMethodFixedOrder {
			t.Errorf("cycle %d method = %s", i+1, cycle.Method)
		}
		if !cycle.PrizeAmount.Equal(decimal.NewFromInt(300)) {
			t.Errorf("cycle %d prize = %s, want 300", i+1, cycle.PrizeAmount)
		}
	}

	group, err := f.registry.GetGroup(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGroup() error = %v", err)
	}
	if group.Status != models.GroupStatusCompleted {
		t.Errorf("status = %s, want completed", group.Status)
	}
	if len(f.archiver.groups) != 1 || f.archiver.cycles != 3 {
		t.Errorf("archived groups=%v cycles=%d, want one group with 3 cycles", f.archiver.groups, f.archiver.cycles)
	}

	if _, err := f.engine.DrawCycle(ctx, g.ID, "ana"); !errors.Is(err, apperr.ErrGroupNotActive) {
		t.Errorf("draw on completed group: error = %v, want GroupNotActive", err)
	}
}

func TestRequiresFullFunding(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	def := lottery(3)
	def.RequiresFullFunding = true
	g := f.newGroup(t, def, "ana", "bruno", "carla")
	f.contribute(t, g.ID, 1, "ana", "bruno")

	if _, err := f.engine.DrawCycle(ctx, g.ID, "ana"); !errors.Is(err, apperr.ErrCycleNotFunded) {
		t.Fatalf("DrawCycle() error = %v, want CycleNotFunded", err)
	}

	f.contribute(t, g.ID, 1, "carla")
	cycle, err := f.engine.DrawCycle(ctx, g.ID, "ana")
	if err != nil {
		t.Fatalf("DrawCycle() after funding error = %v", err)
	}
	if !cycle.PrizeAmount.Equal(decimal.NewFromInt(300)) {
		t.Errorf("prize = %s, want 300", cycle.PrizeAmount)
	}
}

func TestPausedGroupCannotDraw(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	g := f.newGroup(t, lottery(2), "ana", "bruno")
	f.contribute(t, g.ID, 1, "ana", "bruno")
	if _, err := f.registry.SetStatus(ctx, g.ID, models.GroupStatusPaused, "ana"); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	if _, err := f.engine.DrawCycle(ctx, g.ID, "ana"); !errors.Is(err, apperr.ErrGroupNotActive) {
		t.Errorf("DrawCycle() error = %v, want GroupNotActive", err)
	}
}

// queued leases every due outbox entry.
func (f *fixture) queued(t *testing.T) []*models.OutboxEntry {
	t.Helper()
	entries, err := f.store.LeaseOutbox(context.Background(), "test", 100, time.Now().Add(time.Hour), time.Minute)
	if err != nil {
		t.Fatalf("LeaseOutbox() error = %v", err)
	}
	return entries
}

func TestDrawResultCommitsWithCycle(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	g := f.newGroup(t, lottery(3), "ana", "bruno", "carla")
	f.contribute(t, g.ID, 1, "ana", "bruno", "carla")

	f.notifier.err = errors.New("outbox unavailable")
	_, err := f.engine.DrawCycle(ctx, g.ID, "ana")
	if err == nil {
		t.Fatal("DrawCycle() error = nil, want the queue failure")
	}
	if _, err := f.store.GetCycle(ctx, g.ID, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetCycle() error = %v, want ErrNotFound", err)
	}
	if len(f.payouts(t, g.ID)) != 0 {
		t.Error("failed draw must not pay out")
	}
	if entries := f.queued(t); len(entries) != 0 {
		t.Errorf("outbox = %d entries, want none after rollback", len(entries))
	}

	f.notifier.err = nil
	cycle, err := f.engine.DrawCycle(ctx, g.ID, "ana")
	if err != nil {
		t.Fatalf("DrawCycle() error = %v", err)
	}
	entries := f.queued(t)
	if len(entries) != 1 || entries[0].Kind != models.OutboxNotification {
		t.Fatalf("outbox = %+v, want one notification", entries)
	}
	if entries[0].DedupeKey != "notify:draw_result:"+cycle.ID {
		t.Errorf("dedupe key = %s", entries[0].DedupeKey)
	}
}
