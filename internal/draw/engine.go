// Package draw selects each cycle's winner and pays out the pool.
//
// A draw moves a (group, cycle) from idle through drawing to settled. The
// per-group lock keeps draws exclusive; the payout idempotency key, the
// unique cycle record and the conditional cycle advance keep them at most
// once even if the lock is lost.
package draw

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kiumaa/kixikila/internal/apperr"
	"github.com/kiumaa/kixikila/internal/archive"
	"github.com/kiumaa/kixikila/internal/balance"
	"github.com/kiumaa/kixikila/internal/calculator"
	"github.com/kiumaa/kixikila/internal/ledger"
	"github.com/kiumaa/kixikila/internal/membership"
	"github.com/kiumaa/kixikila/internal/metrics"
	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/internal/notify"
	"github.com/kiumaa/kixikila/internal/storage"
)

// DefaultLockTTL bounds how long one draw may hold its group's lock.
const DefaultLockTTL = 30 * time.Second

const tracerName = "github.com/kiumaa/kixikila/internal/draw"

// Notifier queues notifications inside the caller's unit of work.
type Notifier interface {
	EnqueueNotificationTx(ctx context.Context, store storage.OutboxStore, n notify.Notification) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets where draw results are announced.
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithArchiver sets where completed groups are exported.
func WithArchiver(a archive.Archiver) Option { return func(e *Engine) { e.archiver = a } }

// WithMetrics records draw outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithLockTTL sets the lock lease and the draw deadline.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithRandom replaces crypto/rand as the source of lottery picks.
func WithRandom(r io.Reader) Option { return func(e *Engine) { e.random = r } }

// Engine runs cycle draws.
type Engine struct {
	ledger   *ledger.Ledger
	store    storage.Store
	locker   Locker
	notifier Notifier
	archiver archive.Archiver
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	random   io.Reader
	ttl      time.Duration
}

// NewEngine creates an Engine.
func NewEngine(l *ledger.Ledger, store storage.Store, locker Locker, opts ...Option) *Engine {
	e := &Engine{
		ledger:   l,
		store:    store,
		locker:   locker,
		archiver: archive.Nop{},
		tracer:   otel.Tracer(tracerName),
		random:   rand.Reader,
		ttl:      DefaultLockTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PayoutKey is the idempotency key of a cycle's payout.
func PayoutKey(groupID string, cycle int) string {
	return fmt.Sprintf("draw:%s:%d", groupID, cycle)
}

// settlement is what a committed draw produced.
type settlement struct {
	cycle     *models.Cycle
	group     *models.Group
	snapshot  *membership.Snapshot
	replayed  bool
	completed bool
}

// DrawCycle draws the group's current cycle on behalf of requestedBy.
func (e *Engine) DrawCycle(ctx context.Context, groupID, requestedBy string) (*models.Cycle, error) {
	ctx, span := e.tracer.Start(ctx, "draw.DrawCycle", trace.WithAttributes(
		attribute.String("group.id", groupID),
		attribute.String("member.id", requestedBy),
	))
	defer span.End()

	res, err := e.drawCycle(ctx, groupID, requestedBy)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.MessageOf(err))
		e.metrics.ObserveDraw("unknown", strings.ToLower(string(apperr.KindOf(err))), 0)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("cycle.number", res.cycle.Number),
		attribute.String("cycle.winner", res.cycle.WinnerID),
		attribute.Bool("cycle.replayed", res.replayed),
	)
	if res.replayed {
		e.metrics.ObserveDraw(string(res.cycle.Method), "replayed", 0)
		return res.cycle, nil
	}

	if res.completed {
		e.archive(ctx, res.group)
	}
	return res.cycle, nil
}

func (e *Engine) drawCycle(ctx context.Context, groupID, requestedBy string) (*settlement, error) {
	if _, err := membership.Authorize(ctx, e.store, groupID, requestedBy, membership.CapabilityDraw); err != nil {
		return nil, err
	}

	release, ok, err := e.locker.TryAcquire(ctx, groupID, e.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire draw lock: %w", err)
	}
	if !ok {
		return nil, apperr.New(apperr.KindDrawInProgress, "a draw is already running for group %s", groupID)
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, e.ttl)
	defer cancel()
	start := time.Now()

	var res *settlement
	err = e.ledger.Atomically(ctx, func(tx *ledger.Tx) error {
		var err error
		res, err = e.settle(ctx, tx, groupID, requestedBy)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !res.replayed {
		e.metrics.ObserveDraw(string(res.cycle.Method), "settled", time.Since(start).Seconds())
	}
	return res, nil
}

// settle runs inside one unit of work: nothing persists unless all of it does.
func (e *Engine) settle(ctx context.Context, tx *ledger.Tx, groupID, requestedBy string) (*settlement, error) {
	s := tx.Store()
	if err := s.Lock(ctx, "draw:"+groupID); err != nil {
		return nil, err
	}

	group, err := s.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "group %s not found", groupID)
	}
	if err != nil {
		return nil, err
	}
	number := group.CurrentCycle

	existing, err := s.GetCycle(ctx, groupID, number)
	if err == nil {
		return &settlement{cycle: existing, group: group, replayed: true}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if group.Status != models.GroupStatusActive {
		return nil, apperr.New(apperr.KindGroupNotActive, "group %s is %s", groupID, group.Status)
	}

	snap, err := membership.TakeSnapshot(ctx, s, groupID, number)
	if err != nil {
		return nil, err
	}
	if len(snap.Eligible) == 0 {
		return nil, apperr.New(apperr.KindNoEligibleMembers, "no member is eligible for cycle %d", number)
	}
	if group.RequiresFullFunding {
		pool, err := balance.GroupPool(ctx, s, groupID, number)
		if err != nil {
			return nil, err
		}
		need := calculator.Prize(group.ContributionAmount, len(snap.Active))
		if pool.LessThan(need) {
			return nil, apperr.New(apperr.KindCycleNotFunded,
				"cycle %d pool is %s of %s", number, pool.String(), need.String())
		}
	}

	method := models.DrawMethodRandom
	if group.Type == models.GroupTypeFixedOrder {
		method = models.DrawMethodFixedOrder
	}
	winner, err := pick(e.random, snap.Eligible)
	if err != nil {
		return nil, fmt.Errorf("failed to pick winner: %w", err)
	}
	prize := calculator.Prize(group.ContributionAmount, len(snap.Participants))

	cycleID := uuid.New().String()
	payout, err := tx.Append(ctx, ledger.Draft{
		MemberID:    winner,
		GroupID:     groupID,
		CycleNumber: number,
		Type:        models.TransactionPayout,
		Scope:       models.ScopeWallet,
		Amount:      prize,
		Currency:    group.Currency,
		Status:      models.StatusCompleted,
		Metadata:    map[string]string{models.MetaCycleID: cycleID},
	}, PayoutKey(groupID, number))
	if err != nil {
		return nil, err
	}

	at := e.ledger.Now().UnixMilli()
	cycle := &models.Cycle{
		ID:                  cycleID,
		GroupID:             groupID,
		Number:              number,
		WinnerID:            winner,
		PrizeAmount:         prize,
		Eligible:            snap.Participants,
		Method:              method,
		PayoutTransactionID: payout.ID,
		DrawnBy:             requestedBy,
		DrawnAt:             at,
	}
	if err := s.CreateCycle(ctx, cycle); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, apperr.New(apperr.KindDrawInProgress, "cycle %d was drawn concurrently", number)
		}
		return nil, err
	}

	status := models.GroupStatusActive
	if number+1 > group.TotalCycles {
		status = models.GroupStatusCompleted
	}
	advanced, err := s.AdvanceCycle(ctx, groupID, number, status, at)
	if err != nil {
		return nil, err
	}
	if !advanced {
		return nil, apperr.New(apperr.KindDrawInProgress, "group %s moved past cycle %d", groupID, number)
	}
	group.CurrentCycle = number + 1
	group.Status = status
	group.UpdatedAt = at

	res := &settlement{
		cycle:     cycle,
		group:     group,
		snapshot:  snap,
		completed: status == models.GroupStatusCompleted,
	}
	if err := e.announce(ctx, s, res); err != nil {
		return nil, err
	}
	slog.Info("Cycle drawn",
		"group_id", groupID,
		"cycle", number,
		"winner_id", winner,
		"prize", prize.String(),
		"participants", len(snap.Participants),
		"method", method,
	)
	return res, nil
}

// pick draws a uniform index from r.
func pick(r io.Reader, candidates []string) (string, error) {
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	n, err := rand.Int(r, big.NewInt(int64(len(candidates))))
	if err != nil {
		return "", err
	}
	return candidates[n.Int64()], nil
}

// announce queues the draw_result notification through store, so it
// commits with the cycle.
func (e *Engine) announce(ctx context.Context, store storage.OutboxStore, res *settlement) error {
	if e.notifier == nil {
		return nil
	}

	summaries := make([]notify.ParticipantSummary, 0, len(res.cycle.Eligible))
	for _, id := range res.cycle.Eligible {
		paid := "0"
		if c, ok := res.snapshot.Paid[id]; ok {
			paid = c.Paid.String()
		}
		summaries = append(summaries, notify.ParticipantSummary{MemberID: id, Paid: paid})
	}
	payload, err := json.Marshal(notify.DrawResult{
		GroupID:      res.group.ID,
		GroupName:    res.group.Name,
		CycleNumber:  res.cycle.Number,
		WinnerID:     res.cycle.WinnerID,
		PrizeAmount:  res.cycle.PrizeAmount.String(),
		Currency:     res.group.Currency,
		Participants: summaries,
		Completed:    res.completed,
	})
	if err != nil {
		return fmt.Errorf("failed to encode draw result: %w", err)
	}

	recipients := make([]string, 0, len(res.snapshot.Active))
	for _, m := range res.snapshot.Active {
		recipients = append(recipients, m.MemberID)
	}

	err = e.notifier.EnqueueNotificationTx(ctx, store, notify.Notification{
		ID:         "draw_result:" + res.cycle.ID,
		Type:       notify.TypeDrawResult,
		Recipients: recipients,
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("failed to queue draw notification: %w", err)
	}
	return nil
}

// archive exports a completed group's cycles. Failures are logged only.
func (e *Engine) archive(ctx context.Context, group *models.Group) {
	cycles, err := e.store.ListCycles(ctx, group.ID)
	if err != nil {
		slog.Warn("Failed to load cycles for archive", "group_id", group.ID, "error", err)
		return
	}
	if err := e.archiver.ArchiveGroup(ctx, group, cycles); err != nil {
		slog.Warn("Failed to archive group", "group_id", group.ID, "error", err)
	}
}
