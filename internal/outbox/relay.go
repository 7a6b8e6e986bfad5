package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kiumaa/kixikila/internal/apperr"
	"github.com/kiumaa/kixikila/internal/ledger"
	"github.com/kiumaa/kixikila/internal/metrics"
	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/internal/notify"
	"github.com/kiumaa/kixikila/internal/storage"
)

const (
	defaultBatch       = 50
	defaultLeaseTTL    = 30 * time.Second
	defaultMaxAttempts = 8
	baseBackoff        = 2 * time.Second
	maxBackoff         = 10 * time.Minute
)

// errPermanent marks failures that retrying cannot fix.
var errPermanent = errors.New("permanent failure")

// RelayConfig tunes a Relay. Zero values use defaults.
type RelayConfig struct {
	Batch       int
	LeaseTTL    time.Duration
	MaxAttempts int
}

// Relay leases due outbox entries and processes them.
type Relay struct {
	store      storage.OutboxStore
	ledger     *ledger.Ledger
	dispatcher notify.Dispatcher
	metrics    *metrics.Metrics
	owner      string
	cfg        RelayConfig
	now        func() time.Time
}

// NewRelay creates a Relay with a unique lease owner.
func NewRelay(store storage.OutboxStore, l *ledger.Ledger, d notify.Dispatcher, m *metrics.Metrics, cfg RelayConfig) *Relay {
	if cfg.Batch <= 0 {
		cfg.Batch = defaultBatch
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Relay{
		store:      store,
		ledger:     l,
		dispatcher: d,
		metrics:    m,
		owner:      "relay-" + uuid.New().String(),
		cfg:        cfg,
		now:        time.Now,
	}
}

// Result summarises one relay pass.
type Result struct {
	Leased    int
	Succeeded int
	Retried   int
	Dead      int
}

// RunOnce processes one batch of due entries.
func (r *Relay) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	entries, err := r.store.LeaseOutbox(ctx, r.owner, r.cfg.Batch, r.now(), r.cfg.LeaseTTL)
	if err != nil {
		return res, err
	}
	res.Leased = len(entries)

	for _, e := range entries {
		perr := r.process(ctx, e)
		now := r.now()

		if perr == nil {
			if err := r.store.MarkOutboxSucceeded(ctx, e.ID, r.owner, now); err != nil {
				return res, err
			}
			res.Succeeded++
			r.metrics.ObserveOutbox(string(e.Kind), "succeeded")
			continue
		}

		dead := errors.Is(perr, errPermanent) || e.AttemptCount+1 >= r.cfg.MaxAttempts
		next := now.Add(backoff(e.AttemptCount))
		if err := r.store.MarkOutboxRetry(ctx, e.ID, r.owner, next, perr.Error(), dead, now); err != nil {
			return res, err
		}
		if dead {
			res.Dead++
			r.metrics.ObserveOutbox(string(e.Kind), "dead")
			slog.Error("Outbox entry dead-lettered", "entry_id", e.ID, "kind", e.Kind, "attempts", e.AttemptCount+1, "error", perr)
			continue
		}
		res.Retried++
		r.metrics.ObserveOutbox(string(e.Kind), "retried")
		slog.Warn("Outbox entry failed, will retry", "entry_id", e.ID, "kind", e.Kind, "next_attempt", next, "error", perr)
	}
	return res, nil
}

func (r *Relay) process(ctx context.Context, e *models.OutboxEntry) error {
	switch e.Kind {
	case models.OutboxLedgerAppend:
		var p AppendPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("%w: decode append: %v", errPermanent, err)
		}
		d, err := p.Draft()
		if err != nil {
			return fmt.Errorf("%w: %v", errPermanent, err)
		}
		if _, err := r.ledger.Append(ctx, d, p.IdempotencyKey); err != nil {
			// Domain rejections are final; storage failures are retried.
			if apperr.KindOf(err) != apperr.KindInternal {
				return fmt.Errorf("%w: %v", errPermanent, err)
			}
			return err
		}
		return nil

	case models.OutboxNotification:
		var n notify.Notification
		if err := json.Unmarshal(e.Payload, &n); err != nil {
			return fmt.Errorf("%w: decode notification: %v", errPermanent, err)
		}
		return r.dispatcher.Dispatch(ctx, n)

	default:
		return fmt.Errorf("%w: unknown outbox kind %q", errPermanent, e.Kind)
	}
}

// backoff doubles the delay with each attempt, capped at maxBackoff.
func backoff(attempts int) time.Duration {
	d := baseBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
