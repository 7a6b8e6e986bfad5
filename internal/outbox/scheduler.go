package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/kiumaa/kixikila/internal/storage"
)

// Scheduler runs the relay and draw-lease housekeeping on a fixed interval.
type Scheduler struct {
	sched gocron.Scheduler
}

// NewScheduler registers the relay and lease purge jobs. Jobs run in
// singleton mode so a slow pass is never overlapped by the next one.
func NewScheduler(relay *Relay, leases storage.DrawLeaseStore, interval time.Duration) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func(ctx context.Context) {
			res, err := relay.RunOnce(ctx)
			if err != nil {
				slog.Error("Outbox relay pass failed", "error", err)
				return
			}
			if res.Leased > 0 {
				slog.Info("Outbox relay pass",
					"leased", res.Leased,
					"succeeded", res.Succeeded,
					"retried", res.Retried,
					"dead", res.Dead,
				)
			}
		}),
		gocron.WithName("outbox-relay"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule outbox relay: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func(ctx context.Context) {
			n, err := leases.PurgeExpiredDrawLeases(ctx, time.Now())
			if err != nil {
				slog.Error("Draw lease purge failed", "error", err)
				return
			}
			if n > 0 {
				slog.Warn("Purged expired draw leases", "count", n)
			}
		}),
		gocron.WithName("draw-lease-purge"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule lease purge: %w", err)
	}

	return &Scheduler{sched: sched}, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.sched.Start()
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
