package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/internal/storage"
)

const outboxColumns = `id, kind, payload, dedupe_key, status, attempt_count, next_attempt_at, lease_owner,
	lease_expires_at, last_error, created_at, updated_at`

// EnqueueOutbox queues e unless its dedupe key is already queued.
func (s *Store) EnqueueOutbox(ctx context.Context, e *models.OutboxEntry) (bool, error) {
	res, err := s.exec(ctx,
		"INSERT INTO outbox ("+outboxColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		e.ID, string(e.Kind), string(e.Payload), e.DedupeKey, string(e.Status), e.AttemptCount, e.NextAttemptAt,
		e.LeaseOwner, e.LeaseExpires, e.LastError, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue outbox entry: %w", err)
	}
	return applied(res)
}

// GetOutbox returns one outbox entry by ID.
func (s *Store) GetOutbox(ctx context.Context, id string) (*models.OutboxEntry, error) {
	e, err := scanOutbox(s.queryRow(ctx, "SELECT "+outboxColumns+" FROM outbox WHERE id = ?", id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("outbox entry %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox entry: %w", err)
	}
	return e, nil
}

// LeaseOutbox leases due entries for one relay worker. Pending entries whose
// next attempt is due and leased entries whose lease expired are eligible.
func (s *Store) LeaseOutbox(ctx context.Context, owner string, limit int, now time.Time, ttl time.Duration) ([]*models.OutboxEntry, error) {
	if owner == "" {
		return nil, fmt.Errorf("lease owner is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	nowMs := now.UnixMilli()
	expires := now.Add(ttl).UnixMilli()

	var leased []*models.OutboxEntry
	err := s.InTx(ctx, func(txStore storage.Store) error {
		tx := txStore.(*Store)

		rows, err := tx.query(ctx, `
SELECT id FROM outbox
WHERE (status = ? AND next_attempt_at <= ?)
   OR (status = ? AND lease_expires_at <= ?)
ORDER BY next_attempt_at ASC, created_at ASC, id ASC
LIMIT ?`,
			string(models.OutboxPending), nowMs, string(models.OutboxLeased), nowMs, limit,
		)
		if err != nil {
			return fmt.Errorf("failed to select lease candidates: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan lease candidate: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("failed to iterate lease candidates: %w", err)
		}
		rows.Close()

		for _, id := range ids {
			res, err := tx.exec(ctx, `
UPDATE outbox SET status = ?, lease_owner = ?, lease_expires_at = ?, updated_at = ?
WHERE id = ?
  AND ((status = ? AND next_attempt_at <= ?) OR (status = ? AND lease_expires_at <= ?))`,
				string(models.OutboxLeased), owner, expires, nowMs, id,
				string(models.OutboxPending), nowMs, string(models.OutboxLeased), nowMs,
			)
			if err != nil {
				return fmt.Errorf("failed to lease outbox entry %s: %w", id, err)
			}
			ok, err := applied(res)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			e, err := tx.GetOutbox(ctx, id)
			if err != nil {
				return err
			}
			leased = append(leased, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// MarkOutboxSucceeded acknowledges a leased entry.
func (s *Store) MarkOutboxSucceeded(ctx context.Context, id, owner string, now time.Time) error {
	res, err := s.exec(ctx, `
UPDATE outbox SET status = ?, lease_owner = '', lease_expires_at = 0, last_error = '', updated_at = ?
WHERE id = ? AND status = ? AND lease_owner = ?`,
		string(models.OutboxSucceeded), now.UnixMilli(), id, string(models.OutboxLeased), owner,
	)
	if err != nil {
		return fmt.Errorf("failed to ack outbox entry: %w", err)
	}
	ok, err := applied(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("outbox lease %s/%s: %w", id, owner, storage.ErrNotFound)
	}
	return nil
}

// MarkOutboxRetry records a failed attempt and releases the lease.
func (s *Store) MarkOutboxRetry(ctx context.Context, id, owner string, next time.Time, lastErr string, dead bool, now time.Time) error {
	status := models.OutboxPending
	if dead {
		status = models.OutboxDead
	}
	res, err := s.exec(ctx, `
UPDATE outbox SET status = ?, attempt_count = attempt_count + 1, next_attempt_at = ?, lease_owner = '',
	lease_expires_at = 0, last_error = ?, updated_at = ?
WHERE id = ? AND status = ? AND lease_owner = ?`,
		string(status), next.UnixMilli(), lastErr, now.UnixMilli(), id, string(models.OutboxLeased), owner,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule outbox entry: %w", err)
	}
	ok, err := applied(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("outbox lease %s/%s: %w", id, owner, storage.ErrNotFound)
	}
	return nil
}

func scanOutbox(scan func(dest ...any) error) (*models.OutboxEntry, error) {
	var (
		e       models.OutboxEntry
		kind    string
		payload string
		status  string
	)
	if err := scan(&e.ID, &kind, &payload, &e.DedupeKey, &status, &e.AttemptCount, &e.NextAttemptAt,
		&e.LeaseOwner, &e.LeaseExpires, &e.LastError, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Kind = models.OutboxKind(kind)
	e.Payload = []byte(payload)
	e.Status = models.OutboxStatus(status)
	return &e, nil
}
