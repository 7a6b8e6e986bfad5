package sqlstore

import (
	"context"
	"fmt"
	"time"
)

// AcquireDrawLease takes the group's draw lease when it is free or expired.
// The conditional upsert lets exactly one contender win across instances.
func (s *Store) AcquireDrawLease(ctx context.Context, groupID, owner string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := s.exec(ctx, `
INSERT INTO draw_leases (group_id, owner, expires_at) VALUES (?, ?, ?)
ON CONFLICT (group_id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
WHERE draw_leases.expires_at <= ?`,
		groupID, owner, now.Add(ttl).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to acquire draw lease: %w", err)
	}
	return applied(res)
}

// ReleaseDrawLease drops the lease if owner still holds it.
func (s *Store) ReleaseDrawLease(ctx context.Context, groupID, owner string) error {
	if _, err := s.exec(ctx, "DELETE FROM draw_leases WHERE group_id = ? AND owner = ?", groupID, owner); err != nil {
		return fmt.Errorf("failed to release draw lease: %w", err)
	}
	return nil
}

// PurgeExpiredDrawLeases removes leases abandoned by crashed holders.
func (s *Store) PurgeExpiredDrawLeases(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.exec(ctx, "DELETE FROM draw_leases WHERE expires_at <= ?", now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge draw leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}
