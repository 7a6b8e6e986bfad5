package draw

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiumaa/kixikila/internal/storage"
)

// Locker grants exclusive, lease-bounded draw rights per group.
type Locker interface {
	// TryAcquire takes the group's lock without waiting. ok is false when
	// another holder's lease is still live. release must be called by the
	// holder once done.
	TryAcquire(ctx context.Context, groupID string, ttl time.Duration) (release func(), ok bool, err error)
}

type lease struct {
	token   string
	expires time.Time
}

// MemoryLocker is a per-process Locker for single-instance deployments.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]lease), now: time.Now}
}

// TryAcquire implements Locker. An expired lease is taken over.
func (l *MemoryLocker) TryAcquire(_ context.Context, groupID string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, held := l.leases[groupID]; held && now.Before(cur.expires) {
		return nil, false, nil
	}

	token := uuid.New().String()
	l.leases[groupID] = lease{token: token, expires: now.Add(ttl)}

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.leases[groupID]; ok && cur.token == token {
			delete(l.leases, groupID)
		}
	}
	return release, true, nil
}

// StoreLocker keeps leases in the draw_leases table so every instance
// sharing the database sees them.
type StoreLocker struct {
	store storage.DrawLeaseStore
	now   func() time.Time
}

// NewStoreLocker creates a StoreLocker on store.
func NewStoreLocker(store storage.DrawLeaseStore) *StoreLocker {
	return &StoreLocker{store: store, now: time.Now}
}

// TryAcquire implements Locker.
func (l *StoreLocker) TryAcquire(ctx context.Context, groupID string, ttl time.Duration) (func(), bool, error) {
	owner := uuid.New().String()
	ok, err := l.store.AcquireDrawLease(ctx, groupID, owner, l.now(), ttl)
	if err != nil || !ok {
		return nil, false, err
	}

	release := func() {
		// The caller's context may already be done; release must still run.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.store.ReleaseDrawLease(ctx, groupID, owner); err != nil {
			slog.Error("Failed to release draw lease", "group_id", groupID, "error", err)
		}
	}
	return release, true, nil
}
