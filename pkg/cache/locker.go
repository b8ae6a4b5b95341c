package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockHeld is returned when a lease belongs to another owner.
var ErrLockHeld = errors.New("lock held by another owner")

// Locker grants expiring, owner-tagged leases. Acquisition is re-entrant for the same owner.
type Locker interface {
	TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
	// Renew extends a lease still held by owner. It reports false when the lease was lost.
	Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
}

type lease struct {
	owner     string
	expiresAt time.Time
}

// LocalLocker is an in-process Locker for single-replica deployments and tests.
type LocalLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

var _ Locker = (*LocalLocker)(nil)

// NewLocalLocker constructs an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{leases: make(map[string]lease), now: time.Now}
}

// TryAcquire takes or extends the lease for owner.
func (l *LocalLocker) TryAcquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.leases[key]; ok && cur.owner != owner && now.Before(cur.expiresAt) {
		return false, nil
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	} else {
		expiresAt = now.Add(24 * time.Hour)
	}
	l.leases[key] = lease{owner: owner, expiresAt: expiresAt}
	return true, nil
}

// Renew pushes the expiry of owner's live lease to now+ttl.
func (l *LocalLocker) Renew(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cur, ok := l.leases[key]
	if !ok || cur.owner != owner || !now.Before(cur.expiresAt) {
		return false, nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	cur.expiresAt = now.Add(ttl)
	l.leases[key] = cur
	return true, nil
}

// Release drops the lease when owner still holds it.
func (l *LocalLocker) Release(_ context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.leases[key]
	if !ok {
		return nil
	}
	if cur.owner != owner && l.now().Before(cur.expiresAt) {
		return ErrLockHeld
	}
	delete(l.leases, key)
	return nil
}
