// Package events holds the ingest envelope passed from the webhook to the
// gatekeeper and the coordination primitives used while processing it and
// while running scheduled scans. Those are delivery deduplication and
// short-lived distributed locks.
package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Common locking errors.
var (
	ErrLockExpired = errors.New("lock expired")
	ErrLockNotHeld = errors.New("lock not held by caller")
)

// LockInfo describes the current holder of a lock.
type LockInfo struct {
	Key        string    `json:"key"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at,omitzero"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// DistributedLock is a lock held by a single owner until released or expired.
type DistributedLock interface {
	Key() string
	ExpiresAt() time.Time

	// Unlock releases the lock. Unlocking twice is a no-op.
	Unlock(ctx context.Context) error

	// Extend pushes the expiry out to now+duration. It fails with
	// ErrLockExpired or ErrLockNotHeld once the lock has been lost.
	Extend(ctx context.Context, duration time.Duration) error
}

// LockManager hands out short-lived exclusive locks keyed by name.
type LockManager interface {
	// TryAcquire takes the lock without waiting. An owner that already holds
	// it re-acquires and extends it.
	TryAcquire(ctx context.Context, key string, owner string, ttl time.Duration) (DistributedLock, bool, error)

	// Release releases a lock held by owner.
	Release(ctx context.Context, key string, owner string) error

	// GetLockInfo returns the holder of a lock, or nil when it is free.
	GetLockInfo(ctx context.Context, key string) (*LockInfo, error)
}
// InMemoryLockManager is a process-local LockManager.
type InMemoryLockManager struct {
	mu        sync.RWMutex
	locks     map[string]*inMemoryLock
	stopCh    chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
}

type inMemoryLock struct {
	key        string
	owner      string
	acquiredAt time.Time
	expiresAt  time.Time
	manager    *InMemoryLockManager
	released   bool
}

// NewInMemoryLockManager creates a new in-memory lock manager.
func NewInMemoryLockManager() *InMemoryLockManager {
	m := &InMemoryLockManager{
		locks:     make(map[string]*inMemoryLock),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	go m.cleanupExpired()
	return m
}

// Close stops the lock manager's cleanup goroutine.
func (m *InMemoryLockManager) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		<-m.stoppedCh
	})
	return nil
}

func (m *InMemoryLockManager) cleanupExpired() {
	defer close(m.stoppedCh)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.mu.Lock()
			now := time.Now()
			for key, lock := range m.locks {
				if lock.expiresAt.Before(now) {
					delete(m.locks, key)
				}
			}
			m.mu.Unlock()
		}
	}
}

// TryAcquire attempts to acquire a lock without blocking. An owner that
// already holds the lock re-acquires it and extends the expiry.
func (m *InMemoryLockManager) TryAcquire(
	_ context.Context,
	key, owner string,
	ttl time.Duration,
) (DistributedLock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	if existing, ok := m.locks[key]; ok && existing.expiresAt.After(now) {
		if existing.owner != owner {
			return nil, false, nil
		}
		existing.expiresAt = now.Add(ttl)
		return &inMemoryLock{
			key:        key,
			owner:      owner,
			acquiredAt: existing.acquiredAt,
			expiresAt:  existing.expiresAt,
			manager:    m,
		}, true, nil
	}

	entry := &inMemoryLock{
		key:        key,
		owner:      owner,
		acquiredAt: now,
		expiresAt:  now.Add(ttl),
		manager:    m,
	}
	m.locks[key] = entry

	// Callers get their own handle so Unlock on it cannot flip the stored entry.
	handle := *entry
	return &handle, true, nil
}

// Release releases a lock. Releasing a free lock is a no-op.
func (m *InMemoryLockManager) Release(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[key]
	if !ok {
		return nil
	}
	if existing.owner != owner {
		return ErrLockNotHeld
	}

	delete(m.locks, key)
	return nil
}

// GetLockInfo returns information about a lock.
func (m *InMemoryLockManager) GetLockInfo(_ context.Context, key string) (*LockInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lock, ok := m.locks[key]
	if !ok || lock.expiresAt.Before(time.Now()) {
		return nil, nil //nolint:nilnil // nil info is valid for free locks
	}

	return &LockInfo{
		Key:        lock.key,
		Owner:      lock.owner,
		AcquiredAt: lock.acquiredAt,
		ExpiresAt:  lock.expiresAt,
	}, nil
}

func (l *inMemoryLock) Key() string {
	return l.key
}

func (l *inMemoryLock) ExpiresAt() time.Time {
	return l.expiresAt
}

func (l *inMemoryLock) Unlock(ctx context.Context) error {
	if l.released {
		return nil
	}
	err := l.manager.Release(ctx, l.key, l.owner)
	if err == nil {
		l.released = true
	}
	return err
}

func (l *inMemoryLock) Extend(_ context.Context, duration time.Duration) error {
	l.manager.mu.Lock()
	defer l.manager.mu.Unlock()

	existing, ok := l.manager.locks[l.key]
	if !ok || existing.expiresAt.Before(time.Now()) {
		return ErrLockExpired
	}
	if existing.owner != l.owner {
		return ErrLockNotHeld
	}

	existing.expiresAt = time.Now().Add(duration)
	l.expiresAt = existing.expiresAt
	return nil
}
