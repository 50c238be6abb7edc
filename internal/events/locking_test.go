package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/qualitygate/internal/events"
)

func newTestLockManager(t *testing.T) *events.InMemoryLockManager {
	t.Helper()
	manager := events.NewInMemoryLockManager()
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func TestInMemoryLockManager_TryAcquire_Contention(t *testing.T) {
	manager := newTestLockManager(t)
	ctx := context.Background()

	lock, acquired, err := manager.TryAcquire(ctx, "bugsla:scan", "replica-a", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	assert.Equal(t, "bugsla:scan", lock.Key())

	other, acquired, err := manager.TryAcquire(ctx, "bugsla:scan", "replica-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.Nil(t, other)

	require.NoError(t, lock.Unlock(ctx))

	other, acquired, err = manager.TryAcquire(ctx, "bugsla:scan", "replica-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, other.Unlock(ctx))
}

func TestInMemoryLockManager_SameOwnerReacquires(t *testing.T) {
	manager := newTestLockManager(t)
	ctx := context.Background()

	first, acquired, err := manager.TryAcquire(ctx, "k", "owner", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	second, acquired, err := manager.TryAcquire(ctx, "k", "owner", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, second.Unlock(ctx))
	info, err := manager.GetLockInfo(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, info)

	// The first handle can no longer extend the lock and unlocking it is harmless.
	require.ErrorIs(t, first.Extend(ctx, time.Minute), events.ErrLockExpired)
	require.NoError(t, first.Unlock(ctx))
}

func TestInMemoryLockManager_ExpiredLockCanBeTaken(t *testing.T) {
	manager := newTestLockManager(t)
	ctx := context.Background()

	_, acquired, err := manager.TryAcquire(ctx, "k", "a", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(20 * time.Millisecond)

	_, acquired, err = manager.TryAcquire(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestInMemoryLockManager_ReleaseByOtherOwner(t *testing.T) {
	manager := newTestLockManager(t)
	ctx := context.Background()

	_, _, err := manager.TryAcquire(ctx, "k", "a", time.Minute)
	require.NoError(t, err)

	err = manager.Release(ctx, "k", "b")
	require.ErrorIs(t, err, events.ErrLockNotHeld)

	require.NoError(t, manager.Release(ctx, "missing", "a"))
}

func TestInMemoryLockManager_GetLockInfo(t *testing.T) {
	manager := newTestLockManager(t)
	ctx := context.Background()

	info, err := manager.GetLockInfo(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, info)

	lock, _, err := manager.TryAcquire(ctx, "k", "a", time.Minute)
	require.NoError(t, err)

	info, err = manager.GetLockInfo(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "a", info.Owner)
	assert.False(t, info.AcquiredAt.After(info.ExpiresAt))
	assert.Equal(t, lock.ExpiresAt(), info.ExpiresAt)
}

func TestInMemoryLockManager_Extend(t *testing.T) {
	manager := newTestLockManager(t)
	ctx := context.Background()

	lock, _, err := manager.TryAcquire(ctx, "k", "a", time.Second)
	require.NoError(t, err)
	before := lock.ExpiresAt()

	require.NoError(t, lock.Extend(ctx, time.Hour))
	assert.True(t, lock.ExpiresAt().After(before))

	require.NoError(t, lock.Unlock(ctx))
	require.ErrorIs(t, lock.Extend(ctx, time.Hour), events.ErrLockExpired)
}

func TestInMemoryLockManager_ExtendAfterTakeover(t *testing.T) {
	manager := newTestLockManager(t)
	ctx := context.Background()

	lock, _, err := manager.TryAcquire(ctx, "k", "a", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, acquired, err := manager.TryAcquire(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	require.ErrorIs(t, lock.Extend(ctx, time.Minute), events.ErrLockNotHeld)
}
