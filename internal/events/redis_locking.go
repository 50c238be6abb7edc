package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock:"

// Owner-checked scripts keep release and extension atomic on a single instance.
var (
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`)

	extendScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// RedisLockManager is a LockManager shared by every replica pointing at the
// same Redis instance.
type RedisLockManager struct {
	client redis.UniversalClient
}

// NewRedisLockManager creates a new Redis-backed lock manager.
func NewRedisLockManager(client redis.UniversalClient) *RedisLockManager {
	return &RedisLockManager{client: client}
}

// TryAcquire attempts to acquire a lock without blocking.
func (m *RedisLockManager) TryAcquire(
	ctx context.Context,
	key, owner string,
	ttl time.Duration,
) (DistributedLock, bool, error) {
	redisKey := lockKeyPrefix + key

	ok, err := m.client.SetNX(ctx, redisKey, owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		return m.newLock(key, owner, ttl), true, nil
	}

	// Held already; re-acquiring by the same owner extends it.
	extended, err := m.runOwnerScript(ctx, extendScript, redisKey, owner, ttl.Milliseconds())
	if err != nil {
		return nil, false, fmt.Errorf("extend on re-acquire: %w", err)
	}
	if !extended {
		return nil, false, nil
	}
	return m.newLock(key, owner, ttl), true, nil
}

// Release releases a lock.
func (m *RedisLockManager) Release(ctx context.Context, key, owner string) error {
	released, err := m.runOwnerScript(ctx, releaseScript, lockKeyPrefix+key, owner)
	if err != nil {
		return fmt.Errorf("release script: %w", err)
	}
	if !released {
		return ErrLockNotHeld
	}
	return nil
}

// GetLockInfo returns information about a lock.
func (m *RedisLockManager) GetLockInfo(ctx context.Context, key string) (*LockInfo, error) {
	redisKey := lockKeyPrefix + key

	owner, err := m.client.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil //nolint:nilnil // nil info is valid for free locks
	}
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}

	ttl, err := m.client.PTTL(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("pttl: %w", err)
	}
	if ttl < 0 {
		return nil, nil //nolint:nilnil // key vanished or has no expiry
	}

	return &LockInfo{
		Key:       key,
		Owner:     owner,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (m *RedisLockManager) newLock(key, owner string, ttl time.Duration) *redisLock {
	return &redisLock{
		key:       key,
		owner:     owner,
		expiresAt: time.Now().Add(ttl),
		manager:   m,
	}
}

func (m *RedisLockManager) runOwnerScript(
	ctx context.Context,
	script *redis.Script,
	redisKey, owner string,
	args ...any,
) (bool, error) {
	result, err := script.Run(ctx, m.client, []string{redisKey}, append([]any{owner}, args...)...).Result()
	if err != nil {
		return false, err
	}
	count, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type: %T", result)
	}
	return count > 0, nil
}

type redisLock struct {
	key       string
	owner     string
	expiresAt time.Time
	manager   *RedisLockManager
	released  bool
}

func (l *redisLock) Key() string {
	return l.key
}

func (l *redisLock) ExpiresAt() time.Time {
	return l.expiresAt
}

func (l *redisLock) Unlock(ctx context.Context) error {
	if l.released {
		return nil
	}
	err := l.manager.Release(ctx, l.key, l.owner)
	if err == nil {
		l.released = true
	}
	return err
}

func (l *redisLock) Extend(ctx context.Context, duration time.Duration) error {
	if l.released {
		return ErrLockExpired
	}

	extended, err := l.manager.runOwnerScript(
		ctx, extendScript, lockKeyPrefix+l.key, l.owner, duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("extend script: %w", err)
	}
	if !extended {
		return ErrLockNotHeld
	}

	l.expiresAt = time.Now().Add(duration)
	return nil
}
