package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/util"
	"github.com/redis/go-redis/v9"
)

// BackendType selects where coordination state lives.
type BackendType string

// Backend type constants.
const (
	BackendMemory BackendType = "memory"
	BackendRedis  BackendType = "redis"
)

// BackendConfig contains configuration for backend storage.
type BackendConfig struct {
	DeduplicationBackend BackendType
	LockingBackend       BackendType
	RedisURL             string
	DeduplicationTTL     time.Duration
}

// DefaultBackendConfig returns the default configuration with in-memory backends.
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		DeduplicationBackend: BackendMemory,
		LockingBackend:       BackendMemory,
		DeduplicationTTL:     defaultDedupTTL,
	}
}

// Backends holds the selected implementations.
type Backends struct {
	Deduplication DeduplicationStore
	Locking       LockManager

	redisClient *redis.Client
	closers     []func() error
}

// Close releases the Redis connection and stops in-memory cleanup loops.
func (b *Backends) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c())
	}
	if b.redisClient != nil {
		errs = append(errs, b.redisClient.Close())
	}
	return errors.Join(errs...)
}

// HealthCheck pings Redis when it is in use.
func (b *Backends) HealthCheck(ctx context.Context) error {
	if b.redisClient != nil {
		if err := b.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis health check: %w", err)
		}
	}
	return nil
}

// NewBackends creates backend implementations based on the configuration.
func NewBackends(ctx context.Context, cfg BackendConfig) (*Backends, error) {
	log := util.Log(ctx)
	backends := &Backends{}

	if cfg.DeduplicationBackend == BackendRedis || cfg.LockingBackend == BackendRedis {
		if cfg.RedisURL == "" {
			return nil, errors.New("redis URL required when using redis backend")
		}

		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}

		client := redis.NewClient(opts)
		if pingErr := client.Ping(ctx).Err(); pingErr != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", pingErr)
		}
		backends.redisClient = client

		log.Info("connected to Redis", "url", sanitizeRedisURL(cfg.RedisURL))
	}

	switch cfg.DeduplicationBackend {
	case BackendRedis:
		backends.Deduplication = NewRedisDeduplicationStore(backends.redisClient, cfg.DeduplicationTTL)
		log.Info("using Redis deduplication store")
	case BackendMemory, "":
		store := NewInMemoryDeduplicationStore()
		backends.closers = append(backends.closers, store.Close)
		backends.Deduplication = store
		log.Info("using in-memory deduplication store")
	default:
		_ = backends.Close()
		return nil, fmt.Errorf("unknown deduplication backend %q", cfg.DeduplicationBackend)
	}

	switch cfg.LockingBackend {
	case BackendRedis:
		backends.Locking = NewRedisLockManager(backends.redisClient)
		log.Info("using Redis lock manager")
	case BackendMemory, "":
		manager := NewInMemoryLockManager()
		backends.closers = append(backends.closers, manager.Close)
		backends.Locking = manager
		log.Info("using in-memory lock manager")
	default:
		_ = backends.Close()
		return nil, fmt.Errorf("unknown locking backend %q", cfg.LockingBackend)
	}

	return backends, nil
}

// NewBackendsWithFallback creates backends, falling back to memory if Redis is unusable.
func NewBackendsWithFallback(ctx context.Context, cfg BackendConfig) (*Backends, error) {
	backends, err := NewBackends(ctx, cfg)
	if err != nil {
		util.Log(ctx).Warn("falling back to in-memory backends", "error", err.Error())

		cfg.DeduplicationBackend = BackendMemory
		cfg.LockingBackend = BackendMemory
		return NewBackends(ctx, cfg)
	}
	return backends, nil
}

// sanitizeRedisURL removes password from Redis URL for logging.
func sanitizeRedisURL(url string) string {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return "[invalid]"
	}

	if opts.Username != "" {
		return fmt.Sprintf("redis://%s@%s/%d", opts.Username, opts.Addr, opts.DB)
	}
	return fmt.Sprintf("redis://%s/%d", opts.Addr, opts.DB)
}
