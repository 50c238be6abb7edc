package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "dedup:"

// RedisDeduplicationStore keeps delivery outcomes in Redis with a TTL.
type RedisDeduplicationStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisDeduplicationStore creates a new Redis-backed deduplication store.
func NewRedisDeduplicationStore(client redis.UniversalClient, ttl time.Duration) *RedisDeduplicationStore {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &RedisDeduplicationStore{
		client: client,
		ttl:    ttl,
	}
}

// MarkProcessed records the outcome of processing a delivery.
func (s *RedisDeduplicationStore) MarkProcessed(ctx context.Context, deliveryID string, result *ProcessingResult) error {
	if result == nil {
		result = &ProcessingResult{DeliveryID: deliveryID, Success: true}
	}
	if result.ProcessedAt.IsZero() {
		result.ProcessedAt = time.Now()
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	if setErr := s.client.Set(ctx, dedupKeyPrefix+deliveryID, data, s.ttl).Err(); setErr != nil {
		return fmt.Errorf("set key: %w", setErr)
	}
	return nil
}

// IsProcessed checks if a delivery has been processed.
func (s *RedisDeduplicationStore) IsProcessed(ctx context.Context, deliveryID string) (bool, error) {
	exists, err := s.client.Exists(ctx, dedupKeyPrefix+deliveryID).Result()
	if err != nil {
		return false, fmt.Errorf("check exists: %w", err)
	}
	return exists > 0, nil
}

// GetProcessingResult returns the recorded outcome of a delivery.
func (s *RedisDeduplicationStore) GetProcessingResult(ctx context.Context, deliveryID string) (*ProcessingResult, error) {
	data, err := s.client.Get(ctx, dedupKeyPrefix+deliveryID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil //nolint:nilnil // nil result is valid for unseen deliveries
	}
	if err != nil {
		return nil, fmt.Errorf("get key: %w", err)
	}

	var result ProcessingResult
	if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", unmarshalErr)
	}
	return &result, nil
}

// Cleanup is a no-op: Redis expires entries on its own.
func (s *RedisDeduplicationStore) Cleanup(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}
