package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/util"
)

const defaultDedupTTL = 24 * time.Hour

// DeduplicationStore remembers which deliveries have already been processed.
// Webhook senders retry on timeouts, so the same delivery can arrive twice.
type DeduplicationStore interface {
	// MarkProcessed records the outcome of processing a delivery.
	MarkProcessed(ctx context.Context, deliveryID string, result *ProcessingResult) error

	// IsProcessed checks if a delivery has been processed.
	IsProcessed(ctx context.Context, deliveryID string) (bool, error)

	// GetProcessingResult returns the recorded outcome, or nil when unknown.
	GetProcessingResult(ctx context.Context, deliveryID string) (*ProcessingResult, error)

	// Cleanup removes entries older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
}

// ProcessingResult is the recorded outcome of one delivery.
type ProcessingResult struct {
	DeliveryID   string    `json:"delivery_id"`
	Kind         string    `json:"kind,omitempty"`
	ProcessedAt  time.Time `json:"processed_at"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
}

// InMemoryDeduplicationStore is a process-local DeduplicationStore.
type InMemoryDeduplicationStore struct {
	mu        sync.RWMutex
	entries   map[string]*ProcessingResult
	stopCh    chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
}

// NewInMemoryDeduplicationStore creates a new in-memory deduplication store.
func NewInMemoryDeduplicationStore() *InMemoryDeduplicationStore {
	store := &InMemoryDeduplicationStore{
		entries:   make(map[string]*ProcessingResult),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	go store.periodicCleanup()
	return store
}

// Close stops the store's cleanup goroutine.
func (s *InMemoryDeduplicationStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.stoppedCh
	})
	return nil
}

func (s *InMemoryDeduplicationStore) periodicCleanup() {
	defer close(s.stoppedCh)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_, _ = s.Cleanup(context.Background(), defaultDedupTTL)
		}
	}
}

// MarkProcessed records the outcome of processing a delivery.
func (s *InMemoryDeduplicationStore) MarkProcessed(_ context.Context, deliveryID string, result *ProcessingResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result == nil {
		result = &ProcessingResult{DeliveryID: deliveryID, Success: true}
	}
	if result.ProcessedAt.IsZero() {
		result.ProcessedAt = time.Now()
	}
	s.entries[deliveryID] = result
	return nil
}

// IsProcessed checks if a delivery has been processed.
func (s *InMemoryDeduplicationStore) IsProcessed(_ context.Context, deliveryID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.entries[deliveryID]
	return exists, nil
}

// GetProcessingResult returns the recorded outcome of a delivery.
func (s *InMemoryDeduplicationStore) GetProcessingResult(_ context.Context, deliveryID string) (*ProcessingResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.entries[deliveryID], nil
}

// Cleanup removes old deduplication entries.
func (s *InMemoryDeduplicationStore) Cleanup(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for key, entry := range s.entries {
		if entry.ProcessedAt.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// ProcessOnce runs fn unless deliveryID has already succeeded. Failed
// deliveries are recorded but may be retried. An empty deliveryID disables
// deduplication.
func ProcessOnce(
	ctx context.Context,
	store DeduplicationStore,
	deliveryID, kind string,
	fn func(ctx context.Context) error,
) (bool, error) {
	if deliveryID == "" {
		return true, fn(ctx)
	}

	previous, err := store.GetProcessingResult(ctx, deliveryID)
	if err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}
	if previous != nil && previous.Success {
		util.Log(ctx).Debug("skipping duplicate delivery", "delivery_id", deliveryID, "kind", kind)
		return false, nil
	}

	start := time.Now()
	handleErr := fn(ctx)

	result := &ProcessingResult{
		DeliveryID:  deliveryID,
		Kind:        kind,
		ProcessedAt: time.Now(),
		Success:     handleErr == nil,
		DurationMS:  time.Since(start).Milliseconds(),
	}
	if handleErr != nil {
		result.ErrorMessage = handleErr.Error()
	}

	if markErr := store.MarkProcessed(ctx, deliveryID, result); markErr != nil {
		// The delivery was handled; a redelivery will simply run again.
		util.Log(ctx).WithError(markErr).Warn("could not record delivery", "delivery_id", deliveryID)
	}

	return true, handleErr
}
