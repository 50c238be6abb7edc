//nolint:testpackage // Tests swap the marshaller to simulate serialization failures
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/qualitygate/internal/gate"
)

// mockPublisher is a mock queue publisher for testing.
type mockPublisher struct {
	mu                sync.Mutex
	publishedMessages []any
	publishedHeaders  []map[string]string
	queues            []string
	shouldFail        bool
	shouldPanic       bool
}

func (m *mockPublisher) Publish(_ context.Context, queueName string, payload any, headers ...map[string]string) error {
	if m.shouldPanic {
		panic("broker exploded")
	}
	if m.shouldFail {
		return assert.AnError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues = append(m.queues, queueName)
	m.publishedMessages = append(m.publishedMessages, payload)
	if len(headers) > 0 {
		m.publishedHeaders = append(m.publishedHeaders, headers[0])
	}
	return nil
}

func newTestAlert() *gate.Alert {
	return gate.NewAlert(gate.AlertMergeBlocked, gate.LevelHigh, "proj-1", "Merge blocked", "2 violations").
		WithRelatedEntity("mr-7")
}

func TestDispatcher_Notify_PublishesJSON(t *testing.T) {
	publisher := &mockPublisher{}
	d := NewDispatcher(publisher, "quality.alerts")

	alert := newTestAlert()
	d.Notify(context.Background(), alert)

	require.Len(t, publisher.publishedMessages, 1)
	assert.Equal(t, []string{"quality.alerts"}, publisher.queues)

	data, ok := publisher.publishedMessages[0].([]byte)
	require.True(t, ok)

	var decoded gate.Alert
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, alert.ID, decoded.ID)
	assert.Equal(t, gate.AlertMergeBlocked, decoded.Type)
	assert.Equal(t, gate.LevelHigh, decoded.Level)
	assert.Equal(t, 2, decoded.Priority)
	assert.Equal(t, "mr-7", decoded.RelatedEntityID)

	require.Len(t, publisher.publishedHeaders, 1)
	assert.Equal(t, RoutingKey, publisher.publishedHeaders[0]["routing_key"])
	assert.Equal(t, "merge-blocked", publisher.publishedHeaders[0]["alert_type"])
	assert.Equal(t, "high", publisher.publishedHeaders[0]["alert_level"])
}

func TestDispatcher_Notify_PublishFailureIsSwallowed(t *testing.T) {
	publisher := &mockPublisher{shouldFail: true}
	d := NewDispatcher(publisher, "quality.alerts")

	assert.NotPanics(t, func() {
		d.Notify(context.Background(), newTestAlert())
	})
	assert.Empty(t, publisher.publishedMessages)
}

func TestDispatcher_Notify_PublisherPanicIsContained(t *testing.T) {
	publisher := &mockPublisher{shouldPanic: true}
	d := NewDispatcher(publisher, "quality.alerts")

	assert.NotPanics(t, func() {
		d.Send(context.Background(), newTestAlert())
	})
}

func TestDispatcher_Notify_SerializationFailureIsSwallowed(t *testing.T) {
	publisher := &mockPublisher{}
	d := NewDispatcher(publisher, "quality.alerts")
	d.marshal = func(any) ([]byte, error) { return nil, errors.New("unsupported value") }

	assert.NotPanics(t, func() {
		d.Notify(context.Background(), newTestAlert())
	})
	assert.Empty(t, publisher.publishedMessages)
}

func TestDispatcher_Notify_NilAlert(t *testing.T) {
	publisher := &mockPublisher{}
	d := NewDispatcher(publisher, "quality.alerts")

	d.Notify(context.Background(), nil)
	assert.Empty(t, publisher.publishedMessages)
}
