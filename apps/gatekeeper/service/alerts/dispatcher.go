package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pitabwire/util"

	"github.com/antinvestor/qualitygate/internal/gate"
)

// RoutingKey is attached to every published alert for exchange-style routing.
const RoutingKey = "alert.notification"

// QueuePublisher defines the interface for publishing messages to a queue.
type QueuePublisher interface {
	Publish(ctx context.Context, queueName string, payload any, headers ...map[string]string) error
}

// Dispatcher publishes alerts to a single outbound queue. Delivery is best
// effort: failures are logged and never reach the caller.
type Dispatcher struct {
	publisher QueuePublisher
	queueName string
	marshal   func(any) ([]byte, error)
}

// NewDispatcher creates a dispatcher publishing on queueName.
func NewDispatcher(publisher QueuePublisher, queueName string) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		queueName: queueName,
		marshal:   json.Marshal,
	}
}

// Notify serializes and publishes the alert.
func (d *Dispatcher) Notify(ctx context.Context, alert *gate.Alert) {
	log := util.Log(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error("alert dispatch panicked", "panic", fmt.Sprint(r), "queue", d.queueName)
		}
	}()

	if alert == nil {
		log.Warn("ignoring nil alert")
		return
	}

	payload, err := d.marshal(alert)
	if err != nil {
		log.WithError(err).Error("could not serialize alert",
			"alert_id", alert.ID.String(),
			"alert_type", alert.Type,
		)
		return
	}

	headers := map[string]string{
		"routing_key": RoutingKey,
		"alert_type":  string(alert.Type),
		"alert_level": string(alert.Level),
		"project_id":  alert.ProjectID,
	}

	if err = d.publisher.Publish(ctx, d.queueName, payload, headers); err != nil {
		log.WithError(err).Error("could not publish alert",
			"alert_id", alert.ID.String(),
			"alert_type", alert.Type,
			"queue", d.queueName,
		)
		return
	}

	log.Info("alert dispatched",
		"alert_id", alert.ID.String(),
		"alert_type", alert.Type,
		"alert_level", alert.Level,
		"project_id", alert.ProjectID,
	)
}

// Send is Notify under the name the notification pipeline uses.
func (d *Dispatcher) Send(ctx context.Context, alert *gate.Alert) {
	d.Notify(ctx, alert)
}
