package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pitabwire/util"

	"github.com/antinvestor/qualitygate/internal/gate"
)

// AlertLogStore persists dispatched alerts for audit.
type AlertLogStore interface {
	Append(ctx context.Context, alert *gate.Alert) error
	ListRecent(ctx context.Context, projectID string, limit int) ([]gate.Alert, error)
}

// AuditHandler consumes the alert queue and appends each alert to the audit log.
type AuditHandler struct {
	store AlertLogStore
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(store AlertLogStore) *AuditHandler {
	return &AuditHandler{store: store}
}

// Handle processes one alert message. Undecodable messages are dropped so
// they are not redelivered forever; storage failures are returned for retry.
func (h *AuditHandler) Handle(ctx context.Context, headers map[string]string, payload []byte) error {
	log := util.Log(ctx)

	var alert gate.Alert
	if err := json.Unmarshal(payload, &alert); err != nil {
		log.WithError(err).Warn("dropping undecodable alert", "routing_key", headers["routing_key"])
		return nil
	}
	if !alert.Type.IsValid() || !alert.Level.IsValid() {
		log.Warn("dropping alert with unknown type or level",
			"alert_type", alert.Type,
			"alert_level", alert.Level,
		)
		return nil
	}
	if alert.ID.IsZero() {
		alert.ID = gate.NewAlertID()
	}
	alert.Priority = alert.Level.Priority()

	if err := h.store.Append(ctx, &alert); err != nil {
		return fmt.Errorf("append alert log: %w", err)
	}

	log.Debug("alert recorded", "alert_id", alert.ID.String(), "alert_type", alert.Type)
	return nil
}
