package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AlertType categorises an alert for downstream routing.
type AlertType string

// Alert types.
const (
	AlertSecurityVulnerability AlertType = "security-vulnerability"
	AlertPerformanceIssue      AlertType = "performance-issue"
	AlertQualityGateFailure    AlertType = "quality-gate-failure"
	AlertThresholdViolation    AlertType = "threshold-violation"
	AlertMergeBlocked          AlertType = "merge-blocked"
)

// IsValid reports whether t is a known alert type.
func (t AlertType) IsValid() bool {
	switch t {
	case AlertSecurityVulnerability, AlertPerformanceIssue, AlertQualityGateFailure,
		AlertThresholdViolation, AlertMergeBlocked:
		return true
	}
	return false
}

// AlertLevel is the urgency of an alert.
type AlertLevel string

// Alert levels, most urgent first.
const (
	LevelCritical AlertLevel = "critical"
	LevelHigh     AlertLevel = "high"
	LevelMedium   AlertLevel = "medium"
	LevelLow      AlertLevel = "low"
	LevelInfo     AlertLevel = "info"
)

// Priority returns the numeric priority of the level, 1 being the highest.
// Unknown levels rank below info.
func (l AlertLevel) Priority() int {
	switch l {
	case LevelCritical:
		return 1
	case LevelHigh:
		return 2
	case LevelMedium:
		return 3
	case LevelLow:
		return 4
	case LevelInfo:
		return 5
	}
	return 6
}

// IsValid reports whether l is a known alert level.
func (l AlertLevel) IsValid() bool {
	return l.Priority() <= 5
}

// ParseAlertLevel parses the wire form of an alert level.
func ParseAlertLevel(s string) (AlertLevel, error) {
	level := AlertLevel(strings.ToLower(strings.TrimSpace(s)))
	if !level.IsValid() {
		return "", fmt.Errorf("%w: alert level %q", ErrInvalidArgument, s)
	}
	return level, nil
}

// Alert is a notification raised by a gate or monitor.
type Alert struct {
	ID              AlertID    `json:"id"`
	Type            AlertType  `json:"type"`
	Level           AlertLevel `json:"level"`
	Priority        int        `json:"priority"`
	ProjectID       string     `json:"project_id"`
	RelatedEntityID string     `json:"related_entity_id,omitempty"`
	AssigneeID      string     `json:"assignee_id,omitempty"`
	IssueID         string     `json:"issue_id,omitempty"`
	Title           string     `json:"title"`
	Message         string     `json:"message"`
	Timestamp       time.Time  `json:"timestamp"`
}

// NewAlert builds an alert with a fresh ID and a priority derived from level.
func NewAlert(alertType AlertType, level AlertLevel, projectID, title, message string) *Alert {
	return &Alert{
		ID:        NewAlertID(),
		Type:      alertType,
		Level:     level,
		Priority:  level.Priority(),
		ProjectID: projectID,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// WithRelatedEntity returns a copy of the alert pointing at the given entity.
func (a *Alert) WithRelatedEntity(id string) *Alert {
	c := *a
	c.RelatedEntityID = id
	return &c
}

// WithAssignee returns a copy of the alert addressed to the given assignee.
func (a *Alert) WithAssignee(id string) *Alert {
	c := *a
	c.AssigneeID = id
	return &c
}

// WithIssue returns a copy of the alert referring to the given issue.
func (a *Alert) WithIssue(id string) *Alert {
	c := *a
	c.IssueID = id
	return &c
}

// WithTimestamp returns a copy of the alert stamped at t.
func (a *Alert) WithTimestamp(t time.Time) *Alert {
	c := *a
	c.Timestamp = t
	return &c
}

// MarshalJSON always writes the priority implied by the level.
func (a Alert) MarshalJSON() ([]byte, error) {
	type plain Alert
	out := plain(a)
	out.Priority = a.Level.Priority()
	return json.Marshal(out)
}

// Notifier delivers alerts on a best-effort basis. Implementations must not
// block decision logic on delivery and never report failure to the caller.
type Notifier interface {
	Notify(ctx context.Context, alert *Alert)
}
