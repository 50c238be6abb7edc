package gate_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/qualitygate/internal/gate"
)

func TestAlertLevel_Priority(t *testing.T) {
	levels := []gate.AlertLevel{
		gate.LevelCritical, gate.LevelHigh, gate.LevelMedium, gate.LevelLow, gate.LevelInfo,
	}
	for i, level := range levels {
		assert.Equal(t, i+1, level.Priority(), string(level))
		assert.True(t, level.IsValid())
	}
	assert.False(t, gate.AlertLevel("urgent").IsValid())
}

func TestNewAlert_PriorityFollowsLevel(t *testing.T) {
	a := gate.NewAlert(gate.AlertMergeBlocked, gate.LevelHigh, "p1", "Merge blocked", "msg")

	assert.False(t, a.ID.IsZero())
	assert.Equal(t, 2, a.Priority)
	assert.False(t, a.Timestamp.IsZero())
}

func TestAlert_WithHelpers_DoNotMutateOriginal(t *testing.T) {
	a := gate.NewAlert(gate.AlertThresholdViolation, gate.LevelLow, "p1", "t", "m")
	b := a.WithRelatedEntity("mr-1").WithAssignee("alice").WithIssue("42")

	assert.Empty(t, a.RelatedEntityID)
	assert.Empty(t, a.AssigneeID)
	assert.Equal(t, "mr-1", b.RelatedEntityID)
	assert.Equal(t, "alice", b.AssigneeID)
	assert.Equal(t, "42", b.IssueID)
	assert.Equal(t, a.ID, b.ID)
}

func TestAlert_MarshalJSON_WritesWireValues(t *testing.T) {
	a := gate.NewAlert(gate.AlertQualityGateFailure, gate.LevelCritical, "p1", "t", "m")
	a.Priority = 5

	data, err := json.Marshal(a)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "quality-gate-failure", decoded["type"])
	assert.Equal(t, "critical", decoded["level"])
	assert.InDelta(t, 1, decoded["priority"], 0)
	assert.Equal(t, a.ID.String(), decoded["id"])

	var back gate.Alert
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, a.ID, back.ID)
	assert.Equal(t, 1, back.Priority)
}

func TestParseAlertLevel(t *testing.T) {
	level, err := gate.ParseAlertLevel(" INFO ")
	require.NoError(t, err)
	assert.Equal(t, gate.LevelInfo, level)

	_, err = gate.ParseAlertLevel("panic")
	require.ErrorIs(t, err, gate.ErrInvalidArgument)
}

func TestBugSeverity_AlertLevel(t *testing.T) {
	assert.Equal(t, gate.LevelCritical, gate.SeverityCritical.AlertLevel())
	assert.Equal(t, gate.LevelHigh, gate.SeverityHigh.AlertLevel())
	assert.Equal(t, gate.LevelMedium, gate.SeverityMedium.AlertLevel())
	assert.Equal(t, gate.LevelLow, gate.SeverityLow.AlertLevel())
}

func TestBypassID_RoundTrip(t *testing.T) {
	id := gate.NewBypassID()
	parsed, err := gate.ParseBypassID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = gate.ParseBypassID("not-an-id")
	require.Error(t, err)
}
