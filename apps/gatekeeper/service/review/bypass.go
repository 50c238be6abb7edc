package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/pitabwire/util"

	"github.com/antinvestor/qualitygate/internal/gate"
)

// AuthorizeEmergencyBypass records an administrator override for a blocked
// merge request. The merge itself is left to the caller.
func (e *Evaluator) AuthorizeEmergencyBypass(
	ctx context.Context,
	mergeRequestID, actingUserID, reason string,
) (*EmergencyBypassResult, error) {
	log := util.Log(ctx)

	if !e.policy.EmergencyBypassEnabled {
		return nil, gate.ErrBypassDisabled
	}

	if !e.policy.IsAdmin(actingUserID) {
		log.Warn("emergency bypass refused",
			"merge_request_id", mergeRequestID,
			"user_id", actingUserID,
		)
		return nil, fmt.Errorf("user %q may not bypass review: %w", actingUserID, gate.ErrUnauthorized)
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("bypass reason is required: %w", gate.ErrInvalidArgument)
	}

	mr, err := e.mergeRequests.GetMergeRequest(ctx, mergeRequestID)
	if err != nil {
		return nil, fmt.Errorf("load merge request %s: %w", mergeRequestID, err)
	}

	bypass := &gate.EmergencyBypass{
		ID:             gate.NewBypassID(),
		MergeRequestID: mr.ID,
		AuthorizedBy:   actingUserID,
		Reason:         reason,
		CreatedAt:      e.now(),
	}

	if err = e.bypasses.CreateBypass(ctx, bypass); err != nil {
		return nil, fmt.Errorf("record emergency bypass: %w", err)
	}

	log.Info("emergency bypass authorised",
		"bypass_id", bypass.ID.String(),
		"merge_request_id", mr.ID,
		"authorized_by", actingUserID,
	)

	alert := gate.NewAlert(gate.AlertMergeBlocked, gate.LevelInfo, mr.ProjectID,
		"Emergency bypass authorised",
		fmt.Sprintf("Review gate for merge request %s bypassed by %s: %s", mr.ID, actingUserID, reason),
	).WithRelatedEntity(mr.ID).WithAssignee(actingUserID).WithTimestamp(bypass.CreatedAt)
	e.notifier.Notify(ctx, alert)

	return &EmergencyBypassResult{
		Authorized: true,
		Bypass:     bypass,
		Message:    "emergency bypass authorised",
	}, nil
}

// BypassHistory lists the bypasses recorded for a merge request, oldest first.
func (e *Evaluator) BypassHistory(ctx context.Context, mergeRequestID string) ([]gate.EmergencyBypass, error) {
	bypasses, err := e.bypasses.ListBypasses(ctx, mergeRequestID)
	if err != nil {
		return nil, fmt.Errorf("list bypasses for %s: %w", mergeRequestID, err)
	}
	if bypasses == nil {
		bypasses = []gate.EmergencyBypass{}
	}
	return bypasses, nil
}
