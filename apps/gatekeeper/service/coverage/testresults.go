package coverage

import (
	"context"
	"fmt"

	"github.com/pitabwire/util"

	"github.com/antinvestor/qualitygate/internal/gate"
)

// Validate rejects negative counts.
func (r TestResults) Validate() error {
	if r.Total < 0 || r.Passed < 0 || r.Failed < 0 || r.Skipped < 0 {
		return fmt.Errorf("test counts must not be negative: %w", gate.ErrInvalidArgument)
	}
	return nil
}

// CheckTestFailures gates on failing tests. Only strict mode blocks the
// deployment, and only a blocked deployment raises an alert.
func (g *Gate) CheckTestFailures(
	ctx context.Context,
	projectID, commitID string,
	results TestResults,
) (*TestFailureResult, error) {
	if err := results.Validate(); err != nil {
		return nil, err
	}

	result := &TestFailureResult{Pass: results.Failed == 0}

	switch {
	case result.Pass:
		result.Message = fmt.Sprintf("all %d tests passed", results.Passed)
	case g.policy.StrictMode:
		reason := fmt.Sprintf("%d failing tests", results.Failed)
		result.DeploymentBlocked = true
		result.Message = "deployment blocked: " + reason
		g.BlockDeployment(ctx, projectID, commitID, reason)
	default:
		result.Message = fmt.Sprintf("%d failing tests", results.Failed)
	}

	util.Log(ctx).Info("test results evaluated",
		"project_id", projectID,
		"commit_id", commitID,
		"total", results.Total,
		"failed", results.Failed,
		"skipped", results.Skipped,
		"deployment_blocked", result.DeploymentBlocked,
	)

	return result, nil
}

// BlockDeployment raises a quality-gate-failure alert for the commit.
func (g *Gate) BlockDeployment(ctx context.Context, projectID, commitID, reason string) {
	util.Log(ctx).Warn("deployment blocked",
		"project_id", projectID,
		"commit_id", commitID,
		"reason", reason,
	)

	alert := gate.NewAlert(gate.AlertQualityGateFailure, gate.LevelHigh, projectID,
		"Deployment blocked",
		fmt.Sprintf("Deployment of commit %s blocked: %s", commitID, reason),
	).WithRelatedEntity(commitID).WithTimestamp(g.now())

	g.notifier.Notify(ctx, alert)
}
