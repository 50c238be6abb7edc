package coverage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/qualitygate/internal/gate"
)

// Rule names and fixed messages.
const (
	RuleCoverageData     = "coverage-data"
	RuleLineCoverage     = "line-coverage"
	RuleBranchCoverage   = "branch-coverage"
	RuleFunctionCoverage = "function-coverage"
	RuleNewCodeCoverage  = "new-code-coverage"

	MessageGateDisabled        = "quality gate disabled"
	MessageMissingCoverage     = "missing coverage data"
	MessageNoNewCode           = "no new code"
	MessageInsufficientHistory = "insufficient history"
)

const historyDepth = 10

// Gate evaluates coverage and test results against the coverage policy.
type Gate struct {
	policy   gate.CoveragePolicy
	store    Store
	notifier gate.Notifier
	now      func() time.Time
}

// NewGate creates a coverage quality gate.
func NewGate(policy gate.CoveragePolicy, store Store, notifier gate.Notifier) *Gate {
	return &Gate{
		policy:   policy,
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// CheckQualityGate compares the coverage recorded for a commit with the
// thresholds. Explicit thresholds override configured ones per metric.
func (g *Gate) CheckQualityGate(
	ctx context.Context,
	projectID, commitID string,
	thresholds *Thresholds,
) (*gate.GateDecision, error) {
	log := util.Log(ctx)

	if !g.policy.Enabled {
		return gate.NewGateDecision(g.now(), nil, MessageGateDisabled), nil
	}

	record, err := g.store.GetCoverage(ctx, projectID, commitID)
	if errors.Is(err, gate.ErrNotFound) {
		log.Info("quality gate has no coverage data", "project_id", projectID, "commit_id", commitID)
		return gate.NewGateDecision(g.now(), []gate.Violation{{
			Rule:        RuleCoverageData,
			Description: MessageMissingCoverage,
			Actual:      "none",
			Expected:    "coverage report",
			Severity:    gate.ViolationHigh,
		}}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load coverage for %s@%s: %w", projectID, commitID, err)
	}

	line := pick(thresholds, func(t *Thresholds) *float64 { return t.Line }, g.policy.LineThreshold)
	branch := pick(thresholds, func(t *Thresholds) *float64 { return t.Branch }, g.policy.BranchThreshold)
	function := pick(thresholds, func(t *Thresholds) *float64 { return t.Function }, g.policy.FunctionThreshold)

	var violations []gate.Violation
	violations = appendBelow(violations, RuleLineCoverage, "Line", record.LineCoverage, line)
	violations = appendBelow(violations, RuleBranchCoverage, "Branch", record.BranchCoverage, branch)
	violations = appendBelow(violations, RuleFunctionCoverage, "Function", record.FunctionCoverage, function)

	decision := gate.NewGateDecision(g.now(), violations)

	status := gate.CoveragePassed
	if !decision.Pass {
		status = gate.CoverageFailed
	}
	if err = g.store.UpdateCoverageStatus(ctx, record.ID, status, line); err != nil {
		log.WithError(err).Warn("could not record quality gate status",
			"coverage_id", record.ID,
			"status", status,
		)
	}

	log.Info("quality gate evaluated",
		"project_id", projectID,
		"commit_id", commitID,
		"pass", decision.Pass,
		"violations", len(decision.Violations),
	)

	return decision, nil
}

// CheckNewCodeCoverage estimates coverage of newly added lines from the change
// in covered lines between the commit's snapshot and the one before it. A
// commit with no coverage record fails; one with no earlier snapshot passes.
func (g *Gate) CheckNewCodeCoverage(
	ctx context.Context,
	projectID, commitID string,
	newCodeLines int,
) (*NewCodeResult, error) {
	result := &NewCodeResult{
		Pass:         true,
		NewCodeLines: max(newCodeLines, 0),
		Threshold:    g.policy.NewCodeThreshold,
	}

	if newCodeLines <= 0 {
		result.Message = MessageNoNewCode
		return result, nil
	}

	history, err := g.store.ListCoverageHistory(ctx, projectID, historyDepth)
	if err != nil {
		return nil, fmt.Errorf("load coverage history for %s: %w", projectID, err)
	}
	if len(history) < 2 {
		result.Message = MessageInsufficientHistory
		return result, nil
	}

	idx := slices.IndexFunc(history, func(r gate.CoverageRecord) bool { return r.CommitID == commitID })
	if idx < 0 {
		// Older than the history window, or never reported.
		_, err = g.store.GetCoverage(ctx, projectID, commitID)
		if errors.Is(err, gate.ErrNotFound) {
			result.Pass = false
			result.Message = MessageMissingCoverage
			return result, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load coverage for %s@%s: %w", projectID, commitID, err)
		}
		result.Message = MessageInsufficientHistory
		return result, nil
	}
	if idx == len(history)-1 {
		result.Message = MessageInsufficientHistory
		return result, nil
	}

	current, previous := history[idx], history[idx+1]
	if current.CoveredLines == nil || previous.CoveredLines == nil {
		result.Pass = false
		result.Message = MessageMissingCoverage
		return result, nil
	}

	covered := min(max(*current.CoveredLines-*previous.CoveredLines, 0), newCodeLines)
	result.NewCoveredLines = covered
	result.CoverageRate = float64(covered) / float64(newCodeLines) * 100

	if result.CoverageRate < g.policy.NewCodeThreshold {
		result.Pass = false
		result.Message = fmt.Sprintf("New code coverage %.2f%% below threshold %.2f%% (%d of %d lines covered)",
			result.CoverageRate, g.policy.NewCodeThreshold, covered, newCodeLines)
	} else {
		result.Message = fmt.Sprintf("New code coverage %.2f%% meets threshold %.2f%%",
			result.CoverageRate, g.policy.NewCodeThreshold)
	}

	util.Log(ctx).Info("new code coverage evaluated",
		"project_id", projectID,
		"commit_id", commitID,
		"new_code_lines", newCodeLines,
		"new_covered_lines", covered,
		"pass", result.Pass,
	)

	return result, nil
}

// QualityGateStats counts gate outcomes recorded for a project in [start, end].
func (g *Gate) QualityGateStats(ctx context.Context, projectID string, start, end time.Time) (*GateStats, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("period end precedes start: %w", gate.ErrInvalidArgument)
	}

	records, err := g.store.ListCoverage(ctx, projectID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list coverage records: %w", err)
	}

	stats := &GateStats{ProjectID: projectID, Start: start, End: end, Total: len(records)}
	for _, r := range records {
		switch r.Status {
		case gate.CoveragePassed:
			stats.Passed++
		case gate.CoverageFailed:
			stats.Failed++
		default:
			stats.Unchecked++
		}
	}
	if checked := stats.Passed + stats.Failed; checked > 0 {
		stats.PassRate = float64(stats.Passed) / float64(checked) * 100
	}
	return stats, nil
}

func pick(t *Thresholds, field func(*Thresholds) *float64, fallback float64) float64 {
	if t == nil {
		return fallback
	}
	if v := field(t); v != nil {
		return *v
	}
	return fallback
}

func appendBelow(violations []gate.Violation, rule, metric string, actual, threshold float64) []gate.Violation {
	if actual >= threshold {
		return violations
	}
	return append(violations, gate.Violation{
		Rule:        rule,
		Description: fmt.Sprintf("%s coverage %.2f%% below threshold %.2f%%", metric, actual, threshold),
		Actual:      fmt.Sprintf("%.2f", actual),
		Expected:    fmt.Sprintf("%.2f", threshold),
		Severity:    gate.ViolationHigh,
	})
}
