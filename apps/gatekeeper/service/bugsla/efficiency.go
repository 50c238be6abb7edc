package bugsla

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/qualitygate/internal/gate"
)

// Developer score weights.
const (
	scoreThroughputWeight = 0.6
	scoreSpeedWeight      = 0.4
	scoreSpeedBaseHours   = 4.0
	scoreSpeedPenalty     = 2.0
)

// Analyzer computes bug fix efficiency statistics.
type Analyzer struct {
	policy gate.BugSLAPolicy
	store  BugStore
	now    func() time.Time
}

// NewAnalyzer creates an efficiency analyzer.
func NewAnalyzer(policy gate.BugSLAPolicy, store BugStore) *Analyzer {
	return &Analyzer{policy: policy, store: store, now: time.Now}
}

// CalculateEfficiency reports resolution and response figures for bugs
// created in the query period. The per-developer ranking is only produced
// when no assignee is selected.
func (a *Analyzer) CalculateEfficiency(ctx context.Context, query EfficiencyQuery) (*EfficiencyStats, error) {
	if !query.End.IsZero() && query.End.Before(query.Start) {
		return nil, fmt.Errorf("period end precedes start: %w", gate.ErrInvalidArgument)
	}

	bugs, err := a.store.ListBugs(ctx, BugFilter{
		ProjectID:     query.ProjectID,
		AssigneeID:    query.AssigneeID,
		CreatedAfter:  query.Start,
		CreatedBefore: query.End,
	})
	if err != nil {
		return nil, fmt.Errorf("list bugs: %w", err)
	}

	stats := a.aggregate(bugs, query)

	util.Log(ctx).Debug("bug efficiency calculated",
		"project_id", query.ProjectID,
		"assignee_id", query.AssigneeID,
		"total", stats.TotalBugs,
		"resolution_rate", stats.ResolutionRate,
	)

	return stats, nil
}

// CompareEfficiency reports how a project's figures moved from the baseline
// period to the current one. Positive changes mean the current value is larger.
func (a *Analyzer) CompareEfficiency(
	ctx context.Context,
	projectID string,
	baselineStart, baselineEnd, currentStart, currentEnd time.Time,
) (*EfficiencyComparison, error) {
	baseline, err := a.CalculateEfficiency(ctx, EfficiencyQuery{
		ProjectID: projectID, Start: baselineStart, End: baselineEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("baseline period: %w", err)
	}

	current, err := a.CalculateEfficiency(ctx, EfficiencyQuery{
		ProjectID: projectID, Start: currentStart, End: currentEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("current period: %w", err)
	}

	return &EfficiencyComparison{
		Baseline:              baseline,
		Current:               current,
		ResolutionRateChange:  current.ResolutionRate - baseline.ResolutionRate,
		ResponseHoursChange:   current.Response.Average - baseline.Response.Average,
		ResolutionHoursChange: current.Resolution.Average - baseline.Resolution.Average,
	}, nil
}

// LongPendingBugs returns open bugs of a project created more than olderThan
// ago, oldest first.
func (a *Analyzer) LongPendingBugs(ctx context.Context, projectID string, olderThan time.Duration) ([]gate.Bug, error) {
	if olderThan < 0 {
		return nil, fmt.Errorf("age must not be negative: %w", gate.ErrInvalidArgument)
	}

	bugs, err := a.store.ListBugs(ctx, BugFilter{
		ProjectID:     projectID,
		CreatedBefore: a.now().Add(-olderThan),
		OpenOnly:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending bugs: %w", err)
	}

	slices.SortStableFunc(bugs, func(x, y gate.Bug) int { return x.CreatedAt.Compare(y.CreatedAt) })
	if bugs == nil {
		bugs = []gate.Bug{}
	}
	return bugs, nil
}

// =============================================================================
// Aggregation
// =============================================================================

type accumulator struct {
	count, closed, timeouts int
	resolution, response    []float64
}

func (acc *accumulator) add(bug *gate.Bug, timedOut bool) {
	acc.count++
	if !bug.IsOpen() {
		acc.closed++
	}
	if timedOut {
		acc.timeouts++
	}
	if h, ok := resolutionHours(bug); ok {
		acc.resolution = append(acc.resolution, h)
	}
	if h, ok := responseHours(bug); ok {
		acc.response = append(acc.response, h)
	}
}

func (acc *accumulator) rate() float64 {
	if acc.count == 0 {
		return 0
	}
	return float64(acc.closed) / float64(acc.count) * 100
}

func (acc *accumulator) breakdown() *Breakdown {
	return &Breakdown{
		Count:              acc.count,
		Closed:             acc.closed,
		Timeouts:           acc.timeouts,
		ResolutionRate:     acc.rate(),
		AvgResolutionHours: summarise(acc.resolution).Average,
		AvgResponseHours:   summarise(acc.response).Average,
	}
}

func (a *Analyzer) aggregate(bugs []gate.Bug, query EfficiencyQuery) *EfficiencyStats {
	now := a.now()

	var total accumulator
	bySeverity := map[string]*accumulator{}
	byPriority := map[string]*accumulator{}
	byDeveloper := map[string]*accumulator{}

	for i := range bugs {
		bug := &bugs[i]
		timedOut := bug.IsOpen() && now.Sub(bug.CreatedAt) > a.policy.TimeoutFor(bug.Severity)

		total.add(bug, timedOut)
		bucket(bySeverity, string(bug.Severity)).add(bug, timedOut)
		if bug.Priority != "" {
			bucket(byPriority, bug.Priority).add(bug, timedOut)
		}
		if query.AssigneeID == "" && bug.AssigneeID != "" {
			bucket(byDeveloper, bug.AssigneeID).add(bug, timedOut)
		}
	}

	stats := &EfficiencyStats{
		ProjectID:      query.ProjectID,
		AssigneeID:     query.AssigneeID,
		Start:          query.Start,
		End:            query.End,
		TotalBugs:      total.count,
		ClosedBugs:     total.closed,
		OpenBugs:       total.count - total.closed,
		TimeoutBugs:    total.timeouts,
		ResolutionRate: total.rate(),
		Resolution:     summarise(total.resolution),
		Response:       summarise(total.response),
		BySeverity:     make(map[string]*Breakdown, len(bySeverity)),
		ByPriority:     make(map[string]*Breakdown, len(byPriority)),
	}

	for k, acc := range bySeverity {
		stats.BySeverity[k] = acc.breakdown()
	}
	for k, acc := range byPriority {
		stats.ByPriority[k] = acc.breakdown()
	}
	if query.AssigneeID == "" {
		stats.Developers = rankDevelopers(byDeveloper)
	}
	stats.Issues = a.issues(stats)

	return stats
}

func bucket(m map[string]*accumulator, key string) *accumulator {
	acc, ok := m[key]
	if !ok {
		acc = &accumulator{}
		m[key] = acc
	}
	return acc
}

// rankDevelopers scores each assignee, best first. Throughput is the closed
// count relative to the busiest assignee; speed falls with the average
// resolution time. Assignees without a resolved bug get no speed credit.
func rankDevelopers(byDeveloper map[string]*accumulator) []DeveloperEfficiency {
	mostClosed := 0
	for _, acc := range byDeveloper {
		mostClosed = max(mostClosed, acc.closed)
	}

	developers := make([]DeveloperEfficiency, 0, len(byDeveloper))
	for id, acc := range byDeveloper {
		resolution := summarise(acc.resolution)
		speed := 0.0
		if resolution.Count > 0 {
			speed = max(0, 100-(resolution.Average-scoreSpeedBaseHours)*scoreSpeedPenalty)
		}
		throughput := 0.0
		if mostClosed > 0 {
			throughput = float64(acc.closed) / float64(mostClosed) * 100
		}
		developers = append(developers, DeveloperEfficiency{
			AssigneeID:         id,
			Total:              acc.count,
			Closed:             acc.closed,
			ResolutionRate:     acc.rate(),
			AvgResolutionHours: resolution.Average,
			AvgResponseHours:   summarise(acc.response).Average,
			Score:              throughput*scoreThroughputWeight + speed*scoreSpeedWeight,
		})
	}

	slices.SortFunc(developers, func(x, y DeveloperEfficiency) int {
		if c := cmp.Compare(y.Score, x.Score); c != 0 {
			return c
		}
		return cmp.Compare(x.AssigneeID, y.AssigneeID)
	})
	return developers
}

func (a *Analyzer) issues(stats *EfficiencyStats) []string {
	issues := []string{}
	if stats.TotalBugs == 0 {
		return issues
	}

	if limit := a.policy.ResponseTimeSoftLimit.Hours(); stats.Response.Count > 0 && stats.Response.Average > limit {
		issues = append(issues, fmt.Sprintf("average response time %.1f hours exceeds %.0f hours",
			stats.Response.Average, limit))
	}
	if limit := a.policy.ResolutionTimeSoftLimit.Hours(); stats.Resolution.Count > 0 && stats.Resolution.Average > limit {
		issues = append(issues, fmt.Sprintf("average resolution time %.1f hours exceeds %.0f hours",
			stats.Resolution.Average, limit))
	}
	if stats.ResolutionRate < a.policy.ResolutionRateSoftLimit {
		issues = append(issues, fmt.Sprintf("resolution rate %.1f%% is below %.0f%%",
			stats.ResolutionRate, a.policy.ResolutionRateSoftLimit))
	}
	if stats.TimeoutBugs > 0 {
		issues = append(issues, fmt.Sprintf("%d open bugs exceeded their SLA timeout", stats.TimeoutBugs))
	}
	return issues
}

// resolutionHours counts only closed bugs with a recorded resolution time.
func resolutionHours(bug *gate.Bug) (float64, bool) {
	if bug.IsOpen() || bug.ResolutionMinutes == nil {
		return 0, false
	}
	return float64(*bug.ResolutionMinutes) / 60, true
}

func responseHours(bug *gate.Bug) (float64, bool) {
	if bug.ResponseMinutes == nil {
		return 0, false
	}
	return float64(*bug.ResponseMinutes) / 60, true
}
