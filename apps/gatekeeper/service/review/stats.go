package review

import (
	"context"
	"fmt"
	"time"

	"github.com/antinvestor/qualitygate/internal/gate"
)

// MergeStatus reports the current review decision of a merge request and
// whether an emergency bypass has been recorded for it. No alert is raised.
func (e *Evaluator) MergeStatus(ctx context.Context, mergeRequestID string) (*MergeStatus, error) {
	mr, err := e.mergeRequests.GetMergeRequest(ctx, mergeRequestID)
	if err != nil {
		return nil, fmt.Errorf("load merge request %s: %w", mergeRequestID, err)
	}

	decision, err := e.evaluate(ctx, mr)
	if err != nil {
		return nil, err
	}

	bypasses, err := e.BypassHistory(ctx, mr.ID)
	if err != nil {
		return nil, err
	}

	bypassed := len(bypasses) > 0
	return &MergeStatus{
		MergeRequestID: mr.ID,
		Decision:       decision,
		Bypasses:       bypasses,
		Bypassed:       bypassed,
		CanMerge:       decision.Pass || bypassed,
	}, nil
}

// ReviewCoverage summarises review activity for merge requests of a project
// created within [start, end]. Approval and rejection rates are relative to
// reviewed merge requests.
func (e *Evaluator) ReviewCoverage(ctx context.Context, projectID string, start, end time.Time) (*CoverageStats, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("period end precedes start: %w", gate.ErrInvalidArgument)
	}

	mrs, err := e.mergeRequests.ListMergeRequests(ctx, projectID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list merge requests: %w", err)
	}

	stats := &CoverageStats{
		ProjectID:          projectID,
		Start:              start,
		End:                end,
		TotalMergeRequests: len(mrs),
	}
	if len(mrs) == 0 {
		return stats, nil
	}

	ids := make([]string, 0, len(mrs))
	for _, mr := range mrs {
		ids = append(ids, mr.ID)
	}

	reviews, err := e.reviews.ListReviewsForMergeRequests(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	stats.TotalReviews = len(reviews)

	byMR := make(map[string][]gate.Review, len(mrs))
	for _, r := range reviews {
		byMR[r.MergeRequestID] = append(byMR[r.MergeRequestID], r)
	}

	var totalReviewHours float64
	for _, mr := range mrs {
		mrReviews := byMR[mr.ID]
		if len(mrReviews) == 0 {
			continue
		}
		stats.ReviewedMergeRequests++

		latest := latestStatusByReviewer(mrReviews)
		if countStatus(latest, gate.ReviewApproved) > 0 {
			stats.ApprovedMergeRequests++
		}
		if countStatus(latest, gate.ReviewChangesRequested) > 0 {
			stats.RejectedMergeRequests++
		}

		first := mrReviews[0].ReviewedAt
		for _, r := range mrReviews[1:] {
			if r.ReviewedAt.Before(first) {
				first = r.ReviewedAt
			}
		}
		totalReviewHours += max(first.Sub(mr.CreatedAt).Hours(), 0)
	}

	total := float64(stats.TotalMergeRequests)
	stats.ReviewCoverageRate = percentage(stats.ReviewedMergeRequests, stats.TotalMergeRequests)
	stats.AverageReviewsPerMR = float64(stats.TotalReviews) / total
	if stats.ReviewedMergeRequests > 0 {
		stats.ApprovalRate = percentage(stats.ApprovedMergeRequests, stats.ReviewedMergeRequests)
		stats.RejectionRate = percentage(stats.RejectedMergeRequests, stats.ReviewedMergeRequests)
		stats.AverageReviewHours = totalReviewHours / float64(stats.ReviewedMergeRequests)
	}

	return stats, nil
}

func percentage(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
