package review

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/qualitygate/internal/gate"
)

// Rule names reported in violations.
const (
	RuleInsufficientReviewers = "Insufficient reviewers"
	RuleMissingApprovals      = "Missing required approvals"
	RuleUnresolvedChanges     = "Unresolved change requests"
	RuleSelfApproval          = "Self-approval not allowed"
)

// MessageReviewNotRequired is returned for merges into unprotected branches.
const MessageReviewNotRequired = "review not required for this branch"

// Evaluator decides whether a merge request satisfies the review policy.
type Evaluator struct {
	policy        gate.ReviewPolicy
	mergeRequests MergeRequestStore
	reviews       ReviewStore
	bypasses      BypassStore
	notifier      gate.Notifier
	now           func() time.Time
}

// NewEvaluator creates a review gate evaluator.
func NewEvaluator(
	policy gate.ReviewPolicy,
	mergeRequests MergeRequestStore,
	reviews ReviewStore,
	bypasses BypassStore,
	notifier gate.Notifier,
) *Evaluator {
	return &Evaluator{
		policy:        policy,
		mergeRequests: mergeRequests,
		reviews:       reviews,
		bypasses:      bypasses,
		notifier:      notifier,
		now:           time.Now,
	}
}

// EvaluateMerge checks the review rules for a merge request. A blocked merge
// raises a merge-blocked alert.
func (e *Evaluator) EvaluateMerge(ctx context.Context, mergeRequestID string) (*gate.GateDecision, error) {
	mr, err := e.mergeRequests.GetMergeRequest(ctx, mergeRequestID)
	if err != nil {
		return nil, fmt.Errorf("load merge request %s: %w", mergeRequestID, err)
	}

	decision, err := e.evaluate(ctx, mr)
	if err != nil {
		return nil, err
	}

	util.Log(ctx).Info("merge evaluated",
		"merge_request_id", mr.ID,
		"project_id", mr.ProjectID,
		"target_branch", mr.TargetBranch,
		"pass", decision.Pass,
		"violations", len(decision.Violations),
	)

	if !decision.Pass {
		e.notifier.Notify(ctx, e.blockedAlert(mr, decision))
	}

	return decision, nil
}

func (e *Evaluator) evaluate(ctx context.Context, mr *gate.MergeRequest) (*gate.GateDecision, error) {
	if !e.policy.IsProtected(mr.TargetBranch) {
		return gate.NewGateDecision(e.now(), nil, MessageReviewNotRequired), nil
	}

	reviews, err := e.reviews.ListReviews(ctx, mr.ID)
	if err != nil {
		return nil, fmt.Errorf("load reviews for %s: %w", mr.ID, err)
	}

	latest := latestStatusByReviewer(reviews)
	required := e.policy.RequiredReviewers(mr.ChangedLines())

	var violations []gate.Violation

	if len(latest) < required {
		violations = append(violations, gate.Violation{
			Rule:        RuleInsufficientReviewers,
			Description: fmt.Sprintf("Requires at least %d reviewers", required),
			Actual:      strconv.Itoa(len(latest)),
			Expected:    strconv.Itoa(required),
			Severity:    gate.ViolationHigh,
		})
	}

	approvals := countStatus(latest, gate.ReviewApproved)
	if e.policy.RequireApproval && approvals == 0 {
		violations = append(violations, gate.Violation{
			Rule:        RuleMissingApprovals,
			Description: "At least one approval is required",
			Actual:      "0",
			Expected:    "1",
			Severity:    gate.ViolationHigh,
		})
	}

	if pending := countStatus(latest, gate.ReviewChangesRequested); pending > 0 {
		violations = append(violations, gate.Violation{
			Rule:        RuleUnresolvedChanges,
			Description: "All change requests must be resolved",
			Actual:      strconv.Itoa(pending),
			Expected:    "0",
			Severity:    gate.ViolationMedium,
		})
	}

	if e.policy.BlockSelfApproval && hasSelfApproval(reviews, mr.AuthorID) {
		violations = append(violations, gate.Violation{
			Rule:        RuleSelfApproval,
			Description: "Author cannot approve their own merge request",
			Actual:      mr.AuthorID,
			Expected:    "a reviewer other than the author",
			Severity:    gate.ViolationHigh,
		})
	}

	return gate.NewGateDecision(e.now(), violations), nil
}

func (e *Evaluator) blockedAlert(mr *gate.MergeRequest, decision *gate.GateDecision) *gate.Alert {
	message := fmt.Sprintf("Merge request %s into %s blocked: %s",
		mr.ID, mr.TargetBranch, strings.Join(decision.Rules(), ", "))

	return gate.NewAlert(gate.AlertMergeBlocked, gate.LevelHigh, mr.ProjectID, "Merge blocked", message).
		WithRelatedEntity(mr.ID).
		WithAssignee(mr.AuthorID).
		WithTimestamp(decision.EvaluatedAt)
}

// latestStatusByReviewer reduces reviews to each reviewer's most recent status.
func latestStatusByReviewer(reviews []gate.Review) map[string]gate.ReviewStatus {
	ordered := slices.Clone(reviews)
	slices.SortStableFunc(ordered, func(a, b gate.Review) int {
		return cmp.Compare(b.ReviewedAt.UnixNano(), a.ReviewedAt.UnixNano())
	})

	latest := make(map[string]gate.ReviewStatus, len(ordered))
	for _, r := range ordered {
		if _, seen := latest[r.ReviewerID]; !seen {
			latest[r.ReviewerID] = r.Status
		}
	}
	return latest
}

// hasSelfApproval reports whether the author approved at any point, whatever
// their later reviews say.
func hasSelfApproval(reviews []gate.Review, authorID string) bool {
	return slices.ContainsFunc(reviews, func(r gate.Review) bool {
		return r.ReviewerID == authorID && r.Status == gate.ReviewApproved
	})
}

func countStatus(latest map[string]gate.ReviewStatus, status gate.ReviewStatus) int {
	n := 0
	for _, s := range latest {
		if s == status {
			n++
		}
	}
	return n
}
