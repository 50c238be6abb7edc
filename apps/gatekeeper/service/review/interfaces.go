package review

import (
	"context"
	"time"

	"github.com/antinvestor/qualitygate/internal/gate"
)

// =============================================================================
// Store Interfaces
// =============================================================================

// MergeRequestStore reads merge request snapshots.
type MergeRequestStore interface {
	// GetMergeRequest returns gate.ErrNotFound (wrapped) when id is unknown.
	GetMergeRequest(ctx context.Context, id string) (*gate.MergeRequest, error)

	// ListMergeRequests returns merge requests of a project created in [start, end].
	ListMergeRequests(ctx context.Context, projectID string, start, end time.Time) ([]gate.MergeRequest, error)
}

// ReviewStore reads reviewer actions.
type ReviewStore interface {
	// ListReviews returns the reviews of a merge request, newest first.
	ListReviews(ctx context.Context, mergeRequestID string) ([]gate.Review, error)

	// ListReviewsForMergeRequests returns reviews of all given merge requests.
	ListReviewsForMergeRequests(ctx context.Context, mergeRequestIDs []string) ([]gate.Review, error)
}

// BypassStore records emergency bypass audit entries.
type BypassStore interface {
	CreateBypass(ctx context.Context, bypass *gate.EmergencyBypass) error

	// ListBypasses returns the bypasses of a merge request, oldest first.
	ListBypasses(ctx context.Context, mergeRequestID string) ([]gate.EmergencyBypass, error)
}

// =============================================================================
// Result Types
// =============================================================================

// EmergencyBypassResult is returned by a successful bypass authorisation.
type EmergencyBypassResult struct {
	Authorized bool                  `json:"authorized"`
	Bypass     *gate.EmergencyBypass `json:"bypass"`
	Message    string                `json:"message"`
}

// MergeStatus combines the current review decision with the bypass trail.
type MergeStatus struct {
	MergeRequestID string                 `json:"merge_request_id"`
	Decision       *gate.GateDecision     `json:"decision"`
	Bypasses       []gate.EmergencyBypass `json:"bypasses"`
	Bypassed       bool                   `json:"bypassed"`
	CanMerge       bool                   `json:"can_merge"`
}

// CoverageStats summarises review activity over a project and period.
type CoverageStats struct {
	ProjectID             string    `json:"project_id"`
	Start                 time.Time `json:"start"`
	End                   time.Time `json:"end"`
	TotalMergeRequests    int       `json:"total_merge_requests"`
	ReviewedMergeRequests int       `json:"reviewed_merge_requests"`
	ApprovedMergeRequests int       `json:"approved_merge_requests"`
	RejectedMergeRequests int       `json:"rejected_merge_requests"`
	TotalReviews          int       `json:"total_reviews"`
	ReviewCoverageRate    float64   `json:"review_coverage_rate"`
	ApprovalRate          float64   `json:"approval_rate"`
	RejectionRate         float64   `json:"rejection_rate"`
	AverageReviewHours    float64   `json:"average_review_hours"`
	AverageReviewsPerMR   float64   `json:"average_reviews_per_mr"`
}
