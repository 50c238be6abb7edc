package gate

import (
	"slices"
	"time"
)

// ReviewPolicy configures the review gate.
type ReviewPolicy struct {
	ProtectedBranches       []string
	MinReviewers            int
	RequireApproval         bool
	BlockSelfApproval       bool
	AdminUsers              []string
	EmergencyBypassEnabled  bool
	LargeChangeThreshold    int
	LargeChangeMinReviewers int
}

// DefaultReviewPolicy returns the policy used when nothing is configured.
func DefaultReviewPolicy() ReviewPolicy {
	return ReviewPolicy{
		ProtectedBranches:       []string{"main", "master", "develop", "release"},
		MinReviewers:            1,
		RequireApproval:         true,
		BlockSelfApproval:       true,
		LargeChangeThreshold:    500,
		LargeChangeMinReviewers: 2,
	}
}

// IsProtected reports whether merges into branch require review.
func (p ReviewPolicy) IsProtected(branch string) bool {
	return slices.Contains(p.ProtectedBranches, branch)
}

// IsAdmin reports whether userID may authorise an emergency bypass.
func (p ReviewPolicy) IsAdmin(userID string) bool {
	return userID != "" && slices.Contains(p.AdminUsers, userID)
}

// RequiredReviewers returns the reviewer count a change of the given size needs.
func (p ReviewPolicy) RequiredReviewers(changedLines int) int {
	if changedLines > p.LargeChangeThreshold {
		return max(p.MinReviewers, p.LargeChangeMinReviewers)
	}
	return p.MinReviewers
}

// CoveragePolicy configures the coverage and test gate.
type CoveragePolicy struct {
	Enabled           bool
	StrictMode        bool
	LineThreshold     float64
	BranchThreshold   float64
	FunctionThreshold float64
	NewCodeThreshold  float64
}

// DefaultCoveragePolicy returns the policy used when nothing is configured.
func DefaultCoveragePolicy() CoveragePolicy {
	return CoveragePolicy{
		Enabled:           true,
		LineThreshold:     80,
		BranchThreshold:   70,
		FunctionThreshold: 80,
		NewCodeThreshold:  80,
	}
}

// BugSLAPolicy configures bug timeouts and the advisory efficiency limits.
type BugSLAPolicy struct {
	CriticalTimeout time.Duration
	HighTimeout     time.Duration
	MediumTimeout   time.Duration
	LowTimeout      time.Duration

	ResponseTimeSoftLimit   time.Duration
	ResolutionTimeSoftLimit time.Duration
	ResolutionRateSoftLimit float64
}

// DefaultBugSLAPolicy returns the policy used when nothing is configured.
func DefaultBugSLAPolicy() BugSLAPolicy {
	return BugSLAPolicy{
		CriticalTimeout:         4 * time.Hour,
		HighTimeout:             24 * time.Hour,
		MediumTimeout:           72 * time.Hour,
		LowTimeout:              168 * time.Hour,
		ResponseTimeSoftLimit:   24 * time.Hour,
		ResolutionTimeSoftLimit: 72 * time.Hour,
		ResolutionRateSoftLimit: 80,
	}
}

// TimeoutFor returns how long a bug of the given severity may stay open.
func (p BugSLAPolicy) TimeoutFor(severity BugSeverity) time.Duration {
	switch severity {
	case SeverityCritical:
		return p.CriticalTimeout
	case SeverityHigh:
		return p.HighTimeout
	case SeverityMedium:
		return p.MediumTimeout
	default:
		return p.LowTimeout
	}
}
