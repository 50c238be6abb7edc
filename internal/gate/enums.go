// Package gate holds the value types shared by the merge and release quality gates.
package gate

import (
	"fmt"
	"strings"
)

// ReviewStatus is the outcome of a single reviewer action.
type ReviewStatus string

// Review statuses.
const (
	ReviewApproved         ReviewStatus = "approved"
	ReviewChangesRequested ReviewStatus = "changes_requested"
	ReviewCommented        ReviewStatus = "commented"
)

// IsValid reports whether s is a known review status.
func (s ReviewStatus) IsValid() bool {
	switch s {
	case ReviewApproved, ReviewChangesRequested, ReviewCommented:
		return true
	}
	return false
}

// ParseReviewStatus parses the wire form of a review status.
func ParseReviewStatus(s string) (ReviewStatus, error) {
	status := ReviewStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", fmt.Errorf("%w: review status %q", ErrInvalidArgument, s)
	}
	return status, nil
}

// MergeRequestStatus is the lifecycle state of a merge request.
type MergeRequestStatus string

// Merge request statuses.
const (
	MergeRequestOpened MergeRequestStatus = "opened"
	MergeRequestMerged MergeRequestStatus = "merged"
	MergeRequestClosed MergeRequestStatus = "closed"
)

// IsValid reports whether s is a known merge request status.
func (s MergeRequestStatus) IsValid() bool {
	switch s {
	case MergeRequestOpened, MergeRequestMerged, MergeRequestClosed:
		return true
	}
	return false
}

// ParseMergeRequestStatus parses the wire form of a merge request status.
// GitLab reports locked merge requests and reopened ones as still open.
func ParseMergeRequestStatus(s string) (MergeRequestStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "opened", "open", "reopened", "locked":
		return MergeRequestOpened, nil
	case "merged":
		return MergeRequestMerged, nil
	case "closed":
		return MergeRequestClosed, nil
	}
	return "", fmt.Errorf("%w: merge request status %q", ErrInvalidArgument, s)
}

// CoverageStatus is the persisted outcome of a coverage gate evaluation.
type CoverageStatus string

// Coverage statuses.
const (
	CoveragePassed CoverageStatus = "PASSED"
	CoverageFailed CoverageStatus = "FAILED"
)

// IsValid reports whether s is a known coverage status.
func (s CoverageStatus) IsValid() bool {
	return s == CoveragePassed || s == CoverageFailed
}

// BugSeverity classifies a bug for SLA purposes.
type BugSeverity string

// Bug severities.
const (
	SeverityCritical BugSeverity = "critical"
	SeverityHigh     BugSeverity = "high"
	SeverityMedium   BugSeverity = "medium"
	SeverityLow      BugSeverity = "low"
)

// BugSeverities lists every severity from most to least urgent.
var BugSeverities = []BugSeverity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// IsValid reports whether s is a known bug severity.
func (s BugSeverity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// AlertLevel maps a bug severity onto the alert level used for SLA alerts.
func (s BugSeverity) AlertLevel() AlertLevel {
	switch s {
	case SeverityCritical:
		return LevelCritical
	case SeverityHigh:
		return LevelHigh
	case SeverityMedium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// ParseBugSeverity parses a tracker severity label. It never fails: "blocker"
// is treated as critical and anything unrecognised falls back to low.
func ParseBugSeverity(s string) BugSeverity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "blocker":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium":
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// IssueStatus is the open/closed state of a tracked issue.
type IssueStatus string

// Issue statuses.
const (
	IssueOpened IssueStatus = "opened"
	IssueClosed IssueStatus = "closed"
)

// ParseIssueStatus parses a tracker state; anything not closed counts as open.
func ParseIssueStatus(s string) IssueStatus {
	if strings.EqualFold(strings.TrimSpace(s), string(IssueClosed)) {
		return IssueClosed
	}
	return IssueOpened
}

// ViolationSeverity grades how serious a single violation is.
type ViolationSeverity string

// Violation severities.
const (
	ViolationCritical ViolationSeverity = "CRITICAL"
	ViolationHigh     ViolationSeverity = "HIGH"
	ViolationMedium   ViolationSeverity = "MEDIUM"
	ViolationLow      ViolationSeverity = "LOW"
)
