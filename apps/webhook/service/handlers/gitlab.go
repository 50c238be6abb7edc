package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/antinvestor/qualitygate/internal/gate"
)

// GitLab sends either RFC 3339 or its older "2006-01-02 15:04:05 UTC" format.
var gitlabTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05 UTC",
	"2006-01-02 15:04:05 -0700",
}

// gitlabTime accepts every timestamp layout GitLab has used in hooks.
type gitlabTime struct {
	time.Time
}

func (t *gitlabTime) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	for _, layout := range gitlabTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised GitLab timestamp %q", raw)
}

// ptr returns nil for the zero time.
func (t gitlabTime) ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// Label is a GitLab label.
type Label struct {
	Title string `json:"title"`
}

// Project identifies the GitLab project an event belongs to.
type Project struct {
	ID                int64  `json:"id"`
	PathWithNamespace string `json:"path_with_namespace"`
}

// User is the GitLab user who triggered an event.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// MergeRequestEvent is the payload of a GitLab "Merge Request Hook".
type MergeRequestEvent struct {
	ObjectKind       string  `json:"object_kind"`
	User             User    `json:"user"`
	Project          Project `json:"project"`
	ObjectAttributes struct {
		ID           int64      `json:"id"`
		IID          int64      `json:"iid"`
		Title        string     `json:"title"`
		SourceBranch string     `json:"source_branch"`
		TargetBranch string     `json:"target_branch"`
		State        string     `json:"state"`
		Action       string     `json:"action"`
		AuthorID     int64      `json:"author_id"`
		CreatedAt    gitlabTime `json:"created_at"`
		UpdatedAt    gitlabTime `json:"updated_at"`
		MergedAt     gitlabTime `json:"merged_at"`
	} `json:"object_attributes"`
	// Line counts are not part of GitLab's hook; CI integrations may add them.
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// IssueEvent is the payload of a GitLab "Issue Hook".
type IssueEvent struct {
	ObjectKind       string  `json:"object_kind"`
	User             User    `json:"user"`
	Project          Project `json:"project"`
	ObjectAttributes struct {
		ID          int64      `json:"id"`
		IID         int64      `json:"iid"`
		Title       string     `json:"title"`
		State       string     `json:"state"`
		Action      string     `json:"action"`
		AssigneeIDs []int64    `json:"assignee_ids"`
		CreatedAt   gitlabTime `json:"created_at"`
		ClosedAt    gitlabTime `json:"closed_at"`
	} `json:"object_attributes"`
	Labels []Label `json:"labels"`
}

// CoverageReport is posted by a CI job once its coverage is known.
type CoverageReport struct {
	ProjectID        string  `json:"projectId"`
	CommitID         string  `json:"commitId"`
	LineCoverage     float64 `json:"lineCoverage"`
	BranchCoverage   float64 `json:"branchCoverage"`
	FunctionCoverage float64 `json:"functionCoverage"`
	TotalLines       int     `json:"totalLines"`
	CoveredLines     *int    `json:"coveredLines,omitempty"`
	TotalBranches    int     `json:"totalBranches"`
	CoveredBranches  int     `json:"coveredBranches"`
	TotalFunctions   int     `json:"totalFunctions"`
	CoveredFunctions int     `json:"coveredFunctions"`
	ReportType       string  `json:"reportType,omitempty"`
	Timestamp        *string `json:"timestamp,omitempty"`
}

func gitlabID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

// mergeRequestStatus maps GitLab's state, treating unknown states as open.
func mergeRequestStatus(state string) gate.MergeRequestStatus {
	status, err := gate.ParseMergeRequestStatus(state)
	if err != nil {
		return gate.MergeRequestOpened
	}
	return status
}

// toMergeRequest builds the merge request snapshot carried by the event.
func (e *MergeRequestEvent) toMergeRequest() gate.MergeRequest {
	attrs := e.ObjectAttributes
	created := attrs.CreatedAt.Time
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return gate.MergeRequest{
		ID:           gitlabID(attrs.ID),
		ProjectID:    gitlabID(e.Project.ID),
		AuthorID:     gitlabID(attrs.AuthorID),
		Title:        attrs.Title,
		SourceBranch: attrs.SourceBranch,
		TargetBranch: attrs.TargetBranch,
		Additions:    max(e.Additions, 0),
		Deletions:    max(e.Deletions, 0),
		Status:       mergeRequestStatus(attrs.State),
		CreatedAt:    created,
		MergedAt:     attrs.MergedAt.ptr(),
	}
}

// toReview turns an approval action into a review by the acting user. It
// returns false for every other action. Withdrawn approvals become comments
// so the reviewer's latest status stops counting as approval.
func (e *MergeRequestEvent) toReview() (gate.Review, bool) {
	var status gate.ReviewStatus
	switch e.ObjectAttributes.Action {
	case "approved", "approval":
		status = gate.ReviewApproved
	case "unapproved", "unapproval":
		status = gate.ReviewCommented
	default:
		return gate.Review{}, false
	}

	reviewedAt := e.ObjectAttributes.UpdatedAt.Time
	if reviewedAt.IsZero() {
		reviewedAt = time.Now().UTC()
	}
	mrID := gitlabID(e.ObjectAttributes.ID)
	reviewer := gitlabID(e.User.ID)

	return gate.Review{
		ID:             fmt.Sprintf("%s-%s-%d", mrID, reviewer, reviewedAt.UnixNano()),
		MergeRequestID: mrID,
		ReviewerID:     reviewer,
		Status:         status,
		ReviewedAt:     reviewedAt,
	}, true
}

// labelValue returns the value of the first scoped label with prefix.
func labelValue(labels []Label, prefix string) (string, bool) {
	for _, l := range labels {
		if value, ok := strings.CutPrefix(strings.ToLower(l.Title), strings.ToLower(prefix)); ok && value != "" {
			return value, true
		}
	}
	return "", false
}

func hasLabel(labels []Label, name string) bool {
	for _, l := range labels {
		if strings.EqualFold(l.Title, name) {
			return true
		}
	}
	return false
}

// issueSettings are the label conventions used to read bugs from issues.
type issueSettings struct {
	bugLabel        string
	severityPrefix  string
	priorityPrefix  string
	defaultSeverity gate.BugSeverity
}

// toBug converts a labelled issue into a bug. It returns false for issues
// that are not bugs.
func (e *IssueEvent) toBug(settings issueSettings) (gate.Bug, bool) {
	if !hasLabel(e.Labels, settings.bugLabel) {
		return gate.Bug{}, false
	}
	attrs := e.ObjectAttributes

	severity := settings.defaultSeverity
	if value, ok := labelValue(e.Labels, settings.severityPrefix); ok {
		if parsed := gate.BugSeverity(value); parsed.IsValid() {
			severity = parsed
		}
	}
	priority, _ := labelValue(e.Labels, settings.priorityPrefix)

	status := gate.ParseIssueStatus(attrs.State)

	assignee := ""
	if len(attrs.AssigneeIDs) > 0 {
		assignee = gitlabID(attrs.AssigneeIDs[0])
	}

	created := attrs.CreatedAt.Time
	if created.IsZero() {
		created = time.Now().UTC()
	}

	bug := gate.Bug{
		ID:         gitlabID(attrs.ID),
		ProjectID:  gitlabID(e.Project.ID),
		Title:      attrs.Title,
		Severity:   severity,
		Priority:   priority,
		Status:     status,
		AssigneeID: assignee,
		CreatedAt:  created,
	}
	if status == gate.IssueClosed {
		bug.ClosedAt = attrs.ClosedAt.ptr()
		if bug.ClosedAt != nil && !attrs.CreatedAt.IsZero() && !bug.ClosedAt.Before(created) {
			minutes := int64(bug.ClosedAt.Sub(created) / time.Minute)
			bug.ResolutionMinutes = &minutes
		}
	}
	return bug, true
}

// toRecord validates the report and converts it into a coverage record.
func (r *CoverageReport) toRecord() (gate.CoverageRecord, error) {
	if r.ProjectID == "" || r.CommitID == "" {
		return gate.CoverageRecord{}, fmt.Errorf("projectId and commitId are required")
	}
	for name, v := range map[string]float64{
		"lineCoverage":     r.LineCoverage,
		"branchCoverage":   r.BranchCoverage,
		"functionCoverage": r.FunctionCoverage,
	} {
		if v < 0 || v > 100 {
			return gate.CoverageRecord{}, fmt.Errorf("%s must be between 0 and 100", name)
		}
	}

	created := time.Now().UTC()
	if r.Timestamp != nil {
		var ts gitlabTime
		if err := ts.UnmarshalJSON([]byte(*r.Timestamp)); err != nil {
			return gate.CoverageRecord{}, err
		}
		if !ts.IsZero() {
			created = ts.Time
		}
	}

	return gate.CoverageRecord{
		ProjectID:        r.ProjectID,
		CommitID:         r.CommitID,
		LineCoverage:     r.LineCoverage,
		BranchCoverage:   r.BranchCoverage,
		FunctionCoverage: r.FunctionCoverage,
		TotalLines:       r.TotalLines,
		CoveredLines:     r.CoveredLines,
		TotalBranches:    r.TotalBranches,
		CoveredBranches:  r.CoveredBranches,
		TotalFunctions:   r.TotalFunctions,
		CoveredFunctions: r.CoveredFunctions,
		ReportType:       r.ReportType,
		CreatedAt:        created,
	}, nil
}
