package gate

import "time"

// MergeRequest is a read-only snapshot of a merge request.
type MergeRequest struct {
	ID           string             `json:"id"`
	ProjectID    string             `json:"project_id"`
	AuthorID     string             `json:"author_id"`
	Title        string             `json:"title"`
	SourceBranch string             `json:"source_branch"`
	TargetBranch string             `json:"target_branch"`
	Additions    int                `json:"additions"`
	Deletions    int                `json:"deletions"`
	Status       MergeRequestStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	MergedAt     *time.Time         `json:"merged_at,omitempty"`
}

// ChangedLines is the size measure used by the large-change rule.
func (m *MergeRequest) ChangedLines() int {
	return m.Additions + m.Deletions
}

// Review is one reviewer action on a merge request.
type Review struct {
	ID             string       `json:"id"`
	MergeRequestID string       `json:"merge_request_id"`
	ReviewerID     string       `json:"reviewer_id"`
	Status         ReviewStatus `json:"status"`
	Comment        string       `json:"comment,omitempty"`
	ReviewedAt     time.Time    `json:"reviewed_at"`
}

// EmergencyBypass is the immutable audit record of an authorised override.
type EmergencyBypass struct {
	ID             BypassID  `json:"id"`
	MergeRequestID string    `json:"merge_request_id"`
	AuthorizedBy   string    `json:"authorized_by"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
}

// CoverageRecord is a coverage report for one commit.
type CoverageRecord struct {
	ID               string         `json:"id"`
	ProjectID        string         `json:"project_id"`
	CommitID         string         `json:"commit_id"`
	LineCoverage     float64        `json:"line_coverage"`
	BranchCoverage   float64        `json:"branch_coverage"`
	FunctionCoverage float64        `json:"function_coverage"`
	TotalLines       int            `json:"total_lines"`
	CoveredLines     *int           `json:"covered_lines,omitempty"`
	TotalBranches    int            `json:"total_branches"`
	CoveredBranches  int            `json:"covered_branches"`
	TotalFunctions   int            `json:"total_functions"`
	CoveredFunctions int            `json:"covered_functions"`
	Status           CoverageStatus `json:"status,omitempty"`
	Threshold        *float64       `json:"threshold,omitempty"`
	ReportType       string         `json:"report_type,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Bug is the subset of a tracked issue the SLA monitor needs.
type Bug struct {
	ID                string      `json:"id"`
	ProjectID         string      `json:"project_id"`
	Title             string      `json:"title"`
	Severity          BugSeverity `json:"severity"`
	Priority          string      `json:"priority"`
	Status            IssueStatus `json:"status"`
	AssigneeID        string      `json:"assignee_id,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	ClosedAt          *time.Time  `json:"closed_at,omitempty"`
	FirstResponseAt   *time.Time  `json:"first_response_at,omitempty"`
	ResolutionMinutes *int64      `json:"resolution_minutes,omitempty"`
	ResponseMinutes   *int64      `json:"response_minutes,omitempty"`
}

// IsOpen reports whether the bug still counts against its SLA.
func (b *Bug) IsOpen() bool {
	return b.Status != IssueClosed
}
