package repository

import (
	"time"

	"github.com/antinvestor/qualitygate/internal/gate"
)

// MergeRequest is the stored merge request snapshot.
type MergeRequest struct {
	ID           string `gorm:"primaryKey"`
	ProjectID    string `gorm:"index"`
	AuthorID     string
	Title        string
	SourceBranch string
	TargetBranch string
	Additions    int
	Deletions    int
	Status       string    `gorm:"index"`
	CreatedAt    time.Time `gorm:"index"`
	MergedAt     *time.Time
	UpdatedAt    time.Time
}

// TableName returns the table name for the MergeRequest model.
func (MergeRequest) TableName() string {
	return "merge_requests"
}

func (m *MergeRequest) toDomain() gate.MergeRequest {
	return gate.MergeRequest{
		ID:           m.ID,
		ProjectID:    m.ProjectID,
		AuthorID:     m.AuthorID,
		Title:        m.Title,
		SourceBranch: m.SourceBranch,
		TargetBranch: m.TargetBranch,
		Additions:    m.Additions,
		Deletions:    m.Deletions,
		Status:       gate.MergeRequestStatus(m.Status),
		CreatedAt:    m.CreatedAt,
		MergedAt:     m.MergedAt,
	}
}

func mergeRequestFromDomain(mr *gate.MergeRequest) *MergeRequest {
	return &MergeRequest{
		ID:           mr.ID,
		ProjectID:    mr.ProjectID,
		AuthorID:     mr.AuthorID,
		Title:        mr.Title,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		Additions:    mr.Additions,
		Deletions:    mr.Deletions,
		Status:       string(mr.Status),
		CreatedAt:    mr.CreatedAt,
		MergedAt:     mr.MergedAt,
	}
}

// CodeReview is one stored reviewer action.
type CodeReview struct {
	ID             string `gorm:"primaryKey"`
	MergeRequestID string `gorm:"index"`
	ReviewerID     string
	Status         string
	Comment        string
	ReviewedAt     time.Time `gorm:"index"`
}

// TableName returns the table name for the CodeReview model.
func (CodeReview) TableName() string {
	return "code_reviews"
}

func (r *CodeReview) toDomain() gate.Review {
	return gate.Review{
		ID:             r.ID,
		MergeRequestID: r.MergeRequestID,
		ReviewerID:     r.ReviewerID,
		Status:         gate.ReviewStatus(r.Status),
		Comment:        r.Comment,
		ReviewedAt:     r.ReviewedAt,
	}
}

func reviewFromDomain(r *gate.Review) *CodeReview {
	return &CodeReview{
		ID:             r.ID,
		MergeRequestID: r.MergeRequestID,
		ReviewerID:     r.ReviewerID,
		Status:         string(r.Status),
		Comment:        r.Comment,
		ReviewedAt:     r.ReviewedAt,
	}
}

// EmergencyBypass is the stored audit entry of a review override.
type EmergencyBypass struct {
	ID             string `gorm:"primaryKey"`
	MergeRequestID string `gorm:"index"`
	AuthorizedBy   string
	Reason         string
	CreatedAt      time.Time
}

// TableName returns the table name for the EmergencyBypass model.
func (EmergencyBypass) TableName() string {
	return "emergency_bypasses"
}

func (b *EmergencyBypass) toDomain() gate.EmergencyBypass {
	// Rows are only written from valid ids; a bad id surfaces as zero.
	id, _ := gate.ParseBypassID(b.ID)
	return gate.EmergencyBypass{
		ID:             id,
		MergeRequestID: b.MergeRequestID,
		AuthorizedBy:   b.AuthorizedBy,
		Reason:         b.Reason,
		CreatedAt:      b.CreatedAt,
	}
}

func bypassFromDomain(b *gate.EmergencyBypass) *EmergencyBypass {
	return &EmergencyBypass{
		ID:             b.ID.String(),
		MergeRequestID: b.MergeRequestID,
		AuthorizedBy:   b.AuthorizedBy,
		Reason:         b.Reason,
		CreatedAt:      b.CreatedAt,
	}
}

// CoverageRecord is a stored coverage report.
type CoverageRecord struct {
	ID               string `gorm:"primaryKey"`
	ProjectID        string `gorm:"uniqueIndex:idx_coverage_commit"`
	CommitID         string `gorm:"uniqueIndex:idx_coverage_commit"`
	LineCoverage     float64
	BranchCoverage   float64
	FunctionCoverage float64
	TotalLines       int
	CoveredLines     *int
	TotalBranches    int
	CoveredBranches  int
	TotalFunctions   int
	CoveredFunctions int
	Status           string
	Threshold        *float64
	ReportType       string
	CreatedAt        time.Time `gorm:"index"`
}

// TableName returns the table name for the CoverageRecord model.
func (CoverageRecord) TableName() string {
	return "coverage_records"
}

func (c *CoverageRecord) toDomain() gate.CoverageRecord {
	return gate.CoverageRecord{
		ID:               c.ID,
		ProjectID:        c.ProjectID,
		CommitID:         c.CommitID,
		LineCoverage:     c.LineCoverage,
		BranchCoverage:   c.BranchCoverage,
		FunctionCoverage: c.FunctionCoverage,
		TotalLines:       c.TotalLines,
		CoveredLines:     c.CoveredLines,
		TotalBranches:    c.TotalBranches,
		CoveredBranches:  c.CoveredBranches,
		TotalFunctions:   c.TotalFunctions,
		CoveredFunctions: c.CoveredFunctions,
		Status:           gate.CoverageStatus(c.Status),
		Threshold:        c.Threshold,
		ReportType:       c.ReportType,
		CreatedAt:        c.CreatedAt,
	}
}

func coverageFromDomain(c *gate.CoverageRecord) *CoverageRecord {
	return &CoverageRecord{
		ID:               c.ID,
		ProjectID:        c.ProjectID,
		CommitID:         c.CommitID,
		LineCoverage:     c.LineCoverage,
		BranchCoverage:   c.BranchCoverage,
		FunctionCoverage: c.FunctionCoverage,
		TotalLines:       c.TotalLines,
		CoveredLines:     c.CoveredLines,
		TotalBranches:    c.TotalBranches,
		CoveredBranches:  c.CoveredBranches,
		TotalFunctions:   c.TotalFunctions,
		CoveredFunctions: c.CoveredFunctions,
		Status:           string(c.Status),
		Threshold:        c.Threshold,
		ReportType:       c.ReportType,
		CreatedAt:        c.CreatedAt,
	}
}

// Bug is a stored bug-type issue.
type Bug struct {
	ID                string `gorm:"primaryKey"`
	ProjectID         string `gorm:"index"`
	Title             string
	Severity          string
	Priority          string
	Status            string    `gorm:"index"`
	AssigneeID        string    `gorm:"index"`
	CreatedAt         time.Time `gorm:"index"`
	ClosedAt          *time.Time
	FirstResponseAt   *time.Time
	ResolutionMinutes *int64
	ResponseMinutes   *int64
}

// TableName returns the table name for the Bug model.
func (Bug) TableName() string {
	return "bugs"
}

func (b *Bug) toDomain() gate.Bug {
	return gate.Bug{
		ID:                b.ID,
		ProjectID:         b.ProjectID,
		Title:             b.Title,
		Severity:          gate.BugSeverity(b.Severity),
		Priority:          b.Priority,
		Status:            gate.IssueStatus(b.Status),
		AssigneeID:        b.AssigneeID,
		CreatedAt:         b.CreatedAt,
		ClosedAt:          b.ClosedAt,
		FirstResponseAt:   b.FirstResponseAt,
		ResolutionMinutes: b.ResolutionMinutes,
		ResponseMinutes:   b.ResponseMinutes,
	}
}

func bugFromDomain(b *gate.Bug) *Bug {
	return &Bug{
		ID:                b.ID,
		ProjectID:         b.ProjectID,
		Title:             b.Title,
		Severity:          string(b.Severity),
		Priority:          b.Priority,
		Status:            string(b.Status),
		AssigneeID:        b.AssigneeID,
		CreatedAt:         b.CreatedAt,
		ClosedAt:          b.ClosedAt,
		FirstResponseAt:   b.FirstResponseAt,
		ResolutionMinutes: b.ResolutionMinutes,
		ResponseMinutes:   b.ResponseMinutes,
	}
}

// AlertLog is one dispatched alert kept for audit.
type AlertLog struct {
	ID              string `gorm:"primaryKey"`
	Type            string `gorm:"index"`
	Level           string
	Priority        int
	ProjectID       string `gorm:"index"`
	RelatedEntityID string
	AssigneeID      string
	IssueID         string
	Title           string
	Message         string
	Timestamp       time.Time `gorm:"index"`
}

// TableName returns the table name for the AlertLog model.
func (AlertLog) TableName() string {
	return "alert_log"
}

func (a *AlertLog) toDomain() gate.Alert {
	id, _ := gate.ParseAlertID(a.ID)
	return gate.Alert{
		ID:              id,
		Type:            gate.AlertType(a.Type),
		Level:           gate.AlertLevel(a.Level),
		Priority:        a.Priority,
		ProjectID:       a.ProjectID,
		RelatedEntityID: a.RelatedEntityID,
		AssigneeID:      a.AssigneeID,
		IssueID:         a.IssueID,
		Title:           a.Title,
		Message:         a.Message,
		Timestamp:       a.Timestamp,
	}
}

func alertFromDomain(a *gate.Alert) *AlertLog {
	return &AlertLog{
		ID:              a.ID.String(),
		Type:            string(a.Type),
		Level:           string(a.Level),
		Priority:        a.Priority,
		ProjectID:       a.ProjectID,
		RelatedEntityID: a.RelatedEntityID,
		AssigneeID:      a.AssigneeID,
		IssueID:         a.IssueID,
		Title:           a.Title,
		Message:         a.Message,
		Timestamp:       a.Timestamp,
	}
}

// models lists every table managed by Migrate.
func models() []any {
	return []any{
		&MergeRequest{},
		&CodeReview{},
		&EmergencyBypass{},
		&CoverageRecord{},
		&Bug{},
		&AlertLog{},
	}
}
