package coverage

import (
	"context"
	"time"

	"github.com/antinvestor/qualitygate/internal/gate"
)

// Store reads and annotates coverage records.
type Store interface {
	// GetCoverage returns gate.ErrNotFound (wrapped) when no record exists for the commit.
	GetCoverage(ctx context.Context, projectID, commitID string) (*gate.CoverageRecord, error)

	// ListCoverageHistory returns up to limit records of a project, newest first.
	ListCoverageHistory(ctx context.Context, projectID string, limit int) ([]gate.CoverageRecord, error)

	// UpdateCoverageStatus stores the gate outcome on the record.
	UpdateCoverageStatus(ctx context.Context, recordID string, status gate.CoverageStatus, threshold float64) error

	// ListCoverage returns records of a project created in [start, end].
	ListCoverage(ctx context.Context, projectID string, start, end time.Time) ([]gate.CoverageRecord, error)
}

// Thresholds overrides configured thresholds per metric. A nil field keeps
// the configured value.
type Thresholds struct {
	Line     *float64 `json:"line,omitempty"`
	Branch   *float64 `json:"branch,omitempty"`
	Function *float64 `json:"function,omitempty"`
}

// NewCodeResult is the outcome of a new-code coverage check.
type NewCodeResult struct {
	Pass            bool    `json:"pass"`
	Message         string  `json:"message"`
	NewCodeLines    int     `json:"new_code_lines"`
	NewCoveredLines int     `json:"new_covered_lines"`
	CoverageRate    float64 `json:"coverage_rate"`
	Threshold       float64 `json:"threshold"`
}

// TestResults are the counts reported by a test run.
type TestResults struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// TestFailureResult is the outcome of a test-failure check.
type TestFailureResult struct {
	Pass              bool   `json:"pass"`
	Message           string `json:"message"`
	DeploymentBlocked bool   `json:"deployment_blocked"`
}

// GateStats counts gate outcomes over stored coverage records.
type GateStats struct {
	ProjectID string    `json:"project_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Total     int       `json:"total"`
	Passed    int       `json:"passed"`
	Failed    int       `json:"failed"`
	Unchecked int       `json:"unchecked"`
	PassRate  float64   `json:"pass_rate"`
}
