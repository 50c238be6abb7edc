// Package bugsla watches open bugs against their severity timeouts and
// reports how efficiently bugs get fixed.
package bugsla

import (
	"context"
	"time"

	"github.com/antinvestor/qualitygate/internal/gate"
)

// BugFilter narrows a bug listing. Zero fields do not filter.
type BugFilter struct {
	ProjectID     string
	AssigneeID    string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	OpenOnly      bool
}

// BugStore reads bug records.
type BugStore interface {
	// ListOpenBugs returns every bug that is not closed.
	ListOpenBugs(ctx context.Context) ([]gate.Bug, error)

	// ListBugs returns bugs matching the filter, oldest first.
	ListBugs(ctx context.Context, filter BugFilter) ([]gate.Bug, error)
}

// ScanReport summarises one SLA scan.
type ScanReport struct {
	Scanned    int       `json:"scanned"`
	Breached   int       `json:"breached"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Shared is set when the caller joined a scan already running in this process.
	Shared bool `json:"shared"`
}

// EfficiencyQuery selects the bugs CalculateEfficiency looks at.
type EfficiencyQuery struct {
	ProjectID  string
	AssigneeID string
	Start      time.Time
	End        time.Time
}

// EfficiencyStats reports bug fix throughput and speed.
type EfficiencyStats struct {
	ProjectID  string    `json:"project_id"`
	AssigneeID string    `json:"assignee_id,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`

	TotalBugs      int     `json:"total_bugs"`
	ClosedBugs     int     `json:"closed_bugs"`
	OpenBugs       int     `json:"open_bugs"`
	TimeoutBugs    int     `json:"timeout_bugs"`
	ResolutionRate float64 `json:"resolution_rate"`

	Resolution DurationSummary `json:"resolution_hours"`
	Response   DurationSummary `json:"response_hours"`

	BySeverity map[string]*Breakdown `json:"by_severity"`
	ByPriority map[string]*Breakdown `json:"by_priority"`
	Developers []DeveloperEfficiency `json:"developers,omitempty"`
	Issues     []string              `json:"issues"`
}

// DurationSummary describes a set of durations in hours.
type DurationSummary struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Median  float64 `json:"median"`
}

// Breakdown reports efficiency for one severity or priority bucket.
type Breakdown struct {
	Count              int     `json:"count"`
	Closed             int     `json:"closed"`
	Timeouts           int     `json:"timeouts"`
	ResolutionRate     float64 `json:"resolution_rate"`
	AvgResolutionHours float64 `json:"avg_resolution_hours"`
	AvgResponseHours   float64 `json:"avg_response_hours"`
}

// DeveloperEfficiency reports efficiency for one assignee.
type DeveloperEfficiency struct {
	AssigneeID         string  `json:"assignee_id"`
	Total              int     `json:"total"`
	Closed             int     `json:"closed"`
	ResolutionRate     float64 `json:"resolution_rate"`
	AvgResolutionHours float64 `json:"avg_resolution_hours"`
	AvgResponseHours   float64 `json:"avg_response_hours"`
	Score              float64 `json:"score"`
}

// EfficiencyComparison reports the change from a baseline period to a later one.
type EfficiencyComparison struct {
	Baseline              *EfficiencyStats `json:"baseline"`
	Current               *EfficiencyStats `json:"current"`
	ResolutionRateChange  float64          `json:"resolution_rate_change"`
	ResponseHoursChange   float64          `json:"response_hours_change"`
	ResolutionHoursChange float64          `json:"resolution_hours_change"`
}
