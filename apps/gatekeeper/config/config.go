package config

import (
	"strings"
	"time"

	"github.com/pitabwire/frame/config"

	"github.com/antinvestor/qualitygate/internal/events"
	"github.com/antinvestor/qualitygate/internal/gate"
)

// GatekeeperConfig defines configuration for the gatekeeper service.
// The gatekeeper evaluates merge, coverage and test gates, watches bug SLAs,
// and publishes alerts for downstream notification.
type GatekeeperConfig struct {
	config.ConfigurationDefault

	// ==========================================================================
	// Queue Configuration
	// ==========================================================================

	// Alert queue (outgoing to the notification pipeline)
	QueueAlertName string `envDefault:"quality.alerts" env:"QUEUE_ALERT_NAME"`
	QueueAlertURI  string `envDefault:"mem://quality.alerts" env:"QUEUE_ALERT_URI"`

	// Alert audit subscription on the same topic
	QueueAlertAuditName string `envDefault:"quality.alerts.audit" env:"QUEUE_ALERT_AUDIT_NAME"`
	QueueAlertAuditURI  string `envDefault:"mem://quality.alerts" env:"QUEUE_ALERT_AUDIT_URI"`

	// Ingest queue (incoming from the webhook service)
	QueueIngestName string `envDefault:"gitlab.events" env:"QUEUE_INGEST_NAME"`
	QueueIngestURI  string `envDefault:"mem://gitlab.events" env:"QUEUE_INGEST_URI"`

	// ==========================================================================
	// Review Policy
	// ==========================================================================

	// ProtectedBranches is a comma-separated list of branches that require review.
	ProtectedBranches string `envDefault:"main,master,develop,release" env:"REVIEW_PROTECTED_BRANCHES"`

	// MinReviewers is the minimum number of distinct reviewers.
	MinReviewers int `envDefault:"1" env:"REVIEW_MIN_REVIEWERS"`

	// RequireApproval requires at least one approving reviewer.
	RequireApproval bool `envDefault:"true" env:"REVIEW_REQUIRE_APPROVAL"`

	// BlockSelfApproval rejects approvals by the merge request author.
	BlockSelfApproval bool `envDefault:"true" env:"REVIEW_BLOCK_SELF_APPROVAL"`

	// LargeChangeThreshold is the additions+deletions count above which a
	// change counts as large.
	LargeChangeThreshold int `envDefault:"500" env:"REVIEW_LARGE_CHANGE_THRESHOLD"`

	// LargeChangeMinReviewers is the reviewer minimum for large changes.
	LargeChangeMinReviewers int `envDefault:"2" env:"REVIEW_LARGE_CHANGE_MIN_REVIEWERS"`

	// EmergencyBypassEnabled allows admins to authorise emergency merges.
	EmergencyBypassEnabled bool `envDefault:"false" env:"REVIEW_EMERGENCY_BYPASS_ENABLED"`

	// AdminUsers is a comma-separated list of users allowed to bypass.
	AdminUsers string `env:"REVIEW_ADMIN_USERS"`

	// ==========================================================================
	// Coverage Policy
	// ==========================================================================

	QualityGateEnabled bool    `envDefault:"true" env:"COVERAGE_QUALITY_GATE_ENABLED"`
	StrictMode         bool    `envDefault:"false" env:"COVERAGE_STRICT_MODE"`
	LineThreshold      float64 `envDefault:"80" env:"COVERAGE_LINE_THRESHOLD"`
	BranchThreshold    float64 `envDefault:"70" env:"COVERAGE_BRANCH_THRESHOLD"`
	FunctionThreshold  float64 `envDefault:"80" env:"COVERAGE_FUNCTION_THRESHOLD"`
	NewCodeThreshold   float64 `envDefault:"80" env:"COVERAGE_NEW_CODE_THRESHOLD"`

	// ==========================================================================
	// Bug SLA
	// ==========================================================================

	BugCriticalTimeoutHours int `envDefault:"4" env:"BUG_SLA_CRITICAL_HOURS"`
	BugHighTimeoutHours     int `envDefault:"24" env:"BUG_SLA_HIGH_HOURS"`
	BugMediumTimeoutHours   int `envDefault:"72" env:"BUG_SLA_MEDIUM_HOURS"`
	BugLowTimeoutHours      int `envDefault:"168" env:"BUG_SLA_LOW_HOURS"`

	// BugSLAScanInterval is how often open bugs are checked.
	BugSLAScanInterval time.Duration `envDefault:"1h" env:"BUG_SLA_SCAN_INTERVAL"`

	// Advisory limits reported by the efficiency statistics.
	ResponseTimeSoftLimitHours   int     `envDefault:"24" env:"BUG_RESPONSE_SOFT_LIMIT_HOURS"`
	ResolutionTimeSoftLimitHours int     `envDefault:"72" env:"BUG_RESOLUTION_SOFT_LIMIT_HOURS"`
	ResolutionRateSoftLimit      float64 `envDefault:"80" env:"BUG_RESOLUTION_RATE_SOFT_LIMIT"`

	// ==========================================================================
	// Coordination Backends
	// ==========================================================================

	// LockBackend is "memory" or "redis".
	LockBackend string `envDefault:"memory" env:"LOCK_BACKEND"`

	// DedupBackend is "memory" or "redis".
	DedupBackend string `envDefault:"memory" env:"DEDUP_BACKEND"`

	// RedisURL is used by redis backends.
	RedisURL string `env:"REDIS_URL"`

	// DedupTTL bounds how long delivery IDs are remembered.
	DedupTTL time.Duration `envDefault:"24h" env:"DEDUP_TTL"`

	// ==========================================================================
	// Rate Limiting
	// ==========================================================================

	RateLimitRequestsPerMinute int `envDefault:"120" env:"RATE_LIMIT_REQUESTS_PER_MINUTE"`
	RateLimitBurstSize         int `envDefault:"20" env:"RATE_LIMIT_BURST_SIZE"`
}

// ReviewPolicy returns the configured review policy.
func (c *GatekeeperConfig) ReviewPolicy() gate.ReviewPolicy {
	return gate.ReviewPolicy{
		ProtectedBranches:       SplitList(c.ProtectedBranches),
		MinReviewers:            c.MinReviewers,
		RequireApproval:         c.RequireApproval,
		BlockSelfApproval:       c.BlockSelfApproval,
		AdminUsers:              SplitList(c.AdminUsers),
		EmergencyBypassEnabled:  c.EmergencyBypassEnabled,
		LargeChangeThreshold:    c.LargeChangeThreshold,
		LargeChangeMinReviewers: c.LargeChangeMinReviewers,
	}
}

// CoveragePolicy returns the configured coverage policy.
func (c *GatekeeperConfig) CoveragePolicy() gate.CoveragePolicy {
	return gate.CoveragePolicy{
		Enabled:           c.QualityGateEnabled,
		StrictMode:        c.StrictMode,
		LineThreshold:     c.LineThreshold,
		BranchThreshold:   c.BranchThreshold,
		FunctionThreshold: c.FunctionThreshold,
		NewCodeThreshold:  c.NewCodeThreshold,
	}
}

// BugSLAPolicy returns the configured bug SLA policy.
func (c *GatekeeperConfig) BugSLAPolicy() gate.BugSLAPolicy {
	return gate.BugSLAPolicy{
		CriticalTimeout:         hours(c.BugCriticalTimeoutHours),
		HighTimeout:             hours(c.BugHighTimeoutHours),
		MediumTimeout:           hours(c.BugMediumTimeoutHours),
		LowTimeout:              hours(c.BugLowTimeoutHours),
		ResponseTimeSoftLimit:   hours(c.ResponseTimeSoftLimitHours),
		ResolutionTimeSoftLimit: hours(c.ResolutionTimeSoftLimitHours),
		ResolutionRateSoftLimit: c.ResolutionRateSoftLimit,
	}
}

// BackendConfig returns the coordination backend selection.
func (c *GatekeeperConfig) BackendConfig() events.BackendConfig {
	return events.BackendConfig{
		DeduplicationBackend: events.BackendType(c.DedupBackend),
		LockingBackend:       events.BackendType(c.LockBackend),
		RedisURL:             c.RedisURL,
		DeduplicationTTL:     c.DedupTTL,
	}
}

// SplitList splits a comma-separated env value, dropping blanks.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func hours(h int) time.Duration {
	return time.Duration(h) * time.Hour
}
