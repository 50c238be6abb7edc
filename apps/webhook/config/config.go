package config

import (
	"strings"

	"github.com/pitabwire/frame/config"
)

// WebhookConfig defines configuration for the webhook service.
// The webhook service receives GitLab events and CI coverage reports and
// publishes them, normalized, for the gatekeeper to apply.
type WebhookConfig struct {
	config.ConfigurationDefault

	// ==========================================================================
	// GitLab Configuration
	// ==========================================================================

	// GitLabWebhookSecret is compared with the X-Gitlab-Token header. Empty
	// disables the check.
	GitLabWebhookSecret string `env:"GITLAB_WEBHOOK_SECRET"`

	// ==========================================================================
	// Ingest Queue (outgoing to the gatekeeper)
	// ==========================================================================

	QueueIngestName string `envDefault:"gitlab.events" env:"QUEUE_INGEST_NAME"`
	QueueIngestURI  string `envDefault:"mem://gitlab.events" env:"QUEUE_INGEST_URI"`

	// ==========================================================================
	// Webhook Processing
	// ==========================================================================

	// AllowedProjects is a comma-separated list of project ids or paths
	// (group/project). If empty, all projects are allowed.
	AllowedProjects string `env:"ALLOWED_PROJECTS"`

	// EnableMergeRequestProcessing enables merge request and approval events.
	EnableMergeRequestProcessing bool `envDefault:"true" env:"ENABLE_MERGE_REQUEST_PROCESSING"`

	// EnableIssueProcessing enables bug tracking from issue events.
	EnableIssueProcessing bool `envDefault:"true" env:"ENABLE_ISSUE_PROCESSING"`

	// BugLabel marks the issues tracked as bugs.
	BugLabel string `envDefault:"bug" env:"BUG_LABEL"`

	// SeverityLabelPrefix precedes the severity in scoped labels, e.g. severity::critical.
	SeverityLabelPrefix string `envDefault:"severity::" env:"SEVERITY_LABEL_PREFIX"`

	// PriorityLabelPrefix precedes the priority in scoped labels, e.g. priority::p1.
	PriorityLabelPrefix string `envDefault:"priority::" env:"PRIORITY_LABEL_PREFIX"`

	// DefaultBugSeverity applies when a bug carries no severity label.
	DefaultBugSeverity string `envDefault:"medium" env:"DEFAULT_BUG_SEVERITY"`

	// MaxBodySize bounds accepted request bodies in bytes.
	MaxBodySize int64 `envDefault:"1048576" env:"MAX_BODY_SIZE"`
}

// IsProjectAllowed reports whether events of the project should be processed.
func (c *WebhookConfig) IsProjectAllowed(projectID, projectPath string) bool {
	if strings.TrimSpace(c.AllowedProjects) == "" {
		return true
	}
	for _, allowed := range strings.Split(c.AllowedProjects, ",") {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if allowed == projectID || strings.EqualFold(allowed, projectPath) {
			return true
		}
	}
	return false
}
