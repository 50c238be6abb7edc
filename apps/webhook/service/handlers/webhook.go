package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/pitabwire/util"

	appconfig "github.com/antinvestor/qualitygate/apps/webhook/config"
	"github.com/antinvestor/qualitygate/internal/events"
	"github.com/antinvestor/qualitygate/internal/gate"
)

// GitLab webhook headers.
const (
	headerGitLabToken = "X-Gitlab-Token"
	headerGitLabEvent = "X-Gitlab-Event"
	headerGitLabUUID  = "X-Gitlab-Event-UUID"

	headerIdempotencyKey = "Idempotency-Key"
)

// GitLab event names.
const (
	eventMergeRequest = "Merge Request Hook"
	eventIssue        = "Issue Hook"
)

// Publisher publishes messages to a named queue.
type Publisher interface {
	Publish(ctx context.Context, queueName string, payload any, headers ...map[string]string) error
}

// WebhookHandler handles incoming GitLab webhooks and CI coverage reports.
type WebhookHandler struct {
	cfg       *appconfig.WebhookConfig
	publisher Publisher
	issues    issueSettings
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(cfg *appconfig.WebhookConfig, publisher Publisher) *WebhookHandler {
	defaultSeverity := gate.BugSeverity(cfg.DefaultBugSeverity)
	if !defaultSeverity.IsValid() {
		defaultSeverity = gate.SeverityMedium
	}
	return &WebhookHandler{
		cfg:       cfg,
		publisher: publisher,
		issues: issueSettings{
			bugLabel:        cfg.BugLabel,
			severityPrefix:  cfg.SeverityLabelPrefix,
			priorityPrefix:  cfg.PriorityLabelPrefix,
			defaultSeverity: defaultSeverity,
		},
	}
}

// HandleGitLabWebhook processes incoming GitLab webhook events.
func (h *WebhookHandler) HandleGitLabWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := util.Log(ctx)

	body, ok := h.readAuthenticated(w, r, headerGitLabToken)
	if !ok {
		return
	}

	eventType := r.Header.Get(headerGitLabEvent)
	deliveryID := r.Header.Get(headerGitLabUUID)

	log.Info("received GitLab webhook",
		"event_type", eventType,
		"delivery_id", deliveryID,
	)

	switch eventType {
	case eventMergeRequest:
		h.handleMergeRequestEvent(w, r, body, deliveryID)
	case eventIssue:
		h.handleIssueEvent(w, r, body, deliveryID)
	default:
		log.Debug("ignoring unhandled event type", "event_type", eventType)
		writeStatus(w, http.StatusOK, "ignored", "unhandled event type")
	}
}

// readAuthenticated checks the shared token and reads the bounded body. It
// writes the error response itself and reports whether to continue.
func (h *WebhookHandler) readAuthenticated(w http.ResponseWriter, r *http.Request, tokenHeader string) ([]byte, bool) {
	ctx := r.Context()
	log := util.Log(ctx)

	if h.cfg.GitLabWebhookSecret != "" && !h.verifyToken(r.Header.Get(tokenHeader)) {
		log.Warn("invalid webhook token")
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return nil, false
	}

	defer util.CloseAndLogOnError(ctx, r.Body, "failed to close request body")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		log.WithError(err).Error("failed to read request body")
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (h *WebhookHandler) verifyToken(token string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.GitLabWebhookSecret)) == 1
}

func (h *WebhookHandler) maxBodySize() int64 {
	if h.cfg.MaxBodySize <= 0 {
		return 1 << 20
	}
	return h.cfg.MaxBodySize
}

func (h *WebhookHandler) handleMergeRequestEvent(w http.ResponseWriter, r *http.Request, body []byte, deliveryID string) {
	ctx := r.Context()
	log := util.Log(ctx)

	if !h.cfg.EnableMergeRequestProcessing {
		writeStatus(w, http.StatusOK, "ignored", "merge request processing disabled")
		return
	}

	var event MergeRequestEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.WithError(err).Error("failed to parse merge request event")
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	projectID := gitlabID(event.Project.ID)
	if !h.cfg.IsProjectAllowed(projectID, event.Project.PathWithNamespace) {
		log.Debug("project not in allowed list", "project", event.Project.PathWithNamespace)
		writeStatus(w, http.StatusOK, "ignored", "project not allowed")
		return
	}

	mr := event.toMergeRequest()
	if mr.ID == "" {
		http.Error(w, "Merge request without id", http.StatusBadRequest)
		return
	}

	if err := h.publish(ctx, events.KindMergeRequest, deliveryKey(deliveryID, "mr"), projectID, mr); err != nil {
		log.WithError(err).Error("failed to publish merge request", "merge_request_id", mr.ID)
		http.Error(w, "Failed to queue event", http.StatusInternalServerError)
		return
	}

	if review, isReview := event.toReview(); isReview {
		if err := h.publish(ctx, events.KindReview, deliveryKey(deliveryID, "review"), projectID, review); err != nil {
			log.WithError(err).Error("failed to publish review", "merge_request_id", mr.ID)
			http.Error(w, "Failed to queue event", http.StatusInternalServerError)
			return
		}
	}

	log.Info("queued merge request event",
		"merge_request_id", mr.ID,
		"action", event.ObjectAttributes.Action,
		"status", mr.Status,
	)
	writeStatus(w, http.StatusAccepted, "accepted", "")
}

func (h *WebhookHandler) handleIssueEvent(w http.ResponseWriter, r *http.Request, body []byte, deliveryID string) {
	ctx := r.Context()
	log := util.Log(ctx)

	if !h.cfg.EnableIssueProcessing {
		writeStatus(w, http.StatusOK, "ignored", "issue processing disabled")
		return
	}

	var event IssueEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.WithError(err).Error("failed to parse issue event")
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	projectID := gitlabID(event.Project.ID)
	if !h.cfg.IsProjectAllowed(projectID, event.Project.PathWithNamespace) {
		writeStatus(w, http.StatusOK, "ignored", "project not allowed")
		return
	}

	bug, isBug := event.toBug(h.issues)
	if !isBug {
		writeStatus(w, http.StatusOK, "ignored", "issue is not a bug")
		return
	}
	if bug.ID == "" {
		http.Error(w, "Issue without id", http.StatusBadRequest)
		return
	}

	if err := h.publish(ctx, events.KindBug, deliveryKey(deliveryID, "bug"), projectID, bug); err != nil {
		log.WithError(err).Error("failed to publish bug", "bug_id", bug.ID)
		http.Error(w, "Failed to queue event", http.StatusInternalServerError)
		return
	}

	log.Info("queued bug event", "bug_id", bug.ID, "severity", bug.Severity, "status", bug.Status)
	writeStatus(w, http.StatusAccepted, "accepted", "")
}

// publish wraps payload in an ingest envelope and queues it for the gatekeeper.
func (h *WebhookHandler) publish(
	ctx context.Context,
	kind events.IngestKind,
	deliveryID string,
	projectID string,
	payload any,
) error {
	event, err := events.NewIngestEvent(kind, deliveryID, payload)
	if err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ingest event: %w", err)
	}

	headers := map[string]string{
		"routing_key": "gitlab." + string(kind),
		"event_kind":  string(kind),
		"project_id":  projectID,
	}
	return h.publisher.Publish(ctx, h.cfg.QueueIngestName, data, headers)
}

// deliveryKey derives a per-record delivery id, since one GitLab delivery
// can produce several ingest events. Empty delivery ids stay empty.
func deliveryKey(deliveryID, suffix string) string {
	if deliveryID == "" {
		return ""
	}
	return deliveryID + ":" + suffix
}

func writeStatus(w http.ResponseWriter, statusCode int, status, reason string) {
	response := map[string]string{"status": status}
	if reason != "" {
		response["reason"] = reason
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
