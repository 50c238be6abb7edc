package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/antinvestor/qualitygate/apps/webhook/config"
	"github.com/antinvestor/qualitygate/apps/webhook/service/handlers"
	"github.com/antinvestor/qualitygate/internal/events"
	"github.com/antinvestor/qualitygate/internal/gate"
)

type published struct {
	queue   string
	event   events.IngestEvent
	headers map[string]string
}

type mockPublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (m *mockPublisher) Publish(_ context.Context, queueName string, payload any, headers ...map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	data, ok := payload.([]byte)
	if !ok {
		return assert.AnError
	}
	var event events.IngestEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	msg := published{queue: queueName, event: event}
	if len(headers) > 0 {
		msg.headers = headers[0]
	}
	m.messages = append(m.messages, msg)
	return nil
}

func testConfig() *appconfig.WebhookConfig {
	return &appconfig.WebhookConfig{
		GitLabWebhookSecret:          "s3cret",
		QueueIngestName:              "gitlab.events",
		EnableMergeRequestProcessing: true,
		EnableIssueProcessing:        true,
		BugLabel:                     "bug",
		SeverityLabelPrefix:          "severity::",
		PriorityLabelPrefix:          "priority::",
		DefaultBugSeverity:           "medium",
		MaxBodySize:                  1 << 20,
	}
}

const mergeRequestHook = `{
  "object_kind": "merge_request",
  "user": {"id": 7, "username": "bob"},
  "project": {"id": 42, "path_with_namespace": "group/app"},
  "object_attributes": {
    "id": 1001, "iid": 3, "title": "Add gate",
    "source_branch": "feature", "target_branch": "main",
    "state": "opened", "action": "%s", "author_id": 5,
    "created_at": "2026-03-01 10:00:00 UTC",
    "updated_at": "2026-03-01T12:00:00Z"
  }
}`

const issueHook = `{
  "object_kind": "issue",
  "project": {"id": 42, "path_with_namespace": "group/app"},
  "object_attributes": {
    "id": 555, "iid": 9, "title": "Crash on save",
    "state": "opened", "action": "open", "assignee_ids": [11],
    "created_at": "2026-03-01T08:00:00Z"
  },
  "labels": [%s]
}`

func gitlabRequest(event, body, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gitlab", strings.NewReader(body))
	req.Header.Set("X-Gitlab-Event", event)
	req.Header.Set("X-Gitlab-Event-UUID", "uuid-1")
	if token != "" {
		req.Header.Set("X-Gitlab-Token", token)
	}
	return req
}

func serve(handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleGitLabWebhook_RejectsBadToken(t *testing.T) {
	publisher := &mockPublisher{}
	h := handlers.NewWebhookHandler(testConfig(), publisher)

	for _, token := range []string{"", "wrong"} {
		rec := serve(h.HandleGitLabWebhook, gitlabRequest("Merge Request Hook", `{}`, token))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "token %q", token)
	}
	assert.Empty(t, publisher.messages)
}

func TestHandleGitLabWebhook_NoSecretSkipsCheck(t *testing.T) {
	cfg := testConfig()
	cfg.GitLabWebhookSecret = ""
	publisher := &mockPublisher{}
	h := handlers.NewWebhookHandler(cfg, publisher)

	body := strings.Replace(mergeRequestHook, "%s", "open", 1)
	rec := serve(h.HandleGitLabWebhook, gitlabRequest("Merge Request Hook", body, ""))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, publisher.messages, 1)
}

func TestHandleGitLabWebhook_MergeRequestOpened(t *testing.T) {
	publisher := &mockPublisher{}
	h := handlers.NewWebhookHandler(testConfig(), publisher)

	body := strings.Replace(mergeRequestHook, "%s", "open", 1)
	rec := serve(h.HandleGitLabWebhook, gitlabRequest("Merge Request Hook", body, "s3cret"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, publisher.messages, 1)
	msg := publisher.messages[0]
	assert.Equal(t, "gitlab.events", msg.queue)
	assert.Equal(t, "gitlab.merge_request", msg.headers["routing_key"])
	assert.Equal(t, "42", msg.headers["project_id"])
	assert.Equal(t, events.KindMergeRequest, msg.event.Kind)
	assert.Equal(t, "uuid-1:mr", msg.event.DeliveryID)
	require.NoError(t, msg.event.Verify())

	var mr gate.MergeRequest
	require.NoError(t, msg.event.DecodePayload(&mr))
	assert.Equal(t, "1001", mr.ID)
	assert.Equal(t, "42", mr.ProjectID)
	assert.Equal(t, "5", mr.AuthorID)
	assert.Equal(t, "main", mr.TargetBranch)
	assert.Equal(t, gate.MergeRequestOpened, mr.Status)
	assert.Equal(t, 2026, mr.CreatedAt.Year())
}

func TestHandleGitLabWebhook_ApprovalPublishesReview(t *testing.T) {
	publisher := &mockPublisher{}
	h := handlers.NewWebhookHandler(testConfig(), publisher)

	body := strings.Replace(mergeRequestHook, "%s", "approved", 1)
	rec := serve(h.HandleGitLabWebhook, gitlabRequest("Merge Request Hook", body, "s3cret"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, publisher.messages, 2)
	reviewMsg := publisher.messages[1]
	assert.Equal(t, events.KindReview, reviewMsg.event.Kind)
	assert.Equal(t, "uuid-1:review", reviewMsg.event.DeliveryID)

	var review gate.Review
	require.NoError(t, reviewMsg.event.DecodePayload(&review))
	assert.Equal(t, "1001", review.MergeRequestID)
	assert.Equal(t, "7", review.ReviewerID)
	assert.Equal(t, gate.ReviewApproved, review.Status)
}

func TestHandleGitLabWebhook_Issue(t *testing.T) {
	tests := []struct {
		name         string
		labels       string
		wantCode     int
		wantSeverity gate.BugSeverity
	}{
		{"severity label", `{"title":"bug"},{"title":"severity::critical"},{"title":"priority::p1"}`, http.StatusAccepted, gate.SeverityCritical},
		{"default severity", `{"title":"Bug"}`, http.StatusAccepted, gate.SeverityMedium},
		{"not a bug", `{"title":"feature"}`, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := &mockPublisher{}
			h := handlers.NewWebhookHandler(testConfig(), publisher)

			body := strings.Replace(issueHook, "%s", tt.labels, 1)
			rec := serve(h.HandleGitLabWebhook, gitlabRequest("Issue Hook", body, "s3cret"))
			require.Equal(t, tt.wantCode, rec.Code)

			if tt.wantSeverity == "" {
				assert.Empty(t, publisher.messages)
				return
			}
			require.Len(t, publisher.messages, 1)
			var bug gate.Bug
			require.NoError(t, publisher.messages[0].event.DecodePayload(&bug))
			assert.Equal(t, "555", bug.ID)
			assert.Equal(t, "11", bug.AssigneeID)
			assert.Equal(t, tt.wantSeverity, bug.Severity)
			assert.Equal(t, gate.IssueOpened, bug.Status)
		})
	}
}

func TestHandleGitLabWebhook_IgnoredEvents(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedProjects = "other/app"
	publisher := &mockPublisher{}
	h := handlers.NewWebhookHandler(cfg, publisher)

	body := strings.Replace(mergeRequestHook, "%s", "open", 1)
	rec := serve(h.HandleGitLabWebhook, gitlabRequest("Merge Request Hook", body, "s3cret"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "project not allowed")

	rec = serve(h.HandleGitLabWebhook, gitlabRequest("Pipeline Hook", `{}`, "s3cret"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhandled event type")

	assert.Empty(t, publisher.messages)
}

func TestHandleGitLabWebhook_Failures(t *testing.T) {
	publisher := &mockPublisher{}
	h := handlers.NewWebhookHandler(testConfig(), publisher)

	rec := serve(h.HandleGitLabWebhook, gitlabRequest("Merge Request Hook", `{not json`, "s3cret"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	publisher.err = assert.AnError
	body := strings.Replace(mergeRequestHook, "%s", "open", 1)
	rec = serve(h.HandleGitLabWebhook, gitlabRequest("Merge Request Hook", body, "s3cret"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleGitLabWebhook_BodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodySize = 16
	h := handlers.NewWebhookHandler(cfg, &mockPublisher{})

	body := strings.Replace(mergeRequestHook, "%s", "open", 1)
	rec := serve(h.HandleGitLabWebhook, gitlabRequest("Merge Request Hook", body, "s3cret"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleCoverageReport(t *testing.T) {
	publisher := &mockPublisher{}
	h := handlers.NewWebhookHandler(testConfig(), publisher)

	body := `{"projectId":"42","commitId":"abc123","lineCoverage":85.5,"branchCoverage":80,` +
		`"functionCoverage":90,"totalLines":200,"reportType":"unit"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/coverage", strings.NewReader(body))
	req.Header.Set("X-Gitlab-Token", "s3cret")
	req.Header.Set("Idempotency-Key", "ci-job-9")

	rec := serve(h.HandleCoverageReport, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, publisher.messages, 1)
	msg := publisher.messages[0]
	assert.Equal(t, events.KindCoverage, msg.event.Kind)
	assert.Equal(t, "ci-job-9", msg.event.DeliveryID)

	var record gate.CoverageRecord
	require.NoError(t, msg.event.DecodePayload(&record))
	assert.Equal(t, "abc123", record.CommitID)
	assert.InDelta(t, 85.5, record.LineCoverage, 0.001)
	assert.Equal(t, "unit", record.ReportType)
}

func TestHandleCoverageReport_Invalid(t *testing.T) {
	h := handlers.NewWebhookHandler(testConfig(), &mockPublisher{})

	for _, body := range []string{
		`{"commitId":"abc"}`,
		`{"projectId":"42","commitId":"abc","lineCoverage":120}`,
		`{"projectId":"42","commitId":"abc","timestamp":"yesterday"}`,
		`[]`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/coverage", strings.NewReader(body))
		req.Header.Set("X-Gitlab-Token", "s3cret")
		rec := serve(h.HandleCoverageReport, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestHandleCoverageReport_RawLCOV(t *testing.T) {
	publisher := &mockPublisher{}
	h := handlers.NewWebhookHandler(testConfig(), publisher)

	lcov := "SF:src/a.js\nFNF:2\nFNH:2\nLF:10\nLH:7\nBRF:4\nBRH:2\nend_of_record\n"
	req := httptest.NewRequest(http.MethodPost,
		"/webhooks/coverage?format=lcov&projectId=42&commitId=abc123&reportType=unit", strings.NewReader(lcov))
	req.Header.Set("X-Gitlab-Token", "s3cret")

	rec := serve(h.HandleCoverageReport, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, publisher.messages, 1)

	var record gate.CoverageRecord
	require.NoError(t, publisher.messages[0].event.DecodePayload(&record))
	assert.Equal(t, "abc123", record.CommitID)
	assert.InDelta(t, 70, record.LineCoverage, 0.001)
	assert.InDelta(t, 50, record.BranchCoverage, 0.001)
	assert.InDelta(t, 100, record.FunctionCoverage, 0.001)
	require.NotNil(t, record.CoveredLines)
	assert.Equal(t, 7, *record.CoveredLines)
}

func TestHandleCoverageReport_RawUnknownFormat(t *testing.T) {
	h := handlers.NewWebhookHandler(testConfig(), &mockPublisher{})

	req := httptest.NewRequest(http.MethodPost,
		"/webhooks/coverage?format=clover&projectId=42&commitId=abc", strings.NewReader("<report/>"))
	req.Header.Set("X-Gitlab-Token", "s3cret")

	rec := serve(h.HandleCoverageReport, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
