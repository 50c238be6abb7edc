package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/qualitygate/apps/gatekeeper/middleware"
	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/bugsla"
	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/coverage"
	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/handlers"
	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/repository"
	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/review"
	"github.com/antinvestor/qualitygate/internal/gate"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []*gate.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, alert *gate.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

type stubScanner struct {
	report *bugsla.ScanReport
	err    error
}

func (s *stubScanner) ScanForTimeouts(_ context.Context) (*bugsla.ScanReport, error) {
	return s.report, s.err
}

type testServer struct {
	server   *httptest.Server
	store    *repository.MemoryStore
	notifier *recordingNotifier
}

// subjectHeader lets tests pick the authenticated user of protected routes.
const subjectHeader = "X-Test-Subject"

func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.WithSubject(r.Context(), r.Header.Get(subjectHeader))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newTestServer(t *testing.T, scanner bugsla.Scanner) *testServer {
	t.Helper()
	return newTestServerWithAuth(t, scanner, fakeAuth)
}

func newTestServerWithAuth(t *testing.T, scanner bugsla.Scanner, protect func(http.Handler) http.Handler) *testServer {
	t.Helper()

	store := repository.NewMemoryStore()
	notifier := &recordingNotifier{}

	reviewPolicy := gate.DefaultReviewPolicy()
	reviewPolicy.EmergencyBypassEnabled = true
	reviewPolicy.AdminUsers = []string{"admin"}

	slaPolicy := gate.DefaultBugSLAPolicy()
	monitor := bugsla.NewMonitor(slaPolicy, store, notifier)
	if scanner == nil {
		scanner = monitor
	}

	h := handlers.NewHandler(
		review.NewEvaluator(reviewPolicy, store, store, store, notifier),
		coverage.NewGate(gate.DefaultCoveragePolicy(), store, notifier),
		bugsla.NewAnalyzer(slaPolicy, store),
		scanner,
		store,
	)

	mux := http.NewServeMux()
	h.Register(mux, protect)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testServer{server: server, store: store, notifier: notifier}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, ts.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ts.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) seedMergeRequest(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, ts.store.UpsertMergeRequest(context.Background(), &gate.MergeRequest{
		ID:           id,
		ProjectID:    "proj",
		AuthorID:     "alice",
		TargetBranch: "main",
		Additions:    40,
		Deletions:    10,
		Status:       gate.MergeRequestOpened,
		CreatedAt:    time.Now().Add(-time.Hour),
	}))
}

func TestCheckMerge_BlockedWithoutReviews(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedMergeRequest(t, "mr-1")

	resp := ts.do(t, http.MethodGet, "/api/review-rules/check-merge/mr-1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decision := decode[gate.GateDecision](t, resp)
	assert.False(t, decision.Pass)
	assert.True(t, decision.HasViolation(review.RuleInsufficientReviewers))
	assert.Len(t, ts.notifier.alerts, 1)
}

func TestCheckMerge_ApprovedPasses(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedMergeRequest(t, "mr-1")
	require.NoError(t, ts.store.UpsertReview(context.Background(), &gate.Review{
		ID: "r1", MergeRequestID: "mr-1", ReviewerID: "bob", Status: gate.ReviewApproved, ReviewedAt: time.Now(),
	}))

	resp := ts.do(t, http.MethodGet, "/api/review-rules/check-merge/mr-1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decision := decode[gate.GateDecision](t, resp)
	assert.True(t, decision.Pass)
	assert.Empty(t, ts.notifier.alerts)
}

func TestCheckMerge_UnknownMergeRequest_404(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodGet, "/api/review-rules/check-merge/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decode[handlers.ErrorResponse](t, resp).Error)
}

func TestEmergencyBypass_StatusCodes(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		mrID    string
		reason  string
		want    int
	}{
		{name: "admin", subject: "admin", mrID: "mr-1", reason: "prod outage", want: http.StatusCreated},
		{name: "non admin", subject: "alice", mrID: "mr-1", reason: "prod outage", want: http.StatusForbidden},
		{name: "anonymous", subject: "", mrID: "mr-1", reason: "prod outage", want: http.StatusForbidden},
		{name: "blank reason", subject: "admin", mrID: "mr-1", reason: "  ", want: http.StatusBadRequest},
		{name: "unknown merge request", subject: "admin", mrID: "nope", reason: "prod outage", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.seedMergeRequest(t, "mr-1")

			resp := ts.do(t, http.MethodPost, "/api/review-rules/emergency-bypass/"+tt.mrID,
				handlers.BypassRequest{Reason: tt.reason},
				map[string]string{subjectHeader: tt.subject})
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestEmergencyBypass_UnlocksMergeStatus(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedMergeRequest(t, "mr-1")

	resp := ts.do(t, http.MethodPost, "/api/review-rules/emergency-bypass/mr-1",
		handlers.BypassRequest{Reason: "hotfix"}, map[string]string{subjectHeader: "admin"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	result := decode[review.EmergencyBypassResult](t, resp)
	assert.True(t, result.Authorized)

	resp = ts.do(t, http.MethodGet, "/api/review-rules/status/mr-1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status := decode[review.MergeStatus](t, resp)
	assert.False(t, status.Decision.Pass)
	assert.True(t, status.Bypassed)
	assert.True(t, status.CanMerge)
	assert.Len(t, status.Bypasses, 1)
}

func TestEmergencyBypass_MalformedBody_400(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedMergeRequest(t, "mr-1")

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost,
		ts.server.URL+"/api/review-rules/emergency-bypass/mr-1", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err := ts.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[handlers.ErrorResponse](t, resp)
	assert.Equal(t, "body", body.Details["field"])
}

func TestReviewCoverageStats_Validation(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodGet, "/api/review-rules/coverage-stats", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/review-rules/coverage-stats?projectId=proj&start=yesterday", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "start", decode[handlers.ErrorResponse](t, resp).Details["field"])
}

func TestReviewCoverageStats_CountsPeriod(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedMergeRequest(t, "mr-1")
	ts.seedMergeRequest(t, "mr-2")
	require.NoError(t, ts.store.UpsertReview(context.Background(), &gate.Review{
		ID: "r1", MergeRequestID: "mr-1", ReviewerID: "bob", Status: gate.ReviewApproved, ReviewedAt: time.Now(),
	}))

	resp := ts.do(t, http.MethodGet, "/api/review-rules/coverage-stats?projectId=proj", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stats := decode[review.CoverageStats](t, resp)
	assert.Equal(t, 2, stats.TotalMergeRequests)
	assert.Equal(t, 1, stats.ReviewedMergeRequests)
	assert.InDelta(t, 50.0, stats.ReviewCoverageRate, 0.001)
}

func TestCheckQualityGate(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.store.UpsertCoverage(context.Background(), &gate.CoverageRecord{
		ID: "cov-1", ProjectID: "proj", CommitID: "abc",
		LineCoverage: 85, BranchCoverage: 65, FunctionCoverage: 90,
		CreatedAt: time.Now(),
	}))

	resp := ts.do(t, http.MethodPost, "/api/coverage/quality-gate/check",
		handlers.QualityGateRequest{ProjectID: "proj", CommitID: "abc"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decision := decode[gate.GateDecision](t, resp)
	assert.False(t, decision.Pass)
	assert.Equal(t, []string{coverage.RuleBranchCoverage}, decision.Rules())

	rec, err := ts.store.GetCoverage(context.Background(), "proj", "abc")
	require.NoError(t, err)
	assert.Equal(t, gate.CoverageFailed, rec.Status)
}

func TestCheckQualityGate_ExplicitThresholds(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.store.UpsertCoverage(context.Background(), &gate.CoverageRecord{
		ID: "cov-1", ProjectID: "proj", CommitID: "abc",
		LineCoverage: 85, BranchCoverage: 65, FunctionCoverage: 90,
		CreatedAt: time.Now(),
	}))
	branch := 60.0

	resp := ts.do(t, http.MethodPost, "/api/coverage/quality-gate/check", handlers.QualityGateRequest{
		ProjectID: "proj", CommitID: "abc", Thresholds: &coverage.Thresholds{Branch: &branch},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[gate.GateDecision](t, resp).Pass)
}

func TestCheckQualityGate_MissingCommit_400(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodPost, "/api/coverage/quality-gate/check",
		handlers.QualityGateRequest{ProjectID: "proj"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "commitId", decode[handlers.ErrorResponse](t, resp).Details["field"])
}

func TestCheckNewCode_InsufficientHistory(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodPost, "/api/coverage/quality-gate/check/new-code",
		handlers.NewCodeRequest{ProjectID: "proj", CommitID: "abc", NewCodeLines: 20}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decode[coverage.NewCodeResult](t, resp)
	assert.True(t, result.Pass)
	assert.Equal(t, coverage.MessageInsufficientHistory, result.Message)
}

func TestCheckTestFailures(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodPost, "/api/coverage/quality-gate/check/test-failures", handlers.TestFailuresRequest{
		ProjectID: "proj", CommitID: "abc",
		TestResults: coverage.TestResults{Total: 10, Passed: 8, Failed: 2},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decode[coverage.TestFailureResult](t, resp)
	assert.False(t, result.Pass)
	assert.False(t, result.DeploymentBlocked)

	resp = ts.do(t, http.MethodPost, "/api/coverage/quality-gate/check/test-failures", handlers.TestFailuresRequest{
		ProjectID: "proj", CommitID: "abc",
		TestResults: coverage.TestResults{Total: 10, Passed: 11, Failed: -1},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckTestReport(t *testing.T) {
	ts := newTestServer(t, nil)

	post := func(query, body string) *http.Response {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost,
			ts.server.URL+"/api/coverage/quality-gate/check/test-report?"+query, strings.NewReader(body))
		require.NoError(t, err)
		resp, err := ts.server.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	junit := `<testsuite name="app">
<testcase name="saves" classname="App"/>
<testcase name="loads" classname="App"><failure message="expected 1"/></testcase>
</testsuite>`

	resp := post("projectId=proj&commitId=abc&format=junit", junit)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decode[handlers.TestReportResponse](t, resp)
	require.NotNil(t, result.Summary)
	assert.Equal(t, 2, result.Summary.Total)
	assert.Equal(t, 1, result.Summary.Failed)
	require.NotNil(t, result.Result)
	assert.False(t, result.Result.Pass)

	assert.Equal(t, http.StatusBadRequest, post("projectId=proj&commitId=abc", junit).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post("projectId=proj&commitId=abc&format=mocha", junit).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post("commitId=abc&format=junit", junit).StatusCode)
}

func TestBlockDeployment(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodPost, "/api/coverage/quality-gate/block-deployment",
		handlers.BlockDeploymentRequest{ProjectID: "proj", CommitID: "abc", Reason: "security issue"}, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Len(t, ts.notifier.alerts, 1)
	assert.Equal(t, gate.AlertQualityGateFailure, ts.notifier.alerts[0].Type)

	resp = ts.do(t, http.MethodPost, "/api/coverage/quality-gate/block-deployment",
		handlers.BlockDeploymentRequest{ProjectID: "proj", CommitID: "abc"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, ts.notifier.alerts, 1)
}

func TestProtectedRoutes_RequireAuthentication(t *testing.T) {
	denyAll := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	ts := newTestServerWithAuth(t, nil, denyAll)
	ts.seedMergeRequest(t, "mr-1")

	resp := ts.do(t, http.MethodPost, "/api/coverage/quality-gate/block-deployment",
		handlers.BlockDeploymentRequest{ProjectID: "proj", CommitID: "abc", Reason: "security issue"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, ts.notifier.alerts)

	resp = ts.do(t, http.MethodPost, "/api/review-rules/emergency-bypass/mr-1",
		handlers.BypassRequest{Reason: "prod outage"}, map[string]string{subjectHeader: "admin"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/review-rules/check-merge/mr-1", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEfficiencyStats(t *testing.T) {
	ts := newTestServer(t, nil)
	created := time.Now().Add(-48 * time.Hour)
	closed := created.Add(10 * time.Hour)
	require.NoError(t, ts.store.UpsertBug(context.Background(), &gate.Bug{
		ID: "b1", ProjectID: "proj", Severity: gate.SeverityHigh, Status: gate.IssueClosed,
		AssigneeID: "bob", CreatedAt: created, ClosedAt: &closed,
	}))
	require.NoError(t, ts.store.UpsertBug(context.Background(), &gate.Bug{
		ID: "b2", ProjectID: "proj", Severity: gate.SeverityLow, Status: gate.IssueOpened,
		CreatedAt: created,
	}))

	resp := ts.do(t, http.MethodGet, "/api/bug-fix-efficiency/stats?projectId=proj", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stats := decode[bugsla.EfficiencyStats](t, resp)
	assert.Equal(t, 2, stats.TotalBugs)
	assert.Equal(t, 1, stats.ClosedBugs)
	assert.InDelta(t, 50.0, stats.ResolutionRate, 0.001)
}

func TestCompareEfficiency_RequiresAllBounds(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodGet, "/api/bug-fix-efficiency/compare?projectId=proj", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	now := time.Now().UTC()
	q := url.Values{}
	q.Set("projectId", "proj")
	q.Set("baselineStart", now.AddDate(0, 0, -60).Format(time.RFC3339))
	q.Set("baselineEnd", now.AddDate(0, 0, -30).Format(time.RFC3339))
	q.Set("currentStart", now.AddDate(0, 0, -30).Format(time.RFC3339))
	q.Set("currentEnd", now.Format(time.RFC3339))

	resp = ts.do(t, http.MethodGet, "/api/bug-fix-efficiency/compare?"+q.Encode(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	comparison := decode[bugsla.EfficiencyComparison](t, resp)
	require.NotNil(t, comparison.Baseline)
	require.NotNil(t, comparison.Current)
}

func TestLongPending(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.store.UpsertBug(context.Background(), &gate.Bug{
		ID: "old", ProjectID: "proj", Severity: gate.SeverityLow, Status: gate.IssueOpened,
		CreatedAt: time.Now().Add(-100 * time.Hour),
	}))
	require.NoError(t, ts.store.UpsertBug(context.Background(), &gate.Bug{
		ID: "new", ProjectID: "proj", Severity: gate.SeverityLow, Status: gate.IssueOpened,
		CreatedAt: time.Now().Add(-time.Hour),
	}))

	resp := ts.do(t, http.MethodGet, "/api/bug-fix-efficiency/long-pending?projectId=proj", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	bugs := decode[[]gate.Bug](t, resp)
	require.Len(t, bugs, 1)
	assert.Equal(t, "old", bugs[0].ID)

	resp = ts.do(t, http.MethodGet, "/api/bug-fix-efficiency/long-pending?projectId=proj&olderThanHours=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScan_ReportsBreaches(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.store.UpsertBug(context.Background(), &gate.Bug{
		ID: "b1", ProjectID: "proj", Severity: gate.SeverityCritical, Status: gate.IssueOpened,
		CreatedAt: time.Now().Add(-5 * time.Hour),
	}))

	resp := ts.do(t, http.MethodPost, "/api/bug-fix-efficiency/scan", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	report := decode[bugsla.ScanReport](t, resp)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Breached)
	require.Len(t, ts.notifier.alerts, 1)
	assert.Equal(t, gate.AlertThresholdViolation, ts.notifier.alerts[0].Type)
}

func TestScan_InProgress_409(t *testing.T) {
	ts := newTestServer(t, &stubScanner{err: bugsla.ErrScanInProgress})

	resp := ts.do(t, http.MethodPost, "/api/bug-fix-efficiency/scan", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "scan_in_progress", decode[handlers.ErrorResponse](t, resp).Error)
}

func TestScan_UnexpectedError_500(t *testing.T) {
	ts := newTestServer(t, &stubScanner{err: assert.AnError})

	resp := ts.do(t, http.MethodPost, "/api/bug-fix-efficiency/scan", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decode[handlers.ErrorResponse](t, resp)
	assert.NotContains(t, body.Message, assert.AnError.Error())
}

func TestListAlerts(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, project := range []string{"proj", "other", "proj"} {
		require.NoError(t, ts.store.Append(context.Background(),
			gate.NewAlert(gate.AlertMergeBlocked, gate.LevelHigh, project, "t", "m")))
	}

	resp := ts.do(t, http.MethodGet, "/api/alerts?projectId=proj", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]gate.Alert](t, resp), 2)

	resp = ts.do(t, http.MethodGet, "/api/alerts?limit=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownMethod_405(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodDelete, "/api/review-rules/check-merge/mr-1", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
