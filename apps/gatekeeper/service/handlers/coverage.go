package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/pitabwire/util"

	"github.com/antinvestor/qualitygate/apps/gatekeeper/middleware"
	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/coverage"
	"github.com/antinvestor/qualitygate/internal/reports"
)

// QualityGateRequest asks for the coverage gate of one commit.
type QualityGateRequest struct {
	ProjectID  string               `json:"projectId"`
	CommitID   string               `json:"commitId"`
	Thresholds *coverage.Thresholds `json:"thresholds,omitempty"`
}

// NewCodeRequest asks for the new-code coverage estimate of one commit.
type NewCodeRequest struct {
	ProjectID    string `json:"projectId"`
	CommitID     string `json:"commitId"`
	NewCodeLines int    `json:"newCodeLines"`
}

// TestFailuresRequest reports the test counts of one commit.
type TestFailuresRequest struct {
	ProjectID   string               `json:"projectId"`
	CommitID    string               `json:"commitId"`
	TestResults coverage.TestResults `json:"testResults"`
}

// TestReportResponse pairs a parsed CI test report with the gate outcome.
type TestReportResponse struct {
	Summary *reports.TestSummary        `json:"summary"`
	Result  *coverage.TestFailureResult `json:"result"`
}

// BlockDeploymentRequest blocks the deployment of one commit.
type BlockDeploymentRequest struct {
	ProjectID string `json:"projectId"`
	CommitID  string `json:"commitId"`
	Reason    string `json:"reason"`
}

// BlockDeploymentResponse acknowledges a blocked deployment.
type BlockDeploymentResponse struct {
	Blocked  bool   `json:"blocked"`
	CommitID string `json:"commitId"`
	Reason   string `json:"reason"`
}

func validateCommit(projectID, commitID string) error {
	if projectID == "" {
		return &requestError{field: "projectId", message: "projectId is required"}
	}
	if commitID == "" {
		return &requestError{field: "commitId", message: "commitId is required"}
	}
	return nil
}

func (h *Handler) checkQualityGate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var request QualityGateRequest
	if err := decodeBody(w, r, &request); err != nil {
		writeServiceError(ctx, w, err, "check_quality_gate")
		return
	}
	if err := validateCommit(request.ProjectID, request.CommitID); err != nil {
		writeServiceError(ctx, w, err, "check_quality_gate")
		return
	}

	decision, err := h.coverage.CheckQualityGate(ctx, request.ProjectID, request.CommitID, request.Thresholds)
	if err != nil {
		writeServiceError(ctx, w, err, "check_quality_gate")
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) checkNewCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var request NewCodeRequest
	if err := decodeBody(w, r, &request); err != nil {
		writeServiceError(ctx, w, err, "check_new_code")
		return
	}
	if err := validateCommit(request.ProjectID, request.CommitID); err != nil {
		writeServiceError(ctx, w, err, "check_new_code")
		return
	}

	result, err := h.coverage.CheckNewCodeCoverage(ctx, request.ProjectID, request.CommitID, request.NewCodeLines)
	if err != nil {
		writeServiceError(ctx, w, err, "check_new_code")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) checkTestFailures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var request TestFailuresRequest
	if err := decodeBody(w, r, &request); err != nil {
		writeServiceError(ctx, w, err, "check_test_failures")
		return
	}
	if err := validateCommit(request.ProjectID, request.CommitID); err != nil {
		writeServiceError(ctx, w, err, "check_test_failures")
		return
	}

	result, err := h.coverage.CheckTestFailures(ctx, request.ProjectID, request.CommitID, request.TestResults)
	if err != nil {
		writeServiceError(ctx, w, err, "check_test_failures")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// checkTestReport gates on a raw test report file. The commit and the report
// format come from the query.
func (h *Handler) checkTestReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	projectID, commitID := query.Get("projectId"), query.Get("commitId")
	if err := validateCommit(projectID, commitID); err != nil {
		writeServiceError(ctx, w, err, "check_test_report")
		return
	}
	format, err := requireParam(r, "format")
	if err != nil {
		writeServiceError(ctx, w, err, "check_test_report")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		writeServiceError(ctx, w, &requestError{field: "body", message: "Failed to read request body"}, "check_test_report")
		return
	}

	summary, err := reports.ParseTestReport(format, body)
	if err != nil {
		writeServiceError(ctx, w, &requestError{field: "body", message: err.Error()}, "check_test_report")
		return
	}

	result, err := h.coverage.CheckTestFailures(ctx, projectID, commitID, coverage.TestResults{
		Total:   summary.Total,
		Passed:  summary.Passed,
		Failed:  summary.Failed,
		Skipped: summary.Skipped,
	})
	if err != nil {
		writeServiceError(ctx, w, err, "check_test_report")
		return
	}
	writeJSON(w, http.StatusOK, TestReportResponse{Summary: summary, Result: result})
}

func (h *Handler) blockDeployment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var request BlockDeploymentRequest
	if err := decodeBody(w, r, &request); err != nil {
		writeServiceError(ctx, w, err, "block_deployment")
		return
	}
	if err := validateCommit(request.ProjectID, request.CommitID); err != nil {
		writeServiceError(ctx, w, err, "block_deployment")
		return
	}
	reason := strings.TrimSpace(request.Reason)
	if reason == "" {
		writeServiceError(ctx, w, &requestError{field: "reason", message: "reason is required"}, "block_deployment")
		return
	}

	util.Log(ctx).Info("deployment block requested",
		"project_id", request.ProjectID,
		"commit_id", request.CommitID,
		"requested_by", middleware.SubjectFromContext(ctx),
	)
	h.coverage.BlockDeployment(ctx, request.ProjectID, request.CommitID, reason)
	writeJSON(w, http.StatusAccepted, BlockDeploymentResponse{
		Blocked:  true,
		CommitID: request.CommitID,
		Reason:   reason,
	})
}

func (h *Handler) qualityGateStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	projectID, err := requireParam(r, "projectId")
	if err != nil {
		writeServiceError(ctx, w, err, "quality_gate_stats")
		return
	}
	start, end, err := periodParams(r, "start", "end")
	if err != nil {
		writeServiceError(ctx, w, err, "quality_gate_stats")
		return
	}

	stats, err := h.coverage.QualityGateStats(ctx, projectID, start, end)
	if err != nil {
		writeServiceError(ctx, w, err, "quality_gate_stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
