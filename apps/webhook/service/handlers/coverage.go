package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pitabwire/util"

	"github.com/antinvestor/qualitygate/internal/events"
	"github.com/antinvestor/qualitygate/internal/reports"
)

// HandleCoverageReport accepts a coverage report posted by a CI job. It uses
// the same shared token as the GitLab webhook. With a format query parameter
// the body is the raw report file and the commit comes from the query;
// otherwise the body is a CoverageReport.
func (h *WebhookHandler) HandleCoverageReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := util.Log(ctx)

	body, ok := h.readAuthenticated(w, r, headerGitLabToken)
	if !ok {
		return
	}

	report, err := decodeCoverageReport(r, body)
	if err != nil {
		log.WithError(err).Warn("failed to parse coverage report")
		http.Error(w, "Invalid payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	if !h.cfg.IsProjectAllowed(report.ProjectID, "") {
		writeStatus(w, http.StatusOK, "ignored", "project not allowed")
		return
	}

	record, err := report.toRecord()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// CI retries can send the same Idempotency-Key; without one every report is applied.
	deliveryID := r.Header.Get(headerIdempotencyKey)

	if err = h.publish(ctx, events.KindCoverage, deliveryID, record.ProjectID, record); err != nil {
		log.WithError(err).Error("failed to publish coverage", "commit_id", record.CommitID)
		http.Error(w, "Failed to queue event", http.StatusInternalServerError)
		return
	}

	log.Info("queued coverage report",
		"project_id", record.ProjectID,
		"commit_id", record.CommitID,
		"line_coverage", record.LineCoverage,
	)
	writeStatus(w, http.StatusAccepted, "accepted", "")
}

func decodeCoverageReport(r *http.Request, body []byte) (*CoverageReport, error) {
	query := r.URL.Query()
	format := query.Get("format")
	if format == "" {
		var report CoverageReport
		if err := json.Unmarshal(body, &report); err != nil {
			return nil, err
		}
		return &report, nil
	}

	summary, err := reports.ParseCoverageReport(format, body)
	if err != nil {
		return nil, err
	}
	covered := summary.CoveredLines
	report := &CoverageReport{
		ProjectID:        query.Get("projectId"),
		CommitID:         query.Get("commitId"),
		LineCoverage:     summary.LineCoverage,
		BranchCoverage:   summary.BranchCoverage,
		FunctionCoverage: summary.FunctionCoverage,
		TotalLines:       summary.TotalLines,
		CoveredLines:     &covered,
		TotalBranches:    summary.TotalBranches,
		CoveredBranches:  summary.CoveredBranches,
		TotalFunctions:   summary.TotalFunctions,
		CoveredFunctions: summary.CoveredFunctions,
		ReportType:       query.Get("reportType"),
	}
	if ts := query.Get("timestamp"); ts != "" {
		report.Timestamp = &ts
	}
	return report, nil
}
