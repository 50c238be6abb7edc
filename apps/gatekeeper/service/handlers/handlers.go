// Package handlers exposes the gate operations over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/bugsla"
	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/coverage"
	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/review"
	"github.com/antinvestor/qualitygate/internal/gate"
)

const (
	maxRequestBodySize = 1 << 20
	defaultPeriodDays  = 30
)

// ReviewService is the review gate as seen by the API.
type ReviewService interface {
	EvaluateMerge(ctx context.Context, mergeRequestID string) (*gate.GateDecision, error)
	AuthorizeEmergencyBypass(
		ctx context.Context,
		mergeRequestID, actingUserID, reason string,
	) (*review.EmergencyBypassResult, error)
	MergeStatus(ctx context.Context, mergeRequestID string) (*review.MergeStatus, error)
	ReviewCoverage(ctx context.Context, projectID string, start, end time.Time) (*review.CoverageStats, error)
}

// CoverageService is the coverage and test gate as seen by the API.
type CoverageService interface {
	CheckQualityGate(
		ctx context.Context,
		projectID, commitID string,
		thresholds *coverage.Thresholds,
	) (*gate.GateDecision, error)
	CheckNewCodeCoverage(ctx context.Context, projectID, commitID string, newCodeLines int) (*coverage.NewCodeResult, error)
	CheckTestFailures(
		ctx context.Context,
		projectID, commitID string,
		results coverage.TestResults,
	) (*coverage.TestFailureResult, error)
	BlockDeployment(ctx context.Context, projectID, commitID, reason string)
	QualityGateStats(ctx context.Context, projectID string, start, end time.Time) (*coverage.GateStats, error)
}

// EfficiencyService reports bug-fix efficiency.
type EfficiencyService interface {
	CalculateEfficiency(ctx context.Context, query bugsla.EfficiencyQuery) (*bugsla.EfficiencyStats, error)
	CompareEfficiency(
		ctx context.Context,
		projectID string,
		baselineStart, baselineEnd, currentStart, currentEnd time.Time,
	) (*bugsla.EfficiencyComparison, error)
	LongPendingBugs(ctx context.Context, projectID string, olderThan time.Duration) ([]gate.Bug, error)
}

// AlertLog lists recorded alerts.
type AlertLog interface {
	ListRecent(ctx context.Context, projectID string, limit int) ([]gate.Alert, error)
}

// ErrorResponse is the error body returned to API clients.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Handler serves the gatekeeper API.
type Handler struct {
	reviews    ReviewService
	coverage   CoverageService
	efficiency EfficiencyService
	scanner    bugsla.Scanner
	alerts     AlertLog
}

// NewHandler creates the API handler.
func NewHandler(
	reviews ReviewService,
	coverageGate CoverageService,
	efficiency EfficiencyService,
	scanner bugsla.Scanner,
	alerts AlertLog,
) *Handler {
	return &Handler{
		reviews:    reviews,
		coverage:   coverageGate,
		efficiency: efficiency,
		scanner:    scanner,
		alerts:     alerts,
	}
}

// Register mounts every route on mux. protect wraps the routes that need an
// authenticated caller.
func (h *Handler) Register(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	if protect == nil {
		protect = func(next http.Handler) http.Handler { return next }
	}

	mux.HandleFunc("GET /api/review-rules/check-merge/{mrId}", h.checkMerge)
	mux.Handle("POST /api/review-rules/emergency-bypass/{mrId}", protect(http.HandlerFunc(h.emergencyBypass)))
	mux.HandleFunc("GET /api/review-rules/status/{mrId}", h.mergeStatus)
	mux.HandleFunc("GET /api/review-rules/coverage-stats", h.reviewCoverageStats)

	mux.HandleFunc("POST /api/coverage/quality-gate/check", h.checkQualityGate)
	mux.HandleFunc("POST /api/coverage/quality-gate/check/new-code", h.checkNewCode)
	mux.HandleFunc("POST /api/coverage/quality-gate/check/test-failures", h.checkTestFailures)
	mux.HandleFunc("POST /api/coverage/quality-gate/check/test-report", h.checkTestReport)
	mux.Handle("POST /api/coverage/quality-gate/block-deployment", protect(http.HandlerFunc(h.blockDeployment)))
	mux.HandleFunc("GET /api/coverage/quality-gate/stats", h.qualityGateStats)

	mux.HandleFunc("GET /api/bug-fix-efficiency/stats", h.efficiencyStats)
	mux.HandleFunc("GET /api/bug-fix-efficiency/compare", h.compareEfficiency)
	mux.HandleFunc("GET /api/bug-fix-efficiency/long-pending", h.longPending)
	mux.HandleFunc("POST /api/bug-fix-efficiency/scan", h.scan)

	mux.HandleFunc("GET /api/alerts", h.listAlerts)
}

// requestError is a client mistake detected before any service call.
type requestError struct {
	field   string
	message string
}

func (e *requestError) Error() string {
	return fmt.Sprintf("%s: %s", e.field, e.message)
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorResponse(
	w http.ResponseWriter,
	statusCode int,
	errorCode, message string,
	details map[string]string,
) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	})
}

// writeServiceError maps a service error onto its HTTP status. Unknown errors
// are logged and reported without detail.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error, operation string) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		writeErrorResponse(w, http.StatusBadRequest, "invalid_request", reqErr.message,
			map[string]string{"field": reqErr.field})
	case errors.Is(err, gate.ErrInvalidArgument):
		writeErrorResponse(w, http.StatusBadRequest, "invalid_argument", err.Error(), nil)
	case errors.Is(err, gate.ErrNotFound):
		writeErrorResponse(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, gate.ErrUnauthorized):
		writeErrorResponse(w, http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, gate.ErrBypassDisabled):
		writeErrorResponse(w, http.StatusConflict, "bypass_disabled", err.Error(), nil)
	case errors.Is(err, bugsla.ErrScanInProgress):
		writeErrorResponse(w, http.StatusConflict, "scan_in_progress", err.Error(), nil)
	default:
		util.Log(ctx).WithError(err).Error("request failed", "operation", operation)
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error",
			"An internal error occurred", nil)
	}
}

// decodeBody reads a bounded JSON body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err := decoder.Decode(dst); err != nil {
		return &requestError{field: "body", message: "Failed to parse JSON request body: " + err.Error()}
	}
	return nil
}

// timeParam parses an RFC 3339 query parameter. Missing values yield fallback.
func timeParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, &requestError{field: name, message: "expected an RFC 3339 timestamp"}
	}
	return t, nil
}

// periodParams reads start and end, defaulting to the last thirty days.
func periodParams(r *http.Request, startName, endName string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	end, err := timeParam(r, endName, now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start, err := timeParam(r, startName, end.AddDate(0, 0, -defaultPeriodDays))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func requireParam(r *http.Request, name string) (string, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return "", &requestError{field: name, message: name + " is required"}
	}
	return value, nil
}
