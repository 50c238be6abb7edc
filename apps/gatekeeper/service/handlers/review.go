package handlers

import (
	"net/http"

	"github.com/pitabwire/util"

	"github.com/antinvestor/qualitygate/apps/gatekeeper/middleware"
)

// BypassRequest is the body of an emergency bypass request.
type BypassRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) checkMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	decision, err := h.reviews.EvaluateMerge(ctx, r.PathValue("mrId"))
	if err != nil {
		writeServiceError(ctx, w, err, "evaluate_merge")
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) emergencyBypass(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mergeRequestID := r.PathValue("mrId")

	var request BypassRequest
	if err := decodeBody(w, r, &request); err != nil {
		writeServiceError(ctx, w, err, "emergency_bypass")
		return
	}

	actingUser := middleware.SubjectFromContext(ctx)
	result, err := h.reviews.AuthorizeEmergencyBypass(ctx, mergeRequestID, actingUser, request.Reason)
	if err != nil {
		writeServiceError(ctx, w, err, "emergency_bypass")
		return
	}

	util.Log(ctx).Info("emergency bypass granted",
		"merge_request_id", mergeRequestID,
		"user_id", actingUser,
	)
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) mergeStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := h.reviews.MergeStatus(ctx, r.PathValue("mrId"))
	if err != nil {
		writeServiceError(ctx, w, err, "merge_status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) reviewCoverageStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	projectID, err := requireParam(r, "projectId")
	if err != nil {
		writeServiceError(ctx, w, err, "review_coverage")
		return
	}
	start, end, err := periodParams(r, "start", "end")
	if err != nil {
		writeServiceError(ctx, w, err, "review_coverage")
		return
	}

	stats, err := h.reviews.ReviewCoverage(ctx, projectID, start, end)
	if err != nil {
		writeServiceError(ctx, w, err, "review_coverage")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
