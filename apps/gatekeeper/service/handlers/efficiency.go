package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/bugsla"
)

const defaultPendingHours = 72

func (h *Handler) efficiencyStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	start, end, err := periodParams(r, "start", "end")
	if err != nil {
		writeServiceError(ctx, w, err, "calculate_efficiency")
		return
	}

	query := r.URL.Query()
	stats, err := h.efficiency.CalculateEfficiency(ctx, bugsla.EfficiencyQuery{
		ProjectID:  query.Get("projectId"),
		AssigneeID: query.Get("assigneeId"),
		Start:      start,
		End:        end,
	})
	if err != nil {
		writeServiceError(ctx, w, err, "calculate_efficiency")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) compareEfficiency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	projectID, err := requireParam(r, "projectId")
	if err != nil {
		writeServiceError(ctx, w, err, "compare_efficiency")
		return
	}

	bounds := make([]time.Time, 0, 4)
	for _, name := range []string{"baselineStart", "baselineEnd", "currentStart", "currentEnd"} {
		if _, err = requireParam(r, name); err != nil {
			writeServiceError(ctx, w, err, "compare_efficiency")
			return
		}
		t, parseErr := timeParam(r, name, time.Time{})
		if parseErr != nil {
			writeServiceError(ctx, w, parseErr, "compare_efficiency")
			return
		}
		bounds = append(bounds, t)
	}

	comparison, err := h.efficiency.CompareEfficiency(ctx, projectID, bounds[0], bounds[1], bounds[2], bounds[3])
	if err != nil {
		writeServiceError(ctx, w, err, "compare_efficiency")
		return
	}
	writeJSON(w, http.StatusOK, comparison)
}

func (h *Handler) longPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	projectID, err := requireParam(r, "projectId")
	if err != nil {
		writeServiceError(ctx, w, err, "long_pending")
		return
	}
	hours, err := intParam(r, "olderThanHours", defaultPendingHours)
	if err != nil {
		writeServiceError(ctx, w, err, "long_pending")
		return
	}

	bugs, err := h.efficiency.LongPendingBugs(ctx, projectID, time.Duration(hours)*time.Hour)
	if err != nil {
		writeServiceError(ctx, w, err, "long_pending")
		return
	}
	writeJSON(w, http.StatusOK, bugs)
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	report, err := h.scanner.ScanForTimeouts(ctx)
	if err != nil {
		writeServiceError(ctx, w, err, "scan_for_timeouts")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &requestError{field: name, message: name + " must be an integer"}
	}
	return v, nil
}
