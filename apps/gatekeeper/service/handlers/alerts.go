package handlers

import (
	"net/http"
	"strconv"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := intParam(r, "limit", defaultAlertLimit)
	if err != nil {
		writeServiceError(ctx, w, err, "list_alerts")
		return
	}
	if limit <= 0 || limit > maxAlertLimit {
		writeServiceError(ctx, w, &requestError{
			field:   "limit",
			message: "limit must be between 1 and " + strconv.Itoa(maxAlertLimit),
		}, "list_alerts")
		return
	}

	alerts, err := h.alerts.ListRecent(ctx, r.URL.Query().Get("projectId"), limit)
	if err != nil {
		writeServiceError(ctx, w, err, "list_alerts")
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}
