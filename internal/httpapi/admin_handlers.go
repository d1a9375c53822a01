package httpapi

import (
	"net/http"
	"strings"

	"crimewatch.org/internal/elevation"
	"crimewatch.org/internal/report"
)

type resolveRequest struct {
	Notes string `json:"notes,omitempty"`
}

type lockRequest struct {
	Reason string `json:"reason,omitempty"`
}

// handleAdminRequests lists elevation requests for review, PENDING first.
func (a *API) handleAdminRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	limit, offset := pagination(r, 50, 200)
	status := elevation.Status(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	requests, total, err := a.elevation.List(r.Context(), actor, status, limit, offset, requestMeta(r))
	if err != nil {
		handleElevationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"total":    total,
	})
}

// handleAdminRequestSubpath routes /v1/admin/requests/{id}/(approve|reject).
func (a *API) handleAdminRequestSubpath(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/requests/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "unknown request path")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resolveRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	id := parts[0]
	switch parts[1] {
	case "approve":
		resolved, err := a.elevation.Approve(r.Context(), id, actor, req.Notes, requestMeta(r))
		if err != nil {
			handleElevationError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resolved)
	case "reject":
		resolved, err := a.elevation.Reject(r.Context(), id, actor, req.Notes, requestMeta(r))
		if err != nil {
			handleElevationError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resolved)
	default:
		writeError(w, r, http.StatusNotFound, "unknown request path")
	}
}

// handleAdminUserSubpath routes /v1/admin/users/{id}/(revoke|lock|unlock).
func (a *API) handleAdminUserSubpath(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/users/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "unknown user path")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req lockRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	id := parts[0]
	switch parts[1] {
	case "revoke":
		u, err := a.elevation.Revoke(r.Context(), id, actor, req.Reason, requestMeta(r))
		if err != nil {
			handleElevationError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	case "lock":
		u, err := a.identity.Lock(r.Context(), id, actor, req.Reason, requestMeta(r))
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	case "unlock":
		u, err := a.identity.Unlock(r.Context(), id, actor, requestMeta(r))
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	default:
		writeError(w, r, http.StatusNotFound, "unknown user path")
	}
}

// handleAdminReports is the full-detail listing, optionally with deleted
// rows.
func (a *API) handleAdminReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	limit, offset := pagination(r, 50, 200)
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	status := report.ReportStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	details, total, err := a.reports.ListAdmin(r.Context(), actor, status, includeDeleted, limit, offset, requestMeta(r))
	if err != nil {
		handleReportError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": details,
		"total":   total,
	})
}
