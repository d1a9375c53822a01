package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"crimewatch.org/internal/authz"
	"crimewatch.org/internal/report"
)

type createReportRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Location    string     `json:"location,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	IncidentAt  *time.Time `json:"incident_at,omitempty"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

type updatePriorityRequest struct {
	Priority string `json:"priority"`
}

type updateNotesRequest struct {
	Notes string `json:"notes"`
}

// handleReports: POST creates, GET lists the public brief projection.
func (a *API) handleReports(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req createReportRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		created, err := a.reports.Create(r.Context(), actor, report.CreateInput{
			Title:       req.Title,
			Description: req.Description,
			Location:    req.Location,
			Priority:    report.Priority(req.Priority),
			IncidentAt:  req.IncidentAt,
		}, requestMeta(r))
		if err != nil {
			handleReportError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case http.MethodGet:
		limit, offset := pagination(r, 50, 200)
		status := report.ReportStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
		briefs, total, err := a.reports.List(r.Context(), actor, status, limit, offset, requestMeta(r))
		if err != nil {
			handleReportError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"reports": briefs,
			"total":   total,
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleMyReports(w http.ResponseWriter, r *http.Request) {
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
	details, total, err := a.reports.ListMine(r.Context(), actor, limit, offset, requestMeta(r))
	if err != nil {
		handleReportError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": details,
		"total":   total,
	})
}

// handleReportSubpath routes /v1/reports/{id}[/...].
func (a *API) handleReportSubpath(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/reports/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "report id is required")
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			view, err := a.reports.Get(r.Context(), actor, id)
			if err != nil {
				handleReportError(w, r, err)
				return
			}
			if view.Detail != nil {
				writeJSON(w, http.StatusOK, view.Detail)
			} else {
				writeJSON(w, http.StatusOK, view.Brief)
			}
		case http.MethodDelete:
			if err := a.reports.Delete(r.Context(), actor, id, requestMeta(r)); err != nil {
				handleReportError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
		return
	}

	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "unknown report path")
		return
	}
	switch parts[1] {
	case "status":
		a.handleReportStatus(w, r, actor, id)
	case "priority":
		a.handleReportPriority(w, r, actor, id)
	case "notes":
		a.handleReportNotes(w, r, actor, id)
	case "history":
		a.handleReportHistory(w, r, actor, id)
	default:
		writeError(w, r, http.StatusNotFound, "unknown report path")
	}
}

func (a *API) handleReportStatus(w http.ResponseWriter, r *http.Request, actor authz.Actor, id string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := a.reports.UpdateStatus(r.Context(), actor, id, report.ReportStatus(req.Status), req.Note, requestMeta(r))
	if err != nil {
		handleReportError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleReportPriority(w http.ResponseWriter, r *http.Request, actor authz.Actor, id string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	var req updatePriorityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := a.reports.UpdatePriority(r.Context(), actor, id, report.Priority(req.Priority), requestMeta(r))
	if err != nil {
		handleReportError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleReportNotes(w http.ResponseWriter, r *http.Request, actor authz.Actor, id string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	var req updateNotesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := a.reports.UpdateNotes(r.Context(), actor, id, req.Notes, requestMeta(r))
	if err != nil {
		handleReportError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleReportHistory(w http.ResponseWriter, r *http.Request, actor authz.Actor, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	entries, err := a.reports.History(r.Context(), actor, id)
	if err != nil {
		handleReportError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func handleReportError(w http.ResponseWriter, r *http.Request, err error) {
	if handleAuthzError(w, r, err) {
		return
	}
	switch {
	case errors.Is(err, report.ErrInvalidInput),
		errors.Is(err, report.ErrInvalidStatus),
		errors.Is(err, report.ErrInvalidPriority):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, report.ErrAlreadyDeleted),
		errors.Is(err, report.ErrReportDeleted),
		errors.Is(err, report.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, report.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "report operation failed")
	}
}
