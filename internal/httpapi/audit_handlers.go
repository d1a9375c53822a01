package httpapi

import (
	"net/http"
	"strings"
	"time"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/authz"
	"crimewatch.org/internal/obs"
)

// handleAdminAudit is the SUPER_ADMIN view of the full audit ledger with
// filtering and pagination.
func (a *API) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := authz.Authorize(actor, authz.ActionViewAuditLogs, ""); err != nil {
		obs.AuthzDenied(string(authz.ActionViewAuditLogs), "insufficient_role")
		_, _ = a.ledger.Append(r.Context(), audit.Entry{
			ActorID:   actor.ID,
			Action:    string(authz.ActionViewAuditLogs),
			Outcome:   audit.OutcomeDenied,
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
		})
		handleAuthzError(w, r, err)
		return
	}

	limit, offset := pagination(r, 50, 200)
	page := audit.Page{Limit: limit, Offset: offset}
	entries, total, err := a.ledger.ListAll(r.Context(), auditFilter(r), page)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit read failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
	})
}

// auditFilter reads filter query parameters shared by the ledger endpoints.
func auditFilter(r *http.Request) audit.Filter {
	q := r.URL.Query()
	f := audit.Filter{
		Action:       strings.TrimSpace(q.Get("action")),
		ActorID:      strings.TrimSpace(q.Get("actor_id")),
		ResourceType: strings.TrimSpace(q.Get("resource_type")),
		ResourceID:   strings.TrimSpace(q.Get("resource_id")),
	}
	if raw := q.Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			f.From = t
		}
	}
	if raw := q.Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			f.To = t
		}
	}
	return f
}
