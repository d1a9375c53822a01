package httpapi

import (
	"net/http"

	"crimewatch.org/internal/audit"
)

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	u, err := a.identity.Profile(r.Context(), actor.ID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleMyAudit lists the acting user's own ledger entries, newest first.
func (a *API) handleMyAudit(w http.ResponseWriter, r *http.Request) {
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
	page := audit.Page{Limit: limit, Offset: offset}
	entries, total, err := a.ledger.ListForActor(r.Context(), actor.ID, auditFilter(r), page)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit read failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
	})
}
