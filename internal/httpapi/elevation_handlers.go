package httpapi

import (
	"errors"
	"net/http"

	"crimewatch.org/internal/elevation"
	"crimewatch.org/internal/identity"
)

type elevationRequest struct {
	Reason string `json:"reason,omitempty"`
}

// handleElevation: POST submits a request, GET lists the caller's own
// requests newest first.
func (a *API) handleElevation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req elevationRequest
		if err := decodeOptionalJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		created, err := a.elevation.Submit(r.Context(), actor, req.Reason, requestMeta(r))
		if err != nil {
			handleElevationError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case http.MethodGet:
		requests, err := a.elevation.StatusFor(r.Context(), actor)
		if err != nil {
			handleElevationError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func handleElevationError(w http.ResponseWriter, r *http.Request, err error) {
	if handleAuthzError(w, r, err) {
		return
	}
	switch {
	case errors.Is(err, elevation.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, elevation.ErrDuplicatePending),
		errors.Is(err, elevation.ErrAlreadyPrivileged),
		errors.Is(err, elevation.ErrNotPending),
		errors.Is(err, elevation.ErrNotAdmin):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, elevation.ErrNotFound), errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "elevation operation failed")
	}
}
