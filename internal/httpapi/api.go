// Package httpapi is the HTTP surface of the service. Handlers decode and
// validate the wire shapes, resolve the acting account from the session
// token, and delegate to the domain services; every error is mapped to a
// JSON body carrying the request id.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/elevation"
	"crimewatch.org/internal/identity"
	"crimewatch.org/internal/obs"
	"crimewatch.org/internal/report"
)

// ReadyProbe checks downstream readiness (database ping when one is wired).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	identity   *identity.Service
	elevation  *elevation.Service
	reports    *report.Service
	ledger     audit.Ledger
	readyProbe ReadyProbe
	version    string
}

func New(ident *identity.Service, elev *elevation.Service, rep *report.Service, ledger audit.Ledger, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		identity:   ident,
		elevation:  elev,
		reports:    rep,
		ledger:     ledger,
		readyProbe: rp,
		version:    version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authentication
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)

	// own account
	a.mux.HandleFunc("/v1/users/me", a.handleMe)
	a.mux.HandleFunc("/v1/users/me/audit", a.handleMyAudit)

	// elevation workflow
	a.mux.HandleFunc("/v1/elevation", a.handleElevation)

	// reports
	a.mux.HandleFunc("/v1/reports", a.handleReports)
	a.mux.HandleFunc("/v1/reports/", a.handleReportSubpath)
	a.mux.HandleFunc("/v1/reports/mine", a.handleMyReports)

	// super-admin surface
	a.mux.HandleFunc("/v1/admin/requests", a.handleAdminRequests)
	a.mux.HandleFunc("/v1/admin/requests/", a.handleAdminRequestSubpath)
	a.mux.HandleFunc("/v1/admin/users/", a.handleAdminUserSubpath)
	a.mux.HandleFunc("/v1/admin/reports", a.handleAdminReports)
	a.mux.HandleFunc("/v1/admin/audit", a.handleAdminAudit)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Routes returns the routed handler with authentication but without the
// outer middleware chain.
func (a *API) Routes() http.Handler {
	return a.withAuth(a.mux)
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 20, 10)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "crimewatch-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "crimewatch-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
