package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"crimewatch.org/internal/elevation"
	"crimewatch.org/internal/httpapi"
	"crimewatch.org/internal/identity"
	"crimewatch.org/internal/report"
	"crimewatch.org/internal/store/memory"
)

type testEnv struct {
	srv        *httptest.Server
	client     *http.Client
	superToken string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	ident := identity.NewService(store, store)
	elev := elevation.NewService(store, store)
	rep := report.NewService(store, store)

	_, _, err := ident.EnsureSuperAdmin(context.Background(), "root@example.com", "password123")
	require.NoError(t, err)

	api := httpapi.New(ident, elev, rep, store, httpapi.ReadyProbe{}, "test")
	// Routes skips the per-IP limiter so request loops stay deterministic.
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)

	env := &testEnv{srv: srv, client: srv.Client()}
	env.superToken = env.login(t, "root@example.com", "password123")
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	}
	return resp, decoded
}

func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": email, "password": "password123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return e.login(t, email, "password123")
}

func (e *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": email, "password": password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

// makeAdmin promotes a fresh user through the elevation workflow.
func (e *testEnv) makeAdmin(t *testing.T, email string) string {
	t.Helper()
	token := e.register(t, email)
	resp, body := e.do(t, http.MethodPost, "/v1/elevation", token, map[string]string{"reason": "test"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	id, _ := body["id"].(string)
	resp, body = e.do(t, http.MethodPost, "/v1/admin/requests/"+id+"/approve", e.superToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	return token
}

func TestHealthAndInfo(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])

	resp, _ = env.do(t, http.MethodGet, "/v1/info", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "user@example.com")

	resp, body := env.do(t, http.MethodGet, "/v1/users/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "user@example.com", body["email"])
	require.Equal(t, "USER", body["role"])

	// Unauthenticated and garbage tokens are both 401.
	resp, _ = env.do(t, http.MethodGet, "/v1/users/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/v1/users/me", "bogus", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/v1/users/me", token, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": "bad", "password": "password123",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": "dup@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": "dup@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestElevationWorkflow(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "applicant@example.com")

	resp, body := env.do(t, http.MethodPost, "/v1/elevation", token, map[string]string{"reason": "moderation"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	id, _ := body["id"].(string)

	// Duplicate pending request is a conflict.
	resp, _ = env.do(t, http.MethodPost, "/v1/elevation", token, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Only SUPER_ADMIN reviews the queue.
	resp, _ = env.do(t, http.MethodGet, "/v1/admin/requests", token, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/v1/admin/requests?status=pending", env.superToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["total"])

	resp, body = env.do(t, http.MethodPost, "/v1/admin/requests/"+id+"/approve", env.superToken,
		map[string]string{"notes": "approved"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "APPROVED", body["status"])

	// Terminal: a second resolve conflicts.
	resp, _ = env.do(t, http.MethodPost, "/v1/admin/requests/"+id+"/reject", env.superToken, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// The promotion is visible on the next authenticated request.
	resp, body = env.do(t, http.MethodGet, "/v1/users/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ADMIN", body["role"])
}

func TestReportLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	ownerToken := env.register(t, "owner@example.com")
	adminToken := env.makeAdmin(t, "admin@example.com")
	strangerToken := env.register(t, "stranger@example.com")

	resp, body := env.do(t, http.MethodPost, "/v1/reports", ownerToken, map[string]string{
		"title": "stolen bicycle", "description": "taken from the rack", "location": "5th and Main",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	id, _ := body["id"].(string)
	require.Equal(t, "NEW", body["status"])
	require.Equal(t, "LOW", body["priority"])

	// Owner sees full detail; stranger only the brief shape.
	resp, body = env.do(t, http.MethodGet, "/v1/reports/"+id, ownerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "taken from the rack", body["description"])

	resp, body = env.do(t, http.MethodGet, "/v1/reports/"+id, strangerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "stolen bicycle", body["title"])
	require.NotContains(t, body, "description")

	// Status mutation is admin tier only.
	resp, _ = env.do(t, http.MethodPatch, "/v1/reports/"+id+"/status", ownerToken,
		map[string]string{"status": "ASSIGNED"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = env.do(t, http.MethodPatch, "/v1/reports/"+id+"/status", adminToken,
		map[string]string{"status": "ASSIGNED", "note": "patrol dispatched"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Equal(t, "ASSIGNED", body["status"])

	resp, _ = env.do(t, http.MethodPatch, "/v1/reports/"+id+"/status", adminToken,
		map[string]string{"status": "LOST"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, http.MethodPatch, "/v1/reports/"+id+"/priority", adminToken,
		map[string]string{"priority": "HIGH"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "HIGH", body["priority"])

	resp, _ = env.do(t, http.MethodPatch, "/v1/reports/"+id+"/notes", adminToken,
		map[string]string{"notes": "suspect identified"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// History: owner and admin may read it, a stranger gets 404.
	resp, body = env.do(t, http.MethodGet, "/v1/reports/"+id+"/history", ownerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history, _ := body["history"].([]any)
	require.Len(t, history, 2)
	last, _ := history[1].(map[string]any)
	require.Equal(t, "patrol dispatched", last["note"])
	resp, _ = env.do(t, http.MethodGet, "/v1/reports/"+id+"/history", strangerToken, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Soft delete hides the report from non-admin viewers, owner included.
	resp, _ = env.do(t, http.MethodDelete, "/v1/reports/"+id, adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/v1/reports/"+id, ownerToken, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, body = env.do(t, http.MethodGet, "/v1/reports/"+id, adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["deleted"])

	resp, _ = env.do(t, http.MethodDelete, "/v1/reports/"+id, adminToken, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Deleted rows stay out of the public listing but reachable for admins.
	resp, body = env.do(t, http.MethodGet, "/v1/reports", ownerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 0, body["total"])
	resp, body = env.do(t, http.MethodGet, "/v1/admin/reports?include_deleted=true", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["total"])
}

func TestAccountLockOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "victim@example.com")

	resp, body := env.do(t, http.MethodGet, "/v1/users/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id, _ := body["id"].(string)

	resp, _ = env.do(t, http.MethodPost, "/v1/admin/users/"+id+"/lock", env.superToken,
		map[string]string{"reason": "abuse"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Locking revoked the session.
	resp, _ = env.do(t, http.MethodGet, "/v1/users/me", token, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Fresh login is refused while locked.
	resp, _ = env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "victim@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/v1/admin/users/"+id+"/unlock", env.superToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.login(t, "victim@example.com", "password123")
}

func TestAuditEndpoints(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "user@example.com")

	// Non-super actors cannot read the global ledger.
	resp, _ := env.do(t, http.MethodGet, "/v1/admin/audit", token, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Two registrations in the ledger: the seeded root and the user above.
	resp, body := env.do(t, http.MethodGet, "/v1/admin/audit?action=user.register", env.superToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 2, body["total"])

	// Offsets apply exactly instead of snapping to a page boundary.
	resp, body = env.do(t, http.MethodGet, "/v1/admin/audit?action=user.register&limit=2&offset=1", env.superToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 2, body["total"])
	require.Len(t, body["entries"], 1)

	// Everyone reads their own trail.
	resp, body = env.do(t, http.MethodGet, "/v1/users/me/audit", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries, _ := body["entries"].([]any)
	require.NotEmpty(t, entries)
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		require.True(t, ok)
		require.NotEqual(t, "", entry["action"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodDelete, "/v1/auth/login", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.Equal(t, "POST", resp.Header.Get("Allow"))
}

func TestUnknownPathIs404(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodGet, fmt.Sprintf("/v1/reports/%s/unknown", "abc"), env.superToken, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
