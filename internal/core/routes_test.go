package core

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"batchexports/internal/types"
)

type recordedRequest struct {
	method, route, status string
}

type fakeMetrics struct {
	mu   sync.Mutex
	seen []recordedRequest
}

func (f *fakeMetrics) RecordRequest(method, route, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, recordedRequest{method, route, status})
}

func mountedServer(t *testing.T) (*Server, *fakeMetrics) {
	t.Helper()
	srv := testServer(t)
	metrics := &fakeMetrics{}
	srv.Metrics = metrics
	srv.Authenticator = &MockAuthenticator{Actor: &types.Actor{
		ID: "key-1", Type: types.ActorTypeAPIKey, OrganizationID: "org-1",
	}}
	srv.TeamRouteRegistrars = []RouteRegistrar{func(r chi.Router) {
		r.Get("/batch_exports/{id}", func(w http.ResponseWriter, r *http.Request) {
			JSON(w, r, http.StatusOK, map[string]string{"id": chi.URLParam(r, "id")})
		})
	}}
	srv.InternalRouteRegistrars = []RouteRegistrar{func(r chi.Router) {
		r.Post("/ping", func(w http.ResponseWriter, r *http.Request) { NoContent(w) })
	}}
	srv.MountRoutes()
	return srv, metrics
}

func TestMountRoutes_TeamRoute(t *testing.T) {
	srv, metrics := mountedServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/teams/1/batch_exports/abc", nil)
	req.Header.Set("Authorization", "Bearer k")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
	if len(metrics.seen) != 1 || metrics.seen[0].route != "/v1/teams/{team_id}/batch_exports/{id}" {
		t.Errorf("metrics = %+v", metrics.seen)
	}
}

func TestMountRoutes_Unauthenticated(t *testing.T) {
	srv, _ := mountedServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/teams/1/batch_exports/abc", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMountRoutes_NotFoundAndMethodNotAllowed(t *testing.T) {
	srv, _ := mountedServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound || decodeError(t, rec).Code != string(types.ErrCodeNotFoundRoute) {
		t.Errorf("unknown route: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Message != "Method DELETE not allowed" {
		t.Errorf("message = %q", got.Message)
	}
}

func TestMountRoutes_InternalRequiresAdminKey(t *testing.T) {
	srv, _ := mountedServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/ping", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without key: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/internal/ping", nil)
	req.Header.Set("X-Admin-Key", "admin-secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("with key: status = %d", rec.Code)
	}
}
