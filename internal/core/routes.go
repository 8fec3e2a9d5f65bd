package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"batchexports/internal/types"
)

// defaultRequestTimeout bounds every request context.
const defaultRequestTimeout = 30 * time.Second

var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Admin-Key",
}

// MountRoutes installs the middleware chain and all route groups.
//
// Middleware order:
//  1. Recoverer        - outermost, turns panics into 500s.
//  2. ContextTimeout   - soft deadline for handlers and engine RPCs.
//  3. RequestID        - correlation id for logs and error bodies.
//  4. SecurityHeaders
//  5. RequestLogger    - structured access log with redacted headers.
//  6. Metrics
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(s.MetricsMiddleware)

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundRoute, "resource not found", nil))
	})
	s.router.MethodNotAllowed(MethodNotAllowed)

	s.router.Get("/health", s.HandleHealth)

	s.router.Route("/v1/teams/{team_id}", func(r chi.Router) {
		r.Use(s.AuthMiddleware)
		r.Use(s.TeamAccessMiddleware)
		for _, register := range s.TeamRouteRegistrars {
			register(r)
		}
	})

	s.router.Route("/internal", func(r chi.Router) {
		r.Use(s.AdminKeyMiddleware)
		for _, register := range s.InternalRouteRegistrars {
			register(r)
		}
	})
}

// MethodNotAllowed writes the 405 error body.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	Error(w, r, types.NewAppError(types.ErrCodeMethodNotAllowed,
		"Method "+r.Method+" not allowed", nil))
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses an incoming X-Request-Id or generates one, and
// echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), id)))
	})
}
