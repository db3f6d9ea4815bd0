package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the component checks of one health request.
const healthCheckTimeout = 3 * time.Second

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/health", s.handleHealth)

		r.Get("/oauth/callback", s.handleOAuthCallback)
		r.Get("/audit", s.handleListAudit)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Post("/", s.handleResumeAccount)
			r.Post("/authorize", s.handleAuthorize)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", s.handleDeleteAccount)
				r.Post("/refresh", s.handleRefreshAccount)
			})
		})

		r.Route("/drivers/{driver}", func(r chi.Router) {
			r.Get("/pairable", s.handleListPairable)
			r.Post("/devices", s.handleAddDevice)
		})

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Patch("/", s.handleRenameDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.Get("/capabilities/{capability}", s.handleGetCapability)
				r.Put("/capabilities/{capability}", s.handleSetCapability)
				r.Get("/history", s.handleGetHistory)
				r.Get("/schedules", s.handleListSchedules)
			})
		})
	})

	return r
}

// handleHealth runs every registered component check. Any failing check
// turns the answer into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	components := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.checks[name].HealthCheck(ctx); err != nil {
			components[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
		"accounts":   len(s.accounts.List()),
	})
}
