// Package api wires handlers and middleware into the HTTP router.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/kwatson/querydesk/internal/api/middleware"
	"github.com/kwatson/querydesk/internal/api/response"
)

// Dependencies holds all handler dependencies for the router.
type Dependencies struct {
	HealthHandler   http.HandlerFunc
	SubmitQuestions http.HandlerFunc
	ListJobs        http.HandlerFunc
	GetJob          http.HandlerFunc
	JobStatus       http.HandlerFunc
	CancelJob       http.HandlerFunc
	ExportResults   http.HandlerFunc
	StatsHandler    http.HandlerFunc
}

// NewRouter builds the Chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Post("/api/v1/questions", orNotImplemented(deps.SubmitQuestions))

	r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobs))
	r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJob))
	r.Get("/api/v1/jobs/{jobID}/status", orNotImplemented(deps.JobStatus))
	r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJob))
	r.Get("/api/v1/jobs/{jobID}/results/export", orNotImplemented(deps.ExportResults))

	r.Get("/api/v1/stats", orNotImplemented(deps.StatsHandler))

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
