package handler

import (
	"context"
	"net/http"

	"github.com/kwatson/querydesk/internal/api/response"
)

// Pinger is any dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns the handler for GET /api/v1/health. The database
// is required; the cache is reported but never fails the check.
func NewHealthHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		healthy := true
		if err := db.Ping(r.Context()); err != nil {
			status["database"] = "unavailable"
			healthy = false
		}
		if err := cache.Ping(r.Context()); err != nil {
			status["cache"] = "unavailable"
		}

		if !healthy {
			response.Error(w, http.StatusServiceUnavailable, "UNHEALTHY",
				"A required dependency is unavailable", status)
			return
		}
		response.JSON(w, status)
	}
}
