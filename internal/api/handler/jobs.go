package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kwatson/querydesk/internal/api/response"
	"github.com/kwatson/querydesk/internal/cache"
	"github.com/kwatson/querydesk/internal/job"
	"github.com/kwatson/querydesk/internal/question"
	"github.com/kwatson/querydesk/internal/store"
	"github.com/kwatson/querydesk/pkg/models"
)

// JobService defines the job operations the handlers depend on.
type JobService interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	List(ctx context.Context, filter store.JobFilter, page store.Page) ([]*models.Job, int, error)
	StatusSnapshot(ctx context.Context, id uuid.UUID) (cache.StatusSnapshot, error)
	QueuePosition(ctx context.Context, id uuid.UUID) (int, bool, error)
	EstimateCompletion(ctx context.Context, id uuid.UUID) (time.Time, bool, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Job, error)
	Statistics(ctx context.Context, workspaceID *string, windowDays int) (*models.JobStatistics, error)
}

func jobID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "jobID"))
}

func jobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, job.ErrNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "No job with that id", nil)
	case errors.Is(err, job.ErrConflict):
		response.Error(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

// NewListJobsHandler returns the handler for GET /api/v1/jobs. Supports
// status, type, workspace_id and created_after/created_before filters plus
// page/limit pagination.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var filter store.JobFilter
		if s := q.Get("status"); s != "" {
			filter.Status = models.JobStatus(s)
		}
		if t := q.Get("type"); t != "" {
			filter.Type = models.JobType(t)
		}
		filter.WorkspaceID = q.Get("workspace_id")
		for _, p := range []struct {
			key  string
			dest *time.Time
		}{
			{"created_after", &filter.CreatedAfter},
			{"created_before", &filter.CreatedBefore},
		} {
			if v := q.Get(p.key); v != "" {
				t, err := time.Parse(time.RFC3339, v)
				if err != nil {
					response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
						p.key+" must be a valid RFC3339 timestamp", nil)
					return
				}
				*p.dest = t
			}
		}

		page := store.Page{Number: 1, Size: 20}
		if v := q.Get("page"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				page.Number = n
			}
		}
		if v := q.Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				page.Size = n
			}
		}

		jobs, total, err := svc.List(r.Context(), filter, page)
		if err != nil {
			jobError(w, err)
			return
		}

		response.Collection(w, jobs, response.PaginationMeta{
			Page:    page.Number,
			Limit:   page.Size,
			Total:   total,
			HasNext: page.Offset()+len(jobs) < total,
		})
	}
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}. Pending
// jobs are annotated with queue position; non-terminal jobs with an estimated
// completion time when one can be computed.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := jobID(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		j, err := svc.Get(r.Context(), id)
		if err != nil {
			jobError(w, err)
			return
		}

		detail := struct {
			*models.Job
			QueuePosition       *int    `json:"queue_position,omitempty"`
			EstimatedCompletion *string `json:"estimated_completion,omitempty"`
		}{Job: j}

		if pos, ok, err := svc.QueuePosition(r.Context(), id); err == nil && ok {
			detail.QueuePosition = &pos
		}
		if eta, ok, err := svc.EstimateCompletion(r.Context(), id); err == nil && ok {
			s := eta.UTC().Format(time.RFC3339)
			detail.EstimatedCompletion = &s
		}

		response.JSON(w, detail)
	}
}

// NewJobStatusHandler returns the handler for GET /api/v1/jobs/{jobID}/status,
// the cache-backed fast path for pollers.
func NewJobStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := jobID(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		snap, err := svc.StatusSnapshot(r.Context(), id)
		if err != nil {
			jobError(w, err)
			return
		}

		response.JSON(w, struct {
			JobID     uuid.UUID `json:"job_id"`
			Status    string    `json:"status"`
			Progress  float64   `json:"progress"`
			UpdatedAt time.Time `json:"updated_at"`
		}{id, snap.Status, snap.Progress, snap.UpdatedAt})
	}
}

// NewCancelJobHandler returns the handler for POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := jobID(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		var req struct {
			Reason string `json:"reason"`
		}
		// The body is optional.
		_ = json.NewDecoder(r.Body).Decode(&req)

		cancelled, err := svc.Cancel(r.Context(), id, req.Reason)
		if err != nil {
			jobError(w, err)
			return
		}

		response.JSON(w, cancelled)
	}
}

// NewExportResultsHandler returns the handler for
// GET /api/v1/jobs/{jobID}/results/export?format=json|csv. Only completed
// question jobs have an exportable result.
func NewExportResultsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := jobID(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		format := r.URL.Query().Get("format")
		if format == "" {
			format = "json"
		}
		if format != "json" && format != "csv" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"format must be json or csv", nil)
			return
		}

		j, err := svc.Get(r.Context(), id)
		if err != nil {
			jobError(w, err)
			return
		}
		if j.Status != models.JobStatusCompleted || len(j.Result) == 0 {
			response.Error(w, http.StatusConflict, "NO_RESULTS",
				"Job has no exportable results", nil)
			return
		}

		var batch models.BatchResult
		if err := json.Unmarshal(j.Result, &batch); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Stored result payload is not a question batch", nil)
			return
		}

		filename := fmt.Sprintf("results-%s.%s", id, format)
		switch format {
		case "csv":
			data, err := question.ExportCSV(&batch)
			if err != nil {
				jobError(w, err)
				return
			}
			response.Attachment(w, "text/csv", filename, data)
		default:
			data, err := question.ExportJSON(&batch)
			if err != nil {
				jobError(w, err)
				return
			}
			response.Attachment(w, "application/json", filename, data)
		}
	}
}

// NewStatsHandler returns the handler for GET /api/v1/stats.
func NewStatsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var workspaceID *string
		if v := r.URL.Query().Get("workspace_id"); v != "" {
			workspaceID = &v
		}

		windowDays := 30
		if v := r.URL.Query().Get("window_days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 365 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"window_days must be between 1 and 365", nil)
				return
			}
			windowDays = n
		}

		stats, err := svc.Statistics(r.Context(), workspaceID, windowDays)
		if err != nil {
			jobError(w, err)
			return
		}

		response.JSON(w, stats)
	}
}
