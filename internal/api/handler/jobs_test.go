package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwatson/querydesk/internal/api"
	"github.com/kwatson/querydesk/internal/api/handler"
	"github.com/kwatson/querydesk/internal/cache"
	"github.com/kwatson/querydesk/internal/job"
	"github.com/kwatson/querydesk/internal/question"
	"github.com/kwatson/querydesk/internal/store"
	"github.com/kwatson/querydesk/pkg/models"
)

// fakeJobService satisfies handler.JobService with settable funcs.
type fakeJobService struct {
	GetFn                func(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListFn               func(ctx context.Context, filter store.JobFilter, page store.Page) ([]*models.Job, int, error)
	StatusSnapshotFn     func(ctx context.Context, id uuid.UUID) (cache.StatusSnapshot, error)
	QueuePositionFn      func(ctx context.Context, id uuid.UUID) (int, bool, error)
	EstimateCompletionFn func(ctx context.Context, id uuid.UUID) (time.Time, bool, error)
	CancelFn             func(ctx context.Context, id uuid.UUID, reason string) (*models.Job, error)
	StatisticsFn         func(ctx context.Context, workspaceID *string, windowDays int) (*models.JobStatistics, error)
}

func (f *fakeJobService) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return f.GetFn(ctx, id)
}

func (f *fakeJobService) List(ctx context.Context, filter store.JobFilter, page store.Page) ([]*models.Job, int, error) {
	return f.ListFn(ctx, filter, page)
}

func (f *fakeJobService) StatusSnapshot(ctx context.Context, id uuid.UUID) (cache.StatusSnapshot, error) {
	return f.StatusSnapshotFn(ctx, id)
}

func (f *fakeJobService) QueuePosition(ctx context.Context, id uuid.UUID) (int, bool, error) {
	if f.QueuePositionFn == nil {
		return 0, false, nil
	}
	return f.QueuePositionFn(ctx, id)
}

func (f *fakeJobService) EstimateCompletion(ctx context.Context, id uuid.UUID) (time.Time, bool, error) {
	if f.EstimateCompletionFn == nil {
		return time.Time{}, false, nil
	}
	return f.EstimateCompletionFn(ctx, id)
}

func (f *fakeJobService) Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Job, error) {
	return f.CancelFn(ctx, id, reason)
}

func (f *fakeJobService) Statistics(ctx context.Context, workspaceID *string, windowDays int) (*models.JobStatistics, error) {
	return f.StatisticsFn(ctx, workspaceID, windowDays)
}

var _ handler.JobService = (*fakeJobService)(nil)

func newJobRouter(svc *fakeJobService) http.Handler {
	return api.NewRouter(api.Dependencies{
		ListJobs:      handler.NewListJobsHandler(svc),
		GetJob:        handler.NewGetJobHandler(svc),
		JobStatus:     handler.NewJobStatusHandler(svc),
		CancelJob:     handler.NewCancelJobHandler(svc),
		ExportResults: handler.NewExportResultsHandler(svc),
		StatsHandler:  handler.NewStatsHandler(svc),
	})
}

func pendingJob(id uuid.UUID) *models.Job {
	return &models.Job{
		ID:        id,
		Type:      models.JobTypeQuestionProcessing,
		Status:    models.JobStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestGetJob(t *testing.T) {
	id := uuid.New()
	eta := time.Now().UTC().Add(10 * time.Minute)
	svc := &fakeJobService{
		GetFn: func(_ context.Context, got uuid.UUID) (*models.Job, error) {
			assert.Equal(t, id, got)
			return pendingJob(id), nil
		},
		QueuePositionFn: func(context.Context, uuid.UUID) (int, bool, error) {
			return 2, true, nil
		},
		EstimateCompletionFn: func(context.Context, uuid.UUID) (time.Time, bool, error) {
			return eta, true, nil
		},
	}

	rec := httptest.NewRecorder()
	newJobRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			ID                  uuid.UUID `json:"id"`
			Status              string    `json:"status"`
			QueuePosition       *int      `json:"queue_position"`
			EstimatedCompletion *string   `json:"estimated_completion"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, id, body.Data.ID)
	assert.Equal(t, "pending", body.Data.Status)
	require.NotNil(t, body.Data.QueuePosition)
	assert.Equal(t, 2, *body.Data.QueuePosition)
	require.NotNil(t, body.Data.EstimatedCompletion)
}

func TestGetJob_InvalidID(t *testing.T) {
	svc := &fakeJobService{}
	rec := httptest.NewRecorder()
	newJobRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob_NotFound(t *testing.T) {
	svc := &fakeJobService{
		GetFn: func(context.Context, uuid.UUID) (*models.Job, error) {
			return nil, job.ErrNotFound
		},
	}
	rec := httptest.NewRecorder()
	newJobRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobStatus(t *testing.T) {
	id := uuid.New()
	svc := &fakeJobService{
		StatusSnapshotFn: func(context.Context, uuid.UUID) (cache.StatusSnapshot, error) {
			return cache.StatusSnapshot{Status: "processing", Progress: 45}, nil
		},
	}

	rec := httptest.NewRecorder()
	newJobRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id.String()+"/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			Status   string  `json:"status"`
			Progress float64 `json:"progress"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "processing", body.Data.Status)
	assert.Equal(t, 45.0, body.Data.Progress)
}

func TestListJobs_PassesFiltersAndMeta(t *testing.T) {
	svc := &fakeJobService{
		ListFn: func(_ context.Context, filter store.JobFilter, page store.Page) ([]*models.Job, int, error) {
			assert.Equal(t, models.JobStatusPending, filter.Status)
			assert.Equal(t, "ws-1", filter.WorkspaceID)
			assert.Equal(t, 2, page.Number)
			assert.Equal(t, 10, page.Size)
			return []*models.Job{pendingJob(uuid.New())}, 25, nil
		},
	}

	rec := httptest.NewRecorder()
	newJobRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/jobs?status=pending&workspace_id=ws-1&page=2&limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Meta struct {
			Total   int  `json:"total"`
			HasNext bool `json:"has_next"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 25, body.Meta.Total)
	assert.True(t, body.Meta.HasNext)
}

func TestCancelJob(t *testing.T) {
	id := uuid.New()
	svc := &fakeJobService{
		CancelFn: func(_ context.Context, got uuid.UUID, reason string) (*models.Job, error) {
			assert.Equal(t, id, got)
			assert.Equal(t, "no longer needed", reason)
			j := pendingJob(id)
			j.Status = models.JobStatusCancelled
			return j, nil
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+id.String()+"/cancel",
		strings.NewReader(`{"reason":"no longer needed"}`))
	newJobRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelJob_Conflict(t *testing.T) {
	svc := &fakeJobService{
		CancelFn: func(context.Context, uuid.UUID, string) (*models.Job, error) {
			return nil, fmt.Errorf("%w: job cannot be cancelled (status: completed)", job.ErrConflict)
		},
	}

	rec := httptest.NewRecorder()
	newJobRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/api/v1/jobs/"+uuid.NewString()+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestExportResults_CSV(t *testing.T) {
	id := uuid.New()
	batch := question.BuildBatchResult(id.String(), "ws-1", []models.QuestionResult{
		{QuestionID: "q1", QuestionText: "what?", Success: true, ConfidenceScore: 0.8},
	}, 1.0)
	payload, err := json.Marshal(batch)
	require.NoError(t, err)

	svc := &fakeJobService{
		GetFn: func(context.Context, uuid.UUID) (*models.Job, error) {
			j := pendingJob(id)
			j.Status = models.JobStatusCompleted
			j.Result = payload
			return j, nil
		},
	}

	rec := httptest.NewRecorder()
	newJobRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/jobs/"+id.String()+"/results/export?format=csv", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "question_id,"))
	assert.Contains(t, rec.Body.String(), "q1")
}

func TestExportResults_NotCompleted(t *testing.T) {
	svc := &fakeJobService{
		GetFn: func(context.Context, uuid.UUID) (*models.Job, error) {
			return pendingJob(uuid.New()), nil
		},
	}

	rec := httptest.NewRecorder()
	newJobRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/jobs/"+uuid.NewString()+"/results/export", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestExportResults_BadFormat(t *testing.T) {
	svc := &fakeJobService{}
	rec := httptest.NewRecorder()
	newJobRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/jobs/"+uuid.NewString()+"/results/export?format=xml", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	svc := &fakeJobService{
		StatisticsFn: func(_ context.Context, workspaceID *string, windowDays int) (*models.JobStatistics, error) {
			require.NotNil(t, workspaceID)
			assert.Equal(t, "ws-1", *workspaceID)
			assert.Equal(t, 7, windowDays)
			return &models.JobStatistics{TotalJobs: 12, WindowDays: windowDays}, nil
		},
	}

	rec := httptest.NewRecorder()
	newJobRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/stats?workspace_id=ws-1&window_days=7", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			TotalJobs int `json:"total_jobs"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 12, body.Data.TotalJobs)
}

func TestStats_BadWindow(t *testing.T) {
	svc := &fakeJobService{}
	rec := httptest.NewRecorder()
	newJobRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/stats?window_days=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
