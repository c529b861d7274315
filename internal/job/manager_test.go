package job

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwatson/querydesk/internal/cache"
	"github.com/kwatson/querydesk/internal/store"
	"github.com/kwatson/querydesk/pkg/models"
)

// --- mocks ---

type mockStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.Job
	avg       float64
	createErr error
	updateErr error
}

func newMockStore() *mockStore {
	return &mockStore{jobs: make(map[uuid.UUID]*models.Job)}
}

// cloneJob deep-copies so tests observe stored state, not manager-side
// mutation of shared pointers.
func cloneJob(j *models.Job) *models.Job {
	c := *j
	if j.Metadata != nil {
		c.Metadata = make(map[string]any, len(j.Metadata))
		for k, v := range j.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) CreateJob(_ context.Context, job *models.Job) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *mockStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *mockStore) UpdateJob(_ context.Context, job *models.Job) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return store.ErrNotFound
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *mockStore) ListJobs(_ context.Context, filter store.JobFilter, page store.Page) ([]*models.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		out = append(out, cloneJob(j))
	}
	return out, len(out), nil
}

func (s *mockStore) ListActiveJobs(_ context.Context, jobType *models.JobType) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if !j.Status.Active() {
			continue
		}
		if jobType != nil && j.Type != *jobType {
			continue
		}
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (s *mockStore) CountPendingBefore(_ context.Context, t time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == models.JobStatusPending && j.CreatedAt.Before(t) {
			n++
		}
	}
	return n, nil
}

func (s *mockStore) ListTerminalJobsBefore(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, j := range s.jobs {
		if j.Status.Terminal() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *mockStore) DeleteJobs(_ context.Context, ids []uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := s.jobs[id]; ok {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *mockStore) AvgProcessingSeconds(_ context.Context, _ time.Duration) (float64, error) {
	return s.avg, nil
}

func (s *mockStore) JobStatistics(_ context.Context, _ *string, _ time.Time) (*models.JobStatistics, error) {
	return &models.JobStatistics{
		StatusCounts: map[models.JobStatus]int{},
		TypeCounts:   map[models.JobType]int{},
	}, nil
}

var _ store.Store = (*mockStore)(nil)

// seedJob inserts a job directly into the mock store.
func seedJob(s *mockStore, status models.JobStatus, jobType models.JobType, createdAt time.Time) *models.Job {
	j := &models.Job{
		ID:        uuid.New(),
		Type:      jobType,
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if status.Terminal() {
		done := createdAt.Add(time.Minute)
		j.StartedAt = &createdAt
		j.CompletedAt = &done
	}
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()
	return j
}

func newManager(s *mockStore, maxActive int) *Manager {
	admission := NewAdmissionController(s, maxActive, nil)
	return NewManager(s, cache.NewNoop(), admission, time.Minute)
}

// --- Create ---

func TestCreate_ReturnsPendingJob(t *testing.T) {
	s := newMockStore()
	m := newManager(s, 5)

	ws := "ws-1"
	job, err := m.Create(context.Background(), CreateParams{
		Type:        models.JobTypeQuestionProcessing,
		WorkspaceID: &ws,
		Metadata:    map[string]any{"question_count": 3},
	})
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0.0, job.Progress)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)
	assert.Equal(t, 3, job.Metadata["question_count"])
	assert.Equal(t, defaultEstimatedDuration.Seconds(), job.Metadata["estimated_duration"])

	stored, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, stored.Status)
}

func TestCreate_InvalidType(t *testing.T) {
	m := newManager(newMockStore(), 5)

	_, err := m.Create(context.Background(), CreateParams{Type: "bogus"})
	assert.Error(t, err)
}

func TestCreate_RejectedWhenFull(t *testing.T) {
	s := newMockStore()
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		seedJob(s, models.JobStatusProcessing, models.JobTypeDocumentUpload, now.Add(time.Duration(i)*time.Second))
	}
	m := newManager(s, 3)

	_, err := m.Create(context.Background(), CreateParams{Type: models.JobTypeQuestionProcessing})
	require.ErrorIs(t, err, ErrResourceExhausted)

	// No record was created for the rejected job.
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.jobs, 3)
}

func TestCreate_SucceedsUnderLimit(t *testing.T) {
	s := newMockStore()
	now := time.Now().UTC()
	seedJob(s, models.JobStatusProcessing, models.JobTypeDocumentUpload, now)
	seedJob(s, models.JobStatusPending, models.JobTypeDocumentUpload, now)
	m := newManager(s, 3)

	_, err := m.Create(context.Background(), CreateParams{Type: models.JobTypeQuestionProcessing})
	require.NoError(t, err)

	active, err := s.ListActiveJobs(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, active, 3)
}

// --- UpdateStatus ---

func TestUpdateStatus_SetsTimestamps(t *testing.T) {
	s := newMockStore()
	m := newManager(s, 5)
	ctx := context.Background()

	created, err := m.Create(ctx, CreateParams{Type: models.JobTypeQuestionProcessing})
	require.NoError(t, err)

	processing, err := m.UpdateStatus(ctx, created.ID, models.JobStatusProcessing)
	require.NoError(t, err)
	require.NotNil(t, processing.StartedAt)
	assert.Nil(t, processing.CompletedAt)

	payload := json.RawMessage(`{"answer":42}`)
	completed, err := m.UpdateStatus(ctx, created.ID, models.JobStatusCompleted, WithResult(payload))
	require.NoError(t, err)
	require.NotNil(t, completed.CompletedAt)
	assert.Equal(t, 100.0, completed.Progress)
	assert.JSONEq(t, `{"answer":42}`, string(completed.Result))
	assert.False(t, completed.CompletedAt.Before(*completed.StartedAt))
}

func TestUpdateStatus_RepeatedTerminalIsIdempotent(t *testing.T) {
	s := newMockStore()
	m := newManager(s, 5)
	ctx := context.Background()

	created, err := m.Create(ctx, CreateParams{Type: models.JobTypeQuestionProcessing})
	require.NoError(t, err)
	_, err = m.UpdateStatus(ctx, created.ID, models.JobStatusProcessing)
	require.NoError(t, err)

	first, err := m.UpdateStatus(ctx, created.ID, models.JobStatusCompleted)
	require.NoError(t, err)

	second, err := m.UpdateStatus(ctx, created.ID, models.JobStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, first.CompletedAt, second.CompletedAt)
}

func TestUpdateStatus_IllegalTransitionLeavesRecordUnchanged(t *testing.T) {
	s := newMockStore()
	m := newManager(s, 5)
	ctx := context.Background()

	created, err := m.Create(ctx, CreateParams{Type: models.JobTypeQuestionProcessing})
	require.NoError(t, err)
	_, err = m.UpdateStatus(ctx, created.ID, models.JobStatusProcessing)
	require.NoError(t, err)
	completed, err := m.UpdateStatus(ctx, created.ID, models.JobStatusCompleted)
	require.NoError(t, err)

	_, err = m.UpdateStatus(ctx, created.ID, models.JobStatusProcessing)
	require.ErrorIs(t, err, ErrConflict)

	stored, err := s.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, completed.CompletedAt, stored.CompletedAt)
}

func TestUpdateStatus_ClampsProgress(t *testing.T) {
	s := newMockStore()
	m := newManager(s, 5)
	ctx := context.Background()

	created, err := m.Create(ctx, CreateParams{Type: models.JobTypeQuestionProcessing})
	require.NoError(t, err)
	_, err = m.UpdateStatus(ctx, created.ID, models.JobStatusProcessing)
	require.NoError(t, err)

	updated, err := m.UpdateStatus(ctx, created.ID, models.JobStatusProcessing, WithProgress(150))
	require.NoError(t, err)
	assert.Equal(t, 100.0, updated.Progress)

	updated, err = m.UpdateStatus(ctx, created.ID, models.JobStatusProcessing, WithProgress(-5))
	require.NoError(t, err)
	assert.Equal(t, 0.0, updated.Progress)
}

func TestUpdateStatus_MergesMetadata(t *testing.T) {
	s := newMockStore()
	m := newManager(s, 5)
	ctx := context.Background()

	created, err := m.Create(ctx, CreateParams{
		Type:     models.JobTypeQuestionProcessing,
		Metadata: map[string]any{"a": "old", "b": "keep"},
	})
	require.NoError(t, err)

	updated, err := m.UpdateStatus(ctx, created.ID, models.JobStatusPending,
		WithMetadata(map[string]any{"a": "new", "c": "added"}))
	require.NoError(t, err)

	assert.Equal(t, "new", updated.Metadata["a"])
	assert.Equal(t, "keep", updated.Metadata["b"])
	assert.Equal(t, "added", updated.Metadata["c"])
}

func TestUpdateStatus_UnknownJob(t *testing.T) {
	m := newManager(newMockStore(), 5)

	_, err := m.UpdateStatus(context.Background(), uuid.New(), models.JobStatusProcessing)
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Cancel ---

func TestCancel_PendingJob(t *testing.T) {
	s := newMockStore()
	m := newManager(s, 5)
	ctx := context.Background()

	created, err := m.Create(ctx, CreateParams{Type: models.JobTypeQuestionProcessing})
	require.NoError(t, err)

	cancelled, err := m.Cancel(ctx, created.ID, "user requested")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)
	assert.Equal(t, 0.0, cancelled.Progress)
	require.NotNil(t, cancelled.Error)
	assert.Equal(t, "Job cancelled: user requested", *cancelled.Error)
	assert.NotNil(t, cancelled.CompletedAt)
}

func TestCancel_DefaultReason(t *testing.T) {
	s := newMockStore()
	m := newManager(s, 5)
	ctx := context.Background()

	created, err := m.Create(ctx, CreateParams{Type: models.JobTypeQuestionProcessing})
	require.NoError(t, err)

	cancelled, err := m.Cancel(ctx, created.ID, "")
	require.NoError(t, err)
	require.NotNil(t, cancelled.Error)
	assert.Equal(t, "Job cancelled", *cancelled.Error)
}

func TestCancel_TerminalJobConflicts(t *testing.T) {
	s := newMockStore()
	m := newManager(s, 5)
	ctx := context.Background()

	created, err := m.Create(ctx, CreateParams{Type: models.JobTypeQuestionProcessing})
	require.NoError(t, err)
	_, err = m.UpdateStatus(ctx, created.ID, models.JobStatusProcessing)
	require.NoError(t, err)
	_, err = m.UpdateStatus(ctx, created.ID, models.JobStatusCompleted)
	require.NoError(t, err)

	_, err = m.Cancel(ctx, created.ID, "too late")
	assert.ErrorIs(t, err, ErrConflict)
}

// --- Queue position ---

func TestQueuePosition_FIFO(t *testing.T) {
	s := newMockStore()
	m := newManager(s, 10)
	now := time.Now().UTC()

	a := seedJob(s, models.JobStatusPending, models.JobTypeQuestionProcessing, now.Add(-3*time.Second))
	b := seedJob(s, models.JobStatusPending, models.JobTypeQuestionProcessing, now.Add(-2*time.Second))
	c := seedJob(s, models.JobStatusPending, models.JobTypeQuestionProcessing, now.Add(-1*time.Second))

	ctx := context.Background()
	posA, ok, err := m.QueuePosition(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, ok)
	posB, ok, err := m.QueuePosition(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, ok)
	posC, ok, err := m.QueuePosition(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 1, posA)
	assert.Equal(t, 2, posB)
	assert.Equal(t, 3, posC)
}

func TestQueuePosition_NotPending(t *testing.T) {
	s := newMockStore()
	m := newManager(s, 10)
	j := seedJob(s, models.JobStatusProcessing, models.JobTypeQuestionProcessing, time.Now().UTC())

	_, ok, err := m.QueuePosition(context.Background(), j.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

// --- Completion estimates ---

func TestEstimateCompletion_TerminalReturnsCompletedAt(t *testing.T) {
	s := newMockStore()
	m := newManager(s, 10)
	j := seedJob(s, models.JobStatusCompleted, models.JobTypeQuestionProcessing, time.Now().UTC().Add(-time.Hour))

	eta, ok, err := m.EstimateCompletion(context.Background(), j.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, j.CompletedAt.Unix(), eta.Unix())
}

func TestEstimateCompletion_PendingUsesQueueAndHistory(t *testing.T) {
	s := newMockStore()
	s.avg = 10
	m := newManager(s, 10)
	now := time.Now().UTC()

	seedJob(s, models.JobStatusPending, models.JobTypeQuestionProcessing, now.Add(-2*time.Second))
	j := seedJob(s, models.JobStatusPending, models.JobTypeQuestionProcessing, now.Add(-1*time.Second))

	eta, ok, err := m.EstimateCompletion(context.Background(), j.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// Position 2 at 10s average puts the estimate about 20s out.
	assert.InDelta(t, 20, eta.Sub(now).Seconds(), 2)
}

func TestEstimateCompletion_PendingDefaultsWithoutHistory(t *testing.T) {
	s := newMockStore()
	m := newManager(s, 10)
	now := time.Now().UTC()
	j := seedJob(s, models.JobStatusPending, models.JobTypeQuestionProcessing, now)

	eta, ok, err := m.EstimateCompletion(context.Background(), j.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, defaultAvgProcessing.Seconds(), eta.Sub(now).Seconds(), 2)
}

func TestEstimateCompletion_ProcessingExtrapolatesFromProgress(t *testing.T) {
	s := newMockStore()
	m := newManager(s, 10)
	now := time.Now().UTC()

	started := now.Add(-30 * time.Second)
	j := seedJob(s, models.JobStatusProcessing, models.JobTypeQuestionProcessing, started)
	s.mu.Lock()
	s.jobs[j.ID].StartedAt = &started
	s.jobs[j.ID].Progress = 50
	s.mu.Unlock()

	eta, ok, err := m.EstimateCompletion(context.Background(), j.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// Half done after 30s leaves about 30s remaining.
	assert.InDelta(t, 30, eta.Sub(now).Seconds(), 3)
}

func TestEstimateCompletion_ProcessingWithoutProgressUsesMetadata(t *testing.T) {
	s := newMockStore()
	m := newManager(s, 10)
	now := time.Now().UTC()

	started := now.Add(-10 * time.Second)
	j := seedJob(s, models.JobStatusProcessing, models.JobTypeQuestionProcessing, started)
	s.mu.Lock()
	s.jobs[j.ID].StartedAt = &started
	s.jobs[j.ID].Metadata = map[string]any{"estimated_duration": float64(120)}
	s.mu.Unlock()

	eta, ok, err := m.EstimateCompletion(context.Background(), j.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, started.Add(120*time.Second).Unix(), eta.Unix())
}

// --- Cleanup ---

func TestCleanup_RemovesOnlyOldTerminalJobs(t *testing.T) {
	s := newMockStore()
	m := newManager(s, 10)
	now := time.Now().UTC()

	oldDone := seedJob(s, models.JobStatusCompleted, models.JobTypeQuestionProcessing, now.Add(-10*24*time.Hour))
	freshDone := seedJob(s, models.JobStatusFailed, models.JobTypeQuestionProcessing, now.Add(-time.Hour))
	oldActive := seedJob(s, models.JobStatusProcessing, models.JobTypeQuestionProcessing, now.Add(-10*24*time.Hour))

	deleted, err := m.Cleanup(context.Background(), 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = s.GetJob(context.Background(), oldDone.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetJob(context.Background(), freshDone.ID)
	assert.NoError(t, err)
	_, err = s.GetJob(context.Background(), oldActive.ID)
	assert.NoError(t, err)
}

// --- Statistics ---

func TestStatistics_IncludesUtilization(t *testing.T) {
	s := newMockStore()
	m := newManager(s, 4)
	now := time.Now().UTC()

	seedJob(s, models.JobStatusPending, models.JobTypeQuestionProcessing, now)
	seedJob(s, models.JobStatusProcessing, models.JobTypeDocumentUpload, now)

	stats, err := m.Statistics(context.Background(), nil, 30)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CurrentActiveJobs)
	assert.Equal(t, 1, stats.PendingJobs)
	assert.Equal(t, 4, stats.MaxConcurrentJobs)
	assert.InDelta(t, 50, stats.ResourceUtilizationPc, 0.01)
	assert.Equal(t, 30, stats.WindowDays)
}
