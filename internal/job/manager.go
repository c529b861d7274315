// Package job implements the job lifecycle: creation under admission
// control, the status state machine, queue-position and completion
// estimates, cancellation and retention cleanup.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kwatson/querydesk/internal/cache"
	"github.com/kwatson/querydesk/internal/store"
	"github.com/kwatson/querydesk/pkg/models"
)

const (
	// defaultAvgProcessing seeds completion estimates when no history exists.
	defaultAvgProcessing = 300 * time.Second
	// estimateWindow bounds the history used for completion estimates.
	estimateWindow = 30 * 24 * time.Hour
	// defaultEstimatedDuration is recorded on jobs created without one.
	defaultEstimatedDuration = time.Hour
)

// transitions lists the legal next statuses for each status. Re-applying the
// current status is always legal so progress updates and repeated terminal
// writes stay idempotent.
var transitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending:    {models.JobStatusProcessing, models.JobStatusCancelled},
	models.JobStatusProcessing: {models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled},
	models.JobStatusCompleted:  {},
	models.JobStatusFailed:     {},
	models.JobStatusCancelled:  {},
}

func canTransition(from, to models.JobStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Manager orchestrates job creation, status transitions, queue position,
// cancellation and cleanup. It is the only component that mutates jobs.
type Manager struct {
	store     store.Store
	cache     cache.Cache
	admission *AdmissionController
	statusTTL time.Duration

	// createMu serializes the admission check and insert so concurrent
	// creators in this process cannot oversubscribe the ceiling. Other
	// processes sharing the store remain best effort.
	createMu sync.Mutex
}

// NewManager creates a Manager. Pass cache.NewNoop() when no cache backend
// is configured.
func NewManager(st store.Store, ca cache.Cache, admission *AdmissionController, statusTTL time.Duration) *Manager {
	return &Manager{
		store:     st,
		cache:     ca,
		admission: admission,
		statusTTL: statusTTL,
	}
}

// CreateParams describes a new job.
type CreateParams struct {
	Type              models.JobType
	WorkspaceID       *string
	Metadata          map[string]any
	EstimatedDuration time.Duration
}

// Create admits and persists a new pending job. It fails with
// ErrResourceExhausted, leaving no record behind, when capacity is full.
func (m *Manager) Create(ctx context.Context, params CreateParams) (*models.Job, error) {
	if !params.Type.Valid() {
		return nil, fmt.Errorf("invalid job type %q", params.Type)
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()

	if err := m.admission.Check(ctx, params.Type); err != nil {
		return nil, err
	}

	estimated := params.EstimatedDuration
	if estimated <= 0 {
		estimated = defaultEstimatedDuration
	}

	metadata := make(map[string]any, len(params.Metadata)+1)
	for k, v := range params.Metadata {
		metadata[k] = v
	}
	metadata["estimated_duration"] = estimated.Seconds()

	now := time.Now().UTC()
	job := &models.Job{
		ID:          uuid.New(),
		Type:        params.Type,
		Status:      models.JobStatusPending,
		WorkspaceID: params.WorkspaceID,
		Progress:    0,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	m.cacheSnapshot(ctx, job)

	slog.Info("job created",
		"job_id", job.ID,
		"type", job.Type,
		"workspace_id", params.WorkspaceID,
	)
	return job, nil
}

// Get returns a job by id.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, id)
	}
	return job, nil
}

// List returns jobs matching the filter, newest first, plus the total count.
func (m *Manager) List(ctx context.Context, filter store.JobFilter, page store.Page) ([]*models.Job, int, error) {
	return m.store.ListJobs(ctx, filter, page)
}

type updateParams struct {
	progress *float64
	result   json.RawMessage
	errMsg   *string
	metadata map[string]any
}

// UpdateOption customizes an UpdateStatus call.
type UpdateOption func(*updateParams)

func WithProgress(p float64) UpdateOption {
	return func(u *updateParams) { u.progress = &p }
}

func WithResult(result json.RawMessage) UpdateOption {
	return func(u *updateParams) { u.result = result }
}

func WithError(msg string) UpdateOption {
	return func(u *updateParams) { u.errMsg = &msg }
}

// WithMetadata shallow-merges md into the job's metadata; new keys override.
func WithMetadata(md map[string]any) UpdateOption {
	return func(u *updateParams) { u.metadata = md }
}

// UpdateStatus applies a status transition plus any optional field updates in
// one atomic write. Illegal transitions fail with ErrConflict and leave the
// record unchanged.
func (m *Manager) UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...UpdateOption) (*models.Job, error) {
	var params updateParams
	for _, opt := range opts {
		opt(&params)
	}

	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, id)
	}

	if !canTransition(job.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrConflict, job.Status, status)
	}

	now := time.Now().UTC()
	job.Status = status
	job.UpdatedAt = now

	if status == models.JobStatusProcessing && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if status.Terminal() && job.CompletedAt == nil {
		job.CompletedAt = &now
	}

	if params.progress != nil {
		job.Progress = clampProgress(*params.progress)
	}
	// A completed job is by definition fully progressed.
	if status == models.JobStatusCompleted {
		job.Progress = 100
	}

	if params.result != nil {
		job.Result = params.result
	}
	if params.errMsg != nil {
		job.Error = params.errMsg
	}
	if params.metadata != nil {
		if job.Metadata == nil {
			job.Metadata = make(map[string]any, len(params.metadata))
		}
		for k, v := range params.metadata {
			job.Metadata[k] = v
		}
	}

	if err := m.store.UpdateJob(ctx, job); err != nil {
		return nil, mapStoreErr(err, id)
	}

	m.cacheSnapshot(ctx, job)

	slog.Info("job status updated",
		"job_id", id,
		"status", status,
		"progress", job.Progress,
	)
	return job, nil
}

// Cancel moves a pending or processing job to cancelled. Cancellation is
// cooperative: it does not interrupt in-flight provider calls, whose late
// results are rejected by the transition check once the job is terminal.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, id)
	}

	if !job.Status.Active() {
		return nil, fmt.Errorf("%w: job cannot be cancelled (status: %s)", ErrConflict, job.Status)
	}

	msg := "Job cancelled"
	if reason != "" {
		msg += ": " + reason
	}

	updated, err := m.UpdateStatus(ctx, id, models.JobStatusCancelled,
		WithProgress(0), WithError(msg))
	if err != nil {
		return nil, err
	}

	slog.Info("job cancelled", "job_id", id, "reason", reason)
	return updated, nil
}

// QueuePosition returns the 1-based FIFO rank of a pending job among pending
// jobs by creation time. ok is false when the job is not pending.
func (m *Manager) QueuePosition(ctx context.Context, id uuid.UUID) (int, bool, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return 0, false, mapStoreErr(err, id)
	}
	if job.Status != models.JobStatusPending {
		return 0, false, nil
	}

	ahead, err := m.store.CountPendingBefore(ctx, job.CreatedAt)
	if err != nil {
		return 0, false, fmt.Errorf("queue position: %w", err)
	}
	return ahead + 1, true, nil
}

// EstimateCompletion predicts when a job will finish. ok is false when no
// estimate can be made. Terminal jobs report their actual completion time.
func (m *Manager) EstimateCompletion(ctx context.Context, id uuid.UUID) (time.Time, bool, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return time.Time{}, false, mapStoreErr(err, id)
	}

	now := time.Now().UTC()

	switch {
	case job.Status.Terminal():
		if job.CompletedAt == nil {
			return time.Time{}, false, nil
		}
		return *job.CompletedAt, true, nil

	case job.Status == models.JobStatusPending:
		position, ok, err := m.QueuePosition(ctx, id)
		if err != nil || !ok {
			return time.Time{}, false, err
		}
		avg, err := m.store.AvgProcessingSeconds(ctx, estimateWindow)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("estimate completion: %w", err)
		}
		if avg <= 0 {
			avg = defaultAvgProcessing.Seconds()
		}
		wait := time.Duration(float64(position)*avg) * time.Second
		return now.Add(wait), true, nil

	case job.Status == models.JobStatusProcessing && job.StartedAt != nil:
		if job.Progress > 0 {
			elapsed := now.Sub(*job.StartedAt).Seconds()
			total := elapsed / (job.Progress / 100.0)
			remaining := total - elapsed
			return now.Add(time.Duration(remaining * float64(time.Second))), true, nil
		}
		estimated := defaultAvgProcessing.Seconds()
		if v, ok := job.Metadata["estimated_duration"].(float64); ok && v > 0 {
			estimated = v
		}
		return job.StartedAt.Add(time.Duration(estimated * float64(time.Second))), true, nil
	}

	return time.Time{}, false, nil
}

// StatusSnapshot returns a fast-path status view, preferring the cache and
// falling back to the store on a miss. The store result refreshes the cache.
func (m *Manager) StatusSnapshot(ctx context.Context, id uuid.UUID) (cache.StatusSnapshot, error) {
	if snap, ok, err := m.cache.GetJobStatus(ctx, id); err == nil && ok {
		return snap, nil
	}

	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return cache.StatusSnapshot{}, mapStoreErr(err, id)
	}

	m.cacheSnapshot(ctx, job)
	return snapshotOf(job), nil
}

// Cleanup deletes terminal jobs whose completion is older than the retention
// window and returns how many were removed. Active jobs are never touched.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	ids, err := m.store.ListTerminalJobsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	deleted, err := m.store.DeleteJobs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}

	for _, id := range ids {
		_ = m.cache.Delete(ctx, cache.JobStatusKey(id))
	}

	slog.Info("cleaned up old jobs", "deleted", deleted, "cutoff", cutoff)
	return deleted, nil
}

// Statistics aggregates job outcomes over the trailing window and adds live
// utilization figures.
func (m *Manager) Statistics(ctx context.Context, workspaceID *string, windowDays int) (*models.JobStatistics, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)

	stats, err := m.store.JobStatistics(ctx, workspaceID, since)
	if err != nil {
		return nil, fmt.Errorf("job statistics: %w", err)
	}
	stats.WindowDays = windowDays

	active, err := m.store.ListActiveJobs(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("job statistics: %w", err)
	}
	stats.CurrentActiveJobs = len(active)
	for _, j := range active {
		if j.Status == models.JobStatusPending {
			stats.PendingJobs++
		}
	}
	stats.MaxConcurrentJobs = m.admission.MaxActive()
	if m.admission.MaxActive() > 0 {
		stats.ResourceUtilizationPc = float64(len(active)) / float64(m.admission.MaxActive()) * 100
	}
	return stats, nil
}

// cacheSnapshot writes a short-lived status snapshot; failures are ignored
// because the store stays authoritative.
func (m *Manager) cacheSnapshot(ctx context.Context, job *models.Job) {
	_ = m.cache.SetJobStatus(ctx, job.ID, snapshotOf(job), m.statusTTL)
}

func snapshotOf(job *models.Job) cache.StatusSnapshot {
	return cache.StatusSnapshot{
		Status:    string(job.Status),
		Progress:  job.Progress,
		UpdatedAt: job.UpdatedAt,
	}
}

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func mapStoreErr(err error, id uuid.UUID) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}
