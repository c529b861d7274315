package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kwatson/querydesk/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// CreateJob inserts a new job record.
	CreateJob(ctx context.Context, job *models.Job) error
	// GetJob returns the job with the given id, or ErrNotFound.
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// UpdateJob writes status, timestamps, progress, result, error and
	// metadata of an existing record in a single atomic write.
	// Returns ErrNotFound if the id is absent.
	UpdateJob(ctx context.Context, job *models.Job) error
	// ListJobs returns jobs matching the filter, newest first, plus the
	// total count before pagination.
	ListJobs(ctx context.Context, filter JobFilter, page Page) ([]*models.Job, int, error)
	// ListActiveJobs returns pending and processing jobs, oldest first,
	// optionally restricted to one type.
	ListActiveJobs(ctx context.Context, jobType *models.JobType) ([]*models.Job, error)
	// CountPendingBefore counts pending jobs created strictly before t.
	CountPendingBefore(ctx context.Context, t time.Time) (int, error)
	// ListTerminalJobsBefore returns ids of terminal jobs completed before
	// the cutoff.
	ListTerminalJobsBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
	// DeleteJobs removes the given jobs and returns how many were deleted.
	DeleteJobs(ctx context.Context, ids []uuid.UUID) (int, error)
	// AvgProcessingSeconds returns the mean start-to-completion time of
	// jobs completed within the trailing window, or 0 with no history.
	AvgProcessingSeconds(ctx context.Context, window time.Duration) (float64, error)
	// JobStatistics aggregates job counts and timings since the given time.
	JobStatistics(ctx context.Context, workspaceID *string, since time.Time) (*models.JobStatistics, error)
}

// JobFilter narrows a job listing.
type JobFilter struct {
	Status        models.JobStatus
	Type          models.JobType
	WorkspaceID   string
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// Page holds 1-based pagination parameters.
type Page struct {
	Number int
	Size   int
}

// Offset returns the row offset for the page.
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}
