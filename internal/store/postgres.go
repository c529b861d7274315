package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kwatson/querydesk/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `id, type, status, workspace_id, progress, result, error, metadata, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.Type, &j.Status, &j.WorkspaceID, &j.Progress, &j.Result,
		&j.Error, &j.Metadata, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, type, status, workspace_id, progress, result, error, metadata, started_at, completed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.Type, job.Status, job.WorkspaceID, job.Progress, job.Result,
		job.Error, job.Metadata, job.StartedAt, job.CompletedAt, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *models.Job) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		 SET status = $2, progress = $3, result = $4, error = $5, metadata = $6,
		     started_at = $7, completed_at = $8, updated_at = $9
		 WHERE id = $1`,
		job.ID, job.Status, job.Progress, job.Result, job.Error, job.Metadata,
		job.StartedAt, job.CompletedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter, page Page) ([]*models.Job, int, error) {
	conditions := []string{}
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, filter.Type)
		argIdx++
	}
	if filter.WorkspaceID != "" {
		conditions = append(conditions, fmt.Sprintf("workspace_id = $%d", argIdx))
		args = append(args, filter.WorkspaceID)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	if !filter.CreatedBefore.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, filter.CreatedBefore)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	if page.Size <= 0 {
		page.Size = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM jobs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, page.Size, page.Offset())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresStore) ListActiveJobs(ctx context.Context, jobType *models.JobType) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status IN ('pending', 'processing')`
	args := []any{}
	if jobType != nil {
		query += ` AND type = $1`
		args = append(args, *jobType)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) CountPendingBefore(ctx context.Context, t time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = 'pending' AND created_at < $1`, t).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending before: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListTerminalJobsBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM jobs
		 WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list terminal jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) DeleteJobs(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) AvgProcessingSeconds(ctx context.Context, window time.Duration) (float64, error) {
	since := time.Now().UTC().Add(-window)
	var avg *float64
	err := s.pool.QueryRow(ctx,
		`SELECT AVG(EXTRACT(EPOCH FROM completed_at - started_at))
		 FROM jobs
		 WHERE status = 'completed'
		   AND started_at IS NOT NULL AND completed_at IS NOT NULL
		   AND created_at >= $1`, since).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("avg processing seconds: %w", err)
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

func (s *PostgresStore) JobStatistics(ctx context.Context, workspaceID *string, since time.Time) (*models.JobStatistics, error) {
	where := `WHERE created_at >= $1`
	args := []any{since}
	if workspaceID != nil {
		where += ` AND workspace_id = $2`
		args = append(args, *workspaceID)
	}

	stats := &models.JobStatistics{
		WorkspaceID:  workspaceID,
		StatusCounts: make(map[models.JobStatus]int),
		TypeCounts:   make(map[models.JobType]int),
	}

	rows, err := s.pool.Query(ctx,
		`SELECT status, type, COUNT(*) FROM jobs `+where+` GROUP BY status, type`, args...)
	if err != nil {
		return nil, fmt.Errorf("job statistics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status models.JobStatus
		var jobType models.JobType
		var count int
		if err := rows.Scan(&status, &jobType, &count); err != nil {
			return nil, fmt.Errorf("scan statistics: %w", err)
		}
		stats.StatusCounts[status] += count
		stats.TypeCounts[jobType] += count
		stats.TotalJobs += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var avg *float64
	err = s.pool.QueryRow(ctx,
		`SELECT AVG(EXTRACT(EPOCH FROM completed_at - started_at))
		 FROM jobs `+where+` AND status = 'completed'
		   AND started_at IS NOT NULL AND completed_at IS NOT NULL`, args...).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("statistics avg time: %w", err)
	}
	if avg != nil {
		stats.AvgProcessingSeconds = *avg
	}

	if stats.TotalJobs > 0 {
		stats.SuccessRate = float64(stats.StatusCounts[models.JobStatusCompleted]) / float64(stats.TotalJobs) * 100
	}
	return stats, nil
}
