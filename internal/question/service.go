package question

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kwatson/querydesk/internal/job"
	"github.com/kwatson/querydesk/internal/provider"
	"github.com/kwatson/querydesk/pkg/models"
)

// ErrInvalidRequest marks submission failures callers can fix, as opposed to
// upstream or storage failures.
var ErrInvalidRequest = errors.New("invalid request")

// SubmitParams holds validated parameters for a question batch submission.
type SubmitParams struct {
	WorkspaceID   string
	Questions     []models.Question
	MaxConcurrent int
	Mode          string
}

// Service validates batch submissions, creates the tracking job and runs the
// batch in a background goroutine.
type Service struct {
	jobs          *job.Manager
	chat          provider.Chat
	maxQuestions  int
	maxConcurrent int
	timeout       time.Duration
}

// NewService creates a question Service. maxQuestions caps the batch size and
// maxConcurrent the per-batch parallelism a caller may request.
func NewService(jobs *job.Manager, chat provider.Chat, maxQuestions, maxConcurrent int, timeout time.Duration) *Service {
	return &Service{
		jobs:          jobs,
		chat:          chat,
		maxQuestions:  maxQuestions,
		maxConcurrent: maxConcurrent,
		timeout:       timeout,
	}
}

// Submit validates the batch, verifies the workspace upstream, creates a
// pending job and dispatches execution. Returns the job immediately without
// waiting for the batch to finish.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (*models.Job, error) {
	if params.WorkspaceID == "" {
		return nil, fmt.Errorf("%w: workspace id is required", ErrInvalidRequest)
	}
	if len(params.Questions) == 0 {
		return nil, fmt.Errorf("%w: at least one question is required", ErrInvalidRequest)
	}
	if len(params.Questions) > s.maxQuestions {
		return nil, fmt.Errorf("%w: too many questions, %d exceeds limit of %d",
			ErrInvalidRequest, len(params.Questions), s.maxQuestions)
	}
	for i, q := range params.Questions {
		if q.Text == "" {
			return nil, fmt.Errorf("%w: question %d has empty text", ErrInvalidRequest, i+1)
		}
	}

	concurrent := params.MaxConcurrent
	if concurrent == 0 {
		concurrent = s.maxConcurrent
	}
	if concurrent < 1 || concurrent > 10 {
		return nil, fmt.Errorf("%w: max_concurrent must be between 1 and 10, got %d",
			ErrInvalidRequest, concurrent)
	}

	if _, err := s.chat.GetWorkspace(ctx, params.WorkspaceID); err != nil {
		return nil, fmt.Errorf("verifying workspace: %w", err)
	}

	created, err := s.jobs.Create(ctx, job.CreateParams{
		Type:        models.JobTypeQuestionProcessing,
		WorkspaceID: &params.WorkspaceID,
		Metadata: map[string]any{
			"question_count": len(params.Questions),
			"max_concurrent": concurrent,
			"provider":       s.chat.Name(),
		},
		EstimatedDuration: s.timeout,
	})
	if err != nil {
		return nil, err
	}

	go s.runBatch(created.ID, params, concurrent)

	return created, nil
}

// runBatch executes the batch in a goroutine. It recovers from panics and
// always drives the job to a terminal state, unless the job was cancelled
// while the batch ran, in which case the late result is dropped.
func (s *Service) runBatch(jobID uuid.UUID, params SubmitParams, concurrent int) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in runBatch", "error", r, "job_id", jobID)
			s.finish(ctx, jobID, models.JobStatusFailed,
				job.WithError(fmt.Sprintf("panic: %v", r)))
		}
	}()

	if _, err := s.jobs.UpdateStatus(ctx, jobID, models.JobStatusProcessing); err != nil {
		// Cancelled before the batch could start.
		slog.Info("skipping batch for inactive job", "job_id", jobID, "error", err)
		return
	}

	questions := params.Questions
	if params.Mode != "" {
		for i := range questions {
			if questions[i].Mode == "" {
				questions[i].Mode = params.Mode
			}
		}
	}

	executor := NewExecutor(s.chat, concurrent, s.timeout)

	// Interim progress covers 90% of the bar; the last 10% is summary and
	// result persistence. Updates are advisory and failures are ignored.
	onProgress := func(completed, total int) {
		progress := float64(completed) / float64(total) * 90
		_, _ = s.jobs.UpdateStatus(ctx, jobID, models.JobStatusProcessing,
			job.WithProgress(progress))
	}

	start := time.Now()
	results, err := executor.Execute(ctx, params.WorkspaceID, questions, onProgress)
	if err != nil {
		s.finish(ctx, jobID, models.JobStatusFailed,
			job.WithError(fmt.Sprintf("batch execution failed: %v", err)))
		return
	}

	batch := BuildBatchResult(jobID.String(), params.WorkspaceID, results, time.Since(start).Seconds())

	payload, err := json.Marshal(batch)
	if err != nil {
		s.finish(ctx, jobID, models.JobStatusFailed,
			job.WithError(fmt.Sprintf("encoding batch result: %v", err)))
		return
	}

	s.finish(ctx, jobID, models.JobStatusCompleted, job.WithResult(payload))

	slog.Info("question batch finished",
		"job_id", jobID,
		"total", batch.TotalQuestions,
		"successful", batch.SuccessfulQuestions,
		"failed", batch.FailedQuestions,
	)
}

// finish applies a terminal status. A conflict means the job went terminal
// while the batch ran (cancellation); the late write is dropped.
func (s *Service) finish(ctx context.Context, jobID uuid.UUID, status models.JobStatus, opts ...job.UpdateOption) {
	if _, err := s.jobs.UpdateStatus(ctx, jobID, status, opts...); err != nil {
		if errors.Is(err, job.ErrConflict) {
			slog.Info("dropping late batch result for terminal job", "job_id", jobID, "status", status)
			return
		}
		slog.Error("failed to finalize job", "job_id", jobID, "status", status, "error", err)
	}
}
