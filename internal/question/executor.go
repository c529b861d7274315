package question

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kwatson/querydesk/internal/provider"
	"github.com/kwatson/querydesk/pkg/models"
)

// ProgressFunc receives advisory progress while a batch runs. Implementations
// must return quickly; slow reporters delay nothing but their own updates.
type ProgressFunc func(completed, total int)

// Executor runs question batches against the provider with at most
// maxConcurrent questions in flight and an aggregate wall-clock deadline over
// the whole batch.
type Executor struct {
	chat          provider.Chat
	maxConcurrent int
	timeout       time.Duration
}

// NewExecutor creates an Executor. maxConcurrent must be at least 1; callers
// validate the upper bound at the boundary.
func NewExecutor(chat provider.Chat, maxConcurrent int, timeout time.Duration) *Executor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Executor{
		chat:          chat,
		maxConcurrent: maxConcurrent,
		timeout:       timeout,
	}
}

// Execute runs the batch and returns exactly one result per question, in
// submission order. Per-question provider failures and timeouts become failed
// results; only orchestration failures (the session could not be created at
// all) return an error.
func (e *Executor) Execute(ctx context.Context, workspaceID string, questions []models.Question, onProgress ProgressFunc) ([]models.QuestionResult, error) {
	thread, err := e.chat.CreateThread(ctx, workspaceID, fmt.Sprintf("batch-%d", time.Now().UnixNano()))
	if err != nil {
		return nil, fmt.Errorf("creating session thread: %w", err)
	}
	defer func() {
		// The batch context may already be expired, so clean up on a
		// fresh deadline.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.chat.DeleteThread(cleanupCtx, workspaceID, thread.ID); err != nil {
			slog.Warn("failed to delete session thread", "workspace_id", workspaceID, "thread_id", thread.ID, "error", err)
		}
	}()

	batchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	results := make([]models.QuestionResult, len(questions))
	sem := semaphore.NewWeighted(int64(e.maxConcurrent))

	var wg sync.WaitGroup
	var completed atomic.Int64
	total := len(questions)

	for i, q := range questions {
		wg.Add(1)
		go func(idx int, q models.Question) {
			defer wg.Done()
			results[idx] = e.runOne(batchCtx, workspaceID, thread.ID, q, sem)
			if onProgress != nil {
				onProgress(int(completed.Add(1)), total)
			}
		}(i, q)
	}
	wg.Wait()

	return results, nil
}

// runOne executes a single question inside the concurrency gate. It never
// returns an error; failures are encoded in the result.
func (e *Executor) runOne(ctx context.Context, workspaceID, threadID string, q models.Question, sem *semaphore.Weighted) models.QuestionResult {
	if err := sem.Acquire(ctx, 1); err != nil {
		// The batch deadline expired before a slot freed up.
		return e.timeoutResult(q)
	}
	defer sem.Release(1)

	start := time.Now()
	msg, err := e.chat.SendMessage(ctx, workspaceID, threadID, q.Text, q.Mode)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return e.timeoutResult(q)
		}
		return models.QuestionResult{
			QuestionID:     q.ID,
			QuestionText:   q.Text,
			Error:          failureMessage(err),
			Success:        false,
			ProcessingTime: elapsed,
		}
	}

	score, found := Score(msg.Response, q.ExpectedFragments)
	return models.QuestionResult{
		QuestionID:      q.ID,
		QuestionText:    q.Text,
		Response:        msg.Response,
		ConfidenceScore: score,
		ProcessingTime:  elapsed,
		FragmentsFound:  found,
		Success:         true,
		Metadata: map[string]any{
			"message_id":    msg.ID,
			"source_count":  len(msg.Sources),
			"document_type": RouteDocumentType(q.Text),
		},
	}
}

func (e *Executor) timeoutResult(q models.Question) models.QuestionResult {
	return models.QuestionResult{
		QuestionID:     q.ID,
		QuestionText:   q.Text,
		Success:        false,
		ProcessingTime: e.timeout.Seconds(),
		Error:          fmt.Sprintf("Processing timed out after %.0f seconds", e.timeout.Seconds()),
	}
}

// failureMessage renders a provider failure with a stable leading token so
// summaries can tally error types.
func failureMessage(err error) string {
	var me *provider.MessageError
	if errors.As(err, &me) {
		return "Message error: " + me.Msg
	}
	if errors.Is(err, provider.ErrWorkspaceNotFound) {
		return "Workspace error: " + err.Error()
	}
	return "Unexpected error: " + err.Error()
}
