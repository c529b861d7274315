// Package handler contains the HTTP handlers. Each handler depends on a
// narrow interface so services can be faked in tests.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kwatson/querydesk/internal/api/response"
	"github.com/kwatson/querydesk/internal/job"
	"github.com/kwatson/querydesk/internal/provider"
	"github.com/kwatson/querydesk/internal/question"
	"github.com/kwatson/querydesk/pkg/models"
)

// QuestionSubmitter defines the interface the submit handler depends on.
type QuestionSubmitter interface {
	Submit(ctx context.Context, params question.SubmitParams) (*models.Job, error)
}

// NewSubmitQuestionsHandler returns the handler for POST /api/v1/questions.
// On success the batch is accepted and a pending job returned; execution
// happens out of band.
func NewSubmitQuestionsHandler(svc QuestionSubmitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			WorkspaceID   string            `json:"workspace_id"`
			Questions     []models.Question `json:"questions"`
			MaxConcurrent int               `json:"max_concurrent"`
			Mode          string            `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		created, err := svc.Submit(r.Context(), question.SubmitParams{
			WorkspaceID:   req.WorkspaceID,
			Questions:     req.Questions,
			MaxConcurrent: req.MaxConcurrent,
			Mode:          req.Mode,
		})
		if err != nil {
			switch {
			case errors.Is(err, question.ErrInvalidRequest):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			case errors.Is(err, provider.ErrWorkspaceNotFound):
				response.Error(w, http.StatusNotFound, "WORKSPACE_NOT_FOUND",
					"The referenced workspace does not exist", nil)
			case errors.Is(err, job.ErrResourceExhausted):
				response.Error(w, http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", err.Error(), nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Accepted(w, created)
	}
}
