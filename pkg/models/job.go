// Package models contains shared data models used across the querydesk codebase.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType identifies the kind of work a job tracks.
type JobType string

const (
	JobTypeDocumentUpload     JobType = "document_upload"
	JobTypeQuestionProcessing JobType = "question_processing"
	JobTypeWorkspaceCreation  JobType = "workspace_creation"
	JobTypeWorkspaceDeletion  JobType = "workspace_deletion"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeDocumentUpload, JobTypeQuestionProcessing,
		JobTypeWorkspaceCreation, JobTypeWorkspaceDeletion:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition may leave s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Active reports whether the job still counts against admission limits.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// Job tracks a long-running, externally-delegated unit of work. Clients
// create a job, poll its status, and read the terminal result payload once
// the status is completed.
//
// Invariants: progress is 0 while pending and 100 once completed; started_at
// is set on the first transition into processing; completed_at is set exactly
// once, on the first transition into a terminal status.
type Job struct {
	ID          uuid.UUID       `db:"id"           json:"id"`
	Type        JobType         `db:"type"         json:"type"`
	Status      JobStatus       `db:"status"       json:"status"`
	WorkspaceID *string         `db:"workspace_id" json:"workspace_id,omitempty"`
	Progress    float64         `db:"progress"     json:"progress"`
	Result      json.RawMessage `db:"result"       json:"result,omitempty"`
	Error       *string         `db:"error"        json:"error,omitempty"`
	Metadata    map[string]any  `db:"metadata"     json:"metadata,omitempty"`
	StartedAt   *time.Time      `db:"started_at"   json:"started_at,omitempty"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time       `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"   json:"updated_at"`
}

// DurationSeconds returns wall time from start to completion, or 0 if the
// job has not both started and finished.
func (j *Job) DurationSeconds() float64 {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt).Seconds()
}

// JobStatistics aggregates job outcomes over a trailing window.
type JobStatistics struct {
	WindowDays            int               `json:"period_days"`
	WorkspaceID           *string           `json:"workspace_id,omitempty"`
	TotalJobs             int               `json:"total_jobs"`
	StatusCounts          map[JobStatus]int `json:"status_counts"`
	TypeCounts            map[JobType]int   `json:"type_counts"`
	AvgProcessingSeconds  float64           `json:"average_processing_time_seconds"`
	SuccessRate           float64           `json:"success_rate"`
	CurrentActiveJobs     int               `json:"current_active_jobs"`
	PendingJobs           int               `json:"pending_jobs"`
	MaxConcurrentJobs     int               `json:"max_concurrent_jobs"`
	ResourceUtilizationPc float64           `json:"resource_utilization"`
}
