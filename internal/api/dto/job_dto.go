package dto

import (
	"encoding/json"
	"time"

	"github.com/truecheckia/retry-service/internal/dlq/domain"
)

type CreateJobRequest struct {
	JobID       string          `json:"job_id"`
	JobType     string          `json:"job_type" binding:"required"`
	Payload     json.RawMessage `json:"payload" binding:"required"`
	MaxAttempts int             `json:"max_attempts" binding:"omitempty,min=1,max=20"`
}

type ListJobsRequest struct {
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID       string          `json:"job_id"`
	JobType     string          `json:"job_type"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	NextRetryAt string          `json:"next_retry_at"`
	LastError   string          `json:"last_error,omitempty"`
	CompletedAt string          `json:"completed_at,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

// NewJobDTO renders a job with RFC3339 timestamps
func NewJobDTO(job *domain.Job) JobDTO {
	d := JobDTO{
		JobID:       job.JobID,
		JobType:     string(job.JobType),
		Payload:     job.Payload,
		Status:      string(job.Status),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		NextRetryAt: job.NextRetryAt.UTC().Format(time.RFC3339),
		LastError:   job.LastError,
		CreatedAt:   job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if job.CompletedAt != nil {
		d.CompletedAt = job.CompletedAt.UTC().Format(time.RFC3339)
	}
	return d
}
