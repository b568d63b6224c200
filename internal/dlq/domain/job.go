package domain

import (
	"encoding/json"
	"time"
)

// Job is one unit of deferred work persisted in the jobs table
type Job struct {
	JobID           string          `db:"job_id" json:"job_id"`
	JobType         JobType         `db:"job_type" json:"job_type"`
	Payload         json.RawMessage `db:"payload" json:"payload"`
	Status          JobStatus       `db:"status" json:"status"`
	Attempts        int             `db:"attempts" json:"attempts"`
	MaxAttempts     int             `db:"max_attempts" json:"max_attempts"`
	NextRetryAt     time.Time       `db:"next_retry_at" json:"next_retry_at"`
	LastError       string          `db:"last_error" json:"last_error,omitempty"`
	ClaimedAt       *time.Time      `db:"claimed_at" json:"claimed_at,omitempty"`
	LastHeartbeatAt *time.Time      `db:"last_heartbeat_at" json:"last_heartbeat_at,omitempty"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Stats holds job counts by status
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Failed     int64 `json:"failed"`
	Dead       int64 `json:"dead"`
	Completed  int64 `json:"completed"`
}

// Add increments the counter matching status
func (s *Stats) Add(status JobStatus, n int64) {
	switch status {
	case JobStatusPending:
		s.Pending += n
	case JobStatusProcessing:
		s.Processing += n
	case JobStatusFailed:
		s.Failed += n
	case JobStatusDead:
		s.Dead += n
	case JobStatusCompleted:
		s.Completed += n
	}
}

// Total returns the number of jobs across all statuses
func (s Stats) Total() int64 {
	return s.Pending + s.Processing + s.Failed + s.Dead + s.Completed
}

// JobMessage is the RabbitMQ message a producer publishes when work must be retried later
type JobMessage struct {
	JobID       string          `json:"job_id,omitempty"`
	JobType     JobType         `json:"job_type"`
	Payload     json.RawMessage `json:"payload"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
	Error       string          `json:"error,omitempty"`
	DeliveryTag uint64          `json:"-"`
}
