package domain

// JobStatus is the lifecycle state of a job row
type JobStatus string

// Job status constants
const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusDead       JobStatus = "DEAD"
	JobStatusCompleted  JobStatus = "COMPLETED"
)

// AllStatuses lists every status in the order stats are reported
var AllStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusFailed,
	JobStatusDead,
	JobStatusCompleted,
}

// IsTerminal reports whether no further transitions are allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusDead
}

// IsClaimable reports whether a sweep may take ownership of a job in this status
func (s JobStatus) IsClaimable() bool {
	return s == JobStatusPending || s == JobStatusFailed
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// JobType tags which handler processes a job
type JobType string

// Job types produced by the product
const (
	JobTypeAnalysis JobType = "analysis"
	JobTypeEmail    JobType = "email"
)

// DefaultMaxAttempts is used when a producer does not set max_attempts
const DefaultMaxAttempts = 3
