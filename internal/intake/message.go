package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/truecheckia/retry-service/internal/dlq/domain"
)

// maxAttemptsLimit matches the bound enforced by the jobs API
const maxAttemptsLimit = 20

// messageIDNamespace derives stable job ids from AMQP message ids
var messageIDNamespace = uuid.MustParse("6f1c2a4e-58a3-4e0b-9d8c-3b6f0e1d2a7c")

// Message is the body a producer publishes to jobs.failed
type Message struct {
	JobID       string          `json:"job_id,omitempty"`
	JobType     string          `json:"job_type"`
	Payload     json.RawMessage `json:"payload"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// DecodeMessage parses and validates a delivery body
func DecodeMessage(body []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidJob, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate rejects messages that can never become a runnable job
func (m *Message) Validate() error {
	var problems []string
	if strings.TrimSpace(m.JobType) == "" {
		problems = append(problems, "job_type is required")
	}
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		problems = append(problems, "payload is required")
	}
	if m.JobID != "" {
		if _, err := uuid.Parse(m.JobID); err != nil {
			problems = append(problems, "job_id must be a UUID")
		}
	}
	if m.MaxAttempts < 0 || m.MaxAttempts > maxAttemptsLimit {
		problems = append(problems, fmt.Sprintf("max_attempts must be between 1 and %d", maxAttemptsLimit))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidJob, strings.Join(problems, "; "))
	}
	return nil
}

// ToJob builds the PENDING job row, due immediately.
// When the body carries no job_id, messageID (the AMQP message-id property)
// keeps redeliveries idempotent.
func (m *Message) ToJob(messageID string, defaultMaxAttempts int, now time.Time) *domain.Job {
	maxAttempts := m.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}

	now = now.UTC()
	return &domain.Job{
		JobID:       resolveJobID(m.JobID, messageID),
		JobType:     domain.JobType(m.JobType),
		Payload:     m.Payload,
		Status:      domain.JobStatusPending,
		MaxAttempts: maxAttempts,
		NextRetryAt: now,
		LastError:   m.Error,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func resolveJobID(jobID, messageID string) string {
	if jobID != "" {
		return jobID
	}
	if messageID == "" {
		return uuid.NewString()
	}
	if id, err := uuid.Parse(messageID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(messageIDNamespace, []byte(messageID)).String()
}

// isMalformed reports whether err means the delivery must not be redelivered
func isMalformed(err error) bool {
	return errors.Is(err, domain.ErrInvalidJob)
}
