package intake

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/truecheckia/retry-service/internal/dlq/domain"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"job_type":"analysis","payload":{"x":1}}`},
		{name: "valid with id", body: `{"job_id":"0b5f7c1e-2d3a-4b6c-8d9e-0f1a2b3c4d5e","job_type":"email","payload":{}}`},
		{name: "broken json", body: `{"job_type":`, wantErr: "invalid job"},
		{name: "missing type", body: `{"payload":{}}`, wantErr: "job_type is required"},
		{name: "missing payload", body: `{"job_type":"analysis"}`, wantErr: "payload is required"},
		{name: "null payload", body: `{"job_type":"analysis","payload":null}`, wantErr: "payload is required"},
		{name: "bad id", body: `{"job_id":"x","job_type":"analysis","payload":{}}`, wantErr: "job_id must be a UUID"},
		{name: "too many attempts", body: `{"job_type":"analysis","payload":{},"max_attempts":21}`, wantErr: "max_attempts"},
		{name: "negative attempts", body: `{"job_type":"analysis","payload":{},"max_attempts":-1}`, wantErr: "max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.body))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidJob)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, msg.JobType)
		})
	}
}

func TestMessage_ToJob(t *testing.T) {
	const bodyID = "0b5f7c1e-2d3a-4b6c-8d9e-0f1a2b3c4d5e"
	const headerID = "7d3e2a10-4c5b-4f6a-8b7c-9d0e1f2a3b4c"

	tests := []struct {
		name            string
		msg             Message
		messageID       string
		defaultAttempts int
		wantID          string
		wantAttempts    int
	}{
		{name: "body id wins", msg: Message{JobID: bodyID}, messageID: headerID, defaultAttempts: 3, wantID: bodyID, wantAttempts: 3},
		{name: "uuid message id", msg: Message{}, messageID: headerID, defaultAttempts: 3, wantID: headerID, wantAttempts: 3},
		{
			name:            "opaque message id is hashed",
			msg:             Message{MaxAttempts: 7},
			messageID:       "msg-42",
			defaultAttempts: 3,
			wantID:          uuid.NewSHA1(messageIDNamespace, []byte("msg-42")).String(),
			wantAttempts:    7,
		},
		{name: "fallback attempts", msg: Message{JobID: bodyID}, wantID: bodyID, wantAttempts: domain.DefaultMaxAttempts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.msg.JobType = "analysis"
			job := tt.msg.ToJob(tt.messageID, tt.defaultAttempts, t0)
			assert.Equal(t, tt.wantID, job.JobID)
			assert.Equal(t, tt.wantAttempts, job.MaxAttempts)
			assert.Equal(t, domain.JobStatusPending, job.Status)
			assert.True(t, job.NextRetryAt.Equal(t0))
		})
	}

	t.Run("no ids generates a random uuid", func(t *testing.T) {
		a := (&Message{JobType: "analysis"}).ToJob("", 3, t0)
		b := (&Message{JobType: "analysis"}).ToJob("", 3, t0)
		_, err := uuid.Parse(a.JobID)
		require.NoError(t, err)
		assert.NotEqual(t, a.JobID, b.JobID)
	})
}
