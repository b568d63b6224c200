package dto

import (
	"fmt"

	"github.com/truecheckia/retry-service/internal/dlq"
	"github.com/truecheckia/retry-service/internal/dlq/domain"
)

// DLQStats is the per-status breakdown reported to cron callers
type DLQStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Failed     int64 `json:"failed"`
	Dead       int64 `json:"dead"`
	Completed  int64 `json:"completed"`
	Total      int64 `json:"total"`
}

// NewDLQStats converts store counts into the response shape, adding the total
func NewDLQStats(s domain.Stats) DLQStats {
	return DLQStats{
		Pending:    s.Pending,
		Processing: s.Processing,
		Failed:     s.Failed,
		Dead:       s.Dead,
		Completed:  s.Completed,
		Total:      s.Total(),
	}
}

// ProcessDLQResults summarizes one sweep
type ProcessDLQResults struct {
	Processed  int            `json:"processed"`
	Failed     int            `json:"failed"`
	Recovered  int64          `json:"recovered"`
	Duration   string         `json:"duration"`
	DLQStats   DLQStats       `json:"dlqStats"`
	ErrorCount int            `json:"errorCount"`
	Errors     []dlq.JobError `json:"errors"`
}

// ProcessDLQResponse is the body returned by the cron trigger
type ProcessDLQResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Results *ProcessDLQResults `json:"results,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// NewProcessDLQResponse renders a finished sweep for the cron caller.
// errorCount counts the reported errors, which are capped per sweep.
func NewProcessDLQResponse(report *dlq.SweepReport) ProcessDLQResponse {
	return ProcessDLQResponse{
		Success: true,
		Message: "DLQ processing completed",
		Results: &ProcessDLQResults{
			Processed:  report.Processed,
			Failed:     report.Failed,
			Recovered:  report.Recovered,
			Duration:   fmt.Sprintf("%dms", report.Duration.Milliseconds()),
			DLQStats:   NewDLQStats(report.Stats),
			ErrorCount: len(report.Errors),
			Errors:     report.Errors,
		},
	}
}
