package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Cache keys read by the dashboard and alerting backends
const (
	MetricsKey = "dlq:metrics:latest"
	AlertKey   = "dlq:alerts:latest"
)

// MetricsConfig controls what the recorder writes and for how long
type MetricsConfig struct {
	SnapshotTTL    time.Duration
	AlertTTL       time.Duration
	AlertThreshold int
}

// Snapshot is the JSON document stored after each sweep
type Snapshot struct {
	Processed  int        `json:"processed"`
	Failed     int        `json:"failed"`
	Recovered  int64      `json:"recovered"`
	DurationMS int64      `json:"duration_ms"`
	Errors     []JobError `json:"errors"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// Alert is written when a sweep fails more jobs than the threshold
type Alert struct {
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Failed     int        `json:"failed"`
	Threshold  int        `json:"threshold"`
	Errors     []JobError `json:"errors"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// MetricsRecorder persists sweep snapshots into a Cache. Writes are best-effort.
type MetricsRecorder struct {
	cache  Cache
	config MetricsConfig
	logger *slog.Logger
}

// NewMetricsRecorder creates a recorder; zero config values fall back to 5m/1h/5
func NewMetricsRecorder(cache Cache, config MetricsConfig, logger *slog.Logger) *MetricsRecorder {
	if config.SnapshotTTL <= 0 {
		config.SnapshotTTL = 5 * time.Minute
	}
	if config.AlertTTL <= 0 {
		config.AlertTTL = time.Hour
	}
	if config.AlertThreshold <= 0 {
		config.AlertThreshold = 5
	}

	return &MetricsRecorder{
		cache:  cache,
		config: config,
		logger: logger,
	}
}

// Record writes the snapshot and, past the threshold, an alert.
// Cache failures are logged and swallowed.
func (m *MetricsRecorder) Record(ctx context.Context, snapshot Snapshot) {
	if m == nil || m.cache == nil {
		return
	}

	if err := m.write(ctx, MetricsKey, snapshot, m.config.SnapshotTTL); err != nil {
		m.logger.Error("Failed to record DLQ metrics",
			slog.String("key", MetricsKey),
			slog.String("error", err.Error()),
		)
	}

	if snapshot.Failed <= m.config.AlertThreshold {
		return
	}

	alert := Alert{
		Severity:   "high",
		Message:    fmt.Sprintf("DLQ sweep failed %d jobs (threshold %d)", snapshot.Failed, m.config.AlertThreshold),
		Failed:     snapshot.Failed,
		Threshold:  m.config.AlertThreshold,
		Errors:     snapshot.Errors,
		RecordedAt: snapshot.RecordedAt,
	}

	m.logger.Warn("DLQ failure threshold exceeded",
		slog.Int("failed", snapshot.Failed),
		slog.Int("threshold", m.config.AlertThreshold),
	)

	if err := m.write(ctx, AlertKey, alert, m.config.AlertTTL); err != nil {
		m.logger.Error("Failed to record DLQ alert",
			slog.String("key", AlertKey),
			slog.String("error", err.Error()),
		)
	}
}

// Latest returns the most recent snapshot, or ErrCacheMiss once it has expired
func (m *MetricsRecorder) Latest(ctx context.Context) (*Snapshot, error) {
	if m == nil || m.cache == nil {
		return nil, ErrCacheMiss
	}

	data, err := m.cache.Get(ctx, MetricsKey)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read metrics snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode metrics snapshot: %w", err)
	}
	return &snapshot, nil
}

func (m *MetricsRecorder) write(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return m.cache.Set(ctx, key, data, ttl)
}
