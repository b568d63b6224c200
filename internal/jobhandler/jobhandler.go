// Package jobhandler holds the handlers the retry processor re-runs per job type.
package jobhandler

import (
	"fmt"
	"log/slog"

	"github.com/truecheckia/retry-service/internal/dlq"
	"github.com/truecheckia/retry-service/internal/dlq/domain"
)

// Config selects and configures the built-in handlers
type Config struct {
	Analysis        AnalysisConfig
	EmailPublisher  Publisher
	EmailRoutingKey string
}

// NewRegistry registers the analysis handler and, when a publisher is
// available, the email handler
func NewRegistry(cfg Config, logger *slog.Logger) (*dlq.Registry, error) {
	registry := dlq.NewRegistry()

	if cfg.Analysis.URL != "" {
		analysis := NewAnalysis(cfg.Analysis, logger.With(slog.String("handler", string(domain.JobTypeAnalysis))))
		if err := registry.Register(domain.JobTypeAnalysis, analysis); err != nil {
			return nil, fmt.Errorf("failed to register analysis handler: %w", err)
		}
	}

	if cfg.EmailPublisher != nil {
		email := NewEmail(cfg.EmailPublisher, cfg.EmailRoutingKey, logger.With(slog.String("handler", string(domain.JobTypeEmail))))
		if err := registry.Register(domain.JobTypeEmail, email); err != nil {
			return nil, fmt.Errorf("failed to register email handler: %w", err)
		}
	}

	return registry, nil
}
