// Package commands implements the dlqctl operator CLI.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/truecheckia/retry-service/internal/bootstrap"
	"github.com/truecheckia/retry-service/internal/config"
	"github.com/truecheckia/retry-service/internal/dlq"
	"github.com/truecheckia/retry-service/internal/dlq/storage"
	"github.com/truecheckia/retry-service/shared/logger"
	"github.com/truecheckia/retry-service/shared/postgresql"
	"github.com/truecheckia/retry-service/shared/rabbitmq"
	"github.com/truecheckia/retry-service/shared/redis"
)

// NewRootCommand creates the dlqctl command tree
func NewRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "dlqctl",
		Short:         "Operate the DLQ retry service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "configs/api-service/config.yaml"
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfig, "config file path")

	root.AddCommand(
		newSweepCommand(&configFile, openRuntime),
		newStatsCommand(&configFile, openRuntime),
		newRecoverCommand(&configFile, openRuntime),
		newTriggerCommand(),
	)

	return root
}

// runtime holds the clients a local command needs
type runtime struct {
	logger    *logger.Logger
	db        *postgresql.Client
	cache     *redis.Client
	mail      *rabbitmq.Client
	processor *dlq.Processor
}

// runtimeOpener builds the runtime for a local command
type runtimeOpener func(ctx context.Context, configFile string, withHandlers bool) (*runtime, error)

// openRuntime connects to the job store and, when reachable, Redis and the
// mail exchange. withHandlers is false for commands that never run jobs.
func openRuntime(ctx context.Context, configFile string, withHandlers bool) (*runtime, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	rt := &runtime{logger: appLogger}

	rt.db, err = bootstrap.NewPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	store := storage.NewStorage(rt.db.DB(), appLogger.Logger)

	var cache dlq.Cache
	if rt.cache, err = bootstrap.NewRedis(ctx, &cfg.Redis, appLogger.Logger); err != nil {
		appLogger.Warn("Redis unavailable, metrics will not be recorded", slog.String("error", err.Error()))
		rt.cache = nil
	} else {
		cache = rt.cache
	}

	registry := dlq.NewRegistry()
	if withHandlers {
		if err := cfg.ValidateProcessorConfig(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		rt.mail, err = bootstrap.NewMailPublisher(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		registry, err = bootstrap.NewRegistry(cfg, rt.mail, appLogger.Logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
	}

	rt.processor = bootstrap.NewProcessor(&cfg.DLQ, store, cache, registry, appLogger.Logger)
	return rt, nil
}

// Close releases every client that was opened
func (r *runtime) Close() {
	if r.mail != nil {
		_ = r.mail.Close()
	}
	if r.cache != nil {
		_ = r.cache.Close()
	}
	if r.db != nil {
		_ = r.db.Close()
	}
	if r.logger != nil {
		_ = r.logger.Close()
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
