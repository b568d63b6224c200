// Package bootstrap builds the clients and services shared by the binaries
// from the loaded configuration.
package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/truecheckia/retry-service/internal/config"
	"github.com/truecheckia/retry-service/internal/dlq"
	"github.com/truecheckia/retry-service/internal/jobhandler"
	"github.com/truecheckia/retry-service/shared/logger"
	"github.com/truecheckia/retry-service/shared/postgresql"
	"github.com/truecheckia/retry-service/shared/rabbitmq"
	"github.com/truecheckia/retry-service/shared/redis"
)

// NewLogger initializes and configures the application logger
func NewLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// NewPostgreSQL initializes the PostgreSQL database client
func NewPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(ctx, &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectTimeout:  5 * time.Second,
	}, logger)
}

// NewRedis initializes the metrics cache client
func NewRedis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(ctx, &redis.Config{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, logger)
}

// RabbitMQConfig maps one topology onto a client config. Queue settings are
// only used by consumers; publishers pass a topology without a queue.
func RabbitMQConfig(cfg *config.RabbitMQConfig, topology config.TopologyConfig, prefetch int) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       topology.Exchange,
		ExchangeType:       topology.ExchangeType,
		ExchangeDurable:    topology.Durable,
		QueueName:          topology.Queue,
		QueueDurable:       topology.Durable,
		RoutingKey:         topology.RoutingKey,
		Prefetch:           prefetch,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// NewMailPublisher connects to the mail exchange used by the email handler
func NewMailPublisher(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(RabbitMQConfig(cfg, cfg.Mail, 0), logger)
}

// NewIntakeConsumer connects to the failed-job intake queue
func NewIntakeConsumer(cfg *config.RabbitMQConfig, prefetch int, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(RabbitMQConfig(cfg, cfg.Intake, prefetch), logger)
}

// NewRegistry registers the job handlers enabled by cfg
func NewRegistry(cfg *config.Config, mail jobhandler.Publisher, logger *slog.Logger) (*dlq.Registry, error) {
	return jobhandler.NewRegistry(jobhandler.Config{
		Analysis: jobhandler.AnalysisConfig{
			URL:              cfg.Analysis.URL,
			Timeout:          cfg.Analysis.Timeout,
			BreakerFailures:  cfg.Analysis.BreakerFailures,
			BreakerOpenDelay: cfg.Analysis.BreakerOpenDelay,
			RateLimit:        cfg.Analysis.RateLimit,
			RateBurst:        cfg.Analysis.RateBurst,
		},
		EmailPublisher:  mail,
		EmailRoutingKey: cfg.Email.RoutingKey,
	}, logger)
}

// NewProcessor wires the scheduler, metrics recorder and processor
func NewProcessor(cfg *config.DLQConfig, store dlq.Store, cache dlq.Cache, registry *dlq.Registry, logger *slog.Logger) *dlq.Processor {
	var metrics *dlq.MetricsRecorder
	if cache != nil {
		metrics = NewMetricsRecorder(cfg, cache, logger)
	}

	return dlq.NewProcessor(&dlq.Config{
		Logger:            logger,
		Store:             store,
		Registry:          registry,
		Scheduler:         dlq.NewScheduler(cfg.BaseDelay, cfg.MaxDelay),
		Metrics:           metrics,
		BatchSize:         cfg.BatchSize,
		MaxReportedErrors: cfg.MaxReportedErrors,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StaleAfter:        cfg.StaleAfter,
		StoreTimeout:      cfg.StoreTimeout,
	})
}

// NewMetricsRecorder builds the recorder that writes sweep snapshots to cache
func NewMetricsRecorder(cfg *config.DLQConfig, cache dlq.Cache, logger *slog.Logger) *dlq.MetricsRecorder {
	return dlq.NewMetricsRecorder(cache, dlq.MetricsConfig{
		SnapshotTTL:    cfg.SnapshotTTL,
		AlertTTL:       cfg.AlertTTL,
		AlertThreshold: cfg.AlertThreshold,
	}, logger)
}
