package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/truecheckia/retry-service/internal/api/handler"
	"github.com/truecheckia/retry-service/internal/api/router"
	"github.com/truecheckia/retry-service/internal/bootstrap"
	"github.com/truecheckia/retry-service/internal/config"
	"github.com/truecheckia/retry-service/internal/dlq"
	"github.com/truecheckia/retry-service/internal/dlq/storage"
	"github.com/truecheckia/retry-service/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx := context.Background()

	dbClient, err := bootstrap.NewPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	store := storage.NewStorage(dbClient.DB(), appLogger.Logger)
	if cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		appLogger.Info("Database schema applied")
	}

	healthChecks := map[string]handler.HealthCheck{
		"database": dbClient.HealthCheck,
	}

	// Metrics are best-effort: the service runs without Redis
	var cache dlq.Cache
	redisClient, err := bootstrap.NewRedis(ctx, &cfg.Redis, appLogger.Logger)
	if err != nil {
		appLogger.Warn("Redis unavailable, DLQ metrics disabled",
			slog.String("error", err.Error()),
		)
	} else {
		defer redisClient.Close()
		cache = redisClient
		healthChecks["redis"] = redisClient.Ping
	}

	// Email jobs fail and retry later if the mail exchange is unreachable
	var mailClient *rabbitmq.Client
	if cfg.RabbitMQ.Mail.Exchange != "" {
		mailClient, err = bootstrap.NewMailPublisher(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer mailClient.Close()
		healthChecks["rabbitmq"] = func(context.Context) error {
			if !mailClient.IsConnected() {
				return rabbitmq.ErrNotConnected
			}
			return nil
		}
	}

	registry, err := newRegistry(cfg, mailClient, appLogger.Logger)
	if err != nil {
		return err
	}

	processor := bootstrap.NewProcessor(&cfg.DLQ, store, cache, registry, appLogger.Logger)

	var metrics handler.MetricsReader
	if cache != nil {
		metrics = bootstrap.NewMetricsRecorder(&cfg.DLQ, cache, appLogger.Logger)
	}

	r := initRouter(cfg, appLogger.Logger, &handler.Dependencies{
		Logger:             appLogger.Logger,
		Jobs:               store,
		Sweeper:            processor,
		Metrics:            metrics,
		HealthChecks:       healthChecks,
		CronSecret:         cfg.Auth.CronSecret,
		APIToken:           cfg.Auth.APIToken,
		DefaultMaxAttempts: cfg.DLQ.DefaultMaxAttempts,
		SweepTimeout:       cfg.DLQ.SweepTimeout,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		slog.Any("job_types", registry.Types()),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// newRegistry avoids handing a typed nil publisher to the registry
func newRegistry(cfg *config.Config, mailClient *rabbitmq.Client, logger *slog.Logger) (*dlq.Registry, error) {
	if mailClient == nil {
		return bootstrap.NewRegistry(cfg, nil, logger)
	}
	return bootstrap.NewRegistry(cfg, mailClient, logger)
}

// initRouter sets the Gin mode and builds the router
func initRouter(cfg *config.Config, logger *slog.Logger, deps *handler.Dependencies) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	logger.Debug("Router initialized",
		slog.Bool("cron_enabled", deps.CronSecret != ""),
		slog.Bool("admin_api_enabled", deps.APIToken != ""),
	)

	return router.SetupRouter(deps)
}
