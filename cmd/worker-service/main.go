package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/truecheckia/retry-service/internal/bootstrap"
	"github.com/truecheckia/retry-service/internal/config"
	"github.com/truecheckia/retry-service/internal/dlq/storage"
	"github.com/truecheckia/retry-service/internal/intake"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
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
	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting intake worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := bootstrap.NewPostgreSQL(context.Background(), &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	store := storage.NewStorage(dbClient.DB(), appLogger.Logger)
	if cfg.Database.AutoMigrate {
		if err := store.Migrate(context.Background()); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	rabbitClient, err := bootstrap.NewIntakeConsumer(&cfg.RabbitMQ, cfg.Intake.Concurrency, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	hostname, _ := os.Hostname()
	consumer := intake.NewConsumer(&intake.Config{
		Logger:             appLogger.Logger,
		Source:             rabbitClient,
		Store:              store,
		ConsumerTag:        fmt.Sprintf("dlq-intake-%s-%d", hostname, os.Getpid()),
		Concurrency:        cfg.Intake.Concurrency,
		DefaultMaxAttempts: cfg.DLQ.DefaultMaxAttempts,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- consumer.Start(ctx)
	}()

	appLogger.Info("Intake worker started",
		slog.String("queue", cfg.RabbitMQ.Intake.Queue),
		slog.Int("concurrency", cfg.Intake.Concurrency),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if errors.Is(err, intake.ErrDeliveriesClosed) {
			appLogger.Error("Intake consumer lost its channel", slog.Any("error", err))
		}
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Intake.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Intake consumer stopped with error", slog.Any("error", err))
		} else {
			appLogger.Info("Intake consumer stopped gracefully")
		}
	case <-shutdownCtx.Done():
		appLogger.Warn("Intake shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}
