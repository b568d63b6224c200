// Package intake turns failed-job messages from RabbitMQ into PENDING job rows.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/truecheckia/retry-service/internal/dlq/domain"
)

// ErrDeliveriesClosed is returned by Start when the broker closes the delivery channel
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// Source delivers messages from the intake queue
type Source interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Cancel(consumerTag string) error
}

// JobCreator persists new jobs
type JobCreator interface {
	CreateJob(ctx context.Context, job *domain.Job) error
}

// Config holds consumer configuration
type Config struct {
	Logger             *slog.Logger
	Source             Source
	Store              JobCreator
	ConsumerTag        string
	Concurrency        int
	DefaultMaxAttempts int
	StoreTimeout       time.Duration
	Clock              func() time.Time
}

// Stats counts delivery outcomes since start
type Stats struct {
	Accepted   int64
	Duplicates int64
	Malformed  int64
	Requeued   int64
}

// Consumer reads jobs.failed deliveries and stores them with a goroutine pool
type Consumer struct {
	logger             *slog.Logger
	source             Source
	store              JobCreator
	consumerTag        string
	concurrency        int
	defaultMaxAttempts int
	storeTimeout       time.Duration
	now                func() time.Time

	jobsChan chan amqp.Delivery
	wg       sync.WaitGroup

	accepted   atomic.Int64
	duplicates atomic.Int64
	malformed  atomic.Int64
	requeued   atomic.Int64
}

// NewConsumer creates a consumer
func NewConsumer(cfg *Config) *Consumer {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	storeTimeout := cfg.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = 10 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	tag := cfg.ConsumerTag
	if tag == "" {
		tag = "dlq-intake"
	}

	return &Consumer{
		logger:             cfg.Logger,
		source:             cfg.Source,
		store:              cfg.Store,
		consumerTag:        tag,
		concurrency:        concurrency,
		defaultMaxAttempts: cfg.DefaultMaxAttempts,
		storeTimeout:       storeTimeout,
		now:                clock,
		jobsChan:           make(chan amqp.Delivery, concurrency),
	}
}

// Start consumes until ctx is canceled or the broker closes the channel.
// It returns after every dispatched delivery has been acked or nacked.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Intake consumer started",
		slog.String("consumer_tag", c.consumerTag),
		slog.Int("concurrency", c.concurrency),
	)

	c.spawnWorkerPool()
	err = c.dispatch(ctx, deliveries)

	close(c.jobsChan)
	c.wg.Wait()

	stats := c.Stats()
	c.logger.Info("Intake consumer stopped",
		slog.Int64("accepted", stats.Accepted),
		slog.Int64("duplicates", stats.Duplicates),
		slog.Int64("malformed", stats.Malformed),
		slog.Int64("requeued", stats.Requeued),
	)
	return err
}

// Stats returns the outcome counters
func (c *Consumer) Stats() Stats {
	return Stats{
		Accepted:   c.accepted.Load(),
		Duplicates: c.duplicates.Load(),
		Malformed:  c.malformed.Load(),
		Requeued:   c.requeued.Load(),
	}
}

// dispatch forwards deliveries to the pool
func (c *Consumer) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			c.cancelConsumer()
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return ErrDeliveriesClosed
			}

			select {
			case c.jobsChan <- delivery:
				c.logger.Debug("Delivery dispatched to worker pool",
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				c.nack(delivery, true)
				c.cancelConsumer()
				return nil
			}
		}
	}
}

func (c *Consumer) cancelConsumer() {
	c.logger.Info("Intake dispatcher stopping - context canceled")
	if err := c.source.Cancel(c.consumerTag); err != nil {
		c.logger.Warn("Failed to cancel consumer",
			slog.String("consumer_tag", c.consumerTag),
			slog.String("error", err.Error()),
		)
	}
}
