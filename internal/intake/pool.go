package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/truecheckia/retry-service/internal/dlq/domain"
)

// spawnWorkerPool starts the storing goroutines
func (c *Consumer) spawnWorkerPool() {
	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go c.workerLoop(fmt.Sprintf("%s-%d", c.consumerTag, i))
	}
}

// workerLoop drains jobsChan until the dispatcher closes it
func (c *Consumer) workerLoop(workerName string) {
	defer c.wg.Done()

	for delivery := range c.jobsChan {
		c.handleDelivery(workerName, delivery)
	}

	c.logger.Debug("Intake worker stopped", slog.String("worker_name", workerName))
}

// handleDelivery stores one delivery and settles it.
// Store calls use their own timeout so shutdown does not abort an in-flight insert.
func (c *Consumer) handleDelivery(workerName string, delivery amqp.Delivery) {
	msg, err := DecodeMessage(delivery.Body)
	if err != nil {
		c.logger.Error("Malformed intake message",
			slog.String("worker_name", workerName),
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.String("error", err.Error()),
		)
		c.malformed.Add(1)
		c.nack(delivery, false)
		return
	}

	job := msg.ToJob(delivery.MessageId, c.defaultMaxAttempts, c.now())

	ctx, cancel := context.WithTimeout(context.Background(), c.storeTimeout)
	defer cancel()

	err = c.store.CreateJob(ctx, job)
	switch {
	case err == nil:
		c.accepted.Add(1)
		c.logger.Info("Failed job stored for retry",
			slog.String("worker_name", workerName),
			slog.String("job_id", job.JobID),
			slog.String("job_type", string(job.JobType)),
			slog.Int("max_attempts", job.MaxAttempts),
		)
		c.ack(delivery)

	case errors.Is(err, domain.ErrJobExists):
		c.duplicates.Add(1)
		c.logger.Debug("Job already stored, acking redelivery",
			slog.String("job_id", job.JobID),
		)
		c.ack(delivery)

	case isMalformed(err):
		c.malformed.Add(1)
		c.nack(delivery, false)

	default:
		c.requeued.Add(1)
		c.logger.Error("Failed to store job, requeueing",
			slog.String("worker_name", workerName),
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		c.nack(delivery, true)
	}
}

func (c *Consumer) ack(delivery amqp.Delivery) {
	if err := delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ACK message",
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Consumer) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		c.logger.Error("Failed to NACK message",
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
	}
}
