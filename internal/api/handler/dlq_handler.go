package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/truecheckia/retry-service/internal/api/dto"
	"github.com/truecheckia/retry-service/internal/dlq"
)

// ProcessDLQ handles GET|POST /api/cron/process-dlq
// Runs one sweep for the external scheduler
func (h *DLQHandler) ProcessDLQ(c *gin.Context) {
	ctx := c.Request.Context()
	if h.sweepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.sweepTimeout)
		defer cancel()
	}

	h.logger.Info("DLQ sweep triggered",
		slog.String("method", c.Request.Method),
		slog.String("ip", c.ClientIP()),
	)

	report, err := h.sweeper.Sweep(ctx)
	if err != nil {
		h.logger.Error("DLQ sweep failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ProcessDLQResponse{
			Success: false,
			Message: "DLQ processing failed",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewProcessDLQResponse(report))
}

// Stats handles GET /api/v1/dlq/stats
func (h *DLQHandler) Stats(c *gin.Context) {
	stats, err := h.sweeper.GetStats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to read DLQ stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read DLQ stats",
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewDLQStats(stats))
}

// Metrics handles GET /api/v1/dlq/metrics
// Returns the snapshot recorded by the last sweep while it is cached
func (h *DLQHandler) Metrics(c *gin.Context) {
	snapshot, err := h.metrics.Latest(c.Request.Context())
	if err != nil {
		if errors.Is(err, dlq.ErrCacheMiss) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "no recent DLQ metrics",
			})
			return
		}
		h.logger.Error("Failed to read DLQ metrics", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read DLQ metrics",
		})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
