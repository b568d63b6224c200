package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/truecheckia/retry-service/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps.HealthChecks))

	dlqHandler := handler.NewDLQHandler(deps)
	jobHandler := handler.NewJobHandler(deps)

	// Cron trigger, called by the external scheduler
	cron := r.Group("/api/cron", BearerAuth(deps.CronSecret, deps.Logger))
	{
		cron.GET("/process-dlq", dlqHandler.ProcessDLQ)
		cron.POST("/process-dlq", dlqHandler.ProcessDLQ)
	}

	v1 := r.Group("/api/v1", BearerAuth(deps.APIToken, deps.Logger))
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
		}

		dlq := v1.Group("/dlq")
		{
			dlq.GET("/stats", dlqHandler.Stats)
			dlq.GET("/metrics", dlqHandler.Metrics)
		}
	}

	return r
}

func healthHandler(checks map[string]handler.HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		components := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				components[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			components[name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}

		c.JSON(status, gin.H{
			"status":     state,
			"service":    "dlq-retry-service",
			"components": components,
		})
	}
}
