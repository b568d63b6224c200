package jobhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"github.com/truecheckia/retry-service/internal/dlq/domain"
	"golang.org/x/time/rate"
)

// maxErrorBody bounds the response body kept on a StatusError
const maxErrorBody = 512

// StatusError is returned when the analysis API answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("analysis api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("analysis api returned %d: %s", e.StatusCode, e.Body)
}

// AnalysisConfig configures the analysis handler
type AnalysisConfig struct {
	URL              string
	Timeout          time.Duration
	BreakerFailures  uint32
	BreakerOpenDelay time.Duration
	// RateLimit caps calls per second across the sweep; 0 disables the limit
	RateLimit        float64
	RateBurst        int
	HTTPClient       *http.Client
}

// Analysis re-submits a failed analysis request to the analysis API.
// Calls go through a circuit breaker so a down API fails jobs fast.
type Analysis struct {
	url     string
	timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewAnalysis creates the analysis handler
func NewAnalysis(cfg AnalysisConfig, logger *slog.Logger) *Analysis {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	openDelay := cfg.BreakerOpenDelay
	if openDelay <= 0 {
		openDelay = time.Minute
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	a := &Analysis{
		url:     cfg.URL,
		timeout: timeout,
		client:  client,
		logger:  logger,
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "analysis-api",
		MaxRequests: 1,
		Timeout:     openDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// 4xx means the payload is at fault, not the API
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return statusErr.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return a
}

// Execute posts payload to the analysis API within the configured timeout
func (a *Analysis) Execute(ctx context.Context, payload json.RawMessage) error {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("analysis rate limit: %w", err)
		}
	}

	_, err := a.breaker.Execute(func() (interface{}, error) {
		return nil, a.post(ctx, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("analysis api unavailable: %w", err)
	}
	return err
}

// State exposes the breaker state for health reporting
func (a *Analysis) State() gobreaker.State {
	return a.breaker.State()
}

func (a *Analysis) post(ctx context.Context, payload json.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Retry-Source", "dlq")

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			StatusCode: resp.StatusCode,
			Body:       domain.TruncateText(string(bytes.TrimSpace(body)), maxErrorBody),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	a.logger.Debug("Analysis request succeeded",
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)),
	)
	return nil
}
