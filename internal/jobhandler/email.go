package jobhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/truecheckia/retry-service/internal/dlq/domain"
)

// Publisher sends a message to the mail exchange
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// EmailPayload is the job payload of an email job
type EmailPayload struct {
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Template string            `json:"template"`
	Data     map[string]any    `json:"data,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Validate checks required fields and the recipient address
func (p *EmailPayload) Validate() error {
	if strings.TrimSpace(p.To) == "" || strings.TrimSpace(p.Subject) == "" || strings.TrimSpace(p.Template) == "" {
		return fmt.Errorf("%w: email requires to, subject and template", domain.ErrInvalidJob)
	}
	if _, err := mail.ParseAddress(p.To); err != nil {
		return fmt.Errorf("%w: invalid recipient %q", domain.ErrInvalidJob, p.To)
	}
	return nil
}

// Email re-publishes a failed email to the mail exchange
type Email struct {
	publisher  Publisher
	routingKey string
	logger     *slog.Logger
}

// NewEmail creates the email handler. routingKey defaults to "mail.send".
func NewEmail(publisher Publisher, routingKey string, logger *slog.Logger) *Email {
	if routingKey == "" {
		routingKey = "mail.send"
	}
	return &Email{
		publisher:  publisher,
		routingKey: routingKey,
		logger:     logger,
	}
}

// Execute validates the payload and publishes it
func (e *Email) Execute(ctx context.Context, payload json.RawMessage) error {
	var p EmailPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("%w: decode email payload: %v", domain.ErrInvalidJob, err)
	}
	if err := p.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode email message: %w", err)
	}

	if err := e.publisher.Publish(ctx, e.routingKey, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish email: %w", err)
	}

	e.logger.Info("Email re-published",
		slog.String("template", p.Template),
		slog.String("routing_key", e.routingKey),
	)
	return nil
}
