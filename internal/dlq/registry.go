package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/truecheckia/retry-service/internal/dlq/domain"
)

// Handler re-runs the work described by a job payload
type Handler interface {
	Execute(ctx context.Context, payload json.RawMessage) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Execute calls f(ctx, payload)
func (f HandlerFunc) Execute(ctx context.Context, payload json.RawMessage) error {
	return f(ctx, payload)
}

// Registry maps job types to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.JobType]Handler
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[domain.JobType]Handler),
	}
}

// Register binds handler to jobType. Registering a type twice is an error.
func (r *Registry) Register(jobType domain.JobType, handler Handler) error {
	if jobType == "" {
		return fmt.Errorf("job type must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for %q must not be nil", jobType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("handler for %q already registered", jobType)
	}
	r.handlers[jobType] = handler
	return nil
}

// MustRegister is like Register but panics on error
func (r *Registry) MustRegister(jobType domain.JobType, handler Handler) {
	if err := r.Register(jobType, handler); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for jobType or ErrNoHandler
func (r *Registry) Lookup(jobType domain.JobType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrNoHandler, jobType)
	}
	return handler, nil
}

// Types returns the registered job types sorted by name
func (r *Registry) Types() []domain.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
