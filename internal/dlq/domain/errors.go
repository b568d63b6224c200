package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when creating a job whose id is already stored
	ErrJobExists = errors.New("job already exists")

	// ErrJobAlreadyClaimed is returned when the conditional claim update matched no row
	ErrJobAlreadyClaimed = errors.New("job already claimed or not eligible")

	// ErrInvalidJob is returned for malformed job input such as a missing id
	ErrInvalidJob = errors.New("invalid job")

	// ErrNoHandler is returned when no handler is registered for a job type
	ErrNoHandler = errors.New("no handler registered for job type")

	// ErrJobNotTerminal is returned when deleting a job that can still run
	ErrJobNotTerminal = errors.New("job is not in a terminal state")

	// ErrOwnershipLost is returned when an outcome is written for a job that is no longer PROCESSING
	ErrOwnershipLost = errors.New("job is no longer owned by this sweep")
)

// HandlerPanicError wraps a value recovered from a panicking job handler
type HandlerPanicError struct {
	Value any
}

func (e *HandlerPanicError) Error() string {
	return "handler panic: " + formatPanic(e.Value)
}

func formatPanic(v any) string {
	switch val := v.(type) {
	case error:
		return val.Error()
	case string:
		return val
	default:
		return "non-error value"
	}
}
