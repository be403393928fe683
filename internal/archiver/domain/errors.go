package domain

import "errors"

var (
	// ErrMalformedMessage is returned when a message body is not a valid event
	ErrMalformedMessage = errors.New("malformed event message")

	// ErrInvalidJobID is returned when an event carries a job_id that is not a UUID
	ErrInvalidJobID = errors.New("invalid job_id")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
