package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPrompt rejects a request with a blank prompt at admission.
	ErrEmptyPrompt = errors.New("prompt must not be empty")

	// ErrQueueTimeout resolves a request that waited in the queue past its budget.
	ErrQueueTimeout = errors.New("request timed out waiting in queue")

	// ErrQueueSaturated rejects a request at enqueue when the queue is full.
	ErrQueueSaturated = errors.New("request queue is saturated")

	// ErrCanceled resolves a request canceled by its caller.
	ErrCanceled = errors.New("request canceled")

	// ErrShuttingDown resolves requests still queued when the scheduler stops.
	ErrShuttingDown = errors.New("scheduler shutting down")
)

// UnknownModelError is returned before a request is enqueued when its forced
// model is not in the catalogue. Never retryable.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q", e.Model)
}

// DispatchError wraps a backend failure (connection, HTTP status, malformed
// stream frame) for a single batch member. Retryable by the caller; the
// scheduler itself never retries.
type DispatchError struct {
	Model string
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s failed: %v", e.Model, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the caller may retry the request. Queue
// pressure and transient dispatch failures are retryable; an invalid forced
// model and cancellations are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var dispatchErr *DispatchError
	if errors.As(err, &dispatchErr) {
		return true
	}
	return errors.Is(err, ErrQueueTimeout) || errors.Is(err, ErrQueueSaturated)
}
