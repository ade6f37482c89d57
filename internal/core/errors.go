package core

import (
	"errors"
)

// Error taxonomy for the pipeline. Sentinels are wrapped with context at the
// call site and matched with errors.Is by callers deciding retry policy.
var (
	// ErrValidation indicates a malformed request, such as a missing category.
	ErrValidation = errors.New("invalid request")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUpstreamUnavailable indicates the mailbox or ML call failed or timed
	// out. Recoverable: retried at the next sync cycle or queue attempt.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInvalidResponse indicates a malformed upstream payload. The message
	// keeps its prior classification.
	ErrInvalidResponse = errors.New("invalid upstream response")

	// ErrPersistence indicates a store write failed. Aborts the current job
	// since progress counters can no longer be trusted.
	ErrPersistence = errors.New("persistence failure")

	// ErrCancelled indicates a user-initiated cancellation. Terminal but not a
	// processing failure.
	ErrCancelled = errors.New("job cancelled")
)
