package schema

import (
	"errors"
	"fmt"
)

// Error taxonomy. These can be checked using errors.Is():
//
//	if errors.Is(err, schema.ErrNetworkUnavailable) {
//	    // skip this cycle, keep the local snapshot
//	}
var (
	// ErrNetworkUnavailable is returned when the remote store could not be
	// reached or answered with a transient failure. Retryable.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrAuthExpired is returned when the remote store rejected the held
	// credential. Terminal for the session.
	ErrAuthExpired = errors.New("session expired")

	// ErrMalformedResponse is returned when a remote response could not be
	// converted into records.
	ErrMalformedResponse = errors.New("malformed remote response")

	// ErrStorageUnavailable is returned when the persistent store failed.
	// The context continues on its in-memory snapshot.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrOperationRejected is returned when the remote store refused an
	// operation. Not retryable.
	ErrOperationRejected = errors.New("operation rejected by server")

	// ErrNotFound is returned when a store key is absent.
	ErrNotFound = errors.New("not found")

	// ErrRetriesExhausted is reported when an operation failed on every
	// allowed attempt.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrPullInFlight is returned when a pull was dropped because another
	// pull is still running in the same context.
	ErrPullInFlight = errors.New("pull already in progress")

	// ErrStopped is returned by operations on a context that was torn down.
	ErrStopped = errors.New("sync context stopped")
)

// RejectedError carries the server's explanation for a refused operation.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (status %d)", ErrOperationRejected, e.Status)
	}
	return fmt.Sprintf("%s (status %d): %s", ErrOperationRejected, e.Status, e.Message)
}

// Unwrap lets errors.Is match ErrOperationRejected.
func (e *RejectedError) Unwrap() error {
	return ErrOperationRejected
}

// Class is the classification acted on when a submission fails.
type Class int

const (
	// ClassNone means the call succeeded.
	ClassNone Class = iota
	// ClassRetryable means the operation stays queued.
	ClassRetryable
	// ClassAuth means the session ended.
	ClassAuth
	// ClassRejected means the operation is dropped and reported.
	ClassRejected
)

// String returns a human-readable representation of the class.
func (c Class) String() string {
	switch c {
	case ClassNone:
		return "ok"
	case ClassRetryable:
		return "retryable"
	case ClassAuth:
		return "auth"
	case ClassRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Classify maps an error to the class the queue acts on.
// Network, malformed-response, cancellation and unknown errors are all
// retryable so that the operation is kept.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrAuthExpired):
		return ClassAuth
	case errors.Is(err, ErrOperationRejected):
		return ClassRejected
	default:
		return ClassRetryable
	}
}

// Retryable reports whether an operation failing with err should stay queued.
func Retryable(err error) bool {
	return Classify(err) == ClassRetryable
}
