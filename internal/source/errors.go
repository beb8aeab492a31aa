package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"city-vibe/pkg/httpclient"
)

// Class partitions source failures by how the orchestrator should react.
type Class string

const (
	// ClassTransient covers network failures, 5xx and rate limiting:
	// retry later, keep stale data in the meantime.
	ClassTransient Class = "transient"
	// ClassPermanent covers 4xx-class failures: do not retry, surface as
	// a per-city failure.
	ClassPermanent Class = "permanent"
	// ClassInvalidResponse covers well-formed transport with a payload we
	// cannot use: log and skip the reading, never crash the batch.
	ClassInvalidResponse Class = "invalid_response"
)

// TransientError wraps a retryable upstream failure.
type TransientError struct {
	Source string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports that the failure is retryable.
func (e *TransientError) IsTransient() bool { return true }

// PermanentError wraps a non-retryable upstream failure.
type PermanentError struct {
	Source string
	Err    error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent failure: %v", e.Source, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports that the failure is not retryable.
func (e *PermanentError) IsTransient() bool { return false }

// InvalidResponseError marks an upstream payload that could not be used.
type InvalidResponseError struct {
	Source string
	Reason string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("%s: invalid response: %s", e.Source, e.Reason)
}

// IsTransient reports that a retry will not help for this payload.
func (e *InvalidResponseError) IsTransient() bool { return false }

// Classify maps an error from a source client onto its failure class.
func Classify(err error) Class {
	var invalid *InvalidResponseError
	if errors.As(err, &invalid) {
		return ClassInvalidResponse
	}

	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return ClassPermanent
	}

	var status *httpclient.StatusError
	if errors.As(err, &status) {
		if status.Code == http.StatusTooManyRequests || status.Code >= 500 {
			return ClassTransient
		}
		return ClassPermanent
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	// Errors from outside this package can carry their own classification.
	var t interface{ IsTransient() bool }
	if errors.As(err, &t) {
		if t.IsTransient() {
			return ClassTransient
		}
		return ClassPermanent
	}

	// Unknown failures are treated as retryable so the next scheduled run
	// picks the city up again.
	return ClassTransient
}

// wrapFetch converts a raw transport error into the taxonomy.
func wrapFetch(sourceName string, err error) error {
	var status *httpclient.StatusError
	if errors.As(err, &status) {
		if status.Code == http.StatusTooManyRequests || status.Code >= 500 {
			return &TransientError{Source: sourceName, Err: err}
		}
		return &PermanentError{Source: sourceName, Err: err}
	}
	return &TransientError{Source: sourceName, Err: err}
}
