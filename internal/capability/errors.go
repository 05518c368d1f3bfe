package capability

import (
	"context"
	"errors"
	"net"

	"google.golang.org/api/googleapi"
)

// FailureClass drives the dispatcher's retry decision.
type FailureClass int

const (
	// FailurePermanent covers validation and any other non-retryable error.
	FailurePermanent FailureClass = iota
	// FailureTransient covers network and upstream 429/5xx errors; retryable.
	FailureTransient
	// FailureAuth covers revoked or expired authorization; never retried.
	FailureAuth
)

// ErrAuthRevoked marks a call rejected because the capability's grant is gone.
var ErrAuthRevoked = errors.New("capability authorization revoked")

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so Classify reports it as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Classify buckets a capability call error for the retry loop.
func Classify(err error) FailureClass {
	if err == nil {
		return FailurePermanent
	}

	if errors.Is(err, ErrAuthRevoked) {
		return FailureAuth
	}

	var marked *transientError
	if errors.As(err, &marked) {
		return FailureTransient
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403:
			return FailureAuth
		case apiErr.Code == 429 || apiErr.Code >= 500:
			return FailureTransient
		default:
			return FailurePermanent
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}

	return FailurePermanent
}
