package lease

import (
	"context"
	"errors"

	"github.com/VenkatGGG/leasehold/internal/resource"
)

// Validation errors. Returned before storage is touched.
var (
	ErrInvalidName     = errors.New("resource name must be between 1 and 120 characters")
	ErrInvalidDuration = errors.New("claim duration out of range")
	ErrInvalidMessage  = errors.New("claim message must be at most 200 characters")
	ErrNoClaimant      = errors.New("claimant is required")
)

// Precondition errors. The authoritative reason a transition was refused.
var (
	ErrAlreadyClaimed = errors.New("resource is already claimed")
	ErrNotHolder      = errors.New("resource is claimed by someone else")
	ErrNotClaimed     = errors.New("resource is not claimed")
)

var ErrNotFound = resource.ErrNotFound

type ErrorKind string

const (
	KindNone         ErrorKind = ""
	KindValidation   ErrorKind = "validation"
	KindPrecondition ErrorKind = "precondition"
	KindNotFound     ErrorKind = "not_found"
	KindStorage      ErrorKind = "storage"
)

// Kind classifies err for transports. Anything unrecognised, including
// context cancellation, is a storage failure whose outcome is unknown.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidName),
		errors.Is(err, ErrInvalidDuration),
		errors.Is(err, ErrInvalidMessage),
		errors.Is(err, ErrNoClaimant):
		return KindValidation
	case errors.Is(err, ErrAlreadyClaimed),
		errors.Is(err, ErrNotHolder),
		errors.Is(err, ErrNotClaimed):
		return KindPrecondition
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindStorage
	}
}

// IsRetryable reports whether err may be retried after the caller has
// re-read current state.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return Kind(err) == KindStorage
}
