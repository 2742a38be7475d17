package resource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/exp/rand"
)

var (
	ErrNotFound           = errors.New("resource not found")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrPreconditionFailed = errors.New("resource precondition failed")
	ErrInvariant          = errors.New("claimed_by and claim_expires_at must be set together")
	ErrConflict           = errors.New("resource write conflict")
)

// Backoff between optimistic write attempts. Losing a version race is
// retried until the precondition decides or ctx is done.
const (
	minRetryBackoff = time.Millisecond
	maxRetryBackoff = 50 * time.Millisecond
)

// errStaleWrite reports that another writer changed the record between
// read and write.
var errStaleWrite = errors.New("stale write")

// retryStale runs attempt until it stops returning errStaleWrite. A caller
// whose ctx ends while still racing gets ErrConflict joined with ctx.Err().
func retryStale(ctx context.Context, attempt func() (Resource, error)) (Resource, error) {
	backoff := minRetryBackoff
	for {
		written, err := attempt()
		if !errors.Is(err, errStaleWrite) {
			return written, err
		}

		wait := backoff/2 + time.Duration(rand.Int63n(int64(backoff/2)+1))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Resource{}, fmt.Errorf("%w: %w", ErrConflict, ctx.Err())
		case <-timer.C:
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

// Resource is the persisted record of one contended resource. An empty
// ClaimedBy and a nil ClaimExpiresAt both mean "absent".
type Resource struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	ClaimedBy      string     `json:"claimed_by,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`
	ClaimMessage   string     `json:"claim_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HasClaim reports whether claim fields are recorded, live or not.
func (r Resource) HasClaim() bool {
	return r.ClaimedBy != "" && r.ClaimExpiresAt != nil
}

// LiveAt reports whether the recorded claim is still in force at now.
func (r Resource) LiveAt(now time.Time) bool {
	return r.HasClaim() && r.ClaimExpiresAt.After(now)
}

// HeldByAt reports whether claimantID holds a live claim at now.
func (r Resource) HeldByAt(claimantID string, now time.Time) bool {
	return r.LiveAt(now) && r.ClaimedBy == claimantID
}

// Remaining returns the time left on a live claim, zero otherwise.
func (r Resource) Remaining(now time.Time) time.Duration {
	if !r.LiveAt(now) {
		return 0
	}
	return r.ClaimExpiresAt.Sub(now)
}

// WithClaim returns a copy holding a claim by claimantID until expiresAt.
func (r Resource) WithClaim(claimantID string, expiresAt time.Time, message string) Resource {
	at := expiresAt.UTC()
	r.ClaimedBy = claimantID
	r.ClaimExpiresAt = &at
	r.ClaimMessage = message
	return r
}

// WithoutClaim returns a copy with every claim field cleared.
func (r Resource) WithoutClaim() Resource {
	r.ClaimedBy = ""
	r.ClaimExpiresAt = nil
	r.ClaimMessage = ""
	return r
}

func (r Resource) validate() error {
	if (r.ClaimedBy == "") != (r.ClaimExpiresAt == nil) {
		return ErrInvariant
	}
	return nil
}

func (r Resource) clone() Resource {
	if r.ClaimExpiresAt != nil {
		at := *r.ClaimExpiresAt
		r.ClaimExpiresAt = &at
	}
	return r
}

// Precondition inspects the current record inside a conditional write. A
// non-nil error aborts the write.
type Precondition func(current Resource) error

// Mutation derives the record to persist from the current one.
type Mutation func(current Resource) Resource

// Store is the durable, per-resource linearizable record keeper.
type Store interface {
	Read(ctx context.Context, id string) (Resource, error)
	ConditionalWrite(ctx context.Context, id string, check Precondition, mutate Mutation) (Resource, error)
	Insert(ctx context.Context, id, name string) (Resource, error)
}

// applyTransition runs check and mutate against current and returns the
// record that should be persisted. Identity fields cannot be changed by a
// mutation.
func applyTransition(current Resource, check Precondition, mutate Mutation, now time.Time) (Resource, error) {
	if check != nil {
		if err := check(current.clone()); err != nil {
			return Resource{}, fmt.Errorf("%w: %w", ErrPreconditionFailed, err)
		}
	}
	next := current.clone()
	if mutate != nil {
		next = mutate(next)
	}
	next.ID = current.ID
	next.Name = current.Name
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = now.UTC()
	if err := next.validate(); err != nil {
		return Resource{}, err
	}
	return next, nil
}

func normalizeID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", errors.New("resource id is required")
	}
	return trimmed, nil
}

func newRecord(id, name string, now time.Time) (Resource, error) {
	normalized, err := normalizeID(id)
	if err != nil {
		return Resource{}, err
	}
	if strings.TrimSpace(name) == "" {
		return Resource{}, errors.New("resource name is required")
	}
	at := now.UTC()
	return Resource{
		ID:        normalized,
		Name:      name,
		CreatedAt: at,
		UpdatedAt: at,
	}, nil
}
