package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/VenkatGGG/leasehold/internal/logging"
	"github.com/VenkatGGG/leasehold/internal/resource"
)

const (
	// MaxClaimMinutes is the ceiling for a claim and the window an extension
	// resets to. Clients validate against the same value.
	MaxClaimMinutes = 60

	MaxNameLength    = 120
	MaxMessageLength = 200
)

// Notifier receives a "resource changed" signal after every successful
// claim, extend and release.
type Notifier interface {
	Notify(ctx context.Context, resourceID string) error
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logging.Ensure(logger)
	}
}

func WithIDGenerator(next func() string) Option {
	return func(m *Manager) {
		if next != nil {
			m.newID = next
		}
	}
}

// Manager is the lease state machine. It keeps no state between calls; every
// transition is a conditional write against the store.
type Manager struct {
	store    resource.Store
	notifier Notifier
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

func NewManager(store resource.Store, notifier Notifier, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		notifier: notifier,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Create(ctx context.Context, name string) (resource.Resource, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < 1 || n > MaxNameLength {
		return resource.Resource{}, ErrInvalidName
	}

	created, err := m.store.Insert(ctx, m.newID(), name)
	if err != nil {
		return resource.Resource{}, fmt.Errorf("create resource: %w", err)
	}
	m.logger.Debug("resource created", "resource_id", created.ID)
	return created, nil
}

// Get returns the record as stored. Stale fields of an expired claim are left
// in place; callers evaluate liveness with Resource.LiveAt.
func (m *Manager) Get(ctx context.Context, id string) (resource.Resource, error) {
	if strings.TrimSpace(id) == "" {
		return resource.Resource{}, ErrNotFound
	}
	found, err := m.store.Read(ctx, id)
	if err != nil {
		return resource.Resource{}, wrapStoreError("get resource", err)
	}
	return found, nil
}

func (m *Manager) Claim(ctx context.Context, id, claimantID string, minutes int, message string) (resource.Resource, error) {
	if minutes < 1 || minutes > MaxClaimMinutes {
		return resource.Resource{}, ErrInvalidDuration
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return resource.Resource{}, ErrInvalidMessage
	}
	claimantID = strings.TrimSpace(claimantID)
	if claimantID == "" {
		return resource.Resource{}, ErrNoClaimant
	}

	var at time.Time
	check := func(current resource.Resource) error {
		at = m.now()
		if current.LiveAt(at) {
			return ErrAlreadyClaimed
		}
		return nil
	}
	mutate := func(current resource.Resource) resource.Resource {
		return current.WithClaim(claimantID, at.Add(time.Duration(minutes)*time.Minute), message)
	}
	return m.transition(ctx, "claim", id, claimantID, check, mutate)
}

// Extend resets the expiry to MaxClaimMinutes from now. It never adds to the
// remaining time.
func (m *Manager) Extend(ctx context.Context, id, claimantID string) (resource.Resource, error) {
	claimantID = strings.TrimSpace(claimantID)
	if claimantID == "" {
		return resource.Resource{}, ErrNoClaimant
	}

	var at time.Time
	check := func(current resource.Resource) error {
		at = m.now()
		return requireHolder(current, claimantID, at)
	}
	mutate := func(current resource.Resource) resource.Resource {
		return current.WithClaim(claimantID, at.Add(MaxClaimMinutes*time.Minute), current.ClaimMessage)
	}
	return m.transition(ctx, "extend", id, claimantID, check, mutate)
}

func (m *Manager) Release(ctx context.Context, id, claimantID string) (resource.Resource, error) {
	claimantID = strings.TrimSpace(claimantID)
	if claimantID == "" {
		return resource.Resource{}, ErrNoClaimant
	}

	check := func(current resource.Resource) error {
		return requireHolder(current, claimantID, m.now())
	}
	mutate := func(current resource.Resource) resource.Resource {
		return current.WithoutClaim()
	}
	return m.transition(ctx, "release", id, claimantID, check, mutate)
}

func requireHolder(current resource.Resource, claimantID string, at time.Time) error {
	if !current.LiveAt(at) {
		return ErrNotClaimed
	}
	if current.ClaimedBy != claimantID {
		return ErrNotHolder
	}
	return nil
}

func (m *Manager) transition(ctx context.Context, op, id, claimantID string, check resource.Precondition, mutate resource.Mutation) (resource.Resource, error) {
	if strings.TrimSpace(id) == "" {
		return resource.Resource{}, ErrNotFound
	}
	updated, err := m.store.ConditionalWrite(ctx, id, check, mutate)
	if err != nil {
		m.logger.Debug("transition refused", "op", op, "resource_id", id, "claimant_id", claimantID, "error", err)
		return resource.Resource{}, wrapStoreError(op+" resource", err)
	}
	m.logger.Debug("transition applied", "op", op, "resource_id", updated.ID, "claimant_id", claimantID)
	m.notify(ctx, updated.ID)
	return updated, nil
}

// notify is best effort; a lost signal only delays watchers until their
// next read.
func (m *Manager) notify(ctx context.Context, id string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(context.WithoutCancel(ctx), id); err != nil {
		m.logger.Warn("resource change notification failed", "resource_id", id, "error", err)
	}
}

// wrapStoreError keeps domain errors verbatim and adds context to storage
// failures.
func wrapStoreError(action string, err error) error {
	switch Kind(err) {
	case KindPrecondition:
		return unwrapPrecondition(err)
	case KindNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("%s: %w", action, err)
	}
}

func unwrapPrecondition(err error) error {
	for _, target := range []error{ErrAlreadyClaimed, ErrNotHolder, ErrNotClaimed} {
		if errors.Is(err, target) {
			return target
		}
	}
	return err
}
