package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MaxNameLength = 60

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidName     = errors.New("display name must be 1-60 characters")
)

// Session is an anonymous identity with a display name. Its ID is what the
// lease core records as the claimant.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateInput struct {
	Name string `json:"name"`
}

type Service interface {
	Create(ctx context.Context, input CreateInput) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	// Rename changes the display name shown for the session's claims.
	Rename(ctx context.Context, id, name string) (Session, error)
	// Delete signs the session out. Claims it holds stay recorded and
	// expire on their own.
	Delete(ctx context.Context, id string) error
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > MaxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}

func newSessionID() string {
	return "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

type InMemoryService struct {
	mu    sync.RWMutex
	now   func() time.Time
	items map[string]Session
}

func NewInMemoryService() *InMemoryService {
	return &InMemoryService{
		now:   func() time.Time { return time.Now().UTC() },
		items: make(map[string]Session),
	}
}

func (s *InMemoryService) Create(_ context.Context, input CreateInput) (Session, error) {
	name, err := normalizeName(input.Name)
	if err != nil {
		return Session{}, err
	}
	created := Session{
		ID:        newSessionID(),
		Name:      name,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.items[created.ID] = created
	s.mu.Unlock()

	return created, nil
}

func (s *InMemoryService) Get(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found, ok := s.items[strings.TrimSpace(id)]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return found, nil
}

func (s *InMemoryService) Rename(_ context.Context, id, name string) (Session, error) {
	normalized, err := normalizeName(name)
	if err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	found, ok := s.items[strings.TrimSpace(id)]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	found.Name = normalized
	s.items[found.ID] = found
	return found, nil
}

func (s *InMemoryService) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = strings.TrimSpace(id)
	if _, ok := s.items[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.items, id)
	return nil
}
