package resource

import (
	"context"
	"sync"
	"time"
)

type InMemoryStore struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string]Resource
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		now:   time.Now,
		items: make(map[string]Resource),
	}
}

func (s *InMemoryStore) Read(_ context.Context, id string) (Resource, error) {
	id, err := normalizeID(id)
	if err != nil {
		return Resource{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	found, ok := s.items[id]
	if !ok {
		return Resource{}, ErrNotFound
	}
	return found.clone(), nil
}

func (s *InMemoryStore) ConditionalWrite(ctx context.Context, id string, check Precondition, mutate Mutation) (Resource, error) {
	id, err := normalizeID(id)
	if err != nil {
		return Resource{}, err
	}
	if err := ctx.Err(); err != nil {
		return Resource{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[id]
	if !ok {
		return Resource{}, ErrNotFound
	}
	next, err := applyTransition(current, check, mutate, s.now())
	if err != nil {
		return Resource{}, err
	}
	s.items[id] = next
	return next.clone(), nil
}

func (s *InMemoryStore) Insert(_ context.Context, id, name string) (Resource, error) {
	created, err := newRecord(id, name, s.now())
	if err != nil {
		return Resource{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[created.ID]; exists {
		return Resource{}, ErrAlreadyExists
	}
	s.items[created.ID] = created
	return created.clone(), nil
}
