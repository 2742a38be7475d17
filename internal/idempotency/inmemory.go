package idempotency

import (
	"context"
	"sync"
	"time"
)

type recorded struct {
	resp      Response
	expiresAt time.Time
}

type reservation struct {
	owner     string
	expiresAt time.Time
}

type InMemoryStore struct {
	mu           sync.Mutex
	now          func() time.Time
	responses    map[string]recorded
	reservations map[string]reservation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		now:          func() time.Time { return time.Now().UTC() },
		responses:    make(map[string]recorded),
		reservations: make(map[string]reservation),
	}
}

func (s *InMemoryStore) Lookup(_ context.Context, key Key) (Response, bool, error) {
	compound, err := key.compound()
	if err != nil {
		return Response{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.responses[compound]
	if !ok {
		return Response{}, false, nil
	}
	if !s.now().Before(item.expiresAt) {
		delete(s.responses, compound)
		return Response{}, false, nil
	}
	resp := item.resp
	resp.Body = append([]byte(nil), resp.Body...)
	return resp, true, nil
}

func (s *InMemoryStore) Reserve(_ context.Context, key Key, owner string, ttl time.Duration) (bool, error) {
	compound, err := key.compound()
	if err != nil {
		return false, err
	}
	if owner, err = normalizeOwner(owner); err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = DefaultReserveTTL
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.reservations[compound]; ok && now.Before(held.expiresAt) {
		return false, nil
	}
	s.reservations[compound] = reservation{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *InMemoryStore) Record(_ context.Context, key Key, resp Response, ttl time.Duration) error {
	compound, err := key.compound()
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultReplayTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	resp.Body = append([]byte(nil), resp.Body...)
	s.responses[compound] = recorded{resp: resp, expiresAt: s.now().Add(ttl)}
	return nil
}

// Unreserve drops the reservation only if owner still holds it.
func (s *InMemoryStore) Unreserve(_ context.Context, key Key, owner string) error {
	compound, err := key.compound()
	if err != nil {
		return err
	}
	if owner, err = normalizeOwner(owner); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.reservations[compound]; ok && held.owner == owner {
		delete(s.reservations, compound)
	}
	return nil
}
