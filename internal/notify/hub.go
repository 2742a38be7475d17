// Package notify carries "resource changed" hints to watchers. Delivery is
// best effort and at most once; watchers re-fetch state after every event.
package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
)

const (
	EventResourceUpdated = "resource_updated"
	topicPrefix          = "resource:"
	defaultBuffer        = 8
)

type Payload struct {
	ID string `json:"id"`
}

type Event struct {
	Event   string  `json:"event"`
	Payload Payload `json:"payload"`
	// Origin names the publishing instance on shared channels. It is empty
	// for events delivered to local subscribers.
	Origin string `json:"origin,omitempty"`
}

func ResourceUpdated(resourceID string) Event {
	return Event{Event: EventResourceUpdated, Payload: Payload{ID: resourceID}}
}

// Topic returns the broadcast topic for a resource.
func Topic(resourceID string) string {
	return topicPrefix + resourceID
}

// ResourceFromTopic is the inverse of Topic.
func ResourceFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, topicPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(topic, topicPrefix)
	return id, id != ""
}

// Hub fans events out to in-process subscribers. A subscriber whose buffer is
// full misses the event.
type Hub struct {
	mu     sync.RWMutex
	buffer int
	topics map[string]map[*Subscription]struct{}
}

type Subscription struct {
	hub    *Hub
	topic  string
	events chan Event
	once   sync.Once
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		buffer: buffer,
		topics: make(map[string]map[*Subscription]struct{}),
	}
}

func (h *Hub) Subscribe(resourceID string) (*Subscription, error) {
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return nil, errors.New("resource id is required")
	}
	sub := &Subscription{
		hub:    h,
		topic:  Topic(resourceID),
		events: make(chan Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[sub.topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[sub.topic] = subs
	}
	subs[sub] = struct{}{}
	return sub, nil
}

// Notify implements lease.Notifier.
func (h *Hub) Notify(_ context.Context, resourceID string) error {
	h.Publish(ResourceUpdated(resourceID))
	return nil
}

// Publish delivers ev to current subscribers and returns how many received it.
func (h *Hub) Publish(ev Event) int {
	topic := Topic(ev.Payload.ID)

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for sub := range h.topics[topic] {
		select {
		case sub.events <- ev:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers reports the number of live subscriptions for a resource.
func (h *Hub) Subscribers(resourceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[Topic(resourceID)])
}

func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		if subs, ok := s.hub.topics[s.topic]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.hub.topics, s.topic)
			}
		}
		close(s.events)
	})
}
