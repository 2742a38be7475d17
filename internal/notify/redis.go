package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/VenkatGGG/leasehold/internal/logging"
)

// RedisPublisher broadcasts events on the per-resource channel so that every
// server instance sharing the Redis deployment can relay them.
type RedisPublisher struct {
	client redis.UniversalClient
	origin string
}

// NewRedisPublisher tags every event with origin so the relay of the same
// instance can skip it.
func NewRedisPublisher(client redis.UniversalClient, origin string) *RedisPublisher {
	return &RedisPublisher{client: client, origin: origin}
}

func (p *RedisPublisher) Notify(ctx context.Context, resourceID string) error {
	ev := ResourceUpdated(resourceID)
	ev.Origin = p.origin
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, Topic(resourceID), raw).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// RedisRelay forwards resource channel messages published by other instances
// into a local Hub.
type RedisRelay struct {
	client redis.UniversalClient
	hub    *Hub
	origin string
	logger *slog.Logger
}

// NewRedisRelay skips events tagged with origin; an empty origin relays
// everything.
func NewRedisRelay(client redis.UniversalClient, hub *Hub, origin string, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{
		client: client,
		hub:    hub,
		origin: origin,
		logger: logging.Ensure(logger),
	}
}

// Run blocks until ctx is cancelled. ready, when non-nil, is closed once the
// pattern subscription is confirmed.
func (r *RedisRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := r.client.PSubscribe(ctx, topicPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe resource channels: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return errors.New("resource channel subscription closed")
			}
			r.forward(msg)
		}
	}
}

func (r *RedisRelay) forward(msg *redis.Message) {
	id, ok := ResourceFromTopic(msg.Channel)
	if !ok {
		return
	}
	var ev Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.Event != EventResourceUpdated {
		r.logger.Debug("dropping malformed resource event", "channel", msg.Channel)
		return
	}
	if r.origin != "" && ev.Origin == r.origin {
		return
	}
	// The channel name is authoritative for the resource id.
	ev.Payload.ID = id
	ev.Origin = ""
	r.hub.Publish(ev)
}
