package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares replay state between server instances. Reservations use
// SET NX with a TTL so a crashed owner cannot wedge a key.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	normalized := strings.TrimSpace(prefix)
	if normalized == "" {
		normalized = "leasehold"
	}
	return &RedisStore{
		client: client,
		prefix: normalized + ":idempotency",
	}
}

func (s *RedisStore) Lookup(ctx context.Context, key Key) (Response, bool, error) {
	compound, err := key.compound()
	if err != nil {
		return Response{}, false, err
	}
	raw, err := s.client.Get(ctx, s.responseKey(compound)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Response{}, false, nil
		}
		return Response{}, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, false, fmt.Errorf("decode idempotency response: %w", err)
	}
	return resp, true, nil
}

func (s *RedisStore) Reserve(ctx context.Context, key Key, owner string, ttl time.Duration) (bool, error) {
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
	ok, err := s.client.SetNX(ctx, s.reservationKey(compound), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency reserve: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Record(ctx context.Context, key Key, resp Response, ttl time.Duration) error {
	compound, err := key.compound()
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultReplayTTL
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode idempotency response: %w", err)
	}
	if err := s.client.Set(ctx, s.responseKey(compound), raw, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency record: %w", err)
	}
	return nil
}

func (s *RedisStore) Unreserve(ctx context.Context, key Key, owner string) error {
	compound, err := key.compound()
	if err != nil {
		return err
	}
	if owner, err = normalizeOwner(owner); err != nil {
		return err
	}
	err = compareAndDelete.Run(ctx, s.client, []string{s.reservationKey(compound)}, owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("idempotency unreserve: %w", err)
	}
	return nil
}

func (s *RedisStore) responseKey(compound string) string {
	return s.prefix + ":response:" + compound
}

func (s *RedisStore) reservationKey(compound string) string {
	return s.prefix + ":reservation:" + compound
}

var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
