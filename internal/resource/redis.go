package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each record as a JSON string and relies on WATCH/MULTI
// for conditional writes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	normalized := strings.TrimSpace(prefix)
	if normalized == "" {
		normalized = "leasehold"
	}
	return &RedisStore{
		client: client,
		prefix: normalized,
		now:    time.Now,
	}
}

func (s *RedisStore) Read(ctx context.Context, id string) (Resource, error) {
	id, err := normalizeID(id)
	if err != nil {
		return Resource{}, err
	}
	return s.load(ctx, s.client, s.key(id))
}

func (s *RedisStore) ConditionalWrite(ctx context.Context, id string, check Precondition, mutate Mutation) (Resource, error) {
	id, err := normalizeID(id)
	if err != nil {
		return Resource{}, err
	}
	key := s.key(id)

	return retryStale(ctx, func() (Resource, error) {
		var written Resource
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := s.load(ctx, tx, key)
			if err != nil {
				return err
			}
			next, err := applyTransition(current, check, mutate, s.now())
			if err != nil {
				return err
			}
			raw, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("encode resource: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, raw, 0)
				return nil
			})
			if err != nil {
				return err
			}
			written = next
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			return Resource{}, errStaleWrite
		}
		return written, err
	})
}

func (s *RedisStore) Insert(ctx context.Context, id, name string) (Resource, error) {
	created, err := newRecord(id, name, s.now())
	if err != nil {
		return Resource{}, err
	}
	raw, err := json.Marshal(created)
	if err != nil {
		return Resource{}, fmt.Errorf("encode resource: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(created.ID), raw, 0).Result()
	if err != nil {
		return Resource{}, fmt.Errorf("resource insert: %w", err)
	}
	if !ok {
		return Resource{}, ErrAlreadyExists
	}
	return created, nil
}

func (s *RedisStore) load(ctx context.Context, client stringGetter, key string) (Resource, error) {
	raw, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Resource{}, ErrNotFound
		}
		return Resource{}, fmt.Errorf("resource get: %w", err)
	}
	var out Resource
	if err := json.Unmarshal(raw, &out); err != nil {
		return Resource{}, fmt.Errorf("decode resource: %w", err)
	}
	return out, nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":resource:" + id
}
