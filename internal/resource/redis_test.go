package resource

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewRedisStore(newMiniredisClient(t), "leasehold:test")
	})
}

func TestRedisStoreKeepsRecordWithoutTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, "")
	ctx := context.Background()

	_, err := store.Insert(ctx, "res-1", "Projector")
	require.NoError(t, err)
	require.True(t, mr.Exists("leasehold:resource:res-1"))

	check, mutate := claimIfFree("alice", time.Now().Add(time.Minute))
	_, err = store.ConditionalWrite(ctx, "res-1", check, mutate)
	require.NoError(t, err)

	// Expiry is evaluated from the stored timestamp, never from a key TTL.
	mr.FastForward(2 * time.Hour)
	require.True(t, mr.Exists("leasehold:resource:res-1"))

	found, err := store.Read(ctx, "res-1")
	require.NoError(t, err)
	require.Equal(t, "alice", found.ClaimedBy)
}

func newMiniredisClient(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
		DB:   0,
	})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}
