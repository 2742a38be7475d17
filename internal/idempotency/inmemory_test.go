package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"
)

func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	key := Key{Scope: "resources:create", Caller: "sess_a", Value: "abc"}

	reserved, err := store.Reserve(ctx, key, "owner-1", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !reserved {
		t.Fatalf("expected initial reservation")
	}

	reserved, err = store.Reserve(ctx, key, "owner-2", time.Minute)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if reserved {
		t.Fatalf("expected second reservation to fail while held")
	}

	otherCaller := key
	otherCaller.Caller = "sess_b"
	reserved, err = store.Reserve(ctx, otherCaller, "owner-3", time.Minute)
	if err != nil {
		t.Fatalf("reserve for other caller: %v", err)
	}
	if !reserved {
		t.Fatalf("expected callers to have separate key spaces")
	}

	resp := Response{
		StatusCode:  201,
		ContentType: "application/json",
		Body:        []byte(`{"id":"res_1"}`),
		Fingerprint: Fingerprint([]byte(`{"name":"Projector"}`)),
	}
	if err := store.Record(ctx, key, resp, time.Minute); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, ok, err := store.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected recorded response")
	}
	if got.StatusCode != 201 || string(got.Body) != `{"id":"res_1"}` || got.Fingerprint != resp.Fingerprint {
		t.Fatalf("unexpected recorded response: %#v", got)
	}
	if _, ok, _ := store.Lookup(ctx, otherCaller); ok {
		t.Fatalf("expected no response for other caller")
	}

	if err := store.Unreserve(ctx, key, "owner-2"); err != nil {
		t.Fatalf("unreserve by non-owner: %v", err)
	}
	if reserved, _ := store.Reserve(ctx, key, "owner-2", time.Minute); reserved {
		t.Fatalf("expected non-owner unreserve to keep the reservation")
	}
	if err := store.Unreserve(ctx, key, "owner-1"); err != nil {
		t.Fatalf("unreserve: %v", err)
	}
	reserved, err = store.Reserve(ctx, key, "owner-2", time.Minute)
	if err != nil {
		t.Fatalf("reserve after unreserve: %v", err)
	}
	if !reserved {
		t.Fatalf("expected reservation after unreserve")
	}

	if _, _, err := store.Lookup(ctx, Key{Scope: "resources:create"}); !errors.Is(err, ErrKeyRequired) {
		t.Fatalf("expected ErrKeyRequired, got %v", err)
	}
	if _, err := store.Reserve(ctx, key, " ", time.Minute); !errors.Is(err, ErrOwnerRequired) {
		t.Fatalf("expected ErrOwnerRequired, got %v", err)
	}
}

func TestInMemoryStoreContract(t *testing.T) {
	t.Parallel()
	runStoreContract(t, NewInMemoryStore())
}

func TestInMemoryStoreExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewInMemoryStore()
	store.now = func() time.Time { return now }
	ctx := context.Background()
	key := Key{Scope: "resources:create", Value: "k"}

	if ok, _ := store.Reserve(ctx, key, "owner-1", 10*time.Second); !ok {
		t.Fatalf("expected reservation")
	}
	if err := store.Record(ctx, key, Response{StatusCode: 201}, time.Minute); err != nil {
		t.Fatalf("record: %v", err)
	}

	now = now.Add(10 * time.Second)
	if ok, _ := store.Reserve(ctx, key, "owner-2", 10*time.Second); !ok {
		t.Fatalf("expected expired reservation to be reclaimable")
	}
	if _, ok, _ := store.Lookup(ctx, key); !ok {
		t.Fatalf("expected response to outlive reservation")
	}

	now = now.Add(time.Minute)
	if _, ok, _ := store.Lookup(ctx, key); ok {
		t.Fatalf("expected response to expire")
	}
}

func TestFingerprintDistinguishesBodies(t *testing.T) {
	t.Parallel()

	if Fingerprint([]byte(`{"name":"a"}`)) == Fingerprint([]byte(`{"name":"b"}`)) {
		t.Fatalf("expected different fingerprints")
	}
	if Fingerprint(nil) != Fingerprint([]byte{}) {
		t.Fatalf("expected empty bodies to share a fingerprint")
	}
}
