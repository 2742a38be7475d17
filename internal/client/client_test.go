package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/VenkatGGG/leasehold/internal/api"
	"github.com/VenkatGGG/leasehold/internal/lease"
	"github.com/VenkatGGG/leasehold/internal/notify"
	"github.com/VenkatGGG/leasehold/internal/resource"
	"github.com/VenkatGGG/leasehold/internal/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	hub := notify.NewHub(8)
	manager := lease.NewManager(resource.NewInMemoryStore(), hub)
	srv := api.NewServer(manager, session.NewInMemoryService(), hub, api.Options{})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func TestClientClaimLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	anon := New(ts.URL)
	alice, err := anon.CreateSession(ctx, "Alice")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	bob, err := anon.CreateSession(ctx, "Bob")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	created, err := anon.CreateResource(ctx, "Projector")
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}

	aliceClient := New(ts.URL, WithSession(alice.ID))
	bobClient := New(ts.URL, WithSession(bob.ID))

	claimed, err := aliceClient.Claim(ctx, created.ID, 20, "rehearsal")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed.Claimed || claimed.ClaimedByName != "Alice" || claimed.ClaimMessage != "rehearsal" {
		t.Fatalf("unexpected claim view %#v", claimed)
	}

	_, err = bobClient.Claim(ctx, created.ID, 5, "")
	if !errors.Is(err, lease.ErrAlreadyClaimed) || !IsConflict(err) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 409 {
		t.Fatalf("expected 409 APIError, got %#v", err)
	}

	if _, err := bobClient.Release(ctx, created.ID); !errors.Is(err, lease.ErrNotHolder) {
		t.Fatalf("expected ErrNotHolder, got %v", err)
	}
	if _, err := aliceClient.Extend(ctx, created.ID); err != nil {
		t.Fatalf("extend: %v", err)
	}
	released, err := aliceClient.Release(ctx, created.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Claimed {
		t.Fatalf("expected released resource")
	}

	if _, err := anon.GetResource(ctx, "missing"); !errors.Is(err, lease.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRenameSessionShowsOnClaims(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	anon := New(ts.URL)
	if _, err := anon.RenameSession(ctx, "Nobody"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	alice, err := anon.CreateSession(ctx, "Alice")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	created, err := anon.CreateResource(ctx, "Projector")
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}

	aliceClient := New(ts.URL, WithSession(alice.ID))
	if _, err := aliceClient.Claim(ctx, created.ID, 10, ""); err != nil {
		t.Fatalf("claim: %v", err)
	}
	renamed, err := aliceClient.RenameSession(ctx, "Alice Cooper")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Name != "Alice Cooper" {
		t.Fatalf("unexpected renamed session %#v", renamed)
	}
	found, err := anon.GetResource(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found.ClaimedByName != "Alice Cooper" {
		t.Fatalf("expected new display name on claim, got %q", found.ClaimedByName)
	}

	if err := aliceClient.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if _, err := aliceClient.Extend(ctx, created.ID); err == nil {
		t.Fatalf("expected signed-out session to be rejected")
	}
}

func TestClaimValidatesMinutesLocally(t *testing.T) {
	t.Parallel()

	c := New("http://127.0.0.1:1")
	for _, minutes := range []int{0, -1, lease.MaxClaimMinutes + 1} {
		if _, err := c.Claim(context.Background(), "res", minutes, ""); !errors.Is(err, lease.ErrInvalidDuration) {
			t.Fatalf("minutes=%d: expected ErrInvalidDuration, got %v", minutes, err)
		}
	}
}

func TestWatchDeliversCurrentStateThenUpdates(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	anon := New(ts.URL)
	alice, err := anon.CreateSession(ctx, "Alice")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	created, err := anon.CreateResource(ctx, "Projector")
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}

	seen := make(chan Resource, 4)
	watchCtx, stopWatch := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- anon.Watch(watchCtx, created.ID, func(r Resource) error {
			seen <- r
			return nil
		})
	}()

	select {
	case first := <-seen:
		if first.Claimed {
			t.Fatalf("expected initial state unclaimed")
		}
	case <-ctx.Done():
		t.Fatalf("no initial watch callback")
	}

	if _, err := New(ts.URL, WithSession(alice.ID)).Claim(ctx, created.ID, 5, ""); err != nil {
		t.Fatalf("claim: %v", err)
	}

	select {
	case next := <-seen:
		if !next.Claimed || next.ClaimedBy != alice.ID {
			t.Fatalf("expected claimed state, got %#v", next)
		}
	case <-ctx.Done():
		t.Fatalf("no watch callback after claim")
	}

	stopWatch()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean watch exit, got %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("watch did not stop")
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                       DefaultBaseURL,
		"localhost:9000":         "http://localhost:9000",
		"https://leases.local/":  "https://leases.local",
		" http://127.0.0.1:8080": "http://127.0.0.1:8080",
	}
	for in, want := range cases {
		if got := normalizeBaseURL(in); got != want {
			t.Fatalf("normalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
