package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/VenkatGGG/leasehold/internal/notify"
)

func TestWatchStreamsResourceUpdates(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice := env.newSession(t, "Alice")
	id := env.createResource(t, "Projector")

	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/resources/" + id + "/watch"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial watch: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var ev notify.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read initial event: %v", err)
	}
	if ev != notify.ResourceUpdated(id) {
		t.Fatalf("unexpected initial event %#v", ev)
	}

	if rr := env.do(t, http.MethodPost, "/v1/resources/"+id+"/claim", alice, claimResourceRequest{Minutes: 5}); rr.Code != http.StatusOK {
		t.Fatalf("claim: %d body=%s", rr.Code, rr.Body.String())
	}

	ev = notify.Event{}
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read claim event: %v", err)
	}
	if ev.Event != notify.EventResourceUpdated || ev.Payload.ID != id {
		t.Fatalf("unexpected claim event %#v", ev)
	}
	if env.server.watchers.Load() != 1 {
		t.Fatalf("expected one active watcher, got %d", env.server.watchers.Load())
	}
}

func TestWatchUnknownResource(t *testing.T) {
	env := newTestEnv(t, Options{})
	expectError(t, env.do(t, http.MethodGet, "/v1/resources/missing/watch", "", nil), http.StatusNotFound, "not_found")
	if env.hub.Subscribers("missing") != 0 {
		t.Fatalf("expected no subscription for unknown resource")
	}
}
