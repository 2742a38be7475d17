package api

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/VenkatGGG/leasehold/internal/notify"
	"github.com/VenkatGGG/leasehold/pkg/httpx"
)

const watchWriteTimeout = 5 * time.Second

// watchResource streams resource_updated events over a websocket. The first
// event is sent on connect so the client fetches current state; events carry
// no state and the client re-reads after each one.
func (s *Server) watchResource(w http.ResponseWriter, r *http.Request, id string) {
	if s.hub == nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "watch_unavailable", "change notifications are not enabled")
		return
	}
	if _, err := s.leases.Get(r.Context(), id); err != nil {
		s.writeLeaseError(w, err)
		return
	}

	sub, err := s.hub.Subscribe(id)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_resource_id", err.Error())
		return
	}
	defer sub.Close()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", "resource_id", id, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "watch ended")

	s.watchers.Add(1)
	defer s.watchers.Add(-1)

	// Client messages are ignored; CloseRead ends ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	if err := writeEvent(ctx, conn, notify.ResourceUpdated(id)); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "subscription closed")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				s.logger.Debug("watch write failed", "resource_id", id, "error", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev notify.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, watchWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, ev)
}
