package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/VenkatGGG/leasehold/internal/notify"
)

// Watch subscribes to change events for id and calls fn with freshly read
// state after each one. The server sends an event on connect, so fn sees the
// current state first. Watch returns nil when ctx is cancelled.
func (c *Client) Watch(ctx context.Context, id string, fn func(Resource) error) error {
	header := http.Header{}
	c.authorize(header)

	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + resourcePath(id, "watch")
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: c.watchHTTPClient(),
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return &APIError{StatusCode: resp.StatusCode, Code: "watch_rejected", Message: err.Error()}
		}
		return fmt.Errorf("dial watch websocket: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "closing")

	for {
		var ev notify.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read watch event: %w", err)
		}
		if ev.Event != notify.EventResourceUpdated {
			continue
		}
		current, err := c.GetResource(ctx, id)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return err
		}
		if err := fn(current); err != nil {
			return err
		}
	}
}

// watchHTTPClient drops the request timeout, which would otherwise cut the
// long-lived websocket.
func (c *Client) watchHTTPClient() *http.Client {
	clone := *c.httpClient
	clone.Timeout = 0
	return &clone
}
