package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSChannel is a PubSubChannel connected to a Hub over websocket
type WSChannel struct {
	*endpoint

	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	closed  sync.Once
}

// DialWS connects to the hub at rawURL and joins tenant's room
func DialWS(ctx context.Context, rawURL, tenant string, logger *slog.Logger) (*WSChannel, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}
	q := u.Query()
	q.Set("tenant", tenant)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	c := &WSChannel{
		endpoint: newEndpoint(logger),
		conn:     conn,
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Broadcast sends keys to the hub
func (c *WSChannel) Broadcast(_ context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(c.stamp(keys))
}

// Close closes the connection
func (c *WSChannel) Close() error {
	var err error
	c.closed.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
		<-c.done
	})
	return err
}

func (c *WSChannel) readLoop() {
	defer close(c.done)

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("channel connection lost", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Warn("dropping malformed invalidation", "error", err)
			continue
		}
		c.deliver(msg)
	}
}
