package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// Subject returns the NATS subject carrying tenant's invalidations
func Subject(tenant string) string {
	return fmt.Sprintf("fieldsync.%s.invalidate", tenant)
}

// NATSChannel is a PubSubChannel over a NATS subject, for instances spread
// across processes or hosts.
type NATSChannel struct {
	*endpoint

	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	ownConn bool
	sendMu  sync.Mutex
	closed  sync.Once
}

// DialNATS connects to url and subscribes to tenant's subject
func DialNATS(url, tenant string, logger *slog.Logger) (*NATSChannel, error) {
	nc, err := nats.Connect(url, nats.Name("fieldsync"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	c, err := NewNATSChannel(nc, tenant, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	c.ownConn = true
	return c, nil
}

// NewNATSChannel subscribes on an existing connection
func NewNATSChannel(nc *nats.Conn, tenant string, logger *slog.Logger) (*NATSChannel, error) {
	c := &NATSChannel{
		endpoint: newEndpoint(logger),
		nc:       nc,
		subject:  Subject(tenant),
	}

	sub, err := nc.Subscribe(c.subject, func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			c.logger.Warn("dropping malformed invalidation", "subject", m.Subject, "error", err)
			return
		}
		c.deliver(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", c.subject, err)
	}
	c.sub = sub
	return c, nil
}

// Broadcast publishes keys on the tenant subject
func (c *NATSChannel) Broadcast(_ context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	data, err := json.Marshal(c.stamp(keys))
	if err != nil {
		return err
	}
	return c.nc.Publish(c.subject, data)
}

// Close unsubscribes, and closes the connection if DialNATS opened it
func (c *NATSChannel) Close() error {
	var err error
	c.closed.Do(func() {
		err = c.sub.Unsubscribe()
		if c.ownConn {
			c.nc.Close()
		}
	})
	return err
}
