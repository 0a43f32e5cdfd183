package channel

import (
	"context"
	"log/slog"
	"sync"
)

const inboxSize = 256

// Bus connects LocalChannels living in the same process
type Bus struct {
	mu      sync.RWMutex
	members map[*LocalChannel]struct{}
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{members: make(map[*LocalChannel]struct{})}
}

// Join attaches a new instance to the bus
func (b *Bus) Join(logger *slog.Logger) *LocalChannel {
	c := &LocalChannel{
		endpoint: newEndpoint(logger),
		bus:      b,
		inbox:    make(chan Message, inboxSize),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	b.members[c] = struct{}{}
	b.mu.Unlock()

	go c.loop()
	return c
}

func (b *Bus) publish(from *LocalChannel, msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for member := range b.members {
		if member == from {
			continue
		}
		select {
		case member.inbox <- msg:
		default:
			member.logger.Warn("channel inbox full, dropping invalidation", "sender", msg.Sender, "seq", msg.Seq)
		}
	}
}

func (b *Bus) leave(c *LocalChannel) {
	b.mu.Lock()
	delete(b.members, c)
	b.mu.Unlock()
}

// LocalChannel is an in-process PubSubChannel attached to a Bus
type LocalChannel struct {
	*endpoint

	bus    *Bus
	sendMu sync.Mutex
	inbox  chan Message
	done   chan struct{}
	closed sync.Once
}

// Broadcast queues keys for every other member of the bus
func (c *LocalChannel) Broadcast(_ context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.bus.publish(c, c.stamp(keys))
	return nil
}

// Close detaches the channel from the bus
func (c *LocalChannel) Close() error {
	c.closed.Do(func() {
		c.bus.leave(c)
		close(c.done)
	})
	return nil
}

func (c *LocalChannel) loop() {
	for {
		select {
		case msg := <-c.inbox:
			c.deliver(msg)
		case <-c.done:
			return
		}
	}
}
