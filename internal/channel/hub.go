package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// relay is a payload sent by one client to the rest of its tenant room
type relay struct {
	from    *hubClient
	payload []byte
}

// Hub relays invalidation messages between websocket clients of the same
// tenant. It never interprets the keys.
type Hub struct {
	// Connected clients per tenant
	rooms map[string]map[*hubClient]struct{}

	// Register requests
	register chan *hubClient

	// Unregister requests
	unregister chan *hubClient

	// Messages to fan out
	broadcast chan relay

	// Mutex for thread-safe access to rooms
	mu sync.RWMutex

	// Closed when Run returns
	done chan struct{}

	logger *slog.Logger
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:      make(map[string]map[*hubClient]struct{}),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		broadcast:  make(chan relay, 64),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, room := range h.rooms {
				for client := range room {
					close(client.send)
				}
			}
			h.rooms = make(map[string]map[*hubClient]struct{})
			h.mu.Unlock()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[client.tenant]
			if !ok {
				room = make(map[*hubClient]struct{})
				h.rooms[client.tenant] = room
			}
			room[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("channel client connected", "tenant", client.tenant, "client", client.id)

		case client := <-h.unregister:
			h.remove(client)

		case r := <-h.broadcast:
			h.fanOut(r)
		}
	}
}

// Clients returns the number of clients connected for tenant
func (h *Hub) Clients(tenant string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[tenant])
}

// Attach registers an in-process participant on the tenant room. The agent
// uses it to exchange invalidations with websocket clients without a socket.
func (h *Hub) Attach(tenant string, logger *slog.Logger) *HubChannel {
	c := &HubChannel{
		endpoint: newEndpoint(logger),
		hub:      h,
	}
	c.client = &hubClient{
		id:     "local_" + c.sender,
		tenant: tenant,
		send:   make(chan []byte, inboxSize),
	}
	if h.join(c.client) {
		go c.loop()
	}
	return c
}

func (h *Hub) join(client *hubClient) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *hubClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) fanOut(r relay) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.rooms[r.from.tenant] {
		if client == r.from {
			continue
		}
		select {
		case client.send <- r.payload:
		default:
			if client.conn == nil {
				// In-process participants stay attached and reload
				// everything once they catch up
				client.missed.Store(true)
				continue
			}
			// Buffer full or client dead
			delete(h.rooms[client.tenant], client)
			close(client.send)
			h.logger.Warn("channel client too slow, disconnected", "tenant", client.tenant, "client", client.id)
		}
	}
}

func (h *Hub) remove(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[client.tenant]
	if _, ok := room[client]; !ok {
		return
	}
	delete(room, client)
	close(client.send)
	if len(room) == 0 {
		delete(h.rooms, client.tenant)
	}
	h.logger.Debug("channel client disconnected", "tenant", client.tenant, "client", client.id)
}

// HubChannel is a PubSubChannel attached directly to a Hub
type HubChannel struct {
	*endpoint

	hub    *Hub
	client *hubClient
	sendMu sync.Mutex
	closed sync.Once
}

// Broadcast relays keys to every other participant of the tenant room
func (c *HubChannel) Broadcast(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	payload, err := json.Marshal(c.stamp(keys))
	if err != nil {
		return err
	}
	select {
	case c.hub.broadcast <- relay{from: c.client, payload: payload}:
		return nil
	case <-c.hub.done:
		return ErrUnsupported
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close leaves the room
func (c *HubChannel) Close() error {
	c.closed.Do(func() {
		c.hub.leave(c.client)
	})
	return nil
}

func (c *HubChannel) loop() {
	for payload := range c.client.send {
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Warn("dropping malformed invalidation", "error", err)
			continue
		}
		c.deliver(msg)
		if c.client.missed.Swap(false) {
			c.logger.Warn("invalidations dropped while busy, revalidating all keys")
			c.revalidateAll()
		}
	}
}
