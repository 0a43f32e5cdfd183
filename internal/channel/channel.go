// Package channel broadcasts cache invalidation hints between application
// instances sharing one local store. Delivery is best effort; receivers
// re-read the store when notified.
package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xelth-com/fieldsync/internal/models"
)

// AllKeys invalidates every cached view
const AllKeys = "*"

// ErrUnsupported means the configured transport is not available in this
// runtime. Callers fall back to focus-based revalidation.
var ErrUnsupported = errors.New("channel transport unsupported")

// Message is one invalidation notice on the wire
type Message struct {
	Sender string    `json:"sender"`
	Seq    uint64    `json:"seq"`
	Keys   []string  `json:"keys"`
	SentAt time.Time `json:"sent_at"`
}

// InvalidateFunc receives the cache keys another instance changed
type InvalidateFunc func(keys []string)

// PubSubChannel is the cross-instance invalidation capability
type PubSubChannel interface {
	// Broadcast notifies every other instance. Errors are informational.
	Broadcast(ctx context.Context, keys []string) error
	// OnInvalidate registers fn and returns a function removing it.
	OnInvalidate(fn InvalidateFunc) (unsubscribe func())
	Close() error
}

// CollectionKey is the cache key covering a whole collection
func CollectionKey(c models.Collection) string {
	return string(c)
}

// RecordKey is the cache key of one record
func RecordKey(c models.Collection, id string) string {
	return string(c) + "/" + id
}

type subscription struct {
	id int
	fn InvalidateFunc
}

// endpoint holds the sender identity and receive-side bookkeeping shared by
// every transport.
type endpoint struct {
	sender string
	seq    atomic.Uint64
	logger *slog.Logger

	mu       sync.Mutex
	subs     []subscription
	nextID   int
	lastSeen map[string]uint64
}

func newEndpoint(logger *slog.Logger) *endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	return &endpoint{
		sender:   uuid.NewString(),
		logger:   logger,
		lastSeen: make(map[string]uint64),
	}
}

// stamp builds the next outgoing message
func (e *endpoint) stamp(keys []string) Message {
	return Message{
		Sender: e.sender,
		Seq:    e.seq.Add(1),
		Keys:   append([]string(nil), keys...),
		SentAt: time.Now().UTC(),
	}
}

func (e *endpoint) OnInvalidate(fn InvalidateFunc) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscription{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, s := range e.subs {
				if s.id == id {
					e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// deliver hands msg to subscribers unless it is our own or older than the
// last message seen from its sender. Reports whether it was delivered.
func (e *endpoint) deliver(msg Message) bool {
	e.mu.Lock()
	if msg.Sender == e.sender {
		e.mu.Unlock()
		return false
	}
	if msg.Seq <= e.lastSeen[msg.Sender] {
		e.mu.Unlock()
		return false
	}
	e.lastSeen[msg.Sender] = msg.Seq
	subs := append([]subscription(nil), e.subs...)
	e.mu.Unlock()

	e.notify(subs, msg.Keys)
	return true
}

// revalidateAll tells every subscriber to reload all keys
func (e *endpoint) revalidateAll() {
	e.mu.Lock()
	subs := append([]subscription(nil), e.subs...)
	e.mu.Unlock()

	e.notify(subs, []string{AllKeys})
}

func (e *endpoint) notify(subs []subscription, keys []string) {
	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("invalidate callback panicked", "panic", r)
				}
			}()
			s.fn(keys)
		}()
	}
}
