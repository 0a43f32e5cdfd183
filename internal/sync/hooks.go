package sync

import (
	"log/slog"
	"sync"
)

// SyncObserver is notified after every completed pass
type SyncObserver func(result SyncResult)

type observerEntry struct {
	id int
	fn SyncObserver
}

// observerRegistry delivers results to observers in registration order. A
// panicking observer is logged and does not stop delivery to the rest.
type observerRegistry struct {
	mu      sync.Mutex
	nextID  int
	entries []observerEntry
	logger  *slog.Logger
}

func (r *observerRegistry) add(fn SyncObserver) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.entries = append(r.entries, observerEntry{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, e := range r.entries {
				if e.id == id {
					r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (r *observerRegistry) notify(result SyncResult) {
	r.mu.Lock()
	entries := append([]observerEntry(nil), r.entries...)
	r.mu.Unlock()

	for _, e := range entries {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("sync observer panicked", "observer", e.id, "panic", p)
				}
			}()
			e.fn(result)
		}()
	}
}
