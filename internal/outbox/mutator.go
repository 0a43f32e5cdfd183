package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/xelth-com/fieldsync/internal/channel"
	"github.com/xelth-com/fieldsync/internal/config"
	"github.com/xelth-com/fieldsync/internal/models"
	"github.com/xelth-com/fieldsync/internal/store"
)

// Mutator performs optimistic local writes. Each write stores the record
// and appends its queue entry in one transaction, so both happen or neither.
type Mutator struct {
	store   *store.Store
	queue   *Queue
	channel channel.PubSubChannel
	paths   map[models.Collection]string
	logger  *slog.Logger
}

// NewMutator creates a mutator. ch may be nil.
func NewMutator(st *store.Store, q *Queue, ch channel.PubSubChannel, paths map[models.Collection]string, logger *slog.Logger) *Mutator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mutator{store: st, queue: q, channel: ch, paths: paths, logger: logger}
}

// PathsFromConfig maps each collection to its remote endpoint
func PathsFromConfig(cfg *config.SyncConfig) map[models.Collection]string {
	paths := make(map[models.Collection]string, len(cfg.Collections))
	for name, cc := range cfg.Collections {
		c, err := models.ParseCollection(name)
		if err != nil || cc.Path == "" {
			continue
		}
		paths[c] = strings.TrimRight(cc.Path, "/")
	}
	return paths
}

// Create stores a new record and queues a POST. Records without an id get a
// local id.
func (m *Mutator) Create(ctx context.Context, rec models.Record) (*Entry, error) {
	base, err := m.path(rec.GetEntityType())
	if err != nil {
		return nil, err
	}
	if rec.GetEntityID() == "" {
		rec.SetEntityID(models.NewLocalID())
	}
	return m.write(ctx, rec, http.MethodPost, base)
}

// Update stores the new version of a record and queues a PUT
func (m *Mutator) Update(ctx context.Context, rec models.Record) (*Entry, error) {
	base, err := m.path(rec.GetEntityType())
	if err != nil {
		return nil, err
	}
	if rec.GetEntityID() == "" {
		return nil, fmt.Errorf("update %s: %w", rec.GetEntityType(), store.ErrMissingID)
	}
	return m.write(ctx, rec, http.MethodPut, base+"/"+rec.GetEntityID())
}

// Delete removes a record locally and queues a DELETE
func (m *Mutator) Delete(ctx context.Context, c models.Collection, id string) (*Entry, error) {
	base, err := m.path(c)
	if err != nil {
		return nil, err
	}

	var entry *Entry
	err = m.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.RemoveRecord(ctx, c, id); err != nil {
			return err
		}
		e, err := m.queue.WithTx(tx.DB()).EnqueueFor(ctx, Ref{Collection: c, LocalID: id}, http.MethodDelete, base+"/"+id, nil)
		entry = e
		return err
	})
	if err != nil {
		return nil, err
	}

	m.invalidate(ctx, c, id)
	return entry, nil
}

func (m *Mutator) write(ctx context.Context, rec models.Record, method, path string) (*Entry, error) {
	rec.SetSynced(false)
	c := rec.GetEntityType()

	var entry *Entry
	err := m.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.PutRecord(ctx, rec); err != nil {
			return err
		}
		e, err := m.queue.WithTx(tx.DB()).EnqueueFor(ctx, Ref{Collection: c, LocalID: rec.GetEntityID()}, method, path, rec)
		entry = e
		return err
	})
	if err != nil {
		return nil, err
	}

	m.invalidate(ctx, c, rec.GetEntityID())
	return entry, nil
}

func (m *Mutator) path(c models.Collection) (string, error) {
	p, ok := m.paths[c]
	if !ok {
		return "", fmt.Errorf("no remote path configured for %s", c)
	}
	return p, nil
}

// invalidate is best effort; the write already succeeded
func (m *Mutator) invalidate(ctx context.Context, c models.Collection, id string) {
	if m.channel == nil {
		return
	}
	keys := []string{channel.CollectionKey(c), channel.RecordKey(c, id)}
	if err := m.channel.Broadcast(ctx, keys); err != nil {
		m.logger.Debug("invalidation broadcast failed", "collection", c, "id", id, "error", err)
	}
}
