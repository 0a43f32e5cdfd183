package sync

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/xelth-com/fieldsync/internal/models"
	"github.com/xelth-com/fieldsync/internal/outbox"
	"github.com/xelth-com/fieldsync/internal/store"
)

// push replays the outbox in FIFO order. A permanent failure drops the entry
// and moves on; a transient failure keeps the entry and ends the push so
// later entries never overtake it.
func (se *SyncEngine) push(ctx context.Context, result *SyncResult, changed map[models.Collection]struct{}) {
	entries, err := se.queue.Drain(ctx)
	if err != nil {
		result.Errors = append(result.Errors, SyncError{Phase: PhaseLocal, Message: err.Error()})
		return
	}

	base := time.Duration(se.config.RetryBaseDelay) * time.Second
	limit := time.Duration(se.config.RetryMaxDelay) * time.Second

	for i := range entries {
		entry := entries[i]

		// Only the head can carry retries; waiting on it keeps FIFO order
		if next := outbox.NextAttempt(&entry, base, limit); se.now().Before(next) {
			se.logger.Debug("queued write is backing off",
				"entry", entry.ID, "retries", entry.RetryCount, "until", next)
			result.RetryAt = &next
			return
		}

		respBody, err := se.remote.Do(ctx, Request{
			Method:         entry.Method,
			Path:           entry.Path,
			Body:           entry.Body,
			IdempotencyKey: entry.IdempotencyKey,
		})
		if err != nil {
			syncErr := entryError(entry, err)

			if IsPermanent(err) {
				se.logger.Warn("remote rejected queued write, dropping it",
					"entry", entry.ID, "method", entry.Method, "path", entry.Path, "error", err)
				if rerr := se.queue.Reject(ctx, entry.ID); rerr != nil {
					result.Errors = append(result.Errors, SyncError{Phase: PhaseLocal, EntryID: entry.ID, Message: rerr.Error()})
					return
				}
				result.Errors = append(result.Errors, syncErr)
				if entry.Collection != "" {
					changed[models.Collection(entry.Collection)] = struct{}{}
				}
				continue
			}

			se.logger.Info("queued write failed, will retry on next sync",
				"entry", entry.ID, "method", entry.Method, "path", entry.Path, "error", err)
			if rerr := se.queue.MarkRetry(ctx, entry.ID, err); rerr != nil {
				se.logger.Error("failed to record retry", "entry", entry.ID, "error", rerr)
			}
			result.Errors = append(result.Errors, syncErr)
			return
		}

		serverID, err := se.acknowledge(ctx, entry, respBody)
		if err != nil {
			// The remote has it; the idempotency key makes the replay safe
			result.Errors = append(result.Errors, SyncError{
				Phase: PhaseLocal, EntryID: entry.ID, Method: entry.Method, Path: entry.Path,
				Collection: entry.Collection, Message: err.Error(),
			})
			return
		}

		if serverID != "" {
			for j := i + 1; j < len(entries); j++ {
				outbox.RewriteEntry(&entries[j], entry.LocalID, serverID)
			}
		}

		result.Pushed++
		if entry.Collection != "" {
			changed[models.Collection(entry.Collection)] = struct{}{}
		}
	}
}

// acknowledge removes a confirmed entry and updates its record in one
// transaction: a created record is re-keyed to the server id and later
// entries are rewritten; the record is flagged synced once it has no other
// pending writes. Returns the server id when re-keyed.
func (se *SyncEngine) acknowledge(ctx context.Context, entry outbox.Entry, respBody []byte) (string, error) {
	var serverID string

	err := se.store.Transaction(ctx, func(tx *store.Store) error {
		q := se.queue.WithTx(tx.DB())
		if err := q.Acknowledge(ctx, entry.ID); err != nil {
			return err
		}
		if entry.Collection == "" || entry.LocalID == "" {
			return nil
		}

		c := models.Collection(entry.Collection)
		repo, err := tx.Repo(c)
		if err != nil {
			// Not a stored collection, nothing to update locally
			return nil
		}

		id := entry.LocalID
		if entry.Method == http.MethodPost && models.IsLocalID(id) {
			if sid := createdID(respBody); sid != "" && sid != id {
				if err := repo.Rekey(ctx, id, sid); err != nil {
					return err
				}
				if _, err := q.Rewrite(ctx, id, sid); err != nil {
					return err
				}
				serverID = sid
				id = sid
			}
		}

		pending, err := q.HasPending(ctx, c, id)
		if err != nil {
			return err
		}
		if pending {
			return nil
		}

		if entry.Method != http.MethodDelete {
			if err := repo.MarkSynced(ctx, id, true); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		return se.conflictResolver.ResolveAcknowledged(ctx, tx.DB(), c, id)
	})

	if err != nil {
		return "", err
	}
	return serverID, nil
}

func entryError(entry outbox.Entry, err error) SyncError {
	syncErr := SyncError{
		Phase:      PhasePush,
		Kind:       KindTransient,
		EntryID:    entry.ID,
		Method:     entry.Method,
		Path:       entry.Path,
		Collection: entry.Collection,
		Message:    err.Error(),
	}
	var re *RemoteError
	if errors.As(err, &re) {
		syncErr.Kind = re.Kind
		syncErr.StatusCode = re.StatusCode
	}
	return syncErr
}
