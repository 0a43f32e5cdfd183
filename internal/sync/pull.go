package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/xelth-com/fieldsync/internal/config"
	"github.com/xelth-com/fieldsync/internal/models"
	"github.com/xelth-com/fieldsync/internal/store"
	"golang.org/x/sync/errgroup"
)

type pullJob struct {
	collection models.Collection
	cfg        config.CollectionSyncConfig
}

// pullJobs lists enabled collections, highest priority first
func (se *SyncEngine) pullJobs() []pullJob {
	jobs := make([]pullJob, 0, len(se.config.Collections))
	for name, cc := range se.config.Collections {
		if !cc.Enabled || cc.Path == "" {
			continue
		}
		c, err := models.ParseCollection(name)
		if err != nil {
			se.logger.Warn("ignoring unknown collection in sync config", "collection", name)
			continue
		}
		jobs = append(jobs, pullJob{collection: c, cfg: cc})
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].cfg.Priority != jobs[j].cfg.Priority {
			return jobs[i].cfg.Priority > jobs[j].cfg.Priority
		}
		return jobs[i].collection < jobs[j].collection
	})
	return jobs
}

// pull fetches every collection snapshot concurrently, then merges them one
// collection at a time in priority order
func (se *SyncEngine) pull(ctx context.Context, result *SyncResult, changed map[models.Collection]struct{}) {
	jobs := se.pullJobs()
	if len(jobs) == 0 {
		return
	}

	snapshots := make([][]byte, len(jobs))
	fetchErrs := make([]error, len(jobs))

	workers := se.config.ParallelWorkers
	if workers <= 0 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, job := range jobs {
		g.Go(func() error {
			snapshots[i], fetchErrs[i] = se.remote.Fetch(ctx, job.cfg.Path)
			// A failed collection must not cancel the others
			return nil
		})
	}
	_ = g.Wait()

	for i, job := range jobs {
		if err := fetchErrs[i]; err != nil {
			se.logger.Info("pull failed", "collection", job.collection, "error", err)
			syncErr := SyncError{Phase: PhasePull, Kind: KindTransient, Collection: string(job.collection), Path: job.cfg.Path, Message: err.Error()}
			var re *RemoteError
			if errors.As(err, &re) {
				syncErr.Kind = re.Kind
				syncErr.StatusCode = re.StatusCode
			}
			result.Errors = append(result.Errors, syncErr)
			continue
		}

		pulled, conflicts, err := se.merge(ctx, job.collection, snapshots[i], result)
		if err != nil {
			result.Errors = append(result.Errors, SyncError{Phase: PhaseLocal, Collection: string(job.collection), Message: err.Error()})
			continue
		}
		result.Pulled += pulled
		result.Conflicts += conflicts
		if pulled > 0 {
			changed[job.collection] = struct{}{}
		}
	}
}

// merge applies one snapshot. Remote wins for records without pending local
// writes; records with pending writes are left alone and a divergence is
// recorded as a conflict. Unchanged records are not rewritten. Runs in a
// single transaction so a concurrent local write cannot be overwritten
// between the pending check and the upsert.
func (se *SyncEngine) merge(ctx context.Context, c models.Collection, snapshot []byte, result *SyncResult) (pulled, conflicts int, err error) {
	items, err := decodeSnapshot(snapshot)
	if err != nil {
		return 0, 0, fmt.Errorf("decode %s snapshot: %w", c, err)
	}

	err = se.store.Transaction(ctx, func(tx *store.Store) error {
		pulled, conflicts = 0, 0

		repo, err := tx.Repo(c)
		if err != nil {
			return err
		}
		pending, err := se.queue.WithTx(tx.DB()).PendingIDs(ctx, c)
		if err != nil {
			return err
		}

		var writes []models.Record
		for _, raw := range items {
			remote, err := repo.Decode(raw)
			if err != nil {
				result.Errors = append(result.Errors, SyncError{Phase: PhasePull, Kind: KindPermanent, Collection: string(c), Message: err.Error()})
				continue
			}
			id := remote.GetEntityID()
			if id == "" {
				continue
			}
			remote.SetSynced(true)

			local, err := repo.GetRecord(ctx, id)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}

			if _, isPending := pending[id]; isPending {
				if local == nil {
					continue
				}
				localHash, remoteHash, differ, err := se.conflictResolver.Detect(local, remote)
				if err != nil {
					return err
				}
				if differ {
					if err := se.conflictResolver.Record(ctx, tx.DB(), local, remote, localHash, remoteHash); err != nil {
						return err
					}
					conflicts++
				}
				continue
			}

			if local != nil && local.IsSynced() {
				_, _, differ, err := se.conflictResolver.Detect(local, remote)
				if err != nil {
					return err
				}
				if !differ {
					continue
				}
			}

			writes = append(writes, remote)
		}

		if len(writes) > 0 {
			if err := repo.PutRecords(ctx, writes); err != nil {
				return err
			}
		}
		pulled = len(writes)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return pulled, conflicts, nil
}

// decodeSnapshot accepts a bare JSON array or an object wrapping it in
// "data" or "items"
func decodeSnapshot(data []byte) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var items []json.RawMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
		return items, nil
	}

	var envelope struct {
		Data  []json.RawMessage `json:"data"`
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	if envelope.Data != nil {
		return envelope.Data, nil
	}
	return envelope.Items, nil
}
