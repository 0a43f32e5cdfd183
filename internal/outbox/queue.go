// Package outbox is the ordered log of pending writes destined for the
// remote API. Entries are appended by local actions and drained by the sync
// engine in strict FIFO order.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xelth-com/fieldsync/internal/models"
	"github.com/xelth-com/fieldsync/internal/session"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry is one pending write
type Entry = models.SyncQueue

// ErrEntryNotFound is returned when acknowledging an unknown entry
var ErrEntryNotFound = errors.New("queue entry not found")

// Ref ties a queued write to the record it changes
type Ref struct {
	Collection models.Collection
	LocalID    string
}

// Queue is the tenant-scoped outbox
type Queue struct {
	db      *gorm.DB
	session *session.Session
	now     func() time.Time
}

// NewQueue creates a queue bound to sess's tenant
func NewQueue(db *gorm.DB, sess *session.Session) *Queue {
	return &Queue{db: db, session: sess, now: time.Now}
}

// WithTx returns a queue writing through tx
func (q *Queue) WithTx(tx *gorm.DB) *Queue {
	return &Queue{db: tx, session: q.session, now: q.now}
}

// Session returns the session the queue is bound to
func (q *Queue) Session() *session.Session {
	return q.session
}

func (q *Queue) scoped(ctx context.Context) *gorm.DB {
	return q.db.WithContext(ctx).Where("tenant_id = ?", q.session.TenantID)
}

// Enqueue appends a write that is not tied to a stored record
func (q *Queue) Enqueue(ctx context.Context, method, path string, body any) (*Entry, error) {
	return q.EnqueueFor(ctx, Ref{}, method, path, body)
}

// EnqueueFor appends a write for the record identified by ref
func (q *Queue) EnqueueFor(ctx context.Context, ref Ref, method, path string, body any) (*Entry, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
	}

	key, err := uuid.NewV7()
	if err != nil {
		key = uuid.New()
	}

	entry := &Entry{
		TenantID:       q.session.TenantID,
		Method:         strings.ToUpper(method),
		Path:           path,
		Body:           datatypes.JSON(payload),
		Collection:     string(ref.Collection),
		LocalID:        ref.LocalID,
		IdempotencyKey: key.String(),
		CreatedAt:      q.now().UTC(),
	}
	if err := q.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("enqueue %s %s: %w", method, path, err)
	}
	return entry, nil
}

// Drain returns every pending entry in creation order without removing any
func (q *Queue) Drain(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if err := q.scoped(ctx).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("drain queue: %w", err)
	}
	return entries, nil
}

// Acknowledge removes an entry after the remote confirmed it
func (q *Queue) Acknowledge(ctx context.Context, id uint64) error {
	res := q.scoped(ctx).Where("id = ?", id).Delete(&Entry{})
	if res.Error != nil {
		return fmt.Errorf("acknowledge %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("acknowledge %d: %w", id, ErrEntryNotFound)
	}
	return nil
}

// Reject removes an entry the remote refused permanently
func (q *Queue) Reject(ctx context.Context, id uint64) error {
	if err := q.scoped(ctx).Where("id = ?", id).Delete(&Entry{}).Error; err != nil {
		return fmt.Errorf("reject %d: %w", id, err)
	}
	return nil
}

// MarkRetry keeps the entry and records the transient failure
func (q *Queue) MarkRetry(ctx context.Context, id uint64, cause error) error {
	msg := cause.Error()
	now := q.now().UTC()
	err := q.scoped(ctx).Model(&Entry{}).Where("id = ?", id).Updates(map[string]any{
		"retry_count":     gorm.Expr("retry_count + 1"),
		"last_error":      msg,
		"last_attempt_at": now,
	}).Error
	if err != nil {
		return fmt.Errorf("mark retry %d: %w", id, err)
	}
	return nil
}

// Backoff returns the wait after the n-th failure: 2^n * base, capped at max
func Backoff(retryCount int, base, max time.Duration) time.Duration {
	if retryCount <= 0 || base <= 0 {
		return 0
	}
	if retryCount > 20 {
		retryCount = 20
	}
	d := base << uint(retryCount)
	if max > 0 && (d > max || d <= 0) {
		return max
	}
	return d
}

// NextAttempt returns the earliest time e may be replayed. The zero time
// means it may be replayed now.
func NextAttempt(e *Entry, base, max time.Duration) time.Time {
	if e.LastAttemptAt == nil {
		return time.Time{}
	}
	d := Backoff(e.RetryCount, base, max)
	if d == 0 {
		return time.Time{}
	}
	return e.LastAttemptAt.Add(d)
}

// Count returns the number of pending entries
func (q *Queue) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := q.scoped(ctx).Model(&Entry{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

// HasPending reports whether a record still has unacknowledged writes
func (q *Queue) HasPending(ctx context.Context, c models.Collection, id string) (bool, error) {
	var n int64
	err := q.scoped(ctx).Model(&Entry{}).
		Where("collection = ? AND local_id = ?", string(c), id).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check pending %s/%s: %w", c, id, err)
	}
	return n > 0, nil
}

// PendingIDs returns the ids of c's records that have unacknowledged writes
func (q *Queue) PendingIDs(ctx context.Context, c models.Collection) (map[string]struct{}, error) {
	var ids []string
	err := q.scoped(ctx).Model(&Entry{}).
		Where("collection = ?", string(c)).
		Distinct().
		Pluck("local_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("pending ids %s: %w", c, err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// Rewrite replaces a local id with the server-issued id in every remaining
// entry: the record reference, path segments and body values.
func (q *Queue) Rewrite(ctx context.Context, localID, serverID string) (int, error) {
	entries, err := q.Drain(ctx)
	if err != nil {
		return 0, err
	}

	rewritten := 0
	for i := range entries {
		e := &entries[i]
		if !RewriteEntry(e, localID, serverID) {
			continue
		}
		err := q.scoped(ctx).Model(&Entry{}).Where("id = ?", e.ID).Updates(map[string]any{
			"path":     e.Path,
			"body":     e.Body,
			"local_id": e.LocalID,
		}).Error
		if err != nil {
			return rewritten, fmt.Errorf("rewrite entry %d: %w", e.ID, err)
		}
		rewritten++
	}
	return rewritten, nil
}

// RewriteEntry substitutes serverID for localID in e and reports whether
// anything changed. Path segments must match exactly; in the body only
// string values equal to localID are replaced.
func RewriteEntry(e *Entry, localID, serverID string) bool {
	changed := false

	if e.LocalID == localID {
		e.LocalID = serverID
		changed = true
	}

	segments := strings.Split(e.Path, "/")
	for i, seg := range segments {
		if seg == localID {
			segments[i] = serverID
			changed = true
		}
	}
	e.Path = strings.Join(segments, "/")

	if len(e.Body) > 0 {
		var body any
		if err := json.Unmarshal(e.Body, &body); err == nil {
			if replaced, ok := replaceValue(body, localID, serverID); ok {
				if data, err := json.Marshal(replaced); err == nil {
					e.Body = datatypes.JSON(data)
					changed = true
				}
			}
		}
	}

	return changed
}

func replaceValue(v any, from, to string) (any, bool) {
	switch val := v.(type) {
	case string:
		if val == from {
			return to, true
		}
		return val, false
	case map[string]any:
		changed := false
		for k, inner := range val {
			if r, ok := replaceValue(inner, from, to); ok {
				val[k] = r
				changed = true
			}
		}
		return val, changed
	case []any:
		changed := false
		for i, inner := range val {
			if r, ok := replaceValue(inner, from, to); ok {
				val[i] = r
				changed = true
			}
		}
		return val, changed
	default:
		return v, false
	}
}
