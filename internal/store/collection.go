package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xelth-com/fieldsync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Collection is a typed repository over one collection table. PT is the
// pointer type implementing models.Record.
type Collection[T any, PT interface {
	*T
	models.Record
}] struct {
	db      *gorm.DB
	name    models.Collection
	indexes map[string]struct{}
}

// NewCollection binds a typed repository to db. Every collection is indexed
// by "synced"; extra names the secondary indexes it accepts in GetByIndex.
func NewCollection[T any, PT interface {
	*T
	models.Record
}](db *gorm.DB, extra ...string) *Collection[T, PT] {
	var zero T
	indexes := map[string]struct{}{"synced": {}}
	for _, name := range extra {
		indexes[name] = struct{}{}
	}
	return &Collection[T, PT]{
		db:      db,
		name:    PT(&zero).GetEntityType(),
		indexes: indexes,
	}
}

// Name returns the collection name
func (c *Collection[T, PT]) Name() models.Collection {
	return c.name
}

// Get returns the record with the given id
func (c *Collection[T, PT]) Get(ctx context.Context, id string) (PT, error) {
	var rec T
	if err := c.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", c.name, id, translate(err))
	}
	return PT(&rec), nil
}

// GetAll returns every record ordered by id
func (c *Collection[T, PT]) GetAll(ctx context.Context) ([]T, error) {
	var recs []T
	if err := c.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("get all %s: %w", c.name, translate(err))
	}
	return recs, nil
}

// GetByIndex returns the records whose indexed column equals value
func (c *Collection[T, PT]) GetByIndex(ctx context.Context, index string, value any) ([]T, error) {
	if _, ok := c.indexes[index]; !ok {
		return nil, fmt.Errorf("%s.%s: %w", c.name, index, ErrUnknownIndex)
	}

	var recs []T
	err := c.db.WithContext(ctx).
		Where(clause.Eq{Column: clause.Column{Name: index}, Value: value}).
		Order("id").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("get %s by %s: %w", c.name, index, translate(err))
	}
	return recs, nil
}

// Unsynced returns records not yet confirmed by the remote
func (c *Collection[T, PT]) Unsynced(ctx context.Context) ([]T, error) {
	return c.GetByIndex(ctx, "synced", false)
}

// Put inserts rec or overwrites the stored record with the same id
func (c *Collection[T, PT]) Put(ctx context.Context, rec PT) error {
	if rec.GetEntityID() == "" {
		return fmt.Errorf("put %s: %w", c.name, ErrMissingID)
	}
	if err := upsert(c.db.WithContext(ctx), rec); err != nil {
		return fmt.Errorf("put %s/%s: %w", c.name, rec.GetEntityID(), translate(err))
	}
	return nil
}

// PutMany writes all records in one transaction; either all or none are stored
func (c *Collection[T, PT]) PutMany(ctx context.Context, recs []PT) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range recs {
			if rec.GetEntityID() == "" {
				return fmt.Errorf("put %s: %w", c.name, ErrMissingID)
			}
			if err := upsert(tx, rec); err != nil {
				return fmt.Errorf("put %s/%s: %w", c.name, rec.GetEntityID(), translate(err))
			}
		}
		return nil
	})
}

// Remove deletes the record with the given id. Removing a missing id is not an error.
func (c *Collection[T, PT]) Remove(ctx context.Context, id string) error {
	if err := c.db.WithContext(ctx).Where("id = ?", id).Delete(PT(new(T))).Error; err != nil {
		return fmt.Errorf("remove %s/%s: %w", c.name, id, translate(err))
	}
	return nil
}

// Clear deletes every record of the collection
func (c *Collection[T, PT]) Clear(ctx context.Context) error {
	if err := c.db.WithContext(ctx).Where("1 = 1").Delete(PT(new(T))).Error; err != nil {
		return fmt.Errorf("clear %s: %w", c.name, translate(err))
	}
	return nil
}

// Count returns the number of stored records
func (c *Collection[T, PT]) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.WithContext(ctx).Model(PT(new(T))).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", c.name, translate(err))
	}
	return n, nil
}

// ============================================
// Repository (dynamic access by collection name)
// ============================================

// GetRecord is Get returning the generic Record interface
func (c *Collection[T, PT]) GetRecord(ctx context.Context, id string) (models.Record, error) {
	rec, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// AllRecords is GetAll returning the generic Record interface
func (c *Collection[T, PT]) AllRecords(ctx context.Context) ([]models.Record, error) {
	recs, err := c.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Record, len(recs))
	for i := range recs {
		out[i] = PT(&recs[i])
	}
	return out, nil
}

// PutRecord stores a record of this collection's type
func (c *Collection[T, PT]) PutRecord(ctx context.Context, rec models.Record) error {
	typed, err := c.cast(rec)
	if err != nil {
		return err
	}
	return c.Put(ctx, typed)
}

// PutRecords stores records of this collection's type atomically
func (c *Collection[T, PT]) PutRecords(ctx context.Context, recs []models.Record) error {
	typed := make([]PT, 0, len(recs))
	for _, rec := range recs {
		t, err := c.cast(rec)
		if err != nil {
			return err
		}
		typed = append(typed, t)
	}
	return c.PutMany(ctx, typed)
}

// MarkSynced flips the synced flag of one record
func (c *Collection[T, PT]) MarkSynced(ctx context.Context, id string, synced bool) error {
	err := c.db.WithContext(ctx).Model(PT(new(T))).Where("id = ?", id).Update("synced", synced).Error
	if err != nil {
		return fmt.Errorf("mark %s/%s synced: %w", c.name, id, translate(err))
	}
	return nil
}

// Rekey replaces a record's id, typically a local id with the id the server
// assigned. If newID already exists the old row is dropped instead.
func (c *Collection[T, PT]) Rekey(ctx context.Context, oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(PT(new(T))).Where("id = ?", newID).Count(&n).Error; err != nil {
			return translate(err)
		}
		if n > 0 {
			return translate(tx.Where("id = ?", oldID).Delete(PT(new(T))).Error)
		}
		err := tx.Model(PT(new(T))).Where("id = ?", oldID).Update("id", newID).Error
		if err != nil {
			return fmt.Errorf("rekey %s/%s: %w", c.name, oldID, translate(err))
		}
		return nil
	})
}

// Decode builds a record of this collection's type from its JSON form.
// Numeric ids are accepted.
func (c *Collection[T, PT]) Decode(data []byte) (models.Record, error) {
	normalized, err := models.NormalizeIDs(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.name, err)
	}
	var rec T
	if err := json.Unmarshal(normalized, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.name, err)
	}
	return PT(&rec), nil
}

func (c *Collection[T, PT]) cast(rec models.Record) (PT, error) {
	typed, ok := rec.(PT)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected record type %T", c.name, rec)
	}
	return typed, nil
}

func upsert(db *gorm.DB, rec any) error {
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
}
