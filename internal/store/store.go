// Package store is the on-device Local Store: one typed repository per
// collection on top of gorm.
package store

import (
	"context"
	"fmt"

	"github.com/xelth-com/fieldsync/internal/models"
	"gorm.io/gorm"
)

// Repository is the collection-agnostic view of a Collection, used where the
// collection is only known at runtime (queue replay, pulls).
type Repository interface {
	Name() models.Collection
	GetRecord(ctx context.Context, id string) (models.Record, error)
	AllRecords(ctx context.Context) ([]models.Record, error)
	PutRecord(ctx context.Context, rec models.Record) error
	PutRecords(ctx context.Context, recs []models.Record) error
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
	MarkSynced(ctx context.Context, id string, synced bool) error
	Rekey(ctx context.Context, oldID, newID string) error
	Decode(data []byte) (models.Record, error)
}

// Store bundles the typed collections sharing one database
type Store struct {
	db *gorm.DB

	WorkOrders         *Collection[models.WorkOrder, *models.WorkOrder]
	Equipment          *Collection[models.Equipment, *models.Equipment]
	Checklists         *Collection[models.Checklist, *models.Checklist]
	ChecklistResponses *Collection[models.ChecklistResponse, *models.ChecklistResponse]
	StandardWeights    *Collection[models.StandardWeight, *models.StandardWeight]
	Expenses           *Collection[models.Expense, *models.Expense]
	Photos             *Collection[models.Photo, *models.Photo]
	Signatures         *Collection[models.Signature, *models.Signature]
	ChatMessages       *Collection[models.ChatMessage, *models.ChatMessage]
	CustomerSnapshots  *Collection[models.CustomerSnapshot, *models.CustomerSnapshot]

	repos map[models.Collection]Repository
}

// New creates a Store over db. The schema must already be migrated.
func New(db *gorm.DB) *Store {
	s := &Store{
		db: db,

		WorkOrders:         NewCollection[models.WorkOrder](db, "status", "customer_id", "technician_id", "number"),
		Equipment:          NewCollection[models.Equipment](db, "work_order_id", "customer_id", "serial_number"),
		Checklists:         NewCollection[models.Checklist](db),
		ChecklistResponses: NewCollection[models.ChecklistResponse](db, "work_order_id", "checklist_id"),
		StandardWeights:    NewCollection[models.StandardWeight](db, "code"),
		Expenses:           NewCollection[models.Expense](db, "work_order_id"),
		Photos:             NewCollection[models.Photo](db, "work_order_id"),
		Signatures:         NewCollection[models.Signature](db, "work_order_id"),
		ChatMessages:       NewCollection[models.ChatMessage](db, "thread_id"),
		CustomerSnapshots:  NewCollection[models.CustomerSnapshot](db, "name"),
	}

	s.repos = map[models.Collection]Repository{
		models.CollectionWorkOrders:         s.WorkOrders,
		models.CollectionEquipment:          s.Equipment,
		models.CollectionChecklists:         s.Checklists,
		models.CollectionChecklistResponses: s.ChecklistResponses,
		models.CollectionStandardWeights:    s.StandardWeights,
		models.CollectionExpenses:           s.Expenses,
		models.CollectionPhotos:             s.Photos,
		models.CollectionSignatures:         s.Signatures,
		models.CollectionChatMessages:       s.ChatMessages,
		models.CollectionCustomerSnapshots:  s.CustomerSnapshots,
	}

	return s
}

// DB exposes the underlying connection for components sharing transactions
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Repo returns the repository for a collection name
func (s *Store) Repo(c models.Collection) (Repository, error) {
	repo, ok := s.repos[c]
	if !ok {
		return nil, fmt.Errorf("unknown collection: %q", c)
	}
	return repo, nil
}

// Transaction runs fn against a Store bound to a single database
// transaction. Returning an error rolls every write back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}

// GetRecord loads one record of any collection
func (s *Store) GetRecord(ctx context.Context, c models.Collection, id string) (models.Record, error) {
	repo, err := s.Repo(c)
	if err != nil {
		return nil, err
	}
	return repo.GetRecord(ctx, id)
}

// PutRecord stores a record in the collection its type belongs to
func (s *Store) PutRecord(ctx context.Context, rec models.Record) error {
	repo, err := s.Repo(rec.GetEntityType())
	if err != nil {
		return err
	}
	return repo.PutRecord(ctx, rec)
}

// RemoveRecord deletes one record of any collection
func (s *Store) RemoveRecord(ctx context.Context, c models.Collection, id string) error {
	repo, err := s.Repo(c)
	if err != nil {
		return err
	}
	return repo.Remove(ctx, id)
}

// MarkSynced flags a record as confirmed by the remote
func (s *Store) MarkSynced(ctx context.Context, c models.Collection, id string) error {
	repo, err := s.Repo(c)
	if err != nil {
		return err
	}
	return repo.MarkSynced(ctx, id, true)
}

// Counts returns the number of records per collection
func (s *Store) Counts(ctx context.Context) (map[models.Collection]int64, error) {
	counts := make(map[models.Collection]int64, len(s.repos))
	for _, c := range models.Collections {
		n, err := s.repos[c].Count(ctx)
		if err != nil {
			return nil, err
		}
		counts[c] = n
	}
	return counts, nil
}
