package models

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Collection names a persisted set of records of one type. The name doubles as
// the table name.
type Collection string

const (
	CollectionWorkOrders         Collection = "work_orders"
	CollectionEquipment          Collection = "equipment"
	CollectionChecklists         Collection = "checklists"
	CollectionChecklistResponses Collection = "checklist_responses"
	CollectionStandardWeights    Collection = "standard_weights"
	CollectionExpenses           Collection = "expenses"
	CollectionPhotos             Collection = "photos"
	CollectionSignatures         Collection = "signatures"
	CollectionChatMessages       Collection = "chat_messages"
	CollectionCustomerSnapshots  Collection = "customer_snapshots"
)

// Collections lists every collection in a stable order.
var Collections = []Collection{
	CollectionWorkOrders,
	CollectionEquipment,
	CollectionChecklists,
	CollectionChecklistResponses,
	CollectionStandardWeights,
	CollectionExpenses,
	CollectionPhotos,
	CollectionSignatures,
	CollectionChatMessages,
	CollectionCustomerSnapshots,
}

// Record is implemented by every model stored in a collection
type Record interface {
	GetEntityID() string
	SetEntityID(id string)
	GetEntityType() Collection
	IsSynced() bool
	SetSynced(synced bool)
}

// RecordMeta carries the identity and sync state shared by all records
type RecordMeta struct {
	ID     string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Synced bool   `gorm:"index" json:"synced"`
}

func (m *RecordMeta) GetEntityID() string { return m.ID }
func (m *RecordMeta) SetEntityID(id string) { m.ID = id }
func (m *RecordMeta) IsSynced() bool { return m.Synced }
func (m *RecordMeta) SetSynced(synced bool) { m.Synced = synced }

// ParseCollection validates a collection name
func ParseCollection(name string) (Collection, error) {
	for _, c := range Collections {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown collection: %q", name)
}

// New returns an empty record for the given collection
func New(c Collection) (Record, error) {
	switch c {
	case CollectionWorkOrders:
		return &WorkOrder{}, nil
	case CollectionEquipment:
		return &Equipment{}, nil
	case CollectionChecklists:
		return &Checklist{}, nil
	case CollectionChecklistResponses:
		return &ChecklistResponse{}, nil
	case CollectionStandardWeights:
		return &StandardWeight{}, nil
	case CollectionExpenses:
		return &Expense{}, nil
	case CollectionPhotos:
		return &Photo{}, nil
	case CollectionSignatures:
		return &Signature{}, nil
	case CollectionChatMessages:
		return &ChatMessage{}, nil
	case CollectionCustomerSnapshots:
		return &CustomerSnapshot{}, nil
	default:
		return nil, fmt.Errorf("unknown collection: %q", c)
	}
}

// NewLocalID generates a sortable client-side identifier (UUIDv7) for records
// created while offline.
func NewLocalID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// IsLocalID reports whether id was generated on the device rather than issued
// by the server. Server ids are decimal integers.
func IsLocalID(id string) bool {
	if id == "" {
		return false
	}
	_, err := strconv.ParseInt(id, 10, 64)
	return err != nil
}

// All returns every model that must be migrated
func All() []interface{} {
	return []interface{}{
		&WorkOrder{},
		&Equipment{},
		&Checklist{},
		&ChecklistResponse{},
		&StandardWeight{},
		&Expense{},
		&Photo{},
		&Signature{},
		&ChatMessage{},
		&CustomerSnapshot{},

		// Sync tables
		&SyncQueue{},
		&SyncMetadata{},
		&SyncConflict{},
		&KeyValue{},
	}
}
