package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncQueue is one pending write in the outbox. Entries are replayed in ID
// order; the auto-increment ID is the FIFO sequence.
type SyncQueue struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID       string         `gorm:"type:varchar(255);not null;index:idx_queue_tenant" json:"tenant_id"`
	Method         string         `gorm:"type:varchar(10);not null" json:"method"`
	Path           string         `gorm:"type:varchar(1024);not null" json:"path"`
	Body           datatypes.JSON `json:"body"`
	Collection     string         `gorm:"type:varchar(64);index:idx_queue_record" json:"collection,omitempty"`
	LocalID        string         `gorm:"type:varchar(64);index:idx_queue_record" json:"local_id,omitempty"`
	IdempotencyKey string         `gorm:"type:varchar(64);uniqueIndex" json:"idempotency_key"`
	RetryCount     int            `json:"retry_count"`
	LastError      *string        `gorm:"type:text" json:"last_error,omitempty"`
	LastAttemptAt  *time.Time     `json:"last_attempt_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// TableName specifies the table name
func (SyncQueue) TableName() string {
	return "sync_queue"
}

// SyncMetadata keeps the last known sync state per tenant
type SyncMetadata struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	TenantID       string     `gorm:"type:varchar(255);not null;uniqueIndex" json:"tenant_id"`
	LastSyncAt     *time.Time `json:"last_sync_at"`
	LastSyncStatus string     `gorm:"type:varchar(50)" json:"last_sync_status"`
	Pushed         int        `json:"pushed"`
	Pulled         int        `json:"pulled"`
	Conflicts      int        `json:"conflicts"`
	ErrorCount     int        `json:"error_count"`
	SyncDurationMs int64      `json:"sync_duration_ms"`
	ErrorMessage   *string    `gorm:"type:text" json:"error_message,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName specifies the table name
func (SyncMetadata) TableName() string {
	return "sync_metadata"
}

// SyncConflict records a pulled remote version that diverged from a local
// change still waiting in the outbox.
type SyncConflict struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	TenantID   string            `gorm:"type:varchar(255);not null;index:idx_conflict_entity" json:"tenant_id"`
	Collection string            `gorm:"type:varchar(64);not null;index:idx_conflict_entity" json:"collection"`
	EntityID   string            `gorm:"type:varchar(64);not null;index:idx_conflict_entity" json:"entity_id"`
	LocalHash  string            `gorm:"type:varchar(64)" json:"local_hash"`
	RemoteHash string            `gorm:"type:varchar(64)" json:"remote_hash"`
	LocalData  datatypes.JSONMap `json:"local_data"`
	RemoteData datatypes.JSONMap `json:"remote_data"`
	Resolution string            `gorm:"type:varchar(50)" json:"resolution"`
	Status     string            `gorm:"type:varchar(50);index" json:"status"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// TableName specifies the table name
func (SyncConflict) TableName() string {
	return "sync_conflicts"
}

// KeyValue backs the persistent key-value capability (dismissed alerts,
// preferences).
type KeyValue struct {
	Key       string    `gorm:"primaryKey;type:varchar(255)" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (KeyValue) TableName() string {
	return "key_values"
}
