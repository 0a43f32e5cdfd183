package models

import (
	"time"

	"gorm.io/datatypes"
)

// WorkOrderStatus defines possible work order statuses
type WorkOrderStatus string

const (
	WorkOrderStatusPending    WorkOrderStatus = "pending"     // Awaiting scheduling
	WorkOrderStatusScheduled  WorkOrderStatus = "scheduled"   // Assigned to a technician
	WorkOrderStatusInProgress WorkOrderStatus = "in_progress" // Technician on site
	WorkOrderStatusCompleted  WorkOrderStatus = "completed"   // Finished
	WorkOrderStatusCancelled  WorkOrderStatus = "cancelled"   // Cancelled
)

// IsClosed reports whether no further field work is expected
func (s WorkOrderStatus) IsClosed() bool {
	return s == WorkOrderStatusCompleted || s == WorkOrderStatusCancelled
}

// WorkOrder represents a field service job
type WorkOrder struct {
	RecordMeta

	Number       string          `gorm:"index" json:"number"`
	Title        string          `json:"title"`
	Status       WorkOrderStatus `gorm:"index" json:"status"`
	Priority     string          `json:"priority"` // low | normal | high | urgent
	CustomerID   string          `gorm:"index" json:"customer_id"`
	TechnicianID string          `gorm:"index" json:"technician_id"`

	// Site coordinates, falls back to the customer's when empty
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	SLADueAt    *time.Time `gorm:"column:sla_due_at" json:"sla_due_at,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Notes string            `gorm:"type:text" json:"notes"`
	Extra datatypes.JSONMap `json:"extra,omitempty"`
}

// TableName specifies the table name
func (WorkOrder) TableName() string { return string(CollectionWorkOrders) }

// GetEntityType implements Record
func (WorkOrder) GetEntityType() Collection { return CollectionWorkOrders }

// CustomerSnapshot is a read-only copy of a customer kept for offline lookups
type CustomerSnapshot struct {
	RecordMeta

	Name      string   `gorm:"index" json:"name"`
	Address   string   `json:"address"`
	City      string   `json:"city"`
	Phone     string   `json:"phone"`
	Email     string   `json:"email"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// TableName specifies the table name
func (CustomerSnapshot) TableName() string { return string(CollectionCustomerSnapshots) }

// GetEntityType implements Record
func (CustomerSnapshot) GetEntityType() Collection { return CollectionCustomerSnapshots }
