package models

import (
	"time"

	"gorm.io/datatypes"
)

// Equipment is a customer asset serviced under a work order
type Equipment struct {
	RecordMeta

	WorkOrderID  string  `gorm:"index" json:"work_order_id"`
	CustomerID   string  `gorm:"index" json:"customer_id"`
	Name         string  `json:"name"`
	Model        string  `json:"model"`
	SerialNumber string  `gorm:"index" json:"serial_number"`
	Capacity     float64 `json:"capacity"`
	Unit         string  `json:"unit"`
}

func (Equipment) TableName() string { return string(CollectionEquipment) }
func (Equipment) GetEntityType() Collection { return CollectionEquipment }

// Checklist is a compliance template filled in on site
type Checklist struct {
	RecordMeta

	Name     string            `json:"name"`
	Version  int               `json:"version"`
	Template datatypes.JSONMap `json:"template,omitempty"`
}

func (Checklist) TableName() string { return string(CollectionChecklists) }
func (Checklist) GetEntityType() Collection { return CollectionChecklists }

// ChecklistResponse is a filled-in checklist for one work order
type ChecklistResponse struct {
	RecordMeta

	WorkOrderID string            `gorm:"index" json:"work_order_id"`
	ChecklistID string            `gorm:"index" json:"checklist_id"`
	Answers     datatypes.JSONMap `json:"answers,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func (ChecklistResponse) TableName() string { return string(CollectionChecklistResponses) }
func (ChecklistResponse) GetEntityType() Collection { return CollectionChecklistResponses }

// StandardWeight is a certified reference weight used for calibrations
type StandardWeight struct {
	RecordMeta

	Code              string     `gorm:"index" json:"code"`
	NominalValue      float64    `json:"nominal_value"`
	Unit              string     `json:"unit"`
	CertificateNumber string     `json:"certificate_number"`
	ValidUntil        *time.Time `json:"valid_until,omitempty"`
}

func (StandardWeight) TableName() string { return string(CollectionStandardWeights) }
func (StandardWeight) GetEntityType() Collection { return CollectionStandardWeights }

// Expense is a cost incurred by a technician during a job
type Expense struct {
	RecordMeta

	WorkOrderID string     `gorm:"index" json:"work_order_id"`
	Category    string     `json:"category"`
	Amount      float64    `json:"amount"`
	Currency    string     `json:"currency"`
	Description string     `gorm:"type:text" json:"description"`
	IncurredAt  *time.Time `json:"incurred_at,omitempty"`
}

func (Expense) TableName() string { return string(CollectionExpenses) }
func (Expense) GetEntityType() Collection { return CollectionExpenses }

// Photo references an image captured on site
type Photo struct {
	RecordMeta

	WorkOrderID string     `gorm:"index" json:"work_order_id"`
	Caption     string     `json:"caption"`
	ContentType string     `json:"content_type"`
	LocalURI    string     `json:"local_uri"`
	RemoteURL   string     `json:"remote_url"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
}

func (Photo) TableName() string { return string(CollectionPhotos) }
func (Photo) GetEntityType() Collection { return CollectionPhotos }

// Signature is a customer sign-off
type Signature struct {
	RecordMeta

	WorkOrderID string     `gorm:"index" json:"work_order_id"`
	SignerName  string     `json:"signer_name"`
	ImageData   string     `gorm:"type:text" json:"image_data"` // base64 PNG
	SignedAt    *time.Time `json:"signed_at,omitempty"`
}

func (Signature) TableName() string { return string(CollectionSignatures) }
func (Signature) GetEntityType() Collection { return CollectionSignatures }

// ChatMessage is a message in a work order thread
type ChatMessage struct {
	RecordMeta

	ThreadID string    `gorm:"index" json:"thread_id"`
	SenderID string    `json:"sender_id"`
	Body     string    `gorm:"type:text" json:"body"`
	SentAt   time.Time `json:"sent_at"`
}

func (ChatMessage) TableName() string { return string(CollectionChatMessages) }
func (ChatMessage) GetEntityType() Collection { return CollectionChatMessages }
