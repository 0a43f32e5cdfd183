package sync

import (
	"time"
)

// Trigger names why a sync pass was requested
type Trigger string

const (
	TriggerStartup    Trigger = "startup"
	TriggerReconnect  Trigger = "reconnect"
	TriggerPeriodic   Trigger = "periodic"
	TriggerUser       Trigger = "user"
	TriggerBackground Trigger = "background"
)

// SyncPhase tells where an error happened
type SyncPhase string

const (
	PhasePush  SyncPhase = "push"
	PhasePull  SyncPhase = "pull"
	PhaseLocal SyncPhase = "local"
)

// SyncError describes one failure captured during a pass. Failures never
// abort a pass; they are reported here instead.
type SyncError struct {
	Phase      SyncPhase `json:"phase"`
	Kind       ErrorKind `json:"kind"`
	EntryID    uint64    `json:"entry_id,omitempty"`
	Method     string    `json:"method,omitempty"`
	Path       string    `json:"path,omitempty"`
	Collection string    `json:"collection,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Message    string    `json:"message"`
}

// SyncResult is produced once per completed pass
type SyncResult struct {
	Timestamp time.Time     `json:"timestamp"`
	Trigger   Trigger       `json:"trigger,omitempty"`
	Pushed    int           `json:"pushed"`
	Pulled    int           `json:"pulled"`
	Conflicts int           `json:"conflicts"`
	Errors    []SyncError   `json:"errors"`
	Succeeded bool          `json:"succeeded"`
	Offline   bool          `json:"offline,omitempty"`
	Pending   int64         `json:"pending"`
	RetryAt   *time.Time    `json:"retry_at,omitempty"` // set when the queue head is backing off
	Duration  time.Duration `json:"duration"`
}

// SyncStatus is the engine state exposed to the control API
type SyncStatus struct {
	Running    bool        `json:"running"`
	InProgress bool        `json:"in_progress"`
	Online     bool        `json:"online"`
	Pending    int64       `json:"pending"`
	LastResult *SyncResult `json:"last_result,omitempty"`
	LastSyncAt *time.Time  `json:"last_sync_at,omitempty"`
}
