package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/xelth-com/fieldsync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// saveMetadata persists the outcome of a pass as the tenant's last known
// sync state
func (se *SyncEngine) saveMetadata(ctx context.Context, result SyncResult) error {
	ts := result.Timestamp
	status := "success"
	var errMsg *string
	if len(result.Errors) > 0 {
		status = "partial"
		msg := result.Errors[0].Message
		errMsg = &msg
	}

	meta := models.SyncMetadata{
		TenantID:       se.session.TenantID,
		LastSyncAt:     &ts,
		LastSyncStatus: status,
		Pushed:         result.Pushed,
		Pulled:         result.Pulled,
		Conflicts:      result.Conflicts,
		ErrorCount:     len(result.Errors),
		SyncDurationMs: result.Duration.Milliseconds(),
		ErrorMessage:   errMsg,
	}

	err := se.store.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			UpdateAll: true,
		}).
		Create(&meta).Error
	if err != nil {
		return fmt.Errorf("save sync metadata: %w", err)
	}
	return nil
}

// LoadMetadata returns the persisted sync state, or nil before the first pass
func (se *SyncEngine) LoadMetadata(ctx context.Context) (*models.SyncMetadata, error) {
	var meta models.SyncMetadata
	err := se.store.DB().WithContext(ctx).Where("tenant_id = ?", se.session.TenantID).Take(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sync metadata: %w", err)
	}
	return &meta, nil
}
