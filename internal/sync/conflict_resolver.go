package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xelth-com/fieldsync/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConflictStatus tracks an audit row
type ConflictStatus string

const (
	ConflictStatusOpen     ConflictStatus = "open"
	ConflictStatusResolved ConflictStatus = "resolved"
)

// ResolutionLocalPending means the local version was kept because it still
// waits in the outbox. The remote applies it once the entry is acknowledged.
const ResolutionLocalPending = "local_pending"

// ConflictResolver records divergences between a pending local record and
// the pulled remote version
type ConflictResolver struct {
	tenantID string
	checksum *ChecksumCalculator
	now      func() time.Time
}

// NewConflictResolver creates a new conflict resolver
func NewConflictResolver(tenantID string, checksum *ChecksumCalculator) *ConflictResolver {
	return &ConflictResolver{tenantID: tenantID, checksum: checksum, now: time.Now}
}

// Detect compares local and remote content. It returns the hashes and
// whether they differ.
func (cr *ConflictResolver) Detect(local, remote models.Record) (localHash, remoteHash string, differ bool, err error) {
	localHash, err = cr.checksum.ComputeChecksum(local)
	if err != nil {
		return "", "", false, err
	}
	remoteHash, err = cr.checksum.ComputeChecksum(remote)
	if err != nil {
		return "", "", false, err
	}
	return localHash, remoteHash, localHash != remoteHash, nil
}

// Record writes an open conflict, or refreshes the open one for the same
// record so repeated passes do not pile up duplicates.
func (cr *ConflictResolver) Record(ctx context.Context, db *gorm.DB, local, remote models.Record, localHash, remoteHash string) error {
	c := local.GetEntityType()
	id := local.GetEntityID()

	row := models.SyncConflict{
		TenantID:   cr.tenantID,
		Collection: string(c),
		EntityID:   id,
		LocalHash:  localHash,
		RemoteHash: remoteHash,
		LocalData:  snapshot(local),
		RemoteData: snapshot(remote),
		Resolution: ResolutionLocalPending,
		Status:     string(ConflictStatusOpen),
	}

	var existing models.SyncConflict
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND collection = ? AND entity_id = ? AND status = ?", cr.tenantID, string(c), id, string(ConflictStatusOpen)).
		Take(&existing).Error
	switch {
	case err == nil:
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		return db.WithContext(ctx).Save(&row).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return db.WithContext(ctx).Create(&row).Error
	default:
		return fmt.Errorf("load conflict %s/%s: %w", c, id, err)
	}
}

// ResolveAcknowledged closes open conflicts of a record once its local
// writes were accepted by the remote
func (cr *ConflictResolver) ResolveAcknowledged(ctx context.Context, db *gorm.DB, c models.Collection, id string) error {
	now := cr.now().UTC()
	return db.WithContext(ctx).Model(&models.SyncConflict{}).
		Where("tenant_id = ? AND collection = ? AND entity_id = ? AND status = ?", cr.tenantID, string(c), id, string(ConflictStatusOpen)).
		Updates(map[string]any{
			"status":      string(ConflictStatusResolved),
			"resolved_at": now,
		}).Error
}

// OpenConflicts lists unresolved conflicts
func (cr *ConflictResolver) OpenConflicts(ctx context.Context, db *gorm.DB) ([]models.SyncConflict, error) {
	var rows []models.SyncConflict
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", cr.tenantID, string(ConflictStatusOpen)).
		Order("id").
		Find(&rows).Error
	return rows, err
}

func snapshot(rec models.Record) datatypes.JSONMap {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil
	}
	var m datatypes.JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
