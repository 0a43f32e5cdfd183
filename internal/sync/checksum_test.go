package sync

import (
	"testing"
	"time"

	"github.com/xelth-com/fieldsync/internal/models"
	"gorm.io/datatypes"
)

func TestChecksumCalculator_ComputeChecksum(t *testing.T) {
	calc := NewChecksumCalculator()

	due := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	order := models.WorkOrder{
		RecordMeta: models.RecordMeta{ID: "123", Synced: true},
		Number:     "WO-123",
		Title:      "Annual inspection",
		Status:     models.WorkOrderStatusScheduled,
		CustomerID: "7",
		SLADueAt:   &due,
		Extra:      datatypes.JSONMap{"b": 2, "a": 1},
	}

	hash1, err := calc.ComputeChecksum(order)
	if err != nil {
		t.Fatalf("Failed to compute checksum: %v", err)
	}

	if len(hash1) != 64 {
		t.Errorf("Expected 64-character SHA256 hash, got %d characters", len(hash1))
	}

	// Compute again - should be deterministic
	hash2, err := calc.ComputeChecksum(order)
	if err != nil {
		t.Fatalf("Failed to compute checksum on second attempt: %v", err)
	}

	if hash1 != hash2 {
		t.Error("Checksum should be deterministic")
	}

	// Change a field - hash should change
	order.Title = "Modified inspection"
	hash3, err := calc.ComputeChecksum(order)
	if err != nil {
		t.Fatalf("Failed to compute checksum after modification: %v", err)
	}

	if hash1 == hash3 {
		t.Error("Checksum should change when content changes")
	}

	// Change sync flag only - hash should NOT change
	order.Title = "Annual inspection"
	order.Synced = false
	hash4, err := calc.ComputeChecksum(order)
	if err != nil {
		t.Fatalf("Failed to compute checksum after synced change: %v", err)
	}

	if hash1 != hash4 {
		t.Error("Checksum should NOT change when only the synced flag changes")
	}
}

func TestChecksumCalculator_NullEqualsMissing(t *testing.T) {
	calc := NewChecksumCalculator()

	a, err := calc.ComputeChecksum(map[string]any{"id": "1", "name": "Scale", "model": nil})
	if err != nil {
		t.Fatalf("Failed to compute checksum: %v", err)
	}
	b, err := calc.ComputeChecksum(map[string]any{"name": "Scale", "id": "1"})
	if err != nil {
		t.Fatalf("Failed to compute checksum: %v", err)
	}

	if a != b {
		t.Error("Null fields and missing fields should hash the same")
	}
}
