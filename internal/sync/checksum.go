package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// volatileFields never take part in a checksum: sync bookkeeping and
// timestamps differ between copies without the content differing.
var volatileFields = map[string]struct{}{
	"synced":         {},
	"created_at":     {},
	"updated_at":     {},
	"last_synced_at": {},
}

// ChecksumCalculator computes content hashes of records
type ChecksumCalculator struct{}

// NewChecksumCalculator creates a new checksum calculator
func NewChecksumCalculator() *ChecksumCalculator {
	return &ChecksumCalculator{}
}

// ComputeChecksum returns the SHA-256 of v's JSON form with volatile fields
// removed. Map keys are sorted by encoding/json, so the result is stable.
func (c *ChecksumCalculator) ComputeChecksum(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		// Not an object; hash it as is
		sum := sha256.Sum256(raw)
		return hex.EncodeToString(sum[:]), nil
	}
	for k := range volatileFields {
		delete(fields, k)
	}
	// Drop nulls so a missing optional field equals an explicit null
	for k, val := range fields {
		if val == nil {
			delete(fields, k)
		}
	}

	canonical, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
