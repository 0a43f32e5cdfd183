package location

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xelth-com/fieldsync/internal/kv"
)

// DeniedValue stored under the position key means the platform refused
// geolocation
const DeniedValue = "denied"

// FromValues reads the position that the UI or background worker last wrote
// under key, formatted "lat,lon" or "lat,lon,accuracy".
func FromValues(values kv.KeyValueStore, key string) Func {
	return func(ctx context.Context) (Position, error) {
		raw, err := values.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			return Position{}, ErrUnavailable
		}
		if err != nil {
			return Position{}, err
		}
		if strings.TrimSpace(raw) == DeniedValue {
			return Position{}, ErrPermissionDenied
		}
		return ParsePosition(raw)
	}
}

// ParsePosition parses "lat,lon[,accuracy]"
func ParsePosition(raw string) (Position, error) {
	parts := strings.Split(raw, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return Position{}, fmt.Errorf("invalid position %q", raw)
	}

	nums := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Position{}, fmt.Errorf("invalid position %q: %w", raw, err)
		}
		nums[i] = v
	}
	if nums[0] < -90 || nums[0] > 90 || nums[1] < -180 || nums[1] > 180 {
		return Position{}, fmt.Errorf("position out of range: %q", raw)
	}

	pos := Position{Latitude: nums[0], Longitude: nums[1], Timestamp: time.Now().UTC()}
	if len(nums) == 3 {
		pos.Accuracy = nums[2]
	}
	return pos, nil
}
