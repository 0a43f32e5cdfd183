package location

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/xelth-com/fieldsync/internal/outbox"
)

// DefaultSharePath is where technician positions are posted
const DefaultSharePath = "/api/technician-locations"

// Sharer periodically queues the current position for the remote. Writes
// go through the outbox, so positions taken offline are delivered later in
// order.
type Sharer struct {
	provider Provider
	queue    *outbox.Queue
	path     string
	interval time.Duration
	minMove  float64
	logger   *slog.Logger

	last    *Position
	stopped chan struct{}
}

// SharerOption configures a Sharer
type SharerOption func(*Sharer)

// WithPath overrides DefaultSharePath
func WithPath(p string) SharerOption { return func(s *Sharer) { s.path = p } }

// WithMinDistance skips readings closer than meters to the last shared one
func WithMinDistance(meters float64) SharerOption {
	return func(s *Sharer) { s.minMove = meters }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) SharerOption { return func(s *Sharer) { s.logger = l } }

// NewSharer creates a sharer reading provider every interval
func NewSharer(provider Provider, q *outbox.Queue, interval time.Duration, opts ...SharerOption) *Sharer {
	if interval <= 0 {
		interval = time.Minute
	}
	s := &Sharer{
		provider: provider,
		queue:    q,
		path:     DefaultSharePath,
		interval: interval,
		logger:   slog.Default(),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "location")
	return s
}

// Run shares positions until ctx is cancelled
func (s *Sharer) Run(ctx context.Context) {
	defer close(s.stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.ShareOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("location share failed", "error", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Done is closed when Run returns
func (s *Sharer) Done() <-chan struct{} { return s.stopped }

// ShareOnce reads the position and queues it. It reports whether an entry
// was queued; denied or unavailable positions and readings within the
// minimum distance are skipped without error.
func (s *Sharer) ShareOnce(ctx context.Context) (bool, error) {
	pos, err := s.provider.Current(ctx)
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnavailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if pos.Timestamp.IsZero() {
		pos.Timestamp = time.Now().UTC()
	}
	if s.last != nil && s.minMove > 0 && Distance(*s.last, pos) < s.minMove {
		return false, nil
	}

	sess := s.queue.Session()
	body := map[string]any{
		"device_id": sess.DeviceID,
		"latitude":  pos.Latitude,
		"longitude": pos.Longitude,
		"accuracy":  pos.Accuracy,
		"timestamp": pos.Timestamp,
	}
	if _, err := s.queue.Enqueue(ctx, http.MethodPost, s.path, body); err != nil {
		return false, err
	}
	s.last = &pos
	return true, nil
}

const earthRadius = 6371000.0 // meters

// Distance is the great-circle (haversine) distance between a and b in
// meters
func Distance(a, b Position) float64 {
	return Haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// Haversine returns the great-circle distance in meters between two
// coordinates in degrees
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}
