// Package location supplies the device position to the alert engine and
// shares it with the remote through the outbox.
package location

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPermissionDenied means the platform refused access to the position.
// Consumers treat it as "no position".
var ErrPermissionDenied = errors.New("location: permission denied")

// ErrUnavailable means no fix is available yet
var ErrUnavailable = errors.New("location: position unavailable")

// Position is one reading in WGS84 degrees
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"` // meters
	Timestamp time.Time `json:"timestamp"`
}

// Provider is the geolocation capability
type Provider interface {
	Current(ctx context.Context) (Position, error)
}

// Static is a Provider with a fixed, settable position. Before the first
// Set it reports ErrUnavailable.
type Static struct {
	mu     sync.RWMutex
	pos    Position
	set    bool
	denied bool
}

// NewStatic returns a provider fixed at pos
func NewStatic(pos Position) *Static {
	return &Static{pos: pos, set: true}
}

// Set updates the position
func (s *Static) Set(pos Position) {
	s.mu.Lock()
	s.pos, s.set = pos, true
	s.mu.Unlock()
}

// Deny makes Current fail with ErrPermissionDenied until Allow is called
func (s *Static) Deny() {
	s.mu.Lock()
	s.denied = true
	s.mu.Unlock()
}

// Allow reverses Deny
func (s *Static) Allow() {
	s.mu.Lock()
	s.denied = false
	s.mu.Unlock()
}

// Current implements Provider
func (s *Static) Current(context.Context) (Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.denied:
		return Position{}, ErrPermissionDenied
	case !s.set:
		return Position{}, ErrUnavailable
	}
	return s.pos, nil
}

// Func adapts a function to Provider
type Func func(ctx context.Context) (Position, error)

// Current implements Provider
func (f Func) Current(ctx context.Context) (Position, error) { return f(ctx) }
