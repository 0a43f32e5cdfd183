package alerts

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xelth-com/fieldsync/internal/location"
)

// Monitor keeps the active alert list current: it re-reads the position on
// an interval and recomputes whenever Refresh is called (after a sync pass
// or an invalidation from another instance).
type Monitor struct {
	engine   *Engine
	provider location.Provider
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	latest    []Alert
	position  *location.Position
	listeners []func([]Alert)

	refresh chan struct{}
}

// NewMonitor creates a monitor. provider may be nil (no proximity alerts).
func NewMonitor(engine *Engine, provider location.Provider, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		engine:   engine,
		provider: provider,
		interval: interval,
		logger:   logger.With("component", "alerts"),
		refresh:  make(chan struct{}, 1),
	}
}

// Subscribe registers fn for every recomputed list. Listeners run in
// registration order on the monitor goroutine.
func (m *Monitor) Subscribe(fn func([]Alert)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Latest returns the last computed list
func (m *Monitor) Latest() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.latest...)
}

// Position returns the last known position, nil when unknown or denied
func (m *Monitor) Position() *location.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.position == nil {
		return nil
	}
	p := *m.position
	return &p
}

// Refresh asks Run to recompute. Coalesced while one is pending.
func (m *Monitor) Refresh() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

// Run recomputes immediately, then on every tick and Refresh until ctx is
// done
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.update(ctx, true)
	for {
		select {
		case <-ticker.C:
			m.update(ctx, true)
		case <-m.refresh:
			m.update(ctx, false)
		case <-ctx.Done():
			return
		}
	}
}

// Update reads the position and recomputes once
func (m *Monitor) Update(ctx context.Context) ([]Alert, error) {
	return m.update(ctx, true)
}

func (m *Monitor) update(ctx context.Context, readPosition bool) ([]Alert, error) {
	if readPosition {
		m.readPosition(ctx)
	}

	active, err := m.engine.Active(ctx, m.Position())
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Error("alert computation failed", "error", err)
		}
		return nil, err
	}

	m.mu.Lock()
	m.latest = active
	listeners := append([]func([]Alert){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(append([]Alert(nil), active...))
	}
	return active, nil
}

func (m *Monitor) readPosition(ctx context.Context) {
	if m.provider == nil {
		return
	}
	pos, err := m.provider.Current(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case err == nil:
		m.position = &pos
	case errors.Is(err, location.ErrPermissionDenied):
		m.position = nil
	case errors.Is(err, location.ErrUnavailable):
		// keep the last fix
	default:
		m.logger.Warn("position read failed", "error", err)
	}
}
