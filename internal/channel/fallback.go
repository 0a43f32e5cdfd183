package channel

import (
	"context"
	"log/slog"
)

// FocusFallback replaces a real transport when none is available. Broadcasts
// go nowhere; instead the host calls Revalidate whenever the instance regains
// focus and every subscriber reloads everything.
type FocusFallback struct {
	*endpoint
}

// NewFocusFallback creates the degraded channel
func NewFocusFallback(logger *slog.Logger) *FocusFallback {
	return &FocusFallback{endpoint: newEndpoint(logger)}
}

// Broadcast is a no-op
func (f *FocusFallback) Broadcast(context.Context, []string) error {
	return nil
}

// Revalidate tells every subscriber to reload all keys
func (f *FocusFallback) Revalidate() {
	f.revalidateAll()
}

// Close is a no-op
func (f *FocusFallback) Close() error {
	return nil
}
