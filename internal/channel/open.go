package channel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xelth-com/fieldsync/internal/config"
)

// Open returns the channel selected by cfg. Any failure degrades to a
// FocusFallback; channel problems never stop the application.
func Open(ctx context.Context, cfg config.ChannelConfig, tenant string, bus *Bus, logger *slog.Logger) PubSubChannel {
	if logger == nil {
		logger = slog.Default()
	}

	ch, err := dial(ctx, cfg, tenant, bus, logger)
	if err != nil {
		logger.Warn("cross-instance channel unavailable, using focus revalidation", "backend", cfg.Backend, "error", err)
		return NewFocusFallback(logger)
	}
	return ch
}

func dial(ctx context.Context, cfg config.ChannelConfig, tenant string, bus *Bus, logger *slog.Logger) (PubSubChannel, error) {
	switch cfg.Backend {
	case "", "local":
		if bus == nil {
			return nil, fmt.Errorf("local bus not provided: %w", ErrUnsupported)
		}
		return bus.Join(logger), nil
	case "ws":
		if cfg.HubURL == "" {
			return nil, fmt.Errorf("CHANNEL_HUB_URL not set: %w", ErrUnsupported)
		}
		return DialWS(ctx, cfg.HubURL, tenant, logger)
	case "nats":
		return DialNATS(cfg.NATSURL, tenant, logger)
	case "none":
		return nil, ErrUnsupported
	default:
		return nil, fmt.Errorf("backend %q: %w", cfg.Backend, ErrUnsupported)
	}
}
