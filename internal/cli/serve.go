package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xelth-com/fieldsync/internal/alerts"
	"github.com/xelth-com/fieldsync/internal/channel"
	"github.com/xelth-com/fieldsync/internal/handlers"
	"github.com/xelth-com/fieldsync/internal/kv"
	"github.com/xelth-com/fieldsync/internal/location"
	"github.com/xelth-com/fieldsync/internal/middleware"
	"github.com/xelth-com/fieldsync/internal/sync"
)

// PositionKey is the session value the UI writes the device position to
const PositionKey = "position"

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen      string
	AllowRemote bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync agent and its local control API",
		Long: `Run the sync engine in the background and serve the local control API
used by the field UI: records, sync status, session values, alerts and the
cross-tab invalidation relay on /ws.

Example:
  fieldsync serve
  fieldsync serve --listen 127.0.0.1:4000 --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (default LISTEN_ADDR)")
	cmd.Flags().BoolVar(&opts.AllowRemote, "allow-remote", false, "accept control API requests from non-loopback addresses")

	return cmd
}

func runServe(opts *ServeOptions) error {
	// 1. Configuration and local store
	app, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	cfg := app.Config
	log.Printf("✅ Local store ready (%s)", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Cross-tab channel
	hub := channel.NewHub(app.Logger)
	go hub.Run(ctx)

	var ch channel.PubSubChannel
	switch cfg.Channel.Backend {
	case "", "local":
		ch = hub.Attach(cfg.Session.TenantID, app.Logger)
	default:
		ch = channel.Open(ctx, cfg.Channel, cfg.Session.TenantID, nil, app.Logger)
	}
	log.Printf("📡 Invalidation channel: %T", ch)

	// 3. Sync engine
	trigger := sync.NewChanTrigger()
	engine := app.newEngine(sync.WithChannel(ch), sync.WithBackgroundTrigger(trigger))

	// 4. Alerts over the position the UI reports
	sessionValues := kv.NewMemoryStore()
	provider := location.FromValues(sessionValues, PositionKey)
	alertEngine := alerts.NewEngine(app.Store, app.Values)
	monitor := alerts.NewMonitor(alertEngine, provider, time.Duration(cfg.Location.AlertInterval)*time.Second, app.Logger)
	monitor.Subscribe(func(list []alerts.Alert) {
		app.Logger.Debug("alerts recomputed", "active", len(list))
	})

	ch.OnInvalidate(func(keys []string) { monitor.Refresh() })
	engine.OnSyncComplete(func(sync.SyncResult) { monitor.Refresh() })
	if fallback, ok := ch.(*channel.FocusFallback); ok {
		engine.OnSyncComplete(func(sync.SyncResult) { fallback.Revalidate() })
	}
	go monitor.Run(ctx)

	if err := engine.Start(ctx); err != nil {
		log.Printf("⚠️ Sync Engine: Failed to start: %v", err)
	}

	// 5. Optional position sharing
	if cfg.Location.ShareInterval > 0 {
		sharer := location.NewSharer(provider, app.Queue, time.Duration(cfg.Location.ShareInterval)*time.Second,
			location.WithPath(cfg.Location.SharePath),
			location.WithMinDistance(cfg.Location.MinDistance),
			location.WithLogger(app.Logger),
		)
		go sharer.Run(ctx)
		log.Printf("📍 Location sharing every %ds", cfg.Location.ShareInterval)
	}

	// 6. Control API with graceful shutdown
	router := handlers.NewRouter(handlers.Deps{
		Engine:        engine,
		Queue:         app.Queue,
		Store:         app.Store,
		Mutator:       app.newMutator(ch),
		Trigger:       trigger,
		SessionValues: sessionValues,
		Alerts:        alertEngine,
		Monitor:       monitor,
		Hub:           hub,
		Logger:        app.Logger,
	})
	var handler http.Handler = router
	if !opts.AllowRemote {
		handler = middleware.LoopbackOnly(handler)
	}

	listen := opts.Listen
	if listen == "" {
		listen = cfg.Listen
	}
	server := &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("🚀 Agent starting on %s [tenant: %s, device: %s]", listen, cfg.Session.TenantID, cfg.Session.DeviceID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case sig := <-shutdown:
		log.Printf("⚠️  Received signal: %v. Shutting down gracefully...", sig)
	case err := <-serveErr:
		runErr = WrapExitError(ExitCommandError, "failed to start server", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	engine.Stop()
	cancel()
	if err := ch.Close(); err != nil {
		log.Printf("Channel close error: %v", err)
	}

	log.Println("🛑 Closing database connection...")
	if err := app.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
	return runErr
}
