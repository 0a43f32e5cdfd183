package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xelth-com/fieldsync/internal/channel"
	"github.com/xelth-com/fieldsync/internal/config"
	"github.com/xelth-com/fieldsync/internal/database"
	"github.com/xelth-com/fieldsync/internal/kv"
	"github.com/xelth-com/fieldsync/internal/outbox"
	"github.com/xelth-com/fieldsync/internal/session"
	"github.com/xelth-com/fieldsync/internal/store"
	"github.com/xelth-com/fieldsync/internal/sync"
)

// App is the set of components shared by every command that touches the
// local store
type App struct {
	Config     *config.Config
	SyncConfig *config.SyncConfig
	DB         *database.DB
	Store      *store.Store
	Session    *session.Session
	Queue      *outbox.Queue
	Remote     *sync.HTTPRemote
	Connection *sync.ConnectionManager
	Values     kv.KeyValueStore
	Logger     *slog.Logger
}

// openApp loads configuration, opens and migrates the local database and
// builds the sync plumbing on top of it
func openApp(opts *RootOptions) (*App, error) {
	var envFiles []string
	if opts.EnvFile != "" {
		envFiles = append(envFiles, opts.EnvFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	if err := db.AutoMigrate(); err != nil {
		db.Close()
		return nil, WrapExitError(ExitCommandError, "failed to migrate database", err)
	}

	values, err := kv.Open(cfg.KV, db.DB)
	if err != nil {
		db.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open key-value store", err)
	}

	logger := slog.Default().With("tenant", cfg.Session.TenantID, "device", cfg.Session.DeviceID)
	syncCfg := config.LoadSyncConfig()
	var tokens session.TokenProvider
	if cfg.Session.Token != "" {
		tokens = session.StaticToken(cfg.Session.Token)
	}
	sess := session.New(cfg.Session.TenantID, cfg.Session.DeviceID, tokens)

	return &App{
		Config:     cfg,
		SyncConfig: syncCfg,
		DB:         db,
		Store:      store.New(db.DB),
		Session:    sess,
		Queue:      outbox.NewQueue(db.DB, sess),
		Remote:     sync.NewHTTPRemote(cfg.Remote.BaseURL, sess, time.Duration(cfg.Remote.Timeout)*time.Second),
		Connection: sync.NewConnectionManager(cfg.Remote.BaseURL, time.Duration(syncCfg.HealthCheckInterval)*time.Second, logger),
		Values:     values,
		Logger:     logger,
	}, nil
}

// newEngine builds a sync engine over the app's components
func (a *App) newEngine(opts ...sync.Option) *sync.SyncEngine {
	opts = append([]sync.Option{
		sync.WithConnectionManager(a.Connection),
		sync.WithLogger(a.Logger),
	}, opts...)
	return sync.NewSyncEngine(a.Store, a.Queue, a.Remote, a.Session, a.SyncConfig, opts...)
}

// newMutator builds the local write path. ch may be nil.
func (a *App) newMutator(ch channel.PubSubChannel) *outbox.Mutator {
	return outbox.NewMutator(a.Store, a.Queue, ch, outbox.PathsFromConfig(a.SyncConfig), a.Logger)
}

// Close releases the database
func (a *App) Close() error {
	if err := a.DB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
