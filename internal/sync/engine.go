// Package sync reconciles the local store with the remote API: it replays
// the outbox, pulls collection snapshots and reports each pass as a
// SyncResult.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xelth-com/fieldsync/internal/channel"
	"github.com/xelth-com/fieldsync/internal/config"
	"github.com/xelth-com/fieldsync/internal/models"
	"github.com/xelth-com/fieldsync/internal/outbox"
	"github.com/xelth-com/fieldsync/internal/session"
	"github.com/xelth-com/fieldsync/internal/store"
	"golang.org/x/sync/singleflight"
)

// SyncEngine orchestrates all synchronization operations
type SyncEngine struct {
	mu sync.RWMutex

	// Core components
	store             *store.Store
	queue             *outbox.Queue
	remote            Remote
	session           *session.Session
	config            *config.SyncConfig
	connectionManager *ConnectionManager
	conflictResolver  *ConflictResolver
	checksumCalc      *ChecksumCalculator
	channel           channel.PubSubChannel
	triggers          []BackgroundTrigger
	logger            *slog.Logger
	now               func() time.Time

	// Single-flight for full passes
	group     singleflight.Group
	observers *observerRegistry

	// State
	isRunning      bool
	syncInProgress bool
	lastResult     *SyncResult

	// Lifecycle
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	syncChan chan Trigger
}

// Option configures a SyncEngine
type Option func(*SyncEngine)

// WithConnectionManager sets the connectivity source. Without one the
// engine assumes it is online.
func WithConnectionManager(cm *ConnectionManager) Option {
	return func(se *SyncEngine) { se.connectionManager = cm }
}

// WithChannel broadcasts changed collections after each pass
func WithChannel(ch channel.PubSubChannel) Option {
	return func(se *SyncEngine) { se.channel = ch }
}

// WithBackgroundTrigger adds an external "sync now" source consumed by Start
func WithBackgroundTrigger(t BackgroundTrigger) Option {
	return func(se *SyncEngine) { se.triggers = append(se.triggers, t) }
}

// WithClock replaces time.Now when deciding whether a failed write may be
// retried
func WithClock(now func() time.Time) Option {
	return func(se *SyncEngine) { se.now = now }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(se *SyncEngine) { se.logger = l }
}

// NewSyncEngine creates a new sync engine
func NewSyncEngine(st *store.Store, q *outbox.Queue, remote Remote, sess *session.Session, cfg *config.SyncConfig, opts ...Option) *SyncEngine {
	if cfg == nil {
		cfg = config.DefaultSyncConfig()
	}

	se := &SyncEngine{
		store:        st,
		queue:        q,
		remote:       remote,
		session:      sess,
		config:       cfg,
		checksumCalc: NewChecksumCalculator(),
		logger:       slog.Default(),
		now:          time.Now,
		syncChan:     make(chan Trigger, 1),
	}
	for _, opt := range opts {
		opt(se)
	}

	se.logger = se.logger.With("component", "sync", "tenant", sess.TenantID)
	se.conflictResolver = NewConflictResolver(sess.TenantID, se.checksumCalc)
	se.observers = &observerRegistry{logger: se.logger}
	if se.connectionManager == nil {
		se.connectionManager = NewConnectionManager("", 0, se.logger)
		se.connectionManager.isOnline = true
	}

	return se
}

// Start begins automatic synchronization: the periodic timer, reconnection
// events, background triggers and the optional startup pass
func (se *SyncEngine) Start(ctx context.Context) error {
	se.mu.Lock()
	if se.isRunning {
		se.mu.Unlock()
		return fmt.Errorf("sync engine already running")
	}
	if !se.config.Enabled {
		se.mu.Unlock()
		se.logger.Info("sync disabled by configuration")
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	se.isRunning = true
	se.cancel = cancel
	se.mu.Unlock()

	se.logger.Info("sync engine starting")

	se.connectionManager.Start(runCtx)

	se.spawn(func() { se.syncWorker(runCtx) })
	se.spawn(func() { se.reconnectLoop(runCtx) })
	for _, t := range se.triggers {
		t := t
		se.spawn(func() { se.triggerLoop(runCtx, t) })
	}
	if se.config.AutoSyncEnabled && se.config.AutoSyncInterval > 0 {
		se.spawn(func() { se.autoSyncLoop(runCtx) })
	}
	if se.config.SyncOnStartup {
		se.Request(TriggerStartup)
	}

	se.logger.Info("sync engine started", "interval", time.Duration(se.config.AutoSyncInterval)*time.Second)
	return nil
}

// Stop stops automatic synchronization and waits for a running pass
func (se *SyncEngine) Stop() {
	se.mu.Lock()
	if !se.isRunning {
		se.mu.Unlock()
		return
	}
	se.isRunning = false
	cancel := se.cancel
	se.mu.Unlock()

	se.logger.Info("stopping sync engine")
	cancel()
	se.connectionManager.Stop()
	se.wg.Wait()
	se.logger.Info("sync engine stopped")
}

// Request schedules a pass on the background worker. Requests arriving while
// one is already waiting are coalesced. Reports whether a new request was
// queued.
func (se *SyncEngine) Request(trigger Trigger) bool {
	select {
	case se.syncChan <- trigger:
		return true
	default:
		return false
	}
}

// OnSyncComplete registers fn to receive every completed SyncResult.
// Observers run in registration order. The returned function unsubscribes.
func (se *SyncEngine) OnSyncComplete(fn SyncObserver) func() {
	return se.observers.add(fn)
}

// FullSync runs one push-then-pull pass. Concurrent callers share the pass
// already in flight. Offline, it returns immediately with an empty result.
// Entry failures never surface as a Go error; they are in result.Errors.
func (se *SyncEngine) FullSync(ctx context.Context) SyncResult {
	return se.fullSync(ctx, TriggerUser)
}

func (se *SyncEngine) fullSync(ctx context.Context, trigger Trigger) SyncResult {
	if !se.connectionManager.IsOnline() {
		pending, _ := se.queue.Count(ctx)
		return SyncResult{
			Timestamp: time.Now().UTC(),
			Trigger:   trigger,
			Errors:    []SyncError{},
			Offline:   true,
			Pending:   pending,
		}
	}

	v, _, _ := se.group.Do("full-sync", func() (any, error) {
		// The pass outlives the caller that started it; others share it
		passCtx := context.WithoutCancel(ctx)
		if se.config.SyncTimeout > 0 {
			var cancel context.CancelFunc
			passCtx, cancel = context.WithTimeout(passCtx, time.Duration(se.config.SyncTimeout)*time.Second)
			defer cancel()
		}
		return se.performFullSync(passCtx, trigger), nil
	})
	return v.(SyncResult)
}

// performFullSync performs a full synchronization
func (se *SyncEngine) performFullSync(ctx context.Context, trigger Trigger) SyncResult {
	start := time.Now()
	se.setInProgress(true)
	defer se.setInProgress(false)

	result := SyncResult{
		Timestamp: start.UTC(),
		Trigger:   trigger,
		Errors:    []SyncError{},
	}
	changed := make(map[models.Collection]struct{})

	se.push(ctx, &result, changed)
	se.pull(ctx, &result, changed)

	pending, err := se.queue.Count(ctx)
	if err != nil {
		result.Errors = append(result.Errors, SyncError{Phase: PhaseLocal, Message: err.Error()})
	}
	result.Pending = pending
	result.Succeeded = len(result.Errors) == 0
	result.Duration = time.Since(start)

	if err := se.saveMetadata(ctx, result); err != nil {
		se.logger.Error("failed to persist sync state", "error", err)
	}

	se.mu.Lock()
	last := result
	se.lastResult = &last
	se.mu.Unlock()

	se.broadcast(ctx, changed)

	se.logger.Info("sync completed",
		"trigger", trigger,
		"pushed", result.Pushed,
		"pulled", result.Pulled,
		"conflicts", result.Conflicts,
		"errors", len(result.Errors),
		"pending", result.Pending,
		"duration", result.Duration)

	se.observers.notify(result)
	return result
}

// broadcast tells other instances which collections changed
func (se *SyncEngine) broadcast(ctx context.Context, changed map[models.Collection]struct{}) {
	if se.channel == nil || len(changed) == 0 {
		return
	}
	keys := make([]string, 0, len(changed))
	for c := range changed {
		keys = append(keys, channel.CollectionKey(c))
	}
	sort.Strings(keys)
	if err := se.channel.Broadcast(ctx, keys); err != nil {
		se.logger.Debug("invalidation broadcast failed", "error", err)
	}
}

func (se *SyncEngine) setInProgress(v bool) {
	se.mu.Lock()
	se.syncInProgress = v
	se.mu.Unlock()
}

// LastResult returns the result of the most recent completed pass
func (se *SyncEngine) LastResult() *SyncResult {
	se.mu.RLock()
	defer se.mu.RUnlock()
	if se.lastResult == nil {
		return nil
	}
	r := *se.lastResult
	return &r
}

// PendingCount returns the number of queued writes not yet acknowledged
func (se *SyncEngine) PendingCount(ctx context.Context) (int64, error) {
	return se.queue.Count(ctx)
}

// Connection exposes the connectivity state, e.g. to forward platform
// online/offline events
func (se *SyncEngine) Connection() *ConnectionManager {
	return se.connectionManager
}

// OpenConflicts lists conflicts recorded for this tenant that are not yet
// resolved
func (se *SyncEngine) OpenConflicts(ctx context.Context) ([]models.SyncConflict, error) {
	return se.conflictResolver.OpenConflicts(ctx, se.store.DB())
}

// GetSyncStatus returns current sync status
func (se *SyncEngine) GetSyncStatus(ctx context.Context) SyncStatus {
	se.mu.RLock()
	status := SyncStatus{
		Running:    se.isRunning,
		InProgress: se.syncInProgress,
	}
	if se.lastResult != nil {
		r := *se.lastResult
		status.LastResult = &r
	}
	se.mu.RUnlock()

	status.Online = se.connectionManager.IsOnline()
	status.Pending, _ = se.queue.Count(ctx)
	if meta, err := se.LoadMetadata(ctx); err == nil && meta != nil {
		status.LastSyncAt = meta.LastSyncAt
	}
	return status
}

func (se *SyncEngine) spawn(fn func()) {
	se.wg.Add(1)
	go func() {
		defer se.wg.Done()
		fn()
	}()
}

// syncWorker processes sync requests one at a time
func (se *SyncEngine) syncWorker(ctx context.Context) {
	for {
		select {
		case trigger := <-se.syncChan:
			se.fullSync(ctx, trigger)
		case <-ctx.Done():
			return
		}
	}
}

// autoSyncLoop requests a pass every AutoSyncInterval while online
func (se *SyncEngine) autoSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(se.config.AutoSyncInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if se.connectionManager.IsOnline() {
				se.Request(TriggerPeriodic)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (se *SyncEngine) reconnectLoop(ctx context.Context) {
	for {
		select {
		case <-se.connectionManager.Reconnected():
			se.Request(TriggerReconnect)
		case <-ctx.Done():
			return
		}
	}
}

func (se *SyncEngine) triggerLoop(ctx context.Context, t BackgroundTrigger) {
	for {
		select {
		case _, ok := <-t.SyncRequests():
			if !ok {
				return
			}
			se.Request(TriggerBackground)
		case <-ctx.Done():
			return
		}
	}
}
