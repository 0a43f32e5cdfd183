package sync

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// RemoteStatus tracks the health of the remote API
type RemoteStatus struct {
	URL          string        `json:"url"`
	IsAvailable  bool          `json:"is_available"`
	LastCheck    time.Time     `json:"last_check"`
	LastSuccess  *time.Time    `json:"last_success,omitempty"`
	LastFailure  *time.Time    `json:"last_failure,omitempty"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	AvgLatency   time.Duration `json:"avg_latency"`
	LatencySum   time.Duration `json:"-"`
	LatencyCount int           `json:"-"`
}

// ConnectionManager decides whether the device is online. It checks
// <base>/health periodically and accepts platform connectivity events via
// SetOnline. Every offline-to-online transition is published on
// Reconnected.
type ConnectionManager struct {
	mu sync.RWMutex

	baseURL  string
	isOnline bool
	status   RemoteStatus

	// Health check
	healthCheckInterval time.Duration
	healthCheckRunning  bool
	stopHealthCheck     chan struct{}

	reconnected chan struct{}

	httpClient *http.Client
	logger     *slog.Logger
}

// NewConnectionManager creates a new connection manager. baseURL may be
// empty, in which case only SetOnline changes the state.
func NewConnectionManager(baseURL string, interval time.Duration, logger *slog.Logger) *ConnectionManager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		baseURL:             baseURL,
		status:              RemoteStatus{URL: baseURL},
		healthCheckInterval: interval,
		reconnected:         make(chan struct{}, 1),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start runs an immediate check, then begins periodic health checking
func (cm *ConnectionManager) Start(ctx context.Context) {
	cm.mu.Lock()
	if cm.healthCheckRunning || cm.baseURL == "" {
		cm.mu.Unlock()
		return
	}
	cm.healthCheckRunning = true
	stop := make(chan struct{})
	cm.stopHealthCheck = stop
	cm.mu.Unlock()

	cm.Check(ctx)
	go cm.healthCheckLoop(ctx, stop)
}

// Stop stops health checking
func (cm *ConnectionManager) Stop() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.healthCheckRunning {
		return
	}

	cm.healthCheckRunning = false
	close(cm.stopHealthCheck)
}

// IsOnline returns whether the remote is considered reachable
func (cm *ConnectionManager) IsOnline() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isOnline
}

// SetOnline records a connectivity change reported by the platform
func (cm *ConnectionManager) SetOnline(online bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.setOnlineLocked(online, "platform")
}

// Reconnected fires after each offline-to-online transition. Notifications
// are coalesced.
func (cm *ConnectionManager) Reconnected() <-chan struct{} {
	return cm.reconnected
}

// Status returns a copy of the remote health statistics
func (cm *ConnectionManager) Status() RemoteStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.status
}

// Check pings the remote once and updates the online state
func (cm *ConnectionManager) Check(ctx context.Context) bool {
	ok := cm.testConnection(ctx)

	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.setOnlineLocked(ok, "health_check")
	return ok
}

func (cm *ConnectionManager) setOnlineLocked(online bool, reason string) {
	if cm.isOnline == online {
		return
	}
	cm.isOnline = online
	if online {
		cm.logger.Info("remote reachable", "reason", reason)
		select {
		case cm.reconnected <- struct{}{}:
		default:
		}
	} else {
		cm.logger.Warn("remote unreachable, working offline", "reason", reason)
	}
}

// testConnection tests if the remote answers its health endpoint
func (cm *ConnectionManager) testConnection(ctx context.Context) bool {
	if cm.baseURL == "" {
		return cm.IsOnline()
	}

	start := time.Now()
	ok := false
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cm.baseURL+"/health", nil)
	if err == nil {
		resp, err := cm.httpClient.Do(req)
		if err == nil {
			ok = resp.StatusCode == http.StatusOK
			resp.Body.Close()
		}
	}
	latency := time.Since(start)

	cm.mu.Lock()
	defer cm.mu.Unlock()

	now := time.Now()
	cm.status.LastCheck = now
	cm.status.IsAvailable = ok
	if ok {
		cm.status.SuccessCount++
		cm.status.LastSuccess = &now
		cm.status.FailureCount = 0 // Reset failure count on success

		// Update latency statistics
		cm.status.LatencySum += latency
		cm.status.LatencyCount++
		cm.status.AvgLatency = cm.status.LatencySum / time.Duration(cm.status.LatencyCount)
	} else {
		cm.status.FailureCount++
		cm.status.LastFailure = &now
	}
	return ok
}

// healthCheckLoop periodically checks remote health
func (cm *ConnectionManager) healthCheckLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(cm.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.Check(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}
