package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/xelth-com/fieldsync/internal/outbox"
	"github.com/xelth-com/fieldsync/internal/sync"
)

// SyncHandler handles synchronization requests
type SyncHandler struct {
	syncEngine *sync.SyncEngine
	queue      *outbox.Queue
	trigger    *sync.ChanTrigger
}

// NewSyncHandler creates a new sync handler. queue and trigger may be nil.
func NewSyncHandler(syncEngine *sync.SyncEngine, queue *outbox.Queue, trigger *sync.ChanTrigger) *SyncHandler {
	return &SyncHandler{
		syncEngine: syncEngine,
		queue:      queue,
		trigger:    trigger,
	}
}

// RegisterRoutes registers sync routes on the /api subrouter
func (sh *SyncHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/sync/status", sh.GetSyncStatus).Methods("GET")
	r.HandleFunc("/sync/now", sh.SyncNow).Methods("POST")
	r.HandleFunc("/sync/queue", sh.ListQueue).Methods("GET")
	r.HandleFunc("/sync/conflicts", sh.ListConflicts).Methods("GET")
}

// GetSyncStatus returns the engine state and remote health
func (sh *SyncHandler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sync":   sh.syncEngine.GetSyncStatus(r.Context()),
		"remote": sh.syncEngine.Connection().Status(),
	})
}

// SyncNow asks for a pass. With a background trigger configured the pass
// runs asynchronously (202); otherwise it runs inline and returns the result.
func (sh *SyncHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	if sh.trigger != nil {
		queued := sh.trigger.Fire()
		respondJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
		return
	}
	respondJSON(w, http.StatusOK, sh.syncEngine.FullSync(r.Context()))
}

// ListQueue returns the pending outbox entries with their retry bookkeeping
func (sh *SyncHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	if sh.queue == nil {
		respondError(w, http.StatusNotFound, "queue not available")
		return
	}
	entries, err := sh.queue.Drain(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

// ListConflicts returns unresolved conflicts
func (sh *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := sh.syncEngine.OpenConflicts(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(conflicts),
		"conflicts": conflicts,
	})
}
