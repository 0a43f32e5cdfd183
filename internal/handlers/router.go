// Package handlers is the local control API used by the UI and the
// background worker: records, sync status and triggers, session values,
// alerts and the cross-tab websocket relay.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/xelth-com/fieldsync/internal/alerts"
	"github.com/xelth-com/fieldsync/internal/buildinfo"
	"github.com/xelth-com/fieldsync/internal/channel"
	"github.com/xelth-com/fieldsync/internal/kv"
	"github.com/xelth-com/fieldsync/internal/middleware"
	"github.com/xelth-com/fieldsync/internal/outbox"
	"github.com/xelth-com/fieldsync/internal/store"
	"github.com/xelth-com/fieldsync/internal/sync"
)

// Deps are the components served by the router. Nil members disable their
// routes.
type Deps struct {
	Engine        *sync.SyncEngine
	Queue         *outbox.Queue
	Store         *store.Store
	Mutator       *outbox.Mutator
	Trigger       *sync.ChanTrigger
	SessionValues kv.KeyValueStore
	Alerts        *alerts.Engine
	Monitor       *alerts.Monitor
	Hub           *channel.Hub
	Logger        *slog.Logger
}

// Router wraps the mux router and the served components
type Router struct {
	*mux.Router
	deps Deps
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := &Router{
		Router: mux.NewRouter(),
		deps:   deps,
	}
	r.Use(middleware.RequestLogger(deps.Logger))

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	if deps.Engine != nil {
		NewSyncHandler(deps.Engine, deps.Queue, deps.Trigger).RegisterRoutes(api)
	}

	if deps.Store != nil && deps.Mutator != nil {
		r.registerRecordRoutes(api)
	}

	if deps.SessionValues != nil {
		api.HandleFunc("/session-values/{key}", r.getSessionValue).Methods("GET")
		api.HandleFunc("/session-values/{key}", r.putSessionValue).Methods("PUT")
		api.HandleFunc("/session-values/{key}", r.deleteSessionValue).Methods("DELETE")
	}

	if deps.Alerts != nil {
		api.HandleFunc("/alerts", r.listAlerts).Methods("GET")
		api.HandleFunc("/alerts/dismissed", r.listDismissed).Methods("GET")
		api.HandleFunc("/alerts/{id}/dismiss", r.dismissAlert).Methods("POST")
		api.HandleFunc("/alerts/{id}/dismiss", r.restoreAlert).Methods("DELETE")
	}

	if deps.Hub != nil {
		r.HandleFunc("/ws", deps.Hub.ServeWs)
	}

	return r
}

// healthCheck returns the health status of the agent
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"server": "local",
		"build":  buildinfo.Current(),
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
