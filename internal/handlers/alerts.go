package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/xelth-com/fieldsync/internal/location"
)

// listAlerts returns the active alerts, using the monitor's last position
// when one is running
func (r *Router) listAlerts(w http.ResponseWriter, req *http.Request) {
	var pos *location.Position
	if r.deps.Monitor != nil {
		pos = r.deps.Monitor.Position()
	}

	active, err := r.deps.Alerts.Active(req.Context(), pos)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(active),
		"alerts": active,
	})
}

func (r *Router) listDismissed(w http.ResponseWriter, req *http.Request) {
	ids, err := r.deps.Alerts.Dismissed(req.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"dismissed": ids})
}

func (r *Router) dismissAlert(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	if err := r.deps.Alerts.Dismiss(req.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	r.refreshAlerts()
	respondJSON(w, http.StatusOK, map[string]string{"dismissed": id})
}

func (r *Router) restoreAlert(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	if err := r.deps.Alerts.Restore(req.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	r.refreshAlerts()
	respondJSON(w, http.StatusOK, map[string]string{"restored": id})
}

func (r *Router) refreshAlerts() {
	if r.deps.Monitor != nil {
		r.deps.Monitor.Refresh()
	}
}
