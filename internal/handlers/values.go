package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/xelth-com/fieldsync/internal/kv"
)

func (r *Router) getSessionValue(w http.ResponseWriter, req *http.Request) {
	key := mux.Vars(req)["key"]
	value, err := r.deps.SessionValues.Get(req.Context(), key)
	if errors.Is(err, kv.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no value for "+key)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (r *Router) putSessionValue(w http.ResponseWriter, req *http.Request) {
	key := mux.Vars(req)["key"]
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.deps.SessionValues.Set(req.Context(), key, body.Value); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"key": key, "value": body.Value})
}

func (r *Router) deleteSessionValue(w http.ResponseWriter, req *http.Request) {
	if err := r.deps.SessionValues.Delete(req.Context(), mux.Vars(req)["key"]); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
