package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/xelth-com/fieldsync/internal/models"
	"github.com/xelth-com/fieldsync/internal/store"
)

// registerRecordRoutes exposes the local store to the UI. Reads come straight
// from the store; writes go through the mutator so they are queued for the
// remote.
func (r *Router) registerRecordRoutes(api *mux.Router) {
	api.HandleFunc("/records/{collection}", r.listRecords).Methods("GET")
	api.HandleFunc("/records/{collection}", r.createRecord).Methods("POST")
	api.HandleFunc("/records/{collection}/{id}", r.getRecord).Methods("GET")
	api.HandleFunc("/records/{collection}/{id}", r.updateRecord).Methods("PUT")
	api.HandleFunc("/records/{collection}/{id}", r.deleteRecord).Methods("DELETE")
}

func (r *Router) repo(w http.ResponseWriter, req *http.Request) (models.Collection, store.Repository, bool) {
	c, err := models.ParseCollection(mux.Vars(req)["collection"])
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return "", nil, false
	}
	repo, err := r.deps.Store.Repo(c)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return "", nil, false
	}
	return c, repo, true
}

func (r *Router) listRecords(w http.ResponseWriter, req *http.Request) {
	_, repo, ok := r.repo(w, req)
	if !ok {
		return
	}
	records, err := repo.AllRecords(req.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(records),
		"data":  records,
	})
}

func (r *Router) getRecord(w http.ResponseWriter, req *http.Request) {
	_, repo, ok := r.repo(w, req)
	if !ok {
		return
	}
	rec, err := repo.GetRecord(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (r *Router) createRecord(w http.ResponseWriter, req *http.Request) {
	_, repo, ok := r.repo(w, req)
	if !ok {
		return
	}
	rec, ok := decodeRecord(w, req, repo)
	if !ok {
		return
	}

	entry, err := r.deps.Mutator.Create(req.Context(), rec)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"data":     rec,
		"queue_id": entry.ID,
	})
}

func (r *Router) updateRecord(w http.ResponseWriter, req *http.Request) {
	_, repo, ok := r.repo(w, req)
	if !ok {
		return
	}
	rec, ok := decodeRecord(w, req, repo)
	if !ok {
		return
	}
	rec.SetEntityID(mux.Vars(req)["id"])

	entry, err := r.deps.Mutator.Update(req.Context(), rec)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":     rec,
		"queue_id": entry.ID,
	})
}

func (r *Router) deleteRecord(w http.ResponseWriter, req *http.Request) {
	c, _, ok := r.repo(w, req)
	if !ok {
		return
	}
	entry, err := r.deps.Mutator.Delete(req.Context(), c, mux.Vars(req)["id"])
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{"queue_id": entry.ID})
}

func decodeRecord(w http.ResponseWriter, req *http.Request, repo store.Repository) (models.Record, bool) {
	body, err := io.ReadAll(io.LimitReader(req.Body, 8<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	rec, err := repo.Decode(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid record: "+err.Error())
		return nil, false
	}
	return rec, true
}

// respondStoreError maps storage failures to HTTP statuses
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrMissingID), errors.Is(err, store.ErrSerialization):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrQuotaExceeded):
		respondError(w, http.StatusInsufficientStorage, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
