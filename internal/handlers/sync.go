package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/xelth-com/posync/internal/middleware"
	"github.com/xelth-com/posync/internal/repository"
	syncpkg "github.com/xelth-com/posync/internal/sync"
)

// SyncHandler serves the push endpoint of the server of record
type SyncHandler struct {
	pushes *syncpkg.PushService
}

// RegisterRoutes registers sync routes
func (h *SyncHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/sync/push", h.push).Methods("POST")
	r.HandleFunc("/sync/runs", h.runs).Methods("GET")
}

// push reconciles a batch of device changes into the store
func (h *SyncHandler) push(w http.ResponseWriter, r *http.Request) {
	scope, ok := middleware.ScopeFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req syncpkg.PushRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		respondErrorDetails(w, http.StatusBadRequest, "Invalid sync payload", err.Error())
		return
	}
	if req.Changes == nil {
		respondErrorDetails(w, http.StatusBadRequest, "Invalid sync payload", "changes is required")
		return
	}

	result, err := h.pushes.Push(r.Context(), scope, req.Changes)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, syncpkg.PushResponse{Success: true, Result: result})
}

// runs lists recent pushes of the caller's organization
func (h *SyncHandler) runs(w http.ResponseWriter, r *http.Request) {
	scope, _ := middleware.ScopeFromContext(r.Context())
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := h.pushes.Runs(r.Context(), scope.OrganizationID, limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

// DeviceSyncHandler exposes the sync state of a device facade
type DeviceSyncHandler struct {
	facade *repository.Facade
}

// RegisterRoutes registers device sync routes
func (h *DeviceSyncHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/sync/status", h.status).Methods("GET")
	r.HandleFunc("/sync/push", h.push).Methods("POST")
	r.HandleFunc("/sync/dead-letters", h.deadLetters).Methods("GET")
	r.HandleFunc("/sync/dead-letters/retry", h.retry).Methods("POST")
}

func (h *DeviceSyncHandler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.facade.Status(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (h *DeviceSyncHandler) push(w http.ResponseWriter, r *http.Request) {
	result, err := h.facade.Sync(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, syncpkg.PushResponse{Success: true, Result: result})
}

func (h *DeviceSyncHandler) deadLetters(w http.ResponseWriter, r *http.Request) {
	records, err := h.facade.DeadLetters(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *DeviceSyncHandler) retry(w http.ResponseWriter, r *http.Request) {
	n, err := h.facade.RetryDeadLetters(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"requeued": n})
}
