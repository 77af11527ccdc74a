package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/xelth-com/posync/internal/models"
)

const maxBodyBytes = 10 << 20

// Entities is the entity API of one organization: the server store or the
// device facade
type Entities interface {
	Create(ctx context.Context, table string, data json.RawMessage) (models.SyncableEntity, error)
	Update(ctx context.Context, table, id string, patch json.RawMessage) (models.SyncableEntity, error)
	Delete(ctx context.Context, table, id string) error
	Get(ctx context.Context, table, id string) (models.SyncableEntity, error)
	List(ctx context.Context, table string) (interface{}, error)
	AssignPermissions(ctx context.Context, roleID string, permissionIDs []string) error
	RolePermissions(ctx context.Context, roleID string) ([]string, error)
}

// EntityHandler serves CRUD over every synced table
type EntityHandler struct {
	resolve func(r *http.Request) Entities
}

// RegisterRoutes registers entity routes
func (h *EntityHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/entities/{table}", h.list).Methods("GET")
	r.HandleFunc("/entities/{table}", h.create).Methods("POST")
	r.HandleFunc("/entities/{table}/{id}", h.get).Methods("GET")
	r.HandleFunc("/entities/{table}/{id}", h.update).Methods("PATCH")
	r.HandleFunc("/entities/{table}/{id}", h.remove).Methods("DELETE")
	r.HandleFunc("/roles/{id}/permissions", h.rolePermissions).Methods("GET")
	r.HandleFunc("/roles/{id}/permissions", h.assignPermissions).Methods("PUT")
}

func (h *EntityHandler) list(w http.ResponseWriter, r *http.Request) {
	rows, err := h.resolve(r).List(r.Context(), mux.Vars(r)["table"])
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *EntityHandler) get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	e, err := h.resolve(r).Get(r.Context(), vars["table"], vars["id"])
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

func (h *EntityHandler) create(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	e, err := h.resolve(r).Create(r.Context(), mux.Vars(r)["table"], body)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, e)
}

func (h *EntityHandler) update(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	e, err := h.resolve(r).Update(r.Context(), vars["table"], vars["id"], body)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

func (h *EntityHandler) remove(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.resolve(r).Delete(r.Context(), vars["table"], vars["id"]); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EntityHandler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	entities := h.resolve(r)
	roleID := mux.Vars(r)["id"]
	if _, err := entities.Get(r.Context(), models.TableRoles, roleID); err != nil {
		respondStoreError(w, err)
		return
	}
	ids, err := entities.RolePermissions(r.Context(), roleID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"roleId":        roleID,
		"permissionIds": ids,
	})
}

func (h *EntityHandler) assignPermissions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PermissionIDs []string `json:"permissionIds"`
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		respondErrorDetails(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	roleID := mux.Vars(r)["id"]
	if err := h.resolve(r).AssignPermissions(r.Context(), roleID, req.PermissionIDs); err != nil {
		respondStoreError(w, err)
		return
	}
	if req.PermissionIDs == nil {
		req.PermissionIDs = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"roleId":        roleID,
		"permissionIds": req.PermissionIDs,
	})
}

func readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondErrorDetails(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return nil, false
	}
	if !json.Valid(body) {
		respondErrorDetails(w, http.StatusBadRequest, "Invalid request body", "body must be valid JSON")
		return nil, false
	}
	return body, true
}
