package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/xelth-com/posync/internal/middleware"
	syncpkg "github.com/xelth-com/posync/internal/sync"
	"github.com/xelth-com/posync/internal/websocket"
)

// DeviceHandler lists the terminals of an organization and asks them to push
type DeviceHandler struct {
	pushes *syncpkg.PushService
	hub    *websocket.Hub
}

// RegisterRoutes registers device routes
func (h *DeviceHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/devices", h.list).Methods("GET")
	r.HandleFunc("/devices/{deviceId}/sync", h.requestSync).Methods("POST")
}

func (h *DeviceHandler) list(w http.ResponseWriter, r *http.Request) {
	scope, _ := middleware.ScopeFromContext(r.Context())
	devices, err := h.pushes.Devices(r.Context(), scope.OrganizationID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices":   devices,
		"listeners": h.hub.Count(scope.OrganizationID),
	})
}

// requestSync sends sync.requested to a connected device. The device pushes
// on its own; the result shows up in /api/sync/runs.
func (h *DeviceHandler) requestSync(w http.ResponseWriter, r *http.Request) {
	scope, _ := middleware.ScopeFromContext(r.Context())
	deviceID := mux.Vars(r)["deviceId"]
	if !h.hub.SendToDevice(scope.OrganizationID, deviceID, "sync.requested", map[string]string{"requestedBy": scope.UserID}) {
		respondError(w, http.StatusNotFound, "Device is not listening")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"deviceId": deviceID, "status": "requested"})
}
