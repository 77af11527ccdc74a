package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/xelth-com/posync/internal/buildinfo"
	"github.com/xelth-com/posync/internal/config"
	"github.com/xelth-com/posync/internal/middleware"
	"github.com/xelth-com/posync/internal/repository"
	"github.com/xelth-com/posync/internal/store"
	syncpkg "github.com/xelth-com/posync/internal/sync"
	"github.com/xelth-com/posync/internal/websocket"
	"gorm.io/gorm"
)

var log = config.GetLogger()

// Options configures the server router
type Options struct {
	JWTSecret   string
	RateLimiter *middleware.RateLimiter
}

// Router wraps the mux router and the services behind it
type Router struct {
	*mux.Router
	db     *gorm.DB
	store  *store.Store
	pushes *syncpkg.PushService
	hub    *websocket.Hub
}

// NewRouter creates the HTTP router of the server of record
func NewRouter(st *store.Store, pushes *syncpkg.PushService, hub *websocket.Hub, opts Options) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		db:     st.DB(),
		store:  st,
		pushes: pushes,
		hub:    hub,
	}
	r.Use(middleware.ErrorLogger(log))

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")
	r.HandleFunc("/api/status", r.getStatus).Methods("GET")

	// Everything else needs an organization scope
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Auth(opts.JWTSecret))
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Middleware)
	}

	sh := &SyncHandler{pushes: pushes}
	sh.RegisterRoutes(api)

	dh := &DeviceHandler{pushes: pushes, hub: hub}
	dh.RegisterRoutes(api)

	eh := &EntityHandler{resolve: func(req *http.Request) Entities {
		scope, _ := middleware.ScopeFromContext(req.Context())
		return st.ForOrganization(scope.OrganizationID)
	}}
	eh.RegisterRoutes(api)

	ws := r.PathPrefix("/ws").Subrouter()
	ws.Use(middleware.Auth(opts.JWTSecret))
	ws.HandleFunc("", r.serveWs).Methods("GET")

	return r
}

// NewDeviceRouter creates the localhost API the POS UI talks to. It has no
// authentication and must only listen on loopback.
func NewDeviceRouter(f *repository.Facade) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.ErrorLogger(log))

	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "server": "device"})
	}).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	dh := &DeviceSyncHandler{facade: f}
	dh.RegisterRoutes(api)

	eh := &EntityHandler{resolve: func(*http.Request) Entities { return f }}
	eh.RegisterRoutes(api)

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"server": "authoritative",
	})
}

// getStatus returns build and database information
func (r *Router) getStatus(w http.ResponseWriter, req *http.Request) {
	dbStatus := "ok"
	if sqlDB, err := r.db.DB(); err != nil || sqlDB.PingContext(req.Context()) != nil {
		dbStatus = "unavailable"
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "running",
		"database": dbStatus,
		"build":    buildinfo.Get(),
		"now":      time.Now().UTC().Format(time.RFC3339),
	})
}

// serveWs registers an authenticated listener for sync events
func (r *Router) serveWs(w http.ResponseWriter, req *http.Request) {
	scope, _ := middleware.ScopeFromContext(req.Context())
	websocket.ServeWs(r.hub, scope.OrganizationID, scope.DeviceID, w, req)
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

// respondErrorDetails sends an error response with details
func respondErrorDetails(w http.ResponseWriter, status int, message, details string) {
	respondJSON(w, status, map[string]string{
		"error":   message,
		"details": details,
	})
}

// respondStoreError maps domain errors to HTTP status codes
func respondStoreError(w http.ResponseWriter, err error) {
	var apiErr *syncpkg.APIError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrUnknownTable):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrUnsupportedAction):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrMissingReference):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &apiErr):
		respondErrorDetails(w, apiErr.StatusCode, apiErr.Message, apiErr.Details)
	case errors.Is(err, syncpkg.ErrUnreachable):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, repository.ErrPushInProgress), errors.Is(err, syncpkg.ErrPushBusy):
		respondError(w, http.StatusConflict, err.Error())
	default:
		config.LogError(log, "handlers", "respondStoreError", "unmapped error", nil, err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
