package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xelth-com/posync/internal/changelog"
	"github.com/xelth-com/posync/internal/config"
	"github.com/xelth-com/posync/internal/database"
	"github.com/xelth-com/posync/internal/models"
	"github.com/xelth-com/posync/internal/repository"
	"github.com/xelth-com/posync/internal/store"
	syncpkg "github.com/xelth-com/posync/internal/sync"
	"github.com/xelth-com/posync/internal/utils"
	"github.com/xelth-com/posync/internal/websocket"
)

const testSecret = "test-secret"

func openStore(t *testing.T, name string) *store.Store {
	t.Helper()
	db, err := database.OpenLocal(filepath.Join(t.TempDir(), name), false)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := store.New(db.DB)
	if err := s.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return s
}

func newServer(t *testing.T) (*Router, *store.Store) {
	t.Helper()
	s := openStore(t, "server.db")
	pushes := syncpkg.NewPushService(s.DB(), syncpkg.NewReconciler(s), nil, nil)
	if err := pushes.Migrate(); err != nil {
		t.Fatalf("Failed to migrate push service: %v", err)
	}
	return NewRouter(s, pushes, websocket.NewHub(), Options{JWTSecret: testSecret}), s
}

func token(t *testing.T, orgID string) string {
	t.Helper()
	tok, err := utils.GenerateToken(utils.Claims{OrganizationID: orgID, UserID: "u-1", DeviceID: "pos-1"}, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	return tok
}

func do(t *testing.T, h http.Handler, method, path, tok, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	r, _ := newServer(t)
	rec := do(t, r, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
}

func TestPush_RequiresToken(t *testing.T) {
	r, s := newServer(t)
	body := `{"changes":{"products":[{"id":"c1","action":"create","data":{"id":"p1","name":"Cola"}}]}}`

	rec := do(t, r, http.MethodPost, "/api/sync/push", "", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", rec.Code)
	}
	if _, err := s.Get(context.Background(), "org-1", models.TableProducts, "p1"); err == nil {
		t.Error("Unauthenticated push must not change the store")
	}
}

func TestPush_Success(t *testing.T) {
	r, s := newServer(t)
	body := `{"changes":{
		"products":[{"id":"c1","action":"create","data":{"id":"p1","name":"Cola"}},
		            {"id":"c2","action":"create","data":{"id":"p2"}}],
		"widgets":[{"id":"c3","action":"create","data":{}}]
	}}`

	rec := do(t, r, http.MethodPost, "/api/sync/push", token(t, "org-1"), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp syncpkg.PushResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Success || resp.Synced != 1 || len(resp.Errors) != 1 {
		t.Fatalf("Unexpected response: %+v", resp)
	}
	if resp.Errors[0].ID != "c2" || resp.Errors[0].Table != models.TableProducts {
		t.Errorf("Unexpected error entry: %+v", resp.Errors[0])
	}

	got, err := s.Get(context.Background(), "org-1", models.TableProducts, "p1")
	if err != nil {
		t.Fatalf("Pushed product missing: %v", err)
	}
	if got.(*models.Product).OrganizationID != "org-1" {
		t.Errorf("Expected org from token, got %q", got.(*models.Product).OrganizationID)
	}

	runs := do(t, r, http.MethodGet, "/api/sync/runs", token(t, "org-1"), "")
	if runs.Code != http.StatusOK || !strings.Contains(runs.Body.String(), `"pos-1"`) {
		t.Errorf("Expected run of pos-1, got %d: %s", runs.Code, runs.Body.String())
	}
}

func TestPush_MalformedBody(t *testing.T) {
	r, _ := newServer(t)
	tok := token(t, "org-1")

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"changes":`},
		{"missing changes", `{}`},
		{"changes not an object", `{"changes":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, http.MethodPost, "/api/sync/push", tok, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", rec.Code)
			}
			var resp map[string]string
			json.Unmarshal(rec.Body.Bytes(), &resp)
			if resp["error"] == "" || resp["details"] == "" {
				t.Errorf("Expected error and details, got %v", resp)
			}
		})
	}
}

func TestEntities_StatusMapping(t *testing.T) {
	r, _ := newServer(t)
	tok := token(t, "org-1")

	if rec := do(t, r, http.MethodPost, "/api/entities/products", tok, `{"id":"p1","name":"Cola","price":"1.50"}`); rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"get", http.MethodGet, "/api/entities/products/p1", "", http.StatusOK},
		{"list", http.MethodGet, "/api/entities/products", "", http.StatusOK},
		{"unknown table", http.MethodGet, "/api/entities/widgets", "", http.StatusNotFound},
		{"missing row", http.MethodGet, "/api/entities/products/nope", "", http.StatusNotFound},
		{"validation", http.MethodPost, "/api/entities/products", `{"sku":"X"}`, http.StatusBadRequest},
		{"invalid json", http.MethodPost, "/api/entities/products", `{`, http.StatusBadRequest},
		{"missing reference", http.MethodPost, "/api/entities/movements", `{"productId":"ghost","warehouseId":"w","type":"in","quantity":1}`, http.StatusUnprocessableEntity},
		{"patch", http.MethodPatch, "/api/entities/products/p1", `{"stock":4}`, http.StatusOK},
		{"assign to missing role", http.MethodPut, "/api/roles/r1/permissions", `{"permissionIds":[]}`, http.StatusNotFound},
		{"delete", http.MethodDelete, "/api/entities/products/p1", "", http.StatusNoContent},
		{"delete again", http.MethodDelete, "/api/entities/products/p1", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, tt.method, tt.path, tok, tt.body)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestEntities_OrganizationIsolation(t *testing.T) {
	r, _ := newServer(t)

	do(t, r, http.MethodPost, "/api/entities/products", token(t, "org-1"), `{"id":"p1","name":"Cola"}`)

	rec := do(t, r, http.MethodGet, "/api/entities/products/p1", token(t, "org-2"), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 across organizations, got %d", rec.Code)
	}
	rec = do(t, r, http.MethodGet, "/api/entities/products", token(t, "org-2"), "")
	var products []models.Product
	if err := json.Unmarshal(rec.Body.Bytes(), &products); err != nil || len(products) != 0 {
		t.Errorf("Expected empty list, got %s", rec.Body.String())
	}
}

func TestDeviceRouter_PushThroughServer(t *testing.T) {
	server, serverStore := newServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	monitor := syncpkg.NewConnectionManager([]config.SyncRouteConfig{{URL: ts.URL, Type: "direct", Priority: 1}})
	client := syncpkg.NewClient(monitor, token(t, "org-1"), 5*time.Second)

	local := openStore(t, "device.db")
	changes := changelog.New(local.DB(), 5)
	if err := changes.Migrate(); err != nil {
		t.Fatalf("Failed to migrate change log: %v", err)
	}
	facade := repository.New("org-1", local, changes, monitor, client, repository.Options{})
	device := NewDeviceRouter(facade)

	// Offline: the write is queued
	rec := do(t, device, http.MethodPost, "/api/entities/products", "", `{"id":"p1","name":"Cola","stock":3}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var status repository.Status
	rec = do(t, device, http.MethodGet, "/api/sync/status", "", "")
	json.Unmarshal(rec.Body.Bytes(), &status)
	if status.Online || status.Pending != 1 {
		t.Fatalf("Expected offline with 1 pending, got %+v", status)
	}

	monitor.SetOnline(true)
	rec = do(t, device, http.MethodPost, "/api/sync/push", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp syncpkg.PushResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Synced != 1 {
		t.Errorf("Expected 1 synced, got %+v", resp)
	}
	if _, err := serverStore.Get(context.Background(), "org-1", models.TableProducts, "p1"); err != nil {
		t.Errorf("Expected product on server: %v", err)
	}

	rec = do(t, device, http.MethodGet, "/api/sync/dead-letters", "", "")
	var dead []models.ChangeRecord
	if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &dead) != nil || len(dead) != 0 {
		t.Errorf("Expected no dead letters, got %d: %s", rec.Code, rec.Body.String())
	}
	if n, _ := changes.Pending(context.Background(), "org-1"); n != 0 {
		t.Errorf("Expected empty change log after push, got %d pending", n)
	}
}

func TestDeviceRouter_ServerRejectionPassesThrough(t *testing.T) {
	server, _ := newServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	monitor := syncpkg.NewConnectionManager([]config.SyncRouteConfig{{URL: ts.URL, Priority: 1}})
	monitor.SetOnline(true)
	client := syncpkg.NewClient(monitor, token(t, "org-1"), 5*time.Second)

	local := openStore(t, "device.db")
	changes := changelog.New(local.DB(), 5)
	changes.Migrate()
	device := NewDeviceRouter(repository.New("org-1", local, changes, monitor, client, repository.Options{}))

	// Passes local validation, fails on the server: the server has no product p9
	if rec := do(t, device, http.MethodPost, "/api/entities/warehouses", "", `{"id":"w1","name":"Main"}`); rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := local.Create(context.Background(), "org-1", models.TableProducts, json.RawMessage(`{"id":"p9","name":"Local only"}`)); err != nil {
		t.Fatalf("Failed to seed local product: %v", err)
	}

	rec := do(t, device, http.MethodPost, "/api/entities/movements", "", `{"productId":"p9","warehouseId":"w1","type":"in","quantity":1}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected server status 422, got %d: %s", rec.Code, rec.Body.String())
	}
	if n, _ := changes.Pending(context.Background(), "org-1"); n != 0 {
		t.Errorf("Rejected online write must not be queued, got %d pending", n)
	}
}

func TestRoles_PermissionsRoundTrip(t *testing.T) {
	r, _ := newServer(t)
	tok := token(t, "org-1")

	do(t, r, http.MethodPost, "/api/entities/roles", tok, `{"id":"r1","name":"cashier"}`)
	do(t, r, http.MethodPost, "/api/entities/permissions", tok, `{"id":"pa","code":"pos.sell"}`)
	do(t, r, http.MethodPost, "/api/entities/permissions", tok, `{"id":"pb","code":"pos.refund"}`)

	if rec := do(t, r, http.MethodPut, "/api/roles/r1/permissions", tok, `{"permissionIds":["pb","pa"]}`); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec := do(t, r, http.MethodGet, "/api/roles/r1/permissions", tok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		RoleID        string   `json:"roleId"`
		PermissionIDs []string `json:"permissionIds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.RoleID != "r1" || len(resp.PermissionIDs) != 2 || resp.PermissionIDs[0] != "pa" || resp.PermissionIDs[1] != "pb" {
		t.Errorf("Unexpected permissions: %+v", resp)
	}

	if rec := do(t, r, http.MethodGet, "/api/roles/ghost/permissions", tok, ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for a missing role, got %d", rec.Code)
	}
	if rec := do(t, r, http.MethodGet, "/api/roles/r1/permissions", token(t, "org-2"), ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 across organizations, got %d", rec.Code)
	}
}

func TestDevices_RequestSyncReachesListener(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := openStore(t, "server.db")
	pushes := syncpkg.NewPushService(s.DB(), syncpkg.NewReconciler(s), nil, nil)
	if err := pushes.Migrate(); err != nil {
		t.Fatalf("Failed to migrate push service: %v", err)
	}
	hub := websocket.NewHub()
	go hub.Run(ctx)
	r := NewRouter(s, pushes, hub, Options{JWTSecret: testSecret})
	ts := httptest.NewServer(r)
	defer ts.Close()
	tok := token(t, "org-1")

	if rec := do(t, r, http.MethodPost, "/api/devices/pos-1/sync", tok, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 before the device listens, got %d", rec.Code)
	}

	events := make(chan websocket.Event, 8)
	listener := websocket.NewListener(func() string { return ts.URL }, tok, "pos-1", func(e websocket.Event) { events <- e })
	go listener.Run(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for {
		rec := do(t, r, http.MethodPost, "/api/devices/pos-1/sync", tok, "")
		if rec.Code == http.StatusAccepted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Device never became reachable, last status %d", rec.Code)
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case e := <-events:
		if e.Type != "sync.requested" {
			t.Errorf("Unexpected event type %q", e.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listener did not receive sync.requested")
	}

	if rec := do(t, r, http.MethodPost, "/api/devices/pos-1/sync", token(t, "org-2"), ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 across organizations, got %d", rec.Code)
	}

	do(t, r, http.MethodPost, "/api/sync/push", tok, `{"changes":{}}`)
	rec := do(t, r, http.MethodGet, "/api/devices", tok, "")
	var list struct {
		Devices   []models.RegisteredDevice `json:"devices"`
		Listeners int                       `json:"listeners"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("Failed to decode devices: %v", err)
	}
	if list.Listeners != 1 || len(list.Devices) != 1 || list.Devices[0].DeviceID != "pos-1" {
		t.Errorf("Unexpected devices response: %s", rec.Body.String())
	}
}

func TestDeviceRouter_StatusAndRolePermissions(t *testing.T) {
	server, _ := newServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	monitor := syncpkg.NewConnectionManager([]config.SyncRouteConfig{{URL: ts.URL, Type: "direct", Priority: 1}})
	client := syncpkg.NewClient(monitor, token(t, "org-1"), 5*time.Second)
	local := openStore(t, "device.db")
	changes := changelog.New(local.DB(), 5)
	if err := changes.Migrate(); err != nil {
		t.Fatalf("Failed to migrate change log: %v", err)
	}
	device := NewDeviceRouter(repository.New("org-1", local, changes, monitor, client, repository.Options{}))

	do(t, device, http.MethodPost, "/api/entities/roles", "", `{"id":"r1","name":"cashier"}`)
	do(t, device, http.MethodPost, "/api/entities/permissions", "", `{"id":"pa","code":"pos.sell"}`)
	if rec := do(t, device, http.MethodPut, "/api/roles/r1/permissions", "", `{"permissionIds":["pa"]}`); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec := do(t, device, http.MethodGet, "/api/roles/r1/permissions", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"permissionIds":["pa"]`) {
		t.Errorf("Expected offline read of the mirror, got %d: %s", rec.Code, rec.Body.String())
	}

	if !monitor.CheckNow(context.Background()) {
		t.Fatal("Expected health check to reach the server")
	}
	var status repository.Status
	rec = do(t, device, http.MethodGet, "/api/sync/status", "", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	route, ok := status.Routes[ts.URL]
	if !ok || !route.IsAvailable || route.SuccessCount == 0 {
		t.Errorf("Expected a healthy route entry for %s, got %+v", ts.URL, status.Routes)
	}
	if len(status.RouteHistory) == 0 || status.RouteHistory[len(status.RouteHistory)-1].ToRoute != ts.URL {
		t.Errorf("Expected the switch to %s in route history, got %+v", ts.URL, status.RouteHistory)
	}
}
