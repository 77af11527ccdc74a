package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xelth-com/posync/internal/config"
)

func TestClient_Push(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/sync/push" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer device-token" {
			t.Errorf("Missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		var req PushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(PushResponse{
			Success: true,
			Result:  Result{Synced: len(req.Changes["products"]), Timestamp: time.Now()},
		})
	}))
	defer srv.Close()

	cm := NewConnectionManager([]config.SyncRouteConfig{{URL: srv.URL, Priority: 1}})
	cm.SetOnline(true)
	c := NewClient(cm, "device-token", 5*time.Second)

	batch := Batch{}
	batch.Add("products", Change{ID: "1", Action: ActionUpdate, LocalID: "p1", Data: raw(`{"stock":1}`)})
	batch.Add("products", Change{ID: "2", Action: ActionUpdate, LocalID: "p1", Data: raw(`{"stock":2}`)})

	result, err := c.Push(context.Background(), batch)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if result.Synced != 2 {
		t.Errorf("Expected 2 synced, got %d", result.Synced)
	}
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"missing reference","details":"clientId"}`))
	}))
	defer srv.Close()

	cm := NewConnectionManager([]config.SyncRouteConfig{{URL: srv.URL, Priority: 1}})
	cm.SetOnline(true)
	c := NewClient(cm, "", 5*time.Second)

	_, err := c.Create(context.Background(), "transactions", raw(`{}`))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Message != "missing reference" {
		t.Errorf("Unexpected API error: %+v", apiErr)
	}
	if errors.Is(err, ErrUnreachable) {
		t.Error("Application errors must not be reported as unreachable")
	}
	if !cm.IsOnline() {
		t.Error("Application errors must not take the monitor offline")
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	cm := NewConnectionManager([]config.SyncRouteConfig{{URL: url, Priority: 1}})
	cm.SetOnline(true)
	c := NewClient(cm, "", 2*time.Second)

	if _, err := c.List(context.Background(), "products"); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("Expected ErrUnreachable, got %v", err)
	}
	if cm.IsOnline() {
		t.Error("Expected transport failure to take the monitor offline")
	}
}

func TestClient_CallerDeadlineOutlivesDefaultTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(PushResponse{Success: true, Result: Result{Synced: 1}})
	}))
	defer srv.Close()

	cm := NewConnectionManager([]config.SyncRouteConfig{{URL: srv.URL, Priority: 1}})
	cm.SetOnline(true)
	c := NewClient(cm, "", 100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := c.Push(ctx, Batch{})
	if err != nil {
		t.Fatalf("Push with a longer caller deadline failed: %v", err)
	}
	if result.Synced != 1 {
		t.Errorf("Expected 1 synced, got %d", result.Synced)
	}

	if _, err := c.List(context.Background(), "products"); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Expected the default timeout to bound a request without deadline, got %v", err)
	}
}
