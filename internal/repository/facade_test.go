package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xelth-com/posync/internal/changelog"
	"github.com/xelth-com/posync/internal/database"
	"github.com/xelth-com/posync/internal/models"
	"github.com/xelth-com/posync/internal/store"
	syncpkg "github.com/xelth-com/posync/internal/sync"
)

const org = "org-1"

// fakeRemote is a server of record backed by its own database
type fakeRemote struct {
	store      *store.Store
	reconciler *syncpkg.Reconciler

	unreachable atomic.Bool
	pushes      atomic.Int32
	pushEntered chan struct{}
	pushRelease chan struct{}
}

func newFakeRemote(t *testing.T) *fakeRemote {
	s := openStore(t, "server.db")
	return &fakeRemote{store: s, reconciler: syncpkg.NewReconciler(s)}
}

func (r *fakeRemote) check() error {
	if r.unreachable.Load() {
		return fmt.Errorf("%w: connection refused", syncpkg.ErrUnreachable)
	}
	return nil
}

func (r *fakeRemote) Push(ctx context.Context, batch syncpkg.Batch) (syncpkg.Result, error) {
	if err := r.check(); err != nil {
		return syncpkg.Result{}, err
	}
	r.pushes.Add(1)
	if r.pushEntered != nil {
		r.pushEntered <- struct{}{}
		<-r.pushRelease
	}
	return r.reconciler.Push(ctx, org, batch), nil
}

func (r *fakeRemote) List(ctx context.Context, table string) (json.RawMessage, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	list, err := r.store.List(ctx, org, table)
	if err != nil {
		return nil, err
	}
	return json.Marshal(list)
}

func (r *fakeRemote) Create(ctx context.Context, table string, data json.RawMessage) (json.RawMessage, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	e, err := r.store.Create(ctx, org, table, data)
	if err != nil {
		return nil, &syncpkg.APIError{StatusCode: 400, Message: err.Error()}
	}
	return json.Marshal(e)
}

func (r *fakeRemote) Update(ctx context.Context, table, id string, patch json.RawMessage) (json.RawMessage, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	e, err := r.store.Update(ctx, org, table, id, patch)
	if err != nil {
		return nil, &syncpkg.APIError{StatusCode: 404, Message: err.Error()}
	}
	return json.Marshal(e)
}

func (r *fakeRemote) Delete(ctx context.Context, table, id string) error {
	if err := r.check(); err != nil {
		return err
	}
	return r.store.Delete(ctx, org, table, id)
}

func (r *fakeRemote) AssignPermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	if err := r.check(); err != nil {
		return err
	}
	return r.store.AssignPermissions(ctx, org, roleID, permissionIDs)
}

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

type testDevice struct {
	facade  *Facade
	monitor *syncpkg.ConnectionManager
	remote  *fakeRemote
	local   *store.Store
	changes *changelog.Log
}

func newTestDevice(t *testing.T, maxAttempts int) *testDevice {
	t.Helper()
	local := openStore(t, "device.db")
	changes := changelog.New(local.DB(), maxAttempts)
	if err := changes.Migrate(); err != nil {
		t.Fatalf("Failed to migrate change log: %v", err)
	}
	monitor := syncpkg.NewConnectionManager(nil)
	remote := newFakeRemote(t)

	f := New(org, local, changes, monitor, remote, Options{PushTimeout: 5 * time.Second})
	t.Cleanup(f.Close)
	return &testDevice{facade: f, monitor: monitor, remote: remote, local: local, changes: changes}
}

func (d *testDevice) pending(t *testing.T) int64 {
	t.Helper()
	n, err := d.facade.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	return n
}

func TestEndToEnd_OfflineAdjustmentsPushedOnce(t *testing.T) {
	d := newTestDevice(t, 0)
	ctx := context.Background()

	// Seed the server and pull it into the mirror while online
	if _, err := d.remote.store.Create(ctx, org, models.TableProducts, json.RawMessage(`{"id":"p1","name":"Cola","stock":10}`)); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	d.monitor.SetOnline(true)
	if _, err := d.facade.List(ctx, models.TableProducts); err != nil {
		t.Fatalf("List failed: %v", err)
	}
	d.monitor.SetOnline(false)
	d.facade.Start()

	for i := 0; i < 3; i++ {
		if _, err := d.facade.AdjustStock(ctx, "p1", -1); err != nil {
			t.Fatalf("AdjustStock failed: %v", err)
		}
	}
	if n := d.pending(t); n != 3 {
		t.Fatalf("Expected 3 queued changes, got %d", n)
	}
	local, _ := d.facade.Get(ctx, models.TableProducts, "p1")
	if local.(*models.Product).Stock != 7 {
		t.Errorf("Expected mirror to show stock 7, got %v", local.(*models.Product).Stock)
	}

	d.monitor.SetOnline(true)
	d.facade.wg.Wait()

	if n := d.remote.pushes.Load(); n != 1 {
		t.Errorf("Expected exactly one push, got %d", n)
	}
	st, err := d.facade.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.LastResult == nil || st.LastResult.Synced != 3 || len(st.LastResult.Errors) != 0 {
		t.Errorf("Expected synced 3 and no errors, got %+v", st.LastResult)
	}
	if st.Pending != 0 {
		t.Errorf("Expected empty change log, got %d", st.Pending)
	}

	server, _ := d.remote.store.Get(ctx, org, models.TableProducts, "p1")
	if server.(*models.Product).Stock != 7 {
		t.Errorf("Expected server stock 7, got %v", server.(*models.Product).Stock)
	}
}

func TestFlapping_SinglePush(t *testing.T) {
	d := newTestDevice(t, 0)
	ctx := context.Background()

	d.remote.pushEntered = make(chan struct{})
	d.remote.pushRelease = make(chan struct{})
	d.facade.Start()

	if _, err := d.facade.Create(ctx, models.TableClients, json.RawMessage(`{"name":"Ana"}`)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	d.monitor.SetOnline(true)
	select {
	case <-d.remote.pushEntered:
	case <-time.After(5 * time.Second):
		t.Fatal("Push did not start")
	}

	d.monitor.SetOnline(false)
	d.monitor.SetOnline(true)
	d.monitor.SetOnline(false)
	d.monitor.SetOnline(true)

	close(d.remote.pushRelease)
	d.facade.wg.Wait()

	if n := d.remote.pushes.Load(); n != 1 {
		t.Errorf("Expected flapping to produce one push, got %d", n)
	}
	if n := d.pending(t); n != 0 {
		t.Errorf("Expected change log drained, got %d", n)
	}
}

func TestSync_RejectsConcurrentPush(t *testing.T) {
	d := newTestDevice(t, 0)
	ctx := context.Background()

	d.remote.pushEntered = make(chan struct{})
	d.remote.pushRelease = make(chan struct{})
	if _, err := d.facade.Create(ctx, models.TableWarehouses, json.RawMessage(`{"name":"Main"}`)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.facade.Sync(ctx)
	}()
	<-d.remote.pushEntered

	if _, err := d.facade.Sync(ctx); !errors.Is(err, ErrPushInProgress) {
		t.Errorf("Expected ErrPushInProgress, got %v", err)
	}
	close(d.remote.pushRelease)
	wg.Wait()
}

func TestSync_RefusedCallRunsAgainAfterPush(t *testing.T) {
	d := newTestDevice(t, 0)
	ctx := context.Background()

	d.remote.pushEntered = make(chan struct{})
	d.remote.pushRelease = make(chan struct{})
	if _, err := d.facade.Create(ctx, models.TableClients, json.RawMessage(`{"name":"Ana"}`)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.facade.Sync(ctx)
	}()
	<-d.remote.pushEntered

	// queued after the running push took its snapshot
	if _, err := d.facade.Create(ctx, models.TableClients, json.RawMessage(`{"name":"Ben"}`)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	d.monitor.SetOnline(true)
	if _, err := d.facade.Sync(ctx); !errors.Is(err, ErrPushInProgress) {
		t.Fatalf("Expected ErrPushInProgress, got %v", err)
	}

	close(d.remote.pushRelease)
	select {
	case <-d.remote.pushEntered:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected a second push for the change queued mid-push")
	}
	wg.Wait()
	d.facade.wg.Wait()

	if n := d.remote.pushes.Load(); n != 2 {
		t.Errorf("Expected 2 pushes, got %d", n)
	}
	if n := d.pending(t); n != 0 {
		t.Errorf("Expected change log drained, got %d", n)
	}
}

func TestSync_NoRerunWhenOffline(t *testing.T) {
	d := newTestDevice(t, 0)
	ctx := context.Background()

	d.remote.pushEntered = make(chan struct{})
	d.remote.pushRelease = make(chan struct{})
	if _, err := d.facade.Create(ctx, models.TableClients, json.RawMessage(`{"name":"Ana"}`)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.facade.Sync(ctx)
	}()
	<-d.remote.pushEntered

	if _, err := d.facade.Create(ctx, models.TableClients, json.RawMessage(`{"name":"Ben"}`)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := d.facade.Sync(ctx); !errors.Is(err, ErrPushInProgress) {
		t.Fatalf("Expected ErrPushInProgress, got %v", err)
	}

	close(d.remote.pushRelease)
	wg.Wait()
	d.facade.wg.Wait()

	if n := d.remote.pushes.Load(); n != 1 {
		t.Errorf("Expected no second push while offline, got %d pushes", n)
	}
	if n := d.pending(t); n != 1 {
		t.Errorf("Expected the late change to stay queued, got %d", n)
	}
}

func TestWrite_Online(t *testing.T) {
	d := newTestDevice(t, 0)
	ctx := context.Background()
	d.monitor.SetOnline(true)

	e, err := d.facade.Create(ctx, models.TableClients, json.RawMessage(`{"name":"Ana"}`))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if n := d.pending(t); n != 0 {
		t.Errorf("Expected nothing queued while online, got %d", n)
	}
	if _, err := d.remote.store.Get(ctx, org, models.TableClients, e.GetEntityID()); err != nil {
		t.Errorf("Expected the server to have the client with the device id: %v", err)
	}
	if _, err := d.facade.Get(ctx, models.TableClients, e.GetEntityID()); err != nil {
		t.Errorf("Expected the mirror to have the client: %v", err)
	}
}

func TestWrite_OnlineApplicationErrorRollsBack(t *testing.T) {
	d := newTestDevice(t, 0)
	ctx := context.Background()

	// Exists locally only, so the server rejects the patch
	if _, err := d.local.Create(ctx, org, models.TableProducts, json.RawMessage(`{"id":"p1","name":"Cola","stock":1}`)); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	d.monitor.SetOnline(true)

	_, err := d.facade.Update(ctx, models.TableProducts, "p1", json.RawMessage(`{"stock":5}`))
	var apiErr *syncpkg.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	local, _ := d.facade.Get(ctx, models.TableProducts, "p1")
	if local.(*models.Product).Stock != 1 {
		t.Errorf("Expected mirror write rolled back, got stock %v", local.(*models.Product).Stock)
	}
	if n := d.pending(t); n != 0 {
		t.Errorf("Expected nothing queued, got %d", n)
	}
}

func TestWrite_OnlineUnreachableQueues(t *testing.T) {
	d := newTestDevice(t, 0)
	ctx := context.Background()
	d.monitor.SetOnline(true)
	d.remote.unreachable.Store(true)

	e, err := d.facade.Create(ctx, models.TableSuppliers, json.RawMessage(`{"name":"Acme"}`))
	if err != nil {
		t.Fatalf("Expected unreachable server to queue the change, got %v", err)
	}
	if n := d.pending(t); n != 1 {
		t.Errorf("Expected 1 queued change, got %d", n)
	}
	if _, err := d.facade.Get(ctx, models.TableSuppliers, e.GetEntityID()); err != nil {
		t.Errorf("Expected the mirror to have the supplier: %v", err)
	}
}

func TestWrite_LocalFailureLeavesLogUntouched(t *testing.T) {
	d := newTestDevice(t, 0)
	ctx := context.Background()

	if _, err := d.facade.Create(ctx, models.TableProducts, json.RawMessage(`{"sku":"no-name"}`)); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if _, err := d.facade.Update(ctx, models.TableProducts, "missing", json.RawMessage(`{"stock":1}`)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Expected not found, got %v", err)
	}
	if _, err := d.facade.Create(ctx, "widgets", json.RawMessage(`{}`)); !errors.Is(err, store.ErrUnknownTable) {
		t.Fatalf("Expected unknown table, got %v", err)
	}
	if n := d.pending(t); n != 0 {
		t.Errorf("Expected nothing queued, got %d", n)
	}
}

func TestList_RefreshesMirrorAndFallsBack(t *testing.T) {
	d := newTestDevice(t, 0)
	ctx := context.Background()

	if _, err := d.remote.store.Create(ctx, org, models.TableClients, json.RawMessage(`{"id":"c1","name":"Server"}`)); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	// Offline: queued local client only
	if _, err := d.facade.Create(ctx, models.TableClients, json.RawMessage(`{"id":"c2","name":"Local"}`)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	list, _ := d.facade.List(ctx, models.TableClients)
	if n := len(*list.(*[]models.Client)); n != 1 {
		t.Errorf("Expected 1 local client offline, got %d", n)
	}

	d.monitor.SetOnline(true)
	list, err := d.facade.List(ctx, models.TableClients)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if n := len(*list.(*[]models.Client)); n != 2 {
		t.Errorf("Expected server client plus queued local client, got %d", n)
	}

	d.remote.unreachable.Store(true)
	list, err = d.facade.List(ctx, models.TableClients)
	if err != nil {
		t.Fatalf("Expected fallback to the mirror, got %v", err)
	}
	if n := len(*list.(*[]models.Client)); n != 2 {
		t.Errorf("Expected mirror contents, got %d", n)
	}
}

func TestSync_DeadLettersRejectedChanges(t *testing.T) {
	d := newTestDevice(t, 1)
	ctx := context.Background()

	if _, err := d.local.Create(ctx, org, models.TableProducts, json.RawMessage(`{"id":"ghost","name":"Local only"}`)); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if _, err := d.facade.Update(ctx, models.TableProducts, "ghost", json.RawMessage(`{"stock":3}`)); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := d.facade.Create(ctx, models.TableClients, json.RawMessage(`{"name":"Ana"}`)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	result, err := d.facade.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Synced != 1 || len(result.Errors) != 1 {
		t.Fatalf("Expected 1 synced and 1 error, got %+v", result)
	}

	st, _ := d.facade.Status(ctx)
	if st.Pending != 0 || st.DeadLetters != 1 {
		t.Errorf("Expected 0 pending and 1 dead letter, got %d and %d", st.Pending, st.DeadLetters)
	}

	n, err := d.facade.RetryDeadLetters(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 retried change, got %d, %v", n, err)
	}
	if p := d.pending(t); p != 1 {
		t.Errorf("Expected retried change back in the queue, got %d", p)
	}
}

func TestSync_UnreachableKeepsQueue(t *testing.T) {
	d := newTestDevice(t, 0)
	ctx := context.Background()

	if _, err := d.facade.Create(ctx, models.TableAccounts, json.RawMessage(`{"name":"Till","type":"cash"}`)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	d.remote.unreachable.Store(true)

	if _, err := d.facade.Sync(ctx); !errors.Is(err, syncpkg.ErrUnreachable) {
		t.Fatalf("Expected ErrUnreachable, got %v", err)
	}
	if n := d.pending(t); n != 1 {
		t.Errorf("Expected change to stay queued, got %d", n)
	}
}

func TestTypedHelpers(t *testing.T) {
	d := newTestDevice(t, 0)
	ctx := context.Background()

	client := &models.Client{Name: "Ana"}
	if err := d.facade.CreateClient(ctx, client); err != nil {
		t.Fatalf("CreateClient failed: %v", err)
	}
	if client.ID == "" || client.OrganizationID != org {
		t.Errorf("Expected id and organization to be filled in, got %+v", client)
	}

	sale := &models.Transaction{ClientID: &client.ID, PaymentMode: "cash", Items: `[{"sku":"C-1"}]`}
	if err := d.facade.RecordSale(ctx, sale); err != nil {
		t.Fatalf("RecordSale failed: %v", err)
	}
	if sale.Type != models.TransactionSale {
		t.Errorf("Expected sale type, got %q", sale.Type)
	}

	records, _ := d.changes.Snapshot(ctx, org)
	if len(records) != 2 {
		t.Fatalf("Expected 2 queued creates, got %d", len(records))
	}
	if changelog.EntityID(records[0]) != client.ID {
		t.Errorf("Expected queued create to carry the client id %s", client.ID)
	}
}
