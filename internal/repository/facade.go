// Package repository is the read-write facade the POS uses on a device. It
// hides whether the server of record is reachable: writes land in the local
// mirror first and are either sent straight to the server or queued in the
// change log for the next push.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xelth-com/posync/internal/changelog"
	"github.com/xelth-com/posync/internal/config"
	"github.com/xelth-com/posync/internal/models"
	"github.com/xelth-com/posync/internal/store"
	syncpkg "github.com/xelth-com/posync/internal/sync"
	"gorm.io/gorm"
)

var log = config.GetLogger()

// ErrPushInProgress is returned by Sync while another push is running
var ErrPushInProgress = errors.New("push already in progress")

// Remote is the server of record as seen from the device
type Remote interface {
	Push(ctx context.Context, batch syncpkg.Batch) (syncpkg.Result, error)
	List(ctx context.Context, table string) (json.RawMessage, error)
	Create(ctx context.Context, table string, data json.RawMessage) (json.RawMessage, error)
	Update(ctx context.Context, table, id string, patch json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, table, id string) error
	AssignPermissions(ctx context.Context, roleID string, permissionIDs []string) error
}

// Options tunes the facade
type Options struct {
	// PushTimeout bounds pushes started by an online transition
	PushTimeout time.Duration
}

// Status is a snapshot of the device sync state
type Status struct {
	Online      bool            `json:"online"`
	Route       string          `json:"route"`
	Pending     int64           `json:"pending"`
	DeadLetters int64           `json:"deadLetters"`
	Pushing     bool            `json:"pushing"`
	LastResult  *syncpkg.Result `json:"lastResult,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
	LastPushAt  *time.Time      `json:"lastPushAt,omitempty"`

	Routes       map[string]syncpkg.RouteStatus `json:"routes,omitempty"`
	RouteHistory []syncpkg.RouteSwitch          `json:"routeHistory,omitempty"`
}

// routeReporter is implemented by monitors that track per-route health
type routeReporter interface {
	GetAllRouteStatuses() map[string]syncpkg.RouteStatus
	GetRouteHistory() []syncpkg.RouteSwitch
}

// Facade serves one organization on one device.
type Facade struct {
	orgID   string
	store   *store.Store
	changes *changelog.Log
	monitor syncpkg.Monitor
	remote  Remote
	opts    Options

	mu         sync.Mutex
	pushing    bool
	rerun      bool
	closed     bool
	lastResult *syncpkg.Result
	lastErr    error
	lastPushAt *time.Time

	unsubscribe func()
	wg          sync.WaitGroup
}

// New creates a facade. It does not react to connectivity until Start.
func New(orgID string, st *store.Store, changes *changelog.Log, monitor syncpkg.Monitor, remote Remote, opts Options) *Facade {
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = 2 * time.Minute
	}
	return &Facade{
		orgID:   orgID,
		store:   st,
		changes: changes,
		monitor: monitor,
		remote:  remote,
		opts:    opts,
	}
}

// Start pushes the change log on every transition to online.
func (f *Facade) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unsubscribe != nil {
		return
	}
	f.unsubscribe = f.monitor.On(func(s syncpkg.Status) {
		if s.Online {
			f.TriggerPush("online")
		}
	})
}

// Close stops reacting to connectivity and waits for a running push.
func (f *Facade) Close() {
	f.mu.Lock()
	unsubscribe := f.unsubscribe
	f.unsubscribe = nil
	f.closed = true
	f.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	f.wg.Wait()
}

// TriggerPush starts a background push unless one is already running. A
// trigger that arrives during a push makes that push run once more.
func (f *Facade) TriggerPush(reason string) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.wg.Add(1)
	f.mu.Unlock()
	go f.backgroundPush(reason)
}

func (f *Facade) backgroundPush(reason string) {
	defer f.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), f.opts.PushTimeout)
	defer cancel()

	_, err := f.Sync(ctx)
	switch {
	case errors.Is(err, ErrPushInProgress):
		log.WithField("reason", reason).Debug("Push already running, trigger coalesced")
	case err != nil:
		log.WithField("reason", reason).WithError(err).Warn("Background push failed")
	}
}

// Sync pushes the pending change log once. Applied records are removed,
// rejected records stay queued with their error until they dead-letter.
// A call refused with ErrPushInProgress is remembered: the running push is
// followed by another one if the device is still online.
func (f *Facade) Sync(ctx context.Context) (syncpkg.Result, error) {
	f.mu.Lock()
	if f.pushing {
		f.rerun = true
		f.mu.Unlock()
		return syncpkg.Result{}, ErrPushInProgress
	}
	f.pushing = true
	f.rerun = false
	f.mu.Unlock()

	result, err := f.push(ctx)
	online := f.monitor.IsOnline()

	f.mu.Lock()
	f.pushing = false
	now := time.Now().UTC()
	f.lastPushAt = &now
	f.lastErr = err
	if err == nil {
		f.lastResult = &result
	}
	again := f.rerun && online && !f.closed
	f.rerun = false
	if again {
		f.wg.Add(1)
	}
	f.mu.Unlock()

	if again {
		go f.backgroundPush("rerun")
	}
	return result, err
}

func (f *Facade) push(ctx context.Context) (syncpkg.Result, error) {
	records, err := f.changes.Snapshot(ctx, f.orgID)
	if err != nil {
		return syncpkg.Result{}, err
	}
	if len(records) == 0 {
		return syncpkg.Result{Timestamp: time.Now().UTC()}, nil
	}
	if f.remote == nil {
		return syncpkg.Result{}, fmt.Errorf("%w: no remote configured", syncpkg.ErrUnreachable)
	}

	batch := changelog.ToBatch(records)
	result, err := f.remote.Push(ctx, batch)
	if err != nil {
		return syncpkg.Result{}, fmt.Errorf("push %d changes: %w", len(records), err)
	}

	failures := make(map[string]string, len(result.Errors))
	for _, e := range result.Errors {
		if e.ID != "" {
			failures[e.ID] = e.Error
		}
	}
	acked := make([]string, 0, len(records))
	for _, rec := range records {
		if _, failed := failures[rec.ID]; !failed {
			acked = append(acked, rec.ID)
		}
	}

	if err := f.changes.Ack(ctx, acked); err != nil {
		return result, err
	}
	dead, err := f.changes.Fail(ctx, failures)
	if err != nil {
		return result, err
	}

	log.WithFields(logrus.Fields{
		"org":    f.orgID,
		"sent":   len(records),
		"synced": result.Synced,
		"failed": len(result.Errors),
		"dead":   dead,
	}).Info("Change log pushed")
	return result, nil
}

// Status reports connectivity and queue state
func (f *Facade) Status(ctx context.Context) (Status, error) {
	pending, err := f.changes.Pending(ctx, f.orgID)
	if err != nil {
		return Status{}, err
	}
	dead, err := f.changes.DeadLetterCount(ctx, f.orgID)
	if err != nil {
		return Status{}, err
	}

	var routes map[string]syncpkg.RouteStatus
	var history []syncpkg.RouteSwitch
	if rr, ok := f.monitor.(routeReporter); ok {
		routes = rr.GetAllRouteStatuses()
		history = rr.GetRouteHistory()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	st := Status{
		Online:      f.monitor.IsOnline(),
		Route:       f.monitor.CurrentRoute(),
		Pending:     pending,
		DeadLetters: dead,
		Pushing:     f.pushing,
		LastResult:  f.lastResult,
		LastPushAt:  f.lastPushAt,

		Routes:       routes,
		RouteHistory: history,
	}
	if f.lastErr != nil {
		st.LastError = f.lastErr.Error()
	}
	return st, nil
}

// Pending counts queued changes
func (f *Facade) Pending(ctx context.Context) (int64, error) {
	return f.changes.Pending(ctx, f.orgID)
}

// DeadLetters lists changes that stopped being pushed
func (f *Facade) DeadLetters(ctx context.Context) ([]models.ChangeRecord, error) {
	return f.changes.DeadLetters(ctx, f.orgID)
}

// RetryDeadLetters requeues dead changes and pushes them when online
func (f *Facade) RetryDeadLetters(ctx context.Context) (int64, error) {
	n, err := f.changes.RetryDeadLetters(ctx, f.orgID)
	if err != nil {
		return 0, err
	}
	if n > 0 && f.monitor.IsOnline() {
		f.TriggerPush("retry")
	}
	return n, nil
}

// Create writes a new record. The id is assigned here when data has none,
// so queued children can reference the record before it reaches the server.
func (f *Facade) Create(ctx context.Context, table string, data json.RawMessage) (models.SyncableEntity, error) {
	data, err := withID(data)
	if err != nil {
		return nil, err
	}

	var entity models.SyncableEntity
	entry := changelog.Entry{Table: table, Action: syncpkg.ActionCreate, Data: data}
	err = f.write(ctx, entry, func(tx *store.Store) error {
		var err error
		entity, err = tx.Create(ctx, f.orgID, table, data)
		return err
	}, func() error {
		_, err := f.remote.Create(ctx, table, data)
		return err
	})
	return entity, err
}

// Update patches a record. Fields absent from patch keep their value.
func (f *Facade) Update(ctx context.Context, table, id string, patch json.RawMessage) (models.SyncableEntity, error) {
	var entity models.SyncableEntity
	entry := changelog.Entry{Table: table, Action: syncpkg.ActionUpdate, LocalID: id, Data: patch}
	err := f.write(ctx, entry, func(tx *store.Store) error {
		var err error
		entity, err = tx.Update(ctx, f.orgID, table, id, patch)
		return err
	}, func() error {
		_, err := f.remote.Update(ctx, table, id, patch)
		return err
	})
	return entity, err
}

// Delete removes a record
func (f *Facade) Delete(ctx context.Context, table, id string) error {
	entry := changelog.Entry{Table: table, Action: syncpkg.ActionDelete, LocalID: id}
	return f.write(ctx, entry, func(tx *store.Store) error {
		return tx.Delete(ctx, f.orgID, table, id)
	}, func() error {
		return f.remote.Delete(ctx, table, id)
	})
}

// AssignPermissions replaces the permission set of a role
func (f *Facade) AssignPermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	data, err := json.Marshal(map[string]interface{}{"roleId": roleID, "permissionIds": permissionIDs})
	if err != nil {
		return err
	}
	entry := changelog.Entry{Table: models.TablePermissions, Action: syncpkg.ActionAssign, LocalID: roleID, Data: data}
	return f.write(ctx, entry, func(tx *store.Store) error {
		return tx.AssignPermissions(ctx, f.orgID, roleID, permissionIDs)
	}, func() error {
		return f.remote.AssignPermissions(ctx, roleID, permissionIDs)
	})
}

// RolePermissions reads a role's permission ids from the local mirror
func (f *Facade) RolePermissions(ctx context.Context, roleID string) ([]string, error) {
	return f.store.RolePermissions(ctx, f.orgID, roleID)
}

// Get reads one record from the local mirror
func (f *Facade) Get(ctx context.Context, table, id string) (models.SyncableEntity, error) {
	return f.store.Get(ctx, f.orgID, table, id)
}

// List reads a table. Online it reads the server and refreshes the mirror
// from the result; offline, or when the server read fails, it reads the
// mirror.
func (f *Facade) List(ctx context.Context, table string) (interface{}, error) {
	if _, err := store.Lookup(table); err != nil {
		return nil, err
	}
	if f.remote != nil && f.monitor.IsOnline() {
		if err := f.refresh(ctx, table); err != nil {
			log.WithField("table", table).WithError(err).Warn("Remote read failed, serving local mirror")
		}
	}
	return f.store.List(ctx, f.orgID, table)
}

func (f *Facade) refresh(ctx context.Context, table string) error {
	rows, err := f.remote.List(ctx, table)
	if err != nil {
		return err
	}
	keep, err := f.changes.PendingEntityIDs(ctx, f.orgID, table)
	if err != nil {
		return err
	}
	_, err = f.store.Mirror(ctx, f.orgID, table, rows, keep)
	return err
}

// write applies a mutation to the mirror and then either sends it to the
// server or queues it, all in one local transaction. Server application
// errors roll the mirror write back and are returned.
func (f *Facade) write(ctx context.Context, entry changelog.Entry, local func(tx *store.Store) error, remote func() error) error {
	if _, err := store.Lookup(entry.Table); err != nil {
		return err
	}
	_, err := f.changes.Record(ctx, f.orgID, entry, func(tx *gorm.DB) (bool, error) {
		if err := local(f.store.WithTx(tx)); err != nil {
			return false, err
		}
		if f.remote == nil || !f.monitor.IsOnline() {
			return true, nil
		}
		err := remote()
		if errors.Is(err, syncpkg.ErrUnreachable) {
			log.WithFields(logrus.Fields{"table": entry.Table, "action": entry.Action}).
				WithError(err).Info("Server unreachable, change queued")
			return true, nil
		}
		return false, err
	})
	return err
}

// withID makes sure a create payload carries an id
func withID(data json.RawMessage) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("%w: payload must be a JSON object: %v", store.ErrValidation, err)
		}
	}
	var id string
	if raw, ok := fields["id"]; ok {
		_ = json.Unmarshal(raw, &id)
	}
	if id != "" {
		return data, nil
	}
	fields["id"], _ = json.Marshal(uuid.NewString())
	return json.Marshal(fields)
}
