package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xelth-com/posync/internal/config"
	"github.com/xelth-com/posync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventSyncCompleted is broadcast to an organization after each push
const EventSyncCompleted = "sync.completed"

// Notifier delivers events to the connected listeners of an organization.
type Notifier interface {
	BroadcastToOrg(orgID, event string, payload interface{})
}

// Scope identifies who is pushing
type Scope struct {
	OrganizationID string
	UserID         string
	DeviceID       string
}

// PushService is the server side of a push: it serializes pushes per
// organization, runs the reconciler and records the run.
type PushService struct {
	db         *gorm.DB
	reconciler *Reconciler
	lock       PushLock
	notifier   Notifier
}

// NewPushService wires a push service. lock and notifier may be nil.
func NewPushService(db *gorm.DB, reconciler *Reconciler, lock PushLock, notifier Notifier) *PushService {
	if lock == nil {
		lock = NewLocalPushLock()
	}
	return &PushService{db: db, reconciler: reconciler, lock: lock, notifier: notifier}
}

// Migrate creates the sync bookkeeping tables
func (s *PushService) Migrate() error {
	return s.db.AutoMigrate(&models.SyncRun{}, &models.RegisteredDevice{})
}

// Push applies a batch for the scope's organization. ctx bounds waiting for
// the lock only; once the lock is held the batch runs to completion.
func (s *PushService) Push(ctx context.Context, scope Scope, batch Batch) (Result, error) {
	release, err := s.lock.Acquire(ctx, scope.OrganizationID)
	if err != nil {
		return Result{}, err
	}
	defer release()
	ctx = context.WithoutCancel(ctx)

	started := time.Now()
	result := s.reconciler.Push(ctx, scope.OrganizationID, batch)
	duration := time.Since(started)

	fields := logrus.Fields{
		"org":      scope.OrganizationID,
		"device":   scope.DeviceID,
		"total":    batch.Total(),
		"synced":   result.Synced,
		"failed":   result.Failed(),
		"duration": duration.String(),
	}
	if result.Failed() > 0 {
		log.WithFields(fields).Warn("Push completed with errors")
	} else {
		log.WithFields(fields).Info("Push completed")
	}

	s.recordRun(scope, batch.Total(), result, started, duration)

	if s.notifier != nil {
		s.notifier.BroadcastToOrg(scope.OrganizationID, EventSyncCompleted, map[string]interface{}{
			"deviceId":  scope.DeviceID,
			"synced":    result.Synced,
			"failed":    result.Failed(),
			"timestamp": result.Timestamp,
		})
	}
	return result, nil
}

// Runs returns the most recent push runs of an organization
func (s *PushService) Runs(ctx context.Context, orgID string, limit int) ([]models.SyncRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var runs []models.SyncRun
	err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("started_at DESC, id DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// Devices returns the devices of an organization that have pushed, most
// recently synced first
func (s *PushService) Devices(ctx context.Context, orgID string) ([]models.RegisteredDevice, error) {
	var devices []models.RegisteredDevice
	err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("last_sync_at DESC, device_id").
		Find(&devices).Error
	return devices, err
}

// recordRun stores the run and touches the device row. Bookkeeping
// failures are logged and do not fail the push.
func (s *PushService) recordRun(scope Scope, total int, result Result, started time.Time, duration time.Duration) {
	errorsJSON, _ := json.Marshal(result.Errors)
	run := models.SyncRun{
		OrganizationID: scope.OrganizationID,
		DeviceID:       scope.DeviceID,
		Total:          total,
		Synced:         result.Synced,
		Failed:         result.Failed(),
		Errors:         errorsJSON,
		Duration:       int(duration.Milliseconds()),
		StartedAt:      started.UTC(),
		CompletedAt:    result.Timestamp,
	}
	if err := s.db.Create(&run).Error; err != nil {
		config.LogError(log, "sync", "recordRun", "create sync run", logrus.Fields{"org": scope.OrganizationID, "device": scope.DeviceID}, err)
	}

	if scope.DeviceID == "" {
		return
	}
	now := time.Now().UTC()
	device := models.RegisteredDevice{
		DeviceID:       scope.DeviceID,
		OrganizationID: scope.OrganizationID,
		LastSeenAt:     now,
		LastSyncAt:     &now,
	}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"organization_id", "last_seen_at", "last_sync_at", "updated_at"}),
	}).Create(&device).Error; err != nil {
		config.LogError(log, "sync", "recordRun", "upsert registered device", scope.DeviceID, err)
	}
}
