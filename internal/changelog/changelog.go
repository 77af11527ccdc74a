// Package changelog is the durable on-device queue of local mutations that
// still have to reach the server of record.
package changelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xelth-com/posync/internal/config"
	"github.com/xelth-com/posync/internal/models"
	syncpkg "github.com/xelth-com/posync/internal/sync"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var log = config.GetLogger()

// DefaultMaxAttempts is used when no positive limit is configured
const DefaultMaxAttempts = 5

// Entry is a mutation to record
type Entry struct {
	Table   string
	Action  syncpkg.Action
	LocalID string
	Data    json.RawMessage
}

// Log stores Change Records in the local database. Records leave the log
// only when the server acknowledged them.
type Log struct {
	db          *gorm.DB
	mu          sync.Mutex
	maxAttempts int
}

// New creates a change log on db
func New(db *gorm.DB, maxAttempts int) *Log {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Log{db: db, maxAttempts: maxAttempts}
}

// Migrate creates the change log table
func (l *Log) Migrate() error {
	return l.db.AutoMigrate(&models.ChangeRecord{})
}

// Append runs apply and queues entry in one local transaction. If either
// step fails nothing is written.
func (l *Log) Append(ctx context.Context, orgID string, entry Entry, apply func(tx *gorm.DB) error) (*models.ChangeRecord, error) {
	return l.Record(ctx, orgID, entry, func(tx *gorm.DB) (bool, error) {
		if apply == nil {
			return true, nil
		}
		return true, apply(tx)
	})
}

// Record runs apply in a local transaction and queues entry when apply asks
// for it. An apply error rolls back everything apply wrote. The returned
// record is nil when nothing was queued.
func (l *Log) Record(ctx context.Context, orgID string, entry Entry, apply func(tx *gorm.DB) (queue bool, err error)) (*models.ChangeRecord, error) {
	rec := &models.ChangeRecord{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Table:          entry.Table,
		Action:         string(entry.Action),
		Data:           datatypes.JSON(entry.Data),
		Status:         models.ChangeStatusPending,
	}
	if entry.LocalID != "" {
		localID := entry.LocalID
		rec.LocalID = &localID
	}
	if len(rec.Data) == 0 {
		rec.Data = datatypes.JSON("null")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	queued := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		queue, err := apply(tx)
		if err != nil {
			return err
		}
		if !queue {
			return nil
		}
		queued = true
		return tx.Create(rec).Error
	})
	if err != nil {
		return nil, err
	}
	if !queued {
		return nil, nil
	}

	log.WithFields(logrus.Fields{
		"table":  rec.Table,
		"action": rec.Action,
		"change": rec.ID,
	}).Debug("Change queued")
	return rec, nil
}

// Snapshot returns the pending records of an organization in recording
// order. Records appended later are not part of it.
func (l *Log) Snapshot(ctx context.Context, orgID string) ([]models.ChangeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var records []models.ChangeRecord
	err := l.db.WithContext(ctx).
		Where("organization_id = ? AND status = ?", orgID, models.ChangeStatusPending).
		Order("seq ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("snapshot change log: %w", err)
	}
	return records, nil
}

// Ack removes records the server applied
func (l *Log) Ack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.ChangeRecord{}).Error; err != nil {
		return fmt.Errorf("ack changes: %w", err)
	}
	return nil
}

// Fail records a failed attempt per record id. Records that reached the
// attempt limit move to the dead letter state and are no longer pushed.
func (l *Log) Fail(ctx context.Context, failures map[string]string) (dead int, err error) {
	if len(failures) == 0 {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, reason := range failures {
			var rec models.ChangeRecord
			if err := tx.Where("id = ?", id).First(&rec).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					continue
				}
				return err
			}
			msg := reason
			rec.Attempts++
			rec.LastError = &msg
			if rec.Attempts >= l.maxAttempts {
				rec.Status = models.ChangeStatusDead
				dead++
				log.WithFields(logrus.Fields{
					"change":   rec.ID,
					"table":    rec.Table,
					"action":   rec.Action,
					"attempts": rec.Attempts,
				}).Warn("Change moved to dead letters: " + reason)
			}
			if err := tx.Model(&rec).Select("Attempts", "LastError", "Status", "UpdatedAt").Updates(&rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record failed changes: %w", err)
	}
	return dead, nil
}

// Pending counts the committed pending records of an organization
func (l *Log) Pending(ctx context.Context, orgID string) (int64, error) {
	return l.count(ctx, orgID, models.ChangeStatusPending)
}

// DeadLetterCount counts records that stopped being pushed
func (l *Log) DeadLetterCount(ctx context.Context, orgID string) (int64, error) {
	return l.count(ctx, orgID, models.ChangeStatusDead)
}

func (l *Log) count(ctx context.Context, orgID string, status models.ChangeStatus) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&models.ChangeRecord{}).
		Where("organization_id = ? AND status = ?", orgID, status).
		Count(&n).Error
	return n, err
}

// DeadLetters lists records that reached the attempt limit
func (l *Log) DeadLetters(ctx context.Context, orgID string) ([]models.ChangeRecord, error) {
	var records []models.ChangeRecord
	err := l.db.WithContext(ctx).
		Where("organization_id = ? AND status = ?", orgID, models.ChangeStatusDead).
		Order("seq ASC").
		Find(&records).Error
	return records, err
}

// RetryDeadLetters puts dead records back in the queue with a fresh
// attempt budget
func (l *Log) RetryDeadLetters(ctx context.Context, orgID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := l.db.WithContext(ctx).Model(&models.ChangeRecord{}).
		Where("organization_id = ? AND status = ?", orgID, models.ChangeStatusDead).
		Updates(map[string]interface{}{"status": models.ChangeStatusPending, "attempts": 0})
	return res.RowsAffected, res.Error
}

// PendingEntityIDs returns the ids of table rows touched by queued records.
// A mirror refresh must not drop them.
func (l *Log) PendingEntityIDs(ctx context.Context, orgID, table string) ([]string, error) {
	var records []models.ChangeRecord
	err := l.db.WithContext(ctx).
		Where("organization_id = ? AND entity_table = ? AND status = ?", orgID, table, models.ChangeStatusPending).
		Order("seq ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if id := EntityID(rec); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// EntityID returns the id of the row a record targets: LocalID, or the id
// carried in the data of a create.
func EntityID(rec models.ChangeRecord) string {
	if rec.LocalID != nil && *rec.LocalID != "" {
		return *rec.LocalID
	}
	var data struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Data, &data); err != nil {
		return ""
	}
	return data.ID
}

// ToBatch groups records by table. Within a table, records keep their
// order.
func ToBatch(records []models.ChangeRecord) syncpkg.Batch {
	batch := syncpkg.Batch{}
	for _, rec := range records {
		c := syncpkg.Change{
			ID:     rec.ID,
			Action: syncpkg.Action(rec.Action),
			Data:   json.RawMessage(rec.Data),
		}
		if rec.LocalID != nil {
			c.LocalID = *rec.LocalID
		}
		batch.Add(rec.Table, c)
	}
	return batch
}
