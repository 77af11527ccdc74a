package models

import (
	"time"

	"gorm.io/datatypes"
)

// ChangeStatus is the queue state of a ChangeRecord
type ChangeStatus string

const (
	ChangeStatusPending ChangeStatus = "pending" // Waiting for the next push
	ChangeStatusDead    ChangeStatus = "dead"    // Failed too often, no longer pushed
)

// ChangeRecord is one queued local mutation on a device. Seq preserves the
// insertion order, which is the causal order of the local mutations.
type ChangeRecord struct {
	Seq            uint64         `gorm:"primaryKey;autoIncrement" json:"seq"`
	ID             string         `gorm:"type:varchar(36);uniqueIndex;not null" json:"id"`
	OrganizationID string         `gorm:"type:varchar(64);not null;index:idx_change_pending" json:"organizationId"`
	Table          string         `gorm:"column:entity_table;type:varchar(50);not null" json:"table"`
	Action         string         `gorm:"type:varchar(20);not null" json:"action"`
	LocalID        *string        `gorm:"type:varchar(36)" json:"localId,omitempty"`
	Data           datatypes.JSON `json:"data"`
	Status         ChangeStatus   `gorm:"type:varchar(20);index:idx_change_pending" json:"status"`
	Attempts       int            `gorm:"default:0" json:"attempts"`
	LastError      *string        `gorm:"type:text" json:"lastError,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// TableName specifies the table name
func (ChangeRecord) TableName() string {
	return "change_log"
}

// SyncRun records each push processed by the server of record
type SyncRun struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OrganizationID string         `gorm:"type:varchar(64);not null;index" json:"organizationId"`
	DeviceID       string         `gorm:"type:varchar(255);index" json:"deviceId"`
	Total          int            `gorm:"default:0" json:"total"`
	Synced         int            `gorm:"default:0" json:"synced"`
	Failed         int            `gorm:"default:0" json:"failed"`
	Errors         datatypes.JSON `json:"errors"`
	Duration       int            `gorm:"default:0" json:"duration"` // milliseconds
	StartedAt      time.Time      `gorm:"not null" json:"startedAt"`
	CompletedAt    time.Time      `json:"completedAt"`
}

// TableName specifies the table name
func (SyncRun) TableName() string {
	return "sync_runs"
}
