package models

import (
	"time"
)

// RegisteredDevice is a POS terminal known to the server of record.
// Rows are upserted whenever a device pushes a Change Batch.
type RegisteredDevice struct {
	DeviceID       string     `gorm:"primaryKey;type:varchar(255)" json:"deviceId"`
	OrganizationID string     `gorm:"type:varchar(64);not null;index" json:"organizationId"`
	Name           string     `json:"name"`
	LastSeenAt     time.Time  `json:"lastSeenAt"`
	LastSyncAt     *time.Time `json:"lastSyncAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// TableName specifies the table name for RegisteredDevice
func (RegisteredDevice) TableName() string {
	return "registered_devices"
}
