package models

import "time"

// SyncableEntity is implemented by every record the push pipeline can move
// between a device mirror and the server of record.
type SyncableEntity interface {
	GetEntityID() string
	GetEntityType() string
	SetEntityID(id string)
	GetOrganizationID() string
	SetOrganizationID(orgID string)
}

// Base carries the identity and tenant columns shared by all synced entities.
// Convention: Go PascalCase -> DB snake_case (GORM auto) -> JSON camelCase
type Base struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrganizationID string    `gorm:"type:varchar(64);not null;index" json:"organizationId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (b Base) GetEntityID() string { return b.ID }

func (b *Base) SetEntityID(id string) { b.ID = id }

func (b Base) GetOrganizationID() string { return b.OrganizationID }

func (b *Base) SetOrganizationID(orgID string) { b.OrganizationID = orgID }
