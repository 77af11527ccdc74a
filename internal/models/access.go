package models

import "time"

// Role is a named set of permissions
type Role struct {
	Base
	Name        string `gorm:"not null" json:"name" validate:"required"`
	Description string `json:"description"`
}

func (Role) TableName() string { return "roles" }

func (Role) GetEntityType() string { return TableRoles }

// Permission is a single grantable capability, e.g. "pos.refund"
type Permission struct {
	Base
	Code        string `gorm:"not null;index" json:"code" validate:"required"`
	Description string `json:"description"`
}

func (Permission) TableName() string { return "permissions" }

func (Permission) GetEntityType() string { return TablePermissions }

// RolePermission binds a permission to a role. The set of bindings of a role
// is only ever replaced as a whole.
type RolePermission struct {
	OrganizationID string    `gorm:"type:varchar(64);primaryKey" json:"organizationId"`
	RoleID         string    `gorm:"type:varchar(36);primaryKey" json:"roleId"`
	PermissionID   string    `gorm:"type:varchar(36);primaryKey" json:"permissionId"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (RolePermission) TableName() string { return "role_permissions" }
