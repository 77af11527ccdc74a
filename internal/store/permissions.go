package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/xelth-com/posync/internal/models"
	"gorm.io/gorm"
)

// AssignPermissions replaces the permission set of a role. An empty list
// leaves the role without permissions. Duplicate ids are bound once.
func (s *Store) AssignPermissions(ctx context.Context, orgID, roleID string, permissionIDs []string) error {
	if roleID == "" {
		return fmt.Errorf("%w: assign requires a role id", ErrValidation)
	}
	ids := dedupe(permissionIDs)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var role models.Role
		err := tx.Where("id = ? AND organization_id = ?", roleID, orgID).First(&role).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: roles %s", ErrNotFound, roleID)
		}
		if err != nil {
			return err
		}

		if len(ids) > 0 {
			var found int64
			if err := tx.Model(&models.Permission{}).
				Where("organization_id = ? AND id IN ?", orgID, ids).
				Count(&found).Error; err != nil {
				return err
			}
			if int(found) != len(ids) {
				return fmt.Errorf("%w: %d of %d permissions not found", ErrMissingReference, len(ids)-int(found), len(ids))
			}
		}

		if err := tx.Where("organization_id = ? AND role_id = ?", orgID, roleID).
			Delete(&models.RolePermission{}).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		bindings := make([]models.RolePermission, 0, len(ids))
		for _, id := range ids {
			bindings = append(bindings, models.RolePermission{
				OrganizationID: orgID,
				RoleID:         roleID,
				PermissionID:   id,
			})
		}
		return tx.Create(&bindings).Error
	})
	return wrapDB("assign", models.TablePermissions, err)
}

// RolePermissions returns the permission ids bound to a role.
func (s *Store) RolePermissions(ctx context.Context, orgID, roleID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.RolePermission{}).
		Where("organization_id = ? AND role_id = ?", orgID, roleID).
		Order("permission_id").
		Pluck("permission_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("role permissions: %w", err)
	}
	return ids, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
