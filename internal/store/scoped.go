package store

import (
	"context"
	"encoding/json"

	"github.com/xelth-com/posync/internal/models"
)

// Scoped binds a store to one organization.
type Scoped struct {
	store *Store
	orgID string
}

// ForOrganization returns the store as seen by one organization
func (s *Store) ForOrganization(orgID string) *Scoped {
	return &Scoped{store: s, orgID: orgID}
}

func (s *Scoped) Create(ctx context.Context, table string, data json.RawMessage) (models.SyncableEntity, error) {
	return s.store.Create(ctx, s.orgID, table, data)
}

func (s *Scoped) Update(ctx context.Context, table, id string, patch json.RawMessage) (models.SyncableEntity, error) {
	return s.store.Update(ctx, s.orgID, table, id, patch)
}

func (s *Scoped) Delete(ctx context.Context, table, id string) error {
	return s.store.Delete(ctx, s.orgID, table, id)
}

func (s *Scoped) Get(ctx context.Context, table, id string) (models.SyncableEntity, error) {
	return s.store.Get(ctx, s.orgID, table, id)
}

func (s *Scoped) List(ctx context.Context, table string) (interface{}, error) {
	return s.store.List(ctx, s.orgID, table)
}

func (s *Scoped) AssignPermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	return s.store.AssignPermissions(ctx, s.orgID, roleID, permissionIDs)
}

func (s *Scoped) RolePermissions(ctx context.Context, roleID string) ([]string, error) {
	return s.store.RolePermissions(ctx, s.orgID, roleID)
}
