// Package store persists synced entities with organization scope. The same
// store backs the authoritative server (PostgreSQL) and the device mirror
// (SQLite).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/xelth-com/posync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store applies create, update, delete and assign operations to the typed
// entity tables of one database.
type Store struct {
	db       *gorm.DB
	validate *validator.Validate
}

// New returns a store on top of db.
func New(db *gorm.DB) *Store {
	return &Store{db: db, validate: validator.New()}
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Migrate creates or updates the schema of every registered table and the
// role permission bindings.
func (s *Store) Migrate() error {
	entities := []interface{}{&models.RolePermission{}}
	for _, name := range Names() {
		entities = append(entities, tables[name].NewModel())
	}
	if err := s.db.AutoMigrate(entities...); err != nil {
		return fmt.Errorf("auto migrate entities: %w", err)
	}
	return nil
}

// WithTx returns a store writing through tx, so its operations join an
// outer transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, validate: s.validate}
}

// Create inserts a record decoded from data. The organization is always
// orgID, whatever data says. An empty id is replaced by a new UUID.
func (s *Store) Create(ctx context.Context, orgID, table string, data json.RawMessage) (models.SyncableEntity, error) {
	t, err := Lookup(table)
	if err != nil {
		return nil, err
	}
	fields, err := t.decodeFields(data)
	if err != nil {
		return nil, err
	}
	entity := t.NewModel()
	if err := t.decodeInto(fields, entity); err != nil {
		return nil, err
	}
	entity.SetOrganizationID(orgID)
	if entity.GetEntityID() == "" {
		entity.SetEntityID(uuid.NewString())
	}
	if err := s.validateEntity(t, entity); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkReferences(tx, t, orgID, entity, t.refs); err != nil {
			return err
		}
		var count int64
		if err := tx.Model(t.NewModel()).Where("id = ?", entity.GetEntityID()).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s %s already exists", ErrValidation, table, entity.GetEntityID())
		}
		return tx.Create(entity).Error
	})
	if err != nil {
		return nil, wrapDB("create", table, err)
	}
	return entity, nil
}

// Update applies a partial patch to the record with the given id. Fields
// absent from the patch keep their stored value. Identity, organization and
// timestamp fields in the patch are ignored.
func (s *Store) Update(ctx context.Context, orgID, table, id string, patch json.RawMessage) (models.SyncableEntity, error) {
	t, err := Lookup(table)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%w: update %s requires an id", ErrValidation, table)
	}
	fields, err := t.decodeFields(patch)
	if err != nil {
		return nil, err
	}
	for _, name := range immutableFields {
		delete(fields, name)
	}

	var entity models.SyncableEntity
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entity, err = findEntity(tx, t, orgID, id)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return nil
		}
		if err := t.decodeInto(fields, entity); err != nil {
			return err
		}
		if err := s.validateEntity(t, entity); err != nil {
			return err
		}
		var patched []Reference
		for _, r := range t.refs {
			if _, ok := fields[r.Field]; ok {
				patched = append(patched, r)
			}
		}
		if err := checkReferences(tx, t, orgID, entity, patched); err != nil {
			return err
		}
		return tx.Model(entity).Select(t.columnsFor(fields)).Updates(entity).Error
	})
	if err != nil {
		return nil, wrapDB("update", table, err)
	}
	return entity, nil
}

// Delete removes the record with the given id. A missing record is an error.
func (s *Store) Delete(ctx context.Context, orgID, table, id string) error {
	t, err := Lookup(table)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND organization_id = ?", id, orgID).Delete(t.NewModel())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s %s", ErrNotFound, table, id)
		}
		if t.onDelete != nil {
			return t.onDelete(tx, orgID, id)
		}
		return nil
	})
	return wrapDB("delete", table, err)
}

// Get loads one record.
func (s *Store) Get(ctx context.Context, orgID, table, id string) (models.SyncableEntity, error) {
	t, err := Lookup(table)
	if err != nil {
		return nil, err
	}
	entity, err := findEntity(s.db.WithContext(ctx), t, orgID, id)
	if err != nil {
		return nil, wrapDB("get", table, err)
	}
	return entity, nil
}

// List returns all records of the table for the organization, oldest first.
// The result is a pointer to a slice of the table's model.
func (s *Store) List(ctx context.Context, orgID, table string) (interface{}, error) {
	t, err := Lookup(table)
	if err != nil {
		return nil, err
	}
	list := t.NewList()
	if err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at ASC, id ASC").
		Find(list).Error; err != nil {
		return nil, wrapDB("list", table, err)
	}
	return list, nil
}

// Mirror replaces the local copy of a table with rows fetched from the
// server of record. Fetched rows are upserted and local rows the server did
// not return are removed. Rows whose id is in keep have unsent local changes
// and are left exactly as they are. It returns the number of upserted rows.
func (s *Store) Mirror(ctx context.Context, orgID, table string, rows json.RawMessage, keep []string) (int, error) {
	t, err := Lookup(table)
	if err != nil {
		return 0, err
	}
	fetched := t.NewList()
	if err := json.Unmarshal(rows, fetched); err != nil {
		return 0, fmt.Errorf("%w: decode %s rows: %v", ErrValidation, table, err)
	}

	kept := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		kept[id] = struct{}{}
	}
	items := reflect.ValueOf(fetched).Elem()
	upsert := reflect.MakeSlice(items.Type(), 0, items.Len())
	ids := append([]string(nil), keep...)
	for i := 0; i < items.Len(); i++ {
		e := items.Index(i).Addr().Interface().(models.SyncableEntity)
		ids = append(ids, e.GetEntityID())
		if _, ok := kept[e.GetEntityID()]; ok {
			continue
		}
		e.SetOrganizationID(orgID)
		upsert = reflect.Append(upsert, items.Index(i))
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prune := tx.Where("organization_id = ?", orgID)
		if len(ids) > 0 {
			prune = prune.Where("id NOT IN ?", ids)
		}
		if err := prune.Delete(t.NewModel()).Error; err != nil {
			return err
		}
		if upsert.Len() == 0 {
			return nil
		}
		list := reflect.New(upsert.Type())
		list.Elem().Set(upsert)
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(list.Interface()).Error
	})
	if err != nil {
		return 0, wrapDB("mirror", table, err)
	}
	return upsert.Len(), nil
}

func (s *Store) validateEntity(t *Table, entity models.SyncableEntity) error {
	if err := s.validate.Struct(entity); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s.%s failed on %q", ErrValidation, t.Name, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %s: %v", ErrValidation, t.Name, err)
	}
	return nil
}

func findEntity(tx *gorm.DB, t *Table, orgID, id string) (models.SyncableEntity, error) {
	entity := t.NewModel()
	err := tx.Where("id = ? AND organization_id = ?", id, orgID).First(entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, t.Name, id)
	}
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// checkReferences verifies that each non-empty reference field of entity
// points at an existing row in the same organization.
func checkReferences(tx *gorm.DB, t *Table, orgID string, entity models.SyncableEntity, refs []Reference) error {
	v := reflect.ValueOf(entity).Elem()
	for _, r := range refs {
		value := referenceValue(v.FieldByName(t.fields[r.Field]))
		if value == "" {
			continue
		}
		target, err := Lookup(r.Table)
		if err != nil {
			return err
		}
		var count int64
		if err := tx.Model(target.NewModel()).
			Where("id = ? AND organization_id = ?", value, orgID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: %s.%s %s not found in %s", ErrMissingReference, t.Name, r.Field, value, r.Table)
		}
	}
	return nil
}

func referenceValue(f reflect.Value) string {
	if !f.IsValid() {
		return ""
	}
	if f.Kind() == reflect.Ptr {
		if f.IsNil() {
			return ""
		}
		f = f.Elem()
	}
	if f.Kind() != reflect.String {
		return ""
	}
	return f.String()
}

// wrapDB leaves store errors untouched and annotates driver errors.
func wrapDB(op, table string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrNotFound, ErrUnknownTable, ErrUnsupportedAction, ErrValidation, ErrMissingReference} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%s %s: %w", op, table, err)
}
