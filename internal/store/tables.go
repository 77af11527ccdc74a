package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/xelth-com/posync/internal/models"
	"gorm.io/gorm"
)

// Reference declares that a field must point at an existing row of another
// table in the same organization. Empty values are not checked.
type Reference struct {
	Field string // JSON field name on the owning table
	Table string // wire name of the referenced table
}

// Table describes one synced collection: its typed model and the rules
// applied when records of it are created, patched or deleted.
type Table struct {
	Name string

	newModel  func() models.SyncableEntity
	newList   func() interface{}
	fields    map[string]string // JSON name -> Go field name
	refs      []Reference
	normalize func(fields map[string]json.RawMessage) error
	onDelete  func(tx *gorm.DB, orgID, id string) error
}

// immutableFields are owned by the store and dropped from incoming patches.
var immutableFields = []string{"id", "organizationId", "createdAt", "updatedAt"}

func define[T any, PT interface {
	*T
	models.SyncableEntity
}](refs ...Reference) *Table {
	var zero T
	return &Table{
		Name:     PT(&zero).GetEntityType(),
		newModel: func() models.SyncableEntity { return PT(new(T)) },
		newList:  func() interface{} { return &[]T{} },
		fields:   jsonFields(reflect.TypeOf(zero)),
		refs:     refs,
	}
}

func ref(field, table string) Reference {
	return Reference{Field: field, Table: table}
}

var tables = register(
	define[models.Product](),
	define[models.Client](),
	define[models.Warehouse](),
	define[models.Category](ref("parentId", models.TableCategories)),
	define[models.Supplier](),
	withNormalizer(define[models.Transaction](
		ref("clientId", models.TableClients),
		ref("warehouseId", models.TableWarehouses),
	), normalizeTransaction),
	define[models.Account](),
	define[models.Expense](ref("accountId", models.TableAccounts)),
	define[models.Movement](
		ref("productId", models.TableProducts),
		ref("warehouseId", models.TableWarehouses),
	),
	define[models.Employee](),
	define[models.Attendance](ref("employeeId", models.TableEmployees)),
	define[models.SalaryAdvance](ref("employeeId", models.TableEmployees)),
	define[models.Payroll](ref("employeeId", models.TableEmployees)),
	withOnDelete(define[models.Role](), func(tx *gorm.DB, orgID, id string) error {
		return tx.Where("organization_id = ? AND role_id = ?", orgID, id).Delete(&models.RolePermission{}).Error
	}),
	withOnDelete(define[models.Permission](), func(tx *gorm.DB, orgID, id string) error {
		return tx.Where("organization_id = ? AND permission_id = ?", orgID, id).Delete(&models.RolePermission{}).Error
	}),
)

func register(defs ...*Table) map[string]*Table {
	out := make(map[string]*Table, len(defs))
	for _, t := range defs {
		out[t.Name] = t
	}
	return out
}

func withNormalizer(t *Table, fn func(map[string]json.RawMessage) error) *Table {
	t.normalize = fn
	return t
}

func withOnDelete(t *Table, fn func(tx *gorm.DB, orgID, id string) error) *Table {
	t.onDelete = fn
	return t
}

// Lookup returns the registered table for a wire name.
func Lookup(name string) (*Table, error) {
	t, ok := tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t, nil
}

// Names returns all registered wire names, sorted.
func Names() []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// References returns the references declared for the table.
func (t *Table) References() []Reference {
	return append([]Reference(nil), t.refs...)
}

// NewModel returns a zero value of the table's model.
func (t *Table) NewModel() models.SyncableEntity {
	return t.newModel()
}

// NewList returns a pointer to an empty slice of the table's model.
func (t *Table) NewList() interface{} {
	return t.newList()
}

// decodeFields splits a JSON object into its top-level fields and applies the
// table's normalizer. null and empty payloads decode to no fields.
func (t *Table) decodeFields(data []byte) (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fields, nil
	}
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s payload must be a JSON object: %v", ErrValidation, t.Name, err)
	}
	if t.normalize != nil {
		if err := t.normalize(fields); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

// decodeInto type-checks the fields against the model and writes them onto
// entity. Fields absent from the map keep their current value.
func (t *Table) decodeInto(fields map[string]json.RawMessage, entity models.SyncableEntity) error {
	for name := range fields {
		if _, ok := t.fields[name]; !ok {
			return fmt.Errorf("%w: unknown field %q for %s", ErrValidation, name, t.Name)
		}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := json.Unmarshal(raw, entity); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrValidation, t.Name, err)
	}
	return nil
}

// columnsFor maps patched JSON fields to Go field names for a Select update.
func (t *Table) columnsFor(fields map[string]json.RawMessage) []string {
	columns := make([]string, 0, len(fields)+1)
	for name := range fields {
		columns = append(columns, t.fields[name])
	}
	sort.Strings(columns)
	return append(columns, "UpdatedAt")
}

func jsonFields(typ reflect.Type) map[string]string {
	out := map[string]string{}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			for k, v := range jsonFields(f.Type) {
				out[k] = v
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		name := strings.Split(f.Tag.Get("json"), ",")[0]
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		out[name] = f.Name
	}
	return out
}
