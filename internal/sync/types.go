package sync

import (
	"encoding/json"
	"time"
)

// Action is the kind of mutation carried by a Change
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionAssign Action = "assign" // replace-all role permission bindings
)

// Change is one locally recorded mutation as it travels in a push.
// ID identifies the change record itself, LocalID the target entity.
type Change struct {
	ID      string          `json:"id,omitempty"`
	Action  Action          `json:"action"`
	LocalID string          `json:"localId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Batch groups changes by table name. Within a table, slice order is the
// order the changes were recorded in.
type Batch map[string][]Change

// Total counts the changes of tables the reconciler processes.
func (b Batch) Total() int {
	n := 0
	for _, table := range TableOrder {
		n += len(b[table])
	}
	return n
}

// Add appends a change to its table.
func (b Batch) Add(table string, c Change) {
	b[table] = append(b[table], c)
}

// PushRequest is the body of POST /api/sync/push
type PushRequest struct {
	Changes Batch `json:"changes"`
}

// RecordError describes one change that could not be applied.
type RecordError struct {
	ID     string `json:"id,omitempty"`
	Table  string `json:"table"`
	Action Action `json:"action"`
	Error  string `json:"error"`
}

// Result is the outcome of one push. Synced plus len(Errors) equals the
// number of submitted changes of known tables.
type Result struct {
	Synced    int           `json:"synced"`
	Errors    []RecordError `json:"errors,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Failed returns the number of changes that were not applied.
func (r Result) Failed() int {
	return len(r.Errors)
}

// PushResponse is the success body of POST /api/sync/push
type PushResponse struct {
	Success bool `json:"success"`
	Result
}

// assignData is the payload of an assign change
type assignData struct {
	RoleID        string   `json:"roleId"`
	PermissionIDs []string `json:"permissionIds"`
}
