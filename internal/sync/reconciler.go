package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xelth-com/posync/internal/config"
	"github.com/xelth-com/posync/internal/models"
	"github.com/xelth-com/posync/internal/store"
)

var log = config.GetLogger()

// Applier applies single entity mutations within one organization. Each
// call is its own database transaction.
type Applier interface {
	Create(ctx context.Context, orgID, table string, data json.RawMessage) (models.SyncableEntity, error)
	Update(ctx context.Context, orgID, table, id string, patch json.RawMessage) (models.SyncableEntity, error)
	Delete(ctx context.Context, orgID, table, id string) error
	AssignPermissions(ctx context.Context, orgID, roleID string, permissionIDs []string) error
}

// Reconciler applies a batch of device changes to the server of record.
type Reconciler struct {
	applier Applier
	now     func() time.Time
}

// NewReconciler creates a reconciler writing through applier
func NewReconciler(applier Applier) *Reconciler {
	return &Reconciler{applier: applier, now: time.Now}
}

// Push applies every change of known tables in TableOrder, and within a
// table in batch order. A failing change is recorded in the result and
// does not stop the push. Changes of unknown tables are skipped.
//
// A push runs to completion: cancelling ctx (a client that hung up) does not
// abort the remaining records.
func (r *Reconciler) Push(ctx context.Context, orgID string, batch Batch) Result {
	ctx = context.WithoutCancel(ctx)
	for table, changes := range batch {
		if !IsKnownTable(table) {
			log.WithFields(logrus.Fields{"table": table, "changes": len(changes), "org": orgID}).
				Warn("Skipping changes for unknown table")
		}
	}

	result := Result{Errors: []RecordError{}}
	for _, table := range TableOrder {
		for _, change := range batch[table] {
			if err := r.apply(ctx, orgID, table, change); err != nil {
				result.Errors = append(result.Errors, RecordError{
					ID:     change.ID,
					Table:  table,
					Action: change.Action,
					Error:  err.Error(),
				})
				log.WithFields(logrus.Fields{
					"table":  table,
					"action": change.Action,
					"change": change.ID,
					"org":    orgID,
				}).WithError(err).Debug("Change rejected")
				continue
			}
			result.Synced++
		}
	}
	result.Timestamp = r.now().UTC()
	return result
}

func (r *Reconciler) apply(ctx context.Context, orgID, table string, c Change) error {
	switch c.Action {
	case ActionCreate:
		_, err := r.applier.Create(ctx, orgID, table, c.Data)
		return err
	case ActionUpdate:
		if c.LocalID == "" {
			return fmt.Errorf("%w: update requires localId", store.ErrValidation)
		}
		_, err := r.applier.Update(ctx, orgID, table, c.LocalID, c.Data)
		return err
	case ActionDelete:
		if c.LocalID == "" {
			return fmt.Errorf("%w: delete requires localId", store.ErrValidation)
		}
		return r.applier.Delete(ctx, orgID, table, c.LocalID)
	case ActionAssign:
		if table != models.TablePermissions {
			return fmt.Errorf("%w: assign on %s", store.ErrUnsupportedAction, table)
		}
		var data assignData
		if raw := bytes.TrimSpace(c.Data); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
			if err := json.Unmarshal(raw, &data); err != nil {
				return fmt.Errorf("%w: assign payload: %v", store.ErrValidation, err)
			}
		}
		roleID := data.RoleID
		if roleID == "" {
			roleID = c.LocalID
		}
		return r.applier.AssignPermissions(ctx, orgID, roleID, data.PermissionIDs)
	default:
		return fmt.Errorf("%w: %q", store.ErrUnsupportedAction, c.Action)
	}
}
