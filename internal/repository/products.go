package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xelth-com/posync/internal/models"
)

// CreateProduct stores a new product and fills in its id
func (f *Facade) CreateProduct(ctx context.Context, p *models.Product) error {
	return f.createTyped(ctx, models.TableProducts, p)
}

// UpdateProduct patches a product with the given fields, keyed by their
// JSON names
func (f *Facade) UpdateProduct(ctx context.Context, id string, fields map[string]interface{}) (*models.Product, error) {
	patch, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	e, err := f.Update(ctx, models.TableProducts, id, patch)
	if err != nil {
		return nil, err
	}
	return e.(*models.Product), nil
}

// AdjustStock changes a product's stock by delta. The new absolute level is
// recorded, so adjustments made offline replay in order.
func (f *Facade) AdjustStock(ctx context.Context, productID string, delta float64) (*models.Product, error) {
	e, err := f.Get(ctx, models.TableProducts, productID)
	if err != nil {
		return nil, err
	}
	p := e.(*models.Product)
	return f.UpdateProduct(ctx, productID, map[string]interface{}{"stock": p.Stock + delta})
}

// CreateClient stores a new client and fills in its id
func (f *Facade) CreateClient(ctx context.Context, c *models.Client) error {
	return f.createTyped(ctx, models.TableClients, c)
}

// RecordSale stores a completed checkout and fills in its id
func (f *Facade) RecordSale(ctx context.Context, tx *models.Transaction) error {
	if tx.Type == "" {
		tx.Type = models.TransactionSale
	}
	return f.createTyped(ctx, models.TableTransactions, tx)
}

// RecordMovement stores a stock movement and fills in its id
func (f *Facade) RecordMovement(ctx context.Context, m *models.Movement) error {
	return f.createTyped(ctx, models.TableMovements, m)
}

// createTyped sends the writable fields of entity through Create and copies
// the stored record back into it.
func (f *Facade) createTyped(ctx context.Context, table string, entity models.SyncableEntity) error {
	data, err := createPayload(entity)
	if err != nil {
		return err
	}
	stored, err := f.Create(ctx, table, data)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, entity)
}

// createPayload marshals entity without the fields the store owns
func createPayload(entity models.SyncableEntity) (json.RawMessage, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", entity.GetEntityType(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	delete(fields, "organizationId")
	delete(fields, "createdAt")
	delete(fields, "updatedAt")
	if entity.GetEntityID() == "" {
		delete(fields, "id")
	}
	return json.Marshal(fields)
}
