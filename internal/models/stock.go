package models

import "time"

// MovementType classifies a stock movement
type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementTransfer   MovementType = "transfer"
	MovementAdjustment MovementType = "adjustment"
)

// Movement records a quantity change of one product in one warehouse.
// "Product X moved N units in Warehouse Y because of Z"
type Movement struct {
	Base
	ProductID   string       `gorm:"type:varchar(36);not null;index" json:"productId" validate:"required"`
	WarehouseID string       `gorm:"type:varchar(36);not null;index" json:"warehouseId" validate:"required"`
	Type        MovementType `gorm:"type:varchar(20);not null" json:"type" validate:"required,oneof=in out transfer adjustment"`
	Quantity    float64      `json:"quantity"`
	Reason      string       `json:"reason"`
	Reference   string       `gorm:"index" json:"reference"`
	Date        time.Time    `json:"date"`
}

func (Movement) TableName() string { return "stock_movements" }

func (Movement) GetEntityType() string { return TableMovements }
