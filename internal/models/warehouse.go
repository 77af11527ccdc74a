package models

// Warehouse represents a stock-holding site of the business
type Warehouse struct {
	Base
	Name        string `gorm:"not null" json:"name" validate:"required"`
	Location    string `json:"location"`
	Description string `json:"description"`
	IsActive    bool   `json:"isActive"`
}

// TableName specifies the table name for Warehouse model
func (Warehouse) TableName() string {
	return "warehouses"
}

func (Warehouse) GetEntityType() string { return TableWarehouses }
