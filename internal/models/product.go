package models

import "github.com/shopspring/decimal"

// Wire names of the synced collections. They key Change Batches and the
// entity endpoints; DB table names are returned by TableName.
const (
	TableProducts       = "products"
	TableClients        = "clients"
	TableTransactions   = "transactions"
	TableWarehouses     = "warehouses"
	TableCategories     = "categories"
	TableSuppliers      = "suppliers"
	TableAccounts       = "accounts"
	TableExpenses       = "expenses"
	TableMovements      = "movements"
	TableEmployees      = "employees"
	TableAttendances    = "attendances"
	TableSalaryAdvances = "salaryAdvances"
	TablePayrolls       = "payrolls"
	TableRoles          = "roles"
	TablePermissions    = "permissions"
)

// Product is a sellable catalog item with its on-hand stock.
type Product struct {
	Base
	Name       string          `gorm:"not null;index" json:"name" validate:"required"`
	SKU        string          `gorm:"index" json:"sku"`
	Barcode    string          `gorm:"index" json:"barcode"`
	CategoryID *string         `gorm:"type:varchar(36);index" json:"categoryId"`
	SupplierID *string         `gorm:"type:varchar(36);index" json:"supplierId"`
	Price      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	Cost       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost"`
	Stock      float64         `gorm:"default:0" json:"stock"`
	MinStock   float64         `gorm:"default:0" json:"minStock"`
	Unit       string          `json:"unit"`
	Active     bool            `json:"active"`
}

func (Product) TableName() string { return "products" }

func (Product) GetEntityType() string { return TableProducts }

// Category groups products; categories may nest through ParentID.
type Category struct {
	Base
	Name        string  `gorm:"not null" json:"name" validate:"required"`
	Description string  `json:"description"`
	ParentID    *string `gorm:"type:varchar(36);index" json:"parentId"`
}

func (Category) TableName() string { return "categories" }

func (Category) GetEntityType() string { return TableCategories }
