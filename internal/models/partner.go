package models

import "github.com/shopspring/decimal"

// Client is a customer that POS transactions can be billed to.
type Client struct {
	Base
	Name        string          `gorm:"not null;index" json:"name" validate:"required"`
	Phone       string          `json:"phone"`
	Email       string          `json:"email" validate:"omitempty,email"`
	Address     string          `json:"address"`
	TaxID       string          `json:"taxId"`
	CreditLimit decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"creditLimit"`
	Balance     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`
}

func (Client) TableName() string { return "clients" }

func (Client) GetEntityType() string { return TableClients }

// Supplier provides products to the business.
type Supplier struct {
	Base
	Name        string `gorm:"not null;index" json:"name" validate:"required"`
	ContactName string `json:"contactName"`
	Phone       string `json:"phone"`
	Email       string `json:"email" validate:"omitempty,email"`
	Address     string `json:"address"`
	TaxID       string `json:"taxId"`
}

func (Supplier) TableName() string { return "suppliers" }

func (Supplier) GetEntityType() string { return TableSuppliers }
