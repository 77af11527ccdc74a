package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType defines the kind of POS transaction
type TransactionType string

const (
	TransactionSale     TransactionType = "sale"
	TransactionPurchase TransactionType = "purchase"
	TransactionRefund   TransactionType = "refund"
)

// Transaction is a completed POS checkout, purchase or refund.
// Items holds the serialized line items as JSON text.
type Transaction struct {
	Base
	Type        TransactionType `gorm:"type:varchar(20);not null;index" json:"type" validate:"required,oneof=sale purchase refund"`
	ClientID    *string         `gorm:"type:varchar(36);index" json:"clientId"`
	WarehouseID *string         `gorm:"type:varchar(36);index" json:"warehouseId"`
	EmployeeID  *string         `gorm:"type:varchar(36);index" json:"employeeId"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"totalAmount"`
	PaymentMode string          `gorm:"type:varchar(30);not null" json:"paymentMode" validate:"required"`
	Items       string          `gorm:"type:text" json:"items"`
	Status      string          `gorm:"type:varchar(20)" json:"status"`
	Notes       string          `gorm:"type:text" json:"notes"`
	Date        time.Time       `gorm:"index" json:"date"`
}

func (Transaction) TableName() string { return "transactions" }

func (Transaction) GetEntityType() string { return TableTransactions }
