package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a money account (cash drawer, bank, card terminal)
type Account struct {
	Base
	Name     string          `gorm:"not null" json:"name" validate:"required"`
	Type     string          `gorm:"type:varchar(20);not null" json:"type" validate:"required,oneof=cash bank card other"`
	Balance  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`
	Currency string          `gorm:"type:varchar(3)" json:"currency"`
}

func (Account) TableName() string { return "accounts" }

func (Account) GetEntityType() string { return TableAccounts }

// Expense is money spent from an account
type Expense struct {
	Base
	AccountID   *string         `gorm:"type:varchar(36);index" json:"accountId"`
	Category    string          `gorm:"not null" json:"category" validate:"required"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	Description string          `json:"description"`
	Date        time.Time       `gorm:"index" json:"date"`
}

func (Expense) TableName() string { return "expenses" }

func (Expense) GetEntityType() string { return TableExpenses }
