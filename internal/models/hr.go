package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Employee is a staff member; payroll rules live outside this service.
type Employee struct {
	Base
	FirstName string          `gorm:"not null" json:"firstName" validate:"required"`
	LastName  string          `json:"lastName"`
	Position  string          `json:"position"`
	Phone     string          `json:"phone"`
	Email     string          `json:"email" validate:"omitempty,email"`
	Salary    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"salary"`
	HireDate  *time.Time      `json:"hireDate"`
	Active    bool            `json:"active"`
}

func (Employee) TableName() string { return "employees" }

func (Employee) GetEntityType() string { return TableEmployees }

// Attendance is one working day of an employee
type Attendance struct {
	Base
	EmployeeID string     `gorm:"type:varchar(36);not null;index" json:"employeeId" validate:"required"`
	Date       time.Time  `gorm:"index" json:"date" validate:"required"`
	CheckIn    *time.Time `json:"checkIn"`
	CheckOut   *time.Time `json:"checkOut"`
	Status     string     `gorm:"type:varchar(20)" json:"status"`
}

func (Attendance) TableName() string { return "attendances" }

func (Attendance) GetEntityType() string { return TableAttendances }

// SalaryAdvance is money paid to an employee ahead of payroll
type SalaryAdvance struct {
	Base
	EmployeeID string          `gorm:"type:varchar(36);not null;index" json:"employeeId" validate:"required"`
	Amount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	Date       time.Time       `json:"date"`
	Reason     string          `json:"reason"`
	Status     string          `gorm:"type:varchar(20)" json:"status"`
}

func (SalaryAdvance) TableName() string { return "salary_advances" }

func (SalaryAdvance) GetEntityType() string { return TableSalaryAdvances }

// Payroll is the settled pay of one employee for one period
type Payroll struct {
	Base
	EmployeeID  string          `gorm:"type:varchar(36);not null;index" json:"employeeId" validate:"required"`
	PeriodStart time.Time       `json:"periodStart"`
	PeriodEnd   time.Time       `json:"periodEnd"`
	BaseSalary  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"baseSalary"`
	Bonuses     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"bonuses"`
	Deductions  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"deductions"`
	Advances    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"advances"`
	NetPay      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"netPay"`
	Status      string          `gorm:"type:varchar(20)" json:"status"`
	PaidAt      *time.Time      `json:"paidAt"`
}

func (Payroll) TableName() string { return "payrolls" }

func (Payroll) GetEntityType() string { return TablePayrolls }
