// Package model содержит доменные сущности сервиса сверки платежей.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User представляет пользователя, состоящего в компании.
type User struct {
	ID           uuid.UUID
	CompanyID    uuid.UUID
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Session описывает аутентифицированного пользователя и его компанию.
// Передаётся явно во все операции, которым нужна личность вызывающего.
type Session struct {
	UserID    uuid.UUID
	CompanyID uuid.UUID
}

// PaymentStatus описывает статус оплаты продажи.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "por cobrar"
	PaymentStatusPaid    PaymentStatus = "cobrado"
)

// Sale описывает проданную позицию и её привязку к платежу.
type Sale struct {
	ID               uuid.UUID       `json:"id"`
	Date             time.Time       `json:"date"`
	OrderNumber      string          `json:"order_number"`
	SKU              string          `json:"sku"`
	Channel          string          `json:"channel"`
	PaymentMethod    string          `json:"payment_method"`
	Price            decimal.Decimal `json:"price"`
	StatusPaid       *PaymentStatus  `json:"status_paid"`
	DatePaid         *time.Time      `json:"date_paid"`
	ReconciliationID *uuid.UUID      `json:"reconciliation_id"`
}

// Payment описывает поступление денег на банковский счёт.
type Payment struct {
	ID               uuid.UUID        `json:"id"`
	BankAccountID    *uuid.UUID       `json:"bank_account_id"`
	Date             time.Time        `json:"date"`
	Amount           decimal.Decimal  `json:"amount"`
	PaymentMethod    string           `json:"payment_method"`
	Channel          *string          `json:"channel"`
	IsReconciled     bool             `json:"is_reconciled"`
	ReconciledAmount *decimal.Decimal `json:"reconciled_amount"`
	ReconciledCount  *int             `json:"reconciled_count"`
}

// AdjustmentType описывает вид корректировки платежа.
type AdjustmentType string

const (
	AdjustmentCommission AdjustmentType = "commission"
	AdjustmentShipping   AdjustmentType = "shipping"
	AdjustmentOther      AdjustmentType = "other"
)

// PaymentAdjustment описывает ручную корректировку суммы сверки платежа.
type PaymentAdjustment struct {
	ID          uuid.UUID       `json:"id"`
	PaymentID   uuid.UUID       `json:"payment_id"`
	Type        AdjustmentType  `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedBy   uuid.UUID       `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AccountType описывает тип банковского счёта.
type AccountType string

const (
	AccountBank         AccountType = "Bank"
	AccountCash         AccountType = "Cash"
	AccountCreditCard   AccountType = "Credit Card"
	AccountCreditSimple AccountType = "Credit Simple"
)

// IsCredit сообщает, относится ли счёт к кредитным обязательствам.
func (t AccountType) IsCredit() bool {
	return t == AccountCreditCard || t == AccountCreditSimple
}

// BankAccount описывает счёт компании с текущим остатком.
type BankAccount struct {
	ID                    uuid.UUID        `json:"id"`
	Name                  string           `json:"name"`
	Type                  AccountType      `json:"type"`
	Currency              string           `json:"currency"`
	Balance               *decimal.Decimal `json:"balance"`
	DueDay                *int             `json:"due_day,omitempty"`
	MinimumPaymentPercent *decimal.Decimal `json:"minimum_payment_percent,omitempty"`
	MonthlyPayment        *decimal.Decimal `json:"monthly_payment,omitempty"`
}

// BalanceSummary содержит агрегированные остатки по счетам компании.
type BalanceSummary struct {
	AvailableCash     decimal.Decimal `json:"available_cash"`
	CreditLiabilities decimal.Decimal `json:"credit_liabilities"`
	NetPosition       decimal.Decimal `json:"net_position"`
}

// Transfer описывает перевод между счетами, возможно в разных валютах.
type Transfer struct {
	ID            uuid.UUID       `json:"id"`
	FromAccountID uuid.UUID       `json:"from_account_id"`
	ToAccountID   uuid.UUID       `json:"to_account_id"`
	Date          time.Time       `json:"date"`
	AmountFrom    decimal.Decimal `json:"amount_from"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	AmountTo      decimal.Decimal `json:"amount_to"`
	Description   string          `json:"description"`
}

// Filter задаёт параметры выборки продаж и платежей.
type Filter struct {
	From    *time.Time
	To      *time.Time
	Channel string
	Limit   int
	Offset  int
}

// TransferRequest описывает перевод в том виде, в каком его ввёл пользователь.
type TransferRequest struct {
	FromAccountID uuid.UUID  `json:"from_account_id" validate:"required"`
	ToAccountID   uuid.UUID  `json:"to_account_id" validate:"required"`
	Date          *time.Time `json:"date"`
	AmountFrom    string     `json:"amount_from" validate:"required,decimal_positive"`
	ExchangeRate  string     `json:"exchange_rate"`
	AmountTo      string     `json:"amount_to"`
	Description   string     `json:"description" validate:"max=500"`
}
