package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Discrepancy классифицирует расхождение суммы группы продаж и платежа.
type Discrepancy string

const (
	DiscrepancyPerfect Discrepancy = "perfect"
	DiscrepancyMinor   Discrepancy = "minor_discrepancy"
	DiscrepancyMajor   Discrepancy = "major_discrepancy"
)

// AutoReconciliationGroup объединяет несверенные продажи одного дня,
// одного способа оплаты и одного канала. В базе не хранится.
type AutoReconciliationGroup struct {
	ID            string          `json:"id"`
	Date          time.Time       `json:"date"`
	PaymentMethod string          `json:"payment_method"`
	Channel       string          `json:"channel"`
	Sales         []Sale          `json:"sales"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Discrepancy   Discrepancy     `json:"discrepancy,omitempty"`
}

// SaleIDs возвращает идентификаторы продаж группы.
func (g AutoReconciliationGroup) SaleIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(g.Sales))
	for _, s := range g.Sales {
		ids = append(ids, s.ID)
	}
	return ids
}

// Match описывает кандидата на сверку платежа с группой продаж.
type Match struct {
	PaymentID        uuid.UUID       `json:"payment_id"`
	GroupID          string          `json:"group_id"`
	AmountDifference decimal.Decimal `json:"amount_difference"`
	IsCompatible     bool            `json:"is_compatible"`
}

// ID возвращает идентификатор сопоставления для отчёта об ошибках.
func (m Match) ID() string {
	return m.PaymentID.String() + "-" + m.GroupID
}

// AutoMatches содержит найденные группы и предложенные сопоставления.
type AutoMatches struct {
	Groups  []AutoReconciliationGroup `json:"groups"`
	Matches []Match                   `json:"matches"`
}

// AdjustmentInput описывает корректировку, заданную при ручной сверке.
type AdjustmentInput struct {
	Type        AdjustmentType  `json:"type" validate:"required,oneof=commission shipping other"`
	Amount      decimal.Decimal `json:"amount" validate:"decimal_nonzero"`
	Description string          `json:"description" validate:"max=500"`
}

// ManualReconciliation описывает запрос на ручную сверку платежа.
type ManualReconciliation struct {
	SaleIDs     []uuid.UUID       `json:"sales_ids" validate:"required,min=1"`
	PaymentID   uuid.UUID         `json:"payment_id" validate:"required"`
	Adjustments []AdjustmentInput `json:"adjustments" validate:"dive"`
}

// ManualReconciliationResult содержит итог ручной сверки.
type ManualReconciliationResult struct {
	PaymentID        uuid.UUID       `json:"payment_id"`
	SalesTotal       decimal.Decimal `json:"sales_total"`
	AdjustmentsTotal decimal.Decimal `json:"adjustments_total"`
	ReconciledAmount decimal.Decimal `json:"reconciled_amount"`
	ReconciledCount  int             `json:"reconciled_count"`
}

// MatchOutcome фиксирует результат обработки одного сопоставления в пакете.
// Err равен nil для успешного сопоставления.
type MatchOutcome struct {
	Match Match
	Err   error
}

// Succeeded сообщает, было ли сопоставление применено.
func (o MatchOutcome) Succeeded() bool {
	return o.Err == nil
}

// MatchError описывает ошибку одного сопоставления.
type MatchError struct {
	MatchID string `json:"match_id"`
	Error   string `json:"error"`
}

// BatchResult агрегирует результаты пакетной сверки.
type BatchResult struct {
	SuccessCount int            `json:"success_count"`
	ErrorCount   int            `json:"error_count"`
	Errors       []MatchError   `json:"errors"`
	Outcomes     []MatchOutcome `json:"-"`
}

// Record добавляет результат сопоставления и пересчитывает счётчики.
func (r *BatchResult) Record(o MatchOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	if o.Succeeded() {
		r.SuccessCount++
		return
	}
	r.ErrorCount++
	r.Errors = append(r.Errors, MatchError{MatchID: o.Match.ID(), Error: o.Err.Error()})
}

// Failed сообщает, что ни одно сопоставление не удалось.
func (r BatchResult) Failed() bool {
	return r.SuccessCount == 0 && r.ErrorCount > 0
}

// Aggregate содержит сохранённые или пересчитанные итоги сверки платежа.
type Aggregate struct {
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

// RepairOutcome описывает результат пересчёта одного платежа.
type RepairOutcome struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Before    Aggregate `json:"before"`
	After     Aggregate `json:"after"`
	Changed   bool      `json:"changed"`
}

// RepairReport содержит итоги прохода по восстановлению сверок.
type RepairReport struct {
	Checked           int             `json:"checked"`
	Repaired          int             `json:"repaired"`
	AlreadyConsistent int             `json:"already_consistent"`
	Outcomes          []RepairOutcome `json:"outcomes"`
	Errors            []RepairError   `json:"errors"`
}

// RepairError описывает ошибку пересчёта одного платежа.
type RepairError struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Error     string    `json:"error"`
}
