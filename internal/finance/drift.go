package finance

import (
	"github.com/mmeshcher/conciliation-system/internal/model"
)

// IsPotentiallyProblematic отбирает платежи-кандидаты на пересчёт: пустая сумма
// или количество сверки, либо положительная сумма платежа, не равная сумме сверки.
// Сумма поступления и сумма сверенных продаж законно могут различаться,
// поэтому срабатывание означает только необходимость пересчёта, а не ошибку.
func IsPotentiallyProblematic(p model.Payment) bool {
	if p.ReconciledAmount == nil || p.ReconciledAmount.IsZero() {
		return true
	}
	if p.ReconciledCount == nil || *p.ReconciledCount == 0 {
		return true
	}
	return p.Amount.IsPositive() && !p.ReconciledAmount.Equal(p.Amount)
}

// SameAggregate сравнивает сохранённые итоги сверки платежа с пересчитанными.
func SameAggregate(p model.Payment, agg model.Aggregate) bool {
	if p.ReconciledAmount == nil || p.ReconciledCount == nil {
		return false
	}
	return p.ReconciledAmount.Equal(agg.Amount) && *p.ReconciledCount == agg.Count
}

// StoredAggregate возвращает сохранённые итоги, считая пустые значения нулём.
func StoredAggregate(p model.Payment) model.Aggregate {
	var agg model.Aggregate
	if p.ReconciledAmount != nil {
		agg.Amount = *p.ReconciledAmount
	}
	if p.ReconciledCount != nil {
		agg.Count = *p.ReconciledCount
	}
	return agg
}
