// Package finance содержит чистые расчёты над остатками, переводами и сверкой продаж.
package finance

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/conciliation-system/internal/model"
)

// AggregateBalances считает доступные денежные средства, кредитные обязательства
// и чистую позицию. Отсутствующий остаток считается нулём.
func AggregateBalances(accounts []model.BankAccount) model.BalanceSummary {
	cash := decimal.Zero
	liabilities := decimal.Zero

	for _, a := range accounts {
		if a.Balance == nil {
			continue
		}
		switch {
		case a.Type == model.AccountBank || a.Type == model.AccountCash:
			cash = cash.Add(*a.Balance)
		case a.Type.IsCredit():
			liabilities = liabilities.Add(*a.Balance)
		}
	}

	return model.BalanceSummary{
		AvailableCash:     cash,
		CreditLiabilities: liabilities,
		NetPosition:       cash.Add(liabilities),
	}
}
