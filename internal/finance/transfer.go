package finance

import (
	"strings"

	"github.com/shopspring/decimal"
)

// TransferForm содержит поля перевода в том виде, в каком их ввёл пользователь.
type TransferForm struct {
	AmountFrom   string `json:"amount_from"`
	ExchangeRate string `json:"exchange_rate"`
	AmountTo     string `json:"amount_to"`
	FromCurrency string `json:"from_currency"`
	ToCurrency   string `json:"to_currency"`
}

// SameCurrency сообщает, совпадают ли валюты счетов перевода.
func (f TransferForm) SameCurrency() bool {
	return strings.EqualFold(strings.TrimSpace(f.FromCurrency), strings.TrimSpace(f.ToCurrency))
}

// DeriveTransfer пересчитывает курс и сумму зачисления.
// При одинаковых валютах курс равен 1, а сумма зачисления равна сумме списания.
// При разных валютах сумма зачисления равна amount_from * exchange_rate с округлением до двух знаков;
// нечисловой или неположительный курс оставляет amount_to без изменений.
func DeriveTransfer(f TransferForm) TransferForm {
	if f.SameCurrency() {
		f.ExchangeRate = "1"
		f.AmountTo = f.AmountFrom
		return f
	}

	rate, err := decimal.NewFromString(strings.TrimSpace(f.ExchangeRate))
	if err != nil || !rate.IsPositive() {
		return f
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(f.AmountFrom))
	if err != nil {
		return f
	}

	f.AmountTo = amount.Mul(rate).StringFixed(2)
	return f
}
