package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/conciliation-system/internal/cache"
	"github.com/mmeshcher/conciliation-system/internal/finance"
	"github.com/mmeshcher/conciliation-system/internal/model"
	"github.com/mmeshcher/conciliation-system/internal/validation"
)

// ListBankAccounts возвращает счета компании.
func (s *Service) ListBankAccounts(ctx context.Context, sess model.Session) ([]model.BankAccount, error) {
	key := "bank-accounts:" + sess.CompanyID.String()
	return cached(ctx, s, key, sess.CompanyID, cache.TagBankAccounts, func() ([]model.BankAccount, error) {
		return s.store.ListBankAccounts(ctx, sess.CompanyID)
	})
}

// GetBalances возвращает доступные средства, кредитные обязательства и чистую позицию компании.
func (s *Service) GetBalances(ctx context.Context, sess model.Session) (model.BalanceSummary, error) {
	accounts, err := s.ListBankAccounts(ctx, sess)
	if err != nil {
		return model.BalanceSummary{}, err
	}
	return finance.AggregateBalances(accounts), nil
}

// QuoteTransfer пересчитывает курс и сумму зачисления формы перевода.
func (s *Service) QuoteTransfer(form finance.TransferForm) finance.TransferForm {
	return finance.DeriveTransfer(form)
}

// CreateTransfer проводит перевод между счетами компании.
func (s *Service) CreateTransfer(ctx context.Context, sess model.Session, req model.TransferRequest) (*model.Transfer, error) {
	if req.FromAccountID == req.ToAccountID {
		return nil, ErrSameAccount
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	from, err := s.store.GetBankAccount(ctx, sess.CompanyID, req.FromAccountID)
	if err != nil {
		return nil, err
	}
	to, err := s.store.GetBankAccount(ctx, sess.CompanyID, req.ToAccountID)
	if err != nil {
		return nil, err
	}

	form := finance.DeriveTransfer(finance.TransferForm{
		AmountFrom:   req.AmountFrom,
		ExchangeRate: req.ExchangeRate,
		AmountTo:     req.AmountTo,
		FromCurrency: from.Currency,
		ToCurrency:   to.Currency,
	})

	t := model.Transfer{
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Description:   req.Description,
		Date:          s.now().UTC(),
	}
	if req.Date != nil {
		t.Date = *req.Date
	}

	if t.AmountFrom, err = positiveAmount("amount_from", form.AmountFrom); err != nil {
		return nil, err
	}
	if t.ExchangeRate, err = positiveAmount("exchange_rate", form.ExchangeRate); err != nil {
		return nil, err
	}
	if t.AmountTo, err = positiveAmount("amount_to", form.AmountTo); err != nil {
		return nil, err
	}

	created, err := s.store.CreateTransfer(ctx, sess.CompanyID, t)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, sess.CompanyID, cache.TagBankAccounts)

	s.logger.Info("transfer created",
		zap.String("transfer_id", created.ID.String()),
		zap.String("amount_from", created.AmountFrom.String()),
		zap.String("amount_to", created.AmountTo.String()),
	)

	return created, nil
}

func positiveAmount(field, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil || !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s must be a positive number", validation.ErrInvalid, field)
	}
	return d, nil
}
