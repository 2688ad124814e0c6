package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/conciliation-system/internal/cache"
	"github.com/mmeshcher/conciliation-system/internal/model"
	"github.com/mmeshcher/conciliation-system/internal/validation"
)

// ListUnreconciledSales возвращает продажи компании, ещё не привязанные к платежу.
func (s *Service) ListUnreconciledSales(ctx context.Context, sess model.Session, f model.Filter) ([]model.Sale, error) {
	key := filterKey("unreconciled-sales", sess, f)
	return cached(ctx, s, key, sess.CompanyID, cache.TagUnreconciledSales, func() ([]model.Sale, error) {
		return s.store.ListUnreconciledSales(ctx, sess.CompanyID, f)
	})
}

// ListPaymentsForReconciliation возвращает несверенные платежи компании.
// Если триггеры агрегатов в БД недоступны, перед чтением выполняется
// ограниченный пересчёт подозрительных платежей.
func (s *Service) ListPaymentsForReconciliation(ctx context.Context, sess model.Session, f model.Filter) ([]model.Payment, error) {
	if !s.triggersHealthy(ctx) {
		s.opportunisticRepair(ctx, sess)
	}

	key := filterKey("payments-for-reconciliation", sess, f)
	return cached(ctx, s, key, sess.CompanyID, cache.TagPaymentsForReconciliation, func() ([]model.Payment, error) {
		return s.store.ListPaymentsForReconciliation(ctx, sess.CompanyID, f)
	})
}

// ReconcileManual привязывает выбранные продажи к платежу, сохраняет корректировки
// и записывает итоговую сумму сверки: сумма цен продаж плюс сумма корректировок.
func (s *Service) ReconcileManual(ctx context.Context, sess model.Session, req model.ManualReconciliation) (*model.ManualReconciliationResult, error) {
	if len(req.SaleIDs) == 0 {
		return nil, ErrEmptySelection
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	req.SaleIDs = uniqueIDs(req.SaleIDs)

	payment, err := s.store.GetPayment(ctx, sess.CompanyID, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.IsReconciled {
		return nil, ErrPaymentAlreadyReconciled
	}

	var res *model.ManualReconciliationResult
	if s.runTx != nil {
		err = s.runTx(ctx, func(st Store) error {
			var txErr error
			res, txErr = s.reconcileManual(ctx, st, sess, req, false)
			return txErr
		})
	} else {
		res, err = s.reconcileManual(ctx, s.store, sess, req, true)
	}
	if err != nil {
		s.logger.Error("manual reconciliation failed",
			zap.Error(err),
			zap.String("payment_id", req.PaymentID.String()),
			zap.Int("sales", len(req.SaleIDs)),
		)
		return nil, err
	}

	s.invalidate(ctx, sess.CompanyID, cache.ReconciliationTags...)

	s.logger.Info("payment reconciled manually",
		zap.String("payment_id", res.PaymentID.String()),
		zap.String("reconciled_amount", res.ReconciledAmount.String()),
		zap.Int("reconciled_count", res.ReconciledCount),
	)

	return res, nil
}

// reconcileManual выполняет шаги ручной сверки над st. При compensate ошибка
// после привязки продаж снимает эту привязку. Итог сверки пересчитывается по
// хранилищу, поэтому повторная попытка учитывает уже сохранённые корректировки.
func (s *Service) reconcileManual(ctx context.Context, st Store, sess model.Session, req model.ManualReconciliation, compensate bool) (*model.ManualReconciliationResult, error) {
	paymentID := req.PaymentID

	salesTotal, found, err := st.SumSalePrices(ctx, sess.CompanyID, req.SaleIDs)
	if err != nil {
		return nil, err
	}
	if found != len(req.SaleIDs) {
		return nil, fmt.Errorf("%w: found %d of %d", ErrSaleNotFound, found, len(req.SaleIDs))
	}

	linked, err := st.SetSalesReconciliation(ctx, sess.CompanyID, req.SaleIDs, paymentID)
	if err != nil {
		return nil, fmt.Errorf("link sales: %w", err)
	}
	if linked != int64(len(req.SaleIDs)) {
		return nil, ErrSaleAlreadyReconciled
	}

	if err := st.InsertAdjustments(ctx, sess.CompanyID, paymentID, sess.UserID, req.Adjustments); err != nil {
		if compensate {
			s.unlinkSales(ctx, st, sess, req)
		}
		return nil, fmt.Errorf("save adjustments: %w", err)
	}

	agg, err := st.ComputePaymentAggregate(ctx, sess.CompanyID, paymentID)
	if err != nil {
		if compensate {
			s.unlinkSales(ctx, st, sess, req)
		}
		return nil, err
	}

	if err := st.UpdatePaymentReconciliation(ctx, sess.CompanyID, paymentID, agg); err != nil {
		if compensate {
			s.unlinkSales(ctx, st, sess, req)
		}
		return nil, err
	}

	adjustmentsTotal := decimal.Zero
	for _, a := range req.Adjustments {
		adjustmentsTotal = adjustmentsTotal.Add(a.Amount)
	}

	return &model.ManualReconciliationResult{
		PaymentID:        paymentID,
		SalesTotal:       salesTotal,
		AdjustmentsTotal: adjustmentsTotal,
		ReconciledAmount: agg.Amount,
		ReconciledCount:  agg.Count,
	}, nil
}

// unlinkSales снимает привязку продаж к платежу. Ошибка отката только логируется:
// вызывающему возвращается исходная ошибка.
func (s *Service) unlinkSales(ctx context.Context, st Store, sess model.Session, req model.ManualReconciliation) {
	if _, err := st.UnlinkSales(context.WithoutCancel(ctx), sess.CompanyID, req.SaleIDs, req.PaymentID); err != nil {
		s.logger.Error("rollback of sales link failed",
			zap.Error(err),
			zap.String("payment_id", req.PaymentID.String()),
			zap.Strings("sale_ids", idStrings(req.SaleIDs)),
		)
		return
	}
	s.logger.Warn("sales link rolled back", zap.String("payment_id", req.PaymentID.String()))
}

func filterKey(prefix string, sess model.Session, f model.Filter) string {
	key := fmt.Sprintf("%s:%s:%s:%d:%d", prefix, sess.CompanyID, f.Channel, f.Limit, f.Offset)
	if f.From != nil {
		key += ":from=" + f.From.Format("2006-01-02")
	}
	if f.To != nil {
		key += ":to=" + f.To.Format("2006-01-02")
	}
	return key
}
