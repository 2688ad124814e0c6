package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/conciliation-system/internal/cache"
	"github.com/mmeshcher/conciliation-system/internal/finance"
	"github.com/mmeshcher/conciliation-system/internal/model"
)

// FindAutoMatches группирует несверенные продажи по дню, способу оплаты и каналу
// и подбирает каждой группе платёж с ближайшей суммой.
func (s *Service) FindAutoMatches(ctx context.Context, sess model.Session, f model.Filter) (*model.AutoMatches, error) {
	sales, err := s.ListUnreconciledSales(ctx, sess, f)
	if err != nil {
		return nil, fmt.Errorf("list unreconciled sales: %w", err)
	}

	payments, err := s.ListPaymentsForReconciliation(ctx, sess, model.Filter{From: f.From, To: f.To})
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	groups := finance.BuildGroups(sales)
	matches := finance.MatchGroups(groups, payments, s.tolerance)

	if groups == nil {
		groups = []model.AutoReconciliationGroup{}
	}
	if matches == nil {
		matches = []model.Match{}
	}

	return &model.AutoMatches{Groups: groups, Matches: matches}, nil
}

// ReconcileBatch применяет сопоставления по одному. Ошибка одного сопоставления
// не прерывает остальные. После запуска пакет не отменяется вместе с ctx.
// Признак IsCompatible носит рекомендательный характер: выбор подтверждает вызывающий,
// а применённые несовместимые сопоставления попадают в журнал.
func (s *Service) ReconcileBatch(ctx context.Context, sess model.Session, matches []model.Match, groups []model.AutoReconciliationGroup) model.BatchResult {
	ctx = context.WithoutCancel(ctx)

	byID := make(map[string]model.AutoReconciliationGroup, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}

	result := model.BatchResult{Errors: []model.MatchError{}}
	for _, m := range matches {
		err := s.applyMatch(ctx, sess, m, byID)
		if err != nil {
			s.logger.Warn("match failed", zap.String("match_id", m.ID()), zap.Error(err))
		}
		result.Record(model.MatchOutcome{Match: m, Err: err})
	}

	if result.SuccessCount > 0 {
		s.invalidate(ctx, sess.CompanyID, cache.ReconciliationTags...)
	}

	s.logger.Info("batch reconciliation finished",
		zap.String("company_id", sess.CompanyID.String()),
		zap.Int("success", result.SuccessCount),
		zap.Int("errors", result.ErrorCount),
	)

	return result
}

func (s *Service) applyMatch(ctx context.Context, sess model.Session, m model.Match, groups map[string]model.AutoReconciliationGroup) error {
	g, ok := groups[m.GroupID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, m.GroupID)
	}
	if len(g.Sales) == 0 {
		return ErrEmptySelection
	}
	saleIDs := uniqueIDs(g.SaleIDs())

	err := s.atomically(ctx, func(st Store) error {
		p, err := st.GetPayment(ctx, sess.CompanyID, m.PaymentID)
		if err != nil {
			return err
		}
		if p.IsReconciled {
			return ErrPaymentAlreadyReconciled
		}

		total, found, err := st.SumSalePrices(ctx, sess.CompanyID, saleIDs)
		if err != nil {
			return err
		}
		if found != len(saleIDs) || !total.Equal(g.TotalAmount) {
			return fmt.Errorf("%w: %s", ErrStaleGroup, g.ID)
		}

		marked, err := st.MarkSalesPaid(ctx, sess.CompanyID, saleIDs, m.PaymentID, g.Date)
		if err != nil {
			return err
		}
		if marked != int64(len(saleIDs)) {
			return fmt.Errorf("%w: group %s", ErrSaleAlreadyReconciled, g.ID)
		}

		agg, err := st.ComputePaymentAggregate(ctx, sess.CompanyID, m.PaymentID)
		if err != nil {
			return err
		}
		return st.UpdatePaymentReconciliation(ctx, sess.CompanyID, m.PaymentID, agg)
	})
	if err != nil {
		return err
	}

	if !m.IsCompatible {
		s.logger.Warn("incompatible match committed",
			zap.String("match_id", m.ID()),
			zap.String("amount_difference", m.AmountDifference.String()),
		)
	}
	return nil
}
