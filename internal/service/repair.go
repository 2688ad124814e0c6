package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/conciliation-system/internal/cache"
	"github.com/mmeshcher/conciliation-system/internal/finance"
	"github.com/mmeshcher/conciliation-system/internal/model"
)

// triggerHealth хранит последний результат проверки триггеров агрегатов.
type triggerHealth struct {
	mu        sync.Mutex
	checkedAt time.Time
	healthy   bool
}

// triggersHealthy проверяет триггеры не чаще раза в healthCheckInterval.
// Ошибка проверки считается неисправностью.
func (s *Service) triggersHealthy(ctx context.Context) bool {
	s.health.mu.Lock()
	defer s.health.mu.Unlock()

	now := s.now()
	if !s.health.checkedAt.IsZero() && now.Sub(s.health.checkedAt) < healthCheckInterval {
		return s.health.healthy
	}

	healthy, err := s.store.TriggersHealthy(ctx)
	if err != nil {
		s.logger.Warn("trigger health check failed", zap.Error(err))
		healthy = false
	}
	if !healthy {
		s.logger.Warn("reconciliation aggregate triggers are missing")
	}

	s.health.checkedAt = now
	s.health.healthy = healthy
	return healthy
}

// RepairPayment пересчитывает итоги сверки одного платежа по привязанным продажам
// и корректировкам и перезаписывает сохранённые значения.
func (s *Service) RepairPayment(ctx context.Context, sess model.Session, paymentID uuid.UUID) (*model.RepairOutcome, error) {
	out, err := s.repairPayment(ctx, sess.CompanyID, paymentID)
	if err != nil {
		return nil, err
	}
	if out.Changed {
		s.invalidate(ctx, sess.CompanyID, cache.ReconciliationTags...)
	}
	return &out, nil
}

// RepairReconciliations пересчитывает указанные платежи или, если список пуст,
// все сверенные платежи компании, отобранные эвристикой. Одновременно для компании
// выполняется только один проход.
func (s *Service) RepairReconciliations(ctx context.Context, sess model.Session, paymentIDs []uuid.UUID) (*model.RepairReport, error) {
	release, err := s.locker.Obtain(ctx, repairLockKey(sess.CompanyID), repairLockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrNotObtained) {
			return nil, ErrRepairInProgress
		}
		return nil, fmt.Errorf("obtain repair lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release repair lock failed", zap.Error(err))
		}
	}()

	report, err := s.repairPass(ctx, sess.CompanyID, paymentIDs, 0)
	if err != nil {
		return nil, err
	}

	s.logger.Info("reconciliation repair finished",
		zap.String("company_id", sess.CompanyID.String()),
		zap.Int("checked", report.Checked),
		zap.Int("repaired", report.Repaired),
		zap.Int("errors", len(report.Errors)),
	)

	return report, nil
}

// opportunisticRepair пересчитывает ограниченное число кандидатов, если
// в это время компанию не чинит другой проход.
func (s *Service) opportunisticRepair(ctx context.Context, sess model.Session) {
	release, err := s.locker.Obtain(ctx, repairLockKey(sess.CompanyID), repairLockTTL)
	if err != nil {
		if !errors.Is(err, cache.ErrNotObtained) {
			s.logger.Warn("obtain repair lock failed", zap.Error(err))
		}
		return
	}
	defer func() {
		_ = release(context.WithoutCancel(ctx))
	}()

	report, err := s.repairPass(ctx, sess.CompanyID, nil, opportunisticLimit)
	if err != nil {
		s.logger.Warn("opportunistic repair failed", zap.Error(err))
		return
	}
	if report.Repaired > 0 {
		s.logger.Info("opportunistic repair fixed payments",
			zap.String("company_id", sess.CompanyID.String()),
			zap.Int("repaired", report.Repaired),
		)
	}
}

func (s *Service) repairPass(ctx context.Context, companyID uuid.UUID, paymentIDs []uuid.UUID, limit int) (*model.RepairReport, error) {
	ids := uniqueIDs(paymentIDs)
	if len(ids) == 0 {
		candidates, err := s.repairCandidates(ctx, companyID, limit)
		if err != nil {
			return nil, err
		}
		ids = candidates
	}

	report := &model.RepairReport{
		Outcomes: []model.RepairOutcome{},
		Errors:   []model.RepairError{},
	}

	for _, id := range ids {
		report.Checked++

		out, err := s.repairPayment(ctx, companyID, id)
		if err != nil {
			report.Errors = append(report.Errors, model.RepairError{PaymentID: id, Error: err.Error()})
			continue
		}

		report.Outcomes = append(report.Outcomes, out)
		if out.Changed {
			report.Repaired++
		} else {
			report.AlreadyConsistent++
		}
	}

	if report.Repaired > 0 {
		s.invalidate(ctx, companyID, cache.ReconciliationTags...)
	}

	return report, nil
}

func (s *Service) repairCandidates(ctx context.Context, companyID uuid.UUID, limit int) ([]uuid.UUID, error) {
	payments, err := s.store.ListReconciledPayments(ctx, companyID, 0)
	if err != nil {
		return nil, fmt.Errorf("list reconciled payments: %w", err)
	}

	var ids []uuid.UUID
	for _, p := range payments {
		if !finance.IsPotentiallyProblematic(p) {
			continue
		}
		ids = append(ids, p.ID)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

func (s *Service) repairPayment(ctx context.Context, companyID, paymentID uuid.UUID) (model.RepairOutcome, error) {
	var out model.RepairOutcome

	err := s.atomically(ctx, func(st Store) error {
		p, err := st.GetPayment(ctx, companyID, paymentID)
		if err != nil {
			return err
		}
		if !p.IsReconciled {
			return ErrPaymentNotReconciled
		}

		agg, err := st.ComputePaymentAggregate(ctx, companyID, paymentID)
		if err != nil {
			return err
		}

		out = model.RepairOutcome{
			PaymentID: paymentID,
			Before:    finance.StoredAggregate(*p),
			After:     agg,
			Changed:   !finance.SameAggregate(*p, agg),
		}

		return st.UpdatePaymentReconciliation(ctx, companyID, paymentID, agg)
	})

	return out, err
}

func repairLockKey(companyID uuid.UUID) string {
	return "reconciliation-repair:" + companyID.String()
}
