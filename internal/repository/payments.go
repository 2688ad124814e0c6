package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/conciliation-system/internal/model"
)

const paymentColumns = `id, bank_account_id, date, amount, payment_method, channel, is_reconciled, reconciled_amount, reconciled_count`

func scanPayment(row scanner) (model.Payment, error) {
	var (
		p                model.Payment
		bankAccountID    uuid.NullUUID
		reconciledAmount decimal.NullDecimal
	)

	err := row.Scan(&p.ID, &bankAccountID, &p.Date, &p.Amount, &p.PaymentMethod, &p.Channel,
		&p.IsReconciled, &reconciledAmount, &p.ReconciledCount)
	if err != nil {
		return p, err
	}

	if bankAccountID.Valid {
		id := bankAccountID.UUID
		p.BankAccountID = &id
	}
	if reconciledAmount.Valid {
		amount := reconciledAmount.Decimal
		p.ReconciledAmount = &amount
	}

	return p, nil
}

func (r *PostgresRepository) queryPayments(ctx context.Context, query string, args ...any) ([]model.Payment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetPayment возвращает платёж компании по идентификатору.
func (r *PostgresRepository) GetPayment(ctx context.Context, companyID, paymentID uuid.UUID) (*model.Payment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE company_id = $1 AND id = $2`,
		companyID, paymentID,
	)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &p, nil
}

// ListPaymentsForReconciliation возвращает несверенные платежи компании.
func (r *PostgresRepository) ListPaymentsForReconciliation(ctx context.Context, companyID uuid.UUID, f model.Filter) ([]model.Payment, error) {
	return r.queryPayments(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE company_id = $1
		   AND NOT is_reconciled
		   AND ($2::date IS NULL OR date >= $2::date)
		   AND ($3::date IS NULL OR date <= $3::date)
		   AND ($4 = '' OR channel IS NULL OR channel = $4)
		 ORDER BY date DESC, amount DESC
		 LIMIT $5 OFFSET $6`,
		companyID, f.From, f.To, f.Channel, limitOrDefault(f.Limit), f.Offset,
	)
}

// ListReconciledPayments возвращает сверенные платежи компании, начиная с самых новых.
func (r *PostgresRepository) ListReconciledPayments(ctx context.Context, companyID uuid.UUID, limit int) ([]model.Payment, error) {
	return r.queryPayments(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE company_id = $1 AND is_reconciled
		 ORDER BY date DESC
		 LIMIT $2`,
		companyID, limitOrDefault(limit),
	)
}

// UpdatePaymentReconciliation отмечает платёж сверенным и записывает итоги сверки.
func (r *PostgresRepository) UpdatePaymentReconciliation(ctx context.Context, companyID, paymentID uuid.UUID, agg model.Aggregate) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments
		 SET is_reconciled = true, reconciled_amount = $3, reconciled_count = $4
		 WHERE company_id = $1 AND id = $2`,
		companyID, paymentID, agg.Amount, agg.Count,
	)
	if err != nil {
		return fmt.Errorf("update payment reconciliation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// InsertAdjustments сохраняет корректировки платежа от имени пользователя.
func (r *PostgresRepository) InsertAdjustments(ctx context.Context, companyID, paymentID, userID uuid.UUID, adjustments []model.AdjustmentInput) error {
	if len(adjustments) == 0 {
		return nil
	}

	return r.WithinTx(ctx, func(tx *PostgresRepository) error {
		batch := &pgx.Batch{}
		for _, a := range adjustments {
			batch.Queue(
				`INSERT INTO payment_adjustments (company_id, payment_id, type, amount, description, created_by)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				companyID, paymentID, string(a.Type), a.Amount, a.Description, userID,
			)
		}

		br := tx.db.SendBatch(ctx, batch)
		defer br.Close()

		for range adjustments {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("insert adjustment: %w", err)
			}
		}
		return br.Close()
	})
}

// ComputePaymentAggregate пересчитывает итоги сверки платежа по привязанным
// к нему продажам и его корректировкам.
func (r *PostgresRepository) ComputePaymentAggregate(ctx context.Context, companyID, paymentID uuid.UUID) (model.Aggregate, error) {
	var agg model.Aggregate
	err := r.db.QueryRow(ctx,
		`SELECT
		   COALESCE((SELECT SUM(price) FROM sales WHERE company_id = $1 AND reconciliation_id = $2), 0)
		   + COALESCE((SELECT SUM(amount) FROM payment_adjustments WHERE company_id = $1 AND payment_id = $2), 0),
		   (SELECT COUNT(*) FROM sales WHERE company_id = $1 AND reconciliation_id = $2)`,
		companyID, paymentID,
	).Scan(&agg.Amount, &agg.Count)
	if err != nil {
		return agg, fmt.Errorf("compute payment aggregate: %w", err)
	}
	return agg, nil
}
