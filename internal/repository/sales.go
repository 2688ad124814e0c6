package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/conciliation-system/internal/model"
)

const saleColumns = `id, date, order_number, sku, channel, payment_method, price, status_paid, date_paid, reconciliation_id`

func scanSale(row scanner) (model.Sale, error) {
	var (
		s                model.Sale
		statusPaid       *string
		datePaid         *time.Time
		reconciliationID uuid.NullUUID
	)

	err := row.Scan(&s.ID, &s.Date, &s.OrderNumber, &s.SKU, &s.Channel, &s.PaymentMethod,
		&s.Price, &statusPaid, &datePaid, &reconciliationID)
	if err != nil {
		return s, err
	}

	if statusPaid != nil {
		st := model.PaymentStatus(*statusPaid)
		s.StatusPaid = &st
	}
	s.DatePaid = datePaid
	if reconciliationID.Valid {
		id := reconciliationID.UUID
		s.ReconciliationID = &id
	}

	return s, nil
}

// ListUnreconciledSales возвращает продажи компании, ещё не привязанные к платежу.
func (r *PostgresRepository) ListUnreconciledSales(ctx context.Context, companyID uuid.UUID, f model.Filter) ([]model.Sale, error) {
	query := `SELECT ` + saleColumns + `
		 FROM sales
		 WHERE company_id = $1
		   AND reconciliation_id IS NULL
		   AND (status_paid IS NULL OR status_paid <> $2)
		   AND ($3::date IS NULL OR date >= $3::date)
		   AND ($4::date IS NULL OR date <= $4::date)
		   AND ($5 = '' OR channel = $5)
		 ORDER BY date, payment_method, channel, order_number
		 LIMIT $6 OFFSET $7`

	rows, err := r.db.Query(ctx, query,
		companyID, string(model.PaymentStatusPaid), f.From, f.To, f.Channel, limitOrDefault(f.Limit), f.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("select unreconciled sales: %w", err)
	}
	defer rows.Close()

	var res []model.Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// linkGuard пропускает обновление целиком, если хотя бы одна из продаж
// уже привязана к другому платежу.
const linkGuard = `NOT EXISTS (
	SELECT 1 FROM sales
	WHERE company_id = $1 AND id = ANY($2::uuid[])
	  AND reconciliation_id IS NOT NULL AND reconciliation_id <> $3
)`

// SetSalesReconciliation привязывает продажи к платежу. Продажи, уже привязанные
// к другому платежу, не перезаписываются: в этом случае не меняется ни одна строка.
// Возвращает число изменённых строк.
func (r *PostgresRepository) SetSalesReconciliation(ctx context.Context, companyID uuid.UUID, saleIDs []uuid.UUID, paymentID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE sales SET reconciliation_id = $3
		 WHERE company_id = $1 AND id = ANY($2::uuid[]) AND `+linkGuard,
		companyID, uuidStrings(saleIDs), paymentID,
	)
	if err != nil {
		return 0, fmt.Errorf("update sales reconciliation: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UnlinkSales снимает привязку продаж только к указанному платежу.
func (r *PostgresRepository) UnlinkSales(ctx context.Context, companyID uuid.UUID, saleIDs []uuid.UUID, paymentID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE sales SET reconciliation_id = NULL
		 WHERE company_id = $1 AND id = ANY($2::uuid[]) AND reconciliation_id = $3`,
		companyID, uuidStrings(saleIDs), paymentID,
	)
	if err != nil {
		return 0, fmt.Errorf("unlink sales: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkSalesPaid привязывает продажи к платежу и отмечает их оплаченными на дату.
// Как и SetSalesReconciliation, не трогает продажи другого платежа.
func (r *PostgresRepository) MarkSalesPaid(ctx context.Context, companyID uuid.UUID, saleIDs []uuid.UUID, paymentID uuid.UUID, datePaid time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE sales
		 SET reconciliation_id = $3, status_paid = $4, date_paid = $5
		 WHERE company_id = $1 AND id = ANY($2::uuid[]) AND `+linkGuard,
		companyID, uuidStrings(saleIDs), paymentID, string(model.PaymentStatusPaid), datePaid,
	)
	if err != nil {
		return 0, fmt.Errorf("mark sales paid: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SumSalePrices перечитывает цены продаж из БД и возвращает их сумму и число найденных продаж.
func (r *PostgresRepository) SumSalePrices(ctx context.Context, companyID uuid.UUID, saleIDs []uuid.UUID) (decimal.Decimal, int, error) {
	var (
		total decimal.Decimal
		n     int
	)
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(price), 0), COUNT(*) FROM sales WHERE company_id = $1 AND id = ANY($2::uuid[])`,
		companyID, uuidStrings(saleIDs),
	).Scan(&total, &n)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("sum sale prices: %w", err)
	}
	return total, n, nil
}

// InsertSales сохраняет импортированные продажи, пропуская уже известные
// пары номер заказа + SKU. Возвращает число добавленных строк.
func (r *PostgresRepository) InsertSales(ctx context.Context, companyID uuid.UUID, sales []model.Sale) (int64, error) {
	if len(sales) == 0 {
		return 0, nil
	}

	var inserted int64
	err := r.WithinTx(ctx, func(tx *PostgresRepository) error {
		inserted = 0

		batch := &pgx.Batch{}
		for _, s := range sales {
			batch.Queue(
				`INSERT INTO sales (company_id, date, order_number, sku, channel, payment_method, price, status_paid)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				 ON CONFLICT (company_id, order_number, sku) DO NOTHING`,
				companyID, s.Date, s.OrderNumber, s.SKU, s.Channel, s.PaymentMethod, s.Price, string(model.PaymentStatusPending),
			)
		}

		br := tx.db.SendBatch(ctx, batch)
		defer br.Close()

		for range sales {
			tag, err := br.Exec()
			if err != nil {
				return fmt.Errorf("insert sale: %w", err)
			}
			inserted += tag.RowsAffected()
		}
		return br.Close()
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// LatestSaleDate возвращает дату последней продажи компании или nil, если продаж нет.
func (r *PostgresRepository) LatestSaleDate(ctx context.Context, companyID uuid.UUID) (*time.Time, error) {
	var latest *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT MAX(date) FROM sales WHERE company_id = $1`,
		companyID,
	).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("select latest sale date: %w", err)
	}
	return latest, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 5000 {
		return 5000
	}
	return limit
}
