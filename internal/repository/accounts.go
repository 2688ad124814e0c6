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

const accountColumns = `id, name, type, currency, balance, due_day, minimum_payment_percent, monthly_payment`

func scanAccount(row scanner) (model.BankAccount, error) {
	var (
		a              model.BankAccount
		accountType    string
		balance        decimal.NullDecimal
		minPaymentPct  decimal.NullDecimal
		monthlyPayment decimal.NullDecimal
	)

	err := row.Scan(&a.ID, &a.Name, &accountType, &a.Currency, &balance, &a.DueDay, &minPaymentPct, &monthlyPayment)
	if err != nil {
		return a, err
	}

	a.Type = model.AccountType(accountType)
	a.Balance = nullableDecimal(balance)
	a.MinimumPaymentPercent = nullableDecimal(minPaymentPct)
	a.MonthlyPayment = nullableDecimal(monthlyPayment)

	return a, nil
}

func nullableDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

// ListBankAccounts возвращает счета компании.
func (r *PostgresRepository) ListBankAccounts(ctx context.Context, companyID uuid.UUID) ([]model.BankAccount, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+accountColumns+` FROM bank_accounts WHERE company_id = $1 ORDER BY type, name`,
		companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("select bank accounts: %w", err)
	}
	defer rows.Close()

	var res []model.BankAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bank account: %w", err)
		}
		res = append(res, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetBankAccount возвращает счёт компании по идентификатору.
func (r *PostgresRepository) GetBankAccount(ctx context.Context, companyID, accountID uuid.UUID) (*model.BankAccount, error) {
	a, err := scanAccount(r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM bank_accounts WHERE company_id = $1 AND id = $2`,
		companyID, accountID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get bank account: %w", err)
	}
	return &a, nil
}

// CreateTransfer сохраняет перевод и переносит суммы между остатками счетов в одной транзакции.
func (r *PostgresRepository) CreateTransfer(ctx context.Context, companyID uuid.UUID, t model.Transfer) (*model.Transfer, error) {
	err := r.WithinTx(ctx, func(tx *PostgresRepository) error {
		// Блокируем оба счёта в фиксированном порядке, чтобы встречные переводы не взаимоблокировались.
		var locked int
		if err := tx.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM (
			   SELECT id FROM bank_accounts
			   WHERE company_id = $1 AND id IN ($2, $3)
			   ORDER BY id
			   FOR UPDATE
			 ) l`,
			companyID, t.FromAccountID, t.ToAccountID,
		).Scan(&locked); err != nil {
			return fmt.Errorf("lock accounts: %w", err)
		}
		if locked != 2 {
			return ErrAccountNotFound
		}

		if err := tx.db.QueryRow(ctx,
			`INSERT INTO transfers (company_id, from_account_id, to_account_id, date, amount_from, exchange_rate, amount_to, description)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING id`,
			companyID, t.FromAccountID, t.ToAccountID, t.Date, t.AmountFrom, t.ExchangeRate, t.AmountTo, t.Description,
		).Scan(&t.ID); err != nil {
			return fmt.Errorf("insert transfer: %w", err)
		}

		if _, err := tx.db.Exec(ctx,
			`UPDATE bank_accounts SET balance = COALESCE(balance, 0) - $3 WHERE company_id = $1 AND id = $2`,
			companyID, t.FromAccountID, t.AmountFrom,
		); err != nil {
			return fmt.Errorf("debit account: %w", err)
		}

		if _, err := tx.db.Exec(ctx,
			`UPDATE bank_accounts SET balance = COALESCE(balance, 0) + $3 WHERE company_id = $1 AND id = $2`,
			companyID, t.ToAccountID, t.AmountTo,
		); err != nil {
			return fmt.Errorf("credit account: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &t, nil
}
