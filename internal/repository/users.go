package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/conciliation-system/internal/model"
)

// CreateCompanyUser создаёт компанию и её первого пользователя в одной транзакции.
func (r *PostgresRepository) CreateCompanyUser(ctx context.Context, company, login string, passwordHash []byte) (*model.User, error) {
	var u model.User

	err := r.WithinTx(ctx, func(tx *PostgresRepository) error {
		if err := tx.db.QueryRow(ctx,
			`INSERT INTO companies (name) VALUES ($1) RETURNING id`,
			company,
		).Scan(&u.CompanyID); err != nil {
			return fmt.Errorf("create company: %w", err)
		}

		err := tx.db.QueryRow(ctx,
			`INSERT INTO users (company_id, login, password_hash) VALUES ($1, $2, $3) RETURNING id, created_at`,
			u.CompanyID, login, passwordHash,
		).Scan(&u.ID, &u.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrUserExists, login)
			}
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	u.Login = login
	u.PasswordHash = passwordHash
	return &u, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, company_id, login, password_hash, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.CompanyID, &u.Login, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}
