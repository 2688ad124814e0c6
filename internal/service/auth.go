package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/conciliation-system/internal/model"
	"github.com/mmeshcher/conciliation-system/internal/repository"
)

// RegisterUser регистрирует компанию и её первого пользователя и возвращает сессию.
func (s *Service) RegisterUser(ctx context.Context, company, login, password string) (model.Session, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.Session{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.store.CreateCompanyUser(ctx, company, login, hashed)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return model.Session{}, repository.ErrUserExists
		}
		return model.Session{}, err
	}

	s.logger.Info("user registered", zap.String("login", login), zap.String("company_id", u.CompanyID.String()))

	return model.Session{UserID: u.ID, CompanyID: u.CompanyID}, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его сессию.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (model.Session, error) {
	u, err := s.store.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.Session{}, ErrInvalidCredentials
		}
		return model.Session{}, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return model.Session{}, ErrInvalidCredentials
	}

	return model.Session{UserID: u.ID, CompanyID: u.CompanyID}, nil
}
