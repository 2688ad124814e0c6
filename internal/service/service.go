// Package service реализует бизнес-логику сервиса сверки платежей.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/conciliation-system/internal/cache"
	"github.com/mmeshcher/conciliation-system/internal/finance"
	"github.com/mmeshcher/conciliation-system/internal/model"
	"github.com/mmeshcher/conciliation-system/internal/salesfeed"
)

// Store описывает контракт доступа к данным, используемый сервисом.
// Все методы, кроме работы с пользователями, ограничены компанией вызывающего.
type Store interface {
	Close() error

	CreateCompanyUser(ctx context.Context, company, login string, passwordHash []byte) (*model.User, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)

	ListUnreconciledSales(ctx context.Context, companyID uuid.UUID, f model.Filter) ([]model.Sale, error)
	SetSalesReconciliation(ctx context.Context, companyID uuid.UUID, saleIDs []uuid.UUID, paymentID uuid.UUID) (int64, error)
	UnlinkSales(ctx context.Context, companyID uuid.UUID, saleIDs []uuid.UUID, paymentID uuid.UUID) (int64, error)
	MarkSalesPaid(ctx context.Context, companyID uuid.UUID, saleIDs []uuid.UUID, paymentID uuid.UUID, datePaid time.Time) (int64, error)
	SumSalePrices(ctx context.Context, companyID uuid.UUID, saleIDs []uuid.UUID) (decimal.Decimal, int, error)
	InsertSales(ctx context.Context, companyID uuid.UUID, sales []model.Sale) (int64, error)
	LatestSaleDate(ctx context.Context, companyID uuid.UUID) (*time.Time, error)

	GetPayment(ctx context.Context, companyID, paymentID uuid.UUID) (*model.Payment, error)
	ListPaymentsForReconciliation(ctx context.Context, companyID uuid.UUID, f model.Filter) ([]model.Payment, error)
	ListReconciledPayments(ctx context.Context, companyID uuid.UUID, limit int) ([]model.Payment, error)
	UpdatePaymentReconciliation(ctx context.Context, companyID, paymentID uuid.UUID, agg model.Aggregate) error
	InsertAdjustments(ctx context.Context, companyID, paymentID, userID uuid.UUID, adjustments []model.AdjustmentInput) error
	ComputePaymentAggregate(ctx context.Context, companyID, paymentID uuid.UUID) (model.Aggregate, error)
	TriggersHealthy(ctx context.Context) (bool, error)

	ListBankAccounts(ctx context.Context, companyID uuid.UUID) ([]model.BankAccount, error)
	GetBankAccount(ctx context.Context, companyID, accountID uuid.UUID) (*model.BankAccount, error)
	CreateTransfer(ctx context.Context, companyID uuid.UUID, t model.Transfer) (*model.Transfer, error)
}

// TxRunner выполняет fn атомарно над хранилищем, переданным в fn.
type TxRunner func(ctx context.Context, fn func(Store) error) error

var (
	// ErrInvalidCredentials возвращается при неверном логине или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmptySelection возвращается, если для сверки не выбрано ни одной продажи.
	ErrEmptySelection = errors.New("no sales selected")
	// ErrSameAccount возвращается, если счёт списания и зачисления совпадают.
	ErrSameAccount = errors.New("source and destination accounts are the same")
	// ErrPaymentAlreadyReconciled возвращается при попытке повторно сверить платёж.
	ErrPaymentAlreadyReconciled = errors.New("payment already reconciled")
	// ErrPaymentNotReconciled возвращается при попытке пересчитать несверенный платёж.
	ErrPaymentNotReconciled = errors.New("payment is not reconciled")
	// ErrSaleNotFound возвращается, если часть выбранных продаж не найдена у компании.
	ErrSaleNotFound = errors.New("sale not found")
	// ErrSaleAlreadyReconciled возвращается, если продажа уже привязана к другому платежу.
	ErrSaleAlreadyReconciled = errors.New("sale already reconciled to another payment")
	// ErrGroupNotFound возвращается, если сопоставление ссылается на неизвестную группу.
	ErrGroupNotFound = errors.New("reconciliation group not found")
	// ErrStaleGroup возвращается, если продажи группы изменились после её построения.
	ErrStaleGroup = errors.New("reconciliation group is stale")
	// ErrRepairInProgress возвращается, если пересчёт сверок компании уже выполняется.
	ErrRepairInProgress = errors.New("reconciliation repair already in progress")
)

const (
	defaultCacheTTL       = 30 * time.Second
	defaultImportInterval = time.Minute
	healthCheckInterval   = time.Minute
	repairLockTTL         = 5 * time.Minute
	opportunisticLimit    = 50
)

// Service содержит бизнес-логику сервиса сверки.
type Service struct {
	store  Store
	runTx  TxRunner
	cache  cache.Cache
	locker cache.Locker
	logger *zap.Logger

	feed           *salesfeed.Client
	feedCompany    uuid.UUID
	importInterval time.Duration

	cacheTTL  time.Duration
	tolerance finance.Tolerance
	health    triggerHealth
	now       func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithTxRunner включает атомарное выполнение сверок в транзакциях хранилища.
// Без него ручная сверка использует компенсирующий откат.
func WithTxRunner(run TxRunner) Option {
	return func(s *Service) {
		s.runTx = run
	}
}

// WithCache задаёт кэш результатов чтения и время их жизни.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithLocker задаёт менеджер блокировок для пересчёта сверок.
func WithLocker(l cache.Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

// WithTolerance задаёт порог классификации расхождений.
func WithTolerance(t finance.Tolerance) Option {
	return func(s *Service) {
		s.tolerance = t
	}
}

// WithSalesImport задаёт компанию и период опроса для импорта продаж.
func WithSalesImport(company uuid.UUID, interval time.Duration) Option {
	return func(s *Service) {
		s.feedCompany = company
		if interval > 0 {
			s.importInterval = interval
		}
	}
}

// NewService создаёт новый сервис с указанным хранилищем и клиентом ленты продаж.
func NewService(store Store, feed *salesfeed.Client, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:          store,
		cache:          cache.NewMemoryCache(),
		locker:         cache.NewMemoryLocker(),
		logger:         logger,
		feed:           feed,
		importInterval: defaultImportInterval,
		cacheTTL:       defaultCacheTTL,
		tolerance:      finance.DefaultTolerance(),
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// atomically выполняет fn в транзакции, если она доступна, иначе напрямую.
func (s *Service) atomically(ctx context.Context, fn func(Store) error) error {
	if s.runTx != nil {
		return s.runTx(ctx, fn)
	}
	return fn(s.store)
}

func (s *Service) invalidate(ctx context.Context, companyID uuid.UUID, tags ...cache.Tag) {
	scoped := make([]string, 0, len(tags))
	for _, t := range tags {
		scoped = append(scoped, t.For(companyID.String()))
	}

	if err := s.cache.Invalidate(ctx, scoped...); err != nil {
		s.logger.Warn("cache invalidation failed", zap.Error(err), zap.Strings("tags", scoped))
	}
}

// cached читает значение из кэша или загружает его и сохраняет под тегом компании.
func cached[T any](ctx context.Context, s *Service, key string, companyID uuid.UUID, tag cache.Tag, load func() (T, error)) (T, error) {
	var v T

	found, err := s.cache.Get(ctx, key, &v)
	if err != nil {
		s.logger.Warn("cache read failed", zap.Error(err), zap.String("key", key))
	}
	if found {
		return v, nil
	}

	v, err = load()
	if err != nil {
		return v, err
	}

	if err := s.cache.Set(ctx, key, v, s.cacheTTL, tag.For(companyID.String())); err != nil {
		s.logger.Warn("cache write failed", zap.Error(err), zap.String("key", key))
	}

	return v, nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	res := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		res = append(res, id)
	}
	return res
}

func idStrings(ids []uuid.UUID) []string {
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		res = append(res, id.String())
	}
	return res
}
