package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/conciliation-system/internal/model"
	"github.com/mmeshcher/conciliation-system/internal/repository"
)

// memStore хранит данные одной компании в памяти и позволяет подставлять ошибки.
type memStore struct {
	mu sync.Mutex

	users       map[string]model.User
	sales       map[uuid.UUID]model.Sale
	payments    map[uuid.UUID]model.Payment
	adjustments map[uuid.UUID][]model.AdjustmentInput
	accounts    map[uuid.UUID]model.BankAccount
	transfers   []model.Transfer

	triggersOK bool

	createUserErr     error
	adjustmentsErr    error
	unlinkErr         error
	markPaidErr       map[uuid.UUID]error
	updatePaymentErr  map[uuid.UUID]error
	listPaymentsCalls int
	healthCalls       int
}

func newMemStore() *memStore {
	return &memStore{
		users:            make(map[string]model.User),
		sales:            make(map[uuid.UUID]model.Sale),
		payments:         make(map[uuid.UUID]model.Payment),
		adjustments:      make(map[uuid.UUID][]model.AdjustmentInput),
		accounts:         make(map[uuid.UUID]model.BankAccount),
		triggersOK:       true,
		markPaidErr:      make(map[uuid.UUID]error),
		updatePaymentErr: make(map[uuid.UUID]error),
	}
}

type memSnapshot struct {
	sales       map[uuid.UUID]model.Sale
	payments    map[uuid.UUID]model.Payment
	adjustments map[uuid.UUID][]model.AdjustmentInput
	accounts    map[uuid.UUID]model.BankAccount
	transfers   []model.Transfer
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	res := make(map[K]V, len(m))
	for k, v := range m {
		res[k] = v
	}
	return res
}

// runTx откатывает все изменения fn, если она вернула ошибку.
func (m *memStore) runTx(_ context.Context, fn func(Store) error) error {
	m.mu.Lock()
	snap := memSnapshot{
		sales:       copyMap(m.sales),
		payments:    copyMap(m.payments),
		adjustments: copyMap(m.adjustments),
		accounts:    copyMap(m.accounts),
		transfers:   append([]model.Transfer(nil), m.transfers...),
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.sales = snap.sales
		m.payments = snap.payments
		m.adjustments = snap.adjustments
		m.accounts = snap.accounts
		m.transfers = snap.transfers
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) CreateCompanyUser(_ context.Context, _ string, login string, passwordHash []byte) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createUserErr != nil {
		return nil, m.createUserErr
	}
	if _, ok := m.users[login]; ok {
		return nil, repository.ErrUserExists
	}
	u := model.User{ID: uuid.New(), CompanyID: uuid.New(), Login: login, PasswordHash: passwordHash}
	m.users[login] = u
	return &u, nil
}

func (m *memStore) GetUserByLogin(_ context.Context, login string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[login]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &u, nil
}

func (m *memStore) ListUnreconciledSales(_ context.Context, _ uuid.UUID, _ model.Filter) ([]model.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Sale
	for _, s := range m.sales {
		if s.ReconciliationID == nil {
			res = append(res, s)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].OrderNumber < res[j].OrderNumber })
	return res, nil
}

// linkable сообщает, что ни одна из продаж не привязана к другому платежу.
func (m *memStore) linkable(saleIDs []uuid.UUID, paymentID uuid.UUID) bool {
	for _, id := range saleIDs {
		if s, ok := m.sales[id]; ok && s.ReconciliationID != nil && *s.ReconciliationID != paymentID {
			return false
		}
	}
	return true
}

func (m *memStore) SetSalesReconciliation(_ context.Context, _ uuid.UUID, saleIDs []uuid.UUID, paymentID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.linkable(saleIDs, paymentID) {
		return 0, nil
	}

	var n int64
	for _, id := range saleIDs {
		s, ok := m.sales[id]
		if !ok {
			continue
		}
		pid := paymentID
		s.ReconciliationID = &pid
		m.sales[id] = s
		n++
	}
	return n, nil
}

func (m *memStore) UnlinkSales(_ context.Context, _ uuid.UUID, saleIDs []uuid.UUID, paymentID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unlinkErr != nil {
		return 0, m.unlinkErr
	}

	var n int64
	for _, id := range saleIDs {
		s, ok := m.sales[id]
		if !ok || s.ReconciliationID == nil || *s.ReconciliationID != paymentID {
			continue
		}
		s.ReconciliationID = nil
		m.sales[id] = s
		n++
	}
	return n, nil
}

func (m *memStore) MarkSalesPaid(ctx context.Context, _ uuid.UUID, saleIDs []uuid.UUID, paymentID uuid.UUID, datePaid time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.markPaidErr[paymentID]; err != nil {
		return 0, err
	}
	if !m.linkable(saleIDs, paymentID) {
		return 0, nil
	}

	var n int64
	for _, id := range saleIDs {
		s, ok := m.sales[id]
		if !ok {
			continue
		}
		pid := paymentID
		status := model.PaymentStatusPaid
		paid := datePaid
		s.ReconciliationID = &pid
		s.StatusPaid = &status
		s.DatePaid = &paid
		m.sales[id] = s
		n++
	}
	return n, nil
}

func (m *memStore) SumSalePrices(_ context.Context, _ uuid.UUID, saleIDs []uuid.UUID) (decimal.Decimal, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := decimal.Zero
	n := 0
	for _, id := range saleIDs {
		if s, ok := m.sales[id]; ok {
			total = total.Add(s.Price)
			n++
		}
	}
	return total, n, nil
}

func (m *memStore) InsertSales(_ context.Context, _ uuid.UUID, sales []model.Sale) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, s := range sales {
		dup := false
		for _, existing := range m.sales {
			if existing.OrderNumber == s.OrderNumber && existing.SKU == s.SKU {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		s.ID = uuid.New()
		status := model.PaymentStatusPending
		s.StatusPaid = &status
		m.sales[s.ID] = s
		n++
	}
	return n, nil
}

func (m *memStore) LatestSaleDate(_ context.Context, _ uuid.UUID) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *time.Time
	for _, s := range m.sales {
		if latest == nil || s.Date.After(*latest) {
			d := s.Date
			latest = &d
		}
	}
	return latest, nil
}

func (m *memStore) GetPayment(_ context.Context, _ uuid.UUID, paymentID uuid.UUID) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[paymentID]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	return &p, nil
}

func (m *memStore) ListPaymentsForReconciliation(_ context.Context, _ uuid.UUID, _ model.Filter) ([]model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listPaymentsCalls++

	var res []model.Payment
	for _, p := range m.payments {
		if !p.IsReconciled {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Amount.GreaterThan(res[j].Amount) })
	return res, nil
}

func (m *memStore) ListReconciledPayments(_ context.Context, _ uuid.UUID, _ int) ([]model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Payment
	for _, p := range m.payments {
		if p.IsReconciled {
			res = append(res, p)
		}
	}
	return res, nil
}

func (m *memStore) UpdatePaymentReconciliation(_ context.Context, _ uuid.UUID, paymentID uuid.UUID, agg model.Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.updatePaymentErr[paymentID]; err != nil {
		return err
	}

	p, ok := m.payments[paymentID]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	amount := agg.Amount
	count := agg.Count
	p.IsReconciled = true
	p.ReconciledAmount = &amount
	p.ReconciledCount = &count
	m.payments[paymentID] = p
	return nil
}

func (m *memStore) InsertAdjustments(_ context.Context, _ uuid.UUID, paymentID, _ uuid.UUID, adjustments []model.AdjustmentInput) error {
	if len(adjustments) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.adjustmentsErr != nil {
		return m.adjustmentsErr
	}
	m.adjustments[paymentID] = append(append([]model.AdjustmentInput(nil), m.adjustments[paymentID]...), adjustments...)
	return nil
}

func (m *memStore) ComputePaymentAggregate(_ context.Context, _ uuid.UUID, paymentID uuid.UUID) (model.Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg := model.Aggregate{Amount: decimal.Zero}
	for _, s := range m.sales {
		if s.ReconciliationID != nil && *s.ReconciliationID == paymentID {
			agg.Amount = agg.Amount.Add(s.Price)
			agg.Count++
		}
	}
	for _, a := range m.adjustments[paymentID] {
		agg.Amount = agg.Amount.Add(a.Amount)
	}
	return agg, nil
}

func (m *memStore) TriggersHealthy(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.healthCalls++
	return m.triggersOK, nil
}

func (m *memStore) ListBankAccounts(_ context.Context, _ uuid.UUID) ([]model.BankAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.BankAccount
	for _, a := range m.accounts {
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (m *memStore) GetBankAccount(_ context.Context, _ uuid.UUID, accountID uuid.UUID) (*model.BankAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return &a, nil
}

func (m *memStore) CreateTransfer(_ context.Context, _ uuid.UUID, t model.Transfer) (*model.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from, okFrom := m.accounts[t.FromAccountID]
	to, okTo := m.accounts[t.ToAccountID]
	if !okFrom || !okTo {
		return nil, repository.ErrAccountNotFound
	}

	fromBalance := decimal.Zero
	if from.Balance != nil {
		fromBalance = *from.Balance
	}
	toBalance := decimal.Zero
	if to.Balance != nil {
		toBalance = *to.Balance
	}
	fromBalance = fromBalance.Sub(t.AmountFrom)
	toBalance = toBalance.Add(t.AmountTo)
	from.Balance = &fromBalance
	to.Balance = &toBalance
	m.accounts[from.ID] = from
	m.accounts[to.ID] = to

	t.ID = uuid.New()
	m.transfers = append(m.transfers, t)
	return &t, nil
}

func (m *memStore) addSale(date time.Time, order, method, channel, price string) model.Sale {
	s := model.Sale{
		ID:            uuid.New(),
		Date:          date,
		OrderNumber:   order,
		SKU:           "SKU-" + order,
		Channel:       channel,
		PaymentMethod: method,
		Price:         decimal.RequireFromString(price),
	}
	m.sales[s.ID] = s
	return s
}

func (m *memStore) addPayment(date time.Time, method, amount string) model.Payment {
	p := model.Payment{
		ID:            uuid.New(),
		Date:          date,
		Amount:        decimal.RequireFromString(amount),
		PaymentMethod: method,
	}
	m.payments[p.ID] = p
	return p
}

func (m *memStore) sale(id uuid.UUID) model.Sale {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sales[id]
}

func (m *memStore) payment(id uuid.UUID) model.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payments[id]
}
