// Package handler содержит HTTP-обработчики API сервиса сверки платежей.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/conciliation-system/internal/finance"
	"github.com/mmeshcher/conciliation-system/internal/middleware"
	"github.com/mmeshcher/conciliation-system/internal/model"
	"github.com/mmeshcher/conciliation-system/internal/repository"
	"github.com/mmeshcher/conciliation-system/internal/service"
	"github.com/mmeshcher/conciliation-system/internal/validation"
)

const dateLayout = "2006-01-02"

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, company, login, password string) (model.Session, error)
	AuthenticateUser(ctx context.Context, login, password string) (model.Session, error)

	ListBankAccounts(ctx context.Context, sess model.Session) ([]model.BankAccount, error)
	GetBalances(ctx context.Context, sess model.Session) (model.BalanceSummary, error)
	QuoteTransfer(form finance.TransferForm) finance.TransferForm
	CreateTransfer(ctx context.Context, sess model.Session, req model.TransferRequest) (*model.Transfer, error)

	ListPaymentsForReconciliation(ctx context.Context, sess model.Session, f model.Filter) ([]model.Payment, error)
	ListUnreconciledSales(ctx context.Context, sess model.Session, f model.Filter) ([]model.Sale, error)
	ReconcileManual(ctx context.Context, sess model.Session, req model.ManualReconciliation) (*model.ManualReconciliationResult, error)
	FindAutoMatches(ctx context.Context, sess model.Session, f model.Filter) (*model.AutoMatches, error)
	ReconcileBatch(ctx context.Context, sess model.Session, matches []model.Match, groups []model.AutoReconciliationGroup) model.BatchResult
	RepairReconciliations(ctx context.Context, sess model.Session, paymentIDs []uuid.UUID) (*model.RepairReport, error)
}

// Handler реализует HTTP-обработчики API сервиса сверки.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login" validate:"required,max=100"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	credentialsRequest
	Company string `json:"company" validate:"required,max=200"`
}

// Register обрабатывает регистрацию компании и её первого пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.service.RegisterUser(r.Context(), req.Company, req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, sess)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, sess)
	w.WriteHeader(http.StatusOK)
}

// GetAccounts возвращает счета компании текущего пользователя.
func (h *Handler) GetAccounts(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	accounts, err := h.service.ListBankAccounts(r.Context(), sess)
	if err != nil {
		h.fail(w, err, "list bank accounts error")
		return
	}
	if accounts == nil {
		accounts = []model.BankAccount{}
	}

	h.writeJSON(w, http.StatusOK, accounts)
}

// GetBalances возвращает сводку остатков по счетам компании.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	summary, err := h.service.GetBalances(r.Context(), sess)
	if err != nil {
		h.fail(w, err, "get balances error")
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

// QuoteTransfer пересчитывает курс и сумму зачисления по введённой форме перевода.
func (h *Handler) QuoteTransfer(w http.ResponseWriter, r *http.Request) {
	var form finance.TransferForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusOK, h.service.QuoteTransfer(form))
}

// CreateTransfer проводит перевод между счетами компании.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req model.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	transfer, err := h.service.CreateTransfer(r.Context(), sess, req)
	if err != nil {
		h.fail(w, err, "create transfer error")
		return
	}

	h.writeJSON(w, http.StatusOK, transfer)
}

// GetPaymentsForReconciliation возвращает несверенные платежи компании.
func (h *Handler) GetPaymentsForReconciliation(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payments, err := h.service.ListPaymentsForReconciliation(r.Context(), sess, f)
	if err != nil {
		h.fail(w, err, "list payments error")
		return
	}
	if payments == nil {
		payments = []model.Payment{}
	}

	h.writeJSON(w, http.StatusOK, payments)
}

// GetUnreconciledSales возвращает продажи компании, ещё не привязанные к платежу.
func (h *Handler) GetUnreconciledSales(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sales, err := h.service.ListUnreconciledSales(r.Context(), sess, f)
	if err != nil {
		h.fail(w, err, "list sales error")
		return
	}
	if sales == nil {
		sales = []model.Sale{}
	}

	h.writeJSON(w, http.StatusOK, sales)
}

// ReconcileManual сверяет платёж с выбранными продажами и корректировками.
func (h *Handler) ReconcileManual(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req model.ManualReconciliation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.ReconcileManual(r.Context(), sess, req)
	if err != nil {
		h.fail(w, err, "manual reconciliation error", zap.String("payment_id", req.PaymentID.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

// GetAutoMatches возвращает группы несверенных продаж и предложенные платежи.
func (h *Handler) GetAutoMatches(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	matches, err := h.service.FindAutoMatches(r.Context(), sess, f)
	if err != nil {
		h.fail(w, err, "find auto matches error")
		return
	}

	h.writeJSON(w, http.StatusOK, matches)
}

type batchRequest struct {
	Matches []model.Match                   `json:"matches"`
	Groups  []model.AutoReconciliationGroup `json:"groups"`
}

// ReconcileBatch применяет выбранные сопоставления. Если не удалось ни одно,
// сводка возвращается со статусом 422.
func (h *Handler) ReconcileBatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if len(req.Matches) == 0 {
		http.Error(w, "no matches selected", http.StatusBadRequest)
		return
	}

	res := h.service.ReconcileBatch(r.Context(), sess, req.Matches, req.Groups)

	status := http.StatusOK
	if res.Failed() {
		status = http.StatusUnprocessableEntity
	}
	h.writeJSON(w, status, res)
}

type repairRequest struct {
	PaymentIDs []uuid.UUID `json:"payment_ids"`
}

// RepairReconciliations пересчитывает итоги сверки указанных или подозрительных платежей.
func (h *Handler) RepairReconciliations(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req repairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	report, err := h.service.RepairReconciliations(r.Context(), sess, req.PaymentIDs)
	if err != nil {
		h.fail(w, err, "repair reconciliations error")
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (model.Session, bool) {
	sess, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return sess, ok
}

// decode читает JSON-тело запроса и проверяет его по тегам validate.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	if err := validation.Struct(dest); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// fail переводит ошибку сервиса в HTTP-статус. Неизвестные ошибки журналируются.
func (h *Handler) fail(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	switch {
	case errors.Is(err, validation.ErrInvalid),
		errors.Is(err, service.ErrEmptySelection),
		errors.Is(err, service.ErrSameAccount):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, repository.ErrPaymentNotFound),
		errors.Is(err, repository.ErrAccountNotFound),
		errors.Is(err, service.ErrSaleNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrPaymentAlreadyReconciled),
		errors.Is(err, service.ErrSaleAlreadyReconciled),
		errors.Is(err, service.ErrRepairInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response error", zap.Error(err))
	}
}

// parseFilter читает параметры from, to, channel, limit и offset.
func parseFilter(r *http.Request) (model.Filter, error) {
	q := r.URL.Query()
	var f model.Filter

	for name, dest := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return f, errors.New("invalid " + name + " date, want YYYY-MM-DD")
		}
		*dest = &t
	}

	f.Channel = q.Get("channel")

	for name, dest := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("invalid " + name)
		}
		*dest = n
	}

	return f, nil
}
