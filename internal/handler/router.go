package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/conciliation-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса сверки.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Route("/api/banking", func(r chi.Router) {
			r.Get("/balances", h.GetBalances)
			r.Get("/accounts", h.GetAccounts)
			r.Post("/transfers/quote", h.QuoteTransfer)
			r.Post("/transfers", h.CreateTransfer)
		})

		r.Route("/api/reconciliation", func(r chi.Router) {
			r.Get("/payments", h.GetPaymentsForReconciliation)
			r.Get("/sales", h.GetUnreconciledSales)
			r.Post("/manual", h.ReconcileManual)
			r.Get("/auto", h.GetAutoMatches)
			r.Post("/auto", h.ReconcileBatch)
			r.Post("/repair", h.RepairReconciliations)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
