package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/revenda/ledger/internal/checkout"
	"github.com/revenda/ledger/internal/delinquency"
	"github.com/revenda/ledger/internal/ingestion"
	"github.com/revenda/ledger/internal/ledger"
	"github.com/revenda/ledger/internal/paymentcode"
	"github.com/revenda/ledger/internal/payout"
	"github.com/revenda/ledger/internal/reconciliation"
	"github.com/revenda/ledger/internal/repository"
	"github.com/revenda/ledger/internal/settlement"
)

// Services are the collaborators the HTTP layer dispatches to.
type Services struct {
	Orders         *repository.OrderRepo
	Transactions   *repository.TransactionRepo
	Ledger         *ledger.Ledger
	Checkout       *checkout.Finalizer
	Recorder       *settlement.Recorder
	Fees           settlement.FeeResolver
	PaymentCodes   *paymentcode.Issuer
	PayeeKey       string
	Payouts        *payout.Aggregator
	Delinquency    *delinquency.Indexer
	Reconciliation *reconciliation.Service
	Ingestion      *ingestion.Service
}

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(svc Services, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handlers{svc: svc, logger: logger.Named("api")}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		// Orders.
		r.Post("/orders/import", h.ImportOrders)
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Post("/orders/{id}/finalize", h.FinalizeOrder)
		r.Get("/orders/{id}/plan", h.GetPlan)
		r.Get("/orders/{id}/transaction", h.GetOrderTransaction)

		// Installments.
		r.Get("/installments/{id}", h.GetInstallment)
		r.Post("/installments/{id}/pay", h.MarkInstallmentPaid)
		r.Post("/installments/{id}/overdue", h.MarkInstallmentOverdue)
		r.Post("/installments/{id}/reverse", h.ReverseInstallment)
		r.Get("/installments/{id}/payment-code", h.GetPaymentCode)
		r.Post("/installments/{id}/payment-code", h.ReissuePaymentCode)

		// Settlements.
		r.Post("/settlements", h.RecordSettlement)
		r.Get("/transactions", h.ListTransactions)

		// Payouts.
		r.Get("/payouts/{revendaID}/eligible", h.ListEligible)
		r.Get("/payouts/{revendaID}/batch", h.GetPayoutBatch)
		r.Post("/payouts/{revendaID}/execute", h.ExecutePayout)

		// Delinquency.
		r.Get("/delinquency", h.GetDelinquency)

		// Jobs.
		r.Post("/jobs/backfill", h.RunBackfill)
		r.Post("/jobs/dedupe", h.RunDedupe)
		r.Post("/jobs/sweep-overdue", h.RunSweepOverdue)
		r.Post("/jobs/release", h.RunRelease)
		r.Post("/jobs/reconcile", h.RunReconcile)
	})

	return r
}
